// nocord - A terminal Matrix client.
// Copyright (C) 2026 The nocord authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package matrixclient

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Sends are never applied locally. The events show up in the timeline when
// the server echoes them back through sync.

func newTxnID() string {
	return "nocord-" + uuid.NewString()
}

func (c *Client) send(ctx context.Context, roomID id.RoomID, evtType event.Type, content any) (id.EventID, error) {
	resp, err := c.Client.SendMessageEvent(ctx, roomID, evtType, content, mautrix.ReqSendEvent{
		TransactionID: newTxnID(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to send %s: %w", evtType.Type, err)
	}
	return resp.EventID, nil
}

func (c *Client) SendText(ctx context.Context, roomID id.RoomID, text string) (id.EventID, error) {
	return c.send(ctx, roomID, event.EventMessage, &event.MessageEventContent{
		MsgType: event.MsgText,
		Body:    text,
	})
}

func (c *Client) SendFormatted(ctx context.Context, roomID id.RoomID, text, formatted string) (id.EventID, error) {
	return c.send(ctx, roomID, event.EventMessage, &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          text,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
	})
}

// ReplyTarget is the message being replied to.
type ReplyTarget struct {
	RoomID  id.RoomID
	EventID id.EventID
	Sender  id.UserID
	Body    string
}

// ReplyContent builds a reply with the quoted fallback that clients without
// reply support render.
func ReplyContent(text string, to ReplyTarget) *event.MessageEventContent {
	formatted := fmt.Sprintf(
		`<mx-reply><blockquote><a href="https://matrix.to/#/%s/%s">In reply to</a> `+
			`<a href="https://matrix.to/#/%s">%s</a><br>%s</blockquote></mx-reply>%s`,
		to.RoomID, to.EventID, to.Sender, to.Sender, html.EscapeString(to.Body), html.EscapeString(text),
	)
	return &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          replyFallback(to) + "\n\n" + text,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
		RelatesTo: &event.RelatesTo{
			InReplyTo: &event.InReplyTo{EventID: to.EventID},
		},
	}
}

// replyFallback quotes every line of the original body.
func replyFallback(to ReplyTarget) string {
	lines := strings.Split(to.Body, "\n")
	lines[0] = fmt.Sprintf("<%s> %s", to.Sender, lines[0])
	for i, line := range lines {
		lines[i] = "> " + line
	}
	return strings.Join(lines, "\n")
}

func (c *Client) SendReply(ctx context.Context, roomID id.RoomID, text string, to ReplyTarget) (id.EventID, error) {
	if to.RoomID == "" {
		to.RoomID = roomID
	}
	return c.send(ctx, roomID, event.EventMessage, ReplyContent(text, to))
}

// GIFContent builds a message that embeds a GIF by URL.
func GIFContent(url, alt string) *event.MessageEventContent {
	return &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          fmt.Sprintf("[GIF: %s] %s", alt, url),
		Format:        event.FormatHTML,
		FormattedBody: fmt.Sprintf(`<img src="%s" alt="%s"/>`, html.EscapeString(url), html.EscapeString(alt)),
	}
}

func (c *Client) SendGIF(ctx context.Context, roomID id.RoomID, url, alt string) (id.EventID, error) {
	return c.send(ctx, roomID, event.EventMessage, GIFContent(url, alt))
}

func (c *Client) SendReaction(ctx context.Context, roomID id.RoomID, target id.EventID, key string) (id.EventID, error) {
	return c.send(ctx, roomID, event.EventReaction, &event.ReactionEventContent{
		RelatesTo: event.RelatesTo{
			Type:    event.RelAnnotation,
			EventID: target,
			Key:     key,
		},
	})
}

// Retract redacts an event, such as a reaction being toggled off.
func (c *Client) Retract(ctx context.Context, roomID id.RoomID, target id.EventID) error {
	_, err := c.Client.RedactEvent(ctx, roomID, target, mautrix.ReqRedact{TxnID: newTxnID()})
	if err != nil {
		return fmt.Errorf("failed to redact %s: %w", target, err)
	}
	return nil
}

func msgTypeFor(mimeType string) event.MessageType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return event.MsgImage
	case strings.HasPrefix(mimeType, "video/"):
		return event.MsgVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return event.MsgAudio
	default:
		return event.MsgFile
	}
}

// FileContent describes a file before upload. The URL is filled in later.
func FileContent(name string, data []byte) *event.MessageEventContent {
	mimeType := mimetype.Detect(data).String()
	content := &event.MessageEventContent{
		MsgType:  msgTypeFor(mimeType),
		Body:     name,
		FileName: name,
		Info: &event.FileInfo{
			MimeType: mimeType,
			Size:     len(data),
		},
	}
	if content.MsgType == event.MsgImage {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			content.Info.Width = cfg.Width
			content.Info.Height = cfg.Height
		}
	}
	return content
}

func (c *Client) SendFile(ctx context.Context, roomID id.RoomID, path string) (id.EventID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	name := filepath.Base(path)
	content := FileContent(name, data)
	resp, err := c.Client.UploadBytesWithName(ctx, data, content.Info.MimeType, name)
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}
	content.URL = resp.ContentURI.CUString()
	return c.send(ctx, roomID, event.EventMessage, content)
}
