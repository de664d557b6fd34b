package main

import (
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/nocord/nocord/pkg/matrixclient"
)

var sendCommand = &cli.Command{
	Name:      "send",
	Usage:     "Send a text message",
	ArgsUsage: "ROOM TEXT...",
	Before:    requiresAuth,
	Action:    cmdSend,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "reply",
			Usage: "ID of the event to reply to",
		},
		&cli.StringFlag{
			Name:  "gif",
			Usage: "Send a GIF by URL, using TEXT as the description",
		},
	},
}

var reactCommand = &cli.Command{
	Name:      "react",
	Usage:     "React to an event",
	ArgsUsage: "ROOM EVENT EMOJI",
	Before:    requiresAuth,
	Action:    cmdReact,
}

var unreactCommand = &cli.Command{
	Name:      "unreact",
	Usage:     "Remove a reaction by redacting its event",
	ArgsUsage: "ROOM REACTION_EVENT",
	Before:    requiresAuth,
	Action:    cmdUnreact,
}

var sendFileCommand = &cli.Command{
	Name:      "send-file",
	Usage:     "Upload and send a file",
	ArgsUsage: "ROOM PATH",
	Before:    requiresAuth,
	Action:    cmdSendFile,
}

func cmdSend(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("you must specify a room and a message")
	}
	roomID := id.RoomID(ctx.Args().Get(0))
	text := strings.Join(ctx.Args().Slice()[1:], " ")
	client, err := newClient(ctx)
	if err != nil {
		return err
	}

	var eventID id.EventID
	switch {
	case ctx.String("gif") != "":
		eventID, err = client.SendGIF(ctx.Context, roomID, ctx.String("gif"), text)
	case ctx.String("reply") != "":
		var target matrixclient.ReplyTarget
		target, err = fetchReplyTarget(ctx, client, roomID, id.EventID(ctx.String("reply")))
		if err != nil {
			return err
		}
		eventID, err = client.SendReply(ctx.Context, roomID, text, target)
	default:
		eventID, err = client.SendText(ctx.Context, roomID, text)
	}
	if err != nil {
		return err
	}
	fmt.Println(eventID)
	return nil
}

func fetchReplyTarget(ctx *cli.Context, client *matrixclient.Client, roomID id.RoomID, eventID id.EventID) (matrixclient.ReplyTarget, error) {
	evt, err := client.Client.GetEvent(ctx.Context, roomID, eventID)
	if err != nil {
		return matrixclient.ReplyTarget{}, fmt.Errorf("failed to fetch event to reply to: %w", err)
	}
	target := matrixclient.ReplyTarget{RoomID: roomID, EventID: eventID, Sender: evt.Sender}
	evt.Type.Class = event.MessageEventType
	if err = evt.Content.ParseRaw(evt.Type); err == nil {
		if msg := evt.Content.AsMessage(); msg != nil {
			target.Body = msg.Body
		}
	}
	return target, nil
}

func cmdReact(ctx *cli.Context) error {
	if ctx.NArg() < 3 {
		return fmt.Errorf("you must specify a room, an event and an emoji")
	}
	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	eventID, err := client.SendReaction(ctx.Context, id.RoomID(ctx.Args().Get(0)), id.EventID(ctx.Args().Get(1)), ctx.Args().Get(2))
	if err != nil {
		return err
	}
	fmt.Println(eventID)
	return nil
}

func cmdUnreact(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("you must specify a room and the reaction event")
	}
	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	return client.Retract(ctx.Context, id.RoomID(ctx.Args().Get(0)), id.EventID(ctx.Args().Get(1)))
}

func cmdSendFile(ctx *cli.Context) error {
	if ctx.NArg() < 2 {
		return fmt.Errorf("you must specify a room and a file")
	}
	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	eventID, err := client.SendFile(ctx.Context, id.RoomID(ctx.Args().Get(0)), ctx.Args().Get(1))
	if err != nil {
		return err
	}
	fmt.Println(eventID)
	return nil
}

// describeEvent renders one timeline line.
func describeEvent(sender id.UserID, evtType event.Type, body string) string {
	switch evtType {
	case event.EventEncrypted:
		return fmt.Sprintf("<%s> [unable to decrypt]", sender)
	case event.EventSticker:
		return fmt.Sprintf("<%s> [sticker] %s", sender, body)
	default:
		return fmt.Sprintf("<%s> %s", sender, body)
	}
}
