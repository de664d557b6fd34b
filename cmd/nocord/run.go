package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"maunium.net/go/mautrix/crypto"
	"maunium.net/go/mautrix/id"

	"github.com/nocord/nocord/pkg/archive"
	"github.com/nocord/nocord/pkg/config"
	"github.com/nocord/nocord/pkg/keyrecovery"
	"github.com/nocord/nocord/pkg/matrixclient"
	"github.com/nocord/nocord/pkg/rooms"
	"github.com/nocord/nocord/pkg/syncer"
	"github.com/nocord/nocord/pkg/verification"
)

var runCommand = &cli.Command{
	Name:   "run",
	Usage:  "Sync and open an interactive shell",
	Before: requiresAuth,
	Action: cmdRun,
}

type stdoutNotifier struct{}

func (stdoutNotifier) Notify(_ context.Context, n syncer.Notification) error {
	_, err := fmt.Printf("\n[%s] %s\n", n.Title, n.Body)
	return err
}

type shell struct {
	log       zerolog.Logger
	cfg       *config.Config
	client    *matrixclient.Client
	directory *rooms.Directory
	driver    *syncer.Driver
	crypto    *matrixclient.CryptoBootstrap
	verify    atomic.Pointer[verification.Machine]

	unsubLock sync.Mutex
	unsubs    []func()
}

func cmdRun(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	log := getLogger(ctx)
	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	store, err := openArchive(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	sh := &shell{
		log:       log,
		cfg:       cfg,
		client:    client,
		directory: rooms.NewDirectory(client.UserID()),
	}
	sh.driver = syncer.NewDriver(log, sh.deps(store), syncer.Options{
		HistoryLimit:  cfg.HistoryLimit,
		Notifications: cfg.Notifications.Enabled,
		MaxBodyLength: cfg.Notifications.MaxBodyLength,
		Title: func(sender id.UserID, roomName string) string {
			return cfg.FormatNotificationTitle(sender.String(), roomName)
		},
	})
	if sh.crypto != nil {
		defer sh.crypto.Close()
	}
	if err = sh.driver.LoadArchived(ctx.Context); err != nil {
		log.Warn().Err(err).Msg("Failed to load archived history")
	}

	runCtx, cancel := context.WithCancel(ctx.Context)
	defer cancel()
	defer sh.teardown()
	if err = sh.driver.Start(runCtx); err != nil {
		return fmt.Errorf("failed to start sync: %w", err)
	}
	if sh.driver.Degraded() {
		fmt.Println("Encryption is unavailable, encrypted messages will not be readable")
	}
	go func() {
		if err := client.Run(runCtx); err != nil {
			log.Err(err).Msg("Sync loop exited")
		}
	}()
	defer client.Stop()

	if err = sh.watchSession(runCtx, ctx.String("session"), cancel); err != nil {
		log.Warn().Err(err).Msg("Failed to watch session file")
	}

	fmt.Println("Type /help for commands")
	return sh.loop(runCtx)
}

func (sh *shell) deps(store *archive.Store) syncer.Deps {
	deps := syncer.Deps{
		Feed:      sh.client,
		History:   sh.client,
		Directory: sh.directory,
		Notifier:  stdoutNotifier{},
		Archive:   store,
	}
	if sh.cfg.Crypto.Enabled {
		sh.crypto = matrixclient.NewCryptoBootstrap(sh.log, sh.client, sh.cfg.Crypto.PickleKey, sh.cfg.ResolvePath(sh.cfg.Crypto.Database))
		sh.crypto.OnReady = sh.setupVerification
		deps.Bootstrap = sh.crypto
	}
	return deps
}

func (sh *shell) setupVerification(ctx context.Context, mach *crypto.OlmMachine) error {
	if sh.driver.State() == syncer.StateStopped {
		return nil
	}
	bridge := matrixclient.NewVerificationBridge(sh.log, sh.client, mach)
	if err := bridge.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize verification: %w", err)
	}
	if !sh.addUnsub(bridge.Machine.Subscribe(printVerification)) {
		return nil
	}
	sh.verify.Store(bridge.Machine)
	return nil
}

// addUnsub records an unsubscribe func for teardown. If the driver has
// already stopped, unsub runs immediately and false is returned.
func (sh *shell) addUnsub(unsub func()) bool {
	sh.unsubLock.Lock()
	defer sh.unsubLock.Unlock()
	if sh.driver.State() == syncer.StateStopped {
		unsub()
		return false
	}
	sh.unsubs = append(sh.unsubs, unsub)
	return true
}

// teardown stops the driver and removes every listener the shell attached.
func (sh *shell) teardown() {
	sh.driver.Stop()
	sh.unsubLock.Lock()
	unsubs := sh.unsubs
	sh.unsubs = nil
	sh.unsubLock.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
	sh.verify.Store(nil)
}

func printVerification(snap verification.Snapshot) {
	switch snap.State {
	case verification.StateRequested:
		if snap.Request == nil {
			return
		}
		fmt.Printf("\nVerification request from %s (%s), /accept or /decline\n", snap.Request.From, snap.Request.FromDevice)
	case verification.StateAccepting:
		fmt.Println("\nWaiting for emojis...")
	case verification.StateShowSAS:
		parts := make([]string, len(snap.Emojis))
		for i, emoji := range snap.Emojis {
			parts[i] = fmt.Sprintf("%s %s", emoji.Symbol, emoji.Description)
		}
		fmt.Printf("\nCompare these emojis, then /confirm or /mismatch:\n  %s\n", strings.Join(parts, "  "))
	case verification.StateConfirming:
		fmt.Println("\nWaiting for the other device to confirm...")
	case verification.StateDone:
		fmt.Println("\nDevice verified, /dismiss to close")
	case verification.StateCancelled, verification.StateError:
		fmt.Printf("\nVerification %s: %s\n", snap.State, snap.Message)
	}
}

// watchSession stops the driver when the session file disappears, which is
// how a sign-out from another process shows up.
func (sh *shell) watchSession(ctx context.Context, path string, cancel context.CancelFunc) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err = watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}
	log := sh.log.With().Str("component", "session_watch").Logger()
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != filepath.Clean(path) || !(evt.Has(fsnotify.Remove) || evt.Has(fsnotify.Rename)) {
					continue
				}
				log.Info().Str("path", path).Msg("Session file removed, stopping")
				sh.teardown()
				sh.driver.Reset()
				sh.directory.Reset()
				sh.client.Stop()
				fmt.Println("\nSigned out, press enter to exit")
				cancel()
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Session watcher error")
			}
		}
	}()
	return nil
}

func (sh *shell) loop(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		for {
			line, err := readLine("> ")
			if err != nil {
				readErr <- err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case line := <-lines:
			if line == "" {
				continue
			}
			quit, err := sh.exec(ctx, line)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

const shellHelp = `Commands:
  /rooms                    list rooms and direct chats
  /spaces                   list spaces and their rooms
  /focus ROOM               open a room and mark it read
  /read                     show the focused room
  /unread                   show unread counts
  /members                  list members of the focused room
  /send TEXT                send to the focused room (plain text without a slash works too)
  /reply EVENT TEXT         reply to an event in the focused room
  /react EVENT EMOJI        react to an event
  /unreact EVENT EMOJI      remove your reaction
  /gif URL [DESCRIPTION]    send a GIF
  /file PATH                upload a file
  /clear                    delete the focused room's local history
  /accept /decline          answer a verification request
  /confirm /mismatch        compare verification emojis
  /dismiss                  close the verification prompt
  /restore-key KEY          restore keys from backup with a recovery key
  /restore-passphrase PASS  restore keys from backup with a passphrase
  /quit`

func (sh *shell) exec(ctx context.Context, line string) (bool, error) {
	if !strings.HasPrefix(line, "/") {
		return false, sh.sendText(ctx, line)
	}
	cmd, args, _ := strings.Cut(line[1:], " ")
	args = strings.TrimSpace(args)
	switch cmd {
	case "help":
		fmt.Println(shellHelp)
	case "quit", "exit":
		return true, nil
	case "rooms":
		sh.printRooms()
	case "spaces":
		sh.printSpaces()
	case "focus":
		return false, sh.focus(ctx, id.RoomID(args))
	case "read":
		sh.printTimeline(sh.driver.Focus())
	case "unread":
		for roomID, count := range sh.driver.UnreadAll() {
			fmt.Printf("  %s: %d\n", sh.directory.RoomName(roomID), count)
		}
	case "members":
		return false, sh.printMembers()
	case "send":
		return false, sh.sendText(ctx, args)
	case "reply":
		return false, sh.reply(ctx, args)
	case "react":
		return false, sh.react(ctx, args)
	case "unreact":
		return false, sh.unreact(ctx, args)
	case "gif":
		return false, sh.gif(ctx, args)
	case "file":
		return false, sh.file(ctx, args)
	case "clear":
		return false, sh.clear(ctx)
	case "accept", "decline", "confirm", "mismatch", "dismiss":
		return false, sh.verification(ctx, cmd)
	case "restore-key":
		return false, sh.restore(ctx, keyrecovery.MethodRecoveryKey, args)
	case "restore-passphrase":
		return false, sh.restore(ctx, keyrecovery.MethodPassphrase, args)
	default:
		return false, fmt.Errorf("unknown command /%s, try /help", cmd)
	}
	return false, nil
}

func (sh *shell) focused() (id.RoomID, error) {
	roomID := sh.driver.Focus()
	if roomID == "" {
		return "", fmt.Errorf("no room is focused, use /focus ROOM")
	}
	return roomID, nil
}

func (sh *shell) printRooms() {
	for _, room := range sh.directory.NonSpaceRooms() {
		fmt.Printf("  %s  %s (%d unread)\n", room.ID, room.Name, sh.driver.Unread(room.ID))
	}
	for _, dm := range sh.directory.DirectChats() {
		fmt.Printf("  %s  DM with %s (%s)\n", dm.RoomID, dm.UserID, sh.driver.Presence(dm.UserID))
	}
}

func (sh *shell) printSpaces() {
	for _, space := range sh.directory.Spaces() {
		fmt.Printf("%s  %s\n", space.ID, space.Name)
		for _, room := range sh.directory.ChildRooms(space.ID) {
			fmt.Printf("  %s  %s\n", room.ID, room.Name)
		}
	}
}

func (sh *shell) printMembers() error {
	roomID, err := sh.focused()
	if err != nil {
		return err
	}
	for _, member := range sh.directory.Members(roomID) {
		name := member.DisplayName
		if name == "" {
			name = member.UserID.String()
		}
		fmt.Printf("  %s (%s) %s\n", name, member.UserID, sh.driver.Presence(member.UserID))
	}
	return nil
}

func (sh *shell) focus(ctx context.Context, roomID id.RoomID) error {
	if roomID == "" {
		return fmt.Errorf("you must specify a room ID")
	}
	sh.driver.FocusAndView(roomID)
	if err := sh.driver.OpenRoom(ctx, roomID); err != nil {
		return err
	}
	sh.printTimeline(roomID)
	return nil
}

func (sh *shell) printTimeline(roomID id.RoomID) {
	if roomID == "" {
		fmt.Println("No room is focused")
		return
	}
	fmt.Printf("-- %s --\n", sh.directory.RoomName(roomID))
	for _, entry := range sh.driver.Timeline(roomID) {
		fmt.Printf("  %s %s\n", entry.EventID, describeEvent(entry.Sender, entry.Type, entry.Body()))
		for emoji, reactors := range sh.driver.Reactions(entry.EventID) {
			fmt.Printf("      %s %d\n", emoji, len(reactors))
		}
	}
}

func (sh *shell) sendText(ctx context.Context, text string) error {
	roomID, err := sh.focused()
	if err != nil {
		return err
	}
	_, err = sh.client.SendText(ctx, roomID, text)
	return err
}

func (sh *shell) reply(ctx context.Context, args string) error {
	roomID, err := sh.focused()
	if err != nil {
		return err
	}
	eventID, text, ok := strings.Cut(args, " ")
	if !ok {
		return fmt.Errorf("usage: /reply EVENT TEXT")
	}
	target := matrixclient.ReplyTarget{RoomID: roomID, EventID: id.EventID(eventID)}
	for _, entry := range sh.driver.Timeline(roomID) {
		if entry.EventID == target.EventID {
			target.Sender = entry.Sender
			target.Body = entry.Body()
			break
		}
	}
	if target.Sender == "" {
		return fmt.Errorf("event %s is not in the focused room", eventID)
	}
	_, err = sh.client.SendReply(ctx, roomID, text, target)
	return err
}

func (sh *shell) react(ctx context.Context, args string) error {
	roomID, err := sh.focused()
	if err != nil {
		return err
	}
	eventID, emoji, ok := strings.Cut(args, " ")
	if !ok {
		return fmt.Errorf("usage: /react EVENT EMOJI")
	}
	if _, exists := sh.driver.ReactionEventFor(id.EventID(eventID), emoji, sh.client.UserID()); exists {
		return fmt.Errorf("you already reacted with %s", emoji)
	}
	_, err = sh.client.SendReaction(ctx, roomID, id.EventID(eventID), emoji)
	return err
}

func (sh *shell) unreact(ctx context.Context, args string) error {
	roomID, err := sh.focused()
	if err != nil {
		return err
	}
	eventID, emoji, ok := strings.Cut(args, " ")
	if !ok {
		return fmt.Errorf("usage: /unreact EVENT EMOJI")
	}
	reactionID, exists := sh.driver.ReactionEventFor(id.EventID(eventID), emoji, sh.client.UserID())
	if !exists {
		return fmt.Errorf("you have not reacted with %s", emoji)
	}
	return sh.client.Retract(ctx, roomID, reactionID)
}

func (sh *shell) gif(ctx context.Context, args string) error {
	roomID, err := sh.focused()
	if err != nil {
		return err
	}
	url, alt, _ := strings.Cut(args, " ")
	if url == "" {
		return fmt.Errorf("usage: /gif URL [DESCRIPTION]")
	}
	if alt == "" {
		alt = "GIF"
	}
	_, err = sh.client.SendGIF(ctx, roomID, url, alt)
	return err
}

func (sh *shell) file(ctx context.Context, path string) error {
	roomID, err := sh.focused()
	if err != nil {
		return err
	}
	if path == "" {
		return fmt.Errorf("usage: /file PATH")
	}
	_, err = sh.client.SendFile(ctx, roomID, path)
	return err
}

func (sh *shell) clear(ctx context.Context) error {
	roomID, err := sh.focused()
	if err != nil {
		return err
	}
	return sh.driver.ClearRoom(ctx, roomID)
}

func (sh *shell) verification(ctx context.Context, action string) error {
	mach := sh.verify.Load()
	if mach == nil {
		return fmt.Errorf("verification needs encryption to be enabled")
	}
	switch action {
	case "accept":
		return mach.Accept(ctx)
	case "decline":
		return mach.Decline(ctx)
	case "confirm":
		return mach.ConfirmSAS(ctx)
	case "mismatch":
		return mach.MismatchSAS(ctx)
	default:
		mach.Dismiss()
		return nil
	}
}

func (sh *shell) restore(ctx context.Context, method keyrecovery.Method, secret string) error {
	if sh.crypto == nil || sh.crypto.Machine() == nil {
		return matrixclient.ErrCryptoUnavailable
	}
	src := matrixclient.NewBackupSource(sh.client, sh.crypto.Machine)
	count, err := keyrecovery.Restore(ctx, src, method, secret, func(p keyrecovery.Progress) {
		fmt.Printf("\rRestoring keys: %d/%d", p.Done, p.Total)
	})
	fmt.Println()
	if errors.Is(err, keyrecovery.ErrNoBackup) {
		fmt.Println("No key backup found on this homeserver.")
		return nil
	} else if errors.Is(err, keyrecovery.ErrSecretRejected) {
		return fmt.Errorf("that %s does not unlock the key backup", method)
	} else if err != nil {
		return err
	}
	fmt.Printf("Restored %d keys using a %s\n", count, method)
	return nil
}
