package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/nocord/nocord/pkg/matrixclient"
)

var loginCommand = &cli.Command{
	Name:   "login",
	Usage:  "Log into a Matrix homeserver",
	Before: prepareApp,
	Action: cmdLogin,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "homeserver",
			Aliases: []string{"s"},
			Usage:   "Homeserver URL (defaults to the one in the config)",
		},
		&cli.StringFlag{
			Name:    "username",
			Aliases: []string{"u"},
			Usage:   "Username or full user ID",
		},
	},
}

var logoutCommand = &cli.Command{
	Name:   "logout",
	Usage:  "Log out and delete the local archive",
	Before: requiresAuth,
	Action: cmdLogout,
}

var whoamiCommand = &cli.Command{
	Name:    "whoami",
	Aliases: []string{"w"},
	Usage:   "Show the logged-in user and device",
	Before:  requiresAuth,
	Action:  cmdWhoami,
}

var (
	stdin   = bufio.NewReader(os.Stdin)
	stdinFd = int(os.Stdin.Fd())
)

func readLine(prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := stdin.ReadString('\n')
	return strings.TrimSpace(line), err
}

// readPassword reads without echo when stdin is a terminal.
func readPassword(prompt string) (string, error) {
	if !term.IsTerminal(stdinFd) {
		return readLine(prompt)
	}
	fmt.Print(prompt)
	password, err := term.ReadPassword(stdinFd)
	fmt.Println()
	return string(password), err
}

func cmdLogin(ctx *cli.Context) error {
	cfg := getConfig(ctx)
	homeserver := ctx.String("homeserver")
	if homeserver == "" {
		homeserver = cfg.Homeserver
	}
	username := ctx.String("username")
	var err error
	if username == "" {
		if username, err = readLine("Username: "); err != nil {
			return err
		}
	}
	password, err := readPassword("Password: ")
	if err != nil {
		return err
	}

	sess, err := matrixclient.Login(ctx.Context, homeserver, username, password, cfg.DeviceDisplayName)
	if err != nil {
		return err
	}
	if err = matrixclient.SaveSession(ctx.String("session"), sess); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	fmt.Printf("Logged in as %s (device %s)\n", sess.UserID, sess.DeviceID)
	return nil
}

func cmdLogout(ctx *cli.Context) error {
	sess := getSession(ctx)
	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	if err = client.Logout(ctx.Context); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	store, err := openArchive(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	} else {
		if err = store.ClearAll(ctx.Context); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to clear archive: %v\n", err)
		}
		_ = store.Close()
	}

	if err = matrixclient.RemoveSession(ctx.String("session")); err != nil {
		return err
	}
	fmt.Printf("Logged out of %s\n", sess.UserID)
	return nil
}

func cmdWhoami(ctx *cli.Context) error {
	sess := getSession(ctx)
	client, err := newClient(ctx)
	if err != nil {
		return err
	}
	userID, deviceID, err := client.Whoami(ctx.Context)
	if err != nil {
		return err
	}

	fmt.Println(userID)
	fmt.Printf("  device %s\n", deviceID)
	fmt.Printf("  homeserver %s\n", sess.Homeserver)
	fmt.Printf("  logged in %s\n", sess.SavedAt.Time.Format("2006-01-02 15:04"))
	return nil
}
