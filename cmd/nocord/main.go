package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/nocord/nocord/pkg/config"
	"github.com/nocord/nocord/pkg/matrixclient"
)

type contextKey int

const (
	contextKeyConfig contextKey = iota
	contextKeySession
	contextKeyLogger
)

func getConfig(ctx *cli.Context) *config.Config {
	return ctx.Context.Value(contextKeyConfig).(*config.Config)
}

func getSession(ctx *cli.Context) *matrixclient.Session {
	val := ctx.Context.Value(contextKeySession)
	if val == nil {
		return nil
	}
	return val.(*matrixclient.Session)
}

func getLogger(ctx *cli.Context) zerolog.Logger {
	return ctx.Context.Value(contextKeyLogger).(zerolog.Logger)
}

func getConfigDir() string {
	baseDir, _ := os.UserConfigDir()
	return filepath.Join(baseDir, "nocord")
}

func prepareApp(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
		Level(cfg.Logging.ZerologLevel()).
		With().Timestamp().Logger()
	newCtx := context.WithValue(ctx.Context, contextKeyConfig, cfg)
	newCtx = context.WithValue(newCtx, contextKeyLogger, log)
	sess, err := matrixclient.LoadSession(ctx.String("session"))
	if err != nil && !errors.Is(err, matrixclient.ErrNoSession) {
		return err
	} else if err == nil {
		newCtx = context.WithValue(newCtx, contextKeySession, sess)
	}
	ctx.Context = newCtx
	return nil
}

func requiresAuth(ctx *cli.Context) error {
	if err := prepareApp(ctx); err != nil {
		return err
	}
	if getSession(ctx) == nil {
		return fmt.Errorf("you are not logged in, run 'nocord login' first")
	}
	return nil
}

// newClient builds a client for the stored session.
func newClient(ctx *cli.Context) (*matrixclient.Client, error) {
	return matrixclient.New(getLogger(ctx), getSession(ctx))
}

func main() {
	app := &cli.App{
		Name:    "nocord",
		Usage:   "A terminal Matrix client",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   filepath.Join(getConfigDir(), "config.yaml"),
			},
			&cli.StringFlag{
				Name:  "session",
				Usage: "Path to session file",
				Value: filepath.Join(getConfigDir(), "session.json"),
			},
		},
		Commands: []*cli.Command{
			loginCommand,
			logoutCommand,
			whoamiCommand,
			runCommand,
			sendCommand,
			reactCommand,
			unreactCommand,
			sendFileCommand,
			configCommand,
			clearCommand,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
