package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/nocord/nocord/pkg/archive"
	"github.com/nocord/nocord/pkg/config"
)

var configCommand = &cli.Command{
	Name:   "config",
	Usage:  "Generate an example configuration file",
	Action: cmdConfig,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Value:   "-",
			Usage:   "Output file path (- for stdout)",
		},
		&cli.BoolFlag{
			Name:  "force",
			Usage: "Overwrite an existing file",
		},
		&cli.BoolFlag{
			Name:  "upgrade",
			Usage: "Add missing options to an existing file, keeping its values",
		},
	},
}

func cmdConfig(ctx *cli.Context) error {
	outputPath := ctx.String("output")
	if ctx.Bool("upgrade") {
		if outputPath == "-" {
			outputPath = ctx.String("config")
		}
		if err := config.Upgrade(outputPath); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Config at %s upgraded\n", outputPath)
		return nil
	}
	if outputPath == "-" {
		fmt.Print(config.ExampleConfig)
		return nil
	}
	if _, err := os.Stat(outputPath); err == nil && !ctx.Bool("force") {
		return fmt.Errorf("%s already exists, use --force to overwrite it", outputPath)
	}
	if err := os.WriteFile(outputPath, []byte(config.ExampleConfig), 0600); err != nil {
		return fmt.Errorf("failed to write config to %s: %w", outputPath, err)
	}
	fmt.Fprintf(os.Stderr, "Config written to %s\n", outputPath)
	return nil
}

func openArchive(ctx *cli.Context) (*archive.Store, error) {
	cfg := getConfig(ctx)
	return archive.Open(ctx.Context, cfg.ResolvePath(cfg.Database))
}
