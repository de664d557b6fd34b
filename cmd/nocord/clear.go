package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"maunium.net/go/mautrix/id"
)

var clearCommand = &cli.Command{
	Name:      "clear",
	Usage:     "Delete the locally archived history of a room",
	ArgsUsage: "ROOM",
	Before:    prepareApp,
	Action:    cmdClear,
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "all",
			Usage: "Delete the archive of every room",
		},
	},
}

func cmdClear(ctx *cli.Context) error {
	if ctx.NArg() == 0 && !ctx.Bool("all") {
		return fmt.Errorf("you must specify a room ID or --all")
	}
	store, err := openArchive(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if ctx.Bool("all") {
		if err = store.ClearAll(ctx.Context); err != nil {
			return fmt.Errorf("failed to clear archive: %w", err)
		}
		fmt.Println("Archive cleared")
		return nil
	}
	roomID := id.RoomID(ctx.Args().Get(0))
	count, err := store.CountRoom(ctx.Context, roomID)
	if err != nil {
		return fmt.Errorf("failed to count archived events: %w", err)
	}
	if err = store.ClearRoom(ctx.Context, roomID); err != nil {
		return fmt.Errorf("failed to clear room: %w", err)
	}
	fmt.Printf("Deleted %d archived events from %s\n", count, roomID)
	return nil
}
