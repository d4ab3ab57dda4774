// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// loom-viewer is a terminal UI for browsing a loom event store: pick a
// room, walk its events in depth order, and inspect each event's
// content, DAG links, and the resolved state snapshot recorded at its
// admission. The store is opened read-only, so the viewer can run
// alongside a live server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bureau-foundation/loom/lib/eventstore"
	"github.com/bureau-foundation/loom/lib/ref"
	"github.com/bureau-foundation/loom/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var dbPath string
	var roomFlag string
	var limit int

	flagSet := pflag.NewFlagSet("loom-viewer", pflag.ContinueOnError)
	flagSet.StringVar(&dbPath, "db", "", "event store directory (required)")
	flagSet.StringVar(&roomFlag, "room", "", "room ID (skip the room selector)")
	flagSet.IntVar(&limit, "limit", 1000, "maximum events to load per room (0 = no limit)")
	flagSet.BoolP("help", "h", false, "show help")

	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("loom-viewer %s\n", version.Info())
		return nil
	}

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}
	if dbPath == "" {
		return fmt.Errorf("--db is required")
	}

	var roomID ref.RoomID
	if roomFlag != "" {
		parsed, err := ref.ParseRoomID(roomFlag)
		if err != nil {
			return fmt.Errorf("--room: %w", err)
		}
		roomID = parsed
	}

	store, err := eventstore.OpenBadger(eventstore.BadgerOptions{
		Path:     dbPath,
		ReadOnly: true,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	model := newModel(store, roomID, limit)
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err = program.Run()
	return err
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `Loom event viewer — interactive terminal UI for browsing a room DAG.

Opens the event store read-only and presents a room selector. Inside a
room, the left pane lists events in depth order and the right pane
shows the selected event: header fields, content, prev/auth links, and
the state snapshot recorded when it was admitted.

Usage:
  loom-viewer --db PATH [flags]

Examples:
  # Browse a store, starting at the room selector
  loom-viewer --db /var/lib/loom/events

  # Jump straight into a room
  loom-viewer --db /var/lib/loom/events --room '!meta:loom.example'

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
