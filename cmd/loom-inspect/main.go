// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// loom-inspect is a read-only operator tool over a loom event store:
// room listings, depth-ordered event scans, resolved state, and
// forward extremities, without going through a running server.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/loom/lib/codec"
	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/eventstore"
	"github.com/bureau-foundation/loom/lib/graph"
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
	if len(os.Args) < 2 {
		printUsage()
		return fmt.Errorf("subcommand required")
	}

	switch os.Args[1] {
	case "rooms":
		return runRooms(os.Args[2:])
	case "events":
		return runEvents(os.Args[2:])
	case "state":
		return runState(os.Args[2:])
	case "extremities":
		return runExtremities(os.Args[2:])
	case "event":
		return runEvent(os.Args[2:])
	case "record":
		return runRecord(os.Args[2:])
	case "version":
		fmt.Printf("loom-inspect %s\n", version.Info())
		return nil
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown subcommand: %q", os.Args[1])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: loom-inspect <subcommand> [flags]

Subcommands:
  rooms        List rooms in the store
  events       List a room's events in depth order
  state        Show a room's resolved state at its current extremities
  extremities  Show a room's forward extremities
  event        Dump one event as JSON
  record       Dump one event's stored record in CBOR diagnostic notation
  version      Print version information

The store is opened read-only; a running server can keep it open at
the same time.

Run 'loom-inspect <subcommand> --help' for subcommand flags.
`)
}

// openStore opens the database read-only. The compression tag is read
// per record, so no compression configuration is needed.
func openStore(path string) (*eventstore.Badger, error) {
	if path == "" {
		return nil, fmt.Errorf("--db is required")
	}
	return eventstore.OpenBadger(eventstore.BadgerOptions{
		Path:     path,
		ReadOnly: true,
	})
}

// parseFlags parses the flag set, mapping --help to a clean exit.
func parseFlags(flagSet *pflag.FlagSet, args []string) (help bool, err error) {
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

func runRooms(args []string) error {
	flagSet := pflag.NewFlagSet("loom-inspect rooms", pflag.ContinueOnError)
	dbPath := flagSet.String("db", "", "event store directory (required)")
	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}

	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	rooms, err := store.Rooms(ctx)
	if err != nil {
		return err
	}

	t := newTable("ROOM", "EXTREMITIES", "DEPTH")
	t.markFaint(0)
	for _, roomID := range rooms {
		extremities, err := store.ForwardExtremities(ctx, roomID)
		if err != nil {
			return err
		}
		var maxDepth int64
		for _, id := range extremities {
			e, err := store.Event(ctx, id)
			if err != nil {
				return err
			}
			maxDepth = max(maxDepth, e.Depth)
		}
		t.addRow(roomID.String(), strconv.Itoa(len(extremities)), strconv.FormatInt(maxDepth, 10))
	}
	return t.render(os.Stdout, newStyles())
}

func runEvents(args []string) error {
	flagSet := pflag.NewFlagSet("loom-inspect events", pflag.ContinueOnError)
	dbPath := flagSet.String("db", "", "event store directory (required)")
	roomRaw := flagSet.String("room", "", "room ID (required)")
	minDepth := flagSet.Int64("min-depth", 0, "lowest depth to include")
	maxDepth := flagSet.Int64("max-depth", math.MaxInt64, "highest depth to include")
	limit := flagSet.Int("limit", 50, "maximum events to list (0 = no limit)")
	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}

	roomID, err := ref.ParseRoomID(*roomRaw)
	if err != nil {
		return fmt.Errorf("--room: %w", err)
	}
	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.EventsByDepthRange(context.Background(), roomID, *minDepth, *maxDepth, *limit)
	if err != nil {
		return err
	}

	t := newTable("DEPTH", "TYPE", "SENDER", "STATE KEY", "EVENT ID")
	t.markFaint(4)
	for _, e := range events {
		t.addRow(
			strconv.FormatInt(e.Depth, 10),
			e.Type,
			e.Sender.String(),
			stateKeyCell(e),
			e.EventID.String(),
		)
	}
	return t.render(os.Stdout, newStyles())
}

func runState(args []string) error {
	flagSet := pflag.NewFlagSet("loom-inspect state", pflag.ContinueOnError)
	dbPath := flagSet.String("db", "", "event store directory (required)")
	roomRaw := flagSet.String("room", "", "room ID (required)")
	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}

	roomID, err := ref.ParseRoomID(*roomRaw)
	if err != nil {
		return fmt.Errorf("--room: %w", err)
	}
	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	resolved, err := graph.New(store, nil).CurrentState(ctx, roomID)
	if err != nil {
		return err
	}

	t := newTable("TYPE", "STATE KEY", "SENDER", "EVENT ID")
	t.markFaint(3)
	for _, slot := range event.SortedSlots(resolved) {
		e, err := store.Event(ctx, resolved[slot])
		if err != nil {
			return err
		}
		t.addRow(slot.Type, quoteEmpty(slot.StateKey), e.Sender.String(), e.EventID.String())
	}
	return t.render(os.Stdout, newStyles())
}

func runExtremities(args []string) error {
	flagSet := pflag.NewFlagSet("loom-inspect extremities", pflag.ContinueOnError)
	dbPath := flagSet.String("db", "", "event store directory (required)")
	roomRaw := flagSet.String("room", "", "room ID (required)")
	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}

	roomID, err := ref.ParseRoomID(*roomRaw)
	if err != nil {
		return fmt.Errorf("--room: %w", err)
	}
	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	ctx := context.Background()

	ids, err := store.ForwardExtremities(ctx, roomID)
	if err != nil {
		return err
	}

	t := newTable("DEPTH", "TYPE", "SENDER", "TIMESTAMP", "EVENT ID")
	t.markFaint(4)
	for _, id := range ids {
		e, err := store.Event(ctx, id)
		if err != nil {
			return err
		}
		t.addRow(
			strconv.FormatInt(e.Depth, 10),
			e.Type,
			e.Sender.String(),
			time.UnixMilli(e.OriginServerTS).UTC().Format(time.RFC3339),
			e.EventID.String(),
		)
	}
	return t.render(os.Stdout, newStyles())
}

func runEvent(args []string) error {
	flagSet := pflag.NewFlagSet("loom-inspect event", pflag.ContinueOnError)
	dbPath := flagSet.String("db", "", "event store directory (required)")
	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}
	rest := flagSet.Args()
	if len(rest) != 1 {
		return fmt.Errorf("usage: loom-inspect event --db PATH <event-id>")
	}
	id, err := ref.ParseEventID(rest[0])
	if err != nil {
		return err
	}

	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	e, err := store.Event(context.Background(), id)
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

// runRecord dumps the on-disk record behind an event ID: the
// compression tag it was sealed under and the CBOR payload in
// diagnostic notation. The record view shows what the store actually
// holds (fingerprint included), where the event view shows the decoded
// envelope.
func runRecord(args []string) error {
	flagSet := pflag.NewFlagSet("loom-inspect record", pflag.ContinueOnError)
	dbPath := flagSet.String("db", "", "event store directory (required)")
	if help, err := parseFlags(flagSet, args); help || err != nil {
		return err
	}
	rest := flagSet.Args()
	if len(rest) != 1 {
		return fmt.Errorf("usage: loom-inspect record --db PATH <event-id>")
	}
	id, err := ref.ParseEventID(rest[0])
	if err != nil {
		return err
	}

	store, err := openStore(*dbPath)
	if err != nil {
		return err
	}
	defer store.Close()

	raw, tag, err := store.RawRecord(context.Background(), id)
	if err != nil {
		return err
	}
	diagnostic, err := codec.Diagnose(raw)
	if err != nil {
		return fmt.Errorf("record of %s does not parse as CBOR: %w", id, err)
	}
	st := newStyles()
	fmt.Printf("%s %s (%d bytes CBOR)\n", st.header.Render("compression:"), tag, len(raw))
	fmt.Println(diagnostic)
	return nil
}

// stateKeyCell renders the state-key column: blank for message
// events, quoted for the empty state key.
func stateKeyCell(e *event.Event) string {
	if e.StateKey == nil {
		return ""
	}
	return quoteEmpty(*e.StateKey)
}

func quoteEmpty(s string) string {
	if s == "" {
		return `""`
	}
	return s
}
