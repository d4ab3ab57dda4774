// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/ref"
	"github.com/bureau-foundation/loom/lib/state"
)

// ErrEventNotFound is returned by Event when the ID is not persisted.
var ErrEventNotFound = errors.New("event not found")

// ErrSnapshotNotFound is returned by StateSnapshot when no snapshot
// has been stored for the event.
var ErrSnapshotNotFound = errors.New("state snapshot not found")

// ConflictError reports an attempt to persist an event whose ID is
// already stored with different content. With content-addressed IDs
// this means someone minted an ID over one body and shipped another;
// the store rejects the write and keeps the original.
type ConflictError struct {
	EventID  ref.EventID
	Stored   event.Fingerprint
	Incoming event.Fingerprint
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("event %s already persisted with different content (stored %s, incoming %s)",
		e.EventID, event.FormatFingerprint(e.Stored), event.FormatFingerprint(e.Incoming))
}

// Store is the persistence contract the graph layer runs against.
// Implementations must be safe for concurrent use; the graph
// serializes writes per room but reads arrive from many goroutines.
type Store interface {
	// Persist durably stores the event. Re-persisting identical
	// content is a no-op success; divergent content under the same ID
	// fails with *ConflictError.
	Persist(ctx context.Context, e *event.Event) error

	// Event fetches a persisted event. ErrEventNotFound when absent.
	Event(ctx context.Context, id ref.EventID) (*event.Event, error)

	// Has reports whether the event is persisted, without decoding it.
	Has(ctx context.Context, id ref.EventID) (bool, error)

	// ForwardExtremities returns the room's current DAG frontier.
	// Empty for an unknown room.
	ForwardExtremities(ctx context.Context, roomID ref.RoomID) ([]ref.EventID, error)

	// SetForwardExtremities atomically replaces the room's frontier.
	SetForwardExtremities(ctx context.Context, roomID ref.RoomID, ids []ref.EventID) error

	// EventsByDepthRange returns the room's events with depth in
	// [minDepth, maxDepth], ordered by depth then event ID, at most
	// limit events (no limit when limit <= 0).
	EventsByDepthRange(ctx context.Context, roomID ref.RoomID, minDepth, maxDepth int64, limit int) ([]*event.Event, error)

	// PutStateSnapshot stores the resolved state as of the event.
	PutStateSnapshot(ctx context.Context, id ref.EventID, resolved state.ResolvedState) error

	// StateSnapshot fetches the resolved state as of the event.
	// ErrSnapshotNotFound when no snapshot was stored.
	StateSnapshot(ctx context.Context, id ref.EventID) (state.ResolvedState, error)

	// Rooms lists every room the store has seen an event for, sorted.
	Rooms(ctx context.Context) ([]ref.RoomID, error)

	// Close releases the store's resources. The store is unusable
	// afterwards.
	Close() error
}
