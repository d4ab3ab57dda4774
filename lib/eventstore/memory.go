// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/ref"
	"github.com/bureau-foundation/loom/lib/state"
)

// Memory is an in-memory Store for tests and ephemeral runs. It keeps
// sealed records, not live structs, so the encode/decode path gets the
// same exercise the durable store gives it.
type Memory struct {
	mu          sync.RWMutex
	compression CompressionTag
	events      map[ref.EventID][]byte
	depths      map[ref.RoomID][]depthEntry
	extremities map[ref.RoomID][]byte
	snapshots   map[ref.EventID][]byte
	rooms       map[ref.RoomID]struct{}
}

type depthEntry struct {
	depth int64
	id    ref.EventID
}

// NewMemory creates an empty in-memory store. Records are sealed with
// zstd so the compression envelope is exercised on every test run.
func NewMemory() *Memory {
	return &Memory{
		compression: CompressionZstd,
		events:      make(map[ref.EventID][]byte),
		depths:      make(map[ref.RoomID][]depthEntry),
		extremities: make(map[ref.RoomID][]byte),
		snapshots:   make(map[ref.EventID][]byte),
		rooms:       make(map[ref.RoomID]struct{}),
	}
}

// Persist implements Store.
func (m *Memory) Persist(_ context.Context, e *event.Event) error {
	sealed, fp, err := encodeEvent(e, m.compression)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.events[e.EventID]; ok {
		_, storedFP, err := decodeEvent(existing)
		if err != nil {
			return fmt.Errorf("stored event %s unreadable: %w", e.EventID, err)
		}
		if storedFP != fp {
			return &ConflictError{EventID: e.EventID, Stored: storedFP, Incoming: fp}
		}
		return nil
	}

	m.events[e.EventID] = sealed
	m.depths[e.RoomID] = append(m.depths[e.RoomID], depthEntry{depth: e.Depth, id: e.EventID})
	m.rooms[e.RoomID] = struct{}{}
	return nil
}

// Event implements Store.
func (m *Memory) Event(_ context.Context, id ref.EventID) (*event.Event, error) {
	m.mu.RLock()
	sealed, ok := m.events[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, ErrEventNotFound)
	}
	e, _, err := decodeEvent(sealed)
	return e, err
}

// Has implements Store.
func (m *Memory) Has(_ context.Context, id ref.EventID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.events[id]
	return ok, nil
}

// ForwardExtremities implements Store.
func (m *Memory) ForwardExtremities(_ context.Context, roomID ref.RoomID) ([]ref.EventID, error) {
	m.mu.RLock()
	sealed, ok := m.extremities[roomID]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return decodeExtremities(sealed)
}

// SetForwardExtremities implements Store.
func (m *Memory) SetForwardExtremities(_ context.Context, roomID ref.RoomID, ids []ref.EventID) error {
	sealed, err := encodeExtremities(ids, m.compression)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extremities[roomID] = sealed
	return nil
}

// EventsByDepthRange implements Store.
func (m *Memory) EventsByDepthRange(_ context.Context, roomID ref.RoomID, minDepth, maxDepth int64, limit int) ([]*event.Event, error) {
	m.mu.RLock()
	entries := slices.Clone(m.depths[roomID])
	m.mu.RUnlock()

	slices.SortFunc(entries, func(a, b depthEntry) int {
		if a.depth != b.depth {
			return cmp.Compare(a.depth, b.depth)
		}
		return strings.Compare(a.id.String(), b.id.String())
	})

	events := make([]*event.Event, 0)
	for _, entry := range entries {
		if entry.depth < minDepth || entry.depth > maxDepth {
			continue
		}
		m.mu.RLock()
		sealed := m.events[entry.id]
		m.mu.RUnlock()
		e, _, err := decodeEvent(sealed)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	return events, nil
}

// PutStateSnapshot implements Store.
func (m *Memory) PutStateSnapshot(_ context.Context, id ref.EventID, resolved state.ResolvedState) error {
	sealed, err := encodeSnapshot(resolved, m.compression)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[id] = sealed
	return nil
}

// StateSnapshot implements Store.
func (m *Memory) StateSnapshot(_ context.Context, id ref.EventID) (state.ResolvedState, error) {
	m.mu.RLock()
	sealed, ok := m.snapshots[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("event %s: %w", id, ErrSnapshotNotFound)
	}
	return decodeSnapshot(sealed)
}

// Rooms implements Store.
func (m *Memory) Rooms(_ context.Context) ([]ref.RoomID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rooms := make([]ref.RoomID, 0, len(m.rooms))
	for roomID := range m.rooms {
		rooms = append(rooms, roomID)
	}
	slices.SortFunc(rooms, func(a, b ref.RoomID) int {
		return strings.Compare(a.String(), b.String())
	})
	return rooms, nil
}

// Close implements Store.
func (m *Memory) Close() error { return nil }
