// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/eventstore"
	"github.com/bureau-foundation/loom/lib/ref"
	"github.com/bureau-foundation/loom/lib/state"
)

const (
	// defaultMissingEventsLimit matches the federation default page
	// size for get_missing_events.
	defaultMissingEventsLimit = 10

	// defaultBackfillLimit bounds a backfill page when the caller
	// does not.
	defaultBackfillLimit = 100
)

// Event fetches one stored event.
func (g *Graph) Event(ctx context.Context, id ref.EventID) (*event.Event, error) {
	return g.store.Event(ctx, id)
}

// ForwardExtremities returns the room's current DAG frontier.
func (g *Graph) ForwardExtremities(ctx context.Context, roomID ref.RoomID) ([]ref.EventID, error) {
	return g.store.ForwardExtremities(ctx, roomID)
}

// ExtremityEvents fetches the frontier's events — the parent set for
// a locally built event. ErrUnknownRoom when the room has none.
func (g *Graph) ExtremityEvents(ctx context.Context, roomID ref.RoomID) ([]*event.Event, error) {
	ids, err := g.store.ForwardExtremities(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrUnknownRoom)
	}
	events := make([]*event.Event, 0, len(ids))
	for _, id := range ids {
		e, err := g.store.Event(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("extremity %s: %w", id, err)
		}
		events = append(events, e)
	}
	return events, nil
}

// CurrentState returns the room's resolved state at its current
// forward extremities. ErrUnknownRoom when the room has none.
func (g *Graph) CurrentState(ctx context.Context, roomID ref.RoomID) (state.ResolvedState, error) {
	extremities, err := g.store.ForwardExtremities(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if len(extremities) == 0 {
		return nil, fmt.Errorf("room %s: %w", roomID, ErrUnknownRoom)
	}
	return g.resolveAt(ctx, extremities)
}

// StateAt returns the merged resolved state after the given events.
func (g *Graph) StateAt(ctx context.Context, ids []ref.EventID) (state.ResolvedState, error) {
	if len(ids) == 0 {
		return state.ResolvedState{}, nil
	}
	return g.resolveAt(ctx, ids)
}

// MissingEvents walks backwards from the latest events through
// prev_events, stopping at (and excluding) the earliest set, and
// returns up to limit events oldest-first so the caller can admit
// them in order. IDs the store does not hold are skipped — the walk
// reports what this server can supply, not what exists.
func (g *Graph) MissingEvents(ctx context.Context, roomID ref.RoomID, earliest, latest []ref.EventID, limit int) ([]*event.Event, error) {
	if limit <= 0 {
		limit = defaultMissingEventsLimit
	}
	stop := make(map[ref.EventID]struct{}, len(earliest))
	for _, id := range earliest {
		stop[id] = struct{}{}
	}

	var queue []ref.EventID
	for _, id := range latest {
		e, err := g.store.Event(ctx, id)
		if errors.Is(err, eventstore.ErrEventNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if e.RoomID != roomID {
			continue
		}
		queue = append(queue, e.PrevEvents...)
	}

	visited := make(map[ref.EventID]struct{}, limit)
	collected := make([]*event.Event, 0, limit)
	for len(queue) > 0 && len(collected) < limit {
		id := queue[0]
		queue = queue[1:]
		if _, done := visited[id]; done {
			continue
		}
		visited[id] = struct{}{}
		if _, boundary := stop[id]; boundary {
			continue
		}
		e, err := g.store.Event(ctx, id)
		if errors.Is(err, eventstore.ErrEventNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if e.RoomID != roomID {
			continue
		}
		collected = append(collected, e)
		queue = append(queue, e.PrevEvents...)
	}

	slices.SortFunc(collected, compareDepthThenID)
	return collected, nil
}

// Backfill returns up to limit events from the ancestry of the given
// starting points (inclusive), newest-first: the deepest reachable
// event is emitted, its parents join the frontier, repeat.
func (g *Graph) Backfill(ctx context.Context, roomID ref.RoomID, from []ref.EventID, limit int) ([]*event.Event, error) {
	if limit <= 0 {
		limit = defaultBackfillLimit
	}

	frontier := make(map[ref.EventID]*event.Event, len(from))
	visited := make(map[ref.EventID]struct{}, limit)
	push := func(id ref.EventID) error {
		if _, done := visited[id]; done {
			return nil
		}
		visited[id] = struct{}{}
		e, err := g.store.Event(ctx, id)
		if errors.Is(err, eventstore.ErrEventNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if e.RoomID != roomID {
			return nil
		}
		frontier[id] = e
		return nil
	}
	for _, id := range from {
		if err := push(id); err != nil {
			return nil, err
		}
	}

	page := make([]*event.Event, 0, limit)
	for len(frontier) > 0 && len(page) < limit {
		var next *event.Event
		for _, e := range frontier {
			if next == nil || compareDepthThenID(e, next) > 0 {
				next = e
			}
		}
		delete(frontier, next.EventID)
		page = append(page, next)
		for _, parent := range next.PrevEvents {
			if err := push(parent); err != nil {
				return nil, err
			}
		}
	}
	return page, nil
}

// AuthChain returns the transitive auth closure of the given events,
// deduplicated and depth-ascending. The listed events themselves are
// excluded unless another member's chain cites them.
func (g *Graph) AuthChain(ctx context.Context, ids []ref.EventID) ([]*event.Event, error) {
	collected := make(map[ref.EventID]*event.Event)
	var walk func(id ref.EventID) error
	walk = func(id ref.EventID) error {
		if _, done := collected[id]; done {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		e, err := g.store.Event(ctx, id)
		if err != nil {
			return fmt.Errorf("auth chain member %s: %w", id, err)
		}
		collected[id] = e
		for _, cited := range e.AuthEvents {
			if err := walk(cited); err != nil {
				return err
			}
		}
		return nil
	}

	for _, id := range ids {
		e, err := g.store.Event(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("auth chain of %s: %w", id, err)
		}
		for _, cited := range e.AuthEvents {
			if err := walk(cited); err != nil {
				return nil, err
			}
		}
	}

	chain := make([]*event.Event, 0, len(collected))
	for _, e := range collected {
		chain = append(chain, e)
	}
	slices.SortFunc(chain, compareDepthThenID)
	return chain, nil
}

// compareDepthThenID orders events by depth, then event ID. The
// deterministic order every walk result uses; origin_server_ts never
// participates.
func compareDepthThenID(a, b *event.Event) int {
	if a.Depth != b.Depth {
		return cmp.Compare(a.Depth, b.Depth)
	}
	return strings.Compare(a.EventID.String(), b.EventID.String())
}
