// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/loom/lib/authrules"
	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/eventstore"
	"github.com/bureau-foundation/loom/lib/ref"
	"github.com/bureau-foundation/loom/lib/state"
)

// stateAtParents computes the merged state the event must authorize
// against. A create event has no parents and authorizes against the
// empty state.
func (g *Graph) stateAtParents(ctx context.Context, e *event.Event) (state.ResolvedState, error) {
	if len(e.PrevEvents) == 0 {
		return state.ResolvedState{}, nil
	}
	return g.resolveAt(ctx, e.PrevEvents)
}

// resolveAt merges the states after the given events, consulting the
// fingerprint cache first. The cache key is the ID set, so the same
// frontier never resolves twice.
func (g *Graph) resolveAt(ctx context.Context, ids []ref.EventID) (state.ResolvedState, error) {
	key := state.FingerprintOf(ids)
	if cached, ok := g.cache.Get(key); ok {
		return cached, nil
	}

	sets := make([]state.ResolvedState, 0, len(ids))
	for _, id := range ids {
		snapshot, err := g.stateAt(ctx, id)
		if err != nil {
			return nil, err
		}
		sets = append(sets, snapshot)
	}
	resolved, err := g.resolver.Resolve(ctx, sets)
	if err != nil {
		return nil, err
	}
	g.cache.Put(key, resolved)
	return resolved, nil
}

// stateAt returns the resolved state immediately after one event: its
// stored snapshot when present, otherwise derived from its parents'
// states and written back. Derivation does not re-run auth — the
// event is persisted, so its admission already authorized it; its own
// slot simply overlays the parent state.
func (g *Graph) stateAt(ctx context.Context, id ref.EventID) (state.ResolvedState, error) {
	snapshot, err := g.store.StateSnapshot(ctx, id)
	if err == nil {
		return snapshot, nil
	}
	if !errors.Is(err, eventstore.ErrSnapshotNotFound) {
		return nil, err
	}

	e, err := g.store.Event(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("derive state at %s: %w", id, err)
	}
	before, err := g.stateAtParents(ctx, e)
	if err != nil {
		return nil, err
	}
	after := before.Clone()
	if slot, ok := e.Slot(); ok {
		after[slot] = e.EventID
	}
	if err := g.store.PutStateSnapshot(ctx, id, after); err != nil {
		return nil, err
	}
	return after, nil
}

// materialize fetches the winning event of every slot, producing the
// snapshot form the auth rules evaluate against.
func (g *Graph) materialize(ctx context.Context, resolved state.ResolvedState) (authrules.State, error) {
	snapshot := make(authrules.State, len(resolved))
	for slot, id := range resolved {
		e, err := g.store.Event(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("materialize state slot %s: %w", slot, err)
		}
		snapshot[slot] = e
	}
	return snapshot, nil
}
