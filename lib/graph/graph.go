// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/bureau-foundation/loom/lib/authrules"
	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/eventstore"
	"github.com/bureau-foundation/loom/lib/ref"
	"github.com/bureau-foundation/loom/lib/state"
)

// ErrUnknownRoom is returned by queries against a room the store has
// never admitted an event for.
var ErrUnknownRoom = errors.New("unknown room")

// Graph drives event admission and serves DAG queries over a store.
// Safe for concurrent use: admission holds a per-room lock, reads run
// unguarded against the store's own snapshot isolation.
type Graph struct {
	store    eventstore.Store
	resolver *state.Resolver
	cache    *state.Cache
	logger   *slog.Logger

	mu    sync.Mutex
	rooms map[ref.RoomID]*roomLock
}

// roomLock serializes admission for one room. Refcounted so idle
// entries leave the registry instead of accumulating forever.
type roomLock struct {
	mu   sync.Mutex
	refs int
}

// New creates a graph over the store. A nil logger discards output.
func New(store eventstore.Store, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Graph{
		store:    store,
		resolver: state.NewResolver(store),
		cache:    state.NewCache(state.DefaultCacheSize),
		logger:   logger,
		rooms:    make(map[ref.RoomID]*roomLock),
	}
}

// lockRoom acquires the room's admission lock, creating the registry
// entry on first use. The returned function releases the lock and
// drops the entry once no admission holds or awaits it.
func (g *Graph) lockRoom(roomID ref.RoomID) func() {
	g.mu.Lock()
	entry, ok := g.rooms[roomID]
	if !ok {
		entry = &roomLock{}
		g.rooms[roomID] = entry
	}
	entry.refs++
	g.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		g.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(g.rooms, roomID)
		}
		g.mu.Unlock()
	}
}

// AdmitEvent validates, authorizes, and persists one event. The
// returned result carries the protocol verdict; a non-nil error means
// a storage fault and nothing about the event itself — callers retry
// those with backoff, relying on idempotent persistence.
func (g *Graph) AdmitEvent(ctx context.Context, e *event.Event) (AdmissionResult, error) {
	if e.EventID.IsZero() {
		return reject(CodeMalformedEvent, "event has no event_id"), nil
	}
	if err := e.Validate(); err != nil {
		return reject(CodeMalformedEvent, err.Error()), nil
	}
	if err := event.VerifyEventID(e); err != nil {
		return reject(CodeMalformedEvent, err.Error()), nil
	}

	unlock := g.lockRoom(e.RoomID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return AdmissionResult{}, err
	}

	has, err := g.store.Has(ctx, e.EventID)
	if err != nil {
		return AdmissionResult{}, err
	}
	extremities, err := g.store.ForwardExtremities(ctx, e.RoomID)
	if err != nil {
		return AdmissionResult{}, err
	}

	// Idempotence: re-delivery of a persisted event succeeds without
	// re-running auth. The only side effect is repairing a frontier
	// left behind by an interrupted earlier admission.
	if has {
		if err := g.healFrontier(ctx, e, extremities); err != nil {
			return AdmissionResult{}, err
		}
		return accept(), nil
	}

	// A room exists once its create event is admitted; only a create
	// event can open one, and a second create would reset it.
	if len(extremities) == 0 && !e.IsCreate() {
		return reject(CodeUnauthorized, fmt.Sprintf("room %s is not initialized: first event must be %s", e.RoomID, event.TypeCreate)), nil
	}
	if len(extremities) > 0 && e.IsCreate() {
		return reject(CodeUnauthorized, fmt.Sprintf("room %s is already initialized", e.RoomID)), nil
	}

	missing, err := g.missingDependencies(ctx, e)
	if err != nil {
		return AdmissionResult{}, err
	}
	if len(missing) > 0 {
		return AdmissionResult{
			Code:    CodeMissingDependency,
			Reason:  fmt.Sprintf("%d cited events are not stored locally", len(missing)),
			Missing: missing,
		}, nil
	}

	if reason, err := g.checkLinkage(ctx, e); err != nil {
		return AdmissionResult{}, err
	} else if reason != "" {
		return reject(CodeMalformedEvent, reason), nil
	}

	stateAtParents, err := g.stateAtParents(ctx, e)
	if err != nil {
		return AdmissionResult{}, err
	}
	snapshot, err := g.materialize(ctx, stateAtParents)
	if err != nil {
		return AdmissionResult{}, err
	}

	if result := authrules.Authorize(e, snapshot); !result.Allowed {
		g.logger.Warn("event rejected",
			"room_id", e.RoomID,
			"event_id", e.EventID,
			"type", e.Type,
			"sender", e.Sender,
			"code", result.Code,
			"reason", result.Reason)
		return reject(CodeUnauthorized, result.Reason), nil
	}

	// Persist is durable on return; everything after it is derivable
	// again from the stored record if the process dies mid-update.
	if err := g.store.Persist(ctx, e); err != nil {
		var conflict *eventstore.ConflictError
		if errors.As(err, &conflict) {
			g.logger.Error("event content conflict",
				"room_id", e.RoomID,
				"event_id", e.EventID,
				"stored", event.FormatFingerprint(conflict.Stored),
				"incoming", event.FormatFingerprint(conflict.Incoming))
			return reject(CodeConflict, conflict.Error()), nil
		}
		return AdmissionResult{}, err
	}

	post := stateAtParents.Clone()
	if slot, ok := e.Slot(); ok {
		post[slot] = e.EventID
	}
	if err := g.store.PutStateSnapshot(ctx, e.EventID, post); err != nil {
		return AdmissionResult{}, err
	}

	next := updateFrontier(extremities, e)
	if err := g.store.SetForwardExtremities(ctx, e.RoomID, next); err != nil {
		return AdmissionResult{}, err
	}

	// Warm the cache for the new frontier so the next admission and
	// the next CurrentState call skip the resolve. Failure here is
	// harmless: the state recomputes on demand.
	if _, err := g.resolveAt(ctx, next); err != nil {
		g.logger.Warn("current state refresh failed",
			"room_id", e.RoomID, "error", err)
	}

	g.logger.Debug("event admitted",
		"room_id", e.RoomID,
		"event_id", e.EventID,
		"type", e.Type,
		"sender", e.Sender,
		"depth", e.Depth,
		"extremities", len(next))
	return accept(), nil
}

// missingDependencies probes every cited parent and auth event and
// returns the absent ones, sorted for a stable retry payload.
func (g *Graph) missingDependencies(ctx context.Context, e *event.Event) ([]ref.EventID, error) {
	seen := make(map[ref.EventID]struct{}, len(e.PrevEvents)+len(e.AuthEvents))
	var missing []ref.EventID
	for _, id := range citedEvents(e) {
		if _, done := seen[id]; done {
			continue
		}
		seen[id] = struct{}{}
		has, err := g.store.Has(ctx, id)
		if err != nil {
			return nil, err
		}
		if !has {
			missing = append(missing, id)
		}
	}
	slices.SortFunc(missing, func(a, b ref.EventID) int {
		return strings.Compare(a.String(), b.String())
	})
	return missing, nil
}

// checkLinkage verifies that every cited event lives in the event's
// own room. The store is shared across rooms; a link must not cross.
func (g *Graph) checkLinkage(ctx context.Context, e *event.Event) (string, error) {
	for _, id := range citedEvents(e) {
		cited, err := g.store.Event(ctx, id)
		if err != nil {
			return "", err
		}
		if cited.RoomID != e.RoomID {
			return fmt.Sprintf("cited event %s belongs to room %s, not %s", id, cited.RoomID, e.RoomID), nil
		}
	}
	return "", nil
}

func citedEvents(e *event.Event) []ref.EventID {
	cited := make([]ref.EventID, 0, len(e.PrevEvents)+len(e.AuthEvents))
	cited = append(cited, e.PrevEvents...)
	cited = append(cited, e.AuthEvents...)
	return cited
}

// updateFrontier removes the event's parents from the frontier (each
// now has a persisted child) and adds the event, sorted.
func updateFrontier(current []ref.EventID, e *event.Event) []ref.EventID {
	next := make([]ref.EventID, 0, len(current)+1)
	for _, id := range current {
		if !e.HasParent(id) && id != e.EventID {
			next = append(next, id)
		}
	}
	next = append(next, e.EventID)
	slices.SortFunc(next, func(a, b ref.EventID) int {
		return strings.Compare(a.String(), b.String())
	})
	return next
}

// healFrontier repairs the extremity set when an earlier admission
// persisted the event but died before the frontier update: the event
// is stored, yet one of its parents still sits in the frontier (or,
// for a create event, the room has no frontier at all). Re-applying
// the update is safe; when the event is already reflected this is a
// no-op and re-delivery changes nothing.
func (g *Graph) healFrontier(ctx context.Context, e *event.Event, extremities []ref.EventID) error {
	if slices.Contains(extremities, e.EventID) {
		return nil
	}
	stale := e.IsCreate() && len(extremities) == 0
	for _, id := range extremities {
		if e.HasParent(id) {
			stale = true
			break
		}
	}
	if !stale {
		return nil
	}
	next := updateFrontier(extremities, e)
	if err := g.store.SetForwardExtremities(ctx, e.RoomID, next); err != nil {
		return err
	}
	g.logger.Info("frontier healed after interrupted admission",
		"room_id", e.RoomID,
		"event_id", e.EventID,
		"extremities", len(next))
	return nil
}
