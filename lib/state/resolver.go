// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"context"
	"fmt"
	"slices"

	"github.com/bureau-foundation/loom/lib/authrules"
	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/ref"
)

// EventSource provides read access to stored events during resolution.
// Every event ID reachable from the input sets via auth_events must be
// fetchable; resolution fails on the first miss.
type EventSource interface {
	Event(ctx context.Context, id ref.EventID) (*event.Event, error)
}

// Resolver merges divergent state snapshots. It is stateless beyond
// the event source and safe for concurrent use.
type Resolver struct {
	source EventSource
}

// NewResolver creates a resolver reading events from source.
func NewResolver(source EventSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve merges the input snapshots into one. Slots all inputs agree
// on pass through untouched; contested slots are settled by replaying
// the contested events and their auth-chain difference through the
// auth rules in a deterministic order. The result depends only on the
// set of inputs and the store contents, never on input order.
func (r *Resolver) Resolve(ctx context.Context, sets []ResolvedState) (ResolvedState, error) {
	switch len(sets) {
	case 0:
		return ResolvedState{}, nil
	case 1:
		return sets[0].Clone(), nil
	}

	unconflicted, contested := partition(sets)
	if len(contested) == 0 {
		return unconflicted, nil
	}

	candidates, chains, err := r.gatherCandidates(ctx, contested)
	if err != nil {
		return nil, err
	}
	ordered, err := r.orderCandidates(ctx, candidates, chains)
	if err != nil {
		return nil, err
	}
	return r.replay(ctx, unconflicted, ordered)
}

// partition splits the input snapshots into the slots every input
// agrees on and the set of event IDs contesting the rest. A slot
// missing from some inputs counts as contested even when the inputs
// that do carry it agree: the absent inputs may descend from a fork
// that never admitted the event.
func partition(sets []ResolvedState) (ResolvedState, map[ref.EventID]struct{}) {
	winners := make(map[event.Slot]map[ref.EventID]struct{})
	mentions := make(map[event.Slot]int)
	for _, set := range sets {
		for slot, id := range set {
			if winners[slot] == nil {
				winners[slot] = make(map[ref.EventID]struct{})
			}
			winners[slot][id] = struct{}{}
			mentions[slot]++
		}
	}

	unconflicted := make(ResolvedState)
	contested := make(map[ref.EventID]struct{})
	for slot, ids := range winners {
		if len(ids) == 1 && mentions[slot] == len(sets) {
			for id := range ids {
				unconflicted[slot] = id
			}
			continue
		}
		for id := range ids {
			contested[id] = struct{}{}
		}
	}
	return unconflicted, contested
}

// chainCache memoizes the transitive auth chain per event ID. The
// chain of an event excludes the event itself.
type chainCache map[ref.EventID]map[ref.EventID]struct{}

// gatherCandidates expands the contested IDs into the full replay
// candidate set: the contested events plus the auth difference (events
// in some contested event's auth chain but not in all of them). Every
// candidate is fetched and has its chain memoized for ordering.
func (r *Resolver) gatherCandidates(ctx context.Context, contested map[ref.EventID]struct{}) (map[ref.EventID]*event.Event, chainCache, error) {
	chains := make(chainCache)
	perEvent := make([]map[ref.EventID]struct{}, 0, len(contested))
	for id := range contested {
		chain, err := r.authChain(ctx, id, chains)
		if err != nil {
			return nil, nil, err
		}
		perEvent = append(perEvent, chain)
	}

	candidates := make(map[ref.EventID]*event.Event, len(contested))
	for id := range contested {
		e, err := r.source.Event(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch contested event %s: %w", id, err)
		}
		candidates[id] = e
	}
	for id := range authDifference(perEvent) {
		if _, ok := candidates[id]; ok {
			continue
		}
		e, err := r.source.Event(ctx, id)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch auth-difference event %s: %w", id, err)
		}
		candidates[id] = e
		if _, err := r.authChain(ctx, id, chains); err != nil {
			return nil, nil, err
		}
	}
	return candidates, chains, nil
}

// authChain returns the transitive auth chain of the event: every
// event reachable by following auth_events. Content addressing rules
// out cycles, so plain recursion with memoization terminates.
func (r *Resolver) authChain(ctx context.Context, id ref.EventID, cache chainCache) (map[ref.EventID]struct{}, error) {
	if chain, ok := cache[id]; ok {
		return chain, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := r.source.Event(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("auth chain of %s: %w", id, err)
	}
	chain := make(map[ref.EventID]struct{}, len(e.AuthEvents))
	for _, cited := range e.AuthEvents {
		chain[cited] = struct{}{}
		sub, err := r.authChain(ctx, cited, cache)
		if err != nil {
			return nil, err
		}
		for member := range sub {
			chain[member] = struct{}{}
		}
	}
	cache[id] = chain
	return chain, nil
}

// authDifference returns the union minus the intersection of the
// chains: the auth events the contested forks do not share. These are
// replayed too, so a fork cannot smuggle state in via an auth chain
// the other forks never saw.
func authDifference(chains []map[ref.EventID]struct{}) map[ref.EventID]struct{} {
	difference := make(map[ref.EventID]struct{})
	for i, chain := range chains {
		for id := range chain {
			inAll := true
			for j, other := range chains {
				if j == i {
					continue
				}
				if _, ok := other[id]; !ok {
					inAll = false
					break
				}
			}
			if !inAll {
				difference[id] = struct{}{}
			}
		}
	}
	return difference
}

// candidate is an ordering node: the event, its sender's power level
// as of the event's own auth chain, and the number of not-yet-ordered
// candidates its chain depends on.
type candidate struct {
	e       *event.Event
	power   int64
	blocked int
}

// orderCandidates produces the replay order: reverse topological over
// auth-chain dependencies, ties broken by higher sender power first,
// then lower depth, then event ID. origin_server_ts never participates
// — wall clocks are not trustworthy ordering input.
func (r *Resolver) orderCandidates(ctx context.Context, events map[ref.EventID]*event.Event, chains chainCache) ([]*event.Event, error) {
	nodes := make(map[ref.EventID]*candidate, len(events))
	for id, e := range events {
		power, err := r.senderPower(ctx, e)
		if err != nil {
			return nil, err
		}
		nodes[id] = &candidate{e: e, power: power}
	}

	// Edges run from each candidate to the candidates in its auth
	// chain; an event never precedes one it depends on.
	dependents := make(map[ref.EventID][]ref.EventID)
	for id := range nodes {
		for member := range chains[id] {
			if _, ok := nodes[member]; !ok {
				continue
			}
			nodes[id].blocked++
			dependents[member] = append(dependents[member], id)
		}
	}

	ready := make([]*candidate, 0, len(nodes))
	for _, node := range nodes {
		if node.blocked == 0 {
			ready = append(ready, node)
		}
	}

	ordered := make([]*event.Event, 0, len(nodes))
	for len(ready) > 0 {
		// Linear scan beats a heap at the sizes conflicted sets reach.
		best := 0
		for i := 1; i < len(ready); i++ {
			if candidateLess(ready[i], ready[best]) {
				best = i
			}
		}
		next := ready[best]
		ready = slices.Delete(ready, best, best+1)
		ordered = append(ordered, next.e)

		for _, dep := range dependents[next.e.EventID] {
			node := nodes[dep]
			node.blocked--
			if node.blocked == 0 {
				ready = append(ready, node)
			}
		}
	}

	if len(ordered) != len(nodes) {
		// Unreachable with content-addressed IDs; fail loudly rather
		// than replay a partial order.
		return nil, fmt.Errorf("state resolution ordering stalled: %d of %d candidates ordered", len(ordered), len(nodes))
	}
	return ordered, nil
}

func candidateLess(a, b *candidate) bool {
	if a.power != b.power {
		return a.power > b.power
	}
	if a.e.Depth != b.e.Depth {
		return a.e.Depth < b.e.Depth
	}
	return a.e.EventID.String() < b.e.EventID.String()
}

// senderPower computes the sender's power level as of the event's own
// cited auth events. The event's claim about which power-levels state
// governed it is exactly what auth_events carries.
func (r *Resolver) senderPower(ctx context.Context, e *event.Event) (int64, error) {
	snapshot := make(authrules.State, len(e.AuthEvents))
	for _, id := range e.AuthEvents {
		cited, err := r.source.Event(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("fetch auth event %s of %s: %w", id, e.EventID, err)
		}
		if slot, ok := cited.Slot(); ok {
			snapshot[slot] = cited
		}
	}
	return authrules.LevelsFromState(snapshot).UserLevel(e.Sender), nil
}

// replay materializes the unconflicted base and applies the ordered
// candidates one at a time: an event takes its slot only if the rules
// admit it against the state accumulated so far, and later admitted
// events overwrite earlier winners. Non-state candidates participate
// in ordering but never occupy slots.
func (r *Resolver) replay(ctx context.Context, base ResolvedState, ordered []*event.Event) (ResolvedState, error) {
	working := make(authrules.State, len(base))
	for slot, id := range base {
		e, err := r.source.Event(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetch unconflicted event %s: %w", id, err)
		}
		working[slot] = e
	}

	for _, e := range ordered {
		slot, ok := e.Slot()
		if !ok {
			continue
		}
		if result := authrules.Authorize(e, working); result.Allowed {
			working[slot] = e
		}
	}

	resolved := make(ResolvedState, len(working))
	for slot, e := range working {
		resolved[slot] = e.EventID
	}
	return resolved, nil
}
