// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package federation

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/bureau-foundation/loom/lib/clock"
	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/graph"
	"github.com/bureau-foundation/loom/lib/ref"
)

const (
	defaultMaxAttempts = 5
	defaultRetryDelay  = 250 * time.Millisecond
	defaultFetchBudget = 100
)

// BackfillerOptions configures a Backfiller. Graph and Gateway are
// required.
type BackfillerOptions struct {
	// Graph receives the admissions.
	Graph *graph.Graph

	// Gateway fetches missing events from remote servers.
	Gateway Gateway

	// MaxAttempts bounds the admit/fetch rounds per event before it
	// is rejected as unresolvable. Defaults to 5.
	MaxAttempts int

	// RetryDelay paces rounds. Defaults to 250ms.
	RetryDelay time.Duration

	// FetchBudget bounds remote fetches within one round. An ancestry
	// gap deeper than the budget is unresolvable. Defaults to 100.
	FetchBudget int

	// Clock paces retries. Defaults to the real clock.
	Clock clock.Clock

	// Logger receives round diagnostics. nil discards.
	Logger *slog.Logger
}

// Backfiller drives admission of events whose ancestry is not stored
// locally. On a MissingDependency rejection it fetches the missing
// events and their auth chains through the gateway, admits them
// oldest-first, and resubmits, up to the attempt budget. An event
// whose ancestry cannot be completed is rejected with
// CodeUnresolvableDependency; the graph itself never produces that
// code.
type Backfiller struct {
	graph       *graph.Graph
	gateway     Gateway
	maxAttempts int
	retryDelay  time.Duration
	fetchBudget int
	clock       clock.Clock
	logger      *slog.Logger
}

// NewBackfiller fills in defaults and builds a Backfiller.
func NewBackfiller(options BackfillerOptions) *Backfiller {
	b := &Backfiller{
		graph:       options.Graph,
		gateway:     options.Gateway,
		maxAttempts: options.MaxAttempts,
		retryDelay:  options.RetryDelay,
		fetchBudget: options.FetchBudget,
		clock:       options.Clock,
		logger:      options.Logger,
	}
	if b.maxAttempts <= 0 {
		b.maxAttempts = defaultMaxAttempts
	}
	if b.retryDelay <= 0 {
		b.retryDelay = defaultRetryDelay
	}
	if b.fetchBudget <= 0 {
		b.fetchBudget = defaultFetchBudget
	}
	if b.clock == nil {
		b.clock = clock.Real()
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}
	return b
}

// Admit submits the event to the graph, resolving missing dependencies
// through the gateway. Every outcome other than MissingDependency is
// returned as the graph produced it.
func (b *Backfiller) Admit(ctx context.Context, e *event.Event) (graph.AdmissionResult, error) {
	for attempt := 1; ; attempt++ {
		result, err := b.graph.AdmitEvent(ctx, e)
		if err != nil {
			return graph.AdmissionResult{}, err
		}
		if result.Accepted || result.Code != graph.CodeMissingDependency {
			return result, nil
		}
		if attempt >= b.maxAttempts {
			b.logger.Warn("dependency resolution budget exhausted",
				"event_id", e.EventID,
				"room_id", e.RoomID,
				"attempts", attempt,
				"missing", len(result.Missing))
			return graph.AdmissionResult{
				Code:    graph.CodeUnresolvableDependency,
				Reason:  fmt.Sprintf("%d dependencies still missing after %d attempts", len(result.Missing), attempt),
				Missing: result.Missing,
			}, nil
		}

		if err := b.fetchMissing(ctx, e.RoomID, result.Missing); err != nil {
			if ctx.Err() != nil {
				return graph.AdmissionResult{}, ctx.Err()
			}
			b.logger.Warn("dependency fetch round failed",
				"event_id", e.EventID,
				"room_id", e.RoomID,
				"attempt", attempt,
				"error", err)
		}

		select {
		case <-ctx.Done():
			return graph.AdmissionResult{}, ctx.Err()
		case <-b.clock.After(b.retryDelay):
		}
	}
}

// fetchMissing gathers the missing events plus their ancestry through
// the gateway, then admits everything oldest-first. Events already
// stored locally are skipped without a fetch.
func (b *Backfiller) fetchMissing(ctx context.Context, roomID ref.RoomID, missing []ref.EventID) error {
	queue := slices.Clone(missing)
	seen := make(map[ref.EventID]struct{}, len(queue))
	var gathered []*event.Event
	fetched := 0

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, done := seen[id]; done {
			continue
		}
		seen[id] = struct{}{}
		if b.storedLocally(ctx, id) {
			continue
		}

		if fetched >= b.fetchBudget {
			return fmt.Errorf("fetch budget %d exhausted with %d events still queued", b.fetchBudget, len(queue)+1)
		}
		fetched++

		remote, err := b.gateway.FetchEvent(ctx, roomID, id)
		if err != nil {
			return fmt.Errorf("missing dependency %s: %w", id, err)
		}
		chain, err := b.gateway.FetchEventAuthChain(ctx, roomID, id)
		if err != nil {
			return fmt.Errorf("auth chain of %s: %w", id, err)
		}

		gathered = append(gathered, remote)
		for _, member := range chain {
			if _, done := seen[member.EventID]; done {
				continue
			}
			seen[member.EventID] = struct{}{}
			if b.storedLocally(ctx, member.EventID) {
				continue
			}
			gathered = append(gathered, member)
		}
		queue = append(queue, remote.PrevEvents...)
	}

	slices.SortFunc(gathered, func(a, b *event.Event) int {
		if a.Depth != b.Depth {
			return cmp.Compare(a.Depth, b.Depth)
		}
		return strings.Compare(a.EventID.String(), b.EventID.String())
	})
	for _, dependency := range gathered {
		result, err := b.graph.AdmitEvent(ctx, dependency)
		if err != nil {
			return err
		}
		if !result.Accepted {
			b.logger.Debug("fetched dependency not admitted",
				"event_id", dependency.EventID,
				"code", result.Code.String(),
				"reason", result.Reason)
		}
	}
	return nil
}

// storedLocally reports whether the graph already holds the event.
// Lookup errors count as absent; the admission path surfaces them.
func (b *Backfiller) storedLocally(ctx context.Context, id ref.EventID) bool {
	_, err := b.graph.Event(ctx, id)
	return err == nil
}
