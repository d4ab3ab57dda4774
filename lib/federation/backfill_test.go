// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package federation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/eventstore"
	"github.com/bureau-foundation/loom/lib/graph"
	"github.com/bureau-foundation/loom/lib/ref"
)

func strPtr(s string) *string { return &s }

// roomFixture is a small room history: the standard opening sequence
// followed by three messages, each the sole child of its predecessor.
type roomFixture struct {
	t     *testing.T
	now   time.Time
	room  ref.RoomID
	alice ref.UserID
	bob   ref.UserID

	create    *event.Event
	aliceJoin *event.Event
	power     *event.Event
	joinRules *event.Event
	bobJoin   *event.Event
	m1        *event.Event
	m2        *event.Event
	m3        *event.Event
}

func (f *roomFixture) build(sender ref.UserID, eventType string, stateKey *string, content any, parents []*event.Event, auth []ref.EventID) *event.Event {
	f.t.Helper()
	f.now = f.now.Add(time.Second)
	e, err := event.Builder{
		RoomID:   f.room,
		Sender:   sender,
		Type:     eventType,
		StateKey: stateKey,
		Content:  content,
	}.Build(f.now, parents, auth)
	if err != nil {
		f.t.Fatalf("build %s event: %v", eventType, err)
	}
	return e
}

// opening returns the events every test graph starts from.
func (f *roomFixture) opening() []*event.Event {
	return []*event.Event{f.create, f.aliceJoin, f.power, f.joinRules, f.bobJoin}
}

// authChain is what a remote server would return as the auth chain of
// any of the fixture's messages.
func (f *roomFixture) authChain() []*event.Event {
	return []*event.Event{f.create, f.power, f.bobJoin}
}

func buildRoomFixture(t *testing.T) *roomFixture {
	t.Helper()
	f := &roomFixture{
		t:     t,
		now:   time.UnixMilli(1700000000000),
		room:  ref.MustParseRoomID("!history:loom.test"),
		alice: ref.MustParseUserID("@alice:loom.test"),
		bob:   ref.MustParseUserID("@bob:loom.test"),
	}
	f.create = f.build(f.alice, event.TypeCreate, strPtr(""),
		map[string]any{"creator": f.alice.String()}, nil, nil)
	f.aliceJoin = f.build(f.alice, event.TypeMember, strPtr(f.alice.String()),
		map[string]any{"membership": "join"},
		[]*event.Event{f.create},
		[]ref.EventID{f.create.EventID})
	f.power = f.build(f.alice, event.TypePowerLevels, strPtr(""),
		map[string]any{"users": map[string]any{f.alice.String(): 100, f.bob.String(): 50}},
		[]*event.Event{f.aliceJoin},
		[]ref.EventID{f.create.EventID, f.aliceJoin.EventID})
	f.joinRules = f.build(f.alice, event.TypeJoinRules, strPtr(""),
		map[string]any{"join_rule": "public"},
		[]*event.Event{f.power},
		[]ref.EventID{f.create.EventID, f.power.EventID, f.aliceJoin.EventID})
	f.bobJoin = f.build(f.bob, event.TypeMember, strPtr(f.bob.String()),
		map[string]any{"membership": "join"},
		[]*event.Event{f.joinRules},
		[]ref.EventID{f.create.EventID, f.power.EventID, f.joinRules.EventID})

	messageAuth := []ref.EventID{f.create.EventID, f.power.EventID, f.bobJoin.EventID}
	f.m1 = f.build(f.bob, event.TypeMessage, nil,
		map[string]any{"body": "one"}, []*event.Event{f.bobJoin}, messageAuth)
	f.m2 = f.build(f.bob, event.TypeMessage, nil,
		map[string]any{"body": "two"}, []*event.Event{f.m1}, messageAuth)
	f.m3 = f.build(f.bob, event.TypeMessage, nil,
		map[string]any{"body": "three"}, []*event.Event{f.m2}, messageAuth)
	return f
}

// localGraph builds a graph holding the fixture's opening sequence but
// none of its messages.
func localGraph(t *testing.T, fixture *roomFixture) *graph.Graph {
	t.Helper()
	g := graph.New(eventstore.NewMemory(), nil)
	for _, e := range fixture.opening() {
		result, err := g.AdmitEvent(t.Context(), e)
		if err != nil {
			t.Fatalf("AdmitEvent(%s) failed: %v", e.Type, err)
		}
		if !result.Accepted {
			t.Fatalf("opening event %s rejected: %s: %s", e.Type, result.Code, result.Reason)
		}
	}
	return g
}

// fakeGateway serves events from an in-memory map and counts fetches.
type fakeGateway struct {
	events  map[ref.EventID]*event.Event
	chains  map[ref.EventID][]*event.Event
	fetches int
}

var _ Gateway = (*fakeGateway)(nil)

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		events: make(map[ref.EventID]*event.Event),
		chains: make(map[ref.EventID][]*event.Event),
	}
}

func (f *fakeGateway) add(e *event.Event, chain []*event.Event) {
	f.events[e.EventID] = e
	f.chains[e.EventID] = chain
}

func (f *fakeGateway) FetchEvent(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) (*event.Event, error) {
	f.fetches++
	e, ok := f.events[eventID]
	if !ok {
		return nil, fmt.Errorf("fetch %s: %w", eventID, ErrNotFound)
	}
	return e, nil
}

func (f *fakeGateway) FetchEventAuthChain(ctx context.Context, roomID ref.RoomID, eventID ref.EventID) ([]*event.Event, error) {
	return f.chains[eventID], nil
}

func TestBackfillerResolvesDeepChain(t *testing.T) {
	fixture := buildRoomFixture(t)
	g := localGraph(t, fixture)
	gateway := newFakeGateway()
	gateway.add(fixture.m1, fixture.authChain())
	gateway.add(fixture.m2, fixture.authChain())

	backfiller := NewBackfiller(BackfillerOptions{
		Graph:      g,
		Gateway:    gateway,
		RetryDelay: time.Nanosecond,
	})

	// m3 cites m2, which cites m1; neither is stored locally. One
	// fetch round walks the whole gap.
	result, err := backfiller.Admit(t.Context(), fixture.m3)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("m3 rejected: %s: %s", result.Code, result.Reason)
	}
	if gateway.fetches != 2 {
		t.Errorf("gateway served %d fetches, want 2 (m2 and m1)", gateway.fetches)
	}

	extremities, err := g.ForwardExtremities(t.Context(), fixture.room)
	if err != nil {
		t.Fatalf("ForwardExtremities failed: %v", err)
	}
	if len(extremities) != 1 || extremities[0] != fixture.m3.EventID {
		t.Errorf("extremities = %v, want [%s]", extremities, fixture.m3.EventID)
	}
}

func TestBackfillerNoFetchWhenComplete(t *testing.T) {
	fixture := buildRoomFixture(t)
	g := localGraph(t, fixture)
	gateway := newFakeGateway()

	backfiller := NewBackfiller(BackfillerOptions{
		Graph:      g,
		Gateway:    gateway,
		RetryDelay: time.Nanosecond,
	})

	result, err := backfiller.Admit(t.Context(), fixture.m1)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("m1 rejected: %s: %s", result.Code, result.Reason)
	}
	if gateway.fetches != 0 {
		t.Errorf("gateway served %d fetches, want 0", gateway.fetches)
	}
}

func TestBackfillerPermanentRejection(t *testing.T) {
	fixture := buildRoomFixture(t)
	g := localGraph(t, fixture)
	gateway := newFakeGateway()

	backfiller := NewBackfiller(BackfillerOptions{
		Graph:      g,
		Gateway:    gateway,
		RetryDelay: time.Nanosecond,
	})

	// A second create for an existing room is rejected outright; the
	// backfiller must pass the verdict through without fetching.
	duplicate := fixture.build(fixture.alice, event.TypeCreate, strPtr(""),
		map[string]any{"creator": fixture.alice.String(), "reset": true}, nil, nil)

	result, err := backfiller.Admit(t.Context(), duplicate)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if result.Accepted {
		t.Fatal("duplicate create was accepted")
	}
	if result.Code != graph.CodeUnauthorized {
		t.Errorf("code = %s, want %s", result.Code, graph.CodeUnauthorized)
	}
	if gateway.fetches != 0 {
		t.Errorf("gateway served %d fetches for a permanent rejection, want 0", gateway.fetches)
	}
}

func TestBackfillerGivesUp(t *testing.T) {
	fixture := buildRoomFixture(t)
	g := localGraph(t, fixture)
	gateway := newFakeGateway()
	// The remote holds m2 but has lost m1, so the gap can never be
	// closed.
	gateway.add(fixture.m2, fixture.authChain())

	backfiller := NewBackfiller(BackfillerOptions{
		Graph:       g,
		Gateway:     gateway,
		MaxAttempts: 3,
		RetryDelay:  time.Nanosecond,
	})

	result, err := backfiller.Admit(t.Context(), fixture.m3)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if result.Accepted {
		t.Fatal("m3 was accepted despite an unresolvable gap")
	}
	if result.Code != graph.CodeUnresolvableDependency {
		t.Errorf("code = %s, want %s", result.Code, graph.CodeUnresolvableDependency)
	}
	if result.Code.Retryable() {
		t.Error("unresolvable rejection reports as retryable")
	}
	if len(result.Missing) != 1 || result.Missing[0] != fixture.m2.EventID {
		t.Errorf("missing = %v, want [%s]", result.Missing, fixture.m2.EventID)
	}

	// A failed fetch round must not leave partial history behind.
	for _, e := range []*event.Event{fixture.m2, fixture.m3} {
		if _, err := g.Event(t.Context(), e.EventID); !errors.Is(err, eventstore.ErrEventNotFound) {
			t.Errorf("event %s lookup error = %v, want ErrEventNotFound", e.EventID, err)
		}
	}
}

func TestBackfillerFetchBudget(t *testing.T) {
	fixture := buildRoomFixture(t)
	g := localGraph(t, fixture)
	gateway := newFakeGateway()
	gateway.add(fixture.m1, fixture.authChain())
	gateway.add(fixture.m2, fixture.authChain())

	// The gap is two events deep but the budget allows one fetch per
	// round, so resolution can never complete.
	backfiller := NewBackfiller(BackfillerOptions{
		Graph:       g,
		Gateway:     gateway,
		MaxAttempts: 2,
		RetryDelay:  time.Nanosecond,
		FetchBudget: 1,
	})

	result, err := backfiller.Admit(t.Context(), fixture.m3)
	if err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	if result.Accepted {
		t.Fatal("m3 was accepted despite the fetch budget")
	}
	if result.Code != graph.CodeUnresolvableDependency {
		t.Errorf("code = %s, want %s", result.Code, graph.CodeUnresolvableDependency)
	}
}
