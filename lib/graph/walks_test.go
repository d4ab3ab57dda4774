// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"errors"
	"testing"

	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/eventstore"
	"github.com/bureau-foundation/loom/lib/ref"
)

// linearRoom admits the skeleton plus three messages m1 <- m2 <- m3
// and returns everything in admission order.
func linearRoom(t *testing.T) (*Graph, *skeleton, []*event.Event) {
	t.Helper()
	f := newFactory(t)
	g := newTestGraph(t)
	skel := buildSkeleton(f, testRoom)
	admitAll(t, g, skel.events()...)

	m1 := f.message(testRoom, skel, "one", skel.bobJoin)
	m2 := f.message(testRoom, skel, "two", m1)
	m3 := f.message(testRoom, skel, "three", m2)
	admitAll(t, g, m1, m2, m3)
	return g, skel, []*event.Event{m1, m2, m3}
}

func wantEventOrder(t *testing.T, got []*event.Event, want ...*event.Event) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].EventID != want[i].EventID {
			t.Errorf("position %d: got %s (depth %d), want %s (depth %d)",
				i, got[i].EventID, got[i].Depth, want[i].EventID, want[i].Depth)
		}
	}
}

func TestMissingEvents(t *testing.T) {
	g, skel, msgs := linearRoom(t)
	m1, m2 := msgs[0], msgs[1]

	t.Run("walks to the earliest boundary", func(t *testing.T) {
		got, err := g.MissingEvents(t.Context(), testRoom,
			[]ref.EventID{skel.aliceJoin.EventID},
			[]ref.EventID{m2.EventID}, 10)
		if err != nil {
			t.Fatalf("MissingEvents failed: %v", err)
		}
		wantEventOrder(t, got, skel.power, skel.joinRules, skel.bobJoin, m1)
	})

	t.Run("limit keeps the events nearest the latest set", func(t *testing.T) {
		got, err := g.MissingEvents(t.Context(), testRoom,
			[]ref.EventID{skel.aliceJoin.EventID},
			[]ref.EventID{m2.EventID}, 2)
		if err != nil {
			t.Fatalf("MissingEvents failed: %v", err)
		}
		wantEventOrder(t, got, skel.bobJoin, m1)
	})

	t.Run("adjacent boundary yields nothing", func(t *testing.T) {
		got, err := g.MissingEvents(t.Context(), testRoom,
			[]ref.EventID{m1.EventID},
			[]ref.EventID{m2.EventID}, 10)
		if err != nil {
			t.Fatalf("MissingEvents failed: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("got %d events, want none", len(got))
		}
	})

	t.Run("unknown latest events are skipped", func(t *testing.T) {
		got, err := g.MissingEvents(t.Context(), testRoom,
			nil,
			[]ref.EventID{ref.NewEventID("nowhere", testServer)}, 10)
		if err != nil {
			t.Fatalf("MissingEvents failed: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("got %d events, want none", len(got))
		}
	})
}

func TestBackfill(t *testing.T) {
	g, skel, msgs := linearRoom(t)
	m1, m2, m3 := msgs[0], msgs[1], msgs[2]

	t.Run("newest first including the starting point", func(t *testing.T) {
		got, err := g.Backfill(t.Context(), testRoom, []ref.EventID{m3.EventID}, 3)
		if err != nil {
			t.Fatalf("Backfill failed: %v", err)
		}
		wantEventOrder(t, got, m3, m2, m1)
	})

	t.Run("reaches the create event", func(t *testing.T) {
		got, err := g.Backfill(t.Context(), testRoom, []ref.EventID{m3.EventID}, 100)
		if err != nil {
			t.Fatalf("Backfill failed: %v", err)
		}
		wantEventOrder(t, got, m3, m2, m1,
			skel.bobJoin, skel.joinRules, skel.power, skel.aliceJoin, skel.create)
	})

	t.Run("unknown starting point yields nothing", func(t *testing.T) {
		got, err := g.Backfill(t.Context(), testRoom,
			[]ref.EventID{ref.NewEventID("nowhere", testServer)}, 10)
		if err != nil {
			t.Fatalf("Backfill failed: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("got %d events, want none", len(got))
		}
	})
}

func TestAuthChain(t *testing.T) {
	g, skel, msgs := linearRoom(t)
	m1 := msgs[0]

	t.Run("transitive closure depth ascending", func(t *testing.T) {
		got, err := g.AuthChain(t.Context(), []ref.EventID{m1.EventID})
		if err != nil {
			t.Fatalf("AuthChain failed: %v", err)
		}
		// m1 cites create, power and bob's join; their chains pull in
		// the remaining skeleton. m1 itself is not a member.
		wantEventOrder(t, got,
			skel.create, skel.aliceJoin, skel.power, skel.joinRules, skel.bobJoin)
	})

	t.Run("create has an empty chain", func(t *testing.T) {
		got, err := g.AuthChain(t.Context(), []ref.EventID{skel.create.EventID})
		if err != nil {
			t.Fatalf("AuthChain failed: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("got %d events, want none", len(got))
		}
	})

	t.Run("unknown event is an error", func(t *testing.T) {
		_, err := g.AuthChain(t.Context(), []ref.EventID{ref.NewEventID("nowhere", testServer)})
		if !errors.Is(err, eventstore.ErrEventNotFound) {
			t.Fatalf("AuthChain error = %v, want ErrEventNotFound", err)
		}
	})
}

func TestStateQueries(t *testing.T) {
	g, skel, msgs := linearRoom(t)
	m3 := msgs[2]

	wantSlots := map[event.Slot]ref.EventID{
		event.SlotFor(event.TypeCreate):      skel.create.EventID,
		event.MemberSlot(alice):              skel.aliceJoin.EventID,
		event.SlotFor(event.TypePowerLevels): skel.power.EventID,
		event.SlotFor(event.TypeJoinRules):   skel.joinRules.EventID,
		event.MemberSlot(bob):                skel.bobJoin.EventID,
	}

	t.Run("state at bob's join", func(t *testing.T) {
		got, err := g.StateAt(t.Context(), []ref.EventID{skel.bobJoin.EventID})
		if err != nil {
			t.Fatalf("StateAt failed: %v", err)
		}
		if len(got) != len(wantSlots) {
			t.Fatalf("state has %d slots, want %d: %v", len(got), len(wantSlots), got)
		}
		for slot, want := range wantSlots {
			if got[slot] != want {
				t.Errorf("slot %s = %s, want %s", slot, got[slot], want)
			}
		}
	})

	t.Run("messages do not change state", func(t *testing.T) {
		current, err := g.CurrentState(t.Context(), testRoom)
		if err != nil {
			t.Fatalf("CurrentState failed: %v", err)
		}
		atTip, err := g.StateAt(t.Context(), []ref.EventID{m3.EventID})
		if err != nil {
			t.Fatalf("StateAt failed: %v", err)
		}
		if !current.Equal(atTip) {
			t.Fatalf("current state %v differs from state at tip %v", current, atTip)
		}
		if len(current) != len(wantSlots) {
			t.Fatalf("current state has %d slots, want %d", len(current), len(wantSlots))
		}
	})

	t.Run("empty input is empty state", func(t *testing.T) {
		got, err := g.StateAt(t.Context(), nil)
		if err != nil {
			t.Fatalf("StateAt failed: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("state has %d slots, want none", len(got))
		}
	})

	t.Run("unknown room", func(t *testing.T) {
		unknown := ref.MustParseRoomID("!nowhere:loom.test")
		if _, err := g.CurrentState(t.Context(), unknown); !errors.Is(err, ErrUnknownRoom) {
			t.Errorf("CurrentState error = %v, want ErrUnknownRoom", err)
		}
		if _, err := g.ExtremityEvents(t.Context(), unknown); !errors.Is(err, ErrUnknownRoom) {
			t.Errorf("ExtremityEvents error = %v, want ErrUnknownRoom", err)
		}
	})

	t.Run("extremity events at the tip", func(t *testing.T) {
		got, err := g.ExtremityEvents(t.Context(), testRoom)
		if err != nil {
			t.Fatalf("ExtremityEvents failed: %v", err)
		}
		wantEventOrder(t, got, m3)
	})
}
