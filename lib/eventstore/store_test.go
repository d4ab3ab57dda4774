// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"encoding/json"
	"errors"
	"strconv"
	"testing"

	"github.com/bureau-foundation/loom/lib/codec"
	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/ref"
	"github.com/bureau-foundation/loom/lib/state"
)

// withEachStore runs the test against every Store implementation, so
// the contract is pinned once and both backends answer to it.
func withEachStore(t *testing.T, test func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) {
		test(t, NewMemory())
	})
	t.Run("badger", func(t *testing.T) {
		store, err := OpenBadger(BadgerOptions{Path: t.TempDir(), Compression: CompressionZstd})
		if err != nil {
			t.Fatalf("OpenBadger failed: %v", err)
		}
		t.Cleanup(func() {
			if err := store.Close(); err != nil {
				t.Errorf("Close failed: %v", err)
			}
		})
		test(t, store)
	})
}

// messageEvent builds a minimal non-state event at the given depth.
func messageEvent(local string, room ref.RoomID, depth int64) *event.Event {
	return &event.Event{
		EventID:        ref.NewEventID(local, testServer),
		RoomID:         room,
		Sender:         ref.NewUserID("alice", testServer),
		Type:           event.TypeMessage,
		Content:        json.RawMessage(`{"body":` + strconv.Quote("message "+local) + `}`),
		Depth:          depth,
		OriginServerTS: 1700000000000 + depth,
	}
}

func eventIDs(events []*event.Event) []string {
	ids := make([]string, len(events))
	for i, e := range events {
		ids[i] = e.EventID.String()
	}
	return ids
}

func TestStorePersistAndFetch(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		room := ref.NewRoomID("dag", testServer)
		original := messageEvent("e1", room, 1)
		original.Unsigned = json.RawMessage(`{"age":1}`)

		if err := store.Persist(t.Context(), original); err != nil {
			t.Fatalf("Persist failed: %v", err)
		}

		got, err := store.Event(t.Context(), original.EventID)
		if err != nil {
			t.Fatalf("Event failed: %v", err)
		}
		if got.EventID != original.EventID || got.RoomID != original.RoomID || got.Depth != original.Depth {
			t.Errorf("fetched event header mismatch: %+v", got)
		}
		if string(got.Content) != string(original.Content) {
			t.Errorf("content = %s, want %s", got.Content, original.Content)
		}
		if got.Unsigned != nil {
			t.Errorf("unsigned metadata survived persistence: %s", got.Unsigned)
		}

		ok, err := store.Has(t.Context(), original.EventID)
		if err != nil {
			t.Fatalf("Has failed: %v", err)
		}
		if !ok {
			t.Error("Has = false for persisted event")
		}
	})
}

func TestStoreEventNotFound(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		missing := ref.NewEventID("ghost", testServer)

		_, err := store.Event(t.Context(), missing)
		if !errors.Is(err, ErrEventNotFound) {
			t.Errorf("Event on missing ID: err = %v, want ErrEventNotFound", err)
		}

		ok, err := store.Has(t.Context(), missing)
		if err != nil {
			t.Fatalf("Has failed: %v", err)
		}
		if ok {
			t.Error("Has = true for missing event")
		}
	})
}

func TestStorePersistIdempotent(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		room := ref.NewRoomID("dag", testServer)
		e := messageEvent("e1", room, 1)

		if err := store.Persist(t.Context(), e); err != nil {
			t.Fatalf("first Persist failed: %v", err)
		}
		if err := store.Persist(t.Context(), e); err != nil {
			t.Fatalf("re-Persist of identical event failed: %v", err)
		}

		// The depth index must not have gained a duplicate entry.
		events, err := store.EventsByDepthRange(t.Context(), room, 0, 10, 0)
		if err != nil {
			t.Fatalf("EventsByDepthRange failed: %v", err)
		}
		if len(events) != 1 {
			t.Errorf("depth index holds %d entries after re-persist, want 1", len(events))
		}
	})
}

func TestStorePersistConflict(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		room := ref.NewRoomID("dag", testServer)
		original := messageEvent("e1", room, 1)
		if err := store.Persist(t.Context(), original); err != nil {
			t.Fatalf("Persist failed: %v", err)
		}

		forged := messageEvent("e1", room, 1)
		forged.Content = json.RawMessage(`{"body":"forged"}`)

		err := store.Persist(t.Context(), forged)
		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			t.Fatalf("Persist of divergent content: err = %v, want *ConflictError", err)
		}
		if conflict.EventID != original.EventID {
			t.Errorf("conflict names event %s, want %s", conflict.EventID, original.EventID)
		}
		if conflict.Stored == conflict.Incoming {
			t.Error("conflict fingerprints are equal; should differ")
		}

		// The original record must be untouched.
		got, err := store.Event(t.Context(), original.EventID)
		if err != nil {
			t.Fatalf("Event failed: %v", err)
		}
		if string(got.Content) != string(original.Content) {
			t.Errorf("stored content = %s, want original %s", got.Content, original.Content)
		}
	})
}

func TestStoreForwardExtremities(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		room := ref.NewRoomID("dag", testServer)

		frontier, err := store.ForwardExtremities(t.Context(), room)
		if err != nil {
			t.Fatalf("ForwardExtremities failed: %v", err)
		}
		if len(frontier) != 0 {
			t.Errorf("unknown room has frontier %v", frontier)
		}

		beta := ref.NewEventID("beta", testServer)
		alpha := ref.NewEventID("alpha", testServer)
		if err := store.SetForwardExtremities(t.Context(), room, []ref.EventID{beta, alpha}); err != nil {
			t.Fatalf("SetForwardExtremities failed: %v", err)
		}

		frontier, err = store.ForwardExtremities(t.Context(), room)
		if err != nil {
			t.Fatalf("ForwardExtremities failed: %v", err)
		}
		if len(frontier) != 2 || frontier[0] != alpha || frontier[1] != beta {
			t.Errorf("frontier = %v, want [%s %s]", frontier, alpha, beta)
		}

		// Replacement is total, not a merge.
		gamma := ref.NewEventID("gamma", testServer)
		if err := store.SetForwardExtremities(t.Context(), room, []ref.EventID{gamma}); err != nil {
			t.Fatalf("SetForwardExtremities failed: %v", err)
		}
		frontier, err = store.ForwardExtremities(t.Context(), room)
		if err != nil {
			t.Fatalf("ForwardExtremities failed: %v", err)
		}
		if len(frontier) != 1 || frontier[0] != gamma {
			t.Errorf("frontier = %v, want [%s]", frontier, gamma)
		}
	})
}

func TestStoreEventsByDepthRange(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		room := ref.NewRoomID("dag", testServer)
		other := ref.NewRoomID("other", testServer)

		// Persisted out of order; depth 4 is deliberately vacant.
		for _, e := range []*event.Event{
			messageEvent("e3", room, 3),
			messageEvent("e2b", room, 2),
			messageEvent("e1", room, 1),
			messageEvent("e5", room, 5),
			messageEvent("e2a", room, 2),
			messageEvent("x1", other, 2),
		} {
			if err := store.Persist(t.Context(), e); err != nil {
				t.Fatalf("Persist(%s) failed: %v", e.EventID, err)
			}
		}

		check := func(minDepth, maxDepth int64, limit int, want ...string) {
			t.Helper()
			events, err := store.EventsByDepthRange(t.Context(), room, minDepth, maxDepth, limit)
			if err != nil {
				t.Fatalf("EventsByDepthRange(%d, %d, %d) failed: %v", minDepth, maxDepth, limit, err)
			}
			got := eventIDs(events)
			if len(got) != len(want) {
				t.Fatalf("EventsByDepthRange(%d, %d, %d) = %v, want %v", minDepth, maxDepth, limit, got, want)
			}
			for i := range want {
				if got[i] != "$"+want[i]+":loom.test" {
					t.Fatalf("EventsByDepthRange(%d, %d, %d) = %v, want %v", minDepth, maxDepth, limit, got, want)
				}
			}
		}

		// Ordering is depth first, then event ID within a depth.
		check(2, 3, 0, "e2a", "e2b", "e3")
		check(0, 10, 0, "e1", "e2a", "e2b", "e3", "e5")
		check(0, 10, 2, "e1", "e2a")
		check(4, 4, 0)
		check(6, 10, 0)

		// Rooms do not bleed into each other.
		events, err := store.EventsByDepthRange(t.Context(), other, 0, 10, 0)
		if err != nil {
			t.Fatalf("EventsByDepthRange failed: %v", err)
		}
		if got := eventIDs(events); len(got) != 1 || got[0] != "$x1:loom.test" {
			t.Errorf("other room events = %v, want [$x1:loom.test]", got)
		}
	})
}

func TestStoreStateSnapshots(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		at := ref.NewEventID("e1", testServer)

		_, err := store.StateSnapshot(t.Context(), at)
		if !errors.Is(err, ErrSnapshotNotFound) {
			t.Errorf("StateSnapshot on missing ID: err = %v, want ErrSnapshotNotFound", err)
		}

		resolved := make(state.ResolvedState)
		resolved[event.SlotFor(event.TypeCreate)] = ref.NewEventID("create", testServer)
		resolved[event.MemberSlot(ref.NewUserID("alice", testServer))] = ref.NewEventID("alice-join", testServer)
		if err := store.PutStateSnapshot(t.Context(), at, resolved); err != nil {
			t.Fatalf("PutStateSnapshot failed: %v", err)
		}

		got, err := store.StateSnapshot(t.Context(), at)
		if err != nil {
			t.Fatalf("StateSnapshot failed: %v", err)
		}
		if !got.Equal(resolved) {
			t.Errorf("snapshot = %v, want %v", got, resolved)
		}
	})
}

func TestStoreRooms(t *testing.T) {
	withEachStore(t, func(t *testing.T, store Store) {
		rooms, err := store.Rooms(t.Context())
		if err != nil {
			t.Fatalf("Rooms failed: %v", err)
		}
		if len(rooms) != 0 {
			t.Errorf("fresh store lists rooms %v", rooms)
		}

		beta := ref.NewRoomID("beta", testServer)
		alpha := ref.NewRoomID("alpha", testServer)
		for _, e := range []*event.Event{
			messageEvent("b1", beta, 1),
			messageEvent("a1", alpha, 1),
			messageEvent("b2", beta, 2),
		} {
			if err := store.Persist(t.Context(), e); err != nil {
				t.Fatalf("Persist failed: %v", err)
			}
		}

		rooms, err = store.Rooms(t.Context())
		if err != nil {
			t.Fatalf("Rooms failed: %v", err)
		}
		if len(rooms) != 2 || rooms[0] != alpha || rooms[1] != beta {
			t.Errorf("rooms = %v, want [%s %s]", rooms, alpha, beta)
		}
	})
}

func TestOpenBadgerRequiresPath(t *testing.T) {
	if _, err := OpenBadger(BadgerOptions{}); err == nil {
		t.Error("OpenBadger without a path should fail")
	}
}

func TestBadgerReopen(t *testing.T) {
	dir := t.TempDir()
	room := ref.NewRoomID("dag", testServer)
	e := messageEvent("e1", room, 1)

	store, err := OpenBadger(BadgerOptions{Path: dir, Compression: CompressionLZ4})
	if err != nil {
		t.Fatalf("OpenBadger failed: %v", err)
	}
	if err := store.Persist(t.Context(), e); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}
	if err := store.SetForwardExtremities(t.Context(), room, []ref.EventID{e.EventID}); err != nil {
		t.Fatalf("SetForwardExtremities failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Everything must still be there through a read-only reopen.
	reopened, err := OpenBadger(BadgerOptions{Path: dir, ReadOnly: true})
	if err != nil {
		t.Fatalf("read-only OpenBadger failed: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Event(t.Context(), e.EventID)
	if err != nil {
		t.Fatalf("Event after reopen failed: %v", err)
	}
	if string(got.Content) != string(e.Content) {
		t.Errorf("content after reopen = %s, want %s", got.Content, e.Content)
	}

	frontier, err := reopened.ForwardExtremities(t.Context(), room)
	if err != nil {
		t.Fatalf("ForwardExtremities after reopen failed: %v", err)
	}
	if len(frontier) != 1 || frontier[0] != e.EventID {
		t.Errorf("frontier after reopen = %v, want [%s]", frontier, e.EventID)
	}

	rooms, err := reopened.Rooms(t.Context())
	if err != nil {
		t.Fatalf("Rooms after reopen failed: %v", err)
	}
	if len(rooms) != 1 || rooms[0] != room {
		t.Errorf("rooms after reopen = %v, want [%s]", rooms, room)
	}
}

func TestBadgerRawRecord(t *testing.T) {
	store, err := OpenBadger(BadgerOptions{Path: t.TempDir(), Compression: CompressionZstd})
	if err != nil {
		t.Fatalf("OpenBadger failed: %v", err)
	}
	defer store.Close()

	room := ref.NewRoomID("dag", testServer)
	e := messageEvent("e1", room, 1)
	if err := store.Persist(t.Context(), e); err != nil {
		t.Fatalf("Persist failed: %v", err)
	}

	raw, tag, err := store.RawRecord(t.Context(), e.EventID)
	if err != nil {
		t.Fatalf("RawRecord failed: %v", err)
	}
	// A small record may land uncompressed via the incompressible
	// fallback; the tag just has to be a real one.
	if _, err := ParseCompressionTag(tag.String()); err != nil {
		t.Errorf("RawRecord returned tag %d: %v", tag, err)
	}

	var record storedEvent
	if err := codec.Unmarshal(raw, &record); err != nil {
		t.Fatalf("raw record is not a stored event: %v", err)
	}
	if record.EventID != e.EventID {
		t.Errorf("raw record names event %s, want %s", record.EventID, e.EventID)
	}
	if len(record.Fingerprint) == 0 {
		t.Error("raw record carries no fingerprint")
	}

	_, _, err = store.RawRecord(t.Context(), ref.NewEventID("ghost", testServer))
	if !errors.Is(err, ErrEventNotFound) {
		t.Errorf("RawRecord on missing ID: err = %v, want ErrEventNotFound", err)
	}
}
