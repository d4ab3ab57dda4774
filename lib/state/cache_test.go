// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"fmt"
	"testing"

	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/ref"
)

func testSnapshot(i int) ResolvedState {
	return ResolvedState{
		event.SlotFor(event.TypeCreate): ref.NewEventID(fmt.Sprintf("create-%d", i), testRoom.Server()),
	}
}

func TestCache_RoundTrip(t *testing.T) {
	cache := NewCache(4)
	key := FingerprintOf([]ref.EventID{ref.NewEventID("tip", testRoom.Server())})

	if _, ok := cache.Get(key); ok {
		t.Fatal("empty cache reported a hit")
	}
	cache.Put(key, testSnapshot(1))
	got, ok := cache.Get(key)
	if !ok {
		t.Fatal("cache missed a freshly stored snapshot")
	}
	if !got.Equal(testSnapshot(1)) {
		t.Fatalf("cached snapshot = %v, want %v", got, testSnapshot(1))
	}
}

func TestCache_CopiesBothWays(t *testing.T) {
	cache := NewCache(4)
	key := FingerprintOf([]ref.EventID{ref.NewEventID("tip", testRoom.Server())})

	stored := testSnapshot(1)
	cache.Put(key, stored)
	stored[event.SlotFor(event.TypeName)] = ref.NewEventID("later", testRoom.Server())

	got, _ := cache.Get(key)
	if _, ok := got[event.SlotFor(event.TypeName)]; ok {
		t.Fatal("mutating the stored map leaked into the cache")
	}

	got[event.SlotFor(event.TypeTopic)] = ref.NewEventID("topic", testRoom.Server())
	again, _ := cache.Get(key)
	if _, ok := again[event.SlotFor(event.TypeTopic)]; ok {
		t.Fatal("mutating a returned map leaked into the cache")
	}
}

func TestCache_EvictsOldestFirst(t *testing.T) {
	cache := NewCache(2)
	keys := make([]Fingerprint, 3)
	for i := range keys {
		keys[i] = FingerprintOf([]ref.EventID{ref.NewEventID(fmt.Sprintf("tip-%d", i), testRoom.Server())})
		cache.Put(keys[i], testSnapshot(i))
	}

	if _, ok := cache.Get(keys[0]); ok {
		t.Fatal("oldest entry survived eviction")
	}
	for _, key := range keys[1:] {
		if _, ok := cache.Get(key); !ok {
			t.Fatalf("entry %s evicted out of order", key)
		}
	}
	if got := cache.Len(); got != 2 {
		t.Fatalf("Len = %d, want 2", got)
	}
}

func TestFingerprintOf_OrderIndependent(t *testing.T) {
	a := ref.NewEventID("one", testRoom.Server())
	b := ref.NewEventID("two", testRoom.Server())
	c := ref.NewEventID("three", testRoom.Server())

	forward := FingerprintOf([]ref.EventID{a, b, c})
	shuffled := FingerprintOf([]ref.EventID{c, a, b})
	if forward != shuffled {
		t.Fatal("fingerprint depends on input order")
	}
	if forward == FingerprintOf([]ref.EventID{a, b}) {
		t.Fatal("distinct sets share a fingerprint")
	}
	if forward == FingerprintOf(nil) {
		t.Fatal("empty set shares a fingerprint with a populated one")
	}
}
