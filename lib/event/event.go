// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/bureau-foundation/loom/lib/ref"
)

// Well-known event types interpreted by the auth rule engine. Every
// other type flows through the graph as opaque content.
const (
	TypeCreate      = "m.room.create"
	TypeMember      = "m.room.member"
	TypePowerLevels = "m.room.power_levels"
	TypeJoinRules   = "m.room.join_rules"
	TypeName        = "m.room.name"
	TypeTopic       = "m.room.topic"
	TypeMessage     = "m.room.message"
	TypeRedaction   = "m.room.redaction"
)

// Event is a room event as exchanged between servers and persisted in
// the store. Header fields are fixed; Content is opaque JSON. Hashes,
// Signatures, and Unsigned are carried verbatim and excluded from the
// canonical serialization: Unsigned is mutable metadata, and the other
// two are proofs over the canonical bytes rather than part of them.
type Event struct {
	EventID        ref.EventID     `json:"event_id,omitempty"`
	RoomID         ref.RoomID      `json:"room_id"`
	Sender         ref.UserID      `json:"sender"`
	Type           string          `json:"type"`
	StateKey       *string         `json:"state_key,omitempty"`
	Content        json.RawMessage `json:"content"`
	PrevEvents     []ref.EventID   `json:"prev_events"`
	AuthEvents     []ref.EventID   `json:"auth_events"`
	Depth          int64           `json:"depth"`
	OriginServerTS int64           `json:"origin_server_ts"`
	Hashes         json.RawMessage `json:"hashes,omitempty"`
	Signatures     json.RawMessage `json:"signatures,omitempty"`
	Unsigned       json.RawMessage `json:"unsigned,omitempty"`
}

// IsState reports whether the event occupies a state slot. Presence of
// the state_key field is the sole discriminator; an empty string is a
// valid state key.
func (e *Event) IsState() bool {
	return e.StateKey != nil
}

// IsCreate reports whether the event is a room creation event: type
// m.room.create with an empty state key.
func (e *Event) IsCreate() bool {
	return e.Type == TypeCreate && e.StateKey != nil && *e.StateKey == ""
}

// Slot returns the state slot the event occupies. ok is false for
// non-state events, which never occupy a slot.
func (e *Event) Slot() (Slot, bool) {
	if e.StateKey == nil {
		return Slot{}, false
	}
	return Slot{Type: e.Type, StateKey: *e.StateKey}, true
}

// HasParent reports whether id appears in the event's prev_events.
func (e *Event) HasParent(id ref.EventID) bool {
	return slices.Contains(e.PrevEvents, id)
}

// Slot identifies a state slot: an (event type, state key) pair. Each
// slot holds at most one event in any resolved state. The zero Slot is
// not a valid slot.
type Slot struct {
	Type     string
	StateKey string
}

// SlotFor builds the slot for a well-known singleton state type whose
// state key is always empty (create, power levels, join rules, name,
// topic).
func SlotFor(eventType string) Slot {
	return Slot{Type: eventType}
}

// MemberSlot builds the membership slot for the given user.
func MemberSlot(user ref.UserID) Slot {
	return Slot{Type: TypeMember, StateKey: user.String()}
}

// String renders the slot for logs and error messages.
func (s Slot) String() string {
	if s.StateKey == "" {
		return s.Type
	}
	return s.Type + "/" + s.StateKey
}

// Compare orders slots by type, then by state key. Used to produce
// deterministic iteration order over state maps.
func (s Slot) Compare(other Slot) int {
	if c := strings.Compare(s.Type, other.Type); c != 0 {
		return c
	}
	return strings.Compare(s.StateKey, other.StateKey)
}

// SortedSlots returns the keys of a state map in Compare order.
func SortedSlots[V any](state map[Slot]V) []Slot {
	slots := make([]Slot, 0, len(state))
	for slot := range state {
		slots = append(slots, slot)
	}
	slices.SortFunc(slots, Slot.Compare)
	return slots
}
