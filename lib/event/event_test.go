// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/loom/lib/ref"
)

var (
	testRoom   = ref.MustParseRoomID("!meadow:loom.test")
	testAlice  = ref.MustParseUserID("@alice:loom.test")
	testParent = ref.MustParseEventID("$parent0:loom.test")
	testAuth   = ref.MustParseEventID("$auth0:loom.test")
)

func stateKey(s string) *string { return &s }

// validMessage returns a structurally valid non-state event with a
// placeholder ID. Tests mutate single fields from this baseline.
func validMessage() *Event {
	return &Event{
		EventID:        ref.MustParseEventID("$self:loom.test"),
		RoomID:         testRoom,
		Sender:         testAlice,
		Type:           TypeMessage,
		Content:        json.RawMessage(`{"body":"hello"}`),
		PrevEvents:     []ref.EventID{testParent},
		AuthEvents:     []ref.EventID{testAuth},
		Depth:          2,
		OriginServerTS: 1700000000000,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr string // substring of the error, empty for valid
	}{
		{
			name:   "valid message",
			mutate: func(e *Event) {},
		},
		{
			name: "valid state event",
			mutate: func(e *Event) {
				e.Type = TypeTopic
				e.StateKey = stateKey("")
			},
		},
		{
			name: "valid create",
			mutate: func(e *Event) {
				e.Type = TypeCreate
				e.StateKey = stateKey("")
				e.PrevEvents = nil
				e.AuthEvents = nil
				e.Depth = 1
			},
		},
		{
			name:    "missing room",
			mutate:  func(e *Event) { e.RoomID = ref.RoomID{} },
			wantErr: "no room_id",
		},
		{
			name:    "missing sender",
			mutate:  func(e *Event) { e.Sender = ref.UserID{} },
			wantErr: "no sender",
		},
		{
			name:    "missing type",
			mutate:  func(e *Event) { e.Type = "" },
			wantErr: "no type",
		},
		{
			name:    "oversized type",
			mutate:  func(e *Event) { e.Type = strings.Repeat("x", 300) },
			wantErr: "limit 255",
		},
		{
			name:    "content not an object",
			mutate:  func(e *Event) { e.Content = json.RawMessage(`[1,2]`) },
			wantErr: "not a JSON object",
		},
		{
			name:    "content invalid JSON",
			mutate:  func(e *Event) { e.Content = json.RawMessage(`{"a":`) },
			wantErr: "not a JSON object",
		},
		{
			name:    "zero depth",
			mutate:  func(e *Event) { e.Depth = 0 },
			wantErr: "must be at least 1",
		},
		{
			name:    "depth beyond canonical range",
			mutate:  func(e *Event) { e.Depth = 1 << 60 },
			wantErr: "canonical integer range",
		},
		{
			name:    "negative timestamp",
			mutate:  func(e *Event) { e.OriginServerTS = -5 },
			wantErr: "is negative",
		},
		{
			name:    "no prev_events",
			mutate:  func(e *Event) { e.PrevEvents = nil },
			wantErr: "no prev_events",
		},
		{
			name:    "no auth_events",
			mutate:  func(e *Event) { e.AuthEvents = nil },
			wantErr: "no auth_events",
		},
		{
			name: "duplicate prev_events",
			mutate: func(e *Event) {
				e.PrevEvents = []ref.EventID{testParent, testParent}
			},
			wantErr: "twice",
		},
		{
			name: "self-referencing prev_events",
			mutate: func(e *Event) {
				e.PrevEvents = []ref.EventID{e.EventID}
			},
			wantErr: "references the event itself",
		},
		{
			name: "empty ID in auth_events",
			mutate: func(e *Event) {
				e.AuthEvents = []ref.EventID{{}}
			},
			wantErr: "auth_events[0] is empty",
		},
		{
			name: "create with prev_events",
			mutate: func(e *Event) {
				e.Type = TypeCreate
				e.StateKey = stateKey("")
				e.AuthEvents = nil
			},
			wantErr: "must have no prev_events",
		},
		{
			name: "create with non-empty state_key",
			mutate: func(e *Event) {
				e.Type = TypeCreate
				e.StateKey = stateKey("oops")
				e.PrevEvents = nil
				e.AuthEvents = nil
			},
			wantErr: "empty state_key",
		},
		{
			name: "member without state_key",
			mutate: func(e *Event) {
				e.Type = TypeMember
			},
			wantErr: "must have a state_key",
		},
		{
			name: "member with invalid target",
			mutate: func(e *Event) {
				e.Type = TypeMember
				e.StateKey = stateKey("not-a-user")
			},
			wantErr: "state_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validMessage()
			tt.mutate(e)
			err := e.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestCanonicalJSONGolden(t *testing.T) {
	e := &Event{
		RoomID:         testRoom,
		Sender:         testAlice,
		Type:           TypeTopic,
		StateKey:       stateKey(""),
		Content:        json.RawMessage(`{"topic":"hi","bee":1}`),
		PrevEvents:     []ref.EventID{testParent},
		AuthEvents:     []ref.EventID{testAuth},
		Depth:          4,
		OriginServerTS: 1700000000000,
	}
	got, err := CanonicalJSON(e)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}
	want := `{"auth_events":["$auth0:loom.test"],"content":{"bee":1,"topic":"hi"},"depth":4,` +
		`"origin_server_ts":1700000000000,"prev_events":["$parent0:loom.test"],` +
		`"room_id":"!meadow:loom.test","sender":"@alice:loom.test","state_key":"","type":"m.room.topic"}`
	if string(got) != want {
		t.Errorf("canonical form mismatch:\ngot  %s\nwant %s", got, want)
	}
}

func TestCanonicalJSONExcludesProofFields(t *testing.T) {
	e := validMessage()
	bare, err := CanonicalJSON(e)
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}

	e.Hashes = json.RawMessage(`{"sha256":"abc"}`)
	e.Signatures = json.RawMessage(`{"loom.test":{"ed25519:0":"sig"}}`)
	e.Unsigned = json.RawMessage(`{"age":12}`)
	decorated, err := CanonicalJSON(e)
	if err != nil {
		t.Fatalf("CanonicalJSON with proof fields: %v", err)
	}
	if string(bare) != string(decorated) {
		t.Errorf("proof fields changed the canonical form:\nbare      %s\ndecorated %s", bare, decorated)
	}
}

func TestCanonicalJSONNormalizesEmptyLinks(t *testing.T) {
	withNil := &Event{
		RoomID:   testRoom,
		Sender:   testAlice,
		Type:     TypeCreate,
		StateKey: stateKey(""),
		Content:  json.RawMessage(`{}`),
		Depth:    1,
	}
	withEmpty := &Event{
		RoomID:     testRoom,
		Sender:     testAlice,
		Type:       TypeCreate,
		StateKey:   stateKey(""),
		Content:    json.RawMessage(`{}`),
		PrevEvents: []ref.EventID{},
		AuthEvents: []ref.EventID{},
		Depth:      1,
	}
	a, err := CanonicalJSON(withNil)
	if err != nil {
		t.Fatalf("CanonicalJSON(nil links): %v", err)
	}
	b, err := CanonicalJSON(withEmpty)
	if err != nil {
		t.Fatalf("CanonicalJSON(empty links): %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("nil and empty link slices canonicalize differently:\n%s\n%s", a, b)
	}
	if !strings.Contains(string(a), `"prev_events":[]`) {
		t.Errorf("canonical form missing empty prev_events array: %s", a)
	}
}

func TestCanonicalJSONSizeLimit(t *testing.T) {
	e := validMessage()
	e.Content = json.RawMessage(`{"pad":"` + strings.Repeat("x", MaxCanonicalBytes) + `"}`)
	if _, err := CanonicalJSON(e); err == nil {
		t.Fatal("CanonicalJSON accepted an oversized event")
	}
}

func TestDeriveEventIDStable(t *testing.T) {
	build := func() *Event {
		e := validMessage()
		e.EventID = ref.EventID{}
		return e
	}

	first, err := DeriveEventID(build())
	if err != nil {
		t.Fatalf("DeriveEventID: %v", err)
	}
	second, err := DeriveEventID(build())
	if err != nil {
		t.Fatalf("DeriveEventID: %v", err)
	}
	if first != second {
		t.Errorf("identical content derived different IDs: %s vs %s", first, second)
	}
	if got, want := first.Server().String(), "loom.test"; got != want {
		t.Errorf("derived ID server = %q, want %q", got, want)
	}

	changed := build()
	changed.Content = json.RawMessage(`{"body":"HELLO"}`)
	third, err := DeriveEventID(changed)
	if err != nil {
		t.Fatalf("DeriveEventID: %v", err)
	}
	if third == first {
		t.Error("different content derived the same ID")
	}
}

func TestVerifyEventID(t *testing.T) {
	e := validMessage()
	id, err := DeriveEventID(e)
	if err != nil {
		t.Fatalf("DeriveEventID: %v", err)
	}
	e.EventID = id
	if err := VerifyEventID(e); err != nil {
		t.Fatalf("VerifyEventID on untampered event: %v", err)
	}

	e.Content = json.RawMessage(`{"body":"tampered"}`)
	if err := VerifyEventID(e); err == nil {
		t.Fatal("VerifyEventID accepted tampered content")
	}

	e.EventID = ref.EventID{}
	if err := VerifyEventID(e); err == nil {
		t.Fatal("VerifyEventID accepted an event without an ID")
	}
}

func TestHashesJSON(t *testing.T) {
	raw, err := HashesJSON(validMessage())
	if err != nil {
		t.Fatalf("HashesJSON: %v", err)
	}
	var obj map[string]string
	if err := json.Unmarshal(raw, &obj); err != nil {
		t.Fatalf("unmarshal hashes: %v", err)
	}
	if obj["sha256"] == "" {
		t.Errorf("hashes object missing sha256: %s", raw)
	}
	if strings.ContainsAny(obj["sha256"], "=") {
		t.Errorf("sha256 hash %q is padded, want unpadded base64", obj["sha256"])
	}
}

func TestRecordFingerprint(t *testing.T) {
	a, err := RecordFingerprint(validMessage())
	if err != nil {
		t.Fatalf("RecordFingerprint: %v", err)
	}
	b, err := RecordFingerprint(validMessage())
	if err != nil {
		t.Fatalf("RecordFingerprint: %v", err)
	}
	if a != b {
		t.Error("identical events produced different fingerprints")
	}

	changed := validMessage()
	changed.Content = json.RawMessage(`{"body":"other"}`)
	c, err := RecordFingerprint(changed)
	if err != nil {
		t.Fatalf("RecordFingerprint: %v", err)
	}
	if c == a {
		t.Error("different content produced the same fingerprint")
	}

	parsed, err := ParseFingerprint(FormatFingerprint(a))
	if err != nil {
		t.Fatalf("ParseFingerprint: %v", err)
	}
	if parsed != a {
		t.Error("fingerprint did not round-trip through hex")
	}
	if _, err := ParseFingerprint("abcd"); err == nil {
		t.Error("ParseFingerprint accepted a short input")
	}
}

func TestBuilder(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	create, err := Builder{
		RoomID:   testRoom,
		Sender:   testAlice,
		Type:     TypeCreate,
		StateKey: stateKey(""),
		Content:  map[string]any{"creator": testAlice.String()},
	}.Build(now, nil, nil)
	if err != nil {
		t.Fatalf("build create: %v", err)
	}
	if create.Depth != 1 {
		t.Errorf("create depth = %d, want 1", create.Depth)
	}
	if create.OriginServerTS != 1700000000000 {
		t.Errorf("create origin_server_ts = %d, want 1700000000000", create.OriginServerTS)
	}
	if err := VerifyEventID(create); err != nil {
		t.Errorf("built create fails ID verification: %v", err)
	}
	if len(create.Hashes) == 0 {
		t.Error("built create has no hashes")
	}

	deepParent := &Event{EventID: ref.MustParseEventID("$deep:loom.test"), Depth: 7}
	shallowParent := &Event{EventID: ref.MustParseEventID("$shallow:loom.test"), Depth: 3}
	msg, err := Builder{
		RoomID:  testRoom,
		Sender:  testAlice,
		Type:    TypeMessage,
		Content: map[string]any{"body": "hello"},
	}.Build(now, []*Event{shallowParent, deepParent}, []ref.EventID{create.EventID})
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if msg.Depth != 8 {
		t.Errorf("message depth = %d, want 8 (one past the deepest parent)", msg.Depth)
	}
	if len(msg.PrevEvents) != 2 {
		t.Fatalf("message has %d prev_events, want 2", len(msg.PrevEvents))
	}
	if msg.PrevEvents[0].String() > msg.PrevEvents[1].String() {
		t.Errorf("prev_events not sorted: %v", msg.PrevEvents)
	}
	if msg.IsState() {
		t.Error("message event reports IsState")
	}
}

func TestBuilderRejectsInvalid(t *testing.T) {
	_, err := Builder{
		RoomID:  testRoom,
		Sender:  testAlice,
		Type:    TypeMessage,
		Content: map[string]any{"body": "orphan"},
	}.Build(time.UnixMilli(1), nil, nil)
	if err == nil {
		t.Fatal("Build accepted a non-create event with no parents")
	}
}

func TestSlots(t *testing.T) {
	e := validMessage()
	if _, ok := e.Slot(); ok {
		t.Error("non-state event reported a slot")
	}

	e.Type = TypeMember
	e.StateKey = stateKey(testAlice.String())
	slot, ok := e.Slot()
	if !ok {
		t.Fatal("state event reported no slot")
	}
	if want := MemberSlot(testAlice); slot != want {
		t.Errorf("slot = %v, want %v", slot, want)
	}
	if got, want := slot.String(), "m.room.member/@alice:loom.test"; got != want {
		t.Errorf("slot string = %q, want %q", got, want)
	}

	state := map[Slot]int{
		MemberSlot(testAlice):    1,
		SlotFor(TypeCreate):      2,
		SlotFor(TypeJoinRules):   3,
		SlotFor(TypePowerLevels): 4,
	}
	sorted := SortedSlots(state)
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Compare(sorted[i]) >= 0 {
			t.Errorf("SortedSlots out of order at %d: %v then %v", i, sorted[i-1], sorted[i])
		}
	}
}

func TestIsCreate(t *testing.T) {
	e := &Event{Type: TypeCreate, StateKey: stateKey("")}
	if !e.IsCreate() {
		t.Error("create event not recognized")
	}
	e.StateKey = stateKey("x")
	if e.IsCreate() {
		t.Error("create type with non-empty state_key recognized as create")
	}
	e.StateKey = nil
	if e.IsCreate() {
		t.Error("create type without state_key recognized as create")
	}
}
