// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"encoding/json"
	"testing"
)

func TestParseEventID(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		// Valid: content-addressed localpart with origin server.
		{"$VGhpcyBpcyBhIHRlc3Q:loom.local", false},
		{"$abc123xyz:server.local", false},
		{"$hash:matrix.example.com:8448", false},
		// Invalid: no server suffix.
		{"$abc123xyz", true},
		// Invalid: empty.
		{"", true},
		// Invalid: wrong sigil.
		{"!abc123:server", true},
		{"@abc123:server", true},
		{"#abc123:server", true},
		{"abc123:server", true},
		// Invalid: only the prefix, or empty parts.
		{"$", true},
		{"$:server", true},
		{"$abc:", true},
	}

	for _, test := range tests {
		_, err := ParseEventID(test.input)
		if (err != nil) != test.wantErr {
			t.Errorf("ParseEventID(%q): err=%v, wantErr=%v", test.input, err, test.wantErr)
		}
	}
}

func TestEventIDParts(t *testing.T) {
	id := MustParseEventID("$hash123:loom.local")
	if got := id.Localpart(); got != "hash123" {
		t.Errorf("Localpart() = %q, want %q", got, "hash123")
	}
	if got := id.Server().String(); got != "loom.local" {
		t.Errorf("Server() = %q, want %q", got, "loom.local")
	}

	// Port-qualified server names split on the first colon only.
	ported := MustParseEventID("$hash123:example.com:8448")
	if got := ported.Server().String(); got != "example.com:8448" {
		t.Errorf("Server() = %q, want %q", got, "example.com:8448")
	}
}

func TestNewEventID(t *testing.T) {
	server := MustParseServerName("loom.local")
	id := NewEventID("derivedhash", server)
	if got := id.String(); got != "$derivedhash:loom.local" {
		t.Errorf("NewEventID = %q, want %q", got, "$derivedhash:loom.local")
	}

	// Constructed IDs parse back to themselves.
	parsed, err := ParseEventID(id.String())
	if err != nil {
		t.Fatalf("ParseEventID(%q): %v", id, err)
	}
	if parsed != id {
		t.Errorf("round-trip: got %q, want %q", parsed, id)
	}
}

func TestEventIDJSONRoundTrip(t *testing.T) {
	original := MustParseEventID("$abc123xyz:loom.local")

	type wrapper struct {
		EventID EventID `json:"event_id"`
	}
	data, err := json.Marshal(wrapper{EventID: original})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"event_id":"$abc123xyz:loom.local"}`
	if string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}

	var decoded wrapper
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.EventID != original {
		t.Errorf("round-trip: got %q, want %q", decoded.EventID, original)
	}
}

func TestEventIDZeroValue(t *testing.T) {
	var zero EventID
	if !zero.IsZero() {
		t.Error("zero value should be IsZero()")
	}
	if zero.String() != "" {
		t.Errorf("zero String() = %q, want empty", zero.String())
	}

	type wrapper struct {
		EventID EventID `json:"event_id"`
	}
	var decoded wrapper
	if err := json.Unmarshal([]byte(`{"event_id":""}`), &decoded); err != nil {
		t.Fatalf("Unmarshal empty: %v", err)
	}
	if !decoded.EventID.IsZero() {
		t.Error("empty string should unmarshal to zero value")
	}
}

func TestMustParseEventIDPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustParseEventID should panic on invalid input")
		}
	}()
	MustParseEventID("$missing-server")
}
