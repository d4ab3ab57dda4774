// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// EventID is a validated Matrix event ID (e.g., "$h29fak3...:loom.local").
//
// Event IDs are content-addressed: the localpart is the hash of the
// event's canonical serialization and the server name is the sender's
// origin server. The format this server produces and accepts is
// "$localpart:server"; the localpart itself is opaque (lib/event owns
// the derivation).
//
// EventID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type EventID struct {
	id string
}

// ParseEventID validates and wraps a raw Matrix event ID string.
// Returns an error if the string does not start with '$', has an empty
// localpart, or is missing the ':server' suffix.
func ParseEventID(raw string) (EventID, error) {
	if _, _, err := parseSigilID(raw, '$', "event ID"); err != nil {
		return EventID{}, err
	}
	return EventID{id: raw}, nil
}

// MustParseEventID is like ParseEventID but panics on error. Use in
// tests and static initialization where the input is known-valid.
func MustParseEventID(raw string) EventID {
	e, err := ParseEventID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseEventID(%q): %v", raw, err))
	}
	return e
}

// NewEventID assembles an event ID from a derived localpart and the
// origin server name. Callers are expected to pass a hash-derived
// localpart; no validation is applied beyond non-emptiness.
func NewEventID(localpart string, server ServerName) EventID {
	if localpart == "" || server.IsZero() {
		panic("ref.NewEventID: empty localpart or server")
	}
	return EventID{id: "$" + localpart + ":" + server.name}
}

// String returns the full event ID string.
func (e EventID) String() string { return e.id }

// IsZero reports whether the EventID is the zero value (uninitialized).
func (e EventID) IsZero() bool { return e.id == "" }

// Localpart returns the hash portion of the event ID (between the '$'
// sigil and the ':server' suffix). Panics on a zero value.
func (e EventID) Localpart() string {
	localpart, _, err := parseSigilID(e.id, '$', "event ID")
	if err != nil {
		panic(fmt.Sprintf("EventID.Localpart on invalid value %q: %v", e.id, err))
	}
	return localpart
}

// Server returns the origin server portion of the event ID. Panics on a
// zero value.
func (e EventID) Server() ServerName {
	_, server, err := parseSigilID(e.id, '$', "event ID")
	if err != nil {
		panic(fmt.Sprintf("EventID.Server on invalid value %q: %v", e.id, err))
	}
	return newServerName(server)
}

// MarshalText implements encoding.TextMarshaler for JSON and other
// text-based serialization formats.
func (e EventID) MarshalText() ([]byte, error) {
	if e.id == "" {
		return []byte{}, nil
	}
	return []byte(e.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for JSON and other
// text-based serialization formats. Validates the event ID format.
// An empty input produces the zero value (unset event ID).
func (e *EventID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*e = EventID{}
		return nil
	}
	parsed, err := ParseEventID(string(data))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
