// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import "fmt"

// RoomID is a validated Matrix room ID (e.g., "!abc123:loom.local").
//
// Room IDs are opaque identifiers minted at room creation: a random
// localpart plus the creating server's name. Loom parses them into this
// type at every boundary (wire JSON, URL path segments, store keys) and
// never constructs them by string concatenation outside this package.
//
// RoomID is an immutable value type. The zero value is not valid;
// use IsZero to check.
type RoomID struct {
	id string
}

// ParseRoomID validates and wraps a raw Matrix room ID string.
// Returns an error if the string does not start with '!', has an empty
// localpart, or is missing the ':server' suffix.
func ParseRoomID(raw string) (RoomID, error) {
	if _, _, err := parseSigilID(raw, '!', "room ID"); err != nil {
		return RoomID{}, err
	}
	return RoomID{id: raw}, nil
}

// MustParseRoomID is like ParseRoomID but panics on error. Use in tests
// and static initialization where the input is known-valid.
func MustParseRoomID(raw string) RoomID {
	r, err := ParseRoomID(raw)
	if err != nil {
		panic(fmt.Sprintf("ref.MustParseRoomID(%q): %v", raw, err))
	}
	return r
}

// NewRoomID assembles a room ID from a freshly generated localpart and
// the creating server's name. Used by the room creation path; no
// validation is applied beyond non-emptiness.
func NewRoomID(localpart string, server ServerName) RoomID {
	if localpart == "" || server.IsZero() {
		panic("ref.NewRoomID: empty localpart or server")
	}
	return RoomID{id: "!" + localpart + ":" + server.name}
}

// String returns the full room ID string.
func (r RoomID) String() string { return r.id }

// IsZero reports whether the RoomID is the zero value (uninitialized).
func (r RoomID) IsZero() bool { return r.id == "" }

// Server returns the server portion of the room ID. Panics on a zero
// value.
func (r RoomID) Server() ServerName {
	_, server, err := parseSigilID(r.id, '!', "room ID")
	if err != nil {
		panic(fmt.Sprintf("RoomID.Server on invalid value %q: %v", r.id, err))
	}
	return newServerName(server)
}

// MarshalText implements encoding.TextMarshaler for JSON and other
// text-based serialization formats.
func (r RoomID) MarshalText() ([]byte, error) {
	if r.id == "" {
		return []byte{}, nil
	}
	return []byte(r.id), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for JSON and other
// text-based serialization formats. Validates the room ID format.
// An empty input produces the zero value (unset room ID).
func (r *RoomID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*r = RoomID{}
		return nil
	}
	parsed, err := ParseRoomID(string(data))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
