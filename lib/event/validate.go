// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bureau-foundation/loom/lib/ref"
)

const (
	// maxIdentifierBytes bounds the type and state_key fields.
	maxIdentifierBytes = 255

	// maxPrevEvents and maxAuthEvents bound the DAG link lists. A
	// server never needs more than a handful of forward extremities
	// as parents, and the auth selection for any event type is at
	// most five slots.
	maxPrevEvents = 20
	maxAuthEvents = 10

	// maxCanonicalInt is the largest integer the canonical form
	// represents exactly (RFC 8785 serializes numbers as IEEE 754
	// doubles). Depth and timestamps beyond it would silently lose
	// precision during canonicalization.
	maxCanonicalInt = 1<<53 - 1
)

// Validate checks the structural well-formedness of the event: field
// presence, identifier formats, DAG link arity, and numeric ranges. It
// does not touch the event ID (VerifyEventID covers that) and does not
// consult room state; auth decisions happen later, in the rule engine.
// All problems are reported, joined into a single error.
func (e *Event) Validate() error {
	var problems []error
	report := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if e.RoomID.IsZero() {
		report("event has no room_id")
	}
	if e.Sender.IsZero() {
		report("event has no sender")
	}
	if e.Type == "" {
		report("event has no type")
	} else if len(e.Type) > maxIdentifierBytes {
		report("event type is %d bytes, limit %d", len(e.Type), maxIdentifierBytes)
	}
	if e.StateKey != nil && len(*e.StateKey) > maxIdentifierBytes {
		report("state_key is %d bytes, limit %d", len(*e.StateKey), maxIdentifierBytes)
	}

	if len(e.Content) > 0 && !isJSONObject(e.Content) {
		report("event content is not a JSON object")
	}

	if e.Depth < 1 {
		report("event depth %d, must be at least 1", e.Depth)
	} else if e.Depth > maxCanonicalInt {
		report("event depth %d exceeds the canonical integer range", e.Depth)
	}
	if e.OriginServerTS < 0 {
		report("origin_server_ts %d is negative", e.OriginServerTS)
	} else if e.OriginServerTS > maxCanonicalInt {
		report("origin_server_ts %d exceeds the canonical integer range", e.OriginServerTS)
	}

	if e.Type == TypeCreate {
		if e.StateKey == nil || *e.StateKey != "" {
			report("m.room.create must have an empty state_key")
		}
		if len(e.PrevEvents) != 0 {
			report("m.room.create must have no prev_events, got %d", len(e.PrevEvents))
		}
		if len(e.AuthEvents) != 0 {
			report("m.room.create must have no auth_events, got %d", len(e.AuthEvents))
		}
	} else {
		if len(e.PrevEvents) == 0 {
			report("event has no prev_events")
		}
		if len(e.AuthEvents) == 0 {
			report("event has no auth_events")
		}
	}
	if len(e.PrevEvents) > maxPrevEvents {
		report("event has %d prev_events, limit %d", len(e.PrevEvents), maxPrevEvents)
	}
	if len(e.AuthEvents) > maxAuthEvents {
		report("event has %d auth_events, limit %d", len(e.AuthEvents), maxAuthEvents)
	}
	problems = append(problems, checkLinkList("prev_events", e.PrevEvents, e.EventID)...)
	problems = append(problems, checkLinkList("auth_events", e.AuthEvents, e.EventID)...)

	if e.Type == TypeMember {
		if e.StateKey == nil {
			report("m.room.member must have a state_key")
		} else if _, err := ref.ParseUserID(*e.StateKey); err != nil {
			report("m.room.member state_key: %v", err)
		}
	}

	return errors.Join(problems...)
}

// checkLinkList rejects zero IDs, duplicates, and self-references in a
// DAG link list.
func checkLinkList(field string, links []ref.EventID, self ref.EventID) []error {
	var problems []error
	seen := make(map[ref.EventID]struct{}, len(links))
	for i, id := range links {
		if id.IsZero() {
			problems = append(problems, fmt.Errorf("%s[%d] is empty", field, i))
			continue
		}
		if _, dup := seen[id]; dup {
			problems = append(problems, fmt.Errorf("%s contains %s twice", field, id))
		}
		seen[id] = struct{}{}
		if !self.IsZero() && id == self {
			problems = append(problems, fmt.Errorf("%s references the event itself", field))
		}
	}
	return problems
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(raw)
}
