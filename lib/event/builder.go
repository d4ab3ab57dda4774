// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/bureau-foundation/loom/lib/ref"
)

// Builder assembles a locally originated event on top of a room's
// current forward extremities. The graph fills in the DAG links and
// the auth selection; the builder derives depth, timestamp, hashes,
// and the content-addressed event ID.
type Builder struct {
	RoomID   ref.RoomID
	Sender   ref.UserID
	Type     string
	StateKey *string
	Content  any
}

// Build produces a complete, validated event. Parents are the room's
// forward extremities at send time (empty only for the create event);
// authEvents is the auth selection computed against current state.
// Depth is one past the deepest parent. The returned event carries its
// derived ID and wire hashes and passes Validate and VerifyEventID.
func (b Builder) Build(now time.Time, parents []*Event, authEvents []ref.EventID) (*Event, error) {
	content, err := marshalContent(b.Content)
	if err != nil {
		return nil, err
	}

	prev := make([]ref.EventID, 0, len(parents))
	depth := int64(0)
	for _, parent := range parents {
		if parent.EventID.IsZero() {
			return nil, fmt.Errorf("build %s event: parent has no event_id", b.Type)
		}
		prev = append(prev, parent.EventID)
		depth = max(depth, parent.Depth)
	}
	slices.SortFunc(prev, func(a, b ref.EventID) int { return strings.Compare(a.String(), b.String()) })

	e := &Event{
		RoomID:         b.RoomID,
		Sender:         b.Sender,
		Type:           b.Type,
		StateKey:       b.StateKey,
		Content:        content,
		PrevEvents:     prev,
		AuthEvents:     slices.Clone(authEvents),
		Depth:          depth + 1,
		OriginServerTS: now.UnixMilli(),
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("build %s event: %w", b.Type, err)
	}

	e.EventID, err = DeriveEventID(e)
	if err != nil {
		return nil, fmt.Errorf("build %s event: %w", b.Type, err)
	}
	e.Hashes, err = HashesJSON(e)
	if err != nil {
		return nil, fmt.Errorf("build %s event: %w", b.Type, err)
	}
	return e, nil
}

// marshalContent accepts either pre-encoded JSON (json.RawMessage or
// []byte) or any marshalable value, and normalizes nil to the empty
// object.
func marshalContent(content any) (json.RawMessage, error) {
	switch c := content.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		return c, nil
	case []byte:
		return json.RawMessage(c), nil
	default:
		raw, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("marshal event content: %w", err)
		}
		return raw, nil
	}
}
