// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"maps"

	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/ref"
)

// ResolvedState maps each occupied state slot to its winning event ID.
// It is the unit the store snapshots per event and the resolver merges
// across forks.
type ResolvedState map[event.Slot]ref.EventID

// Clone returns an independent copy. A nil receiver clones to an empty
// non-nil map so callers can insert into the result.
func (s ResolvedState) Clone() ResolvedState {
	out := make(ResolvedState, len(s))
	maps.Copy(out, s)
	return out
}

// Equal reports whether both snapshots occupy the same slots with the
// same winners.
func (s ResolvedState) Equal(other ResolvedState) bool {
	return maps.Equal(s, other)
}

// IDs returns the winning event IDs in slot order. The order is
// deterministic so persisted snapshots and log lines are stable.
func (s ResolvedState) IDs() []ref.EventID {
	slots := event.SortedSlots(s)
	ids := make([]ref.EventID, 0, len(slots))
	for _, slot := range slots {
		ids = append(ids, s[slot])
	}
	return ids
}
