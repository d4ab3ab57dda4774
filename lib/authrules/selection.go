// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authrules

import (
	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/ref"
)

// AuthSelection returns the state slots a well-formed event must cite
// in auth_events: create, power levels, and the sender's membership,
// plus join rules and the target's membership for member events. The
// create event itself cites nothing. Slots unoccupied in the room's
// current state are simply skipped by the builder; selection names
// what to look up, not what must exist.
func AuthSelection(e *event.Event) []event.Slot {
	if e.IsCreate() {
		return nil
	}
	slots := []event.Slot{
		event.SlotFor(event.TypeCreate),
		event.SlotFor(event.TypePowerLevels),
		event.MemberSlot(e.Sender),
	}
	if e.Type == event.TypeMember && e.StateKey != nil {
		slots = append(slots, event.SlotFor(event.TypeJoinRules))
		if target, err := ref.ParseUserID(*e.StateKey); err == nil && target != e.Sender {
			slots = append(slots, event.MemberSlot(target))
		}
	}
	return slots
}
