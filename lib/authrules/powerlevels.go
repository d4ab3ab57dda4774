// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authrules

import (
	"encoding/json"

	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/ref"
	"github.com/tidwall/gjson"
)

// CreatorLevel is the power level the room creator holds implicitly
// while the room has no m.room.power_levels event. The first
// power-levels event supersedes it.
const CreatorLevel = 100

// PowerLevels is the decoded power-level table for a room. Fields
// absent from the underlying event fall back to the hardcoded
// defaults; a room with no power-levels event at all uses the defaults
// wholesale, with the creator at CreatorLevel.
type PowerLevels struct {
	Ban           int64
	Kick          int64
	Redact        int64
	Invite        int64
	StateDefault  int64
	EventsDefault int64
	UsersDefault  int64
	Events        map[string]int64
	Users         map[ref.UserID]int64

	// creator holds the implicit-100 fallback; only consulted when the
	// table did not come from a power-levels event.
	creator   ref.UserID
	fromEvent bool
}

// DefaultPowerLevels returns the table used when a room has no
// m.room.power_levels event.
func DefaultPowerLevels() PowerLevels {
	return PowerLevels{
		Ban:           50,
		Kick:          50,
		Redact:        50,
		Invite:        0,
		StateDefault:  50,
		EventsDefault: 0,
		UsersDefault:  0,
		Events:        map[string]int64{},
		Users:         map[ref.UserID]int64{},
	}
}

// LevelsFromState extracts the effective power-level table from a
// state snapshot: the m.room.power_levels content when present,
// defaults otherwise, with the creator (from the create event) granted
// CreatorLevel in the default case.
func LevelsFromState(state State) PowerLevels {
	levels := DefaultPowerLevels()
	if pl, ok := state[event.SlotFor(event.TypePowerLevels)]; ok {
		levels = parsePowerLevels(pl.Content)
		levels.fromEvent = true
	}
	if create, ok := state.CreateEvent(); ok {
		levels.creator = creatorOf(create)
	}
	return levels
}

// UserLevel returns the user's effective power level.
func (p PowerLevels) UserLevel(user ref.UserID) int64 {
	if level, ok := p.Users[user]; ok {
		return level
	}
	if !p.fromEvent && !p.creator.IsZero() && user == p.creator {
		return CreatorLevel
	}
	return p.UsersDefault
}

// RequiredForEvent returns the power level a sender needs to emit an
// event of this type: the per-type override when one exists, otherwise
// state_default for state events and events_default for the rest.
// Membership events never consult this; the transition rules carry
// their own thresholds.
func (p PowerLevels) RequiredForEvent(e *event.Event) int64 {
	if level, ok := p.Events[e.Type]; ok {
		return level
	}
	if e.IsState() {
		return p.StateDefault
	}
	return p.EventsDefault
}

// parsePowerLevels decodes power-levels content. Fields that are
// absent or non-numeric keep their defaults; malformed user IDs in the
// users map are skipped. Content was validated as a JSON object at
// admission, so this never fails outright.
func parsePowerLevels(content json.RawMessage) PowerLevels {
	levels := DefaultPowerLevels()
	readLevel(content, "ban", &levels.Ban)
	readLevel(content, "kick", &levels.Kick)
	readLevel(content, "redact", &levels.Redact)
	readLevel(content, "invite", &levels.Invite)
	readLevel(content, "state_default", &levels.StateDefault)
	readLevel(content, "events_default", &levels.EventsDefault)
	readLevel(content, "users_default", &levels.UsersDefault)

	gjson.GetBytes(content, "events").ForEach(func(key, value gjson.Result) bool {
		levels.Events[key.String()] = value.Int()
		return true
	})
	gjson.GetBytes(content, "users").ForEach(func(key, value gjson.Result) bool {
		user, err := ref.ParseUserID(key.String())
		if err != nil {
			return true
		}
		levels.Users[user] = value.Int()
		return true
	})
	return levels
}

func readLevel(content json.RawMessage, path string, dst *int64) {
	if value := gjson.GetBytes(content, path); value.Exists() {
		*dst = value.Int()
	}
}

// creatorOf returns the room creator: the create event's content
// creator field when present and well-formed, the create sender
// otherwise.
func creatorOf(create *event.Event) ref.UserID {
	if field := gjson.GetBytes(create.Content, "creator"); field.Exists() {
		if user, err := ref.ParseUserID(field.Str); err == nil {
			return user
		}
	}
	return create.Sender
}
