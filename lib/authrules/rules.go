// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authrules

import (
	"slices"

	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/ref"
	"github.com/tidwall/gjson"
)

// Authorize evaluates an event against a state snapshot and reports
// whether the rules admit it. The checks run in a fixed order and the
// first failure wins:
//
//  1. create-event handling (self-authorizing, or required in state)
//  2. sender membership (join), except for membership events
//  3. power level for the event's type, plus the mutation constraint
//     on m.room.power_levels itself
//  4. the membership transition table for m.room.member
//
// m.room.redaction passes once checks 1–3 pass; whether the sender may
// redact the specific target event is the caller's concern.
func Authorize(e *event.Event, state State) Result {
	if e.IsCreate() {
		return authorizeCreate(e, state)
	}

	if _, ok := state.CreateEvent(); !ok {
		return denyf(CodeMissingCreateEvent, "room %s has no create event in state", e.RoomID)
	}

	levels := LevelsFromState(state)
	if e.Type == event.TypeMember {
		return authorizeMember(e, state, levels)
	}

	if membership := state.Membership(e.Sender); membership != MembershipJoin {
		return denyf(CodeSenderNotJoined, "sender %s has membership %q, needs join", e.Sender, membership)
	}

	required := levels.RequiredForEvent(e)
	senderLevel := levels.UserLevel(e.Sender)
	if senderLevel < required {
		return denyf(CodeInsufficientPower, "%s requires power %d, sender %s has %d",
			e.Type, required, e.Sender, senderLevel)
	}

	if e.Type == event.TypePowerLevels && e.IsState() {
		return checkPowerLevelMutation(e, levels, senderLevel)
	}
	return allow()
}

// authorizeCreate applies the self-authorization rules for
// m.room.create: no parents, room domain matching the sender domain,
// and no prior create event in state.
func authorizeCreate(e *event.Event, state State) Result {
	if _, ok := state.CreateEvent(); ok {
		return denyf(CodeBadCreateEvent, "room %s already has a create event", e.RoomID)
	}
	if len(e.PrevEvents) != 0 {
		return denyf(CodeBadCreateEvent, "create event cites %d prev_events, must cite none", len(e.PrevEvents))
	}
	if e.RoomID.Server() != e.Sender.Server() {
		return denyf(CodeBadCreateEvent, "room domain %s does not match sender domain %s",
			e.RoomID.Server(), e.Sender.Server())
	}
	return allow()
}

// authorizeMember applies the membership transition table. The target
// is the user named by the state key; the sender is whoever emitted
// the event. Thresholds come from the effective power-level table.
func authorizeMember(e *event.Event, state State, levels PowerLevels) Result {
	if e.StateKey == nil {
		return denyf(CodeMalformedContent, "member event has no state_key")
	}
	target, err := ref.ParseUserID(*e.StateKey)
	if err != nil {
		return denyf(CodeMalformedContent, "member state_key: %v", err)
	}

	next := gjson.GetBytes(e.Content, "membership").Str
	senderMembership := state.Membership(e.Sender)
	targetMembership := state.Membership(target)
	senderLevel := levels.UserLevel(e.Sender)
	targetLevel := levels.UserLevel(target)

	switch next {
	case MembershipJoin:
		if e.Sender != target {
			return denyf(CodeMembershipForbidden, "join for %s sent by %s; users join only themselves", target, e.Sender)
		}
		if targetMembership == MembershipBan {
			return denyf(CodeMembershipForbidden, "%s is banned from %s", target, e.RoomID)
		}
		if isCreatorFirstJoin(e, state, target) {
			return allow()
		}
		switch rule := state.JoinRule(); rule {
		case JoinRulePublic:
			return allow()
		case JoinRuleInvite, JoinRuleKnock:
			if targetMembership == MembershipJoin || targetMembership == MembershipInvite {
				return allow()
			}
			return denyf(CodeMembershipForbidden, "%s cannot join %s under join rule %q without an invite",
				target, e.RoomID, rule)
		default:
			return denyf(CodeMembershipForbidden, "join rule %q admits nobody", rule)
		}

	case MembershipInvite:
		if senderMembership != MembershipJoin {
			return denyf(CodeSenderNotJoined, "inviter %s has membership %q, needs join", e.Sender, senderMembership)
		}
		if targetMembership == MembershipBan {
			return denyf(CodeMembershipForbidden, "%s is banned and cannot be invited", target)
		}
		if targetMembership == MembershipJoin {
			return denyf(CodeMembershipForbidden, "%s is already joined", target)
		}
		if senderLevel < levels.Invite {
			return denyf(CodeInsufficientPower, "invite requires power %d, sender %s has %d",
				levels.Invite, e.Sender, senderLevel)
		}
		return allow()

	case MembershipLeave:
		if e.Sender == target {
			switch targetMembership {
			case MembershipJoin, MembershipInvite, MembershipKnock:
				return allow()
			}
			return denyf(CodeMembershipForbidden, "%s cannot leave with membership %q", target, targetMembership)
		}
		if senderMembership != MembershipJoin {
			return denyf(CodeSenderNotJoined, "sender %s has membership %q, needs join to kick", e.Sender, senderMembership)
		}
		if targetMembership == MembershipBan && senderLevel < levels.Ban {
			return denyf(CodeInsufficientPower, "unban requires power %d, sender %s has %d",
				levels.Ban, e.Sender, senderLevel)
		}
		if senderLevel < levels.Kick {
			return denyf(CodeInsufficientPower, "kick requires power %d, sender %s has %d",
				levels.Kick, e.Sender, senderLevel)
		}
		if senderLevel <= targetLevel {
			return denyf(CodeInsufficientPower, "cannot kick %s at power %d with power %d",
				target, targetLevel, senderLevel)
		}
		return allow()

	case MembershipBan:
		if senderMembership != MembershipJoin {
			return denyf(CodeSenderNotJoined, "sender %s has membership %q, needs join to ban", e.Sender, senderMembership)
		}
		if senderLevel < levels.Ban {
			return denyf(CodeInsufficientPower, "ban requires power %d, sender %s has %d",
				levels.Ban, e.Sender, senderLevel)
		}
		if senderLevel <= targetLevel {
			return denyf(CodeInsufficientPower, "cannot ban %s at power %d with power %d",
				target, targetLevel, senderLevel)
		}
		return allow()

	case MembershipKnock:
		if rule := state.JoinRule(); rule != JoinRuleKnock {
			return denyf(CodeMembershipForbidden, "knock not allowed under join rule %q", rule)
		}
		if e.Sender != target {
			return denyf(CodeMembershipForbidden, "knock for %s sent by %s; users knock only for themselves", target, e.Sender)
		}
		switch targetMembership {
		case MembershipJoin, MembershipInvite, MembershipBan:
			return denyf(CodeMembershipForbidden, "%s cannot knock with membership %q", target, targetMembership)
		}
		return allow()

	case "":
		return denyf(CodeMalformedContent, "member event content has no membership field")
	default:
		return denyf(CodeMalformedContent, "unknown membership %q", next)
	}
}

// isCreatorFirstJoin reports whether the event is the creator joining
// directly on top of the create event: exactly one parent, that parent
// is the create event, and the target is the room creator. This is the
// one join admitted before any power-levels or join-rules state
// exists.
func isCreatorFirstJoin(e *event.Event, state State, target ref.UserID) bool {
	create, ok := state.CreateEvent()
	if !ok {
		return false
	}
	if len(e.PrevEvents) != 1 || e.PrevEvents[0] != create.EventID {
		return false
	}
	return target == creatorOf(create)
}

// checkPowerLevelMutation enforces the constraint on changes to
// m.room.power_levels: the sender may not add, remove, or change any
// users/events entry above their own level. Lowering their own entry
// is fine (the old value equals their level, the new one is below it).
func checkPowerLevelMutation(e *event.Event, current PowerLevels, senderLevel int64) Result {
	proposed := parsePowerLevels(e.Content)

	for _, eventType := range sortedKeys(current.Events, proposed.Events) {
		oldLevel, hasOld := current.Events[eventType]
		newLevel, hasNew := proposed.Events[eventType]
		if hasOld && hasNew && oldLevel == newLevel {
			continue
		}
		if hasOld && oldLevel > senderLevel {
			return denyf(CodeInsufficientPower, "cannot change events[%s] from %d with power %d",
				eventType, oldLevel, senderLevel)
		}
		if hasNew && newLevel > senderLevel {
			return denyf(CodeInsufficientPower, "cannot set events[%s] to %d with power %d",
				eventType, newLevel, senderLevel)
		}
	}

	currentUsers := make(map[string]int64, len(current.Users))
	for user, level := range current.Users {
		currentUsers[user.String()] = level
	}
	proposedUsers := make(map[string]int64, len(proposed.Users))
	for user, level := range proposed.Users {
		proposedUsers[user.String()] = level
	}
	for _, user := range sortedKeys(currentUsers, proposedUsers) {
		oldLevel, hasOld := currentUsers[user]
		newLevel, hasNew := proposedUsers[user]
		if hasOld && hasNew && oldLevel == newLevel {
			continue
		}
		if hasOld && oldLevel > senderLevel {
			return denyf(CodeInsufficientPower, "cannot change users[%s] from %d with power %d",
				user, oldLevel, senderLevel)
		}
		if hasNew && newLevel > senderLevel {
			return denyf(CodeInsufficientPower, "cannot set users[%s] to %d with power %d",
				user, newLevel, senderLevel)
		}
	}
	return allow()
}

// sortedKeys returns the union of both maps' keys in lexicographic
// order, so denial reasons are deterministic.
func sortedKeys(a, b map[string]int64) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	keys := make([]string, 0, len(a)+len(b))
	for key := range a {
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	for key := range b {
		if _, ok := seen[key]; !ok {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys
}
