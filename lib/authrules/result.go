// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package authrules

import (
	"fmt"

	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/ref"
	"github.com/tidwall/gjson"
)

// State is a materialized state snapshot: the winning event per
// occupied slot. Callers build it from a stored snapshot or from a
// resolver replay; authrules only reads it.
type State map[event.Slot]*event.Event

// Membership values recognized by the transition rules. An empty
// string means the user has no membership event in state, which the
// rules treat the same as having left.
const (
	MembershipJoin   = "join"
	MembershipLeave  = "leave"
	MembershipInvite = "invite"
	MembershipBan    = "ban"
	MembershipKnock  = "knock"
)

// Join rule values. Rooms with no m.room.join_rules event default to
// JoinRuleInvite.
const (
	JoinRulePublic = "public"
	JoinRuleInvite = "invite"
	JoinRuleKnock  = "knock"
)

// Membership returns the user's membership in the snapshot, or an
// empty string if the user has no membership event.
func (s State) Membership(user ref.UserID) string {
	member, ok := s[event.MemberSlot(user)]
	if !ok {
		return ""
	}
	return gjson.GetBytes(member.Content, "membership").Str
}

// JoinRule returns the room's join rule, defaulting to JoinRuleInvite
// when no m.room.join_rules event is in state or its content carries
// no rule.
func (s State) JoinRule() string {
	jr, ok := s[event.SlotFor(event.TypeJoinRules)]
	if !ok {
		return JoinRuleInvite
	}
	rule := gjson.GetBytes(jr.Content, "join_rule").Str
	if rule == "" {
		return JoinRuleInvite
	}
	return rule
}

// CreateEvent returns the room's m.room.create event, if present.
func (s State) CreateEvent() (*event.Event, bool) {
	create, ok := s[event.SlotFor(event.TypeCreate)]
	return create, ok
}

// Code classifies why an event was denied. CodeNone means allowed.
type Code int

const (
	// CodeNone is the code on an allowed result.
	CodeNone Code = iota

	// CodeMissingCreateEvent: the snapshot has no m.room.create event
	// and the evaluated event is not itself a create.
	CodeMissingCreateEvent

	// CodeBadCreateEvent: a create event that violates the
	// self-authorization rules (has parents, wrong room domain, or the
	// room already has a create event).
	CodeBadCreateEvent

	// CodeSenderNotJoined: the sender lacks membership "join" where
	// the rules require it.
	CodeSenderNotJoined

	// CodeInsufficientPower: the sender's power level is below the
	// threshold for the attempted operation.
	CodeInsufficientPower

	// CodeMembershipForbidden: a membership transition the table does
	// not permit (joining while banned, kicking without being in the
	// room, and so on).
	CodeMembershipForbidden

	// CodeMalformedContent: the event's content is missing or carries
	// an unusable value for a field the rules must read (membership,
	// member state_key).
	CodeMalformedContent
)

// String renders the code for logs and error messages.
func (c Code) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeMissingCreateEvent:
		return "missing_create_event"
	case CodeBadCreateEvent:
		return "bad_create_event"
	case CodeSenderNotJoined:
		return "sender_not_joined"
	case CodeInsufficientPower:
		return "insufficient_power"
	case CodeMembershipForbidden:
		return "membership_forbidden"
	case CodeMalformedContent:
		return "malformed_content"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Result is the outcome of an authorization check. When Allowed is
// false, Code and Reason describe the first rule that failed.
type Result struct {
	Allowed bool
	Code    Code
	Reason  string
}

func allow() Result { return Result{Allowed: true} }

func denyf(code Code, format string, args ...any) Result {
	return Result{Code: code, Reason: fmt.Sprintf(format, args...)}
}
