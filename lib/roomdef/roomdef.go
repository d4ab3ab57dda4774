// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package roomdef provides parsing and validation for room preset
// definitions: the recipe a room bootstrap follows (initial join rule,
// power-level overrides, extra initial state).
//
// Definitions ship embedded in the binary as JSONC files (JSON
// extended with comments and trailing commas) and can also be read
// from disk for operator-supplied presets. The API layer turns a
// definition into the bootstrap event sequence: create event, creator
// join, power levels, join rules, then the definition's initial state.
package roomdef

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/loom/lib/authrules"
	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/ref"
)

// Definition is one room preset: everything a bootstrap needs beyond
// the creator and the room name.
type Definition struct {
	// JoinRule seeds the room's m.room.join_rules state event. One of
	// "public", "invite", or "knock".
	JoinRule string `json:"join_rule"`

	// PowerLevels overrides top-level keys of the default power-level
	// content. Replacement is per key: overriding "events" replaces
	// the whole events map, not individual entries.
	PowerLevels map[string]any `json:"power_levels,omitempty"`

	// InitialState lists state events appended after the standard
	// bootstrap sequence, in order. The creator sends them, so every
	// entry must clear the power threshold its type requires.
	InitialState []StateEvent `json:"initial_state,omitempty"`
}

// StateEvent is one authored initial-state entry.
type StateEvent struct {
	Type     string          `json:"type"`
	StateKey string          `json:"state_key"`
	Content  json.RawMessage `json:"content"`
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals the result into a Definition.
func Parse(data []byte) (*Definition, error) {
	stripped := jsonc.ToJSON(data)

	var definition Definition
	if err := json.Unmarshal(stripped, &definition); err != nil {
		return nil, fmt.Errorf("parsing room definition: %w", err)
	}

	return &definition, nil
}

// ReadFile reads a JSONC room definition from disk and parses it.
func ReadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	definition, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return definition, nil
}

// NameFromPath extracts a preset name from a file path by stripping
// the directory prefix and the file extension. For example,
// "presets/public_chat.jsonc" returns "public_chat".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	extension := filepath.Ext(base)
	return strings.TrimSuffix(base, extension)
}

// bootstrapTypes are the state slots the bootstrap sequence itself
// writes. A definition's initial state must not collide with them.
var bootstrapTypes = map[string]bool{
	event.TypeCreate:      true,
	event.TypeMember:      true,
	event.TypePowerLevels: true,
	event.TypeJoinRules:   true,
}

// Validate checks a Definition for structural issues. Returns a list
// of human-readable issue descriptions; an empty list means the
// definition is valid.
func Validate(definition *Definition) []string {
	var issues []string

	switch definition.JoinRule {
	case authrules.JoinRulePublic, authrules.JoinRuleInvite, authrules.JoinRuleKnock:
	case "":
		issues = append(issues, "join_rule is required")
	default:
		issues = append(issues, fmt.Sprintf(
			"join_rule must be %q, %q, or %q, got %q",
			authrules.JoinRulePublic, authrules.JoinRuleInvite, authrules.JoinRuleKnock,
			definition.JoinRule,
		))
	}

	// Initial-state slots must be unique: a duplicate (type, state_key)
	// pair would have the later event silently supersede the earlier
	// one during bootstrap.
	slots := make(map[string]int, len(definition.InitialState))
	for index, entry := range definition.InitialState {
		prefix := fmt.Sprintf("initial_state[%d]", index)

		if entry.Type == "" {
			issues = append(issues, fmt.Sprintf("%s: type is required", prefix))
			continue
		}
		prefix = fmt.Sprintf("%s %q", prefix, entry.Type)

		if bootstrapTypes[entry.Type] {
			issues = append(issues, fmt.Sprintf("%s: the bootstrap sequence owns this event type", prefix))
		}
		if len(entry.Content) == 0 {
			issues = append(issues, fmt.Sprintf("%s: content is required", prefix))
		} else if !json.Valid(entry.Content) {
			issues = append(issues, fmt.Sprintf("%s: content is not valid JSON", prefix))
		}

		slot := entry.Type + "\x00" + entry.StateKey
		if firstIndex, exists := slots[slot]; exists {
			issues = append(issues, fmt.Sprintf(
				"%s: duplicate state slot (first used at initial_state[%d])",
				prefix, firstIndex,
			))
		} else {
			slots[slot] = index
		}
	}

	return issues
}

// defaultPowerLevels is the power-level content every bootstrap starts
// from. Thresholds follow the common homeserver defaults: moderation
// actions at 50, room-structure state at 100.
func defaultPowerLevels() map[string]any {
	return map[string]any{
		"ban": 50,
		"events": map[string]any{
			event.TypeName:              50,
			event.TypePowerLevels:       100,
			"m.room.history_visibility": 100,
			"m.room.canonical_alias":    50,
			"m.room.avatar":             50,
			"m.room.tombstone":          100,
			"m.room.server_acl":         100,
			"m.room.encryption":         100,
		},
		"events_default": 0,
		"invite":         50,
		"kick":           50,
		"redact":         50,
		"state_default":  50,
		"users_default":  0,
		"notifications": map[string]any{
			"room": 50,
		},
	}
}

// BuildPowerLevels assembles the m.room.power_levels content for a
// room created by creator: the standard defaults, the creator at
// level 100, and the definition's overrides applied last (per
// top-level key).
func (d *Definition) BuildPowerLevels(creator ref.UserID) map[string]any {
	content := defaultPowerLevels()
	content["users"] = map[string]any{creator.String(): 100}
	maps.Copy(content, d.PowerLevels)
	return content
}
