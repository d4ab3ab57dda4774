// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bureau-foundation/loom/lib/authrules"
	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/ref"
	"github.com/bureau-foundation/loom/lib/roomdef"
	"github.com/bureau-foundation/loom/lib/state"
)

// defaultPreset is used when a create request names none.
const defaultPreset = "private_chat"

// createRoomRequest is the JSON body for POST /_loom/v1/rooms/create.
type createRoomRequest struct {
	// Preset names an embedded room definition. Defaults to
	// private_chat.
	Preset string `json:"preset,omitempty"`

	// Creator is the user creating the room. Must be local to this
	// server: the room takes this server's domain, and a create event
	// authorizes only when the room and sender domains match.
	Creator ref.UserID `json:"creator"`

	// Name and Topic optionally seed m.room.name and m.room.topic
	// events at the end of the bootstrap sequence.
	Name  string `json:"name,omitempty"`
	Topic string `json:"topic,omitempty"`
}

// createRoomResponse reports the new room and its opening events in
// admission order.
type createRoomResponse struct {
	RoomID ref.RoomID    `json:"room_id"`
	Events []ref.EventID `json:"events"`
}

// handleCreateRoom handles POST /_loom/v1/rooms/create: generates a
// room ID and admits the bootstrap sequence from the named preset.
func (a *API) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var request createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondErrorf(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if request.Creator.IsZero() {
		respondError(w, http.StatusBadRequest, "creator is required")
		return
	}
	if request.Creator.Server() != a.server {
		respondErrorf(w, http.StatusBadRequest, "creator %s is not local to %s", request.Creator, a.server)
		return
	}

	preset := request.Preset
	if preset == "" {
		preset = defaultPreset
	}
	def, err := roomdef.Preset(preset)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	roomID, err := a.newRoomID()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	admitted, err := a.bootstrapRoom(r.Context(), roomID, request.Creator, def, request.Name, request.Topic)
	if err != nil {
		a.logger.Error("room bootstrap failed",
			"room_id", roomID,
			"creator", request.Creator,
			"preset", preset,
			"error", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	a.logger.Info("room created",
		"room_id", roomID,
		"creator", request.Creator,
		"preset", preset,
		"events", len(admitted))
	respondJSON(w, http.StatusOK, createRoomResponse{RoomID: roomID, Events: admitted})
}

// newRoomID generates a room ID with a random localpart on this
// server.
func (a *API) newRoomID() (ref.RoomID, error) {
	var raw [18]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return ref.RoomID{}, fmt.Errorf("generating room ID: %w", err)
	}
	return ref.NewRoomID(base64.RawURLEncoding.EncodeToString(raw[:]), a.server), nil
}

// bootstrapRoom admits the opening sequence: create, creator join,
// power levels, join rules, then the preset's initial state and the
// optional name and topic. Events chain linearly, each built on the
// previous one, with the auth selection tracked against the state the
// sequence itself establishes.
//
// Admissions are durable one by one. A failure mid-sequence abandons a
// partially initialized room; its generated ID was never returned, so
// nothing references it.
func (a *API) bootstrapRoom(ctx context.Context, roomID ref.RoomID, creator ref.UserID, def *roomdef.Definition, name, topic string) ([]ref.EventID, error) {
	type step struct {
		eventType string
		stateKey  string
		content   any
	}
	steps := []step{
		{event.TypeCreate, "", map[string]any{"creator": creator.String()}},
		{event.TypeMember, creator.String(), map[string]any{"membership": authrules.MembershipJoin}},
		{event.TypePowerLevels, "", def.BuildPowerLevels(creator)},
		{event.TypeJoinRules, "", map[string]any{"join_rule": def.JoinRule}},
	}
	for _, entry := range def.InitialState {
		steps = append(steps, step{entry.Type, entry.StateKey, json.RawMessage(entry.Content)})
	}
	if name != "" {
		steps = append(steps, step{event.TypeName, "", map[string]any{"name": name}})
	}
	if topic != "" {
		steps = append(steps, step{event.TypeTopic, "", map[string]any{"topic": topic}})
	}

	established := make(state.ResolvedState, len(steps))
	var parent *event.Event
	admitted := make([]ref.EventID, 0, len(steps))
	for _, s := range steps {
		stateKey := s.stateKey
		builder := event.Builder{
			RoomID:   roomID,
			Sender:   creator,
			Type:     s.eventType,
			StateKey: &stateKey,
			Content:  s.content,
		}
		var parents []*event.Event
		if parent != nil {
			parents = []*event.Event{parent}
		}
		e, err := builder.Build(a.clock.Now(), parents, authSelection(builder, established))
		if err != nil {
			return nil, err
		}
		result, err := a.graph.AdmitEvent(ctx, e)
		if err != nil {
			return nil, err
		}
		if !result.Accepted {
			return nil, fmt.Errorf("bootstrap %s rejected: %s", s.eventType, result.Reason)
		}
		if slot, ok := e.Slot(); ok {
			established[slot] = e.EventID
		}
		parent = e
		admitted = append(admitted, e.EventID)
	}
	return admitted, nil
}

// authSelection resolves the builder's auth slots against a state
// view. Unoccupied slots are skipped: selection names what to look up,
// not what must exist.
func authSelection(builder event.Builder, resolved state.ResolvedState) []ref.EventID {
	probe := &event.Event{
		Sender:   builder.Sender,
		Type:     builder.Type,
		StateKey: builder.StateKey,
	}
	slots := authrules.AuthSelection(probe)
	ids := make([]ref.EventID, 0, len(slots))
	for _, slot := range slots {
		if id, ok := resolved[slot]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
