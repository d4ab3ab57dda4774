// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bureau-foundation/loom/lib/authrules"
	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/ref"
)

// sendRequest is the JSON body for
// POST /_loom/v1/rooms/{roomID}/send/{eventType}.
type sendRequest struct {
	// Sender is the emitting user, trusted as-is: client
	// authentication is outside the core.
	Sender ref.UserID `json:"sender"`

	// StateKey, when present, makes this a state event. The empty
	// string is a valid state key.
	StateKey *string `json:"state_key,omitempty"`

	// Content is the event payload, stored verbatim. Defaults to the
	// empty object.
	Content json.RawMessage `json:"content"`
}

// sendResponse reports the admitted event's ID.
type sendResponse struct {
	EventID ref.EventID `json:"event_id"`
}

// membershipRequest is the shared JSON body of the membership
// endpoints. Join and leave act on user_id alone; invite, kick, and
// ban name the acting sender separately from the target.
type membershipRequest struct {
	UserID ref.UserID `json:"user_id"`
	Sender ref.UserID `json:"sender,omitempty"`
	Reason string     `json:"reason,omitempty"`
}

// memberContent is the m.room.member event content.
type memberContent struct {
	Membership string `json:"membership"`
	Reason     string `json:"reason,omitempty"`
}

// redactRequest is the JSON body for
// POST /_loom/v1/rooms/{roomID}/redact/{eventID}.
type redactRequest struct {
	Sender ref.UserID `json:"sender"`
	Reason string     `json:"reason,omitempty"`
}

// redactionContent is the m.room.redaction event content. The target
// lives in content; a redaction is not a state event.
type redactionContent struct {
	Redacts ref.EventID `json:"redacts"`
	Reason  string      `json:"reason,omitempty"`
}

// stateResponse carries a room's full resolved state in slot order.
type stateResponse struct {
	Events []*event.Event `json:"events"`
}

// extremitiesResponse carries a room's forward extremity IDs.
type extremitiesResponse struct {
	Extremities []ref.EventID `json:"extremities"`
}

// sendLocal builds an event on the room's current forward extremities
// with the standard auth selection, admits it, and writes the
// response: the event ID on success, the mapped rejection otherwise.
//
// The frontier is read before admission without holding the room lock;
// a concurrent admission may slide it. That is harmless: citing a
// parent that just left the frontier is still a valid event, and
// admission re-checks everything under the lock.
func (a *API) sendLocal(w http.ResponseWriter, r *http.Request, builder event.Builder) {
	parents, err := a.graph.ExtremityEvents(r.Context(), builder.RoomID)
	if err != nil {
		a.respondLookupError(w, r, err)
		return
	}
	parentIDs := make([]ref.EventID, 0, len(parents))
	for _, parent := range parents {
		parentIDs = append(parentIDs, parent.EventID)
	}
	resolved, err := a.graph.StateAt(r.Context(), parentIDs)
	if err != nil {
		a.respondLookupError(w, r, err)
		return
	}

	e, err := builder.Build(a.clock.Now(), parents, authSelection(builder, resolved))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := a.graph.AdmitEvent(r.Context(), e)
	if err != nil {
		a.respondLookupError(w, r, err)
		return
	}
	if !result.Accepted {
		respondRejection(w, result)
		return
	}
	respondJSON(w, http.StatusOK, sendResponse{EventID: e.EventID})
}

// handleSend handles POST /_loom/v1/rooms/{roomID}/send/{eventType}.
func (a *API) handleSend(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var request sendRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondErrorf(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if request.Sender.IsZero() {
		respondError(w, http.StatusBadRequest, "sender is required")
		return
	}

	// The builder normalizes untyped nil to the empty object; an
	// empty RawMessage must not reach it as typed nil.
	var content any
	if len(request.Content) > 0 {
		content = request.Content
	}

	a.sendLocal(w, r, event.Builder{
		RoomID:   roomID,
		Sender:   request.Sender,
		Type:     chi.URLParam(r, "eventType"),
		StateKey: request.StateKey,
		Content:  content,
	})
}

// handleJoin handles POST /_loom/v1/rooms/{roomID}/join.
func (a *API) handleJoin(w http.ResponseWriter, r *http.Request) {
	a.selfMembership(w, r, authrules.MembershipJoin)
}

// handleLeave handles POST /_loom/v1/rooms/{roomID}/leave.
func (a *API) handleLeave(w http.ResponseWriter, r *http.Request) {
	a.selfMembership(w, r, authrules.MembershipLeave)
}

// selfMembership builds a member event where the sender acts on their
// own membership (join, leave).
func (a *API) selfMembership(w http.ResponseWriter, r *http.Request, membership string) {
	roomID, err := roomIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var request membershipRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondErrorf(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if request.UserID.IsZero() {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	stateKey := request.UserID.String()
	a.sendLocal(w, r, event.Builder{
		RoomID:   roomID,
		Sender:   request.UserID,
		Type:     event.TypeMember,
		StateKey: &stateKey,
		Content:  memberContent{Membership: membership, Reason: request.Reason},
	})
}

// handleInvite handles POST /_loom/v1/rooms/{roomID}/invite.
func (a *API) handleInvite(w http.ResponseWriter, r *http.Request) {
	a.targetMembership(w, r, authrules.MembershipInvite)
}

// handleKick handles POST /_loom/v1/rooms/{roomID}/kick. A kick is a
// leave event sent by someone other than the target.
func (a *API) handleKick(w http.ResponseWriter, r *http.Request) {
	a.targetMembership(w, r, authrules.MembershipLeave)
}

// handleBan handles POST /_loom/v1/rooms/{roomID}/ban.
func (a *API) handleBan(w http.ResponseWriter, r *http.Request) {
	a.targetMembership(w, r, authrules.MembershipBan)
}

// targetMembership builds a member event where the sender acts on
// another user's membership (invite, kick, ban).
func (a *API) targetMembership(w http.ResponseWriter, r *http.Request, membership string) {
	roomID, err := roomIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var request membershipRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondErrorf(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if request.Sender.IsZero() || request.UserID.IsZero() {
		respondError(w, http.StatusBadRequest, "sender and user_id are required")
		return
	}

	stateKey := request.UserID.String()
	a.sendLocal(w, r, event.Builder{
		RoomID:   roomID,
		Sender:   request.Sender,
		Type:     event.TypeMember,
		StateKey: &stateKey,
		Content:  memberContent{Membership: membership, Reason: request.Reason},
	})
}

// handleRedact handles POST /_loom/v1/rooms/{roomID}/redact/{eventID}.
// The target must be a stored event of the same room, and the sender
// must either be its author or hold the room's redact power. The auth
// rules admit any well-formed redaction; this target check lives here.
func (a *API) handleRedact(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	target, err := eventIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var request redactRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondErrorf(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if request.Sender.IsZero() {
		respondError(w, http.StatusBadRequest, "sender is required")
		return
	}

	targetEvent, err := a.graph.Event(r.Context(), target)
	if err != nil {
		a.respondLookupError(w, r, err)
		return
	}
	if targetEvent.RoomID != roomID {
		respondErrorf(w, http.StatusBadRequest, "event %s belongs to room %s, not %s", target, targetEvent.RoomID, roomID)
		return
	}

	if request.Sender != targetEvent.Sender {
		levels, err := a.currentLevels(r.Context(), roomID)
		if err != nil {
			a.respondLookupError(w, r, err)
			return
		}
		if senderLevel := levels.UserLevel(request.Sender); senderLevel < levels.Redact {
			respondErrorf(w, http.StatusForbidden,
				"redacting %s requires authorship or power %d, sender %s has %d",
				target, levels.Redact, request.Sender, senderLevel)
			return
		}
	}

	a.sendLocal(w, r, event.Builder{
		RoomID:  roomID,
		Sender:  request.Sender,
		Type:    event.TypeRedaction,
		Content: redactionContent{Redacts: target, Reason: request.Reason},
	})
}

// currentLevels resolves the room's effective power-level table at its
// current state.
func (a *API) currentLevels(ctx context.Context, roomID ref.RoomID) (authrules.PowerLevels, error) {
	resolved, err := a.graph.CurrentState(ctx, roomID)
	if err != nil {
		return authrules.PowerLevels{}, err
	}
	authState := make(authrules.State, 2)
	for _, slot := range []event.Slot{event.SlotFor(event.TypeCreate), event.SlotFor(event.TypePowerLevels)} {
		id, ok := resolved[slot]
		if !ok {
			continue
		}
		e, err := a.graph.Event(ctx, id)
		if err != nil {
			return authrules.PowerLevels{}, err
		}
		authState[slot] = e
	}
	return authrules.LevelsFromState(authState), nil
}

// handleStateAll handles GET /_loom/v1/rooms/{roomID}/state: the full
// resolved state at the room's current extremities, in slot order.
func (a *API) handleStateAll(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	resolved, err := a.graph.CurrentState(r.Context(), roomID)
	if err != nil {
		a.respondLookupError(w, r, err)
		return
	}

	events := make([]*event.Event, 0, len(resolved))
	for _, slot := range event.SortedSlots(resolved) {
		e, err := a.graph.Event(r.Context(), resolved[slot])
		if err != nil {
			a.respondLookupError(w, r, err)
			return
		}
		events = append(events, e)
	}
	respondJSON(w, http.StatusOK, stateResponse{Events: events})
}

// handleStateEvent handles
// GET /_loom/v1/rooms/{roomID}/state/{eventType}[/{stateKey}]: the
// winning event of one state slot. The state key defaults to empty.
func (a *API) handleStateEvent(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	slot := event.Slot{
		Type:     chi.URLParam(r, "eventType"),
		StateKey: chi.URLParam(r, "stateKey"),
	}

	resolved, err := a.graph.CurrentState(r.Context(), roomID)
	if err != nil {
		a.respondLookupError(w, r, err)
		return
	}
	id, ok := resolved[slot]
	if !ok {
		respondErrorf(w, http.StatusNotFound, "room %s has no state event in slot %s", roomID, slot)
		return
	}
	e, err := a.graph.Event(r.Context(), id)
	if err != nil {
		a.respondLookupError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}

// handleExtremities handles GET /_loom/v1/rooms/{roomID}/extremities.
func (a *API) handleExtremities(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	ids, err := a.graph.ForwardExtremities(r.Context(), roomID)
	if err != nil {
		a.respondLookupError(w, r, err)
		return
	}
	if len(ids) == 0 {
		respondErrorf(w, http.StatusNotFound, "unknown room %s", roomID)
		return
	}
	respondJSON(w, http.StatusOK, extremitiesResponse{Extremities: ids})
}

// handleEvent handles GET /_loom/v1/events/{eventID}.
func (a *API) handleEvent(w http.ResponseWriter, r *http.Request) {
	id, err := eventIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	e, err := a.graph.Event(r.Context(), id)
	if err != nil {
		a.respondLookupError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}
