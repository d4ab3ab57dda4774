// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/federation"
	"github.com/bureau-foundation/loom/lib/graph"
	"github.com/bureau-foundation/loom/lib/ref"
)

// maxTransactionPDUs caps the events one federation transaction may
// carry. Larger batches are rejected whole; the sender splits them.
const maxTransactionPDUs = 50

// handleTransaction handles PUT /_loom/federation/v1/send/{txnID}:
// admits each PDU through the backfiller and reports a per-event
// outcome. Rejections are recorded in the response, never silently
// dropped; only a storage fault fails the transaction as a whole.
func (a *API) handleTransaction(w http.ResponseWriter, r *http.Request) {
	txnID := chi.URLParam(r, "txnID")
	var txn federation.Transaction
	if err := json.NewDecoder(r.Body).Decode(&txn); err != nil {
		respondErrorf(w, http.StatusBadRequest, "invalid transaction body: %v", err)
		return
	}
	if len(txn.PDUs) > maxTransactionPDUs {
		respondErrorf(w, http.StatusBadRequest, "transaction %s carries %d events, limit %d", txnID, len(txn.PDUs), maxTransactionPDUs)
		return
	}

	results := make(map[string]federation.PDUResult, len(txn.PDUs))
	rejected := 0
	for _, pdu := range txn.PDUs {
		result, err := a.backfiller.Admit(r.Context(), pdu)
		if err != nil {
			a.logger.Error("transaction aborted by storage fault",
				"txn_id", txnID,
				"origin", txn.Origin,
				"event_id", pdu.EventID,
				"error", err)
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !result.Accepted {
			rejected++
		}
		results[pdu.EventID.String()] = pduResult(result)
	}

	a.logger.Info("transaction processed",
		"txn_id", txnID,
		"origin", txn.Origin,
		"pdus", len(txn.PDUs),
		"rejected", rejected)
	respondJSON(w, http.StatusOK, federation.TransactionResponse{PDUs: results})
}

// pduResult converts an admission result to its wire form.
func pduResult(result graph.AdmissionResult) federation.PDUResult {
	if result.Accepted {
		return federation.PDUResult{Accepted: true}
	}
	return federation.PDUResult{
		Code:    result.Code.String(),
		Reason:  result.Reason,
		Missing: result.Missing,
	}
}

// handleFederationEvent handles
// GET /_loom/federation/v1/event/{eventID}: the stored event, encoded
// directly as the response body.
func (a *API) handleFederationEvent(w http.ResponseWriter, r *http.Request) {
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

// handleMissingEvents handles
// POST /_loom/federation/v1/get_missing_events/{roomID}: the events
// between the caller's earliest and latest sets, oldest-first, limited
// to what this server holds.
func (a *API) handleMissingEvents(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	var request federation.MissingEventsRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondErrorf(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if len(request.LatestEvents) == 0 {
		respondError(w, http.StatusBadRequest, "latest_events is required")
		return
	}

	events, err := a.graph.MissingEvents(r.Context(), roomID, request.EarliestEvents, request.LatestEvents, request.Limit)
	if err != nil {
		a.respondLookupError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, federation.EventsResponse{Events: events})
}

// handleBackfill handles
// GET /_loom/federation/v1/backfill/{roomID}?v=…&limit=…: a page of
// ancestry newest-first from the given starting points.
func (a *API) handleBackfill(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	query := r.URL.Query()
	rawIDs := query["v"]
	if len(rawIDs) == 0 {
		respondError(w, http.StatusBadRequest, "at least one v event ID is required")
		return
	}
	from := make([]ref.EventID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		id, err := ref.ParseEventID(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		from = append(from, id)
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			respondErrorf(w, http.StatusBadRequest, "invalid limit %q", raw)
			return
		}
	}

	events, err := a.graph.Backfill(r.Context(), roomID, from, limit)
	if err != nil {
		a.respondLookupError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, federation.EventsResponse{Events: events})
}

// handleFederationState handles
// GET /_loom/federation/v1/state/{roomID}?event_id=…: the resolved
// state after the event plus the auth chain needed to admit it all.
func (a *API) handleFederationState(w http.ResponseWriter, r *http.Request) {
	roomID, err := roomIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	raw := r.URL.Query().Get("event_id")
	if raw == "" {
		respondError(w, http.StatusBadRequest, "event_id query parameter is required")
		return
	}
	eventID, err := ref.ParseEventID(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	anchor, err := a.graph.Event(r.Context(), eventID)
	if err != nil {
		a.respondLookupError(w, r, err)
		return
	}
	if anchor.RoomID != roomID {
		respondErrorf(w, http.StatusBadRequest, "event %s belongs to room %s, not %s", eventID, anchor.RoomID, roomID)
		return
	}

	resolved, err := a.graph.StateAt(r.Context(), []ref.EventID{eventID})
	if err != nil {
		a.respondLookupError(w, r, err)
		return
	}

	stateIDs := make([]ref.EventID, 0, len(resolved))
	stateEvents := make([]*event.Event, 0, len(resolved))
	for _, slot := range event.SortedSlots(resolved) {
		e, err := a.graph.Event(r.Context(), resolved[slot])
		if err != nil {
			a.respondLookupError(w, r, err)
			return
		}
		stateIDs = append(stateIDs, e.EventID)
		stateEvents = append(stateEvents, e)
	}

	chain, err := a.graph.AuthChain(r.Context(), append(stateIDs, eventID))
	if err != nil {
		a.respondLookupError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, federation.StateResponse{
		State:     stateEvents,
		AuthChain: chain,
	})
}
