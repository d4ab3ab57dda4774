// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package federation

import (
	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/ref"
)

// Transaction is the body of PUT /_loom/federation/v1/send/{txnID}:
// a batch of events pushed by a remote server.
type Transaction struct {
	Origin         ref.ServerName `json:"origin"`
	OriginServerTS int64          `json:"origin_server_ts"`
	PDUs           []*event.Event `json:"pdus"`
}

// PDUResult is the admission outcome for one event of a transaction.
// Rejections are reported, never silently dropped.
type PDUResult struct {
	Accepted bool          `json:"accepted"`
	Code     string        `json:"code,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	Missing  []ref.EventID `json:"missing,omitempty"`
}

// TransactionResponse maps each PDU's event ID to its outcome.
type TransactionResponse struct {
	PDUs map[string]PDUResult `json:"pdus"`
}

// MissingEventsRequest is the body of
// POST /_loom/federation/v1/get_missing_events/{roomID}.
type MissingEventsRequest struct {
	EarliestEvents []ref.EventID `json:"earliest_events"`
	LatestEvents   []ref.EventID `json:"latest_events"`
	Limit          int           `json:"limit,omitempty"`
}

// EventsResponse carries an ordered event list: oldest-first for
// missing-events responses, newest-first for backfill responses.
type EventsResponse struct {
	Events []*event.Event `json:"events"`
}

// StateResponse is the body of
// GET /_loom/federation/v1/state/{roomID}?event_id=…: the resolved
// state at the event plus the auth chain required to admit it all.
type StateResponse struct {
	State     []*event.Event `json:"state"`
	AuthChain []*event.Event `json:"auth_chain"`
}
