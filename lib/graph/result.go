// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"

	"github.com/bureau-foundation/loom/lib/ref"
)

// Code classifies an admission verdict. Every non-accepted code is
// permanent except CodeMissingDependency, which invites the caller to
// backfill the missing events and resubmit.
type Code int

const (
	// CodeNone is the code of an accepted event.
	CodeNone Code = iota

	// CodeMalformedEvent marks a structurally invalid event: missing
	// fields, bad identifier grammar, broken DAG links, or an event
	// ID that does not match the content hash.
	CodeMalformedEvent

	// CodeMissingDependency marks an event citing parents or auth
	// events the store does not hold yet. The result's Missing list
	// names them.
	CodeMissingDependency

	// CodeUnauthorized marks an event the auth rules denied against
	// the state at its parents. The event is never persisted and the
	// rejection is returned to the caller, never silently dropped.
	CodeUnauthorized

	// CodeConflict marks an event whose ID is already persisted with
	// different content: an integrity violation upstream, logged and
	// rejected.
	CodeConflict

	// CodeUnresolvableDependency marks an event whose dependency gap
	// survived the backfill attempt budget. Assigned by the
	// federation backfiller, never by AdmitEvent itself.
	CodeUnresolvableDependency
)

// String returns the code's wire name.
func (c Code) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeMalformedEvent:
		return "malformed_event"
	case CodeMissingDependency:
		return "missing_dependency"
	case CodeUnauthorized:
		return "unauthorized"
	case CodeConflict:
		return "conflict"
	case CodeUnresolvableDependency:
		return "unresolvable_dependency"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// Retryable reports whether resubmitting after supplying more data can
// change the verdict.
func (c Code) Retryable() bool {
	return c == CodeMissingDependency
}

// AdmissionResult is the graph's verdict on one event.
type AdmissionResult struct {
	// Accepted is true when the event is persisted (or already was).
	Accepted bool

	// Code classifies the rejection; CodeNone when accepted.
	Code Code

	// Reason is a human-readable account of the rejection.
	Reason string

	// Missing lists the absent dependencies, sorted, when Code is
	// CodeMissingDependency.
	Missing []ref.EventID
}

func accept() AdmissionResult {
	return AdmissionResult{Accepted: true}
}

func reject(code Code, reason string) AdmissionResult {
	return AdmissionResult{Code: code, Reason: reason}
}
