// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package graph owns the per-room event DAG: admission of new events,
// forward-extremity maintenance, and the walk queries federation
// serves (missing events, backfill, state and auth-chain lookups).
//
// AdmitEvent is the single ingress for both locally built events and
// federation deliveries. Admission is serialized per room — extremity
// updates and state-cache refreshes do not commute — while different
// rooms admit fully in parallel. Every verdict is a typed
// AdmissionResult; protocol rejections are values, never errors, and
// only storage faults surface as Go errors for the caller to retry.
package graph
