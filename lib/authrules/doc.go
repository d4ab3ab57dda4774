// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package authrules decides whether a room event is authorized against
// a materialized state snapshot.
//
// The rule set is fixed: create-event checks, sender membership, power
// levels, and the membership transition table, in that order. Authorize
// is a pure function over the event and the snapshot — no I/O, no
// mutation — so the state resolver can replay thousands of candidate
// events through it concurrently without synchronization.
//
// A denial carries a machine-readable Code and a human-readable Reason.
// Every denial at this layer is permanent: retrying the same event
// against the same state always produces the same answer. Transient
// conditions (missing dependencies, unfetched ancestors) are detected
// upstream in lib/graph before the rules run.
package authrules
