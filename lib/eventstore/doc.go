// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventstore persists room events and the bookkeeping the
// graph layer needs around them: per-room forward extremities,
// per-event state snapshots, a depth index for DAG walks, and the set
// of known rooms.
//
// Events are immutable once persisted. Persist is idempotent for
// identical content and fails with a ConflictError when the same event
// ID arrives carrying different content — content addressing makes
// that an integrity violation, never something to merge.
//
// Two implementations share a conformance suite: Badger for durable
// single-node deployments (synchronous writes, so a reported persist
// survives a crash) and Memory for tests. Both encode records as
// deterministic CBOR wrapped in a one-byte compression envelope.
package eventstore
