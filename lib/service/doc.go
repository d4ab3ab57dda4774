// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides HTTP serving scaffolding for the loom
// server.
//
// The loom server is a standalone Go binary serving two HTTP surfaces
// on one TCP listener: the client API (room creation, event
// submission, state queries) and the federation API (transaction
// ingestion, event retrieval, backfill). This package owns the
// listener lifecycle — bind, readiness signaling, graceful shutdown —
// while the caller provides the http.Handler (routing, authentication,
// request processing).
//
// Serve(ctx) blocks until the context is cancelled, then stops
// accepting new connections and waits for in-flight requests to
// drain. The Ready channel closes once the listener is bound, which
// lets tests and orchestration bind to port 0 and read the resolved
// address from Addr.
package service
