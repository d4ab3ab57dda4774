// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi exposes the event graph over HTTP: a client surface
// under /_loom/v1 and a federation surface under /_loom/federation/v1.
//
// The handlers are thin adapters. Client requests are translated into
// events built on the room's current forward extremities and submitted
// to the graph; federation requests deliver remote events through the
// backfiller or serve DAG walks to other servers. All protocol
// decisions — validation, authorization, conflict detection — live in
// lib/graph and lib/authrules; this package only maps admission
// results onto HTTP status codes.
//
// The client surface performs no caller authentication: the sender
// named in a request body is trusted. Deployments front the client
// port with their own access control. The federation surface likewise
// accepts transactions from any peer; remote events carry their own
// proof of integrity (content-addressed IDs) and every admission runs
// the full auth rules.
package httpapi
