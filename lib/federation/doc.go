// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package federation talks to remote homeservers.
//
// The Gateway interface is the surface the rest of the server sees:
// fetch one event, fetch an event's auth chain. Client implements it
// over HTTP with ed25519-signed X-Matrix request authorization.
// Backfiller drives admission of remote events whose ancestry is not
// yet stored locally, fetching missing dependencies through a Gateway
// until the event admits or the attempt budget runs out.
//
// The wire types for the federation HTTP surface (transactions,
// missing-event queries, state responses) also live here so the API
// layer and the client agree on one definition.
package federation
