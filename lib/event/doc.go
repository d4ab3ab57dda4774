// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package event defines the room event envelope and its canonical
// serialization.
//
// An Event is a tagged envelope: fixed header fields (identifiers,
// DAG links, depth, timestamp) wrapping an opaque JSON content payload.
// The graph and the store never interpret content; only the auth rule
// engine and the API handlers do.
//
// Event IDs are content-addressed. The canonical serialization is the
// RFC 8785 (JCS) form of the event JSON with the event_id, hashes,
// signatures, and unsigned fields removed; the ID localpart is the
// unpadded URL-safe base64 of the SHA-256 over those bytes, and the
// server name is the sender's origin server. Identical content always
// re-derives the identical ID, which is what makes ingestion
// idempotent.
//
// The package also computes the keyed BLAKE3 record fingerprint the
// event store uses for divergent-content detection, and provides the
// Builder used by the local-send path to assemble well-formed events on
// top of a room's current forward extremities.
package event
