// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides loom's standard CBOR encoding configuration.
//
// Loom uses two serialization formats with a clear boundary:
//
//   - JSON for the wire: the Matrix event format, the HTTP API, and the
//     canonical serialization events are hashed over (lib/event).
//   - CBOR for storage: event records, state snapshots, and extremity
//     sets written to the event store.
//
// This package provides the shared CBOR encoding and decoding modes so
// that every loom package encodes identically without duplicating
// configuration. The encoder uses Core Deterministic Encoding (RFC 8949
// §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, which keeps stored records byte-stable across rewrites.
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// # Struct Tag Rules
//
// The struct tag on a type documents its serialization format:
//
//   - `cbor` tag: this type is ONLY ever serialized as CBOR
//     (storage-internal records).
//   - `json` tag: this type may be serialized as BOTH JSON and CBOR.
//     fxamacker/cbor v2 reads `json` tags as fallback when `cbor` tags
//     are absent, so a single `json` tag controls field naming and
//     omitempty for both formats (the event envelope works this way).
//
// Never use both `cbor` and `json` tags on the same field.
package codec
