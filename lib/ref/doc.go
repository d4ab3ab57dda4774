// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ref provides strongly typed, immutable identity references for
// the Matrix identifiers loom handles: event IDs, room IDs, user IDs,
// and server names.
//
// Every identifier is validated at the boundary where the raw string
// enters the process (wire JSON, configuration, CLI flags) and passed
// through as a typed value afterwards. Core packages never re-parse or
// string-match identifiers; they compare and map on the value types.
//
// All constructors validate their inputs and return errors for invalid
// names. Once constructed, a ref is immutable. The zero value of every
// type is invalid and detectable via IsZero.
//
// JSON marshaling uses the canonical Matrix string form via
// encoding.TextMarshaler:
//   - EventID: $localpart:server
//   - RoomID:  !localpart:server
//   - UserID:  @localpart:server
package ref
