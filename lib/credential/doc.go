// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential manages the server's ed25519 signing key.
//
// The key lives in a single file using the conventional homeserver
// signing key format: one line of the form
//
//	ed25519 <version> <unpadded base64 seed>
//
// The version names the key in signature identifiers ("ed25519:a0")
// so a server can rotate keys without invalidating signatures made
// with older ones. The federation gateway signs outbound requests
// with this key; the event pipeline itself never touches it.
package credential
