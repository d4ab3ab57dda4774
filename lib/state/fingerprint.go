// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/loom/lib/ref"
)

// Fingerprint identifies a set of event IDs independent of order. It
// keys the resolved-state cache: the same forward-extremity set always
// produces the same fingerprint.
type Fingerprint [32]byte

// extremityKey domain-separates extremity-set fingerprints from the
// event record fingerprints in lib/event.
var extremityKey = [32]byte{'l', 'o', 'o', 'm', '.', 's', 't', 'a', 't', 'e', '.', 'e', 'x', 't', 'r', 'e', 'm', 'i', 't', 'y'}

// FingerprintOf hashes the ID set. IDs are sorted and NUL-delimited
// before hashing, so permutations of the same set collapse to one
// fingerprint and no two distinct sets share a byte stream.
func FingerprintOf(ids []ref.EventID) Fingerprint {
	sorted := make([]string, len(ids))
	for i, id := range ids {
		sorted[i] = id.String()
	}
	slices.Sort(sorted)

	hasher, err := blake3.NewKeyed(extremityKey[:])
	if err != nil {
		panic(fmt.Sprintf("blake3.NewKeyed: %v", err))
	}
	for _, id := range sorted {
		hasher.Write([]byte(id))
		hasher.Write([]byte{0})
	}
	var fp Fingerprint
	hasher.Sum(fp[:0])
	return fp
}

// String renders the fingerprint as lowercase hex.
func (f Fingerprint) String() string {
	return hex.EncodeToString(f[:])
}
