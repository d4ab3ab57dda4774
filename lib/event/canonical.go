// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/loom/lib/ref"
)

// MaxCanonicalBytes is the upper bound on an event's canonical
// serialization. Events above it are rejected as malformed before any
// graph work happens, so a single oversized event cannot bloat state
// snapshots or federation transactions.
const MaxCanonicalBytes = 65536

// canonicalEvent is the subset of Event fields covered by the content
// address. Field order is irrelevant: JCS sorts object keys.
type canonicalEvent struct {
	AuthEvents     []ref.EventID   `json:"auth_events"`
	Content        json.RawMessage `json:"content"`
	Depth          int64           `json:"depth"`
	OriginServerTS int64           `json:"origin_server_ts"`
	PrevEvents     []ref.EventID   `json:"prev_events"`
	RoomID         ref.RoomID      `json:"room_id"`
	Sender         ref.UserID      `json:"sender"`
	StateKey       *string         `json:"state_key,omitempty"`
	Type           string          `json:"type"`
}

// CanonicalJSON returns the event's canonical serialization: the
// RFC 8785 form of the event with event_id, hashes, signatures, and
// unsigned removed. Nil DAG link slices and nil content normalize to
// empty so that a freshly built create event and one round-tripped
// through JSON canonicalize identically.
func CanonicalJSON(e *Event) ([]byte, error) {
	ce := canonicalEvent{
		AuthEvents:     e.AuthEvents,
		Content:        e.Content,
		Depth:          e.Depth,
		OriginServerTS: e.OriginServerTS,
		PrevEvents:     e.PrevEvents,
		RoomID:         e.RoomID,
		Sender:         e.Sender,
		StateKey:       e.StateKey,
		Type:           e.Type,
	}
	if ce.AuthEvents == nil {
		ce.AuthEvents = []ref.EventID{}
	}
	if ce.PrevEvents == nil {
		ce.PrevEvents = []ref.EventID{}
	}
	if len(ce.Content) == 0 {
		ce.Content = json.RawMessage("{}")
	}
	raw, err := json.Marshal(ce)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical event: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize event: %w", err)
	}
	if len(canonical) > MaxCanonicalBytes {
		return nil, fmt.Errorf("event canonical form is %d bytes, limit %d", len(canonical), MaxCanonicalBytes)
	}
	return canonical, nil
}

// ReferenceHash returns the SHA-256 of the event's canonical
// serialization. This is the protocol-visible hash: it seeds the event
// ID localpart and the hashes.sha256 wire field.
func ReferenceHash(e *Event) ([32]byte, error) {
	canonical, err := CanonicalJSON(e)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(canonical), nil
}

// DeriveEventID computes the content-addressed ID for the event: the
// unpadded URL-safe base64 of the reference hash, domained with the
// sender's origin server.
func DeriveEventID(e *Event) (ref.EventID, error) {
	if e.Sender.IsZero() {
		return ref.EventID{}, fmt.Errorf("derive event ID: event has no sender")
	}
	hash, err := ReferenceHash(e)
	if err != nil {
		return ref.EventID{}, err
	}
	localpart := base64.RawURLEncoding.EncodeToString(hash[:])
	return ref.NewEventID(localpart, e.Sender.Server()), nil
}

// VerifyEventID recomputes the event's content-addressed ID and checks
// it against the carried one. A mismatch means the content was altered
// after the ID was minted and the event must be rejected as malformed.
func VerifyEventID(e *Event) error {
	if e.EventID.IsZero() {
		return fmt.Errorf("event has no event_id")
	}
	derived, err := DeriveEventID(e)
	if err != nil {
		return err
	}
	if derived != e.EventID {
		return fmt.Errorf("event_id %s does not match content (derived %s)", e.EventID, derived)
	}
	return nil
}

// HashesJSON renders the wire hashes object for the event:
// {"sha256": "<unpadded base64 of the reference hash>"}.
func HashesJSON(e *Event) (json.RawMessage, error) {
	hash, err := ReferenceHash(e)
	if err != nil {
		return nil, err
	}
	obj := map[string]string{"sha256": base64.RawStdEncoding.EncodeToString(hash[:])}
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("marshal hashes: %w", err)
	}
	return raw, nil
}

// Fingerprint is a keyed BLAKE3 hash over an event's canonical bytes.
// The store uses it to detect divergent content behind a reused event
// ID; it never leaves the process and is distinct from the
// protocol-visible SHA-256 family.
type Fingerprint [32]byte

// recordKey domain-separates event record fingerprints from every
// other keyed hash in the codebase.
var recordKey = [32]byte{'l', 'o', 'o', 'm', '.', 'e', 'v', 'e', 'n', 't', '.', 'r', 'e', 'c', 'o', 'r', 'd'}

// RecordFingerprint computes the store-internal fingerprint of the
// event's canonical bytes.
func RecordFingerprint(e *Event) (Fingerprint, error) {
	canonical, err := CanonicalJSON(e)
	if err != nil {
		return Fingerprint{}, err
	}
	return keyedHash(recordKey, canonical), nil
}

func keyedHash(key [32]byte, data []byte) Fingerprint {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic(fmt.Sprintf("blake3.NewKeyed: %v", err))
	}
	hasher.Write(data)
	var fp Fingerprint
	hasher.Sum(fp[:0])
	return fp
}

// FormatFingerprint renders a fingerprint as lowercase hex.
func FormatFingerprint(fp Fingerprint) string {
	return hex.EncodeToString(fp[:])
}

// ParseFingerprint parses a lowercase hex fingerprint.
func ParseFingerprint(s string) (Fingerprint, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("invalid fingerprint %q: %w", s, err)
	}
	if len(raw) != 32 {
		return Fingerprint{}, fmt.Errorf("invalid fingerprint %q: got %d bytes, want 32", s, len(raw))
	}
	var fp Fingerprint
	copy(fp[:], raw)
	return fp, nil
}
