// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/bureau-foundation/loom/lib/codec"
	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/ref"
	"github.com/bureau-foundation/loom/lib/state"
)

// storedEvent is the CBOR schema for a persisted event. The unsigned
// field is deliberately absent: it is mutable metadata and the store
// keeps only the immutable record. The fingerprint is a keyed BLAKE3
// of the canonical JSON, stored alongside the fields so conflict
// detection never re-canonicalizes on the read path.
type storedEvent struct {
	EventID        ref.EventID   `cbor:"event_id"`
	RoomID         ref.RoomID    `cbor:"room_id"`
	Sender         ref.UserID    `cbor:"sender"`
	Type           string        `cbor:"type"`
	StateKey       *string       `cbor:"state_key,omitempty"`
	Content        []byte        `cbor:"content"`
	PrevEvents     []ref.EventID `cbor:"prev_events,omitempty"`
	AuthEvents     []ref.EventID `cbor:"auth_events,omitempty"`
	Depth          int64         `cbor:"depth"`
	OriginServerTS int64         `cbor:"origin_server_ts"`
	Hashes         []byte        `cbor:"hashes,omitempty"`
	Signatures     []byte        `cbor:"signatures,omitempty"`
	Fingerprint    []byte        `cbor:"fingerprint"`
}

// encodeEvent seals an event into its stored record form and returns
// the record along with the event's content fingerprint.
func encodeEvent(e *event.Event, compression CompressionTag) ([]byte, event.Fingerprint, error) {
	fp, err := event.RecordFingerprint(e)
	if err != nil {
		return nil, event.Fingerprint{}, fmt.Errorf("fingerprint event %s: %w", e.EventID, err)
	}
	record := storedEvent{
		EventID:        e.EventID,
		RoomID:         e.RoomID,
		Sender:         e.Sender,
		Type:           e.Type,
		StateKey:       e.StateKey,
		Content:        e.Content,
		PrevEvents:     e.PrevEvents,
		AuthEvents:     e.AuthEvents,
		Depth:          e.Depth,
		OriginServerTS: e.OriginServerTS,
		Hashes:         e.Hashes,
		Signatures:     e.Signatures,
		Fingerprint:    fp[:],
	}
	raw, err := codec.Marshal(record)
	if err != nil {
		return nil, event.Fingerprint{}, fmt.Errorf("encode event %s: %w", e.EventID, err)
	}
	return sealRecord(raw, compression), fp, nil
}

// decodeEvent unseals a stored record back into an event and its
// persisted fingerprint.
func decodeEvent(sealed []byte) (*event.Event, event.Fingerprint, error) {
	raw, err := openRecord(sealed)
	if err != nil {
		return nil, event.Fingerprint{}, err
	}
	var record storedEvent
	if err := codec.Unmarshal(raw, &record); err != nil {
		return nil, event.Fingerprint{}, fmt.Errorf("decode event record: %w", err)
	}
	if len(record.Fingerprint) != len(event.Fingerprint{}) {
		return nil, event.Fingerprint{}, fmt.Errorf("event record %s: fingerprint is %d bytes, want %d",
			record.EventID, len(record.Fingerprint), len(event.Fingerprint{}))
	}
	var fp event.Fingerprint
	copy(fp[:], record.Fingerprint)

	e := &event.Event{
		EventID:        record.EventID,
		RoomID:         record.RoomID,
		Sender:         record.Sender,
		Type:           record.Type,
		StateKey:       record.StateKey,
		Content:        json.RawMessage(record.Content),
		PrevEvents:     record.PrevEvents,
		AuthEvents:     record.AuthEvents,
		Depth:          record.Depth,
		OriginServerTS: record.OriginServerTS,
		Hashes:         json.RawMessage(record.Hashes),
		Signatures:     json.RawMessage(record.Signatures),
	}
	return e, fp, nil
}

// storedSlot is one entry of a snapshot record.
type storedSlot struct {
	Type     string      `cbor:"type"`
	StateKey string      `cbor:"state_key"`
	EventID  ref.EventID `cbor:"event_id"`
}

// encodeSnapshot seals a resolved state. Slots are written in Compare
// order so identical snapshots produce identical records.
func encodeSnapshot(resolved state.ResolvedState, compression CompressionTag) ([]byte, error) {
	slots := make([]storedSlot, 0, len(resolved))
	for _, slot := range event.SortedSlots(resolved) {
		slots = append(slots, storedSlot{
			Type:     slot.Type,
			StateKey: slot.StateKey,
			EventID:  resolved[slot],
		})
	}
	raw, err := codec.Marshal(slots)
	if err != nil {
		return nil, fmt.Errorf("encode state snapshot: %w", err)
	}
	return sealRecord(raw, compression), nil
}

// decodeSnapshot unseals a resolved state.
func decodeSnapshot(sealed []byte) (state.ResolvedState, error) {
	raw, err := openRecord(sealed)
	if err != nil {
		return nil, err
	}
	var slots []storedSlot
	if err := codec.Unmarshal(raw, &slots); err != nil {
		return nil, fmt.Errorf("decode state snapshot: %w", err)
	}
	resolved := make(state.ResolvedState, len(slots))
	for _, slot := range slots {
		resolved[event.Slot{Type: slot.Type, StateKey: slot.StateKey}] = slot.EventID
	}
	return resolved, nil
}

// encodeExtremities seals a forward-extremity set, sorted for
// deterministic records.
func encodeExtremities(ids []ref.EventID, compression CompressionTag) ([]byte, error) {
	sorted := make([]string, len(ids))
	for i, id := range ids {
		sorted[i] = id.String()
	}
	slices.Sort(sorted)
	raw, err := codec.Marshal(sorted)
	if err != nil {
		return nil, fmt.Errorf("encode extremities: %w", err)
	}
	return sealRecord(raw, compression), nil
}

// decodeExtremities unseals a forward-extremity set.
func decodeExtremities(sealed []byte) ([]ref.EventID, error) {
	raw, err := openRecord(sealed)
	if err != nil {
		return nil, err
	}
	var stored []string
	if err := codec.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("decode extremities: %w", err)
	}
	ids := make([]ref.EventID, 0, len(stored))
	for _, s := range stored {
		id, err := ref.ParseEventID(s)
		if err != nil {
			return nil, fmt.Errorf("decode extremities: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
