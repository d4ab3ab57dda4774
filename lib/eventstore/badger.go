// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/bureau-foundation/loom/lib/event"
	"github.com/bureau-foundation/loom/lib/ref"
	"github.com/bureau-foundation/loom/lib/state"
)

// Key layout. Every key is prefix + human-readable identifier, with
// the depth index carrying a big-endian depth so lexicographic key
// order is depth order:
//
//	ev/<event_id>                      sealed event record
//	dep/<room_id>/<depth:be64>/<event_id>  depth index (empty value)
//	ext/<room_id>                      sealed extremity set
//	st/<event_id>                      sealed state snapshot
//	room/<room_id>                     known-room marker (empty value)
const (
	prefixEvent     = "ev/"
	prefixDepth     = "dep/"
	prefixExtremity = "ext/"
	prefixSnapshot  = "st/"
	prefixRoom      = "room/"
)

// BadgerOptions configures the durable store.
type BadgerOptions struct {
	// Path is the database directory, created if absent.
	Path string

	// Compression selects the record compression algorithm. The zero
	// value stores records uncompressed; the server config defaults
	// this to zstd.
	Compression CompressionTag

	// ReadOnly opens the database without write access, for the
	// inspection tools. Opening read-only fails if the database does
	// not exist.
	ReadOnly bool
}

// Badger is the durable Store. Writes are synchronous: when Persist
// returns, the record is on disk, which is what lets the graph report
// an admission as accepted.
type Badger struct {
	db          *badger.DB
	compression CompressionTag
}

// OpenBadger opens (creating if needed) the database at the configured
// path.
func OpenBadger(options BadgerOptions) (*Badger, error) {
	if options.Path == "" {
		return nil, errors.New("eventstore: database path is required")
	}
	dbOptions := badger.DefaultOptions(options.Path).
		WithSyncWrites(true).
		WithReadOnly(options.ReadOnly).
		WithLogger(nil)
	db, err := badger.Open(dbOptions)
	if err != nil {
		return nil, fmt.Errorf("open event store at %s: %w", options.Path, err)
	}
	return &Badger{db: db, compression: options.Compression}, nil
}

// Persist implements Store.
func (b *Badger) Persist(ctx context.Context, e *event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sealed, fp, err := encodeEvent(e, b.compression)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(eventKey(e.EventID))
		switch {
		case err == nil:
			stored, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read stored event %s: %w", e.EventID, err)
			}
			_, storedFP, err := decodeEvent(stored)
			if err != nil {
				return fmt.Errorf("stored event %s unreadable: %w", e.EventID, err)
			}
			if storedFP != fp {
				return &ConflictError{EventID: e.EventID, Stored: storedFP, Incoming: fp}
			}
			return nil
		case errors.Is(err, badger.ErrKeyNotFound):
			// First sighting; fall through to the write.
		default:
			return fmt.Errorf("probe event %s: %w", e.EventID, err)
		}

		if err := txn.Set(eventKey(e.EventID), sealed); err != nil {
			return fmt.Errorf("write event %s: %w", e.EventID, err)
		}
		if err := txn.Set(depthKey(e.RoomID, e.Depth, e.EventID), nil); err != nil {
			return fmt.Errorf("index event %s: %w", e.EventID, err)
		}
		if err := txn.Set(roomKey(e.RoomID), nil); err != nil {
			return fmt.Errorf("mark room %s: %w", e.RoomID, err)
		}
		return nil
	})
}

// Event implements Store.
func (b *Badger) Event(ctx context.Context, id ref.EventID) (*event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sealed []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(eventKey(id))
		if err != nil {
			return err
		}
		sealed, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("event %s: %w", id, ErrEventNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read event %s: %w", id, err)
	}
	e, _, err := decodeEvent(sealed)
	return e, err
}

// Has implements Store.
func (b *Badger) Has(ctx context.Context, id ref.EventID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(eventKey(id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe event %s: %w", id, err)
	}
	return true, nil
}

// ForwardExtremities implements Store.
func (b *Badger) ForwardExtremities(ctx context.Context, roomID ref.RoomID) ([]ref.EventID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sealed []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(extremityKey(roomID))
		if err != nil {
			return err
		}
		sealed, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read extremities of %s: %w", roomID, err)
	}
	return decodeExtremities(sealed)
}

// SetForwardExtremities implements Store.
func (b *Badger) SetForwardExtremities(ctx context.Context, roomID ref.RoomID, ids []ref.EventID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sealed, err := encodeExtremities(ids, b.compression)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(extremityKey(roomID), sealed)
	})
}

// EventsByDepthRange implements Store.
func (b *Badger) EventsByDepthRange(ctx context.Context, roomID ref.RoomID, minDepth, maxDepth int64, limit int) ([]*event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if minDepth < 0 {
		minDepth = 0
	}
	events := make([]*event.Event, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		iterOptions := badger.DefaultIteratorOptions
		iterOptions.PrefetchValues = false
		it := txn.NewIterator(iterOptions)
		defer it.Close()

		prefix := []byte(prefixDepth + roomID.String() + "/")
		seek := depthKey(roomID, minDepth, ref.EventID{})
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			depth, id, err := parseDepthKey(it.Item().Key(), len(prefix))
			if err != nil {
				return err
			}
			if depth > maxDepth {
				break
			}
			item, err := txn.Get(eventKey(id))
			if err != nil {
				return fmt.Errorf("depth index names missing event %s: %w", id, err)
			}
			sealed, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			e, _, err := decodeEvent(sealed)
			if err != nil {
				return err
			}
			events = append(events, e)
			if limit > 0 && len(events) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("depth scan of %s: %w", roomID, err)
	}
	return events, nil
}

// PutStateSnapshot implements Store.
func (b *Badger) PutStateSnapshot(ctx context.Context, id ref.EventID, resolved state.ResolvedState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sealed, err := encodeSnapshot(resolved, b.compression)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(id), sealed)
	})
}

// StateSnapshot implements Store.
func (b *Badger) StateSnapshot(ctx context.Context, id ref.EventID) (state.ResolvedState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var sealed []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(id))
		if err != nil {
			return err
		}
		sealed, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("event %s: %w", id, ErrSnapshotNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot of %s: %w", id, err)
	}
	return decodeSnapshot(sealed)
}

// Rooms implements Store.
func (b *Badger) Rooms(ctx context.Context) ([]ref.RoomID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rooms := make([]ref.RoomID, 0)
	err := b.db.View(func(txn *badger.Txn) error {
		iterOptions := badger.DefaultIteratorOptions
		iterOptions.PrefetchValues = false
		it := txn.NewIterator(iterOptions)
		defer it.Close()

		prefix := []byte(prefixRoom)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			roomID, err := ref.ParseRoomID(string(it.Item().Key()[len(prefix):]))
			if err != nil {
				return fmt.Errorf("corrupt room key: %w", err)
			}
			rooms = append(rooms, roomID)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// RawRecord returns the event's stored record as raw CBOR bytes along
// with the compression tag it was sealed under. Inspection surface for
// loom-inspect; the graph never reads records this way.
func (b *Badger) RawRecord(ctx context.Context, id ref.EventID) ([]byte, CompressionTag, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	var sealed []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(eventKey(id))
		if err != nil {
			return err
		}
		sealed, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, 0, fmt.Errorf("event %s: %w", id, ErrEventNotFound)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("read event %s: %w", id, err)
	}
	raw, err := openRecord(sealed)
	if err != nil {
		return nil, 0, err
	}
	return raw, CompressionTag(sealed[0]), nil
}

// RunGC runs one round of Badger value-log garbage collection.
// Returns true when a log file was rewritten, in which case another
// round may reclaim more. The server calls this periodically; it is
// never required for correctness.
func (b *Badger) RunGC() (bool, error) {
	err := b.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("value log gc: %w", err)
	}
	return true, nil
}

// Close implements Store.
func (b *Badger) Close() error {
	return b.db.Close()
}

func eventKey(id ref.EventID) []byte {
	return []byte(prefixEvent + id.String())
}

func extremityKey(roomID ref.RoomID) []byte {
	return []byte(prefixExtremity + roomID.String())
}

func snapshotKey(id ref.EventID) []byte {
	return []byte(prefixSnapshot + id.String())
}

func roomKey(roomID ref.RoomID) []byte {
	return []byte(prefixRoom + roomID.String())
}

// depthKey builds a depth-index key. A zero event ID yields the seek
// position for the first entry at the given depth.
func depthKey(roomID ref.RoomID, depth int64, id ref.EventID) []byte {
	room := roomID.String()
	key := make([]byte, 0, len(prefixDepth)+len(room)+1+8+1+len(id.String()))
	key = append(key, prefixDepth...)
	key = append(key, room...)
	key = append(key, '/')
	key = binary.BigEndian.AppendUint64(key, uint64(depth))
	key = append(key, '/')
	if !id.IsZero() {
		key = append(key, id.String()...)
	}
	return key
}

// parseDepthKey recovers depth and event ID from a depth-index key.
// prefixLen is the length of "dep/<room_id>/".
func parseDepthKey(key []byte, prefixLen int) (int64, ref.EventID, error) {
	rest := key[prefixLen:]
	if len(rest) < 8+1 {
		return 0, ref.EventID{}, fmt.Errorf("corrupt depth key %q", key)
	}
	depth := int64(binary.BigEndian.Uint64(rest[:8]))
	id, err := ref.ParseEventID(string(rest[9:]))
	if err != nil {
		return 0, ref.EventID{}, fmt.Errorf("corrupt depth key %q: %w", key, err)
	}
	return depth, id, nil
}
