// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package eventstore

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionTag identifies the algorithm a stored record's payload
// was compressed with. The tag is the first byte of every record on
// disk — the values are format constants; changing them orphans
// existing databases.
type CompressionTag uint8

const (
	// CompressionNone stores the payload verbatim. Also the fallback
	// whenever compression fails to shrink the payload.
	CompressionNone CompressionTag = 0

	// CompressionLZ4 uses LZ4 block compression: modest ratios at
	// very low decode cost.
	CompressionLZ4 CompressionTag = 1

	// CompressionZstd uses zstd at the default level. Event records
	// are small CBOR documents full of repeated identifiers, which
	// zstd handles well.
	CompressionZstd CompressionTag = 2
)

// String returns the tag's configuration name.
func (tag CompressionTag) String() string {
	switch tag {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// ParseCompressionTag parses a configuration name into a tag.
func ParseCompressionTag(name string) (CompressionTag, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, lz4, or zstd)", name)
	}
}

// maxRecordSize bounds the claimed uncompressed size of a record. A
// record near this bound is already corrupt — canonical events top out
// at 64 KiB — so the limit only has to stop a forged header from
// driving a giant allocation.
const maxRecordSize = 1 << 26

// errIncompressible reports that compression would not shrink the
// payload; the caller stores it uncompressed instead.
var errIncompressible = errors.New("payload is incompressible")

// sealRecord wraps an encoded record for storage:
//
//	[1 byte tag][uvarint uncompressed size][payload]
//
// The payload is compressed with the preferred algorithm when that
// makes it smaller, and stored verbatim under CompressionNone
// otherwise.
func sealRecord(raw []byte, preferred CompressionTag) []byte {
	payload := raw
	tag := CompressionNone
	if preferred != CompressionNone {
		if compressed, err := compressPayload(raw, preferred); err == nil {
			payload = compressed
			tag = preferred
		}
	}
	sealed := make([]byte, 0, 1+binary.MaxVarintLen64+len(payload))
	sealed = append(sealed, byte(tag))
	sealed = binary.AppendUvarint(sealed, uint64(len(raw)))
	return append(sealed, payload...)
}

// openRecord unwraps a sealed record and returns the raw encoded
// bytes.
func openRecord(sealed []byte) ([]byte, error) {
	if len(sealed) < 2 {
		return nil, fmt.Errorf("record truncated: %d bytes", len(sealed))
	}
	tag := CompressionTag(sealed[0])
	size, n := binary.Uvarint(sealed[1:])
	if n <= 0 {
		return nil, errors.New("record header: invalid size varint")
	}
	if size > maxRecordSize {
		return nil, fmt.Errorf("record header claims %d bytes, limit %d", size, maxRecordSize)
	}
	payload := sealed[1+n:]

	switch tag {
	case CompressionNone:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("uncompressed record: %d payload bytes, header claims %d", len(payload), size)
		}
		return payload, nil
	case CompressionLZ4:
		raw := make([]byte, size)
		read, err := lz4.UncompressBlock(payload, raw)
		if err != nil {
			return nil, fmt.Errorf("lz4 record: %w", err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("lz4 record: got %d bytes, header claims %d", read, size)
		}
		return raw, nil
	case CompressionZstd:
		raw, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd record: %w", err)
		}
		if uint64(len(raw)) != size {
			return nil, fmt.Errorf("zstd record: got %d bytes, header claims %d", len(raw), size)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("record compressed with unknown tag %d", uint8(tag))
	}
}

func compressPayload(raw []byte, tag CompressionTag) ([]byte, error) {
	switch tag {
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(raw)))
		written, err := lz4.CompressBlock(raw, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// CompressBlock signals incompressible input by writing zero
		// bytes; a result no smaller than the input is treated the
		// same way.
		if written == 0 || written >= len(raw) {
			return nil, errIncompressible
		}
		return destination[:written], nil
	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(raw, nil)
		if len(compressed) >= len(raw) {
			return nil, errIncompressible
		}
		return compressed, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag %d", uint8(tag))
	}
}

// zstdEncoder and zstdDecoder are shared across calls; both are safe
// for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("eventstore: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("eventstore: zstd decoder initialization failed: " + err.Error())
	}
}
