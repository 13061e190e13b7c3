// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"encoding/binary"
	"sort"

	"github.com/Mehrbod2002/lance/lanceerr"
)

// Metadata is the small file-level struct persisted just before the
// trailing footer. BatchOffsets has length num_batches+1; the last
// element is the total row count of the file.
type Metadata struct {
	BatchOffsets        []int32
	PageTablePosition   uint64
	ManifestPosition    uint64
	HasManifestPosition bool
	// Reserved is the footer's second 8-byte field: opaque, preserved
	// byte-for-byte, never interpreted.
	Reserved uint64
}

// NumBatches returns the number of row-groups in the file.
func (m *Metadata) NumBatches() int {
	if len(m.BatchOffsets) == 0 {
		return 0
	}
	return len(m.BatchOffsets) - 1
}

// Len returns the total row count of the file.
func (m *Metadata) Len() int {
	if len(m.BatchOffsets) == 0 {
		return 0
	}
	return int(m.BatchOffsets[len(m.BatchOffsets)-1])
}

// IsEmpty reports whether the file has zero rows.
func (m *Metadata) IsEmpty() bool { return m.Len() == 0 }

// GetBatchLength returns the row count of one batch.
func (m *Metadata) GetBatchLength(batchID int32) (int32, bool) {
	if batchID < 0 || int(batchID) >= m.NumBatches() {
		return 0, false
	}
	return m.BatchOffsets[batchID+1] - m.BatchOffsets[batchID], true
}

// GetOffset returns the row offset of the first row of batchID within
// the file.
func (m *Metadata) GetOffset(batchID int32) (int32, bool) {
	if batchID < 0 || int(batchID) >= m.NumBatches() {
		return 0, false
	}
	return m.BatchOffsets[batchID], true
}

// BatchRange names a contiguous row range local to one batch.
type BatchRange struct {
	BatchID int32
	Start   int
	End     int // exclusive
}

// RangeToBatches partitions a file-global row range into one BatchRange
// per batch it crosses, in order.
func (m *Metadata) RangeToBatches(start, end int) ([]BatchRange, error) {
	if start < 0 || end < start || end > m.Len() {
		return nil, lanceerr.IOf(nil, "range [%d,%d) out of bounds for file of length %d", start, end, m.Len())
	}
	var out []BatchRange
	for b := 0; b < m.NumBatches(); b++ {
		lo := int(m.BatchOffsets[b])
		hi := int(m.BatchOffsets[b+1])
		rs := max(start, lo)
		re := min(end, hi)
		if rs < re {
			out = append(out, BatchRange{BatchID: int32(b), Start: rs - lo, End: re - lo})
		}
		if hi >= end {
			break
		}
	}
	return out, nil
}

// IndexGroup is a set of file-global indices, already rebased to local
// offsets, assigned to one batch.
type IndexGroup struct {
	BatchID int32
	Offsets []uint32
}

// GroupIndicesToBatches groups ascending file-global indices by the
// batch containing them, rebasing each group to local (batch-relative)
// offsets. indices must be ascending; behavior is unspecified otherwise.
func (m *Metadata) GroupIndicesToBatches(indices []uint32) []IndexGroup {
	var out []IndexGroup
	var cur *IndexGroup
	for _, idx := range indices {
		b := sort.Search(m.NumBatches(), func(i int) bool {
			return int(m.BatchOffsets[i+1]) > int(idx)
		})
		if cur == nil || cur.BatchID != int32(b) {
			out = append(out, IndexGroup{BatchID: int32(b)})
			cur = &out[len(out)-1]
		}
		cur.Offsets = append(cur.Offsets, idx-uint32(m.BatchOffsets[b]))
	}
	return out
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

const metadataTrailerSize = 16 // metadata_position (i64 LE) + reserved (i64 LE)

// EncodeMetadataTrailer serializes the 16-byte trailer immediately
// preceding the magic suffix: the absolute position of the Metadata
// struct, followed by the reserved field, both little-endian.
func EncodeMetadataTrailer(metadataPosition uint64, reserved uint64) []byte {
	buf := make([]byte, metadataTrailerSize)
	binary.LittleEndian.PutUint64(buf[0:8], metadataPosition)
	binary.LittleEndian.PutUint64(buf[8:16], reserved)
	return buf
}

// DecodeMetadataTrailer reads the 16-byte trailer immediately preceding
// the magic suffix.
func DecodeMetadataTrailer(buf []byte) (metadataPosition uint64, reserved uint64, err error) {
	if len(buf) < metadataTrailerSize {
		return 0, 0, lanceerr.IOf(nil, "metadata trailer: need %d bytes, got %d", metadataTrailerSize, len(buf))
	}
	metadataPosition = binary.LittleEndian.Uint64(buf[0:8])
	reserved = binary.LittleEndian.Uint64(buf[8:16])
	return metadataPosition, reserved, nil
}

// metadataBodyPrefixSize is the 8-byte declared-length prefix on the
// Metadata struct itself, read the same way as the manifest's 4-byte
// prefix but wider since batch_offsets can grow past a 32-bit byte
// count for files with many batches.
const metadataBodyPrefixSize = 8

// EncodeMetadataBody serializes the Metadata struct persisted at
// metadata_position: an 8-byte declared length, then num_batches (u32),
// batch_offsets (num_batches+1 little-endian i32), page_table_position
// (u64), a presence byte, and manifest_position (u64, meaningful only
// when the presence byte is 1).
func EncodeMetadataBody(m *Metadata) []byte {
	body := make([]byte, 0, 4+len(m.BatchOffsets)*4+8+1+8)
	var numBatches [4]byte
	binary.LittleEndian.PutUint32(numBatches[:], uint32(m.NumBatches()))
	body = append(body, numBatches[:]...)
	for _, off := range m.BatchOffsets {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(off))
		body = append(body, b[:]...)
	}
	var ptp [8]byte
	binary.LittleEndian.PutUint64(ptp[:], m.PageTablePosition)
	body = append(body, ptp[:]...)
	if m.HasManifestPosition {
		body = append(body, 1)
	} else {
		body = append(body, 0)
	}
	var mp [8]byte
	binary.LittleEndian.PutUint64(mp[:], m.ManifestPosition)
	body = append(body, mp[:]...)

	out := make([]byte, metadataBodyPrefixSize+len(body))
	binary.LittleEndian.PutUint64(out[:metadataBodyPrefixSize], uint64(len(body)))
	copy(out[metadataBodyPrefixSize:], body)
	return out
}

// DecodeMetadataBody parses a buffer beginning at metadata_position,
// which must contain at least the full declared body. Returns the
// Metadata and the total size on disk (prefix + body), so callers can
// locate what immediately precedes it.
func DecodeMetadataBody(buf []byte) (*Metadata, int, error) {
	if len(buf) < metadataBodyPrefixSize {
		return nil, 0, lanceerr.IOf(nil, "metadata: buffer shorter than declared-length prefix")
	}
	declared := binary.LittleEndian.Uint64(buf[:metadataBodyPrefixSize])
	body := buf[metadataBodyPrefixSize:]
	if uint64(len(body)) < declared {
		return nil, 0, lanceerr.IOf(nil, "metadata: declared length %d exceeds available %d bytes", declared, len(body))
	}
	body = body[:declared]

	if len(body) < 4 {
		return nil, 0, lanceerr.IOf(nil, "metadata: truncated num_batches")
	}
	numBatches := binary.LittleEndian.Uint32(body[:4])
	body = body[4:]

	offsetsLen := int(numBatches+1) * 4
	if len(body) < offsetsLen {
		return nil, 0, lanceerr.IOf(nil, "metadata: truncated batch_offsets")
	}
	offsets := make([]int32, numBatches+1)
	for i := range offsets {
		offsets[i] = int32(binary.LittleEndian.Uint32(body[i*4 : i*4+4]))
	}
	body = body[offsetsLen:]

	if len(body) < 8+1+8 {
		return nil, 0, lanceerr.IOf(nil, "metadata: truncated trailer fields")
	}
	pageTablePosition := binary.LittleEndian.Uint64(body[:8])
	hasManifest := body[8] == 1
	manifestPosition := binary.LittleEndian.Uint64(body[9:17])

	m := &Metadata{
		BatchOffsets:        offsets,
		PageTablePosition:   pageTablePosition,
		HasManifestPosition: hasManifest,
		ManifestPosition:    manifestPosition,
	}
	return m, metadataBodyPrefixSize + int(declared), nil
}
