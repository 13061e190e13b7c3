// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"encoding/binary"

	"github.com/Mehrbod2002/lance/lanceerr"
)

// PageInfo locates the bytes of one (field, batch) cell. Position is an
// absolute byte offset within the file; Length is an element count, not
// a byte count.
type PageInfo struct {
	Position uint64
	Length   uint64
}

const pageInfoWireSize = 16 // two little-endian u64s, no padding.

// PageTable is a dense num_columns x num_batches matrix of PageInfo,
// stored column-major on the wire exactly as it is held in memory. Get
// must be O(1): it is on the hot path of every field read.
type PageTable struct {
	numColumns int
	numBatches int
	entries    []PageInfo // column-major: entries[fieldID*numBatches+batchID]
}

// DecodePageTable parses the dense matrix persisted at
// Metadata.PageTablePosition. buf must contain at least
// numColumns*numBatches PageInfo entries; any trailing bytes are ignored.
func DecodePageTable(buf []byte, numColumns, numBatches int) (*PageTable, error) {
	want := numColumns * numBatches * pageInfoWireSize
	if len(buf) < want {
		return nil, lanceerr.IOf(nil, "page table: expected %d bytes for %dx%d matrix, got %d", want, numColumns, numBatches, len(buf))
	}
	entries := make([]PageInfo, numColumns*numBatches)
	for i := range entries {
		off := i * pageInfoWireSize
		entries[i] = PageInfo{
			Position: binary.LittleEndian.Uint64(buf[off : off+8]),
			Length:   binary.LittleEndian.Uint64(buf[off+8 : off+16]),
		}
	}
	return &PageTable{numColumns: numColumns, numBatches: numBatches, entries: entries}, nil
}

// Get returns the PageInfo for (fieldID, batchID). Fields whose id
// exceeds the stored column count (e.g. the synthetic _rowid column)
// must never be looked up here.
func (pt *PageTable) Get(fieldID int32, batchID int32) (PageInfo, error) {
	if fieldID < 0 || int(fieldID) >= pt.numColumns || batchID < 0 || int(batchID) >= pt.numBatches {
		return PageInfo{}, lanceerr.IOf(nil, "no page info found for field=%d batch=%d", fieldID, batchID)
	}
	return pt.entries[int(fieldID)*pt.numBatches+int(batchID)], nil
}

// NumColumns returns the column dimension of the matrix.
func (pt *PageTable) NumColumns() int { return pt.numColumns }

// NumBatches returns the batch dimension of the matrix.
func (pt *PageTable) NumBatches() int { return pt.numBatches }

// EncodePageTable serializes the matrix back to its column-major wire
// form. Used by tests that round-trip a table without a real writer.
func EncodePageTable(pt *PageTable) []byte {
	buf := make([]byte, len(pt.entries)*pageInfoWireSize)
	for i, e := range pt.entries {
		off := i * pageInfoWireSize
		binary.LittleEndian.PutUint64(buf[off:off+8], e.Position)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], e.Length)
	}
	return buf
}

// NewPageTable builds a PageTable from a pre-populated column-major
// entries slice, for tests and in-process writers.
func NewPageTable(numColumns, numBatches int, entries []PageInfo) *PageTable {
	return &PageTable{numColumns: numColumns, numBatches: numBatches, entries: entries}
}
