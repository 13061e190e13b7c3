// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lanceio

// ParamsKind discriminates the ReadBatchParams sum type.
type ParamsKind int

const (
	KindRange ParamsKind = iota
	KindRangeTo
	KindRangeFrom
	KindRangeFull
	KindIndices
)

// ReadBatchParams selects rows within a single batch. Exactly one of
// the five shapes applies, named by Kind; fields outside that shape are
// unused. Indices must be ascending (see take's precondition).
type ReadBatchParams struct {
	Kind    ParamsKind
	Start   uint32
	End     uint32
	Indices []uint32
}

func Range(start, end uint32) ReadBatchParams {
	return ReadBatchParams{Kind: KindRange, Start: start, End: end}
}

func RangeTo(end uint32) ReadBatchParams {
	return ReadBatchParams{Kind: KindRangeTo, End: end}
}

func RangeFrom(start uint32) ReadBatchParams {
	return ReadBatchParams{Kind: KindRangeFrom, Start: start}
}

func RangeFull() ReadBatchParams {
	return ReadBatchParams{Kind: KindRangeFull}
}

func Indices(idx []uint32) ReadBatchParams {
	return ReadBatchParams{Kind: KindIndices, Indices: idx}
}

// RowCount computes the number of rows params selects out of a page of
// pageLength elements, with no I/O.
func RowCount(p ReadBatchParams, pageLength uint32) uint32 {
	switch p.Kind {
	case KindRange:
		return p.End - p.Start
	case KindRangeTo:
		return p.End
	case KindRangeFrom:
		return pageLength - p.Start
	case KindRangeFull:
		return pageLength
	case KindIndices:
		return uint32(len(p.Indices))
	default:
		return 0
	}
}

// LocalOffsets expands params into the explicit 0-based row offsets it
// selects within the batch, used by _rowid synthesis.
func LocalOffsets(p ReadBatchParams, pageLength uint32) []uint32 {
	switch p.Kind {
	case KindRange:
		out := make([]uint32, 0, p.End-p.Start)
		for i := p.Start; i < p.End; i++ {
			out = append(out, i)
		}
		return out
	case KindRangeTo:
		out := make([]uint32, 0, p.End)
		for i := uint32(0); i < p.End; i++ {
			out = append(out, i)
		}
		return out
	case KindRangeFrom:
		out := make([]uint32, 0, pageLength-p.Start)
		for i := p.Start; i < pageLength; i++ {
			out = append(out, i)
		}
		return out
	case KindRangeFull:
		out := make([]uint32, 0, pageLength)
		for i := uint32(0); i < pageLength; i++ {
			out = append(out, i)
		}
		return out
	case KindIndices:
		return p.Indices
	default:
		return nil
	}
}

// WidenByOne extends params to request one additional trailing element,
// used by list readers that must fetch N+1 offsets for N rows.
func WidenByOne(p ReadBatchParams) ReadBatchParams {
	switch p.Kind {
	case KindRange:
		return Range(p.Start, p.End+1)
	case KindRangeTo:
		return RangeTo(p.End + 1)
	case KindRangeFrom:
		// RangeFrom already runs to the page end; the caller must read one
		// extra offset from the full page, so it is left as-is and the
		// offset reader treats pageLength+1 as the upper bound.
		return p
	case KindRangeFull:
		// Same reasoning as RangeFrom: the offset page itself has
		// pageLength+1 entries; RangeFull already covers them all.
		return p
	case KindIndices:
		if len(p.Indices) == 0 {
			return p
		}
		min, max := p.Indices[0], p.Indices[0]
		for _, v := range p.Indices {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		window := make([]uint32, 0, max-min+2)
		for i := min; i <= max+1; i++ {
			window = append(window, i)
		}
		return Indices(window)
	default:
		return p
	}
}

// ValueRange is the derived byte/element range (in the value array) a
// list reader must fetch after resolving offsets, plus the per-row
// slices needed to rebuild a compact offset array for Indices params.
type ValueRange struct {
	Start int64
	End   int64
	// Slices holds one [start,end) pair per requested row, present only
	// when the originating params were Indices; Range-shaped params need
	// only Start/End since the fetched run is already contiguous.
	Slices [][2]int64
}

// DeriveValueParams computes the value-array range (and, for Indices,
// per-row slices) from already-fetched offsets. offsets has
// RowCount(widened params)+0 or +1 entries depending on shape, as
// produced by an offset page read under WidenByOne(p).
func DeriveValueParams(p ReadBatchParams, offsets []int64) ValueRange {
	if p.Kind != KindIndices {
		if len(offsets) == 0 {
			return ValueRange{}
		}
		return ValueRange{Start: offsets[0], End: offsets[len(offsets)-1]}
	}
	if len(p.Indices) == 0 {
		return ValueRange{}
	}
	base := p.Indices[0]
	slices := make([][2]int64, len(p.Indices))
	for i, idx := range p.Indices {
		lo := idx - base
		slices[i] = [2]int64{offsets[lo], offsets[lo+1]}
	}
	return ValueRange{Slices: slices}
}
