// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lanceio

import (
	"context"
	"math/bits"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"

	"github.com/Mehrbod2002/lance/format"
	"github.com/Mehrbod2002/lance/lanceerr"
)

// PageLookup resolves a field id to its PageInfo for the batch the
// caller is currently materializing. Struct and list readers use it to
// find their children's pages without threading a batch id through
// every recursive call.
type PageLookup func(fieldID int32) (format.PageInfo, error)

// Physical page layout, chosen for this format (not interop with any
// other file): a nullable field's page begins with a ceil(N/8)-byte
// validity bitmap (1 = valid, matching Arrow's convention), followed by
// the data region; non-nullable fields omit the bitmap entirely. N is
// always page.Length, independent of the rows actually requested.
// Offset-bearing fields (binary-like, list/large_list) store N+1
// offsets of the declared width immediately after the bitmap; value
// bytes for binary-like fields follow the offsets. List/large_list
// fields store only offsets in their own page; item values live under
// the child field's own (field_id, batch_id) page table entry.
func bitmapBytes(n int) int { return (n + 7) / 8 }

func readBitmap(ctx context.Context, store ObjectStore, path string, position uint64, n int) (*memory.Buffer, int, error) {
	if n == 0 {
		return nil, 0, nil
	}
	raw, err := store.ReadAt(ctx, path, int64(position), int64(bitmapBytes(n)))
	if err != nil {
		return nil, 0, lanceerr.IOf(err, "read validity bitmap at %d", position)
	}
	nullCount := 0
	full := n / 8
	for i := 0; i < full; i++ {
		nullCount += 8 - bits.OnesCount8(raw[i])
	}
	if rem := n % 8; rem != 0 {
		mask := byte(1<<rem) - 1
		nullCount += rem - bits.OnesCount8(raw[full]&mask)
	}
	return memory.NewBufferBytes(raw), nullCount, nil
}

// gatherBitmap extracts a validity sub-bitmap for an arbitrary set of
// row indices (used for Indices-shaped reads), always producing a
// freshly packed bitmap starting at bit 0.
func gatherBitmap(full []byte, rows []uint32) (*memory.Buffer, int) {
	out := make([]byte, bitmapBytes(len(rows)))
	nullCount := 0
	for i, r := range rows {
		bit := full[r/8] >> (r % 8) & 1
		if bit == 1 {
			out[i/8] |= 1 << (i % 8)
		} else {
			nullCount++
		}
	}
	return memory.NewBufferBytes(out), nullCount
}

func sliceBitmap(full []byte, start, end int) (*memory.Buffer, int) {
	n := end - start
	out := make([]byte, bitmapBytes(n))
	nullCount := 0
	for i := 0; i < n; i++ {
		r := start + i
		bit := full[r/8] >> (r % 8) & 1
		if bit == 1 {
			out[i/8] |= 1 << (i % 8)
		} else {
			nullCount++
		}
	}
	return memory.NewBufferBytes(out), nullCount
}

// elementByteWidth returns the on-disk stride of one element of dt,
// recursing through fixed_size_binary and fixed_size_list. It is
// defined for every type the fixed-stride reader accepts.
func elementByteWidth(dt arrow.DataType) (int, error) {
	switch t := dt.(type) {
	case *arrow.BooleanType:
		return 1, nil
	case *arrow.Int8Type, *arrow.Uint8Type:
		return 1, nil
	case *arrow.Int16Type, *arrow.Uint16Type, *arrow.Float16Type:
		return 2, nil
	case *arrow.Int32Type, *arrow.Uint32Type, *arrow.Float32Type,
		*arrow.Date32Type, *arrow.Time32Type:
		return 4, nil
	case *arrow.Int64Type, *arrow.Uint64Type, *arrow.Float64Type,
		*arrow.Date64Type, *arrow.Time64Type, *arrow.TimestampType, *arrow.DurationType:
		return 8, nil
	case *arrow.Decimal128Type:
		return 16, nil
	case *arrow.Decimal256Type:
		return 32, nil
	case *arrow.FixedSizeBinaryType:
		return t.ByteWidth, nil
	case *arrow.FixedSizeListType:
		inner, err := elementByteWidth(t.Elem())
		if err != nil {
			return 0, err
		}
		return inner * int(t.Len()), nil
	default:
		return 0, lanceerr.Schemaf("type %v is not fixed-stride", dt)
	}
}

// ReadArray dispatches to the typed reader matching field's logical
// type and returns the materialized arrow.Array for the rows params
// selects out of page. lookup resolves a descendant field's own page
// within the same batch; it is unused by leaf readers.
func ReadArray(ctx context.Context, store ObjectStore, path string, field *format.Field, page format.PageInfo, params ReadBatchParams, lookup PageLookup) (arrow.Array, error) {
	switch {
	case field.LogicalType.IsStruct():
		return readStruct(ctx, store, path, field, page, params, lookup)
	case field.LogicalType.IsList():
		return readList(ctx, store, path, field, page, params, lookup, false)
	case field.LogicalType.IsLargeList():
		return readList(ctx, store, path, field, page, params, lookup, true)
	case field.LogicalType.IsDictionary():
		return readDictionary(ctx, store, path, field, page, params)
	case field.LogicalType == "null":
		return readNullArray(field, page, params)
	case field.LogicalType == "string" || field.LogicalType == "binary" ||
		field.LogicalType == "large_string" || field.LogicalType == "large_binary":
		return readBinaryLike(ctx, store, path, field, page, params)
	default:
		return readFixedStride(ctx, store, path, field, page, params)
	}
}

func readNullArray(field *format.Field, page format.PageInfo, params ReadBatchParams) (arrow.Array, error) {
	n := page.Length
	switch params.Kind {
	case KindIndices:
		for _, idx := range params.Indices {
			if uint64(idx) >= n {
				return nil, lanceerr.IOf(nil, "field %q: index %d out of range for null column of length %d", field.Name, idx, n)
			}
		}
	case KindRange, KindRangeTo:
		if uint64(params.End) > n {
			return nil, lanceerr.IOf(nil, "field %q: range end %d out of range for null column of length %d", field.Name, params.End, n)
		}
	case KindRangeFrom:
		if uint64(params.Start) > n {
			return nil, lanceerr.IOf(nil, "field %q: range start %d out of range for null column of length %d", field.Name, params.Start, n)
		}
	}
	length := RowCount(params, uint32(n))
	data := array.NewData(arrow.Null, int(length), nil, nil, int(length), 0)
	defer data.Release()
	return array.MakeFromData(data), nil
}

func readFixedStride(ctx context.Context, store ObjectStore, path string, field *format.Field, page format.PageInfo, params ReadBatchParams) (arrow.Array, error) {
	dt, err := field.DataType()
	if err != nil {
		return nil, err
	}
	w, err := elementByteWidth(dt)
	if err != nil {
		return nil, lanceerr.Schemaf("field %q: %w", field.Name, err)
	}

	n := int(page.Length)
	bmLen := 0
	var bitmap *memory.Buffer
	if field.Nullable {
		bmLen = bitmapBytes(n)
		bitmap, _, err = readBitmap(ctx, store, path, page.Position, n)
		if err != nil {
			return nil, err
		}
	}
	dataStart := page.Position + uint64(bmLen)

	switch params.Kind {
	case KindIndices:
		if len(params.Indices) == 0 {
			return buildFixedStrideArray(dt, nil, nil, 0, 0)
		}
		min, max := params.Indices[0], params.Indices[0]
		for _, v := range params.Indices {
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		raw, err := store.ReadAt(ctx, path, int64(dataStart)+int64(min)*int64(w), int64(max-min+1)*int64(w))
		if err != nil {
			return nil, lanceerr.IOf(err, "field %q: read fixed-stride extent", field.Name)
		}
		out := make([]byte, len(params.Indices)*w)
		for i, idx := range params.Indices {
			copy(out[i*w:(i+1)*w], raw[int(idx-min)*w:int(idx-min+1)*w])
		}
		var vb *memory.Buffer
		var vnc int
		if field.Nullable {
			vb, vnc = gatherBitmap(bitmap.Bytes(), params.Indices)
		}
		return buildFixedStrideArray(dt, out, vb, vnc, len(params.Indices))
	default:
		start, end := rangeBounds(params, uint32(n))
		raw, err := store.ReadAt(ctx, path, int64(dataStart)+int64(start)*int64(w), int64(end-start)*int64(w))
		if err != nil {
			return nil, lanceerr.IOf(err, "field %q: read fixed-stride range [%d,%d)", field.Name, start, end)
		}
		var vb *memory.Buffer
		var vnc int
		if field.Nullable {
			vb, vnc = sliceBitmap(bitmap.Bytes(), int(start), int(end))
		}
		return buildFixedStrideArray(dt, raw, vb, vnc, int(end-start))
	}
}

func buildFixedStrideArray(dt arrow.DataType, raw []byte, validity *memory.Buffer, nullCount int, length int) (arrow.Array, error) {
	if fsl, ok := dt.(*arrow.FixedSizeListType); ok {
		childArr, err := buildFixedStrideArray(fsl.Elem(), raw, nil, 0, length*int(fsl.Len()))
		if err != nil {
			return nil, err
		}
		defer childArr.Release()
		buffers := []*memory.Buffer{validity}
		data := array.NewData(dt, length, buffers, []arrow.ArrayData{childArr.Data()}, nullCount, 0)
		defer data.Release()
		return array.NewFixedSizeListData(data), nil
	}
	if _, ok := dt.(*arrow.BooleanType); ok {
		// Booleans are one byte per element on disk but bit-packed in the
		// in-memory array.
		packed := make([]byte, bitmapBytes(length))
		for i, b := range raw {
			if b != 0 {
				packed[i/8] |= 1 << (i % 8)
			}
		}
		raw = packed
	}
	buffers := []*memory.Buffer{validity, memory.NewBufferBytes(raw)}
	data := array.NewData(dt, length, buffers, nil, nullCount, 0)
	defer data.Release()
	return array.MakeFromData(data), nil
}

// rangeBounds resolves a non-Indices ReadBatchParams into a concrete
// [start,end) pair against a page of length n.
func rangeBounds(p ReadBatchParams, n uint32) (uint32, uint32) {
	switch p.Kind {
	case KindRange:
		return p.Start, p.End
	case KindRangeTo:
		return 0, p.End
	case KindRangeFrom:
		return p.Start, n
	case KindRangeFull:
		return 0, n
	default:
		return 0, 0
	}
}

func offsetWidth(large bool) int {
	if large {
		return 8
	}
	return 4
}

// readRawOffsets fetches the (possibly widened) offsets an offset-
// bearing page needs for params, against a region holding totalCount+1
// offsets of the declared width.
func readRawOffsets(ctx context.Context, store ObjectStore, path string, position uint64, totalCount int, large bool, p ReadBatchParams) ([]int64, error) {
	w := offsetWidth(large)
	widened := WidenByOne(p)
	switch widened.Kind {
	case KindIndices:
		if len(widened.Indices) == 0 {
			return nil, nil
		}
		min := widened.Indices[0]
		maxV := widened.Indices[len(widened.Indices)-1]
		raw, err := store.ReadAt(ctx, path, int64(position)+int64(min)*int64(w), int64(maxV-min+1)*int64(w))
		if err != nil {
			return nil, lanceerr.IOf(err, "read offsets extent")
		}
		out := make([]int64, len(widened.Indices))
		for i, idx := range widened.Indices {
			out[i] = decodeOffset(raw, int(idx-min), w)
		}
		return out, nil
	default:
		start, end := rangeBounds(widened, uint32(totalCount)+1)
		raw, err := store.ReadAt(ctx, path, int64(position)+int64(start)*int64(w), int64(end-start)*int64(w))
		if err != nil {
			return nil, lanceerr.IOf(err, "read offsets range [%d,%d)", start, end)
		}
		out := make([]int64, end-start)
		for i := range out {
			out[i] = decodeOffset(raw, i, w)
		}
		return out, nil
	}
}

func decodeOffset(buf []byte, i, w int) int64 {
	off := i * w
	if w == 4 {
		return int64(uint32(buf[off]) | uint32(buf[off+1])<<8 | uint32(buf[off+2])<<16 | uint32(buf[off+3])<<24)
	}
	var v uint64
	for b := 0; b < 8; b++ {
		v |= uint64(buf[off+b]) << (8 * b)
	}
	return int64(v)
}

func encodeOffset(out []byte, i int, v int64, w int) {
	off := i * w
	if w == 4 {
		out[off] = byte(v)
		out[off+1] = byte(v >> 8)
		out[off+2] = byte(v >> 16)
		out[off+3] = byte(v >> 24)
		return
	}
	for b := 0; b < 8; b++ {
		out[off+b] = byte(v >> (8 * b))
	}
}

func readBinaryLike(ctx context.Context, store ObjectStore, path string, field *format.Field, page format.PageInfo, params ReadBatchParams) (arrow.Array, error) {
	dt, err := field.DataType()
	if err != nil {
		return nil, err
	}
	large := field.LogicalType == "large_string" || field.LogicalType == "large_binary"
	w := offsetWidth(large)
	n := int(page.Length)

	bmLen := 0
	var bitmap *memory.Buffer
	if field.Nullable {
		bmLen = bitmapBytes(n)
		bitmap, _, err = readBitmap(ctx, store, path, page.Position, n)
		if err != nil {
			return nil, err
		}
	}
	offsetsStart := page.Position + uint64(bmLen)
	valuesStart := offsetsStart + uint64(n+1)*uint64(w)

	offsets, err := readRawOffsets(ctx, store, path, offsetsStart, n, large, params)
	if err != nil {
		return nil, lanceerr.IOf(err, "field %q: offsets", field.Name)
	}
	if len(offsets) == 0 {
		return buildBinaryArray(dt, nil, nil, nil, 0, 0)
	}

	vr := DeriveValueParams(params, offsets)
	var rebasedOffsets []byte
	var valueBytes []byte
	var length int
	var validity *memory.Buffer
	var nullCount int

	if params.Kind == KindIndices {
		length = len(vr.Slices)
		rebasedOffsets = make([]byte, (length+1)*w)
		var cursor int64
		var buf []byte
		for i, s := range vr.Slices {
			encodeOffset(rebasedOffsets, i, cursor, w)
			chunk, err := store.ReadAt(ctx, path, int64(valuesStart)+s[0], s[1]-s[0])
			if err != nil {
				return nil, lanceerr.IOf(err, "field %q: value slice", field.Name)
			}
			buf = append(buf, chunk...)
			cursor += s[1] - s[0]
		}
		encodeOffset(rebasedOffsets, length, cursor, w)
		valueBytes = buf
		if field.Nullable {
			validity, nullCount = gatherBitmap(bitmap.Bytes(), params.Indices)
		}
	} else {
		length = len(offsets) - 1
		raw, err := store.ReadAt(ctx, path, int64(valuesStart)+vr.Start, vr.End-vr.Start)
		if err != nil {
			return nil, lanceerr.IOf(err, "field %q: value range", field.Name)
		}
		valueBytes = raw
		rebasedOffsets = make([]byte, (length+1)*w)
		for i, o := range offsets {
			encodeOffset(rebasedOffsets, i, o-offsets[0], w)
		}
		start, end := rangeBounds(params, uint32(n))
		if field.Nullable {
			validity, nullCount = sliceBitmap(bitmap.Bytes(), int(start), int(end))
		}
	}
	return buildBinaryArray(dt, rebasedOffsets, valueBytes, validity, nullCount, length)
}

func buildBinaryArray(dt arrow.DataType, offsets, values []byte, validity *memory.Buffer, nullCount, length int) (arrow.Array, error) {
	buffers := []*memory.Buffer{validity, memory.NewBufferBytes(offsets), memory.NewBufferBytes(values)}
	data := array.NewData(dt, length, buffers, nil, nullCount, 0)
	defer data.Release()
	return array.MakeFromData(data), nil
}

// readStruct reads every child with the identical (params) row
// selection and assembles a struct array. Struct containers in this
// format never carry their own null bitmap: nullability lives on the
// leaves, matching "children share the parent's row selection exactly"
// with no separate struct-level validity concept to reconcile.
func readStruct(ctx context.Context, store ObjectStore, path string, field *format.Field, page format.PageInfo, params ReadBatchParams, lookup PageLookup) (arrow.Array, error) {
	dt, err := field.DataType()
	if err != nil {
		return nil, err
	}
	st := dt.(*arrow.StructType)

	length := int(RowCount(params, uint32(page.Length)))
	children := make([]arrow.Array, len(field.Children))
	childData := make([]arrow.ArrayData, len(field.Children))
	for i, c := range field.Children {
		childPage, err := lookup(c.ID)
		if err != nil {
			return nil, lanceerr.IOf(err, "struct field %q: child %q page", field.Name, c.Name)
		}
		arr, err := ReadArray(ctx, store, path, c, childPage, params, lookup)
		if err != nil {
			return nil, err
		}
		children[i] = arr
		childData[i] = arr.Data()
	}
	defer func() {
		for _, c := range children {
			c.Release()
		}
	}()

	data := array.NewData(st, length, []*memory.Buffer{nil}, childData, 0, 0)
	defer data.Release()
	return array.NewStructData(data), nil
}

func readDictionary(ctx context.Context, store ObjectStore, path string, field *format.Field, page format.PageInfo, params ReadBatchParams) (arrow.Array, error) {
	indexType, err := field.IndexType()
	if err != nil {
		return nil, err
	}
	indexLogical, err := format.EncodeLogicalType(indexType)
	if err != nil {
		return nil, err
	}
	indexField := &format.Field{Name: field.Name, LogicalType: indexLogical, Nullable: field.Nullable}
	idxArr, err := readFixedStride(ctx, store, path, indexField, page, params)
	if err != nil {
		return nil, err
	}
	defer idxArr.Release()
	if field.Dictionary == nil || field.Dictionary.Values == nil {
		return nil, lanceerr.Schemaf("field %q: dictionary values not hydrated", field.Name)
	}
	dt, err := field.DataType()
	if err != nil {
		return nil, err
	}
	return array.NewDictionaryArray(dt, idxArr, field.Dictionary.Values), nil
}

// readList reads a list/large_list field: fetch this batch's offsets
// from the field's own page, derive the value sub-range or per-row
// slices, then recurse into the single child field (looked up via
// lookup) for the actual element values.
func readList(ctx context.Context, store ObjectStore, path string, field *format.Field, page format.PageInfo, params ReadBatchParams, lookup PageLookup, large bool) (arrow.Array, error) {
	if len(field.Children) != 1 {
		return nil, lanceerr.Schemaf("list field %q must have exactly one child", field.Name)
	}
	child := field.Children[0]
	childPage, err := lookup(child.ID)
	if err != nil {
		return nil, lanceerr.IOf(err, "list field %q: child page", field.Name)
	}

	w := offsetWidth(large)
	n := int(page.Length)
	bmLen := 0
	var bitmap *memory.Buffer
	if field.Nullable {
		bmLen = bitmapBytes(n)
		bitmap, _, err = readBitmap(ctx, store, path, page.Position, n)
		if err != nil {
			return nil, err
		}
	}
	offsetsStart := page.Position + uint64(bmLen)

	offsets, err := readRawOffsets(ctx, store, path, offsetsStart, n, large, params)
	if err != nil {
		return nil, lanceerr.IOf(err, "field %q: offsets", field.Name)
	}

	dt, derr := field.DataType()
	if derr != nil {
		return nil, derr
	}

	if len(offsets) == 0 {
		emptyChild, err := ReadArray(ctx, store, path, child, childPage, Range(0, 0), lookup)
		if err != nil {
			return nil, err
		}
		defer emptyChild.Release()
		return buildListArray(dt, nil, emptyChild, nil, 0, 0, large)
	}

	vr := DeriveValueParams(params, offsets)

	if params.Kind == KindIndices {
		length := len(vr.Slices)
		rebasedOffsets := make([]byte, (length+1)*w)
		var cursor int64
		parts := make([]arrow.Array, 0, length)
		for i, s := range vr.Slices {
			encodeOffset(rebasedOffsets, i, cursor, w)
			part, err := ReadArray(ctx, store, path, child, childPage, Range(uint32(s[0]), uint32(s[1])), lookup)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
			cursor += s[1] - s[0]
		}
		encodeOffset(rebasedOffsets, length, cursor, w)
		values, err := array.Concatenate(parts, memory.NewGoAllocator())
		for _, p := range parts {
			p.Release()
		}
		if err != nil {
			return nil, lanceerr.Arrowf(err, "field %q: concatenate list values", field.Name)
		}
		defer values.Release()
		var validity *memory.Buffer
		var nullCount int
		if field.Nullable {
			validity, nullCount = gatherBitmap(bitmap.Bytes(), params.Indices)
		}
		return buildListArray(dt, rebasedOffsets, values, validity, nullCount, length, large)
	}

	length := len(offsets) - 1
	values, err := ReadArray(ctx, store, path, child, childPage, Range(uint32(vr.Start), uint32(vr.End)), lookup)
	if err != nil {
		return nil, err
	}
	defer values.Release()
	rebasedOffsets := make([]byte, (length+1)*w)
	for i, o := range offsets {
		encodeOffset(rebasedOffsets, i, o-offsets[0], w)
	}
	start, end := rangeBounds(params, uint32(n))
	var validity *memory.Buffer
	var nullCount int
	if field.Nullable {
		validity, nullCount = sliceBitmap(bitmap.Bytes(), int(start), int(end))
	}
	return buildListArray(dt, rebasedOffsets, values, validity, nullCount, length, large)
}

func buildListArray(dt arrow.DataType, offsets []byte, values arrow.Array, validity *memory.Buffer, nullCount, length int, large bool) (arrow.Array, error) {
	buffers := []*memory.Buffer{validity, memory.NewBufferBytes(offsets)}
	data := array.NewData(dt, length, buffers, []arrow.ArrayData{values.Data()}, nullCount, 0)
	defer data.Release()
	if large {
		return array.NewLargeListData(data), nil
	}
	return array.NewListData(data), nil
}
