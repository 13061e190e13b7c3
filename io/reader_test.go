// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lanceio

import (
	"context"
	"encoding/binary"
	"math"
	"testing"

	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/stretchr/testify/require"

	"github.com/Mehrbod2002/lance/format"
)

// fileBuilder assembles a synthetic file body byte-for-byte per the
// physical layout documented in arrays.go, for tests that exercise the
// reader without a real writer.
type fileBuilder struct {
	buf          []byte
	numBatches   int
	batchOffsets []int32
	pages        map[int32][]format.PageInfo // fieldID -> per-batch page info
}

func newFileBuilder(batchLens []int32) *fileBuilder {
	offsets := make([]int32, len(batchLens)+1)
	for i, l := range batchLens {
		offsets[i+1] = offsets[i] + l
	}
	return &fileBuilder{
		numBatches:   len(batchLens),
		batchOffsets: offsets,
		pages:        make(map[int32][]format.PageInfo),
	}
}

// putPage appends raw (already-encoded) page bytes for (fieldID, batchID)
// and records its PageInfo, with length in elements (not bytes).
func (b *fileBuilder) putPage(fieldID int32, batchID int, data []byte, length int) {
	pos := uint64(len(b.buf))
	b.buf = append(b.buf, data...)
	if b.pages[fieldID] == nil {
		b.pages[fieldID] = make([]format.PageInfo, b.numBatches)
	}
	b.pages[fieldID][batchID] = format.PageInfo{Position: pos, Length: uint64(length)}
}

// putBlob appends raw bytes with no page table entry (used for dictionary
// value arrays, addressed instead via Field.Dictionary).
func (b *fileBuilder) putBlob(data []byte) uint64 {
	pos := uint64(len(b.buf))
	b.buf = append(b.buf, data...)
	return pos
}

func (b *fileBuilder) finish(t *testing.T, manifest *format.Manifest) []byte {
	numColumns := int(manifest.Schema.MaxFieldID()) + 1
	entries := make([]format.PageInfo, numColumns*b.numBatches)
	for fieldID, perBatch := range b.pages {
		for batchID, pi := range perBatch {
			entries[int(fieldID)*b.numBatches+batchID] = pi
		}
	}
	pt := format.NewPageTable(numColumns, b.numBatches, entries)

	manifestBytes, err := format.EncodeManifest(manifest)
	require.NoError(t, err)
	manifestPosition := uint64(len(b.buf))
	var declared [4]byte
	binary.LittleEndian.PutUint32(declared[:], uint32(len(manifestBytes)))
	b.buf = append(b.buf, declared[:]...)
	b.buf = append(b.buf, manifestBytes...)

	pageTablePosition := uint64(len(b.buf))
	b.buf = append(b.buf, format.EncodePageTable(pt)...)

	metadata := &format.Metadata{
		BatchOffsets:        b.batchOffsets,
		PageTablePosition:   pageTablePosition,
		HasManifestPosition: true,
		ManifestPosition:    manifestPosition,
	}
	metadataPosition := uint64(len(b.buf))
	b.buf = append(b.buf, format.EncodeMetadataBody(metadata)...)
	b.buf = append(b.buf, format.EncodeMetadataTrailer(metadataPosition, 0)...)
	b.buf = append(b.buf, format.MagicSuffix...)
	return b.buf
}

func le32(vs ...int32) []byte {
	out := make([]byte, len(vs)*4)
	for i, v := range vs {
		binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
	}
	return out
}

func u8(vs ...uint8) []byte { return vs }

func le64(vs ...int64) []byte {
	out := make([]byte, len(vs)*8)
	for i, v := range vs {
		binary.LittleEndian.PutUint64(out[i*8:], uint64(v))
	}
	return out
}

func allValidBitmap(n int) []byte {
	out := make([]byte, (n+7)/8)
	for i := range out {
		out[i] = 0xFF
	}
	return out
}

func stringPage(values []string) []byte {
	offsets := make([]int32, len(values)+1)
	var data []byte
	for i, v := range values {
		data = append(data, v...)
		offsets[i+1] = offsets[i] + int32(len(v))
	}
	return append(le32(offsets...), data...)
}

// A file whose tail carries only a manifest (no Metadata struct, no
// page table) round-trips through ReadManifest, independent of whatever
// bytes precede the manifest body.
func TestReadManifestStandalone(t *testing.T) {
	manifest := &format.Manifest{
		Version: 9,
		Fragments: []format.FragmentDescriptor{
			{ID: 4, Path: "data/4.cdf"},
		},
		Schema: &format.Schema{
			Fields: []*format.Field{{ID: 0, Name: "id", LogicalType: "int64", Nullable: false}},
		},
	}
	body, err := format.EncodeManifest(manifest)
	require.NoError(t, err)

	buf := []byte{0xAA, 0xBB, 0xCC} // unrelated leading bytes
	manifestPosition := uint64(len(buf))
	var declared [4]byte
	binary.LittleEndian.PutUint32(declared[:], uint32(len(body)))
	buf = append(buf, declared[:]...)
	buf = append(buf, body...)
	buf = append(buf, format.EncodeMetadataTrailer(manifestPosition, 0)...)
	buf = append(buf, format.MagicSuffix...)

	store := NewMemStore()
	store.Put("m", buf)

	got, err := ReadManifest(context.Background(), store, "m")
	require.NoError(t, err)
	require.Equal(t, manifest.Version, got.Version)
	require.Equal(t, manifest.Fragments, got.Fragments)
	require.Equal(t, "id", got.Schema.Fields[0].Name)
}

// Row-id synthesis across 10 batches of 10 rows each, fragment_id=123.
func TestReaderRowIDFormula(t *testing.T) {
	ctx := context.Background()
	const numBatches, batchLen = 10, 10
	lens := make([]int32, numBatches)
	for i := range lens {
		lens[i] = batchLen
	}
	fb := newFileBuilder(lens)
	for b := 0; b < numBatches; b++ {
		vals := make([]int32, batchLen)
		for i := range vals {
			vals[i] = int32(b*batchLen + i)
		}
		fb.putPage(0, b, le32(vals...), batchLen)
	}
	manifest := &format.Manifest{
		Version: 1,
		Schema: &format.Schema{
			Fields: []*format.Field{{ID: 0, Name: "id", LogicalType: "int32", Nullable: false}},
		},
	}
	store := NewMemStore()
	store.Put("f", fb.finish(t, manifest))

	r, err := OpenWithFragment(ctx, store, "f", 123, nil)
	require.NoError(t, err)
	r.WithRowID(true)

	rec, err := r.ReadBatch(ctx, 3, RangeFull(), nil)
	require.NoError(t, err)
	defer rec.Release()

	rowID := rec.Column(1).(*array.Uint64)
	for i := 0; i < batchLen; i++ {
		want := (uint64(123) << 32) | uint64(30+i)
		require.Equal(t, want, rowID.Value(i))
	}
}

// Dictionary take across 10 batches of 10 rows, over a uint8-indexed
// string dictionary.
func TestReaderTakeDictionary(t *testing.T) {
	ctx := context.Background()
	const numBatches, batchLen = 10, 10
	lens := make([]int32, numBatches)
	for i := range lens {
		lens[i] = batchLen
	}
	fb := newFileBuilder(lens)

	keyAt := map[int]uint8{1: 1, 15: 1, 20: 6, 25: 4, 30: 2, 48: 6, 90: 6}
	for b := 0; b < numBatches; b++ {
		keys := make([]uint8, batchLen)
		for i := range keys {
			if k, ok := keyAt[b*batchLen+i]; ok {
				keys[i] = k
			}
		}
		fb.putPage(0, b, u8(keys...), batchLen)
	}

	values := []string{"a", "b", "c", "d", "e", "f", "g"}
	valuesBytes := stringPage(values)
	dictPos := fb.putBlob(valuesBytes)

	manifest := &format.Manifest{
		Version: 1,
		Schema: &format.Schema{
			Fields: []*format.Field{{
				ID: 0, Name: "label", LogicalType: "dict:string:uint8:false", Nullable: false,
				Dictionary: &format.Dictionary{Offset: dictPos, Length: uint64(len(values))},
			}},
		},
	}
	store := NewMemStore()
	store.Put("f", fb.finish(t, manifest))

	r, err := Open(ctx, store, "f")
	require.NoError(t, err)

	rec, err := r.Take(ctx, []uint32{1, 15, 20, 25, 30, 48, 90}, nil)
	require.NoError(t, err)
	defer rec.Release()

	want := []string{"b", "b", "g", "e", "c", "g", "g"}
	dict := rec.Column(0).(*array.Dictionary)
	idx := dict.Indices().(*array.Uint8)
	dictValues := dict.Dictionary().(*array.String)
	require.Equal(t, len(want), dict.Len())
	for i, w := range want {
		require.Equal(t, w, dictValues.Value(int(idx.Value(i))))
	}
}

// Take over a list<int32> column, one batch of 10 rows of 10 ints each.
func TestReaderTakeList(t *testing.T) {
	ctx := context.Background()
	fb := newFileBuilder([]int32{10})

	offsets := make([]int32, 11)
	for i := range offsets {
		offsets[i] = int32(i * 10)
	}
	fb.putPage(0, 0, le32(offsets...), 10)

	items := make([]int32, 100)
	for i := range items {
		items[i] = int32(i)
	}
	fb.putPage(1, 0, le32(items...), 100)

	manifest := &format.Manifest{
		Version: 1,
		Schema: &format.Schema{
			Fields: []*format.Field{{
				ID: 0, Name: "values", LogicalType: "list", Nullable: false,
				Children: []*format.Field{{ID: 1, Name: "item", LogicalType: "int32", Nullable: false}},
			}},
		},
	}
	store := NewMemStore()
	store.Put("f", fb.finish(t, manifest))

	r, err := Open(ctx, store, "f")
	require.NoError(t, err)

	rec, err := r.Take(ctx, []uint32{1, 3, 5, 9}, nil)
	require.NoError(t, err)
	defer rec.Release()

	list := rec.Column(0).(*array.List)
	values := list.ListValues().(*array.Int32)
	wantRanges := [][2]int32{{10, 20}, {30, 40}, {50, 60}, {90, 100}}
	require.Equal(t, len(wantRanges), list.Len())
	for i, want := range wantRanges {
		start, end := list.ValueOffsets(i)
		require.Equal(t, int64(want[1]-want[0]), end-start)
		for j := start; j < end; j++ {
			require.Equal(t, want[0]+int32(j-start), values.Value(int(j)))
		}
	}
}

// A struct containing list<int32>, list<utf8> and large_list<int32>
// with 3 rows of 10 items each; ReadBatch(0, Range(1,2)) returns exactly
// row 1 of each child, with offsets rebased to start at 0.
func TestReaderNestedStructListSlice(t *testing.T) {
	ctx := context.Background()
	fb := newFileBuilder([]int32{3})

	fb.putPage(0, 0, nil, 3) // struct container: no bytes of its own

	fb.putPage(1, 0, le32(0, 10, 20, 30), 3)
	ints := make([]int32, 30)
	for i := range ints {
		ints[i] = int32(i)
	}
	fb.putPage(2, 0, le32(ints...), 30)

	fb.putPage(3, 0, le32(0, 10, 20, 30), 3)
	strs := make([]string, 30)
	for i := range strs {
		strs[i] = string(rune('a' + i%26))
	}
	fb.putPage(4, 0, stringPage(strs), 30)

	fb.putPage(5, 0, le64(0, 10, 20, 30), 3)
	bigs := make([]int32, 30)
	for i := range bigs {
		bigs[i] = int32(100 + i)
	}
	fb.putPage(6, 0, le32(bigs...), 30)

	manifest := &format.Manifest{
		Version: 1,
		Schema: &format.Schema{
			Fields: []*format.Field{{
				ID: 0, Name: "rec", LogicalType: "struct", Nullable: false,
				Children: []*format.Field{
					{ID: 1, Name: "ints", LogicalType: "list", Nullable: false,
						Children: []*format.Field{{ID: 2, Name: "item", LogicalType: "int32", Nullable: false}}},
					{ID: 3, Name: "strs", LogicalType: "list", Nullable: false,
						Children: []*format.Field{{ID: 4, Name: "item", LogicalType: "string", Nullable: false}}},
					{ID: 5, Name: "bigs", LogicalType: "large_list", Nullable: false,
						Children: []*format.Field{{ID: 6, Name: "item", LogicalType: "int32", Nullable: false}}},
				},
			}},
		},
	}
	store := NewMemStore()
	store.Put("f", fb.finish(t, manifest))

	r, err := Open(ctx, store, "f")
	require.NoError(t, err)

	rec, err := r.ReadBatch(ctx, 0, Range(1, 2), nil)
	require.NoError(t, err)
	defer rec.Release()
	require.EqualValues(t, 1, rec.NumRows())

	st := rec.Column(0).(*array.Struct)
	require.Equal(t, 1, st.Len())

	intsList := st.Field(0).(*array.List)
	s, e := intsList.ValueOffsets(0)
	require.EqualValues(t, 0, s)
	require.EqualValues(t, 10, e)
	intVals := intsList.ListValues().(*array.Int32)
	require.Equal(t, 10, intVals.Len())
	for j := 0; j < 10; j++ {
		require.Equal(t, int32(10+j), intVals.Value(j))
	}

	strsList := st.Field(1).(*array.List)
	strVals := strsList.ListValues().(*array.String)
	require.Equal(t, 10, strVals.Len())
	for j := 0; j < 10; j++ {
		require.Equal(t, strs[10+j], strVals.Value(j))
	}

	bigsList := st.Field(2).(*array.LargeList)
	s, e = bigsList.ValueOffsets(0)
	require.EqualValues(t, 0, s)
	require.EqualValues(t, 10, e)
	bigVals := bigsList.ListValues().(*array.Int32)
	for j := 0; j < 10; j++ {
		require.Equal(t, int32(110+j), bigVals.Value(j))
	}
}

// A nullable string column: the validity bitmap must survive both
// range-shaped and index-shaped reads.
func TestReaderNullableStringColumn(t *testing.T) {
	ctx := context.Background()
	fb := newFileBuilder([]int32{10})

	values := []string{"a", "b", "", "d", "e", "", "g", "h", "i", "j"}
	bitmap := allValidBitmap(10)
	bitmap[0] &^= 1 << 2 // row 2 null
	bitmap[0] &^= 1 << 5 // row 5 null
	page := append(bitmap, stringPage(values)...)
	fb.putPage(0, 0, page, 10)

	manifest := &format.Manifest{
		Version: 1,
		Schema: &format.Schema{
			Fields: []*format.Field{{ID: 0, Name: "name", LogicalType: "string", Nullable: true}},
		},
	}
	store := NewMemStore()
	store.Put("f", fb.finish(t, manifest))

	r, err := Open(ctx, store, "f")
	require.NoError(t, err)

	rec, err := r.ReadBatch(ctx, 0, Range(1, 6), nil)
	require.NoError(t, err)
	col := rec.Column(0).(*array.String)
	require.Equal(t, 5, col.Len())
	require.Equal(t, "b", col.Value(0))
	require.True(t, col.IsNull(1))
	require.Equal(t, "d", col.Value(2))
	require.True(t, col.IsNull(4))
	rec.Release()

	rec, err = r.ReadBatch(ctx, 0, Indices([]uint32{1, 2, 5, 7}), nil)
	require.NoError(t, err)
	defer rec.Release()
	col = rec.Column(0).(*array.String)
	require.Equal(t, 4, col.Len())
	require.Equal(t, "b", col.Value(0))
	require.True(t, col.IsNull(1))
	require.True(t, col.IsNull(2))
	require.Equal(t, "h", col.Value(3))
}

// Booleans are byte-per-element on disk and bit-packed in memory; a
// sliced read must land each value on the right bit.
func TestReaderBooleanColumn(t *testing.T) {
	ctx := context.Background()
	fb := newFileBuilder([]int32{10})

	raw := make([]byte, 10)
	for i := range raw {
		if i%3 == 0 {
			raw[i] = 1
		}
	}
	fb.putPage(0, 0, raw, 10)

	manifest := &format.Manifest{
		Version: 1,
		Schema: &format.Schema{
			Fields: []*format.Field{{ID: 0, Name: "flag", LogicalType: "bool", Nullable: false}},
		},
	}
	store := NewMemStore()
	store.Put("f", fb.finish(t, manifest))

	r, err := Open(ctx, store, "f")
	require.NoError(t, err)

	rec, err := r.ReadBatch(ctx, 0, Range(2, 7), nil)
	require.NoError(t, err)
	defer rec.Release()

	col := rec.Column(0).(*array.Boolean)
	require.Equal(t, 5, col.Len())
	for i := 0; i < 5; i++ {
		require.Equal(t, (i+2)%3 == 0, col.Value(i))
	}
}

// A fixed_size_list:float:8 vector column reads as one contiguous
// fixed-stride block per batch.
func TestReaderFixedSizeListVectors(t *testing.T) {
	ctx := context.Background()
	const dim = 8
	fb := newFileBuilder([]int32{3})

	raw := make([]byte, 3*dim*4)
	for i := 0; i < 3*dim; i++ {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(float32(i)))
	}
	fb.putPage(0, 0, raw, 3)

	manifest := &format.Manifest{
		Version: 1,
		Schema: &format.Schema{
			Fields: []*format.Field{{ID: 0, Name: "vector", LogicalType: "fixed_size_list:float:8", Nullable: false}},
		},
	}
	store := NewMemStore()
	store.Put("f", fb.finish(t, manifest))

	r, err := Open(ctx, store, "f")
	require.NoError(t, err)

	rec, err := r.ReadBatch(ctx, 0, Range(1, 3), nil)
	require.NoError(t, err)
	defer rec.Release()

	fsl := rec.Column(0).(*array.FixedSizeList)
	require.Equal(t, 2, fsl.Len())
	values := fsl.ListValues().(*array.Float32)
	require.Equal(t, 2*dim, values.Len())
	for i := 0; i < 2*dim; i++ {
		require.Equal(t, float32(dim+i), values.Value(i))
	}
}

// Bounds checking on a null-typed column of length 100.
func TestReaderNullArrayBounds(t *testing.T) {
	ctx := context.Background()
	fb := newFileBuilder([]int32{100})
	fb.pages[0] = []format.PageInfo{{Position: 0, Length: 100}}

	manifest := &format.Manifest{
		Version: 1,
		Schema: &format.Schema{
			Fields: []*format.Field{{ID: 0, Name: "absent", LogicalType: "null", Nullable: true}},
		},
	}
	store := NewMemStore()
	store.Put("f", fb.finish(t, manifest))

	r, err := Open(ctx, store, "f")
	require.NoError(t, err)

	rec, err := r.ReadBatch(ctx, 0, Range(10, 25), nil)
	require.NoError(t, err)
	require.EqualValues(t, 15, rec.NumRows())
	rec.Release()

	rec, err = r.ReadBatch(ctx, 0, RangeFrom(60), nil)
	require.NoError(t, err)
	require.EqualValues(t, 40, rec.NumRows())
	rec.Release()

	_, err = r.ReadBatch(ctx, 0, Indices([]uint32{1, 9, 30, 72, 100}), nil)
	require.Error(t, err)
}

// ReadBatch(b, RangeFull, P) must equal ReadBatch(b, Range(0,n), P).
func TestReaderRangeFullEquivalence(t *testing.T) {
	ctx := context.Background()
	fb := newFileBuilder([]int32{10})
	vals := make([]int32, 10)
	for i := range vals {
		vals[i] = int32(i * 7)
	}
	fb.putPage(0, 0, le32(vals...), 10)
	manifest := &format.Manifest{
		Version: 1,
		Schema: &format.Schema{
			Fields: []*format.Field{{ID: 0, Name: "v", LogicalType: "int32", Nullable: false}},
		},
	}
	store := NewMemStore()
	store.Put("f", fb.finish(t, manifest))

	r, err := Open(ctx, store, "f")
	require.NoError(t, err)

	full, err := r.ReadBatch(ctx, 0, RangeFull(), nil)
	require.NoError(t, err)
	defer full.Release()
	ranged, err := r.ReadBatch(ctx, 0, Range(0, 10), nil)
	require.NoError(t, err)
	defer ranged.Release()

	a := full.Column(0).(*array.Int32)
	b := ranged.Column(0).(*array.Int32)
	require.Equal(t, a.Int32Values(), b.Int32Values())
}

// ReadRange over [a,c) must equal concatenating ReadRange(a,b) and
// ReadRange(b,c).
func TestReaderRangeConcatEquivalence(t *testing.T) {
	ctx := context.Background()
	const numBatches, batchLen = 10, 10
	lens := make([]int32, numBatches)
	for i := range lens {
		lens[i] = batchLen
	}
	fb := newFileBuilder(lens)
	for b := 0; b < numBatches; b++ {
		vals := make([]int32, batchLen)
		for i := range vals {
			vals[i] = int32(b*batchLen + i)
		}
		fb.putPage(0, b, le32(vals...), batchLen)
	}
	manifest := &format.Manifest{
		Version: 1,
		Schema: &format.Schema{
			Fields: []*format.Field{{ID: 0, Name: "v", LogicalType: "int32", Nullable: false}},
		},
	}
	store := NewMemStore()
	store.Put("f", fb.finish(t, manifest))

	r, err := Open(ctx, store, "f")
	require.NoError(t, err)

	whole, err := r.ReadRange(ctx, 7, 83, nil)
	require.NoError(t, err)
	defer whole.Release()

	left, err := r.ReadRange(ctx, 7, 40, nil)
	require.NoError(t, err)
	defer left.Release()
	right, err := r.ReadRange(ctx, 40, 83, nil)
	require.NoError(t, err)
	defer right.Release()

	wholeVals := whole.Column(0).(*array.Int32).Int32Values()
	leftVals := left.Column(0).(*array.Int32).Int32Values()
	rightVals := right.Column(0).(*array.Int32).Int32Values()
	require.Equal(t, wholeVals, append(append([]int32{}, leftVals...), rightVals...))
}

// Take preserves the ascending order of its requested indices.
func TestReaderTakePreservesOrder(t *testing.T) {
	ctx := context.Background()
	const numBatches, batchLen = 10, 10
	lens := make([]int32, numBatches)
	for i := range lens {
		lens[i] = batchLen
	}
	fb := newFileBuilder(lens)
	for b := 0; b < numBatches; b++ {
		vals := make([]int32, batchLen)
		for i := range vals {
			vals[i] = int32(b*batchLen + i)
		}
		fb.putPage(0, b, le32(vals...), batchLen)
	}
	manifest := &format.Manifest{
		Version: 1,
		Schema: &format.Schema{
			Fields: []*format.Field{{ID: 0, Name: "v", LogicalType: "int32", Nullable: false}},
		},
	}
	store := NewMemStore()
	store.Put("f", fb.finish(t, manifest))

	r, err := Open(ctx, store, "f")
	require.NoError(t, err)

	indices := []uint32{3, 17, 22, 55, 91}
	rec, err := r.Take(ctx, indices, nil)
	require.NoError(t, err)
	defer rec.Release()

	got := rec.Column(0).(*array.Int32).Int32Values()
	for i, idx := range indices {
		require.Equal(t, int32(idx), got[i])
	}

	_, err = r.Take(ctx, []uint32{5, 2}, nil)
	require.Error(t, err)
}
