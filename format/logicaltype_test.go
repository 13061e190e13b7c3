// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"testing"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/stretchr/testify/require"

	"github.com/Mehrbod2002/lance/lanceerr"
)

// TestLogicalTypeRoundTrip exercises the round-trip law from the
// testable-properties list: decode(encode(t)) == t for every type this
// version of the writer can emit.
func TestLogicalTypeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		dt   arrow.DataType
	}{
		{"null", arrow.Null},
		{"bool", arrow.FixedWidthTypes.Boolean},
		{"int8", arrow.PrimitiveTypes.Int8},
		{"int16", arrow.PrimitiveTypes.Int16},
		{"int32", arrow.PrimitiveTypes.Int32},
		{"int64", arrow.PrimitiveTypes.Int64},
		{"uint8", arrow.PrimitiveTypes.Uint8},
		{"uint16", arrow.PrimitiveTypes.Uint16},
		{"uint32", arrow.PrimitiveTypes.Uint32},
		{"uint64", arrow.PrimitiveTypes.Uint64},
		{"halffloat", arrow.FixedWidthTypes.Float16},
		{"float", arrow.PrimitiveTypes.Float32},
		{"double", arrow.PrimitiveTypes.Float64},
		{"string", arrow.BinaryTypes.String},
		{"binary", arrow.BinaryTypes.Binary},
		{"large_string", arrow.BinaryTypes.LargeString},
		{"large_binary", arrow.BinaryTypes.LargeBinary},
		{"date32", arrow.FixedWidthTypes.Date32},
		{"date64", arrow.FixedWidthTypes.Date64},
		{"time32s", arrow.FixedWidthTypes.Time32s},
		{"time32ms", arrow.FixedWidthTypes.Time32ms},
		{"time64us", arrow.FixedWidthTypes.Time64us},
		{"time64ns", arrow.FixedWidthTypes.Time64ns},
		{"duration_s", arrow.FixedWidthTypes.Duration_s},
		{"duration_ms", arrow.FixedWidthTypes.Duration_ms},
		{"duration_us", arrow.FixedWidthTypes.Duration_us},
		{"duration_ns", arrow.FixedWidthTypes.Duration_ns},
		{"timestamp_no_tz", &arrow.TimestampType{Unit: arrow.Millisecond}},
		{"timestamp_tz", &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}},
		{"decimal128", &arrow.Decimal128Type{Precision: 38, Scale: 10}},
		{"decimal256", &arrow.Decimal256Type{Precision: 76, Scale: 20}},
		{"fixed_size_binary", &arrow.FixedSizeBinaryType{ByteWidth: 16}},
		{"fixed_size_list", arrow.FixedSizeListOf(8, arrow.PrimitiveTypes.Float32)},
		{"dictionary", &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Uint8, ValueType: arrow.BinaryTypes.String}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			lt, err := EncodeLogicalType(c.dt)
			require.NoError(t, err)
			got, err := DecodeLogicalType(lt)
			require.NoError(t, err)
			require.Equal(t, c.dt, got)
		})
	}
}

func TestLogicalTypeNestedFixedSizeListRoundTrip(t *testing.T) {
	inner := arrow.FixedSizeListOf(4, arrow.PrimitiveTypes.Int16)
	outer := arrow.FixedSizeListOf(2, inner)
	lt, err := EncodeLogicalType(outer)
	require.NoError(t, err)
	require.Equal(t, LogicalType("fixed_size_list:fixed_size_list:int16:4:2"), lt)
	got, err := DecodeLogicalType(lt)
	require.NoError(t, err)
	require.Equal(t, outer, got)
}

func TestLogicalTypeListStructHint(t *testing.T) {
	elem := arrow.StructOf(arrow.Field{Name: "x", Type: arrow.PrimitiveTypes.Int32})
	lt, err := EncodeLogicalType(arrow.ListOf(elem))
	require.NoError(t, err)
	require.Equal(t, ltListStruct, lt)
	require.True(t, lt.IsList())

	lt2, err := EncodeLogicalType(arrow.LargeListOf(elem))
	require.NoError(t, err)
	require.Equal(t, ltLargeLStruct, lt2)
	require.True(t, lt2.IsLargeList())
}

func TestDecodeLogicalTypeUnknownToken(t *testing.T) {
	_, err := DecodeLogicalType("not_a_real_type")
	require.Error(t, err)
	kind, ok := lanceerr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, "Schema", kind.String())
}

func TestDecodeLogicalTypeMalformedSegments(t *testing.T) {
	cases := []LogicalType{
		"fixed_size_binary",
		"fixed_size_binary:abc",
		"decimal:128:38",
		"decimal:512:38:10",
		"timestamp:ms",
		"dict:string:uint8",
	}
	for _, lt := range cases {
		_, err := DecodeLogicalType(lt)
		require.Errorf(t, err, "expected error decoding %q", lt)
	}
}

func TestDictionaryValueLogicalType(t *testing.T) {
	value, err := DictionaryValueLogicalType("dict:string:uint8:false")
	require.NoError(t, err)
	require.Equal(t, LogicalType("string"), value)

	_, err = DictionaryValueLogicalType("string")
	require.Error(t, err)
}
