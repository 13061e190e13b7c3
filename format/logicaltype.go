// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v12/arrow"

	"github.com/Mehrbod2002/lance/lanceerr"
)

// LogicalType is the textual tag this system persists in the serialized
// schema. It round-trips losslessly with an arrow.DataType for every
// type the engine writes.
type LogicalType string

const (
	ltNull         LogicalType = "null"
	ltBool         LogicalType = "bool"
	ltInt8         LogicalType = "int8"
	ltInt16        LogicalType = "int16"
	ltInt32        LogicalType = "int32"
	ltInt64        LogicalType = "int64"
	ltUint8        LogicalType = "uint8"
	ltUint16       LogicalType = "uint16"
	ltUint32       LogicalType = "uint32"
	ltUint64       LogicalType = "uint64"
	ltHalfFloat    LogicalType = "halffloat"
	ltFloat        LogicalType = "float"
	ltDouble       LogicalType = "double"
	ltString       LogicalType = "string"
	ltBinary       LogicalType = "binary"
	ltLargeString  LogicalType = "large_string"
	ltLargeBinary  LogicalType = "large_binary"
	ltStruct       LogicalType = "struct"
	ltList         LogicalType = "list"
	ltListStruct   LogicalType = "list.struct"
	ltLargeList    LogicalType = "large_list"
	ltLargeLStruct LogicalType = "large_list.struct"
)

// IsList reports whether the logical type is a variable-length list,
// regardless of the element-struct hint.
func (lt LogicalType) IsList() bool {
	return lt == ltList || lt == ltListStruct
}

// IsLargeList reports whether the logical type is a 64-bit-offset list.
func (lt LogicalType) IsLargeList() bool {
	return lt == ltLargeList || lt == ltLargeLStruct
}

// IsStruct reports whether the logical type is a struct.
func (lt LogicalType) IsStruct() bool {
	return lt == ltStruct
}

// IsDictionary reports whether the logical type is a dictionary encoding.
func (lt LogicalType) IsDictionary() bool {
	return strings.HasPrefix(string(lt), "dict:")
}

func timeUnitToStr(u arrow.TimeUnit) (string, error) {
	switch u {
	case arrow.Second:
		return "s", nil
	case arrow.Millisecond:
		return "ms", nil
	case arrow.Microsecond:
		return "us", nil
	case arrow.Nanosecond:
		return "ns", nil
	default:
		return "", lanceerr.Schemaf("unsupported time unit: %v", u)
	}
}

func parseTimeUnit(s string) (arrow.TimeUnit, error) {
	switch s {
	case "s":
		return arrow.Second, nil
	case "ms":
		return arrow.Millisecond, nil
	case "us":
		return arrow.Microsecond, nil
	case "ns":
		return arrow.Nanosecond, nil
	default:
		return 0, lanceerr.Schemaf("unsupported time unit: %q", s)
	}
}

// EncodeLogicalType maps a structural arrow.DataType to its textual tag.
func EncodeLogicalType(dt arrow.DataType) (LogicalType, error) {
	switch t := dt.(type) {
	case *arrow.NullType:
		return ltNull, nil
	case *arrow.BooleanType:
		return ltBool, nil
	case *arrow.Int8Type:
		return ltInt8, nil
	case *arrow.Int16Type:
		return ltInt16, nil
	case *arrow.Int32Type:
		return ltInt32, nil
	case *arrow.Int64Type:
		return ltInt64, nil
	case *arrow.Uint8Type:
		return ltUint8, nil
	case *arrow.Uint16Type:
		return ltUint16, nil
	case *arrow.Uint32Type:
		return ltUint32, nil
	case *arrow.Uint64Type:
		return ltUint64, nil
	case *arrow.Float16Type:
		return ltHalfFloat, nil
	case *arrow.Float32Type:
		return ltFloat, nil
	case *arrow.Float64Type:
		return ltDouble, nil
	case *arrow.StringType:
		return ltString, nil
	case *arrow.BinaryType:
		return ltBinary, nil
	case *arrow.LargeStringType:
		return ltLargeString, nil
	case *arrow.LargeBinaryType:
		return ltLargeBinary, nil
	case *arrow.Date32Type:
		return "date32:day", nil
	case *arrow.Date64Type:
		return "date64:ms", nil
	case *arrow.Time32Type:
		u, err := timeUnitToStr(t.Unit)
		if err != nil {
			return "", err
		}
		return LogicalType("time32:" + u), nil
	case *arrow.Time64Type:
		u, err := timeUnitToStr(t.Unit)
		if err != nil {
			return "", err
		}
		return LogicalType("time64:" + u), nil
	case *arrow.TimestampType:
		u, err := timeUnitToStr(t.Unit)
		if err != nil {
			return "", err
		}
		tz := "-"
		if t.TimeZone != "" {
			tz = t.TimeZone
		}
		return LogicalType("timestamp:" + u + ":" + tz), nil
	case *arrow.DurationType:
		u, err := timeUnitToStr(t.Unit)
		if err != nil {
			return "", err
		}
		return LogicalType("duration:" + u), nil
	case *arrow.Decimal128Type:
		return LogicalType("decimal:128:" + strconv.Itoa(int(t.Precision)) + ":" + strconv.Itoa(int(t.Scale))), nil
	case *arrow.Decimal256Type:
		return LogicalType("decimal:256:" + strconv.Itoa(int(t.Precision)) + ":" + strconv.Itoa(int(t.Scale))), nil
	case *arrow.FixedSizeBinaryType:
		return LogicalType("fixed_size_binary:" + strconv.Itoa(t.ByteWidth)), nil
	case *arrow.FixedSizeListType:
		inner, err := EncodeLogicalType(t.Elem())
		if err != nil {
			return "", err
		}
		return LogicalType("fixed_size_list:" + string(inner) + ":" + strconv.Itoa(int(t.Len()))), nil
	case *arrow.StructType:
		return ltStruct, nil
	case *arrow.ListType:
		if isStructField(t.Elem()) {
			return ltListStruct, nil
		}
		return ltList, nil
	case *arrow.LargeListType:
		if isStructField(t.Elem()) {
			return ltLargeLStruct, nil
		}
		return ltLargeList, nil
	case *arrow.DictionaryType:
		value, err := EncodeLogicalType(t.ValueType)
		if err != nil {
			return "", err
		}
		index, err := EncodeLogicalType(t.IndexType)
		if err != nil {
			return "", err
		}
		// Ordered dictionaries are not produced by this version of the
		// writer; the tag always carries "false".
		return LogicalType("dict:" + string(value) + ":" + string(index) + ":false"), nil
	default:
		return "", lanceerr.Schemaf("unsupported data type: %v", dt)
	}
}

// DictionaryValueLogicalType extracts the value (not index) logical
// type tag from a "dict:<value>:<index>:<ordered>" tag, for building a
// synthetic Field to read the dictionary's value array.
func DictionaryValueLogicalType(lt LogicalType) (LogicalType, error) {
	if !lt.IsDictionary() {
		return "", lanceerr.Schemaf("not a dictionary logical type: %q", lt)
	}
	parts := strings.Split(string(lt), ":")
	if len(parts) != 4 {
		return "", lanceerr.Schemaf("malformed dict logical type: %q", lt)
	}
	return LogicalType(parts[1]), nil
}

func isStructField(dt arrow.DataType) bool {
	_, ok := dt.(*arrow.StructType)
	return ok
}

var simpleDecode = map[LogicalType]arrow.DataType{
	ltNull:        arrow.Null,
	ltBool:        arrow.FixedWidthTypes.Boolean,
	ltInt8:        arrow.PrimitiveTypes.Int8,
	ltInt16:       arrow.PrimitiveTypes.Int16,
	ltInt32:       arrow.PrimitiveTypes.Int32,
	ltInt64:       arrow.PrimitiveTypes.Int64,
	ltUint8:       arrow.PrimitiveTypes.Uint8,
	ltUint16:      arrow.PrimitiveTypes.Uint16,
	ltUint32:      arrow.PrimitiveTypes.Uint32,
	ltUint64:      arrow.PrimitiveTypes.Uint64,
	ltHalfFloat:   arrow.FixedWidthTypes.Float16,
	ltFloat:       arrow.PrimitiveTypes.Float32,
	ltDouble:      arrow.PrimitiveTypes.Float64,
	ltString:      arrow.BinaryTypes.String,
	ltBinary:      arrow.BinaryTypes.Binary,
	ltLargeString: arrow.BinaryTypes.LargeString,
	ltLargeBinary: arrow.BinaryTypes.LargeBinary,
	"date32:day":  arrow.FixedWidthTypes.Date32,
	"date64:ms":   arrow.FixedWidthTypes.Date64,
	"time32:s":    arrow.FixedWidthTypes.Time32s,
	"time32:ms":   arrow.FixedWidthTypes.Time32ms,
	"time64:us":   arrow.FixedWidthTypes.Time64us,
	"time64:ns":   arrow.FixedWidthTypes.Time64ns,
	"duration:s":  arrow.FixedWidthTypes.Duration_s,
	"duration:ms": arrow.FixedWidthTypes.Duration_ms,
	"duration:us": arrow.FixedWidthTypes.Duration_us,
	"duration:ns": arrow.FixedWidthTypes.Duration_ns,
}

// DecodeLogicalType maps a textual tag back to an arrow.DataType. It does
// not resolve nested list/struct/dictionary children; callers with
// access to the Field tree should prefer Field.DataType(), which wires
// children in.
func DecodeLogicalType(lt LogicalType) (arrow.DataType, error) {
	if dt, ok := simpleDecode[lt]; ok {
		return dt, nil
	}

	// fixed_size_list nests an arbitrary recursively-encoded inner type,
	// which may itself contain colons (nested fixed_size_list, decimal,
	// timestamp, ...). The length suffix is always a plain decimal
	// number, so the LAST colon - not the second one - is the only safe
	// split point; a blanket strings.Split would otherwise shred the
	// inner token. Every other category goes through the generic Split
	// below, so it decodes only when each segment is colon-free: a dict
	// whose value type contains a colon (e.g. "date32:day"), or a
	// timestamp whose zone does, fails with a Schema error.
	if rest := strings.TrimPrefix(string(lt), "fixed_size_list:"); rest != string(lt) {
		sep := strings.LastIndex(rest, ":")
		if sep < 0 {
			return nil, lanceerr.Schemaf("malformed fixed_size_list logical type: %q", lt)
		}
		inner, err := DecodeLogicalType(LogicalType(rest[:sep]))
		if err != nil {
			return nil, err
		}
		n, err := strconv.Atoi(rest[sep+1:])
		if err != nil {
			return nil, lanceerr.Schemaf("malformed fixed_size_list length: %w", err)
		}
		return arrow.FixedSizeListOf(int32(n), inner), nil
	}

	parts := strings.Split(string(lt), ":")
	switch parts[0] {
	case "fixed_size_binary":
		if len(parts) != 2 {
			return nil, lanceerr.Schemaf("malformed fixed_size_binary logical type: %q", lt)
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, lanceerr.Schemaf("malformed fixed_size_binary length: %w", err)
		}
		return &arrow.FixedSizeBinaryType{ByteWidth: n}, nil
	case "decimal":
		if len(parts) != 4 {
			return nil, lanceerr.Schemaf("malformed decimal logical type: %q", lt)
		}
		precision, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, lanceerr.Schemaf("malformed decimal precision: %w", err)
		}
		scale, err := strconv.Atoi(parts[3])
		if err != nil {
			return nil, lanceerr.Schemaf("malformed decimal scale: %w", err)
		}
		switch parts[1] {
		case "128":
			return &arrow.Decimal128Type{Precision: int32(precision), Scale: int32(scale)}, nil
		case "256":
			return &arrow.Decimal256Type{Precision: int32(precision), Scale: int32(scale)}, nil
		default:
			return nil, lanceerr.Schemaf("unsupported decimal bit width: %q", parts[1])
		}
	case "timestamp":
		if len(parts) != 3 {
			return nil, lanceerr.Schemaf("malformed timestamp logical type: %q", lt)
		}
		unit, err := parseTimeUnit(parts[1])
		if err != nil {
			return nil, err
		}
		tz := ""
		if parts[2] != "-" {
			tz = parts[2]
		}
		return &arrow.TimestampType{Unit: unit, TimeZone: tz}, nil
	case "dict":
		if len(parts) != 4 {
			return nil, lanceerr.Schemaf("malformed dict logical type: %q", lt)
		}
		value, err := DecodeLogicalType(LogicalType(parts[1]))
		if err != nil {
			return nil, err
		}
		index, err := DecodeLogicalType(LogicalType(parts[2]))
		if err != nil {
			return nil, err
		}
		return &arrow.DictionaryType{IndexType: index, ValueType: value, Ordered: parts[3] == "true"}, nil
	default:
		return nil, lanceerr.Schemaf("unsupported logical type: %q", lt)
	}
}
