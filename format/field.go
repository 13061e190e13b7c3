// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"github.com/apache/arrow/go/v12/arrow"

	"github.com/Mehrbod2002/lance/lanceerr"
)

// Dictionary is the side-data for a dictionary-encoded field: a pointer
// into the file where the value array lives, plus the materialized
// values once hydrated during schema loading. Dictionary values, once
// loaded, are shared by reference across every reader of the field.
type Dictionary struct {
	Offset uint64
	Length uint64
	Values arrow.Array
}

// Field is the in-memory representation of one persisted column. IDs are
// dense and assigned in pre-order traversal by the writer; the reader
// takes them as-is and never reassigns them.
type Field struct {
	ID          int32
	Name        string
	LogicalType LogicalType
	Nullable    bool
	Children    []*Field
	Dictionary  *Dictionary
}

// DataType resolves the field's logical type into a structural
// arrow.DataType, wiring in children for list/struct/dictionary nesting.
func (f *Field) DataType() (arrow.DataType, error) {
	switch {
	case f.LogicalType.IsStruct():
		fields := make([]arrow.Field, len(f.Children))
		for i, c := range f.Children {
			af, err := c.ArrowField()
			if err != nil {
				return nil, err
			}
			fields[i] = af
		}
		return arrow.StructOf(fields...), nil
	case f.LogicalType.IsList():
		if len(f.Children) != 1 {
			return nil, lanceerr.Schemaf("list field %q must have exactly one child, got %d", f.Name, len(f.Children))
		}
		elem, err := f.Children[0].ArrowField()
		if err != nil {
			return nil, err
		}
		return arrow.ListOfField(elem), nil
	case f.LogicalType.IsLargeList():
		if len(f.Children) != 1 {
			return nil, lanceerr.Schemaf("large_list field %q must have exactly one child, got %d", f.Name, len(f.Children))
		}
		elem, err := f.Children[0].ArrowField()
		if err != nil {
			return nil, err
		}
		return arrow.LargeListOfField(elem), nil
	case f.LogicalType.IsDictionary():
		return DecodeLogicalType(f.LogicalType)
	default:
		return DecodeLogicalType(f.LogicalType)
	}
}

// ArrowField wraps DataType() into a full arrow.Field, used when this
// Field appears as a child of a struct or list.
func (f *Field) ArrowField() (arrow.Field, error) {
	dt, err := f.DataType()
	if err != nil {
		return arrow.Field{}, err
	}
	return arrow.Field{Name: f.Name, Type: dt, Nullable: f.Nullable}, nil
}

// IndexType returns the structural type of a dictionary field's index
// column (the on-disk representation), failing if the field is not a
// dictionary.
func (f *Field) IndexType() (arrow.DataType, error) {
	if !f.LogicalType.IsDictionary() {
		return nil, lanceerr.Schemaf("field %q is not a dictionary field", f.Name)
	}
	dt, err := DecodeLogicalType(f.LogicalType)
	if err != nil {
		return nil, err
	}
	return dt.(*arrow.DictionaryType).IndexType, nil
}

// walkPreOrder visits f and every descendant in pre-order.
func (f *Field) walkPreOrder(visit func(*Field)) {
	visit(f)
	for _, c := range f.Children {
		c.walkPreOrder(visit)
	}
}
