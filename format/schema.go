// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"sort"

	"github.com/apache/arrow/go/v12/arrow"

	"github.com/Mehrbod2002/lance/lanceerr"
)

// Schema is the file-level schema: an ordered sequence of top-level
// fields plus free-form string metadata.
type Schema struct {
	Fields   []*Field
	Metadata map[string]string
}

// MaxFieldID returns the greatest field id in the pre-order flattening of
// the schema, or -1 if the schema has no fields.
func (s *Schema) MaxFieldID() int32 {
	max := int32(-1)
	for _, f := range s.Fields {
		f.walkPreOrder(func(c *Field) {
			if c.ID > max {
				max = c.ID
			}
		})
	}
	return max
}

// FieldByID finds a field anywhere in the tree by its stable id.
func (s *Schema) FieldByID(id int32) *Field {
	var found *Field
	for _, f := range s.Fields {
		f.walkPreOrder(func(c *Field) {
			if c.ID == id {
				found = c
			}
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// ArrowSchema projects the Schema into an arrow.Schema view, used to
// assemble a RecordBatch with a stable column order.
func (s *Schema) ArrowSchema() (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(s.Fields))
	for i, f := range s.Fields {
		af, err := f.ArrowField()
		if err != nil {
			return nil, lanceerr.Schemaf("field %q: %w", f.Name, err)
		}
		fields[i] = af
	}
	md := arrow.NewMetadata(keysOf(s.Metadata), valuesOf(s.Metadata))
	return arrow.NewSchema(fields, &md), nil
}

// keysOf returns m's keys sorted, so metadata key/value pairing and the
// encoded wire form are deterministic.
func keysOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func valuesOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for _, k := range keysOf(m) {
		out = append(out, m[k])
	}
	return out
}

// Project returns a new Schema containing only the named top-level
// fields, preserving their on-disk order. Children are carried in whole;
// the reader core does not support sub-struct projection below the
// top-level field list.
func (s *Schema) Project(names ...string) (*Schema, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	out := &Schema{Metadata: s.Metadata}
	for _, f := range s.Fields {
		if want[f.Name] {
			out.Fields = append(out.Fields, f)
			delete(want, f.Name)
		}
	}
	for n := range want {
		return nil, lanceerr.Schemaf("no such field in projection: %q", n)
	}
	return out, nil
}

// DictionaryFields returns every field in the tree whose logical type is
// a dictionary encoding, in pre-order, whether or not its Dictionary
// side-data is set.
func (s *Schema) DictionaryFields() []*Field {
	var out []*Field
	for _, f := range s.Fields {
		f.walkPreOrder(func(c *Field) {
			if c.LogicalType.IsDictionary() {
				out = append(out, c)
			}
		})
	}
	return out
}
