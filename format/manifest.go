// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/Mehrbod2002/lance/lanceerr"
)

// FragmentDescriptor names one physical file backing a logical fragment
// of a dataset. The reader core only consumes Manifest.Schema; fragment
// descriptors are carried through for the benefit of external
// dataset-level callers.
type FragmentDescriptor struct {
	ID   uint64
	Path string
}

// Manifest is the file-level self-description persisted near the tail.
// Only Schema is consumed by the reader core; Fragments and Version are
// round-tripped opaquely for higher-level callers.
type Manifest struct {
	Schema    *Schema
	Fragments []FragmentDescriptor
	Version   uint64
}

// Wire field numbers. Kept small and stable; this is a private wire
// format, not interop with any other protobuf schema.
const (
	wireFieldID         = 1
	wireFieldName       = 2
	wireFieldLogical    = 3
	wireFieldNullable   = 4
	wireFieldChildren   = 5
	wireFieldDictOffset = 6
	wireFieldDictLength = 7
	wireFieldHasDict    = 8

	wireSchemaFields   = 1
	wireSchemaMetadata = 2
	wireMetaKey        = 1
	wireMetaValue      = 2

	wireManifestSchema    = 1
	wireManifestFragments = 2
	wireManifestVersion   = 3

	wireFragmentID   = 1
	wireFragmentPath = 2
)

// EncodeManifest serializes a Manifest to its protobuf wire form.
func EncodeManifest(m *Manifest) ([]byte, error) {
	var buf []byte
	if m.Schema != nil {
		schemaBytes, err := encodeSchema(m.Schema)
		if err != nil {
			return nil, err
		}
		buf = protowire.AppendTag(buf, wireManifestSchema, protowire.BytesType)
		buf = protowire.AppendBytes(buf, schemaBytes)
	}
	for _, frag := range m.Fragments {
		fragBytes := encodeFragment(frag)
		buf = protowire.AppendTag(buf, wireManifestFragments, protowire.BytesType)
		buf = protowire.AppendBytes(buf, fragBytes)
	}
	buf = protowire.AppendTag(buf, wireManifestVersion, protowire.VarintType)
	buf = protowire.AppendVarint(buf, m.Version)
	return buf, nil
}

// DecodeManifest parses a protobuf-encoded Manifest body.
func DecodeManifest(buf []byte) (*Manifest, error) {
	m := &Manifest{}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, lanceerr.IOf(nil, "manifest: malformed tag")
		}
		buf = buf[n:]
		switch num {
		case wireManifestSchema:
			v, n, err := consumeBytesField(buf, typ)
			if err != nil {
				return nil, lanceerr.IOf(err, "manifest: schema field")
			}
			buf = buf[n:]
			schema, err := decodeSchema(v)
			if err != nil {
				return nil, err
			}
			m.Schema = schema
		case wireManifestFragments:
			v, n, err := consumeBytesField(buf, typ)
			if err != nil {
				return nil, lanceerr.IOf(err, "manifest: fragment field")
			}
			buf = buf[n:]
			frag, err := decodeFragment(v)
			if err != nil {
				return nil, err
			}
			m.Fragments = append(m.Fragments, frag)
		case wireManifestVersion:
			v, n, err := consumeVarintField(buf, typ)
			if err != nil {
				return nil, lanceerr.IOf(err, "manifest: version field")
			}
			buf = buf[n:]
			m.Version = v
		default:
			n, err := skipField(buf, typ)
			if err != nil {
				return nil, err
			}
			buf = buf[n:]
		}
	}
	return m, nil
}

func encodeFragment(f FragmentDescriptor) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, wireFragmentID, protowire.VarintType)
	buf = protowire.AppendVarint(buf, f.ID)
	buf = protowire.AppendTag(buf, wireFragmentPath, protowire.BytesType)
	buf = protowire.AppendString(buf, f.Path)
	return buf
}

func decodeFragment(buf []byte) (FragmentDescriptor, error) {
	var f FragmentDescriptor
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return f, lanceerr.IOf(nil, "fragment: malformed tag")
		}
		buf = buf[n:]
		switch num {
		case wireFragmentID:
			v, n, err := consumeVarintField(buf, typ)
			if err != nil {
				return f, lanceerr.IOf(err, "fragment: id field")
			}
			buf = buf[n:]
			f.ID = v
		case wireFragmentPath:
			v, n, err := consumeStringField(buf, typ)
			if err != nil {
				return f, lanceerr.IOf(err, "fragment: path field")
			}
			buf = buf[n:]
			f.Path = v
		default:
			n, err := skipField(buf, typ)
			if err != nil {
				return f, err
			}
			buf = buf[n:]
		}
	}
	return f, nil
}

func encodeSchema(s *Schema) ([]byte, error) {
	var buf []byte
	for _, f := range s.Fields {
		fieldBytes, err := encodeField(f)
		if err != nil {
			return nil, err
		}
		buf = protowire.AppendTag(buf, wireSchemaFields, protowire.BytesType)
		buf = protowire.AppendBytes(buf, fieldBytes)
	}
	for _, k := range keysOf(s.Metadata) {
		var entry []byte
		entry = protowire.AppendTag(entry, wireMetaKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, wireMetaValue, protowire.BytesType)
		entry = protowire.AppendString(entry, s.Metadata[k])
		buf = protowire.AppendTag(buf, wireSchemaMetadata, protowire.BytesType)
		buf = protowire.AppendBytes(buf, entry)
	}
	return buf, nil
}

func decodeSchema(buf []byte) (*Schema, error) {
	s := &Schema{Metadata: map[string]string{}}
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, lanceerr.IOf(nil, "schema: malformed tag")
		}
		buf = buf[n:]
		switch num {
		case wireSchemaFields:
			v, n, err := consumeBytesField(buf, typ)
			if err != nil {
				return nil, lanceerr.IOf(err, "schema: field entry")
			}
			buf = buf[n:]
			f, err := decodeField(v)
			if err != nil {
				return nil, err
			}
			s.Fields = append(s.Fields, f)
		case wireSchemaMetadata:
			v, n, err := consumeBytesField(buf, typ)
			if err != nil {
				return nil, lanceerr.IOf(err, "schema: metadata entry")
			}
			buf = buf[n:]
			k, val, err := decodeMetaEntry(v)
			if err != nil {
				return nil, err
			}
			s.Metadata[k] = val
		default:
			n, err := skipField(buf, typ)
			if err != nil {
				return nil, err
			}
			buf = buf[n:]
		}
	}
	return s, nil
}

func decodeMetaEntry(buf []byte) (key, value string, err error) {
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return "", "", lanceerr.IOf(nil, "metadata entry: malformed tag")
		}
		buf = buf[n:]
		switch num {
		case wireMetaKey:
			v, n, err := consumeStringField(buf, typ)
			if err != nil {
				return "", "", err
			}
			buf = buf[n:]
			key = v
		case wireMetaValue:
			v, n, err := consumeStringField(buf, typ)
			if err != nil {
				return "", "", err
			}
			buf = buf[n:]
			value = v
		default:
			n, err := skipField(buf, typ)
			if err != nil {
				return "", "", err
			}
			buf = buf[n:]
		}
	}
	return key, value, nil
}

func encodeField(f *Field) ([]byte, error) {
	var buf []byte
	buf = protowire.AppendTag(buf, wireFieldID, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(f.ID))
	buf = protowire.AppendTag(buf, wireFieldName, protowire.BytesType)
	buf = protowire.AppendString(buf, f.Name)
	buf = protowire.AppendTag(buf, wireFieldLogical, protowire.BytesType)
	buf = protowire.AppendString(buf, string(f.LogicalType))
	buf = protowire.AppendTag(buf, wireFieldNullable, protowire.VarintType)
	buf = protowire.AppendVarint(buf, boolToVarint(f.Nullable))
	for _, c := range f.Children {
		childBytes, err := encodeField(c)
		if err != nil {
			return nil, err
		}
		buf = protowire.AppendTag(buf, wireFieldChildren, protowire.BytesType)
		buf = protowire.AppendBytes(buf, childBytes)
	}
	if f.Dictionary != nil {
		buf = protowire.AppendTag(buf, wireFieldHasDict, protowire.VarintType)
		buf = protowire.AppendVarint(buf, 1)
		buf = protowire.AppendTag(buf, wireFieldDictOffset, protowire.VarintType)
		buf = protowire.AppendVarint(buf, f.Dictionary.Offset)
		buf = protowire.AppendTag(buf, wireFieldDictLength, protowire.VarintType)
		buf = protowire.AppendVarint(buf, f.Dictionary.Length)
	}
	return buf, nil
}

func decodeField(buf []byte) (*Field, error) {
	f := &Field{}
	var hasDict bool
	var dictOffset, dictLength uint64
	for len(buf) > 0 {
		num, typ, n := protowire.ConsumeTag(buf)
		if n < 0 {
			return nil, lanceerr.IOf(nil, "field: malformed tag")
		}
		buf = buf[n:]
		switch num {
		case wireFieldID:
			v, n, err := consumeVarintField(buf, typ)
			if err != nil {
				return nil, lanceerr.IOf(err, "field: id")
			}
			buf = buf[n:]
			f.ID = int32(v)
		case wireFieldName:
			v, n, err := consumeStringField(buf, typ)
			if err != nil {
				return nil, lanceerr.IOf(err, "field: name")
			}
			buf = buf[n:]
			f.Name = v
		case wireFieldLogical:
			v, n, err := consumeStringField(buf, typ)
			if err != nil {
				return nil, lanceerr.IOf(err, "field: logical_type")
			}
			buf = buf[n:]
			f.LogicalType = LogicalType(v)
		case wireFieldNullable:
			v, n, err := consumeVarintField(buf, typ)
			if err != nil {
				return nil, lanceerr.IOf(err, "field: nullable")
			}
			buf = buf[n:]
			f.Nullable = v != 0
		case wireFieldChildren:
			v, n, err := consumeBytesField(buf, typ)
			if err != nil {
				return nil, lanceerr.IOf(err, "field: child")
			}
			buf = buf[n:]
			child, err := decodeField(v)
			if err != nil {
				return nil, err
			}
			f.Children = append(f.Children, child)
		case wireFieldHasDict:
			v, n, err := consumeVarintField(buf, typ)
			if err != nil {
				return nil, lanceerr.IOf(err, "field: has_dictionary")
			}
			buf = buf[n:]
			hasDict = v != 0
		case wireFieldDictOffset:
			v, n, err := consumeVarintField(buf, typ)
			if err != nil {
				return nil, lanceerr.IOf(err, "field: dictionary_offset")
			}
			buf = buf[n:]
			dictOffset = v
		case wireFieldDictLength:
			v, n, err := consumeVarintField(buf, typ)
			if err != nil {
				return nil, lanceerr.IOf(err, "field: dictionary_length")
			}
			buf = buf[n:]
			dictLength = v
		default:
			n, err := skipField(buf, typ)
			if err != nil {
				return nil, err
			}
			buf = buf[n:]
		}
	}
	if hasDict {
		f.Dictionary = &Dictionary{Offset: dictOffset, Length: dictLength}
	}
	return f, nil
}

func boolToVarint(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func consumeVarintField(buf []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, lanceerr.IOf(nil, "expected varint wire type, got %v", typ)
	}
	v, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return 0, 0, lanceerr.IOf(nil, "malformed varint")
	}
	return v, n, nil
}

func consumeBytesField(buf []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, lanceerr.IOf(nil, "expected length-delimited wire type, got %v", typ)
	}
	v, n := protowire.ConsumeBytes(buf)
	if n < 0 {
		return nil, 0, lanceerr.IOf(nil, "malformed length-delimited field")
	}
	return v, n, nil
}

func consumeStringField(buf []byte, typ protowire.Type) (string, int, error) {
	v, n, err := consumeBytesField(buf, typ)
	if err != nil {
		return "", 0, err
	}
	return string(v), n, nil
}

func skipField(buf []byte, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, buf)
	if n < 0 {
		return 0, lanceerr.IOf(nil, "malformed field, cannot skip")
	}
	return n, nil
}
