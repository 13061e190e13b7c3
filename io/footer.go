// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package lanceio

import (
	"bytes"
	"context"
	"encoding/binary"

	"github.com/Mehrbod2002/lance/format"
	"github.com/Mehrbod2002/lance/lanceerr"
)

// footerResult bundles everything open() recovers from the tail of the
// file before any batch can be served.
type footerResult struct {
	Metadata  *format.Metadata
	Manifest  *format.Manifest
	PageTable *format.PageTable
}

// tailWindow is what every tail-discovering entry point needs first:
// the last min(size, blockSize) bytes of the file, verified to end in
// the magic suffix, with the 16-byte trailer before it decoded.
type tailWindow struct {
	buf      []byte
	start    int64 // absolute offset of buf[0]
	size     int64 // total file size
	position uint64
	reserved uint64
}

func readTail(ctx context.Context, store ObjectStore, path string, blockSize int64) (*tailWindow, error) {
	size, err := store.Size(ctx, path)
	if err != nil {
		return nil, lanceerr.IOf(err, "stat %q", path)
	}
	if blockSize <= 0 || blockSize > size {
		blockSize = size
	}
	if blockSize > format.DefaultTailSize {
		blockSize = format.DefaultTailSize
	}
	if blockSize < int64(len(format.MagicSuffix)+16) {
		blockSize = size
	}

	tail, err := store.ReadAt(ctx, path, size-blockSize, blockSize)
	if err != nil {
		return nil, lanceerr.IOf(err, "read tail window of %q", path)
	}
	if len(tail) < len(format.MagicSuffix) || !bytes.Equal(tail[len(tail)-len(format.MagicSuffix):], format.MagicSuffix) {
		return nil, lanceerr.IOf(nil, "%q: magic mismatch", path)
	}

	trailerEnd := len(tail) - len(format.MagicSuffix)
	trailerStart := trailerEnd - 16
	if trailerStart < 0 {
		return nil, lanceerr.IOf(nil, "%q: file too small for footer trailer", path)
	}
	position, reserved, err := format.DecodeMetadataTrailer(tail[trailerStart:trailerEnd])
	if err != nil {
		return nil, lanceerr.IOf(err, "%q: footer trailer", path)
	}
	return &tailWindow{buf: tail, start: size - blockSize, size: size, position: position, reserved: reserved}, nil
}

// readFooter runs the full discovery algorithm: tail read, magic
// verification, metadata decode (the struct the trailer points to in a
// data file), manifest decode, dictionary hydration, and page table
// load. blockSize overrides the default 64 KiB tail window when the
// caller's object store has a smaller natural block size.
func readFooter(ctx context.Context, store ObjectStore, path string, blockSize int64, preloaded *format.Manifest) (*footerResult, error) {
	tw, err := readTail(ctx, store, path, blockSize)
	if err != nil {
		return nil, err
	}
	metadataPosition := tw.position
	reserved := tw.reserved

	metadataRegionEnd := tw.size - 16 - int64(len(format.MagicSuffix))
	metadataLen := metadataRegionEnd - int64(metadataPosition)
	if metadataLen <= 0 {
		return nil, lanceerr.IOf(nil, "%q: metadata_position %d not before footer trailer", path, metadataPosition)
	}

	var metadataBuf []byte
	if int64(metadataPosition) >= tw.start {
		local := int64(metadataPosition) - tw.start
		metadataBuf = tw.buf[local : local+metadataLen]
	} else {
		metadataBuf, err = store.ReadAt(ctx, path, int64(metadataPosition), metadataLen)
		if err != nil {
			return nil, lanceerr.IOf(err, "%q: read metadata region", path)
		}
	}

	metadata, consumed, err := format.DecodeMetadataBody(metadataBuf)
	if err != nil {
		return nil, lanceerr.IOf(err, "%q: decode metadata", path)
	}
	if consumed > len(metadataBuf) {
		return nil, lanceerr.IOf(nil, "%q: metadata declares more bytes than available", path)
	}
	metadata.Reserved = reserved

	manifest := preloaded
	if manifest == nil {
		if !metadata.HasManifestPosition {
			return nil, lanceerr.IOf(nil, "%q: metadata carries no manifest_position and none was preloaded", path)
		}
		manifest, err = readManifestAt(ctx, store, path, metadata.ManifestPosition)
		if err != nil {
			return nil, err
		}
	}
	if manifest.Schema == nil {
		return nil, lanceerr.Schemaf("%q: manifest has no schema", path)
	}

	if err := hydrateDictionaries(ctx, store, path, manifest.Schema); err != nil {
		return nil, err
	}

	numColumns := int(manifest.Schema.MaxFieldID()) + 1
	numBatches := metadata.NumBatches()
	pageTableLen := int64(numColumns) * int64(numBatches) * 16
	pageTableBuf, err := store.ReadAt(ctx, path, int64(metadata.PageTablePosition), pageTableLen)
	if err != nil {
		return nil, lanceerr.IOf(err, "%q: read page table", path)
	}
	pageTable, err := format.DecodePageTable(pageTableBuf, numColumns, numBatches)
	if err != nil {
		return nil, lanceerr.IOf(err, "%q: decode page table", path)
	}

	return &footerResult{Metadata: metadata, Manifest: manifest, PageTable: pageTable}, nil
}

// readManifestAt reads the protobuf-encoded Manifest body at position:
// a 4-byte declared length, the protobuf bytes, and a verification that
// declared_length matches the number of body bytes read.
func readManifestAt(ctx context.Context, store ObjectStore, path string, position uint64) (*format.Manifest, error) {
	prefix, err := store.ReadAt(ctx, path, int64(position), format.ManifestPrefixSize)
	if err != nil {
		return nil, lanceerr.IOf(err, "%q: read manifest length prefix", path)
	}
	declared := binary.LittleEndian.Uint32(prefix)
	body, err := store.ReadAt(ctx, path, int64(position)+format.ManifestPrefixSize, int64(declared))
	if err != nil {
		return nil, lanceerr.IOf(err, "%q: read manifest body", path)
	}
	if uint32(len(body)) != declared {
		return nil, lanceerr.IOf(nil, "%q: manifest declared_length %d does not match read length %d", path, declared, len(body))
	}
	manifest, err := format.DecodeManifest(body)
	if err != nil {
		return nil, lanceerr.IOf(err, "%q: decode manifest protobuf", path)
	}
	return manifest, nil
}

// ReadManifest recovers a Manifest from a file whose trailer locates
// the manifest body directly: the layout a dataset layer uses when it
// persists a manifest on its own, with no Metadata struct or page table
// in the file at all. Only the tail window and the manifest bytes are
// ever read.
func ReadManifest(ctx context.Context, store ObjectStore, path string) (*format.Manifest, error) {
	tw, err := readTail(ctx, store, path, format.DefaultTailSize)
	if err != nil {
		return nil, err
	}
	return readManifestAt(ctx, store, path, tw.position)
}

// hydrateDictionaries loads the materialized value array for every
// dictionary-bearing field in the schema, via the (offset, length) side
// data already attached during manifest decode.
func hydrateDictionaries(ctx context.Context, store ObjectStore, path string, schema *format.Schema) error {
	for _, field := range schema.DictionaryFields() {
		if field.Dictionary == nil {
			return lanceerr.Schemaf("field %q: declared dictionary logical type but no dictionary side-data", field.Name)
		}
		valueLogical, err := format.DictionaryValueLogicalType(field.LogicalType)
		if err != nil {
			return err
		}
		synthetic := &format.Field{Name: field.Name + ".values", LogicalType: valueLogical, Nullable: false}
		values, err := ReadArray(ctx, store, path, synthetic, format.PageInfo{
			Position: field.Dictionary.Offset,
			Length:   field.Dictionary.Length,
		}, RangeFull(), nil)
		if err != nil {
			return lanceerr.IOf(err, "field %q: hydrate dictionary values", field.Name)
		}
		field.Dictionary.Values = values
	}
	return nil
}
