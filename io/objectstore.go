// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lanceio implements the footer/manifest reader and the
// record-batch materializer over an object-store abstraction.
package lanceio

import (
	"bytes"
	"context"
	stdio "io"
	"os"
	"sync"

	"github.com/Mehrbod2002/lance/lanceerr"
)

// ObjectStore is the collaborator this reader consumes: a source of
// ranged byte reads, object size, and sequential writes. This package
// provides LocalStore (local disk) and MemStore (in memory); other
// backends (S3, GCS, ...) are not implemented in this module.
type ObjectStore interface {
	// Size returns the total byte length of the object at path.
	Size(ctx context.Context, path string) (int64, error)
	// ReadAt returns length bytes starting at offset. A negative length
	// reads to the end of the object.
	ReadAt(ctx context.Context, path string, offset, length int64) ([]byte, error)
	// Create opens path for sequential writing, truncating any existing
	// object.
	Create(ctx context.Context, path string) (stdio.WriteCloser, error)
}

// LocalStore implements ObjectStore over the local filesystem, used by
// tests and the demo CLI.
type LocalStore struct{}

func NewLocalStore() *LocalStore { return &LocalStore{} }

func (LocalStore) Size(_ context.Context, path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, lanceerr.IOf(err, "stat %q", path)
	}
	return fi.Size(), nil
}

func (LocalStore) ReadAt(_ context.Context, path string, offset, length int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, lanceerr.IOf(err, "open %q", path)
	}
	defer f.Close()

	if length < 0 {
		fi, err := f.Stat()
		if err != nil {
			return nil, lanceerr.IOf(err, "stat %q", path)
		}
		length = fi.Size() - offset
	}
	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && int64(n) != length {
		return nil, lanceerr.IOf(err, "read %q at offset %d length %d", path, offset, length)
	}
	return buf, nil
}

func (LocalStore) Create(_ context.Context, path string) (stdio.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, lanceerr.IOf(err, "create %q", path)
	}
	return f, nil
}

// MemStore is an in-memory ObjectStore, used by unit tests that build a
// file body programmatically without touching disk.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

// Put installs an object's full contents, for test setup.
func (s *MemStore) Put(path string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[path] = data
}

func (s *MemStore) Size(_ context.Context, path string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return 0, lanceerr.IOf(nil, "no such object: %q", path)
	}
	return int64(len(data)), nil
}

func (s *MemStore) ReadAt(_ context.Context, path string, offset, length int64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[path]
	if !ok {
		return nil, lanceerr.IOf(nil, "no such object: %q", path)
	}
	if length < 0 {
		length = int64(len(data)) - offset
	}
	if offset < 0 || length < 0 || offset+length > int64(len(data)) {
		return nil, lanceerr.IOf(nil, "read %q out of bounds: offset=%d length=%d size=%d", path, offset, length, len(data))
	}
	out := make([]byte, length)
	copy(out, data[offset:offset+length])
	return out, nil
}

type memWriter struct {
	store *MemStore
	path  string
	buf   bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *memWriter) Close() error {
	w.store.Put(w.path, w.buf.Bytes())
	return nil
}

func (s *MemStore) Create(_ context.Context, path string) (stdio.WriteCloser, error) {
	return &memWriter{store: s, path: path}, nil
}
