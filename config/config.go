// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config parses the demo CLI's process flags and validates them
// before the rest of the program starts.
package config

import (
	"context"
	"errors"
	"flag"
	"strconv"
	"strings"
)

var (
	path       = flag.String("path", "", "comma-separated paths of data files")
	fragmentID = flag.Uint64("fragment", 0, "fragment id this reader is opened with")
	batchID    = flag.Int("batch", -1, "batch id to read; -1 reads across the whole file via read_range (or take with -indices)")
	start      = flag.Int("start", 0, "first row (inclusive) of the range/batch to read")
	end        = flag.Int("end", -1, "last row (exclusive) of the range/batch to read; -1 means to the end")
	indices    = flag.String("indices", "", "comma-separated ascending row indices to take instead of a range")
	withRowID  = flag.Bool("with-row-id", false, "append a synthesized _rowid column")
	projection = flag.String("projection", "", "comma-separated field names to project; empty means all fields")
)

// Options is the parsed, validated command line for one read operation.
type Options struct {
	Path       string
	FragmentID uint64
	BatchID    int32 // -1 means read_range/take over the whole file.
	Start      int
	End        int // -1 means to the end of the file/batch.
	Indices    []uint32
	WithRowID  bool
	Projection []string
}

// Run validates the parsed flags before the rest of the program starts.
func Run(ctx context.Context) error {
	if len(*path) == 0 {
		return errors.New("missing -path")
	}
	if len(*indices) > 0 && (*start != 0 || *end >= 0) {
		return errors.New("-indices cannot be combined with -start/-end")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// Parse builds Options from already-parsed flags. Callers must call
// flag.Parse() (and ideally config.Run for validation) first.
func Parse() (*Options, error) {
	opt := &Options{
		Path:       *path,
		FragmentID: *fragmentID,
		BatchID:    int32(*batchID),
		Start:      *start,
		End:        *end,
		WithRowID:  *withRowID,
	}
	if len(*projection) > 0 {
		opt.Projection = strings.Split(*projection, ",")
	}
	if len(*indices) > 0 {
		for _, s := range strings.Split(*indices, ",") {
			v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
			if err != nil {
				return nil, errors.New("malformed -indices value " + strconv.Quote(s))
			}
			opt.Indices = append(opt.Indices, uint32(v))
		}
	}
	return opt, nil
}
