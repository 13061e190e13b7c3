// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command cdfcat opens one or more columnar data files and prints a
// requested batch, range, or take() selection to stdout. It exists to
// exercise the reader core end to end from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/rs/zerolog"

	"github.com/Mehrbod2002/lance/config"
	"github.com/Mehrbod2002/lance/internal/start"
	lanceio "github.com/Mehrbod2002/lance/io"
)

func main() {
	flag.Parse()
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	err := start.Start(context.Background(), 5*time.Second, func(ctx context.Context) error {
		return run(ctx, logger)
	})
	if err != nil {
		logger.Error().Err(err).Msg("cdfcat")
		os.Exit(1)
	}
}

func run(ctx context.Context, logger zerolog.Logger) error {
	if err := config.Run(ctx); err != nil {
		return err
	}
	opt, err := config.Parse()
	if err != nil {
		return err
	}

	paths := strings.Split(opt.Path, ",")
	runs := make([]func(context.Context) error, len(paths))
	for i, p := range paths {
		p := strings.TrimSpace(p)
		runs[i] = func(ctx context.Context) error {
			return readOne(ctx, logger, p, opt)
		}
	}
	return start.RunAll(ctx, runs...)
}

func readOne(ctx context.Context, logger zerolog.Logger, path string, opt *config.Options) error {
	store := lanceio.NewLocalStore()
	r, err := lanceio.OpenWithFragment(ctx, store, path, opt.FragmentID, nil)
	if err != nil {
		return err
	}
	r.WithRowID(opt.WithRowID)

	logger.Info().
		Str("path", path).
		Int("num_batches", r.NumBatches()).
		Int("len", r.Len()).
		Msg("opened")

	rec, err := readRecord(ctx, r, opt)
	if err != nil {
		return err
	}
	defer rec.Release()

	fmt.Println(rec)
	return nil
}

// readRecord dispatches to take/read_batch/read_range the way a caller of
// the public API surface would, based on which flags were set.
func readRecord(ctx context.Context, r *lanceio.Reader, opt *config.Options) (arrow.Record, error) {
	switch {
	case len(opt.Indices) > 0 && opt.BatchID >= 0:
		return r.ReadBatch(ctx, opt.BatchID, lanceio.Indices(opt.Indices), opt.Projection)
	case len(opt.Indices) > 0:
		return r.Take(ctx, opt.Indices, opt.Projection)
	case opt.BatchID >= 0:
		return r.ReadBatch(ctx, opt.BatchID, rangeParams(opt.Start, opt.End), opt.Projection)
	default:
		end := opt.End
		if end < 0 {
			end = r.Len()
		}
		return r.ReadRange(ctx, opt.Start, end, opt.Projection)
	}
}

func rangeParams(start, end int) lanceio.ReadBatchParams {
	if end < 0 {
		if start == 0 {
			return lanceio.RangeFull()
		}
		return lanceio.RangeFrom(uint32(start))
	}
	return lanceio.Range(uint32(start), uint32(end))
}
