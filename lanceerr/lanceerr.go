// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package lanceerr defines the stable error taxonomy used across the
// file format reader: IO, Schema and Arrow failures.
package lanceerr

import (
	"golang.org/x/xerrors"
)

// Kind classifies a reader failure so callers can branch on it without
// string matching.
type Kind int

const (
	// KindIO covers transport or layout failures: short files, magic
	// mismatches, length disagreements, missing page info, out-of-range
	// requests.
	KindIO Kind = iota + 1
	// KindSchema covers logical-type decode failures or unsupported types.
	KindSchema
	// KindArrow covers row-count mismatches or structural inconsistency
	// between schema and buffers during assembly.
	KindArrow
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "IO"
	case KindSchema:
		return "Schema"
	case KindArrow:
		return "Arrow"
	default:
		return "Unknown"
	}
}

// Error tags a wrapped error chain with a Kind. The chain itself is the
// xerrors.Errorf result the constructors below build, so anything a
// call site wrapped with %w stays reachable through Unwrap/As; Error
// only adds the classification on top.
type Error struct {
	Kind Kind
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.Kind.String()
	}
	return e.Kind.String() + ": " + e.err.Error()
}

func (e *Error) Unwrap() error { return e.err }

// Is reports whether target is a bare sentinel with the same Kind, so
// callers can do errors.Is(err, lanceerr.IO) style checks against the
// sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.err == nil
}

// Sentinels for errors.Is(err, lanceerr.IO) checks.
var (
	IO     = &Error{Kind: KindIO}
	Schema = &Error{Kind: KindSchema}
	Arrow  = &Error{Kind: KindArrow}
)

// IOf builds a Kind=IO error with a formatted message. A non-nil cause
// is appended to the chain with %w so callers can still reach it.
func IOf(cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindIO, err: wrapf(cause, format, args)}
}

// Schemaf builds a Kind=Schema error with a formatted message; the
// format may itself end in %w to wrap an underlying error.
func Schemaf(format string, args ...interface{}) error {
	return &Error{Kind: KindSchema, err: xerrors.Errorf(format, args...)}
}

// Arrowf builds a Kind=Arrow error with a formatted message, wrapping
// cause if non-nil.
func Arrowf(cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindArrow, err: wrapf(cause, format, args)}
}

func wrapf(cause error, format string, args []interface{}) error {
	if cause != nil {
		return xerrors.Errorf(format+": %w", append(args, cause)...)
	}
	return xerrors.Errorf(format, args...)
}

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if xerrors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
