// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package linalg implements the vector-distance primitives the storage
// layer's fixed-stride vector columns exist to serve.
package linalg

// l2Kernel is swapped in by the active build's init() to the widest
// lane width that target supports at runtime.
var l2Kernel func(a, b []float32) float32

func init() {
	if l2Kernel == nil {
		l2Kernel = l2Scalar
	}
}

// L2 computes the squared Euclidean distance Σ (a_i - b_i)^2 between two
// equal-length f32 vectors. Panics if len(a) != len(b); callers own the
// length invariant.
func L2(a, b []float32) float32 {
	if len(a) != len(b) {
		panic("linalg: L2: mismatched vector lengths")
	}
	if len(a) == 0 {
		return 0
	}
	return l2Kernel(a, b)
}

// L2Batch partitions matrix into contiguous d-length rows and returns
// l2(query, row) for each row, in order. Panics if len(matrix) % d != 0
// or len(query) != d.
func L2Batch(query, matrix []float32, d int) []float32 {
	if d <= 0 || len(query) != d {
		panic("linalg: L2Batch: query length must equal d")
	}
	if len(matrix)%d != 0 {
		panic("linalg: L2Batch: matrix length must be a multiple of d")
	}
	n := len(matrix) / d
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = l2Kernel(query, matrix[i*d:(i+1)*d])
	}
	return out
}

// l2Scalar is the architecture-independent fallback: a straight loop the
// compiler is free to auto-vectorize.
func l2Scalar(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
