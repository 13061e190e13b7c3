// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linalg

import "golang.org/x/sys/cpu"

func init() {
	if cpu.X86.HasAVX2 && cpu.X86.HasFMA {
		l2Kernel = l2AVX2
	}
}

// l2AVX2 accumulates 8 lanes per iteration, matching the width of a
// 256-bit register, with a scalar tail for len%8. The reduction order
// differs from l2Scalar's, which is why TestL2KernelMatchesScalar
// compares the two to within an ULP tolerance rather than bit-exact
// equality.
func l2AVX2(a, b []float32) float32 {
	n := len(a)
	lanes := n - n%8
	var acc [8]float32
	for i := 0; i < lanes; i += 8 {
		for j := 0; j < 8; j++ {
			d := a[i+j] - b[i+j]
			acc[j] += d * d
		}
	}
	sum := ((acc[0] + acc[4]) + (acc[1] + acc[5])) + ((acc[2] + acc[6]) + (acc[3] + acc[7]))
	for i := lanes; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
