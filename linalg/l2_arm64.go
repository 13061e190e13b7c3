// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package linalg

import "golang.org/x/sys/cpu"

func init() {
	if cpu.ARM64.HasASIMD {
		l2Kernel = l2NEON
	}
}

// l2NEON accumulates 4 lanes per iteration, matching the width of a
// 128-bit NEON register, with a scalar tail for len%4.
func l2NEON(a, b []float32) float32 {
	n := len(a)
	lanes := n - n%4
	var acc [4]float32
	for i := 0; i < lanes; i += 4 {
		for j := 0; j < 4; j++ {
			d := a[i+j] - b[i+j]
			acc[j] += d * d
		}
	}
	sum := (acc[0] + acc[1]) + (acc[2] + acc[3])
	for i := lanes; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
