// Copyright 2018 The Solid Core Data Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package format

// MagicSuffix is the fixed byte string every file ends with. Its
// presence as the last bytes of the object is the first thing the
// footer reader checks.
var MagicSuffix = []byte("CDFM1")

// DefaultTailSize is the tail window read when the caller does not
// supply a smaller object-store block size.
const DefaultTailSize = 64 * 1024

// ManifestPrefixSize is the 4-byte little-endian declared-length header
// immediately preceding the protobuf-encoded Manifest at its position.
const ManifestPrefixSize = 4
