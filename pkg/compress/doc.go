// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package compress negotiates HTTP content codings for the registry
// front-end.
//
// Manifest responses are compressed when the client asks for it:
//
//	w, done := compress.Negotiate(w, r)
//	defer done()
//
// Preference is zstd, then gzip, then deflate, subject to the quality values
// in Accept-Encoding.
//
// Upload and manifest request bodies may arrive encoded; DecompressRequest
// swaps the body for a decoding reader before the body is consumed. Blob
// responses are never compressed, so that Content-Length and Range keep
// describing the stored bytes.
package compress
