// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package compress

import (
	"compress/flate"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Encoding is an HTTP content coding.
type Encoding string

const (
	Identity Encoding = ""
	Zstd     Encoding = "zstd"
	Gzip     Encoding = "gzip"
	Deflate  Encoding = "deflate"
)

// preference orders the codings the server produces, best first. Ties in
// client quality are broken by this order.
var preference = []Encoding{Zstd, Gzip, Deflate}

// ErrUnsupportedEncoding is returned by DecompressRequest for a
// Content-Encoding it cannot decode.
var ErrUnsupportedEncoding = errors.New("unsupported content encoding")

// SelectEncoding picks the coding to answer a request carrying the given
// Accept-Encoding header with. A wildcard stands for every coding not listed
// explicitly, and a quality of zero rules a coding out. It returns Identity
// when nothing acceptable is supported.
func SelectEncoding(acceptEncoding string) Encoding {
	if acceptEncoding == "" {
		return Identity
	}
	quality := make(map[Encoding]float64)
	wildcard := -1.0
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		q := 1.0
		if v, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				q = f
			}
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "*" {
			wildcard = q
			continue
		}
		quality[Encoding(name)] = q
	}

	best, bestQ := Identity, 0.0
	for _, enc := range preference {
		q, ok := quality[enc]
		if !ok {
			q = wildcard
		}
		if q > bestQ {
			best, bestQ = enc, q
		}
	}
	return best
}

// ResponseWriter compresses everything written through it. Headers are
// adjusted on the first write: Content-Encoding and Vary are set and
// Content-Length is dropped, since it described the uncompressed body.
type ResponseWriter struct {
	http.ResponseWriter
	w           io.WriteCloser
	encoding    Encoding
	wroteHeader bool
}

// NewResponseWriter wraps w to compress with enc. With Identity the data is
// passed through unchanged.
func NewResponseWriter(w http.ResponseWriter, enc Encoding) (*ResponseWriter, error) {
	rw := &ResponseWriter{ResponseWriter: w, encoding: enc}
	var err error
	switch enc {
	case Zstd:
		rw.w, err = zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	case Gzip:
		rw.w = gzip.NewWriter(w)
	case Deflate:
		rw.w, err = flate.NewWriter(w, flate.DefaultCompression)
	case Identity:
		rw.w = nopWriteCloser{w}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc)
	}
	if err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *ResponseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.wroteHeader = true
	if rw.encoding != Identity {
		h := rw.ResponseWriter.Header()
		h.Set("Content-Encoding", string(rw.encoding))
		h.Add("Vary", "Accept-Encoding")
		h.Del("Content-Length")
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *ResponseWriter) Write(p []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.w.Write(p)
}

// Close flushes the compressor. It does not close the underlying writer.
func (rw *ResponseWriter) Close() error {
	return rw.w.Close()
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// Negotiate wraps w in a compressing writer when the request accepts a
// coding the server supports. The returned close function must be called
// once the body is written. If no coding applies, or the compressor cannot
// be built, w is returned as is.
func Negotiate(w http.ResponseWriter, r *http.Request) (http.ResponseWriter, func() error) {
	enc := SelectEncoding(r.Header.Get("Accept-Encoding"))
	if enc == Identity {
		return w, func() error { return nil }
	}
	rw, err := NewResponseWriter(w, enc)
	if err != nil {
		return w, func() error { return nil }
	}
	return rw, rw.Close
}

// DecompressRequest replaces the body of r with its decoded form according
// to Content-Encoding, and removes the headers that described the encoded
// body. Unknown codings fail with ErrUnsupportedEncoding.
func DecompressRequest(r *http.Request) error {
	enc := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Encoding")))
	var body io.ReadCloser
	switch Encoding(enc) {
	case Identity, "identity":
		return nil
	case Gzip:
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			return fmt.Errorf("decode gzip body: %w", err)
		}
		body = zr
	case Deflate:
		body = flate.NewReader(r.Body)
	case Zstd:
		zr, err := zstd.NewReader(r.Body)
		if err != nil {
			return fmt.Errorf("decode zstd body: %w", err)
		}
		body = zr.IOReadCloser()
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedEncoding, enc)
	}

	r.Body = &decodedBody{ReadCloser: body, raw: r.Body}
	r.Header.Del("Content-Encoding")
	r.Header.Del("Content-Length")
	r.ContentLength = -1
	return nil
}

// decodedBody closes both the decoder and the raw body beneath it.
type decodedBody struct {
	io.ReadCloser
	raw io.Closer
}

func (b *decodedBody) Close() error {
	return errors.Join(b.ReadCloser.Close(), b.raw.Close())
}
