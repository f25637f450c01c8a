// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/yeetrun/dock/pkg/oci"
	"github.com/yeetrun/dock/pkg/registry"
)

// parseRange parses a single "bytes=start-end" range. The end may be
// omitted. Suffix ranges and multiple ranges are not supported.
func parseRange(h string) (*registry.Range, error) {
	if h == "" {
		return nil, nil
	}
	spec, ok := strings.CutPrefix(h, "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return nil, fmt.Errorf("%w: unsupported range %q", oci.ErrRangeNotSatisfiable, h)
	}
	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok || startStr == "" {
		return nil, fmt.Errorf("%w: unsupported range %q", oci.ErrRangeNotSatisfiable, h)
	}
	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("%w: bad range start %q", oci.ErrRangeNotSatisfiable, startStr)
	}
	end := int64(-1)
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < 0 {
			return nil, fmt.Errorf("%w: bad range end %q", oci.ErrRangeNotSatisfiable, endStr)
		}
	}
	return &registry.Range{Start: start, End: end}, nil
}

// handleBlobGet serves GET and HEAD on a blob. Blobs are sent as stored,
// never re-encoded, so that ranges stay meaningful.
func (s *Server) handleBlobGet(w http.ResponseWriter, r *http.Request, route Route) {
	ctx := r.Context()
	d, err := oci.ParseDigest(route.Reference)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	if r.Method == http.MethodHead {
		sum, err := s.reg.HeadBlob(ctx, route.Namespace, d)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		h := w.Header()
		h.Set("Content-Type", "application/octet-stream")
		h.Set("Docker-Content-Digest", d.String())
		h.Set("Content-Length", strconv.FormatInt(sum.Size, 10))
		h.Set("Accept-Ranges", "bytes")
		w.WriteHeader(http.StatusOK)
		return
	}

	rng, err := parseRange(r.Header.Get("Range"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	data, err := s.reg.GetBlob(ctx, route.Namespace, d, rng)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if data.Empty {
		// Deleted between sizing and opening.
		s.writeErr(w, r, oci.ErrBlobUnknown)
		return
	}
	defer data.Reader.Close()

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Docker-Content-Digest", d.String())
	h.Set("Accept-Ranges", "bytes")
	status := http.StatusOK
	length := data.Size
	if data.Range != nil {
		status = http.StatusPartialContent
		length = data.Range.End - data.Range.Start + 1
		if length < 0 {
			length = 0
		}
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", data.Range.Start, data.Range.End, data.Size))
	}
	h.Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)
	if _, err := io.CopyN(w, data.Reader, length); err != nil {
		vlog("send blob %s: %v", d, err)
	}
}

func (s *Server) handleBlobDelete(w http.ResponseWriter, r *http.Request, route Route) {
	d, err := oci.ParseDigest(route.Reference)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if err := s.reg.DeleteBlob(r.Context(), route.Namespace, d); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
