// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/opencontainers/go-digest"
	"github.com/yeetrun/dock/pkg/compress"
	"github.com/yeetrun/dock/pkg/oci"
)

// decodeBody undoes any Content-Encoding of an upload body.
func decodeBody(r *http.Request) error {
	if err := compress.DecompressRequest(r); err != nil {
		return fmt.Errorf("%w: %v", oci.ErrBlobUploadInvalid, err)
	}
	return nil
}

// setUploadHeaders describes a session that holds n bytes.
func setUploadHeaders(w http.ResponseWriter, ns, id string, n int64) {
	h := w.Header()
	h.Set("Location", uploadPath(ns, id))
	h.Set("Docker-Upload-UUID", id)
	if n > 0 {
		h.Set("Range", fmt.Sprintf("0-%d", n-1))
	} else {
		h.Set("Range", "0-0")
	}
}

func setBlobCreated(w http.ResponseWriter, ns string, d digest.Digest) {
	h := w.Header()
	h.Set("Location", blobPath(ns, d.String()))
	h.Set("Docker-Content-Digest", d.String())
	h.Set("Content-Length", "0")
	w.WriteHeader(http.StatusCreated)
}

// queryDigest parses the digest in query parameter key, if present.
func queryDigest(r *http.Request, key string) (*digest.Digest, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	d, err := oci.ParseDigest(v)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// handleUploadStart opens an upload session. With mount or digest set and
// the blob already stored, the namespace is linked to it and no session is
// opened. With digest set and no such blob, the body is uploaded in one go.
func (s *Server) handleUploadStart(w http.ResponseWriter, r *http.Request, route Route) {
	ctx := r.Context()
	ns := route.Namespace

	mount, err := queryDigest(r, "mount")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if mount != nil {
		up, err := s.reg.StartUpload(ctx, ns, mount)
		if err != nil {
			s.writeErr(w, r, err)
			return
		}
		if up.Existing != "" {
			vlog("mounted %s into %s from %q", up.Existing, ns, r.URL.Query().Get("from"))
			setBlobCreated(w, ns, up.Existing)
			return
		}
		setUploadHeaders(w, ns, up.Session, 0)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	d, err := queryDigest(r, "digest")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	up, err := s.reg.StartUpload(ctx, ns, d)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if up.Existing != "" {
		setBlobCreated(w, ns, up.Existing)
		return
	}
	if d == nil {
		setUploadHeaders(w, ns, up.Session, 0)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	if err := decodeBody(r); err != nil {
		s.discardSession(r, ns, up.Session)
		s.writeErr(w, r, err)
		return
	}
	if err := s.reg.CompleteUpload(ctx, ns, up.Session, *d, r.Body); err != nil {
		s.discardSession(r, ns, up.Session)
		s.writeErr(w, r, err)
		return
	}
	setBlobCreated(w, ns, *d)
}

// discardSession removes a session the client never learned the id of.
func (s *Server) discardSession(r *http.Request, ns, id string) {
	if err := s.reg.DeleteUpload(r.Context(), ns, id); err != nil {
		vlog("discard upload %s: %v", id, err)
	}
}

// contentRange parses a PATCH Content-Range ("start-end"). It returns nil
// without one, and a length of -1 when the end is missing.
func contentRange(h string) (start *int64, length int64, err error) {
	if h == "" {
		return nil, -1, nil
	}
	h = strings.TrimPrefix(h, "bytes ")
	startStr, endStr, _ := strings.Cut(h, "-")
	n, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || n < 0 {
		return nil, -1, fmt.Errorf("%w: bad Content-Range %q", oci.ErrRangeNotSatisfiable, h)
	}
	if endStr == "" {
		return &n, -1, nil
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < n {
		return nil, -1, fmt.Errorf("%w: bad Content-Range %q", oci.ErrRangeNotSatisfiable, h)
	}
	return &n, end - n + 1, nil
}

func (s *Server) handleUploadPatch(w http.ResponseWriter, r *http.Request, route Route) {
	start, length, err := contentRange(r.Header.Get("Content-Range"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	// Content-Length counts encoded bytes; only plain bodies can be checked.
	if length >= 0 && r.ContentLength >= 0 && r.Header.Get("Content-Encoding") == "" && r.ContentLength != length {
		s.writeErr(w, r, fmt.Errorf("%w: Content-Range covers %d bytes, body has %d", oci.ErrSizeInvalid, length, r.ContentLength))
		return
	}
	if err := decodeBody(r); err != nil {
		s.writeErr(w, r, err)
		return
	}
	n, err := s.reg.PatchUpload(r.Context(), route.Namespace, route.Reference, start, r.Body)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	setUploadHeaders(w, route.Namespace, route.Reference, n)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleUploadComplete(w http.ResponseWriter, r *http.Request, route Route) {
	d, err := queryDigest(r, "digest")
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if d == nil {
		s.writeErr(w, r, fmt.Errorf("%w: digest parameter required", oci.ErrDigestInvalid))
		return
	}
	if err := decodeBody(r); err != nil {
		s.writeErr(w, r, err)
		return
	}
	if err := s.reg.CompleteUpload(r.Context(), route.Namespace, route.Reference, *d, r.Body); err != nil {
		s.writeErr(w, r, err)
		return
	}
	setBlobCreated(w, route.Namespace, *d)
}

func (s *Server) handleUploadStatus(w http.ResponseWriter, r *http.Request, route Route) {
	ctx := r.Context()
	n, err := s.reg.UploadRangeMax(ctx, route.Namespace, route.Reference)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if started, err := s.reg.UploadStartedAt(ctx, route.Namespace, route.Reference); err == nil {
		vlog("upload %s in %s: %s received, started %s", route.Reference, route.Namespace, humanize.IBytes(uint64(n)), humanize.Time(started))
	}
	setUploadHeaders(w, route.Namespace, route.Reference, n)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUploadCancel(w http.ResponseWriter, r *http.Request, route Route) {
	if err := s.reg.DeleteUpload(r.Context(), route.Namespace, route.Reference); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
