// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/yeetrun/dock/pkg/compress"
	"github.com/yeetrun/dock/pkg/oci"
)

// handleManifestGet serves GET and HEAD on a manifest. GET bodies are
// compressed when the client accepts it.
func (s *Server) handleManifestGet(w http.ResponseWriter, r *http.Request, route Route) {
	ref, err := oci.ParseReference(route.Reference)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	head := r.Method == http.MethodHead
	get := s.reg.GetManifest
	if head {
		get = s.reg.HeadManifest
	}
	mf, err := get(r.Context(), route.Namespace, ref)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", mf.MediaType)
	h.Set("Docker-Content-Digest", mf.Digest.String())
	h.Set("Content-Length", strconv.FormatInt(mf.Size, 10))
	if head {
		w.WriteHeader(http.StatusOK)
		return
	}

	cw, done := compress.Negotiate(w, r)
	defer func() {
		if err := done(); err != nil {
			vlog("compress manifest %s: %v", mf.Digest, err)
		}
	}()
	cw.WriteHeader(http.StatusOK)
	if _, err := cw.Write(mf.Content); err != nil {
		vlog("send manifest %s: %v", mf.Digest, err)
	}
}

// handleManifestPut stores a manifest. The body is read up to one byte past
// the size limit so that oversized manifests are rejected without buffering
// them whole.
func (s *Server) handleManifestPut(w http.ResponseWriter, r *http.Request, route Route) {
	ref, err := oci.ParseReference(route.Reference)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if err := compress.DecompressRequest(r); err != nil {
		s.writeErr(w, r, fmt.Errorf("%w: %v", oci.ErrManifestInvalid, err))
		return
	}
	contentType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		s.writeErr(w, r, fmt.Errorf("%w: bad Content-Type: %v", oci.ErrManifestInvalid, err))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, s.reg.MaxManifestSize()+1))
	if err != nil {
		s.writeErr(w, r, fmt.Errorf("%w: read body: %v", oci.ErrManifestInvalid, err))
		return
	}

	sum, err := s.reg.PutManifest(r.Context(), route.Namespace, ref, contentType, body)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	h := w.Header()
	h.Set("Docker-Content-Digest", sum.Digest.String())
	h.Set("Location", manifestPath(route.Namespace, sum.Digest.String()))
	if sum.Subject != "" {
		h.Set("OCI-Subject", sum.Subject.String())
	}
	h.Set("Content-Length", "0")
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleManifestDelete(w http.ResponseWriter, r *http.Request, route Route) {
	ref, err := oci.ParseReference(route.Reference)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if err := s.reg.DeleteManifest(r.Context(), route.Namespace, ref); err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
