// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/yeetrun/dock/pkg/oci"
	"github.com/yeetrun/dock/pkg/registry"
)

// errPaginationInvalid reports a bad n query parameter.
var errPaginationInvalid = &oci.Error{
	Code:    "PAGINATION_NUMBER_INVALID",
	Status:  http.StatusBadRequest,
	Message: "invalid number of results requested",
}

// pageParams reads n and last. A missing n lists everything.
func pageParams(r *http.Request) (n int, last string, err error) {
	q := r.URL.Query()
	n = -1
	if v := q.Get("n"); v != "" {
		n, err = strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, "", fmt.Errorf("%w: %q", errPaginationInvalid, v)
		}
	}
	return n, q.Get("last"), nil
}

// setNextLink advertises the following page, if any.
func setNextLink(w http.ResponseWriter, path string, n int, page registry.Page) {
	if page.Next == "" {
		return
	}
	q := url.Values{}
	q.Set("n", strconv.Itoa(n))
	q.Set("last", page.Next)
	w.Header().Set("Link", fmt.Sprintf(`<%s?%s>; rel="next"`, path, q.Encode()))
}

func writeJSON(w http.ResponseWriter, contentType string, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		vlog("write response: %v", err)
	}
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request, _ Route) {
	n, last, err := pageParams(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	page, err := s.reg.ListCatalog(r.Context(), n, last)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	setNextLink(w, "/v2/_catalog", n, page)
	writeJSON(w, "application/json", struct {
		Repositories []string `json:"repositories"`
	}{page.Names})
}

func (s *Server) handleTagsList(w http.ResponseWriter, r *http.Request, route Route) {
	n, last, err := pageParams(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	page, err := s.reg.ListTags(r.Context(), route.Namespace, n, last)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	setNextLink(w, fmt.Sprintf("/v2/%s/tags/list", route.Namespace), n, page)
	writeJSON(w, "application/json", struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}{route.Namespace, page.Names})
}

// handleReferrers answers with an image index of the manifests declaring
// the digest as their subject.
func (s *Server) handleReferrers(w http.ResponseWriter, r *http.Request, route Route) {
	d, err := oci.ParseDigest(route.Reference)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	artifactType := r.URL.Query().Get("artifactType")
	descs, err := s.reg.GetReferrers(r.Context(), route.Namespace, d, artifactType)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if descs == nil {
		descs = []ocispec.Descriptor{}
	}
	if artifactType != "" {
		w.Header().Set("OCI-Filters-Applied", "artifactType")
	}
	writeJSON(w, ocispec.MediaTypeImageIndex, ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: descs,
	})
}
