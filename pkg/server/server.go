// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package server exposes a registry over the OCI distribution HTTP API.
package server

import (
	"log"
	"net/http"
	"sync/atomic"

	"github.com/yeetrun/dock/pkg/oci"
	"github.com/yeetrun/dock/pkg/policy"
	"github.com/yeetrun/dock/pkg/registry"
)

// DefaultRealm is the basic auth realm announced to unauthenticated clients.
const DefaultRealm = "dock"

// Options configure a Server.
type Options struct {
	// Policy authorizes every request. Nil allows everything.
	Policy policy.Evaluator
	// Realm is announced in WWW-Authenticate. Empty means DefaultRealm.
	Realm string
}

// Server is an http.Handler serving the /v2 API.
type Server struct {
	reg    *registry.Registry
	policy policy.Evaluator
	realm  string
}

// New returns a Server for reg.
func New(reg *registry.Registry, opts Options) *Server {
	s := &Server{
		reg:    reg,
		policy: opts.Policy,
		realm:  opts.Realm,
	}
	if s.policy == nil {
		s.policy = policy.AllowAll{}
	}
	if s.realm == "" {
		s.realm = DefaultRealm
	}
	return s
}

var verbose atomic.Bool

// SetVerbose turns request logging on or off.
func SetVerbose(v bool) { verbose.Store(v) }

func vlog(format string, args ...any) {
	if verbose.Load() {
		log.Printf(format, args...)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Docker-Distribution-API-Version", "registry/2.0")
	route, err := ParseRoute(r.URL.Path)
	if err != nil {
		vlog("ParseRoute(%s): %v", r.URL.Path, err)
		s.writeErr(w, r, oci.ErrNotFound)
		return
	}
	vlog("%s %s: %+v", r.Method, r.URL.Path, route)

	h, kind := s.handler(r.Method, route.Kind)
	if h == nil {
		s.writeErr(w, r, oci.ErrUnsupported)
		return
	}
	if route.Namespace != "" {
		if err := oci.ValidateNamespace(route.Namespace); err != nil {
			s.writeErr(w, r, err)
			return
		}
	}
	a := policy.Action{Kind: kind, Namespace: route.Namespace, Reference: route.Reference}
	if err := s.policy.Authorize(r.Context(), a, identityOf(r)); err != nil {
		s.writeErr(w, r, err)
		return
	}
	h(w, r, route)
}

type handlerFunc func(http.ResponseWriter, *http.Request, Route)

// handler returns the handler for method on a route kind together with the
// action it performs, or nil if the method is not allowed there.
func (s *Server) handler(method string, kind RouteKind) (handlerFunc, policy.ActionKind) {
	switch kind {
	case RouteBase:
		if method == http.MethodGet || method == http.MethodHead {
			return s.handleAPIVersion, policy.GetAPIVersion
		}
	case RouteCatalog:
		if method == http.MethodGet {
			return s.handleCatalog, policy.ListCatalog
		}
	case RouteTagsList:
		if method == http.MethodGet {
			return s.handleTagsList, policy.ListTags
		}
	case RouteReferrers:
		if method == http.MethodGet {
			return s.handleReferrers, policy.GetReferrers
		}
	case RouteManifest:
		switch method {
		case http.MethodGet, http.MethodHead:
			return s.handleManifestGet, policy.GetManifest
		case http.MethodPut:
			return s.handleManifestPut, policy.PutManifest
		case http.MethodDelete:
			return s.handleManifestDelete, policy.DeleteManifest
		}
	case RouteBlob:
		switch method {
		case http.MethodGet, http.MethodHead:
			return s.handleBlobGet, policy.GetBlob
		case http.MethodDelete:
			return s.handleBlobDelete, policy.DeleteBlob
		}
	case RouteUploadInit:
		if method == http.MethodPost {
			return s.handleUploadStart, policy.StartUpload
		}
	case RouteUpload:
		switch method {
		case http.MethodGet:
			return s.handleUploadStatus, policy.GetUpload
		case http.MethodPatch:
			return s.handleUploadPatch, policy.UpdateUpload
		case http.MethodPut:
			return s.handleUploadComplete, policy.CompleteUpload
		case http.MethodDelete:
			return s.handleUploadCancel, policy.CancelUpload
		}
	}
	return nil, ""
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request, _ Route) {
	w.WriteHeader(http.StatusOK)
}
