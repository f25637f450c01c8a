// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"fmt"
	"strings"
)

// RouteKind is the kind of resource a /v2 path addresses.
type RouteKind int

const (
	RouteUnknown RouteKind = iota
	RouteBase
	RouteCatalog
	RouteManifest
	RouteBlob
	RouteUploadInit
	RouteUpload
	RouteTagsList
	RouteReferrers
)

func (k RouteKind) String() string {
	switch k {
	case RouteBase:
		return "base"
	case RouteCatalog:
		return "catalog"
	case RouteManifest:
		return "manifest"
	case RouteBlob:
		return "blob"
	case RouteUploadInit:
		return "upload_init"
	case RouteUpload:
		return "upload"
	case RouteTagsList:
		return "tags_list"
	case RouteReferrers:
		return "referrers"
	default:
		return "unknown"
	}
}

// Route holds the parsed components of a registry path.
type Route struct {
	Kind      RouteKind
	Namespace string
	// Reference is the tag or digest for manifests, the digest for blobs
	// and referrers, and the session id for uploads.
	Reference string
}

// ParseRoute parses a distribution API path. The namespace is everything
// between /v2/ and the first operation segment; it is validated later, so
// that a malformed name is reported as such rather than as a missing route.
func ParseRoute(path string) (Route, error) {
	trimmed := strings.Trim(path, "/")
	parts := strings.Split(trimmed, "/")
	if parts[0] != "v2" {
		return Route{}, fmt.Errorf("path must start with /v2/")
	}
	if len(parts) == 1 {
		return Route{Kind: RouteBase}, nil
	}
	if len(parts) == 2 && parts[1] == "_catalog" {
		return Route{Kind: RouteCatalog}, nil
	}

	opIdx := -1
	for i := 2; i < len(parts); i++ {
		switch parts[i] {
		case "manifests", "blobs", "tags", "referrers":
			opIdx = i
		}
		if opIdx >= 0 {
			break
		}
	}
	if opIdx < 0 {
		return Route{}, fmt.Errorf("no operation in %q", path)
	}
	route := Route{Namespace: strings.Join(parts[1:opIdx], "/")}
	rest := parts[opIdx+1:]

	switch parts[opIdx] {
	case "manifests":
		if len(rest) != 1 || rest[0] == "" {
			return Route{}, fmt.Errorf("manifests path needs exactly one reference")
		}
		route.Kind = RouteManifest
		route.Reference = rest[0]
	case "blobs":
		switch {
		case len(rest) == 1 && rest[0] == "uploads":
			route.Kind = RouteUploadInit
		case len(rest) == 2 && rest[0] == "uploads":
			route.Kind = RouteUpload
			route.Reference = rest[1]
		case len(rest) == 1 && rest[0] != "":
			route.Kind = RouteBlob
			route.Reference = rest[0]
		default:
			return Route{}, fmt.Errorf("malformed blobs path")
		}
	case "tags":
		if len(rest) != 1 || rest[0] != "list" {
			return Route{}, fmt.Errorf("tags path must be tags/list")
		}
		route.Kind = RouteTagsList
	case "referrers":
		if len(rest) != 1 || rest[0] == "" {
			return Route{}, fmt.Errorf("referrers path needs a digest")
		}
		route.Kind = RouteReferrers
		route.Reference = rest[0]
	}
	return route, nil
}

func uploadPath(ns, id string) string {
	return fmt.Sprintf("/v2/%s/blobs/uploads/%s", ns, id)
}

func blobPath(ns, d string) string {
	return fmt.Sprintf("/v2/%s/blobs/%s", ns, d)
}

func manifestPath(ns, ref string) string {
	return fmt.Sprintf("/v2/%s/manifests/%s", ns, ref)
}
