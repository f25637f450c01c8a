// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package oci

import (
	"encoding/json"
	"fmt"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Docker manifest media types accepted alongside the OCI ones.
const (
	MediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	MediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"
)

// IsManifestMediaType reports whether mt is a manifest media type the
// registry stores.
func IsManifestMediaType(mt string) bool {
	switch mt {
	case ocispec.MediaTypeImageManifest, ocispec.MediaTypeImageIndex,
		MediaTypeDockerManifest, MediaTypeDockerManifestList:
		return true
	}
	return false
}

func isIndexMediaType(mt string) bool {
	return mt == ocispec.MediaTypeImageIndex || mt == MediaTypeDockerManifestList
}

// Manifest is the part of a manifest the registry indexes on.
type Manifest struct {
	MediaType    string
	ArtifactType string
	// References lists the config, layer and child manifest digests the
	// manifest points at, deduplicated, in document order.
	References  []digest.Digest
	Subject     digest.Digest
	Annotations map[string]string
}

// manifestDocument covers both image manifests and indexes; the fields are
// those of ocispec.Manifest and ocispec.Index.
type manifestDocument struct {
	ocispec.Manifest
	Manifests []ocispec.Descriptor `json:"manifests,omitempty"`
}

// ParseManifest validates body as a manifest submitted with contentType and
// extracts what the registry links on. contentType must be a supported
// manifest media type and agree with the document's own mediaType field.
func ParseManifest(contentType string, body []byte) (*Manifest, error) {
	if !IsManifestMediaType(contentType) {
		return nil, fmt.Errorf("%w: unsupported media type %q", ErrManifestInvalid, contentType)
	}
	var doc manifestDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	if doc.MediaType != "" && doc.MediaType != contentType {
		return nil, fmt.Errorf("%w: mediaType %q does not match Content-Type %q", ErrManifestInvalid, doc.MediaType, contentType)
	}

	m := &Manifest{
		MediaType:    contentType,
		ArtifactType: doc.ArtifactType,
		Annotations:  doc.Annotations,
	}
	if m.ArtifactType == "" && !isIndexMediaType(contentType) {
		// Image manifests without an artifactType are typed by their config.
		m.ArtifactType = doc.Config.MediaType
	}

	var descs []ocispec.Descriptor
	if isIndexMediaType(contentType) {
		descs = doc.Manifests
	} else {
		if doc.Config.Digest != "" {
			descs = append(descs, doc.Config)
		}
		descs = append(descs, doc.Layers...)
	}
	seen := make(map[digest.Digest]bool)
	for _, desc := range descs {
		d, err := ParseDigest(desc.Digest.String())
		if err != nil {
			return nil, fmt.Errorf("%w: descriptor digest %q", ErrManifestInvalid, desc.Digest)
		}
		if seen[d] {
			continue
		}
		seen[d] = true
		m.References = append(m.References, d)
	}

	if doc.Subject != nil {
		d, err := ParseDigest(doc.Subject.Digest.String())
		if err != nil {
			return nil, fmt.Errorf("%w: subject digest %q", ErrManifestInvalid, doc.Subject.Digest)
		}
		m.Subject = d
	}
	return m, nil
}

// DetectManifest parses a stored manifest whose media type is only known from
// its own content. Documents without a mediaType field are taken to be image
// indexes when they list manifests and image manifests otherwise.
func DetectManifest(body []byte) (*Manifest, error) {
	var probe struct {
		MediaType string            `json:"mediaType"`
		Manifests []json.RawMessage `json:"manifests"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestInvalid, err)
	}
	mt := probe.MediaType
	if mt == "" {
		if probe.Manifests != nil {
			mt = ocispec.MediaTypeImageIndex
		} else {
			mt = ocispec.MediaTypeImageManifest
		}
	}
	return ParseManifest(mt, body)
}

// Descriptor describes the manifest stored under d with the given size, as
// listed by the referrers API.
func (m *Manifest) Descriptor(d digest.Digest, size int64) ocispec.Descriptor {
	return ocispec.Descriptor{
		MediaType:    m.MediaType,
		Digest:       d,
		Size:         size,
		ArtifactType: m.ArtifactType,
		Annotations:  m.Annotations,
	}
}
