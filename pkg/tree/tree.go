// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tree maps registry entities to their location on disk.
//
// Every path is derived from the entity's identity alone, so the storage
// engine can re-read anything it wrote by recomputing the path; there is no
// separate index. The layout below root is:
//
//	v2/blobs/<alg>/<hash-prefix>/<hash>/data
//	v2/repositories/<ns>/_uploads/<uuid>/data
//	v2/repositories/<ns>/_uploads/<uuid>/hashstates/<alg>/<offset>
//	v2/repositories/<ns>/_uploads/<uuid>/startedat
//	v2/repositories/<ns>/_manifests/revisions/<alg>/<hash>/link
//	v2/repositories/<ns>/_manifests/tags/<tag>/current/link
//	v2/repositories/<ns>/_manifests/referrers/<alg>/<hash>/<referrer>/link
//	v2/repositories/<ns>/_layers/<alg>/<hash>/link
package tree

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/opencontainers/go-digest"
	"github.com/yeetrun/dock/pkg/fileutil"
	"github.com/yeetrun/dock/pkg/oci"
)

// Manager derives paths below a root directory.
type Manager struct {
	root string
}

// New returns a Manager rooted at root.
func New(root string) *Manager {
	return &Manager{root: root}
}

func (m *Manager) BlobsRootDir() string {
	return filepath.Join(m.root, "v2", "blobs")
}

func (m *Manager) BlobContainerDir(d digest.Digest) string {
	return filepath.Join(m.BlobsRootDir(), d.Algorithm().String(), oci.HashPrefix(d), d.Encoded())
}

func (m *Manager) BlobPath(d digest.Digest) string {
	return filepath.Join(m.BlobContainerDir(d), "data")
}

func (m *Manager) RepositoriesDir() string {
	return filepath.Join(m.root, "v2", "repositories")
}

func (m *Manager) NamespaceDir(ns string) string {
	return filepath.Join(m.RepositoriesDir(), ns)
}

func (m *Manager) UploadsRootDir(ns string) string {
	return filepath.Join(m.NamespaceDir(ns), "_uploads")
}

func (m *Manager) UploadContainerDir(ns, id string) string {
	return filepath.Join(m.UploadsRootDir(ns), id)
}

func (m *Manager) UploadPath(ns, id string) string {
	return filepath.Join(m.UploadContainerDir(ns, id), "data")
}

func (m *Manager) UploadStartedAtPath(ns, id string) string {
	return filepath.Join(m.UploadContainerDir(ns, id), "startedat")
}

func (m *Manager) HashStateDir(ns, id string, alg digest.Algorithm) string {
	return filepath.Join(m.UploadContainerDir(ns, id), "hashstates", alg.String())
}

func (m *Manager) HashStatePath(ns, id string, alg digest.Algorithm, offset int64) string {
	return filepath.Join(m.HashStateDir(ns, id, alg), strconv.FormatInt(offset, 10))
}

func (m *Manager) ManifestsRootDir(ns string) string {
	return filepath.Join(m.NamespaceDir(ns), "_manifests")
}

func (m *Manager) RevisionsDir(ns string) string {
	return filepath.Join(m.ManifestsRootDir(ns), "revisions")
}

func (m *Manager) RevisionLinkContainerDir(ns string, d digest.Digest) string {
	return filepath.Join(m.RevisionsDir(ns), d.Algorithm().String(), d.Encoded())
}

func (m *Manager) TagsDir(ns string) string {
	return filepath.Join(m.ManifestsRootDir(ns), "tags")
}

func (m *Manager) TagLinkContainerDir(ns, tag string) string {
	return filepath.Join(m.TagsDir(ns), tag)
}

func (m *Manager) TagLinkParentDir(ns, tag string) string {
	return filepath.Join(m.TagLinkContainerDir(ns, tag), "current")
}

func (m *Manager) ReferrersDir(ns string, subject digest.Digest) string {
	return filepath.Join(m.ManifestsRootDir(ns), "referrers", subject.Algorithm().String(), subject.Encoded())
}

func (m *Manager) ReferrerLinkContainerDir(ns string, subject, referrer digest.Digest) string {
	return filepath.Join(m.ReferrersDir(ns, subject), referrer.String())
}

func (m *Manager) LayersRootDir(ns string) string {
	return filepath.Join(m.NamespaceDir(ns), "_layers")
}

func (m *Manager) LayerLinkContainerDir(ns string, d digest.Digest) string {
	return filepath.Join(m.LayersRootDir(ns), d.Algorithm().String(), d.Encoded())
}

// LinkContainerDir returns the directory that exists only for link ref. For
// tags this is the tag directory, above the "current" pointer.
func (m *Manager) LinkContainerDir(ns string, ref oci.LinkReference) string {
	switch ref := ref.(type) {
	case oci.TagLink:
		return m.TagLinkContainerDir(ns, ref.Name)
	case oci.DigestLink:
		return m.RevisionLinkContainerDir(ns, ref.Digest)
	case oci.LayerLink:
		return m.LayerLinkContainerDir(ns, ref.Digest)
	case oci.ReferrerLink:
		return m.ReferrerLinkContainerDir(ns, ref.Subject, ref.Referrer)
	default:
		panic(fmt.Sprintf("tree: unknown link reference %T", ref))
	}
}

// LinkParentDir returns the directory holding the link file of ref.
func (m *Manager) LinkParentDir(ns string, ref oci.LinkReference) string {
	switch ref := ref.(type) {
	case oci.TagLink:
		return m.TagLinkParentDir(ns, ref.Name)
	case oci.DigestLink, oci.LayerLink, oci.ReferrerLink:
		return m.LinkContainerDir(ns, ref)
	default:
		panic(fmt.Sprintf("tree: unknown link reference %T", ref))
	}
}

// LinkPath returns the link file of ref in namespace ns.
func (m *Manager) LinkPath(ns string, ref oci.LinkReference) string {
	return filepath.Join(m.LinkParentDir(ns, ref), "link")
}

// SaveHashState persists a hasher checkpoint taken at offset.
func (m *Manager) SaveHashState(ns, id string, alg digest.Algorithm, offset int64, state []byte) error {
	return fileutil.WriteFileAtomic(m.HashStatePath(ns, id, alg, offset), state)
}

// LoadHashState reads the checkpoint taken at offset.
func (m *Manager) LoadHashState(ns, id string, alg digest.Algorithm, offset int64) ([]byte, error) {
	return os.ReadFile(m.HashStatePath(ns, id, alg, offset))
}

// ListHashStates returns the offsets that have a checkpoint, ascending.
// Entries that are not offsets are ignored.
func (m *Manager) ListHashStates(ns, id string, alg digest.Algorithm) ([]int64, error) {
	names, err := fileutil.ReadDirNames(m.HashStateDir(ns, id, alg))
	if err != nil {
		return nil, err
	}
	var offsets []int64
	for _, name := range names {
		off, err := strconv.ParseInt(name, 10, 64)
		if err != nil || off < 0 {
			continue
		}
		offsets = append(offsets, off)
	}
	slices.Sort(offsets)
	return offsets, nil
}

// NearestHashState returns the greatest checkpoint offset that is <= limit.
// It fails with os.ErrNotExist when there is none.
func (m *Manager) NearestHashState(ns, id string, alg digest.Algorithm, limit int64) (int64, error) {
	offsets, err := m.ListHashStates(ns, id, alg)
	if err != nil {
		return 0, err
	}
	for i := len(offsets) - 1; i >= 0; i-- {
		if offsets[i] <= limit {
			return offsets[i], nil
		}
	}
	return 0, fmt.Errorf("no %s checkpoint at or below %d: %w", alg, limit, os.ErrNotExist)
}
