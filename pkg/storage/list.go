// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/yeetrun/dock/pkg/fileutil"
	"github.com/yeetrun/dock/pkg/oci"
	"tailscale.com/util/set"
)

// paginate returns the names of the sorted list names that come after last,
// at most n of them when n >= 0. next is the last returned name if names
// were left out.
func paginate(names []string, n int, last string) (page []string, next string) {
	if last != "" {
		i, found := slices.BinarySearch(names, last)
		if found {
			i++
		}
		names = names[i:]
	}
	if n < 0 || len(names) <= n {
		return names, ""
	}
	page = names[:n]
	if n > 0 {
		next = page[n-1]
	}
	return page, next
}

func (s *FS) ListNamespaces(ctx context.Context, n int, last string) ([]string, string, error) {
	names, err := s.namespaces()
	if err != nil {
		return nil, "", err
	}
	page, next := paginate(names, n, last)
	return page, next, nil
}

func (s *FS) namespaces() ([]string, error) {
	names, err := fileutil.ReadDirNames(s.tree.RepositoriesDir())
	if err != nil {
		return nil, fmt.Errorf("list namespaces: %w", err)
	}
	return names, nil
}

func (s *FS) ListTags(ctx context.Context, ns string, n int, last string) ([]string, string, error) {
	if _, err := os.Stat(s.tree.NamespaceDir(ns)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, "", fmt.Errorf("%w: %s", oci.ErrNameUnknown, ns)
		}
		return nil, "", fmt.Errorf("stat namespace: %w", err)
	}
	names, err := fileutil.ReadDirNames(s.tree.TagsDir(ns))
	if err != nil {
		return nil, "", fmt.Errorf("list tags: %w", err)
	}
	// Tag directories linger for a moment while a tag is deleted; only
	// those with a link count.
	tags := names[:0]
	for _, name := range names {
		if exists(s.tree.LinkPath(ns, oci.TagLink{Name: name})) {
			tags = append(tags, name)
		}
	}
	page, next := paginate(tags, n, last)
	return page, next, nil
}

func (s *FS) ListRevisions(ctx context.Context, ns string) ([]digest.Digest, error) {
	var revs []digest.Digest
	for _, alg := range oci.SupportedAlgorithms {
		dir := filepath.Join(s.tree.RevisionsDir(ns), alg.String())
		hashes, err := fileutil.ReadDirNames(dir)
		if err != nil {
			return nil, fmt.Errorf("list revisions: %w", err)
		}
		for _, h := range hashes {
			d := digest.NewDigestFromEncoded(alg, h)
			if d.Validate() != nil || !exists(s.tree.LinkPath(ns, oci.DigestLink{Digest: d})) {
				continue
			}
			revs = append(revs, d)
		}
	}
	return revs, nil
}

func (s *FS) Referrers(ctx context.Context, ns string, subject digest.Digest, artifactType string) ([]ocispec.Descriptor, error) {
	names, err := fileutil.ReadDirNames(s.tree.ReferrersDir(ns, subject))
	if err != nil {
		return nil, fmt.Errorf("list referrers: %w", err)
	}
	descs := []ocispec.Descriptor{}
	for _, name := range names {
		referrer, err := digest.Parse(name)
		if err != nil {
			continue
		}
		target, err := s.ReadLink(ctx, ns, oci.ReferrerLink{Subject: subject, Referrer: referrer})
		if err != nil {
			if errors.Is(err, oci.ErrManifestUnknown) {
				continue
			}
			return nil, err
		}
		body, err := s.ReadBlob(ctx, target)
		if err != nil {
			if errors.Is(err, oci.ErrBlobUnknown) {
				continue
			}
			return nil, err
		}
		m, err := oci.DetectManifest(body)
		if err != nil {
			return nil, fmt.Errorf("referrer %s: %w", target, err)
		}
		if artifactType != "" && m.ArtifactType != artifactType {
			continue
		}
		descs = append(descs, m.Descriptor(target, int64(len(body))))
	}
	return descs, nil
}

// BlobNamespaces scans every namespace for links to d. Nothing is cached:
// the answer always reflects the links on disk.
func (s *FS) BlobNamespaces(ctx context.Context, d digest.Digest) (set.Set[string], error) {
	names, err := s.namespaces()
	if err != nil {
		return nil, err
	}
	found := make(set.Set[string])
	for _, ns := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if exists(s.tree.LinkPath(ns, oci.LayerLink{Digest: d})) ||
			exists(s.tree.LinkPath(ns, oci.DigestLink{Digest: d})) {
			found.Add(ns)
		}
	}
	return found, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
