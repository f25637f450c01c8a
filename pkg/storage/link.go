// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/opencontainers/go-digest"
	"github.com/yeetrun/dock/pkg/fileutil"
	"github.com/yeetrun/dock/pkg/oci"
)

// linkUnknown is the error for a link that does not exist. A missing layer
// link means the namespace does not know the blob; every other kind of link
// resolves a manifest.
func linkUnknown(ref oci.LinkReference) error {
	if _, ok := ref.(oci.LayerLink); ok {
		return fmt.Errorf("%w: %s", oci.ErrBlobUnknown, ref)
	}
	return fmt.Errorf("%w: %s", oci.ErrManifestUnknown, ref)
}

func (s *FS) WriteLink(ctx context.Context, ns string, ref oci.LinkReference, target digest.Digest) error {
	if err := fileutil.WriteFileAtomic(s.tree.LinkPath(ns, ref), []byte(target.String())); err != nil {
		return fmt.Errorf("write link %s: %w", ref, err)
	}
	return nil
}

func (s *FS) ReadLink(ctx context.Context, ns string, ref oci.LinkReference) (digest.Digest, error) {
	data, err := os.ReadFile(s.tree.LinkPath(ns, ref))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", linkUnknown(ref)
		}
		return "", fmt.Errorf("read link %s: %w", ref, err)
	}
	d, err := digest.Parse(string(data))
	if err != nil {
		return "", fmt.Errorf("corrupt link %s: %w", ref, err)
	}
	return d, nil
}

// DeleteLink removes ref and prunes the directories it leaves empty, up to
// but excluding the namespace directory.
func (s *FS) DeleteLink(ctx context.Context, ns string, ref oci.LinkReference) error {
	if err := os.Remove(s.tree.LinkPath(ns, ref)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return linkUnknown(ref)
		}
		return fmt.Errorf("delete link %s: %w", ref, err)
	}
	if err := fileutil.RemoveEmptyParents(s.tree.LinkParentDir(ns, ref), s.tree.NamespaceDir(ns)); err != nil {
		return fmt.Errorf("prune link directories: %w", err)
	}
	return nil
}
