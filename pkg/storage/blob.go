// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/opencontainers/go-digest"
	"github.com/yeetrun/dock/pkg/fileutil"
	"github.com/yeetrun/dock/pkg/oci"
)

func blobUnknown(d digest.Digest) error {
	return fmt.Errorf("%w: %s", oci.ErrBlobUnknown, d)
}

func (s *FS) BlobSize(ctx context.Context, d digest.Digest) (int64, error) {
	st, err := os.Stat(s.tree.BlobPath(d))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, blobUnknown(d)
		}
		return 0, fmt.Errorf("stat blob: %w", err)
	}
	return st.Size(), nil
}

func (s *FS) BlobReader(ctx context.Context, d digest.Digest, start int64) (io.ReadSeekCloser, error) {
	f, err := os.Open(s.tree.BlobPath(d))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, blobUnknown(d)
		}
		return nil, fmt.Errorf("open blob: %w", err)
	}
	if start > 0 {
		if _, err := f.Seek(start, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("seek blob: %w", err)
		}
	}
	return f, nil
}

func (s *FS) PutBlob(ctx context.Context, d digest.Digest, data []byte) error {
	if err := fileutil.WriteFileAtomic(s.tree.BlobPath(d), data); err != nil {
		return fmt.Errorf("write blob: %w", err)
	}
	return nil
}

func (s *FS) ReadBlob(ctx context.Context, d digest.Digest) ([]byte, error) {
	data, err := os.ReadFile(s.tree.BlobPath(d))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, blobUnknown(d)
		}
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// DeleteBlob removes the blob and the shard directories it leaves empty.
func (s *FS) DeleteBlob(ctx context.Context, d digest.Digest) error {
	path := s.tree.BlobPath(d)
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return blobUnknown(d)
		}
		return fmt.Errorf("delete blob: %w", err)
	}
	if err := fileutil.RemoveEmptyParents(filepath.Dir(path), s.tree.BlobsRootDir()); err != nil {
		return fmt.Errorf("prune blob directories: %w", err)
	}
	return nil
}
