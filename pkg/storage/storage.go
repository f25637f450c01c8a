// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package storage is the filesystem storage engine behind the registry.
//
// It knows how to read and write blobs, links and upload sessions at the
// paths pkg/tree derives, and nothing about locking or validation: callers
// serialize access per digest and pass in already-validated names. Missing
// entities are reported as the matching *oci.Error sentinel (wrapped), every
// other failure as a wrapped I/O error.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/yeetrun/dock/pkg/oci"
	"github.com/yeetrun/dock/pkg/tree"
	"tailscale.com/util/set"
)

// DefaultCheckpointInterval is how many bytes an upload receives between two
// hash state checkpoints unless configured otherwise.
const DefaultCheckpointInterval = 16 << 20

// Engine is the storage the registry runs on.
type Engine interface {
	// BlobSize returns the size of a blob.
	BlobSize(ctx context.Context, d digest.Digest) (int64, error)
	// BlobReader opens a blob positioned at start.
	BlobReader(ctx context.Context, d digest.Digest, start int64) (io.ReadSeekCloser, error)
	// PutBlob stores data as the blob d. The caller vouches that data hashes to d.
	PutBlob(ctx context.Context, d digest.Digest, data []byte) error
	// ReadBlob reads a whole blob into memory. Only used for manifests.
	ReadBlob(ctx context.Context, d digest.Digest) ([]byte, error)
	// DeleteBlob removes a blob.
	DeleteBlob(ctx context.Context, d digest.Digest) error

	// WriteLink points ref in namespace ns at target.
	WriteLink(ctx context.Context, ns string, ref oci.LinkReference, target digest.Digest) error
	// ReadLink returns the digest ref points at.
	ReadLink(ctx context.Context, ns string, ref oci.LinkReference) (digest.Digest, error)
	// DeleteLink removes ref.
	DeleteLink(ctx context.Context, ns string, ref oci.LinkReference) error

	// ListNamespaces pages through namespace names. See ListTags.
	ListNamespaces(ctx context.Context, n int, last string) (names []string, next string, err error)
	// ListTags returns at most n tag names of ns that sort after last. next
	// is the cursor for the following page, empty when there is none. A
	// negative n means no limit.
	ListTags(ctx context.Context, ns string, n int, last string) (names []string, next string, err error)
	// ListRevisions returns the digests of the manifests stored in ns.
	ListRevisions(ctx context.Context, ns string) ([]digest.Digest, error)
	// Referrers describes the manifests in ns whose subject is subject,
	// restricted to artifactType when it is not empty.
	Referrers(ctx context.Context, ns string, subject digest.Digest, artifactType string) ([]ocispec.Descriptor, error)
	// BlobNamespaces returns the namespaces holding a layer or revision link
	// to d.
	BlobNamespaces(ctx context.Context, d digest.Digest) (set.Set[string], error)

	// StartUpload opens an upload session in ns and returns its id.
	StartUpload(ctx context.Context, ns string) (string, error)
	// PatchUpload appends body to an upload session and returns the new
	// length. If start is not nil it must equal the current length.
	PatchUpload(ctx context.Context, ns, id string, start *int64, body io.Reader) (int64, error)
	// UploadRangeMax returns how many bytes a session has received.
	UploadRangeMax(ctx context.Context, ns, id string) (int64, error)
	// UploadStartedAt returns when a session was opened.
	UploadStartedAt(ctx context.Context, ns, id string) (time.Time, error)
	// CompleteUpload appends final, verifies the content against claimed and
	// turns the session into the blob claimed.
	CompleteUpload(ctx context.Context, ns, id string, claimed digest.Digest, final io.Reader) error
	// DeleteUpload discards a session.
	DeleteUpload(ctx context.Context, ns, id string) error
}

// Options configure an FS.
type Options struct {
	// CheckpointInterval is the number of upload bytes between hash state
	// checkpoints. Zero means DefaultCheckpointInterval.
	CheckpointInterval int64
}

// FS implements Engine on a local directory tree.
type FS struct {
	tree               *tree.Manager
	checkpointInterval int64
}

var _ Engine = (*FS)(nil)

// New returns an FS rooted at root, creating the top-level directories.
func New(root string, opts Options) (*FS, error) {
	t := tree.New(root)
	for _, dir := range []string{t.BlobsRootDir(), t.RepositoriesDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create storage directory: %w", err)
		}
	}
	interval := opts.CheckpointInterval
	if interval <= 0 {
		interval = DefaultCheckpointInterval
	}
	return &FS{tree: t, checkpointInterval: interval}, nil
}

// Tree returns the path layout the engine stores under.
func (s *FS) Tree() *tree.Manager { return s.tree }
