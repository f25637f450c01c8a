// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package storage

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/yeetrun/dock/pkg/fileutil"
	"github.com/yeetrun/dock/pkg/oci"
)

// An upload session lives in its own directory:
//
//	data        the bytes received so far
//	startedat   RFC 3339 time the session was opened
//	hashstates  per algorithm, serialized hasher state keyed by offset
//
// Hash states are never pruned while the session lives. Whoever resumes a
// hasher picks the greatest offset not past the data it is about to hash and
// re-reads the bytes in between from data, so a checkpoint that is missing or
// left behind by an interrupted patch only costs time.

func uploadUnknown(id string) error {
	return fmt.Errorf("%w: %s", oci.ErrBlobUploadUnknown, id)
}

func (s *FS) StartUpload(ctx context.Context, ns string) (string, error) {
	id := uuid.NewString()
	dir := s.tree.UploadContainerDir(ns, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create upload directory: %w", err)
	}
	f, err := os.OpenFile(s.tree.UploadPath(ns, id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close upload file: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if err := fileutil.WriteFileAtomic(s.tree.UploadStartedAtPath(ns, id), []byte(now)); err != nil {
		return "", fmt.Errorf("write upload start time: %w", err)
	}
	for _, alg := range oci.SupportedAlgorithms {
		h, err := oci.NewHasher(alg)
		if err != nil {
			return "", err
		}
		if err := s.saveHashState(ns, id, alg, h, 0); err != nil {
			return "", err
		}
	}
	return id, nil
}

func (s *FS) saveHashState(ns, id string, alg digest.Algorithm, h hash.Hash, offset int64) error {
	state, err := oci.MarshalHashState(h)
	if err != nil {
		return err
	}
	if err := s.tree.SaveHashState(ns, id, alg, offset, state); err != nil {
		return fmt.Errorf("save %s hash state at %d: %w", alg, offset, err)
	}
	return nil
}

// resumeHasher returns a hasher for alg that has consumed the first size
// bytes of f.
func (s *FS) resumeHasher(ns, id string, alg digest.Algorithm, f *os.File, size int64) (hash.Hash, error) {
	var h hash.Hash
	off, err := s.tree.NearestHashState(ns, id, alg, size)
	switch {
	case err == nil:
		state, err := s.tree.LoadHashState(ns, id, alg, off)
		if err != nil {
			return nil, fmt.Errorf("load %s hash state: %w", alg, err)
		}
		if h, err = oci.UnmarshalHashState(alg, state); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist):
		off = 0
		if h, err = oci.NewHasher(alg); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("find %s hash state: %w", alg, err)
	}
	if off < size {
		if _, err := io.Copy(h, io.NewSectionReader(f, off, size-off)); err != nil {
			return nil, fmt.Errorf("rehash upload tail: %w", err)
		}
	}
	return h, nil
}

func (s *FS) openUpload(ns, id string) (*os.File, int64, error) {
	f, err := os.OpenFile(s.tree.UploadPath(ns, id), os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, uploadUnknown(id)
		}
		return nil, 0, fmt.Errorf("open upload: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat upload: %w", err)
	}
	return f, st.Size(), nil
}

func (s *FS) PatchUpload(ctx context.Context, ns, id string, start *int64, body io.Reader) (int64, error) {
	f, size, err := s.openUpload(ns, id)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	if start != nil && *start != size {
		return 0, fmt.Errorf("%w: upload is at %d, chunk starts at %d", oci.ErrRangeNotSatisfiable, size, *start)
	}
	return s.appendUpload(ctx, ns, id, f, size, body)
}

// appendUpload writes body at the end of f, which holds size bytes.
func (s *FS) appendUpload(ctx context.Context, ns, id string, f *os.File, size int64, body io.Reader) (int64, error) {
	w := &uploadWriter{
		fs:             s,
		ns:             ns,
		id:             id,
		file:           f,
		offset:         size,
		lastCheckpoint: -1,
		nextCheckpoint: (size/s.checkpointInterval + 1) * s.checkpointInterval,
	}
	for _, alg := range oci.SupportedAlgorithms {
		h, err := s.resumeHasher(ns, id, alg, f, size)
		if err != nil {
			return 0, err
		}
		w.hashers = append(w.hashers, algHash{alg, h})
	}
	if _, err := f.Seek(size, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek upload: %w", err)
	}
	if body != nil {
		if _, err := io.Copy(w, &ctxReader{ctx: ctx, r: body}); err != nil {
			return w.offset, fmt.Errorf("write upload: %w", err)
		}
	}
	if w.lastCheckpoint != w.offset {
		if err := w.checkpoint(); err != nil {
			return w.offset, err
		}
	}
	return w.offset, nil
}

type algHash struct {
	alg digest.Algorithm
	h   hash.Hash
}

// uploadWriter appends to an upload file and feeds every hasher, saving their
// state each time the offset reaches a multiple of the checkpoint interval.
type uploadWriter struct {
	fs      *FS
	ns, id  string
	file    *os.File
	hashers []algHash

	offset         int64
	lastCheckpoint int64
	nextCheckpoint int64
}

func (w *uploadWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		chunk := p
		if room := w.nextCheckpoint - w.offset; int64(len(chunk)) > room {
			chunk = chunk[:room]
		}
		n, err := w.file.Write(chunk)
		for _, ah := range w.hashers {
			ah.h.Write(chunk[:n])
		}
		w.offset += int64(n)
		written += n
		if err != nil {
			return written, err
		}
		if w.offset == w.nextCheckpoint {
			if err := w.checkpoint(); err != nil {
				return written, err
			}
			w.nextCheckpoint += w.fs.checkpointInterval
		}
		p = p[n:]
	}
	return written, nil
}

func (w *uploadWriter) checkpoint() error {
	for _, ah := range w.hashers {
		if err := w.fs.saveHashState(w.ns, w.id, ah.alg, ah.h, w.offset); err != nil {
			return err
		}
	}
	w.lastCheckpoint = w.offset
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

func (s *FS) UploadRangeMax(ctx context.Context, ns, id string) (int64, error) {
	st, err := os.Stat(s.tree.UploadPath(ns, id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, uploadUnknown(id)
		}
		return 0, fmt.Errorf("stat upload: %w", err)
	}
	return st.Size(), nil
}

func (s *FS) UploadStartedAt(ctx context.Context, ns, id string) (time.Time, error) {
	data, err := os.ReadFile(s.tree.UploadStartedAtPath(ns, id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, uploadUnknown(id)
		}
		return time.Time{}, fmt.Errorf("read upload start time: %w", err)
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse upload start time: %w", err)
	}
	return t, nil
}

// CompleteUpload verifies the session against claimed. On a mismatch the
// session is left as it is so the client can inspect or delete it.
func (s *FS) CompleteUpload(ctx context.Context, ns, id string, claimed digest.Digest, final io.Reader) error {
	if !oci.IsSupported(claimed.Algorithm()) {
		return fmt.Errorf("%w: unsupported algorithm %q", oci.ErrDigestInvalid, claimed.Algorithm())
	}
	f, size, err := s.openUpload(ns, id)
	if err != nil {
		return err
	}
	defer f.Close()
	if final != nil {
		if size, err = s.appendUpload(ctx, ns, id, f, size, final); err != nil {
			return err
		}
	}

	h, err := s.resumeHasher(ns, id, claimed.Algorithm(), f, size)
	if err != nil {
		return err
	}
	if got := digest.NewDigest(claimed.Algorithm(), h); got != claimed {
		return fmt.Errorf("%w: computed %s, claimed %s", oci.ErrDigestInvalid, got, claimed)
	}

	if err := fileutil.MoveFile(s.tree.UploadPath(ns, id), s.tree.BlobPath(claimed)); err != nil {
		return fmt.Errorf("move upload into place: %w", err)
	}
	return s.removeUpload(ns, id)
}

func (s *FS) DeleteUpload(ctx context.Context, ns, id string) error {
	if _, err := os.Stat(s.tree.UploadContainerDir(ns, id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return uploadUnknown(id)
		}
		return fmt.Errorf("stat upload: %w", err)
	}
	return s.removeUpload(ns, id)
}

func (s *FS) removeUpload(ns, id string) error {
	if err := os.RemoveAll(s.tree.UploadContainerDir(ns, id)); err != nil {
		return fmt.Errorf("remove upload: %w", err)
	}
	if err := fileutil.RemoveEmptyParents(s.tree.UploadsRootDir(ns), s.tree.NamespaceDir(ns)); err != nil {
		return fmt.Errorf("prune upload directories: %w", err)
	}
	return nil
}
