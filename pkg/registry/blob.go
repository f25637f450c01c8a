// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/opencontainers/go-digest"
	"github.com/yeetrun/dock/pkg/oci"
)

// BlobSummary describes a stored blob.
type BlobSummary struct {
	Digest digest.Digest
	Size   int64
}

// Range is an inclusive byte range. A negative End means the end of the
// blob.
type Range struct {
	Start, End int64
}

// BlobData is the result of GetBlob.
type BlobData struct {
	// Reader is positioned at the start of Range, or at 0 without one. It
	// is nil when Empty is set.
	Reader io.ReadSeekCloser
	// Size is the total size of the blob.
	Size int64
	// Range is the requested range with End resolved and clamped to the
	// blob, or nil. A range is never reported for an empty blob.
	Range *Range
	// Empty is set when the blob disappeared between sizing and opening
	// it.
	Empty bool
}

func (r *Registry) HeadBlob(ctx context.Context, ns string, d digest.Digest) (_ BlobSummary, err error) {
	defer translate("head blob", &err)
	if err := oci.ValidateNamespace(ns); err != nil {
		return BlobSummary{}, err
	}
	var size int64
	err = r.readLock(ctx, d, func() (err error) {
		size, err = r.storage.BlobSize(ctx, d)
		return err
	})
	if err != nil {
		return BlobSummary{}, err
	}
	return BlobSummary{Digest: d, Size: size}, nil
}

// GetBlob opens a blob for reading. The caller closes BlobData.Reader.
func (r *Registry) GetBlob(ctx context.Context, ns string, d digest.Digest, rng *Range) (_ *BlobData, err error) {
	defer translate("get blob", &err)
	if err := oci.ValidateNamespace(ns); err != nil {
		return nil, err
	}
	size, err := r.storage.BlobSize(ctx, d)
	if err != nil {
		return nil, err
	}

	data := &BlobData{Size: size}
	var start int64
	if rng != nil && size == 0 {
		// No byte range fits an empty blob; serve it whole.
		rng = nil
	}
	if rng != nil {
		if rng.Start < 0 || rng.Start >= size {
			return nil, fmt.Errorf("%w: start %d of %d bytes", oci.ErrRangeNotSatisfiable, rng.Start, size)
		}
		end := rng.End
		if end < 0 || end >= size {
			end = size - 1
		}
		if rng.End >= 0 && rng.End < rng.Start {
			return nil, fmt.Errorf("%w: end %d before start %d", oci.ErrRangeNotSatisfiable, rng.End, rng.Start)
		}
		start = rng.Start
		data.Range = &Range{Start: start, End: end}
	}

	err = r.readLock(ctx, d, func() error {
		rd, err := r.storage.BlobReader(ctx, d, start)
		if err != nil {
			return err
		}
		data.Reader = rd
		return nil
	})
	if errors.Is(err, oci.ErrBlobUnknown) {
		vlog("blob %s vanished after sizing", d)
		return &BlobData{Size: size, Empty: true}, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// DeleteBlob removes a blob that only ns links. The links of ns to the blob
// go with it.
func (r *Registry) DeleteBlob(ctx context.Context, ns string, d digest.Digest) (err error) {
	defer translate("delete blob", &err)
	if err := oci.ValidateNamespace(ns); err != nil {
		return err
	}
	return r.writeLock(ctx, d, func() error {
		nss, err := r.storage.BlobNamespaces(ctx, d)
		if err != nil {
			return err
		}
		if !nss.Contains(ns) {
			return fmt.Errorf("%w: %s not linked from %s", oci.ErrBlobUnknown, d, ns)
		}
		if nss.Len() > 1 {
			return fmt.Errorf("%w: blob %s is shared with other namespaces", oci.ErrDenied, d)
		}
		for _, link := range []oci.LinkReference{oci.LayerLink{Digest: d}, oci.DigestLink{Digest: d}} {
			if err := r.storage.DeleteLink(ctx, ns, link); err != nil && !isUnknown(err) {
				return err
			}
		}
		if err := r.storage.DeleteBlob(ctx, d); err != nil && !errors.Is(err, oci.ErrBlobUnknown) {
			return err
		}
		vlog("deleted blob %s from %s", d, ns)
		return nil
	})
}

// isUnknown reports whether err says an entity does not exist.
func isUnknown(err error) bool {
	return errors.Is(err, oci.ErrBlobUnknown) || errors.Is(err, oci.ErrManifestUnknown)
}
