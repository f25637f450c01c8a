// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"context"
	"io"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/yeetrun/dock/pkg/oci"
)

// NewUpload is the outcome of StartUpload: either the blob already exists
// and is now linked, or a session was opened.
type NewUpload struct {
	Existing digest.Digest
	Session  string
}

// StartUpload opens an upload session in ns. If d is not nil and the blob d
// already exists, no session is opened: ns is linked to the blob instead.
// Cross-namespace mounts go through the same path.
func (r *Registry) StartUpload(ctx context.Context, ns string, d *digest.Digest) (_ NewUpload, err error) {
	defer translate("start upload", &err)
	if err := oci.ValidateNamespace(ns); err != nil {
		return NewUpload{}, err
	}
	if d != nil {
		linked := false
		err := r.readLock(ctx, *d, func() error {
			if _, err := r.storage.BlobSize(ctx, *d); err != nil {
				if isUnknown(err) {
					return nil
				}
				return err
			}
			if err := r.storage.WriteLink(ctx, ns, oci.LayerLink{Digest: *d}, *d); err != nil {
				return err
			}
			linked = true
			return nil
		})
		if err != nil {
			return NewUpload{}, err
		}
		if linked {
			vlog("linked existing blob %s into %s", *d, ns)
			return NewUpload{Existing: *d}, nil
		}
	}
	id, err := r.storage.StartUpload(ctx, ns)
	if err != nil {
		return NewUpload{}, err
	}
	vlog("started upload %s in %s", id, ns)
	return NewUpload{Session: id}, nil
}

// PatchUpload appends body to a session and returns its new length.
func (r *Registry) PatchUpload(ctx context.Context, ns, id string, start *int64, body io.Reader) (_ int64, err error) {
	defer translate("patch upload", &err)
	if err := validateSession(ns, id); err != nil {
		return 0, err
	}
	return r.storage.PatchUpload(ctx, ns, id, start, body)
}

// UploadRangeMax returns the number of bytes a session holds.
func (r *Registry) UploadRangeMax(ctx context.Context, ns, id string) (_ int64, err error) {
	defer translate("upload status", &err)
	if err := validateSession(ns, id); err != nil {
		return 0, err
	}
	return r.storage.UploadRangeMax(ctx, ns, id)
}

// UploadStartedAt returns when a session was opened.
func (r *Registry) UploadStartedAt(ctx context.Context, ns, id string) (_ time.Time, err error) {
	defer translate("upload start time", &err)
	if err := validateSession(ns, id); err != nil {
		return time.Time{}, err
	}
	return r.storage.UploadStartedAt(ctx, ns, id)
}

// CompleteUpload appends body to a session, verifies it hashes to claimed
// and stores it as that blob, linked from ns.
func (r *Registry) CompleteUpload(ctx context.Context, ns, id string, claimed digest.Digest, body io.Reader) (err error) {
	defer translate("complete upload", &err)
	if err := validateSession(ns, id); err != nil {
		return err
	}
	if body != nil {
		// The body comes from the client at its own pace; take no lock
		// until it has been received.
		if _, err := r.storage.PatchUpload(ctx, ns, id, nil, body); err != nil {
			return err
		}
	}
	return r.writeLock(ctx, claimed, func() error {
		if err := r.storage.CompleteUpload(ctx, ns, id, claimed, nil); err != nil {
			return err
		}
		if err := r.storage.WriteLink(ctx, ns, oci.LayerLink{Digest: claimed}, claimed); err != nil {
			return err
		}
		vlog("completed upload %s in %s as %s", id, ns, claimed)
		return nil
	})
}

func (r *Registry) DeleteUpload(ctx context.Context, ns, id string) (err error) {
	defer translate("delete upload", &err)
	if err := validateSession(ns, id); err != nil {
		return err
	}
	return r.storage.DeleteUpload(ctx, ns, id)
}
