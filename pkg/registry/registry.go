// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"github.com/yeetrun/dock/pkg/keylock"
	"github.com/yeetrun/dock/pkg/oci"
	"github.com/yeetrun/dock/pkg/storage"
)

// DefaultMaxManifestSize bounds manifest bodies unless configured otherwise.
const DefaultMaxManifestSize = 4 << 20

// Options configure a Registry.
type Options struct {
	// MaxManifestSize is the largest manifest body accepted, in bytes. Zero
	// means DefaultMaxManifestSize.
	MaxManifestSize int64
}

// Registry implements the registry operations on top of a storage engine.
// It is safe for concurrent use.
type Registry struct {
	storage         storage.Engine
	locks           *keylock.Manager
	maxManifestSize int64
}

// New returns a Registry storing into s.
func New(s storage.Engine, opts Options) *Registry {
	max := opts.MaxManifestSize
	if max <= 0 {
		max = DefaultMaxManifestSize
	}
	return &Registry{
		storage:         s,
		locks:           keylock.New(),
		maxManifestSize: max,
	}
}

var verbose atomic.Bool

// SetVerbose turns per-operation debug logging on or off.
func SetVerbose(v bool) { verbose.Store(v) }

func vlog(format string, args ...any) {
	if verbose.Load() {
		log.Printf(format, args...)
	}
}

// translate replaces any error that is not a registry error with
// oci.ErrInternal, logging the original. Use as
//
//	defer translate("operation", &err)
func translate(op string, errp *error) {
	err := *errp
	if err == nil {
		return
	}
	if _, ok := oci.AsError(err); ok {
		vlog("%s: %v", op, err)
		return
	}
	log.Printf("registry: %s: %v", op, err)
	*errp = oci.ErrInternal
}

// MaxManifestSize returns the largest manifest body PutManifest accepts.
func (r *Registry) MaxManifestSize() int64 { return r.maxManifestSize }

// readLock runs fn holding d's lock in shared mode.
func (r *Registry) readLock(ctx context.Context, d digest.Digest, fn func() error) error {
	return r.locks.Read(ctx, d.String(), fn)
}

// writeLock runs fn holding d's lock exclusively.
func (r *Registry) writeLock(ctx context.Context, d digest.Digest, fn func() error) error {
	return r.locks.Write(ctx, d.String(), fn)
}

// ValidateNamespace reports whether ns is a valid namespace name.
func (r *Registry) ValidateNamespace(ns string) error {
	return oci.ValidateNamespace(ns)
}

// validateSession checks ns and an upload session id. Ids are generated as
// UUIDs; anything else cannot name a session.
func validateSession(ns, id string) error {
	if err := oci.ValidateNamespace(ns); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %q", oci.ErrBlobUploadUnknown, id)
	}
	return nil
}
