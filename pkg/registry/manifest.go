// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"context"
	"fmt"
	"log"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/yeetrun/dock/pkg/oci"
	"tailscale.com/util/set"
)

// ManifestSummary is the outcome of PutManifest.
type ManifestSummary struct {
	Digest digest.Digest
	// Subject is the subject the manifest declares, if any.
	Subject digest.Digest
}

// ManifestData describes a stored manifest. Content is nil for HeadManifest.
type ManifestData struct {
	Content   []byte
	MediaType string
	Digest    digest.Digest
	Size      int64
}

// PutManifest stores body as a manifest of ns under ref. Every blob the
// manifest references must already exist.
func (r *Registry) PutManifest(ctx context.Context, ns string, ref oci.Reference, contentType string, body []byte) (_ ManifestSummary, err error) {
	defer translate("put manifest", &err)
	if err := oci.ValidateNamespace(ns); err != nil {
		return ManifestSummary{}, err
	}
	if int64(len(body)) > r.maxManifestSize {
		return ManifestSummary{}, fmt.Errorf("%w: manifest is %d bytes, limit is %d", oci.ErrManifestInvalid, len(body), r.maxManifestSize)
	}
	m, err := oci.ParseManifest(contentType, body)
	if err != nil {
		return ManifestSummary{}, err
	}

	alg := digest.Canonical
	if !ref.IsTag() {
		alg = ref.Digest().Algorithm()
	}
	d := alg.FromBytes(body)
	if !ref.IsTag() && d != ref.Digest() {
		return ManifestSummary{}, fmt.Errorf("%w: manifest hashes to %s", oci.ErrDigestInvalid, d)
	}

	// Each layer link is written under the lock of the blob it points at,
	// so that DeleteBlob either sees the link or runs before the check.
	for _, dep := range m.References {
		err := r.readLock(ctx, dep, func() error {
			if _, err := r.storage.BlobSize(ctx, dep); err != nil {
				return err
			}
			return r.storage.WriteLink(ctx, ns, oci.LayerLink{Digest: dep}, dep)
		})
		if isUnknown(err) {
			return ManifestSummary{}, fmt.Errorf("%w: %s", oci.ErrManifestBlobUnknown, dep)
		}
		if err != nil {
			return ManifestSummary{}, err
		}
	}

	err = r.writeLock(ctx, d, func() error {
		if err := r.storage.PutBlob(ctx, d, body); err != nil {
			return err
		}
		if err := r.storage.WriteLink(ctx, ns, oci.DigestLink{Digest: d}, d); err != nil {
			return err
		}
		if m.Subject != "" {
			if err := r.storage.WriteLink(ctx, ns, oci.ReferrerLink{Subject: m.Subject, Referrer: d}, d); err != nil {
				return err
			}
		}
		if ref.IsTag() {
			if err := r.storage.WriteLink(ctx, ns, oci.TagLink{Name: ref.Tag()}, d); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ManifestSummary{}, err
	}
	vlog("stored manifest %s in %s as %s", d, ns, ref)
	return ManifestSummary{Digest: d, Subject: m.Subject}, nil
}

func (r *Registry) GetManifest(ctx context.Context, ns string, ref oci.Reference) (_ *ManifestData, err error) {
	defer translate("get manifest", &err)
	return r.manifest(ctx, ns, ref, true)
}

func (r *Registry) HeadManifest(ctx context.Context, ns string, ref oci.Reference) (_ *ManifestData, err error) {
	defer translate("head manifest", &err)
	return r.manifest(ctx, ns, ref, false)
}

func (r *Registry) manifest(ctx context.Context, ns string, ref oci.Reference, withContent bool) (*ManifestData, error) {
	if err := oci.ValidateNamespace(ns); err != nil {
		return nil, err
	}
	d, err := r.resolve(ctx, ns, ref)
	if err != nil {
		return nil, err
	}
	var body []byte
	err = r.readLock(ctx, d, func() (err error) {
		body, err = r.storage.ReadBlob(ctx, d)
		return err
	})
	if isUnknown(err) {
		return nil, fmt.Errorf("%w: %s", oci.ErrManifestUnknown, ref)
	}
	if err != nil {
		return nil, err
	}
	m, err := oci.DetectManifest(body)
	if err != nil {
		return nil, fmt.Errorf("stored manifest %s: %v", d, err)
	}
	md := &ManifestData{
		MediaType: m.MediaType,
		Digest:    d,
		Size:      int64(len(body)),
	}
	if withContent {
		md.Content = body
	}
	return md, nil
}

// resolve returns the digest of the manifest ref names in ns.
func (r *Registry) resolve(ctx context.Context, ns string, ref oci.Reference) (digest.Digest, error) {
	d, err := r.storage.ReadLink(ctx, ns, ref.Link())
	if isUnknown(err) {
		return "", fmt.Errorf("%w: %s", oci.ErrManifestUnknown, ref)
	}
	return d, err
}

// DeleteManifest removes ref from ns. Deleting a tag only removes the tag.
// Deleting a digest removes the revision together with every tag pointing
// at it, its referrer link, and the layer links no remaining revision of ns
// needs.
func (r *Registry) DeleteManifest(ctx context.Context, ns string, ref oci.Reference) (err error) {
	defer translate("delete manifest", &err)
	if err := oci.ValidateNamespace(ns); err != nil {
		return err
	}
	if ref.IsTag() {
		if _, err := r.resolve(ctx, ns, ref); err != nil {
			return err
		}
		return r.storage.DeleteLink(ctx, ns, ref.Link())
	}

	d := ref.Digest()
	return r.writeLock(ctx, d, func() error {
		if _, err := r.resolve(ctx, ns, ref); err != nil {
			return err
		}
		var m *oci.Manifest
		body, err := r.storage.ReadBlob(ctx, d)
		switch {
		case err == nil:
			if m, err = oci.DetectManifest(body); err != nil {
				log.Printf("registry: delete manifest %s: unreadable manifest, keeping its links: %v", d, err)
				m = nil
			}
		case isUnknown(err):
		default:
			return err
		}

		if err := r.storage.DeleteLink(ctx, ns, oci.DigestLink{Digest: d}); err != nil {
			return err
		}
		if err := r.untagDigest(ctx, ns, d); err != nil {
			return err
		}
		if m == nil {
			return nil
		}
		if m.Subject != "" {
			err := r.storage.DeleteLink(ctx, ns, oci.ReferrerLink{Subject: m.Subject, Referrer: d})
			if err != nil && !isUnknown(err) {
				return err
			}
		}
		return r.unlinkUnusedLayers(ctx, ns, m.References)
	})
}

// untagDigest removes every tag of ns that points at d.
func (r *Registry) untagDigest(ctx context.Context, ns string, d digest.Digest) error {
	tags, _, err := r.storage.ListTags(ctx, ns, -1, "")
	if err != nil {
		return err
	}
	for _, tag := range tags {
		link := oci.TagLink{Name: tag}
		target, err := r.storage.ReadLink(ctx, ns, link)
		if isUnknown(err) {
			continue
		}
		if err != nil {
			return err
		}
		if target != d {
			continue
		}
		if err := r.storage.DeleteLink(ctx, ns, link); err != nil && !isUnknown(err) {
			return err
		}
	}
	return nil
}

// unlinkUnusedLayers removes the layer links of ns to those of refs that no
// remaining revision of ns references.
func (r *Registry) unlinkUnusedLayers(ctx context.Context, ns string, refs []digest.Digest) error {
	if len(refs) == 0 {
		return nil
	}
	revs, err := r.storage.ListRevisions(ctx, ns)
	if err != nil {
		return err
	}
	used := make(set.Set[digest.Digest])
	for _, rev := range revs {
		body, err := r.storage.ReadBlob(ctx, rev)
		if isUnknown(err) {
			continue
		}
		if err != nil {
			return err
		}
		m, err := oci.DetectManifest(body)
		if err != nil {
			continue
		}
		used.AddSlice(m.References)
	}
	for _, dep := range refs {
		if used.Contains(dep) {
			continue
		}
		if err := r.storage.DeleteLink(ctx, ns, oci.LayerLink{Digest: dep}); err != nil && !isUnknown(err) {
			return err
		}
	}
	return nil
}

// GetReferrers lists the manifests of ns declaring subject as their subject,
// optionally only those of artifactType.
func (r *Registry) GetReferrers(ctx context.Context, ns string, subject digest.Digest, artifactType string) (_ []ocispec.Descriptor, err error) {
	defer translate("get referrers", &err)
	if err := oci.ValidateNamespace(ns); err != nil {
		return nil, err
	}
	return r.storage.Referrers(ctx, ns, subject, artifactType)
}
