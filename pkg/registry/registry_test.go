// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/yeetrun/dock/pkg/oci"
	"github.com/yeetrun/dock/pkg/storage"
)

func newTestRegistry(t *testing.T) (*Registry, *storage.FS) {
	t.Helper()
	s, err := storage.New(t.TempDir(), storage.Options{CheckpointInterval: 8})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	return New(s, Options{}), s
}

func uploadBlob(t *testing.T, r *Registry, ns string, data []byte) digest.Digest {
	t.Helper()
	ctx := context.Background()
	up, err := r.StartUpload(ctx, ns, nil)
	if err != nil {
		t.Fatalf("StartUpload: %v", err)
	}
	if _, err := r.PatchUpload(ctx, ns, up.Session, nil, bytes.NewReader(data)); err != nil {
		t.Fatalf("PatchUpload: %v", err)
	}
	d := digest.FromBytes(data)
	if err := r.CompleteUpload(ctx, ns, up.Session, d, nil); err != nil {
		t.Fatalf("CompleteUpload: %v", err)
	}
	return d
}

func imageManifest(config digest.Digest, layers []digest.Digest, subject digest.Digest, artifactType string) []byte {
	m := ocispec.Manifest{
		MediaType:    ocispec.MediaTypeImageManifest,
		ArtifactType: artifactType,
		Config:       ocispec.Descriptor{MediaType: "application/vnd.oci.image.config.v1+json", Digest: config, Size: 2},
		Layers:       []ocispec.Descriptor{},
	}
	m.SchemaVersion = 2
	for _, l := range layers {
		m.Layers = append(m.Layers, ocispec.Descriptor{MediaType: ocispec.MediaTypeImageLayer, Digest: l, Size: 1})
	}
	if subject != "" {
		m.Subject = &ocispec.Descriptor{MediaType: ocispec.MediaTypeImageManifest, Digest: subject, Size: 1}
	}
	return mustJSON(m)
}

func putManifest(t *testing.T, r *Registry, ns, ref string, body []byte) digest.Digest {
	t.Helper()
	parsed, err := oci.ParseReference(ref)
	if err != nil {
		t.Fatal(err)
	}
	sum, err := r.PutManifest(context.Background(), ns, parsed, ocispec.MediaTypeImageManifest, body)
	if err != nil {
		t.Fatalf("PutManifest(%s, %s): %v", ns, ref, err)
	}
	return sum.Digest
}

func wantCode(t *testing.T, err error, want *oci.Error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %s", err, want.Code)
	}
}

func TestBlobUploadAndRead(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	data := []byte("0123456789abcdefghij")
	d := uploadBlob(t, r, "app", data)

	sum, err := r.HeadBlob(ctx, "app", d)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Size != int64(len(data)) {
		t.Fatalf("HeadBlob size = %d", sum.Size)
	}

	bd, err := r.GetBlob(ctx, "app", d, &Range{Start: 5, End: 100})
	if err != nil {
		t.Fatal(err)
	}
	defer bd.Reader.Close()
	if diff := cmp.Diff(&Range{Start: 5, End: 19}, bd.Range); diff != "" {
		t.Fatalf("range (-want +got):\n%s", diff)
	}
	got, err := io.ReadAll(io.LimitReader(bd.Reader, bd.Range.End-bd.Range.Start+1))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "56789abcdefghij" {
		t.Fatalf("ranged read = %q", got)
	}

	for _, start := range []int64{20, 21} {
		_, err = r.GetBlob(ctx, "app", d, &Range{Start: start, End: -1})
		wantCode(t, err, oci.ErrRangeNotSatisfiable)
	}

	empty := uploadBlob(t, r, "app", nil)
	bd, err = r.GetBlob(ctx, "app", empty, &Range{Start: 0, End: -1})
	if err != nil {
		t.Fatalf("GetBlob(empty): %v", err)
	}
	bd.Reader.Close()
	if bd.Range != nil || bd.Size != 0 {
		t.Fatalf("GetBlob(empty) = size %d range %+v, want size 0 and no range", bd.Size, bd.Range)
	}
	_, err = r.GetBlob(ctx, "app", digest.FromString("absent"), nil)
	wantCode(t, err, oci.ErrBlobUnknown)
}

func TestUploadSessionState(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	before := time.Now().Add(-time.Second)
	up, err := r.StartUpload(ctx, "app", nil)
	if err != nil {
		t.Fatal(err)
	}
	started, err := r.UploadStartedAt(ctx, "app", up.Session)
	if err != nil {
		t.Fatalf("UploadStartedAt: %v", err)
	}
	if started.Before(before) || started.After(time.Now().Add(time.Second)) {
		t.Errorf("UploadStartedAt = %v, want about now", started)
	}

	if _, err := r.PatchUpload(ctx, "app", up.Session, nil, bytes.NewReader([]byte("abc"))); err != nil {
		t.Fatal(err)
	}
	for range 2 {
		n, err := r.UploadRangeMax(ctx, "app", up.Session)
		if err != nil {
			t.Fatal(err)
		}
		if n != 3 {
			t.Fatalf("UploadRangeMax = %d, want 3", n)
		}
	}

	if err := r.DeleteUpload(ctx, "app", up.Session); err != nil {
		t.Fatal(err)
	}
	_, err = r.UploadStartedAt(ctx, "app", up.Session)
	wantCode(t, err, oci.ErrBlobUploadUnknown)
}

func TestInvalidNames(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.HeadBlob(ctx, "Bad/Name", digest.FromString("x"))
	wantCode(t, err, oci.ErrNameInvalid)
	_, err = r.PatchUpload(ctx, "app", "../../etc", nil, bytes.NewReader(nil))
	wantCode(t, err, oci.ErrBlobUploadUnknown)
	_, err = r.ListTags(ctx, "-x", -1, "")
	wantCode(t, err, oci.ErrNameInvalid)
}

func TestStartUploadExistingBlobLinks(t *testing.T) {
	r, s := newTestRegistry(t)
	ctx := context.Background()
	d := uploadBlob(t, r, "a", []byte("shared layer"))

	up, err := r.StartUpload(ctx, "b", &d)
	if err != nil {
		t.Fatal(err)
	}
	if up.Existing != d || up.Session != "" {
		t.Fatalf("StartUpload = %+v, want existing %s", up, d)
	}
	if _, err := s.ReadLink(ctx, "b", oci.LayerLink{Digest: d}); err != nil {
		t.Fatalf("layer link in b: %v", err)
	}

	absent := digest.FromString("absent")
	up, err = r.StartUpload(ctx, "b", &absent)
	if err != nil {
		t.Fatal(err)
	}
	if up.Session == "" {
		t.Fatalf("StartUpload for absent blob = %+v, want a session", up)
	}
}

func TestCompleteUploadWrongDigest(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	up, err := r.StartUpload(ctx, "app", nil)
	if err != nil {
		t.Fatal(err)
	}
	err = r.CompleteUpload(ctx, "app", up.Session, digest.FromString("other"), bytes.NewReader([]byte("data")))
	wantCode(t, err, oci.ErrDigestInvalid)
	n, err := r.UploadRangeMax(ctx, "app", up.Session)
	if err != nil || n != 4 {
		t.Fatalf("UploadRangeMax = %d, %v", n, err)
	}
	if err := r.DeleteUpload(ctx, "app", up.Session); err != nil {
		t.Fatal(err)
	}
	_, err = r.UploadRangeMax(ctx, "app", up.Session)
	wantCode(t, err, oci.ErrBlobUploadUnknown)
}

func TestTagOverwrite(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	config := uploadBlob(t, r, "app", []byte("{}"))
	m1 := imageManifest(config, nil, "", "application/vnd.example.one")
	m2 := imageManifest(config, nil, "", "application/vnd.example.two")
	d1 := putManifest(t, r, "app", "latest", m1)
	d2 := putManifest(t, r, "app", "latest", m2)

	got, err := r.GetManifest(ctx, "app", oci.TagReference("latest"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Digest != d2 || !bytes.Equal(got.Content, m2) {
		t.Fatalf("latest = %s, want %s", got.Digest, d2)
	}
	got, err = r.GetManifest(ctx, "app", oci.DigestReference(d1))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Content, m1) || got.MediaType != ocispec.MediaTypeImageManifest {
		t.Fatalf("by digest = %+v", got)
	}
	head, err := r.HeadManifest(ctx, "app", oci.DigestReference(d1))
	if err != nil {
		t.Fatal(err)
	}
	if head.Content != nil || head.Size != int64(len(m1)) {
		t.Fatalf("HeadManifest = %+v", head)
	}
}

func TestPutManifestValidation(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	config := uploadBlob(t, r, "app", []byte("{}"))
	body := imageManifest(config, []digest.Digest{digest.FromString("missing")}, "", "")

	_, err := r.PutManifest(ctx, "app", oci.TagReference("v1"), ocispec.MediaTypeImageManifest, body)
	wantCode(t, err, oci.ErrManifestBlobUnknown)

	body = imageManifest(config, nil, "", "")
	_, err = r.PutManifest(ctx, "app", oci.DigestReference(digest.FromString("nope")), ocispec.MediaTypeImageManifest, body)
	wantCode(t, err, oci.ErrDigestInvalid)

	_, err = r.PutManifest(ctx, "app", oci.TagReference("v1"), ocispec.MediaTypeImageIndex, body)
	wantCode(t, err, oci.ErrManifestInvalid)

	small := New(r.storage, Options{MaxManifestSize: 10})
	_, err = small.PutManifest(ctx, "app", oci.TagReference("v1"), ocispec.MediaTypeImageManifest, body)
	wantCode(t, err, oci.ErrManifestInvalid)

	d := digest.SHA512.FromBytes(body)
	sum, err := r.PutManifest(ctx, "app", oci.DigestReference(d), ocispec.MediaTypeImageManifest, body)
	if err != nil {
		t.Fatalf("sha512 reference: %v", err)
	}
	if sum.Digest != d {
		t.Fatalf("digest = %s, want %s", sum.Digest, d)
	}
}

func TestSharedBlobDelete(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	config := uploadBlob(t, r, "a", []byte("{}"))
	x := uploadBlob(t, r, "a", []byte("layer x"))
	if _, err := r.StartUpload(ctx, "b", &config); err != nil {
		t.Fatal(err)
	}
	if _, err := r.StartUpload(ctx, "b", &x); err != nil {
		t.Fatal(err)
	}
	mb := putManifest(t, r, "b", "v1", imageManifest(config, []digest.Digest{x}, "", ""))

	wantCode(t, r.DeleteBlob(ctx, "a", x), oci.ErrDenied)
	wantCode(t, r.DeleteBlob(ctx, "c", x), oci.ErrBlobUnknown)

	if err := r.DeleteManifest(ctx, "b", oci.DigestReference(mb)); err != nil {
		t.Fatal(err)
	}
	if err := r.DeleteBlob(ctx, "a", x); err != nil {
		t.Fatalf("DeleteBlob after b released it: %v", err)
	}
	_, err := r.HeadBlob(ctx, "a", x)
	wantCode(t, err, oci.ErrBlobUnknown)
}

func TestDeleteManifestCleansLinks(t *testing.T) {
	r, s := newTestRegistry(t)
	ctx := context.Background()
	config := uploadBlob(t, r, "app", []byte("{}"))
	shared := uploadBlob(t, r, "app", []byte("shared"))
	only := uploadBlob(t, r, "app", []byte("only in m1"))

	m1 := putManifest(t, r, "app", "v1", imageManifest(config, []digest.Digest{shared, only}, "", ""))
	putManifest(t, r, "app", "v2", imageManifest(config, []digest.Digest{shared}, "", ""))
	if _, err := r.PutManifest(ctx, "app", oci.TagReference("also-v1"), ocispec.MediaTypeImageManifest, imageManifest(config, []digest.Digest{shared, only}, "", "")); err != nil {
		t.Fatal(err)
	}
	sig := putManifest(t, r, "app", "sig", imageManifest(config, nil, m1, "application/vnd.example.signature"))

	refs, err := r.GetReferrers(ctx, "app", m1, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].Digest != sig {
		t.Fatalf("referrers = %+v", refs)
	}

	if err := r.DeleteManifest(ctx, "app", oci.DigestReference(sig)); err != nil {
		t.Fatal(err)
	}
	refs, err = r.GetReferrers(ctx, "app", m1, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 0 {
		t.Fatalf("referrers after delete = %+v", refs)
	}

	if err := r.DeleteManifest(ctx, "app", oci.DigestReference(m1)); err != nil {
		t.Fatal(err)
	}
	tags, err := r.ListTags(ctx, "app", -1, "")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"v2"}, tags.Names); diff != "" {
		t.Fatalf("tags after delete (-want +got):\n%s", diff)
	}
	if _, err := s.ReadLink(ctx, "app", oci.LayerLink{Digest: only}); !errors.Is(err, oci.ErrBlobUnknown) {
		t.Fatalf("orphaned layer link survived: %v", err)
	}
	for _, d := range []digest.Digest{shared, config} {
		if _, err := s.ReadLink(ctx, "app", oci.LayerLink{Digest: d}); err != nil {
			t.Fatalf("layer link %s still in use was removed: %v", d, err)
		}
	}
	if _, err := os.Stat(s.Tree().ReferrersDir("app", m1)); !os.IsNotExist(err) {
		t.Fatalf("referrer directory left behind: %v", err)
	}
	_, err = r.GetManifest(ctx, "app", oci.DigestReference(m1))
	wantCode(t, err, oci.ErrManifestUnknown)
}

func TestDeleteTagKeepsRevision(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	config := uploadBlob(t, r, "app", []byte("{}"))
	d := putManifest(t, r, "app", "v1", imageManifest(config, nil, "", ""))
	if err := r.DeleteManifest(ctx, "app", oci.TagReference("v1")); err != nil {
		t.Fatal(err)
	}
	_, err := r.GetManifest(ctx, "app", oci.TagReference("v1"))
	wantCode(t, err, oci.ErrManifestUnknown)
	if _, err := r.GetManifest(ctx, "app", oci.DigestReference(d)); err != nil {
		t.Fatalf("revision removed with its tag: %v", err)
	}
	wantCode(t, r.DeleteManifest(ctx, "app", oci.TagReference("v1")), oci.ErrManifestUnknown)
}

func TestListCatalogPages(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	for i := range 5 {
		uploadBlob(t, r, fmt.Sprintf("ns%d", i), []byte("x"))
	}
	var pages [][]string
	last := ""
	for {
		p, err := r.ListCatalog(ctx, 2, last)
		if err != nil {
			t.Fatal(err)
		}
		pages = append(pages, p.Names)
		if p.Next == "" {
			break
		}
		last = p.Next
	}
	want := [][]string{{"ns0", "ns1"}, {"ns2", "ns3"}, {"ns4"}}
	if diff := cmp.Diff(want, pages); diff != "" {
		t.Fatalf("pages (-want +got):\n%s", diff)
	}
}
