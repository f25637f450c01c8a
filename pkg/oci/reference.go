// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package oci

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/opencontainers/go-digest"
)

var (
	namespaceRegexp = regexp.MustCompile(`^[a-z0-9]+(?:[._-][a-z0-9]+)*$`)
	tagRegexp       = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9._-]{0,127}$`)
)

// ValidateNamespace checks ns against the namespace grammar: lowercase
// alphanumeric segments joined by '.', '_' or '-'.
func ValidateNamespace(ns string) error {
	if !namespaceRegexp.MatchString(ns) {
		return fmt.Errorf("%w: %q", ErrNameInvalid, ns)
	}
	return nil
}

// ValidateTag checks a tag name.
func ValidateTag(tag string) error {
	if !tagRegexp.MatchString(tag) {
		return fmt.Errorf("%w: %q", ErrTagInvalid, tag)
	}
	return nil
}

// Reference addresses a manifest either by tag or by digest.
type Reference struct {
	tag    string
	digest digest.Digest
}

// ParseReference parses a manifest reference. Anything containing a colon is
// treated as a digest, everything else as a tag.
func ParseReference(s string) (Reference, error) {
	if strings.Contains(s, ":") {
		d, err := ParseDigest(s)
		if err != nil {
			return Reference{}, err
		}
		return Reference{digest: d}, nil
	}
	if err := ValidateTag(s); err != nil {
		return Reference{}, err
	}
	return Reference{tag: s}, nil
}

// TagReference returns a reference to tag. The tag is not validated.
func TagReference(tag string) Reference { return Reference{tag: tag} }

// DigestReference returns a reference to d.
func DigestReference(d digest.Digest) Reference { return Reference{digest: d} }

func (r Reference) IsTag() bool           { return r.tag != "" }
func (r Reference) Tag() string           { return r.tag }
func (r Reference) Digest() digest.Digest { return r.digest }

func (r Reference) String() string {
	if r.IsTag() {
		return r.tag
	}
	return r.digest.String()
}

// Link returns the link a manifest reference resolves through.
func (r Reference) Link() LinkReference {
	if r.IsTag() {
		return TagLink{Name: r.tag}
	}
	return DigestLink{Digest: r.digest}
}

// LinkReference is one of TagLink, DigestLink, LayerLink or ReferrerLink.
// The set is closed; code switching over it treats any other value as a
// programming error.
type LinkReference interface {
	fmt.Stringer
	isLinkReference()
}

// TagLink is the mutable "current" pointer of a tag.
type TagLink struct {
	Name string
}

// DigestLink is the revision link of a manifest stored in a namespace.
type DigestLink struct {
	Digest digest.Digest
}

// LayerLink is the back-reference from a namespace to a blob it uses.
type LayerLink struct {
	Digest digest.Digest
}

// ReferrerLink records that Referrer declares Subject as its subject.
type ReferrerLink struct {
	Subject  digest.Digest
	Referrer digest.Digest
}

func (TagLink) isLinkReference()      {}
func (DigestLink) isLinkReference()   {}
func (LayerLink) isLinkReference()    {}
func (ReferrerLink) isLinkReference() {}

func (l TagLink) String() string    { return "tag:" + l.Name }
func (l DigestLink) String() string { return "digest:" + l.Digest.String() }
func (l LayerLink) String() string  { return "layer:" + l.Digest.String() }
func (l ReferrerLink) String() string {
	return "referrer:" + l.Subject.String() + "/" + l.Referrer.String()
}
