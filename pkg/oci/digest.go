// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package oci

import (
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding"
	"fmt"
	"hash"
	"slices"

	"github.com/opencontainers/go-digest"
)

// SupportedAlgorithms lists the digest algorithms the registry accepts, in
// the order upload hashers are kept. Both hash implementations expose their
// internal state through encoding.BinaryMarshaler, which is what makes
// upload checkpoints possible.
var SupportedAlgorithms = []digest.Algorithm{digest.SHA256, digest.SHA512}

// hashPrefixLen is the number of leading hex characters used to shard blob
// directories.
const hashPrefixLen = 2

// IsSupported reports whether alg is one of SupportedAlgorithms.
func IsSupported(alg digest.Algorithm) bool {
	return slices.Contains(SupportedAlgorithms, alg)
}

// ParseDigest parses and validates a canonical "<algorithm>:<hex>" digest.
// Unknown algorithms, a wrong hex length and non-lowercase-hex characters all
// fail with ErrDigestInvalid.
func ParseDigest(s string) (digest.Digest, error) {
	d, err := digest.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDigestInvalid, err)
	}
	if !IsSupported(d.Algorithm()) {
		return "", fmt.Errorf("%w: unsupported algorithm %q", ErrDigestInvalid, d.Algorithm())
	}
	return d, nil
}

// HashPrefix returns the short hash prefix used to shard blob paths.
func HashPrefix(d digest.Digest) string {
	return d.Encoded()[:hashPrefixLen]
}

// NewHasher returns a fresh hash for alg.
func NewHasher(alg digest.Algorithm) (hash.Hash, error) {
	if !IsSupported(alg) {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrDigestInvalid, alg)
	}
	return alg.Hash(), nil
}

// MarshalHashState serializes the running state of h.
func MarshalHashState(h hash.Hash) ([]byte, error) {
	m, ok := h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, fmt.Errorf("hash %T cannot be checkpointed", h)
	}
	return m.MarshalBinary()
}

// UnmarshalHashState restores a hasher for alg from a state produced by
// MarshalHashState.
func UnmarshalHashState(alg digest.Algorithm, state []byte) (hash.Hash, error) {
	h, err := NewHasher(alg)
	if err != nil {
		return nil, err
	}
	u, ok := h.(encoding.BinaryUnmarshaler)
	if !ok {
		return nil, fmt.Errorf("hash %T cannot be restored", h)
	}
	if err := u.UnmarshalBinary(state); err != nil {
		return nil, fmt.Errorf("restore %s hash state: %w", alg, err)
	}
	return h, nil
}
