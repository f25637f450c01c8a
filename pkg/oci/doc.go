// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package oci holds the identities the registry core is built on: content
// digests, namespace names, manifest references, link references and the
// error taxonomy shared by the storage engine, the registry and the HTTP
// front-end.
//
// Digests are backed by github.com/opencontainers/go-digest and restricted to
// the algorithms whose hash state can be checkpointed (sha256, sha512).
// Manifests are parsed with the image-spec v1 types.
package oci
