// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package registry implements the operations of an OCI Distribution
// Specification v1.1 registry over a storage.Engine.
//
// Each operation validates its names, takes the lock of the digest it works
// on, performs the storage calls and maps the outcome to a registry result.
// The locks only ever cover storage calls: readers get an open handle back
// and stream it after the lock is released.
//
// # Links
//
// Blobs are shared across namespaces; what a namespace owns are links:
//
//   - a revision link for every manifest stored in it
//   - a tag link for every tag, pointing at a revision
//   - a layer link for every blob it uploaded, mounted, or references
//     from one of its manifests
//   - a referrer link for every manifest declaring a subject
//
// A blob can only be deleted from a namespace that links it, and only while
// no other namespace does.
//
// # Errors
//
// Every error returned is an *oci.Error. Failures that have no registry
// meaning are logged and reported as oci.ErrInternal.
package registry
