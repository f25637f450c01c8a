// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package oci

import (
	"errors"
	"net/http"
)

// Error codes defined by OCI Distribution Specification
const (
	// ErrCodeBlobUnknown indicates blob is unknown to the registry
	ErrCodeBlobUnknown = "BLOB_UNKNOWN"
	// ErrCodeBlobUploadInvalid indicates blob upload is invalid
	ErrCodeBlobUploadInvalid = "BLOB_UPLOAD_INVALID"
	// ErrCodeBlobUploadUnknown indicates blob upload session is unknown
	ErrCodeBlobUploadUnknown = "BLOB_UPLOAD_UNKNOWN"
	// ErrCodeDigestInvalid indicates provided digest did not match uploaded content
	ErrCodeDigestInvalid = "DIGEST_INVALID"
	// ErrCodeManifestBlobUnknown indicates a manifest references a blob unknown to the registry
	ErrCodeManifestBlobUnknown = "MANIFEST_BLOB_UNKNOWN"
	// ErrCodeManifestInvalid indicates manifest is invalid
	ErrCodeManifestInvalid = "MANIFEST_INVALID"
	// ErrCodeManifestUnknown indicates manifest is unknown
	ErrCodeManifestUnknown = "MANIFEST_UNKNOWN"
	// ErrCodeNameInvalid indicates invalid repository name
	ErrCodeNameInvalid = "NAME_INVALID"
	// ErrCodeNameUnknown indicates repository name not known
	ErrCodeNameUnknown = "NAME_UNKNOWN"
	// ErrCodeTagInvalid indicates a malformed tag
	ErrCodeTagInvalid = "TAG_INVALID"
	// ErrCodeSizeInvalid indicates provided length did not match content length
	ErrCodeSizeInvalid = "SIZE_INVALID"
	// ErrCodeRangeNotSatisfiable indicates a range outside of the content
	ErrCodeRangeNotSatisfiable = "RANGE_NOT_SATISFIABLE"
	// ErrCodeUnauthorized indicates authentication required
	ErrCodeUnauthorized = "UNAUTHORIZED"
	// ErrCodeDenied indicates requested access denied
	ErrCodeDenied = "DENIED"
	// ErrCodeUnsupported indicates operation is unsupported
	ErrCodeUnsupported = "UNSUPPORTED"
	// ErrCodeNotFound indicates the route does not exist
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeInternal indicates an unexpected server-side failure
	ErrCodeInternal = "INTERNAL_SERVER_ERROR"
)

// Error is a registry error as seen by clients. It carries the OCI error
// code and the HTTP status the front-end renders it with.
//
// The package-level values are sentinels; callers add context by wrapping
// them with fmt.Errorf("%w: ...") and match with errors.Is.
type Error struct {
	Code    string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrBlobUnknown         = &Error{ErrCodeBlobUnknown, http.StatusNotFound, "blob unknown to registry"}
	ErrBlobUploadUnknown   = &Error{ErrCodeBlobUploadUnknown, http.StatusNotFound, "blob upload unknown to registry"}
	ErrBlobUploadInvalid   = &Error{ErrCodeBlobUploadInvalid, http.StatusBadRequest, "blob upload invalid"}
	ErrDigestInvalid       = &Error{ErrCodeDigestInvalid, http.StatusBadRequest, "provided digest did not match uploaded content"}
	ErrManifestUnknown     = &Error{ErrCodeManifestUnknown, http.StatusNotFound, "manifest unknown"}
	ErrManifestInvalid     = &Error{ErrCodeManifestInvalid, http.StatusBadRequest, "manifest invalid"}
	ErrManifestBlobUnknown = &Error{ErrCodeManifestBlobUnknown, http.StatusNotFound, "manifest references a blob unknown to registry"}
	ErrNameInvalid         = &Error{ErrCodeNameInvalid, http.StatusBadRequest, "invalid repository name"}
	ErrNameUnknown         = &Error{ErrCodeNameUnknown, http.StatusNotFound, "repository name not known to registry"}
	ErrTagInvalid          = &Error{ErrCodeTagInvalid, http.StatusBadRequest, "invalid tag"}
	ErrSizeInvalid         = &Error{ErrCodeSizeInvalid, http.StatusBadRequest, "provided length did not match content length"}
	ErrRangeNotSatisfiable = &Error{ErrCodeRangeNotSatisfiable, http.StatusRequestedRangeNotSatisfiable, "requested range not satisfiable"}
	ErrUnsupported         = &Error{ErrCodeUnsupported, http.StatusMethodNotAllowed, "the operation is unsupported"}
	ErrDenied              = &Error{ErrCodeDenied, http.StatusForbidden, "requested access to the resource is denied"}
	ErrUnauthorized        = &Error{ErrCodeUnauthorized, http.StatusUnauthorized, "authentication required"}
	ErrNotFound            = &Error{ErrCodeNotFound, http.StatusNotFound, "resource not found"}
	ErrInternal            = &Error{ErrCodeInternal, http.StatusInternalServerError, "internal server error"}
)

// AsError returns the registry error carried by err, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
