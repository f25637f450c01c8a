// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package policy decides whether a client may perform a registry action.
package policy

import (
	"context"
	"fmt"
)

// ActionKind names a registry operation.
type ActionKind string

const (
	GetAPIVersion  ActionKind = "get-api-version"
	ListCatalog    ActionKind = "list-catalog"
	StartUpload    ActionKind = "start-upload"
	UpdateUpload   ActionKind = "update-upload"
	CompleteUpload ActionKind = "complete-upload"
	GetUpload      ActionKind = "get-upload"
	CancelUpload   ActionKind = "cancel-upload"
	GetBlob        ActionKind = "get-blob"
	DeleteBlob     ActionKind = "delete-blob"
	PutManifest    ActionKind = "put-manifest"
	GetManifest    ActionKind = "get-manifest"
	DeleteManifest ActionKind = "delete-manifest"
	GetReferrers   ActionKind = "get-referrers"
	ListTags       ActionKind = "list-tags"
)

// Action is a request to perform Kind. Namespace is empty for actions that
// are not scoped to a namespace; Reference is the digest, tag or session the
// action addresses, if any.
type Action struct {
	Kind      ActionKind
	Namespace string
	Reference string
}

func (a Action) String() string {
	if a.Namespace == "" {
		return string(a.Kind)
	}
	if a.Reference == "" {
		return fmt.Sprintf("%s %s", a.Kind, a.Namespace)
	}
	return fmt.Sprintf("%s %s@%s", a.Kind, a.Namespace, a.Reference)
}

// Identity is what a client presented: optional basic credentials and the
// subject of a verified client certificate.
type Identity struct {
	Username string
	Password string

	CertOrganizations []string
	CertCommonNames   []string
}

// HasCredentials reports whether the client sent a username.
func (id Identity) HasCredentials() bool { return id.Username != "" }

// Denial is the error returned for a refused action.
type Denial struct {
	Reason string
	// Unauthenticated is set when the client did not prove who it is: it
	// sent bad credentials, or none and was refused.
	Unauthenticated bool
}

func (d *Denial) Error() string { return d.Reason }

// Evaluator authorizes actions.
type Evaluator interface {
	// Authorize returns nil if id may perform a, and a *Denial otherwise.
	Authorize(ctx context.Context, a Action, id Identity) error
}

// AllowAll is an Evaluator that allows everything.
type AllowAll struct{}

func (AllowAll) Authorize(context.Context, Action, Identity) error { return nil }
