// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package registry

import (
	"context"

	"github.com/yeetrun/dock/pkg/oci"
)

// Page is one page of a name listing. Next is the cursor to pass as last for
// the following page, empty on the final page.
type Page struct {
	Names []string
	Next  string
}

// ListCatalog lists namespaces in lexical order, at most n of them after
// last. A negative n lists all of them.
func (r *Registry) ListCatalog(ctx context.Context, n int, last string) (_ Page, err error) {
	defer translate("list catalog", &err)
	names, next, err := r.storage.ListNamespaces(ctx, n, last)
	if err != nil {
		return Page{}, err
	}
	return Page{Names: nonNil(names), Next: next}, nil
}

// ListTags lists the tags of ns like ListCatalog lists namespaces.
func (r *Registry) ListTags(ctx context.Context, ns string, n int, last string) (_ Page, err error) {
	defer translate("list tags", &err)
	if err := oci.ValidateNamespace(ns); err != nil {
		return Page{}, err
	}
	names, next, err := r.storage.ListTags(ctx, ns, n, last)
	if err != nil {
		return Page{}, err
	}
	return Page{Names: nonNil(names), Next: next}, nil
}

// nonNil makes empty listings render as [] rather than null.
func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}
