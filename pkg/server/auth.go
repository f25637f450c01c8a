// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package server

import (
	"net/http"

	"github.com/yeetrun/dock/pkg/policy"
)

// identityOf collects what the client presented: basic credentials and the
// subject of a client certificate that passed verification.
func identityOf(r *http.Request) policy.Identity {
	var id policy.Identity
	if user, pass, ok := r.BasicAuth(); ok {
		id.Username, id.Password = user, pass
	}
	if r.TLS == nil {
		return id
	}
	for _, chain := range r.TLS.VerifiedChains {
		if len(chain) == 0 {
			continue
		}
		leaf := chain[0]
		id.CertOrganizations = append(id.CertOrganizations, leaf.Subject.Organization...)
		if cn := leaf.Subject.CommonName; cn != "" {
			id.CertCommonNames = append(id.CertCommonNames, cn)
		}
		break
	}
	return id
}
