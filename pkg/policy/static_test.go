// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package policy

import (
	"context"
	"errors"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestStaticCredentials(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	s := NewStatic([]Credential{
		{ID: "alice", Username: "alice", Password: "plain"},
		{ID: "bob", Username: "bob", Password: string(hash)},
	}, nil)
	a := Action{Kind: GetManifest, Namespace: "app"}
	ctx := context.Background()

	tests := []struct {
		name     string
		id       Identity
		wantAuth bool
	}{
		{"plain password", Identity{Username: "alice", Password: "plain"}, true},
		{"bcrypt password", Identity{Username: "bob", Password: "s3cret"}, true},
		{"wrong password", Identity{Username: "alice", Password: "nope"}, false},
		{"wrong bcrypt password", Identity{Username: "bob", Password: "nope"}, false},
		{"unknown user", Identity{Username: "eve", Password: "plain"}, false},
		{"anonymous", Identity{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Authorize(ctx, a, tt.id)
			if tt.wantAuth {
				if err != nil {
					t.Fatalf("Authorize = %v, want nil", err)
				}
				return
			}
			var d *Denial
			if !errors.As(err, &d) || !d.Unauthenticated {
				t.Fatalf("Authorize = %v, want unauthenticated denial", err)
			}
		})
	}
}

func TestStaticRepositories(t *testing.T) {
	s := NewStatic([]Credential{
		{ID: "ci", Username: "ci-bot", Password: "pw"},
		{ID: "dev", Username: "dev", Password: "pw"},
	}, []Repository{
		{
			Namespace:    "public",
			DefaultAllow: true,
			Rules: []Rule{
				{Actions: []ActionKind{PutManifest, DeleteManifest, DeleteBlob}, Anonymous: true},
			},
		},
		{
			Namespace:    "private",
			DefaultAllow: false,
			Rules: []Rule{
				{Identities: []string{"ci"}},
				{Actions: []ActionKind{GetManifest, GetBlob}, Organizations: []string{"acme"}},
			},
		},
	})
	ci := Identity{Username: "ci-bot", Password: "pw"}
	dev := Identity{Username: "dev", Password: "pw"}
	acme := Identity{CertOrganizations: []string{"acme"}, CertCommonNames: []string{"host1"}}
	anon := Identity{}

	tests := []struct {
		name  string
		a     Action
		id    Identity
		allow bool
	}{
		{"public pull anonymous", Action{Kind: GetManifest, Namespace: "public"}, anon, true},
		{"public push anonymous", Action{Kind: PutManifest, Namespace: "public"}, anon, false},
		{"public push authenticated", Action{Kind: PutManifest, Namespace: "public"}, dev, true},
		{"private ci anything", Action{Kind: DeleteBlob, Namespace: "private"}, ci, true},
		{"private dev", Action{Kind: GetManifest, Namespace: "private"}, dev, false},
		{"private cert pull", Action{Kind: GetBlob, Namespace: "private"}, acme, true},
		{"private cert push", Action{Kind: PutManifest, Namespace: "private"}, acme, false},
		{"unlisted namespace", Action{Kind: GetManifest, Namespace: "other"}, ci, false},
		{"catalog", Action{Kind: ListCatalog}, dev, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Authorize(context.Background(), tt.a, tt.id)
			if tt.allow != (err == nil) {
				t.Fatalf("Authorize(%v) = %v, want allow=%v", tt.a, err, tt.allow)
			}
		})
	}
}

func TestDenialAuthenticationState(t *testing.T) {
	s := NewStatic([]Credential{{ID: "u", Username: "u", Password: "p"}},
		[]Repository{{Namespace: "app", DefaultAllow: false}})
	a := Action{Kind: GetManifest, Namespace: "app"}

	var d *Denial
	if err := s.Authorize(context.Background(), a, Identity{}); !errors.As(err, &d) || !d.Unauthenticated {
		t.Fatalf("anonymous denial = %v, want unauthenticated", err)
	}
	if err := s.Authorize(context.Background(), a, Identity{Username: "u", Password: "p"}); !errors.As(err, &d) || d.Unauthenticated {
		t.Fatalf("authenticated denial = %v, want authenticated", err)
	}
}
