// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package policy

import (
	"context"
	"crypto/subtle"
	"log"
	"slices"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"tailscale.com/util/mak"
)

// Credential is a configured login. Password is either the plain password
// or a bcrypt hash of it.
type Credential struct {
	ID       string
	Username string
	Password string
}

func (c Credential) check(password string) bool {
	if strings.HasPrefix(c.Password, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(c.Password), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(c.Password), []byte(password)) == 1
}

// Rule selects requests. Every non-empty field must match; a rule with no
// fields set matches everything.
type Rule struct {
	Actions       []ActionKind `toml:"actions" yaml:"actions"`
	Identities    []string     `toml:"identities" yaml:"identities"`
	Usernames     []string     `toml:"usernames" yaml:"usernames"`
	Organizations []string     `toml:"organizations" yaml:"organizations"`
	CommonNames   []string     `toml:"common_names" yaml:"common_names"`
	// Anonymous restricts the rule to clients without credentials.
	Anonymous bool `toml:"anonymous" yaml:"anonymous"`
}

func (r Rule) matches(a Action, identityID string, id Identity) bool {
	if len(r.Actions) > 0 && !slices.Contains(r.Actions, a.Kind) {
		return false
	}
	if r.Anonymous && id.HasCredentials() {
		return false
	}
	if len(r.Identities) > 0 && !slices.Contains(r.Identities, identityID) {
		return false
	}
	if len(r.Usernames) > 0 && !slices.Contains(r.Usernames, id.Username) {
		return false
	}
	if len(r.Organizations) > 0 && !intersects(r.Organizations, id.CertOrganizations) {
		return false
	}
	if len(r.CommonNames) > 0 && !intersects(r.CommonNames, id.CertCommonNames) {
		return false
	}
	return true
}

func intersects(a, b []string) bool {
	for _, s := range b {
		if slices.Contains(a, s) {
			return true
		}
	}
	return false
}

// Repository is the policy of one namespace. Rules are exceptions to
// DefaultAllow: when it is set, the first matching rule denies; otherwise
// the first matching rule allows.
type Repository struct {
	Namespace    string
	DefaultAllow bool
	Rules        []Rule
}

// Static is an Evaluator over a fixed set of credentials and repositories.
type Static struct {
	byUsername map[string]Credential
	repos      map[string]Repository
}

var _ Evaluator = (*Static)(nil)

// NewStatic returns a Static evaluator. With no repositories every namespace
// is open to every authenticated client; with some, namespaces not listed
// are closed.
func NewStatic(creds []Credential, repos []Repository) *Static {
	s := &Static{}
	for _, c := range creds {
		mak.Set(&s.byUsername, c.Username, c)
	}
	for _, r := range repos {
		mak.Set(&s.repos, r.Namespace, r)
	}
	return s
}

// identify checks the credentials of id and returns the identity id they
// belong to, or "" for an anonymous client.
func (s *Static) identify(id Identity) (string, error) {
	if !id.HasCredentials() {
		return "", nil
	}
	c, ok := s.byUsername[id.Username]
	if !ok || !c.check(id.Password) {
		return "", &Denial{Reason: "invalid username or password", Unauthenticated: true}
	}
	return c.ID, nil
}

func (s *Static) Authorize(ctx context.Context, a Action, id Identity) error {
	identityID, err := s.identify(id)
	if err != nil {
		return err
	}
	if a.Namespace == "" {
		return nil
	}
	if len(s.repos) == 0 {
		return nil
	}
	repo, ok := s.repos[a.Namespace]
	if !ok {
		return s.deny(a, id, "repository not found")
	}
	for _, rule := range repo.Rules {
		if !rule.matches(a, identityID, id) {
			continue
		}
		if repo.DefaultAllow {
			return s.deny(a, id, "access denied by policy")
		}
		return nil
	}
	if repo.DefaultAllow {
		return nil
	}
	return s.deny(a, id, "access denied by default policy")
}

func (s *Static) deny(a Action, id Identity, reason string) error {
	log.Printf("policy: denied %v for %q: %s", a, id.Username, reason)
	return &Denial{Reason: reason, Unauthenticated: !id.HasCredentials()}
}
