// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/yeetrun/dock/pkg/policy"
)

func TestLoadFormatsAgree(t *testing.T) {
	want := &Config{
		Server: ServerConfig{
			BindAddress:             "127.0.0.1",
			Port:                    5000,
			QueryTimeout:            120,
			QueryTimeoutGracePeriod: defaultQueryTimeoutGracePeriod,
			TLS: &TLSConfig{
				ServerCertificateBundle: "/etc/dock/server.pem",
				ServerPrivateKey:        "/etc/dock/server.key",
				ClientCABundle:          "/etc/dock/clients.pem",
			},
		},
		Storage: StorageConfig{
			RootDir:            "/var/lib/dock",
			CheckpointInterval: 8 << 20,
			MaxManifestSize:    1 << 20,
		},
		Identity: map[string]IdentityConfig{
			"ci": {Username: "ci-bot", Password: "plain-secret"},
		},
		Repository: []RepositoryConfig{
			{
				Namespace: "app",
				Rules: []policy.Rule{
					{Identities: []string{"ci"}},
					{Actions: []policy.ActionKind{policy.GetManifest, policy.GetBlob}, Organizations: []string{"acme"}},
				},
			},
			{
				Namespace:          "public",
				PolicyDefaultAllow: true,
				Rules: []policy.Rule{
					{Actions: []policy.ActionKind{policy.PutManifest, policy.DeleteManifest}, Anonymous: true},
				},
			},
		},
	}
	for _, path := range []string{"testdata/dock.toml", "testdata/dock.yaml"} {
		t.Run(path, func(t *testing.T) {
			got, err := Load(path)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("Load mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDefaultsAndAccessors(t *testing.T) {
	cfg, err := ParseTOML([]byte(`
[server]
port = 5000
[storage]
root_dir = "/tmp/dock"
`))
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.QueryTimeout(); got != time.Hour {
		t.Errorf("QueryTimeout = %v", got)
	}
	if got := cfg.GracePeriod(); got != time.Minute {
		t.Errorf("GracePeriod = %v", got)
	}
	if got := cfg.Addr(); got != ":5000" {
		t.Errorf("Addr = %q", got)
	}
	if cfg.Storage.CheckpointInterval != 0 {
		t.Errorf("CheckpointInterval = %v, want unset", cfg.Storage.CheckpointInterval)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		toml    string
		wantErr string
	}{
		{"missing port", "[storage]\nroot_dir = \"/x\"", "server.port"},
		{"missing root", "[server]\nport = 1", "storage.root_dir"},
		{"bad namespace", "[server]\nport = 1\n[storage]\nroot_dir = \"/x\"\n[[repository]]\nnamespace = \"Bad\"", "invalid namespace"},
		{"unknown key", "[server]\nport = 1\nprot = 2\n[storage]\nroot_dir = \"/x\"", "unknown configuration keys"},
		{"bad size", "[server]\nport = 1\n[storage]\nroot_dir = \"/x\"\ncheckpoint_interval = \"12 parsecs\"", "invalid data size"},
		{"duplicate username", "[server]\nport = 1\n[storage]\nroot_dir = \"/x\"\n[identity.a]\nusername = \"u\"\n[identity.b]\nusername = \"u\"", "already used"},
		{"tls without key", "[server]\nport = 1\n[server.tls]\nserver_certificate_bundle = \"c\"\n[storage]\nroot_dir = \"/x\"", "server.tls"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTOML([]byte(tt.toml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("ParseTOML = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDataSize(t *testing.T) {
	tests := []struct {
		in   string
		want DataSize
	}{
		{"512", 512},
		{"10MB", 10_000_000},
		{"16MiB", 16 << 20},
		{"1 GiB", 1 << 30},
		{"2k", 2000},
	}
	for _, tt := range tests {
		got, err := ParseDataSize(tt.in)
		if err != nil {
			t.Errorf("ParseDataSize(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDataSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEvaluatorFromConfig(t *testing.T) {
	cfg, err := Load("testdata/dock.toml")
	if err != nil {
		t.Fatal(err)
	}
	ev := cfg.Evaluator()
	ctx := context.Background()
	ci := policy.Identity{Username: "ci-bot", Password: "plain-secret"}
	if err := ev.Authorize(ctx, policy.Action{Kind: policy.PutManifest, Namespace: "app"}, ci); err != nil {
		t.Fatalf("ci push to app: %v", err)
	}
	if err := ev.Authorize(ctx, policy.Action{Kind: policy.PutManifest, Namespace: "public"}, policy.Identity{}); err == nil {
		t.Fatal("anonymous push to public allowed")
	}
}
