// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the dock server configuration.
//
// Configuration files are TOML, or YAML when the file name ends in .yaml or
// .yml. Both formats use the same keys:
//
//	[server]
//	bind_address = "0.0.0.0"
//	port = 5000
//
//	[storage]
//	root_dir = "/var/lib/dock"
//	checkpoint_interval = "16MiB"
//
//	[identity.ci]
//	username = "ci-bot"
//	password = "$2a$10$..."
//
//	[[repository]]
//	namespace = "app"
//	policy_default_allow = false
//	rules = [{ identities = ["ci"] }]
package config

import (
	"bytes"
	"errors"
	"fmt"
	"maps"
	"net"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/yeetrun/dock/pkg/oci"
	"github.com/yeetrun/dock/pkg/policy"
	"gopkg.in/yaml.v3"
)

const (
	defaultQueryTimeout            = 3600
	defaultQueryTimeoutGracePeriod = 60
)

type Config struct {
	Server     ServerConfig              `toml:"server" yaml:"server"`
	Storage    StorageConfig             `toml:"storage" yaml:"storage"`
	Identity   map[string]IdentityConfig `toml:"identity" yaml:"identity"`
	Repository []RepositoryConfig        `toml:"repository" yaml:"repository"`
}

type ServerConfig struct {
	BindAddress string `toml:"bind_address" yaml:"bind_address"`
	Port        uint16 `toml:"port" yaml:"port"`
	// QueryTimeout bounds a request, in seconds.
	QueryTimeout uint64 `toml:"query_timeout" yaml:"query_timeout"`
	// QueryTimeoutGracePeriod is how long in-flight requests get to finish
	// on shutdown, in seconds.
	QueryTimeoutGracePeriod uint64     `toml:"query_timeout_grace_period" yaml:"query_timeout_grace_period"`
	TLS                     *TLSConfig `toml:"tls" yaml:"tls"`
}

type TLSConfig struct {
	ServerCertificateBundle string `toml:"server_certificate_bundle" yaml:"server_certificate_bundle"`
	ServerPrivateKey        string `toml:"server_private_key" yaml:"server_private_key"`
	// ClientCABundle enables client certificate verification.
	ClientCABundle string `toml:"client_ca_bundle" yaml:"client_ca_bundle"`
}

type StorageConfig struct {
	RootDir            string   `toml:"root_dir" yaml:"root_dir"`
	CheckpointInterval DataSize `toml:"checkpoint_interval" yaml:"checkpoint_interval"`
	MaxManifestSize    DataSize `toml:"max_manifest_size" yaml:"max_manifest_size"`
}

type IdentityConfig struct {
	Username string `toml:"username" yaml:"username"`
	// Password is the plain password or its bcrypt hash.
	Password string `toml:"password" yaml:"password"`
}

type RepositoryConfig struct {
	Namespace          string        `toml:"namespace" yaml:"namespace"`
	PolicyDefaultAllow bool          `toml:"policy_default_allow" yaml:"policy_default_allow"`
	Rules              []policy.Rule `toml:"rules" yaml:"rules"`
}

// Load reads, defaults and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = ParseYAML(data)
	default:
		cfg, err = ParseTOML(data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseTOML parses, defaults and validates a TOML configuration. Unknown
// keys are an error.
func ParseTOML(data []byte) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown configuration keys: %s", strings.Join(keys, ", "))
	}
	return finish(&cfg)
}

// ParseYAML is ParseTOML for YAML.
func ParseYAML(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	return finish(&cfg)
}

func finish(cfg *Config) (*Config, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.QueryTimeout == 0 {
		c.Server.QueryTimeout = defaultQueryTimeout
	}
	if c.Server.QueryTimeoutGracePeriod == 0 {
		c.Server.QueryTimeoutGracePeriod = defaultQueryTimeoutGracePeriod
	}
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port == 0 {
		errs = append(errs, errors.New("server.port must be set"))
	}
	if c.Storage.RootDir == "" {
		errs = append(errs, errors.New("storage.root_dir must be set"))
	}
	if tls := c.Server.TLS; tls != nil {
		if tls.ServerCertificateBundle == "" || tls.ServerPrivateKey == "" {
			errs = append(errs, errors.New("server.tls needs server_certificate_bundle and server_private_key"))
		}
	}
	usernames := make(map[string]string)
	for _, id := range slices.Sorted(maps.Keys(c.Identity)) {
		ic := c.Identity[id]
		if ic.Username == "" {
			errs = append(errs, fmt.Errorf("identity.%s: username must be set", id))
			continue
		}
		if other, dup := usernames[ic.Username]; dup {
			errs = append(errs, fmt.Errorf("identity.%s: username %q already used by identity.%s", id, ic.Username, other))
		}
		usernames[ic.Username] = id
	}
	seen := make(map[string]bool)
	for _, repo := range c.Repository {
		if err := oci.ValidateNamespace(repo.Namespace); err != nil {
			errs = append(errs, fmt.Errorf("repository %q: invalid namespace", repo.Namespace))
			continue
		}
		if seen[repo.Namespace] {
			errs = append(errs, fmt.Errorf("repository %q: listed twice", repo.Namespace))
		}
		seen[repo.Namespace] = true
	}
	return errors.Join(errs...)
}

// Addr is the address the server listens on.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.BindAddress, strconv.Itoa(int(c.Server.Port)))
}

func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.Server.QueryTimeout) * time.Second
}

func (c *Config) GracePeriod() time.Duration {
	return time.Duration(c.Server.QueryTimeoutGracePeriod) * time.Second
}

// Evaluator builds the access policy the configuration describes.
func (c *Config) Evaluator() *policy.Static {
	var creds []policy.Credential
	for _, id := range slices.Sorted(maps.Keys(c.Identity)) {
		ic := c.Identity[id]
		creds = append(creds, policy.Credential{ID: id, Username: ic.Username, Password: ic.Password})
	}
	var repos []policy.Repository
	for _, r := range c.Repository {
		repos = append(repos, policy.Repository{
			Namespace:    r.Namespace,
			DefaultAllow: r.PolicyDefaultAllow,
			Rules:        r.Rules,
		})
	}
	return policy.NewStatic(creds, repos)
}
