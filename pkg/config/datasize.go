// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// DataSize is a number of bytes, written either as a plain integer or as a
// string with a unit: "512", "10MB", "16MiB", "1 GiB". Decimal units are
// powers of 1000, binary ones powers of 1024.
type DataSize uint64

// ParseDataSize parses a size string.
func ParseDataSize(s string) (DataSize, error) {
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid data size %q: %w", s, err)
	}
	return DataSize(n), nil
}

func (d DataSize) Bytes() int64 { return int64(d) }

func (d DataSize) String() string { return humanize.IBytes(uint64(d)) }

// UnmarshalTOML accepts TOML integers and strings.
func (d *DataSize) UnmarshalTOML(v any) error {
	switch v := v.(type) {
	case int64:
		if v < 0 {
			return fmt.Errorf("invalid data size %d", v)
		}
		*d = DataSize(v)
		return nil
	case string:
		n, err := ParseDataSize(v)
		if err != nil {
			return err
		}
		*d = n
		return nil
	default:
		return fmt.Errorf("invalid data size %v of type %T", v, v)
	}
}

// UnmarshalYAML accepts YAML scalars.
func (d *DataSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: data size must be a scalar", node.Line)
	}
	n, err := ParseDataSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = n
	return nil
}
