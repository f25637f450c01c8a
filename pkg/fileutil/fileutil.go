// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package fileutil holds the single-file primitives the storage engine
// composes its multi-file mutations from.
package fileutil

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// WriteFileAtomic writes data to path so that readers observe either the old
// content or the new content, never a mix. It does this by writing to a
// temporary file in the same directory and then moving it into place. Missing
// parent directories are created.
func WriteFileAtomic(path string, data []byte) error {
	_, err := WriteReaderAtomic(path, bytes.NewReader(data))
	return err
}

// WriteReaderAtomic is WriteFileAtomic for a stream. It returns the number of
// bytes written.
func WriteReaderAtomic(path string, r io.Reader) (n int64, err error) {
	dir := filepath.Dir(path)
	var tmp *os.File
	err = inDir(dir, func() (err error) {
		tmp, err = os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if n, err = io.Copy(tmp, r); err != nil {
		return n, fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return n, fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return n, fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return n, fmt.Errorf("rename into place: %w", err)
	}
	return n, nil
}

// MoveFile renames src to dst, creating the parent directory of dst. It never
// copies: src and dst must be on the same filesystem.
func MoveFile(src, dst string) error {
	return inDir(filepath.Dir(dst), func() error {
		return os.Rename(src, dst)
	})
}

// mkdirAttempts bounds how often inDir recreates its directory.
const mkdirAttempts = 3

// testHookAfterMkdir, if set, runs between creating a directory and using it.
var testHookAfterMkdir func(dir string)

// inDir creates dir and runs fn, which creates an entry in it. Empty
// directories are pruned by RemoveEmptyParents without coordination, so when
// fn finds dir missing it is created again and fn retried.
func inDir(dir string, fn func() error) error {
	var err error
	for range mkdirAttempts {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
		if testHookAfterMkdir != nil {
			testHookAfterMkdir(dir)
		}
		if err = fn(); !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if _, serr := os.Stat(dir); serr == nil {
			// dir is there; something else is missing.
			return err
		}
	}
	return err
}

// RemoveEmptyParents removes dir and then each of its parents for as long as
// they are empty, stopping at (and never removing) stop. Directories that
// are not empty, or that vanish concurrently, end the walk without error.
func RemoveEmptyParents(dir, stop string) error {
	stop = filepath.Clean(stop)
	for dir = filepath.Clean(dir); dir != stop && strings.HasPrefix(dir, stop+string(filepath.Separator)); dir = filepath.Dir(dir) {
		err := os.Remove(dir)
		switch {
		case err == nil:
		case errors.Is(err, os.ErrNotExist):
		case errors.Is(err, syscall.ENOTEMPTY), errors.Is(err, syscall.EEXIST):
			return nil
		default:
			return err
		}
	}
	return nil
}

// ReadDirNames returns the names of the entries in dir, sorted. A missing
// directory yields no names and no error.
func ReadDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names, nil
}
