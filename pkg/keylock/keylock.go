// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package keylock provides reader/writer locks addressed by string keys.
//
// Locks are created on first use and dropped from the table as soon as no
// goroutine holds or waits for them, so the table only ever contains keys
// that are in use. Every acquirer of a key contends on the same lock
// instance: an entry is counted from the moment an acquirer finds it until
// that acquirer releases, and entries are only removed under the table mutex
// once that count is zero.
package keylock

import (
	"context"
	"math"
	"sync"

	"golang.org/x/sync/semaphore"
	"tailscale.com/util/mak"
)

// writerWeight is the semaphore weight a writer takes. Readers take 1, so a
// writer excludes every reader and every other writer.
const writerWeight = math.MaxInt64

type entry struct {
	sem  *semaphore.Weighted
	refs int // holders and waiters, guarded by Manager.mu
}

// Manager is a table of keyed reader/writer locks. The zero value is ready to
// use.
//
// Waiters are served in arrival order: a reader that arrives while a writer
// holds or waits for the key blocks until that writer is done.
type Manager struct {
	mu    sync.Mutex
	locks map[string]*entry
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{}
}

// Read runs fn while holding key's lock in shared mode.
func (m *Manager) Read(ctx context.Context, key string, fn func() error) error {
	return m.with(ctx, key, 1, fn)
}

// Write runs fn while holding key's lock exclusively.
func (m *Manager) Write(ctx context.Context, key string, fn func() error) error {
	return m.with(ctx, key, writerWeight, fn)
}

// with acquires key with weight w, runs fn, and releases on every way out of
// fn, panics included. If ctx ends before the lock is acquired, fn does not
// run and ctx's error is returned.
func (m *Manager) with(ctx context.Context, key string, w int64, fn func() error) error {
	e := m.ref(key)
	if err := e.sem.Acquire(ctx, w); err != nil {
		m.unref(key, e)
		return err
	}
	defer func() {
		e.sem.Release(w)
		m.unref(key, e)
	}()
	return fn()
}

func (m *Manager) ref(key string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.locks[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(writerWeight)}
		mak.Set(&m.locks, key, e)
	}
	e.refs++
	return e
}

func (m *Manager) unref(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 && m.locks[key] == e {
		delete(m.locks, key)
	}
}

// Len reports how many keys currently have a lock entry.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
