// Copyright (c) 2025 AUTHORS All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package keylock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"
)

func TestReadersShare(t *testing.T) {
	m := New()
	const readers = 4
	var inside atomic.Int32
	all := make(chan struct{})

	var g errgroup.Group
	for range readers {
		g.Go(func() error {
			return m.Read(context.Background(), "sha256:a", func() error {
				if inside.Add(1) == readers {
					close(all)
				}
				select {
				case <-all:
					return nil
				case <-time.After(5 * time.Second):
					return errors.New("readers did not overlap")
				}
			})
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	if n := m.Len(); n != 0 {
		t.Fatalf("Len = %d after release, want 0", n)
	}
}

func TestWriterWaitsForReadersAndBlocksLaterReaders(t *testing.T) {
	m := New()
	ctx := context.Background()
	key := "sha256:b"

	readerIn := make(chan struct{})
	releaseReader := make(chan struct{})
	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}

	var g errgroup.Group
	g.Go(func() error {
		return m.Read(ctx, key, func() error {
			close(readerIn)
			<-releaseReader
			record("reader1")
			return nil
		})
	})
	<-readerIn

	writerQueued := make(chan struct{})
	g.Go(func() error {
		close(writerQueued)
		return m.Write(ctx, key, func() error {
			record("writer")
			return nil
		})
	})
	<-writerQueued
	waitForWaiters(t, m, key, 2)

	g.Go(func() error {
		return m.Read(ctx, key, func() error {
			record("reader2")
			return nil
		})
	})
	waitForWaiters(t, m, key, 3)

	close(releaseReader)
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	want := []string{"reader1", "writer", "reader2"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Fatalf("acquisition order mismatch (-want +got):\n%s", diff)
	}
	if n := m.Len(); n != 0 {
		t.Fatalf("Len = %d after release, want 0", n)
	}
}

// waitForWaiters polls until key has n holders and waiters.
func waitForWaiters(t *testing.T, m *Manager, key string, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		m.mu.Lock()
		e := m.locks[key]
		refs := 0
		if e != nil {
			refs = e.refs
		}
		m.mu.Unlock()
		if refs == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("key %q never reached %d holders", key, n)
}

func TestWriteCanceledWhileWaiting(t *testing.T) {
	m := New()
	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.Read(context.Background(), "k", func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := m.Write(ctx, "k", func() error {
		ran = true
		return nil
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Write = %v, want deadline exceeded", err)
	}
	if ran {
		t.Fatal("fn ran without the lock")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if n := m.Len(); n != 0 {
		t.Fatalf("Len = %d, want 0", n)
	}
}

func TestReleaseOnErrorAndPanic(t *testing.T) {
	m := New()
	boom := errors.New("boom")
	if err := m.Write(context.Background(), "k", func() error { return boom }); err != boom {
		t.Fatalf("Write = %v, want %v", err, boom)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic")
			}
		}()
		m.Write(context.Background(), "k", func() error { panic("boom") })
	}()

	// The key must be free again.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Write(ctx, "k", func() error { return nil }); err != nil {
		t.Fatalf("Write after panic: %v", err)
	}
	if n := m.Len(); n != 0 {
		t.Fatalf("Len = %d, want 0", n)
	}
}

func TestDistinctKeysIndependent(t *testing.T) {
	m := New()
	err := m.Write(context.Background(), "a", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return m.Write(ctx, "b", func() error {
			if n := m.Len(); n != 2 {
				t.Errorf("Len = %d, want 2", n)
			}
			return nil
		})
	})
	if err != nil {
		t.Fatal(err)
	}
}
