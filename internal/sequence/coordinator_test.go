// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package sequence

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/models"
)

func init() {
	logging.SetOutput(io.Discard)
}

type fakeSource struct {
	mu    sync.Mutex
	last  map[models.ConversationKey]uint64
	calls atomic.Int32
	err   error
}

func newFakeSource() *fakeSource {
	return &fakeSource{last: make(map[models.ConversationKey]uint64)}
}

func (f *fakeSource) LastSequence(_ context.Context, key models.ConversationKey) (uint64, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return f.last[key], nil
}

// commit is a PersistFunc that records seq as durable.
func (f *fakeSource) commit(key models.ConversationKey) PersistFunc {
	return func(seq uint64) (bool, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if seq != f.last[key]+1 {
			return false, errors.New("gap")
		}
		f.last[key] = seq
		return true, nil
	}
}

func TestNextSequence_Sequential(t *testing.T) {
	src := newFakeSource()
	c := NewCoordinator(src, Config{CacheSize: 10})
	ctx := context.Background()

	for want := uint64(1); want <= 5; want++ {
		got, err := c.NextSequence(ctx, "a:b", src.commit("a:b"))
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("got %d, want %d", got, want)
		}
	}
	if n := src.calls.Load(); n != 1 {
		t.Errorf("source consulted %d times, want 1 (then cached)", n)
	}
	if c.ActiveKeys() != 0 {
		t.Errorf("lock map not cleaned: %d", c.ActiveKeys())
	}
}

func TestNextSequence_SeedsFromSource(t *testing.T) {
	src := newFakeSource()
	src.last["a:b"] = 41
	c := NewCoordinator(src, Config{})

	got, err := c.NextSequence(context.Background(), "a:b", src.commit("a:b"))
	if err != nil || got != 42 {
		t.Fatalf("got %d, %v; want 42", got, err)
	}
}

func TestNextSequence_ConcurrentSameKey(t *testing.T) {
	src := newFakeSource()
	c := NewCoordinator(src, Config{CacheSize: 10})

	const n = 64
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seqs []uint64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seq, err := c.NextSequence(context.Background(), "a:b", src.commit("a:b"))
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			seqs = append(seqs, seq)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	if len(seqs) != n {
		t.Fatalf("got %d sequences", len(seqs))
	}
	for i, s := range seqs {
		if s != uint64(i+1) {
			t.Fatalf("sequences not contiguous at %d: %d", i, s)
		}
	}
}

func TestNextSequence_PersistFailureRollsBack(t *testing.T) {
	src := newFakeSource()
	c := NewCoordinator(src, Config{})
	ctx := context.Background()
	boom := errors.New("disk on fire")

	if _, err := c.NextSequence(ctx, "a:b", src.commit("a:b")); err != nil {
		t.Fatal(err)
	}
	_, err := c.NextSequence(ctx, "a:b", func(uint64) (bool, error) { return false, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want %v", err, boom)
	}

	got, err := c.NextSequence(ctx, "a:b", src.commit("a:b"))
	if err != nil || got != 2 {
		t.Fatalf("after failure got %d, %v; want 2", got, err)
	}
	if n := src.calls.Load(); n != 2 {
		t.Errorf("counter should be reseeded after failure, source calls = %d", n)
	}
}

func TestNextSequence_DeclinedDoesNotAdvance(t *testing.T) {
	src := newFakeSource()
	c := NewCoordinator(src, Config{})
	ctx := context.Background()

	got, err := c.NextSequence(ctx, "a:b", func(seq uint64) (bool, error) {
		if seq != 1 {
			t.Errorf("offered %d, want 1", seq)
		}
		return false, nil
	})
	if err != nil || got != 0 {
		t.Fatalf("declined: got %d, %v", got, err)
	}
	if got, _ := c.NextSequence(ctx, "a:b", src.commit("a:b")); got != 1 {
		t.Errorf("after decline got %d, want 1", got)
	}
}

func TestNextSequence_SourceError(t *testing.T) {
	src := newFakeSource()
	src.err = models.Unavailable("last sequence", errors.New("down"))
	c := NewCoordinator(src, Config{})

	called := false
	_, err := c.NextSequence(context.Background(), "a:b", func(uint64) (bool, error) {
		called = true
		return true, nil
	})
	if !errors.Is(err, models.ErrStorageUnavailable) {
		t.Fatalf("got %v", err)
	}
	if called {
		t.Error("persist must not run without a seeded counter")
	}
}

func TestNextSequence_IndependentKeys(t *testing.T) {
	src := newFakeSource()
	c := NewCoordinator(src, Config{})
	ctx := context.Background()

	entered := make(chan struct{})
	unblock := make(chan struct{})
	go func() {
		_, _ = c.NextSequence(ctx, "a:b", func(uint64) (bool, error) {
			close(entered)
			<-unblock
			return true, nil
		})
	}()
	<-entered
	defer close(unblock)

	done := make(chan uint64, 1)
	go func() {
		seq, _ := c.NextSequence(ctx, "c:d", src.commit("c:d"))
		done <- seq
	}()
	select {
	case seq := <-done:
		if seq != 1 {
			t.Errorf("got %d", seq)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unrelated conversation blocked behind a:b")
	}
}

func TestNextSequence_WaiterHonoursContext(t *testing.T) {
	src := newFakeSource()
	c := NewCoordinator(src, Config{})

	entered := make(chan struct{})
	unblock := make(chan struct{})
	go func() {
		_, _ = c.NextSequence(context.Background(), "a:b", func(uint64) (bool, error) {
			close(entered)
			<-unblock
			return true, nil
		})
	}()
	<-entered
	defer close(unblock)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.NextSequence(ctx, "a:b", src.commit("a:b"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
}

func TestClose_DrainsAndRejects(t *testing.T) {
	src := newFakeSource()
	c := NewCoordinator(src, Config{})

	entered := make(chan struct{})
	unblock := make(chan struct{})
	var finished atomic.Bool
	go func() {
		_, _ = c.NextSequence(context.Background(), "a:b", func(uint64) (bool, error) {
			close(entered)
			<-unblock
			finished.Store(true)
			return true, nil
		})
	}()
	<-entered

	closed := make(chan error, 1)
	go func() { closed <- c.Close(context.Background()) }()

	// new work is refused while the in-flight call drains
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, err := c.NextSequence(context.Background(), "c:d", src.commit("c:d"))
		if errors.Is(err, models.ErrShuttingDown) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("coordinator kept accepting work after Close")
		}
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case <-closed:
		t.Fatal("Close returned before in-flight persist finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(unblock)
	if err := <-closed; err != nil {
		t.Fatal(err)
	}
	if !finished.Load() {
		t.Error("in-flight persist did not complete")
	}
}

func TestClose_Timeout(t *testing.T) {
	src := newFakeSource()
	c := NewCoordinator(src, Config{})

	entered := make(chan struct{})
	unblock := make(chan struct{})
	go func() {
		_, _ = c.NextSequence(context.Background(), "a:b", func(uint64) (bool, error) {
			close(entered)
			<-unblock
			return true, nil
		})
	}()
	<-entered
	defer close(unblock)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := c.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v", err)
	}
}
