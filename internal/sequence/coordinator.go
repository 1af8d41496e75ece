// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package sequence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/komunikator/internal/cache"
	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/metrics"
	"github.com/tomtom215/komunikator/internal/models"
)

// Source reports the last durable sequence of a conversation.
type Source interface {
	LastSequence(ctx context.Context, key models.ConversationKey) (uint64, error)
}

// PersistFunc stores a message under seq. consumed is false when nothing
// was written, for example because the message was a duplicate.
type PersistFunc func(seq uint64) (consumed bool, err error)

// Config bounds the counter cache.
type Config struct {
	CacheSize int
	CacheTTL  time.Duration
}

// keyLock is a one-slot semaphore so waiters can give up on ctx.
type keyLock struct {
	sem  chan struct{}
	refs int
}

// Coordinator serializes sequence assignment per conversation.
type Coordinator struct {
	source   Source
	counters *cache.LRU[models.ConversationKey, uint64]

	mu       sync.Mutex
	locks    map[models.ConversationKey]*keyLock
	closed   bool
	inflight sync.WaitGroup
}

// NewCoordinator creates a Coordinator seeding counters from source.
func NewCoordinator(source Source, cfg Config) *Coordinator {
	return &Coordinator{
		source:   source,
		counters: cache.NewLRU[models.ConversationKey, uint64](cfg.CacheSize, cfg.CacheTTL),
		locks:    make(map[models.ConversationKey]*keyLock),
	}
}

// NextSequence runs persist with the next sequence number of key while
// holding the conversation's lock. It returns the number persist consumed,
// or 0 when persist declined it. On error the cached counter is dropped and
// reloaded from the Source on the next call.
func (c *Coordinator) NextSequence(ctx context.Context, key models.ConversationKey, persist PersistFunc) (uint64, error) {
	l, err := c.acquire(key)
	if err != nil {
		return 0, err
	}
	defer c.release(key, l)

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	defer func() { <-l.sem }()

	last, err := c.current(ctx, key)
	if err != nil {
		return 0, err
	}
	seq := last + 1

	consumed, err := persist(seq)
	if err != nil {
		c.counters.Remove(key)
		return 0, err
	}
	if !consumed {
		return 0, nil
	}
	c.counters.Put(key, seq)
	return seq, nil
}

func (c *Coordinator) current(ctx context.Context, key models.ConversationKey) (uint64, error) {
	if last, ok := c.counters.Get(key); ok {
		metrics.CounterCacheLookups.WithLabelValues("hit").Inc()
		return last, nil
	}
	metrics.CounterCacheLookups.WithLabelValues("miss").Inc()

	last, err := c.source.LastSequence(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("seed counter for %s: %w", key, err)
	}
	c.counters.Put(key, last)
	return last, nil
}

func (c *Coordinator) acquire(key models.ConversationKey) (*keyLock, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, models.ErrShuttingDown
	}
	l := c.locks[key]
	if l == nil {
		l = &keyLock{sem: make(chan struct{}, 1)}
		c.locks[key] = l
	}
	l.refs++
	c.inflight.Add(1)
	return l, nil
}

func (c *Coordinator) release(key models.ConversationKey, l *keyLock) {
	c.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(c.locks, key)
	}
	c.mu.Unlock()
	c.inflight.Done()
}

// ActiveKeys returns how many conversations currently hold or wait for a lock.
func (c *Coordinator) ActiveKeys() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.locks)
}

// CacheStats exposes the counter cache counters.
func (c *Coordinator) CacheStats() cache.Stats {
	return c.counters.Stats()
}

// Close rejects new work with models.ErrShuttingDown and waits for calls in
// progress to return, or for ctx to end.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Debug().Msg("Sequence coordinator drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sequence coordinator: %w", ctx.Err())
	}
}
