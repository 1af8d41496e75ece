// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package wal

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/komunikator/internal/eventbus"
	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/metrics"
)

const prefixPending = "pending:"

var (
	ErrClosed        = errors.New("outbox is closed")
	ErrNilEvent      = errors.New("event is nil")
	ErrEntryNotFound = errors.New("outbox entry not found")
)

// Config controls the outbox database.
type Config struct {
	Path       string
	InMemory   bool
	SyncWrites bool

	// MaxRetries is the number of failed publishes after which an entry
	// is dropped.
	MaxRetries int

	// EntryTTL bounds how long an unpublished entry is kept. Zero keeps
	// entries until they are confirmed or dropped.
	EntryTTL time.Duration

	// RetryBackoff is the wait after the first failed publish, doubled on
	// each further failure up to maxRetryBackoff. Zero retries on every
	// pass.
	RetryBackoff time.Duration
}

const maxRetryBackoff = 5 * time.Minute

// Entry is one unpublished event.
type Entry struct {
	ID            string          `json:"id"`
	Event         *eventbus.Event `json:"event"`
	CreatedAt     time.Time       `json:"created_at"`
	Attempts      int             `json:"attempts"`
	LastAttemptAt time.Time       `json:"last_attempt_at"`
	LastError     string          `json:"last_error,omitempty"`
}

// BadgerWAL persists events until the bus accepts them.
type BadgerWAL struct {
	db  *badger.DB
	cfg Config

	mu     sync.RWMutex
	closed bool

	// processing holds the ids currently being published so the retry
	// pass and a live publish never race on one entry.
	processing sync.Map
	pending    atomic.Int64

	now func() time.Time
}

// Open opens (or creates) the outbox and counts the entries left over from
// a previous run.
func Open(cfg Config) (*BadgerWAL, error) {
	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("outbox: max retries must be at least 1")
	}
	if !cfg.InMemory && cfg.Path == "" {
		return nil, fmt.Errorf("outbox: path is required")
	}
	if cfg.RetryBackoff < 0 {
		return nil, fmt.Errorf("outbox: retry backoff must not be negative")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open outbox: %w", err)
	}

	w := &BadgerWAL{db: db, cfg: cfg, now: time.Now}
	n, err := w.count()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	w.pending.Store(n)
	metrics.OutboxPending.Set(float64(n))

	where := cfg.Path
	if cfg.InMemory {
		where = "memory"
	}
	logging.Info().Str("path", where).Int64("pending", n).Msg("Event outbox opened")
	return w, nil
}

func (w *BadgerWAL) count() (int64, error) {
	var n int64
	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefixPending)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count outbox entries: %w", err)
	}
	return n, nil
}

func (w *BadgerWAL) isClosed() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.closed
}

func (w *BadgerWAL) adjustPending(delta int64) {
	metrics.OutboxPending.Set(float64(w.pending.Add(delta)))
}

func entryKey(id string) []byte {
	return []byte(prefixPending + id)
}

// Write stores ev under its event id.
func (w *BadgerWAL) Write(ctx context.Context, ev *eventbus.Event) (*Entry, error) {
	if w.isClosed() {
		return nil, ErrClosed
	}
	if ev == nil {
		return nil, ErrNilEvent
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:        ev.EventID,
		Event:     ev,
		CreatedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshal outbox entry: %w", err)
	}

	err = w.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry(entryKey(entry.ID), data)
		if w.cfg.EntryTTL > 0 {
			e = e.WithTTL(w.cfg.EntryTTL)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return nil, fmt.Errorf("write outbox entry: %w", err)
	}

	w.adjustPending(1)
	metrics.OutboxWrites.Inc()
	return entry, nil
}

// Confirm removes an entry the bus has accepted.
func (w *BadgerWAL) Confirm(ctx context.Context, id string) error {
	return w.remove(ctx, id)
}

func (w *BadgerWAL) remove(ctx context.Context, id string) error {
	if w.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := w.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(entryKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrEntryNotFound
			}
			return err
		}
		return txn.Delete(entryKey(id))
	})
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return err
		}
		return fmt.Errorf("delete outbox entry %s: %w", id, err)
	}
	w.adjustPending(-1)
	return nil
}

// Pending returns every unconfirmed entry, oldest first.
func (w *BadgerWAL) Pending(ctx context.Context) ([]*Entry, error) {
	if w.isClosed() {
		return nil, ErrClosed
	}

	var entries []*Entry
	err := w.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixPending)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("Skipping unreadable outbox entry")
				continue
			}
			entries = append(entries, &e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list outbox entries: %w", err)
	}

	slices.SortFunc(entries, func(a, b *Entry) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return entries, nil
}

// UpdateAttempt records a failed publish. The entry keeps its original
// expiry.
func (w *BadgerWAL) UpdateAttempt(ctx context.Context, id, lastError string) (*Entry, error) {
	if w.isClosed() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entry Entry
	err := w.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrEntryNotFound
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &entry)
		}); err != nil {
			return err
		}

		entry.Attempts++
		entry.LastAttemptAt = w.now().UTC()
		entry.LastError = lastError

		data, err := json.Marshal(&entry)
		if err != nil {
			return err
		}
		e := badger.NewEntry(entryKey(id), data)
		if exp := item.ExpiresAt(); exp > 0 {
			ttl := time.Until(time.Unix(int64(exp), 0))
			if ttl <= 0 {
				return txn.Delete(entryKey(id))
			}
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		if errors.Is(err, ErrEntryNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("update outbox entry %s: %w", id, err)
	}
	return &entry, nil
}

// Len is the number of pending entries as tracked since Open. Entries
// expired by TTL are only subtracted after the next Compact.
func (w *BadgerWAL) Len() int64 {
	return w.pending.Load()
}

// Compact reclaims value log space and resyncs the pending count with
// what is actually stored.
func (w *BadgerWAL) Compact(context.Context) error {
	if w.isClosed() {
		return ErrClosed
	}
	if !w.cfg.InMemory {
		for {
			if err := w.db.RunValueLogGC(0.5); err != nil {
				if !errors.Is(err, badger.ErrNoRewrite) {
					return fmt.Errorf("outbox value log gc: %w", err)
				}
				break
			}
		}
	}
	n, err := w.count()
	if err != nil {
		return err
	}
	w.pending.Store(n)
	metrics.OutboxPending.Set(float64(n))
	return nil
}

func (w *BadgerWAL) claim(id string) bool {
	_, loaded := w.processing.LoadOrStore(id, struct{}{})
	return !loaded
}

func (w *BadgerWAL) release(id string) {
	w.processing.Delete(id)
}

// Close closes the database. Pending entries survive a restart unless the
// outbox is in memory.
func (w *BadgerWAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if n := w.pending.Load(); n > 0 {
		logging.Warn().Int64("pending", n).Msg("Closing outbox with unpublished events")
	}
	return w.db.Close()
}
