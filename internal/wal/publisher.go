// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package wal

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/komunikator/internal/eventbus"
	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/metrics"
)

// Publisher is the bus the outbox drains into.
type Publisher interface {
	Publish(ctx context.Context, ev *eventbus.Event) error
}

// DurablePublisher writes each event to the outbox before publishing it.
type DurablePublisher struct {
	wal  *BadgerWAL
	next Publisher
}

// NewDurablePublisher wraps next with w.
func NewDurablePublisher(w *BadgerWAL, next Publisher) *DurablePublisher {
	return &DurablePublisher{wal: w, next: next}
}

// Publish returns nil once the event is safely in the outbox, even if the
// bus rejected it; the retry pass picks it up later. When the outbox itself
// cannot be written the event is published directly and the bus error, if
// any, is returned.
func (p *DurablePublisher) Publish(ctx context.Context, ev *eventbus.Event) error {
	if ev == nil {
		return ErrNilEvent
	}
	if !p.wal.claim(ev.EventID) {
		return nil
	}
	defer p.wal.release(ev.EventID)

	if _, err := p.wal.Write(ctx, ev); err != nil {
		logging.Warn().Err(err).Str("event_id", ev.EventID).Msg("Outbox write failed, publishing directly")
		return p.next.Publish(ctx, ev)
	}

	if err := p.next.Publish(ctx, ev); err != nil {
		// The caller's context may already be gone; the attempt is still
		// worth recording.
		bg := context.WithoutCancel(ctx)
		if _, uerr := p.wal.UpdateAttempt(bg, ev.EventID, err.Error()); uerr != nil {
			logging.Warn().Err(uerr).Str("event_id", ev.EventID).Msg("Failed to record publish attempt")
		}
		logging.Warn().Err(err).
			Str("event_id", ev.EventID).
			Str("type", string(ev.Type)).
			Msg("Event kept in outbox for retry")
		return nil
	}

	if err := p.wal.Confirm(context.WithoutCancel(ctx), ev.EventID); err != nil {
		logging.Warn().Err(err).Str("event_id", ev.EventID).Msg("Failed to confirm outbox entry")
	}
	return nil
}

// RetryResult summarizes one retry pass.
type RetryResult struct {
	Published int
	Failed    int
	Dropped   int
	Skipped   int

	// Deferred counts entries still inside their backoff window.
	Deferred int
	Duration time.Duration
}

// backoff is how long an entry that failed attempts times waits before the
// next publish: RetryBackoff * 2^(attempts-1), capped at maxRetryBackoff.
func (w *BadgerWAL) backoff(attempts int) time.Duration {
	base := w.cfg.RetryBackoff
	if base <= 0 || attempts <= 0 {
		return 0
	}
	if attempts > 30 {
		return maxRetryBackoff
	}
	d := base << (attempts - 1)
	if d <= 0 || d > maxRetryBackoff {
		return maxRetryBackoff
	}
	return d
}

func (w *BadgerWAL) due(e *Entry) bool {
	if e.LastAttemptAt.IsZero() {
		return true
	}
	return w.now().Sub(e.LastAttemptAt) >= w.backoff(e.Attempts)
}

// RetryPending publishes every pending entry through pub. Entries that have
// already failed MaxRetries times are dropped. Entries a live Publish is
// still working on are skipped, and entries whose backoff has not elapsed
// are left for a later pass.
func (w *BadgerWAL) RetryPending(ctx context.Context, pub Publisher) (RetryResult, error) {
	start := time.Now()
	var res RetryResult

	entries, err := w.Pending(ctx)
	if err != nil {
		return res, err
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		if e.Attempts < w.cfg.MaxRetries && !w.due(e) {
			res.Deferred++
			continue
		}
		if !w.claim(e.ID) {
			res.Skipped++
			continue
		}
		w.retryEntry(ctx, pub, e, &res)
		w.release(e.ID)
	}

	res.Duration = time.Since(start)
	if res.Published+res.Failed+res.Dropped > 0 {
		logging.Info().
			Int("published", res.Published).
			Int("failed", res.Failed).
			Int("dropped", res.Dropped).
			Int("skipped", res.Skipped).
			Int("deferred", res.Deferred).
			Dur("duration", res.Duration).
			Msg("Outbox retry pass finished")
	}
	return res, ctx.Err()
}

func (w *BadgerWAL) retryEntry(ctx context.Context, pub Publisher, e *Entry, res *RetryResult) {
	if e.Attempts >= w.cfg.MaxRetries {
		if err := w.remove(ctx, e.ID); err != nil && !errors.Is(err, ErrEntryNotFound) {
			logging.Warn().Err(err).Str("event_id", e.ID).Msg("Failed to drop outbox entry")
			return
		}
		res.Dropped++
		metrics.OutboxRetries.WithLabelValues("dropped").Inc()
		logging.Error().
			Str("event_id", e.ID).
			Int("attempts", e.Attempts).
			Str("last_error", e.LastError).
			Msg("Dropping event after max publish attempts")
		return
	}

	if err := pub.Publish(ctx, e.Event); err != nil {
		res.Failed++
		metrics.OutboxRetries.WithLabelValues("failed").Inc()
		if _, uerr := w.UpdateAttempt(ctx, e.ID, err.Error()); uerr != nil && !errors.Is(uerr, ErrEntryNotFound) {
			logging.Warn().Err(uerr).Str("event_id", e.ID).Msg("Failed to record publish attempt")
		}
		return
	}

	res.Published++
	metrics.OutboxRetries.WithLabelValues("published").Inc()
	if err := w.Confirm(ctx, e.ID); err != nil && !errors.Is(err, ErrEntryNotFound) {
		logging.Warn().Err(err).Str("event_id", e.ID).Msg("Failed to confirm outbox entry")
	}
}
