// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/tomtom215/komunikator/internal/eventbus"
	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/metrics"
	"github.com/tomtom215/komunikator/internal/models"
	"github.com/tomtom215/komunikator/internal/sequence"
	"github.com/tomtom215/komunikator/internal/session"
	"github.com/tomtom215/komunikator/internal/store"
	"github.com/tomtom215/komunikator/internal/validation"
)

const publishTimeout = 5 * time.Second

// UserDirectory answers whether a user exists.
type UserDirectory interface {
	UserExists(ctx context.Context, id models.UserID) (bool, error)
}

// SessionLookup finds a user's live connection.
type SessionLookup interface {
	Lookup(userID models.UserID) (session.Handle, bool)
}

// Publisher receives lifecycle events. Failures are logged, never returned.
type Publisher interface {
	Publish(ctx context.Context, ev *eventbus.Event) error
}

// Config tunes the pipeline.
type Config struct {
	AckTimeout       time.Duration
	MaxContentLength int
	SyncPageLimit    int
}

// SendRequest is one message submitted by an authenticated sender.
type SendRequest struct {
	SenderID   models.UserID `json:"sender_id" validate:"required,userid"`
	ReceiverID models.UserID `json:"receiver_id" validate:"required,userid,nefield=SenderID"`
	MessageID  string        `json:"message_id" validate:"required,max=128"`
	Content    string        `json:"content" validate:"required"`
}

// Pipeline is the delivery pipeline. Create with New.
type Pipeline struct {
	cfg      Config
	store    store.Store
	coord    *sequence.Coordinator
	sessions SessionLookup
	users    UserDirectory
	events   Publisher
	acks     *ackTracker
	now      func() time.Time

	// ctx is cancelled by Close to release every ack waiter.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// New wires a pipeline. events may be nil.
func New(cfg Config, st store.Store, coord *sequence.Coordinator, sessions SessionLookup, users UserDirectory, events Publisher) *Pipeline {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 15 * time.Second
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = 4096
	}
	if cfg.SyncPageLimit <= 0 {
		cfg.SyncPageLimit = 500
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		cfg:      cfg,
		store:    st,
		coord:    coord,
		sessions: sessions,
		users:    users,
		events:   events,
		acks:     newAckTracker(),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// enter registers a call with the shutdown wait group.
func (p *Pipeline) enter() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return models.ErrShuttingDown
	}
	p.wg.Add(1)
	return nil
}

// Send accepts a message. It returns the stored message and whether it was
// a retry of an already accepted one. A recipient being offline is not an
// error.
func (p *Pipeline) Send(ctx context.Context, req SendRequest) (msg *models.Message, duplicate bool, err error) {
	if err := p.enter(); err != nil {
		return nil, false, err
	}
	defer p.wg.Done()
	defer func() {
		if err != nil {
			metrics.RecordSendRejected(err)
		}
	}()

	if err := p.validate(req); err != nil {
		return nil, false, err
	}
	exists, err := p.users.UserExists(ctx, req.ReceiverID)
	if err != nil {
		return nil, false, fmt.Errorf("check recipient: %w", err)
	}
	if !exists {
		return nil, false, models.ErrRecipientUnknown
	}

	key, err := models.NewConversationKey(req.SenderID, req.ReceiverID)
	if err != nil {
		return nil, false, err
	}

	stored, duplicate, err := p.appendWithRetry(ctx, key, req)
	if err != nil {
		return nil, false, err
	}

	log := logging.Ctx(ctx).With().
		Str("conversation_key", string(key)).
		Str("message_id", stored.MessageID).
		Uint64("sequence", stored.SequenceNumber).
		Logger()

	if duplicate {
		if stored.SenderID != req.SenderID {
			return nil, false, models.NewValidationError("message_id", "already used in this conversation")
		}
		metrics.MessagesDuplicate.Inc()
		log.Debug().Msg("Duplicate send, returning stored message")
		return stored, true, nil
	}

	metrics.MessagesAccepted.Inc()
	log.Debug().Msg("Message accepted")

	p.deliver(stored)
	p.publish(eventbus.EventMessageAccepted, stored)
	return stored, false, nil
}

func (p *Pipeline) validate(req SendRequest) error {
	if err := validation.Validate(&req); err != nil {
		return err
	}
	if n := utf8.RuneCountInString(req.Content); n > p.cfg.MaxContentLength {
		return models.NewValidationError("content", fmt.Sprintf("exceeds %d characters", p.cfg.MaxContentLength))
	}
	if !utf8.ValidString(req.Content) {
		return models.NewValidationError("content", "must be valid UTF-8")
	}
	return nil
}

// appendWithRetry runs the append under the conversation's sequence lock.
// A sequence conflict means the cached counter was stale; the coordinator
// has dropped it, so one retry reseeds from the store.
func (p *Pipeline) appendWithRetry(ctx context.Context, key models.ConversationKey, req SendRequest) (*models.Message, bool, error) {
	const attempts = 2
	var lastErr error
	for i := 0; i < attempts; i++ {
		var (
			stored    *models.Message
			duplicate bool
		)
		_, err := p.coord.NextSequence(ctx, key, func(seq uint64) (bool, error) {
			m := &models.Message{
				MessageID:       req.MessageID,
				ConversationKey: key,
				SequenceNumber:  seq,
				SenderID:        req.SenderID,
				ReceiverID:      req.ReceiverID,
				Content:         req.Content,
				CreatedAt:       p.now().UTC(),
				DeliveryState:   models.StatePending,
			}
			s, dup, err := p.store.Append(ctx, key, m)
			if err != nil {
				return false, err
			}
			stored, duplicate = s, dup
			return !dup, nil
		})
		if err == nil {
			return stored, duplicate, nil
		}
		if !errors.Is(err, store.ErrSequenceConflict) {
			return nil, false, err
		}
		lastErr = err
		logging.Warn().Err(err).Str("conversation_key", string(key)).Msg("Sequence conflict, reseeding counter")
	}
	return nil, false, models.Unavailable("append", lastErr)
}

// deliver pushes m to an online recipient and starts its ack waiter.
func (p *Pipeline) deliver(m *models.Message) {
	h, ok := p.sessions.Lookup(m.ReceiverID)
	if !ok {
		metrics.RecordPush(metrics.PushOffline, 0)
		return
	}

	// register before pushing so a fast ack finds its waiter
	w := p.acks.add(m.ReceiverID, m.ConversationKey, m.MessageID, p.now())
	if err := h.PushMessage(m); err != nil {
		p.acks.remove(w)
		metrics.RecordPush(metrics.PushFailed, 0)
		logging.Debug().Err(err).
			Str("user_id", string(m.ReceiverID)).
			Str("message_id", m.MessageID).
			Msg("Push failed, message left pending")
		return
	}

	p.wg.Add(1)
	metrics.PendingAcks.Inc()
	go p.awaitAck(h, w)
}

func (p *Pipeline) awaitAck(h session.Handle, w *waiter) {
	defer p.wg.Done()
	defer metrics.PendingAcks.Dec()

	timer := time.NewTimer(p.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case <-w.acked:
		metrics.RecordPush(metrics.PushAcked, p.now().Sub(w.pushedAt))
		return
	case <-timer.C:
		metrics.RecordPush(metrics.PushTimeout, 0)
		logging.Debug().
			Str("user_id", string(w.receiver)).
			Str("message_id", w.messageID).
			Dur("timeout", p.cfg.AckTimeout).
			Msg("Delivery timeout, message left pending")
	case <-h.Done():
		metrics.RecordPush(metrics.PushClosed, 0)
	case <-p.ctx.Done():
		metrics.RecordPush(metrics.PushClosed, 0)
	}
	p.acks.remove(w)
}

// Ack marks a message Delivered on behalf of its recipient. key may be
// empty when the message was pushed and is still awaiting its ack.
func (p *Pipeline) Ack(ctx context.Context, userID models.UserID, key models.ConversationKey, messageID string) (*models.Message, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.wg.Done()

	if key == "" && messageID != "" {
		k, ok := p.acks.lookup(userID, messageID)
		if !ok {
			return nil, models.NewValidationError("conversation_key", "required for messages that are not awaiting an ack")
		}
		key = k
	}
	if _, err := p.recipientMessage(ctx, userID, key, messageID); err != nil {
		return nil, err
	}

	m, err := p.advance(ctx, key, messageID, models.StateDelivered)
	if err != nil {
		return nil, err
	}
	p.acks.ack(userID, key, messageID)
	return m, nil
}

// MarkRead marks a message Read on behalf of its recipient.
func (p *Pipeline) MarkRead(ctx context.Context, userID models.UserID, key models.ConversationKey, messageID string) (*models.Message, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.wg.Done()

	if _, err := p.recipientMessage(ctx, userID, key, messageID); err != nil {
		return nil, err
	}

	m, err := p.advance(ctx, key, messageID, models.StateRead)
	if err != nil {
		return nil, err
	}
	// reading implies the push arrived
	p.acks.ack(userID, key, messageID)
	return m, nil
}

// recipientMessage loads the message and checks userID is its receiver.
func (p *Pipeline) recipientMessage(ctx context.Context, userID models.UserID, key models.ConversationKey, messageID string) (*models.Message, error) {
	if messageID == "" {
		return nil, models.NewValidationError("message_id", "required")
	}
	if _, err := models.ParseConversationKey(string(key)); err != nil {
		return nil, err
	}
	if !key.Includes(userID) {
		return nil, models.ErrNotParticipant
	}
	m, err := p.store.Get(ctx, key, messageID)
	if err != nil {
		return nil, err
	}
	if m.ReceiverID != userID {
		return nil, fmt.Errorf("only the recipient can mark a message: %w", models.ErrNotParticipant)
	}
	return m, nil
}

func (p *Pipeline) advance(ctx context.Context, key models.ConversationKey, messageID string, target models.DeliveryState) (*models.Message, error) {
	var (
		m       *models.Message
		changed bool
		err     error
	)
	if target == models.StateRead {
		m, changed, err = p.store.MarkRead(ctx, key, messageID)
	} else {
		m, changed, err = p.store.MarkDelivered(ctx, key, messageID)
	}
	if err != nil {
		return nil, err
	}
	if !changed {
		return m, nil
	}

	metrics.RecordTransition(m.DeliveryState)
	if target == models.StateRead {
		p.publish(eventbus.EventMessageRead, m)
	} else {
		p.publish(eventbus.EventMessageDelivered, m)
	}
	return m, nil
}

// SyncPage is one page of a conversation's history.
type SyncPage struct {
	Messages []*models.Message

	// Limit is the page size actually applied.
	Limit   int
	HasMore bool

	// NextAfter is the afterSequence of the following page.
	NextAfter uint64
}

// Sync returns the messages of key after afterSequence, at most limit of
// them (capped by the configured page limit).
func (p *Pipeline) Sync(ctx context.Context, userID models.UserID, key models.ConversationKey, afterSequence uint64, limit int) (*SyncPage, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.wg.Done()

	if _, err := models.ParseConversationKey(string(key)); err != nil {
		return nil, err
	}
	if !key.Includes(userID) {
		return nil, models.ErrNotParticipant
	}
	if limit <= 0 || limit > p.cfg.SyncPageLimit {
		limit = p.cfg.SyncPageLimit
	}

	// one extra row tells a full page from the end of the backlog
	msgs, err := p.store.GetSince(ctx, key, afterSequence, limit+1)
	if err != nil {
		return nil, err
	}
	page := &SyncPage{Messages: msgs, Limit: limit, NextAfter: afterSequence}
	if len(msgs) > limit {
		page.Messages = msgs[:limit]
		page.HasMore = true
	}
	if page.Messages == nil {
		page.Messages = []*models.Message{}
	}
	if n := len(page.Messages); n > 0 {
		page.NextAfter = page.Messages[n-1].SequenceNumber
	}
	return page, nil
}

// Conversations lists userID's conversations, most recent first.
func (p *Pipeline) Conversations(ctx context.Context, userID models.UserID) ([]models.Conversation, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.wg.Done()
	return p.store.Conversations(ctx, userID)
}

// PendingAcks returns the number of pushes awaiting an ack.
func (p *Pipeline) PendingAcks() int {
	return p.acks.count()
}

func (p *Pipeline) publish(t eventbus.EventType, m *models.Message) {
	if p.events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.events.Publish(ctx, eventbus.NewMessageEvent(t, m)); err != nil {
		logging.Warn().Err(err).
			Str("event", string(t)).
			Str("message_id", m.MessageID).
			Msg("Event publish failed")
	}
}

// Close stops accepting work, releases ack waiters, waits for calls in
// progress and then drains the sequence coordinator.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("delivery pipeline: %w", ctx.Err())
	}
	return p.coord.Close(ctx)
}
