// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tomtom215/komunikator/internal/models"
)

const memoryBackend = "memory"

type memConversation struct {
	mu       sync.RWMutex
	conv     models.Conversation
	messages []*models.Message // messages[i].SequenceNumber == i+1
	byID     map[string]int    // message id -> index into messages
}

// MemoryStore is a Store held entirely in process memory. The map of
// conversations has its own lock; each conversation is locked separately.
type MemoryStore struct {
	mu     sync.RWMutex
	convs  map[models.ConversationKey]*memConversation
	byUser map[models.UserID]map[models.ConversationKey]struct{}
	closed bool
	now    func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs:  make(map[models.ConversationKey]*memConversation),
		byUser: make(map[models.UserID]map[models.ConversationKey]struct{}),
		now:    time.Now,
	}
}

func (s *MemoryStore) conversation(key models.ConversationKey, create bool) (*memConversation, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, models.Unavailable("memory store", ErrClosed)
	}
	c := s.convs[key]
	s.mu.RUnlock()
	if c != nil || !create {
		return c, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, models.Unavailable("memory store", ErrClosed)
	}
	if c = s.convs[key]; c != nil {
		return c, nil
	}
	c = &memConversation{
		conv: models.Conversation{Key: key, NextSequence: 1},
		byID: make(map[string]int),
	}
	s.convs[key] = c
	a, b := key.Participants()
	for _, u := range []models.UserID{a, b} {
		if s.byUser[u] == nil {
			s.byUser[u] = make(map[models.ConversationKey]struct{})
		}
		s.byUser[u][key] = struct{}{}
	}
	return c, nil
}

func (s *MemoryStore) Append(ctx context.Context, key models.ConversationKey, msg *models.Message) (stored *models.Message, duplicate bool, err error) {
	defer observe(memoryBackend, "append", time.Now(), &err)

	if err := validateAppend(key, msg); err != nil {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	c, err := s.conversation(key, true)
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if idx, ok := c.byID[msg.MessageID]; ok {
		return c.messages[idx].Clone(), true, nil
	}
	if msg.SequenceNumber != c.conv.NextSequence {
		return nil, false, conflict(key, msg.SequenceNumber, c.conv.NextSequence)
	}

	m := msg.Clone()
	m.CreatedAt = m.CreatedAt.UTC()
	c.messages = append(c.messages, m)
	c.byID[m.MessageID] = len(c.messages) - 1
	c.conv.NextSequence++
	c.conv.LastMessageAt = m.CreatedAt
	return m.Clone(), false, nil
}

func (s *MemoryStore) GetSince(ctx context.Context, key models.ConversationKey, after uint64, limit int) (out []*models.Message, err error) {
	defer observe(memoryBackend, "get_since", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.conversation(key, false)
	if err != nil || c == nil {
		return []*models.Message{}, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if after >= uint64(len(c.messages)) {
		return []*models.Message{}, nil
	}
	tail := c.messages[after:]
	if limit > 0 && len(tail) > limit {
		tail = tail[:limit]
	}
	out = make([]*models.Message, len(tail))
	for i, m := range tail {
		out[i] = m.Clone()
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, key models.ConversationKey, messageID string) (msg *models.Message, err error) {
	defer observe(memoryBackend, "get", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c, err := s.conversation(key, false)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, models.ErrMessageNotFound
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	idx, ok := c.byID[messageID]
	if !ok {
		return nil, models.ErrMessageNotFound
	}
	return c.messages[idx].Clone(), nil
}

func (s *MemoryStore) MarkDelivered(ctx context.Context, key models.ConversationKey, messageID string) (msg *models.Message, changed bool, err error) {
	defer observe(memoryBackend, "mark_delivered", time.Now(), &err)
	return s.advance(ctx, key, messageID, models.StateDelivered)
}

func (s *MemoryStore) MarkRead(ctx context.Context, key models.ConversationKey, messageID string) (msg *models.Message, changed bool, err error) {
	defer observe(memoryBackend, "mark_read", time.Now(), &err)
	return s.advance(ctx, key, messageID, models.StateRead)
}

func (s *MemoryStore) advance(ctx context.Context, key models.ConversationKey, messageID string, target models.DeliveryState) (*models.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	c, err := s.conversation(key, false)
	if err != nil {
		return nil, false, err
	}
	if c == nil {
		return nil, false, models.ErrMessageNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.byID[messageID]
	if !ok {
		return nil, false, models.ErrMessageNotFound
	}
	m := c.messages[idx]
	changed := m.Advance(target, s.now())
	return m.Clone(), changed, nil
}

func (s *MemoryStore) LastSequence(ctx context.Context, key models.ConversationKey) (seq uint64, err error) {
	defer observe(memoryBackend, "last_sequence", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c, err := s.conversation(key, false)
	if err != nil || c == nil {
		return 0, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conv.LastSequence(), nil
}

func (s *MemoryStore) Conversations(ctx context.Context, userID models.UserID) (out []models.Conversation, err error) {
	defer observe(memoryBackend, "conversations", time.Now(), &err)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, models.Unavailable("memory store", ErrClosed)
	}
	convs := make([]*memConversation, 0, len(s.byUser[userID]))
	for key := range s.byUser[userID] {
		convs = append(convs, s.convs[key])
	}
	s.mu.RUnlock()

	out = make([]models.Conversation, 0, len(convs))
	for _, c := range convs {
		c.mu.RLock()
		if len(c.messages) > 0 {
			out = append(out, c.conv)
		}
		c.mu.RUnlock()
	}
	sortConversations(out)
	return out, nil
}

// sortConversations orders newest activity first, then by key.
func sortConversations(convs []models.Conversation) {
	sort.Slice(convs, func(i, j int) bool {
		if !convs[i].LastMessageAt.Equal(convs[j].LastMessageAt) {
			return convs[i].LastMessageAt.After(convs[j].LastMessageAt)
		}
		return convs[i].Key < convs[j].Key
	})
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return models.Unavailable("memory store", ErrClosed)
	}
	return ctx.Err()
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MemoryStore)(nil)
