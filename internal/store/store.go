// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/komunikator/internal/metrics"
	"github.com/tomtom215/komunikator/internal/models"
)

var (
	// ErrSequenceConflict is returned by Append when the proposed sequence
	// number is not the conversation's next one.
	ErrSequenceConflict = errors.New("sequence number conflict")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// Store is the message log contract shared by every backend.
type Store interface {
	// Append stores msg under key. msg.SequenceNumber must equal the
	// conversation's next sequence. When msg.MessageID already exists in
	// the conversation the stored message is returned with duplicate=true
	// and nothing changes.
	Append(ctx context.Context, key models.ConversationKey, msg *models.Message) (stored *models.Message, duplicate bool, err error)

	// GetSince returns messages with SequenceNumber > after in ascending
	// order. limit <= 0 returns everything.
	GetSince(ctx context.Context, key models.ConversationKey, after uint64, limit int) ([]*models.Message, error)

	// Get returns one message, or models.ErrMessageNotFound.
	Get(ctx context.Context, key models.ConversationKey, messageID string) (*models.Message, error)

	// MarkDelivered moves a Pending message to Delivered. changed is false
	// when the message was already Delivered or Read.
	MarkDelivered(ctx context.Context, key models.ConversationKey, messageID string) (msg *models.Message, changed bool, err error)

	// MarkRead moves a message to Read. changed is false when it already was.
	MarkRead(ctx context.Context, key models.ConversationKey, messageID string) (msg *models.Message, changed bool, err error)

	// LastSequence returns the highest accepted sequence number, 0 for an
	// unknown conversation.
	LastSequence(ctx context.Context, key models.ConversationKey) (uint64, error)

	// Conversations lists the conversations userID takes part in, most
	// recently active first.
	Conversations(ctx context.Context, userID models.UserID) ([]models.Conversation, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	Close() error
}

func validateAppend(key models.ConversationKey, msg *models.Message) error {
	if msg == nil {
		return models.NewValidationError("message", "required")
	}
	if msg.ConversationKey != key {
		return models.NewValidationError("conversation_key", "does not match message")
	}
	if msg.MessageID == "" {
		return models.NewValidationError("message_id", "required")
	}
	if msg.SequenceNumber == 0 {
		return models.NewValidationError("sequence_number", "must be positive")
	}
	if !key.Includes(msg.SenderID) || !key.Includes(msg.ReceiverID) || msg.SenderID == msg.ReceiverID {
		return models.NewValidationError("conversation_key", "sender and receiver must be the two participants")
	}
	return nil
}

func conflict(key models.ConversationKey, proposed, next uint64) error {
	return fmt.Errorf("%w: %s proposed %d, next is %d", ErrSequenceConflict, key, proposed, next)
}

// observe records latency and failure of one store call. Use with defer:
//
//	defer observe("duckdb", "append", time.Now(), &err)
func observe(backend, op string, start time.Time, errp *error) {
	var err error
	if errp != nil {
		err = *errp
		// duplicates, conflicts and lookups of unknown ids are answers, not failures
		if errors.Is(err, ErrSequenceConflict) || errors.Is(err, models.ErrMessageNotFound) || errors.Is(err, models.ErrValidation) {
			err = nil
		}
	}
	metrics.RecordStoreOp(backend, op, time.Since(start), err)
}
