// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package eventbus

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/komunikator/internal/models"
)

// EventType names a message lifecycle event.
type EventType string

const (
	EventMessageAccepted  EventType = "message.accepted"
	EventMessageDelivered EventType = "message.delivered"
	EventMessageRead      EventType = "message.read"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventMessageAccepted, EventMessageDelivered, EventMessageRead:
		return true
	}
	return false
}

// Event is the payload published for every lifecycle change. Content is
// never included.
type Event struct {
	EventID         string                 `json:"event_id"`
	Type            EventType              `json:"type"`
	ConversationKey models.ConversationKey `json:"conversation_key"`
	MessageID       string                 `json:"message_id"`
	SequenceNumber  uint64                 `json:"sequence_number"`
	SenderID        models.UserID          `json:"sender_id"`
	ReceiverID      models.UserID          `json:"receiver_id"`
	DeliveryState   models.DeliveryState   `json:"delivery_state"`
	OccurredAt      time.Time              `json:"occurred_at"`
}

// NewMessageEvent builds an event of type t describing m.
func NewMessageEvent(t EventType, m *models.Message) *Event {
	at := m.CreatedAt
	switch {
	case m.ReadAt != nil && t == EventMessageRead:
		at = *m.ReadAt
	case m.DeliveredAt != nil && t == EventMessageDelivered:
		at = *m.DeliveredAt
	}
	return &Event{
		EventID:         uuid.NewString(),
		Type:            t,
		ConversationKey: m.ConversationKey,
		MessageID:       m.MessageID,
		SequenceNumber:  m.SequenceNumber,
		SenderID:        m.SenderID,
		ReceiverID:      m.ReceiverID,
		DeliveryState:   m.DeliveryState,
		OccurredAt:      at.UTC(),
	}
}

// Validate checks the fields a consumer relies on.
func (e *Event) Validate() error {
	var errs []error
	if e.EventID == "" {
		errs = append(errs, errors.New("event_id is required"))
	}
	if !e.Type.Valid() {
		errs = append(errs, fmt.Errorf("unknown event type %q", e.Type))
	}
	if e.ConversationKey == "" {
		errs = append(errs, errors.New("conversation_key is required"))
	}
	if e.MessageID == "" {
		errs = append(errs, errors.New("message_id is required"))
	}
	if e.SenderID == "" {
		errs = append(errs, errors.New("sender_id is required"))
	}
	return errors.Join(errs...)
}

// Receipt is the view of the event sent back to the message's sender.
func (e *Event) Receipt() models.Receipt {
	return models.Receipt{
		ConversationKey: e.ConversationKey,
		MessageID:       e.MessageID,
		SequenceNumber:  e.SequenceNumber,
		DeliveryState:   e.DeliveryState,
		At:              e.OccurredAt,
	}
}

// Topic returns the subject the event is published on.
func Topic(prefix string, t EventType) string {
	if prefix == "" {
		return string(t)
	}
	return prefix + "." + string(t)
}

// SerializeEvent encodes e as JSON.
func SerializeEvent(e *Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// DeserializeEvent decodes and validates an event.
func DeserializeEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event: %w", err)
	}
	return &e, nil
}
