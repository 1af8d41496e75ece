// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package models

import (
	"fmt"
	"strings"
	"time"
)

// DeliveryState of a message. The numeric order is the lifecycle order.
type DeliveryState int

const (
	StatePending DeliveryState = iota
	StateDelivered
	StateRead
)

func (s DeliveryState) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateDelivered:
		return "Delivered"
	case StateRead:
		return "Read"
	default:
		return fmt.Sprintf("DeliveryState(%d)", int(s))
	}
}

// ParseDeliveryState accepts the String form, case-insensitively.
func ParseDeliveryState(s string) (DeliveryState, error) {
	switch strings.ToLower(s) {
	case "pending":
		return StatePending, nil
	case "delivered":
		return StateDelivered, nil
	case "read":
		return StateRead, nil
	}
	return StatePending, fmt.Errorf("unknown delivery state %q", s)
}

func (s DeliveryState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *DeliveryState) UnmarshalText(b []byte) error {
	v, err := ParseDeliveryState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Message is one entry of a conversation log.
type Message struct {
	MessageID       string          `json:"message_id"`
	ConversationKey ConversationKey `json:"conversation_key"`
	SequenceNumber  uint64          `json:"sequence_number"`
	SenderID        UserID          `json:"sender_id"`
	ReceiverID      UserID          `json:"receiver_id"`
	Content         string          `json:"content"`
	CreatedAt       time.Time       `json:"created_at"`
	DeliveryState   DeliveryState   `json:"delivery_state"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
	ReadAt          *time.Time      `json:"read_at,omitempty"`
}

// Clone returns a deep copy so stores never hand out their own pointers.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	if m.DeliveredAt != nil {
		t := *m.DeliveredAt
		c.DeliveredAt = &t
	}
	if m.ReadAt != nil {
		t := *m.ReadAt
		c.ReadAt = &t
	}
	return &c
}

// Advance moves the message to target at time now. It returns false, and
// leaves the message untouched, when the message is already at or past
// target. Reading a Pending message also stamps DeliveredAt.
func (m *Message) Advance(target DeliveryState, now time.Time) bool {
	if target <= m.DeliveryState {
		return false
	}
	now = now.UTC()
	if m.DeliveredAt == nil {
		m.DeliveredAt = &now
	}
	if target == StateRead {
		m.ReadAt = &now
	}
	m.DeliveryState = target
	return true
}

// Receipt tells a sender that its message changed state.
type Receipt struct {
	ConversationKey ConversationKey `json:"conversation_key"`
	MessageID       string          `json:"message_id"`
	SequenceNumber  uint64          `json:"sequence_number"`
	DeliveryState   DeliveryState   `json:"delivery_state"`
	At              time.Time       `json:"at"`
}

// ReceiptFor builds the receipt describing m's current state.
func ReceiptFor(m *Message) Receipt {
	at := m.CreatedAt
	switch {
	case m.DeliveryState == StateRead && m.ReadAt != nil:
		at = *m.ReadAt
	case m.DeliveryState == StateDelivered && m.DeliveredAt != nil:
		at = *m.DeliveredAt
	}
	return Receipt{
		ConversationKey: m.ConversationKey,
		MessageID:       m.MessageID,
		SequenceNumber:  m.SequenceNumber,
		DeliveryState:   m.DeliveryState,
		At:              at,
	}
}
