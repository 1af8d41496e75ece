// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package models

import (
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestNewConversationKey_Symmetric(t *testing.T) {
	ab, err := NewConversationKey("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	ba, err := NewConversationKey("bob", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if ab != ba {
		t.Fatalf("keys differ: %q vs %q", ab, ba)
	}
	if ab != "alice:bob" {
		t.Errorf("key = %q, want alice:bob", ab)
	}
}

func TestNewConversationKey_Invalid(t *testing.T) {
	tests := []struct {
		name string
		a, b UserID
	}{
		{"empty sender", "", "bob"},
		{"empty receiver", "alice", ""},
		{"self", "alice", "alice"},
		{"separator", "ali:ce", "bob"},
		{"whitespace", "alice", "bo b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConversationKey(tt.a, tt.b)
			if !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestParseConversationKey(t *testing.T) {
	if _, err := ParseConversationKey("alice:bob"); err != nil {
		t.Errorf("valid key rejected: %v", err)
	}
	for _, bad := range []string{"", "alice", "bob:alice", "alice:alice", "a:b:c", ":bob"} {
		if _, err := ParseConversationKey(bad); !errors.Is(err, ErrValidation) {
			t.Errorf("ParseConversationKey(%q) = %v, want ErrValidation", bad, err)
		}
	}
}

func TestConversationKey_Membership(t *testing.T) {
	k, _ := NewConversationKey("bob", "alice")

	if !k.Includes("alice") || !k.Includes("bob") || k.Includes("carol") || k.Includes("") {
		t.Error("Includes gave wrong answer")
	}
	if p, ok := k.Peer("alice"); !ok || p != "bob" {
		t.Errorf("Peer(alice) = %q, %v", p, ok)
	}
	if _, ok := k.Peer("carol"); ok {
		t.Error("carol has no peer in alice:bob")
	}
}

func TestMessage_Advance(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := &Message{DeliveryState: StatePending}

	if !m.Advance(StateDelivered, now) {
		t.Fatal("Pending -> Delivered should advance")
	}
	if m.Advance(StateDelivered, now.Add(time.Second)) {
		t.Error("Delivered -> Delivered should be a no-op")
	}
	if m.Advance(StatePending, now) {
		t.Error("state must never regress")
	}
	if !m.Advance(StateRead, now.Add(time.Minute)) {
		t.Fatal("Delivered -> Read should advance")
	}
	if !m.DeliveredAt.Equal(now) {
		t.Errorf("DeliveredAt changed to %v", m.DeliveredAt)
	}
	if m.Advance(StateDelivered, now) {
		t.Error("Read is final")
	}
}

func TestMessage_ReadImpliesDelivered(t *testing.T) {
	m := &Message{}
	now := time.Now()
	m.Advance(StateRead, now)
	if m.DeliveredAt == nil || m.ReadAt == nil {
		t.Fatal("reading a pending message must stamp both timestamps")
	}
}

func TestMessage_Clone(t *testing.T) {
	now := time.Now()
	m := &Message{MessageID: "m-1", DeliveredAt: &now}
	c := m.Clone()
	later := now.Add(time.Hour)
	*c.DeliveredAt = later
	if !m.DeliveredAt.Equal(now) {
		t.Error("clone shares timestamp pointer")
	}
	var nilMsg *Message
	if nilMsg.Clone() != nil {
		t.Error("nil clone should be nil")
	}
}

func TestDeliveryState_JSON(t *testing.T) {
	b, err := json.Marshal(struct {
		S DeliveryState `json:"s"`
	}{StateDelivered})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"s":"Delivered"}` {
		t.Errorf("got %s", b)
	}

	var out struct {
		S DeliveryState `json:"s"`
	}
	if err := json.Unmarshal([]byte(`{"s":"read"}`), &out); err != nil {
		t.Fatal(err)
	}
	if out.S != StateRead {
		t.Errorf("got %v", out.S)
	}
	if err := json.Unmarshal([]byte(`{"s":"lost"}`), &out); err == nil {
		t.Error("expected error for unknown state")
	}
}

func TestErrors(t *testing.T) {
	err := NewValidationError("content", "must not be empty")
	if !errors.Is(err, ErrValidation) {
		t.Error("ValidationError should unwrap to ErrValidation")
	}
	if err.Error() != "validation failed: content: must not be empty" {
		t.Errorf("Error() = %q", err.Error())
	}

	cause := errors.New("disk on fire")
	wrapped := Unavailable("append", cause)
	if !errors.Is(wrapped, ErrStorageUnavailable) || !errors.Is(wrapped, cause) {
		t.Errorf("Unavailable lost a cause: %v", wrapped)
	}
}
