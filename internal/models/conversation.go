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

// UserID is the opaque identifier issued by the identity service.
type UserID string

// keySeparator cannot appear in a user id (see ValidUserID).
const keySeparator = ":"

// MaxUserIDLength bounds user ids accepted from clients.
const MaxUserIDLength = 128

// ValidUserID reports whether id is usable as one half of a conversation key.
func ValidUserID(id UserID) bool {
	if id == "" || len(id) > MaxUserIDLength {
		return false
	}
	return !strings.ContainsAny(string(id), keySeparator+" \t\r\n")
}

// ConversationKey is the canonical identifier of a 1:1 conversation: the two
// user ids, smaller first, joined by ':'.
type ConversationKey string

// NewConversationKey canonicalizes the pair (a, b). The result does not
// depend on argument order. It fails for invalid ids and for a == b.
func NewConversationKey(a, b UserID) (ConversationKey, error) {
	if !ValidUserID(a) {
		return "", &ValidationError{Field: "sender_id", Reason: "invalid user id"}
	}
	if !ValidUserID(b) {
		return "", &ValidationError{Field: "receiver_id", Reason: "invalid user id"}
	}
	if a == b {
		return "", &ValidationError{Field: "receiver_id", Reason: "cannot message yourself"}
	}
	if b < a {
		a, b = b, a
	}
	return ConversationKey(string(a) + keySeparator + string(b)), nil
}

// ParseConversationKey validates a key received from a client.
func ParseConversationKey(s string) (ConversationKey, error) {
	parts := strings.Split(s, keySeparator)
	if len(parts) != 2 {
		return "", &ValidationError{Field: "conversation_key", Reason: "malformed conversation key"}
	}
	a, b := UserID(parts[0]), UserID(parts[1])
	if !ValidUserID(a) || !ValidUserID(b) || a >= b {
		return "", &ValidationError{Field: "conversation_key", Reason: "malformed conversation key"}
	}
	return ConversationKey(s), nil
}

// Participants returns both user ids, in canonical order.
func (k ConversationKey) Participants() (UserID, UserID) {
	a, b, _ := strings.Cut(string(k), keySeparator)
	return UserID(a), UserID(b)
}

// Includes reports whether u is one of the two participants.
func (k ConversationKey) Includes(u UserID) bool {
	a, b := k.Participants()
	return u != "" && (u == a || u == b)
}

// Peer returns the participant that is not u. The second return is false
// when u is not part of the conversation.
func (k ConversationKey) Peer(u UserID) (UserID, bool) {
	if u == "" {
		return "", false
	}
	a, b := k.Participants()
	switch u {
	case a:
		return b, true
	case b:
		return a, true
	}
	return "", false
}

func (k ConversationKey) String() string { return string(k) }

// Conversation is the per-pair ordering record kept by the store.
type Conversation struct {
	Key ConversationKey `json:"conversation_key"`

	// NextSequence is the number the next accepted message will receive.
	NextSequence uint64 `json:"next_sequence"`

	LastMessageAt time.Time `json:"last_message_at"`
}

// LastSequence is the sequence number of the newest accepted message, or 0.
func (c Conversation) LastSequence() uint64 {
	if c.NextSequence == 0 {
		return 0
	}
	return c.NextSequence - 1
}

func (c Conversation) String() string {
	return fmt.Sprintf("%s@%d", c.Key, c.LastSequence())
}
