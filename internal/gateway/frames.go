// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package gateway

import (
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/komunikator/internal/identity"
	"github.com/tomtom215/komunikator/internal/models"
)

// Frame types.
const (
	FrameAuth       = "auth"
	FrameSend       = "send"
	FrameAck        = "ack"
	FrameRead       = "read"
	FrameSync       = "sync"
	FramePing       = "ping"
	FrameAuthOK     = "auth_ok"
	FrameAccepted   = "accepted"
	FramePush       = "push"
	FrameSyncResult = "sync_result"
	FrameReceipt    = "receipt"
	FramePong       = "pong"
	FrameError      = "error"
)

// Error codes carried by error frames.
const (
	CodeAuthFailed         = "AUTH_FAILED"
	CodeValidationFailed   = "VALIDATION_FAILED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeProtocolError      = "PROTOCOL_ERROR"
	CodeUnknownFrame       = "UNKNOWN_FRAME"
	CodeInternal           = "INTERNAL_ERROR"
)

// Frame is the envelope of every message on the wire.
type Frame struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// outFrame is the outbound form; Data is encoded with the frame.
type outFrame struct {
	Type string      `json:"type"`
	ID   string      `json:"id,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

func encodeFrame(frameType, id string, data interface{}) ([]byte, error) {
	return json.Marshal(outFrame{Type: frameType, ID: id, Data: data})
}

type AuthPayload struct {
	Token string `json:"token"`
}

type SendPayload struct {
	ReceiverID models.UserID `json:"receiver_id"`
	MessageID  string        `json:"message_id"`
	Content    string        `json:"content"`
}

// AckPayload is used by ack and read frames. ConversationKey is optional
// for ack.
type AckPayload struct {
	MessageID       string                 `json:"message_id"`
	ConversationKey models.ConversationKey `json:"conversation_key,omitempty"`
}

type SyncPayload struct {
	ConversationKey models.ConversationKey `json:"conversation_key"`
	AfterSequence   uint64                 `json:"after_sequence"`
	Limit           int                    `json:"limit,omitempty"`
}

type AuthOKPayload struct {
	UserID       models.UserID `json:"user_id"`
	ConnectionID string        `json:"connection_id"`
}

type AcceptedPayload struct {
	ConversationKey models.ConversationKey `json:"conversation_key"`
	MessageID       string                 `json:"message_id"`
	SequenceNumber  uint64                 `json:"sequence_number"`
	CreatedAt       time.Time              `json:"created_at"`
	DeliveryState   models.DeliveryState   `json:"delivery_state"`
	Duplicate       bool                   `json:"duplicate"`
}

type PushPayload struct {
	ConversationKey models.ConversationKey `json:"conversation_key"`
	Message         *models.Message        `json:"message"`
}

// SyncResultPayload answers a sync. While HasMore is set the client asks
// again with after_sequence = NextAfter.
type SyncResultPayload struct {
	ConversationKey models.ConversationKey `json:"conversation_key"`
	Messages        []*models.Message      `json:"messages"`
	Limit           int                    `json:"limit"`
	HasMore         bool                   `json:"has_more"`
	NextAfter       uint64                 `json:"next_after"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorCode maps a domain error to the code sent to clients. The table
// matches the HTTP API.
func errorCode(err error) string {
	switch {
	case errors.Is(err, models.ErrValidation):
		return CodeValidationFailed
	case errors.Is(err, models.ErrAuth):
		return CodeAuthFailed
	case errors.Is(err, models.ErrNotParticipant):
		return CodeForbidden
	case errors.Is(err, models.ErrRecipientUnknown),
		errors.Is(err, models.ErrMessageNotFound),
		errors.Is(err, identity.ErrUserNotFound):
		return CodeNotFound
	case errors.Is(err, models.ErrStorageUnavailable),
		errors.Is(err, models.ErrShuttingDown):
		return CodeServiceUnavailable
	default:
		return CodeInternal
	}
}

// errorMessage hides internal error text from clients.
func errorMessage(err error) string {
	if errorCode(err) == CodeInternal {
		return "internal error"
	}
	return err.Error()
}
