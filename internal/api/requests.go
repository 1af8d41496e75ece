// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/komunikator/internal/models"
)

// DefaultMaxBodyBytes bounds JSON request bodies.
const DefaultMaxBodyBytes = 64 * 1024

// SendMessageRequest is the body of POST /messages. The sender is the
// authenticated user.
type SendMessageRequest struct {
	ReceiverID models.UserID `json:"receiver_id" validate:"required,userid"`
	MessageID  string        `json:"message_id" validate:"required,max=128"`
	Content    string        `json:"content" validate:"required"`
}

// MarkMessageRequest is the body of POST /messages/ack and /messages/read.
// ConversationKey may be omitted on ack for a message still awaiting one.
type MarkMessageRequest struct {
	MessageID       string                 `json:"message_id" validate:"required,max=128"`
	ConversationKey models.ConversationKey `json:"conversation_key" validate:"omitempty,conversationkey"`
}

// SyncQuery holds the parsed query of GET /conversations/{key}/messages.
type SyncQuery struct {
	ConversationKey models.ConversationKey `json:"conversation_key" validate:"required,conversationkey"`
	After           uint64                 `json:"after"`
	Limit           int                    `json:"limit" validate:"min=0"`
}

// MessageResponse is the reply to a send.
type MessageResponse struct {
	ConversationKey models.ConversationKey `json:"conversation_key"`
	MessageID       string                 `json:"message_id"`
	SequenceNumber  uint64                 `json:"sequence_number"`
	CreatedAt       time.Time              `json:"created_at"`
	DeliveryState   models.DeliveryState   `json:"delivery_state"`
	Duplicate       bool                   `json:"duplicate"`
}

// decodeJSON reads one JSON object from the body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, v interface{}) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return models.NewValidationError("body", ErrBodyTooLarge.Error())
		case errors.Is(err, io.EOF):
			return models.NewValidationError("body", "request body is required")
		default:
			return models.NewValidationError("body", "malformed JSON: "+err.Error())
		}
	}
	if dec.More() {
		return models.NewValidationError("body", "unexpected data after JSON object")
	}
	return nil
}

func parseUintParam(r *http.Request, name string) (uint64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, models.NewValidationError(name, fmt.Sprintf("must be a non-negative integer, got %q", raw))
	}
	return v, nil
}

func parseIntParam(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.NewValidationError(name, fmt.Sprintf("must be an integer, got %q", raw))
	}
	return v, nil
}
