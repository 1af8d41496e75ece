// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/komunikator/internal/delivery"
	"github.com/tomtom215/komunikator/internal/models"
	"github.com/tomtom215/komunikator/internal/validation"
)

// Conversations lists the caller's conversations, most recent first.
//
// @Summary Conversations
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Success 200 {object} APIResponse{data=[]models.Conversation}
// @Router /conversations [get]
func (h *Handler) Conversations(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		rw.Fail(http.StatusUnauthorized, "Authentication required")
		return
	}

	convs, err := h.messaging.Conversations(r.Context(), userID)
	if err != nil {
		rw.writeServiceError(err)
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	rw.Success(convs)
}

// Messages returns messages of one conversation after a sequence number.
//
// @Summary Sync a conversation
// @Tags Messages
// @Produce json
// @Security BearerAuth
// @Param key path string true "Conversation key (a:b)"
// @Param after query int false "Return messages with a greater sequence number"
// @Param limit query int false "Page size, capped by the server"
// @Success 200 {object} APIResponse{data=[]models.Message}
// @Failure 403 {object} APIResponse "Not a participant"
// @Router /conversations/{key}/messages [get]
func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		rw.Fail(http.StatusUnauthorized, "Authentication required")
		return
	}

	q := SyncQuery{ConversationKey: models.ConversationKey(chi.URLParam(r, "key"))}
	var err error
	if q.After, err = parseUintParam(r, "after"); err != nil {
		rw.writeServiceError(err)
		return
	}
	if q.Limit, err = parseIntParam(r, "limit"); err != nil {
		rw.writeServiceError(err)
		return
	}
	if err := validation.Validate(&q); err != nil {
		rw.writeServiceError(err)
		return
	}

	page, err := h.messaging.Sync(r.Context(), userID, q.ConversationKey, q.After, q.Limit)
	if err != nil {
		rw.writeServiceError(err)
		return
	}

	rw.SuccessWithPagination(page.Messages, &PaginationMeta{
		Count:     len(page.Messages),
		Limit:     page.Limit,
		HasMore:   page.HasMore,
		NextAfter: page.NextAfter,
	})
}

// SendMessage accepts a message from the caller. Retrying with the same
// message_id returns the stored message with 200 instead of 201.
//
// @Summary Send a message
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body SendMessageRequest true "Message"
// @Success 201 {object} APIResponse{data=MessageResponse} "Accepted"
// @Success 200 {object} APIResponse{data=MessageResponse} "Duplicate of an accepted message"
// @Failure 404 {object} APIResponse "Recipient unknown"
// @Failure 503 {object} APIResponse "Storage unavailable, retry"
// @Router /messages [post]
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		rw.Fail(http.StatusUnauthorized, "Authentication required")
		return
	}

	var req SendMessageRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		rw.writeServiceError(err)
		return
	}
	if err := validation.Validate(&req); err != nil {
		rw.writeServiceError(err)
		return
	}

	msg, duplicate, err := h.messaging.Send(r.Context(), delivery.SendRequest{
		SenderID:   userID,
		ReceiverID: req.ReceiverID,
		MessageID:  req.MessageID,
		Content:    req.Content,
	})
	if err != nil {
		rw.writeServiceError(err)
		return
	}

	resp := MessageResponse{
		ConversationKey: msg.ConversationKey,
		MessageID:       msg.MessageID,
		SequenceNumber:  msg.SequenceNumber,
		CreatedAt:       msg.CreatedAt,
		DeliveryState:   msg.DeliveryState,
		Duplicate:       duplicate,
	}
	if duplicate {
		rw.Success(resp)
		return
	}
	rw.Created(resp)
}

// AckMessage marks a message Delivered.
//
// @Summary Acknowledge delivery
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body MarkMessageRequest true "Message"
// @Success 200 {object} APIResponse{data=models.Message}
// @Router /messages/ack [post]
func (h *Handler) AckMessage(w http.ResponseWriter, r *http.Request) {
	h.mark(w, r, h.messaging.Ack)
}

// ReadMessage marks a message Read.
//
// @Summary Mark read
// @Tags Messages
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body MarkMessageRequest true "Message"
// @Success 200 {object} APIResponse{data=models.Message}
// @Router /messages/read [post]
func (h *Handler) ReadMessage(w http.ResponseWriter, r *http.Request) {
	h.mark(w, r, h.messaging.MarkRead)
}

type markFunc func(ctx context.Context, userID models.UserID, key models.ConversationKey, messageID string) (*models.Message, error)

func (h *Handler) mark(w http.ResponseWriter, r *http.Request, fn markFunc) {
	rw := NewResponseWriter(w, r)
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		rw.Fail(http.StatusUnauthorized, "Authentication required")
		return
	}

	var req MarkMessageRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		rw.writeServiceError(err)
		return
	}
	if err := validation.Validate(&req); err != nil {
		rw.writeServiceError(err)
		return
	}

	msg, err := fn(r.Context(), userID, req.ConversationKey, req.MessageID)
	if err != nil {
		rw.writeServiceError(err)
		return
	}
	rw.Success(msg)
}
