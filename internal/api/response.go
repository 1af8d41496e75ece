// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/komunikator/internal/logging"
)

// APIResponse is the envelope of every JSON response.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *APIMeta    `json:"meta,omitempty"`
}

// APIError carries a stable machine-readable Code next to the message.
type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIMeta is attached to every response.
type APIMeta struct {
	RequestID  string          `json:"request_id,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	DurationMs int64           `json:"duration_ms,omitempty"`
	Pagination *PaginationMeta `json:"pagination,omitempty"`
}

// PaginationMeta describes a sync page.
type PaginationMeta struct {
	Count   int  `json:"count"`
	Limit   int  `json:"limit,omitempty"`
	HasMore bool `json:"has_more"`

	// NextAfter is the after_sequence to request the next page with.
	NextAfter uint64 `json:"next_after,omitempty"`
}

// Error codes. The gateway sends the same strings in error frames.
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeAccountLocked      = "ACCOUNT_LOCKED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
)

// ResponseWriter writes envelopes for one request.
type ResponseWriter struct {
	w     http.ResponseWriter
	r     *http.Request
	began time.Time
}

// NewResponseWriter starts the duration clock for meta.duration_ms.
func NewResponseWriter(w http.ResponseWriter, r *http.Request) *ResponseWriter {
	return &ResponseWriter{w: w, r: r, began: time.Now()}
}

func (rw *ResponseWriter) meta() *APIMeta {
	now := time.Now()
	return &APIMeta{
		RequestID:  logging.RequestIDFromContext(rw.r.Context()),
		Timestamp:  now.UTC(),
		DurationMs: now.Sub(rw.began).Milliseconds(),
	}
}

// Success writes 200.
func (rw *ResponseWriter) Success(data interface{}) {
	rw.respond(http.StatusOK, data, rw.meta())
}

// SuccessWithPagination writes a 200 response carrying page metadata.
func (rw *ResponseWriter) SuccessWithPagination(data interface{}, p *PaginationMeta) {
	meta := rw.meta()
	meta.Pagination = p
	rw.respond(http.StatusOK, data, meta)
}

// Created writes 201.
func (rw *ResponseWriter) Created(data interface{}) {
	rw.respond(http.StatusCreated, data, rw.meta())
}

func (rw *ResponseWriter) respond(status int, data interface{}, meta *APIMeta) {
	rw.writeJSON(status, APIResponse{Success: true, Data: data, Meta: meta})
}

// Error writes a failure envelope.
func (rw *ResponseWriter) Error(statusCode int, code, message string) {
	rw.ErrorWithDetails(statusCode, code, message, nil)
}

// ErrorWithDetails is Error with a details payload, such as the failing
// validation fields.
func (rw *ResponseWriter) ErrorWithDetails(statusCode int, code, message string, details interface{}) {
	meta := rw.meta()
	rw.writeJSON(statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:      code,
			Message:   message,
			Details:   details,
			RequestID: meta.RequestID,
		},
		Meta: meta,
	})
}

// statusCodes gives the default error code for a status.
var statusCodes = map[int]string{
	http.StatusBadRequest:          ErrCodeBadRequest,
	http.StatusUnauthorized:        ErrCodeUnauthorized,
	http.StatusForbidden:           ErrCodeForbidden,
	http.StatusNotFound:            ErrCodeNotFound,
	http.StatusConflict:            ErrCodeConflict,
	http.StatusTooManyRequests:     ErrCodeTooManyRequests,
	http.StatusServiceUnavailable:  ErrCodeServiceUnavailable,
	http.StatusInternalServerError: ErrCodeInternalError,
}

// Fail writes an error whose code follows from status.
func (rw *ResponseWriter) Fail(status int, message string) {
	code, ok := statusCodes[status]
	if !ok {
		code = ErrCodeInternalError
	}
	rw.Error(status, code, message)
}

func (rw *ResponseWriter) writeJSON(status int, body interface{}) {
	rw.w.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.w.WriteHeader(status)
	if err := json.NewEncoder(rw.w).Encode(body); err != nil {
		logging.Ctx(rw.r.Context()).Error().Err(err).Msg("Failed to encode JSON response")
	}
}
