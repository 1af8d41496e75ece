// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

/*
Package validation wraps go-playground/validator v10 with a shared,
thread-safe instance and the custom tags used across the server.

Field names in errors are taken from the json tag, so a failing
ReceiverID reports "receiver_id", matching what the client sent.

Custom tags:

	userid           non-empty, at most 128 bytes, no ':' and no whitespace
	username         3 to 32 characters from a-z A-Z 0-9 and - . _ @ +
	conversationkey  canonical "<min>:<max>" pair of two distinct user ids

Example:

	type SendRequest struct {
		ReceiverID string `json:"receiver_id" validate:"required,userid"`
		MessageID  string `json:"message_id" validate:"required,max=128"`
	}

	if err := validation.ValidateStruct(&req); err != nil {
		// err matches models.ErrValidation
		apiErr := err.ToAPIError()
		...
	}
*/
package validation
