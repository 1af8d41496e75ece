// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

// Package logging wraps a process-wide zerolog logger.
//
// Every package logs through the helpers in this package instead of holding
// its own logger, so level and format are controlled from one place:
//
//	logging.Init(logging.Config{Level: "debug", Format: "console"})
//	logging.Info().Str("user_id", id).Msg("session registered")
//
// Request scoped fields (request_id, correlation_id, user_id, conn_id) travel
// in the context and are attached by Ctx:
//
//	ctx = logging.ContextWithUserID(ctx, userID)
//	logging.Ctx(ctx).Warn().Err(err).Msg("push failed")
//
// Libraries that expect a *slog.Logger (suture via sutureslog, watermill)
// receive one backed by the same zerolog instance through NewSlogLogger.
//
// Chains must end in Msg, Msgf or Send; an unterminated event is dropped.
package logging
