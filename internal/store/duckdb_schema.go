// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package store

// schemaStatements create the message log tables. Columns never change
// after creation except delivery_state, delivered_at, read_at on messages
// and next_sequence, last_message_at on conversations.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS conversations (
		conversation_key VARCHAR PRIMARY KEY,
		user_a           VARCHAR NOT NULL,
		user_b           VARCHAR NOT NULL,
		next_sequence    BIGINT NOT NULL DEFAULT 1,
		last_message_at  TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		conversation_key VARCHAR NOT NULL,
		sequence_number  BIGINT NOT NULL,
		message_id       VARCHAR NOT NULL,
		sender_id        VARCHAR NOT NULL,
		receiver_id      VARCHAR NOT NULL,
		content          VARCHAR NOT NULL,
		created_at       TIMESTAMP NOT NULL,
		delivery_state   TINYINT NOT NULL DEFAULT 0,
		delivered_at     TIMESTAMP,
		read_at          TIMESTAMP,
		PRIMARY KEY (conversation_key, sequence_number),
		UNIQUE (conversation_key, message_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_user_a ON conversations (user_a)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_user_b ON conversations (user_b)`,
}

const messageColumns = `conversation_key, sequence_number, message_id, sender_id, receiver_id,
	content, created_at, delivery_state, delivered_at, read_at`
