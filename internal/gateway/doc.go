// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

/*
Package gateway accepts WebSocket connections and bridges them to the
delivery pipeline.

Each connection walks a fixed state machine:

	Connecting -> Authenticating -> Active -> Closing -> Closed

Any state before Closed may move straight to Closing. Every other transition
is rejected with ErrIllegalTransition.

# Authentication

A client authenticates with a bearer token taken, in order, from the
Authorization header, the token query parameter, or a first frame of type
"auth" sent within the configured auth timeout:

	{"type": "auth", "data": {"token": "eyJhbGciOi..."}}

On failure the server writes an error frame with code AUTH_FAILED followed
by a policy-violation close frame. On success the connection is registered
in the session registry, replacing (and closing) any older connection of the
same user, and an auth_ok frame is sent.

# Frames

Every frame is a JSON object {"type", "id", "data"}. The id is chosen by the
client and echoed on the direct reply, so requests can be correlated.

Inbound (client to server):

	send   {"receiver_id", "message_id", "content"}
	ack    {"message_id", "conversation_key"?}
	read   {"message_id", "conversation_key"}
	sync   {"conversation_key", "after_sequence", "limit"}
	ping

Outbound (server to client):

	auth_ok      {"user_id", "connection_id"}
	accepted     {"conversation_key", "message_id", "sequence_number", "created_at", "delivery_state", "duplicate"}
	push         {"conversation_key", "message"}
	sync_result  {"conversation_key", "messages"}
	receipt      {"conversation_key", "message_id", "sequence_number", "delivery_state", "at"}
	pong
	error        {"code", "message"}

# Pumps

Each connection runs one reader (the HTTP handler goroutine) and one writer
goroutine. Outbound frames go through a bounded queue; when it is full the
connection is closed as a slow consumer rather than blocking the pipeline.
Inbound frames are rate limited per connection with golang.org/x/time/rate.
*/
package gateway
