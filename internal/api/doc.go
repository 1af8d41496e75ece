// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

/*
Package api exposes the REST surface and mounts the WebSocket gateway.

Routes (chi):

	POST /api/v1/auth/register                      create an account (201)
	POST /api/v1/auth/login                         issue a bearer token
	GET  /api/v1/users/me                           the authenticated account
	GET  /api/v1/contacts                           every other account
	GET  /api/v1/conversations                      conversations, most recent first
	GET  /api/v1/conversations/{key}/messages       sync (?after=&limit=)
	POST /api/v1/messages                           send (201 new, 200 duplicate)
	POST /api/v1/messages/ack                       mark delivered
	POST /api/v1/messages/read                      mark read
	GET  /ws                                        WebSocket gateway
	GET  /health, /health/live, /health/ready       probes
	GET  /metrics                                   Prometheus

Every JSON response uses the APIResponse envelope:

	{"success": true, "data": {...}, "meta": {"request_id": "...", "timestamp": "..."}}
	{"success": false, "error": {"code": "VALIDATION_FAILED", "message": "...", "details": {...}}}

Domain errors map to status codes in one place, writeServiceError.
*/
package api
