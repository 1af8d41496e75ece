// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

/*
Package wal is a Badger-backed outbox for message lifecycle events.

Every event is written to the outbox before it is handed to the event bus
and deleted once the bus accepts it. Entries that could not be published
stay under the "pending:" prefix and are retried by RetryPending, which
the server runs once at startup (recovery after a crash) and then on a
fixed interval.

# Flow

	DurablePublisher.Publish(ev)
	    |
	    +-- Write      pending:<event_id>
	    +-- bus.Publish
	    |      ok   -> Confirm (delete)
	    |      fail -> UpdateAttempt, kept for RetryPending

Entry ids are event ids, and the bus uses the event id as the JetStream
deduplication id, so an entry republished after a lost confirmation is
dropped by the stream instead of being delivered twice.

# Limits

Entries expire after Config.EntryTTL through Badger's native TTL. An
entry that has failed Config.MaxRetries times is dropped and logged.
*/
package wal
