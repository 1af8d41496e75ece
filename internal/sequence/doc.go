// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

/*
Package sequence assigns per-conversation sequence numbers.

Every accepted message gets the next number of its conversation, starting at
1 with no gaps. Assignment and persistence happen together: the Coordinator
holds the conversation's lock while the caller's persist function runs, and
the counter only moves when persist reports that the number was consumed.

	seq, err := coord.NextSequence(ctx, key, func(seq uint64) (bool, error) {
		msg.SequenceNumber = seq
		_, dup, err := st.Append(ctx, key, msg)
		return !dup, err
	})

Locks are per conversation and reference counted, so unrelated
conversations never wait on each other and idle conversations cost nothing.
Counters are cached in a bounded LRU and reseeded from the store on a miss.
*/
package sequence
