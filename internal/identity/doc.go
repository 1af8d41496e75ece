// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

/*
Package identity owns user accounts: registration, login, bearer tokens and
the contact list.

Accounts live in Badger under three key families:

	user:<id>          JSON account record
	username:<lower>   user id, enforces case-insensitive uniqueness
	email:<lower>      user id, enforces email uniqueness

Passwords are hashed with bcrypt. Login issues an HS256 JWT whose subject is
the user id; Authenticate validates it and confirms the account still
exists. Repeated failed logins lock the username with an exponentially
growing lockout.

The messaging core only sees the narrow UserExists and Authenticate
methods.
*/
package identity
