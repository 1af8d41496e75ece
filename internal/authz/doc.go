// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

// Package authz guards the operator API with Casbin RBAC.
//
// Conversation access is not a policy question: only the two participants
// of a conversation may read or mark its messages, and the delivery
// pipeline checks that directly. This package covers the routes that act
// on other users, such as listing live sessions or disconnecting one.
//
// Every account holds the "user" role. Usernames listed in
// security.admin_users also hold "admin". Roles are resolved from the
// account directory and cached for a minute.
//
// The model (model.conf) matches subjects through the role graph, objects
// with keyMatch and actions exactly or through "*". The built-in policy
// (policy.csv) can be replaced with security.authz_policy_path.
package authz
