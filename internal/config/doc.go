// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

// Package config loads and validates server configuration.
//
// Configuration is layered with koanf, later layers overriding earlier ones:
//
//  1. Built-in defaults (defaultConfig)
//  2. An optional YAML file: $CONFIG_PATH, ./config.yaml, ./config.yml,
//     /etc/komunikator/config.yaml
//  3. Environment variables listed in envMappings
//
// Only mapped environment variables are read, so unrelated variables in the
// process environment never leak into the configuration.
//
// Example YAML:
//
//	server:
//	  port: 8080
//	storage:
//	  backend: duckdb
//	  path: /data/messages.duckdb
//	messaging:
//	  ack_timeout: 15s
//	security:
//	  jwt_secret: "<at least 32 characters>"
//	nats:
//	  enabled: true
//	  embedded_server: true
package config
