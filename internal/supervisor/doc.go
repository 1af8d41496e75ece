// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

/*
Package supervisor runs the server's long-lived components under a suture
v4 supervision tree.

The tree has three layers, each its own child supervisor so a crash loop in
one layer does not take the others down:

	komunikator (root)
	├── storage-layer     embedded NATS server, lockout sweeper
	├── messaging-layer   event router, WebSocket gateway, outbox retry
	└── api-layer         HTTP server

Supervisor events (restarts, backoff, stop timeouts) are logged through
sutureslog using the application logger.

Usage:

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{})
	if err != nil {
		return err
	}
	tree.MustAdd(supervisor.LayerMessaging, services.NewGatewayService(gw))
	tree.MustAdd(supervisor.LayerAPI, services.NewHTTPServerService(srv, ":8080", 10*time.Second))
	errCh := tree.ServeBackground(ctx)

Cancelling ctx stops every service; the root waits up to ShutdownTimeout
for each before reporting it via UnstoppedServiceReport.
*/
package supervisor
