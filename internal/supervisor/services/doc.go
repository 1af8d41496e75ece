// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

/*
Package services adapts server components to suture.Service.

Each wrapper translates a component's own lifecycle into Serve(ctx):

  - HTTPServerService: ListenAndServe/Shutdown of *http.Server
  - GatewayService: the WebSocket gateway's RunWithContext
  - EventRouterService: the Watermill router, which can only run once
  - EmbeddedNATSService: watches and stops the in-process NATS server
  - PeriodicService: runs a function on a ticker (lockout sweeping)

All of them implement fmt.Stringer so supervisor log lines name the
service.
*/
package services
