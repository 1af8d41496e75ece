// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/komunikator/internal/middleware"
)

// Router wires the handlers, the gateway and the middleware stack.
type Router struct {
	handler       *Handler
	auth          Authenticator
	gateway       http.Handler
	authz         Authorizer
	chiMiddleware *ChiMiddleware
	slowThreshold time.Duration
}

// NewRouter creates a router. gateway serves /ws and may be nil.
func NewRouter(handler *Handler, auth Authenticator, gateway http.Handler, mw *ChiMiddleware) *Router {
	if mw == nil {
		mw = NewChiMiddleware(nil)
	}
	return &Router{
		handler:       handler,
		auth:          auth,
		gateway:       gateway,
		chiMiddleware: mw,
		slowThreshold: middleware.DefaultSlowRequestThreshold,
	}
}

// WithAuthorizer enables the /api/v1/admin routes guarded by az.
func (router *Router) WithAuthorizer(az Authorizer) *Router {
	router.authz = az
	return router
}

// chiMiddleware adapts http.HandlerFunc middleware to Chi's func(http.Handler) http.Handler.
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// Setup builds the route tree.
func (router *Router) Setup() http.Handler {
	r := chi.NewRouter()

	// Global middleware, applied to every route in order
	r.Use(chiMiddleware(middleware.RequestID))
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.chiMiddleware.CORS()) // must be global to answer OPTIONS preflight

	r.Route("/health", func(r chi.Router) {
		r.Use(router.chiMiddleware.RateLimitHealth())
		r.Use(APISecurityHeaders())
		r.Get("/", router.handler.Health)
		r.Get("/live", router.handler.HealthLive)
		r.Get("/ready", router.handler.HealthReady)
	})

	r.Handle("/metrics", promhttp.Handler())

	// The upgrade hijacks the connection, so no response-wrapping middleware here.
	if router.gateway != nil {
		r.With(router.chiMiddleware.RateLimitWebSocket()).Get("/ws", router.gateway.ServeHTTP)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APISecurityHeaders())
		r.Use(chiMiddleware(middleware.PrometheusMetrics))
		r.Use(chiMiddleware(middleware.SlowRequests(router.slowThreshold)))
		r.Use(chimiddleware.Compress(5, "application/json"))

		r.Route("/auth", func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimitAuth())
			r.Post("/register", router.handler.Register)
			r.With(router.chiMiddleware.RateLimitLogin()).Post("/login", router.handler.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimit())
			r.Use(RequireAuth(router.auth))

			r.Get("/users/me", router.handler.Me)
			r.Get("/contacts", router.handler.Contacts)
			r.Get("/conversations", router.handler.Conversations)
			r.Get("/conversations/{key}/messages", router.handler.Messages)
		})

		r.Route("/messages", func(r chi.Router) {
			r.Use(router.chiMiddleware.RateLimitMessages())
			r.Use(RequireAuth(router.auth))

			r.Post("/", router.handler.SendMessage)
			r.Post("/ack", router.handler.AckMessage)
			r.Post("/read", router.handler.ReadMessage)
		})

		if router.authz != nil && router.handler.sessions != nil {
			r.Route("/admin", func(r chi.Router) {
				r.Use(router.chiMiddleware.RateLimit())
				r.Use(RequireAuth(router.auth))

				r.With(RequirePermission(router.authz, "sessions", "read")).Get("/sessions", router.handler.ListSessions)
				r.With(RequirePermission(router.authz, "sessions", "delete")).Delete("/sessions/{userID}", router.handler.DisconnectSession)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Fail(http.StatusNotFound, "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		NewResponseWriter(w, r).Error(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})

	return r
}
