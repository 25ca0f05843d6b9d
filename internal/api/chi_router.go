// BookLantern - Federated Book Resolution and Streaming Proxy
// Copyright 2026 Sid O. (sidopines)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sidopines/booklantern

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sidopines/booklantern/internal/middleware"
)

// chiMiddleware adapts http.HandlerFunc middleware to Chi's
// func(http.Handler) http.Handler shape so it can be used with r.Use().
func chiMiddleware(mw func(http.HandlerFunc) http.HandlerFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return mw(next.ServeHTTP)
	}
}

// Router wires the handler set into a Chi route tree.
type Router struct {
	handler *Handler
	mw      *ChiMiddleware
}

// NewRouter creates a Router.
func NewRouter(handler *Handler, mw *ChiMiddleware) *Router {
	return &Router{handler: handler, mw: mw}
}

// SetupChi builds the full route tree.
//
// Rate limit classes come from the security configuration: resolution and
// token endpoints are moderate (they fan out to upstream catalogs), proxy
// endpoints are permissive (a single book open issues many range requests).
func (router *Router) SetupChi() http.Handler {
	r := chi.NewRouter()

	sec := router.handler.cfg.Security

	r.Use(RequestIDWithLogging())
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(router.mw.CORS())
	r.Use(chiMiddleware(middleware.PrometheusMetrics))

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APISecurityHeaders())

		r.Route("/health", func(r chi.Router) {
			r.Use(router.mw.RateLimitHealth())
			r.Get("/", router.handler.Health)
			r.Get("/live", router.handler.HealthLive)
			r.Get("/ready", router.handler.Ready)
		})

		r.Route("/resolve", func(r chi.Router) {
			r.Use(router.mw.RateLimitCustom(RateLimitConfig{Requests: sec.RateLimitResolve}))
			r.Get("/archive", router.handler.ResolveArchive)
			r.Get("/external", router.handler.ResolveExternal)
		})

		r.With(router.mw.RateLimitCustom(RateLimitConfig{Requests: sec.RateLimitToken})).
			Post("/token", router.handler.IssueToken)

		r.Route("/proxy", func(r chi.Router) {
			r.Use(router.mw.RateLimitCustom(RateLimitConfig{Requests: sec.RateLimitProxy}))
			r.Get("/document", router.handler.ProxyDocument)
			r.Get("/image", router.handler.ProxyImage)
		})

		r.Get("/stats", router.handler.Stats)
	})

	return r
}
