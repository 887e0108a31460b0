// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

// Package api exposes the HTTP surface of the chat server: the /ws
// websocket endpoint, /healthz, and /metrics, routed with chi.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/filmtalk/filmtalk/internal/config"
)

// NewRouter builds the chi router with the global middleware stack.
// Rate limiting applies to the upgrade endpoint only; one limit token
// buys a whole websocket session, so health probes and metrics scrapes
// stay unthrottled.
func NewRouter(cfg config.ServerConfig, h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.With(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow)).
		Get("/ws", h.WebSocket)

	return r
}
