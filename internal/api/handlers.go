// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/filmtalk/filmtalk/internal/chat"
	"github.com/filmtalk/filmtalk/internal/logging"
	"github.com/filmtalk/filmtalk/internal/persistence"
	"github.com/filmtalk/filmtalk/internal/presence"
)

// Handler serves the HTTP surface: the websocket upgrade and the health
// endpoint.
type Handler struct {
	hub         *chat.Hub
	registry    *presence.Registry
	persist     *persistence.Controller
	corsOrigins []string
}

// NewHandler wires the handler to its collaborators.
func NewHandler(hub *chat.Hub, registry *presence.Registry, persist *persistence.Controller, corsOrigins []string) *Handler {
	return &Handler{
		hub:         hub,
		registry:    registry,
		persist:     persist,
		corsOrigins: corsOrigins,
	}
}

func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
}

// checkOrigin validates the websocket upgrade origin against the
// configured CORS origins. A missing Origin header is rejected; browser
// websockets always send one, and allowing its absence would bypass the
// origin check entirely.
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.Warn().Msg("websocket upgrade rejected: missing Origin header")
		return false
	}
	for _, allowed := range h.corsOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	logging.Warn().Str("origin", origin).Msg("websocket upgrade rejected: origin not allowed")
	return false
}

// WebSocket upgrades the connection, registers the client with the hub,
// and starts its pumps. Everything after the upgrade speaks the chat
// event protocol.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	upgrader := h.upgrader()
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := chat.NewClient(h.hub, conn)
	h.hub.Register <- client
	client.Start()
}

// healthResponse is the /healthz body.
type healthResponse struct {
	Status           string `json:"status"`
	Connections      int    `json:"connections"`
	TotalConnections uint64 `json:"totalConnections"`
	Persistence      struct {
		State      string `json:"state"`
		QueueDepth int    `json:"queueDepth"`
	} `json:"persistence"`
}

// Health reports liveness plus a coarse picture of chat load and
// persistence state. Always 200: a degraded message store does not make
// the chat server unhealthy, it buffers.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:           "ok",
		Connections:      h.registry.CurrentConnections(),
		TotalConnections: h.registry.TotalConnectionsEver(),
	}
	resp.Persistence.State = h.persist.State().String()
	resp.Persistence.QueueDepth = h.persist.QueueDepth()
	if h.persist.State() != persistence.StateNormal {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error().Err(err).Msg("failed to encode health response")
	}
}
