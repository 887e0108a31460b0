// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

// Command server runs the FilmTalk chat server: a websocket endpoint
// for room-based movie chat, backed by the external room store for
// durable rooms and message history.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/filmtalk/filmtalk/internal/api"
	"github.com/filmtalk/filmtalk/internal/chat"
	"github.com/filmtalk/filmtalk/internal/config"
	"github.com/filmtalk/filmtalk/internal/ident"
	"github.com/filmtalk/filmtalk/internal/logging"
	"github.com/filmtalk/filmtalk/internal/persistence"
	"github.com/filmtalk/filmtalk/internal/presence"
	"github.com/filmtalk/filmtalk/internal/roomstore"
	"github.com/filmtalk/filmtalk/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "filmtalk: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})
	logging.Info().
		Int("port", cfg.Server.Port).
		Str("roomstore", cfg.RoomStore.URL).
		Msg("starting filmtalk chat server")

	store := roomstore.New(roomstore.Config{
		BaseURL:         cfg.RoomStore.URL,
		Timeout:         cfg.RoomStore.Timeout,
		BreakerFailures: cfg.RoomStore.BreakerFailures,
		BreakerCooldown: cfg.RoomStore.BreakerCooldown,
	})

	persist := persistence.NewController(store, persistence.Config{
		RecoveryInterval: cfg.Persistence.RecoveryInterval,
		QueueCapacity:    cfg.Persistence.QueueCapacity,
		DrainPerSecond:   cfg.Persistence.DrainPerSecond,
		StoreTimeout:     cfg.Persistence.StoreTimeout,
	})
	defer persist.Close()

	registry := presence.NewRegistry(presence.NewNameGenerator(cfg.Chat.NameAttempts))
	hub := chat.NewHub(chat.Config{
		MaxMessageLength: cfg.Chat.MaxMessageLength,
		SendBuffer:       cfg.Chat.SendBuffer,
		DirectoryTimeout: cfg.RoomStore.Timeout,
	}, registry, store, persist, ident.New(), chat.NewLogSink())

	handler := api.NewHandler(hub, registry, persist, cfg.Server.CORSOrigins)
	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           api.NewRouter(cfg.Server, handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddMessagingService(supervisor.NewHubService(hub))
	tree.AddAPIService(supervisor.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info().Str("addr", server.Addr).Msg("listening")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}

	logging.Info().Msg("shutdown complete")
	return nil
}
