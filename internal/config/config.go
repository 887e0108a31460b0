// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

// Package config loads and validates FilmTalk server configuration.
//
// Configuration is layered via Koanf v2 (highest priority wins):
//
//  1. Built-in defaults
//  2. Optional YAML config file (CONFIG_PATH or default search paths)
//  3. Environment variables prefixed with FILMTALK_
//
// Environment variable names map to config paths by lowercasing and
// replacing the first underscore with a dot:
//
//	FILMTALK_SERVER_PORT          -> server.port
//	FILMTALK_ROOMSTORE_URL        -> roomstore.url
//	FILMTALK_PERSISTENCE_QUEUE_CAPACITY -> persistence.queue_capacity
package config

import "time"

// Config is the root configuration for the FilmTalk chat server.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Chat        ChatConfig        `koanf:"chat"`
	RoomStore   RoomStoreConfig   `koanf:"roomstore"`
	Persistence PersistenceConfig `koanf:"persistence"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// ServerConfig holds the HTTP/WebSocket listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	// CORSOrigins lists allowed origins for both CORS preflight and the
	// WebSocket upgrade origin check. "*" allows any origin.
	CORSOrigins []string `koanf:"cors_origins" validate:"min=1"`

	// RateLimitReqs requests per RateLimitWindow, keyed by client IP.
	RateLimitReqs   int           `koanf:"rate_limit_reqs" validate:"gt=0"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window" validate:"gt=0"`
}

// ChatConfig holds tunables for the chat hub and protocol handlers.
type ChatConfig struct {
	// MaxMessageLength bounds the free-text body of a chat message.
	// Longer payloads are rejected as validation errors.
	MaxMessageLength int `koanf:"max_message_length" validate:"gt=0"`

	// SendBuffer is the per-client outbound channel capacity. A client
	// whose buffer overflows is considered stuck and disconnected.
	SendBuffer int `koanf:"send_buffer" validate:"gt=0"`

	// NameAttempts bounds display-name generation retries before the
	// generator falls back to a suffix that cannot collide.
	NameAttempts int `koanf:"name_attempts" validate:"gt=0"`
}

// RoomStoreConfig describes the external room/message directory service.
type RoomStoreConfig struct {
	// URL is the base URL of the room-store HTTP API.
	URL string `koanf:"url" validate:"required,url"`

	// Timeout bounds every room-store HTTP call so a hung backend cannot
	// stall event handling.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// BreakerFailures is the consecutive-failure count that opens the
	// circuit on room-directory calls (create/touch/list).
	BreakerFailures int `koanf:"breaker_failures" validate:"gt=0"`

	// BreakerCooldown is how long the circuit stays open before a probe.
	BreakerCooldown time.Duration `koanf:"breaker_cooldown" validate:"gt=0"`
}

// PersistenceConfig holds the message-persistence controller settings.
type PersistenceConfig struct {
	// RecoveryInterval is the cadence of recovery attempts while the
	// message store is unreachable.
	RecoveryInterval time.Duration `koanf:"recovery_interval" validate:"gt=0"`

	// QueueCapacity bounds the in-memory recovery queue. Once full, new
	// messages are rejected and counted as losses.
	QueueCapacity int `koanf:"queue_capacity" validate:"gt=0"`

	// DrainPerSecond paces store calls while draining the queue so a
	// freshly recovered backend is not flooded.
	DrainPerSecond float64 `koanf:"drain_per_second" validate:"gt=0"`

	// StoreTimeout bounds a single message-store call.
	StoreTimeout time.Duration `koanf:"store_timeout" validate:"gt=0"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all default values. Defaults are
// loaded first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            4950,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   300,
			RateLimitWindow: time.Minute,
		},
		Chat: ChatConfig{
			MaxMessageLength: 2000,
			SendBuffer:       256,
			NameAttempts:     64,
		},
		RoomStore: RoomStoreConfig{
			URL:             "http://localhost:3000",
			Timeout:         5 * time.Second,
			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
		},
		Persistence: PersistenceConfig{
			RecoveryInterval: 30 * time.Second,
			QueueCapacity:    1000,
			DrainPerSecond:   50,
			StoreTimeout:     5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
