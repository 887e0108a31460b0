// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

// Package roomstore is the HTTP client for the external room/message
// directory service (the document store owned by the movie web app).
//
// All calls are fallible, latency-bearing, and non-transactional; the
// chat core treats them as best-effort. Room-directory operations
// (create, touch, list) run behind a circuit breaker so a dead backend
// costs one probe per cooldown instead of one timeout per chat event.
// SaveMessage deliberately bypasses the breaker: the persistence
// controller owns failure handling on that path and needs to see every
// error to drive its recovery state machine.
package roomstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/filmtalk/filmtalk/internal/logging"
	"github.com/filmtalk/filmtalk/internal/metrics"
)

// ChatMessage is the wire form of a persisted chat message.
type ChatMessage struct {
	ID       string `json:"id"`
	RoomName string `json:"roomName"`
	UserName string `json:"userName"`
	Message  string `json:"message"`
}

// Room is one entry of the external room directory listing.
type Room struct {
	RoomName     string    `json:"roomName"`
	Topic        string    `json:"topic,omitempty"`
	UserCount    int       `json:"userCount"`
	LastActiveAt time.Time `json:"lastActiveAt,omitempty"`
}

// Config holds client settings.
type Config struct {
	// BaseURL of the room-store HTTP API, e.g. "http://roomstore:3000".
	BaseURL string
	// Timeout bounds every HTTP call.
	Timeout time.Duration
	// BreakerFailures is the consecutive-failure count that opens the
	// directory circuit.
	BreakerFailures int
	// BreakerCooldown is how long the circuit stays open before probing.
	BreakerCooldown time.Duration
}

// Client talks to the room store. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[struct{}]
}

// New returns a Client for the given settings.
func New(cfg Config) *Client {
	failures := cfg.BreakerFailures
	if failures < 1 {
		failures = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	settings := gobreaker.Settings{
		Name:    "room-directory",
		Timeout: cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(failures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("room directory circuit state changed")
		},
	}

	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker[struct{}](settings),
	}
}

// SaveMessage durably stores one chat message (POST /api/messages).
// No circuit breaker: the persistence controller needs raw errors.
func (c *Client) SaveMessage(ctx context.Context, msg ChatMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := c.do(ctx, http.MethodPost, "/api/messages", body, nil); err != nil {
		metrics.RoomStoreErrors.WithLabelValues("save_message").Inc()
		return fmt.Errorf("save message: %w", err)
	}
	return nil
}

// CreateRoom upserts room metadata in the directory (POST /api/rooms).
// Creating a name that already exists is treated as success by the
// store, matching the join-equivalent semantics of room creation.
func (c *Client) CreateRoom(ctx context.Context, roomName, topic string) error {
	body, err := json.Marshal(map[string]string{"roomName": roomName, "topic": topic})
	if err != nil {
		return fmt.Errorf("encode room: %w", err)
	}
	_, err = c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.do(ctx, http.MethodPost, "/api/rooms", body, nil)
	})
	if err != nil {
		metrics.RoomStoreErrors.WithLabelValues("create_room").Inc()
		return fmt.Errorf("create room %q: %w", roomName, err)
	}
	return nil
}

// TouchActivity refreshes the room's last-activity timestamp
// (PUT /api/rooms/{name}/activity).
func (c *Client) TouchActivity(ctx context.Context, roomName string) error {
	path := "/api/rooms/" + url.PathEscape(roomName) + "/activity"
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.do(ctx, http.MethodPut, path, nil, nil)
	})
	if err != nil {
		metrics.RoomStoreErrors.WithLabelValues("touch_activity").Inc()
		return fmt.Errorf("touch activity for %q: %w", roomName, err)
	}
	return nil
}

// ListRooms fetches the full room directory (GET /api/rooms).
func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	_, err := c.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, c.do(ctx, http.MethodGet, "/api/rooms", nil, &rooms)
	})
	if err != nil {
		metrics.RoomStoreErrors.WithLabelValues("list_rooms").Inc()
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// do performs one HTTP round trip. A non-2xx status is an error; when
// out is non-nil the response body is decoded into it.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("room store unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("room store returned status %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
