// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

package chat

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/filmtalk/filmtalk/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // 64 KB, chat frames are small
)

// Client is the middleman between one websocket connection and the hub.
// Its connection ID doubles as the session handle in the presence
// registry and as the sort key for deterministic broadcast order.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan OutboundMessage

	// sendMu guards closed so trySend from the read pump can never race
	// the hub closing the channel.
	sendMu sync.Mutex
	closed bool
}

// NewClient wraps an upgraded connection. The client is inert until
// Start; registration with the hub is the caller's job.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		hub:  hub,
		conn: conn,
		send: make(chan OutboundMessage, hub.cfg.SendBuffer),
	}
}

// ID returns the connection ID.
func (c *Client) ID() string {
	return c.id
}

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}

// readPump decodes inbound envelopes and forwards them to the hub's
// event loop. Exactly one per connection; the deferred unregister is the
// single disconnect path, so read errors, close frames, and timeouts all
// converge on the same cleanup.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close() // best-effort cleanup
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				logging.Warn().Err(err).Str("connection_id", c.id).Msg("unexpected websocket close")
			}
			break
		}

		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			c.hub.sink.Report(EventError{
				ConnectionID: c.id,
				Event:        "unknown",
				Code:         CodeValidation,
				Err:          err,
			})
			c.trySend(OutboundMessage{
				Event: EventErrorName,
				Data:  ErrorPayload{Success: false, Message: "malformed event"},
			})
			continue
		}

		c.hub.dispatch(c, env)
	}
}

// writePump serializes outbound traffic onto the connection and keeps
// the ping/pong heartbeat alive. Exactly one per connection so websocket
// writes are never concurrent.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // best-effort cleanup
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}

			if !ok {
				// The hub closed the channel.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					logging.Debug().Err(err).Msg("failed to write close message")
				}
				return
			}

			payload, err := json.Marshal(message)
			if err != nil {
				logging.Error().Err(err).Str("event", message.Event).Msg("failed to encode outbound event")
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logging.Debug().Err(err).Str("connection_id", c.id).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// trySend queues msg without blocking; a full buffer drops the frame,
// and a closed client swallows it. The hub has its own stuck detection
// that evicts clients with a full buffer.
func (c *Client) trySend(msg OutboundMessage) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg:
	default:
		logging.Warn().Str("connection_id", c.id).Str("event", msg.Event).Msg("send buffer full, dropping frame")
	}
}

// closeSend closes the send channel exactly once, which tells writePump
// to write a close frame and exit. Called only by the hub.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
