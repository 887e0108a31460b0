// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

// Package chat implements the room and message core of the FilmTalk
// chat server: one hub goroutine owns all event handling, so room
// membership changes and broadcasts are linearized without fine-grained
// locking in the handlers.
//
// Side effects that touch the network (room directory calls) run in
// short-lived goroutines so a slow backend can never stall the event
// loop; message persistence goes through a saver whose contract is to
// never block.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/filmtalk/filmtalk/internal/ident"
	"github.com/filmtalk/filmtalk/internal/logging"
	"github.com/filmtalk/filmtalk/internal/metrics"
	"github.com/filmtalk/filmtalk/internal/presence"
	"github.com/filmtalk/filmtalk/internal/roomstore"
)

// RoomDirectory is the external room catalog. All calls are best-effort;
// chat keeps working when the directory is down.
// Satisfied by *roomstore.Client.
type RoomDirectory interface {
	CreateRoom(ctx context.Context, roomName, topic string) error
	TouchActivity(ctx context.Context, roomName string) error
	ListRooms(ctx context.Context) ([]roomstore.Room, error)
}

// MessageSaver accepts messages for durable storage. SaveMessage must
// never block on I/O. Satisfied by *persistence.Controller.
type MessageSaver interface {
	SaveMessage(msg roomstore.ChatMessage)
}

// Config holds hub tunables.
type Config struct {
	// MaxRoomNameLength bounds room names from clients.
	MaxRoomNameLength int
	// MaxMessageLength bounds chat message bodies.
	MaxMessageLength int
	// DirectoryTimeout bounds each room-directory call.
	DirectoryTimeout time.Duration
	// SendBuffer is the per-client outbound channel capacity.
	SendBuffer int
}

type inboundEvent struct {
	client *Client
	env    Envelope
}

// Hub maintains connected clients and room membership, and handles every
// inbound event on a single goroutine.
type Hub struct {
	cfg       Config
	registry  *presence.Registry
	directory RoomDirectory
	saver     MessageSaver
	ids       *ident.Generator
	sink      ErrorSink

	Register   chan *Client
	Unregister chan *Client
	inbound    chan inboundEvent

	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client
}

// NewHub wires the hub to its collaborators. Zero config fields get
// sensible defaults.
func NewHub(cfg Config, registry *presence.Registry, directory RoomDirectory, saver MessageSaver, ids *ident.Generator, sink ErrorSink) *Hub {
	if cfg.MaxRoomNameLength <= 0 {
		cfg.MaxRoomNameLength = 64
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 2000
	}
	if cfg.DirectoryTimeout <= 0 {
		cfg.DirectoryTimeout = 5 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}

	return &Hub{
		cfg:        cfg,
		registry:   registry,
		directory:  directory,
		saver:      saver,
		ids:        ids,
		sink:       sink,
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		inbound:    make(chan inboundEvent, 256),
		clients:    make(map[string]*Client),
		rooms:      make(map[string]map[string]*Client),
	}
}

// RunWithContext runs the event loop until ctx is canceled, then closes
// every client and returns ctx.Err(). Designed for suture supervision.
//
// Priority-based selection keeps behavior predictable when multiple
// channels are ready: shutdown first, then client lifecycle, then
// inbound events. Lifecycle-before-events means a client is always
// registered before its first event is handled.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Priority 1: shutdown (non-blocking check).
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: client lifecycle (non-blocking check).
		select {
		case client := <-h.Register:
			h.handleRegister(client)
			continue
		case client := <-h.Unregister:
			h.handleUnregister(client)
			continue
		default:
		}

		// Priority 3: inbound events, or block for whatever comes first.
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.handleRegister(client)
		case client := <-h.Unregister:
			h.handleUnregister(client)
		case ev := <-h.inbound:
			h.handleEvent(ev.client, ev.env)
		}
	}
}

// dispatch hands an inbound envelope to the event loop. A full buffer
// drops the event; slow consumers must not block readPump.
func (h *Hub) dispatch(c *Client, env Envelope) {
	select {
	case h.inbound <- inboundEvent{client: c, env: env}:
	default:
		logging.Warn().
			Str("connection_id", c.id).
			Str("event", env.Event).
			Msg("inbound event buffer full, dropping event")
	}
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleRegister admits a new connection: session with a generated
// display name, a welcome frame to the newcomer, and a presence-count
// broadcast to everyone.
func (h *Hub) handleRegister(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()

	session := h.registry.Register(c.id)
	c.trySend(OutboundMessage{
		Event: EventWelcome,
		Data: WelcomePayload{
			Success:   true,
			UserName:  session.DisplayName,
			SocketID:  c.id,
			Timestamp: timestamp(),
		},
	})
	h.broadcastUserCount()

	logging.Info().
		Str("connection_id", c.id).
		Str("user", session.DisplayName).
		Int("total_clients", h.ClientCount()).
		Msg("chat client connected")
}

// handleUnregister tears a connection down: room membership, send
// channel, session, then a presence-count broadcast. Disconnects leave
// rooms silently; only an explicit leave_room notifies the members.
// Safe to reach twice for the same client (stuck-client eviction plus
// the readPump exit both funnel here).
func (h *Hub) handleUnregister(c *Client) {
	profile, known := h.registry.Profile(c.id)

	h.mu.Lock()
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		c.closeSend()
	}
	if known && profile.CurrentRoom != "" {
		h.detachLocked(c, profile.CurrentRoom)
	}
	h.mu.Unlock()

	if !known {
		return
	}
	h.registry.Remove(c.id)
	h.broadcastUserCount()

	logging.Info().
		Str("connection_id", c.id).
		Str("user", profile.DisplayName).
		Int("total_clients", h.ClientCount()).
		Msg("chat client disconnected")
}

// handleEvent routes one inbound envelope. A panicking handler is
// reported and answered with a generic error instead of killing the
// event loop.
func (h *Hub) handleEvent(c *Client, env Envelope) {
	metrics.EventsProcessed.WithLabelValues(env.Event).Inc()
	defer func() {
		if r := recover(); r != nil {
			h.sink.Report(EventError{
				ConnectionID: c.id,
				Event:        env.Event,
				Code:         CodeInternal,
				Err:          fmt.Errorf("handler panic: %v", r),
			})
			c.trySend(errorFrame("internal error"))
		}
	}()

	profile, ok := h.registry.Profile(c.id)
	if !ok {
		h.sink.Report(EventError{
			ConnectionID: c.id,
			Event:        env.Event,
			Code:         CodeUnknownConnection,
			Err:          errors.New("no session for connection"),
		})
		c.trySend(errorFrame("unknown connection"))
		return
	}

	switch env.Event {
	case EventCreateRoom:
		h.handleCreateRoom(c, profile, env.Data)
	case EventJoinRoom:
		h.handleJoinRoom(c, profile, env.Data)
	case EventLeaveRoom:
		h.handleLeaveRoom(c, profile)
	case EventGetRoomsList:
		h.handleListRooms(c)
	case EventRoomMessage:
		h.handleRoomMessage(c, profile, env.Data)
	case EventRequestUserCount:
		c.trySend(userCountFrame(h.registry.CurrentConnections()))
	default:
		h.reportValidation(c, env.Event, fmt.Errorf("unknown event %q", env.Event))
	}
}

// handleCreateRoom upserts the room in the directory (best-effort) and
// places the creator in it. Creating a name that already exists behaves
// exactly like joining it, so racing creators both end up members.
func (h *Hub) handleCreateRoom(c *Client, profile presence.UserSession, data []byte) {
	req, ok := h.decodeRoomRequest(c, EventCreateRoom, data)
	if !ok {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.DirectoryTimeout)
		defer cancel()
		if err := h.directory.CreateRoom(ctx, req.RoomName, req.Topic); err != nil {
			h.sink.Report(EventError{
				ConnectionID: c.id,
				Event:        EventCreateRoom,
				Code:         CodeServiceUnavailable,
				Err:          err,
			})
		}
	}()

	h.placeInRoom(c, profile, req.RoomName)

	c.trySend(OutboundMessage{
		Event: EventRoomCreationResult,
		Data: RoomCreationResult{
			Success:   true,
			RoomName:  req.RoomName,
			Message:   fmt.Sprintf("Room %q is ready", req.RoomName),
			Topic:     req.Topic,
			Timestamp: timestamp(),
		},
	})
	h.broadcastToRoom(req.RoomName, presenceFrame(EventUserJoined, req.RoomName, profile.DisplayName, "joined the room"), "")
}

// handleJoinRoom adds the client to the room's broadcast group, confirms
// to the joiner, and announces user_joined to the whole room, joiner
// included.
func (h *Hub) handleJoinRoom(c *Client, profile presence.UserSession, data []byte) {
	req, ok := h.decodeRoomRequest(c, EventJoinRoom, data)
	if !ok {
		return
	}

	h.placeInRoom(c, profile, req.RoomName)
	h.touchActivity(c, EventJoinRoom, req.RoomName)

	c.trySend(OutboundMessage{
		Event: EventRoomJoined,
		Data: RoomJoinedPayload{
			RoomName:  req.RoomName,
			Message:   fmt.Sprintf("You joined %q", req.RoomName),
			Timestamp: timestamp(),
		},
	})
	h.broadcastToRoom(req.RoomName, presenceFrame(EventUserJoined, req.RoomName, profile.DisplayName, "joined the room"), "")
}

// handleLeaveRoom removes the client from its current room and announces
// user_left to the remaining members only.
func (h *Hub) handleLeaveRoom(c *Client, profile presence.UserSession) {
	room := profile.CurrentRoom
	if room == "" {
		h.reportValidation(c, EventLeaveRoom, errors.New("not in a room"))
		return
	}

	h.mu.Lock()
	h.detachLocked(c, room)
	h.mu.Unlock()
	h.registry.UpdateRoom(c.id, "", presence.RoomLeave)

	h.broadcastToRoom(room, presenceFrame(EventUserLeft, room, profile.DisplayName, "left the room"), c.id)
}

// handleListRooms fetches the directory off the event loop and replies
// with rooms annotated with live member counts. A directory failure
// degrades to an empty list; listing must never error at the client.
func (h *Hub) handleListRooms(c *Client) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.DirectoryTimeout)
		defer cancel()

		rooms, err := h.directory.ListRooms(ctx)
		if err != nil {
			h.sink.Report(EventError{
				ConnectionID: c.id,
				Event:        EventGetRoomsList,
				Code:         CodeServiceUnavailable,
				Err:          err,
			})
			rooms = nil
		}

		counts := h.registry.ActiveUsersPerRoom()
		entries := make([]RoomListEntry, 0, len(rooms))
		for _, r := range rooms {
			entries = append(entries, RoomListEntry{
				RoomName:  r.RoomName,
				Topic:     r.Topic,
				UserCount: counts[r.RoomName],
			})
		}
		c.trySend(OutboundMessage{Event: EventRoomList, Data: entries})
	}()
}

// handleRoomMessage broadcasts the message to the room, sender included,
// then hands it to the saver with a fresh ordered ID. Broadcast happens
// regardless of persistence health.
func (h *Hub) handleRoomMessage(c *Client, profile presence.UserSession, data []byte) {
	var req MessageRequest
	if err := unmarshalPayload(data, &req); err != nil {
		h.reportValidation(c, EventRoomMessage, err)
		return
	}
	req.RoomName = strings.TrimSpace(req.RoomName)
	body := strings.TrimSpace(req.Message)
	switch {
	case req.RoomName == "":
		h.reportValidation(c, EventRoomMessage, errors.New("empty room name"))
		return
	case body == "":
		h.reportValidation(c, EventRoomMessage, errors.New("empty message"))
		return
	case len(body) > h.cfg.MaxMessageLength:
		h.reportValidation(c, EventRoomMessage, fmt.Errorf("message length %d exceeds limit %d", len(body), h.cfg.MaxMessageLength))
		return
	}

	h.broadcastToRoom(req.RoomName, OutboundMessage{
		Event: EventRoomMessageReceived,
		Data: MessagePayload{
			RoomName: req.RoomName,
			UserName: profile.DisplayName,
			Message:  body,
		},
	}, "")
	metrics.MessagesBroadcast.Inc()

	h.saver.SaveMessage(roomstore.ChatMessage{
		ID:       h.ids.Next(),
		RoomName: req.RoomName,
		UserName: profile.DisplayName,
		Message:  body,
	})
	h.touchActivity(c, EventRoomMessage, req.RoomName)
}

// decodeRoomRequest parses and validates the room-request payload shared
// by create_room and join_room, reporting validation failures itself.
func (h *Hub) decodeRoomRequest(c *Client, event string, data []byte) (RoomRequest, bool) {
	var req RoomRequest
	if err := unmarshalPayload(data, &req); err != nil {
		h.reportValidation(c, event, err)
		return RoomRequest{}, false
	}
	req.RoomName = strings.TrimSpace(req.RoomName)
	if req.RoomName == "" {
		h.reportValidation(c, event, errors.New("empty room name"))
		return RoomRequest{}, false
	}
	if len(req.RoomName) > h.cfg.MaxRoomNameLength {
		h.reportValidation(c, event, fmt.Errorf("room name length %d exceeds limit %d", len(req.RoomName), h.cfg.MaxRoomNameLength))
		return RoomRequest{}, false
	}
	return req, true
}

// placeInRoom moves the client into room, silently detaching it from a
// previous room first. A session has at most one current room.
func (h *Hub) placeInRoom(c *Client, profile presence.UserSession, room string) {
	h.mu.Lock()
	if prev := profile.CurrentRoom; prev != "" && prev != room {
		h.detachLocked(c, prev)
	}
	h.attachLocked(c, room)
	h.mu.Unlock()

	h.registry.UpdateRoom(c.id, room, presence.RoomJoin)
}

func (h *Hub) attachLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		h.rooms[room] = members
		metrics.RoomsActive.Inc()
	}
	members[c.id] = c
}

func (h *Hub) detachLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		return
	}
	if _, present := members[c.id]; !present {
		return
	}
	delete(members, c.id)
	if len(members) == 0 {
		delete(h.rooms, room)
		metrics.RoomsActive.Dec()
	}
}

// touchActivity refreshes the room's last-active timestamp off the event
// loop. Failures go to the sink and nowhere else.
func (h *Hub) touchActivity(c *Client, event, room string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.DirectoryTimeout)
		defer cancel()
		if err := h.directory.TouchActivity(ctx, room); err != nil {
			h.sink.Report(EventError{
				ConnectionID: c.id,
				Event:        event,
				Code:         CodeServiceUnavailable,
				Err:          err,
			})
		}
	}()
}

// broadcastToRoom fans msg out to the room's members in connection-ID
// order, skipping except when non-empty. Members whose send buffer is
// full are evicted on the spot; their readPump completes the cleanup
// through the unregister path.
func (h *Hub) broadcastToRoom(room string, msg OutboundMessage, except string) {
	h.mu.Lock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for _, m := range h.rooms[room] {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].id < members[j].id })

	for _, m := range members {
		if m.id == except {
			continue
		}
		select {
		case m.send <- msg:
		default:
			h.evictLocked(m, room)
		}
	}
	h.mu.Unlock()
}

// broadcastUserCount pushes the live connection count to every client.
func (h *Hub) broadcastUserCount() {
	frame := userCountFrame(h.registry.CurrentConnections())

	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].id < all[j].id })

	for _, c := range all {
		select {
		case c.send <- frame:
		default:
			profile, known := h.registry.Profile(c.id)
			room := ""
			if known {
				room = profile.CurrentRoom
			}
			h.evictLocked(c, room)
		}
	}
	h.mu.Unlock()
}

// evictLocked drops a stuck client from the hub's maps and closes its
// send channel. Session removal is left to the unregister path so
// counters change exactly once.
func (h *Hub) evictLocked(c *Client, room string) {
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	if room != "" {
		h.detachLocked(c, room)
	}
	c.closeSend()
	logging.Warn().Str("connection_id", c.id).Msg("client send buffer stuck, evicting")
}

// shutdown closes every client so their pumps exit, then logs the
// reason. Sessions die with the process; no per-client teardown events
// are sent.
func (h *Hub) shutdown(ctx context.Context) {
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].id < all[j].id })
	for _, c := range all {
		delete(h.clients, c.id)
		c.closeSend()
	}
	h.rooms = make(map[string]map[string]*Client)
	h.mu.Unlock()

	reason := "context_canceled"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = "context_deadline"
	}
	logging.Info().
		Str("component", "chat-hub").
		Str("reason", reason).
		Int("clients_closed", len(all)).
		Msg("chat hub stopped")
}

func (h *Hub) reportValidation(c *Client, event string, err error) {
	h.sink.Report(EventError{
		ConnectionID: c.id,
		Event:        event,
		Code:         CodeValidation,
		Err:          err,
	})
	c.trySend(errorFrame("invalid request"))
}

func errorFrame(message string) OutboundMessage {
	return OutboundMessage{
		Event: EventErrorName,
		Data:  ErrorPayload{Success: false, Message: message},
	}
}

func userCountFrame(count int) OutboundMessage {
	return OutboundMessage{Event: EventUserCountUpdate, Data: count}
}

func presenceFrame(event, room, user, verb string) OutboundMessage {
	return OutboundMessage{
		Event: event,
		Data: RoomPresencePayload{
			RoomName:  room,
			UserName:  user,
			Message:   fmt.Sprintf("%s %s", user, verb),
			Timestamp: timestamp(),
		},
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
