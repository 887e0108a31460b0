// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

package chat

import (
	"errors"

	"github.com/goccy/go-json"
)

// Inbound event names.
const (
	EventCreateRoom       = "create_room"
	EventJoinRoom         = "join_room"
	EventLeaveRoom        = "leave_room"
	EventGetRoomsList     = "get_rooms_list"
	EventRoomMessage      = "room_message"
	EventRequestUserCount = "request_user_count"
)

// Outbound event names.
const (
	EventWelcome             = "welcome"
	EventRoomCreationResult  = "room_creation_result"
	EventRoomJoined          = "room_joined"
	EventUserJoined          = "user_joined"
	EventUserLeft            = "user_left"
	EventRoomList            = "room_list"
	EventRoomMessageReceived = "room_message_received"
	EventUserCountUpdate     = "user_count_update"
	EventErrorName           = "error"
)

// Envelope is the wire frame for inbound events. Data stays raw until
// the event-specific handler decodes it.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// OutboundMessage is the wire frame for outbound events.
type OutboundMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// RoomRequest is the payload of create_room, join_room, and leave_room.
type RoomRequest struct {
	RoomName string `json:"roomName"`
	UserName string `json:"userName"`
	Topic    string `json:"topic,omitempty"`
}

// MessageRequest is the payload of room_message.
type MessageRequest struct {
	RoomName string `json:"roomName"`
	UserName string `json:"userName"`
	Message  string `json:"message"`
}

// WelcomePayload is sent once per connection, right after registration.
type WelcomePayload struct {
	Success   bool   `json:"success"`
	UserName  string `json:"userName"`
	SocketID  string `json:"socketId"`
	Timestamp string `json:"timestamp"`
}

// RoomCreationResult confirms create_room to the creator only.
type RoomCreationResult struct {
	Success   bool   `json:"success"`
	RoomName  string `json:"roomName"`
	Message   string `json:"message"`
	Topic     string `json:"topic,omitempty"`
	Timestamp string `json:"timestamp"`
}

// RoomJoinedPayload confirms join_room to the joiner only.
type RoomJoinedPayload struct {
	RoomName  string `json:"roomName"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// RoomPresencePayload is broadcast as user_joined / user_left.
type RoomPresencePayload struct {
	RoomName  string `json:"roomName"`
	UserName  string `json:"userName"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// RoomListEntry is one row of the room_list reply.
type RoomListEntry struct {
	RoomName  string `json:"roomName"`
	Topic     string `json:"topic,omitempty"`
	UserCount int    `json:"userCount"`
}

// MessagePayload is broadcast as room_message_received to the whole
// room, sender included, so every UI confirms delivery through the same
// channel.
type MessagePayload struct {
	RoomName string `json:"roomName"`
	UserName string `json:"userName"`
	Message  string `json:"message"`
}

// ErrorPayload is the generic error event. Message carries no internal
// detail; the structured context goes to the error sink instead.
type ErrorPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// unmarshalPayload decodes an event payload, treating a missing payload
// as a decode failure.
func unmarshalPayload(data []byte, out any) error {
	if len(data) == 0 {
		return errors.New("missing payload")
	}
	return json.Unmarshal(data, out)
}
