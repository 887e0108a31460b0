// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

package persistence

import "github.com/filmtalk/filmtalk/internal/roomstore"

// messageQueue is a bounded FIFO of messages awaiting durable storage.
// Entries exist only while the backend is unavailable; once full, pushes
// are rejected (reject-newest) so the queue stays a strict, ordered
// prefix of the failure-window traffic. Not safe for concurrent use;
// the Controller serializes access under its mutex.
type messageQueue struct {
	entries  []roomstore.ChatMessage
	capacity int
}

func newMessageQueue(capacity int) *messageQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &messageQueue{capacity: capacity}
}

// push appends msg, reporting false when the queue is at capacity.
func (q *messageQueue) push(msg roomstore.ChatMessage) bool {
	if len(q.entries) >= q.capacity {
		return false
	}
	q.entries = append(q.entries, msg)
	return true
}

// peek returns the oldest entry without removing it.
func (q *messageQueue) peek() (roomstore.ChatMessage, bool) {
	if len(q.entries) == 0 {
		return roomstore.ChatMessage{}, false
	}
	return q.entries[0], true
}

// dropHead removes the oldest entry after it has been stored.
func (q *messageQueue) dropHead() {
	if len(q.entries) == 0 {
		return
	}
	q.entries = q.entries[1:]
	if len(q.entries) == 0 {
		q.entries = nil // release the backing array once drained
	}
}

func (q *messageQueue) len() int {
	return len(q.entries)
}
