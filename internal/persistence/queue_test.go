// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

package persistence

import (
	"fmt"
	"testing"

	"github.com/filmtalk/filmtalk/internal/roomstore"
)

func TestQueueFIFO(t *testing.T) {
	q := newMessageQueue(10)

	for i := 0; i < 5; i++ {
		if !q.push(roomstore.ChatMessage{ID: fmt.Sprintf("%d", i)}) {
			t.Fatalf("push %d rejected below capacity", i)
		}
	}

	for i := 0; i < 5; i++ {
		msg, ok := q.peek()
		if !ok {
			t.Fatalf("peek %d on non-empty queue failed", i)
		}
		if msg.ID != fmt.Sprintf("%d", i) {
			t.Errorf("peek %d returned id %q", i, msg.ID)
		}
		q.dropHead()
	}

	if _, ok := q.peek(); ok {
		t.Error("queue not empty after draining")
	}
}

func TestQueueRejectsNewestWhenFull(t *testing.T) {
	q := newMessageQueue(2)

	q.push(roomstore.ChatMessage{ID: "a"})
	q.push(roomstore.ChatMessage{ID: "b"})
	if q.push(roomstore.ChatMessage{ID: "c"}) {
		t.Error("push succeeded beyond capacity")
	}

	// The oldest entries survive intact.
	msg, _ := q.peek()
	if msg.ID != "a" {
		t.Errorf("head = %q, want %q", msg.ID, "a")
	}
	if q.len() != 2 {
		t.Errorf("len = %d, want 2", q.len())
	}
}

func TestQueueDropHeadOnEmptyIsNoOp(t *testing.T) {
	q := newMessageQueue(1)
	q.dropHead() // must not panic
	if q.len() != 0 {
		t.Errorf("len = %d, want 0", q.len())
	}
}

func TestNewMessageQueueClampsCapacity(t *testing.T) {
	q := newMessageQueue(0)
	if !q.push(roomstore.ChatMessage{ID: "a"}) {
		t.Error("clamped queue rejected first entry")
	}
	if q.push(roomstore.ChatMessage{ID: "b"}) {
		t.Error("clamped queue accepted second entry")
	}
}
