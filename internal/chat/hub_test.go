// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

package chat

import (
	"context"
	"errors"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/filmtalk/filmtalk/internal/ident"
	"github.com/filmtalk/filmtalk/internal/logging"
	"github.com/filmtalk/filmtalk/internal/presence"
	"github.com/filmtalk/filmtalk/internal/roomstore"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{Level: "info", Format: "console", Output: io.Discard})
}

type fakeDirectory struct {
	mu        sync.Mutex
	created   []string
	touched   []string
	rooms     []roomstore.Room
	createErr error
	listErr   error
	touchErr  error
}

func (f *fakeDirectory) CreateRoom(_ context.Context, roomName, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.created = append(f.created, roomName)
	return nil
}

func (f *fakeDirectory) TouchActivity(_ context.Context, roomName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.touchErr != nil {
		return f.touchErr
	}
	f.touched = append(f.touched, roomName)
	return nil
}

func (f *fakeDirectory) ListRooms(_ context.Context) ([]roomstore.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.rooms, nil
}

func (f *fakeDirectory) createdRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.created...)
}

type fakeSaver struct {
	mu    sync.Mutex
	saved []roomstore.ChatMessage
}

func (f *fakeSaver) SaveMessage(msg roomstore.ChatMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, msg)
}

func (f *fakeSaver) savedMessages() []roomstore.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]roomstore.ChatMessage(nil), f.saved...)
}

type recordingSink struct {
	mu      sync.Mutex
	reports []EventError
}

func (s *recordingSink) Report(e EventError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, e)
}

func (s *recordingSink) byCode(code ErrorCode) []EventError {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []EventError
	for _, e := range s.reports {
		if e.Code == code {
			out = append(out, e)
		}
	}
	return out
}

// rig is one running hub with fakes for every collaborator.
type rig struct {
	hub      *Hub
	dir      *fakeDirectory
	saver    *fakeSaver
	sink     *recordingSink
	registry *presence.Registry
}

func startHub(t *testing.T) *rig {
	t.Helper()

	r := &rig{
		dir:      &fakeDirectory{},
		saver:    &fakeSaver{},
		sink:     &recordingSink{},
		registry: presence.NewRegistry(presence.NewNameGenerator(10)),
	}
	r.hub = NewHub(Config{DirectoryTimeout: time.Second}, r.registry, r.dir, r.saver, ident.New(), r.sink)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.hub.RunWithContext(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return r
}

// newTestClient builds a client with no underlying connection; tests
// read outbound frames straight off the send channel.
func newTestClient() *Client {
	return &Client{
		id:   uuid.NewString(),
		send: make(chan OutboundMessage, 64),
	}
}

// connect registers the client and consumes its welcome and first
// user-count frames, returning the assigned display name.
func (r *rig) connect(t *testing.T, c *Client) string {
	t.Helper()
	r.hub.Register <- c
	welcome := recv(t, c, EventWelcome)
	payload, ok := welcome.Data.(WelcomePayload)
	if !ok {
		t.Fatalf("welcome data is %T", welcome.Data)
	}
	if !payload.Success || payload.SocketID != c.id || payload.UserName == "" {
		t.Fatalf("welcome payload = %+v", payload)
	}
	recv(t, c, EventUserCountUpdate)
	return payload.UserName
}

// push injects an inbound event as if decoded by the client's read pump.
func (r *rig) push(c *Client, event string, data string) {
	r.hub.inbound <- inboundEvent{client: c, env: Envelope{Event: event, Data: []byte(data)}}
}

// recv waits for the next frame and asserts its event name.
func recv(t *testing.T, c *Client, wantEvent string) OutboundMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		if msg.Event != wantEvent {
			t.Fatalf("received event %q, want %q (data %+v)", msg.Event, wantEvent, msg.Data)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", wantEvent)
		return OutboundMessage{}
	}
}

// recvNothing asserts no frame arrives within a short window.
func recvNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected frame %q (data %+v)", msg.Event, msg.Data)
	case <-time.After(100 * time.Millisecond):
	}
}

// drain discards frames until the channel goes quiet or closes.
func drain(c *Client) {
	for {
		select {
		case _, ok := <-c.send:
			if !ok {
				return
			}
		case <-time.After(50 * time.Millisecond):
			return
		}
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestRegisterSendsWelcomeAndBroadcastsCount(t *testing.T) {
	r := startHub(t)

	a := newTestClient()
	nameA := r.connect(t, a)

	b := newTestClient()
	r.hub.Register <- b
	// The existing client learns about the newcomer.
	count := recv(t, a, EventUserCountUpdate)
	if got := count.Data.(int); got != 2 {
		t.Errorf("user count = %d, want 2", got)
	}
	nameB := r.connect2(t, b)
	if nameA == nameB {
		t.Errorf("display names collide: %q", nameA)
	}
}

// connect2 consumes welcome and count for a client whose Register was
// already sent.
func (r *rig) connect2(t *testing.T, c *Client) string {
	t.Helper()
	welcome := recv(t, c, EventWelcome)
	recv(t, c, EventUserCountUpdate)
	return welcome.Data.(WelcomePayload).UserName
}

func TestCreateRoomConfirmsAndJoinsCreator(t *testing.T) {
	r := startHub(t)
	a := newTestClient()
	nameA := r.connect(t, a)

	r.push(a, EventCreateRoom, `{"roomName":"scifi","topic":"space operas"}`)

	result := recv(t, a, EventRoomCreationResult)
	payload := result.Data.(RoomCreationResult)
	if !payload.Success || payload.RoomName != "scifi" || payload.Topic != "space operas" {
		t.Fatalf("creation result = %+v", payload)
	}
	if payload.Timestamp == "" {
		t.Error("creation result missing timestamp")
	}

	// The creator is a member, so it sees its own user_joined.
	joined := recv(t, a, EventUserJoined)
	if got := joined.Data.(RoomPresencePayload); got.UserName != nameA || got.RoomName != "scifi" {
		t.Fatalf("user_joined = %+v", got)
	}

	profile, ok := r.registry.Profile(a.id)
	if !ok || profile.CurrentRoom != "scifi" {
		t.Errorf("creator session room = %q, want scifi", profile.CurrentRoom)
	}
	waitFor(t, time.Second, func() bool { return len(r.dir.createdRooms()) == 1 }, "directory upsert")
}

func TestJoinRoomNotifiesWholeRoomIncludingJoiner(t *testing.T) {
	r := startHub(t)
	a, b := newTestClient(), newTestClient()
	r.connect(t, a)
	nameB := r.connect(t, b)

	r.push(a, EventCreateRoom, `{"roomName":"scifi"}`)
	drain(a)

	r.push(b, EventJoinRoom, `{"roomName":"scifi"}`)

	confirm := recv(t, b, EventRoomJoined)
	if got := confirm.Data.(RoomJoinedPayload); got.RoomName != "scifi" {
		t.Fatalf("room_joined = %+v", got)
	}
	// Both the incumbent and the joiner get the announcement.
	forB := recv(t, b, EventUserJoined)
	forA := recv(t, a, EventUserJoined)
	for _, frame := range []OutboundMessage{forA, forB} {
		got := frame.Data.(RoomPresencePayload)
		if got.UserName != nameB || got.RoomName != "scifi" {
			t.Fatalf("user_joined = %+v, want user %q in scifi", got, nameB)
		}
	}
}

func TestRoomMessageReachesRoomIncludingSenderOnly(t *testing.T) {
	r := startHub(t)
	a, b, c := newTestClient(), newTestClient(), newTestClient()
	nameA := r.connect(t, a)
	r.connect(t, b)
	r.connect(t, c)

	r.push(a, EventCreateRoom, `{"roomName":"scifi"}`)
	drain(a)
	r.push(b, EventJoinRoom, `{"roomName":"scifi"}`)
	drain(a)
	drain(b)

	r.push(a, EventRoomMessage, `{"roomName":"scifi","message":"have you seen Solaris?"}`)

	for _, member := range []*Client{a, b} {
		frame := recv(t, member, EventRoomMessageReceived)
		got := frame.Data.(MessagePayload)
		if got.UserName != nameA || got.Message != "have you seen Solaris?" || got.RoomName != "scifi" {
			t.Fatalf("room_message_received = %+v", got)
		}
	}
	recvNothing(t, c) // not a member

	waitFor(t, time.Second, func() bool { return len(r.saver.savedMessages()) == 1 }, "message handed to saver")
	saved := r.saver.savedMessages()[0]
	if saved.RoomName != "scifi" || saved.UserName != nameA || saved.Message != "have you seen Solaris?" {
		t.Errorf("saved message = %+v", saved)
	}
	if !regexp.MustCompile(`^\d+_\d{3}$`).MatchString(saved.ID) {
		t.Errorf("message id %q not in ordered format", saved.ID)
	}
}

func TestLeaveRoomNotifiesRemainingMembersOnly(t *testing.T) {
	r := startHub(t)
	a, b := newTestClient(), newTestClient()
	r.connect(t, a)
	nameB := r.connect(t, b)

	r.push(a, EventCreateRoom, `{"roomName":"noir"}`)
	drain(a)
	r.push(b, EventJoinRoom, `{"roomName":"noir"}`)
	drain(a)
	drain(b)

	r.push(b, EventLeaveRoom, `{"roomName":"noir"}`)

	left := recv(t, a, EventUserLeft)
	if got := left.Data.(RoomPresencePayload); got.UserName != nameB || got.RoomName != "noir" {
		t.Fatalf("user_left = %+v", got)
	}
	recvNothing(t, b) // the leaver gets no echo

	profile, _ := r.registry.Profile(b.id)
	if profile.CurrentRoom != "" {
		t.Errorf("leaver still in room %q", profile.CurrentRoom)
	}
}

func TestDisconnectLeavesRoomSilently(t *testing.T) {
	r := startHub(t)
	a, b := newTestClient(), newTestClient()
	r.connect(t, a)
	r.connect(t, b)

	r.push(a, EventCreateRoom, `{"roomName":"noir"}`)
	drain(a)
	r.push(b, EventJoinRoom, `{"roomName":"noir"}`)
	drain(a)
	drain(b)

	r.hub.Unregister <- b

	// The survivor sees only the presence count drop, no user_left.
	count := recv(t, a, EventUserCountUpdate)
	if got := count.Data.(int); got != 1 {
		t.Errorf("user count = %d, want 1", got)
	}
	recvNothing(t, a)

	if _, ok := r.registry.Profile(b.id); ok {
		t.Error("session survived disconnect")
	}
	if got := r.hub.ClientCount(); got != 1 {
		t.Errorf("client count = %d, want 1", got)
	}
}

func TestDuplicateCreateBehavesLikeJoin(t *testing.T) {
	r := startHub(t)
	a, b := newTestClient(), newTestClient()
	r.connect(t, a)
	nameB := r.connect(t, b)

	r.push(a, EventCreateRoom, `{"roomName":"scifi"}`)
	drain(a)

	r.push(b, EventCreateRoom, `{"roomName":"scifi"}`)

	result := recv(t, b, EventRoomCreationResult)
	if got := result.Data.(RoomCreationResult); !got.Success {
		t.Fatalf("duplicate create result = %+v", got)
	}
	// The incumbent learns the second creator joined.
	joined := recv(t, a, EventUserJoined)
	if got := joined.Data.(RoomPresencePayload); got.UserName != nameB {
		t.Fatalf("user_joined = %+v, want %q", got, nameB)
	}
}

func TestJoiningAnotherRoomDetachesFromPrevious(t *testing.T) {
	r := startHub(t)
	a, b := newTestClient(), newTestClient()
	r.connect(t, a)
	r.connect(t, b)

	r.push(a, EventCreateRoom, `{"roomName":"scifi"}`)
	drain(a)
	r.push(b, EventJoinRoom, `{"roomName":"scifi"}`)
	drain(a)
	drain(b)

	r.push(b, EventJoinRoom, `{"roomName":"noir"}`)
	drain(a)
	drain(b)

	r.push(a, EventRoomMessage, `{"roomName":"scifi","message":"anyone here?"}`)
	recv(t, a, EventRoomMessageReceived)
	recvNothing(t, b)
}

func TestListRoomsMergesLiveMemberCounts(t *testing.T) {
	r := startHub(t)
	r.dir.rooms = []roomstore.Room{
		{RoomName: "scifi", Topic: "space operas"},
		{RoomName: "noir", Topic: "rain and cigarettes"},
	}
	a := newTestClient()
	r.connect(t, a)
	r.push(a, EventJoinRoom, `{"roomName":"scifi"}`)
	drain(a)

	r.push(a, EventGetRoomsList, ``)

	list := recv(t, a, EventRoomList)
	entries := list.Data.([]RoomListEntry)
	if len(entries) != 2 {
		t.Fatalf("room list has %d entries, want 2", len(entries))
	}
	byName := map[string]RoomListEntry{}
	for _, e := range entries {
		byName[e.RoomName] = e
	}
	if byName["scifi"].UserCount != 1 || byName["scifi"].Topic != "space operas" {
		t.Errorf("scifi entry = %+v", byName["scifi"])
	}
	if byName["noir"].UserCount != 0 {
		t.Errorf("noir entry = %+v", byName["noir"])
	}
}

func TestListRoomsFailureDegradesToEmptyList(t *testing.T) {
	r := startHub(t)
	r.dir.listErr = errors.New("directory down")
	a := newTestClient()
	r.connect(t, a)

	r.push(a, EventGetRoomsList, ``)

	list := recv(t, a, EventRoomList)
	if entries := list.Data.([]RoomListEntry); len(entries) != 0 {
		t.Errorf("room list = %+v, want empty", entries)
	}
	waitFor(t, time.Second, func() bool {
		return len(r.sink.byCode(CodeServiceUnavailable)) == 1
	}, "service_unavailable report")
}

func TestRequestUserCountRepliesToRequesterOnly(t *testing.T) {
	r := startHub(t)
	a, b := newTestClient(), newTestClient()
	r.connect(t, a)
	r.connect2of(t, b)
	drain(a) // clear the count broadcast from b's registration

	r.push(a, EventRequestUserCount, ``)

	count := recv(t, a, EventUserCountUpdate)
	if got := count.Data.(int); got != 2 {
		t.Errorf("user count = %d, want 2", got)
	}
	recvNothing(t, b)
}

// connect2of registers a late client and clears the resulting count
// frame from nobody else (caller drains peers itself if needed).
func (r *rig) connect2of(t *testing.T, c *Client) {
	t.Helper()
	r.hub.Register <- c
	recv(t, c, EventWelcome)
	recv(t, c, EventUserCountUpdate)
}

func TestInvalidPayloadsReportValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		event string
		data  string
	}{
		{"malformed json", EventCreateRoom, `{"roomName":`},
		{"empty room name", EventJoinRoom, `{"roomName":"  "}`},
		{"empty message", EventRoomMessage, `{"roomName":"scifi","message":"  "}`},
		{"missing payload", EventRoomMessage, ``},
		{"unknown event", "time_travel", `{}`},
		{"leave without room", EventLeaveRoom, `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := startHub(t)
			a := newTestClient()
			r.connect(t, a)

			r.push(a, tt.event, tt.data)

			frame := recv(t, a, EventErrorName)
			payload := frame.Data.(ErrorPayload)
			if payload.Success {
				t.Error("error payload claims success")
			}
			waitFor(t, time.Second, func() bool {
				return len(r.sink.byCode(CodeValidation)) == 1
			}, "validation report")
		})
	}
}

func TestOversizedMessageRejected(t *testing.T) {
	r := startHub(t)
	a := newTestClient()
	r.connect(t, a)
	r.push(a, EventJoinRoom, `{"roomName":"scifi"}`)
	drain(a)

	long := make([]byte, r.hub.cfg.MaxMessageLength+1)
	for i := range long {
		long[i] = 'a'
	}
	r.push(a, EventRoomMessage, `{"roomName":"scifi","message":"`+string(long)+`"}`)

	recv(t, a, EventErrorName)
	if got := len(r.saver.savedMessages()); got != 0 {
		t.Errorf("saver received %d messages, want 0", got)
	}
}

func TestEventFromUnknownConnectionRejected(t *testing.T) {
	r := startHub(t)
	ghost := newTestClient() // never registered

	r.push(ghost, EventJoinRoom, `{"roomName":"scifi"}`)

	recv(t, ghost, EventErrorName)
	waitFor(t, time.Second, func() bool {
		return len(r.sink.byCode(CodeUnknownConnection)) == 1
	}, "unknown_connection report")
}

func TestShutdownClosesAllClients(t *testing.T) {
	r := &rig{
		dir:      &fakeDirectory{},
		saver:    &fakeSaver{},
		sink:     &recordingSink{},
		registry: presence.NewRegistry(presence.NewNameGenerator(10)),
	}
	r.hub = NewHub(Config{}, r.registry, r.dir, r.saver, ident.New(), r.sink)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.hub.RunWithContext(ctx)
		close(done)
	}()

	a, b := newTestClient(), newTestClient()
	r.connect(t, a)
	r.connect(t, b)
	drain(a)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop on context cancel")
	}

	for _, c := range []*Client{a, b} {
		drain(c)
		if _, open := <-c.send; open {
			t.Error("send channel still open after shutdown")
		}
	}
	if got := r.hub.ClientCount(); got != 0 {
		t.Errorf("client count after shutdown = %d, want 0", got)
	}
}
