// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRunner struct {
	ran atomic.Bool
}

func (f *fakeRunner) RunWithContext(ctx context.Context) error {
	f.ran.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

func TestHubServiceDelegatesAndStopsOnCancel(t *testing.T) {
	runner := &fakeRunner{}
	svc := NewHubService(runner)
	if svc.String() != "chat-hub" {
		t.Errorf("name = %q", svc.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	waitForCond(t, func() bool { return runner.ran.Load() }, "hub run")
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop on cancel")
	}
}

type fakeHTTPServer struct {
	listening chan struct{}
	release   chan struct{}
	listenErr error
	shutdowns atomic.Int32
}

func newFakeHTTPServer() *fakeHTTPServer {
	return &fakeHTTPServer{
		listening: make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (f *fakeHTTPServer) ListenAndServe() error {
	close(f.listening)
	if f.listenErr != nil {
		return f.listenErr
	}
	<-f.release
	return http.ErrServerClosed
}

func (f *fakeHTTPServer) Shutdown(context.Context) error {
	f.shutdowns.Add(1)
	close(f.release)
	return nil
}

func TestHTTPServerServiceGracefulShutdown(t *testing.T) {
	server := newFakeHTTPServer()
	svc := NewHTTPServerService(server, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	<-server.listening
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("service did not stop on cancel")
	}
	if got := server.shutdowns.Load(); got != 1 {
		t.Errorf("shutdown called %d times, want 1", got)
	}
}

func TestHTTPServerServiceReportsListenFailure(t *testing.T) {
	server := newFakeHTTPServer()
	server.listenErr = errors.New("address already in use")
	svc := NewHTTPServerService(server, time.Second)

	err := svc.Serve(context.Background())
	if err == nil || !errors.Is(err, server.listenErr) {
		t.Errorf("Serve returned %v, want wrapped listen error", err)
	}
}

func waitForCond(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
