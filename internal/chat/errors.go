// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

package chat

import (
	"fmt"

	"github.com/filmtalk/filmtalk/internal/logging"
	"github.com/filmtalk/filmtalk/internal/metrics"
)

// ErrorCode classifies handler failures for the sink and the error
// counter.
type ErrorCode string

const (
	// CodeValidation marks malformed or out-of-bounds client input.
	CodeValidation ErrorCode = "validation_error"
	// CodeServiceUnavailable marks failed calls to the room store.
	CodeServiceUnavailable ErrorCode = "service_unavailable"
	// CodeUnknownConnection marks events from connections with no session.
	CodeUnknownConnection ErrorCode = "unknown_connection"
	// CodeInternal marks recovered panics and other handler bugs.
	CodeInternal ErrorCode = "internal_error"
)

// EventError is one classified handler failure.
type EventError struct {
	ConnectionID string
	Event        string
	Code         ErrorCode
	Err          error
}

func (e EventError) Error() string {
	return fmt.Sprintf("%s handling %s for %s: %v", e.Code, e.Event, e.ConnectionID, e.Err)
}

func (e EventError) Unwrap() error { return e.Err }

// ErrorSink receives every classified handler failure. The hub never
// lets a handler error escape the event loop; everything funnels here.
type ErrorSink interface {
	Report(e EventError)
}

type logSink struct{}

// NewLogSink returns the production sink: structured log plus the
// per-code error counter.
func NewLogSink() ErrorSink { return logSink{} }

func (logSink) Report(e EventError) {
	metrics.EventErrors.WithLabelValues(string(e.Code)).Inc()
	logging.Error().
		Err(e.Err).
		Str("connection_id", e.ConnectionID).
		Str("event", e.Event).
		Str("code", string(e.Code)).
		Msg("chat event failed")
}
