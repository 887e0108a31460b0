// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

// Package metrics provides Prometheus instrumentation for the chat server:
// connection gauges, broadcast throughput, persistence state, queue depth,
// and room-store error rates. Exposed on /metrics via promhttp.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsCurrent tracks live WebSocket connections.
	ConnectionsCurrent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filmtalk_connections_current",
			Help: "Current number of connected chat clients",
		},
	)

	// ConnectionsTotal counts every connection ever registered.
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filmtalk_connections_total",
			Help: "Total number of chat connections since process start",
		},
	)

	// RoomsActive tracks rooms with at least one member.
	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filmtalk_rooms_active",
			Help: "Number of rooms with at least one connected member",
		},
	)

	// EventsProcessed counts inbound socket events by event name.
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filmtalk_events_processed_total",
			Help: "Total inbound socket events processed",
		},
		[]string{"event"},
	)

	// EventErrors counts handler errors by taxonomy code.
	EventErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filmtalk_event_errors_total",
			Help: "Total handler errors routed to the error sink",
		},
		[]string{"code"},
	)

	// MessagesBroadcast counts chat messages fanned out to rooms.
	MessagesBroadcast = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filmtalk_messages_broadcast_total",
			Help: "Total chat messages broadcast to room members",
		},
	)

	// MessagesPersisted counts messages durably stored, directly or via drain.
	MessagesPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filmtalk_messages_persisted_total",
			Help: "Total chat messages successfully persisted",
		},
	)

	// MessagesDropped counts messages lost to recovery-queue overflow.
	MessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filmtalk_messages_dropped_total",
			Help: "Total chat messages dropped because the recovery queue was full",
		},
	)

	// PersistenceQueueDepth tracks entries awaiting durable storage.
	PersistenceQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filmtalk_persistence_queue_depth",
			Help: "Current number of messages in the persistence recovery queue",
		},
	)

	// PersistenceState reflects the controller mode: 0 normal, 1 recovery, 2 syncing.
	PersistenceState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filmtalk_persistence_state",
			Help: "Persistence controller state (0=normal, 1=recovery, 2=syncing)",
		},
	)

	// RoomStoreErrors counts failed room-store calls by operation.
	RoomStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filmtalk_roomstore_errors_total",
			Help: "Total failed room-store HTTP calls",
		},
		[]string{"operation"},
	)
)
