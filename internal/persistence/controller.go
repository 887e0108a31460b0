// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

// Package persistence guarantees that chat messages are eventually
// durably stored even while the message-store backend is unreachable,
// without blocking message delivery and without unbounded memory growth.
//
// The Controller is an explicit three-state machine:
//
//	Normal   - every message is stored immediately via a direct call
//	Recovery - the backend is down; messages are queued and a single
//	           recovery timer is armed
//	Syncing  - the timer fired; the queue is being drained in FIFO order
//
// Transitions:
//
//	Normal   -> Recovery  direct store call failed (message is queued)
//	Recovery -> Syncing   recovery timer elapsed
//	Syncing  -> Normal    queue drained completely
//	Syncing  -> Recovery  a drain call failed (remaining entries kept,
//	                      order preserved, timer re-armed)
//
// Invariants: the queue is never reordered; an entry is removed only
// after its store call succeeded; the queue is bounded and rejects the
// newest message when full (the loss is logged and counted).
package persistence

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/filmtalk/filmtalk/internal/logging"
	"github.com/filmtalk/filmtalk/internal/metrics"
	"github.com/filmtalk/filmtalk/internal/roomstore"
)

// State identifies the controller mode.
type State int

const (
	// StateNormal stores messages via direct calls.
	StateNormal State = iota
	// StateRecovery buffers messages while the backend is down.
	StateRecovery
	// StateSyncing drains the buffer after a recovery timer tick.
	StateSyncing
)

// String implements fmt.Stringer for logging and the health endpoint.
func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateRecovery:
		return "recovery"
	case StateSyncing:
		return "syncing"
	default:
		return "unknown"
	}
}

// MessageStore is the durable backend for chat messages.
// Satisfied by *roomstore.Client.
type MessageStore interface {
	SaveMessage(ctx context.Context, msg roomstore.ChatMessage) error
}

// Config holds controller tunables.
type Config struct {
	// RecoveryInterval is the cadence of recovery attempts.
	RecoveryInterval time.Duration
	// QueueCapacity bounds the recovery queue.
	QueueCapacity int
	// DrainPerSecond paces store calls while draining so a freshly
	// recovered backend is not flooded.
	DrainPerSecond float64
	// StoreTimeout bounds a single store call.
	StoreTimeout time.Duration
}

// Controller implements the recovery state machine. SaveMessage never
// returns an error and never blocks its caller on network I/O; the
// worst observable symptom of a dead backend is best-effort buffering.
type Controller struct {
	store   MessageStore
	cfg     Config
	limiter *rate.Limiter

	// ctx governs background work (direct calls, drains, limiter waits);
	// Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	queue *messageQueue
	timer *time.Timer // non-nil only while the recovery timer is armed
}

// NewController returns a Controller in Normal state.
func NewController(store MessageStore, cfg Config) *Controller {
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = 30 * time.Second
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	if cfg.DrainPerSecond <= 0 {
		cfg.DrainPerSecond = 50
	}

	ctx, cancel := context.WithCancel(context.Background())
	metrics.PersistenceState.Set(float64(StateNormal))

	return &Controller{
		store:   store,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.DrainPerSecond), 1),
		ctx:     ctx,
		cancel:  cancel,
		queue:   newMessageQueue(cfg.QueueCapacity),
	}
}

// SaveMessage accepts msg for best-effort durable storage. In Normal
// state the store call runs in a background goroutine; in Recovery or
// Syncing the message is appended to the queue behind any entries
// already waiting.
func (c *Controller) SaveMessage(msg roomstore.ChatMessage) {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		c.countDrop(msg, "controller closed")
		return
	}
	if c.state != StateNormal {
		c.enqueueLocked(msg)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	go c.storeDirect(msg)
}

// State returns the current mode.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueueDepth returns the number of messages awaiting storage.
func (c *Controller) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue.len()
}

// Close cancels background work and the recovery timer. Messages still
// queued are lost with the process, consistent with the in-memory
// buffering contract.
func (c *Controller) Close() {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if depth := c.queue.len(); depth > 0 {
		logging.Warn().Int("queued", depth).Msg("persistence controller closing with undrained queue")
	}
}

// storeDirect attempts an immediate store; on failure the message joins
// the queue and the machine enters Recovery.
func (c *Controller) storeDirect(msg roomstore.ChatMessage) {
	ctx, cancel := context.WithTimeout(c.ctx, c.cfg.StoreTimeout)
	defer cancel()

	if err := c.store.SaveMessage(ctx, msg); err != nil {
		logging.Warn().
			Err(err).
			Str("room", msg.RoomName).
			Msg("direct persistence failed, entering recovery")
		c.onDirectFailure(msg)
		return
	}
	metrics.MessagesPersisted.Inc()
}

// onDirectFailure queues the failed message and arms the recovery timer.
// A stale direct call can land after the state already changed; the
// message is still queued and the current state is left alone.
func (c *Controller) onDirectFailure(msg roomstore.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx.Err() != nil {
		c.countDrop(msg, "controller closed")
		return
	}

	c.enqueueLocked(msg)
	if c.state == StateNormal {
		c.setStateLocked(StateRecovery)
	}
	c.armTimerLocked()
}

// onRecoveryTick moves Recovery -> Syncing and starts a drain.
func (c *Controller) onRecoveryTick() {
	c.mu.Lock()
	c.timer = nil
	if c.ctx.Err() != nil || c.state != StateRecovery {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(StateSyncing)
	c.mu.Unlock()

	c.drain()
}

// drain flushes the queue in FIFO order. Entries are removed only after
// a successful store call; the first failure sends the machine back to
// Recovery with the remaining entries intact and the timer re-armed.
func (c *Controller) drain() {
	for {
		c.mu.Lock()
		if c.ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		msg, ok := c.queue.peek()
		if !ok {
			c.setStateLocked(StateNormal)
			c.mu.Unlock()
			logging.Info().Msg("recovery queue drained, persistence back to normal")
			return
		}
		c.mu.Unlock()

		if err := c.limiter.Wait(c.ctx); err != nil {
			return // closed during pacing
		}

		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.StoreTimeout)
		err := c.store.SaveMessage(ctx, msg)
		cancel()
		if err != nil {
			c.mu.Lock()
			if c.ctx.Err() == nil {
				c.setStateLocked(StateRecovery)
				c.armTimerLocked()
			}
			depth := c.queue.len()
			c.mu.Unlock()
			logging.Warn().
				Err(err).
				Int("queued", depth).
				Msg("drain failed, re-entering recovery")
			return
		}

		c.mu.Lock()
		c.queue.dropHead()
		metrics.PersistenceQueueDepth.Set(float64(c.queue.len()))
		c.mu.Unlock()
		metrics.MessagesPersisted.Inc()
	}
}

// enqueueLocked appends msg, rejecting the newest on overflow.
func (c *Controller) enqueueLocked(msg roomstore.ChatMessage) {
	if !c.queue.push(msg) {
		c.countDrop(msg, "recovery queue full")
		return
	}
	metrics.PersistenceQueueDepth.Set(float64(c.queue.len()))
}

// armTimerLocked starts the recovery timer unless one is already armed.
// The single-timer guard prevents stacked concurrent drains.
func (c *Controller) armTimerLocked() {
	if c.timer != nil {
		return
	}
	c.timer = time.AfterFunc(c.cfg.RecoveryInterval, c.onRecoveryTick)
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	metrics.PersistenceState.Set(float64(s))
}

func (c *Controller) countDrop(msg roomstore.ChatMessage, reason string) {
	metrics.MessagesDropped.Inc()
	logging.Warn().
		Str("room", msg.RoomName).
		Str("user", msg.UserName).
		Str("reason", reason).
		Msg("chat message dropped")
}
