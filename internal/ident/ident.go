// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

// Package ident generates monotonically ordered message identifiers.
//
// Identifiers have the form "<epoch_ms>_<seq>" where seq is a zero-padded
// counter that resets whenever the millisecond advances. Comparing parsed
// (timestamp, seq) pairs lexicographically yields a strictly increasing
// order within a single process, even under rapid-fire generation.
//
// Identifiers are not unique across process restarts; the message store
// keys rows on its own surrogate key, so overlap after a restart is
// harmless.
package ident

import (
	"fmt"
	"sync"
	"time"
)

// Generator produces process-unique, ordered message identifiers.
// Safe for concurrent use. The zero value is not usable; call New.
type Generator struct {
	mu     sync.Mutex
	lastMS int64
	seq    int

	// now is swappable for tests.
	now func() time.Time
}

// New returns a ready-to-use Generator.
func New() *Generator {
	return &Generator{now: time.Now}
}

// Next returns the next identifier. Within the same millisecond the
// sequence counter increments; when the clock advances it resets to 0.
func (g *Generator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms == g.lastMS {
		g.seq++
	} else if ms > g.lastMS {
		g.lastMS = ms
		g.seq = 0
	} else {
		// Clock went backwards (NTP step). Keep the old millisecond and
		// keep counting so ordering is preserved.
		g.seq++
	}

	return fmt.Sprintf("%d_%03d", g.lastMS, g.seq)
}
