// FilmTalk - Real-time Chat for the FilmTalk Movie Community
// Copyright 2026 FilmTalk Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/filmtalk/filmtalk

package presence

import (
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"
)

// Display names are movie-flavored: adjective + noun + number, e.g.
// "NoirPopcorn42". Users are anonymous guests; the name is the only
// identity a session carries.
var (
	nameAdjectives = []string{
		"Noir", "Epic", "Indie", "Retro", "Cult", "Silent", "Technicolor",
		"Widescreen", "Offscreen", "Dramatic", "Animated", "Surreal",
		"Golden", "Midnight", "Festival", "Arthouse", "Blockbuster", "Uncut",
	}
	nameNouns = []string{
		"Popcorn", "Reel", "Director", "Cameo", "Matinee", "Trailer",
		"Projector", "Script", "Premiere", "Critic", "Usher", "Stuntman",
		"Montage", "Sequel", "Spotlight", "Marquee", "Storyboard", "Extra",
	}
)

// NameGenerator produces guest display names unique among a caller-supplied
// set of taken names.
type NameGenerator struct {
	// maxAttempts bounds random sampling before the generator falls back
	// to a collision-proof suffix.
	maxAttempts int
}

// NewNameGenerator returns a generator bounding random retries at
// maxAttempts (values below 1 are raised to 1).
func NewNameGenerator(maxAttempts int) *NameGenerator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &NameGenerator{maxAttempts: maxAttempts}
}

// Generate returns a display name for which taken() reports false.
// After maxAttempts random samples it degrades to a "Guest-<rand>" form
// whose entropy makes further collisions effectively impossible.
func (g *NameGenerator) Generate(taken func(string) bool) string {
	for i := 0; i < g.maxAttempts; i++ {
		name := fmt.Sprintf("%s%s%d",
			nameAdjectives[rand.IntN(len(nameAdjectives))],
			nameNouns[rand.IntN(len(nameNouns))],
			rand.IntN(999)+1,
		)
		if !taken(name) {
			return name
		}
	}

	for {
		name := "Guest-" + uuid.NewString()[:8]
		if !taken(name) {
			return name
		}
	}
}
