// Package clock provides the gateway's time source and ID generation,
// kept behind a small interface so tests can substitute a fixed clock
// without reaching for a wall-clock dependency in every package.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// SystemClock returns the real, UTC wall-clock time.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// UUIDGenerator generates RFC 4122 v4 identifiers.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string { return uuid.NewString() }

// FixedClock always returns the same instant. Used by tests that need
// deterministic timestamps.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// SequentialIDGenerator returns ids from a fixed, repeating list — used
// by tests that need predictable, reproducible IDs.
type SequentialIDGenerator struct {
	IDs []string
	n   int
}

func (g *SequentialIDGenerator) NewID() string {
	if len(g.IDs) == 0 {
		return ""
	}
	id := g.IDs[g.n%len(g.IDs)]
	g.n++
	return id
}
