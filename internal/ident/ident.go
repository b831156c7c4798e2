// Package ident issues opaque unique identifiers and strictly increasing
// wall-clock timestamps for the journal and the entity stores.
package ident

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TimeFormat is the storage form of every timestamp: RFC 3339 with
// microsecond precision in UTC. Lexical order equals chronological order,
// which the journal's string range queries depend on.
const TimeFormat = "2006-01-02T15:04:05.000000Z"

// New returns a fresh opaque identifier.
func New() string {
	return uuid.New().String()
}

// Format renders t in the canonical storage form.
func Format(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// Parse reads a timestamp in the canonical storage form. It also accepts
// plain RFC 3339 so externally supplied timestamps round-trip.
func Parse(s string) (time.Time, error) {
	if t, err := time.Parse(TimeFormat, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// Clock issues timestamps that are strictly increasing within the process,
// along with a monotonic sequence number used as a tiebreaker column. If two
// callers land on the same wall-clock microsecond the later one is bumped
// forward by one microsecond.
type Clock struct {
	mu   sync.Mutex
	last time.Time
	seq  uint64
}

// NewClock returns a ready Clock.
func NewClock() *Clock {
	return &Clock{}
}

// Stamp returns the next timestamp and its sequence number.
func (c *Clock) Stamp() (time.Time, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC().Truncate(time.Microsecond)
	if !now.After(c.last) {
		now = c.last.Add(time.Microsecond)
	}
	c.last = now
	c.seq++
	return now, c.seq
}

// Now returns the next timestamp, discarding the sequence number.
func (c *Clock) Now() time.Time {
	t, _ := c.Stamp()
	return t
}
