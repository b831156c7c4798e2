package broker

import "github.com/systemshift/codegraph/internal/core"

// historyRing is the bounded audit buffer: once full, the oldest entries are
// dropped first. Callers hold the broker mutex.
type historyRing struct {
	entries []core.HistoryEntry
	start   int
	count   int
}

func newHistoryRing(capacity int) *historyRing {
	return &historyRing{entries: make([]core.HistoryEntry, capacity)}
}

func (r *historyRing) add(entry core.HistoryEntry) {
	if r.count < len(r.entries) {
		r.entries[(r.start+r.count)%len(r.entries)] = entry
		r.count++
		return
	}
	r.entries[r.start] = entry
	r.start = (r.start + 1) % len(r.entries)
}

// tail returns the newest limit entries in chronological order. Non-positive
// limit returns everything retained.
func (r *historyRing) tail(limit int) []core.HistoryEntry {
	n := r.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]core.HistoryEntry, n)
	for i := 0; i < n; i++ {
		idx := (r.start + r.count - n + i) % len(r.entries)
		out[i] = r.entries[idx]
	}
	return out
}
