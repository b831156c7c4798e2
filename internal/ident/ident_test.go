package ident

import (
	"sync"
	"testing"
	"time"
)

func TestClockStrictlyIncreasing(t *testing.T) {
	clock := NewClock()
	var last time.Time
	var lastSeq uint64
	for i := 0; i < 10000; i++ {
		ts, seq := clock.Stamp()
		if !ts.After(last) {
			t.Fatalf("stamp %d: %v is not after %v", i, ts, last)
		}
		if seq != lastSeq+1 {
			t.Fatalf("stamp %d: seq %d, want %d", i, seq, lastSeq+1)
		}
		last, lastSeq = ts, seq
	}
}

func TestClockConcurrent(t *testing.T) {
	clock := NewClock()
	const workers = 8
	const perWorker = 500

	var wg sync.WaitGroup
	stamps := make([][]time.Time, workers)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ts, _ := clock.Stamp()
				stamps[w] = append(stamps[w], ts)
			}
		}(w)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, worker := range stamps {
		for _, ts := range worker {
			key := Format(ts)
			if seen[key] {
				t.Fatalf("duplicate timestamp %s", key)
			}
			seen[key] = true
		}
	}
}

func TestFormatOrderMatchesChronology(t *testing.T) {
	clock := NewClock()
	prev := ""
	for i := 0; i < 1000; i++ {
		current := Format(clock.Now())
		if current <= prev {
			t.Fatalf("formatted %q not after %q", current, prev)
		}
		prev = current
	}
}

func TestParseRoundTrip(t *testing.T) {
	clock := NewClock()
	ts := clock.Now()
	parsed, err := Parse(Format(ts))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !parsed.Equal(ts) {
		t.Errorf("round trip %v != %v", parsed, ts)
	}
}

func TestParseAcceptsRFC3339(t *testing.T) {
	parsed, err := Parse("2026-08-06T12:00:00Z")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if parsed.Hour() != 12 {
		t.Errorf("got hour %d, want 12", parsed.Hour())
	}
}

func TestNewIDsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		id := New()
		if id == "" {
			t.Fatal("empty id")
		}
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
	}
}
