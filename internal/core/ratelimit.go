package core

import (
	"sync"
	"time"
)

// ReportLimiter caps the number of anomaly reports per sliding time window.
// A rejected report records nothing, so a sustained flood keeps being
// dropped until the window slides past older entries.
type ReportLimiter struct {
	mu         sync.Mutex
	timestamps []time.Time
	max        int
	window     time.Duration
}

// NewReportLimiter creates a limiter allowing max reports per window.
func NewReportLimiter(max int, window time.Duration) *ReportLimiter {
	if max <= 0 {
		max = 20
	}
	if window <= 0 {
		window = time.Minute
	}
	return &ReportLimiter{
		timestamps: make([]time.Time, 0, max),
		max:        max,
		window:     window,
	}
}

// Allow reports whether a report at the given instant is within budget,
// recording the timestamp only when allowed.
func (l *ReportLimiter) Allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	recent := 0
	for _, ts := range l.timestamps {
		if ts.After(cutoff) {
			recent++
		}
	}
	if recent >= l.max {
		return false
	}

	l.timestamps = append(l.timestamps, now)
	// Keep the ledger bounded; entries past the window no longer matter.
	if len(l.timestamps) > l.max*2 {
		l.timestamps = append(l.timestamps[:0], l.timestamps[len(l.timestamps)-l.max:]...)
	}
	return true
}

// Recorded returns the number of timestamps currently in the ledger.
func (l *ReportLimiter) Recorded() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.timestamps)
}
