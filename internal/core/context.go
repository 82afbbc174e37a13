package core

const (
	maxDeltas      = 50
	maxTraces      = 500
	traceEvictSize = 100
	maxRecentLogs  = 5000
)

// deltaRing is a fixed-size ring of inter-arrival gaps, oldest evicted first.
type deltaRing struct {
	values []float64
	pos    int
	full   bool
}

func newDeltaRing(size int) *deltaRing {
	return &deltaRing{values: make([]float64, size)}
}

func (r *deltaRing) Append(v float64) {
	r.values[r.pos] = v
	r.pos = (r.pos + 1) % len(r.values)
	if r.pos == 0 {
		r.full = true
	}
}

func (r *deltaRing) Len() int {
	if r.full {
		return len(r.values)
	}
	return r.pos
}

// Values returns the retained deltas in chronological order.
func (r *deltaRing) Values() []float64 {
	n := r.Len()
	out := make([]float64, n)
	start := 0
	if r.full {
		start = r.pos
	}
	for i := 0; i < n; i++ {
		out[i] = r.values[(start+i)%len(r.values)]
	}
	return out
}

// TemplateStats holds the rolling statistical state for one log template.
// It lives for the process lifetime.
type TemplateStats struct {
	Count       int
	LastSeen    float64 // epoch seconds of the previous observation, 0 = never
	Deltas      *deltaRing
	Transitions map[string]int // successor template id -> count
	Users       map[string]struct{}
}

// TotalTransitions returns the sum of all outgoing transition counts.
func (s *TemplateStats) TotalTransitions() int {
	total := 0
	for _, n := range s.Transitions {
		total += n
	}
	return total
}

type windowEntry struct {
	timestamp  float64
	templateID string
}

// ContextEngine maintains the rolling statistical state behind the anomaly
// rules: per-template stats, per-request traces, and a time-bounded window
// of recent template occurrences. It is not safe for concurrent use; the
// monitor callback serializes all updates (one LogMonitor per process).
type ContextEngine struct {
	templates     map[string]*TemplateStats
	traces        map[string][]*LogFeatures
	traceOrder    []string
	recent        []windowEntry
	historyWindow float64 // seconds
}

// NewContextEngine creates a ContextEngine with the given window age bound
// in seconds.
func NewContextEngine(historyWindow float64) *ContextEngine {
	if historyWindow <= 0 {
		historyWindow = 300
	}
	return &ContextEngine{
		templates:     make(map[string]*TemplateStats),
		traces:        make(map[string][]*LogFeatures),
		historyWindow: historyWindow,
	}
}

// Update folds one observation into all state, exactly once per line.
// The event's own timestamp drives window pruning so replays with
// historical timestamps stay consistent.
func (c *ContextEngine) Update(f *LogFeatures) {
	now := f.Timestamp
	tid := f.TemplateID

	stats := c.stats(tid)
	if stats.LastSeen > 0 {
		if delta := now - stats.LastSeen; delta >= 0 {
			stats.Deltas.Append(delta)
		}
		// Out-of-order timestamps are ignored for delta purposes only.
	}
	stats.LastSeen = now
	stats.Count++

	if f.UserID != "" {
		stats.Users[f.UserID] = struct{}{}
	}

	if f.RequestID != "" {
		trace, exists := c.traces[f.RequestID]
		if len(trace) > 0 {
			prev := c.stats(trace[len(trace)-1].TemplateID)
			prev.Transitions[tid]++
		}
		c.traces[f.RequestID] = append(trace, f)
		if !exists {
			c.traceOrder = append(c.traceOrder, f.RequestID)
			if len(c.traces) > maxTraces {
				c.evictTraces()
			}
		}
	}

	c.recent = append(c.recent, windowEntry{timestamp: now, templateID: tid})
	c.prune(now)
}

// TemplateFrequency counts occurrences of a template currently inside the
// recent-logs window.
func (c *ContextEngine) TemplateFrequency(templateID string) int {
	n := 0
	for _, e := range c.recent {
		if e.templateID == templateID {
			n++
		}
	}
	return n
}

// Stats returns the stats record for a template, or nil if never seen.
func (c *ContextEngine) Stats(templateID string) *TemplateStats {
	return c.templates[templateID]
}

// Trace returns the ordered feature sequence recorded for a request id.
func (c *ContextEngine) Trace(requestID string) []*LogFeatures {
	return c.traces[requestID]
}

// TrackedTraces returns the number of request ids currently tracked.
func (c *ContextEngine) TrackedTraces() int {
	return len(c.traces)
}

// WindowSize returns the number of entries currently in the window.
func (c *ContextEngine) WindowSize() int {
	return len(c.recent)
}

func (c *ContextEngine) stats(templateID string) *TemplateStats {
	stats, ok := c.templates[templateID]
	if !ok {
		stats = &TemplateStats{
			Deltas:      newDeltaRing(maxDeltas),
			Transitions: make(map[string]int),
			Users:       make(map[string]struct{}),
		}
		c.templates[templateID] = stats
	}
	return stats
}

// evictTraces drops the oldest tracked request ids in bulk. Insertion order
// is a good enough approximation of staleness here; exact LRU is not worth
// the bookkeeping for a 500-entry table.
func (c *ContextEngine) evictTraces() {
	n := traceEvictSize
	if n > len(c.traceOrder) {
		n = len(c.traceOrder)
	}
	for _, rid := range c.traceOrder[:n] {
		delete(c.traces, rid)
	}
	c.traceOrder = append(c.traceOrder[:0], c.traceOrder[n:]...)
}

// prune enforces both window bounds: age relative to the newest event, and
// a hard capacity cap. Age pruning runs on every update so the window always
// means "occurrences within the last historyWindow seconds".
func (c *ContextEngine) prune(now float64) {
	cutoff := now - c.historyWindow
	drop := 0
	for drop < len(c.recent) && c.recent[drop].timestamp < cutoff {
		drop++
	}
	if over := len(c.recent) - drop - maxRecentLogs; over > 0 {
		drop += over
	}
	if drop > 0 {
		c.recent = append(c.recent[:0], c.recent[drop:]...)
	}
}
