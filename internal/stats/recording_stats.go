package stats

import "sync"

// RecordingStats is a StatsProvider for tests that assert on metric
// traffic. Incr and Decr are safe to call from any goroutine.
type RecordingStats struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewRecordingStats() *RecordingStats {
	return &RecordingStats{counts: make(map[string]int)}
}

func (r *RecordingStats) Incr(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[name]++
}

func (r *RecordingStats) Decr(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[name]--
}

func (r *RecordingStats) RegisterMetric(name string) {}

func (r *RecordingStats) Run() {}

// Count returns the net Incr/Decr total observed for the metric.
func (r *RecordingStats) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[name]
}
