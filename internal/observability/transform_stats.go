// Package observability tracks how transformers and saved pipelines are used.
package observability

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Outcome labels recorded against pipelines.
const (
	OutcomeOK       = "ok"
	OutcomeCacheHit = "cache_hit"
	OutcomeError    = "error"
)

// TransformStats tracks transformer and pipeline frequency.
type TransformStats struct {
	mu           sync.RWMutex
	transformers map[string]*UsageStats
	pipelines    map[string]*UsageStats
	window       time.Duration
	now          func() time.Time
}

// UsageStats holds statistics for one transformer or pipeline.
type UsageStats struct {
	Name          string         `json:"name"`
	Calls         int64          `json:"calls"`
	Frames        int64          `json:"frames"`
	TotalDuration time.Duration  `json:"total_duration_ns"`
	LastSeen      time.Time      `json:"last_seen"`
	Outcomes      map[string]int `json:"outcomes,omitempty"`
}

// AvgDuration returns the mean duration per call.
func (s UsageStats) AvgDuration() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Calls)
}

// NewTransformStats creates a tracker whose entries expire after window.
func NewTransformStats(window time.Duration) *TransformStats {
	return &TransformStats{
		transformers: make(map[string]*UsageStats),
		pipelines:    make(map[string]*UsageStats),
		window:       window,
		now:          time.Now,
	}
}

// RecordTransformer records one step execution over frames frames.
func (t *TransformStats) RecordTransformer(id string, frames int, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.entry(t.transformers, id)
	s.Calls++
	s.Frames += int64(frames)
	s.TotalDuration += d
	s.LastSeen = t.now()
}

// RecordPipeline records one pipeline run and its outcome.
// Anonymous pipelines are recorded under an empty name by callers that
// choose to; the name is stored as given.
func (t *TransformStats) RecordPipeline(name, outcome string, frames int, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.entry(t.pipelines, name)
	s.Calls++
	s.Frames += int64(frames)
	s.TotalDuration += d
	s.LastSeen = t.now()
	s.Outcomes[outcome]++
}

// TopTransformers returns the n most used transformers by call count.
func (t *TransformStats) TopTransformers(n int) []UsageStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return top(t.transformers, n)
}

// TopPipelines returns the n most used pipelines by call count.
func (t *TransformStats) TopPipelines(n int) []UsageStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return top(t.pipelines, n)
}

// Prune removes entries not seen within the window.
func (t *TransformStats) Prune() {
	t.mu.Lock()
	defer t.mu.Unlock()

	threshold := t.now().Add(-t.window)
	for _, m := range []map[string]*UsageStats{t.transformers, t.pipelines} {
		for name, s := range m {
			if s.LastSeen.Before(threshold) {
				delete(m, name)
			}
		}
	}
}

// RunPruner calls Prune every interval until ctx is done.
func (t *TransformStats) RunPruner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Prune()
		}
	}
}

// entry must be called with t.mu held.
func (t *TransformStats) entry(m map[string]*UsageStats, name string) *UsageStats {
	s, ok := m[name]
	if !ok {
		s = &UsageStats{Name: name, Outcomes: make(map[string]int)}
		m[name] = s
	}
	return s
}

func top(m map[string]*UsageStats, n int) []UsageStats {
	if n <= 0 || len(m) == 0 {
		return []UsageStats{}
	}

	stats := make([]UsageStats, 0, len(m))
	for _, s := range m {
		c := *s
		c.Outcomes = make(map[string]int, len(s.Outcomes))
		for k, v := range s.Outcomes {
			c.Outcomes[k] = v
		}
		stats = append(stats, c)
	}

	// Ties break by name so output is deterministic
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Calls != stats[j].Calls {
			return stats[i].Calls > stats[j].Calls
		}
		return stats[i].Name < stats[j].Name
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}
