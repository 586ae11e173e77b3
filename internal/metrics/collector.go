// Package metrics keeps in-process counters for the gateway. Assistant-branch failures never reach the
// caller, so this is where they become visible.
package metrics

import (
	"math"
	"sync"
	"time"
)

// Assistant-branch outcomes.
const (
	OutcomeSucceeded         = "succeeded"
	OutcomeRateLimited       = "rate_limited"
	OutcomeProviderFailed    = "provider_failed"
	OutcomeNotConfigured     = "not_configured"
	OutcomePersistenceFailed = "persistence_failed"
	OutcomeContextFailed     = "context_failed"
)

// Operation names for timings.
const (
	OpDispatch   = "dispatch"
	OpModeration = "moderation"
	OpSend       = "send"
	OpSuggest    = "suggest"
	OpImage      = "image"
)

type OperationMetrics struct {
	Count     int64
	Errors    int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	PromptTokens     int64
	CompletionTokens int64
}

type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Errors      int64   `json:"errors"`
	TotalTimeMs int64   `json:"totalTimeMs"`
	AvgTimeMs   float64 `json:"avgTimeMs"`
	MinTimeMs   int64   `json:"minTimeMs"`
	MaxTimeMs   int64   `json:"maxTimeMs"`

	PromptTokens     *int64 `json:"promptTokens,omitempty"`
	CompletionTokens *int64 `json:"completionTokens,omitempty"`
}

type Snapshot struct {
	UptimeSeconds float64                       `json:"uptimeSeconds"`
	Assistant     map[string]int64              `json:"assistant"`
	Operations    map[string]*OperationSnapshot `json:"operations"`
}

// Collector is safe for concurrent use.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	outcomes  map[string]int64
	ops       map[string]*OperationMetrics
}

func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		outcomes:  make(map[string]int64),
		ops:       make(map[string]*OperationMetrics),
	}
}

// caller must hold the write lock
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordOutcome counts how one assistant branch ended.
func (c *Collector) RecordOutcome(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes[outcome]++
}

// RecordTiming records one call of op; failed calls are counted in Errors.
func (c *Collector) RecordTiming(op string, duration time.Duration, failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	c.observe(m, duration)
	if failed {
		m.Errors++
	}
}

// RecordUsage records a successful provider call with its token usage.
func (c *Collector) RecordUsage(op string, duration time.Duration, promptTokens, completionTokens int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	c.observe(m, duration)
	m.PromptTokens += promptTokens
	m.CompletionTokens += completionTokens
}

func (c *Collector) observe(m *OperationMetrics, duration time.Duration) {
	m.Count++
	m.TotalTime += duration
	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// Outcome returns the count for one assistant-branch outcome.
func (c *Collector) Outcome(outcome string) int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.outcomes[outcome]
}

func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		Errors:      m.Errors,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
	if m.PromptTokens > 0 || m.CompletionTokens > 0 {
		prompt, completion := m.PromptTokens, m.CompletionTokens
		snap.PromptTokens = &prompt
		snap.CompletionTokens = &completion
	}
	return snap
}

// Snapshot returns a point-in-time copy of all counters.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Assistant:     make(map[string]int64, len(c.outcomes)),
		Operations:    make(map[string]*OperationSnapshot, len(c.ops)),
	}
	for k, v := range c.outcomes {
		snap.Assistant[k] = v
	}
	for op, m := range c.ops {
		if s := snapshotOp(m); s != nil {
			snap.Operations[op] = s
		}
	}
	return snap
}
