// Package telemetry collects runtime metrics for the holonic engine:
// timing aggregates, counters with rates, token totals, per-holon stats
// and a bounded ring of recent errors. A Collector is an explicit handle
// shared by the components that report into it; there is no package
// global.
package telemetry

import (
	"math"
	"sync"
	"time"
)

const defaultMaxErrors = 100

// TimingStats aggregates durations for one operation kind.
type TimingStats struct {
	Count   int64
	TotalMS float64
	MinMS   float64
	MaxMS   float64
}

// Record folds one measurement into the aggregate.
func (t *TimingStats) Record(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	if t.Count == 0 || ms < t.MinMS {
		t.MinMS = ms
	}
	if ms > t.MaxMS {
		t.MaxMS = ms
	}
	t.Count++
	t.TotalMS += ms
}

// AvgMS is the mean duration in milliseconds, 0 when empty.
func (t *TimingStats) AvgMS() float64 {
	if t.Count == 0 {
		return 0
	}
	return t.TotalMS / float64(t.Count)
}

func (t *TimingStats) summary() map[string]any {
	out := map[string]any{
		"count":    t.Count,
		"total_ms": round2(t.TotalMS),
		"avg_ms":   round2(t.AvgMS()),
	}
	if t.Count > 0 {
		out["min_ms"] = round2(t.MinMS)
		out["max_ms"] = round2(t.MaxMS)
	} else {
		out["min_ms"] = nil
		out["max_ms"] = nil
	}
	return out
}

// Counter tracks an event count plus first/last timestamps, which yield
// an observed rate.
type Counter struct {
	Count     int64
	FirstSeen time.Time
	LastSeen  time.Time
}

// Increment adds n events at the current time.
func (c *Counter) Increment(n int64) {
	now := time.Now().UTC()
	if c.FirstSeen.IsZero() {
		c.FirstSeen = now
	}
	c.LastSeen = now
	c.Count += n
}

// DurationSecs is the span between the first and last increment.
func (c *Counter) DurationSecs() float64 {
	if c.FirstSeen.IsZero() || c.LastSeen.IsZero() {
		return 0
	}
	return c.LastSeen.Sub(c.FirstSeen).Seconds()
}

// RatePerSec is the count spread over the observed span, 0 when the span
// is empty.
func (c *Counter) RatePerSec() float64 {
	d := c.DurationSecs()
	if d <= 0 {
		return 0
	}
	return float64(c.Count) / d
}

func (c *Counter) summary() map[string]any {
	return map[string]any{
		"count":         c.Count,
		"duration_secs": round2(c.DurationSecs()),
		"rate_per_sec":  round4(c.RatePerSec()),
	}
}

// AgentStats is the per-holon slice of the collector.
type AgentStats struct {
	Heartbeats     int64
	Actions        int64
	TokensReceived int64
	TokensSpent    int64
	Errors         int64
}

func (s *AgentStats) summary() map[string]any {
	return map[string]any{
		"heartbeats":      s.Heartbeats,
		"actions":         s.Actions,
		"tokens_received": s.TokensReceived,
		"tokens_spent":    s.TokensSpent,
		"errors":          s.Errors,
	}
}

// ErrorRecord is one entry of the error ring.
type ErrorRecord struct {
	Timestamp time.Time
	Type      string
	Message   string
	Context   map[string]any
}

// Collector aggregates metrics from the heart, the AI transport and
// action dispatch. All methods are safe for concurrent use.
type Collector struct {
	mu sync.Mutex

	heartbeatTiming     TimingStats
	aiCallTiming        TimingStats
	serializationTiming TimingStats
	actionTiming        map[string]*TimingStats

	heartbeats        Counter
	agentsProcessed   Counter
	actionsDispatched Counter
	actionsFailed     Counter
	tokensAllocated   Counter
	aiCalls           Counter

	promptTokensTotal   int64
	responseTokensTotal int64

	errors    []ErrorRecord
	maxErrors int

	agentStats map[string]*AgentStats
}

// New returns an empty collector with the default error ring size.
func New() *Collector {
	return &Collector{
		actionTiming: make(map[string]*TimingStats),
		maxErrors:    defaultMaxErrors,
		agentStats:   make(map[string]*AgentStats),
	}
}

func (c *Collector) agentStatsLocked(agentID string) *AgentStats {
	stats, ok := c.agentStats[agentID]
	if !ok {
		stats = &AgentStats{}
		c.agentStats[agentID] = stats
	}
	return stats
}

// RecordHeartbeat registers one heartbeat cycle covering agentCount
// holons.
func (c *Collector) RecordHeartbeat(duration time.Duration, agentCount int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heartbeats.Increment(1)
	c.heartbeatTiming.Record(duration)
	c.agentsProcessed.Increment(int64(agentCount))
}

// RecordAICall registers one round trip to the AI backend.
func (c *Collector) RecordAICall(duration time.Duration, promptTokens, responseTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aiCalls.Increment(1)
	c.aiCallTiming.Record(duration)
	c.promptTokensTotal += int64(promptTokens)
	c.responseTokensTotal += int64(responseTokens)
}

// RecordAction registers one dispatched action for a holon.
func (c *Collector) RecordAction(agentID, actionName string, duration time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actionsDispatched.Increment(1)
	stats, ok := c.actionTiming[actionName]
	if !ok {
		stats = &TimingStats{}
		c.actionTiming[actionName] = stats
	}
	stats.Record(duration)
	agent := c.agentStatsLocked(agentID)
	agent.Actions++
	if !success {
		c.actionsFailed.Increment(1)
		agent.Errors++
	}
}

// RecordSerialization registers one HUD/prompt serialization pass.
func (c *Collector) RecordSerialization(duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serializationTiming.Record(duration)
}

// RecordTokenAllocation registers tokens granted to a holon.
func (c *Collector) RecordTokenAllocation(agentID string, amount int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokensAllocated.Increment(amount)
	c.agentStatsLocked(agentID).TokensReceived += amount
}

// RecordTokensSpent registers tokens charged to a holon.
func (c *Collector) RecordTokensSpent(agentID string, amount int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentStatsLocked(agentID).TokensSpent += amount
}

// RecordAgentHeartbeat registers that a holon took part in a heartbeat.
func (c *Collector) RecordAgentHeartbeat(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentStatsLocked(agentID).Heartbeats++
}

// RecordError appends to the error ring, evicting the oldest entry once
// the ring is full.
func (c *Collector) RecordError(errType, message string, context map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errors) >= c.maxErrors {
		c.errors = c.errors[1:]
	}
	if context == nil {
		context = map[string]any{}
	}
	c.errors = append(c.errors, ErrorRecord{
		Timestamp: time.Now().UTC(),
		Type:      errType,
		Message:   message,
		Context:   context,
	})
}

// Summary renders every aggregate as a nested JSON-ready map.
func (c *Collector) Summary() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	byName := make(map[string]any, len(c.actionTiming))
	for name, stats := range c.actionTiming {
		byName[name] = stats.summary()
	}

	recent := c.errors
	if len(recent) > 5 {
		recent = recent[len(recent)-5:]
	}
	recentOut := make([]any, 0, len(recent))
	for _, rec := range recent {
		recentOut = append(recentOut, map[string]any{
			"timestamp": rec.Timestamp.Format(time.RFC3339Nano),
			"type":      rec.Type,
			"message":   rec.Message,
			"context":   rec.Context,
		})
	}

	aiCalls := c.aiCalls.summary()
	aiCalls["timing"] = c.aiCallTiming.summary()
	aiCalls["prompt_tokens_total"] = c.promptTokensTotal
	aiCalls["response_tokens_total"] = c.responseTokensTotal

	heartbeats := c.heartbeats.summary()
	heartbeats["timing"] = c.heartbeatTiming.summary()

	return map[string]any{
		"heartbeats": heartbeats,
		"ai_calls":   aiCalls,
		"actions": map[string]any{
			"dispatched": c.actionsDispatched.summary(),
			"failed":     c.actionsFailed.summary(),
			"by_name":    byName,
		},
		"tokens": map[string]any{
			"allocated": c.tokensAllocated.summary(),
		},
		"agents": map[string]any{
			"processed":    c.agentsProcessed.summary(),
			"unique_count": len(c.agentStats),
		},
		"errors": map[string]any{
			"count":  len(c.errors),
			"recent": recentOut,
		},
	}
}

// AgentSummary returns the stats of one holon, empty when unknown.
func (c *Collector) AgentSummary(agentID string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats, ok := c.agentStats[agentID]
	if !ok {
		return map[string]any{}
	}
	return stats.summary()
}

// Errors returns a copy of the error ring, oldest first.
func (c *Collector) Errors() []ErrorRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ErrorRecord, len(c.errors))
	copy(out, c.errors)
	return out
}

// Reset clears every aggregate.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heartbeatTiming = TimingStats{}
	c.aiCallTiming = TimingStats{}
	c.serializationTiming = TimingStats{}
	c.actionTiming = make(map[string]*TimingStats)
	c.heartbeats = Counter{}
	c.agentsProcessed = Counter{}
	c.actionsDispatched = Counter{}
	c.actionsFailed = Counter{}
	c.tokensAllocated = Counter{}
	c.aiCalls = Counter{}
	c.promptTokensTotal = 0
	c.responseTokensTotal = 0
	c.errors = nil
	c.agentStats = make(map[string]*AgentStats)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
