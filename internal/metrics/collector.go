// Package metrics provides in-memory runtime statistics and a Prometheus registry.
package metrics

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Errors    int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Token metrics (only for LLM operations)
	TotalInputTokens  int64
	TotalOutputTokens int64
	MinInputTokens    int64
	MaxInputTokens    int64
	MinOutputTokens   int64
	MaxOutputTokens   int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Errors      int64   `json:"errors"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`

	// Token stats (nil if not applicable)
	TotalInputTokens  *int64   `json:"total_input_tokens,omitempty"`
	TotalOutputTokens *int64   `json:"total_output_tokens,omitempty"`
	AvgInputTokens    *float64 `json:"avg_input_tokens,omitempty"`
	AvgOutputTokens   *float64 `json:"avg_output_tokens,omitempty"`
	MinInputTokens    *int64   `json:"min_input_tokens,omitempty"`
	MaxInputTokens    *int64   `json:"max_input_tokens,omitempty"`
	MinOutputTokens   *int64   `json:"min_output_tokens,omitempty"`
	MaxOutputTokens   *int64   `json:"max_output_tokens,omitempty"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptime_seconds"`
	Embedding     *OperationSnapshot `json:"embedding,omitempty"`
	LLMGenerate   *OperationSnapshot `json:"llm_generate,omitempty"`
	VectorSearch  *OperationSnapshot `json:"vector_search,omitempty"`
	VectorUpsert  *OperationSnapshot `json:"vector_upsert,omitempty"`
	ToolCall      *OperationSnapshot `json:"tool_call,omitempty"`
	Turn          *OperationSnapshot `json:"turn,omitempty"`
	Outcomes      map[string]int64   `json:"outcomes"`
	ToolCalls     int64              `json:"tool_calls"`
}

// Operation names for the collector.
const (
	OpEmbedding    = "embedding"
	OpLLMGenerate  = "llm_generate"
	OpVectorSearch = "vector_search"
	OpVectorUpsert = "vector_upsert"
	OpToolCall     = "tool_call"
	OpTurn         = "turn"
)

// Collector aggregates in-memory runtime statistics and mirrors them into
// Prometheus instruments.
// All methods are thread-safe and a nil *Collector is a no-op.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	outcomes  map[string]int64
	toolCalls int64

	registry     *prometheus.Registry
	opDuration   *prometheus.HistogramVec
	turns        *prometheus.CounterVec
	turnDuration prometheus.Histogram
	toolsPerTurn prometheus.Histogram
	tokens       *prometheus.CounterVec
}

// NewCollector creates a new metrics collector with its own registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		outcomes:  make(map[string]int64),
		registry:  reg,
		opDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moviechat_operation_duration_seconds",
			Help:    "Duration of embedding, model, vector store and tool operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		turns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moviechat_turns_total",
			Help: "Answered turns by outcome.",
		}, []string{"outcome"}),
		turnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "moviechat_turn_duration_seconds",
			Help:    "Wall-clock duration of a chat turn.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 90},
		}),
		toolsPerTurn: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "moviechat_tool_calls_per_turn",
			Help:    "Number of tool invocations per turn.",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 7},
		}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "moviechat_llm_tokens_total",
			Help: "Language model tokens by direction.",
		}, []string{"direction"}),
	}
}

// Handler serves the Prometheus exposition of this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime:         time.Duration(math.MaxInt64),
			MinInputTokens:  math.MaxInt64,
			MinOutputTokens: math.MaxInt64,
		}
		c.ops[op] = m
	}
	return m
}

// observe updates count and timing. Caller must hold write lock.
func (m *OperationMetrics) observe(duration time.Duration, failed bool) {
	m.Count++
	if failed {
		m.Errors++
	}
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.record(op, duration, false)
}

// RecordFailure records timing for an operation that returned an error.
func (c *Collector) RecordFailure(op string, duration time.Duration) {
	c.record(op, duration, true)
}

func (c *Collector) record(op string, duration time.Duration, failed bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.getOrCreate(op).observe(duration, failed)
	c.mu.Unlock()

	c.opDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordLLMUsage records timing and token usage for an LLM operation.
func (c *Collector) RecordLLMUsage(op string, duration time.Duration, inputTokens, outputTokens int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	m := c.getOrCreate(op)
	m.observe(duration, false)

	m.TotalInputTokens += inputTokens
	m.TotalOutputTokens += outputTokens

	if inputTokens < m.MinInputTokens {
		m.MinInputTokens = inputTokens
	}
	if inputTokens > m.MaxInputTokens {
		m.MaxInputTokens = inputTokens
	}
	if outputTokens < m.MinOutputTokens {
		m.MinOutputTokens = outputTokens
	}
	if outputTokens > m.MaxOutputTokens {
		m.MaxOutputTokens = outputTokens
	}
	c.mu.Unlock()

	c.opDuration.WithLabelValues(op).Observe(duration.Seconds())
	c.tokens.WithLabelValues("input").Add(float64(inputTokens))
	c.tokens.WithLabelValues("output").Add(float64(outputTokens))
}

// RecordTurn records a finished chat turn with its outcome and tool count.
func (c *Collector) RecordTurn(outcome string, duration time.Duration, toolCalls int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.getOrCreate(OpTurn).observe(duration, outcome == "error" || outcome == "timeout")
	c.outcomes[outcome]++
	c.toolCalls += int64(toolCalls)
	c.mu.Unlock()

	c.opDuration.WithLabelValues(OpTurn).Observe(duration.Seconds())
	c.turns.WithLabelValues(outcome).Inc()
	c.turnDuration.Observe(duration.Seconds())
	c.toolsPerTurn.Observe(float64(toolCalls))
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeTokens bool) *OperationSnapshot {
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

	if includeTokens && (m.TotalInputTokens > 0 || m.TotalOutputTokens > 0) {
		totalIn := m.TotalInputTokens
		totalOut := m.TotalOutputTokens
		avgIn := float64(m.TotalInputTokens) / float64(m.Count)
		avgOut := float64(m.TotalOutputTokens) / float64(m.Count)
		minIn := m.MinInputTokens
		maxIn := m.MaxInputTokens
		minOut := m.MinOutputTokens
		maxOut := m.MaxOutputTokens

		// Reset sentinel values for display
		if minIn == math.MaxInt64 {
			minIn = 0
		}
		if minOut == math.MaxInt64 {
			minOut = 0
		}

		snap.TotalInputTokens = &totalIn
		snap.TotalOutputTokens = &totalOut
		snap.AvgInputTokens = &avgIn
		snap.AvgOutputTokens = &avgOut
		snap.MinInputTokens = &minIn
		snap.MaxInputTokens = &maxIn
		snap.MinOutputTokens = &minOut
		snap.MaxOutputTokens = &maxOut
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{Outcomes: map[string]int64{}}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	outcomes := make(map[string]int64, len(c.outcomes))
	for k, v := range c.outcomes {
		outcomes[k] = v
	}

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Embedding:     snapshotOp(c.ops[OpEmbedding], false),
		LLMGenerate:   snapshotOp(c.ops[OpLLMGenerate], true),
		VectorSearch:  snapshotOp(c.ops[OpVectorSearch], false),
		VectorUpsert:  snapshotOp(c.ops[OpVectorUpsert], false),
		ToolCall:      snapshotOp(c.ops[OpToolCall], false),
		Turn:          snapshotOp(c.ops[OpTurn], false),
		Outcomes:      outcomes,
		ToolCalls:     c.toolCalls,
	}
}
