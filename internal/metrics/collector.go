// Package metrics provides in-memory runtime statistics collection and the
// Prometheus instruments exported by the server.
package metrics

import (
	"math"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Errors    int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Row counts (only for encode and scan operations)
	TotalRows int64
	MaxRows   int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	Errors      int64   `json:"errors"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`

	// Row stats (nil if not applicable)
	TotalRows *int64   `json:"total_rows,omitempty"`
	AvgRows   *float64 `json:"avg_rows,omitempty"`
	MaxRows   *int64   `json:"max_rows,omitempty"`
}

// Snapshot represents the full server statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptime_seconds"`
	Recommend     *OperationSnapshot `json:"recommend,omitempty"`
	Encode        *OperationSnapshot `json:"encode,omitempty"`
	Scan          *OperationSnapshot `json:"scan,omitempty"`
	ModelLoad     *OperationSnapshot `json:"model_load,omitempty"`
	DataLoad      *OperationSnapshot `json:"data_load,omitempty"`
	EmbeddingJob  *OperationSnapshot `json:"embedding_job,omitempty"`
}

// Operation names for the collector.
const (
	OpRecommend    = "recommend"
	OpEncode       = "encode"
	OpScan         = "scan"
	OpModelLoad    = "model_load"
	OpDataLoad     = "data_load"
	OpEmbeddingJob = "embedding_job"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe. Recording on a nil Collector is a no-op.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

func (m *OperationMetrics) observe(duration time.Duration) {
	m.Count++
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
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.getOrCreate(op).observe(duration)
}

// RecordRows records timing and the number of rows processed.
func (c *Collector) RecordRows(op string, duration time.Duration, rows int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.observe(duration)
	m.TotalRows += int64(rows)
	if int64(rows) > m.MaxRows {
		m.MaxRows = int64(rows)
	}
}

// RecordError counts a failed operation.
func (c *Collector) RecordError(op string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.getOrCreate(op).Errors++
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeRows bool) *OperationSnapshot {
	if m == nil || (m.Count == 0 && m.Errors == 0) {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		Errors:      m.Errors,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
	if m.Count > 0 {
		snap.AvgTimeMs = float64(m.TotalTime.Milliseconds()) / float64(m.Count)
		snap.MinTimeMs = m.MinTime.Milliseconds()
	}

	if includeRows && m.TotalRows > 0 {
		total := m.TotalRows
		avg := float64(m.TotalRows) / float64(m.Count)
		maxRows := m.MaxRows
		snap.TotalRows = &total
		snap.AvgRows = &avg
		snap.MaxRows = &maxRows
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Recommend:     snapshotOp(c.ops[OpRecommend], false),
		Encode:        snapshotOp(c.ops[OpEncode], true),
		Scan:          snapshotOp(c.ops[OpScan], true),
		ModelLoad:     snapshotOp(c.ops[OpModelLoad], false),
		DataLoad:      snapshotOp(c.ops[OpDataLoad], false),
		EmbeddingJob:  snapshotOp(c.ops[OpEmbeddingJob], true),
	}
}
