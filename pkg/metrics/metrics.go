// Package metrics keeps in-process worker counters and serves them over HTTP.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Stage names a timed step of the pipeline
type Stage string

const (
	StageResolve Stage = "resolve"
	StageExtract Stage = "extract"
	StagePublish Stage = "publish"
)

// Metrics holds the worker counters. The zero value is not usable; use New.
type Metrics struct {
	received     atomic.Int64
	published    atomic.Int64
	malformed    atomic.Int64
	deadLettered atomic.Int64
	fatal        atomic.Int64
	cacheHits    atomic.Int64
	cacheMisses  atomic.Int64
	ready        atomic.Bool

	mu        sync.Mutex
	durations map[Stage]time.Duration
}

// New creates an empty set of counters
func New() *Metrics {
	return &Metrics{durations: make(map[Stage]time.Duration)}
}

func (m *Metrics) MessageReceived()     { m.received.Add(1) }
func (m *Metrics) ReplyPublished()      { m.published.Add(1) }
func (m *Metrics) MalformedRejected()   { m.malformed.Add(1) }
func (m *Metrics) MessageDeadLettered() { m.deadLettered.Add(1) }
func (m *Metrics) FatalError()          { m.fatal.Add(1) }
func (m *Metrics) CacheHit()            { m.cacheHits.Add(1) }
func (m *Metrics) CacheMiss()           { m.cacheMisses.Add(1) }

// SetReady flips the health status reported on /healthz
func (m *Metrics) SetReady(ready bool) { m.ready.Store(ready) }

// Ready reports whether the worker is consuming
func (m *Metrics) Ready() bool { return m.ready.Load() }

// ObserveStage records the latest duration of a pipeline stage
func (m *Metrics) ObserveStage(stage Stage, d time.Duration) {
	m.mu.Lock()
	m.durations[stage] = d
	m.mu.Unlock()
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	Received     int64
	Published    int64
	Malformed    int64
	DeadLettered int64
	Fatal        int64
	CacheHits    int64
	CacheMisses  int64
	Durations    map[Stage]time.Duration
}

// Snapshot copies the current counters
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	durations := make(map[Stage]time.Duration, len(m.durations))
	for k, v := range m.durations {
		durations[k] = v
	}
	m.mu.Unlock()

	return Snapshot{
		Received:     m.received.Load(),
		Published:    m.published.Load(),
		Malformed:    m.malformed.Load(),
		DeadLettered: m.deadLettered.Load(),
		Fatal:        m.fatal.Load(),
		CacheHits:    m.cacheHits.Load(),
		CacheMisses:  m.cacheMisses.Load(),
		Durations:    durations,
	}
}

// WritePrometheus renders the counters in the Prometheus text exposition format
func (m *Metrics) WritePrometheus(w io.Writer) {
	s := m.Snapshot()

	counters := []struct {
		name, help string
		value      int64
	}{
		{"imagetotext_messages_received_total", "Deliveries taken from the inbound queue.", s.Received},
		{"imagetotext_replies_published_total", "Replies confirmed by the broker.", s.Published},
		{"imagetotext_messages_malformed_total", "Deliveries rejected because the payload could not be decoded.", s.Malformed},
		{"imagetotext_messages_dead_lettered_total", "Deliveries rejected after a recoverable processing error.", s.DeadLettered},
		{"imagetotext_fatal_errors_total", "Errors that stopped the consume loop.", s.Fatal},
		{"imagetotext_ocr_cache_hits_total", "OCR results served from cache.", s.CacheHits},
		{"imagetotext_ocr_cache_misses_total", "OCR results requested from the Vision API.", s.CacheMisses},
	}
	for _, c := range counters {
		fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(w, "%s %d\n\n", c.name, c.value)
	}

	stages := make([]string, 0, len(s.Durations))
	for stage := range s.Durations {
		stages = append(stages, string(stage))
	}
	sort.Strings(stages)

	const gauge = "imagetotext_stage_last_duration_seconds"
	fmt.Fprintf(w, "# HELP %s Duration of the most recent run of each pipeline stage.\n", gauge)
	fmt.Fprintf(w, "# TYPE %s gauge\n", gauge)
	for _, stage := range stages {
		fmt.Fprintf(w, "%s{stage=%q} %g\n", gauge, stage, s.Durations[Stage(stage)].Seconds())
	}
}
