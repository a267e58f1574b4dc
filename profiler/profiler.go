// Package profiler - Rolling latency and runtime statistics for the running service.
package profiler

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/nvr-ai/go-emotion/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the runtime profiler.
type Options struct {
	// ReportInterval specifies how often to log a status report; 0 disables reports.
	ReportInterval time.Duration `json:"report_interval" yaml:"report_interval"`
	// MaxSamples specifies maximum number of samples kept per series (default: 600).
	MaxSamples int `json:"max_samples" yaml:"max_samples"`
}

// DefaultOptions reports every minute and keeps the last 600 samples.
func DefaultOptions() Options {
	return Options{
		ReportInterval: time.Minute,
		MaxSamples:     600,
	}
}

// Profiler tracks operation timings and custom metrics over a rolling window.
//
// It is safe for concurrent use.
type Profiler struct {
	opts      Options
	log       *zap.Logger
	startTime time.Time

	mu         sync.RWMutex
	metrics    map[string]*series
	operations map[string]*series
}

// series keeps the most recent samples of one metric.
type series struct {
	values []float64
	sum    float64
	min    float64
	max    float64
	count  int64
}

func (s *series) add(value float64, maxSamples int) {
	if s.count == 0 || value < s.min {
		s.min = value
	}
	if s.count == 0 || value > s.max {
		s.max = value
	}

	s.values = append(s.values, value)
	s.sum += value
	if len(s.values) > maxSamples {
		// Remove oldest sample
		s.sum -= s.values[0]
		s.values = s.values[1:]
	}
	s.count++
}

func (s *series) stats() SeriesStats {
	st := SeriesStats{Min: s.min, Max: s.max, Count: s.count, Samples: len(s.values)}
	if len(s.values) == 0 {
		return st
	}
	st.Avg = s.sum / float64(len(s.values))

	sorted := append([]float64(nil), s.values...)
	sort.Float64s(sorted)
	st.P50 = percentile(sorted, 0.50)
	st.P95 = percentile(sorted, 0.95)
	return st
}

// percentile uses the nearest rank on sorted values.
func percentile(sorted []float64, q float64) float64 {
	i := int(q*float64(len(sorted))+0.5) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

// SeriesStats summarizes one metric. Min, Max and Count cover the whole lifetime, the
// rest covers the rolling window.
type SeriesStats struct {
	Avg     float64 `json:"avg"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	P50     float64 `json:"p50"`
	P95     float64 `json:"p95"`
	Count   int64   `json:"count"`
	Samples int     `json:"samples"`
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (s SeriesStats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddFloat64("avg", s.Avg)
	enc.AddFloat64("p95", s.P95)
	enc.AddFloat64("max", s.Max)
	enc.AddInt64("count", s.Count)
	return nil
}

// Stats is a point in time snapshot of the profiler.
type Stats struct {
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Goroutines    int     `json:"goroutines"`
	CgoCalls      int64   `json:"cgoCalls"`
	HeapAlloc     uint64  `json:"heapAlloc"`
	HeapObjects   uint64  `json:"heapObjects"`
	GCCycles      uint32  `json:"gcCycles"`
	// Operations are durations in milliseconds.
	Operations map[string]SeriesStats `json:"operations"`
	Metrics    map[string]SeriesStats `json:"metrics"`
}

// New creates a Profiler.
//
// Arguments:
//   - opts: Window size and report interval.
//   - log: Optional logger used by Run.
//
// Returns:
//   - *Profiler: The profiler.
func New(opts Options, log *zap.Logger) *Profiler {
	if opts.MaxSamples <= 0 {
		opts.MaxSamples = DefaultOptions().MaxSamples
	}
	return &Profiler{
		opts:       opts,
		log:        logger.OrDefault(log).Named("profiler"),
		startTime:  time.Now(),
		metrics:    make(map[string]*series),
		operations: make(map[string]*series),
	}
}

// RecordMetric records a custom metric value.
func (p *Profiler) RecordMetric(name string, value float64) {
	p.record(p.metrics, name, value)
}

// StartOperation begins timing an operation.
//
// Arguments:
//   - name: The name of the operation to track.
//
// Returns:
//   - func(): Call it when the operation completes.
//
// @example
//
//	defer p.StartOperation("analyze")()
func (p *Profiler) StartOperation(name string) func() {
	start := time.Now()
	return func() {
		p.RecordOperation(name, time.Since(start))
	}
}

// RecordOperation records the duration of a completed operation.
func (p *Profiler) RecordOperation(name string, d time.Duration) {
	p.record(p.operations, name, float64(d.Microseconds())/1000.0)
}

func (p *Profiler) record(m map[string]*series, name string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := m[name]
	if !ok {
		s = &series{values: make([]float64, 0, p.opts.MaxSamples)}
		m[name] = s
	}
	s.add(value, p.opts.MaxSamples)
}

// Snapshot returns the current statistics.
func (p *Profiler) Snapshot() Stats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := Stats{
		UptimeSeconds: time.Since(p.startTime).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
		CgoCalls:      runtime.NumCgoCall(),
		HeapAlloc:     mem.HeapAlloc,
		HeapObjects:   mem.HeapObjects,
		GCCycles:      mem.NumGC,
		Operations:    make(map[string]SeriesStats, len(p.operations)),
		Metrics:       make(map[string]SeriesStats, len(p.metrics)),
	}
	for name, s := range p.operations {
		stats.Operations[name] = s.stats()
	}
	for name, s := range p.metrics {
		stats.Metrics[name] = s.stats()
	}
	return stats
}

// Run logs a status report every ReportInterval until ctx is done.
func (p *Profiler) Run(ctx context.Context) {
	if p.opts.ReportInterval <= 0 {
		return
	}

	ticker := time.NewTicker(p.opts.ReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.report()
		}
	}
}

func (p *Profiler) report() {
	stats := p.Snapshot()

	fields := []zap.Field{
		zap.Duration("uptime", time.Duration(stats.UptimeSeconds*float64(time.Second)).Truncate(time.Second)),
		zap.Int("goroutines", stats.Goroutines),
		zap.Uint64("heap_alloc", stats.HeapAlloc),
		zap.Uint32("gc_cycles", stats.GCCycles),
	}
	for name, s := range stats.Operations {
		fields = append(fields, zap.Object(name, s))
	}
	for name, s := range stats.Metrics {
		fields = append(fields, zap.Object(name, s))
	}
	p.log.Info("runtime status", fields...)
}
