// Package metrics provides Prometheus metrics for procdrain.
//
// A Collector owns its metric vectors and registers them on the registry it
// is given, so several collectors (one per test) never share counters.
package metrics

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/procdrain/internal/drain"
	"github.com/randomizedcoder/procdrain/internal/supervisor"
)

// Namespace prefixes every metric name.
const Namespace = "procdrain"

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version string
	Command string
}

// Collector records supervision events as Prometheus metrics and keeps a
// t-digest of read sizes per stream for the exit summary.
type Collector struct {
	info            *prometheus.GaugeVec
	sessionsStarted prometheus.Counter
	sessionState    *prometheus.GaugeVec
	bytesDrained    *prometheus.CounterVec
	bytesForwarded  *prometheus.CounterVec
	chunksDrained   *prometheus.CounterVec
	chunkSize       *prometheus.HistogramVec
	readErrors      *prometheus.CounterVec
	joinsAbandoned  *prometheus.CounterVec
	linesDropped    *prometheus.CounterVec
	processExits    *prometheus.CounterVec
	processRuntime  prometheus.Histogram
	timeouts        prometheus.Counter
	lastExitCode    prometheus.Gauge

	mu     sync.Mutex
	chunks map[string]*chunkDigest
}

// chunkDigest tracks the distribution of read sizes on one stream.
type chunkDigest struct {
	digest *tdigest.TDigest
	count  int64
	max    int
}

// NewCollector creates a collector registered on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "info",
				Help:      "Information about the supervisor (value always 1)",
			},
			[]string{"version", "command"},
		),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sessions_started_total",
			Help:      "Supervision sessions launched",
		}),
		sessionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "session_state",
				Help:      "1 for the current state of the latest session, 0 otherwise",
			},
			[]string{"state"},
		),
		bytesDrained: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "bytes_drained_total",
				Help:      "Bytes read from the child's output channels",
			},
			[]string{"stream"},
		),
		bytesForwarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "bytes_forwarded_total",
				Help:      "Bytes written to sinks (0 in quiet mode)",
			},
			[]string{"stream"},
		),
		chunksDrained: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "chunks_drained_total",
				Help:      "Read calls that returned data",
			},
			[]string{"stream"},
		),
		chunkSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "chunk_size_bytes",
				Help:      "Bytes returned by each read of an output channel",
				Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"stream"},
		),
		readErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "read_errors_total",
				Help:      "Read failures that ended a drain early",
			},
			[]string{"stream"},
		),
		joinsAbandoned: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "joins_abandoned_total",
				Help:      "Drain joins that gave up before the drain finished",
			},
			[]string{"stream"},
		),
		linesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "lines_dropped_total",
				Help:      "Captured output lines dropped because the line consumer fell behind",
			},
			[]string{"stream"},
		),
		processExits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "process_exits_total",
				Help:      "Process exits by category (success, error, signal)",
			},
			[]string{"category"},
		),
		processRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "process_runtime_seconds",
			Help:      "Time from launch to observed exit",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "timeouts_total",
			Help:      "Bounded waits that killed the process",
		}),
		lastExitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "last_exit_code",
			Help:      "Exit code of the most recent process",
		}),
		chunks: make(map[string]*chunkDigest),
	}

	registry.MustRegister(
		c.info,
		c.sessionsStarted,
		c.sessionState,
		c.bytesDrained,
		c.bytesForwarded,
		c.chunksDrained,
		c.chunkSize,
		c.readErrors,
		c.joinsAbandoned,
		c.linesDropped,
		c.processExits,
		c.processRuntime,
		c.timeouts,
		c.lastExitCode,
	)

	c.info.WithLabelValues(cfg.Version, cfg.Command).Set(1)
	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

// RecordStateChange tracks the session state gauge.
func (c *Collector) RecordStateChange(oldState, newState supervisor.State) {
	if newState == supervisor.StateLaunched {
		c.sessionsStarted.Inc()
	}
	c.sessionState.WithLabelValues(oldState.String()).Set(0)
	c.sessionState.WithLabelValues(newState.String()).Set(1)
}

// RecordChunk records the size of one read. Called from the drain goroutine
// for every read that returned data.
func (c *Collector) RecordChunk(stream string, n int) {
	c.chunkSize.WithLabelValues(stream).Observe(float64(n))

	c.mu.Lock()
	defer c.mu.Unlock()
	cd, ok := c.chunks[stream]
	if !ok {
		cd = &chunkDigest{digest: tdigest.NewWithCompression(100)}
		c.chunks[stream] = cd
	}
	cd.digest.Add(float64(n), 1)
	cd.count++
	if n > cd.max {
		cd.max = n
	}
}

// RecordDrain adds a joined drain's counters.
func (c *Collector) RecordDrain(stats drain.Stats) {
	c.bytesDrained.WithLabelValues(stats.Name).Add(float64(stats.BytesRead))
	c.bytesForwarded.WithLabelValues(stats.Name).Add(float64(stats.BytesForwarded))
	c.chunksDrained.WithLabelValues(stats.Name).Add(float64(stats.Chunks))
	c.readErrors.WithLabelValues(stats.Name).Add(float64(stats.ReadErrors))
}

// RecordJoinAbandoned counts a join that gave up.
func (c *Collector) RecordJoinAbandoned(stream string) {
	c.joinsAbandoned.WithLabelValues(stream).Inc()
}

// RecordLinesDropped counts captured lines a pipeline had to drop.
func (c *Collector) RecordLinesDropped(stream string, n int64) {
	if n > 0 {
		c.linesDropped.WithLabelValues(stream).Add(float64(n))
	}
}

// RecordExit records a process exit event.
func (c *Collector) RecordExit(exitCode int, runtime time.Duration) {
	c.processExits.WithLabelValues(ExitCategory(exitCode)).Inc()
	c.processRuntime.Observe(runtime.Seconds())
	c.lastExitCode.Set(float64(exitCode))
}

// RecordTimeout records a bounded wait that killed the process.
func (c *Collector) RecordTimeout(time.Duration) {
	c.timeouts.Inc()
}

// Callbacks returns supervisor callbacks that feed this collector.
// next, if non-nil, is called after the collector for every event.
func (c *Collector) Callbacks(next supervisor.Callbacks) supervisor.Callbacks {
	return supervisor.Callbacks{
		OnStateChange: func(oldState, newState supervisor.State) {
			c.RecordStateChange(oldState, newState)
			if next.OnStateChange != nil {
				next.OnStateChange(oldState, newState)
			}
		},
		OnExit: func(exitCode int, elapsed time.Duration) {
			c.RecordExit(exitCode, elapsed)
			if next.OnExit != nil {
				next.OnExit(exitCode, elapsed)
			}
		},
		OnTimeout: func(timeout time.Duration) {
			c.RecordTimeout(timeout)
			if next.OnTimeout != nil {
				next.OnTimeout(timeout)
			}
		},
		OnChunk: func(stream string, n int) {
			c.RecordChunk(stream, n)
			if next.OnChunk != nil {
				next.OnChunk(stream, n)
			}
		},
		OnDrainJoined: func(stats drain.Stats) {
			c.RecordDrain(stats)
			if next.OnDrainJoined != nil {
				next.OnDrainJoined(stats)
			}
		},
		OnJoinAbandoned: func(stream string) {
			c.RecordJoinAbandoned(stream)
			if next.OnJoinAbandoned != nil {
				next.OnJoinAbandoned(stream)
			}
		},
	}
}

// ExitCategory buckets an exit code for the exits counter.
func ExitCategory(exitCode int) string {
	switch {
	case exitCode == 0:
		return "success"
	case exitCode > 128:
		return "signal"
	default:
		return "error"
	}
}

// =============================================================================
// Summary Generation
// =============================================================================

// ChunkSizes summarises the read sizes seen on one stream.
type ChunkSizes struct {
	Reads int64
	P50   float64
	P99   float64
	Max   int
}

// Summary holds the data for generating an exit summary.
type Summary struct {
	Chunks map[string]ChunkSizes
}

// GenerateSummary creates a summary of everything recorded so far. Streams
// that never returned data are absent from Chunks.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{Chunks: make(map[string]ChunkSizes, len(c.chunks))}
	for stream, cd := range c.chunks {
		s.Chunks[stream] = ChunkSizes{
			Reads: cd.count,
			P50:   cd.digest.Quantile(0.50),
			P99:   cd.digest.Quantile(0.99),
			Max:   cd.max,
		}
	}
	return s
}
