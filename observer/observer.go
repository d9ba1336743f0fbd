// Package observer provides the pluggable diagnostic sink the harness
// feeds on every connected block and completed chunk, replacing inline
// progress printing with something a caller can swap out (a no-op for
// tests, a Prometheus sink in a long-running differential run).
package observer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Observer receives per-block and per-chunk progress from the harness.
// Implementations must be safe for concurrent use: Phase B dispatches
// chunks across a worker pool and every worker reports through the same
// Observer.
type Observer interface {
	// OnBlock is called once per block the harness connects, after the
	// local-vs-reference comparison for that height is known. Blocks whose
	// reference verdict is unavailable (indeterminate) are not reported.
	OnBlock(height int64, divergent bool)
	// OnChunkComplete is called once a dispatched chunk finishes, whether
	// it matched end to end or accumulated divergences.
	OnChunkComplete(startHeight, endHeight int64, tested, matched, divergences int, duration time.Duration)
}

// Noop discards everything. It's the default when a caller doesn't need
// progress reporting (most tests).
type Noop struct{}

func (Noop) OnBlock(height int64, divergent bool) {}

func (Noop) OnChunkComplete(startHeight, endHeight int64, tested, matched, divergences int, duration time.Duration) {
}

// Prometheus records harness throughput and divergence counts as
// Prometheus metrics, grounded on the teacher's per-store metrics files:
// one counter vector for block outcomes, a dedicated divergence counter
// for alerting, and a histogram of per-chunk wall-clock duration.
type Prometheus struct {
	blocksTotal      *prometheus.CounterVec
	divergencesTotal prometheus.Counter
	chunkDuration    prometheus.Histogram
}

// NewPrometheus registers the harness's metrics against reg and returns an
// Observer backed by them.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	factory := promauto.With(reg)
	return &Prometheus{
		blocksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "validationcore",
			Subsystem: "harness",
			Name:      "blocks_total",
			Help:      "Blocks processed by the differential harness, labeled by outcome.",
		}, []string{"outcome"}),
		divergencesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "validationcore",
			Subsystem: "harness",
			Name:      "divergences_total",
			Help:      "Blocks where the local and reference verdicts disagreed.",
		}),
		chunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "validationcore",
			Subsystem: "harness",
			Name:      "chunk_duration_seconds",
			Help:      "Wall-clock duration of a dispatched chunk's validation.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (p *Prometheus) OnBlock(height int64, divergent bool) {
	if divergent {
		p.blocksTotal.WithLabelValues("divergent").Inc()
		p.divergencesTotal.Inc()
		return
	}
	p.blocksTotal.WithLabelValues("matched").Inc()
}

func (p *Prometheus) OnChunkComplete(startHeight, endHeight int64, tested, matched, divergences int, duration time.Duration) {
	p.chunkDuration.Observe(duration.Seconds())
}
