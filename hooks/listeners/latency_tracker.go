package listeners

import (
	"context"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/INLOpen/lender/core"
	"github.com/INLOpen/lender/hooks"
	"github.com/caio/go-tdigest/v4"
)

var (
	// expvar names are process-global, so they are published once and read
	// from whichever tracker was created last.
	latencyMetricsOnce sync.Once
	activeTracker      atomic.Pointer[LatencyTrackerListener]
	partitionRequests  *expvar.Map
)

func initLatencyMetrics() {
	latencyMetricsOnce.Do(func() {
		partitionRequests = expvar.NewMap("partition_requests_total")
		expvar.Publish("partition_latency_ms", expvar.Func(func() interface{} {
			if l := activeTracker.Load(); l != nil {
				return l.Snapshot()
			}
			return map[string]LatencySummary{}
		}))
		// How many times faster a reuse is than a create, at the median.
		expvar.Publish("partition_reuse_speedup", expvar.Func(func() interface{} {
			if l := activeTracker.Load(); l != nil {
				return l.Speedup()
			}
			return 0.0
		}))
	})
}

// LatencySummary is the exported view of one provenance's latency digest.
type LatencySummary struct {
	Count uint64  `json:"count"`
	P50   float64 `json:"p50"`
	P90   float64 `json:"p90"`
	P99   float64 `json:"p99"`
}

// LatencyTrackerListener keeps a t-digest of request latency per provenance
// so the cost of a create can be compared against a reuse.
type LatencyTrackerListener struct {
	logger *slog.Logger

	mu      sync.Mutex
	digests map[core.Provenance]*tdigest.TDigest
}

// NewLatencyTrackerListener creates a new listener.
func NewLatencyTrackerListener(logger *slog.Logger) *LatencyTrackerListener {
	if logger == nil {
		// Default to a discard logger to prevent nil panics if no logger is provided.
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	initLatencyMetrics() // This will only run the registration logic once.
	l := &LatencyTrackerListener{
		logger:  logger.With("component", "LatencyTrackerListener"),
		digests: make(map[core.Provenance]*tdigest.TDigest),
	}
	activeTracker.Store(l)
	return l
}

// OnEvent records the latency carried by partition events.
func (l *LatencyTrackerListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	payload, ok := event.Payload().(hooks.PartitionPayload)
	if !ok {
		// This listener only cares about partition events.
		return nil
	}
	if payload.Source == core.ProvenanceNone {
		return nil
	}

	ms := float64(payload.Duration.Microseconds()) / 1000.0

	l.mu.Lock()
	td, ok := l.digests[payload.Source]
	if !ok {
		var err error
		td, err = tdigest.New()
		if err != nil {
			l.mu.Unlock()
			return fmt.Errorf("tdigest.New failed: %w", err)
		}
		l.digests[payload.Source] = td
	}
	err := td.AddWeighted(ms, 1)
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("tdigest AddWeighted failed: %w", err)
	}

	partitionRequests.Add(string(payload.Source), 1)

	l.logger.Debug("Partition request recorded",
		"county_code", payload.Key,
		"source", string(payload.Source),
		"latency_ms", ms,
	)
	return nil
}

// Quantile returns the q-quantile latency in milliseconds for source, and
// false if nothing has been recorded for it.
func (l *LatencyTrackerListener) Quantile(source core.Provenance, q float64) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	td, ok := l.digests[source]
	if !ok || td.Count() == 0 {
		return 0, false
	}
	return td.Quantile(q), true
}

// Snapshot summarizes every provenance seen so far.
func (l *LatencyTrackerListener) Snapshot() map[string]LatencySummary {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]LatencySummary, len(l.digests))
	for source, td := range l.digests {
		if td.Count() == 0 {
			continue
		}
		out[string(source)] = LatencySummary{
			Count: td.Count(),
			P50:   td.Quantile(0.5),
			P90:   td.Quantile(0.9),
			P99:   td.Quantile(0.99),
		}
	}
	return out
}

// Speedup is median create latency divided by median reuse latency.
func (l *LatencyTrackerListener) Speedup() float64 {
	create, ok := l.Quantile(core.ProvenanceCreate, 0.5)
	if !ok {
		return 0.0
	}
	reuse, ok := l.Quantile(core.ProvenanceReuse, 0.5)
	if !ok || reuse == 0 {
		return 0.0 // Avoid division by zero.
	}
	return create / reuse
}

// Priority defines the execution order. Lower numbers run first.
func (l *LatencyTrackerListener) Priority() int {
	return 200 // Metrics run after alerting listeners.
}

// IsAsync indicates this listener can run in the background.
func (l *LatencyTrackerListener) IsAsync() bool {
	return true
}
