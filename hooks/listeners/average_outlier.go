package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/lender/hooks"
)

// Thresholds defines the min/max acceptable partition averages.
type Thresholds struct {
	Min float64
	Max float64
}

// OutlierRule binds thresholds to a single county code. A rule with
// AnyCounty set applies to every key that has no rule of its own.
type OutlierRule struct {
	CountyCode int64
	AnyCounty  bool
	Thresholds Thresholds
}

// AverageOutlierListener checks computed partition averages against configured thresholds.
type AverageOutlierListener struct {
	logger   *slog.Logger
	rules    map[int64]Thresholds
	fallback *Thresholds
}

// NewAverageOutlierListener creates a new listener for detecting outlying averages.
func NewAverageOutlierListener(logger *slog.Logger, rules []OutlierRule) *AverageOutlierListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	l := &AverageOutlierListener{
		logger: logger.With("component", "AverageOutlierListener"),
		rules:  make(map[int64]Thresholds),
	}
	for _, rule := range rules {
		if rule.AnyCounty {
			th := rule.Thresholds
			l.fallback = &th
			continue
		}
		l.rules[rule.CountyCode] = rule.Thresholds
	}
	return l
}

// OnEvent inspects PartitionCreated and PartitionRecreated events. Reused
// partitions were already checked when they were written.
func (l *AverageOutlierListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPartitionCreated && event.Type() != hooks.EventPartitionRecreated {
		return nil
	}

	payload, ok := event.Payload().(hooks.PartitionPayload)
	if !ok {
		l.logger.Error("Received partition event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}

	thresholds, ok := l.rules[payload.Key]
	if !ok {
		if l.fallback == nil {
			return nil
		}
		thresholds = *l.fallback
	}

	value := float64(payload.Average)
	if value < thresholds.Min || value > thresholds.Max {
		l.logger.Warn("Outlier detected",
			"county_code", payload.Key,
			"average", payload.Average,
			"rows", payload.Rows,
			"min_threshold", thresholds.Min,
			"max_threshold", thresholds.Max,
		)
	}

	// Detection only; the result is still returned to the caller.
	return nil
}

// Priority defines the execution order.
func (l *AverageOutlierListener) Priority() int { return 100 }

// IsAsync indicates this listener can run in the background.
func (l *AverageOutlierListener) IsAsync() bool { return false }
