package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/lender/hooks"
)

// CorruptionAlerterListener logs a warning whenever a partition file had to be
// rebuilt because it could not be read back.
type CorruptionAlerterListener struct {
	logger *slog.Logger
}

// NewCorruptionAlerterListener creates a new listener for partition recreation.
func NewCorruptionAlerterListener(logger *slog.Logger) *CorruptionAlerterListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CorruptionAlerterListener{
		logger: logger.With("component", "CorruptionAlerterListener"),
	}
}

// OnEvent handles the PartitionRecreated event.
func (l *CorruptionAlerterListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPartitionRecreated {
		return nil // Ignore other events
	}

	payload, ok := event.Payload().(hooks.PartitionPayload)
	if !ok {
		l.logger.Error("Received PartitionRecreated event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}

	cause := "unknown"
	if payload.Cause != nil {
		cause = payload.Cause.Error()
	}
	l.logger.Warn("Partition file was unreadable and has been rebuilt",
		"county_code", payload.Key,
		"path", payload.Path,
		"cause", cause,
	)

	return nil
}

// Priority defines the execution order.
func (l *CorruptionAlerterListener) Priority() int { return 100 }

// IsAsync indicates this listener can run in the background.
func (l *CorruptionAlerterListener) IsAsync() bool { return true }
