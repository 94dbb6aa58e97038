// Package materialize rebuilds the main dataset: it pulls qualifying loan
// records from the relational source and writes them to the file store as
// one Parquet file, retrying the whole attempt on failure.
package materialize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/INLOpen/lender/columnar"
	"github.com/INLOpen/lender/core"
	"github.com/INLOpen/lender/hooks"
	"github.com/INLOpen/lender/metrics"
	"github.com/INLOpen/lender/retry"
	"github.com/INLOpen/lender/storage"
)

// Source yields the full set of records for one attempt. Implementations
// open and release their own connection on every call.
type Source interface {
	Extract(ctx context.Context) ([]core.LoanRecord, error)
}

// Options configures a Pipeline.
type Options struct {
	Path         string
	Replication  int
	BlockSize    int64
	Compression  core.CompressionType
	RowGroupSize int64
	Policy       retry.Policy
	Hooks        hooks.HookManager
	Logger       *slog.Logger
}

// Pipeline materializes the main dataset.
type Pipeline struct {
	source Source
	fs     storage.FileSystem
	opts   Options
	hooks  hooks.HookManager
	logger *slog.Logger
}

// New creates a Pipeline writing through fs.
func New(source Source, fs storage.FileSystem, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	hm := opts.Hooks
	if hm == nil {
		hm = hooks.NewHookManager(logger)
	}
	return &Pipeline{
		source: source,
		fs:     fs,
		opts:   opts,
		hooks:  hm,
		logger: logger.With("component", "MaterializePipeline"),
	}
}

// Run performs the materialization and returns the number of rows written.
// When every attempt fails the error wraps retry.ErrExhausted and carries
// the attempt count and the last failure.
func (p *Pipeline) Run(ctx context.Context) (int, error) {
	if err := p.hooks.Trigger(ctx, hooks.NewPreMaterializeEvent(hooks.PreMaterializePayload{Path: p.opts.Path})); err != nil {
		metrics.MaterializeRuns.WithLabelValues("aborted").Inc()
		return 0, fmt.Errorf("materialization cancelled by pre-hook: %w", err)
	}

	start := time.Now()
	var (
		rows     int
		attempts int
	)
	err := p.opts.Policy.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		n, err := p.attempt(ctx)
		if err != nil {
			metrics.MaterializeAttempts.WithLabelValues("failure").Inc()
			return err
		}
		metrics.MaterializeAttempts.WithLabelValues("success").Inc()
		rows = n
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		p.logger.Warn("Materialization attempt failed, retrying",
			"attempt", attempt,
			"max_attempts", p.opts.Policy.MaxAttempts,
			"wait", wait,
			"error", err,
		)
		p.hooks.Trigger(ctx, hooks.NewMaterializeAttemptFailedEvent(hooks.MaterializeAttemptPayload{
			Attempt: attempt,
			Error:   err,
			Wait:    wait,
		}))
	})

	duration := time.Since(start)
	p.hooks.Trigger(ctx, hooks.NewPostMaterializeEvent(hooks.PostMaterializePayload{
		Path:     p.opts.Path,
		Rows:     rows,
		Attempts: attempts,
		Duration: duration,
		Error:    err,
	}))

	switch {
	case err == nil:
		metrics.MaterializeRuns.WithLabelValues("success").Inc()
		metrics.MaterializeRows.Set(float64(rows))
		p.logger.Info("Main dataset materialized", "path", p.opts.Path, "rows", rows, "attempts", attempts, "duration", duration)
		return rows, nil
	case errors.Is(err, retry.ErrExhausted):
		metrics.MaterializeRuns.WithLabelValues("exhausted").Inc()
		p.logger.Error("Materialization failed after all attempts", "path", p.opts.Path, "attempts", attempts, "error", err)
		return 0, err
	default:
		metrics.MaterializeRuns.WithLabelValues("aborted").Inc()
		p.logger.Error("Materialization aborted", "path", p.opts.Path, "attempts", attempts, "error", err)
		return 0, err
	}
}

// attempt is one full extract-encode-write cycle.
func (p *Pipeline) attempt(ctx context.Context) (int, error) {
	records, err := p.source.Extract(ctx)
	if err != nil {
		return 0, fmt.Errorf("extract: %w", err)
	}

	w, err := p.fs.Create(ctx, p.opts.Path, storage.WriteOptions{
		Replication: p.opts.Replication,
		BlockSize:   p.opts.BlockSize,
	})
	if err != nil {
		return 0, err
	}
	n, err := columnar.WriteRecords(w, records, columnar.WriterOptions{
		Compression:  p.opts.Compression,
		RowGroupSize: p.opts.RowGroupSize,
	})
	if err != nil {
		w.Close()
		return 0, err
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to close %s: %w", p.opts.Path, err)
	}
	return n, nil
}
