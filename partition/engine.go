// Package partition answers average-loan-amount queries from per-county
// partition files, building them lazily from the main dataset and
// rebuilding any that can no longer be read.
package partition

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strconv"
	"time"

	"github.com/INLOpen/lender/columnar"
	"github.com/INLOpen/lender/core"
	"github.com/INLOpen/lender/hooks"
	"github.com/INLOpen/lender/metrics"
	"github.com/INLOpen/lender/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"
)

// Options configures an Engine.
type Options struct {
	MainPath       string
	PartitionDir   string
	Replication    int
	BlockSize      int64
	Compression    core.CompressionType
	RowGroupSize   int64
	Hooks          hooks.HookManager
	TracerProvider trace.TracerProvider
	Logger         *slog.Logger
}

// Result is the answer to one partition request. Source is empty when the
// request failed.
type Result struct {
	Average int64
	Source  core.Provenance
}

// Engine is the self-healing partition cache.
type Engine struct {
	fs        storage.FileSystem
	opts      Options
	singleRun singleflight.Group
	hooks     hooks.HookManager
	tracer    trace.Tracer
	logger    *slog.Logger
}

// New creates an Engine over fs.
func New(fs storage.FileSystem, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	hm := opts.Hooks
	if hm == nil {
		hm = hooks.NewHookManager(logger)
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Engine{
		fs:     fs,
		opts:   opts,
		hooks:  hm,
		tracer: tp.Tracer("github.com/INLOpen/lender/partition"),
		logger: logger.With("component", "PartitionEngine"),
	}
}

// PartitionPath is where the partition for key lives under dir.
func PartitionPath(dir string, key int64) string {
	return path.Join("/", dir, strconv.FormatInt(key, 10)+".parquet")
}

// outcome is what one computation hands to every request sharing it.
type outcome struct {
	result Result
	rows   int
	cause  error
}

// Average returns the truncated mean loan_amount of every record whose
// county_code equals key, along with how the partition was obtained.
// Concurrent calls for the same key share a single computation.
func (e *Engine) Average(ctx context.Context, key int64) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "PartitionEngine.Average")
	defer span.End()
	span.SetAttributes(attribute.Int64("partition.county_code", key))

	start := time.Now()
	v, err, shared := e.singleRun.Do(strconv.FormatInt(key, 10), func() (interface{}, error) {
		return e.compute(ctx, key)
	})
	duration := time.Since(start)
	span.SetAttributes(attribute.Bool("partition.shared", shared))

	var out *outcome
	if v != nil {
		out = v.(*outcome)
	}
	payload := hooks.PartitionPayload{
		Key:      key,
		Path:     PartitionPath(e.opts.PartitionDir, key),
		Duration: duration,
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "partition_average_failed")
		metrics.PartitionRequests.WithLabelValues("error").Inc()
		payload.Error = err
		if out != nil {
			payload.Cause = out.cause
		}
		e.hooks.Trigger(ctx, hooks.NewPartitionEvent(payload))
		e.logger.Error("Partition average failed", "county_code", key, "error", err)
		return Result{}, err
	}

	source := string(out.result.Source)
	span.SetAttributes(attribute.String("partition.source", source))
	metrics.PartitionRequests.WithLabelValues(source).Inc()
	metrics.PartitionDuration.WithLabelValues(source).Observe(duration.Seconds())

	payload.Source = out.result.Source
	payload.Average = out.result.Average
	payload.Rows = out.rows
	payload.Cause = out.cause
	e.hooks.Trigger(ctx, hooks.NewPartitionEvent(payload))

	return out.result, nil
}

func (e *Engine) compute(ctx context.Context, key int64) (*outcome, error) {
	partitionPath := PartitionPath(e.opts.PartitionDir, key)

	avg, rows, err := e.readPartition(ctx, partitionPath)
	if err == nil {
		e.logger.Debug("Reused partition", "county_code", key, "path", partitionPath, "average", avg)
		return &outcome{result: Result{Average: avg, Source: core.ProvenanceReuse}, rows: rows}, nil
	}

	out := &outcome{}
	if storage.IsNotFound(err) {
		out.result.Source = core.ProvenanceCreate
		e.logger.Info("Partition not found, creating from main dataset", "county_code", key, "path", partitionPath)
	} else {
		out.result.Source = core.ProvenanceRecreate
		out.cause = err
		e.logger.Warn("Partition unreadable, recreating from main dataset", "county_code", key, "path", partitionPath, "error", err)
	}

	records, err := e.scanMain(ctx, key)
	if err != nil {
		return out, err
	}
	avg, ok := core.AverageLoanAmount(records)
	if !ok {
		if out.result.Source == core.ProvenanceRecreate {
			// The unreadable file has nothing left to rebuild from.
			if rmErr := e.fs.Remove(ctx, partitionPath); rmErr != nil {
				e.logger.Warn("Failed to remove unreadable partition", "path", partitionPath, "error", rmErr)
			}
		}
		return out, &core.EmptyPartitionError{Key: key}
	}

	if err := e.writePartition(ctx, partitionPath, records); err != nil {
		return out, err
	}

	out.result.Average = avg
	out.rows = len(records)
	e.logger.Info("Partition written", "county_code", key, "path", partitionPath, "average", avg, "rows", len(records), "source", string(out.result.Source))
	return out, nil
}

// readPartition opens and decodes a partition. Any failure other than
// storage.ErrNotFound means the partition exists but cannot be trusted.
func (e *Engine) readPartition(ctx context.Context, partitionPath string) (int64, int, error) {
	_, span := e.tracer.Start(ctx, "PartitionEngine.readPartition")
	defer span.End()

	f, err := e.fs.Open(ctx, partitionPath)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	records, _, err := columnar.ReadAll(f, f.Size())
	if err != nil {
		return 0, 0, fmt.Errorf("%w: decode %s: %w", storage.ErrUnavailable, partitionPath, err)
	}
	avg, ok := core.AverageLoanAmount(records)
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s holds no rows", storage.ErrUnavailable, partitionPath)
	}
	return avg, len(records), nil
}

func (e *Engine) scanMain(ctx context.Context, key int64) ([]core.LoanRecord, error) {
	_, span := e.tracer.Start(ctx, "PartitionEngine.scanMain")
	defer span.End()

	f, err := e.fs.Open(ctx, e.opts.MainPath)
	if err != nil {
		span.RecordError(err)
		if storage.IsNotFound(err) {
			return nil, fmt.Errorf("main dataset %s has not been materialized: %w", e.opts.MainPath, err)
		}
		return nil, fmt.Errorf("failed to open main dataset: %w", err)
	}
	defer f.Close()

	metrics.PartitionScans.Inc()
	records, stats, err := columnar.ReadCounty(f, f.Size(), key)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read main dataset: %w", err)
	}
	metrics.PartitionRowGroupsSkipped.Add(float64(stats.RowGroupsSkipped))
	span.SetAttributes(
		attribute.Int("scan.row_groups", stats.RowGroups),
		attribute.Int("scan.row_groups_skipped", stats.RowGroupsSkipped),
		attribute.Int64("scan.rows_matched", stats.RowsMatched),
	)
	return records, nil
}

func (e *Engine) writePartition(ctx context.Context, partitionPath string, records []core.LoanRecord) error {
	w, err := e.fs.Create(ctx, partitionPath, storage.WriteOptions{
		Replication: e.opts.Replication,
		BlockSize:   e.opts.BlockSize,
	})
	if err != nil {
		return fmt.Errorf("failed to create partition: %w", err)
	}
	_, err = columnar.WriteRecords(w, records, columnar.WriterOptions{
		Compression:  e.opts.Compression,
		RowGroupSize: e.opts.RowGroupSize,
	})
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		if rmErr := e.fs.Remove(ctx, partitionPath); rmErr != nil {
			e.logger.Warn("Failed to remove partially written partition", "path", partitionPath, "error", rmErr)
		}
		return fmt.Errorf("failed to write partition %s: %w", partitionPath, err)
	}
	return nil
}
