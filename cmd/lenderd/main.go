package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/INLOpen/lender/blocks"
	"github.com/INLOpen/lender/config"
	"github.com/INLOpen/lender/core"
	"github.com/INLOpen/lender/extractor"
	"github.com/INLOpen/lender/hooks"
	"github.com/INLOpen/lender/hooks/listeners"
	"github.com/INLOpen/lender/materialize"
	"github.com/INLOpen/lender/partition"
	"github.com/INLOpen/lender/retry"
	"github.com/INLOpen/lender/server"
	"github.com/INLOpen/lender/storage"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// createLogger creates a slog.Logger based on the provided configuration.
func createLogger(cfg config.LoggingConfig) (*slog.Logger, io.Closer, error) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	var output io.Writer
	var closer io.Closer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	case "file":
		if cfg.File == "" {
			return nil, nil, fmt.Errorf("log output is 'file' but no file path is specified")
		}
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		output = file
		closer = file
	case "none":
		output = io.Discard
	default:
		return nil, nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	logger := slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
	return logger, closer, nil
}

// initTracerProvider creates and configures an OpenTelemetry TracerProvider.
// It sets up an exporter based on the configuration to send traces to a collector.
func initTracerProvider(cfg config.TracingConfig, logger *slog.Logger) (*sdktrace.TracerProvider, func(), error) {
	if !cfg.Enabled {
		logger.Info("Distributed tracing is disabled.")
		return sdktrace.NewTracerProvider(), func() {}, nil
	}

	logger.Info("Initializing distributed tracing...", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)

	ctx := context.Background()
	var exporter sdktrace.SpanExporter
	var err error

	switch strings.ToLower(cfg.Protocol) {
	case "http":
		exporter, err = otlptrace.New(ctx, otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure()))
	case "grpc":
		exporter, err = otlptrace.New(ctx, otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(cfg.Endpoint), otlptracegrpc.WithInsecure()))
	default:
		return nil, nil, fmt.Errorf("unsupported tracing protocol: %q", cfg.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceNameKey.String("lender")))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	cleanup := func() {
		logger.Info("Shutting down tracer provider...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down tracer provider", "error", err)
		}
	}

	return tp, cleanup, nil
}

// openFileSystem connects to the configured file store backend.
func openFileSystem(cfg config.HDFSConfig, logger *slog.Logger) (storage.FileSystem, error) {
	switch strings.ToLower(cfg.Backend) {
	case "hdfs":
		return storage.NewHDFS(storage.HDFSOptions{
			NameNode:         cfg.NameNode,
			User:             cfg.User,
			DefaultBlockSize: cfg.BlockSizeBytes,
			Logger:           logger,
		})
	case "local":
		logger.Info("Using local file store", "root", cfg.LocalRoot)
		return storage.NewLocalFS(cfg.LocalRoot)
	default:
		return nil, fmt.Errorf("unknown hdfs backend %q", cfg.Backend)
	}
}

// registerListeners wires the built-in hook listeners selected in cfg.
func registerListeners(hm hooks.HookManager, cfg config.HooksConfig, logger *slog.Logger) {
	if cfg.CorruptionAlerts {
		hm.Register(hooks.EventPartitionRecreated, listeners.NewCorruptionAlerterListener(logger))
		logger.Info("Registered CorruptionAlerterListener for PartitionRecreated events.")
	}
	if cfg.LatencyTracking {
		tracker := listeners.NewLatencyTrackerListener(logger)
		hm.Register(hooks.EventPartitionReused, tracker)
		hm.Register(hooks.EventPartitionCreated, tracker)
		hm.Register(hooks.EventPartitionRecreated, tracker)
		logger.Info("Registered LatencyTrackerListener for partition events.")
	}
	if cfg.AverageOutlier.Enabled {
		outlier := listeners.NewAverageOutlierListener(logger, []listeners.OutlierRule{{
			AnyCounty:  true,
			Thresholds: listeners.Thresholds{Min: cfg.AverageOutlier.Min, Max: cfg.AverageOutlier.Max},
		}})
		hm.Register(hooks.EventPartitionCreated, outlier)
		hm.Register(hooks.EventPartitionRecreated, outlier)
		logger.Info("Registered AverageOutlierListener for partition events.", "min", cfg.AverageOutlier.Min, "max", cfg.AverageOutlier.Max)
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		// Use a temporary logger for pre-config errors
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := createLogger(cfg.Logging)
	if err != nil {
		slog.Error("Failed to create logger", "error", err)
		os.Exit(1)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	compression, err := core.ParseCompressionType(cfg.HDFS.Compression)
	if err != nil {
		logger.Error("Invalid hdfs.compression value in config.", "value", cfg.HDFS.Compression, "error", err)
		os.Exit(1)
	}

	tp, tracerCleanup, err := initTracerProvider(cfg.Tracing, logger)
	if err != nil {
		logger.Error("Failed to initialize tracer provider", "error", err)
		os.Exit(1)
	}

	fs, err := openFileSystem(cfg.HDFS, logger)
	if err != nil {
		logger.Error("Failed to open file store", "backend", cfg.HDFS.Backend, "error", err)
		os.Exit(1)
	}

	ext, err := extractor.New(extractor.Options{
		Driver:        cfg.Database.Driver,
		DSN:           cfg.Database.DSN,
		MinLoanAmount: cfg.Database.MinLoanAmount,
		MaxLoanAmount: cfg.Database.MaxLoanAmount,
		Logger:        logger,
	})
	if err != nil {
		logger.Error("Failed to create extractor", "error", err)
		os.Exit(1)
	}

	hookManager := hooks.NewHookManager(logger)
	registerListeners(hookManager, cfg.Hooks, logger)

	pipeline := materialize.New(ext, fs, materialize.Options{
		Path:         cfg.HDFS.MainDatasetPath,
		Replication:  cfg.HDFS.MainReplication,
		BlockSize:    cfg.HDFS.BlockSizeBytes,
		Compression:  compression,
		RowGroupSize: cfg.HDFS.RowGroupSize,
		Policy: retry.Policy{
			MaxAttempts: cfg.Materialize.MaxAttempts,
			Backoff:     config.ParseDuration(cfg.Materialize.Backoff, 10*time.Second, logger),
		},
		Hooks:  hookManager,
		Logger: logger,
	})

	engine := partition.New(fs, partition.Options{
		MainPath:       cfg.HDFS.MainDatasetPath,
		PartitionDir:   cfg.HDFS.PartitionDir,
		Replication:    cfg.HDFS.PartitionReplication,
		BlockSize:      cfg.HDFS.BlockSizeBytes,
		Compression:    compression,
		RowGroupSize:   cfg.HDFS.RowGroupSize,
		Hooks:          hookManager,
		TracerProvider: tp,
		Logger:         logger,
	})

	locator, err := blocks.New(blocks.Options{
		BaseURL:         cfg.HDFS.WebHDFSURL,
		User:            cfg.HDFS.User,
		Timeout:         config.ParseDuration(cfg.HDFS.MetadataTimeout, 10*time.Second, logger),
		BreakerFailures: cfg.HDFS.BreakerFailures,
		BreakerCooldown: config.ParseDuration(cfg.HDFS.BreakerCooldown, 30*time.Second, logger),
		Logger:          logger,
	})
	if err != nil {
		logger.Error("Failed to create block locator", "error", err)
		fs.Close()
		os.Exit(1)
	}

	appServer, err := server.NewAppServer(server.Services{
		Materializer: pipeline,
		Locator:      locator,
		Partitions:   engine,
	}, cfg, logger)
	if err != nil {
		logger.Error("Failed to create application server", "error", err)
		fs.Close()
		os.Exit(1)
	}

	logger.Info("Application running. Press Ctrl+C to exit.")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- appServer.Start()
	}()

	select {
	case err := <-serverErrChan:
		logger.Error("Server exited with an error", "error", err)
	case <-quit:
		logger.Info("Shutdown signal received. Stopping server...")
		appServer.Stop()
		<-serverErrChan
	}

	// Servers are down, so no request can reach the store or fire a hook now.
	hookManager.Stop()
	if err := fs.Close(); err != nil {
		logger.Error("Error closing file store", "error", err)
	}
	tracerCleanup()
	logger.Info("Application exited gracefully.")
}
