package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/INLOpen/lender/config"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// AppServer manages all network-facing servers (gRPC and debug HTTP) and
// the worker pool behind them.
type AppServer struct {
	grpcLis       net.Listener
	debugLis      net.Listener
	grpcServer    *GRPCServer
	metricsServer *MetricsServer
	collector     *SystemCollector
	pool          *WorkerPool
	cfg           *config.Config
	logger        *slog.Logger
	cancel        context.CancelFunc
}

// NewAppServer creates and initializes a new application server listening
// on the configured ports.
func NewAppServer(services Services, cfg *config.Config, logger *slog.Logger) (*AppServer, error) {
	grpcAddr := fmt.Sprintf(":%d", cfg.Server.GRPCPort)
	grpcLis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on gRPC port %s: %w", grpcAddr, err)
	}
	logger.Info("gRPC server will listen on", "address", grpcLis.Addr().String())

	var debugLis net.Listener
	if cfg.Debug.Enabled {
		debugLis, err = net.Listen("tcp", cfg.Debug.ListenAddress)
		if err != nil {
			grpcLis.Close()
			return nil, fmt.Errorf("failed to listen on debug address %s: %w", cfg.Debug.ListenAddress, err)
		}
	}

	appSrv, err := NewAppServerWithListeners(services, cfg, logger, grpcLis, debugLis)
	if err != nil {
		grpcLis.Close()
		if debugLis != nil {
			debugLis.Close()
		}
		return nil, err
	}
	return appSrv, nil
}

// NewAppServerWithListeners is like NewAppServer but serves on the given
// listeners. A nil debugLis disables the debug HTTP server.
func NewAppServerWithListeners(services Services, cfg *config.Config, logger *slog.Logger, grpcLis, debugLis net.Listener) (*AppServer, error) {
	if grpcLis == nil {
		return nil, errors.New("gRPC listener is required")
	}

	pool := NewWorkerPool(cfg.Server.WorkerPoolSize, cfg.Server.WorkerQueueSize, logger.With("pool", "rpc"))

	grpcSrv, err := NewGRPCServer(services, pool, &cfg.Server, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC server: %w", err)
	}

	appSrv := &AppServer{
		grpcLis:    grpcLis,
		debugLis:   debugLis,
		grpcServer: grpcSrv,
		pool:       pool,
		cfg:        cfg,
		logger:     logger.With("component", "AppServer"),
	}

	if debugLis != nil {
		appSrv.metricsServer = NewMetricsServer(&cfg.Debug, logger)
	}
	if cfg.SelfMonitoring.Enabled {
		interval := config.ParseDuration(cfg.SelfMonitoring.Interval, defaultMonitorInterval, logger)
		appSrv.collector = NewSystemCollector(cfg.HDFS.LocalRoot, interval, logger)
	}
	return appSrv, nil
}

// Start runs all configured servers in parallel. It blocks until all servers stop.
func (s *AppServer) Start() error {
	// Create a new context for the errgroup that can be cancelled by Stop().
	g, ctx := errgroup.WithContext(context.Background())
	var appCtx context.Context
	appCtx, s.cancel = context.WithCancel(ctx)

	s.pool.Start()
	if s.collector != nil {
		s.collector.Start()
	}

	g.Go(func() error {
		// This goroutine waits for the shutdown signal and stops the gRPC server.
		go func() {
			<-appCtx.Done()
			s.logger.Info("Context cancelled, stopping gRPC server...")
			s.grpcServer.Stop()
		}()
		s.logger.Info("Starting gRPC server...")
		return s.grpcServer.Start(s.grpcLis)
	})

	if s.metricsServer != nil {
		g.Go(func() error {
			go func() {
				<-appCtx.Done()
				s.logger.Info("Context cancelled, stopping Metrics server...")
				s.metricsServer.Stop()
			}()
			return s.metricsServer.Serve(s.debugLis)
		})
	}

	s.logger.Info("Application server started. Waiting for servers to exit.")
	// Wait for all servers to stop. g.Wait() returns the first non-nil error.
	err := g.Wait()

	// Stop the worker pool after all servers have shut down to process in-flight requests.
	s.logger.Info("Stopping worker pool...")
	s.pool.Stop()
	if s.collector != nil {
		s.collector.Stop()
	}

	// Differentiate between a graceful shutdown and an actual error.
	// On graceful shutdown, Serve() returns specific errors.
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("A server has failed, initiating shutdown.", "error", err)
		return fmt.Errorf("server group failed: %w", err)
	}

	s.logger.Info("All servers have stopped gracefully.")
	return nil
}

// Stop gracefully shuts down all servers.
func (s *AppServer) Stop() {
	// Trigger the cancellation of the context created in Start().
	// This will cause the goroutines in the errgroup to stop.
	if s.cancel != nil {
		s.cancel()
	}
}
