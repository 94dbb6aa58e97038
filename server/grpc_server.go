package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/INLOpen/lender/api/lender"
	"github.com/INLOpen/lender/config"
	"github.com/INLOpen/lender/metrics"
	"github.com/INLOpen/lender/partition"
	"github.com/INLOpen/lender/retry"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Materializer rebuilds the main dataset and returns the rows written.
type Materializer interface {
	Run(ctx context.Context) (int, error)
}

// BlockLocator counts blocks per datanode for a path.
type BlockLocator interface {
	Locate(ctx context.Context, path string) (map[string]int64, error)
}

// PartitionAverager answers partition average queries.
type PartitionAverager interface {
	Average(ctx context.Context, key int64) (partition.Result, error)
}

// Services are the components behind the three RPCs.
type Services struct {
	Materializer Materializer
	Locator      BlockLocator
	Partitions   PartitionAverager
}

// GRPCServer wraps the grpc.Server and implements the Lender service.
type GRPCServer struct {
	lender.UnimplementedLenderServer
	services  Services
	server    *grpc.Server
	healthSrv *health.Server
	logger    *slog.Logger
	pool      *WorkerPool
}

// NewGRPCServer creates and configures a new gRPC server instance.
// It handles TLS, interceptors, and service registration.
func NewGRPCServer(services Services, pool *WorkerPool, cfg *config.ServerConfig, logger *slog.Logger) (*GRPCServer, error) {
	s := &GRPCServer{
		services:  services,
		logger:    logger.With("component", "GRPCServer"),
		healthSrv: health.NewServer(),
		pool:      pool,
	}

	var opts []grpc.ServerOption
	if cfg.TLS.Enabled {
		creds, err := s.loadTLSCredentials(&cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("could not load TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
		s.logger.Info("gRPC server initialized with TLS.")
	} else {
		s.logger.Info("gRPC server initialized without TLS (insecure).")
	}

	opts = append(opts, grpc.ChainUnaryInterceptor(
		NewRequestInterceptor(logger).Unary(),
		metrics.GRPCMetrics.UnaryServerInterceptor(),
	))

	s.server = grpc.NewServer(opts...)
	lender.RegisterLenderServer(s.server, s)
	grpc_health_v1.RegisterHealthServer(s.server, s.healthSrv)
	metrics.GRPCMetrics.InitializeMetrics(s.server)
	s.healthSrv.SetServingStatus(lender.ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return s, nil
}

// Start begins listening for gRPC requests.
func (s *GRPCServer) Start(lis net.Listener) error {
	s.logger.Info("gRPC server listening", "address", lis.Addr().String())
	return s.server.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (s *GRPCServer) Stop() {
	s.logger.Info("Stopping gRPC server...")
	if s.healthSrv != nil {
		s.healthSrv.Shutdown()
	}
	if s.server != nil {
		s.server.GracefulStop()
	}
	s.logger.Info("gRPC server stopped.")
}

func (s *GRPCServer) loadTLSCredentials(cfg *config.TLSConfig) (credentials.TransportCredentials, error) {
	serverCert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, err
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientAuth:   tls.NoClientCert,
	}

	return credentials.NewTLS(tlsConfig), nil
}

// submit runs task on the worker pool. The RPC fails only if the task
// could not be queued.
func (s *GRPCServer) submit(ctx context.Context, method string, task Task) error {
	if err := s.pool.Submit(ctx, task); err != nil {
		s.logger.Warn("Request could not be queued", "method", method, "error", err)
		return status.Errorf(codes.Unavailable, "%s: request could not be scheduled: %v", method, err)
	}
	return nil
}

// MaterializeStatus renders the outcome of a materialization as the status
// text returned to callers.
func MaterializeStatus(rows int, err error) string {
	if err == nil {
		return fmt.Sprintf("MaterializeDataset: Successfully wrote %d rows", rows)
	}
	var exhausted *retry.ExhaustedError
	if errors.As(err, &exhausted) {
		return fmt.Sprintf("ERROR: Could not complete operation after %d attempts: %v", exhausted.Attempts, exhausted.Err)
	}
	return fmt.Sprintf("ERROR: %v", err)
}

// MaterializeDataset handles the request to rebuild the main dataset.
func (s *GRPCServer) MaterializeDataset(ctx context.Context, req *lender.MaterializeRequest) (*lender.StatusResponse, error) {
	var resp lender.StatusResponse
	err := s.submit(ctx, "MaterializeDataset", func(ctx context.Context) {
		rows, err := s.services.Materializer.Run(ctx)
		resp.Status = MaterializeStatus(rows, err)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// LocateBlocks handles the request for the block placement of a file.
func (s *GRPCServer) LocateBlocks(ctx context.Context, req *lender.LocateBlocksRequest) (*lender.LocateBlocksResponse, error) {
	resp := lender.LocateBlocksResponse{BlockEntries: map[string]int64{}}
	if req.Path == "" {
		resp.Error = "path is required"
		return &resp, nil
	}
	err := s.submit(ctx, "LocateBlocks", func(ctx context.Context) {
		entries, err := s.services.Locator.Locate(ctx, req.Path)
		if err != nil {
			resp.Error = err.Error()
			return
		}
		resp.BlockEntries = entries
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// ComputePartitionAverage handles the request for a partition's average loan amount.
func (s *GRPCServer) ComputePartitionAverage(ctx context.Context, req *lender.PartitionAverageRequest) (*lender.PartitionAverageResponse, error) {
	var resp lender.PartitionAverageResponse
	err := s.submit(ctx, "ComputePartitionAverage", func(ctx context.Context) {
		result, err := s.services.Partitions.Average(ctx, req.PartitionKey)
		if err != nil {
			resp.Error = err.Error()
			return
		}
		resp.Average = result.Average
		resp.Source = string(result.Source)
	})
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
