package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "x-request-id"

type requestIDKey struct{}

// RequestIDFromContext returns the id assigned by RequestInterceptor.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok
}

// RequestInterceptor tags every call with a request id and logs its outcome.
type RequestInterceptor struct {
	logger *slog.Logger
}

// NewRequestInterceptor creates a new RequestInterceptor.
func NewRequestInterceptor(logger *slog.Logger) *RequestInterceptor {
	return &RequestInterceptor{
		logger: logger.With("component", "RequestInterceptor"),
	}
}

// Unary returns a gRPC unary server interceptor.
func (i *RequestInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		// Reuse a caller-supplied id so a request can be followed across services.
		id := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vals := md.Get(RequestIDHeader); len(vals) > 0 {
				id = vals[0]
			}
		}
		if id == "" {
			id = uuid.NewString()
		}
		ctx = context.WithValue(ctx, requestIDKey{}, id)
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDHeader, id))

		start := time.Now()
		resp, err := handler(ctx, req)
		duration := time.Since(start)

		if err != nil {
			i.logger.Warn("RPC failed", "method", info.FullMethod, "request_id", id, "code", status.Code(err).String(), "duration", duration, "error", err)
		} else {
			i.logger.Info("RPC completed", "method", info.FullMethod, "request_id", id, "duration", duration)
		}
		return resp, err
	}
}
