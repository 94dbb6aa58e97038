// Package testutil holds helpers shared by the gRPC tests.
package testutil

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// DefaultBufferSize is used when NewBufconnListener gets a non-positive size.
const DefaultBufferSize = 1024 * 1024

// NewBufconnListener returns a new bufconn.Listener with a sensible default buffer size.
func NewBufconnListener(bufferSize int) *bufconn.Listener {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return bufconn.Listen(bufferSize)
}

// BufconnDialOptions returns a slice of grpc.DialOption configured to use the provided
// bufconn listener. Callers can append additional DialOptions as needed.
func BufconnDialOptions(lis *bufconn.Listener, creds credentials.TransportCredentials) []grpc.DialOption {
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	return []grpc.DialOption{
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithTransportCredentials(creds),
	}
}

// DialBufconn blocks until a connection over lis is ready or timeout passes.
// A nil creds dials without TLS.
func DialBufconn(lis *bufconn.Listener, creds credentials.TransportCredentials, timeout time.Duration) (*grpc.ClientConn, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	opts := append(BufconnDialOptions(lis, creds), grpc.WithBlock())
	return grpc.DialContext(ctx, "bufnet", opts...)
}

// MustDialBufconn is DialBufconn that fails the test on error and closes the
// connection on cleanup.
func MustDialBufconn(t testing.TB, lis *bufconn.Listener) *grpc.ClientConn {
	t.Helper()
	conn, err := DialBufconn(lis, nil, 2*time.Second)
	require.NoError(t, err, "failed to dial bufconn")
	t.Cleanup(func() { conn.Close() })
	return conn
}
