package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/INLOpen/lender/api/lender"
	"github.com/INLOpen/lender/config"
	"github.com/INLOpen/lender/core"
	"github.com/INLOpen/lender/internal/testutil"
	"github.com/INLOpen/lender/partition"
	"github.com/INLOpen/lender/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// MockServices implements the three service interfaces with testify/mock.
type MockServices struct {
	mock.Mock
}

func (m *MockServices) Run(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockServices) Locate(ctx context.Context, path string) (map[string]int64, error) {
	args := m.Called(ctx, path)
	entries, _ := args.Get(0).(map[string]int64)
	return entries, args.Error(1)
}

func (m *MockServices) Average(ctx context.Context, key int64) (partition.Result, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(partition.Result), args.Error(1)
}

func (m *MockServices) services() Services {
	return Services{Materializer: m, Locator: m, Partitions: m}
}

func testConfig() *config.Config {
	cfg, _ := config.Load(nil)
	cfg.Server.GRPCPort = 0
	cfg.Server.WorkerPoolSize = 2
	cfg.Server.WorkerQueueSize = 4
	cfg.Debug.Enabled = false
	cfg.SelfMonitoring.Enabled = false
	return cfg
}

func TestAppServer_StartStop_GRPC(t *testing.T) {
	certFile, keyFile := generateTestCerts(t)

	testCases := []struct {
		name       string
		tlsEnabled bool
		setupCreds func(t *testing.T, certFile string) credentials.TransportCredentials
	}{
		{
			name:       "Without TLS",
			tlsEnabled: false,
			setupCreds: func(t *testing.T, certFile string) credentials.TransportCredentials {
				return insecure.NewCredentials()
			},
		},
		{
			name:       "With TLS",
			tlsEnabled: true,
			setupCreds: func(t *testing.T, certFile string) credentials.TransportCredentials {
				caCert, err := os.ReadFile(certFile)
				require.NoError(t, err)
				certPool := x509.NewCertPool()
				require.True(t, certPool.AppendCertsFromPEM(caCert))
				return credentials.NewTLS(&tls.Config{
					ServerName: "127.0.0.1",
					RootCAs:    certPool,
				})
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			testLogger := slog.New(slog.NewJSONHandler(io.Discard, nil))
			cfg := testConfig()
			cfg.Server.TLS = config.TLSConfig{
				Enabled:  tc.tlsEnabled,
				CertFile: certFile,
				KeyFile:  keyFile,
			}

			// Create a bufconn listener so tests don't need a real TCP port.
			lis := testutil.NewBufconnListener(0)

			appServer, err := NewAppServerWithListeners((&MockServices{}).services(), cfg, testLogger, lis, nil)
			require.NoError(t, err)
			require.NotNil(t, appServer)

			serverErr := make(chan error, 1)
			go func() {
				serverErr <- appServer.Start()
			}()

			// Wait for the server to be ready by performing a health check over bufconn
			var healthCheckSuccessful bool
			creds := tc.setupCreds(t, certFile)

			for i := 0; i < 20; i++ {
				conn, err := testutil.DialBufconn(lis, creds, 250*time.Millisecond)
				if err == nil {
					healthClient := grpc_health_v1.NewHealthClient(conn)
					rpcCtx, rpcCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
					resp, rpcErr := healthClient.Check(rpcCtx, &grpc_health_v1.HealthCheckRequest{Service: lender.ServiceName})
					rpcCancel()
					conn.Close()
					if rpcErr == nil && resp.GetStatus() == grpc_health_v1.HealthCheckResponse_SERVING {
						healthCheckSuccessful = true
						break
					}
				}
				time.Sleep(100 * time.Millisecond)
			}

			require.True(t, healthCheckSuccessful, "Server did not become healthy in time")

			// Stop the server and wait for graceful shutdown
			appServer.Stop()
			select {
			case err := <-serverErr:
				assert.NoError(t, err, "appServer.Start() should return nil on graceful shutdown")
			case <-time.After(2 * time.Second):
				t.Fatal("Timed out waiting for server to stop")
			}
			lis.Close()
		})
	}
}

// setupTestGRPCServer creates a bufconn-backed server over mock services and
// returns a client and a cleanup function.
func setupTestGRPCServer(t *testing.T, cfg *config.Config) (lender.LenderClient, *MockServices, func()) {
	t.Helper()

	mockServices := &MockServices{}
	testLogger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	lis := testutil.NewBufconnListener(0)

	appServer, err := NewAppServerWithListeners(mockServices.services(), cfg, testLogger, lis, nil)
	require.NoError(t, err)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- appServer.Start()
	}()

	conn, err := testutil.DialBufconn(lis, nil, 2*time.Second)
	require.NoError(t, err, "Failed to connect to test gRPC server (bufconn)")

	cleanup := func() {
		conn.Close()
		appServer.Stop()
		lis.Close()
		require.NoError(t, <-serverErrChan, "Server exited with an unexpected error (bufconn)")
		mockServices.AssertExpectations(t)
	}

	return lender.NewLenderClient(conn), mockServices, cleanup
}

func TestAppServer_GRPC_MaterializeDataset(t *testing.T) {
	client, mockServices, cleanup := setupTestGRPCServer(t, testConfig())
	defer cleanup()

	mockServices.On("Run", mock.Anything).Return(160235, nil).Once()

	resp, err := client.MaterializeDataset(context.Background(), &lender.MaterializeRequest{})
	require.NoError(t, err)
	assert.Equal(t, "MaterializeDataset: Successfully wrote 160235 rows", resp.Status)
}

func TestAppServer_GRPC_MaterializeDataset_Exhausted(t *testing.T) {
	client, mockServices, cleanup := setupTestGRPCServer(t, testConfig())
	defer cleanup()

	exhausted := &retry.ExhaustedError{Attempts: 5, Err: errors.New("dial tcp mysql:3306: connection refused")}
	mockServices.On("Run", mock.Anything).Return(0, exhausted).Once()

	resp, err := client.MaterializeDataset(context.Background(), &lender.MaterializeRequest{})
	require.NoError(t, err, "failures are reported in the status, not as an RPC error")
	assert.Equal(t, "ERROR: Could not complete operation after 5 attempts: dial tcp mysql:3306: connection refused", resp.Status)
}

func TestAppServer_GRPC_LocateBlocks(t *testing.T) {
	client, mockServices, cleanup := setupTestGRPCServer(t, testConfig())
	defer cleanup()

	mockServices.On("Locate", mock.Anything, "/hdma-wi-2021.parquet").
		Return(map[string]int64{"dn1": 7, "dn2": 9}, nil).Once()
	mockServices.On("Locate", mock.Anything, "/missing").
		Return(map[string]int64{}, errors.New("webhdfs returned status 404")).Once()

	resp, err := client.LocateBlocks(context.Background(), &lender.LocateBlocksRequest{Path: "/hdma-wi-2021.parquet"})
	require.NoError(t, err)
	assert.Empty(t, resp.Error)
	assert.Equal(t, map[string]int64{"dn1": 7, "dn2": 9}, resp.BlockEntries)

	resp, err = client.LocateBlocks(context.Background(), &lender.LocateBlocksRequest{Path: "/missing"})
	require.NoError(t, err)
	assert.Equal(t, "webhdfs returned status 404", resp.Error)
	assert.Empty(t, resp.BlockEntries)

	resp, err = client.LocateBlocks(context.Background(), &lender.LocateBlocksRequest{})
	require.NoError(t, err)
	assert.Equal(t, "path is required", resp.Error)
}

func TestAppServer_GRPC_ComputePartitionAverage(t *testing.T) {
	client, mockServices, cleanup := setupTestGRPCServer(t, testConfig())
	defer cleanup()

	mockServices.On("Average", mock.Anything, int64(55025)).
		Return(partition.Result{Average: 206667, Source: core.ProvenanceCreate}, nil).Once()
	mockServices.On("Average", mock.Anything, int64(99999)).
		Return(partition.Result{}, &core.EmptyPartitionError{Key: 99999}).Once()

	resp, err := client.ComputePartitionAverage(context.Background(), &lender.PartitionAverageRequest{PartitionKey: 55025})
	require.NoError(t, err)
	assert.Equal(t, &lender.PartitionAverageResponse{Average: 206667, Source: "create"}, resp)

	resp, err = client.ComputePartitionAverage(context.Background(), &lender.PartitionAverageRequest{PartitionKey: 99999})
	require.NoError(t, err)
	assert.Equal(t, &lender.PartitionAverageResponse{Error: "no loan records for county_code 99999"}, resp)
}

func TestAppServer_GRPC_RequestIDHeader(t *testing.T) {
	client, mockServices, cleanup := setupTestGRPCServer(t, testConfig())
	defer cleanup()

	mockServices.On("Average", mock.Anything, int64(1)).
		Return(partition.Result{Average: 1, Source: core.ProvenanceReuse}, nil).Once()

	var header metadata.MD
	_, err := client.ComputePartitionAverage(context.Background(), &lender.PartitionAverageRequest{PartitionKey: 1}, grpc.Header(&header))
	require.NoError(t, err)
	assert.Len(t, header.Get(RequestIDHeader), 1)
}

func TestAppServer_GRPC_UnavailableWhenSaturated(t *testing.T) {
	cfg := testConfig()
	cfg.Server.WorkerPoolSize = 1
	cfg.Server.WorkerQueueSize = 0
	client, mockServices, cleanup := setupTestGRPCServer(t, cfg)
	defer cleanup()

	release := make(chan struct{})
	started := make(chan struct{})
	mockServices.On("Run", mock.Anything).Run(func(mock.Arguments) {
		close(started)
		<-release
	}).Return(10, nil).Once()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, err := client.MaterializeDataset(context.Background(), &lender.MaterializeRequest{})
		if assert.NoError(t, err) {
			assert.Equal(t, "MaterializeDataset: Successfully wrote 10 rows", resp.Status)
		}
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := client.ComputePartitionAverage(ctx, &lender.PartitionAverageRequest{PartitionKey: 55025})
	require.Error(t, err)
	code := status.Code(err)
	assert.True(t, code == codes.Unavailable || code == codes.DeadlineExceeded, "got %v", code)

	close(release)
	wg.Wait()
}

func generateTestCerts(t *testing.T) (string, string) {
	t.Helper()

	// Create a temporary directory for certs
	certDir := t.TempDir()
	certFile := filepath.Join(certDir, "cert.pem")
	keyFile := filepath.Join(certDir, "key.pem")

	// Generate a private key
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("Failed to generate private key: %v", err)
	}

	// Create a certificate template
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Corp"},
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(time.Hour),

		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:              []string{"localhost"},
	}

	// Create a self-signed certificate
	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		t.Fatalf("Failed to create certificate: %v", err)
	}

	// Write certificate to file
	certOut, err := os.Create(certFile)
	if err != nil {
		t.Fatalf("Failed to open cert.pem for writing: %v", err)
	}
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: derBytes}); err != nil {
		t.Fatalf("Failed to write data to cert.pem: %v", err)
	}
	if err := certOut.Close(); err != nil {
		t.Fatalf("Error closing cert.pem: %v", err)
	}

	// Write private key to file
	keyOut, err := os.Create(keyFile)
	if err != nil {
		t.Fatalf("Failed to open key.pem for writing: %v", err)
	}
	privBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		t.Fatalf("Unable to marshal private key: %v", err)
	}
	if err := pem.Encode(keyOut, &pem.Block{Type: "PRIVATE KEY", Bytes: privBytes}); err != nil {
		t.Fatalf("Failed to write data to key.pem: %v", err)
	}
	if err := keyOut.Close(); err != nil {
		t.Fatalf("Error closing key.pem: %v", err)
	}

	return certFile, keyFile
}
