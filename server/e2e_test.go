package server

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/INLOpen/lender/api/lender"
	"github.com/INLOpen/lender/blocks"
	"github.com/INLOpen/lender/core"
	"github.com/INLOpen/lender/extractor"
	"github.com/INLOpen/lender/hooks"
	"github.com/INLOpen/lender/hooks/listeners"
	"github.com/INLOpen/lender/internal/testutil"
	"github.com/INLOpen/lender/materialize"
	"github.com/INLOpen/lender/partition"
	"github.com/INLOpen/lender/retry"
	"github.com/INLOpen/lender/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const e2eSchema = `
CREATE TABLE loan_types (id INTEGER PRIMARY KEY, loan_type_name TEXT);
CREATE TABLE loans (
	lei TEXT, census_tract TEXT, action_taken INTEGER, county_code INTEGER,
	loan_amount REAL, interest_rate REAL, income REAL, loan_type_id INTEGER
);
INSERT INTO loan_types VALUES (1, 'Conventional'), (2, 'FHA');
`

type e2eEnv struct {
	client lender.LenderClient
	fs     *storage.FaultFS
	local  *storage.LocalFS
}

// seedLoans writes a sqlite source with three loans in county 55025, one in
// 55027 and one out of bounds.
func seedLoans(t *testing.T) string {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "loans.db")
	db, err := sql.Open(extractor.DriverSQLite, dsn)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(e2eSchema)
	require.NoError(t, err)

	insert := `INSERT INTO loans VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	rows := []struct {
		county any
		amount float64
	}{
		{55025, 100000}, {55025, 200000}, {55025, 320000},
		{55027, 450000},
		{55025, 900000},
		{nil, 60000},
	}
	for i, r := range rows {
		_, err = db.Exec(insert, fmt.Sprintf("LEI%d", i), "55025000100", 1, r.county, r.amount, 3.25, 80.0, 1)
		require.NoError(t, err)
	}
	return dsn
}

// newWebHDFS answers GETFILEBLOCKLOCATIONS for a single known path.
func newWebHDFS(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("op") != "GETFILEBLOCKLOCATIONS" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if strings.TrimPrefix(r.URL.Path, "/webhdfs/v1") != "/hdma-wi-2021.parquet" {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"RemoteException":{"exception":"FileNotFoundException"}}`)
			return
		}
		io.WriteString(w, `{"BlockLocations":{"BlockLocation":[
			{"hosts":["dn1","dn2"],"offset":0,"length":1048576},
			{"hosts":["dn2","dn3"],"offset":1048576,"length":1048576},
			{"hosts":["dn1","dn3"],"offset":2097152,"length":4096}
		]}}`)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func setupE2E(t *testing.T) *e2eEnv {
	t.Helper()
	testLogger := slog.New(slog.NewJSONHandler(io.Discard, nil))

	local, err := storage.NewLocalFS(t.TempDir())
	require.NoError(t, err)
	fs := storage.NewFaultFS(local)

	hm := hooks.NewHookManager(testLogger)
	hm.Register(hooks.EventPartitionRecreated, listeners.NewCorruptionAlerterListener(testLogger))
	t.Cleanup(hm.Stop)

	ext, err := extractor.New(extractor.Options{
		Driver:        extractor.DriverSQLite,
		DSN:           seedLoans(t),
		MinLoanAmount: 30000,
		MaxLoanAmount: 800000,
		Logger:        testLogger,
	})
	require.NoError(t, err)

	pipeline := materialize.New(ext, fs, materialize.Options{
		Path:         "/hdma-wi-2021.parquet",
		Replication:  2,
		BlockSize:    1 << 20,
		Compression:  core.CompressionSnappy,
		RowGroupSize: 2,
		Policy:       retry.Policy{MaxAttempts: 5, Backoff: time.Millisecond},
		Hooks:        hm,
		Logger:       testLogger,
	})
	engine := partition.New(fs, partition.Options{
		MainPath:     "/hdma-wi-2021.parquet",
		PartitionDir: "/partitions",
		Replication:  1,
		BlockSize:    1 << 20,
		Compression:  core.CompressionSnappy,
		RowGroupSize: 16384,
		Hooks:        hm,
		Logger:       testLogger,
	})
	locator, err := blocks.New(blocks.Options{
		BaseURL: newWebHDFS(t).URL,
		User:    "root",
		Timeout: 2 * time.Second,
		Logger:  testLogger,
	})
	require.NoError(t, err)

	cfg := testConfig()
	lis := testutil.NewBufconnListener(0)
	appServer, err := NewAppServerWithListeners(Services{
		Materializer: pipeline,
		Locator:      locator,
		Partitions:   engine,
	}, cfg, testLogger, lis, nil)
	require.NoError(t, err)

	serverErr := make(chan error, 1)
	go func() { serverErr <- appServer.Start() }()

	conn, err := testutil.DialBufconn(lis, nil, 2*time.Second)
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		appServer.Stop()
		lis.Close()
		assert.NoError(t, <-serverErr)
	})

	return &e2eEnv{client: lender.NewLenderClient(conn), fs: fs, local: local}
}

func TestE2E_MaterializeThenPartitionLifecycle(t *testing.T) {
	env := setupE2E(t)
	ctx := context.Background()

	// Before materialization there is no main dataset to scan.
	avg, err := env.client.ComputePartitionAverage(ctx, &lender.PartitionAverageRequest{PartitionKey: 55025})
	require.NoError(t, err)
	assert.NotEmpty(t, avg.Error)
	assert.Equal(t, int64(0), avg.Average)
	assert.Empty(t, avg.Source)

	st, err := env.client.MaterializeDataset(ctx, &lender.MaterializeRequest{})
	require.NoError(t, err)
	assert.Equal(t, "MaterializeDataset: Successfully wrote 5 rows", st.Status)
	rep, ok := env.local.Replication("/hdma-wi-2021.parquet")
	require.True(t, ok)
	assert.Equal(t, 2, rep)

	avg, err = env.client.ComputePartitionAverage(ctx, &lender.PartitionAverageRequest{PartitionKey: 55025})
	require.NoError(t, err)
	assert.Equal(t, &lender.PartitionAverageResponse{Average: 206666, Source: "create"}, avg)

	avg, err = env.client.ComputePartitionAverage(ctx, &lender.PartitionAverageRequest{PartitionKey: 55025})
	require.NoError(t, err)
	assert.Equal(t, &lender.PartitionAverageResponse{Average: 206666, Source: "reuse"}, avg)

	rep, ok = env.local.Replication(partition.PartitionPath("/partitions", 55025))
	require.True(t, ok)
	assert.Equal(t, 1, rep)

	// Make the cached partition unreadable; the next request rebuilds it.
	env.fs.SetUnavailable(partition.PartitionPath("/partitions", 55025), true)
	avg, err = env.client.ComputePartitionAverage(ctx, &lender.PartitionAverageRequest{PartitionKey: 55025})
	require.NoError(t, err)
	assert.Equal(t, &lender.PartitionAverageResponse{Average: 206666, Source: "recreate"}, avg)
	env.fs.SetUnavailable(partition.PartitionPath("/partitions", 55025), false)

	avg, err = env.client.ComputePartitionAverage(ctx, &lender.PartitionAverageRequest{PartitionKey: 55025})
	require.NoError(t, err)
	assert.Equal(t, "reuse", avg.Source)

	avg, err = env.client.ComputePartitionAverage(ctx, &lender.PartitionAverageRequest{PartitionKey: 12345})
	require.NoError(t, err)
	assert.Equal(t, &lender.PartitionAverageResponse{Error: "no loan records for county_code 12345"}, avg)
}

func TestE2E_LocateBlocks(t *testing.T) {
	env := setupE2E(t)
	ctx := context.Background()

	resp, err := env.client.LocateBlocks(ctx, &lender.LocateBlocksRequest{Path: "/hdma-wi-2021.parquet"})
	require.NoError(t, err)
	assert.Empty(t, resp.Error)
	assert.Equal(t, map[string]int64{"dn1": 2, "dn2": 2, "dn3": 2}, resp.BlockEntries)

	resp, err = env.client.LocateBlocks(ctx, &lender.LocateBlocksRequest{Path: "/nope.parquet"})
	require.NoError(t, err)
	assert.Contains(t, resp.Error, "404")
	assert.Empty(t, resp.BlockEntries)
}
