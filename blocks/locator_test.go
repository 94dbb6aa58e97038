package blocks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const threeBlocks = `{
  "BlockLocations": {
    "BlockLocation": [
      {"hosts": ["dn1", "dn2"], "names": ["10.0.0.1:9866", "10.0.0.2:9866"], "offset": 0, "length": 1048576},
      {"hosts": ["dn2", "dn3"], "names": ["10.0.0.2:9866", "10.0.0.3:9866"], "offset": 1048576, "length": 1048576},
      {"hosts": ["dn1", "dn3"], "names": ["10.0.0.1:9866", "10.0.0.3:9866"], "offset": 2097152, "length": 524288}
    ]
  }
}`

func newLocator(t *testing.T, handler http.HandlerFunc, opts Options) *Locator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts.BaseURL = srv.URL
	l, err := New(opts)
	require.NoError(t, err)
	return l
}

func TestLocator_CountsBlocksPerHost(t *testing.T) {
	var gotPath, gotOp, gotUser string
	l := newLocator(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotOp = r.URL.Query().Get("op")
		gotUser = r.URL.Query().Get("user.name")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(threeBlocks))
	}, Options{User: "root"})

	counts, err := l.Locate(context.Background(), "/hdma-wi-2021.parquet")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"dn1": 2, "dn2": 2, "dn3": 2}, counts)

	assert.Equal(t, "/webhdfs/v1/hdma-wi-2021.parquet", gotPath)
	assert.Equal(t, "GETFILEBLOCKLOCATIONS", gotOp)
	assert.Equal(t, "root", gotUser)
}

func TestLocator_SingleReplica(t *testing.T) {
	l := newLocator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"BlockLocations":{"BlockLocation":[{"hosts":["dn2"]}]}}`))
	}, Options{})

	counts, err := l.Locate(context.Background(), "partitions/55025.parquet")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"dn2": 1}, counts)
}

func TestLocator_EmptyFile(t *testing.T) {
	l := newLocator(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"BlockLocations":{"BlockLocation":[]}}`))
	}, Options{})

	counts, err := l.Locate(context.Background(), "/empty")
	require.NoError(t, err)
	assert.NotNil(t, counts)
	assert.Empty(t, counts)
}

func TestLocator_Failures(t *testing.T) {
	testCases := []struct {
		name    string
		handler http.HandlerFunc
		check   func(t *testing.T, err error)
	}{
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"RemoteException":{"exception":"FileNotFoundException"}}`, http.StatusNotFound)
			},
			check: func(t *testing.T, err error) {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, http.StatusNotFound, se.Code)
				assert.Contains(t, err.Error(), "FileNotFoundException")
			},
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(`{"BlockLocations":`))
			},
			check: func(t *testing.T, err error) {
				assert.Contains(t, err.Error(), "failed to decode block locations")
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusServiceUnavailable)
			},
			check: func(t *testing.T, err error) {
				assert.EqualError(t, err, "webhdfs returned status 503")
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			l := newLocator(t, tc.handler, Options{})
			counts, err := l.Locate(context.Background(), "/x")
			require.Error(t, err)
			assert.NotNil(t, counts)
			assert.Empty(t, counts)
			tc.check(t, err)
		})
	}
}

func TestLocator_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	l, err := New(Options{BaseURL: url})
	require.NoError(t, err)

	counts, err := l.Locate(context.Background(), "/x")
	require.Error(t, err)
	assert.Empty(t, counts)
}

func TestLocator_Timeout(t *testing.T) {
	release := make(chan struct{})
	l := newLocator(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, Options{Timeout: 50 * time.Millisecond})
	defer close(release)

	counts, err := l.Locate(context.Background(), "/slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, counts)
}

func TestLocator_BreakerOpensOnServerFaults(t *testing.T) {
	var hits atomic.Int32
	l := newLocator(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}, Options{BreakerFailures: 3, BreakerCooldown: time.Hour})

	for i := 0; i < 3; i++ {
		_, err := l.Locate(context.Background(), "/x")
		require.Error(t, err)
	}

	counts, err := l.Locate(context.Background(), "/x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
	assert.Empty(t, counts)
	assert.Equal(t, int32(3), hits.Load(), "an open breaker fails fast without a request")
}

func TestLocator_BreakerIgnoresClientErrors(t *testing.T) {
	var hits atomic.Int32
	l := newLocator(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}, Options{BreakerFailures: 2, BreakerCooldown: time.Hour})

	for i := 0; i < 5; i++ {
		_, err := l.Locate(context.Background(), "/missing")
		var se *StatusError
		require.ErrorAs(t, err, &se)
	}
	assert.Equal(t, int32(5), hits.Load())
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}
