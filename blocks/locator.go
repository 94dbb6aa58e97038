// Package blocks reports which datanodes hold the blocks of a file, using
// the namenode's WebHDFS GETFILEBLOCKLOCATIONS operation.
package blocks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/INLOpen/lender/metrics"
	"github.com/sony/gobreaker"
)

// Options configures a Locator.
type Options struct {
	// BaseURL is the namenode HTTP address, e.g. http://boss:9870.
	BaseURL string
	// User is sent as user.name when non-empty.
	User    string
	Timeout time.Duration
	// BreakerFailures is the number of consecutive failures that opens the
	// circuit. Zero uses 5.
	BreakerFailures uint32
	// BreakerCooldown is how long the circuit stays open. Zero uses 30s.
	BreakerCooldown time.Duration
	HTTPClient      *http.Client
	Logger          *slog.Logger
}

// StatusError is returned when the metadata endpoint answers with a non-2xx code.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("webhdfs returned status %d", e.Code)
	}
	return fmt.Sprintf("webhdfs returned status %d: %s", e.Code, e.Body)
}

// blockLocations mirrors the subset of the WebHDFS response that is used.
type blockLocations struct {
	BlockLocations struct {
		BlockLocation []struct {
			Hosts  []string `json:"hosts"`
			Offset int64    `json:"offset"`
			Length int64    `json:"length"`
		} `json:"BlockLocation"`
	} `json:"BlockLocations"`
}

// Locator queries block placement.
type Locator struct {
	baseURL string
	user    string
	timeout time.Duration
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// New creates a Locator.
func New(opts Options) (*Locator, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("blocks: webhdfs base url is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("blocks: invalid webhdfs base url: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "BlockLocator")
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	failures := opts.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	cooldown := opts.BreakerCooldown
	if cooldown == 0 {
		cooldown = 30 * time.Second
	}

	cbSettings := gobreaker.Settings{
		Name:        "webhdfs-metadata",
		MaxRequests: 1,        // One probe in half-open state
		Timeout:     cooldown, // Time after which circuit switches from open to half-open
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// Client errors such as a missing path say nothing about the namenode's health.
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker changed state", "name", name, "from", from.String(), "to", to.String())
			metrics.BlockBreakerState.Set(float64(to))
		},
	}

	return &Locator{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		user:    opts.User,
		timeout: opts.Timeout,
		client:  client,
		cb:      gobreaker.NewCircuitBreaker(cbSettings),
		logger:  logger,
	}, nil
}

// Locate returns, for every datanode holding at least one block of path,
// the number of blocks it holds. On any failure the map is empty (never
// nil) and the error describes the failure.
func (l *Locator) Locate(ctx context.Context, path string) (map[string]int64, error) {
	result, err := l.cb.Execute(func() (interface{}, error) {
		return l.fetch(ctx, path)
	})
	if err != nil {
		metrics.BlockLocateRequests.WithLabelValues("error").Inc()
		l.logger.Error("Block location lookup failed", "path", path, "error", err)
		return map[string]int64{}, err
	}

	counts := make(map[string]int64)
	for _, block := range result.(*blockLocations).BlockLocations.BlockLocation {
		for _, host := range block.Hosts {
			counts[host]++
		}
	}
	metrics.BlockLocateRequests.WithLabelValues("success").Inc()
	l.logger.Info("Located blocks", "path", path, "datanodes", len(counts))
	return counts, nil
}

func (l *Locator) endpoint(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	q := url.Values{}
	q.Set("op", "GETFILEBLOCKLOCATIONS")
	if l.user != "" {
		q.Set("user.name", l.user)
	}
	return l.baseURL + "/webhdfs/v1" + (&url.URL{Path: path}).EscapedPath() + "?" + q.Encode()
}

func (l *Locator) fetch(ctx context.Context, path string) (*blockLocations, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint(path), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build block location request for %s: %w", path, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query block locations for %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var out blockLocations
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode block locations for %s: %w", path, err)
	}
	return &out, nil
}
