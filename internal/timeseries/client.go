// Package timeseries talks to the SQL-over-HTTP time-series store that
// receives migrated trip archives. The store exposes a single /exec
// endpoint taking a SQL statement as a query parameter; errors come back
// as JSON with a message and statement position.
package timeseries

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout = 15 * time.Second
	execPath       = "/exec"
)

type Config struct {
	URL     string
	Timeout time.Duration
}

// Client executes statements against the time-series store
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("timeseries URL is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// QueryError is a statement rejected by the store. Status codes below 500
// mean the statement itself is bad and retrying is pointless.
type QueryError struct {
	StatusCode int
	Message    string
	Position   int
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("timeseries query failed (HTTP %d): %s", e.StatusCode, e.Message)
}

type errorResponse struct {
	Query    string `json:"query"`
	Error    string `json:"error"`
	Position int    `json:"position"`
}

// Exec runs one SQL statement. A nil return means the store accepted it.
func (c *Client) Exec(ctx context.Context, query string) error {
	u := c.baseURL + execPath + "?query=" + url.QueryEscape(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to build exec request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("exec request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	qe := &QueryError{StatusCode: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err == nil && er.Error != "" {
		qe.Message = er.Error
		qe.Position = er.Position
	} else {
		qe.Message = http.StatusText(resp.StatusCode)
	}
	return qe
}

// Ping verifies the store answers queries.
func (c *Client) Ping(ctx context.Context) error {
	return c.Exec(ctx, "SELECT 1")
}

// IsTransient reports whether an Exec error is worth retrying: network
// failures and 5xx responses are; statement errors and context
// cancellation are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.StatusCode >= http.StatusInternalServerError
	}

	// Anything else came from the transport layer.
	return true
}
