// Package maps implements the HTTP client for the external directions
// provider. It requests a route estimate and normalizes the provider's
// status vocabulary into the sample statuses the rest of the pipeline
// understands.
package maps

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rsampath/routepulse/internal/database"
)

const (
	defaultTimeout = 10 * time.Second
	minTimeout     = 5 * time.Second
	maxTimeout     = 30 * time.Second
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client queries the directions provider
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if timeout < minTimeout {
		timeout = minTimeout
	}
	if timeout > maxTimeout {
		timeout = maxTimeout
	}

	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Request describes one route estimate lookup.
type Request struct {
	Origin        string
	Destination   string
	Waypoints     []string
	DepartureTime time.Time
}

// Estimate is the normalized provider answer. Status uses the sample
// status vocabulary; durations are zero unless Status is OK. When the
// provider omits an in-traffic duration, ObservedDurationSec falls back
// to the free-flow duration.
type Estimate struct {
	Status              string
	FreeFlowDurationSec int
	ObservedDurationSec int
	DistanceMeters      int
}

// directionsResponse mirrors the provider's wire format.
type directionsResponse struct {
	Status string `json:"status"`
	Routes []struct {
		Legs []struct {
			Duration          durationValue `json:"duration"`
			DurationInTraffic durationValue `json:"duration_in_traffic"`
			Distance          distanceValue `json:"distance"`
		} `json:"legs"`
	} `json:"routes"`
}

type durationValue struct {
	Value int `json:"value"`
}

type distanceValue struct {
	Value int `json:"value"`
}

// EstimateRoute fetches the current duration for a route. A returned error
// means the request itself failed (network, bad payload); provider-level
// rejections come back as a non-OK Estimate status instead.
func (c *Client) EstimateRoute(ctx context.Context, req Request) (*Estimate, error) {
	u, err := c.buildURL(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned HTTP %d", resp.StatusCode)
	}

	var dr directionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("failed to decode provider response: %w", err)
	}

	return normalize(&dr), nil
}

func (c *Client) buildURL(req Request) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid provider base URL: %w", err)
	}

	q := base.Query()
	q.Set("origin", req.Origin)
	q.Set("destination", req.Destination)
	if len(req.Waypoints) > 0 {
		q.Set("waypoints", strings.Join(req.Waypoints, "|"))
	}
	if !req.DepartureTime.IsZero() {
		q.Set("departure_time", strconv.FormatInt(req.DepartureTime.Unix(), 10))
	}
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	base.RawQuery = q.Encode()

	return base.String(), nil
}

func normalize(dr *directionsResponse) *Estimate {
	est := &Estimate{Status: mapStatus(dr.Status)}
	if est.Status != database.SampleStatusOK {
		return est
	}
	if len(dr.Routes) == 0 {
		est.Status = database.SampleStatusZeroResults
		return est
	}

	for _, leg := range dr.Routes[0].Legs {
		est.FreeFlowDurationSec += leg.Duration.Value
		est.ObservedDurationSec += leg.DurationInTraffic.Value
		est.DistanceMeters += leg.Distance.Value
	}
	if est.ObservedDurationSec == 0 {
		est.ObservedDurationSec = est.FreeFlowDurationSec
	}

	return est
}

func mapStatus(providerStatus string) string {
	switch providerStatus {
	case "OK":
		return database.SampleStatusOK
	case "ZERO_RESULTS":
		return database.SampleStatusZeroResults
	case "OVER_QUERY_LIMIT":
		return database.SampleStatusOverLimit
	case "REQUEST_DENIED":
		return database.SampleStatusDenied
	case "INVALID_REQUEST":
		return database.SampleStatusInvalid
	default:
		return database.SampleStatusUnknown
	}
}
