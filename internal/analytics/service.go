// Package analytics wires the pipeline's components behind the synchronous
// operations the serving layer calls: per-route analytics, fleet refresh,
// booking frequency, and weekly rollup runs.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rsampath/routepulse/internal/bookings"
	"github.com/rsampath/routepulse/internal/database"
	"github.com/rsampath/routepulse/internal/logging"
	"github.com/rsampath/routepulse/internal/traffic"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routepulse_analytics_cache_hits_total",
		Help: "Analytics responses served straight from Redis.",
	})
	routesRefreshed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routepulse_routes_refreshed_total",
		Help: "Routes recomputed and persisted by refresh sweeps.",
	})
	refreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "routepulse_refresh_duration_seconds",
		Help:    "Wall time of full refresh sweeps.",
		Buckets: prometheus.DefBuckets,
	})
)

// ErrRouteNotFound reports an unknown route ID.
var ErrRouteNotFound = errors.New("route not found")

// RouteAnalytics is the full analytics response for one route.
type RouteAnalytics struct {
	RouteID     string               `json:"route_id"`
	RouteName   string               `json:"route_name"`
	GeneratedAt time.Time            `json:"generated_at"`
	Summary     traffic.Summary      `json:"summary"`
	Predictions []traffic.Prediction `json:"predictions"`
	Narrative   string               `json:"narrative"`
}

// BookingFrequency pairs the trailing booking history with next week's
// forecast.
type BookingFrequency struct {
	Days     int                   `json:"days"`
	History  []bookings.DailyCount `json:"history"`
	Forecast []bookings.Forecast   `json:"forecast"`
}

// RefreshResult reports one refresh-all sweep.
type RefreshResult struct {
	RunID         string   `json:"run_id"`
	RoutesUpdated int      `json:"routes_updated"`
	Errors        []string `json:"errors"`
}

// RollupRunResult reports one weekly rollup sweep.
type RollupRunResult struct {
	RoutesProcessed int                      `json:"routes_processed"`
	Analytics       []*database.WeeklyRollup `json:"analytics"`
}

// Store is the slice of the primary store the service touches.
type Store interface {
	GetRoute(ctx context.Context, routeID string) (*database.RouteProfile, error)
	ListRoutes(ctx context.Context) ([]*database.RouteProfile, error)
	InsertAnalyticsSnapshot(ctx context.Context, snap *database.AnalyticsSnapshot) error
}

// HistorySource supplies the sample window analytics are computed from.
type HistorySource interface {
	GetHistory(ctx context.Context, route *database.RouteProfile, windowDays int) []database.TrafficSample
}

// Annotator writes the route narrative. It must not fail; degraded output
// is its problem to solve.
type Annotator interface {
	Annotate(ctx context.Context, routeName string, summary traffic.Summary, predictions []traffic.Prediction, samples []database.TrafficSample) string
}

// BookingCounter supplies dense daily booking history.
type BookingCounter interface {
	DailyCounts(ctx context.Context, days int) ([]bookings.DailyCount, error)
}

// RollupRunner runs the weekly rollup across all routes.
type RollupRunner interface {
	RollupAll(ctx context.Context, weekOffset int) ([]*database.WeeklyRollup, error)
}

// EventPublisher announces rollup completions. May be nil.
type EventPublisher interface {
	RollupCompleted(ctx context.Context, routeID string, weekStart time.Time, samples int) error
}

// Params collects the service's collaborators and tuning knobs. Zero
// values for the knobs select the defaults.
type Params struct {
	Store     Store
	History   HistorySource
	Annotator Annotator
	Bookings  BookingCounter
	Rollups   RollupRunner
	Cache     *Cache
	Events    EventPublisher

	HistoryDays    int // sample window for summaries and predictions
	BookingDays    int // default booking history window
	RefreshWorkers int // fan-out width for refresh sweeps
}

// Service exposes the synchronous analytics operations.
type Service struct {
	store     Store
	history   HistorySource
	annotator Annotator
	bookings  BookingCounter
	rollups   RollupRunner
	cache     *Cache
	events    EventPublisher

	historyDays    int
	bookingDays    int
	refreshWorkers int
	now            func() time.Time
}

// NewService creates the analytics service.
func NewService(p Params) *Service {
	if p.HistoryDays <= 0 {
		p.HistoryDays = 7
	}
	if p.BookingDays <= 0 {
		p.BookingDays = 30
	}
	if p.RefreshWorkers <= 0 {
		p.RefreshWorkers = 4
	}

	return &Service{
		store:          p.Store,
		history:        p.History,
		annotator:      p.Annotator,
		bookings:       p.Bookings,
		rollups:        p.Rollups,
		cache:          p.Cache,
		events:         p.Events,
		historyDays:    p.HistoryDays,
		bookingDays:    p.BookingDays,
		refreshWorkers: p.RefreshWorkers,
		now:            time.Now,
	}
}

// GenerateRouteAnalytics returns the analytics response for one route,
// serving from cache when possible. Cache failures degrade to a fresh
// computation, never to an error.
func (s *Service) GenerateRouteAnalytics(ctx context.Context, routeID string) (*RouteAnalytics, error) {
	cached, err := s.cache.GetRouteAnalytics(ctx, routeID)
	if err != nil {
		logging.Warn().Err(err).Str("route_id", routeID).Msg("analytics cache read failed")
	} else if cached != nil {
		cacheHits.Inc()
		return cached, nil
	}

	route, err := s.store.GetRoute(ctx, routeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load route: %w", err)
	}
	if route == nil {
		return nil, fmt.Errorf("%w: %s", ErrRouteNotFound, routeID)
	}

	analytics := s.computeRoute(ctx, route)

	if err := s.cache.SetRouteAnalytics(ctx, analytics); err != nil {
		logging.Warn().Err(err).Str("route_id", routeID).Msg("analytics cache write failed")
	}

	return analytics, nil
}

// computeRoute runs the statistics pipeline for one route. The history
// chain and the annotator are both fail-soft, so this always produces a
// response.
func (s *Service) computeRoute(ctx context.Context, route *database.RouteProfile) *RouteAnalytics {
	samples := s.history.GetHistory(ctx, route, s.historyDays)
	summary := traffic.Summarize(samples)
	predictions := traffic.Predict(samples, s.now())
	narrative := s.annotator.Annotate(ctx, route.Name, summary, predictions, samples)

	return &RouteAnalytics{
		RouteID:     route.ID,
		RouteName:   route.Name,
		GeneratedAt: s.now(),
		Summary:     summary,
		Predictions: predictions,
		Narrative:   narrative,
	}
}

// RefreshAllRoutes recomputes analytics for every route, fanning the
// statistical work across a bounded worker pool. Narrative generation
// stays serialized behind the annotator's own gate regardless of pool
// width. Per-route failures are collected, not fatal.
func (s *Service) RefreshAllRoutes(ctx context.Context) (*RefreshResult, error) {
	routes, err := s.store.ListRoutes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}

	start := time.Now()
	result := &RefreshResult{RunID: uuid.New().String(), Errors: []string{}}

	workers := s.refreshWorkers
	if workers > len(routes) {
		workers = len(routes)
	}

	jobs := make(chan *database.RouteProfile, len(routes))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for route := range jobs {
				if err := s.refreshRoute(ctx, result.RunID, route); err != nil {
					mu.Lock()
					result.Errors = append(result.Errors, err.Error())
					mu.Unlock()
					continue
				}
				routesRefreshed.Inc()
				mu.Lock()
				result.RoutesUpdated++
				mu.Unlock()
			}
		}()
	}

	for _, route := range routes {
		jobs <- route
	}
	close(jobs)
	wg.Wait()

	refreshDuration.Observe(time.Since(start).Seconds())
	logging.Info().
		Str("run_id", result.RunID).
		Int("routes_updated", result.RoutesUpdated).
		Int("errors", len(result.Errors)).
		Dur("took", time.Since(start)).
		Msg("analytics refresh completed")

	return result, nil
}

func (s *Service) refreshRoute(ctx context.Context, runID string, route *database.RouteProfile) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("route %s: %w", route.ID, err)
	}

	analytics := s.computeRoute(ctx, route)

	snap := &database.AnalyticsSnapshot{
		RunID:          runID,
		RouteID:        route.ID,
		GeneratedAt:    analytics.GeneratedAt,
		AverageDensity: analytics.Summary.AverageDensity,
		Trend:          string(analytics.Summary.Trend),
		Narrative:      analytics.Narrative,
	}
	if err := s.store.InsertAnalyticsSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("route %s: %w", route.ID, err)
	}

	if err := s.cache.SetRouteAnalytics(ctx, analytics); err != nil {
		logging.Warn().Err(err).Str("route_id", route.ID).Msg("analytics cache write failed")
	}

	return nil
}

// GetBookingFrequency returns the dense booking history for the window and
// a forecast for the following week. days <= 0 selects the default window.
func (s *Service) GetBookingFrequency(ctx context.Context, days int) (*BookingFrequency, error) {
	if days <= 0 {
		days = s.bookingDays
	}

	cached, err := s.cache.GetBookingFrequency(ctx, days)
	if err != nil {
		logging.Warn().Err(err).Msg("booking cache read failed")
	} else if cached != nil {
		cacheHits.Inc()
		return cached, nil
	}

	history, err := s.bookings.DailyCounts(ctx, days)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking history: %w", err)
	}

	freq := &BookingFrequency{
		Days:     days,
		History:  history,
		Forecast: bookings.ForecastWeek(history, s.now()),
	}

	if err := s.cache.SetBookingFrequency(ctx, days, freq); err != nil {
		logging.Warn().Err(err).Msg("booking cache write failed")
	}

	return freq, nil
}

// RunWeeklyRollup rolls up every route for the selected week, announces
// each persisted rollup, and invalidates the affected cached analytics.
func (s *Service) RunWeeklyRollup(ctx context.Context, weekOffset int) (*RollupRunResult, error) {
	rollups, err := s.rollups.RollupAll(ctx, weekOffset)
	if err != nil {
		return nil, err
	}

	for _, r := range rollups {
		if s.events != nil {
			if err := s.events.RollupCompleted(ctx, r.RouteID, r.WeekStart, r.TotalSamples); err != nil {
				logging.Warn().Err(err).Str("route_id", r.RouteID).Msg("failed to publish rollup event")
			}
		}
		if err := s.cache.InvalidateRoute(ctx, r.RouteID); err != nil {
			logging.Warn().Err(err).Str("route_id", r.RouteID).Msg("failed to invalidate cached analytics")
		}
	}

	return &RollupRunResult{RoutesProcessed: len(rollups), Analytics: rollups}, nil
}
