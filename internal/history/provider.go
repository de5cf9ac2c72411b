package history

import (
	"context"
	"math"
	"time"

	"github.com/rsampath/routepulse/internal/database"
	"github.com/rsampath/routepulse/internal/logging"
	"github.com/rsampath/routepulse/internal/maps"
	"github.com/rsampath/routepulse/internal/traffic"
)

// sweepStepHours spaces the reconstructed entries within each day.
const sweepStepHours = 2

// Historical reconstruction factors applied to the live density.
const (
	rushHourFactor  = 1.5
	lateNightFactor = 0.3
	weekendFactor   = 0.7
)

// RouteEstimator is the provider capability the sweep depends on.
type RouteEstimator interface {
	EstimateRoute(ctx context.Context, req maps.Request) (*maps.Estimate, error)
}

// ProviderStrategy rebuilds a multi-day window from live route estimates.
// The provider only reports current conditions, so each reconstructed entry
// takes the live density scaled by a deterministic time-of-day and
// day-of-week factor.
type ProviderStrategy struct {
	estimator RouteEstimator
	store     SampleStore
	events    EventPublisher
}

func NewProviderStrategy(estimator RouteEstimator, store SampleStore, events EventPublisher) *ProviderStrategy {
	return &ProviderStrategy{estimator: estimator, store: store, events: events}
}

func (s *ProviderStrategy) Name() string { return "provider" }

func (s *ProviderStrategy) Fetch(ctx context.Context, route *database.RouteProfile, windowDays int) ([]database.TrafficSample, bool) {
	samples, ok := s.sweep(ctx, route, windowDays, time.Now())
	if !ok {
		return nil, false
	}

	persistSamples(ctx, s.store, s.events, s.Name(), samples)
	return samples, true
}

// sweep walks backward one day at a time, emitting an entry every
// sweepStepHours. Any provider failure abandons the sweep; a partial
// window is worse than handing over to the synthetic rung.
func (s *ProviderStrategy) sweep(ctx context.Context, route *database.RouteProfile, windowDays int, now time.Time) ([]database.TrafficSample, bool) {
	samples := make([]database.TrafficSample, 0, windowDays*24/sweepStepHours)

	for day := 1; day <= windowDays; day++ {
		baseDay := now.AddDate(0, 0, -day)
		for hour := 0; hour < 24; hour += sweepStepHours {
			ts := time.Date(baseDay.Year(), baseDay.Month(), baseDay.Day(), hour, 0, 0, 0, now.Location())

			est, err := s.estimator.EstimateRoute(ctx, maps.Request{
				Origin:      route.Origin,
				Destination: route.Destination,
				Waypoints:   route.Waypoints,
			})
			if err != nil {
				logging.Warn().Err(err).Str("route_id", route.ID).Msg("provider sweep aborted")
				return nil, false
			}
			if est.Status != database.SampleStatusOK {
				logging.Warn().
					Str("route_id", route.ID).
					Str("status", est.Status).
					Msg("provider sweep aborted on non-OK status")
				return nil, false
			}

			density := traffic.Clamp01(
				traffic.Density(est.FreeFlowDurationSec, est.ObservedDurationSec) * historicalFactor(ts))

			samples = append(samples, database.TrafficSample{
				RouteID:             route.ID,
				Timestamp:           ts,
				Density:             density,
				FreeFlowDurationSec: est.FreeFlowDurationSec,
				ObservedDurationSec: observedFor(est.FreeFlowDurationSec, density),
				DistanceMeters:      est.DistanceMeters,
				Status:              database.SampleStatusOK,
			})
		}
	}

	return samples, true
}

// historicalFactor scales the live density for a reconstructed timestamp:
// rush hours run hotter, late night cooler, weekends lighter.
func historicalFactor(ts time.Time) float64 {
	factor := 1.0
	switch hour := ts.Hour(); {
	case (hour >= 7 && hour <= 9) || (hour >= 17 && hour <= 19):
		factor = rushHourFactor
	case hour >= 23 || hour <= 5:
		factor = lateNightFactor
	}

	if wd := ts.Weekday(); wd == time.Saturday || wd == time.Sunday {
		factor *= weekendFactor
	}
	return factor
}

// observedFor derives the duration consistent with an adjusted density, so
// stored samples keep density == observed/freeFlow - 1.
func observedFor(freeFlowSec int, density float64) int {
	return int(math.Round(float64(freeFlowSec) * (1 + density)))
}
