// Package history acquires traffic sample windows for routes. Acquisition
// is a fail-soft chain: the sample cache first, then a provider sweep that
// reconstructs recent days from live estimates, then a synthetic generator
// that always succeeds. Reads never fail; the caller only sees which rung
// of the ladder produced the data via metrics and events.
package history

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rsampath/routepulse/internal/database"
	"github.com/rsampath/routepulse/internal/logging"
)

var (
	samplesFetched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routepulse_history_samples_fetched_total",
		Help: "Traffic samples returned by the history chain, by strategy.",
	}, []string{"strategy"})

	strategyMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routepulse_history_strategy_misses_total",
		Help: "Strategies that produced no data and passed to the next rung.",
	}, []string{"strategy"})
)

// SampleStore is the slice of the database the chain reads and writes.
type SampleStore interface {
	TrafficSamplesInRange(ctx context.Context, routeID string, from, to time.Time) ([]database.TrafficSample, error)
	InsertTrafficSamples(ctx context.Context, samples []database.TrafficSample) error
}

// EventPublisher announces freshly cached samples. Implementations must
// tolerate being handed a nil receiver; publishing is best effort.
type EventPublisher interface {
	SamplesCached(ctx context.Context, routeID, strategy string, count int) error
}

// Strategy is one rung of the acquisition chain. ok reports whether the
// strategy produced usable samples; false hands over to the next rung.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, route *database.RouteProfile, windowDays int) ([]database.TrafficSample, bool)
}

// Source runs strategies in order until one produces samples.
type Source struct {
	chain []Strategy
}

func NewSource(strategies ...Strategy) *Source {
	return &Source{chain: strategies}
}

// NewDefaultSource assembles the standard cache, provider, synthetic chain.
// events may be nil.
func NewDefaultSource(store SampleStore, estimator RouteEstimator, events EventPublisher) *Source {
	return NewSource(
		NewCacheStrategy(store),
		NewProviderStrategy(estimator, store, events),
		NewSyntheticStrategy(NewGenerator(), store, events),
	)
}

// GetHistory returns the sample window for a route. With the default chain
// this never returns empty: the synthetic rung always produces data.
func (s *Source) GetHistory(ctx context.Context, route *database.RouteProfile, windowDays int) []database.TrafficSample {
	for _, strat := range s.chain {
		samples, ok := strat.Fetch(ctx, route, windowDays)
		if !ok {
			strategyMisses.WithLabelValues(strat.Name()).Inc()
			continue
		}

		samplesFetched.WithLabelValues(strat.Name()).Add(float64(len(samples)))
		logging.Debug().
			Str("route_id", route.ID).
			Str("strategy", strat.Name()).
			Int("samples", len(samples)).
			Msg("history window acquired")
		return samples
	}

	logging.Error().Str("route_id", route.ID).Msg("history chain exhausted without data")
	return nil
}

// persistSamples writes freshly acquired samples back to the cache and
// announces them. Failures are logged but never surfaced: the samples are
// already in hand and the read path must not fail.
func persistSamples(ctx context.Context, store SampleStore, events EventPublisher, strategy string, samples []database.TrafficSample) {
	if len(samples) == 0 {
		return
	}
	routeID := samples[0].RouteID

	if err := store.InsertTrafficSamples(ctx, samples); err != nil {
		logging.Warn().Err(err).
			Str("route_id", routeID).
			Str("strategy", strategy).
			Msg("failed to cache acquired samples")
		return
	}

	if events != nil {
		if err := events.SamplesCached(ctx, routeID, strategy, len(samples)); err != nil {
			logging.Warn().Err(err).Str("route_id", routeID).Msg("failed to publish samples event")
		}
	}
}
