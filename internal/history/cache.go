package history

import (
	"context"
	"time"

	"github.com/rsampath/routepulse/internal/database"
	"github.com/rsampath/routepulse/internal/logging"
)

// CacheStrategy serves sample windows already persisted by earlier runs.
type CacheStrategy struct {
	store SampleStore
}

func NewCacheStrategy(store SampleStore) *CacheStrategy {
	return &CacheStrategy{store: store}
}

func (s *CacheStrategy) Name() string { return "cache" }

// Fetch reads the window from the store. Read errors are treated as a miss
// so the chain can fall through to acquisition.
func (s *CacheStrategy) Fetch(ctx context.Context, route *database.RouteProfile, windowDays int) ([]database.TrafficSample, bool) {
	now := time.Now()
	from := now.AddDate(0, 0, -windowDays)

	samples, err := s.store.TrafficSamplesInRange(ctx, route.ID, from, now)
	if err != nil {
		logging.Warn().Err(err).Str("route_id", route.ID).Msg("sample cache read failed")
		return nil, false
	}
	if len(samples) == 0 {
		return nil, false
	}

	return samples, true
}
