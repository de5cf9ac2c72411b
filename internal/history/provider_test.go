package history

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rsampath/routepulse/internal/database"
	"github.com/rsampath/routepulse/internal/maps"
	"github.com/rsampath/routepulse/internal/traffic"
)

type fakeEstimator struct {
	estimate *maps.Estimate
	err      error
	failAt   int // 1-based call number to fail on; 0 disables
	calls    int
}

func (f *fakeEstimator) EstimateRoute(ctx context.Context, req maps.Request) (*maps.Estimate, error) {
	f.calls++
	if f.failAt > 0 && f.calls >= f.failAt {
		if f.err != nil {
			return nil, f.err
		}
		return &maps.Estimate{Status: database.SampleStatusDenied}, nil
	}
	return f.estimate, f.err
}

// liveEstimate has base density 0.2 (1200/1000 - 1).
func liveEstimate() *maps.Estimate {
	return &maps.Estimate{
		Status:              database.SampleStatusOK,
		FreeFlowDurationSec: 1000,
		ObservedDurationSec: 1200,
		DistanceMeters:      10000,
	}
}

// wednesdayNoon is a fixed mid-week anchor for sweep reconstruction.
var wednesdayNoon = time.Date(2025, time.March, 5, 12, 0, 0, 0, time.UTC)

func TestSweepShape(t *testing.T) {
	est := &fakeEstimator{estimate: liveEstimate()}
	strat := NewProviderStrategy(est, &fakeStore{}, nil)

	samples, ok := strat.sweep(context.Background(), testRoute, 7, wednesdayNoon)
	if !ok {
		t.Fatal("sweep failed")
	}

	if len(samples) != 84 {
		t.Fatalf("got %d samples, want 84 (7 days x 12 steps)", len(samples))
	}
	if est.calls != 84 {
		t.Errorf("estimator called %d times, want 84", est.calls)
	}

	for _, s := range samples {
		if !s.Timestamp.Before(wednesdayNoon) {
			t.Errorf("sample timestamp %v not in the past", s.Timestamp)
		}
		if s.Status != database.SampleStatusOK {
			t.Errorf("sample status = %q, want OK", s.Status)
		}
		if s.Density < 0 || s.Density > 1 {
			t.Errorf("density %v outside [0,1]", s.Density)
		}
		// Stored durations stay consistent with the adjusted density.
		if diff := math.Abs(traffic.Density(s.FreeFlowDurationSec, s.ObservedDurationSec) - s.Density); diff > 0.001 {
			t.Errorf("duration/density mismatch at %v: %v", s.Timestamp, diff)
		}
	}
}

func TestSweepAppliesHistoricalFactors(t *testing.T) {
	est := &fakeEstimator{estimate: liveEstimate()}
	strat := NewProviderStrategy(est, &fakeStore{}, nil)

	samples, ok := strat.sweep(context.Background(), testRoute, 7, wednesdayNoon)
	if !ok {
		t.Fatal("sweep failed")
	}

	byKey := make(map[string]float64)
	for _, s := range samples {
		byKey[s.Timestamp.Format("Mon 15")] = s.Density
	}

	// Base density 0.2; Tuesday is a plain weekday, Saturday a weekend.
	tests := []struct {
		key  string
		want float64
	}{
		{"Tue 12", 0.2},   // no factor
		{"Tue 08", 0.3},   // rush x1.5
		{"Tue 02", 0.06},  // late night x0.3
		{"Sat 12", 0.14},  // weekend x0.7
		{"Sat 08", 0.21},  // rush and weekend combined
		{"Sat 02", 0.042}, // late night and weekend combined
	}

	for _, tt := range tests {
		got, found := byKey[tt.key]
		if !found {
			t.Errorf("no sample for %s", tt.key)
			continue
		}
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("density at %s = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestSweepAbortsOnProviderError(t *testing.T) {
	est := &fakeEstimator{estimate: liveEstimate(), failAt: 5, err: errors.New("connection refused")}
	store := &fakeStore{}
	strat := NewProviderStrategy(est, store, nil)

	if _, ok := strat.Fetch(context.Background(), testRoute, 7); ok {
		t.Fatal("sweep succeeded despite provider error")
	}
	if len(store.inserted) != 0 {
		t.Error("aborted sweep persisted partial data")
	}
}

func TestSweepAbortsOnNonOKStatus(t *testing.T) {
	est := &fakeEstimator{estimate: liveEstimate(), failAt: 3}
	strat := NewProviderStrategy(est, &fakeStore{}, nil)

	if _, ok := strat.Fetch(context.Background(), testRoute, 7); ok {
		t.Fatal("sweep succeeded despite non-OK provider status")
	}
}

func TestProviderFetchPersistsAndPublishes(t *testing.T) {
	store := &fakeStore{}
	events := &fakePublisher{}
	strat := NewProviderStrategy(&fakeEstimator{estimate: liveEstimate()}, store, events)

	samples, ok := strat.Fetch(context.Background(), testRoute, 2)
	if !ok {
		t.Fatal("fetch failed")
	}

	if len(store.inserted) != 1 || len(store.inserted[0]) != len(samples) {
		t.Errorf("persisted batches = %d, want the full window in one batch", len(store.inserted))
	}
	if len(events.events) != 1 {
		t.Fatalf("published %d events, want 1", len(events.events))
	}
	if e := events.events[0]; e.routeID != "r1" || e.strategy != "provider" || e.count != len(samples) {
		t.Errorf("event = %+v", e)
	}
}

func TestProviderFetchSurvivesWriteFailure(t *testing.T) {
	store := &fakeStore{insertErr: errors.New("disk full")}
	strat := NewProviderStrategy(&fakeEstimator{estimate: liveEstimate()}, store, nil)

	samples, ok := strat.Fetch(context.Background(), testRoute, 1)
	if !ok || len(samples) == 0 {
		t.Fatal("write failure leaked into the read path")
	}
}
