package aggregation

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rsampath/routepulse/internal/database"
	"github.com/rsampath/routepulse/internal/traffic"
)

// March 3, 2025 is a Monday.
var (
	rollupMonday = time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	midweek      = time.Date(2025, time.March, 5, 12, 0, 0, 0, time.UTC)
)

type fakeHistory struct {
	samples    []database.TrafficSample
	calls      int
	windowDays int
}

func (f *fakeHistory) GetHistory(_ context.Context, _ *database.RouteProfile, windowDays int) []database.TrafficSample {
	f.calls++
	f.windowDays = windowDays
	return f.samples
}

type fakeRollupStore struct {
	routes    []*database.RouteProfile
	listErr   error
	upsertErr map[string]error
	upserts   []*database.WeeklyRollup
	byKey     map[string]*database.WeeklyRollup
}

func (f *fakeRollupStore) ListRoutes(context.Context) ([]*database.RouteProfile, error) {
	return f.routes, f.listErr
}

func (f *fakeRollupStore) UpsertWeeklyRollup(_ context.Context, r *database.WeeklyRollup) error {
	if err := f.upsertErr[r.RouteID]; err != nil {
		return err
	}
	if f.byKey == nil {
		f.byKey = make(map[string]*database.WeeklyRollup)
	}
	f.upserts = append(f.upserts, r)
	f.byKey[r.RouteID+"|"+r.WeekStart.Format(time.RFC3339)] = r
	return nil
}

func okAt(ts time.Time, density float64, observedSec, distanceM int) database.TrafficSample {
	return database.TrafficSample{
		RouteID:             "route-1",
		Timestamp:           ts,
		Density:             density,
		FreeFlowDurationSec: 1000,
		ObservedDurationSec: observedSec,
		DistanceMeters:      distanceM,
		Status:              database.SampleStatusOK,
	}
}

func newTestAggregator(source *fakeHistory, store *fakeRollupStore) *WeeklyAggregator {
	agg := NewWeeklyAggregator(source, store)
	agg.now = func() time.Time { return midweek }
	return agg
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestWeekBounds(t *testing.T) {
	tests := []struct {
		name      string
		now       time.Time
		offset    int
		wantStart time.Time
	}{
		{"midweek", midweek, 0, rollupMonday},
		{"monday midnight", rollupMonday, 0, rollupMonday},
		{"sunday night", time.Date(2025, time.March, 9, 23, 0, 0, 0, time.UTC), 0, rollupMonday},
		{"previous week", midweek, -1, time.Date(2025, time.February, 24, 0, 0, 0, 0, time.UTC)},
		{"next week", midweek, 1, time.Date(2025, time.March, 10, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end := WeekBounds(tt.now, tt.offset)
			if !start.Equal(tt.wantStart) {
				t.Errorf("weekStart = %v, want %v", start, tt.wantStart)
			}
			if start.Weekday() != time.Monday {
				t.Errorf("weekStart falls on %v, want Monday", start.Weekday())
			}
			wantEnd := tt.wantStart.AddDate(0, 0, 7).Add(-time.Millisecond)
			if !end.Equal(wantEnd) {
				t.Errorf("weekEnd = %v, want %v", end, wantEnd)
			}
		})
	}
}

func TestRollupComputesWeekStatistics(t *testing.T) {
	source := &fakeHistory{samples: []database.TrafficSample{
		// Monday of the target week: 10800/1800*3.6 = 21.6 km/h.
		okAt(rollupMonday.Add(8*time.Hour), 0.8, 1800, 10800),
		// Monday noon: 14000/1400*3.6 = 36 km/h.
		okAt(rollupMonday.Add(12*time.Hour), 0.4, 1400, 14000),
		// Saturday, no distance recorded, excluded from the speed mean.
		okAt(rollupMonday.AddDate(0, 0, 5).Add(10*time.Hour), 0.2, 1200, 0),
		// Friday before the target week.
		okAt(rollupMonday.AddDate(0, 0, -3).Add(8*time.Hour), 0.9, 1900, 10000),
		// Provider rejection inside the week.
		{RouteID: "route-1", Timestamp: rollupMonday.Add(26 * time.Hour), Status: database.SampleStatusDenied},
	}}
	store := &fakeRollupStore{}
	agg := newTestAggregator(source, store)

	route := &database.RouteProfile{ID: "route-1", Name: "Airport Express"}
	rollup, err := agg.Rollup(context.Background(), route, 0)
	if err != nil {
		t.Fatalf("Rollup: %v", err)
	}
	if rollup == nil {
		t.Fatal("expected a rollup, got nil")
	}
	if source.windowDays != 7 {
		t.Errorf("windowDays = %d, want 7", source.windowDays)
	}

	if !rollup.WeekStart.Equal(rollupMonday) {
		t.Errorf("WeekStart = %v, want %v", rollup.WeekStart, rollupMonday)
	}
	wantEnd := rollupMonday.AddDate(0, 0, 7).Add(-time.Millisecond)
	if !rollup.WeekEnd.Equal(wantEnd) {
		t.Errorf("WeekEnd = %v, want %v", rollup.WeekEnd, wantEnd)
	}

	if rollup.TotalSamples != 3 {
		t.Errorf("TotalSamples = %d, want 3", rollup.TotalSamples)
	}
	if !approx(rollup.AverageDensity, (0.8+0.4+0.2)/3) {
		t.Errorf("AverageDensity = %v", rollup.AverageDensity)
	}
	if !approx(rollup.PeakDensity, 0.8) || !approx(rollup.LowDensity, 0.2) {
		t.Errorf("extremes = %v/%v, want 0.8/0.2", rollup.PeakDensity, rollup.LowDensity)
	}
	if !approx(rollup.AverageSpeedKmh, 28.8) {
		t.Errorf("AverageSpeedKmh = %v, want 28.8", rollup.AverageSpeedKmh)
	}
	if !approx(rollup.WeekdayAvg, 0.6) || !approx(rollup.WeekendAvg, 0.2) {
		t.Errorf("weekday/weekend = %v/%v, want 0.6/0.2", rollup.WeekdayAvg, rollup.WeekendAvg)
	}
	if len(rollup.PeakHours) != 3 || rollup.PeakHours[0] != 8 {
		t.Errorf("PeakHours = %v, want hour 8 first", rollup.PeakHours)
	}
	if len(rollup.LowHours) != 3 || rollup.LowHours[0] != 10 {
		t.Errorf("LowHours = %v, want hour 10 first", rollup.LowHours)
	}
	// Densities fall from 0.8 to 0.2 across the week.
	if rollup.Trend != string(traffic.TrendDecreasing) {
		t.Errorf("Trend = %q, want %q", rollup.Trend, traffic.TrendDecreasing)
	}

	if len(store.upserts) != 1 {
		t.Fatalf("upserts = %d, want 1", len(store.upserts))
	}
}

func TestRollupDailyBreakdownZeroFills(t *testing.T) {
	source := &fakeHistory{samples: []database.TrafficSample{
		okAt(rollupMonday.Add(8*time.Hour), 0.8, 1800, 10800),
		okAt(rollupMonday.Add(12*time.Hour), 0.4, 1400, 14000),
		okAt(rollupMonday.AddDate(0, 0, 5).Add(10*time.Hour), 0.2, 1200, 12000),
	}}
	agg := newTestAggregator(source, &fakeRollupStore{})

	rollup, err := agg.Rollup(context.Background(), &database.RouteProfile{ID: "route-1"}, 0)
	if err != nil {
		t.Fatalf("Rollup: %v", err)
	}

	breakdown := rollup.DailyBreakdown
	if len(breakdown) != 7 {
		t.Fatalf("breakdown has %d days, want 7", len(breakdown))
	}

	monday := breakdown[0]
	if monday.Date != "2025-03-03" || monday.DayOfWeek != int(time.Monday) {
		t.Errorf("breakdown[0] = %q dow %d", monday.Date, monday.DayOfWeek)
	}
	if monday.SampleCount != 2 || !approx(monday.AverageDensity, 0.6) || !approx(monday.PeakDensity, 0.8) {
		t.Errorf("monday entry = %+v", monday)
	}

	saturday := breakdown[5]
	if saturday.Date != "2025-03-08" || saturday.SampleCount != 1 || !approx(saturday.PeakDensity, 0.2) {
		t.Errorf("saturday entry = %+v", saturday)
	}

	for _, i := range []int{1, 2, 3, 4, 6} {
		day := breakdown[i]
		if day.SampleCount != 0 || day.AverageDensity != 0 || day.PeakDensity != 0 {
			t.Errorf("breakdown[%d] = %+v, want zero filled", i, day)
		}
		if day.Date == "" {
			t.Errorf("breakdown[%d] missing date", i)
		}
	}
}

func TestRollupSkipsEmptyWeek(t *testing.T) {
	// All samples predate the target week.
	source := &fakeHistory{samples: []database.TrafficSample{
		okAt(rollupMonday.AddDate(0, 0, -2), 0.5, 1500, 10000),
	}}
	store := &fakeRollupStore{}
	agg := newTestAggregator(source, store)

	rollup, err := agg.Rollup(context.Background(), &database.RouteProfile{ID: "route-1"}, 0)
	if err != nil {
		t.Fatalf("Rollup: %v", err)
	}
	if rollup != nil {
		t.Errorf("expected nil rollup for empty week, got %+v", rollup)
	}
	if len(store.upserts) != 0 {
		t.Errorf("upserts = %d, want 0", len(store.upserts))
	}
}

func TestRollupPreviousWeekWidensWindow(t *testing.T) {
	prevMonday := rollupMonday.AddDate(0, 0, -7)
	source := &fakeHistory{samples: []database.TrafficSample{
		okAt(prevMonday.Add(9*time.Hour), 0.7, 1700, 17000),
	}}
	store := &fakeRollupStore{}
	agg := newTestAggregator(source, store)

	rollup, err := agg.Rollup(context.Background(), &database.RouteProfile{ID: "route-1"}, -1)
	if err != nil {
		t.Fatalf("Rollup: %v", err)
	}
	if source.windowDays != 14 {
		t.Errorf("windowDays = %d, want 14", source.windowDays)
	}
	if rollup == nil {
		t.Fatal("expected a rollup for the previous week")
	}
	if !rollup.WeekStart.Equal(prevMonday) {
		t.Errorf("WeekStart = %v, want %v", rollup.WeekStart, prevMonday)
	}
	if rollup.TotalSamples != 1 {
		t.Errorf("TotalSamples = %d, want 1", rollup.TotalSamples)
	}
}

func TestRollupRerunOverwritesSameKey(t *testing.T) {
	source := &fakeHistory{samples: []database.TrafficSample{
		okAt(rollupMonday.Add(8*time.Hour), 0.8, 1800, 10800),
	}}
	store := &fakeRollupStore{}
	agg := newTestAggregator(source, store)
	route := &database.RouteProfile{ID: "route-1"}

	first, err := agg.Rollup(context.Background(), route, 0)
	if err != nil {
		t.Fatalf("first Rollup: %v", err)
	}
	second, err := agg.Rollup(context.Background(), route, 0)
	if err != nil {
		t.Fatalf("second Rollup: %v", err)
	}

	if len(store.byKey) != 1 {
		t.Fatalf("distinct keys = %d, want 1", len(store.byKey))
	}
	if !approx(first.AverageDensity, second.AverageDensity) || first.TotalSamples != second.TotalSamples {
		t.Errorf("reruns differ: %+v vs %+v", first, second)
	}
}

func TestRollupAllContinuesPastFailedRoute(t *testing.T) {
	source := &fakeHistory{samples: []database.TrafficSample{
		okAt(rollupMonday.Add(8*time.Hour), 0.8, 1800, 10800),
	}}
	store := &fakeRollupStore{
		routes: []*database.RouteProfile{
			{ID: "route-1", Name: "A"},
			{ID: "route-2", Name: "B"},
		},
		upsertErr: map[string]error{"route-1": errors.New("connection refused")},
	}
	agg := newTestAggregator(source, store)

	rollups, err := agg.RollupAll(context.Background(), 0)
	if err != nil {
		t.Fatalf("RollupAll: %v", err)
	}
	if source.calls != 2 {
		t.Errorf("history calls = %d, want 2", source.calls)
	}
	if len(rollups) != 1 {
		t.Fatalf("rollups = %d, want 1", len(rollups))
	}
	if rollups[0].RouteID != "route-2" {
		t.Errorf("surviving rollup is for %s, want route-2", rollups[0].RouteID)
	}
}

func TestRollupAllListError(t *testing.T) {
	store := &fakeRollupStore{listErr: errors.New("db down")}
	agg := newTestAggregator(&fakeHistory{}, store)

	if _, err := agg.RollupAll(context.Background(), 0); err == nil {
		t.Fatal("expected error when listing routes fails")
	}
}

func TestNextDailyRun(t *testing.T) {
	now := time.Date(2025, time.March, 5, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		timeOfDay string
		want      time.Time
	}{
		{"later today", "12:30", time.Date(2025, time.March, 5, 12, 30, 0, 0, time.UTC)},
		{"already passed", "00:15", time.Date(2025, time.March, 6, 0, 15, 0, 0, time.UTC)},
		{"exactly now", "10:00", time.Date(2025, time.March, 6, 10, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextDailyRun(now, tt.timeOfDay)
			if err != nil {
				t.Fatalf("NextDailyRun: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextDailyRun(%q) = %v, want %v", tt.timeOfDay, got, tt.want)
			}
		})
	}

	if _, err := NextDailyRun(now, "late"); err == nil {
		t.Error("expected error for malformed time of day")
	}
}

func TestNextWeeklyRun(t *testing.T) {
	wednesday := time.Date(2025, time.March, 5, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		day  time.Weekday
		at   string
		want time.Time
	}{
		{"upcoming monday", wednesday, time.Monday, "01:00", time.Date(2025, time.March, 10, 1, 0, 0, 0, time.UTC)},
		{"later same day", rollupMonday.Add(30 * time.Minute), time.Monday, "01:00", time.Date(2025, time.March, 3, 1, 0, 0, 0, time.UTC)},
		{"missed this week", rollupMonday.Add(2 * time.Hour), time.Monday, "01:00", time.Date(2025, time.March, 10, 1, 0, 0, 0, time.UTC)},
		{"saturday run", wednesday, time.Saturday, "06:30", time.Date(2025, time.March, 8, 6, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextWeeklyRun(tt.now, tt.day, tt.at)
			if err != nil {
				t.Fatalf("NextWeeklyRun: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("NextWeeklyRun = %v, want %v", got, tt.want)
			}
		})
	}
}
