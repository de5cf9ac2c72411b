package analytics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rsampath/routepulse/internal/aggregation"
	"github.com/rsampath/routepulse/internal/bookings"
	"github.com/rsampath/routepulse/internal/database"
	"github.com/rsampath/routepulse/internal/history"
	"github.com/rsampath/routepulse/internal/narrative"
	"github.com/rsampath/routepulse/internal/queue"
	"github.com/rsampath/routepulse/internal/traffic"
)

// The concrete components must keep satisfying the service's contracts.
var (
	_ Store          = (*database.DB)(nil)
	_ HistorySource  = (*history.Source)(nil)
	_ Annotator      = (*narrative.Annotator)(nil)
	_ BookingCounter = (*bookings.Counter)(nil)
	_ RollupRunner   = (*aggregation.WeeklyAggregator)(nil)
	_ EventPublisher = (*queue.Publisher)(nil)
)

var serviceNow = time.Date(2025, time.March, 5, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu        sync.Mutex
	routes    []*database.RouteProfile
	routeErr  error
	listErr   error
	snapErr   map[string]error
	snapshots []*database.AnalyticsSnapshot
}

func (f *fakeStore) GetRoute(_ context.Context, routeID string) (*database.RouteProfile, error) {
	if f.routeErr != nil {
		return nil, f.routeErr
	}
	for _, r := range f.routes {
		if r.ID == routeID {
			return r, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListRoutes(context.Context) ([]*database.RouteProfile, error) {
	return f.routes, f.listErr
}

func (f *fakeStore) InsertAnalyticsSnapshot(_ context.Context, snap *database.AnalyticsSnapshot) error {
	if err := f.snapErr[snap.RouteID]; err != nil {
		return err
	}
	f.mu.Lock()
	f.snapshots = append(f.snapshots, snap)
	f.mu.Unlock()
	return nil
}

type fakeWindow struct {
	mu      sync.Mutex
	samples []database.TrafficSample
	calls   int
}

func (f *fakeWindow) GetHistory(_ context.Context, route *database.RouteProfile, _ int) []database.TrafficSample {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	out := make([]database.TrafficSample, len(f.samples))
	copy(out, f.samples)
	for i := range out {
		out[i].RouteID = route.ID
	}
	return out
}

type fakeAnnotator struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeAnnotator) Annotate(_ context.Context, routeName string, _ traffic.Summary, _ []traffic.Prediction, _ []database.TrafficSample) string {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return fmt.Sprintf("Traffic on %s is steady.", routeName)
}

type fakeCounter struct {
	history []bookings.DailyCount
	err     error
	days    int
}

func (f *fakeCounter) DailyCounts(_ context.Context, days int) ([]bookings.DailyCount, error) {
	f.days = days
	return f.history, f.err
}

type fakeRollups struct {
	rollups []*database.WeeklyRollup
	err     error
	offsets []int
}

func (f *fakeRollups) RollupAll(_ context.Context, weekOffset int) ([]*database.WeeklyRollup, error) {
	f.offsets = append(f.offsets, weekOffset)
	return f.rollups, f.err
}

type fakeEvents struct {
	mu     sync.Mutex
	routes []string
	err    error
}

func (f *fakeEvents) RollupCompleted(_ context.Context, routeID string, _ time.Time, _ int) error {
	f.mu.Lock()
	f.routes = append(f.routes, routeID)
	f.mu.Unlock()
	return f.err
}

func weekWindow() []database.TrafficSample {
	base := time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)
	var out []database.TrafficSample
	for d := 0; d < 7; d++ {
		for _, h := range []int{8, 12, 18} {
			out = append(out, database.TrafficSample{
				Timestamp:           base.AddDate(0, 0, d).Add(time.Duration(h) * time.Hour),
				Density:             0.5,
				FreeFlowDurationSec: 1000,
				ObservedDurationSec: 1500,
				DistanceMeters:      12000,
				Status:              database.SampleStatusOK,
			})
		}
	}
	return out
}

func newTestService(p Params) *Service {
	svc := NewService(p)
	svc.now = func() time.Time { return serviceNow }
	return svc
}

func TestGenerateRouteAnalytics(t *testing.T) {
	store := &fakeStore{routes: []*database.RouteProfile{{ID: "route-1", Name: "Airport Express"}}}
	svc := newTestService(Params{
		Store:     store,
		History:   &fakeWindow{samples: weekWindow()},
		Annotator: &fakeAnnotator{},
	})

	got, err := svc.GenerateRouteAnalytics(context.Background(), "route-1")
	if err != nil {
		t.Fatalf("GenerateRouteAnalytics: %v", err)
	}

	if got.RouteID != "route-1" || got.RouteName != "Airport Express" {
		t.Errorf("identity = %s/%s", got.RouteID, got.RouteName)
	}
	if !got.GeneratedAt.Equal(serviceNow) {
		t.Errorf("GeneratedAt = %v, want %v", got.GeneratedAt, serviceNow)
	}
	if got.Summary.SampleCount != 21 {
		t.Errorf("SampleCount = %d, want 21", got.Summary.SampleCount)
	}
	if len(got.Predictions) != 42 {
		t.Errorf("predictions = %d cells, want 42", len(got.Predictions))
	}
	if !strings.Contains(got.Narrative, "Airport Express") {
		t.Errorf("narrative = %q", got.Narrative)
	}
}

func TestGenerateRouteAnalyticsUnknownRoute(t *testing.T) {
	svc := newTestService(Params{
		Store:     &fakeStore{},
		History:   &fakeWindow{},
		Annotator: &fakeAnnotator{},
	})

	_, err := svc.GenerateRouteAnalytics(context.Background(), "ghost")
	if !errors.Is(err, ErrRouteNotFound) {
		t.Errorf("err = %v, want ErrRouteNotFound", err)
	}
}

func TestGenerateRouteAnalyticsStoreError(t *testing.T) {
	svc := newTestService(Params{
		Store:     &fakeStore{routeErr: errors.New("db down")},
		History:   &fakeWindow{},
		Annotator: &fakeAnnotator{},
	})

	if _, err := svc.GenerateRouteAnalytics(context.Background(), "route-1"); err == nil {
		t.Fatal("expected store error to propagate")
	}
}

func routeFleet(n int) []*database.RouteProfile {
	routes := make([]*database.RouteProfile, n)
	for i := range routes {
		routes[i] = &database.RouteProfile{
			ID:   fmt.Sprintf("route-%d", i+1),
			Name: fmt.Sprintf("Line %d", i+1),
		}
	}
	return routes
}

func TestRefreshAllRoutes(t *testing.T) {
	store := &fakeStore{routes: routeFleet(5)}
	window := &fakeWindow{samples: weekWindow()}
	ann := &fakeAnnotator{}
	svc := newTestService(Params{
		Store:          store,
		History:        window,
		Annotator:      ann,
		RefreshWorkers: 3,
	})

	result, err := svc.RefreshAllRoutes(context.Background())
	if err != nil {
		t.Fatalf("RefreshAllRoutes: %v", err)
	}

	if result.RunID == "" {
		t.Error("missing run ID")
	}
	if result.RoutesUpdated != 5 {
		t.Errorf("RoutesUpdated = %d, want 5", result.RoutesUpdated)
	}
	if len(result.Errors) != 0 {
		t.Errorf("Errors = %v, want none", result.Errors)
	}
	if len(store.snapshots) != 5 {
		t.Fatalf("snapshots = %d, want 5", len(store.snapshots))
	}
	for _, snap := range store.snapshots {
		if snap.RunID != result.RunID {
			t.Errorf("snapshot run = %q, want %q", snap.RunID, result.RunID)
		}
		if snap.Narrative == "" || snap.Trend == "" {
			t.Errorf("snapshot incomplete: %+v", snap)
		}
	}
	if ann.calls != 5 || window.calls != 5 {
		t.Errorf("annotator/history calls = %d/%d, want 5/5", ann.calls, window.calls)
	}
}

func TestRefreshAllRoutesPartialFailure(t *testing.T) {
	store := &fakeStore{
		routes:  routeFleet(4),
		snapErr: map[string]error{"route-2": errors.New("insert failed")},
	}
	svc := newTestService(Params{
		Store:     store,
		History:   &fakeWindow{samples: weekWindow()},
		Annotator: &fakeAnnotator{},
	})

	result, err := svc.RefreshAllRoutes(context.Background())
	if err != nil {
		t.Fatalf("RefreshAllRoutes: %v", err)
	}

	if result.RoutesUpdated != 3 {
		t.Errorf("RoutesUpdated = %d, want 3", result.RoutesUpdated)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "route-2") {
		t.Errorf("Errors = %v, want one naming route-2", result.Errors)
	}
}

func TestGetBookingFrequency(t *testing.T) {
	start := time.Date(2025, time.February, 19, 0, 0, 0, 0, time.UTC)
	counts := make([]bookings.DailyCount, 14)
	for i := range counts {
		d := start.AddDate(0, 0, i)
		counts[i] = bookings.DailyCount{Date: d, Count: 5, DayOfWeek: int(d.Weekday())}
	}
	counter := &fakeCounter{history: counts}
	svc := newTestService(Params{
		Store:     &fakeStore{},
		History:   &fakeWindow{},
		Annotator: &fakeAnnotator{},
		Bookings:  counter,
	})

	freq, err := svc.GetBookingFrequency(context.Background(), 14)
	if err != nil {
		t.Fatalf("GetBookingFrequency: %v", err)
	}

	if freq.Days != 14 || counter.days != 14 {
		t.Errorf("days = %d (counter saw %d), want 14", freq.Days, counter.days)
	}
	if len(freq.History) != 14 {
		t.Errorf("history = %d entries, want 14", len(freq.History))
	}
	if len(freq.Forecast) != 7 {
		t.Fatalf("forecast = %d entries, want 7", len(freq.Forecast))
	}
	// Two observations of every weekday at a constant count of five.
	for _, f := range freq.Forecast {
		if f.PredictedCount != 5 {
			t.Errorf("%s predicted %d, want 5", f.Date.Format("2006-01-02"), f.PredictedCount)
		}
		if f.Confidence != 0.5 {
			t.Errorf("%s confidence %v, want 0.5", f.Date.Format("2006-01-02"), f.Confidence)
		}
	}
}

func TestGetBookingFrequencyDefaultsWindow(t *testing.T) {
	counter := &fakeCounter{}
	svc := newTestService(Params{
		Store:       &fakeStore{},
		History:     &fakeWindow{},
		Annotator:   &fakeAnnotator{},
		Bookings:    counter,
		BookingDays: 30,
	})

	if _, err := svc.GetBookingFrequency(context.Background(), 0); err != nil {
		t.Fatalf("GetBookingFrequency: %v", err)
	}
	if counter.days != 30 {
		t.Errorf("counter saw %d days, want default 30", counter.days)
	}
}

func TestGetBookingFrequencyStoreError(t *testing.T) {
	svc := newTestService(Params{
		Store:     &fakeStore{},
		History:   &fakeWindow{},
		Annotator: &fakeAnnotator{},
		Bookings:  &fakeCounter{err: errors.New("db down")},
	})

	if _, err := svc.GetBookingFrequency(context.Background(), 7); err == nil {
		t.Fatal("expected counter error to propagate")
	}
}

func TestRunWeeklyRollup(t *testing.T) {
	weekStart := time.Date(2025, time.February, 24, 0, 0, 0, 0, time.UTC)
	runner := &fakeRollups{rollups: []*database.WeeklyRollup{
		{RouteID: "route-1", WeekStart: weekStart, TotalSamples: 84},
		{RouteID: "route-3", WeekStart: weekStart, TotalSamples: 12},
	}}
	events := &fakeEvents{}
	svc := newTestService(Params{
		Store:     &fakeStore{},
		History:   &fakeWindow{},
		Annotator: &fakeAnnotator{},
		Rollups:   runner,
		Events:    events,
	})

	result, err := svc.RunWeeklyRollup(context.Background(), -1)
	if err != nil {
		t.Fatalf("RunWeeklyRollup: %v", err)
	}

	if result.RoutesProcessed != 2 || len(result.Analytics) != 2 {
		t.Errorf("result = %d processed / %d analytics, want 2/2", result.RoutesProcessed, len(result.Analytics))
	}
	if len(runner.offsets) != 1 || runner.offsets[0] != -1 {
		t.Errorf("offsets = %v, want [-1]", runner.offsets)
	}
	if len(events.routes) != 2 || events.routes[0] != "route-1" || events.routes[1] != "route-3" {
		t.Errorf("events published for %v", events.routes)
	}
}

func TestRunWeeklyRollupRunnerError(t *testing.T) {
	svc := newTestService(Params{
		Store:     &fakeStore{},
		History:   &fakeWindow{},
		Annotator: &fakeAnnotator{},
		Rollups:   &fakeRollups{err: errors.New("list failed")},
	})

	if _, err := svc.RunWeeklyRollup(context.Background(), 0); err == nil {
		t.Fatal("expected runner error to propagate")
	}
}

func TestRunWeeklyRollupToleratesEventFailure(t *testing.T) {
	runner := &fakeRollups{rollups: []*database.WeeklyRollup{{RouteID: "route-1"}}}
	svc := newTestService(Params{
		Store:     &fakeStore{},
		History:   &fakeWindow{},
		Annotator: &fakeAnnotator{},
		Rollups:   runner,
		Events:    &fakeEvents{err: errors.New("broker down")},
	})

	result, err := svc.RunWeeklyRollup(context.Background(), 0)
	if err != nil {
		t.Fatalf("RunWeeklyRollup: %v", err)
	}
	if result.RoutesProcessed != 1 {
		t.Errorf("RoutesProcessed = %d, want 1", result.RoutesProcessed)
	}
}
