package aggregation

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gonum.org/v1/gonum/stat"

	"github.com/rsampath/routepulse/internal/database"
	"github.com/rsampath/routepulse/internal/logging"
	"github.com/rsampath/routepulse/internal/traffic"
)

const breakdownDateFormat = "2006-01-02"

var (
	rollupsPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routepulse_rollups_persisted_total",
		Help: "Weekly rollups written to the primary store.",
	})
	rollupsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routepulse_rollups_skipped_total",
		Help: "Route weeks skipped because the target week held no samples.",
	})
)

// HistorySource yields the traffic samples a rollup is computed from.
type HistorySource interface {
	GetHistory(ctx context.Context, route *database.RouteProfile, windowDays int) []database.TrafficSample
}

// RollupStore lists routes and persists computed rollups.
type RollupStore interface {
	ListRoutes(ctx context.Context) ([]*database.RouteProfile, error)
	UpsertWeeklyRollup(ctx context.Context, rollup *database.WeeklyRollup) error
}

// WeeklyAggregator computes and persists per-route weekly traffic rollups.
// Reruns for the same route and week overwrite the previous row.
type WeeklyAggregator struct {
	source HistorySource
	store  RollupStore
	now    func() time.Time
}

// NewWeeklyAggregator creates a new weekly aggregator.
func NewWeeklyAggregator(source HistorySource, store RollupStore) *WeeklyAggregator {
	return &WeeklyAggregator{source: source, store: store, now: time.Now}
}

// WeekBounds returns the bounds of the week containing now shifted by
// weekOffset weeks: Monday 00:00:00.000 through Sunday 23:59:59.999 in
// now's location.
func WeekBounds(now time.Time, weekOffset int) (weekStart, weekEnd time.Time) {
	daysSinceMonday := (int(now.Weekday()) + 6) % 7
	weekStart = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).
		AddDate(0, 0, -daysSinceMonday+weekOffset*7)
	weekEnd = weekStart.AddDate(0, 0, 7).Add(-time.Millisecond)
	return weekStart, weekEnd
}

// Rollup computes and persists the rollup for one route and week. A week
// with no usable samples is skipped: the route contributes nothing to the
// run and no error is returned.
func (w *WeeklyAggregator) Rollup(ctx context.Context, route *database.RouteProfile, weekOffset int) (*database.WeeklyRollup, error) {
	weekStart, weekEnd := WeekBounds(w.now(), weekOffset)

	// The history window counts back from today, so reaching an older week
	// needs one extra window width per week of offset.
	windowDays := 7 * (abs(weekOffset) + 1)
	samples := w.source.GetHistory(ctx, route, windowDays)

	week := samplesInWeek(samples, weekStart, weekEnd)
	if len(week) == 0 {
		rollupsSkipped.Inc()
		logging.Debug().
			Str("route_id", route.ID).
			Time("week_start", weekStart).
			Msg("no samples in target week, skipping rollup")
		return nil, nil
	}

	rollup := buildRollup(route.ID, weekStart, weekEnd, week)
	if err := w.store.UpsertWeeklyRollup(ctx, rollup); err != nil {
		return nil, fmt.Errorf("failed to persist rollup for route %s: %w", route.ID, err)
	}
	rollupsPersisted.Inc()

	logging.Info().
		Str("route_id", route.ID).
		Time("week_start", weekStart).
		Int("samples", rollup.TotalSamples).
		Float64("average_density", rollup.AverageDensity).
		Str("trend", rollup.Trend).
		Msg("weekly rollup persisted")

	return rollup, nil
}

// RollupAll runs the rollup for every known route sequentially and returns
// the rollups that were persisted. A route that fails to persist is logged
// and the run moves on to the next route.
func (w *WeeklyAggregator) RollupAll(ctx context.Context, weekOffset int) ([]*database.WeeklyRollup, error) {
	routes, err := w.store.ListRoutes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list routes: %w", err)
	}

	rollups := make([]*database.WeeklyRollup, 0, len(routes))
	for _, route := range routes {
		rollup, err := w.Rollup(ctx, route, weekOffset)
		if err != nil {
			logging.Err(err).Str("route_id", route.ID).Msg("weekly rollup failed")
			continue
		}
		if rollup != nil {
			rollups = append(rollups, rollup)
		}
	}
	return rollups, nil
}

// samplesInWeek keeps the OK samples whose timestamps fall inside
// [weekStart, weekEnd].
func samplesInWeek(samples []database.TrafficSample, weekStart, weekEnd time.Time) []database.TrafficSample {
	var week []database.TrafficSample
	for _, s := range traffic.FilterOK(samples) {
		if s.Timestamp.Before(weekStart) || s.Timestamp.After(weekEnd) {
			continue
		}
		week = append(week, s)
	}
	return week
}

func buildRollup(routeID string, weekStart, weekEnd time.Time, week []database.TrafficSample) *database.WeeklyRollup {
	summary := traffic.Summarize(week)
	peak, low := densityExtremes(week)

	return &database.WeeklyRollup{
		RouteID:         routeID,
		WeekStart:       weekStart,
		WeekEnd:         weekEnd,
		TotalSamples:    summary.SampleCount,
		AverageDensity:  summary.AverageDensity,
		PeakDensity:     peak,
		LowDensity:      low,
		AverageSpeedKmh: averageSpeedKmh(week),
		PeakHours:       toInt64(summary.PeakHours),
		LowHours:        toInt64(summary.LowHours),
		WeekdayAvg:      summary.WeekdayAvg,
		WeekendAvg:      summary.WeekendAvg,
		Trend:           string(traffic.TrendOf(week, traffic.RollupTrendThreshold)),
		DailyBreakdown:  dailyBreakdown(week, weekStart),
	}
}

func densityExtremes(samples []database.TrafficSample) (peak, low float64) {
	peak = samples[0].Density
	low = samples[0].Density
	for _, s := range samples[1:] {
		if s.Density > peak {
			peak = s.Density
		}
		if s.Density < low {
			low = s.Density
		}
	}
	return peak, low
}

// averageSpeedKmh averages distance over observed duration across the
// samples that carry both fields. Samples recorded before distances were
// captured have zeros there and are left out.
func averageSpeedKmh(samples []database.TrafficSample) float64 {
	var speeds []float64
	for _, s := range samples {
		if s.DistanceMeters > 0 && s.ObservedDurationSec > 0 {
			speeds = append(speeds, float64(s.DistanceMeters)/float64(s.ObservedDurationSec)*3.6)
		}
	}
	if len(speeds) == 0 {
		return 0
	}
	return stat.Mean(speeds, nil)
}

// dailyBreakdown produces one entry per day of the target week, zero
// filled for days without samples.
func dailyBreakdown(samples []database.TrafficSample, weekStart time.Time) []database.DailyTraffic {
	byDay := make(map[string][]float64)
	for _, s := range samples {
		key := s.Timestamp.In(weekStart.Location()).Format(breakdownDateFormat)
		byDay[key] = append(byDay[key], s.Density)
	}

	breakdown := make([]database.DailyTraffic, 7)
	for i := 0; i < 7; i++ {
		day := weekStart.AddDate(0, 0, i)
		entry := database.DailyTraffic{
			Date:      day.Format(breakdownDateFormat),
			DayOfWeek: int(day.Weekday()),
		}
		if ds := byDay[entry.Date]; len(ds) > 0 {
			entry.SampleCount = len(ds)
			entry.AverageDensity = stat.Mean(ds, nil)
			entry.PeakDensity = maxOf(ds)
		}
		breakdown[i] = entry
	}
	return breakdown
}

func toInt64(hours []int) []int64 {
	out := make([]int64, len(hours))
	for i, h := range hours {
		out[i] = int64(h)
	}
	return out
}

func maxOf(vs []float64) float64 {
	m := vs[0]
	for _, v := range vs[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// NextDailyRun returns the next occurrence of the "HH:MM" time of day
// strictly after now.
func NextDailyRun(now time.Time, timeOfDay string) (time.Time, error) {
	hour, minute, err := parseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	run := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !run.After(now) {
		run = run.AddDate(0, 0, 1)
	}
	return run, nil
}

// NextWeeklyRun returns the next occurrence of the "HH:MM" time of day on
// the given weekday strictly after now.
func NextWeeklyRun(now time.Time, day time.Weekday, timeOfDay string) (time.Time, error) {
	hour, minute, err := parseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}

	run := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	run = run.AddDate(0, 0, (int(day)-int(now.Weekday())+7)%7)
	if !run.After(now) {
		run = run.AddDate(0, 0, 7)
	}
	return run, nil
}

func parseTimeOfDay(timeOfDay string) (hour, minute int, err error) {
	if _, err := fmt.Sscanf(timeOfDay, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time format: %s (expected HH:MM)", timeOfDay)
	}
	return hour, minute, nil
}
