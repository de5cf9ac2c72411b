// Package traffic holds the congestion statistics shared by the analytics
// and rollup paths: density math, trend classification, summaries over
// sample windows, and the hour-bucket prediction grid. Everything here is
// pure computation over sample slices.
package traffic

import (
	"gonum.org/v1/gonum/stat"

	"github.com/rsampath/routepulse/internal/database"
)

// Trend labels the direction of congestion change across a sample window.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Trend thresholds. Summaries react to smaller moves than weekly rollups,
// which only flag sustained shifts.
const (
	SummaryTrendThreshold = 0.05
	RollupTrendThreshold  = 0.1
)

// Clamp01 clamps v to [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Density converts a pair of durations into congestion density:
// clamp(observed/freeFlow - 1, 0, 1). A non-positive free-flow duration
// yields 0 rather than a division error.
func Density(freeFlowSec, observedSec int) float64 {
	if freeFlowSec <= 0 {
		return 0
	}
	return Clamp01(float64(observedSec)/float64(freeFlowSec) - 1)
}

// ClassifyTrend compares the mean of the second half of a chronological
// density series against the first half. Series with fewer than two points
// are stable.
func ClassifyTrend(densities []float64, threshold float64) Trend {
	if len(densities) < 2 {
		return TrendStable
	}

	mid := len(densities) / 2
	diff := stat.Mean(densities[mid:], nil) - stat.Mean(densities[:mid], nil)

	switch {
	case diff > threshold:
		return TrendIncreasing
	case diff < -threshold:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

// FilterOK returns the samples with OK status, preserving input order.
func FilterOK(samples []database.TrafficSample) []database.TrafficSample {
	out := make([]database.TrafficSample, 0, len(samples))
	for i := range samples {
		if samples[i].Status == database.SampleStatusOK {
			out = append(out, samples[i])
		}
	}
	return out
}
