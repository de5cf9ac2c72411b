package traffic

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/rsampath/routepulse/internal/database"
)

// Summary describes a window of traffic samples for one route.
type Summary struct {
	SampleCount    int     `json:"sample_count"`
	AverageDensity float64 `json:"average_density"`
	PeakHours      []int   `json:"peak_hours"`
	LowHours       []int   `json:"low_hours"`
	WeekdayAvg     float64 `json:"weekday_avg"`
	WeekendAvg     float64 `json:"weekend_avg"`
	Trend          Trend   `json:"trend"`
}

type hourAvg struct {
	hour int
	avg  float64
}

// Summarize computes window statistics over the OK samples in the input.
// An input with no usable samples produces a zeroed summary with a stable
// trend and empty hour lists.
func Summarize(samples []database.TrafficSample) Summary {
	ok := FilterOK(samples)

	summary := Summary{
		PeakHours: []int{},
		LowHours:  []int{},
		Trend:     TrendStable,
	}
	if len(ok) == 0 {
		return summary
	}

	densities := make([]float64, len(ok))
	var weekday, weekend []float64
	hourGroups := make(map[int][]float64)

	for i := range ok {
		d := ok[i].Density
		densities[i] = d
		hour := ok[i].Timestamp.Hour()
		hourGroups[hour] = append(hourGroups[hour], d)

		switch ok[i].Timestamp.Weekday() {
		case time.Saturday, time.Sunday:
			weekend = append(weekend, d)
		default:
			weekday = append(weekday, d)
		}
	}

	summary.SampleCount = len(ok)
	summary.AverageDensity = stat.Mean(densities, nil)
	if len(weekday) > 0 {
		summary.WeekdayAvg = stat.Mean(weekday, nil)
	}
	if len(weekend) > 0 {
		summary.WeekendAvg = stat.Mean(weekend, nil)
	}
	summary.PeakHours, summary.LowHours = rankHours(hourGroups)
	summary.Trend = TrendOf(ok, SummaryTrendThreshold)

	return summary
}

// rankHours returns up to three hours with the highest and lowest average
// densities. Ties break toward the earlier hour so output is deterministic.
func rankHours(groups map[int][]float64) (peaks, lows []int) {
	avgs := make([]hourAvg, 0, len(groups))
	for hour, ds := range groups {
		avgs = append(avgs, hourAvg{hour: hour, avg: stat.Mean(ds, nil)})
	}

	sort.Slice(avgs, func(i, j int) bool {
		if avgs[i].avg != avgs[j].avg {
			return avgs[i].avg > avgs[j].avg
		}
		return avgs[i].hour < avgs[j].hour
	})
	peaks = topHours(avgs)

	sort.Slice(avgs, func(i, j int) bool {
		if avgs[i].avg != avgs[j].avg {
			return avgs[i].avg < avgs[j].avg
		}
		return avgs[i].hour < avgs[j].hour
	})
	lows = topHours(avgs)

	return peaks, lows
}

func topHours(avgs []hourAvg) []int {
	n := 3
	if len(avgs) < n {
		n = len(avgs)
	}
	hours := make([]int, n)
	for i := 0; i < n; i++ {
		hours[i] = avgs[i].hour
	}
	return hours
}

// TrendOf classifies the trend over samples after sorting them
// chronologically. Trend classification is order sensitive, so callers
// may pass samples in any order.
func TrendOf(samples []database.TrafficSample, threshold float64) Trend {
	ordered := make([]database.TrafficSample, len(samples))
	copy(ordered, samples)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	densities := make([]float64, len(ordered))
	for i := range ordered {
		densities[i] = ordered[i].Density
	}
	return ClassifyTrend(densities, threshold)
}
