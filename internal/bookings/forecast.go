package bookings

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Forecast is one predicted day of booking volume.
type Forecast struct {
	Date           time.Time `json:"date"`
	DayOfWeek      int       `json:"day_of_week"`
	PredictedCount int       `json:"predicted_count"`
	Confidence     float64   `json:"confidence"`
}

// ForecastWeek predicts the seven days after from by combining the
// weekday's historical average with a linear trend over the whole window.
// Predictions never go below zero.
func ForecastWeek(history []DailyCount, from time.Time) []Forecast {
	var sums, counts [7]float64
	for _, day := range history {
		dow := int(day.Date.Weekday())
		sums[dow] += float64(day.Count)
		counts[dow]++
	}

	slope := trendSlope(history)

	forecasts := make([]Forecast, 0, 7)
	for d := 1; d <= 7; d++ {
		date := from.AddDate(0, 0, d)
		date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
		dow := int(date.Weekday())

		var seasonal float64
		if counts[dow] > 0 {
			seasonal = sums[dow] / counts[dow]
		}

		predicted := math.Round(math.Max(0, seasonal+slope*float64(d)))
		forecasts = append(forecasts, Forecast{
			Date:           date,
			DayOfWeek:      dow,
			PredictedCount: int(predicted),
			Confidence:     forecastConfidence(int(counts[dow])),
		})
	}

	return forecasts
}

// trendSlope fits counts against day index with ordinary least squares.
// Windows shorter than two days have no trend.
func trendSlope(history []DailyCount) float64 {
	if len(history) < 2 {
		return 0
	}

	xs := make([]float64, len(history))
	ys := make([]float64, len(history))
	for i, day := range history {
		xs[i] = float64(i)
		ys[i] = float64(day.Count)
	}

	_, slope := stat.LinearRegression(xs, ys, nil, false)
	return slope
}

// forecastConfidence grades a prediction by how many observations of that
// weekday the window held.
func forecastConfidence(observations int) float64 {
	switch {
	case observations >= 3:
		return 0.7
	case observations == 2:
		return 0.5
	case observations == 1:
		return 0.3
	default:
		return 0.1
	}
}
