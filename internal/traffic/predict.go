package traffic

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gonum.org/v1/gonum/stat"

	"github.com/rsampath/routepulse/internal/database"
)

var predictionCells = promauto.NewCounter(prometheus.CounterOpts{
	Name: "routepulse_predictions_total",
	Help: "Forecast grid cells produced.",
})

// KeyHours are the hour-of-day buckets the prediction grid covers.
var KeyHours = []int{7, 9, 12, 17, 19, 22}

// Defaults used for buckets with no historical support.
const (
	DefaultPredictedDensity  = 0.5
	DefaultConfidence        = 0.3
	maxPredictionConfidence  = 0.9
	basePredictionConfidence = 0.5
	confidencePerObservation = 0.1
	predictionHorizonDays    = 7
)

// Prediction is one cell of the forecast grid: expected congestion for a
// future date at a key hour.
type Prediction struct {
	Date       time.Time `json:"date"`
	Hour       int       `json:"hour"`
	Density    float64   `json:"predicted_density"`
	Confidence float64   `json:"confidence"`
}

// Predict builds the 7-day forecast grid starting the day after from. Each
// cell averages historical OK samples sharing the cell's weekday and hour;
// cells with no support get neutral defaults. The grid shape is fixed at
// 7 days x len(KeyHours) regardless of input, ordered by date then hour.
func Predict(samples []database.TrafficSample, from time.Time) []Prediction {
	type bucket struct {
		weekday time.Weekday
		hour    int
	}

	groups := make(map[bucket][]float64)
	for i := range samples {
		if samples[i].Status != database.SampleStatusOK {
			continue
		}
		b := bucket{weekday: samples[i].Timestamp.Weekday(), hour: samples[i].Timestamp.Hour()}
		groups[b] = append(groups[b], samples[i].Density)
	}

	predictions := make([]Prediction, 0, predictionHorizonDays*len(KeyHours))
	for d := 1; d <= predictionHorizonDays; d++ {
		date := from.AddDate(0, 0, d)
		date = time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())

		for _, hour := range KeyHours {
			p := Prediction{
				Date:       date,
				Hour:       hour,
				Density:    DefaultPredictedDensity,
				Confidence: DefaultConfidence,
			}
			if ds := groups[bucket{weekday: date.Weekday(), hour: hour}]; len(ds) > 0 {
				p.Density = stat.Mean(ds, nil)
				p.Confidence = bucketConfidence(len(ds))
			}
			predictions = append(predictions, p)
		}
	}

	predictionCells.Add(float64(len(predictions)))
	return predictions
}

// bucketConfidence grows with observation count and saturates at 0.9.
func bucketConfidence(n int) float64 {
	c := basePredictionConfidence + confidencePerObservation*float64(n)
	if c > maxPredictionConfidence {
		return maxPredictionConfidence
	}
	return c
}
