package database

import (
	"time"
)

// RouteProfile represents a monitored transit route
type RouteProfile struct {
	ID          string
	Name        string
	Origin      string
	Destination string
	Waypoints   []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Traffic sample statuses. OK is the only status whose samples
// participate in statistics; the rest record provider outcomes.
const (
	SampleStatusOK          = "OK"
	SampleStatusZeroResults = "ZERO_RESULTS"
	SampleStatusOverLimit   = "OVER_LIMIT"
	SampleStatusDenied      = "DENIED"
	SampleStatusInvalid     = "INVALID"
	SampleStatusUnknown     = "UNKNOWN"
)

// TrafficSample represents one observation of route congestion.
// Density is clamp(observed/freeFlow - 1, 0, 1).
type TrafficSample struct {
	ID                  int64
	RouteID             string
	Timestamp           time.Time
	Density             float64
	FreeFlowDurationSec int
	ObservedDurationSec int
	DistanceMeters      int
	Status              string
	CreatedAt           time.Time
}

// DailyTraffic is one day of a weekly rollup breakdown, serialized to JSONB.
type DailyTraffic struct {
	Date           string  `json:"date"`
	DayOfWeek      int     `json:"day_of_week"`
	SampleCount    int     `json:"sample_count"`
	AverageDensity float64 `json:"average_density"`
	PeakDensity    float64 `json:"peak_density"`
}

// WeeklyRollup represents persisted per-route weekly traffic statistics.
// One row per (route, week); reruns overwrite in place.
type WeeklyRollup struct {
	ID              int64
	RouteID         string
	WeekStart       time.Time
	WeekEnd         time.Time
	TotalSamples    int
	AverageDensity  float64
	PeakDensity     float64
	LowDensity      float64
	AverageSpeedKmh float64
	PeakHours       []int64
	LowHours        []int64
	WeekdayAvg      float64
	WeekendAvg      float64
	Trend           string
	DailyBreakdown  []DailyTraffic
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AnalyticsSnapshot is an append-only record of a refresh run's output for
// one route.
type AnalyticsSnapshot struct {
	ID             int64
	RunID          string
	RouteID        string
	GeneratedAt    time.Time
	AverageDensity float64
	Trend          string
	Narrative      string
}

// TripDayCount is a sparse per-day booking count as read from the trips
// table; days without bookings have no row.
type TripDayCount struct {
	Day   time.Time
	Count int
}

// TripRecord represents a completed or in-flight booking row, the source
// side of the archive migration.
type TripRecord struct {
	ID             int64
	RouteID        *string
	RiderName      *string
	PickupAddress  *string
	DropoffAddress *string
	RequestedAt    time.Time
	CompletedAt    *time.Time
	DurationSec    *int64
	DistanceMeters *int64
	FareAmount     *float64
	Status         string
}
