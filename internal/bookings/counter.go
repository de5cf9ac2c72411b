// Package bookings derives demand statistics from the trips table: dense
// per-day counts over a trailing window and a one-week seasonal forecast.
package bookings

import (
	"context"
	"time"

	"github.com/rsampath/routepulse/internal/database"
)

const dateKey = "2006-01-02"

// DailyCount is one calendar day of booking volume. Windows are dense;
// days without bookings appear with a zero count.
type DailyCount struct {
	Date      time.Time `json:"date"`
	Count     int       `json:"count"`
	DayOfWeek int       `json:"day_of_week"`
}

// TripStore is the slice of the database the counter reads.
type TripStore interface {
	TripCountsByDay(ctx context.Context, since time.Time) ([]database.TripDayCount, error)
}

// Counter builds dense daily booking counts.
type Counter struct {
	store TripStore
}

func NewCounter(store TripStore) *Counter {
	return &Counter{store: store}
}

// DailyCounts returns one entry per calendar day for the trailing window
// ending today, oldest first.
func (c *Counter) DailyCounts(ctx context.Context, days int) ([]DailyCount, error) {
	return c.dailyCounts(ctx, days, time.Now())
}

func (c *Counter) dailyCounts(ctx context.Context, days int, now time.Time) ([]DailyCount, error) {
	if days <= 0 {
		return nil, nil
	}

	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	start = start.AddDate(0, 0, -(days - 1))

	rows, err := c.store.TripCountsByDay(ctx, start)
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]int, len(rows))
	for _, row := range rows {
		byDay[row.Day.Format(dateKey)] = row.Count
	}

	counts := make([]DailyCount, 0, days)
	for d := 0; d < days; d++ {
		date := start.AddDate(0, 0, d)
		counts = append(counts, DailyCount{
			Date:      date,
			Count:     byDay[date.Format(dateKey)],
			DayOfWeek: int(date.Weekday()),
		})
	}

	return counts, nil
}
