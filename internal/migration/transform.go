package migration

import (
	"fmt"
	"strings"
	"time"

	"github.com/rsampath/routepulse/internal/database"
)

// Archive table in the time-series store's dialect. requested_at is the
// designated timestamp.
const createArchiveTableSQL = `CREATE TABLE IF NOT EXISTS trips_archive (
	trip_id LONG,
	route_id SYMBOL,
	rider_name STRING,
	pickup_address STRING,
	dropoff_address STRING,
	requested_at TIMESTAMP,
	completed_at TIMESTAMP,
	duration_sec LONG,
	distance_meters LONG,
	fare_amount DOUBLE,
	status SYMBOL
) timestamp(requested_at)`

const archiveTimeFormat = "2006-01-02T15:04:05.000000Z"

// archiveInsertSQL renders one trip as a single-row INSERT. Null numeric
// and string fields flatten to zero and empty; null timestamps stay NULL.
func archiveInsertSQL(t *database.TripRecord) string {
	return fmt.Sprintf(
		"INSERT INTO trips_archive (trip_id, route_id, rider_name, pickup_address, dropoff_address, "+
			"requested_at, completed_at, duration_sec, distance_meters, fare_amount, status) "+
			"VALUES (%d, '%s', '%s', '%s', '%s', %s, %s, %d, %d, %g, '%s')",
		t.ID,
		escapeString(strValue(t.RouteID)),
		escapeString(strValue(t.RiderName)),
		escapeString(strValue(t.PickupAddress)),
		escapeString(strValue(t.DropoffAddress)),
		timeValue(&t.RequestedAt),
		timeValue(t.CompletedAt),
		intValue(t.DurationSec),
		intValue(t.DistanceMeters),
		floatValue(t.FareAmount),
		escapeString(t.Status),
	)
}

// escapeString doubles single quotes for safe SQL string literals.
func escapeString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func strValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func intValue(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func floatValue(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func timeValue(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "NULL"
	}
	return "'" + t.UTC().Format(archiveTimeFormat) + "'"
}
