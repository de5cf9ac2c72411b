package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/rsampath/routepulse/internal/logging"
)

// DB wraps the database connection
type DB struct {
	*sql.DB
}

// Connect establishes a connection to the database
func Connect(connectionString string) (*DB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	return &DB{db}, nil
}

// RunMigrations executes all SQL migration files in order
func (db *DB) RunMigrations(migrationsDir string) error {
	files, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var sqlFiles []string
	for _, file := range files {
		if !file.IsDir() && strings.HasSuffix(file.Name(), ".sql") {
			sqlFiles = append(sqlFiles, file.Name())
		}
	}
	sort.Strings(sqlFiles)

	for _, filename := range sqlFiles {
		logging.Info().Str("migration", filename).Msg("running migration")

		filePath := filepath.Join(migrationsDir, filename)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", filename, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", filename, err)
		}
	}

	logging.Info().Int("count", len(sqlFiles)).Msg("migrations completed")
	return nil
}

// UpsertRoute inserts or updates a route profile
func (db *DB) UpsertRoute(ctx context.Context, route *RouteProfile) error {
	query := `
		INSERT INTO routes (id, name, origin, destination, waypoints)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    origin = EXCLUDED.origin,
		    destination = EXCLUDED.destination,
		    waypoints = EXCLUDED.waypoints,
		    updated_at = CURRENT_TIMESTAMP
	`
	_, err := db.ExecContext(ctx, query,
		route.ID, route.Name, route.Origin, route.Destination, pq.Array(route.Waypoints))
	return err
}

// GetRoute retrieves a route profile by ID. Returns nil when no row exists.
func (db *DB) GetRoute(ctx context.Context, routeID string) (*RouteProfile, error) {
	query := `
		SELECT id, name, origin, destination, waypoints, created_at, updated_at
		FROM routes
		WHERE id = $1
	`

	var route RouteProfile
	err := db.QueryRowContext(ctx, query, routeID).Scan(
		&route.ID,
		&route.Name,
		&route.Origin,
		&route.Destination,
		pq.Array(&route.Waypoints),
		&route.CreatedAt,
		&route.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &route, nil
}

// ListRoutes retrieves all route profiles ordered by name
func (db *DB) ListRoutes(ctx context.Context) ([]*RouteProfile, error) {
	query := `
		SELECT id, name, origin, destination, waypoints, created_at, updated_at
		FROM routes
		ORDER BY name
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var routes []*RouteProfile
	for rows.Next() {
		var route RouteProfile
		if err := rows.Scan(
			&route.ID,
			&route.Name,
			&route.Origin,
			&route.Destination,
			pq.Array(&route.Waypoints),
			&route.CreatedAt,
			&route.UpdatedAt,
		); err != nil {
			return nil, err
		}
		routes = append(routes, &route)
	}

	return routes, rows.Err()
}

// InsertTrafficSamples stores a batch of samples in one transaction.
// Duplicate (route, timestamp) pairs are ignored so repeated acquisition
// runs stay idempotent.
func (db *DB) InsertTrafficSamples(ctx context.Context, samples []TrafficSample) error {
	if len(samples) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO traffic_samples (
			route_id, timestamp, density, free_flow_duration_sec,
			observed_duration_sec, distance_meters, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (route_id, timestamp) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i := range samples {
		s := &samples[i]
		if _, err := stmt.ExecContext(ctx,
			s.RouteID, s.Timestamp, s.Density, s.FreeFlowDurationSec,
			s.ObservedDurationSec, s.DistanceMeters, s.Status,
		); err != nil {
			return fmt.Errorf("failed to insert sample for route %s: %w", s.RouteID, err)
		}
	}

	return tx.Commit()
}

// TrafficSamplesInRange retrieves samples for a route within [from, to],
// ordered by timestamp.
func (db *DB) TrafficSamplesInRange(ctx context.Context, routeID string, from, to time.Time) ([]TrafficSample, error) {
	query := `
		SELECT id, route_id, timestamp, density, free_flow_duration_sec,
		       observed_duration_sec, distance_meters, status, created_at
		FROM traffic_samples
		WHERE route_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp
	`

	rows, err := db.QueryContext(ctx, query, routeID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []TrafficSample
	for rows.Next() {
		var s TrafficSample
		if err := rows.Scan(
			&s.ID,
			&s.RouteID,
			&s.Timestamp,
			&s.Density,
			&s.FreeFlowDurationSec,
			&s.ObservedDurationSec,
			&s.DistanceMeters,
			&s.Status,
			&s.CreatedAt,
		); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}

	return samples, rows.Err()
}

// TripCountsByDay returns booking counts grouped by calendar day since the
// given time. Days without bookings produce no row.
func (db *DB) TripCountsByDay(ctx context.Context, since time.Time) ([]TripDayCount, error) {
	query := `
		SELECT DATE(requested_at) AS day, COUNT(*)
		FROM trips
		WHERE requested_at >= $1
		GROUP BY day
		ORDER BY day
	`

	rows, err := db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []TripDayCount
	for rows.Next() {
		var c TripDayCount
		if err := rows.Scan(&c.Day, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}

	return counts, rows.Err()
}

// UpsertWeeklyRollup inserts or overwrites the rollup row for
// (route, week_start).
func (db *DB) UpsertWeeklyRollup(ctx context.Context, r *WeeklyRollup) error {
	breakdown, err := json.Marshal(r.DailyBreakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal daily breakdown: %w", err)
	}

	query := `
		INSERT INTO weekly_rollups (
			route_id, week_start, week_end, total_samples, average_density,
			peak_density, low_density, average_speed_kmh, peak_hours, low_hours,
			weekday_avg, weekend_avg, trend, daily_breakdown
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (route_id, week_start) DO UPDATE
		SET week_end = EXCLUDED.week_end,
		    total_samples = EXCLUDED.total_samples,
		    average_density = EXCLUDED.average_density,
		    peak_density = EXCLUDED.peak_density,
		    low_density = EXCLUDED.low_density,
		    average_speed_kmh = EXCLUDED.average_speed_kmh,
		    peak_hours = EXCLUDED.peak_hours,
		    low_hours = EXCLUDED.low_hours,
		    weekday_avg = EXCLUDED.weekday_avg,
		    weekend_avg = EXCLUDED.weekend_avg,
		    trend = EXCLUDED.trend,
		    daily_breakdown = EXCLUDED.daily_breakdown,
		    updated_at = CURRENT_TIMESTAMP
		RETURNING id
	`

	return db.QueryRowContext(ctx, query,
		r.RouteID,
		r.WeekStart,
		r.WeekEnd,
		r.TotalSamples,
		r.AverageDensity,
		r.PeakDensity,
		r.LowDensity,
		r.AverageSpeedKmh,
		pq.Array(r.PeakHours),
		pq.Array(r.LowHours),
		r.WeekdayAvg,
		r.WeekendAvg,
		r.Trend,
		breakdown,
	).Scan(&r.ID)
}

// GetWeeklyRollup retrieves the rollup for a route and week start, or nil.
func (db *DB) GetWeeklyRollup(ctx context.Context, routeID string, weekStart time.Time) (*WeeklyRollup, error) {
	query := `
		SELECT id, route_id, week_start, week_end, total_samples, average_density,
		       peak_density, low_density, average_speed_kmh, peak_hours, low_hours,
		       weekday_avg, weekend_avg, trend, daily_breakdown, created_at, updated_at
		FROM weekly_rollups
		WHERE route_id = $1 AND week_start = $2
	`

	var r WeeklyRollup
	var breakdown []byte
	err := db.QueryRowContext(ctx, query, routeID, weekStart).Scan(
		&r.ID,
		&r.RouteID,
		&r.WeekStart,
		&r.WeekEnd,
		&r.TotalSamples,
		&r.AverageDensity,
		&r.PeakDensity,
		&r.LowDensity,
		&r.AverageSpeedKmh,
		pq.Array(&r.PeakHours),
		pq.Array(&r.LowHours),
		&r.WeekdayAvg,
		&r.WeekendAvg,
		&r.Trend,
		&breakdown,
		&r.CreatedAt,
		&r.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(breakdown, &r.DailyBreakdown); err != nil {
		return nil, fmt.Errorf("failed to unmarshal daily breakdown: %w", err)
	}

	return &r, nil
}

// InsertAnalyticsSnapshot appends one refresh-run result row
func (db *DB) InsertAnalyticsSnapshot(ctx context.Context, snap *AnalyticsSnapshot) error {
	query := `
		INSERT INTO route_analytics (
			run_id, route_id, generated_at, average_density, trend, narrative
		) VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`

	return db.QueryRowContext(ctx, query,
		snap.RunID,
		snap.RouteID,
		snap.GeneratedAt,
		snap.AverageDensity,
		snap.Trend,
		snap.Narrative,
	).Scan(&snap.ID)
}

// CountTrips returns the total number of trip rows
func (db *DB) CountTrips(ctx context.Context) (int, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM trips`).Scan(&count)
	return count, err
}

// TripsPage retrieves one page of trip rows ordered by creation time.
// Stable ordering keeps batch boundaries deterministic across retries.
func (db *DB) TripsPage(ctx context.Context, offset, limit int) ([]*TripRecord, error) {
	query := `
		SELECT id, route_id, rider_name, pickup_address, dropoff_address,
		       requested_at, completed_at, duration_sec, distance_meters,
		       fare_amount, status
		FROM trips
		ORDER BY requested_at, id
		OFFSET $1 LIMIT $2
	`

	rows, err := db.QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trips []*TripRecord
	for rows.Next() {
		var t TripRecord
		if err := rows.Scan(
			&t.ID,
			&t.RouteID,
			&t.RiderName,
			&t.PickupAddress,
			&t.DropoffAddress,
			&t.RequestedAt,
			&t.CompletedAt,
			&t.DurationSec,
			&t.DistanceMeters,
			&t.FareAmount,
			&t.Status,
		); err != nil {
			return nil, err
		}
		trips = append(trips, &t)
	}

	return trips, rows.Err()
}

// InsertTrip records one booking row. The booking service owns this table
// in production; seed tooling writes through here.
func (db *DB) InsertTrip(ctx context.Context, t *TripRecord) error {
	query := `
		INSERT INTO trips (
			route_id, rider_name, pickup_address, dropoff_address,
			requested_at, completed_at, duration_sec, distance_meters,
			fare_amount, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`

	return db.QueryRowContext(ctx, query,
		t.RouteID,
		t.RiderName,
		t.PickupAddress,
		t.DropoffAddress,
		t.RequestedAt,
		t.CompletedAt,
		t.DurationSec,
		t.DistanceMeters,
		t.FareAmount,
		t.Status,
	).Scan(&t.ID)
}
