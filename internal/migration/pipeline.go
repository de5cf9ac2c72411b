// Package migration moves the trips archive from the relational store into
// the time-series store. Work is paged into fixed batches with stable
// ordering; a failing row or batch is recorded and skipped so one bad
// record cannot strand the rest of the archive.
package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rsampath/routepulse/internal/database"
	"github.com/rsampath/routepulse/internal/logging"
	"github.com/rsampath/routepulse/internal/timeseries"
)

var (
	batchesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routepulse_migration_batches_total",
		Help: "Trip batches attempted by migration runs.",
	})

	recordsMigrated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "routepulse_migration_records_total",
		Help: "Trip records processed by migration runs, by outcome.",
	}, []string{"outcome"})

	insertRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "routepulse_migration_retries_total",
		Help: "Transient insert failures that were retried.",
	})
)

const (
	defaultBatchSize  = 50
	defaultMaxRetries = 3
)

// ErrNotReady marks a run refused before any data moved.
var ErrNotReady = errors.New("migration not ready")

// SourceStore is the relational side of the migration.
type SourceStore interface {
	PingContext(ctx context.Context) error
	CountTrips(ctx context.Context) (int, error)
	TripsPage(ctx context.Context, offset, limit int) ([]*database.TripRecord, error)
}

// Destination is the time-series side of the migration.
type Destination interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, query string) error
}

type Config struct {
	BatchSize  int
	MaxRetries int
}

// Pipeline copies the trips archive in batches.
type Pipeline struct {
	src        SourceStore
	dst        Destination
	batchSize  int
	maxRetries int
	sleep      func(time.Duration)
}

func NewPipeline(src SourceStore, dst Destination, cfg Config) *Pipeline {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}

	return &Pipeline{
		src:        src,
		dst:        dst,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		sleep:      time.Sleep,
	}
}

// Status reports whether both sides of the migration answer.
type Status struct {
	Ready         bool   `json:"ready"`
	SourceOK      bool   `json:"source_ok"`
	DestinationOK bool   `json:"destination_ok"`
	Detail        string `json:"detail,omitempty"`
}

// CheckReadiness pings both stores. The pipeline refuses to run unless
// both answer.
func (p *Pipeline) CheckReadiness(ctx context.Context) Status {
	status := Status{SourceOK: true, DestinationOK: true}

	if err := p.src.PingContext(ctx); err != nil {
		status.SourceOK = false
		status.Detail = fmt.Sprintf("source unreachable: %v", err)
	}
	if err := p.dst.Ping(ctx); err != nil {
		status.DestinationOK = false
		if status.Detail != "" {
			status.Detail += "; "
		}
		status.Detail += fmt.Sprintf("destination unreachable: %v", err)
	}

	status.Ready = status.SourceOK && status.DestinationOK
	return status
}

// Result summarizes one migration run. Success means every record landed;
// a partial run keeps Success false but still reports what moved.
type Result struct {
	RunID          string   `json:"run_id"`
	TotalRecords   int      `json:"total_records"`
	MigratedCount  int      `json:"migrated_count"`
	BatchesRun     int      `json:"batches_run"`
	Errors         []string `json:"errors"`
	DurationMillis int64    `json:"duration_ms"`
	Success        bool     `json:"success"`
}

// Run executes the full migration. It returns an error only for fatal
// conditions (not ready, schema setup, source counting); everything after
// that is recorded per batch in the Result.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if status := p.CheckReadiness(ctx); !status.Ready {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, status.Detail)
	}

	if err := p.execWithRetry(ctx, createArchiveTableSQL); err != nil {
		return nil, fmt.Errorf("failed to prepare archive table: %w", err)
	}

	total, err := p.src.CountTrips(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count trips: %w", err)
	}

	start := time.Now()
	result := &Result{
		RunID:        uuid.New().String(),
		TotalRecords: total,
		Errors:       []string{},
	}

	logging.Info().
		Str("run_id", result.RunID).
		Int("total", total).
		Int("batch_size", p.batchSize).
		Msg("migration started")

	for offset := 0; offset < total; offset += p.batchSize {
		if ctx.Err() != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("run canceled at offset %d: %v", offset, ctx.Err()))
			break
		}

		result.BatchesRun++
		batchesProcessed.Inc()

		trips, err := p.src.TripsPage(ctx, offset, p.batchSize)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("batch at offset %d: fetch failed: %v", offset, err))
			continue
		}

		for _, trip := range trips {
			if err := p.execWithRetry(ctx, archiveInsertSQL(trip)); err != nil {
				recordsMigrated.WithLabelValues("failed").Inc()
				result.Errors = append(result.Errors, fmt.Sprintf("trip %d: %v", trip.ID, err))
				continue
			}
			recordsMigrated.WithLabelValues("success").Inc()
			result.MigratedCount++
		}
	}

	result.DurationMillis = time.Since(start).Milliseconds()
	result.Success = len(result.Errors) == 0

	logging.Info().
		Str("run_id", result.RunID).
		Int("migrated", result.MigratedCount).
		Int("batches", result.BatchesRun).
		Int("errors", len(result.Errors)).
		Bool("success", result.Success).
		Msg("migration finished")

	return result, nil
}

// execWithRetry retries transient store failures with exponential backoff
// (2, 4, 8 seconds). Statement errors fail immediately.
func (p *Pipeline) execWithRetry(ctx context.Context, query string) error {
	for attempt := 0; ; attempt++ {
		err := p.dst.Exec(ctx, query)
		if err == nil || !timeseries.IsTransient(err) || attempt >= p.maxRetries {
			return err
		}

		insertRetries.Inc()
		delay := time.Duration(1<<uint(attempt+1)) * time.Second
		logging.Warn().Err(err).
			Int("attempt", attempt+1).
			Dur("backoff", delay).
			Msg("transient store failure, retrying")
		p.sleep(delay)
	}
}
