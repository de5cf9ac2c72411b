package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Event types carried on the events topic.
const (
	EventSamplesCached      = "samples.cached"
	EventRollupCompleted    = "rollup.completed"
	EventMigrationCompleted = "migration.completed"
)

const weekStartFormat = "2006-01-02"

// SamplesCachedEvent announces samples written back by a history strategy.
type SamplesCachedEvent struct {
	Type       string    `json:"type"`
	RouteID    string    `json:"route_id"`
	Strategy   string    `json:"strategy"`
	Count      int       `json:"count"`
	OccurredAt time.Time `json:"occurred_at"`
}

// RollupCompletedEvent announces a persisted weekly rollup.
type RollupCompletedEvent struct {
	Type       string    `json:"type"`
	RouteID    string    `json:"route_id"`
	WeekStart  string    `json:"week_start"`
	Samples    int       `json:"samples"`
	OccurredAt time.Time `json:"occurred_at"`
}

// MigrationCompletedEvent announces the outcome of an archive migration run.
type MigrationCompletedEvent struct {
	Type       string    `json:"type"`
	RunID      string    `json:"run_id"`
	Total      int       `json:"total"`
	Migrated   int       `json:"migrated"`
	Success    bool      `json:"success"`
	OccurredAt time.Time `json:"occurred_at"`
}

// MessageWriter is the transport the publisher writes through.
type MessageWriter interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// Publisher emits pipeline boundary events for downstream subscribers.
// Publishing is best effort: a nil Publisher silently drops events, so
// code in the data path never needs to guard.
type Publisher struct {
	writer MessageWriter
	now    func() time.Time
}

// NewPublisher creates a publisher over the given transport.
func NewPublisher(w MessageWriter) *Publisher {
	return &Publisher{writer: w, now: time.Now}
}

// SamplesCached publishes a samples.cached event keyed by route.
func (p *Publisher) SamplesCached(ctx context.Context, routeID, strategy string, count int) error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.publish(ctx, routeID, SamplesCachedEvent{
		Type:       EventSamplesCached,
		RouteID:    routeID,
		Strategy:   strategy,
		Count:      count,
		OccurredAt: p.now(),
	})
}

// RollupCompleted publishes a rollup.completed event keyed by route.
func (p *Publisher) RollupCompleted(ctx context.Context, routeID string, weekStart time.Time, samples int) error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.publish(ctx, routeID, RollupCompletedEvent{
		Type:       EventRollupCompleted,
		RouteID:    routeID,
		WeekStart:  weekStart.Format(weekStartFormat),
		Samples:    samples,
		OccurredAt: p.now(),
	})
}

// MigrationCompleted publishes a migration.completed event keyed by run.
func (p *Publisher) MigrationCompleted(ctx context.Context, runID string, total, migrated int, success bool) error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.publish(ctx, runID, MigrationCompletedEvent{
		Type:       EventMigrationCompleted,
		RunID:      runID,
		Total:      total,
		Migrated:   migrated,
		Success:    success,
		OccurredAt: p.now(),
	})
}

func (p *Publisher) publish(ctx context.Context, key string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return p.writer.Publish(ctx, key, payload)
}
