package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rsampath/routepulse/internal/aggregation"
	"github.com/rsampath/routepulse/internal/analytics"
	"github.com/rsampath/routepulse/internal/bookings"
	"github.com/rsampath/routepulse/internal/database"
	"github.com/rsampath/routepulse/internal/history"
	"github.com/rsampath/routepulse/internal/logging"
	"github.com/rsampath/routepulse/internal/maps"
	"github.com/rsampath/routepulse/internal/metrics"
	"github.com/rsampath/routepulse/internal/narrative"
	"github.com/rsampath/routepulse/internal/queue"
	"github.com/rsampath/routepulse/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	db, err := database.Connect(cfg.Database.ConnectionString())
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.RunMigrations("migrations"); err != nil {
		logging.Fatal().Err(err).Msg("failed to run migrations")
	}

	cache := connectCache(cfg)

	var events *queue.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		if err := queue.EnsureTopic(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents, 3, 1); err != nil {
			logging.Warn().Err(err).Msg("events topic setup failed, continuing without events")
		} else {
			producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
			defer producer.Close()
			events = queue.NewPublisher(producer)
		}
	}

	estimator := maps.NewClient(maps.Config{
		BaseURL: cfg.Maps.BaseURL,
		APIKey:  cfg.Maps.APIKey,
		Timeout: cfg.Maps.Timeout,
	})
	source := history.NewDefaultSource(db, estimator, events)

	var gen narrative.Generator
	if cfg.Narrative.APIKey != "" {
		gen = narrative.NewOpenAIGenerator(cfg.Narrative.APIKey, cfg.Narrative.Model, cfg.Narrative.Timeout)
	} else {
		logging.Warn().Msg("no narrative API key, narratives use the local template")
	}

	svc := analytics.NewService(analytics.Params{
		Store:          db,
		History:        source,
		Annotator:      narrative.NewAnnotator(gen, cfg.Narrative.MinInterval),
		Bookings:       bookings.NewCounter(db),
		Rollups:        aggregation.NewWeeklyAggregator(source, db),
		Cache:          cache,
		Events:         events,
		HistoryDays:    cfg.Analytics.HistoryWindowDays,
		BookingDays:    cfg.Analytics.BookingWindowDays,
		RefreshWorkers: cfg.Analytics.RefreshWorkers,
	})

	go metrics.Serve(cfg.Metrics.Addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go refreshLoop(ctx, svc, cfg.Analytics.RefreshInterval)

	logging.Info().
		Str("metrics_addr", cfg.Metrics.Addr).
		Dur("refresh_interval", cfg.Analytics.RefreshInterval).
		Msg("analytics service running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Info().Msg("shutting down")
	cancel()
}

// refreshLoop refreshes every route immediately and then on the interval.
func refreshLoop(ctx context.Context, svc *analytics.Service, interval time.Duration) {
	refresh := func() {
		if _, err := svc.RefreshAllRoutes(ctx); err != nil {
			logging.Err(err).Msg("route refresh failed")
		}
	}
	refresh()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			refresh()
		case <-ctx.Done():
			return
		}
	}
}

// connectCache opens Redis, degrading to no cache when it is unreachable.
func connectCache(cfg *config.Config) *analytics.Cache {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logging.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, running without cache")
		_ = client.Close()
		return nil
	}

	return analytics.NewCache(client, cfg.Analytics.CacheTTL)
}
