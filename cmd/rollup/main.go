package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
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
	"github.com/rsampath/routepulse/internal/schedule"
	"github.com/rsampath/routepulse/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}
	logging.Init(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	weeklyDay, err := parseWeekday(cfg.Rollup.WeeklyDay)
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid ROLLUP_WEEKLY_DAY")
	}

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

	svc := analytics.NewService(analytics.Params{
		Store:   db,
		History: source,
		// template-only; rollup runs never annotate
		Annotator: narrative.NewAnnotator(nil, 0),
		Bookings:  bookings.NewCounter(db),
		Rollups:   aggregation.NewWeeklyAggregator(source, db),
		Cache:     cache,
		Events:    events,
	})

	sched := schedule.NewScheduler()
	sched.Start()
	defer sched.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduleCurrentWeek(ctx, sched, svc, cfg.Rollup.DailyTime)
	scheduleWeekFinalize(ctx, sched, svc, weeklyDay, cfg.Rollup.WeeklyTime)

	go metrics.Serve(cfg.Metrics.Addr)

	logging.Info().
		Str("daily_time", cfg.Rollup.DailyTime).
		Str("weekly_day", cfg.Rollup.WeeklyDay).
		Str("weekly_time", cfg.Rollup.WeeklyTime).
		Msg("rollup service running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logging.Info().Msg("shutting down")
	cancel()
}

// scheduleCurrentWeek re-aggregates the running week once a day so its
// rollup row tracks the week as it fills in. Each run schedules the next.
func scheduleCurrentWeek(ctx context.Context, sched *schedule.Scheduler, svc *analytics.Service, timeOfDay string) {
	const jobID = "rollup-current-week"

	var next func()
	next = func() {
		runAt, err := aggregation.NextDailyRun(time.Now(), timeOfDay)
		if err != nil {
			logging.Fatal().Err(err).Str("time", timeOfDay).Msg("invalid daily rollup time")
		}
		logging.Info().Time("run_at", runAt).Msg("current week rollup scheduled")

		err = sched.Schedule(jobID, runAt, func() {
			if _, err := svc.RunWeeklyRollup(ctx, 0); err != nil {
				logging.Err(err).Msg("current week rollup failed")
			}
			next()
		})
		if err != nil && !errors.Is(err, schedule.ErrStopped) {
			logging.Err(err).Msg("failed to schedule current week rollup")
		}
	}

	next()
}

// scheduleWeekFinalize aggregates the previous week once, after it has
// closed.
func scheduleWeekFinalize(ctx context.Context, sched *schedule.Scheduler, svc *analytics.Service, day time.Weekday, timeOfDay string) {
	const jobID = "rollup-finalize-week"

	var next func()
	next = func() {
		runAt, err := aggregation.NextWeeklyRun(time.Now(), day, timeOfDay)
		if err != nil {
			logging.Fatal().Err(err).Str("time", timeOfDay).Msg("invalid weekly rollup time")
		}
		logging.Info().Time("run_at", runAt).Msg("previous week finalize scheduled")

		err = sched.Schedule(jobID, runAt, func() {
			if _, err := svc.RunWeeklyRollup(ctx, -1); err != nil {
				logging.Err(err).Msg("previous week finalize failed")
			}
			next()
		})
		if err != nil && !errors.Is(err, schedule.ErrStopped) {
			logging.Err(err).Msg("failed to schedule week finalize")
		}
	}

	next()
}

func parseWeekday(name string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), name) {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
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
