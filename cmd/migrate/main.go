package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rsampath/routepulse/internal/database"
	"github.com/rsampath/routepulse/internal/logging"
	"github.com/rsampath/routepulse/internal/migration"
	"github.com/rsampath/routepulse/internal/queue"
	"github.com/rsampath/routepulse/internal/timeseries"
	"github.com/rsampath/routepulse/pkg/config"
)

func main() {
	check := flag.Bool("check", false, "verify source and destination readiness, then exit")
	flag.Parse()

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

	ts, err := timeseries.NewClient(timeseries.Config{
		URL:     cfg.TimeSeries.URL,
		Timeout: cfg.TimeSeries.Timeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to create timeseries client")
	}

	pipeline := migration.NewPipeline(db, ts, migration.Config{
		BatchSize:  cfg.Migration.BatchSize,
		MaxRetries: cfg.Migration.MaxRetries,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *check {
		status := pipeline.CheckReadiness(ctx)
		fmt.Printf("source:      %s\n", okString(status.SourceOK))
		fmt.Printf("destination: %s\n", okString(status.DestinationOK))
		if status.Detail != "" {
			fmt.Printf("detail:      %s\n", status.Detail)
		}
		if !status.Ready {
			os.Exit(1)
		}
		return
	}

	result, err := pipeline.Run(ctx)
	if err != nil {
		logging.Fatal().Err(err).Msg("migration failed")
	}

	publishCompletion(ctx, cfg, result)

	fmt.Printf("run:      %s\n", result.RunID)
	fmt.Printf("total:    %d\n", result.TotalRecords)
	fmt.Printf("migrated: %d\n", result.MigratedCount)
	fmt.Printf("batches:  %d\n", result.BatchesRun)
	fmt.Printf("duration: %dms\n", result.DurationMillis)
	for _, e := range result.Errors {
		fmt.Printf("error:    %s\n", e)
	}
	if !result.Success {
		os.Exit(1)
	}
}

func okString(ok bool) string {
	if ok {
		return "ok"
	}
	return "unreachable"
}

// publishCompletion is best effort; a missing broker never fails the run.
func publishCompletion(ctx context.Context, cfg *config.Config, result *migration.Result) {
	if len(cfg.Kafka.Brokers) == 0 {
		return
	}

	producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicEvents)
	defer producer.Close()

	events := queue.NewPublisher(producer)
	if err := events.MigrationCompleted(ctx, result.RunID, result.TotalRecords, result.MigratedCount, result.Success); err != nil {
		logging.Warn().Err(err).Msg("failed to publish migration completion")
	}
}
