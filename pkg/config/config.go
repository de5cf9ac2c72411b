package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Log        LogConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Maps       MapsConfig
	Narrative  NarrativeConfig
	TimeSeries TimeSeriesConfig
	Analytics  AnalyticsConfig
	Rollup     RollupConfig
	Migration  MigrationConfig
	Metrics    MetricsConfig
}

type LogConfig struct {
	Level  string
	Format string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	// Brokers empty disables event publishing entirely.
	Brokers     []string
	TopicEvents string
}

type MapsConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type NarrativeConfig struct {
	// APIKey empty disables the external generator; annotation falls back
	// to the local template.
	APIKey      string
	Model       string
	Timeout     time.Duration
	MinInterval time.Duration
}

type TimeSeriesConfig struct {
	URL     string
	Timeout time.Duration
}

type AnalyticsConfig struct {
	HistoryWindowDays int
	BookingWindowDays int
	CacheTTL          time.Duration
	RefreshWorkers    int
	RefreshInterval   time.Duration
}

type RollupConfig struct {
	// DailyTime refreshes the running week once a day; WeeklyDay/WeeklyTime
	// finalize the previous week.
	DailyTime  string
	WeeklyDay  string
	WeeklyTime string
}

type MigrationConfig struct {
	BatchSize  int
	MaxRetries int
}

type MetricsConfig struct {
	Addr string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	config := &Config{
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "routepulse_user"),
			Password: getEnv("DB_PASSWORD", "routepulse_pass"),
			DBName:   getEnv("DB_NAME", "routepulse_db"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Kafka: KafkaConfig{
			Brokers:     splitNonEmpty(getEnv("KAFKA_BROKERS", "")),
			TopicEvents: getEnv("KAFKA_TOPIC_EVENTS", "routepulse.events"),
		},
		Maps: MapsConfig{
			BaseURL: getEnv("MAPS_BASE_URL", "https://maps.googleapis.com/maps/api/directions/json"),
			APIKey:  getEnv("MAPS_API_KEY", ""),
			Timeout: getEnvAsDuration("MAPS_TIMEOUT", 10*time.Second),
		},
		Narrative: NarrativeConfig{
			APIKey:      getEnv("NARRATIVE_API_KEY", ""),
			Model:       getEnv("NARRATIVE_MODEL", "gpt-4o-mini"),
			Timeout:     getEnvAsDuration("NARRATIVE_TIMEOUT", 30*time.Second),
			MinInterval: getEnvAsDuration("NARRATIVE_MIN_INTERVAL", time.Second),
		},
		TimeSeries: TimeSeriesConfig{
			URL:     getEnv("TIMESERIES_URL", "http://localhost:9000"),
			Timeout: getEnvAsDuration("TIMESERIES_TIMEOUT", 15*time.Second),
		},
		Analytics: AnalyticsConfig{
			HistoryWindowDays: getEnvAsInt("ANALYTICS_HISTORY_DAYS", 7),
			BookingWindowDays: getEnvAsInt("ANALYTICS_BOOKING_DAYS", 30),
			CacheTTL:          getEnvAsDuration("ANALYTICS_CACHE_TTL", 10*time.Minute),
			RefreshWorkers:    getEnvAsInt("ANALYTICS_REFRESH_WORKERS", 4),
			RefreshInterval:   getEnvAsDuration("ANALYTICS_REFRESH_INTERVAL", time.Hour),
		},
		Rollup: RollupConfig{
			DailyTime:  getEnv("ROLLUP_DAILY_TIME", "00:15"),
			WeeklyDay:  getEnv("ROLLUP_WEEKLY_DAY", "Monday"),
			WeeklyTime: getEnv("ROLLUP_WEEKLY_TIME", "01:00"),
		},
		Migration: MigrationConfig{
			BatchSize:  getEnvAsInt("MIGRATION_BATCH_SIZE", 50),
			MaxRetries: getEnvAsInt("MIGRATION_MAX_RETRIES", 3),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9102"),
		},
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
