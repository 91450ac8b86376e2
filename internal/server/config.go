package server

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/openjobspec/ojs-retry-engine/internal/core"
)

// Config holds server configuration from environment variables.
type Config struct {
	Port                string
	GRPCPort            string
	APIKey              string
	AllowInsecureNoAuth bool

	LogFormat string // "json" or "text"
	LogLevel  slog.Level

	AttemptLogCapacity  int
	PoisonThreshold     int
	PoisonTTL           time.Duration // zero disables the sweep
	PoisonSweepSchedule string

	ArchiveEnabled  bool
	ArchiveSchedule string

	DispatchEnabled  bool
	DispatchInterval time.Duration
	DispatchBatch    int
	DispatchRate     float64

	AWSRegion      string
	AWSEndpointURL string // For LocalStack
	DynamoDBTable  string
	SQSQueuePrefix string
	UseFIFO        bool

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// LoadConfig reads configuration from environment variables with defaults.
// A .env file in the working directory is loaded first when present; real
// environment variables take precedence over it.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:                getEnv("OJS_PORT", "8080"),
		GRPCPort:            getEnv("OJS_GRPC_PORT", "9090"),
		APIKey:              getEnv("OJS_API_KEY", ""),
		AllowInsecureNoAuth: getEnvBool("OJS_ALLOW_INSECURE_NO_AUTH", false),

		LogFormat: strings.ToLower(getEnv("OJS_LOG_FORMAT", "json")),
		LogLevel:  getEnvLevel("OJS_LOG_LEVEL", slog.LevelInfo),

		AttemptLogCapacity:  getEnvInt("OJS_ATTEMPT_LOG_CAPACITY", 50000),
		PoisonThreshold:     getEnvInt("OJS_POISON_THRESHOLD", 10),
		PoisonSweepSchedule: getEnv("OJS_POISON_SWEEP_SCHEDULE", "@every 5m"),

		ArchiveEnabled:  getEnvBool("OJS_ARCHIVE_ENABLED", false),
		ArchiveSchedule: getEnv("OJS_ARCHIVE_SCHEDULE", "@every 1m"),

		DispatchEnabled:  getEnvBool("OJS_DISPATCH_ENABLED", false),
		DispatchInterval: getEnvDuration("OJS_DISPATCH_INTERVAL", 200*time.Millisecond),
		DispatchBatch:    getEnvInt("OJS_DISPATCH_BATCH", 10),
		DispatchRate:     getEnvFloat("OJS_DISPATCH_RATE", 0),

		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""), // Empty = real AWS
		DynamoDBTable:  getEnv("DYNAMODB_TABLE", "ojs-retry"),
		SQSQueuePrefix: getEnv("SQS_QUEUE_PREFIX", "ojs-retry"),
		UseFIFO:        getEnvBool("SQS_USE_FIFO", false),

		ReadTimeout:     getEnvDuration("OJS_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:    getEnvDuration("OJS_WRITE_TIMEOUT", 0), // SSE streams stay open
		IdleTimeout:     getEnvDuration("OJS_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout: getEnvDuration("OJS_SHUTDOWN_TIMEOUT", 15*time.Second),
	}

	if v := getEnv("OJS_POISON_TTL", ""); v != "" {
		ttl, err := core.ParseISO8601Duration(v)
		if err != nil {
			return cfg, fmt.Errorf("OJS_POISON_TTL: %w", err)
		}
		cfg.PoisonTTL = ttl
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, fmt.Errorf("OJS_LOG_FORMAT must be json or text, got %q", c.LogFormat))
	}
	if c.AttemptLogCapacity <= 0 {
		errs = append(errs, fmt.Errorf("OJS_ATTEMPT_LOG_CAPACITY must be positive, got %d", c.AttemptLogCapacity))
	}
	if c.PoisonThreshold <= 0 {
		errs = append(errs, fmt.Errorf("OJS_POISON_THRESHOLD must be positive, got %d", c.PoisonThreshold))
	}
	if c.PoisonTTL < 0 {
		errs = append(errs, fmt.Errorf("OJS_POISON_TTL must not be negative"))
	}
	if c.DispatchEnabled && c.DispatchInterval <= 0 {
		errs = append(errs, fmt.Errorf("OJS_DISPATCH_INTERVAL must be positive, got %s", c.DispatchInterval))
	}
	if c.DispatchBatch <= 0 {
		errs = append(errs, fmt.Errorf("OJS_DISPATCH_BATCH must be positive, got %d", c.DispatchBatch))
	}
	if c.DispatchRate < 0 {
		errs = append(errs, fmt.Errorf("OJS_DISPATCH_RATE must not be negative"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("30s") and bare milliseconds ("500").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(val)); err != nil {
		return defaultVal
	}
	return level
}
