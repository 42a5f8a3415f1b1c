package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	WSAddr   string // RELAY_WS_ADDR (default "127.0.0.1:9000")
	WSPath   string // RELAY_WS_PATH (empty = any path)
	HTTPAddr string // RELAY_HTTP_ADDR (default "127.0.0.1:8080"; empty = disabled)
	GRPCAddr string // RELAY_GRPC_ADDR (default "127.0.0.1:9090"; empty = disabled)
	Origin   string // RELAY_ORIGIN (default "frontend")

	IdleTimeout      time.Duration // RELAY_IDLE_TIMEOUT (default 300s)
	HandshakeTimeout time.Duration // RELAY_HANDSHAKE_TIMEOUT (default 10s)
	PingInterval     time.Duration // RELAY_PING_INTERVAL (default 0 = no server pings)
	MaxMessageSize   int64         // RELAY_MAX_MESSAGE_SIZE (default 1 MiB)
	BusCapacity      int           // RELAY_BUS_CAPACITY (default 100)
	CommandTimeout   time.Duration // RELAY_COMMAND_TIMEOUT (default 5s)

	DatabaseURL    string // RELAY_DATABASE_URL (postgres://...; empty = sqlite)
	DBPath         string // RELAY_DB_PATH (default "relay.db")
	SeedSampleData bool   // RELAY_SEED_SAMPLE_DATA (default true)

	NATSURL           string // RELAY_NATS_URL (optional, empty = no bridge)
	NATSSubjectPrefix string // RELAY_NATS_SUBJECT_PREFIX (default "relay.events")

	// Report archive settings
	ReportInterval   time.Duration // RELAY_REPORT_INTERVAL (default 3m)
	ReportS3Bucket   string        // RELAY_REPORT_S3_BUCKET (enables S3 when set)
	ReportS3Endpoint string        // RELAY_REPORT_S3_ENDPOINT (custom endpoint for MinIO)
	ReportS3Region   string        // RELAY_REPORT_S3_REGION (default "us-east-1")
	ReportS3Prefix   string        // RELAY_REPORT_S3_PREFIX (default "relay/reports")
	ReportFile       string        // RELAY_REPORT_FILE (enables local JSONL when set)

	LogLevel  string // RELAY_LOG_LEVEL (default "info")
	LogFormat string // RELAY_LOG_FORMAT (default "text")
}

// Postgres reports whether DatabaseURL selects the postgres store.
func (c *Config) Postgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// ReportsEnabled reports whether any archive destination is configured.
func (c *Config) ReportsEnabled() bool {
	return c.ReportInterval > 0 && (c.ReportS3Bucket != "" || c.ReportFile != "")
}

func Load() (*Config, error) {
	c := &Config{
		WSAddr:            envOrDefault("RELAY_WS_ADDR", "127.0.0.1:9000"),
		WSPath:            os.Getenv("RELAY_WS_PATH"),
		HTTPAddr:          envOrDefault("RELAY_HTTP_ADDR", "127.0.0.1:8080"),
		GRPCAddr:          envOrDefault("RELAY_GRPC_ADDR", "127.0.0.1:9090"),
		Origin:            envOrDefault("RELAY_ORIGIN", "frontend"),
		DatabaseURL:       os.Getenv("RELAY_DATABASE_URL"),
		DBPath:            envOrDefault("RELAY_DB_PATH", "relay.db"),
		NATSURL:           os.Getenv("RELAY_NATS_URL"),
		NATSSubjectPrefix: envOrDefault("RELAY_NATS_SUBJECT_PREFIX", "relay.events"),
		ReportS3Bucket:    os.Getenv("RELAY_REPORT_S3_BUCKET"),
		ReportS3Endpoint:  os.Getenv("RELAY_REPORT_S3_ENDPOINT"),
		ReportS3Region:    envOrDefault("RELAY_REPORT_S3_REGION", "us-east-1"),
		ReportS3Prefix:    envOrDefault("RELAY_REPORT_S3_PREFIX", "relay/reports"),
		ReportFile:        os.Getenv("RELAY_REPORT_FILE"),
		LogLevel:          strings.ToLower(envOrDefault("RELAY_LOG_LEVEL", "info")),
		LogFormat:         strings.ToLower(envOrDefault("RELAY_LOG_FORMAT", "text")),
	}

	durations := []struct {
		key      string
		fallback string
		dst      *time.Duration
	}{
		{"RELAY_IDLE_TIMEOUT", "300s", &c.IdleTimeout},
		{"RELAY_HANDSHAKE_TIMEOUT", "10s", &c.HandshakeTimeout},
		{"RELAY_PING_INTERVAL", "0", &c.PingInterval},
		{"RELAY_COMMAND_TIMEOUT", "5s", &c.CommandTimeout},
		{"RELAY_REPORT_INTERVAL", "3m", &c.ReportInterval},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(envOrDefault(d.key, d.fallback))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.key, err)
		}
		if v < 0 {
			return nil, fmt.Errorf("%s: must not be negative", d.key)
		}
		*d.dst = v
	}

	size, err := strconv.ParseInt(envOrDefault("RELAY_MAX_MESSAGE_SIZE", "1048576"), 10, 64)
	if err != nil || size <= 0 {
		return nil, fmt.Errorf("RELAY_MAX_MESSAGE_SIZE: must be a positive integer")
	}
	c.MaxMessageSize = size

	capacity, err := strconv.Atoi(envOrDefault("RELAY_BUS_CAPACITY", "100"))
	if err != nil || capacity <= 0 {
		return nil, fmt.Errorf("RELAY_BUS_CAPACITY: must be a positive integer")
	}
	c.BusCapacity = capacity

	seed, err := strconv.ParseBool(envOrDefault("RELAY_SEED_SAMPLE_DATA", "true"))
	if err != nil {
		return nil, fmt.Errorf("RELAY_SEED_SAMPLE_DATA: %w", err)
	}
	c.SeedSampleData = seed

	if c.DatabaseURL != "" && !c.Postgres() {
		return nil, fmt.Errorf("RELAY_DATABASE_URL: only postgres:// URLs are supported; leave empty for sqlite")
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("RELAY_LOG_FORMAT: want text or json, got %q", c.LogFormat)
	}

	return c, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
