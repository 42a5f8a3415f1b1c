package config

import (
	"testing"
	"time"
)

var allEnvVars = []string{
	"RELAY_WS_ADDR", "RELAY_WS_PATH", "RELAY_HTTP_ADDR", "RELAY_GRPC_ADDR", "RELAY_ORIGIN",
	"RELAY_IDLE_TIMEOUT", "RELAY_HANDSHAKE_TIMEOUT", "RELAY_PING_INTERVAL",
	"RELAY_MAX_MESSAGE_SIZE", "RELAY_BUS_CAPACITY", "RELAY_COMMAND_TIMEOUT",
	"RELAY_DATABASE_URL", "RELAY_DB_PATH", "RELAY_SEED_SAMPLE_DATA",
	"RELAY_NATS_URL", "RELAY_NATS_SUBJECT_PREFIX",
	"RELAY_REPORT_INTERVAL", "RELAY_REPORT_S3_BUCKET", "RELAY_REPORT_S3_ENDPOINT",
	"RELAY_REPORT_S3_REGION", "RELAY_REPORT_S3_PREFIX", "RELAY_REPORT_FILE",
	"RELAY_LOG_LEVEL", "RELAY_LOG_FORMAT",
}

func clearAllEnv(t *testing.T) {
	t.Helper()
	for _, key := range allEnvVars {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearAllEnv(t)
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.WSAddr != "127.0.0.1:9000" || c.HTTPAddr != "127.0.0.1:8080" || c.GRPCAddr != "127.0.0.1:9090" {
		t.Errorf("addresses = %q %q %q", c.WSAddr, c.HTTPAddr, c.GRPCAddr)
	}
	if c.Origin != "frontend" || c.WSPath != "" {
		t.Errorf("origin/path = %q %q", c.Origin, c.WSPath)
	}
	if c.IdleTimeout != 300*time.Second || c.HandshakeTimeout != 10*time.Second || c.PingInterval != 0 {
		t.Errorf("timeouts = %v %v %v", c.IdleTimeout, c.HandshakeTimeout, c.PingInterval)
	}
	if c.MaxMessageSize != 1<<20 || c.BusCapacity != 100 || c.CommandTimeout != 5*time.Second {
		t.Errorf("limits = %d %d %v", c.MaxMessageSize, c.BusCapacity, c.CommandTimeout)
	}
	if c.Postgres() || c.DBPath != "relay.db" || !c.SeedSampleData {
		t.Errorf("store = %q %q %v", c.DatabaseURL, c.DBPath, c.SeedSampleData)
	}
	if c.NATSSubjectPrefix != "relay.events" {
		t.Errorf("prefix = %q", c.NATSSubjectPrefix)
	}
	if c.ReportInterval != 3*time.Minute || c.ReportS3Region != "us-east-1" || c.ReportS3Prefix != "relay/reports" {
		t.Errorf("reports = %v %q %q", c.ReportInterval, c.ReportS3Region, c.ReportS3Prefix)
	}
	if c.ReportsEnabled() {
		t.Error("reports should be disabled without a destination")
	}
	if c.LogLevel != "info" || c.LogFormat != "text" {
		t.Errorf("logging = %q %q", c.LogLevel, c.LogFormat)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearAllEnv(t)
	for k, v := range map[string]string{
		"RELAY_WS_ADDR":          ":9500",
		"RELAY_WS_PATH":          "/ws",
		"RELAY_IDLE_TIMEOUT":     "90s",
		"RELAY_PING_INTERVAL":    "20s",
		"RELAY_MAX_MESSAGE_SIZE": "4096",
		"RELAY_DATABASE_URL":     "postgres://db:5432/relay",
		"RELAY_SEED_SAMPLE_DATA": "false",
		"RELAY_REPORT_FILE":      "/var/log/relay/reports.jsonl",
		"RELAY_LOG_LEVEL":        "DEBUG",
		"RELAY_LOG_FORMAT":       "json",
	} {
		t.Setenv(k, v)
	}
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.WSAddr != ":9500" || c.WSPath != "/ws" {
		t.Errorf("ws = %q %q", c.WSAddr, c.WSPath)
	}
	if c.IdleTimeout != 90*time.Second || c.PingInterval != 20*time.Second || c.MaxMessageSize != 4096 {
		t.Errorf("tuning = %v %v %d", c.IdleTimeout, c.PingInterval, c.MaxMessageSize)
	}
	if !c.Postgres() || c.SeedSampleData {
		t.Errorf("store = %q seed=%v", c.DatabaseURL, c.SeedSampleData)
	}
	if !c.ReportsEnabled() {
		t.Error("report file should enable reports")
	}
	if c.LogLevel != "debug" || c.LogFormat != "json" {
		t.Errorf("logging = %q %q", c.LogLevel, c.LogFormat)
	}
}

func TestLoad_Invalid(t *testing.T) {
	for _, tc := range []struct {
		key, value string
	}{
		{"RELAY_IDLE_TIMEOUT", "soon"},
		{"RELAY_HANDSHAKE_TIMEOUT", "-1s"},
		{"RELAY_MAX_MESSAGE_SIZE", "0"},
		{"RELAY_BUS_CAPACITY", "many"},
		{"RELAY_SEED_SAMPLE_DATA", "maybe"},
		{"RELAY_DATABASE_URL", "mysql://db/relay"},
		{"RELAY_LOG_FORMAT", "xml"},
		{"RELAY_REPORT_INTERVAL", "3"},
	} {
		t.Run(tc.key, func(t *testing.T) {
			clearAllEnv(t)
			t.Setenv(tc.key, tc.value)
			if _, err := Load(); err == nil {
				t.Errorf("%s=%q: expected error", tc.key, tc.value)
			}
		})
	}
}
