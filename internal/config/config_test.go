package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

var bridgeEnv = []string{
	"BRIDGE_HTTP_ADDR", "BRIDGE_HTTP_PORT",
	"COMMS_URL", "SERVICE_NAME", "COMMS_EMBEDDED", "COMMS_EMBEDDED_PORT",
	"BRIDGE_NODE_ID", "DATABASE_URL", "RUN_MIGRATIONS", "MIGRATION_PATH",
	"BRIDGE_PENDING_TTL", "BRIDGE_PURGE_INTERVAL", "BRIDGE_PUBLISH_RPS", "BRIDGE_PUBLISH_BURST",
	"BRIDGE_PING_INTERVAL", "HEALTH_CHECK_TIMEOUT", "LOG_LEVEL",
}

var peerEnv = []string{
	"WC_BRIDGE_URL", "WC_PEER_META_FILE", "WC_ACCOUNTS", "WC_CHAIN_ID",
	"WC_KEEPALIVE", "WC_RECONNECT_DELAY", "LOG_LEVEL",
}

// clearEnv unsets vars for the duration of the test. Setenv registers the restore.
func clearEnv(t *testing.T, vars []string) {
	t.Helper()
	for _, v := range vars {
		t.Setenv(v, "")
		os.Unsetenv(v)
	}
}

func TestLoadBridgeConfig_Defaults(t *testing.T) {
	clearEnv(t, bridgeEnv)

	cfg, err := LoadBridgeConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.Addr() != ":8080" {
		t.Errorf("config:config_test - Addr = %q, want :8080", cfg.Addr())
	}
	if cfg.COMMSURL != "" || cfg.COMMSEmbedded {
		t.Errorf("config:config_test - expected no backplane by default")
	}
	if cfg.COMMSName != "wc-bridge" {
		t.Errorf("config:config_test - COMMSName = %q, want %q", cfg.COMMSName, "wc-bridge")
	}
	if cfg.DatabaseURL != "" {
		t.Errorf("config:config_test - DatabaseURL = %q, want empty", cfg.DatabaseURL)
	}
	if cfg.MigrationPath != "migrations" {
		t.Errorf("config:config_test - MigrationPath = %q, want %q", cfg.MigrationPath, "migrations")
	}
	if cfg.PendingTTL != 24*time.Hour {
		t.Errorf("config:config_test - PendingTTL = %v, want 24h", cfg.PendingTTL)
	}
	if cfg.PublishRPS != 50 || cfg.PublishBurst != 100 {
		t.Errorf("config:config_test - rate = %v/%d, want 50/100", cfg.PublishRPS, cfg.PublishBurst)
	}
	if cfg.PingInterval != 30*time.Second {
		t.Errorf("config:config_test - PingInterval = %v, want 30s", cfg.PingInterval)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.ValidateForServe(); err != nil {
		t.Errorf("config:config_test - defaults should validate: %v", err)
	}
	if err := cfg.ValidateForDB(); err == nil {
		t.Error("config:config_test - ValidateForDB should require DATABASE_URL")
	}
}

func TestLoadBridgeConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv(t, bridgeEnv)
	overrides := map[string]string{
		"BRIDGE_HTTP_ADDR":     "127.0.0.1:9000",
		"COMMS_URL":            "nats://custom:4222",
		"SERVICE_NAME":         "bridge-a",
		"BRIDGE_NODE_ID":       "node-a",
		"DATABASE_URL":         "postgres://test@localhost/test",
		"RUN_MIGRATIONS":       "true",
		"BRIDGE_PENDING_TTL":   "1h",
		"BRIDGE_PUBLISH_RPS":   "2.5",
		"BRIDGE_PUBLISH_BURST": "5",
		"LOG_LEVEL":            "debug",
	}
	for key, val := range overrides {
		t.Setenv(key, val)
	}

	cfg, err := LoadBridgeConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.Addr() != "127.0.0.1:9000" {
		t.Errorf("config:config_test - Addr = %q, want %q", cfg.Addr(), "127.0.0.1:9000")
	}
	if cfg.COMMSURL != "nats://custom:4222" || cfg.COMMSName != "bridge-a" || cfg.NodeID != "node-a" {
		t.Errorf("config:config_test - comms settings %q %q %q", cfg.COMMSURL, cfg.COMMSName, cfg.NodeID)
	}
	if !cfg.RunMigrations || cfg.DatabaseURL != "postgres://test@localhost/test" {
		t.Errorf("config:config_test - database settings %+v", cfg)
	}
	if cfg.PendingTTL != time.Hour || cfg.PublishRPS != 2.5 || cfg.PublishBurst != 5 {
		t.Errorf("config:config_test - relay settings %v %v %d", cfg.PendingTTL, cfg.PublishRPS, cfg.PublishBurst)
	}
	if err := cfg.ValidateForDB(); err != nil {
		t.Errorf("config:config_test - ValidateForDB: %v", err)
	}
}

func TestBridgeConfig_ValidateForServe(t *testing.T) {
	valid := func() BridgeConfig {
		return BridgeConfig{PublishRPS: 1, PublishBurst: 1, PendingTTL: time.Hour, PurgeInterval: time.Minute, HealthCheckTimeout: time.Second}
	}
	tests := []struct {
		name   string
		mutate func(*BridgeConfig)
	}{
		{"embedded and url", func(c *BridgeConfig) { c.COMMSEmbedded = true; c.COMMSURL = "nats://x:4222" }},
		{"zero rps", func(c *BridgeConfig) { c.PublishRPS = 0 }},
		{"zero burst", func(c *BridgeConfig) { c.PublishBurst = 0 }},
		{"zero ttl", func(c *BridgeConfig) { c.PendingTTL = 0 }},
		{"zero purge", func(c *BridgeConfig) { c.PurgeInterval = 0 }},
		{"zero health timeout", func(c *BridgeConfig) { c.HealthCheckTimeout = 0 }},
	}

	base := valid()
	if err := base.ValidateForServe(); err != nil {
		t.Fatalf("config:config_test - valid config rejected: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			if err := c.ValidateForServe(); err == nil {
				t.Errorf("config:config_test - expected validation error")
			}
		})
	}
}

func TestLoadPeerConfig(t *testing.T) {
	clearEnv(t, peerEnv)

	cfg, err := LoadPeerConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}
	if cfg.BridgeURL != "http://127.0.0.1:8080" || cfg.ChainID != 0 || cfg.KeepAlive != 30*time.Second {
		t.Errorf("config:config_test - unexpected defaults %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("config:config_test - defaults should validate: %v", err)
	}

	t.Setenv("WC_ACCOUNTS", "0xabc,0xdef")
	t.Setenv("WC_CHAIN_ID", "5")
	t.Setenv("WC_BRIDGE_URL", "not a url")
	cfg, err = LoadPeerConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}
	if len(cfg.Accounts) != 2 || cfg.Accounts[1] != "0xdef" || cfg.ChainID != 5 {
		t.Errorf("config:config_test - Accounts = %v", cfg.Accounts)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("config:config_test - expected invalid bridge URL error")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.in); got != tt.want {
			t.Errorf("config:config_test - ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
