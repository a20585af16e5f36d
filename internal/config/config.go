// Package config provides bridge and peer configuration loaded from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// BridgeConfig holds the relay daemon configuration.
type BridgeConfig struct {
	// HTTP listener (BRIDGE_HTTP_ADDR preferred, e.g. "0.0.0.0:8080")
	HTTPAddr string `envconfig:"BRIDGE_HTTP_ADDR"`
	HTTPPort int    `envconfig:"BRIDGE_HTTP_PORT" default:"8080"`

	// COMMS backplane: empty COMMS_URL and COMMS_EMBEDDED=false run a single node.
	COMMSURL          string `envconfig:"COMMS_URL"`
	COMMSName         string `envconfig:"SERVICE_NAME" default:"wc-bridge"`
	COMMSEmbedded     bool   `envconfig:"COMMS_EMBEDDED" default:"false"`
	COMMSEmbeddedPort int    `envconfig:"COMMS_EMBEDDED_PORT" default:"4222"`

	// NodeID tags frames this node mirrors onto the backplane (empty = random per start).
	NodeID string `envconfig:"BRIDGE_NODE_ID"`

	// Database: empty DATABASE_URL keeps pending frames in memory.
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// Relay behavior
	PendingTTL    time.Duration `envconfig:"BRIDGE_PENDING_TTL" default:"24h"`
	PurgeInterval time.Duration `envconfig:"BRIDGE_PURGE_INTERVAL" default:"10m"`
	PublishRPS    float64       `envconfig:"BRIDGE_PUBLISH_RPS" default:"50"`
	PublishBurst  int           `envconfig:"BRIDGE_PUBLISH_BURST" default:"100"`
	PingInterval  time.Duration `envconfig:"BRIDGE_PING_INTERVAL" default:"30s"`

	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadBridgeConfig loads bridge configuration from environment variables.
func LoadBridgeConfig() (*BridgeConfig, error) {
	var c BridgeConfig
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Addr returns the HTTP listen address.
func (c *BridgeConfig) Addr() string {
	if c.HTTPAddr != "" {
		return c.HTTPAddr
	}
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// ValidateForServe checks required config when running the relay.
func (c *BridgeConfig) ValidateForServe() error {
	if c.COMMSEmbedded && c.COMMSURL != "" {
		return fmt.Errorf("%s - COMMS_URL and COMMS_EMBEDDED are mutually exclusive", logPrefix)
	}
	if c.PublishRPS <= 0 {
		return fmt.Errorf("%s - BRIDGE_PUBLISH_RPS must be positive", logPrefix)
	}
	if c.PublishBurst < 1 {
		return fmt.Errorf("%s - BRIDGE_PUBLISH_BURST must be at least 1", logPrefix)
	}
	if c.PendingTTL <= 0 {
		return fmt.Errorf("%s - BRIDGE_PENDING_TTL must be positive", logPrefix)
	}
	if c.PurgeInterval <= 0 {
		return fmt.Errorf("%s - BRIDGE_PURGE_INTERVAL must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, clear, ensure-db).
func (c *BridgeConfig) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

// PeerConfig holds the CLI peer configuration.
type PeerConfig struct {
	BridgeURL      string        `envconfig:"WC_BRIDGE_URL" default:"http://127.0.0.1:8080"`
	PeerMetaFile   string        `envconfig:"WC_PEER_META_FILE"`
	Accounts       []string      `envconfig:"WC_ACCOUNTS"`
	ChainID        int           `envconfig:"WC_CHAIN_ID"` // 0 keeps the profile's chain
	KeepAlive      time.Duration `envconfig:"WC_KEEPALIVE" default:"30s"`
	ReconnectDelay time.Duration `envconfig:"WC_RECONNECT_DELAY" default:"2s"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadPeerConfig loads peer configuration from environment variables.
func LoadPeerConfig() (*PeerConfig, error) {
	var c PeerConfig
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the bridge URL and chain id.
func (c *PeerConfig) Validate() error {
	u, err := url.Parse(c.BridgeURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s - WC_BRIDGE_URL %q is not an absolute URL", logPrefix, c.BridgeURL)
	}
	if c.ChainID < 0 {
		return fmt.Errorf("%s - WC_CHAIN_ID must not be negative", logPrefix)
	}
	if c.KeepAlive <= 0 {
		return fmt.Errorf("%s - WC_KEEPALIVE must be positive", logPrefix)
	}
	return nil
}

// ParseLogLevel maps LOG_LEVEL values to slog levels. Unknown values mean info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
