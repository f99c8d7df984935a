// Package config defines the top-level configuration for the oracle
// resolution core and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ORACLED_* environment variables.
type Config struct {
	Database    DatabaseConfig    `toml:"database"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	MPC         MPCConfig         `toml:"mpc"`
	Herding     HerdingConfig     `toml:"herding"`
	Aggregation AggregationConfig `toml:"aggregation"`
	Dispute     DisputeConfig     `toml:"dispute"`
	Server      ServerConfig      `toml:"server"`
	Notify      NotifyConfig      `toml:"notify"`
	Mode        string            `toml:"mode"`
	LogLevel    string            `toml:"log_level"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for evidence
// archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MPCConfig selects and configures the secure-computation collaborator.
type MPCConfig struct {
	// Backend is "gateway" for a remote cluster or "local" for the
	// in-process double.
	Backend string `toml:"backend"`
	// GatewayURL is the websocket endpoint of the cluster gateway.
	GatewayURL string `toml:"gateway_url"`
	// ClusterPublicKey is the hex-encoded X25519 public key votes are
	// sealed against.
	ClusterPublicKey string `toml:"cluster_public_key"`
}

// HerdingConfig holds the herding detector weights and cut points. Zero
// values fall back to the protocol defaults.
type HerdingConfig struct {
	RapidConsensusWeight uint8 `toml:"rapid_consensus_weight"`
	LowConvictionWeight  uint8 `toml:"low_conviction_weight"`
	SelfDeviationWeight  uint8 `toml:"self_deviation_weight"`
	FavoriteWeight       uint8 `toml:"favorite_weight"`
	MediumThreshold      uint8 `toml:"medium_threshold"`
	HighThreshold        uint8 `toml:"high_threshold"`
	CriticalThreshold    uint8 `toml:"critical_threshold"`
	WindowSize           int   `toml:"window_size"`
}

// AggregationConfig holds aggregation engine parameters.
type AggregationConfig struct {
	Timeout       duration `toml:"timeout"`
	DisputeWindow duration `toml:"dispute_window"`
	// TallyFlagThreshold is the manipulation score at or above which a
	// resolution is flagged for dispute review.
	TallyFlagThreshold uint8 `toml:"tally_flag_threshold"`
}

// DisputeConfig holds dispute manager parameters.
type DisputeConfig struct {
	MinBond      uint64   `toml:"min_bond"`
	ReviewWindow duration `toml:"review_window"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "oraclecore",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "oraclecore-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		MPC: MPCConfig{
			Backend: "local",
		},
		Herding: HerdingConfig{
			RapidConsensusWeight: 25,
			LowConvictionWeight:  20,
			SelfDeviationWeight:  15,
			FavoriteWeight:       10,
			MediumThreshold:      20,
			HighThreshold:        40,
			CriticalThreshold:    60,
			WindowSize:           50,
		},
		Aggregation: AggregationConfig{
			Timeout:            duration{5 * time.Minute},
			DisputeWindow:      duration{72 * time.Hour},
			TallyFlagThreshold: 60,
		},
		Dispute: DisputeConfig{
			MinBond:      1_000,
			ReviewWindow: duration{48 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8000,
			CORSOrigins:     []string{"http://localhost:3000"},
			RateLimit:       20,
			RateLimitWindow: duration{time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"resolution.finalized", "dispute.accepted", "herding.critical"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// MPC
	switch strings.ToLower(c.MPC.Backend) {
	case "local":
	case "gateway":
		if c.MPC.GatewayURL == "" {
			errs = append(errs, "mpc: gateway_url is required for the gateway backend")
		}
		if c.MPC.ClusterPublicKey == "" {
			errs = append(errs, "mpc: cluster_public_key is required for the gateway backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("mpc: unknown backend %q (valid: gateway, local)", c.MPC.Backend))
	}

	// Herding cut points must stay ordered so risk grading is monotonic.
	if !(c.Herding.MediumThreshold < c.Herding.HighThreshold && c.Herding.HighThreshold < c.Herding.CriticalThreshold) {
		errs = append(errs, "herding: thresholds must satisfy medium < high < critical")
	}
	if c.Herding.WindowSize < 1 {
		errs = append(errs, "herding: window_size must be >= 1")
	}

	// Aggregation
	if c.Aggregation.Timeout.Duration <= 0 {
		errs = append(errs, "aggregation: timeout must be > 0")
	}
	if c.Aggregation.DisputeWindow.Duration <= 0 {
		errs = append(errs, "aggregation: dispute_window must be > 0")
	}

	// Dispute
	if c.Dispute.MinBond == 0 {
		errs = append(errs, "dispute: min_bond must be > 0")
	}
	if c.Dispute.ReviewWindow.Duration <= 0 {
		errs = append(errs, "dispute: review_window must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
