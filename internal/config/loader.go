package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ORACLED_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides applies ORACLED_* environment variables over cfg. Only
// variables that are set and non-empty take effect.
func applyEnvOverrides(cfg *Config) {
	// Database
	setStr("ORACLED_DATABASE_DSN", &cfg.Database.DSN)
	setStr("ORACLED_DATABASE_HOST", &cfg.Database.Host)
	setInt("ORACLED_DATABASE_PORT", &cfg.Database.Port)
	setStr("ORACLED_DATABASE_NAME", &cfg.Database.Database)
	setStr("ORACLED_DATABASE_USER", &cfg.Database.User)
	setStr("ORACLED_DATABASE_PASSWORD", &cfg.Database.Password)
	setStr("ORACLED_DATABASE_SSL_MODE", &cfg.Database.SSLMode)
	setInt("ORACLED_DATABASE_POOL_MAX_CONNS", &cfg.Database.PoolMaxConns)
	setInt("ORACLED_DATABASE_POOL_MIN_CONNS", &cfg.Database.PoolMinConns)
	setBool("ORACLED_DATABASE_RUN_MIGRATIONS", &cfg.Database.RunMigrations)

	// Redis
	setStr("ORACLED_REDIS_ADDR", &cfg.Redis.Addr)
	setStr("ORACLED_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("ORACLED_REDIS_DB", &cfg.Redis.DB)
	setInt("ORACLED_REDIS_POOL_SIZE", &cfg.Redis.PoolSize)
	setInt("ORACLED_REDIS_MAX_RETRIES", &cfg.Redis.MaxRetries)
	setBool("ORACLED_REDIS_TLS_ENABLED", &cfg.Redis.TLSEnabled)

	// S3
	setStr("ORACLED_S3_ENDPOINT", &cfg.S3.Endpoint)
	setStr("ORACLED_S3_REGION", &cfg.S3.Region)
	setStr("ORACLED_S3_BUCKET", &cfg.S3.Bucket)
	setStr("ORACLED_S3_ACCESS_KEY", &cfg.S3.AccessKey)
	setStr("ORACLED_S3_SECRET_KEY", &cfg.S3.SecretKey)
	setBool("ORACLED_S3_USE_SSL", &cfg.S3.UseSSL)
	setBool("ORACLED_S3_FORCE_PATH_STYLE", &cfg.S3.ForcePathStyle)

	// MPC
	setStr("ORACLED_MPC_BACKEND", &cfg.MPC.Backend)
	setStr("ORACLED_MPC_GATEWAY_URL", &cfg.MPC.GatewayURL)
	setStr("ORACLED_MPC_CLUSTER_PUBLIC_KEY", &cfg.MPC.ClusterPublicKey)

	// Herding
	setUint8("ORACLED_HERDING_MEDIUM_THRESHOLD", &cfg.Herding.MediumThreshold)
	setUint8("ORACLED_HERDING_HIGH_THRESHOLD", &cfg.Herding.HighThreshold)
	setUint8("ORACLED_HERDING_CRITICAL_THRESHOLD", &cfg.Herding.CriticalThreshold)
	setInt("ORACLED_HERDING_WINDOW_SIZE", &cfg.Herding.WindowSize)

	// Aggregation
	setDuration("ORACLED_AGGREGATION_TIMEOUT", &cfg.Aggregation.Timeout)
	setDuration("ORACLED_AGGREGATION_DISPUTE_WINDOW", &cfg.Aggregation.DisputeWindow)
	setUint8("ORACLED_AGGREGATION_TALLY_FLAG_THRESHOLD", &cfg.Aggregation.TallyFlagThreshold)

	// Dispute
	setUint64("ORACLED_DISPUTE_MIN_BOND", &cfg.Dispute.MinBond)
	setDuration("ORACLED_DISPUTE_REVIEW_WINDOW", &cfg.Dispute.ReviewWindow)

	// Server
	setBool("ORACLED_SERVER_ENABLED", &cfg.Server.Enabled)
	setInt("ORACLED_SERVER_PORT", &cfg.Server.Port)
	setStringSlice("ORACLED_SERVER_CORS_ORIGINS", &cfg.Server.CORSOrigins)
	setStr("ORACLED_SERVER_API_KEY", &cfg.Server.APIKey)
	setInt("ORACLED_SERVER_RATE_LIMIT", &cfg.Server.RateLimit)
	setDuration("ORACLED_SERVER_RATE_LIMIT_WINDOW", &cfg.Server.RateLimitWindow)

	// Notify
	setStr("ORACLED_NOTIFY_TELEGRAM_TOKEN", &cfg.Notify.TelegramToken)
	setStr("ORACLED_NOTIFY_TELEGRAM_CHAT_ID", &cfg.Notify.TelegramChatID)
	setStr("ORACLED_NOTIFY_DISCORD_WEBHOOK_URL", &cfg.Notify.DiscordWebhookURL)
	setStringSlice("ORACLED_NOTIFY_EVENTS", &cfg.Notify.Events)

	// Top level
	setStr("ORACLED_MODE", &cfg.Mode)
	setStr("ORACLED_LOG_LEVEL", &cfg.LogLevel)
}

func setStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint8(key string, dst *uint8) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 8); err == nil {
			*dst = uint8(n)
		}
	}
}

func setUint64(key string, dst *uint64) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(key string, dst *duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(key string, dst *[]string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			*dst = out
		}
	}
}
