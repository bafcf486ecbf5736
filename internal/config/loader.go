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
// built-in defaults, applies POLYSYNC_* environment variable overrides, and
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

// applyEnvOverrides reads well-known POLYSYNC_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Market.Ref, "POLYSYNC_MARKET_REF")

	setStr(&cfg.Gamma.Host, "POLYSYNC_GAMMA_HOST")

	setStr(&cfg.DataAPI.Host, "POLYSYNC_DATA_API_HOST")
	setFloat64(&cfg.DataAPI.RateLimit, "POLYSYNC_DATA_API_RATE_LIMIT")
	setInt(&cfg.DataAPI.MaxRetries, "POLYSYNC_DATA_API_MAX_RETRIES")
	setDuration(&cfg.DataAPI.RetryDelay, "POLYSYNC_DATA_API_RETRY_DELAY")

	setStr(&cfg.Subgraph.URL, "POLYSYNC_SUBGRAPH_URL")
	setStr(&cfg.Subgraph.APIKey, "POLYSYNC_SUBGRAPH_API_KEY")
	setFloat64(&cfg.Subgraph.RateLimit, "POLYSYNC_SUBGRAPH_RATE_LIMIT")
	setInt(&cfg.Subgraph.MaxRetries, "POLYSYNC_SUBGRAPH_MAX_RETRIES")
	setDuration(&cfg.Subgraph.RetryDelay, "POLYSYNC_SUBGRAPH_RETRY_DELAY")

	setStringSlice(&cfg.Chain.RPCEndpoints, "POLYSYNC_CHAIN_RPC_ENDPOINTS")
	setStr(&cfg.Chain.ContractAddress, "POLYSYNC_CHAIN_CONTRACT_ADDRESS")
	setStr(&cfg.Chain.EventSignature, "POLYSYNC_CHAIN_EVENT_SIGNATURE")
	setInt(&cfg.Chain.BatchSize, "POLYSYNC_CHAIN_BATCH_SIZE")
	setInt(&cfg.Chain.Workers, "POLYSYNC_CHAIN_WORKERS")
	setInt64(&cfg.Chain.FromBlock, "POLYSYNC_CHAIN_FROM_BLOCK")
	setFloat64(&cfg.Chain.RateLimit, "POLYSYNC_CHAIN_RATE_LIMIT")
	setInt(&cfg.Chain.MaxRetries, "POLYSYNC_CHAIN_MAX_RETRIES")
	setDuration(&cfg.Chain.RetryDelay, "POLYSYNC_CHAIN_RETRY_DELAY")

	setStr(&cfg.Postgres.DSN, "POLYSYNC_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYSYNC_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYSYNC_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYSYNC_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYSYNC_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYSYNC_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYSYNC_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYSYNC_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYSYNC_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYSYNC_POSTGRES_RUN_MIGRATIONS")

	setBool(&cfg.Redis.Enabled, "POLYSYNC_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "POLYSYNC_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYSYNC_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYSYNC_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYSYNC_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYSYNC_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYSYNC_REDIS_TLS_ENABLED")

	setBool(&cfg.Export.Enabled, "POLYSYNC_EXPORT_ENABLED")
	setStr(&cfg.Export.Endpoint, "POLYSYNC_EXPORT_ENDPOINT")
	setStr(&cfg.Export.Region, "POLYSYNC_EXPORT_REGION")
	setStr(&cfg.Export.Bucket, "POLYSYNC_EXPORT_BUCKET")
	setStr(&cfg.Export.AccessKey, "POLYSYNC_EXPORT_ACCESS_KEY")
	setStr(&cfg.Export.SecretKey, "POLYSYNC_EXPORT_SECRET_KEY")
	setBool(&cfg.Export.UseSSL, "POLYSYNC_EXPORT_USE_SSL")
	setBool(&cfg.Export.ForcePathStyle, "POLYSYNC_EXPORT_FORCE_PATH_STYLE")

	setStr(&cfg.Sync.Source, "POLYSYNC_SYNC_SOURCE")
	setInt(&cfg.Sync.BufferSize, "POLYSYNC_SYNC_BUFFER_SIZE")
	setInt(&cfg.Sync.PageLimit, "POLYSYNC_SYNC_PAGE_LIMIT")
	setInt(&cfg.Sync.OffsetCeiling, "POLYSYNC_SYNC_OFFSET_CEILING")
	setInt64(&cfg.Sync.MaxTrades, "POLYSYNC_SYNC_MAX_TRADES")
	setInt(&cfg.Sync.MaxIterations, "POLYSYNC_SYNC_MAX_ITERATIONS")
	setDuration(&cfg.Sync.Interval, "POLYSYNC_SYNC_INTERVAL")
	setDuration(&cfg.Sync.LockTTL, "POLYSYNC_SYNC_LOCK_TTL")

	setStr(&cfg.Mode, "POLYSYNC_MODE")
	setStr(&cfg.LogLevel, "POLYSYNC_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
