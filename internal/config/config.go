// Package config defines the top-level configuration for the sync engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by POLYSYNC_* environment
// variables.
type Config struct {
	Market   MarketConfig   `toml:"market"`
	Gamma    GammaConfig    `toml:"gamma"`
	DataAPI  DataAPIConfig  `toml:"data_api"`
	Subgraph SubgraphConfig `toml:"subgraph"`
	Chain    ChainConfig    `toml:"chain"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Export   ExportConfig   `toml:"export"`
	Sync     SyncConfig     `toml:"sync"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// MarketConfig identifies the market being synchronized. Ref accepts a
// condition ID, a numeric market ID, or a slug.
type MarketConfig struct {
	Ref string `toml:"ref"`
}

// GammaConfig holds the Gamma metadata API endpoint.
type GammaConfig struct {
	Host string `toml:"host"`
}

// DataAPIConfig holds the Data API trade endpoint and its rate budget.
type DataAPIConfig struct {
	Host       string   `toml:"host"`
	RateLimit  float64  `toml:"rate_limit"`
	MaxRetries int      `toml:"max_retries"`
	RetryDelay duration `toml:"retry_delay"`
}

// SubgraphConfig holds GraphQL indexer parameters.
type SubgraphConfig struct {
	URL        string   `toml:"url"`
	APIKey     string   `toml:"api_key"`
	RateLimit  float64  `toml:"rate_limit"`
	MaxRetries int      `toml:"max_retries"`
	RetryDelay duration `toml:"retry_delay"`
}

// ChainConfig holds Polygon RPC parameters and the on-chain event to scan.
type ChainConfig struct {
	RPCEndpoints    []string `toml:"rpc_endpoints"`
	ContractAddress string   `toml:"contract_address"`
	EventSignature  string   `toml:"event_signature"`
	BatchSize       int      `toml:"batch_size"`
	Workers         int      `toml:"workers"`
	FromBlock       int64    `toml:"from_block"`
	RateLimit       float64  `toml:"rate_limit"`
	MaxRetries      int      `toml:"max_retries"`
	RetryDelay      duration `toml:"retry_delay"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters for the run lock.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// ExportConfig holds S3-compatible object storage parameters for post-run
// CSV snapshots.
type ExportConfig struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SyncConfig holds the run parameters of the engine itself.
type SyncConfig struct {
	Source        string   `toml:"source"`
	BufferSize    int      `toml:"buffer_size"`
	PageLimit     int      `toml:"page_limit"`
	OffsetCeiling int      `toml:"offset_ceiling"`
	MaxTrades     int64    `toml:"max_trades"`
	MaxIterations int      `toml:"max_iterations"`
	Interval      duration `toml:"interval"`
	LockTTL       duration `toml:"lock_ttl"`
}

// duration wraps time.Duration so the TOML decoder accepts strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Gamma: GammaConfig{
			Host: "https://gamma-api.polymarket.com",
		},
		DataAPI: DataAPIConfig{
			Host:       "https://data-api.polymarket.com",
			RateLimit:  5,
			MaxRetries: 3,
			RetryDelay: duration{time.Second},
		},
		Subgraph: SubgraphConfig{
			RateLimit:  2,
			MaxRetries: 3,
			RetryDelay: duration{time.Second},
		},
		Chain: ChainConfig{
			RPCEndpoints: []string{"https://polygon-rpc.com"},
			// Polymarket CTF Exchange on Polygon mainnet.
			ContractAddress: "0x4bFb41d5B3570DeFd03C39a9A4D8dE6Bd8B8982E",
			EventSignature:  "OrderFilled(address,bytes32,int256,int256,address,uint256)",
			BatchSize:       2000,
			Workers:         5,
			RateLimit:       10,
			MaxRetries:      3,
			RetryDelay:      duration{time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
		},
		Export: ExportConfig{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polysync-snapshots",
			ForcePathStyle: true,
		},
		Sync: SyncConfig{
			Source:        "rest",
			BufferSize:    2000,
			PageLimit:     500,
			OffsetCeiling: 5000,
			Interval:      duration{5 * time.Minute},
			LockTTL:       duration{30 * time.Minute},
		},
		Mode:     "sync",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"sync":  true,
	"watch": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validSources enumerates the accepted values for SyncConfig.Source.
var validSources = map[string]bool{
	"rest":    true,
	"indexer": true,
	"chain":   true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: sync, watch)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.TrimSpace(c.Market.Ref) == "" {
		errs = append(errs, "market: ref must not be empty")
	}

	if c.Gamma.Host == "" {
		errs = append(errs, "gamma: host must not be empty")
	}

	source := strings.ToLower(c.Sync.Source)
	if !validSources[source] {
		errs = append(errs, fmt.Sprintf("sync: unknown source %q (valid: rest, indexer, chain)", c.Sync.Source))
	}
	switch source {
	case "rest":
		if c.DataAPI.Host == "" {
			errs = append(errs, "data_api: host must not be empty for source rest")
		}
	case "indexer":
		if c.Subgraph.URL == "" {
			errs = append(errs, "subgraph: url must not be empty for source indexer")
		}
	case "chain":
		if len(c.Chain.RPCEndpoints) == 0 {
			errs = append(errs, "chain: rpc_endpoints must not be empty for source chain")
		}
		if c.Chain.ContractAddress == "" {
			errs = append(errs, "chain: contract_address must not be empty for source chain")
		}
	}

	if c.Chain.BatchSize < 1 {
		errs = append(errs, "chain: batch_size must be >= 1")
	}
	if c.Chain.Workers < 1 {
		errs = append(errs, "chain: workers must be >= 1")
	}
	if c.Chain.FromBlock < 0 {
		errs = append(errs, "chain: from_block must not be negative")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Sync.LockTTL.Duration <= 0 {
			errs = append(errs, "sync: lock_ttl must be > 0 when redis is enabled")
		}
	}

	if c.Export.Enabled {
		if c.Export.Bucket == "" {
			errs = append(errs, "export: bucket must not be empty when enabled")
		}
		if c.Export.Region == "" {
			errs = append(errs, "export: region must not be empty when enabled")
		}
	}

	if c.Sync.BufferSize < 1 {
		errs = append(errs, "sync: buffer_size must be >= 1")
	}
	if c.Sync.PageLimit < 1 {
		errs = append(errs, "sync: page_limit must be >= 1")
	}
	if c.Sync.OffsetCeiling < c.Sync.PageLimit {
		errs = append(errs, "sync: offset_ceiling must be >= page_limit")
	}
	if c.Sync.MaxTrades < 0 {
		errs = append(errs, "sync: max_trades must not be negative")
	}
	if c.Sync.MaxIterations < 0 {
		errs = append(errs, "sync: max_iterations must not be negative")
	}
	if strings.ToLower(c.Mode) == "watch" && c.Sync.Interval.Duration <= 0 {
		errs = append(errs, "sync: interval must be > 0 for watch mode")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
