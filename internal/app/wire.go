package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/dmelnik/polysync/internal/blob/s3"
	"github.com/dmelnik/polysync/internal/cache/redis"
	"github.com/dmelnik/polysync/internal/config"
	"github.com/dmelnik/polysync/internal/domain"
	"github.com/dmelnik/polysync/internal/pipeline"
	"github.com/dmelnik/polysync/internal/platform/polygon"
	"github.com/dmelnik/polysync/internal/platform/polymarket"
	"github.com/dmelnik/polysync/internal/platform/subgraph"
	"github.com/dmelnik/polysync/internal/ratelimit"
	"github.com/dmelnik/polysync/internal/store/postgres"
	"github.com/dmelnik/polysync/internal/transport"
)

// Dependencies bundles everything the application modes need to run. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// MarketID is the resolved condition ID of the configured market.
	MarketID string

	TradeStore   *postgres.TradeStore
	Orchestrator *pipeline.SyncOrchestrator

	// LockManager is nil when redis is disabled.
	LockManager domain.LockManager

	// Exporter is nil when export is disabled.
	Exporter *pipeline.SnapshotExporter
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.TradeStore = postgres.NewTradeStore(pgClient.Pool())

	// --- Market resolution ---
	gamma := polymarket.NewGammaClient(cfg.Gamma.Host)
	marketID, err := gamma.ResolveConditionID(ctx, cfg.Market.Ref)
	if err != nil {
		// A raw condition ID works without Gamma; anything else is fatal.
		if !strings.HasPrefix(strings.ToLower(cfg.Market.Ref), "0x") {
			cleanup()
			return nil, nil, fmt.Errorf("wire: resolve market %q: %w", cfg.Market.Ref, err)
		}
		logger.Warn("market metadata lookup failed, using ref as condition id",
			slog.String("ref", cfg.Market.Ref),
			slog.String("error", err.Error()),
		)
	}
	deps.MarketID = strings.ToLower(marketID)

	// --- Source clients ---
	source, err := pipeline.ParseSource(cfg.Sync.Source)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}

	var (
		restFetcher    pipeline.PageFetcher
		indexerFetcher pipeline.PageFetcher
		scanner        *pipeline.BlockRangeScanner
	)

	switch source {
	case pipeline.SourceREST:
		restFetcher = polymarket.NewDataClient(cfg.DataAPI.Host, transport.Policy{
			MaxAttempts: cfg.DataAPI.MaxRetries,
			BaseDelay:   cfg.DataAPI.RetryDelay.Duration,
			Classify:    transport.DefaultClassify,
			Limiter:     ratelimit.New(cfg.DataAPI.RateLimit),
			Logger:      logger,
		})
	case pipeline.SourceIndexer:
		indexerFetcher = subgraph.NewClient(cfg.Subgraph.URL, cfg.Subgraph.APIKey, transport.Policy{
			MaxAttempts: cfg.Subgraph.MaxRetries,
			BaseDelay:   cfg.Subgraph.RetryDelay.Duration,
			Classify:    transport.DefaultClassify,
			Limiter:     ratelimit.New(cfg.Subgraph.RateLimit),
			Logger:      logger,
		})
	case pipeline.SourceChain:
		chainClient, err := polygon.NewClient(polygon.ClientConfig{
			Endpoints:  cfg.Chain.RPCEndpoints,
			RateLimit:  cfg.Chain.RateLimit,
			MaxRetries: cfg.Chain.MaxRetries,
			RetryDelay: cfg.Chain.RetryDelay.Duration,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: polygon: %w", err)
		}
		closers = append(closers, chainClient.Close)

		scanner = pipeline.NewBlockRangeScanner(
			chainClient,
			polygon.OrderFilledDecoder{},
			pipeline.ScannerConfig{
				Contract:       cfg.Chain.ContractAddress,
				EventSignature: cfg.Chain.EventSignature,
				BatchSize:      uint64(cfg.Chain.BatchSize),
				Workers:        cfg.Chain.Workers,
			},
			logger,
		)
	}

	// --- Run lock ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- Snapshot export ---
	if cfg.Export.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Export.Endpoint,
			Region:         cfg.Export.Region,
			Bucket:         cfg.Export.Bucket,
			AccessKey:      cfg.Export.AccessKey,
			SecretKey:      cfg.Export.SecretKey,
			UseSSL:         cfg.Export.UseSSL,
			ForcePathStyle: cfg.Export.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Exporter = pipeline.NewSnapshotExporter(deps.TradeStore, s3blob.NewWriter(s3Client), logger)
	}

	deps.Orchestrator = pipeline.NewSyncOrchestrator(pipeline.OrchestratorConfig{
		Store:          deps.TradeStore,
		StartResolver:  gamma,
		RESTFetcher:    restFetcher,
		IndexerFetcher: indexerFetcher,
		Scanner:        scanner,
		PageLimit:      cfg.Sync.PageLimit,
		OffsetCeiling:  cfg.Sync.OffsetCeiling,
		BufferSize:     cfg.Sync.BufferSize,
	}, logger)

	return deps, cleanup, nil
}
