// Command polysync synchronizes the trade history of one Polymarket market
// into PostgreSQL. It loads configuration, validates it, wires dependencies,
// sets up signal handling, and runs the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dmelnik/polysync/internal/app"
	"github.com/dmelnik/polysync/internal/config"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	market := flag.String("market", "", "market to sync: condition id, numeric id, or slug (overrides config)")
	source := flag.String("source", "", "trade source: rest, indexer, or chain (overrides config)")
	mode := flag.String("mode", "", "operating mode: sync or watch (overrides config)")
	maxTrades := flag.Int64("max-trades", 0, "stop after storing this many new trades (0 = unlimited)")
	fromBlock := flag.Int64("from-block", 0, "first block for chain scans (overrides config)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Flags beat config and environment.
	if *market != "" {
		cfg.Market.Ref = *market
	}
	if *source != "" {
		cfg.Sync.Source = *source
	}
	if *mode != "" {
		cfg.Mode = *mode
	}
	if *maxTrades > 0 {
		cfg.Sync.MaxTrades = *maxTrades
	}
	if *fromBlock > 0 {
		cfg.Chain.FromBlock = *fromBlock
	}

	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("polysync starting",
		slog.String("mode", cfg.Mode),
		slog.String("market", cfg.Market.Ref),
		slog.String("source", cfg.Sync.Source),
		slog.String("config", *configPath),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error",
				slog.String("error", err.Error()),
			)
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("polysync stopped")
}
