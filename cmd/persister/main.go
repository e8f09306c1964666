// persister drains the durable log into the futures and options tables.
// Usage: go run ./cmd/persister --config configs/persister.example.yaml
//
// Required environment variables (referenced from the example config):
//
//	DB_PASSWORD - PostgreSQL password
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rickgao/tickvault/internal/broker"
	"github.com/rickgao/tickvault/internal/catalog"
	"github.com/rickgao/tickvault/internal/config"
	"github.com/rickgao/tickvault/internal/consumer"
	"github.com/rickgao/tickvault/internal/database"
	"github.com/rickgao/tickvault/internal/logging"
	"github.com/rickgao/tickvault/internal/metrics"
	"github.com/rickgao/tickvault/internal/router"
	"github.com/rickgao/tickvault/internal/version"
	"github.com/rickgao/tickvault/internal/writer"
)

const applicationName = "tickvault-persister"

func main() {
	configPath := flag.String("config", "configs/persister.example.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath, config.RolePersister)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("starting persister", append(version.Fields(), zap.String("config", *configPath))...)

	if err := run(cfg, logger); err != nil {
		logger.Error("persister failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	logger.Info("persister stopped")
	logger.Sync()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", zap.Stringer("signal", sig))
		cancel()
	}()

	logger.Info("connecting to database",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Name),
	)
	pool, err := database.Connect(ctx, cfg.Database, applicationName)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.RequireTables(ctx, pool, cfg.Writer.FuturesTable, cfg.Writer.OptionsTable); err != nil {
		return err
	}
	logger.Info("database connected")

	rdb, err := broker.Dial(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	table := router.DefaultTable()
	if cfg.CatalogPath != "" {
		cat, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			return err
		}
		table = table.With(cat.ClassOverrides())
		logger.Info("classification overrides loaded", zap.Int("overrides", len(cat.ClassOverrides())))
	}
	rtr := router.New(table)

	store := writer.NewPGStore(pool)
	store.Prepare(cfg.Writer.FuturesTable, cfg.Writer.OptionsTable)

	wcfg := writer.DefaultConfig()
	wcfg.Workers = cfg.Writer.Workers
	wcfg.ChunkTimeout = cfg.Writer.ChunkTimeout
	wcfg.ChunkRetries = cfg.Writer.ChunkRetries
	bw := writer.New(wcfg, store, logger)

	name := cfg.Consumer.Name
	if name == "" {
		// A fresh name cannot replay its own backlog; entries left by the
		// previous run are claimed once they pass claim_min_idle.
		name = "persister-" + uuid.NewString()
	}
	streamLog := broker.NewStreamLog(rdb, cfg.Stream.Name, cfg.Consumer.Group, name)

	c := consumer.New(consumer.Config{
		FlushSize:     cfg.Consumer.FlushSize,
		FlushInterval: cfg.Consumer.FlushInterval,
		BatchCount:    cfg.Consumer.BatchCount,
		Block:         cfg.Consumer.Block,
		ClaimMinIdle:  cfg.Consumer.ClaimMinIdle,
		MaxReplay:     cfg.Consumer.MaxReplay,
		FuturesTable:  cfg.Writer.FuturesTable,
		OptionsTable:  cfg.Writer.OptionsTable,
	}, streamLog, rtr, bw, logger)

	if err := c.Start(ctx); err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: metrics.NewMux(cfg.Metrics.Path, map[string]metrics.HealthCheck{
			"postgres": pool.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}),
	}
	go func() {
		logger.Info("starting metrics server", zap.Int("port", cfg.Metrics.Port))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("persister running",
		zap.String("instance_id", cfg.Instance.ID),
		zap.String("group", cfg.Consumer.Group),
		zap.String("consumer", name),
	)

	// Stats logger
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := c.Stats()
				rs := rtr.Stats()
				logger.Info("stats",
					zap.Stringer("phase", s.Phase),
					zap.Uint64("replayed", s.Replayed),
					zap.Uint64("claimed", s.Claimed),
					zap.Uint64("tailed", s.Tailed),
					zap.Uint64("acked", s.Acked),
					zap.Uint64("write_failures", s.WriteFailures),
					zap.Int64("futures", rs.Futures),
					zap.Int64("options", rs.Options),
					zap.Int64("unroutable", rs.Unroutable),
				)
			}
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down...", zap.Duration("grace", cfg.Consumer.ShutdownGrace))
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Consumer.ShutdownGrace)
	defer shutdownCancel()

	stopErr := c.Stop(shutdownCtx)
	metricsServer.Shutdown(shutdownCtx)

	if stopErr != nil {
		return fmt.Errorf("stop consumer: %w", stopErr)
	}
	return nil
}
