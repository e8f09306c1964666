// feeder subscribes to the market feed and fans events out through the broker.
// Usage: go run ./cmd/feeder --config configs/feeder.example.yaml
//
// Required environment variables (referenced from the example config):
//
//	FEED_CLIENT_ID     - feed account client ID
//	FEED_ACCESS_TOKEN  - feed access token
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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tickvault/internal/broker"
	"github.com/rickgao/tickvault/internal/catalog"
	"github.com/rickgao/tickvault/internal/config"
	"github.com/rickgao/tickvault/internal/feed"
	"github.com/rickgao/tickvault/internal/logging"
	"github.com/rickgao/tickvault/internal/metrics"
	"github.com/rickgao/tickvault/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "configs/feeder.example.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAndValidate(*configPath, config.RoleFeeder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	logger.Info("starting feeder", append(version.Fields(), zap.String("config", *configPath))...)

	if err := run(cfg, logger); err != nil {
		logger.Error("feeder failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}

	logger.Info("feeder stopped")
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

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		return err
	}
	plans, err := cat.Assign(cfg.Feed.Connections, cfg.Feed.InstrumentsPerConnection)
	if err != nil {
		return fmt.Errorf("assign catalog: %w", err)
	}
	logger.Info("catalog loaded",
		zap.String("path", cfg.CatalogPath),
		zap.Int("instruments", cat.Size()),
		zap.Int("connections", len(plans)),
	)

	rdb, err := broker.Dial(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	publishers := []broker.Publisher{broker.NewRedisPublisher(rdb)}
	if cfg.Kafka.Enabled {
		kp, err := broker.NewKafkaPublisher(broker.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		})
		if err != nil {
			return err
		}
		publishers = append(publishers, kp)
		logger.Info("kafka mirror enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	b := broker.New(broker.Config{
		Stream:         cfg.Stream.Name,
		Topic:          cfg.Stream.Topic,
		MaxLen:         cfg.Stream.MaxLen,
		PublishTimeout: cfg.Stream.PublishTimeout,
		AppendRetries:  cfg.Stream.AppendRetries,
		AppendBackoff:  cfg.Stream.AppendBackoff,
	}, rdb, publishers, logger)
	defer b.Close()

	url, err := feed.BuildURL(cfg.Feed.URL, cfg.Feed.ClientID, cfg.Feed.AccessToken)
	if err != nil {
		return fmt.Errorf("feed.url: %w", err)
	}

	conns := make([]*feed.Connection, 0, len(plans))
	for _, plan := range plans {
		fc := feed.DefaultConfig()
		fc.ID = plan.Index
		fc.Source = cfg.Instance.ID
		fc.Client.URL = url
		fc.Client.PingInterval = cfg.Feed.PingInterval
		fc.Client.PingTimeout = cfg.Feed.ReadTimeout
		fc.Client.BufferSize = cfg.Feed.BufferSize
		fc.ReconnectDelay = cfg.Feed.ReconnectDelay
		fc.BatchDelay = cfg.Feed.BatchDelay
		fc.StatusInterval = cfg.Feed.StatusInterval

		conn := feed.New(fc, b, logger)
		for _, g := range plan.Groups {
			// Not running yet: this only records the set sent on connect.
			if err := conn.Subscribe(ctx, g.Keys, g.Mode); err != nil {
				return err
			}
		}
		conns = append(conns, conn)
	}

	checks := map[string]metrics.HealthCheck{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}
	for i, conn := range conns {
		checks[fmt.Sprintf("feed-%d", plans[i].Index)] = connectionCheck(conn)
	}

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: metrics.NewMux(cfg.Metrics.Path, checks),
	}
	go func() {
		logger.Info("starting metrics server", zap.Int("port", cfg.Metrics.Port))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	// Connections run on their own context so Stop can say goodbye to the
	// server before the socket is torn down.
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)
	for _, conn := range conns {
		g.Go(func() error { return conn.Run(gctx) })
	}

	logger.Info("feeder running", zap.String("instance_id", cfg.Instance.ID), zap.Int("connections", len(conns)))

	select {
	case <-ctx.Done():
	case <-gctx.Done():
		logger.Error("a feed connection stopped, shutting down")
	}

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	for _, conn := range conns {
		conn.Stop(shutdownCtx)
	}
	cancelRun()
	runErr := g.Wait()

	metricsServer.Shutdown(shutdownCtx)

	s := b.Stats()
	logger.Info("broker totals",
		zap.Uint64("published", s.Published),
		zap.Uint64("publish_errors", s.PublishErrors),
		zap.Uint64("appended", s.Appended),
		zap.Uint64("append_errors", s.AppendErrors),
	)
	return runErr
}

// connectionCheck is healthy while the connection holds a live session.
func connectionCheck(conn *feed.Connection) metrics.HealthCheck {
	return func(context.Context) error {
		switch s := conn.State(); s {
		case feed.StateConnected, feed.StateSubscribing, feed.StateStreaming:
			return nil
		default:
			return fmt.Errorf("state %s", s)
		}
	}
}
