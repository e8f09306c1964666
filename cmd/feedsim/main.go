// feedsim serves a simulated market feed for local runs of the feeder.
// Usage: go run ./cmd/feedsim --addr :8765 --interval 200ms
//
// Point feed.url at ws://localhost:8765 and any client_id/access_token.
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

	"github.com/rickgao/tickvault/internal/logging"
)

func main() {
	addr := flag.String("addr", ":8765", "listen address")
	interval := flag.Duration("interval", 200*time.Millisecond, "tick interval per connection")
	level := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger, err := logging.New(logging.Config{Level: *level, Development: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	sim := newSimulator(*interval, logger)
	server := &http.Server{Addr: *addr, Handler: sim}

	go func() {
		logger.Info("feed simulator listening", zap.String("addr", *addr), zap.Duration("interval", *interval))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	sim.Close()
	server.Shutdown(shutdownCtx)
	logger.Info("feed simulator stopped")
}
