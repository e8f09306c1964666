// streamtest subscribes to the live topic and prints events to the console.
// Usage: go run ./cmd/streamtest --config configs/feeder.example.yaml
//
// Live delivery is fire-and-forget: events published while streamtest is not
// connected are not shown.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rickgao/tickvault/internal/broker"
	"github.com/rickgao/tickvault/internal/config"
	"github.com/rickgao/tickvault/internal/logging"
	"github.com/rickgao/tickvault/internal/model"
)

func main() {
	configPath := flag.String("config", "configs/feeder.example.yaml", "path to config file")
	verbose := flag.Bool("verbose", false, "print full event JSON")
	filter := flag.String("instrument", "", "only show one instrument, e.g. NSE_FNO:35001")
	flag.Parse()

	logger, _ := logging.New(logging.Config{Level: "debug", Development: true})

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		logger.Error("failed to load config", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	rdb, err := broker.Dial(ctx, cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to redis", zap.Error(err))
		os.Exit(1)
	}
	defer rdb.Close()

	deliveries, err := broker.NewSubscriber(rdb, logger).Live(ctx, cfg.Stream.Topic)
	if err != nil {
		logger.Error("failed to subscribe", zap.Error(err))
		os.Exit(1)
	}

	var (
		counts    = make(map[model.Kind]int)
		badFrames int
	)

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	logger.Info("streaming started - press Ctrl+C to stop", zap.String("topic", cfg.Stream.Topic))

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown complete")
			return

		case <-ticker.C:
			logger.Info("stats",
				zap.Int("quotes", counts[model.KindQuote]),
				zap.Int("depth", counts[model.KindDepth]),
				zap.Int("ticker", counts[model.KindTicker]),
				zap.Int("open_interest", counts[model.KindOpenInterest]),
				zap.Int("prev_close", counts[model.KindPrevClose]),
				zap.Int("undecodable", badFrames),
			)

		case d, ok := <-deliveries:
			if !ok {
				return
			}

			if d.IsStatus(cfg.Stream.Topic) {
				printStatus(d.Payload)
				continue
			}

			ev, err := broker.DecodeMessage(d.Payload)
			if err != nil {
				badFrames++
				logger.Debug("undecodable message", zap.Error(err))
				continue
			}
			counts[ev.Kind()]++

			if *filter != "" && ev.InstrumentKey().String() != *filter {
				continue
			}
			printEvent(ev, *verbose)
		}
	}
}

func printStatus(payload []byte) {
	s, err := broker.DecodeStatus(payload)
	if err != nil {
		fmt.Printf("[STATUS] undecodable: %v\n", err)
		return
	}
	fmt.Printf("[STATUS] source=%s conn=%d state=%s subscribed=%d frames=%d decode_errors=%d reconnects=%d\n",
		s.Source, s.Connection, s.State, s.Subscribed, s.Frames, s.DecodeErrors, s.Reconnects)
}

func printEvent(ev model.Event, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(ev, "", "  ")
		fmt.Printf("[%s] %s\n", ev.Kind(), data)
		return
	}

	switch e := ev.(type) {
	case model.QuoteEvent:
		fmt.Printf("[QUOTE] %s ltp=%g ltq=%d ltt=%d vol=%d oi=%s\n",
			e.Key, e.LTP, e.LTQ, e.LTT, e.Volume, optional(e.OpenInterest))
	case model.DepthEvent:
		fmt.Printf("[DEPTH] %s ltp=%g bid=%g ask=%g oi=%s\n",
			e.Key, e.LTP, e.Depth[0].BidPrice, e.Depth[0].AskPrice, optional(e.OpenInterest))
	case model.TickerEvent:
		fmt.Printf("[TICKER] %s ltp=%g ltt=%d\n", e.Key, e.LTP, e.LTT)
	case model.OpenInterestUpdate:
		fmt.Printf("[OI] %s oi=%d\n", e.Key, e.OpenInterest)
	case model.PrevCloseUpdate:
		fmt.Printf("[PREV CLOSE] %s close=%g oi=%d\n", e.Key, e.PrevClose, e.PrevOI)
	default:
		fmt.Printf("[%s] %s\n", ev.Kind(), ev.InstrumentKey())
	}
}

func optional(v *int32) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}
