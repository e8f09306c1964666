package broker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rickgao/tickvault/internal/logging"
	"github.com/rickgao/tickvault/internal/metrics"
	"github.com/rickgao/tickvault/internal/model"
)

// Config holds broker settings.
type Config struct {
	Stream         string // durable log key
	Topic          string // live channel
	MaxLen         int64
	PublishTimeout time.Duration
	AppendRetries  int
	AppendBackoff  time.Duration
}

// Stats contains runtime statistics.
type Stats struct {
	Published     uint64
	PublishErrors uint64
	Appended      uint64
	AppendRetries uint64
	AppendErrors  uint64
}

// Broker publishes live events and appends quotes to the durable log. It is
// safe for concurrent use by several feed connections.
type Broker struct {
	cfg        Config
	client     redis.UniversalClient
	publishers []Publisher
	logger     *zap.Logger

	published     atomic.Uint64
	publishErrors atomic.Uint64
	appended      atomic.Uint64
	appendRetries atomic.Uint64
	appendErrors  atomic.Uint64
}

// New creates a Broker. client backs the durable log; publishers receive live
// events.
func New(cfg Config, client redis.UniversalClient, publishers []Publisher, logger *zap.Logger) *Broker {
	if cfg.AppendRetries < 0 {
		cfg.AppendRetries = 0
	}
	return &Broker{
		cfg:        cfg,
		client:     client,
		publishers: publishers,
		logger:     logging.OrNop(logger).Named("broker"),
	}
}

// Publish sends ev to every publisher within PublishTimeout. Failures are
// counted and returned joined, but never retried.
func (b *Broker) Publish(ctx context.Context, ev model.Event) error {
	payload, err := EncodeEvent(ev)
	if err != nil {
		b.publishErrors.Add(1)
		return err
	}
	return b.publish(ctx, Outgoing{
		Topic:   b.cfg.Topic,
		Key:     ev.InstrumentKey().String(),
		Payload: payload,
	})
}

// PublishStatus sends s on the status channel.
func (b *Broker) PublishStatus(ctx context.Context, s Status) error {
	payload, err := s.Encode()
	if err != nil {
		return err
	}
	return b.publish(ctx, Outgoing{
		Topic:   StatusChannel(b.cfg.Topic),
		Key:     s.Source,
		Payload: payload,
	})
}

func (b *Broker) publish(ctx context.Context, msg Outgoing) error {
	if b.cfg.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.PublishTimeout)
		defer cancel()
	}

	var errs []error
	for _, p := range b.publishers {
		if err := p.Publish(ctx, msg); err != nil {
			b.publishErrors.Add(1)
			metrics.BrokerPublishErrors.WithLabelValues(p.Name()).Inc()
			b.logger.Debug("publish failed",
				zap.String("publisher", p.Name()),
				zap.String("topic", msg.Topic),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
			continue
		}
		b.published.Add(1)
		metrics.BrokerPublished.WithLabelValues(p.Name()).Inc()
	}
	return errors.Join(errs...)
}

// Append adds the quote carried by ev to the durable log and returns the
// entry ID. Events without a quote return ErrNotAppendable. Failed attempts
// are retried AppendRetries times, AppendBackoff apart.
func (b *Broker) Append(ctx context.Context, ev model.Event) (string, error) {
	q, ok := model.QuoteOf(ev)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotAppendable, ev.Kind())
	}

	args := &redis.XAddArgs{
		Stream: b.cfg.Stream,
		MaxLen: b.cfg.MaxLen,
		Approx: b.cfg.MaxLen > 0,
		Values: model.QuoteFields(q),
	}

	var lastErr error
	for attempt := 0; attempt <= b.cfg.AppendRetries; attempt++ {
		if attempt > 0 {
			b.appendRetries.Add(1)
			metrics.BrokerAppendRetries.Inc()
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(b.cfg.AppendBackoff):
			}
		}

		id, err := b.client.XAdd(ctx, args).Result()
		if err == nil {
			b.appended.Add(1)
			metrics.BrokerAppended.Inc()
			return id, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		b.logger.Warn("append failed",
			zap.String("stream", b.cfg.Stream),
			zap.Stringer("instrument", q.Key),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	b.appendErrors.Add(1)
	metrics.BrokerAppendErrors.Inc()
	return "", fmt.Errorf("append to %s after %d attempts: %w", b.cfg.Stream, b.cfg.AppendRetries+1, lastErr)
}

// Stats returns current statistics.
func (b *Broker) Stats() Stats {
	return Stats{
		Published:     b.published.Load(),
		PublishErrors: b.publishErrors.Load(),
		Appended:      b.appended.Load(),
		AppendRetries: b.appendRetries.Load(),
		AppendErrors:  b.appendErrors.Load(),
	}
}

// Close closes the publishers. The Redis client belongs to the caller.
func (b *Broker) Close() error {
	var errs []error
	for _, p := range b.publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
