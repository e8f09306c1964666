package broker

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rickgao/tickvault/internal/logging"
)

// Delivery is one payload received from a live channel.
type Delivery struct {
	Channel string
	Payload []byte
}

// IsStatus reports whether the delivery came from a status channel.
func (d Delivery) IsStatus(topic string) bool {
	return d.Channel == StatusChannel(topic)
}

// Subscriber reads live events for ad-hoc viewers. Missed messages are not
// redelivered.
type Subscriber struct {
	client redis.UniversalClient
	logger *zap.Logger
}

// NewSubscriber wraps a client owned by the caller.
func NewSubscriber(client redis.UniversalClient, logger *zap.Logger) *Subscriber {
	return &Subscriber{client: client, logger: logging.OrNop(logger).Named("subscriber")}
}

// Live subscribes to topic and its status channel. The returned channel is
// closed when ctx is cancelled.
func (s *Subscriber) Live(ctx context.Context, topic string) (<-chan Delivery, error) {
	ps := s.client.Subscribe(ctx, topic, StatusChannel(topic))

	// Wait for the subscription confirmation so no early publish is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	out := make(chan Delivery, 256)
	go func() {
		defer close(out)
		defer ps.Close()

		ch := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- Delivery{Channel: msg.Channel, Payload: []byte(msg.Payload)}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	s.logger.Info("subscribed", zap.String("topic", topic))
	return out, nil
}
