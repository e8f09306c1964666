package broker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/rickgao/tickvault/internal/metrics"
)

// Outgoing is one live payload. Key groups payloads that must stay ordered
// (the instrument), Topic is the logical channel.
type Outgoing struct {
	Topic   string
	Key     string
	Payload []byte
}

// Publisher delivers live payloads to one transport.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, msg Outgoing) error
	Close() error
}

// RedisPublisher publishes on Redis pub/sub channels named by Outgoing.Topic.
type RedisPublisher struct {
	client redis.UniversalClient
}

// NewRedisPublisher wraps a client owned by the caller.
func NewRedisPublisher(client redis.UniversalClient) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Name() string { return "redis" }

// Publish sends the payload with PUBLISH.
func (p *RedisPublisher) Publish(ctx context.Context, msg Outgoing) error {
	return p.client.Publish(ctx, msg.Topic, msg.Payload).Err()
}

// Close is a no-op; the client belongs to the caller.
func (p *RedisPublisher) Close() error { return nil }

// messageWriter is the subset of *kafka.Writer used here.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures the Kafka mirror.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	BatchTimeout time.Duration
}

// KafkaPublisher mirrors live payloads to one Kafka topic, keyed by
// instrument so each instrument stays on one partition.
type KafkaPublisher struct {
	topic  string
	writer messageWriter
	failed atomic.Uint64
}

// NewKafkaPublisher creates an asynchronous writer with a hash balancer.
// Publish returns once a message is queued; delivery failures are counted
// in Failed and the publish error metric.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: no topic")
	}

	p := &KafkaPublisher{topic: cfg.Topic}
	p.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  1,
		Async:        true,
		Completion:   p.completed,
	}
	return p, nil
}

func newKafkaPublisher(topic string, w messageWriter) *KafkaPublisher {
	return &KafkaPublisher{topic: topic, writer: w}
}

// completed runs on the writer's goroutines after each batch.
func (p *KafkaPublisher) completed(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	p.failed.Add(uint64(len(msgs)))
	metrics.BrokerPublishErrors.WithLabelValues(p.Name()).Add(float64(len(msgs)))
}

// Failed returns the number of queued messages Kafka did not accept.
func (p *KafkaPublisher) Failed() uint64 {
	return p.failed.Load()
}

func (p *KafkaPublisher) Name() string { return "kafka" }

// Publish writes one message. The logical channel travels as a header.
func (p *KafkaPublisher) Publish(ctx context.Context, msg Outgoing) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Key),
		Value: msg.Payload,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "channel", Value: []byte(msg.Topic)},
		},
	})
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
