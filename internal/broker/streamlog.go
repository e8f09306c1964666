package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is one durable log entry.
type Entry struct {
	ID     string
	Fields map[string]any
}

// StreamLog reads the durable log as one named consumer of a consumer group.
type StreamLog struct {
	client   redis.UniversalClient
	stream   string
	group    string
	consumer string
}

// NewStreamLog creates a reader for (group, consumer) on stream.
func NewStreamLog(client redis.UniversalClient, stream, group, consumer string) *StreamLog {
	return &StreamLog{
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
	}
}

// Consumer returns the consumer name.
func (l *StreamLog) Consumer() string { return l.consumer }

// EnsureGroup creates the group (and the stream) if missing. A new group
// starts at the beginning of the retained log.
func (l *StreamLog) EnsureGroup(ctx context.Context) error {
	err := l.client.XGroupCreateMkStream(ctx, l.stream, l.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", l.group, l.stream, err)
	}
	return nil
}

// ReadPending returns up to count entries already delivered to this consumer
// but not acknowledged, with IDs greater than after. Start with "0".
func (l *StreamLog) ReadPending(ctx context.Context, after string, count int64) ([]Entry, error) {
	return l.read(ctx, after, count, -1)
}

// ReadNew blocks up to block for entries never delivered to the group.
func (l *StreamLog) ReadNew(ctx context.Context, count int64, block time.Duration) ([]Entry, error) {
	if block < 0 {
		block = 0
	}
	return l.read(ctx, ">", count, block)
}

func (l *StreamLog) read(ctx context.Context, id string, count int64, block time.Duration) ([]Entry, error) {
	streams, err := l.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    l.group,
		Consumer: l.consumer,
		Streams:  []string{l.stream, id},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup %s %s: %w", l.stream, id, err)
	}

	var entries []Entry
	for _, s := range streams {
		for _, msg := range s.Messages {
			entries = append(entries, Entry{ID: msg.ID, Fields: msg.Values})
		}
	}
	return entries, nil
}

// Claim transfers up to count entries idle for at least minIdle, whoever
// holds them, to this consumer. It returns the claimed entries and the cursor
// for the next call; a "0-0" cursor means the scan is complete.
func (l *StreamLog) Claim(ctx context.Context, start string, minIdle time.Duration, count int64) ([]Entry, string, error) {
	msgs, next, err := l.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   l.stream,
		Group:    l.group,
		Consumer: l.consumer,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if err != nil {
		return nil, "", fmt.Errorf("xautoclaim %s: %w", l.stream, err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, Entry{ID: msg.ID, Fields: msg.Values})
	}
	return entries, next, nil
}

// Ack acknowledges ids for the group.
func (l *StreamLog) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := l.client.XAck(ctx, l.stream, l.group, ids...).Err(); err != nil {
		return fmt.Errorf("xack %d entries: %w", len(ids), err)
	}
	return nil
}

// Pending returns the number of entries delivered to the group and not yet
// acknowledged, across all consumers.
func (l *StreamLog) Pending(ctx context.Context) (int64, error) {
	res, err := l.client.XPending(ctx, l.stream, l.group).Result()
	if err != nil {
		return 0, fmt.Errorf("xpending %s: %w", l.stream, err)
	}
	return res.Count, nil
}
