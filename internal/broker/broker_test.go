package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/tickvault/internal/model"
)

var key = model.InstrumentKey{Segment: model.SegmentNSEFNO, SecurityID: 35001}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func testConfig() Config {
	return Config{
		Stream:         "ticks:quotes",
		Topic:          "ticks",
		MaxLen:         1000,
		PublishTimeout: time.Second,
		AppendRetries:  2,
		AppendBackoff:  time.Millisecond,
	}
}

func sampleQuote(ltt uint32) model.QuoteEvent {
	oi := int32(1500)
	return model.QuoteEvent{
		Key:          key,
		LTP:          101.25,
		LTQ:          50,
		LTT:          ltt,
		Volume:       1000,
		DayHigh:      102,
		DayLow:       99.5,
		OpenInterest: &oi,
		ReceivedAt:   time.UnixMicro(1705320000123456).UTC(),
	}
}

type fakePublisher struct {
	name string
	err  error
	got  []Outgoing
}

func (p *fakePublisher) Name() string { return p.name }

func (p *fakePublisher) Publish(_ context.Context, msg Outgoing) error {
	if p.err != nil {
		return p.err
	}
	p.got = append(p.got, msg)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func TestBroker_AppendWritesQuoteFields(t *testing.T) {
	_, client := setupRedis(t)
	b := New(testConfig(), client, nil, nil)
	ctx := context.Background()

	q := sampleQuote(1705320000)
	id, err := b.Append(ctx, q)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs, err := client.XRange(ctx, "ticks:quotes", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)

	got, err := model.ParseQuoteFields(msgs[0].Values)
	require.NoError(t, err)
	assert.Equal(t, q.Key, got.Key)
	assert.Equal(t, q.LTT, got.LTT)
	assert.Equal(t, q.LTP, got.LTP)
	require.NotNil(t, got.OpenInterest)
	assert.Equal(t, int32(1500), *got.OpenInterest)
	assert.Nil(t, got.PrevClose)
	assert.True(t, q.ReceivedAt.Equal(got.ReceivedAt))
}

func TestBroker_AppendDepthEvent(t *testing.T) {
	_, client := setupRedis(t)
	b := New(testConfig(), client, nil, nil)

	ev := model.DepthEvent{QuoteEvent: sampleQuote(7)}
	_, err := b.Append(context.Background(), ev)
	require.NoError(t, err)

	n, err := client.XLen(context.Background(), "ticks:quotes").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBroker_AppendRejectsNonQuote(t *testing.T) {
	_, client := setupRedis(t)
	b := New(testConfig(), client, nil, nil)

	_, err := b.Append(context.Background(), model.OpenInterestUpdate{Key: key, OpenInterest: 3})
	assert.ErrorIs(t, err, ErrNotAppendable)
}

func TestBroker_AppendRetriesThenFails(t *testing.T) {
	mr, client := setupRedis(t)
	b := New(testConfig(), client, nil, nil)
	mr.Close()

	_, err := b.Append(context.Background(), sampleQuote(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")

	stats := b.Stats()
	assert.Equal(t, uint64(2), stats.AppendRetries)
	assert.Equal(t, uint64(1), stats.AppendErrors)
	assert.Zero(t, stats.Appended)
}

func TestBroker_AppendHonoursMaxLen(t *testing.T) {
	_, client := setupRedis(t)
	cfg := testConfig()
	cfg.MaxLen = 5
	b := New(cfg, client, nil, nil)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := b.Append(ctx, sampleQuote(uint32(i)))
		require.NoError(t, err)
	}

	n, err := client.XLen(ctx, "ticks:quotes").Result()
	require.NoError(t, err)
	assert.LessOrEqual(t, n, int64(20))
	assert.GreaterOrEqual(t, n, int64(5))
}

func TestBroker_PublishFansOut(t *testing.T) {
	_, client := setupRedis(t)
	ok := &fakePublisher{name: "ok"}
	bad := &fakePublisher{name: "bad", err: errors.New("down")}
	b := New(testConfig(), client, []Publisher{ok, bad}, nil)

	err := b.Publish(context.Background(), model.TickerEvent{Key: key, LTP: 5, LTT: 9})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: down")

	require.Len(t, ok.got, 1)
	assert.Equal(t, "ticks", ok.got[0].Topic)
	assert.Equal(t, "NSE_FNO:35001", ok.got[0].Key)

	ev, err := DecodeMessage(ok.got[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, model.TickerEvent{Key: key, LTP: 5, LTT: 9}, ev)

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, uint64(1), stats.PublishErrors)
}

func TestBroker_PublishStatus(t *testing.T) {
	_, client := setupRedis(t)
	pub := &fakePublisher{name: "fake"}
	b := New(testConfig(), client, []Publisher{pub}, nil)

	err := b.PublishStatus(context.Background(), Status{Source: "feeder-a", State: "streaming", Frames: 10})
	require.NoError(t, err)

	require.Len(t, pub.got, 1)
	assert.Equal(t, "ticks.status", pub.got[0].Topic)

	s, err := DecodeStatus(pub.got[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, StatusVersion, s.Version)
	assert.Equal(t, "streaming", s.State)
	assert.Equal(t, uint64(10), s.Frames)
}

func TestRedisPublisher_Subscriber(t *testing.T) {
	_, client := setupRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	live, err := NewSubscriber(client, nil).Live(ctx, "ticks")
	require.NoError(t, err)

	b := New(testConfig(), client, []Publisher{NewRedisPublisher(client)}, nil)
	q := sampleQuote(42)
	require.NoError(t, b.Publish(ctx, q))
	require.NoError(t, b.PublishStatus(ctx, Status{Source: "feeder-a"}))

	var gotQuote, gotStatus bool
	timeout := time.After(2 * time.Second)
	for !gotQuote || !gotStatus {
		select {
		case d := <-live:
			if d.IsStatus("ticks") {
				s, err := DecodeStatus(d.Payload)
				require.NoError(t, err)
				assert.Equal(t, "feeder-a", s.Source)
				gotStatus = true
				continue
			}
			ev, err := DecodeMessage(d.Payload)
			require.NoError(t, err)
			got, isQuote := ev.(model.QuoteEvent)
			require.True(t, isQuote)
			assert.Equal(t, uint32(42), got.LTT)
			gotQuote = true
		case <-timeout:
			t.Fatalf("timed out: quote=%v status=%v", gotQuote, gotStatus)
		}
	}

	cancel()
	select {
	case _, open := <-live:
		for open {
			_, open = <-live
		}
	case <-time.After(2 * time.Second):
		t.Fatal("live channel not closed after cancel")
	}
}

type fakeWriter struct {
	msgs   []kafka.Message
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher("ticks", w)

	err := p.Publish(context.Background(), Outgoing{Topic: "ticks", Key: "NSE_FNO:1", Payload: []byte(`{}`)})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "NSE_FNO:1", string(w.msgs[0].Key))
	assert.Equal(t, "channel", w.msgs[0].Headers[0].Key)
	assert.Equal(t, "ticks", string(w.msgs[0].Headers[0].Value))

	require.NoError(t, p.Close())
	assert.True(t, w.closed)

	_, err = NewKafkaPublisher(KafkaConfig{Topic: "ticks"})
	assert.Error(t, err)
}

func TestNewKafkaPublisher_QueuesAsynchronously(t *testing.T) {
	p, err := NewKafkaPublisher(KafkaConfig{
		Brokers:      []string{"127.0.0.1:9092"},
		Topic:        "ticks",
		BatchTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	w, ok := p.writer.(*kafka.Writer)
	require.True(t, ok, "writer is %T", p.writer)
	assert.True(t, w.Async, "a synchronous writer blocks each publish until the batch timeout")
	assert.Equal(t, "ticks", w.Topic)
	require.NotNil(t, w.Completion)

	w.Completion([]kafka.Message{{Value: []byte("a")}, {Value: []byte("b")}}, errors.New("leader not available"))
	w.Completion([]kafka.Message{{Value: []byte("c")}}, nil)
	assert.Equal(t, uint64(2), p.Failed())

	require.NoError(t, p.Close())
}
