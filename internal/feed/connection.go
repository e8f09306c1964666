package feed

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rickgao/tickvault/internal/broker"
	"github.com/rickgao/tickvault/internal/logging"
	"github.com/rickgao/tickvault/internal/metrics"
	"github.com/rickgao/tickvault/internal/model"
	"github.com/rickgao/tickvault/internal/protocol"
)

// Stats contains runtime statistics.
type Stats struct {
	State         State
	Subscribed    int
	Frames        uint64
	Events        uint64
	DecodeErrors  uint64
	PublishErrors uint64
	Appended      uint64
	AppendErrors  uint64
	Reconnects    uint64
}

// Connection is one logical feed session. Run is the single ingestion task;
// Subscribe, Unsubscribe, Stats and Stop may be called from other goroutines.
type Connection struct {
	cfg       Config
	sink      Sink
	logger    *zap.Logger
	label     string
	newClient func(ClientConfig, *zap.Logger) Client

	state atomic.Int32

	mu     sync.Mutex
	client Client
	subs   map[model.InstrumentKey]protocol.Mode
	cancel context.CancelFunc
	done   chan struct{}

	// Owned by the Run goroutine.
	openInterest map[model.InstrumentKey]int32
	prevClose    map[model.InstrumentKey]float64

	frames        atomic.Uint64
	events        atomic.Uint64
	decodeErrors  atomic.Uint64
	publishErrors atomic.Uint64
	appended      atomic.Uint64
	appendErrors  atomic.Uint64
	reconnects    atomic.Uint64
}

// New creates a Connection that hands events to sink.
func New(cfg Config, sink Sink, logger *zap.Logger) *Connection {
	label := strconv.Itoa(cfg.ID)
	return &Connection{
		cfg:          cfg,
		sink:         sink,
		logger:       logging.OrNop(logger).With(zap.Int("conn", cfg.ID)),
		label:        label,
		newClient:    NewClient,
		subs:         make(map[model.InstrumentKey]protocol.Mode),
		done:         make(chan struct{}),
		openInterest: make(map[model.InstrumentKey]int32),
		prevClose:    make(map[model.InstrumentKey]float64),
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	if old := State(c.state.Swap(int32(s))); old != s {
		c.logger.Debug("state change", zap.Stringer("from", old), zap.Stringer("to", s))
	}
	metrics.FeedState.WithLabelValues(c.label).Set(float64(s))
}

// Stats returns current statistics.
func (c *Connection) Stats() Stats {
	c.mu.Lock()
	subscribed := len(c.subs)
	c.mu.Unlock()

	return Stats{
		State:         c.State(),
		Subscribed:    subscribed,
		Frames:        c.frames.Load(),
		Events:        c.events.Load(),
		DecodeErrors:  c.decodeErrors.Load(),
		PublishErrors: c.publishErrors.Load(),
		Appended:      c.appended.Load(),
		AppendErrors:  c.appendErrors.Load(),
		Reconnects:    c.reconnects.Load(),
	}
}

// Subscribe adds keys to the tracked subscription set in mode. If connected,
// the requests are sent now; otherwise they are sent on the next connect.
// A key already tracked in another mode is unsubscribed from that mode first.
func (c *Connection) Subscribe(ctx context.Context, keys []model.InstrumentKey, mode protocol.Mode) error {
	if len(keys) == 0 {
		return nil
	}

	previous := make(map[protocol.Mode][]model.InstrumentKey)

	c.mu.Lock()
	for _, k := range keys {
		if old, ok := c.subs[k]; ok && old != mode {
			previous[old] = append(previous[old], k)
		}
		c.subs[k] = mode
	}
	size := len(c.subs)
	client := c.client
	c.mu.Unlock()

	metrics.FeedSubscribed.WithLabelValues(c.label).Set(float64(size))

	if client == nil || !client.IsConnected() {
		return nil
	}
	c.setState(StateSubscribing)
	for _, old := range sortedModes(previous) {
		if err := c.sendRequests(ctx, client, old.UnsubscribeCode(), previous[old]); err != nil {
			return err
		}
	}
	return c.sendRequests(ctx, client, mode.SubscribeCode(), keys)
}

// Unsubscribe removes keys from the tracked set and, if connected, tells the
// server. Keys not in the set are ignored.
func (c *Connection) Unsubscribe(ctx context.Context, keys []model.InstrumentKey) error {
	byMode := make(map[protocol.Mode][]model.InstrumentKey)

	c.mu.Lock()
	for _, k := range keys {
		if mode, ok := c.subs[k]; ok {
			byMode[mode] = append(byMode[mode], k)
			delete(c.subs, k)
		}
	}
	size := len(c.subs)
	client := c.client
	c.mu.Unlock()

	metrics.FeedSubscribed.WithLabelValues(c.label).Set(float64(size))

	if client == nil || !client.IsConnected() {
		return nil
	}
	for _, mode := range sortedModes(byMode) {
		if err := c.sendRequests(ctx, client, mode.UnsubscribeCode(), byMode[mode]); err != nil {
			return err
		}
	}
	return nil
}

// Subscriptions returns a copy of the tracked subscription set.
func (c *Connection) Subscriptions() map[model.InstrumentKey]protocol.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[model.InstrumentKey]protocol.Mode, len(c.subs))
	for k, m := range c.subs {
		out[k] = m
	}
	return out
}

// sendRequests sends one message per MaxInstrumentsPerRequest keys, BatchDelay
// apart.
func (c *Connection) sendRequests(ctx context.Context, client Client, code protocol.RequestCode, keys []model.InstrumentKey) error {
	msgs, err := protocol.SubscriptionRequests(code, keys)
	if err != nil {
		return err
	}

	for i, msg := range msgs {
		if i > 0 && c.cfg.BatchDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.BatchDelay):
			}
		}
		if err := client.Send(msg); err != nil {
			return fmt.Errorf("send request %d/%d: %w", i+1, len(msgs), err)
		}
	}

	c.logger.Debug("requests sent",
		zap.Int("code", int(code)),
		zap.Int("instruments", len(keys)),
		zap.Int("messages", len(msgs)),
	)
	return nil
}

// Run connects and ingests until ctx is cancelled, Stop is called, or an
// append to the durable log fails. Transport failures trigger a reconnect
// after ReconnectDelay with the full subscription set resent. It returns nil
// on a requested stop and ErrAppendFailed (wrapped) on an append failure.
// A Connection runs once; a second Run returns ErrAlreadyRunning.
func (c *Connection) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.cancel = cancel
	c.mu.Unlock()

	defer close(c.done)
	defer c.setState(StateDisconnected)

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			c.setState(StateReconnecting)
			c.reconnects.Add(1)
			metrics.FeedReconnects.WithLabelValues(c.label).Inc()

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.cfg.ReconnectDelay):
			}
		}

		c.setState(StateConnecting)
		client := c.newClient(c.cfg.Client, c.logger)
		if err := client.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("connect failed", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		c.setState(StateConnected)
		c.logger.Info("connected", zap.Int("attempt", attempt+1))

		err := c.session(ctx, client)
		client.Close()

		c.mu.Lock()
		c.client = nil
		c.mu.Unlock()

		switch {
		case errors.Is(err, ErrAppendFailed):
			c.logger.Error("ingestion stopped", zap.Error(err))
			return err
		case ctx.Err() != nil:
			return nil
		default:
			c.logger.Warn("connection lost", zap.Error(err), zap.Duration("reconnect_in", c.cfg.ReconnectDelay))
		}
	}
}

// session resubscribes on a fresh client and ingests until it fails.
func (c *Connection) session(ctx context.Context, client Client) error {
	c.mu.Lock()
	c.client = client
	snapshot := make(map[protocol.Mode][]model.InstrumentKey)
	for k, m := range c.subs {
		snapshot[m] = append(snapshot[m], k)
	}
	c.mu.Unlock()

	if len(snapshot) > 0 {
		c.setState(StateSubscribing)
		total := 0
		for _, mode := range sortedModes(snapshot) {
			keys := snapshot[mode]
			sortKeys(keys)
			if err := c.sendRequests(ctx, client, mode.SubscribeCode(), keys); err != nil {
				return fmt.Errorf("resubscribe: %w", err)
			}
			total += len(keys)
		}
		c.logger.Info("subscriptions sent", zap.Int("instruments", total))
	}

	var statusC <-chan time.Time
	if c.cfg.StatusInterval > 0 {
		ticker := time.NewTicker(c.cfg.StatusInterval)
		defer ticker.Stop()
		statusC = ticker.C
	}

	frames := client.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-statusC:
			c.publishStatus(ctx)

		case frame, ok := <-frames:
			if !ok {
				select {
				case err := <-client.Errors():
					return err
				default:
					return ErrConnectionClosed
				}
			}
			if err := c.ingest(ctx, frame); err != nil {
				return err
			}
		}
	}
}

// ingest handles one frame: decode, update caches, merge, publish, append.
func (c *Connection) ingest(ctx context.Context, frame Frame) error {
	c.frames.Add(1)
	metrics.FeedFrames.WithLabelValues(c.label).Inc()

	if s := c.State(); s == StateSubscribing || s == StateConnected {
		c.setState(StateStreaming)
	}

	if !frame.Binary {
		c.logger.Debug("ignoring text frame", zap.ByteString("data", frame.Data))
		return nil
	}

	ev, ok := protocol.Decode(frame.Data)
	if !ok {
		c.decodeErrors.Add(1)
		metrics.FeedDecodeErrors.WithLabelValues(c.label).Inc()
		if h, ok := protocol.ParseHeader(frame.Data); ok {
			c.logger.Debug("unrecognized packet", zap.Uint8("code", uint8(h.Code)), zap.Int("len", len(frame.Data)))
		}
		return nil
	}

	c.events.Add(1)
	metrics.FeedEvents.WithLabelValues(c.label, ev.Kind().String()).Inc()

	var disconnect *model.DisconnectEvent
	switch e := ev.(type) {
	case model.OpenInterestUpdate:
		c.openInterest[e.Key] = e.OpenInterest
	case model.PrevCloseUpdate:
		c.prevClose[e.Key] = e.PrevClose
	case model.QuoteEvent:
		ev = c.merge(e, frame.ReceivedAt)
	case model.DepthEvent:
		if e.OpenInterest != nil {
			c.openInterest[e.Key] = *e.OpenInterest
		}
		e.QuoteEvent = c.merge(e.QuoteEvent, frame.ReceivedAt)
		ev = e
	case model.DisconnectEvent:
		disconnect = &e
	}

	if err := c.sink.Publish(ctx, ev); err != nil {
		c.publishErrors.Add(1)
	}

	if _, isQuote := model.QuoteOf(ev); isQuote {
		if _, err := c.sink.Append(ctx, ev); err != nil {
			c.appendErrors.Add(1)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %s: %w", ErrAppendFailed, ev.InstrumentKey(), err)
		}
		c.appended.Add(1)
	}

	if disconnect != nil {
		c.logger.Warn("server disconnect", zap.Uint16("reason", disconnect.Reason))
		return fmt.Errorf("%w: reason %d", ErrServerDisconnect, disconnect.Reason)
	}
	return nil
}

// merge stamps the receive time and attaches the latest cached open interest
// and previous close for the quote's instrument. Values the packet already
// carries win.
func (c *Connection) merge(q model.QuoteEvent, receivedAt time.Time) model.QuoteEvent {
	q.ReceivedAt = receivedAt
	if q.OpenInterest == nil {
		if oi, ok := c.openInterest[q.Key]; ok {
			q.OpenInterest = &oi
		}
	}
	if q.PrevClose == nil {
		if pc, ok := c.prevClose[q.Key]; ok {
			q.PrevClose = &pc
		}
	}
	return q
}

func (c *Connection) publishStatus(ctx context.Context) {
	s := c.Stats()
	err := c.sink.PublishStatus(ctx, broker.Status{
		Source:        c.cfg.Source,
		Connection:    c.cfg.ID,
		State:         s.State.String(),
		Subscribed:    s.Subscribed,
		Frames:        s.Frames,
		DecodeErrors:  s.DecodeErrors,
		PublishErrors: s.PublishErrors,
		AppendErrors:  s.AppendErrors,
		Reconnects:    s.Reconnects,
		At:            time.Now().UTC(),
	})
	if err != nil {
		c.publishErrors.Add(1)
	}
}

// Stop asks the server to end the session, stops Run and waits for it to
// return or for ctx to expire. Stop before Run returns immediately.
func (c *Connection) Stop(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	cancel := c.cancel
	c.mu.Unlock()

	if cancel == nil {
		return nil
	}

	if client != nil && client.IsConnected() {
		if err := client.Send(protocol.DisconnectRequest()); err != nil {
			c.logger.Debug("disconnect request failed", zap.Error(err))
		}
	}
	cancel()

	select {
	case <-c.done:
		c.logger.Info("connection stopped")
		return nil
	case <-ctx.Done():
		c.logger.Warn("connection stop timed out")
		return ctx.Err()
	}
}

func sortedModes(m map[protocol.Mode][]model.InstrumentKey) []protocol.Mode {
	modes := make([]protocol.Mode, 0, len(m))
	for mode := range m {
		modes = append(modes, mode)
	}
	sort.Slice(modes, func(i, j int) bool { return modes[i] < modes[j] })
	return modes
}

func sortKeys(keys []model.InstrumentKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Segment != keys[j].Segment {
			return keys[i].Segment < keys[j].Segment
		}
		return keys[i].SecurityID < keys[j].SecurityID
	})
}
