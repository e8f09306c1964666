package consumer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rickgao/tickvault/internal/broker"
	"github.com/rickgao/tickvault/internal/logging"
	"github.com/rickgao/tickvault/internal/metrics"
	"github.com/rickgao/tickvault/internal/model"
	"github.com/rickgao/tickvault/internal/router"
	"github.com/rickgao/tickvault/internal/writer"
)

// Phase is the consumer lifecycle phase.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseRecovering
	PhaseTailing
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseRecovering:
		return "recovering"
	case PhaseTailing:
		return "tailing"
	case PhaseStopped:
		return "stopped"
	default:
		return "idle"
	}
}

// Log is the durable log as seen by one group member. *broker.StreamLog
// implements it.
type Log interface {
	Consumer() string
	EnsureGroup(ctx context.Context) error
	ReadPending(ctx context.Context, after string, count int64) ([]broker.Entry, error)
	ReadNew(ctx context.Context, count int64, block time.Duration) ([]broker.Entry, error)
	Claim(ctx context.Context, start string, minIdle time.Duration, count int64) ([]broker.Entry, string, error)
	Ack(ctx context.Context, ids ...string) error
}

// Writer writes buffered rows. *writer.BatchWriter implements it.
type Writer interface {
	Write(ctx context.Context, table string, rows []writer.Row) (writer.Report, error)
}

// Config holds consumer settings.
type Config struct {
	FlushSize     int           // flush when either buffer holds this many rows
	FlushInterval time.Duration // flush at least this often
	BatchCount    int64         // entries per read
	Block         time.Duration // max wait of a tail read
	ClaimMinIdle  time.Duration // idle time before another member's entry is claimed
	MaxReplay     int           // cap on entries recovered per start; 0 means no cap
	RetryDelay    time.Duration // pause after a failed read
	FuturesTable  string
	OptionsTable  string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		FlushSize:     5000,
		FlushInterval: time.Second,
		BatchCount:    500,
		Block:         2 * time.Second,
		ClaimMinIdle:  time.Minute,
		MaxReplay:     1_000_000,
		RetryDelay:    time.Second,
		FuturesTable:  "futures_ticks",
		OptionsTable:  "options_ticks",
	}
}

// Stats contains runtime statistics.
type Stats struct {
	Phase           Phase
	Replayed        uint64 // own pending entries re-read at start
	Claimed         uint64 // entries adopted from other members
	Tailed          uint64
	Dropped         uint64 // unroutable
	ParseErrors     uint64
	Acked           uint64
	WriteFailures   uint64 // entries left pending by a failed chunk
	Flushes         uint64
	BufferedFutures int
	BufferedOptions int
}

// Consumer drains the durable log into the futures and options tables.
type Consumer struct {
	cfg    Config
	log    Log
	router *router.Router
	writer Writer
	logger *zap.Logger

	phase atomic.Int32

	mu      sync.Mutex // guards both buffers
	futures []writer.Row
	options []writer.Row

	flushMu sync.Mutex // one flush at a time

	// Reads stop on ctx; writes and acks run on flushCtx, which outlives
	// ctx until Stop's grace period ends.
	ctx         context.Context
	cancel      context.CancelFunc
	flushCtx    context.Context
	flushCancel context.CancelFunc
	wg          sync.WaitGroup

	replayed      atomic.Uint64
	claimed       atomic.Uint64
	tailed        atomic.Uint64
	dropped       atomic.Uint64
	parseErrors   atomic.Uint64
	acked         atomic.Uint64
	writeFailures atomic.Uint64
	flushes       atomic.Uint64
}

// New creates a Consumer.
func New(cfg Config, log Log, r *router.Router, w Writer, logger *zap.Logger) *Consumer {
	def := DefaultConfig()
	if cfg.FlushSize < 1 {
		cfg.FlushSize = def.FlushSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BatchCount < 1 {
		cfg.BatchCount = def.BatchCount
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if r == nil {
		r = router.New(nil)
	}
	return &Consumer{
		cfg:    cfg,
		log:    log,
		router: r,
		writer: w,
		logger: logging.OrNop(logger).With(zap.String("consumer", log.Consumer())),
	}
}

// Phase returns the current phase.
func (c *Consumer) Phase() Phase {
	return Phase(c.phase.Load())
}

func (c *Consumer) setPhase(p Phase) {
	if old := Phase(c.phase.Swap(int32(p))); old != p {
		c.logger.Info("phase change", zap.Stringer("from", old), zap.Stringer("to", p))
	}
}

// Stats returns current statistics.
func (c *Consumer) Stats() Stats {
	c.mu.Lock()
	futures, options := len(c.futures), len(c.options)
	c.mu.Unlock()

	return Stats{
		Phase:           c.Phase(),
		Replayed:        c.replayed.Load(),
		Claimed:         c.claimed.Load(),
		Tailed:          c.tailed.Load(),
		Dropped:         c.dropped.Load(),
		ParseErrors:     c.parseErrors.Load(),
		Acked:           c.acked.Load(),
		WriteFailures:   c.writeFailures.Load(),
		Flushes:         c.flushes.Load(),
		BufferedFutures: futures,
		BufferedOptions: options,
	}
}

// Start ensures the consumer group exists, then recovers and tails in the
// background. Only the group creation error is returned; read errors are
// logged and retried.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.log.EnsureGroup(ctx); err != nil {
		return err
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.flushCtx, c.flushCancel = context.WithCancel(context.WithoutCancel(ctx))

	c.wg.Add(2)
	go c.readLoop()
	go c.flushLoop()

	c.logger.Info("consumer started",
		zap.Int("flush_size", c.cfg.FlushSize),
		zap.Duration("flush_interval", c.cfg.FlushInterval),
	)
	return nil
}

// Stop stops reading, flushes what is buffered within ctx and returns.
// Rows that could not be written stay pending in the log.
func (c *Consumer) Stop(ctx context.Context) error {
	if c.cancel == nil {
		return nil
	}
	c.logger.Info("stopping consumer")
	c.cancel()
	defer c.flushCancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("consumer stop timed out")
		c.setPhase(PhaseStopped)
		return ctx.Err()
	}

	c.flush(ctx)
	c.setPhase(PhaseStopped)

	s := c.Stats()
	c.logger.Info("consumer stopped",
		zap.Uint64("acked", s.Acked),
		zap.Int("unflushed", s.BufferedFutures+s.BufferedOptions),
	)
	return nil
}

func (c *Consumer) readLoop() {
	defer c.wg.Done()

	for {
		err := c.recover(c.ctx)
		if err == nil {
			break
		}
		if c.ctx.Err() != nil {
			return
		}
		c.logger.Warn("recovery failed, retrying", zap.Error(err))
		if !c.sleep(c.cfg.RetryDelay) {
			return
		}
	}

	// Write what recovery buffered before waiting on new entries.
	c.flush(c.flushCtx)
	c.setPhase(PhaseTailing)

	for c.ctx.Err() == nil {
		entries, err := c.log.ReadNew(c.ctx, c.cfg.BatchCount, c.cfg.Block)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn("read failed", zap.Error(err))
			c.sleep(c.cfg.RetryDelay)
			continue
		}
		c.process(entries, phaseTail)
	}
}

// Entry source labels.
const (
	phaseReplay = "replay"
	phaseClaim  = "claim"
	phaseTail   = "tail"
)

// recover replays this member's pending entries, then claims idle entries of
// other members, up to MaxReplay entries in total.
func (c *Consumer) recover(ctx context.Context) error {
	c.setPhase(PhaseRecovering)

	recovered := 0
	limited := func() bool {
		return c.cfg.MaxReplay > 0 && recovered >= c.cfg.MaxReplay
	}

	after := "0"
	for !limited() {
		entries, err := c.log.ReadPending(ctx, after, c.pageSize(recovered))
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			break
		}
		c.process(entries, phaseReplay)
		recovered += len(entries)
		after = entries[len(entries)-1].ID
	}

	cursor := "0-0"
	for !limited() {
		entries, next, err := c.log.Claim(ctx, cursor, c.cfg.ClaimMinIdle, c.pageSize(recovered))
		if err != nil {
			return err
		}
		c.process(entries, phaseClaim)
		recovered += len(entries)
		if next == "" || next == "0-0" {
			break
		}
		cursor = next
	}

	if limited() {
		c.logger.Warn("replay limit reached, remaining entries stay pending",
			zap.Int("max_replay", c.cfg.MaxReplay))
	}
	c.logger.Info("recovery complete", zap.Int("entries", recovered))
	return nil
}

// pageSize keeps recovery reads within MaxReplay.
func (c *Consumer) pageSize(recovered int) int64 {
	n := c.cfg.BatchCount
	if c.cfg.MaxReplay > 0 {
		n = min(n, int64(c.cfg.MaxReplay-recovered))
	}
	return n
}

// process handles a page of entries, acknowledges the ones dropped on the
// spot and flushes synchronously when a buffer is full.
func (c *Consumer) process(entries []broker.Entry, source string) {
	if len(entries) == 0 {
		return
	}

	var ackNow []string
	for _, e := range entries {
		if c.handle(e) {
			ackNow = append(ackNow, e.ID)
		}
	}

	n := uint64(len(entries))
	switch source {
	case phaseReplay:
		c.replayed.Add(n)
	case phaseClaim:
		c.claimed.Add(n)
	default:
		c.tailed.Add(n)
	}
	metrics.ConsumerEntries.WithLabelValues(source).Add(float64(n))

	c.ack(c.flushCtx, ackNow)

	if c.full() {
		c.flush(c.flushCtx)
	}
}

// handle parses, classifies and buffers one entry. It reports whether the
// entry should be acknowledged now, which is the case only for entries that
// will never be written.
func (c *Consumer) handle(e broker.Entry) (ackNow bool) {
	q, err := model.ParseQuoteFields(e.Fields)
	if err != nil {
		c.parseErrors.Add(1)
		metrics.ConsumerDropped.WithLabelValues("parse").Inc()
		c.logger.Warn("dropping unparseable entry", zap.String("id", e.ID), zap.Error(err))
		return true
	}

	row := writer.Row{EntryID: e.ID, Quote: q}

	switch c.router.Route(q) {
	case model.ClassFutures:
		c.mu.Lock()
		c.futures = append(c.futures, row)
		metrics.ConsumerBuffered.WithLabelValues("futures").Set(float64(len(c.futures)))
		c.mu.Unlock()
	case model.ClassOptions:
		c.mu.Lock()
		c.options = append(c.options, row)
		metrics.ConsumerBuffered.WithLabelValues("options").Set(float64(len(c.options)))
		c.mu.Unlock()
	default:
		c.dropped.Add(1)
		metrics.ConsumerDropped.WithLabelValues("unroutable").Inc()
		c.logger.Debug("dropping unroutable entry", zap.String("id", e.ID), zap.Stringer("instrument", q.Key))
		return true
	}
	return false
}

func (c *Consumer) full() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.futures) >= c.cfg.FlushSize || len(c.options) >= c.cfg.FlushSize
}

func (c *Consumer) flushLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.flush(c.flushCtx)
		}
	}
}

// flush takes both buffers, writes each to its table and acknowledges the
// entries whose chunks were written.
func (c *Consumer) flush(ctx context.Context) {
	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	c.mu.Lock()
	futures, options := c.futures, c.options
	c.futures, c.options = nil, nil
	c.mu.Unlock()

	metrics.ConsumerBuffered.WithLabelValues("futures").Set(0)
	metrics.ConsumerBuffered.WithLabelValues("options").Set(0)

	if len(futures) == 0 && len(options) == 0 {
		return
	}

	start := time.Now()
	var written []string
	for _, batch := range []struct {
		table string
		rows  []writer.Row
	}{
		{c.cfg.FuturesTable, futures},
		{c.cfg.OptionsTable, options},
	} {
		if len(batch.rows) == 0 {
			continue
		}
		report, err := c.writer.Write(ctx, batch.table, batch.rows)
		written = append(written, report.Succeeded...)
		if err != nil {
			c.writeFailures.Add(uint64(len(report.Failed)))
			c.logger.Error("write failed, entries stay pending",
				zap.String("table", batch.table),
				zap.Int("failed", len(report.Failed)),
				zap.Error(err),
			)
		}
	}

	c.ack(ctx, written)
	c.flushes.Add(1)
	metrics.ConsumerFlushDuration.Observe(time.Since(start).Seconds())

	c.logger.Debug("flushed",
		zap.Int("futures", len(futures)),
		zap.Int("options", len(options)),
		zap.Int("acked", len(written)),
		zap.Duration("duration", time.Since(start)),
	)
}

func (c *Consumer) ack(ctx context.Context, ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := c.log.Ack(ctx, ids...); err != nil {
		// Unacked entries are replayed and upserted again.
		c.logger.Warn("ack failed", zap.Int("entries", len(ids)), zap.Error(err))
		return
	}
	c.acked.Add(uint64(len(ids)))
	metrics.ConsumerAcked.Add(float64(len(ids)))
}

// sleep waits d and reports false if the consumer was stopped meanwhile.
func (c *Consumer) sleep(d time.Duration) bool {
	select {
	case <-c.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
