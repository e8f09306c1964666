package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/tickvault/internal/logging"
	"github.com/rickgao/tickvault/internal/metrics"
	"github.com/rickgao/tickvault/internal/model"
)

// ErrChunksFailed is returned by Write when at least one chunk failed.
var ErrChunksFailed = errors.New("chunks failed")

// Store upserts quotes into a table keyed on (segment, security id, ltt).
type Store interface {
	Upsert(ctx context.Context, table string, quotes []model.QuoteEvent) error
}

// Row is a quote and the log entry it was read from.
type Row struct {
	EntryID string
	Quote   model.QuoteEvent
}

// Config holds writer settings.
type Config struct {
	Workers      int           // max chunks per write, and max concurrent chunks
	ChunkTimeout time.Duration // per attempt
	ChunkRetries int           // extra attempts after the first
	RetryBackoff time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		ChunkTimeout: 30 * time.Second,
		ChunkRetries: 2,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// Report describes the outcome of one Write.
type Report struct {
	Written      int      // distinct rows upserted
	Collapsed    int      // rows merged into a later row with the same key and ltt
	Succeeded    []string // entry IDs covered by successful chunks
	Failed       []string // entry IDs covered by failed chunks
	Chunks       int
	FailedChunks int
}

// BatchWriter writes row batches through a Store.
type BatchWriter struct {
	cfg    Config
	store  Store
	logger *zap.Logger
}

// New creates a BatchWriter. Zero config fields take their defaults.
func New(cfg Config, store Store, logger *zap.Logger) *BatchWriter {
	def := DefaultConfig()
	if cfg.Workers < 1 {
		cfg.Workers = def.Workers
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = def.ChunkTimeout
	}
	if cfg.ChunkRetries < 0 {
		cfg.ChunkRetries = 0
	}
	return &BatchWriter{
		cfg:    cfg,
		store:  store,
		logger: logging.OrNop(logger).Named("writer"),
	}
}

// group is one distinct (key, ltt) row and every entry that produced it.
type group struct {
	quote model.QuoteEvent
	ids   []string
}

type dedupeKey struct {
	key model.InstrumentKey
	ltt uint32
}

// collapse merges rows with the same key and ltt. The last row wins; the
// order of first appearance is kept.
func collapse(rows []Row) []group {
	index := make(map[dedupeKey]int, len(rows))
	groups := make([]group, 0, len(rows))

	for _, r := range rows {
		k := dedupeKey{key: r.Quote.Key, ltt: r.Quote.LTT}
		if i, ok := index[k]; ok {
			groups[i].quote = r.Quote
			groups[i].ids = append(groups[i].ids, r.EntryID)
			continue
		}
		index[k] = len(groups)
		groups = append(groups, group{quote: r.Quote, ids: []string{r.EntryID}})
	}
	return groups
}

// split divides groups into at most n chunks whose sizes differ by at most one.
func split(groups []group, n int) [][]group {
	if len(groups) == 0 {
		return nil
	}
	n = min(n, len(groups))
	if n < 1 {
		n = 1
	}

	chunks := make([][]group, 0, n)
	size, extra := len(groups)/n, len(groups)%n
	start := 0
	for i := 0; i < n; i++ {
		end := start + size
		if i < extra {
			end++
		}
		chunks = append(chunks, groups[start:end])
		start = end
	}
	return chunks
}

// Write upserts rows into table. Chunks run concurrently on at most Workers
// goroutines; a failed chunk does not stop its siblings. The error is non-nil
// iff at least one chunk failed, and the Report is valid either way.
func (w *BatchWriter) Write(ctx context.Context, table string, rows []Row) (Report, error) {
	if len(rows) == 0 {
		return Report{}, nil
	}

	start := time.Now()
	groups := collapse(rows)
	chunks := split(groups, w.cfg.Workers)

	report := Report{
		Collapsed: len(rows) - len(groups),
		Chunks:    len(chunks),
	}
	if report.Collapsed > 0 {
		metrics.WriterDuplicates.WithLabelValues(table).Add(float64(report.Collapsed))
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(w.cfg.Workers)

	for i, chunk := range chunks {
		g.Go(func() error {
			err := w.writeChunk(ctx, table, chunk)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.FailedChunks++
				for _, grp := range chunk {
					report.Failed = append(report.Failed, grp.ids...)
				}
				metrics.WriterChunkErrors.WithLabelValues(table).Inc()
				w.logger.Error("chunk failed",
					zap.String("table", table),
					zap.Int("chunk", i),
					zap.Int("rows", len(chunk)),
					zap.Error(err),
				)
				return nil
			}
			report.Written += len(chunk)
			for _, grp := range chunk {
				report.Succeeded = append(report.Succeeded, grp.ids...)
			}
			return nil
		})
	}
	g.Wait()

	metrics.WriterRows.WithLabelValues(table).Add(float64(report.Written))
	w.logger.Debug("batch written",
		zap.String("table", table),
		zap.Int("rows", len(rows)),
		zap.Int("written", report.Written),
		zap.Int("collapsed", report.Collapsed),
		zap.Int("chunks", report.Chunks),
		zap.Int("failed_chunks", report.FailedChunks),
		zap.Duration("duration", time.Since(start)),
	)

	if report.FailedChunks > 0 {
		return report, fmt.Errorf("write %s: %w: %d of %d", table, ErrChunksFailed, report.FailedChunks, report.Chunks)
	}
	return report, nil
}

// writeChunk upserts one chunk, retrying up to ChunkRetries times. Each
// attempt gets its own ChunkTimeout.
func (w *BatchWriter) writeChunk(ctx context.Context, table string, chunk []group) error {
	quotes := make([]model.QuoteEvent, len(chunk))
	for i, grp := range chunk {
		quotes[i] = grp.quote
	}

	var err error
	for attempt := 0; attempt <= w.cfg.ChunkRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(w.cfg.RetryBackoff * time.Duration(attempt)):
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, w.cfg.ChunkTimeout)
		err = w.store.Upsert(attemptCtx, table, quotes)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		w.logger.Warn("chunk attempt failed",
			zap.String("table", table),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return err
}
