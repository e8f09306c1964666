package writer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/tickvault/internal/model"
)

// Columns of both tick tables, in insert order. The first three form the
// unique key.
var columns = []string{
	"exchange_segment",
	"security_id",
	"ltt",
	"ltp",
	"ltq",
	"atp",
	"volume",
	"total_sell_qty",
	"total_buy_qty",
	"day_open",
	"day_close",
	"day_high",
	"day_low",
	"open_interest",
	"prev_close",
	"received_at",
}

var columnTypes = []string{
	"smallint", "bigint", "bigint", "float8", "integer", "float8", "bigint", "bigint", "bigint",
	"float8", "float8", "float8", "float8", "integer", "float8", "timestamptz",
}

const keyColumns = 3

// PGStore upserts into PostgreSQL with one unnest statement per call.
type PGStore struct {
	pool    *pgxpool.Pool
	queries map[string]string
}

// NewPGStore creates a PGStore on pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool, queries: make(map[string]string)}
}

// Prepare builds the statement for each table. Upsert on a table that was
// not prepared builds it on first use.
func (s *PGStore) Prepare(tables ...string) {
	for _, t := range tables {
		s.queries[t] = upsertQuery(t)
	}
}

// upsertQuery builds
//
//	INSERT INTO t (...) SELECT * FROM unnest($1::smallint[], ...)
//	ON CONFLICT (exchange_segment, security_id, ltt) DO UPDATE SET col = EXCLUDED.col, ...
func upsertQuery(table string) string {
	params := make([]string, len(columns))
	for i := range columns {
		params[i] = fmt.Sprintf("$%d::%s[]", i+1, columnTypes[i])
	}

	updates := make([]string, 0, len(columns)-keyColumns)
	for _, c := range columns[keyColumns:] {
		updates = append(updates, c+" = EXCLUDED."+c)
	}

	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT * FROM unnest(%s) ON CONFLICT (%s) DO UPDATE SET %s",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(columns, ", "),
		strings.Join(params, ", "),
		strings.Join(columns[:keyColumns], ", "),
		strings.Join(updates, ", "),
	)
}

// Upsert writes quotes into table in one statement.
func (s *PGStore) Upsert(ctx context.Context, table string, quotes []model.QuoteEvent) error {
	if len(quotes) == 0 {
		return nil
	}

	query, ok := s.queries[table]
	if !ok {
		query = upsertQuery(table)
	}

	_, err := s.pool.Exec(ctx, query, columnArgs(quotes)...)
	if err != nil {
		return fmt.Errorf("upsert %d rows into %s: %w", len(quotes), table, err)
	}
	return nil
}

// columnArgs transposes quotes into one array per column.
func columnArgs(quotes []model.QuoteEvent) []any {
	n := len(quotes)
	var (
		segment      = make([]int16, n)
		securityID   = make([]int64, n)
		ltt          = make([]int64, n)
		ltp          = make([]float64, n)
		ltq          = make([]int32, n)
		atp          = make([]float64, n)
		volume       = make([]int64, n)
		totalSell    = make([]int64, n)
		totalBuy     = make([]int64, n)
		dayOpen      = make([]float64, n)
		dayClose     = make([]float64, n)
		dayHigh      = make([]float64, n)
		dayLow       = make([]float64, n)
		openInterest = make([]pgtype.Int4, n)
		prevClose    = make([]pgtype.Float8, n)
		receivedAt   = make([]time.Time, n)
	)

	for i, q := range quotes {
		segment[i] = int16(q.Key.Segment)
		securityID[i] = int64(q.Key.SecurityID)
		ltt[i] = int64(q.LTT)
		ltp[i] = q.LTP
		ltq[i] = int32(q.LTQ)
		atp[i] = q.ATP
		volume[i] = int64(q.Volume)
		totalSell[i] = int64(q.TotalSellQty)
		totalBuy[i] = int64(q.TotalBuyQty)
		dayOpen[i] = q.DayOpen
		dayClose[i] = q.DayClose
		dayHigh[i] = q.DayHigh
		dayLow[i] = q.DayLow
		if q.OpenInterest != nil {
			openInterest[i] = pgtype.Int4{Int32: *q.OpenInterest, Valid: true}
		}
		if q.PrevClose != nil {
			prevClose[i] = pgtype.Float8{Float64: *q.PrevClose, Valid: true}
		}
		receivedAt[i] = q.ReceivedAt
	}

	return []any{
		segment, securityID, ltt, ltp, ltq, atp, volume, totalSell, totalBuy,
		dayOpen, dayClose, dayHigh, dayLow, openInterest, prevClose, receivedAt,
	}
}
