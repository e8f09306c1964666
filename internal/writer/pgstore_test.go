package writer

import (
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/tickvault/internal/model"
	"github.com/rickgao/tickvault/internal/testutils"
)

func TestUpsertQuery(t *testing.T) {
	q := upsertQuery("options_ticks")

	assert.True(t, strings.HasPrefix(q, `INSERT INTO "options_ticks" (exchange_segment, security_id, ltt, ltp`))
	assert.Contains(t, q, "unnest($1::smallint[], $2::bigint[], $3::bigint[]")
	assert.Contains(t, q, "$16::timestamptz[])")
	assert.Contains(t, q, "ON CONFLICT (exchange_segment, security_id, ltt) DO UPDATE SET ltp = EXCLUDED.ltp")
	assert.Contains(t, q, "received_at = EXCLUDED.received_at")
	assert.NotContains(t, q, "ltt = EXCLUDED.ltt")
}

func TestUpsertQuery_QuotesIdentifier(t *testing.T) {
	q := upsertQuery(`ticks"; DROP TABLE x; --`)
	assert.Contains(t, q, `INSERT INTO "ticks""; DROP TABLE x; --" (`)
}

func TestColumnArgs(t *testing.T) {
	require.Len(t, columnTypes, len(columns))

	oi := int32(1500)
	withOI := testutils.Quote(model.InstrumentKey{Segment: model.SegmentNSEFNO, SecurityID: 35001}, 210.5, 100)
	withOI.OpenInterest = &oi
	plain := testutils.Quote(model.InstrumentKey{Segment: model.SegmentMCXCommod, SecurityID: 426}, 60000, 101)

	args := columnArgs([]model.QuoteEvent{withOI, plain})
	require.Len(t, args, len(columns))

	assert.Equal(t, []int16{2, 5}, args[0])
	assert.Equal(t, []int64{35001, 426}, args[1])
	assert.Equal(t, []int64{100, 101}, args[2])
	assert.Equal(t, []float64{210.5, 60000}, args[3])

	openInterest := args[13].([]pgtype.Int4)
	assert.Equal(t, pgtype.Int4{Int32: 1500, Valid: true}, openInterest[0])
	assert.False(t, openInterest[1].Valid)

	prevClose := args[14].([]pgtype.Float8)
	assert.False(t, prevClose[0].Valid)
	assert.False(t, prevClose[1].Valid)

	received := args[15].([]time.Time)
	assert.Equal(t, withOI.ReceivedAt, received[0])
}
