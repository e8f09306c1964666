package broker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/tickvault/internal/model"
)

func TestDecodeMessage_Variants(t *testing.T) {
	pc := 99.5
	events := []model.Event{
		model.TickerEvent{Key: key, LTP: 1, LTT: 2},
		model.QuoteEvent{Key: key, LTP: 3, PrevClose: &pc, ReceivedAt: time.Unix(100, 0).UTC()},
		model.DepthEvent{QuoteEvent: model.QuoteEvent{Key: key, LTP: 4, ReceivedAt: time.Unix(100, 0).UTC()}, OIHigh: 9},
		model.OpenInterestUpdate{Key: key, OpenInterest: 5},
		model.PrevCloseUpdate{Key: key, PrevClose: 6, PrevOI: 7},
		model.MarketStatusEvent{Key: key},
		model.DisconnectEvent{Key: key, Reason: 805},
	}

	for _, ev := range events {
		t.Run(ev.Kind().String(), func(t *testing.T) {
			data, err := EncodeEvent(ev)
			require.NoError(t, err)

			got, err := DecodeMessage(data)
			require.NoError(t, err)
			assert.Equal(t, ev, got)
		})
	}
}

func TestDecodeMessage_Errors(t *testing.T) {
	_, err := DecodeMessage([]byte(`not json`))
	assert.Error(t, err)

	_, err = DecodeMessage([]byte(`{"kind":"trade","event":{}}`))
	assert.ErrorIs(t, err, ErrUnknownMessageKind)
}

func TestDecodeStatus_RejectsUnknownVersion(t *testing.T) {
	_, err := DecodeStatus([]byte(`{"v":2,"source":"x"}`))
	assert.ErrorIs(t, err, ErrUnsupportedStatus)

	_, err = DecodeStatus([]byte(`{"source":"x"}`))
	assert.ErrorIs(t, err, ErrUnsupportedStatus)
}
