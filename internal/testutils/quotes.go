package testutils

import (
	"time"

	"github.com/rickgao/tickvault/internal/model"
)

// Quote returns a quote for key with plausible values derived from ltp.
func Quote(key model.InstrumentKey, ltp float64, ltt uint32) model.QuoteEvent {
	return model.QuoteEvent{
		Key:          key,
		LTP:          ltp,
		LTQ:          25,
		LTT:          ltt,
		ATP:          ltp,
		Volume:       1000,
		TotalSellQty: 400,
		TotalBuyQty:  600,
		DayOpen:      ltp - 1,
		DayClose:     ltp - 2,
		DayHigh:      ltp + 1,
		DayLow:       ltp - 3,
		ReceivedAt:   time.Date(2024, 1, 15, 9, 15, 0, 0, time.UTC),
	}
}
