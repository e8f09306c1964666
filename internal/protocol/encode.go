package protocol

import (
	"encoding/binary"
	"math"

	"github.com/rickgao/tickvault/internal/model"
)

// The encoders below produce server packets for cmd/feedsim and test fixtures.

func putHeader(buf []byte, code ResponseCode, key model.InstrumentKey) {
	buf[0] = byte(code)
	binary.LittleEndian.PutUint16(buf[1:3], uint16(len(buf)))
	buf[3] = byte(key.Segment)
	binary.LittleEndian.PutUint32(buf[4:8], key.SecurityID)
}

func putPrice(buf []byte, off int, v float64) {
	binary.LittleEndian.PutUint32(buf[off:off+4], math.Float32bits(float32(v)))
}

// EncodeTicker builds a ticker packet.
func EncodeTicker(e model.TickerEvent) []byte {
	buf := make([]byte, TickerLen)
	putHeader(buf, CodeTicker, e.Key)
	putPrice(buf, 8, e.LTP)
	binary.LittleEndian.PutUint32(buf[12:16], e.LTT)
	return buf
}

// EncodeQuote builds a quote packet. Optional side-channel fields are not
// part of the quote layout and are ignored.
func EncodeQuote(q model.QuoteEvent) []byte {
	buf := make([]byte, QuoteLen)
	putHeader(buf, CodeQuote, q.Key)
	putPrice(buf, 8, q.LTP)
	binary.LittleEndian.PutUint16(buf[12:14], q.LTQ)
	binary.LittleEndian.PutUint32(buf[14:18], q.LTT)
	putPrice(buf, 18, q.ATP)
	binary.LittleEndian.PutUint32(buf[22:26], q.Volume)
	binary.LittleEndian.PutUint32(buf[26:30], q.TotalSellQty)
	binary.LittleEndian.PutUint32(buf[30:34], q.TotalBuyQty)
	putPrice(buf, 34, q.DayOpen)
	putPrice(buf, 38, q.DayClose)
	putPrice(buf, 42, q.DayHigh)
	putPrice(buf, 46, q.DayLow)
	return buf
}

// EncodeOpenInterest builds an OI packet.
func EncodeOpenInterest(e model.OpenInterestUpdate) []byte {
	buf := make([]byte, OpenInterestLen)
	putHeader(buf, CodeOpenInterest, e.Key)
	binary.LittleEndian.PutUint32(buf[8:12], uint32(e.OpenInterest))
	return buf
}

// EncodePrevClose builds a previous-close packet.
func EncodePrevClose(e model.PrevCloseUpdate) []byte {
	buf := make([]byte, PrevCloseLen)
	putHeader(buf, CodePrevClose, e.Key)
	putPrice(buf, 8, e.PrevClose)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(e.PrevOI))
	return buf
}

// EncodeFull builds a full (depth) packet. A nil OpenInterest encodes as 0.
func EncodeFull(e model.DepthEvent) []byte {
	buf := make([]byte, FullLen)
	putHeader(buf, CodeFull, e.Key)
	putPrice(buf, 8, e.LTP)
	binary.LittleEndian.PutUint16(buf[12:14], e.LTQ)
	binary.LittleEndian.PutUint32(buf[14:18], e.LTT)
	putPrice(buf, 18, e.ATP)
	binary.LittleEndian.PutUint32(buf[22:26], e.Volume)
	binary.LittleEndian.PutUint32(buf[26:30], e.TotalSellQty)
	binary.LittleEndian.PutUint32(buf[30:34], e.TotalBuyQty)
	if e.OpenInterest != nil {
		binary.LittleEndian.PutUint32(buf[34:38], uint32(*e.OpenInterest))
	}
	binary.LittleEndian.PutUint32(buf[38:42], e.OIHigh)
	binary.LittleEndian.PutUint32(buf[42:46], e.OILow)
	putPrice(buf, 46, e.DayOpen)
	putPrice(buf, 50, e.DayClose)
	putPrice(buf, 54, e.DayHigh)
	putPrice(buf, 58, e.DayLow)

	for i, lvl := range e.Depth {
		off := depthOffset + i*depthSlotLen
		binary.LittleEndian.PutUint32(buf[off:off+4], lvl.BidQty)
		binary.LittleEndian.PutUint32(buf[off+4:off+8], lvl.AskQty)
		binary.LittleEndian.PutUint16(buf[off+8:off+10], lvl.BidOrders)
		binary.LittleEndian.PutUint16(buf[off+10:off+12], lvl.AskOrders)
		putPrice(buf, off+12, lvl.BidPrice)
		putPrice(buf, off+16, lvl.AskPrice)
	}
	return buf
}

// EncodeDisconnect builds a server disconnect packet.
func EncodeDisconnect(e model.DisconnectEvent) []byte {
	buf := make([]byte, DisconnectLen)
	putHeader(buf, CodeDisconnect, e.Key)
	binary.LittleEndian.PutUint16(buf[8:10], e.Reason)
	return buf
}
