package protocol

import (
	"encoding/binary"
	"math"

	"github.com/shopspring/decimal"

	"github.com/rickgao/tickvault/internal/model"
)

// ResponseCode is the first header byte of a server packet.
type ResponseCode uint8

const (
	CodeIndex        ResponseCode = 1
	CodeTicker       ResponseCode = 2
	CodeQuote        ResponseCode = 4
	CodeOpenInterest ResponseCode = 5
	CodePrevClose    ResponseCode = 6
	CodeMarketStatus ResponseCode = 7
	CodeFull         ResponseCode = 8
	CodeDisconnect   ResponseCode = 50
)

// Minimum packet sizes per response code.
const (
	HeaderLen       = 8
	TickerLen       = 16
	QuoteLen        = 50
	OpenInterestLen = 12
	PrevCloseLen    = 16
	DisconnectLen   = 10
	FullLen         = 162

	depthOffset  = 62
	depthSlotLen = 20
	depthSlots   = 5
	pricePlaces  = 4
)

// Header is the common 8-byte packet header.
type Header struct {
	Code      ResponseCode
	MsgLength uint16
	Key       model.InstrumentKey
}

// ParseHeader reads the packet header. It returns false if buf is too short.
func ParseHeader(buf []byte) (Header, bool) {
	if len(buf) < HeaderLen {
		return Header{}, false
	}
	return Header{
		Code:      ResponseCode(buf[0]),
		MsgLength: binary.LittleEndian.Uint16(buf[1:3]),
		Key: model.InstrumentKey{
			Segment:    model.ExchangeSegment(buf[3]),
			SecurityID: binary.LittleEndian.Uint32(buf[4:8]),
		},
	}, true
}

// Decode converts one packet into a typed event. The second return value is
// false for unrecognized codes and for packets shorter than their variant's
// minimum length. Quote and depth events are stamped with a zero ReceivedAt;
// callers set it.
func Decode(buf []byte) (model.Event, bool) {
	h, ok := ParseHeader(buf)
	if !ok {
		return nil, false
	}

	switch h.Code {
	case CodeTicker, CodeIndex:
		if len(buf) < TickerLen {
			return nil, false
		}
		return model.TickerEvent{
			Key: h.Key,
			LTP: price(buf, 8),
			LTT: u32(buf, 12),
		}, true

	case CodeQuote:
		if len(buf) < QuoteLen {
			return nil, false
		}
		return model.QuoteEvent{
			Key:          h.Key,
			LTP:          price(buf, 8),
			LTQ:          u16(buf, 12),
			LTT:          u32(buf, 14),
			ATP:          price(buf, 18),
			Volume:       u32(buf, 22),
			TotalSellQty: u32(buf, 26),
			TotalBuyQty:  u32(buf, 30),
			DayOpen:      price(buf, 34),
			DayClose:     price(buf, 38),
			DayHigh:      price(buf, 42),
			DayLow:       price(buf, 46),
		}, true

	case CodeOpenInterest:
		if len(buf) < OpenInterestLen {
			return nil, false
		}
		return model.OpenInterestUpdate{
			Key:          h.Key,
			OpenInterest: int32(u32(buf, 8)),
		}, true

	case CodePrevClose:
		if len(buf) < PrevCloseLen {
			return nil, false
		}
		return model.PrevCloseUpdate{
			Key:       h.Key,
			PrevClose: price(buf, 8),
			PrevOI:    int32(u32(buf, 12)),
		}, true

	case CodeFull:
		if len(buf) < FullLen {
			return nil, false
		}
		return decodeFull(h, buf), true

	case CodeMarketStatus:
		return model.MarketStatusEvent{Key: h.Key}, true

	case CodeDisconnect:
		if len(buf) < DisconnectLen {
			return nil, false
		}
		return model.DisconnectEvent{
			Key:    h.Key,
			Reason: u16(buf, 8),
		}, true
	}

	return nil, false
}

func decodeFull(h Header, buf []byte) model.DepthEvent {
	oi := int32(u32(buf, 34))
	ev := model.DepthEvent{
		QuoteEvent: model.QuoteEvent{
			Key:          h.Key,
			LTP:          price(buf, 8),
			LTQ:          u16(buf, 12),
			LTT:          u32(buf, 14),
			ATP:          price(buf, 18),
			Volume:       u32(buf, 22),
			TotalSellQty: u32(buf, 26),
			TotalBuyQty:  u32(buf, 30),
			OpenInterest: &oi,
			DayOpen:      price(buf, 46),
			DayClose:     price(buf, 50),
			DayHigh:      price(buf, 54),
			DayLow:       price(buf, 58),
		},
		OIHigh: u32(buf, 38),
		OILow:  u32(buf, 42),
	}

	for i := 0; i < depthSlots; i++ {
		off := depthOffset + i*depthSlotLen
		ev.Depth[i] = model.DepthLevel{
			BidQty:    u32(buf, off),
			AskQty:    u32(buf, off+4),
			BidOrders: u16(buf, off+8),
			AskOrders: u16(buf, off+10),
			BidPrice:  price(buf, off+12),
			AskPrice:  price(buf, off+16),
		}
	}
	return ev
}

func u16(buf []byte, off int) uint16 {
	return binary.LittleEndian.Uint16(buf[off : off+2])
}

func u32(buf []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(buf[off : off+4])
}

// price reads a float32 and rounds it to four decimal places.
func price(buf []byte, off int) float64 {
	f := math.Float32frombits(u32(buf, off))
	if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
		return 0
	}
	return decimal.NewFromFloat32(f).Round(pricePlaces).InexactFloat64()
}
