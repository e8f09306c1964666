package model

import (
	"fmt"
	"strconv"
	"time"
)

// ExchangeSegment is the one-byte segment code carried in every packet header.
type ExchangeSegment uint8

const (
	SegmentIndex       ExchangeSegment = 0 // IDX_I
	SegmentNSEEquity   ExchangeSegment = 1 // NSE_EQ
	SegmentNSEFNO      ExchangeSegment = 2 // NSE_FNO
	SegmentNSECurrency ExchangeSegment = 3 // NSE_CURRENCY
	SegmentBSEEquity   ExchangeSegment = 4 // BSE_EQ
	SegmentMCXCommod   ExchangeSegment = 5 // MCX_COMM
	SegmentBSECurrency ExchangeSegment = 7 // BSE_CURRENCY
	SegmentBSEFNO      ExchangeSegment = 8 // BSE_FNO
)

var segmentNames = map[ExchangeSegment]string{
	SegmentIndex:       "IDX_I",
	SegmentNSEEquity:   "NSE_EQ",
	SegmentNSEFNO:      "NSE_FNO",
	SegmentNSECurrency: "NSE_CURRENCY",
	SegmentBSEEquity:   "BSE_EQ",
	SegmentMCXCommod:   "MCX_COMM",
	SegmentBSECurrency: "BSE_CURRENCY",
	SegmentBSEFNO:      "BSE_FNO",
}

// String returns the wire name used in subscription requests (e.g. "NSE_FNO").
func (s ExchangeSegment) String() string {
	if name, ok := segmentNames[s]; ok {
		return name
	}
	return "SEGMENT_" + strconv.Itoa(int(s))
}

// Known reports whether the segment has a wire name.
func (s ExchangeSegment) Known() bool {
	_, ok := segmentNames[s]
	return ok
}

// ParseExchangeSegment converts a wire name back to its code.
func ParseExchangeSegment(name string) (ExchangeSegment, error) {
	for seg, n := range segmentNames {
		if n == name {
			return seg, nil
		}
	}
	return 0, fmt.Errorf("unknown exchange segment %q", name)
}

// InstrumentKey identifies a tradable contract.
type InstrumentKey struct {
	Segment    ExchangeSegment
	SecurityID uint32
}

// String returns "SEGMENT:securityID", e.g. "NSE_FNO:35001".
func (k InstrumentKey) String() string {
	return k.Segment.String() + ":" + strconv.FormatUint(uint64(k.SecurityID), 10)
}

// Kind identifies the event variant decoded from a packet.
type Kind uint8

const (
	KindTicker Kind = iota + 1
	KindQuote
	KindDepth
	KindOpenInterest
	KindPrevClose
	KindMarketStatus
	KindDisconnect
)

var kindNames = [...]string{
	KindTicker:       "ticker",
	KindQuote:        "quote",
	KindDepth:        "depth",
	KindOpenInterest: "open_interest",
	KindPrevClose:    "prev_close",
	KindMarketStatus: "market_status",
	KindDisconnect:   "disconnect",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "unknown"
}

// Event is implemented by every decoded packet variant.
type Event interface {
	Kind() Kind
	InstrumentKey() InstrumentKey
}

// TickerEvent is a minimal price update.
type TickerEvent struct {
	Key InstrumentKey `json:"key"`
	LTP float64       `json:"ltp"`
	LTT uint32        `json:"ltt"`
}

func (e TickerEvent) Kind() Kind                   { return KindTicker }
func (e TickerEvent) InstrumentKey() InstrumentKey { return e.Key }

// QuoteEvent is the unit of work persisted by the consumer.
type QuoteEvent struct {
	Key          InstrumentKey `json:"key"`
	LTP          float64       `json:"ltp"`
	LTQ          uint16        `json:"ltq"`
	LTT          uint32        `json:"ltt"`
	ATP          float64       `json:"atp"`
	Volume       uint32        `json:"volume"`
	TotalSellQty uint32        `json:"total_sell_qty"`
	TotalBuyQty  uint32        `json:"total_buy_qty"`
	DayOpen      float64       `json:"day_open"`
	DayClose     float64       `json:"day_close"`
	DayHigh      float64       `json:"day_high"`
	DayLow       float64       `json:"day_low"`
	OpenInterest *int32        `json:"open_interest,omitempty"` // nil until an OI update was seen
	PrevClose    *float64      `json:"prev_close,omitempty"`    // nil until a prev-close update was seen
	ReceivedAt   time.Time     `json:"received_at"`
}

func (e QuoteEvent) Kind() Kind                   { return KindQuote }
func (e QuoteEvent) InstrumentKey() InstrumentKey { return e.Key }

// DepthLevel is one of the five market-depth slots of a full packet.
type DepthLevel struct {
	BidQty    uint32  `json:"bid_qty"`
	AskQty    uint32  `json:"ask_qty"`
	BidOrders uint16  `json:"bid_orders"`
	AskOrders uint16  `json:"ask_orders"`
	BidPrice  float64 `json:"bid_price"`
	AskPrice  float64 `json:"ask_price"`
}

// DepthEvent is a full packet: quote fields plus OI range and five depth levels.
type DepthEvent struct {
	QuoteEvent
	OIHigh uint32        `json:"oi_high"`
	OILow  uint32        `json:"oi_low"`
	Depth  [5]DepthLevel `json:"depth"`
}

func (e DepthEvent) Kind() Kind { return KindDepth }

// OpenInterestUpdate is a side-channel OI packet.
type OpenInterestUpdate struct {
	Key          InstrumentKey `json:"key"`
	OpenInterest int32         `json:"open_interest"`
}

func (e OpenInterestUpdate) Kind() Kind                   { return KindOpenInterest }
func (e OpenInterestUpdate) InstrumentKey() InstrumentKey { return e.Key }

// PrevCloseUpdate is a side-channel previous-close packet.
type PrevCloseUpdate struct {
	Key       InstrumentKey `json:"key"`
	PrevClose float64       `json:"prev_close"`
	PrevOI    int32         `json:"prev_oi"`
}

func (e PrevCloseUpdate) Kind() Kind                   { return KindPrevClose }
func (e PrevCloseUpdate) InstrumentKey() InstrumentKey { return e.Key }

// MarketStatusEvent carries no payload beyond the header.
type MarketStatusEvent struct {
	Key InstrumentKey `json:"key"`
}

func (e MarketStatusEvent) Kind() Kind                   { return KindMarketStatus }
func (e MarketStatusEvent) InstrumentKey() InstrumentKey { return e.Key }

// DisconnectEvent is sent by the server before it drops the connection.
type DisconnectEvent struct {
	Key    InstrumentKey `json:"key"`
	Reason uint16        `json:"reason"`
}

func (e DisconnectEvent) Kind() Kind                   { return KindDisconnect }
func (e DisconnectEvent) InstrumentKey() InstrumentKey { return e.Key }

// QuoteOf returns the quote part of quote-bearing events.
func QuoteOf(e Event) (QuoteEvent, bool) {
	switch v := e.(type) {
	case QuoteEvent:
		return v, true
	case *QuoteEvent:
		return *v, true
	case DepthEvent:
		return v.QuoteEvent, true
	case *DepthEvent:
		return v.QuoteEvent, true
	}
	return QuoteEvent{}, false
}

// Class is the storage routing class of an instrument.
type Class uint8

const (
	ClassUnroutable Class = iota
	ClassFutures
	ClassOptions
)

func (c Class) String() string {
	switch c {
	case ClassFutures:
		return "futures"
	case ClassOptions:
		return "options"
	default:
		return "unroutable"
	}
}

// ParseClass accepts "futures", "options" or "unroutable".
func ParseClass(s string) (Class, error) {
	switch s {
	case "futures":
		return ClassFutures, nil
	case "options":
		return ClassOptions, nil
	case "unroutable", "":
		return ClassUnroutable, nil
	}
	return ClassUnroutable, fmt.Errorf("unknown class %q", s)
}
