package model

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// FieldsVersion is the schema version written into every log entry.
const FieldsVersion = 1

// Log entry field names.
const (
	FieldVersion      = "v"
	FieldSegment      = "seg"
	FieldSecurityID   = "sid"
	FieldLTP          = "ltp"
	FieldLTQ          = "ltq"
	FieldLTT          = "ltt"
	FieldATP          = "atp"
	FieldVolume       = "vol"
	FieldTotalSellQty = "tsq"
	FieldTotalBuyQty  = "tbq"
	FieldOpen         = "open"
	FieldClose        = "close"
	FieldHigh         = "high"
	FieldLow          = "low"
	FieldOpenInterest = "oi"
	FieldPrevClose    = "pc"
	FieldReceivedAt   = "recv"
)

// Errors returned by ParseQuoteFields.
var (
	ErrMissingField       = errors.New("missing field")
	ErrUnsupportedVersion = errors.New("unsupported fields version")
)

// QuoteFields flattens a quote into the string-keyed form stored in the durable log.
// Unset optional fields are omitted.
func QuoteFields(q QuoteEvent) map[string]any {
	f := map[string]any{
		FieldVersion:      strconv.Itoa(FieldsVersion),
		FieldSegment:      strconv.FormatUint(uint64(q.Key.Segment), 10),
		FieldSecurityID:   strconv.FormatUint(uint64(q.Key.SecurityID), 10),
		FieldLTP:          formatFloat(q.LTP),
		FieldLTQ:          strconv.FormatUint(uint64(q.LTQ), 10),
		FieldLTT:          strconv.FormatUint(uint64(q.LTT), 10),
		FieldATP:          formatFloat(q.ATP),
		FieldVolume:       strconv.FormatUint(uint64(q.Volume), 10),
		FieldTotalSellQty: strconv.FormatUint(uint64(q.TotalSellQty), 10),
		FieldTotalBuyQty:  strconv.FormatUint(uint64(q.TotalBuyQty), 10),
		FieldOpen:         formatFloat(q.DayOpen),
		FieldClose:        formatFloat(q.DayClose),
		FieldHigh:         formatFloat(q.DayHigh),
		FieldLow:          formatFloat(q.DayLow),
		FieldReceivedAt:   strconv.FormatInt(q.ReceivedAt.UnixMicro(), 10),
	}
	if q.OpenInterest != nil {
		f[FieldOpenInterest] = strconv.FormatInt(int64(*q.OpenInterest), 10)
	}
	if q.PrevClose != nil {
		f[FieldPrevClose] = formatFloat(*q.PrevClose)
	}
	return f
}

// ParseQuoteFields rebuilds a quote from log entry fields. Values may be strings
// (as returned by Redis) or already-typed numbers.
func ParseQuoteFields(f map[string]any) (QuoteEvent, error) {
	p := fieldParser{f: f}

	if v := p.uint(FieldVersion, 8); p.err == nil && v != FieldsVersion {
		return QuoteEvent{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	q := QuoteEvent{
		Key: InstrumentKey{
			Segment:    ExchangeSegment(p.uint(FieldSegment, 8)),
			SecurityID: uint32(p.uint(FieldSecurityID, 32)),
		},
		LTP:          p.float(FieldLTP),
		LTQ:          uint16(p.uint(FieldLTQ, 16)),
		LTT:          uint32(p.uint(FieldLTT, 32)),
		ATP:          p.float(FieldATP),
		Volume:       uint32(p.uint(FieldVolume, 32)),
		TotalSellQty: uint32(p.uint(FieldTotalSellQty, 32)),
		TotalBuyQty:  uint32(p.uint(FieldTotalBuyQty, 32)),
		DayOpen:      p.float(FieldOpen),
		DayClose:     p.float(FieldClose),
		DayHigh:      p.float(FieldHigh),
		DayLow:       p.float(FieldLow),
	}
	recv := p.int(FieldReceivedAt, 64)
	if p.err != nil {
		return QuoteEvent{}, p.err
	}
	q.ReceivedAt = time.UnixMicro(recv).UTC()

	if _, ok := f[FieldOpenInterest]; ok {
		oi := int32(p.int(FieldOpenInterest, 32))
		q.OpenInterest = &oi
	}
	if _, ok := f[FieldPrevClose]; ok {
		pc := p.float(FieldPrevClose)
		q.PrevClose = &pc
	}
	if p.err != nil {
		return QuoteEvent{}, p.err
	}
	return q, nil
}

// fieldParser records the first error and turns later calls into no-ops.
type fieldParser struct {
	f   map[string]any
	err error
}

func (p *fieldParser) raw(name string) (string, bool) {
	if p.err != nil {
		return "", false
	}
	v, ok := p.f[name]
	if !ok {
		p.err = fmt.Errorf("%w: %s", ErrMissingField, name)
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	default:
		return fmt.Sprint(t), true
	}
}

func (p *fieldParser) uint(name string, bits int) uint64 {
	s, ok := p.raw(name)
	if !ok {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		p.err = fmt.Errorf("field %s: %w", name, err)
	}
	return n
}

func (p *fieldParser) int(name string, bits int) int64 {
	s, ok := p.raw(name)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, bits)
	if err != nil {
		p.err = fmt.Errorf("field %s: %w", name, err)
	}
	return n
}

func (p *fieldParser) float(name string) float64 {
	s, ok := p.raw(name)
	if !ok {
		return 0
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = fmt.Errorf("field %s: %w", name, err)
	}
	return n
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
