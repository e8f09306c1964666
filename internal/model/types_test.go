package model

import (
	"errors"
	"testing"
	"time"
)

func TestExchangeSegment_String(t *testing.T) {
	tests := []struct {
		seg  ExchangeSegment
		want string
	}{
		{SegmentIndex, "IDX_I"},
		{SegmentNSEEquity, "NSE_EQ"},
		{SegmentNSEFNO, "NSE_FNO"},
		{SegmentMCXCommod, "MCX_COMM"},
		{SegmentBSEFNO, "BSE_FNO"},
		{ExchangeSegment(6), "SEGMENT_6"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.seg.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseExchangeSegment(t *testing.T) {
	seg, err := ParseExchangeSegment("BSE_CURRENCY")
	if err != nil {
		t.Fatalf("ParseExchangeSegment failed: %v", err)
	}
	if seg != SegmentBSECurrency {
		t.Errorf("segment = %d, want %d", seg, SegmentBSECurrency)
	}

	if _, err := ParseExchangeSegment("NYSE"); err == nil {
		t.Error("expected error for unknown segment")
	}
}

func TestInstrumentKey_String(t *testing.T) {
	k := InstrumentKey{Segment: SegmentNSEFNO, SecurityID: 35001}
	if got := k.String(); got != "NSE_FNO:35001" {
		t.Errorf("String() = %q, want %q", got, "NSE_FNO:35001")
	}
}

func TestQuoteOf(t *testing.T) {
	q := QuoteEvent{Key: InstrumentKey{Segment: SegmentNSEFNO, SecurityID: 1}, LTP: 10}

	if got, ok := QuoteOf(q); !ok || got.LTP != 10 {
		t.Errorf("QuoteOf(quote) = %+v, %v", got, ok)
	}
	if got, ok := QuoteOf(DepthEvent{QuoteEvent: q}); !ok || got.Key != q.Key {
		t.Errorf("QuoteOf(depth) = %+v, %v", got, ok)
	}
	if _, ok := QuoteOf(TickerEvent{Key: q.Key}); ok {
		t.Error("QuoteOf(ticker) should be false")
	}
}

func TestParseClass(t *testing.T) {
	tests := []struct {
		in      string
		want    Class
		wantErr bool
	}{
		{"futures", ClassFutures, false},
		{"options", ClassOptions, false},
		{"unroutable", ClassUnroutable, false},
		{"", ClassUnroutable, false},
		{"equity", ClassUnroutable, true},
	}

	for _, tt := range tests {
		got, err := ParseClass(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseClass(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseClass(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestQuoteFields_RoundTrip(t *testing.T) {
	oi := int32(125000)
	pc := 101.25
	q := QuoteEvent{
		Key:          InstrumentKey{Segment: SegmentNSEFNO, SecurityID: 35001},
		LTP:          102.5,
		LTQ:          75,
		LTT:          1705320000,
		ATP:          101.9875,
		Volume:       1500,
		TotalSellQty: 300,
		TotalBuyQty:  450,
		DayOpen:      100,
		DayClose:     101.25,
		DayHigh:      103.1,
		DayLow:       99.55,
		OpenInterest: &oi,
		PrevClose:    &pc,
		ReceivedAt:   time.Date(2024, 1, 15, 12, 0, 0, 123000, time.UTC),
	}

	got, err := ParseQuoteFields(QuoteFields(q))
	if err != nil {
		t.Fatalf("ParseQuoteFields failed: %v", err)
	}

	if got.Key != q.Key {
		t.Errorf("Key = %v, want %v", got.Key, q.Key)
	}
	if got.LTP != q.LTP || got.ATP != q.ATP || got.DayLow != q.DayLow {
		t.Errorf("prices = %v/%v/%v, want %v/%v/%v", got.LTP, got.ATP, got.DayLow, q.LTP, q.ATP, q.DayLow)
	}
	if got.LTT != q.LTT || got.LTQ != q.LTQ || got.Volume != q.Volume {
		t.Errorf("ltt/ltq/volume = %d/%d/%d", got.LTT, got.LTQ, got.Volume)
	}
	if got.OpenInterest == nil || *got.OpenInterest != oi {
		t.Errorf("OpenInterest = %v, want %d", got.OpenInterest, oi)
	}
	if got.PrevClose == nil || *got.PrevClose != pc {
		t.Errorf("PrevClose = %v, want %v", got.PrevClose, pc)
	}
	if !got.ReceivedAt.Equal(q.ReceivedAt) {
		t.Errorf("ReceivedAt = %v, want %v", got.ReceivedAt, q.ReceivedAt)
	}
}

func TestQuoteFields_UnsetOptionalFields(t *testing.T) {
	q := QuoteEvent{Key: InstrumentKey{Segment: SegmentMCXCommod, SecurityID: 9}, ReceivedAt: time.Now()}

	f := QuoteFields(q)
	if _, ok := f[FieldOpenInterest]; ok {
		t.Error("unset OI should not be written")
	}
	if _, ok := f[FieldPrevClose]; ok {
		t.Error("unset prev close should not be written")
	}

	got, err := ParseQuoteFields(f)
	if err != nil {
		t.Fatalf("ParseQuoteFields failed: %v", err)
	}
	if got.OpenInterest != nil || got.PrevClose != nil {
		t.Errorf("optional fields should stay nil, got oi=%v pc=%v", got.OpenInterest, got.PrevClose)
	}
}

func TestParseQuoteFields_Errors(t *testing.T) {
	base := func() map[string]any {
		return QuoteFields(QuoteEvent{Key: InstrumentKey{Segment: SegmentNSEFNO, SecurityID: 1}, ReceivedAt: time.Now()})
	}

	t.Run("missing field", func(t *testing.T) {
		f := base()
		delete(f, FieldLTT)
		if _, err := ParseQuoteFields(f); !errors.Is(err, ErrMissingField) {
			t.Errorf("err = %v, want ErrMissingField", err)
		}
	})

	t.Run("bad number", func(t *testing.T) {
		f := base()
		f[FieldLTP] = "abc"
		if _, err := ParseQuoteFields(f); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("future version", func(t *testing.T) {
		f := base()
		f[FieldVersion] = "2"
		if _, err := ParseQuoteFields(f); !errors.Is(err, ErrUnsupportedVersion) {
			t.Errorf("err = %v, want ErrUnsupportedVersion", err)
		}
	})
}
