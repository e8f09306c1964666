package router

import (
	"sync"
	"testing"

	"github.com/rickgao/tickvault/internal/model"
)

func quote(seg model.ExchangeSegment) model.QuoteEvent {
	return model.QuoteEvent{Key: model.InstrumentKey{Segment: seg, SecurityID: 1}}
}

func TestRouter_DefaultTable(t *testing.T) {
	tests := []struct {
		seg  model.ExchangeSegment
		want model.Class
	}{
		{model.SegmentNSEFNO, model.ClassOptions},
		{model.SegmentBSEFNO, model.ClassOptions},
		{model.SegmentMCXCommod, model.ClassFutures},
		{model.SegmentNSECurrency, model.ClassFutures},
		{model.SegmentBSECurrency, model.ClassFutures},
		{model.SegmentIndex, model.ClassUnroutable},
		{model.SegmentNSEEquity, model.ClassUnroutable},
		{model.SegmentBSEEquity, model.ClassUnroutable},
		{model.ExchangeSegment(6), model.ClassUnroutable},
		{model.ExchangeSegment(200), model.ClassUnroutable},
	}

	r := New(nil)
	for _, tt := range tests {
		t.Run(tt.seg.String(), func(t *testing.T) {
			if got := r.Route(quote(tt.seg)); got != tt.want {
				t.Errorf("Route(%s) = %s, want %s", tt.seg, got, tt.want)
			}
		})
	}

	stats := r.Stats()
	if stats.Options != 2 || stats.Futures != 3 || stats.Unroutable != 5 {
		t.Errorf("Stats() = %+v, want 3 futures, 2 options, 5 unroutable", stats)
	}
	if stats.Total() != int64(len(tests)) {
		t.Errorf("Total() = %d, want %d", stats.Total(), len(tests))
	}
}

func TestRouter_RoutesDepthEvents(t *testing.T) {
	r := New(nil)
	ev := model.DepthEvent{QuoteEvent: quote(model.SegmentMCXCommod)}

	if got := r.Route(ev); got != model.ClassFutures {
		t.Errorf("Route(depth) = %s, want futures", got)
	}
}

func TestTable_With(t *testing.T) {
	base := DefaultTable()
	table := base.With(map[model.ExchangeSegment]model.Class{
		model.SegmentNSEEquity:   model.ClassFutures,
		model.SegmentBSECurrency: model.ClassUnroutable,
		model.SegmentBSEFNO:      model.ClassFutures,
	})

	if got := table.Lookup(model.SegmentNSEEquity); got != model.ClassFutures {
		t.Errorf("NSE_EQ = %s, want futures", got)
	}
	if got := table.Lookup(model.SegmentBSECurrency); got != model.ClassUnroutable {
		t.Errorf("BSE_CURRENCY = %s, want unroutable", got)
	}
	if got := table.Lookup(model.SegmentBSEFNO); got != model.ClassFutures {
		t.Errorf("BSE_FNO = %s, want futures", got)
	}

	// base is untouched
	if got := base.Lookup(model.SegmentBSEFNO); got != model.ClassOptions {
		t.Errorf("base BSE_FNO = %s, want options", got)
	}
}

func TestRouter_TableIsCopied(t *testing.T) {
	table := DefaultTable()
	r := New(table)
	table[model.SegmentNSEFNO] = model.ClassFutures

	if got := r.Classify(model.SegmentNSEFNO); got != model.ClassOptions {
		t.Errorf("Classify(NSE_FNO) = %s after caller mutation, want options", got)
	}
}

func TestRouter_Concurrent(t *testing.T) {
	r := New(nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				r.Route(quote(model.SegmentNSEFNO))
			}
		}()
	}
	wg.Wait()

	if got := r.Stats().Options; got != 8000 {
		t.Errorf("Options = %d, want 8000", got)
	}
}
