package router

import "github.com/rickgao/tickvault/internal/model"

// Table maps an exchange segment to its storage class. Segments missing from
// the table are unroutable.
type Table map[model.ExchangeSegment]model.Class

// DefaultTable routes derivatives segments to options storage and
// commodity/currency segments to futures storage. Equity and index segments
// are unroutable.
func DefaultTable() Table {
	return Table{
		model.SegmentNSEFNO:      model.ClassOptions,
		model.SegmentBSEFNO:      model.ClassOptions,
		model.SegmentMCXCommod:   model.ClassFutures,
		model.SegmentNSECurrency: model.ClassFutures,
		model.SegmentBSECurrency: model.ClassFutures,
	}
}

// With returns a copy of t with overrides applied. An override to
// ClassUnroutable removes the segment.
func (t Table) With(overrides map[model.ExchangeSegment]model.Class) Table {
	out := make(Table, len(t)+len(overrides))
	for seg, class := range t {
		out[seg] = class
	}
	for seg, class := range overrides {
		if class == model.ClassUnroutable {
			delete(out, seg)
			continue
		}
		out[seg] = class
	}
	return out
}

// Lookup returns the class for seg.
func (t Table) Lookup(seg model.ExchangeSegment) model.Class {
	if class, ok := t[seg]; ok {
		return class
	}
	return model.ClassUnroutable
}

// Stats contains runtime statistics.
type Stats struct {
	Futures    int64
	Options    int64
	Unroutable int64
}

// Total returns the number of routed events, unroutable included.
func (s Stats) Total() int64 {
	return s.Futures + s.Options + s.Unroutable
}
