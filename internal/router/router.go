// Package router classifies events into storage classes by exchange segment.
package router

import (
	"sync/atomic"

	"github.com/rickgao/tickvault/internal/metrics"
	"github.com/rickgao/tickvault/internal/model"
)

// Router classifies events through a fixed Table. It is safe for concurrent
// use; the table is never mutated after New.
type Router struct {
	table Table

	futures    atomic.Int64
	options    atomic.Int64
	unroutable atomic.Int64
}

// New creates a Router. A nil table means DefaultTable.
func New(table Table) *Router {
	if table == nil {
		table = DefaultTable()
	}
	return &Router{table: table.With(nil)}
}

// Route returns the storage class for ev and counts it.
func (r *Router) Route(ev model.Event) model.Class {
	class := r.table.Lookup(ev.InstrumentKey().Segment)

	switch class {
	case model.ClassFutures:
		r.futures.Add(1)
	case model.ClassOptions:
		r.options.Add(1)
	default:
		r.unroutable.Add(1)
	}
	metrics.RouterRouted.WithLabelValues(class.String()).Inc()

	return class
}

// Classify returns the class for seg without counting.
func (r *Router) Classify(seg model.ExchangeSegment) model.Class {
	return r.table.Lookup(seg)
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	return Stats{
		Futures:    r.futures.Load(),
		Options:    r.options.Load(),
		Unroutable: r.unroutable.Load(),
	}
}
