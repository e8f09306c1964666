// Package catalog loads the instrument universes the feeder subscribes to and
// the optional segment classification overrides. The catalog is read once at
// startup and never mutated.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/rickgao/tickvault/internal/model"
	"github.com/rickgao/tickvault/internal/protocol"
)

// MaxInstrumentsPerUniverse bounds one universe to what a single feed
// connection accepts.
const MaxInstrumentsPerUniverse = 5000

var ErrEmpty = errors.New("catalog has no instruments")

// File is the on-disk layout.
//
//	classes:
//	  NSE_EQ: futures
//	universes:
//	  - name: nifty-weekly
//	    mode: quote
//	    segment: NSE_FNO
//	    security_ids: [35001, 35002]
//	    instruments:
//	      - {segment: BSE_FNO, security_id: 1122}
type File struct {
	Classes   map[string]string `yaml:"classes"`
	Universes []UniverseFile    `yaml:"universes"`
}

// UniverseFile is one named group of instruments sharing a mode. Segment and
// SecurityIDs are shorthand for instruments that share a segment.
type UniverseFile struct {
	Name        string           `yaml:"name"`
	Mode        string           `yaml:"mode"`
	Segment     string           `yaml:"segment"`
	SecurityIDs []uint32         `yaml:"security_ids"`
	Instruments []InstrumentFile `yaml:"instruments"`
}

// InstrumentFile is one explicitly listed instrument.
type InstrumentFile struct {
	Segment    string `yaml:"segment"`
	SecurityID uint32 `yaml:"security_id"`
}

// Universe is a resolved, validated group.
type Universe struct {
	Name string
	Mode protocol.Mode
	Keys []model.InstrumentKey
}

// Catalog is the resolved catalog.
type Catalog struct {
	universes []Universe
	classes   map[model.ExchangeSegment]model.Class
}

// Load reads and validates a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse validates catalog YAML.
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog yaml: %w", err)
	}
	return f.Resolve()
}

// Resolve validates the file and converts names to typed keys.
func (f File) Resolve() (*Catalog, error) {
	c := &Catalog{classes: make(map[model.ExchangeSegment]model.Class, len(f.Classes))}

	for segName, className := range f.Classes {
		seg, err := model.ParseExchangeSegment(segName)
		if err != nil {
			return nil, fmt.Errorf("classes: %w", err)
		}
		class, err := model.ParseClass(className)
		if err != nil {
			return nil, fmt.Errorf("classes.%s: %w", segName, err)
		}
		c.classes[seg] = class
	}

	seen := make(map[model.InstrumentKey]string)
	names := make(map[string]bool, len(f.Universes))

	for i, uf := range f.Universes {
		if uf.Name == "" {
			return nil, fmt.Errorf("universes[%d]: name is required", i)
		}
		if names[uf.Name] {
			return nil, fmt.Errorf("universe %q: duplicate name", uf.Name)
		}
		names[uf.Name] = true

		u, err := uf.resolve()
		if err != nil {
			return nil, fmt.Errorf("universe %q: %w", uf.Name, err)
		}
		for _, k := range u.Keys {
			if other, dup := seen[k]; dup {
				return nil, fmt.Errorf("universe %q: instrument %s already listed in %q", uf.Name, k, other)
			}
			seen[k] = uf.Name
		}
		c.universes = append(c.universes, u)
	}

	if len(seen) == 0 {
		return nil, ErrEmpty
	}
	return c, nil
}

func (uf UniverseFile) resolve() (Universe, error) {
	mode := protocol.ModeQuote
	if uf.Mode != "" {
		m, err := protocol.ParseMode(uf.Mode)
		if err != nil {
			return Universe{}, err
		}
		mode = m
	}

	u := Universe{Name: uf.Name, Mode: mode}

	if len(uf.SecurityIDs) > 0 {
		seg, err := model.ParseExchangeSegment(uf.Segment)
		if err != nil {
			return Universe{}, fmt.Errorf("segment: %w", err)
		}
		for _, id := range uf.SecurityIDs {
			u.Keys = append(u.Keys, model.InstrumentKey{Segment: seg, SecurityID: id})
		}
	} else if uf.Segment != "" {
		return Universe{}, errors.New("segment given without security_ids")
	}

	for j, inst := range uf.Instruments {
		seg, err := model.ParseExchangeSegment(inst.Segment)
		if err != nil {
			return Universe{}, fmt.Errorf("instruments[%d]: %w", j, err)
		}
		u.Keys = append(u.Keys, model.InstrumentKey{Segment: seg, SecurityID: inst.SecurityID})
	}

	if len(u.Keys) == 0 {
		return Universe{}, errors.New("no instruments")
	}
	if len(u.Keys) > MaxInstrumentsPerUniverse {
		return Universe{}, fmt.Errorf("%d instruments exceeds limit of %d", len(u.Keys), MaxInstrumentsPerUniverse)
	}
	return u, nil
}

// Universes returns the resolved universes in file order.
func (c *Catalog) Universes() []Universe {
	out := make([]Universe, len(c.universes))
	copy(out, c.universes)
	return out
}

// Size returns the total number of instruments.
func (c *Catalog) Size() int {
	n := 0
	for _, u := range c.universes {
		n += len(u.Keys)
	}
	return n
}

// ClassOverrides returns the segment classification overrides.
func (c *Catalog) ClassOverrides() map[model.ExchangeSegment]model.Class {
	out := make(map[model.ExchangeSegment]model.Class, len(c.classes))
	for seg, class := range c.classes {
		out[seg] = class
	}
	return out
}

// Group is the instruments one connection subscribes to in one mode.
type Group struct {
	Mode protocol.Mode
	Keys []model.InstrumentKey
}

// Plan is the subscription set for one feed connection.
type Plan struct {
	Index  int
	Groups []Group
}

// Size returns the number of instruments in the plan.
func (p Plan) Size() int {
	n := 0
	for _, g := range p.Groups {
		n += len(g.Keys)
	}
	return n
}

// Assign packs the catalog onto at most maxConns connections of perConn
// instruments each, filling connections in order. Universes may span
// connections. Plans are returned only for connections that received
// instruments.
func (c *Catalog) Assign(maxConns, perConn int) ([]Plan, error) {
	if maxConns < 1 || perConn < 1 {
		return nil, fmt.Errorf("invalid capacity: %d connections x %d instruments", maxConns, perConn)
	}
	if total := c.Size(); total > maxConns*perConn {
		return nil, fmt.Errorf("%d instruments exceed capacity of %d connections x %d", total, maxConns, perConn)
	}

	var plans []Plan
	cur := Plan{Index: 0}
	room := perConn

	push := func(mode protocol.Mode, keys []model.InstrumentKey) {
		n := len(cur.Groups)
		if n > 0 && cur.Groups[n-1].Mode == mode {
			cur.Groups[n-1].Keys = append(cur.Groups[n-1].Keys, keys...)
			return
		}
		cur.Groups = append(cur.Groups, Group{Mode: mode, Keys: append([]model.InstrumentKey(nil), keys...)})
	}

	for _, u := range c.byMode() {
		keys := u.Keys
		for len(keys) > 0 {
			if room == 0 {
				plans = append(plans, cur)
				cur = Plan{Index: len(plans)}
				room = perConn
			}
			n := min(room, len(keys))
			push(u.Mode, keys[:n])
			keys = keys[n:]
			room -= n
		}
	}
	if len(cur.Groups) > 0 {
		plans = append(plans, cur)
	}
	return plans, nil
}

// byMode orders universes so that same-mode universes are adjacent, keeping
// file order within a mode.
func (c *Catalog) byMode() []Universe {
	order := map[protocol.Mode]int{protocol.ModeTicker: 0, protocol.ModeQuote: 1, protocol.ModeFull: 2}
	out := c.Universes()
	sort.SliceStable(out, func(i, j int) bool { return order[out[i].Mode] < order[out[j].Mode] })
	return out
}
