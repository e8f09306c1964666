package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/tickvault/internal/model"
	"github.com/rickgao/tickvault/internal/protocol"
)

const sample = `
classes:
  NSE_EQ: futures
universes:
  - name: nifty-weekly
    mode: quote
    segment: NSE_FNO
    security_ids: [35001, 35002]
  - name: commodities
    mode: full
    instruments:
      - {segment: MCX_COMM, security_id: 426}
      - {segment: NSE_CURRENCY, security_id: 10093}
  - name: sensex
    instruments:
      - {segment: BSE_FNO, security_id: 1122}
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	us := c.Universes()
	require.Len(t, us, 3)

	assert.Equal(t, "nifty-weekly", us[0].Name)
	assert.Equal(t, protocol.ModeQuote, us[0].Mode)
	assert.Equal(t, []model.InstrumentKey{
		{Segment: model.SegmentNSEFNO, SecurityID: 35001},
		{Segment: model.SegmentNSEFNO, SecurityID: 35002},
	}, us[0].Keys)

	assert.Equal(t, protocol.ModeFull, us[1].Mode)
	assert.Equal(t, model.SegmentMCXCommod, us[1].Keys[0].Segment)

	assert.Equal(t, protocol.ModeQuote, us[2].Mode, "mode defaults to quote")
	assert.Equal(t, 5, c.Size())

	assert.Equal(t, map[model.ExchangeSegment]model.Class{
		model.SegmentNSEEquity: model.ClassFutures,
	}, c.ClassOverrides())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "empty",
			yaml:    "universes: []",
			wantErr: ErrEmpty.Error(),
		},
		{
			name:    "bad yaml",
			yaml:    "universes: [",
			wantErr: "parse catalog yaml",
		},
		{
			name:    "missing name",
			yaml:    "universes:\n  - segment: NSE_FNO\n    security_ids: [1]",
			wantErr: "universes[0]: name is required",
		},
		{
			name:    "unknown segment",
			yaml:    "universes:\n  - name: a\n    instruments: [{segment: LSE, security_id: 1}]",
			wantErr: `unknown exchange segment "LSE"`,
		},
		{
			name:    "unknown mode",
			yaml:    "universes:\n  - name: a\n    mode: depth\n    segment: NSE_FNO\n    security_ids: [1]",
			wantErr: `unknown subscription mode "depth"`,
		},
		{
			name:    "segment without ids",
			yaml:    "universes:\n  - name: a\n    segment: NSE_FNO",
			wantErr: "segment given without security_ids",
		},
		{
			name: "duplicate across universes",
			yaml: `universes:
  - name: a
    segment: NSE_FNO
    security_ids: [1]
  - name: b
    instruments: [{segment: NSE_FNO, security_id: 1}]`,
			wantErr: `instrument NSE_FNO:1 already listed in "a"`,
		},
		{
			name:    "duplicate universe name",
			yaml:    "universes:\n  - name: a\n    segment: NSE_FNO\n    security_ids: [1]\n  - name: a\n    segment: NSE_FNO\n    security_ids: [2]",
			wantErr: "duplicate name",
		},
		{
			name:    "bad class",
			yaml:    "classes:\n  NSE_EQ: bonds\nuniverses:\n  - name: a\n    segment: NSE_FNO\n    security_ids: [1]",
			wantErr: `unknown class "bonds"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_UniverseLimit(t *testing.T) {
	ids := make([]string, MaxInstrumentsPerUniverse+1)
	for i := range ids {
		ids[i] = fmt.Sprint(i + 1)
	}
	yaml := "universes:\n  - name: big\n    segment: NSE_FNO\n    security_ids: [" + strings.Join(ids, ",") + "]"

	_, err := Parse([]byte(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds limit of 5000")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0644))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, c.Size())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestAssign(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	plans, err := c.Assign(3, 2)
	require.NoError(t, err)
	require.Len(t, plans, 3)

	// Quote universes come first, then full.
	assert.Equal(t, 0, plans[0].Index)
	require.Len(t, plans[0].Groups, 1)
	assert.Equal(t, protocol.ModeQuote, plans[0].Groups[0].Mode)
	assert.Len(t, plans[0].Groups[0].Keys, 2)

	// sensex (quote) shares the second connection with the first commodity (full).
	require.Len(t, plans[1].Groups, 2)
	assert.Equal(t, protocol.ModeQuote, plans[1].Groups[0].Mode)
	assert.Equal(t, uint32(1122), plans[1].Groups[0].Keys[0].SecurityID)
	assert.Equal(t, protocol.ModeFull, plans[1].Groups[1].Mode)

	assert.Equal(t, 1, plans[2].Size())

	total := 0
	for _, p := range plans {
		assert.LessOrEqual(t, p.Size(), 2)
		total += p.Size()
	}
	assert.Equal(t, c.Size(), total)
}

func TestAssign_SingleConnection(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	plans, err := c.Assign(1, 5000)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Len(t, plans[0].Groups, 2)
	assert.Equal(t, 5, plans[0].Size())
}

func TestAssign_OverCapacity(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	_, err = c.Assign(2, 2)
	assert.Error(t, err)

	_, err = c.Assign(0, 10)
	assert.Error(t, err)
}

func TestLoad_Example(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "configs", "catalog.example.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 9, c.Size())
	assert.Equal(t, map[model.ExchangeSegment]model.Class{
		model.SegmentNSEEquity: model.ClassUnroutable,
	}, c.ClassOverrides())

	plans, err := c.Assign(1, 5000)
	require.NoError(t, err)
	require.Len(t, plans, 1)

	modes := make([]protocol.Mode, 0, len(plans[0].Groups))
	for _, g := range plans[0].Groups {
		modes = append(modes, g.Mode)
	}
	assert.Equal(t, []protocol.Mode{protocol.ModeTicker, protocol.ModeQuote, protocol.ModeFull}, modes)
}
