package ledger

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/nxledger/internal/model"
)

func records(items ...model.CartItem) []model.PartRecord {
	var recs []model.PartRecord
	for _, item := range items {
		if item.IsSerialized() {
			recs = append(recs, model.PartRecord{NXID: item.NXID, Serial: item.Serial})
			continue
		}
		for range item.Quantity {
			recs = append(recs, model.PartRecord{NXID: item.NXID})
		}
	}
	return recs
}

func TestDiffGolden(t *testing.T) {
	desired := []model.CartItem{
		qty("PNX1", 3),
		serial("PNX2", "SN1"),
		serial("PNX2", "SN3"),
		qty("PNX4", 2),
	}
	current := records(
		qty("PNX1", 5),
		serial("PNX2", "SN1"),
		serial("PNX2", "SN2"),
		qty("PNX4", 1),
		qty("PNX5", 2),
	)

	added, removed, err := Diff(desired, current)
	require.NoError(t, err)

	out, err := json.MarshalIndent(struct {
		Added   []model.CartItem `json:"added"`
		Removed []model.CartItem `json:"removed"`
	}{added, removed}, "", "  ")
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "diff_mixed", append(out, '\n'))
}

func TestDiffScenarios(t *testing.T) {
	tests := []struct {
		name    string
		desired []model.CartItem
		current []model.PartRecord
		added   []model.CartItem
		removed []model.CartItem
	}{
		{
			name:    "fewer units requested",
			desired: []model.CartItem{qty("P1", 3)},
			current: records(qty("P1", 5)),
			removed: []model.CartItem{qty("P1", 2)},
		},
		{
			name:    "more units requested",
			desired: []model.CartItem{qty("P1", 5)},
			current: records(qty("P1", 3)),
			added:   []model.CartItem{qty("P1", 2)},
		},
		{
			name:    "new serial",
			desired: []model.CartItem{serial("P2", "SN1")},
			added:   []model.CartItem{serial("P2", "SN1")},
		},
		{
			name:    "emptied",
			current: records(qty("P1", 2), serial("P2", "SN1")),
			removed: []model.CartItem{qty("P1", 2), serial("P2", "SN1")},
		},
		{
			name:    "same serial under another nxid",
			desired: []model.CartItem{serial("P3", "SN1")},
			current: records(serial("P2", "SN1")),
			added:   []model.CartItem{serial("P3", "SN1")},
			removed: []model.CartItem{serial("P2", "SN1")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			added, removed, err := Diff(tt.desired, tt.current)
			require.NoError(t, err)
			assert.Equal(t, tt.added, added)
			assert.Equal(t, tt.removed, removed)
		})
	}
}

func TestDiffSymmetry(t *testing.T) {
	carts := [][]model.CartItem{
		nil,
		{qty("P1", 1)},
		{qty("P1", 4), serial("P2", "A"), serial("P2", "B"), qty("P3", 2)},
	}
	for _, cart := range carts {
		added, removed, err := Diff(cart, records(cart...))
		require.NoError(t, err)
		assert.Empty(t, added)
		assert.Empty(t, removed)
	}
}

func TestDiffMalformed(t *testing.T) {
	added, removed, err := Diff(
		[]model.CartItem{qty("P1", 2), {NXID: "P2"}},
		records(qty("P1", 5)),
	)
	assert.ErrorIs(t, err, ErrMalformedCart)
	assert.Empty(t, added)
	assert.Empty(t, removed)
}
