package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/nxledger/internal/alert"
	"github.com/erazemk/nxledger/internal/model"
)

func TestChainOf(t *testing.T) {
	f := newFixture(t)
	asset := f.createAsset(t, "A1")
	f.receive(t, model.OwnedBy("tech1"), serial(serialPart, "SN1"))

	for _, to := range []model.Location{model.OwnedBy("tech2"), asset.Ref()} {
		res, err := f.service.Transfer(f.ctx, TransferRequest{
			Parts: []model.CartItem{serial(serialPart, "SN1")},
			From:  mustLocation(t, f, "SN1"),
			To:    to,
			By:    "tech2",
		})
		require.NoError(t, err)
		require.True(t, res.Complete())
	}

	history, err := f.auditor.SerialHistory(f.ctx, "SN1")
	require.NoError(t, err)
	require.Len(t, history, 3)

	chain, err := f.auditor.ChainOf(f.ctx, history[1].ID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, history[0].ID, chain[0].ID)
	assert.Equal(t, "tech1", chain[0].Owner)
	assert.Equal(t, "tech2", chain[1].Owner)
	assert.Equal(t, "A1", chain[2].AssetTag)
	assert.True(t, chain[2].IsHead())

	_, err = f.auditor.ChainOf(f.ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	report, err := f.auditor.Verify(f.ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), "issues: %v", report.Issues)
	assert.Equal(t, 4, report.Checked)
}

func mustLocation(t *testing.T, f *fixture, sn string) model.Location {
	t.Helper()
	rec, err := f.store.FindRecord(f.ctx, model.PartFilter{Serial: sn, OpenOnly: true})
	require.NoError(t, err)
	require.NotNil(t, rec)
	loc, err := model.LocationOf(*rec)
	require.NoError(t, err)
	return loc
}

func TestRepairDanglingHead(t *testing.T) {
	f := newFixture(t)
	at := f.clock.now()

	root := &model.PartRecord{NXID: bulkPart}
	root.DateCreated = at
	model.OwnedBy("tech1").Apply(root)
	require.NoError(t, f.store.CreateRecord(f.ctx, root))

	// A successor whose predecessor was never closed.
	succ := &model.PartRecord{NXID: bulkPart}
	succ.DateCreated = f.clock.now()
	succ.Prev = &root.ID
	model.OwnedBy("tech2").Apply(succ)
	require.NoError(t, f.store.CreateRecord(f.ctx, succ))

	report, err := f.auditor.Verify(f.ctx)
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, alert.KindDanglingHead, report.Issues[0].Kind)
	assert.Equal(t, root.ID, report.Issues[0].ID)
	assert.Equal(t, succ.ID, report.Issues[0].Related)

	report, err = f.auditor.Repair(f.ctx)
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	assert.True(t, report.Issues[0].Repaired)
	assert.Contains(t, f.alerts.kinds(), alert.KindDanglingHead)

	fixed, err := f.store.GetRecord(f.ctx, root.ID)
	require.NoError(t, err)
	require.NotNil(t, fixed.Next)
	assert.Equal(t, succ.ID, *fixed.Next)
	assert.Equal(t, "tech2", fixed.NextOwner)
	assert.True(t, fixed.DateReplaced.Equal(succ.DateCreated))

	report, err = f.auditor.Verify(f.ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), "issues: %v", report.Issues)
}

func TestVerifyBrokenLink(t *testing.T) {
	f := newFixture(t)
	f.receive(t, model.OwnedBy("tech1"), qty(bulkPart, 1))
	rec := f.open(t, model.OwnedBy("tech1"))[0]

	ghost := &model.PartRecord{Version: model.Version{ID: "ghost"}}
	require.NoError(t, f.store.CloseRecord(f.ctx, rec.ID, ghost, f.clock.now()))

	report, err := f.auditor.Repair(f.ctx)
	require.NoError(t, err)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, alert.KindBrokenLink, report.Issues[0].Kind)
	assert.False(t, report.Issues[0].Repaired)
	assert.Equal(t, []string{alert.KindBrokenLink}, f.alerts.kinds())
}
