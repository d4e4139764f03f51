package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/nxledger/internal/model"
)

func TestUpdateContainerAttributesOnly(t *testing.T) {
	f := newFixture(t)
	asset := f.createAsset(t, "A1")
	f.receive(t, asset.Ref(), qty(bulkPart, 2))

	edited := *asset
	edited.Notes = "rack 4"
	edited.Attributes = map[string]string{"chassis": "R740"}

	res, err := f.service.UpdateContainer(f.ctx, ContainerUpdate{Container: edited, By: "tech1"})
	require.NoError(t, err)
	assert.True(t, res.Reversioned)
	assert.Nil(t, res.Parts)
	require.NotNil(t, res.Container.Prev)
	assert.Equal(t, asset.ID, *res.Container.Prev)
	assert.Equal(t, "rack 4", res.Container.Notes)

	head, err := f.store.ContainerHead(f.ctx, model.KindAsset, "A1")
	require.NoError(t, err)
	assert.Equal(t, res.Container.ID, head.ID)
	assert.Equal(t, "R740", head.Attributes["chassis"])
	assert.Len(t, f.open(t, asset.Ref()), 2)
}

func TestUpdateContainerMembershipTouchesHead(t *testing.T) {
	f := newFixture(t)
	asset := f.createAsset(t, "A1")
	f.receive(t, model.OwnedBy("tech1"), qty(bulkPart, 2))

	res, err := f.service.UpdateContainer(f.ctx, ContainerUpdate{
		Container:   *asset,
		Parts:       []model.CartItem{qty(bulkPart, 2)},
		Counterpart: model.OwnedBy("tech1"),
		By:          "tech1",
	})
	require.NoError(t, err)
	assert.False(t, res.Reversioned)

	head, err := f.store.ContainerHead(f.ctx, model.KindAsset, "A1")
	require.NoError(t, err)
	assert.Equal(t, asset.ID, head.ID)
	assert.True(t, head.DateUpdated.After(asset.DateUpdated))
	assert.Equal(t, asset.DateCreated, head.DateCreated)
}

func TestUpdateContainerErrors(t *testing.T) {
	f := newFixture(t)
	asset := f.createAsset(t, "A1")

	_, err := f.service.UpdateContainer(f.ctx, ContainerUpdate{
		Container: model.Container{Kind: model.KindAsset, Tag: "missing"},
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.service.UpdateContainer(f.ctx, ContainerUpdate{
		Container:   *asset,
		Parts:       []model.CartItem{qty("PNX404", 1)},
		Counterpart: model.OwnedBy("tech1"),
	})
	assert.ErrorIs(t, err, ErrInvalidCart)

	onPallet := *asset
	onPallet.PalletTag = "P404"
	_, err = f.service.UpdateContainer(f.ctx, ContainerUpdate{Container: onPallet})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.service.CreateContainer(f.ctx, ContainerUpdate{
		Container: model.Container{Kind: model.KindPallet, Tag: "P1", PalletTag: "P2"},
	})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = f.service.CreateContainer(f.ctx, ContainerUpdate{
		Container: model.Container{Kind: model.KindAsset, Tag: "A1"},
	})
	assert.ErrorIs(t, err, model.ErrExists)
}

func TestCreateContainerWithParts(t *testing.T) {
	f := newFixture(t)
	f.receive(t, model.OwnedBy("tech1"), qty(bulkPart, 3), serial(serialPart, "SN1"))

	res, err := f.service.CreateContainer(f.ctx, ContainerUpdate{
		Container:   model.Container{Kind: model.KindBox, Tag: "B1", Building: 1, Location: "Storage"},
		Parts:       []model.CartItem{qty(bulkPart, 2), serial(serialPart, "SN1")},
		Counterpart: model.OwnedBy("tech1"),
		By:          "tech1",
	})
	require.NoError(t, err)
	assert.True(t, res.Parts.Complete())

	box := model.InContainer(model.KindBox, "B1")
	recs := f.open(t, box)
	require.Len(t, recs, 3)
	for _, rec := range recs {
		assert.Equal(t, model.LocationNameBox, rec.Location)
		assert.Equal(t, "B1", rec.BoxTag)
		assert.Empty(t, rec.Owner)
	}
}

func TestDeleteContainer(t *testing.T) {
	f := newFixture(t)
	asset := f.createAsset(t, "A1")
	f.receive(t, asset.Ref(), qty(bulkPart, 1))

	err := f.service.DeleteContainer(f.ctx, model.KindAsset, "A1", "admin")
	assert.ErrorIs(t, err, ErrNotEmpty)

	_, err = f.service.Transfer(f.ctx, TransferRequest{
		Parts: []model.CartItem{qty(bulkPart, 1)},
		From:  asset.Ref(),
		To:    model.Deleted(),
		By:    "admin",
	})
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteContainer(f.ctx, model.KindAsset, "A1", "admin"))
	head, err := f.store.ContainerHead(f.ctx, model.KindAsset, "A1")
	require.NoError(t, err)
	assert.Nil(t, head)

	err = f.service.DeleteContainer(f.ctx, model.KindAsset, "A1", "admin")
	assert.ErrorIs(t, err, ErrNotFound)

	// The tag can be reused once the old chain is terminated.
	f.createAsset(t, "A1")
}

func TestDeletePalletWithAsset(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.CreateContainer(f.ctx, ContainerUpdate{
		Container: model.Container{Kind: model.KindPallet, Tag: "P1", Building: 1, Location: "Dock"},
	})
	require.NoError(t, err)
	_, err = f.service.CreateContainer(f.ctx, ContainerUpdate{
		Container: model.Container{Kind: model.KindAsset, Tag: "A9", Building: 1, Location: model.LocationNamePallet, PalletTag: "P1"},
	})
	require.NoError(t, err)

	err = f.service.DeleteContainer(f.ctx, model.KindPallet, "P1", "admin")
	assert.ErrorIs(t, err, ErrNotEmpty)
}

func TestTransferValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Transfer(f.ctx, TransferRequest{
		Parts: []model.CartItem{qty(bulkPart, 1)},
		From:  model.OwnedBy("tech1"),
		To:    model.OwnedBy("tech1"),
	})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = f.service.Transfer(f.ctx, TransferRequest{
		Parts: []model.CartItem{qty(bulkPart, 1)},
		From:  model.Deleted(),
		To:    model.OwnedBy("tech1"),
	})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = f.service.Transfer(f.ctx, TransferRequest{
		Parts: []model.CartItem{qty(bulkPart, 1)},
		From:  model.OwnedBy("tech1"),
		To:    model.InContainer(model.KindBox, "nope"),
	})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.service.Receive(f.ctx, ReceiveRequest{
		Parts: []model.CartItem{qty(bulkPart, 1)},
		To:    model.Deleted(),
	})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestRoomCannotUseReservedName(t *testing.T) {
	f := newFixture(t)
	asset := f.createAsset(t, "A1")
	f.receive(t, asset.Ref(), qty(bulkPart, 3))

	for _, from := range []model.Location{
		model.Room(0, model.LocationNameAsset),
		model.Room(1, model.LocationNameAsset),
	} {
		_, err := f.service.Transfer(f.ctx, TransferRequest{
			Parts: []model.CartItem{qty(bulkPart, 3)},
			From:  from,
			To:    model.OwnedBy("tech1"),
			By:    "tech1",
		})
		assert.ErrorIs(t, err, ErrInvalid, "transfer from %v", from)
	}
	assert.Len(t, f.open(t, asset.Ref()), 3)

	_, err := f.service.Receive(f.ctx, ReceiveRequest{
		Parts: []model.CartItem{qty(bulkPart, 1)},
		To:    model.Room(1, model.LocationNameOwner),
		By:    "clerk",
	})
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Equal(t, 0, f.count(t, model.PartFilter{Location: model.LocationNameOwner}))
}
