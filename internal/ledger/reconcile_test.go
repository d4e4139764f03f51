package ledger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/nxledger/internal/alert"
	"github.com/erazemk/nxledger/internal/db"
	"github.com/erazemk/nxledger/internal/lock"
	"github.com/erazemk/nxledger/internal/model"
	"github.com/erazemk/nxledger/internal/store"
)

func TestReconcileRemovesOldestUnitsFirst(t *testing.T) {
	f := newFixture(t)
	asset := f.createAsset(t, "A1")
	f.receive(t, asset.Ref(), qty(bulkPart, 5))

	before := f.open(t, asset.Ref())
	require.Len(t, before, 5)

	res, err := f.service.UpdateContainer(f.ctx, ContainerUpdate{
		Container:   *asset,
		Parts:       []model.CartItem{qty(bulkPart, 3)},
		Counterpart: model.OwnedBy("tech1"),
		By:          "tech1",
	})
	require.NoError(t, err)
	assert.Equal(t, []model.CartItem{qty(bulkPart, 2)}, res.Removed)
	assert.Empty(t, res.Added)
	assert.True(t, res.Parts.Complete())
	assert.Len(t, res.Parts.Records, 2)

	moved := f.open(t, model.OwnedBy("tech1"))
	require.Len(t, moved, 2)
	assert.Equal(t, before[0].ID, *moved[0].Prev)
	assert.Equal(t, before[1].ID, *moved[1].Prev)

	for _, id := range []string{before[0].ID, before[1].ID} {
		old, err := f.store.GetRecord(f.ctx, id)
		require.NoError(t, err)
		require.NotNil(t, old.DateReplaced)
		assert.Equal(t, "tech1", old.NextOwner)
		assert.Equal(t, moved[0].DateCreated, *old.DateReplaced)
	}
	assert.Len(t, f.open(t, asset.Ref()), 3)
}

func TestReconcileSerialWithoutPredecessor(t *testing.T) {
	f := newFixture(t)
	asset := f.createAsset(t, "A1")

	res, err := f.service.UpdateContainer(f.ctx, ContainerUpdate{
		Container:   *asset,
		Parts:       []model.CartItem{serial(serialPart, "SN1")},
		Counterpart: model.OwnedBy("tech1"),
		By:          "tech1",
	})
	require.NoError(t, err)
	assert.Equal(t, []model.CartItem{serial(serialPart, "SN1")}, res.Added)
	require.Len(t, res.Parts.Skipped, 1)
	assert.Equal(t, ReasonSerialMissing, res.Parts.Skipped[0].Reason)
	assert.Empty(t, f.open(t, asset.Ref()))

	res, err = f.service.UpdateContainer(f.ctx, ContainerUpdate{
		Container:   *asset,
		Parts:       []model.CartItem{serial(serialPart, "SN1")},
		Counterpart: model.OwnedBy("tech1"),
		By:          "tech1",
		Migrated:    true,
	})
	require.NoError(t, err)
	assert.True(t, res.Parts.Complete())

	recs := f.open(t, asset.Ref())
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].Prev)
	assert.Equal(t, "SN1", recs[0].Serial)
}

func TestApplyMigratedSkipsOpenSerial(t *testing.T) {
	f := newFixture(t)
	f.receive(t, model.OwnedBy("tech1"), serial(serialPart, "SN1"))

	res, err := f.writer.Apply(f.ctx, ApplyRequest{
		Items:    []model.CartItem{serial(serialPart, "SN1"), qty(bulkPart, 2)},
		Create:   model.Room(1, "Kiosk 1"),
		Date:     f.clock.now(),
		By:       "importer",
		Migrated: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []model.CartItem{qty(bulkPart, 2)}, res.Applied)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, ReasonSerialExists, res.Skipped[0].Reason)
	assert.Equal(t, 1, f.count(t, model.PartFilter{Serial: "SN1"}))
}

func TestApplyInsufficientSkipsWholeEntry(t *testing.T) {
	f := newFixture(t)
	f.receive(t, model.OwnedBy("tech1"), qty(bulkPart, 2), qty(otherPart, 4))

	res, err := f.service.Transfer(f.ctx, TransferRequest{
		Parts: []model.CartItem{qty(bulkPart, 3), qty(otherPart, 4)},
		From:  model.OwnedBy("tech1"),
		To:    model.OwnedBy("tech2"),
		By:    "tech1",
	})
	require.NoError(t, err)
	assert.Equal(t, []model.CartItem{qty(otherPart, 4)}, res.Applied)
	assert.Equal(t, []Skip{{Item: qty(bulkPart, 3), Reason: ReasonInsufficient}}, res.Skipped)

	assert.Len(t, f.open(t, model.OwnedBy("tech1")), 2)
	assert.Len(t, f.open(t, model.OwnedBy("tech2")), 4)
}

func TestDryRunWritesNothing(t *testing.T) {
	f := newFixture(t)
	asset := f.createAsset(t, "A1")
	f.receive(t, model.OwnedBy("tech1"), qty(bulkPart, 2))

	res, err := f.service.UpdateContainer(f.ctx, ContainerUpdate{
		Container:   *asset,
		Parts:       []model.CartItem{qty(bulkPart, 2), serial(serialPart, "SN7")},
		Counterpart: model.OwnedBy("tech1"),
		By:          "tech1",
		DryRun:      true,
	})
	require.NoError(t, err)
	assert.True(t, res.Parts.DryRun)
	assert.False(t, res.Parts.Complete())
	assert.Equal(t, []model.CartItem{qty(bulkPart, 2)}, res.Parts.Applied)
	assert.Empty(t, res.Parts.Records)

	assert.Empty(t, f.open(t, asset.Ref()))
	assert.Len(t, f.open(t, model.OwnedBy("tech1")), 2)
}

func TestReconcileConverges(t *testing.T) {
	f := newFixture(t)
	asset := f.createAsset(t, "A1")
	f.receive(t, asset.Ref(), qty(bulkPart, 4), serial(serialPart, "SN1"), serial(serialPart, "SN2"))
	f.receive(t, model.OwnedBy("tech1"), qty(otherPart, 3), qty(bulkPart, 1), serial(serialPart, "SN3"))

	desired := []model.CartItem{
		qty(bulkPart, 5),
		serial(serialPart, "SN2"),
		serial(serialPart, "SN3"),
		qty(otherPart, 2),
	}
	res, err := f.service.UpdateContainer(f.ctx, ContainerUpdate{
		Container:   *asset,
		Parts:       desired,
		Counterpart: model.OwnedBy("tech1"),
		By:          "tech1",
	})
	require.NoError(t, err)
	require.True(t, res.Parts.Complete(), "skipped: %v", res.Parts.Skipped)

	added, removed, err := Diff(desired, f.open(t, asset.Ref()))
	require.NoError(t, err)
	assert.Empty(t, added)
	assert.Empty(t, removed)

	techParts := f.open(t, model.OwnedBy("tech1"))
	assert.Len(t, techParts, 2) // SN1 and one cable
}

func TestConcurrentTransfersOfOneSerial(t *testing.T) {
	backend := store.NewBackend(db.NewTestDB(t))
	f := newFixtureWith(t, backend, backend)
	f.receive(t, model.OwnedBy("tech1"), serial(serialPart, "SN9"))

	// Separate lockers so only the chain's compare-and-set arbitrates.
	results := make([]*Result, 2)
	var wg sync.WaitGroup
	for i, to := range []string{"tech2", "tech3"} {
		svc := NewService(backend, NewWriter(backend, f.alerts), lock.NewLocal())
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Transfer(f.ctx, TransferRequest{
				Parts: []model.CartItem{serial(serialPart, "SN9")},
				From:  model.OwnedBy("tech1"),
				To:    model.OwnedBy(to),
				By:    to,
			})
			assert.NoError(t, err)
			results[i] = res
		}()
	}
	wg.Wait()

	applied := 0
	for _, res := range results {
		require.NotNil(t, res)
		applied += len(res.Applied)
	}
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, f.count(t, model.PartFilter{Serial: "SN9", OpenOnly: true}))

	report, err := f.auditor.Verify(f.ctx)
	require.NoError(t, err)
	assert.True(t, report.OK(), "issues: %v", report.Issues)
}

func TestConcurrentTransfersNeverSplitAnEntry(t *testing.T) {
	backend := store.NewBackend(db.NewTestDB(t))
	f := newFixtureWith(t, backend, backend)
	f.receive(t, model.OwnedBy("tech1"), qty(bulkPart, 4))

	var wg sync.WaitGroup
	for _, to := range []string{"tech2", "tech3"} {
		svc := NewService(backend, NewWriter(backend, f.alerts), lock.NewLocal())
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Transfer(f.ctx, TransferRequest{
				Parts: []model.CartItem{qty(bulkPart, 3)},
				From:  model.OwnedBy("tech1"),
				To:    model.OwnedBy(to),
				By:    to,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got2 := len(f.open(t, model.OwnedBy("tech2")))
	got3 := len(f.open(t, model.OwnedBy("tech3")))
	assert.ElementsMatch(t, []int{0, 3}, []int{got2, got3})
	assert.Len(t, f.open(t, model.OwnedBy("tech1")), 1)
	assert.Equal(t, 4, f.count(t, model.PartFilter{OpenOnly: true}))
}

func TestConflictReselectsCandidate(t *testing.T) {
	backend := store.NewBackend(db.NewTestDB(t))
	faulty := &faultyStore{Backend: backend}
	f := newFixtureWith(t, backend, faulty)
	f.receive(t, model.OwnedBy("tech1"), qty(bulkPart, 3))

	faulty.beforeSupersede = func(predID string) {
		thief := &model.PartRecord{NXID: bulkPart}
		thief.DateCreated = f.clock.now()
		thief.By = "thief"
		model.OwnedBy("thief").Apply(thief)
		require.NoError(t, backend.SupersedeRecord(f.ctx, predID, thief))
	}

	res, err := f.service.Transfer(f.ctx, TransferRequest{
		Parts: []model.CartItem{qty(bulkPart, 2)},
		From:  model.OwnedBy("tech1"),
		To:    model.OwnedBy("tech2"),
		By:    "tech2",
	})
	require.NoError(t, err)
	assert.True(t, res.Complete())
	assert.Len(t, f.open(t, model.OwnedBy("tech2")), 2)
	assert.Len(t, f.open(t, model.OwnedBy("thief")), 1)
	assert.Empty(t, f.open(t, model.OwnedBy("tech1")))
}

func TestConflictWithoutCandidateUnwindsEntry(t *testing.T) {
	backend := store.NewBackend(db.NewTestDB(t))
	faulty := &faultyStore{Backend: backend}
	f := newFixtureWith(t, backend, faulty)
	f.receive(t, model.OwnedBy("tech1"), qty(bulkPart, 2))

	// The second unit is taken while the first is being moved.
	recs := f.open(t, model.OwnedBy("tech1"))
	faulty.beforeSupersede = func(string) {
		thief := &model.PartRecord{NXID: bulkPart}
		thief.DateCreated = f.clock.now()
		thief.By = "thief"
		model.OwnedBy("thief").Apply(thief)
		require.NoError(t, backend.SupersedeRecord(f.ctx, recs[1].ID, thief))
	}

	res, err := f.service.Transfer(f.ctx, TransferRequest{
		Parts: []model.CartItem{qty(bulkPart, 2)},
		From:  model.OwnedBy("tech1"),
		To:    model.OwnedBy("tech2"),
		By:    "tech2",
	})
	require.NoError(t, err)
	assert.Equal(t, []Skip{{Item: qty(bulkPart, 2), Reason: ReasonConflict}}, res.Skipped)
	assert.Empty(t, f.open(t, model.OwnedBy("tech2")))
	assert.Len(t, f.open(t, model.OwnedBy("tech1")), 1)

	first, err := f.store.GetRecord(f.ctx, recs[0].ID)
	require.NoError(t, err)
	assert.True(t, first.IsHead())
}

func TestStorageErrorUnwindsRequest(t *testing.T) {
	backend := store.NewBackend(db.NewTestDB(t))
	faulty := &faultyStore{Backend: backend}
	f := newFixtureWith(t, backend, faulty)
	f.receive(t, model.OwnedBy("tech1"), qty(bulkPart, 2), qty(otherPart, 2))
	total := f.count(t, model.PartFilter{})

	faulty.failSupersedeAt = 3
	_, err := f.service.Transfer(f.ctx, TransferRequest{
		Parts: []model.CartItem{qty(bulkPart, 2), qty(otherPart, 2)},
		From:  model.OwnedBy("tech1"),
		To:    model.OwnedBy("tech2"),
		By:    "tech2",
	})
	require.ErrorIs(t, err, errDiskOnFire)

	assert.Len(t, f.open(t, model.OwnedBy("tech1")), 4)
	assert.Empty(t, f.open(t, model.OwnedBy("tech2")))
	assert.Equal(t, total, f.count(t, model.PartFilter{}))
	assert.Empty(t, f.alerts.kinds())
}

func TestUnwindFailureAlerts(t *testing.T) {
	backend := store.NewBackend(db.NewTestDB(t))
	faulty := &faultyStore{Backend: backend}
	f := newFixtureWith(t, backend, faulty)
	f.receive(t, model.OwnedBy("tech1"), qty(bulkPart, 1), qty(otherPart, 1))

	faulty.failSupersedeAt = 2
	faulty.failRevert = true
	_, err := f.service.Transfer(f.ctx, TransferRequest{
		Parts: []model.CartItem{qty(bulkPart, 1), qty(otherPart, 1)},
		From:  model.OwnedBy("tech1"),
		To:    model.OwnedBy("tech2"),
		By:    "tech2",
	})
	require.ErrorIs(t, err, errDiskOnFire)
	assert.Equal(t, []string{alert.KindUnwindFailed}, f.alerts.kinds())
	assert.Len(t, f.open(t, model.OwnedBy("tech2")), 1)
}

func TestCreateContainerStorageErrorDiscardsHead(t *testing.T) {
	backend := store.NewBackend(db.NewTestDB(t))
	faulty := &faultyStore{Backend: backend}
	f := newFixtureWith(t, backend, faulty)
	f.receive(t, model.OwnedBy("tech1"), qty(bulkPart, 2))

	create := ContainerUpdate{
		Container:   model.Container{Kind: model.KindAsset, Tag: "A1", Building: 1, Location: "Lab"},
		Parts:       []model.CartItem{qty(bulkPart, 2)},
		Counterpart: model.OwnedBy("tech1"),
		By:          "tech1",
	}

	faulty.failSupersedeAt = 2
	_, err := f.service.CreateContainer(f.ctx, create)
	require.ErrorIs(t, err, errDiskOnFire)

	head, err := f.store.ContainerHead(f.ctx, model.KindAsset, "A1")
	require.NoError(t, err)
	assert.Nil(t, head)
	assert.Len(t, f.open(t, model.OwnedBy("tech1")), 2)

	faulty.failSupersedeAt = 0
	res, err := f.service.CreateContainer(f.ctx, create)
	require.NoError(t, err)
	assert.True(t, res.Parts.Complete())
	assert.Len(t, f.open(t, model.InContainer(model.KindAsset, "A1")), 2)
}
