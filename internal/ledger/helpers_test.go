package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/erazemk/nxledger/internal/alert"
	"github.com/erazemk/nxledger/internal/db"
	"github.com/erazemk/nxledger/internal/lock"
	"github.com/erazemk/nxledger/internal/model"
	"github.com/erazemk/nxledger/internal/store"
)

// Part types seeded into every fixture.
const (
	bulkPart   = "PNX000001"
	serialPart = "PNX000002"
	otherPart  = "PNX000003"
)

// clock hands out strictly increasing instants one minute apart.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Minute)
	return c.t
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, a alert.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return nil
}

func (n *recordingNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, a := range n.alerts {
		out = append(out, a.Kind)
	}
	return out
}

type fixture struct {
	ctx     context.Context
	store   *store.Backend
	writer  *Writer
	service *Service
	history *Reconstructor
	auditor *Auditor
	alerts  *recordingNotifier
	clock   *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend := store.NewBackend(db.NewTestDB(t))
	return newFixtureWith(t, backend, backend)
}

// newFixtureWith wires the ledger over s, seeding the catalog through backend.
func newFixtureWith(t *testing.T, backend *store.Backend, s Store) *fixture {
	t.Helper()
	ctx := context.Background()

	for _, p := range []model.PartType{
		{NXID: bulkPart, Name: "Fan", Type: "Cooling"},
		{NXID: serialPart, Name: "Disk", Type: "Storage", Serialized: true},
		{NXID: otherPart, Name: "Cable", Type: "Cable"},
	} {
		require.NoError(t, store.CreatePartType(ctx, backend.DB, &p))
	}

	notifier := &recordingNotifier{}
	writer := NewWriter(s, notifier)
	svc := NewService(s, writer, lock.NewLocal())
	c := &clock{t: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)}
	svc.now = c.now

	return &fixture{
		ctx:     ctx,
		store:   backend,
		writer:  writer,
		service: svc,
		history: NewReconstructor(s),
		auditor: NewAuditor(s, notifier),
		alerts:  notifier,
		clock:   c,
	}
}

func (f *fixture) createAsset(t *testing.T, tag string) *model.Container {
	t.Helper()
	res, err := f.service.CreateContainer(f.ctx, ContainerUpdate{
		Container: model.Container{Kind: model.KindAsset, Tag: tag, Building: 1, Location: "Lab"},
		By:        "admin",
	})
	require.NoError(t, err)
	return res.Container
}

func (f *fixture) receive(t *testing.T, to model.Location, items ...model.CartItem) *Result {
	t.Helper()
	res, err := f.service.Receive(f.ctx, ReceiveRequest{Parts: items, To: to, By: "clerk"})
	require.NoError(t, err)
	require.Empty(t, res.Skipped)
	return res
}

func (f *fixture) open(t *testing.T, loc model.Location) []model.PartRecord {
	t.Helper()
	recs, err := f.store.FindRecords(f.ctx, loc.Filter())
	require.NoError(t, err)
	return recs
}

func (f *fixture) count(t *testing.T, filter model.PartFilter) int {
	t.Helper()
	n, err := f.store.CountRecords(f.ctx, filter)
	require.NoError(t, err)
	return n
}

func qty(nxid string, n int) model.CartItem {
	return model.CartItem{NXID: nxid, Quantity: n}
}

func serial(nxid, sn string) model.CartItem {
	return model.CartItem{NXID: nxid, Serial: sn}
}

var errDiskOnFire = errors.New("disk on fire")

// faultyStore injects failures into a real store.
type faultyStore struct {
	*store.Backend

	mu              sync.Mutex
	supersedeCalls  int
	failSupersedeAt int
	failRevert      bool
	beforeSupersede func(predID string)
}

func (s *faultyStore) SupersedeRecord(ctx context.Context, predID string, succ *model.PartRecord) error {
	s.mu.Lock()
	s.supersedeCalls++
	call := s.supersedeCalls
	hook := s.beforeSupersede
	s.beforeSupersede = nil
	s.mu.Unlock()

	if hook != nil {
		hook(predID)
	}
	if call == s.failSupersedeAt {
		return errDiskOnFire
	}
	return s.Backend.SupersedeRecord(ctx, predID, succ)
}

func (s *faultyStore) RevertRecord(ctx context.Context, predID, succID string) error {
	if s.failRevert {
		return errDiskOnFire
	}
	return s.Backend.RevertRecord(ctx, predID, succID)
}
