package store

import (
	"context"
	"time"

	"github.com/erazemk/nxledger/internal/db"
	"github.com/erazemk/nxledger/internal/model"
)

// Backend exposes the package functions as methods so the ledger can take
// its storage as an interface.
type Backend struct {
	DB *db.DB
}

// NewBackend returns a Backend over the database.
func NewBackend(database *db.DB) *Backend {
	return &Backend{DB: database}
}

func (b *Backend) GetRecord(ctx context.Context, id string) (*model.PartRecord, error) {
	return GetRecord(ctx, b.DB, id)
}

func (b *Backend) FindRecord(ctx context.Context, f model.PartFilter) (*model.PartRecord, error) {
	return FindRecord(ctx, b.DB, f)
}

func (b *Backend) FindRecords(ctx context.Context, f model.PartFilter) ([]model.PartRecord, error) {
	return FindRecords(ctx, b.DB, f)
}

func (b *Backend) CountRecords(ctx context.Context, f model.PartFilter) (int, error) {
	return CountRecords(ctx, b.DB, f)
}

func (b *Backend) CreateRecord(ctx context.Context, rec *model.PartRecord) error {
	return CreateRecord(ctx, b.DB, rec)
}

func (b *Backend) SupersedeRecord(ctx context.Context, predID string, succ *model.PartRecord) error {
	return SupersedeRecord(ctx, b.DB, predID, succ)
}

func (b *Backend) CloseRecord(ctx context.Context, id string, next *model.PartRecord, at time.Time) error {
	return CloseRecord(ctx, b.DB, id, next, at)
}

func (b *Backend) RevertRecord(ctx context.Context, predID, succID string) error {
	return RevertRecord(ctx, b.DB, predID, succID)
}

func (b *Backend) GroupRecords(ctx context.Context, f model.PartFilter, byNextOwner bool) ([]model.PartGroup, error) {
	return GroupRecords(ctx, b.DB, f, byNextOwner)
}

func (b *Backend) RecordDates(ctx context.Context, f model.PartFilter) ([]time.Time, error) {
	return RecordDates(ctx, b.DB, f)
}

func (b *Backend) ContainerHead(ctx context.Context, kind model.ContainerKind, tag string) (*model.Container, error) {
	return ContainerHead(ctx, b.DB, kind, tag)
}

func (b *Backend) FindContainers(ctx context.Context, f model.ContainerFilter) ([]model.Container, error) {
	return FindContainers(ctx, b.DB, f)
}

func (b *Backend) CreateContainer(ctx context.Context, c *model.Container) error {
	return CreateContainer(ctx, b.DB, c)
}

func (b *Backend) SupersedeContainer(ctx context.Context, predID string, succ *model.Container) error {
	return SupersedeContainer(ctx, b.DB, predID, succ)
}

func (b *Backend) CloseContainer(ctx context.Context, kind model.ContainerKind, id string, next *model.Container, at time.Time) error {
	return CloseContainer(ctx, b.DB, kind, id, next, at)
}

func (b *Backend) TouchContainer(ctx context.Context, kind model.ContainerKind, id string, at time.Time) error {
	return TouchContainer(ctx, b.DB, kind, id, at)
}

func (b *Backend) PartTypes(ctx context.Context, nxids []string) (map[string]model.PartType, error) {
	return GetPartTypes(ctx, b.DB, nxids)
}
