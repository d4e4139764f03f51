// Package ledger implements the versioned-record inventory ledger: cart
// normalization, membership diffs, reconciliation writes and temporal
// reconstruction of container history.
package ledger

import (
	"context"
	"time"

	"github.com/erazemk/nxledger/internal/model"
)

// RecordStore persists part record chains. Lookups that find nothing return
// nil without an error.
type RecordStore interface {
	GetRecord(ctx context.Context, id string) (*model.PartRecord, error)
	FindRecord(ctx context.Context, f model.PartFilter) (*model.PartRecord, error)
	FindRecords(ctx context.Context, f model.PartFilter) ([]model.PartRecord, error)
	CountRecords(ctx context.Context, f model.PartFilter) (int, error)
	CreateRecord(ctx context.Context, rec *model.PartRecord) error
	SupersedeRecord(ctx context.Context, predID string, succ *model.PartRecord) error
	CloseRecord(ctx context.Context, id string, next *model.PartRecord, at time.Time) error
	RevertRecord(ctx context.Context, predID, succID string) error
	GroupRecords(ctx context.Context, f model.PartFilter, byNextOwner bool) ([]model.PartGroup, error)
	RecordDates(ctx context.Context, f model.PartFilter) ([]time.Time, error)
}

// ContainerStore persists asset, pallet and box chains.
type ContainerStore interface {
	ContainerHead(ctx context.Context, kind model.ContainerKind, tag string) (*model.Container, error)
	FindContainers(ctx context.Context, f model.ContainerFilter) ([]model.Container, error)
	CreateContainer(ctx context.Context, c *model.Container) error
	SupersedeContainer(ctx context.Context, predID string, succ *model.Container) error
	CloseContainer(ctx context.Context, kind model.ContainerKind, id string, next *model.Container, at time.Time) error
	TouchContainer(ctx context.Context, kind model.ContainerKind, id string, at time.Time) error
}

// Catalog looks up part types by NXID.
type Catalog interface {
	PartTypes(ctx context.Context, nxids []string) (map[string]model.PartType, error)
}

// Store is everything the ledger needs from storage.
type Store interface {
	RecordStore
	ContainerStore
	Catalog
}

// Now returns the current instant at storage precision. Every write of one
// request uses a single instant so the reconstructor can group it.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
