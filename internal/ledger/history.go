package ledger

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/erazemk/nxledger/internal/metrics"
	"github.com/erazemk/nxledger/internal/model"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Reconstructor answers what a location held at a past instant by replaying
// the version chains that passed through it.
type Reconstructor struct {
	store Store
}

// NewReconstructor returns a Reconstructor over the store.
func NewReconstructor(store Store) *Reconstructor {
	return &Reconstructor{store: store}
}

// EventsAt reconstructs the membership of ref at date. Records created at
// date are added, records replaced at date are removed (grouped by who
// received them), and records spanning date are existing. nxids optionally
// restrict the parts considered.
func (r *Reconstructor) EventsAt(ctx context.Context, ref model.Location, date time.Time, nxids ...string) (*model.Event, error) {
	timer := prometheus.NewTimer(metrics.HistoryQueryDuration.WithLabelValues("events"))
	defer timer.ObserveDuration()

	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return r.eventsAt(ctx, ref, date, nxids)
}

func (r *Reconstructor) eventsAt(ctx context.Context, ref model.Location, date time.Time, nxids []string) (*model.Event, error) {
	date = date.UTC().Truncate(time.Millisecond)
	ev := &model.Event{Date: date}

	base := ref.HistoryFilter()
	base.NXIDs = nxids

	f := base
	f.CreatedAt = &date
	added, err := r.store.GroupRecords(ctx, f, false)
	if err != nil {
		return nil, err
	}

	f = base
	f.ReplacedAt = &date
	removed, err := r.store.GroupRecords(ctx, f, true)
	if err != nil {
		return nil, err
	}

	f = base
	f.ExistingAt = &date
	existing, err := r.store.GroupRecords(ctx, f, false)
	if err != nil {
		return nil, err
	}

	ev.Added = nonNil(added)
	ev.Removed = nonNil(removed)
	ev.Existing = nonNil(existing)

	var boundary *model.Container
	if ref.Kind == model.LocationContainer {
		versions, err := r.store.FindContainers(ctx, model.ContainerFilter{Kind: ref.Container, Tag: ref.Tag})
		if err != nil {
			return nil, err
		}
		ev.Container, boundary = containerAt(versions, date)

		if ref.Container == model.KindPallet {
			if err := r.foldChildren(ctx, ev, ref.Tag, date); err != nil {
				return nil, err
			}
		}
	}

	ev.By = resolveActor(ev, boundary)
	ev.InfoUpdated = boundary != nil || !membershipChanged(ev)
	return ev, nil
}

// containerAt returns the version visible at date, and the version whose
// chain boundary falls on date, if any.
func containerAt(versions []model.Container, date time.Time) (visible, boundary *model.Container) {
	for i := range versions {
		v := &versions[i]
		switch {
		case v.DateCreated.Equal(date):
			boundary = v
		case boundary == nil && v.DateReplaced != nil && v.DateReplaced.Equal(date) && v.IsDeleted():
			boundary = v
		}
		if v.ActiveAt(date) {
			visible = v
		}
	}
	if visible == nil {
		visible = boundary
	}
	if visible == nil && len(versions) > 0 {
		visible = &versions[len(versions)-1]
	}
	return visible, boundary
}

func resolveActor(ev *model.Event, boundary *model.Container) string {
	if boundary != nil {
		return boundary.By
	}
	for _, g := range ev.Added {
		if g.By != "" {
			return g.By
		}
	}
	for _, g := range ev.Removed {
		if g.NextOwner != "" {
			return g.NextOwner
		}
		if g.By != "" {
			return g.By
		}
	}
	if ev.Container != nil {
		return ev.Container.By
	}
	return ""
}

func membershipChanged(ev *model.Event) bool {
	return len(ev.Added) > 0 || len(ev.Removed) > 0 ||
		len(ev.AddedAssets) > 0 || len(ev.RemovedAssets) > 0 ||
		len(ev.AddedBoxes) > 0 || len(ev.RemovedBoxes) > 0
}

// foldChildren adds the assets and boxes that sat on, arrived on, or left the
// pallet at date. A child re-versioned while staying on the pallet counts as existing.
func (r *Reconstructor) foldChildren(ctx context.Context, ev *model.Event, pallet string, date time.Time) error {
	for _, kind := range []model.ContainerKind{model.KindAsset, model.KindBox} {
		versions, err := r.store.FindContainers(ctx, model.ContainerFilter{Kind: kind, PalletTag: pallet})
		if err != nil {
			return err
		}

		existing, added, removed := []model.ContainerRef{}, []model.ContainerRef{}, []model.ContainerRef{}
		for _, v := range versions {
			if v.PalletTag != pallet {
				continue
			}
			ref := model.ContainerRef{ID: v.ID, Tag: v.Tag}
			created := v.DateCreated.Equal(date)
			replaced := v.DateReplaced != nil && v.DateReplaced.Equal(date)
			switch {
			case created && v.PrevPallet != pallet:
				added = append(added, ref)
			case created:
				existing = append(existing, ref)
			case replaced && v.NextPallet != pallet:
				removed = append(removed, ref)
			case v.DateCreated.Before(date) && (v.DateReplaced == nil || v.DateReplaced.After(date)):
				existing = append(existing, ref)
			}
		}

		switch kind {
		case model.KindAsset:
			ev.ExistingAssets, ev.AddedAssets, ev.RemovedAssets = existing, added, removed
		case model.KindBox:
			ev.ExistingBoxes, ev.AddedBoxes, ev.RemovedBoxes = existing, added, removed
		}
	}
	return nil
}

// DistinctDates lists every instant at which ref changed, newest first.
func (r *Reconstructor) DistinctDates(ctx context.Context, ref model.Location) ([]time.Time, error) {
	timer := prometheus.NewTimer(metrics.HistoryQueryDuration.WithLabelValues("dates"))
	defer timer.ObserveDuration()

	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return r.distinctDates(ctx, ref)
}

func (r *Reconstructor) distinctDates(ctx context.Context, ref model.Location) ([]time.Time, error) {
	dates, err := r.store.RecordDates(ctx, ref.HistoryFilter())
	if err != nil {
		return nil, err
	}

	if ref.Kind == model.LocationContainer {
		versions, err := r.store.FindContainers(ctx, model.ContainerFilter{Kind: ref.Container, Tag: ref.Tag})
		if err != nil {
			return nil, err
		}
		for _, v := range versions {
			dates = append(dates, v.DateCreated)
			if v.DateReplaced != nil {
				dates = append(dates, *v.DateReplaced)
			}
		}

		if ref.Container == model.KindPallet {
			for _, kind := range []model.ContainerKind{model.KindAsset, model.KindBox} {
				children, err := r.store.FindContainers(ctx, model.ContainerFilter{Kind: kind, PalletTag: ref.Tag})
				if err != nil {
					return nil, err
				}
				for _, v := range children {
					if v.PalletTag != ref.Tag {
						continue
					}
					if v.PrevPallet != ref.Tag {
						dates = append(dates, v.DateCreated)
					}
					if v.DateReplaced != nil && v.NextPallet != ref.Tag {
						dates = append(dates, *v.DateReplaced)
					}
				}
			}
		}
	}

	slices.SortFunc(dates, func(a, b time.Time) int {
		return cmp.Compare(b.UnixMilli(), a.UnixMilli())
	})
	return slices.CompactFunc(dates, func(a, b time.Time) bool {
		return a.UnixMilli() == b.UnixMilli()
	}), nil
}

// HistoryPage returns one page of events for ref, newest first. Pages are
// numbered from 1 and hold at most maxPageSize events.
func (r *Reconstructor) HistoryPage(ctx context.Context, ref model.Location, page, size int) (*model.HistoryPage, error) {
	timer := prometheus.NewTimer(metrics.HistoryQueryDuration.WithLabelValues("page"))
	defer timer.ObserveDuration()

	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = defaultPageSize
	}
	size = min(size, maxPageSize)

	dates, err := r.distinctDates(ctx, ref)
	if err != nil {
		return nil, err
	}

	hp := &model.HistoryPage{
		Total:  len(dates),
		Pages:  (len(dates) + size - 1) / size,
		Events: []model.Event{},
	}
	if page > hp.Pages {
		return hp, nil
	}
	start := (page - 1) * size
	end := min(start+size, len(dates))

	for _, d := range dates[start:end] {
		ev, err := r.eventsAt(ctx, ref, d, nil)
		if err != nil {
			return nil, fmt.Errorf("reconstructing %s at %s: %w", ref, d.Format(time.RFC3339), err)
		}
		hp.Events = append(hp.Events, *ev)
	}
	return hp, nil
}

func nonNil(groups []model.PartGroup) []model.PartGroup {
	if groups == nil {
		return []model.PartGroup{}
	}
	return groups
}
