package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/erazemk/nxledger/internal/alert"
	"github.com/erazemk/nxledger/internal/metrics"
	"github.com/erazemk/nxledger/internal/model"
)

const defaultMaxRetries = 3

// Reasons an entry is skipped.
const (
	ReasonSerialMissing = "serial not found at source"
	ReasonSerialExists  = "serial already in inventory"
	ReasonInsufficient  = "not enough parts at source"
	ReasonConflict      = "modified concurrently"
)

// Skip is a cart entry the writer did not apply.
type Skip struct {
	Item   model.CartItem `json:"item"`
	Reason string         `json:"reason"`
}

// Result reports the outcome of a write, or of its plan for a dry run.
type Result struct {
	DryRun  bool             `json:"dry_run,omitempty"`
	Applied []model.CartItem `json:"applied"`
	Skipped []Skip           `json:"skipped"`
	// Records holds the IDs of every version created.
	Records []string `json:"records,omitempty"`
}

// Complete reports whether every entry was (or would be) applied.
func (r *Result) Complete() bool {
	return len(r.Skipped) == 0
}

// Changed reports whether any entry was applied.
func (r *Result) Changed() bool {
	return len(r.Applied) > 0
}

// ApplyRequest moves cart entries from one location to another.
// With Migrated set, entries are created as new chains at Create and Search is ignored.
type ApplyRequest struct {
	Items    []model.CartItem
	Search   model.Location
	Create   model.Location
	Date     time.Time
	By       string
	Migrated bool
	DryRun   bool
}

// ReconcileRequest realizes a diff for one container. Added entries move from
// Counterpart into Container, removed entries move the other way.
// Migrated applies to added entries only.
type ReconcileRequest struct {
	Added       []model.CartItem
	Removed     []model.CartItem
	Container   model.Location
	Counterpart model.Location
	Date        time.Time
	By          string
	Migrated    bool
	DryRun      bool
}

// Writer applies cart deltas to part record chains. Every request is planned
// in full before anything is written; applied steps are reverted if the
// request fails with a storage error.
type Writer struct {
	records    RecordStore
	notifier   alert.Notifier
	maxRetries int
}

// NewWriter returns a Writer. A nil notifier logs alerts.
func NewWriter(records RecordStore, notifier alert.Notifier) *Writer {
	if notifier == nil {
		notifier = alert.Log{}
	}
	return &Writer{records: records, notifier: notifier, maxRetries: defaultMaxRetries}
}

type direction struct {
	items    []model.CartItem
	search   model.Location
	create   model.Location
	migrated bool
}

// step is one applied version: a successor of pred, or a chain root when pred is nil.
type step struct {
	pred *model.PartRecord
	succ *model.PartRecord
}

type entry struct {
	item  model.CartItem
	dir   *direction
	preds []model.PartRecord
	roots int
	skip  string
	tried []string
	done  []step
}

// Apply moves the items from req.Search to req.Create.
func (w *Writer) Apply(ctx context.Context, req ApplyRequest) (*Result, error) {
	d := &direction{items: req.Items, search: req.Search, create: req.Create, migrated: req.Migrated}
	if err := d.validate(); err != nil {
		return nil, err
	}
	return w.run(ctx, []*direction{d}, req.Date, req.By, req.DryRun)
}

// Reconcile applies a container diff in both directions as one request.
func (w *Writer) Reconcile(ctx context.Context, req ReconcileRequest) (*Result, error) {
	dirs := []*direction{
		{items: req.Added, search: req.Counterpart, create: req.Container, migrated: req.Migrated},
		{items: req.Removed, search: req.Container, create: req.Counterpart},
	}
	for _, d := range dirs {
		if err := d.validate(); err != nil {
			return nil, err
		}
	}
	return w.run(ctx, dirs, req.Date, req.By, req.DryRun)
}

// DryRun plans a reconciliation without writing. The result reports which
// entries would be skipped.
func (w *Writer) DryRun(ctx context.Context, req ReconcileRequest) (*Result, error) {
	req.DryRun = true
	return w.Reconcile(ctx, req)
}

func (d *direction) validate() error {
	if len(d.items) == 0 {
		return nil
	}
	if err := d.create.Validate(); err != nil {
		return fmt.Errorf("%w: destination: %v", ErrInvalid, err)
	}
	if d.migrated {
		return nil
	}
	if err := d.search.Validate(); err != nil {
		return fmt.Errorf("%w: source: %v", ErrInvalid, err)
	}
	if d.search.Kind == model.LocationDeleted {
		return fmt.Errorf("%w: cannot move parts out of deleted", ErrInvalid)
	}
	return nil
}

func (w *Writer) run(ctx context.Context, dirs []*direction, date time.Time, by string, dryRun bool) (*Result, error) {
	if date.IsZero() {
		date = Now()
	}

	var entries []*entry
	for _, d := range dirs {
		for _, item := range d.items {
			e, err := w.plan(ctx, d, item)
			if err != nil {
				return nil, fmt.Errorf("planning %s: %w", item.NXID, err)
			}
			entries = append(entries, e)
		}
	}

	if !dryRun {
		for i, e := range entries {
			if e.skip != "" {
				continue
			}
			ok, err := w.applyEntry(ctx, e, date, by)
			if err != nil {
				for j := i; j >= 0; j-- {
					w.unwind(ctx, entries[j])
				}
				metrics.ReconcileEntries.WithLabelValues("failed").Add(float64(len(entries)))
				return nil, fmt.Errorf("applying %s: %w", e.item.NXID, err)
			}
			if !ok {
				w.unwind(ctx, e)
				e.skip = ReasonConflict
			}
		}
	}

	res := &Result{DryRun: dryRun, Applied: []model.CartItem{}, Skipped: []Skip{}}
	for _, e := range entries {
		if e.skip != "" {
			res.Skipped = append(res.Skipped, Skip{Item: e.item, Reason: e.skip})
			w.logSkip(e, dryRun)
			continue
		}
		res.Applied = append(res.Applied, e.item)
		for _, s := range e.done {
			res.Records = append(res.Records, s.succ.ID)
		}
	}

	if !dryRun {
		metrics.ReconcileEntries.WithLabelValues("applied").Add(float64(len(res.Applied)))
		metrics.ReconcileEntries.WithLabelValues("skipped").Add(float64(len(res.Skipped)))
	}
	return res, nil
}

func (w *Writer) plan(ctx context.Context, d *direction, item model.CartItem) (*entry, error) {
	e := &entry{item: item, dir: d}

	switch {
	case item.IsSerialized() && d.migrated:
		n, err := w.records.CountRecords(ctx, model.PartFilter{Serial: item.Serial, OpenOnly: true})
		if err != nil {
			return nil, err
		}
		if n > 0 {
			e.skip = ReasonSerialExists
			return e, nil
		}
		e.roots = 1

	case item.IsSerialized():
		f := d.search.Filter()
		f.NXID = item.NXID
		f.Serial = item.Serial
		rec, err := w.records.FindRecord(ctx, f)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			e.skip = ReasonSerialMissing
			return e, nil
		}
		e.preds = []model.PartRecord{*rec}

	case d.migrated:
		e.roots = item.Quantity

	default:
		f := d.search.Filter()
		f.NXID = item.NXID
		f.SerialMode = model.UnserializedOnly
		f.Limit = item.Quantity
		recs, err := w.records.FindRecords(ctx, f)
		if err != nil {
			return nil, err
		}
		if len(recs) < item.Quantity {
			e.skip = ReasonInsufficient
			return e, nil
		}
		e.preds = recs
	}
	return e, nil
}

// applyEntry writes every planned step of e. It returns false when the entry
// lost a race it could not recover from; the caller unwinds it.
func (w *Writer) applyEntry(ctx context.Context, e *entry, date time.Time, by string) (bool, error) {
	for range e.roots {
		succ := e.successor(nil, date, by)
		if err := w.records.CreateRecord(ctx, succ); err != nil {
			if errors.Is(err, model.ErrExists) {
				return false, nil
			}
			return false, err
		}
		e.done = append(e.done, step{succ: succ})
	}

	for i := range e.preds {
		ok, err := w.consume(ctx, e, &e.preds[i], date, by)
		if !ok || err != nil {
			return ok, err
		}
	}
	return true, nil
}

// consume supersedes pred, picking another candidate from the same source
// when a concurrent writer closed it first.
func (w *Writer) consume(ctx context.Context, e *entry, pred *model.PartRecord, date time.Time, by string) (bool, error) {
	for attempt := 0; ; attempt++ {
		e.tried = append(e.tried, pred.ID)
		succ := e.successor(pred, date, by)

		err := w.records.SupersedeRecord(ctx, pred.ID, succ)
		if err == nil {
			e.done = append(e.done, step{pred: pred, succ: succ})
			return true, nil
		}
		if !errors.Is(err, model.ErrChainConflict) {
			return false, err
		}
		metrics.ChainConflicts.WithLabelValues("part_record").Inc()
		slog.Info("part record closed concurrently, reselecting", "record", pred.ID, "nxid", e.item.NXID, "attempt", attempt+1)

		if attempt >= w.maxRetries {
			return false, nil
		}
		next, err := w.reselect(ctx, e)
		if err != nil {
			return false, err
		}
		if next == nil {
			return false, nil
		}
		pred = next
	}
}

func (w *Writer) reselect(ctx context.Context, e *entry) (*model.PartRecord, error) {
	f := e.dir.search.Filter()
	f.NXID = e.item.NXID
	if e.item.IsSerialized() {
		f.Serial = e.item.Serial
	} else {
		f.SerialMode = model.UnserializedOnly
	}
	f.ExcludeIDs = append(f.ExcludeIDs, e.tried...)
	for _, p := range e.preds {
		f.ExcludeIDs = append(f.ExcludeIDs, p.ID)
	}
	return w.records.FindRecord(ctx, f)
}

func (e *entry) successor(pred *model.PartRecord, date time.Time, by string) *model.PartRecord {
	succ := &model.PartRecord{
		Version: model.Version{DateCreated: date, By: by},
		NXID:    e.item.NXID,
		Serial:  e.item.Serial,
	}
	if pred != nil {
		succ.NXID = pred.NXID
		succ.Serial = pred.Serial
		succ.Building = pred.Building
	}
	e.dir.create.Apply(succ)
	return succ
}

// unwind reverts the applied steps of e, newest first. A step that cannot be
// reverted is left in place and reported to the operator.
func (w *Writer) unwind(ctx context.Context, e *entry) {
	ctx = context.WithoutCancel(ctx)
	for i := len(e.done) - 1; i >= 0; i-- {
		s := e.done[i]
		var predID string
		if s.pred != nil {
			predID = s.pred.ID
		}
		if err := w.records.RevertRecord(ctx, predID, s.succ.ID); err != nil {
			w.reportUnwindFailure(ctx, e, predID, s.succ.ID, err)
		}
	}
	e.done = nil
}

func (w *Writer) reportUnwindFailure(ctx context.Context, e *entry, predID, succID string, err error) {
	metrics.ConsistencyRepairs.WithLabelValues(alert.KindUnwindFailed).Inc()
	a := alert.Alert{
		Kind:    alert.KindUnwindFailed,
		Message: "failed to revert part record version",
		Attrs: map[string]string{
			"nxid":        e.item.NXID,
			"predecessor": predID,
			"successor":   succID,
			"error":       err.Error(),
		},
		At: time.Now(),
	}
	if nerr := w.notifier.Notify(ctx, a); nerr != nil {
		slog.Error("failed to send alert", "kind", a.Kind, "error", nerr)
	}
}

func (w *Writer) logSkip(e *entry, dryRun bool) {
	args := []any{
		"nxid", e.item.NXID,
		"reason", e.skip,
		"to", e.dir.create.Key(),
	}
	if e.item.IsSerialized() {
		args = append(args, "serial", e.item.Serial)
	} else {
		args = append(args, "quantity", e.item.Quantity)
	}
	if !e.dir.migrated {
		args = append(args, "from", e.dir.search.Key())
	}

	switch {
	case dryRun:
		slog.Debug("cart entry would be skipped", args...)
	case e.skip == ReasonSerialExists:
		slog.Debug("cart entry skipped", args...)
	default:
		slog.Warn("cart entry skipped", args...)
	}
}
