package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/erazemk/nxledger/internal/alert"
	"github.com/erazemk/nxledger/internal/metrics"
	"github.com/erazemk/nxledger/internal/model"
)

const entityPartRecord = "part_record"

// Issue is one chain inconsistency found by Verify.
type Issue struct {
	Kind     string `json:"kind"`
	Entity   string `json:"entity"`
	ID       string `json:"id"`
	Related  string `json:"related,omitempty"`
	Detail   string `json:"detail"`
	Repaired bool   `json:"repaired,omitempty"`
}

// Report lists the issues found by a verification pass.
type Report struct {
	Checked int     `json:"checked"`
	Issues  []Issue `json:"issues"`
}

// OK reports whether no issues were found.
func (r *Report) OK() bool {
	return len(r.Issues) == 0
}

// Auditor walks, verifies and repairs version chains.
type Auditor struct {
	store    Store
	notifier alert.Notifier
}

// NewAuditor returns an Auditor. A nil notifier logs alerts.
func NewAuditor(store Store, notifier alert.Notifier) *Auditor {
	if notifier == nil {
		notifier = alert.Log{}
	}
	return &Auditor{store: store, notifier: notifier}
}

// ChainOf returns the full chain containing the record id, oldest first.
func (a *Auditor) ChainOf(ctx context.Context, id string) ([]model.PartRecord, error) {
	rec, err := a.store.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("part record %s: %w", id, ErrNotFound)
	}

	seen := map[string]bool{rec.ID: true}
	chain := []model.PartRecord{*rec}

	for cur := rec; cur.Prev != nil; {
		prev, err := a.store.GetRecord(ctx, *cur.Prev)
		if err != nil {
			return nil, err
		}
		if prev == nil {
			break
		}
		if seen[prev.ID] {
			return nil, fmt.Errorf("part record %s: chain has a cycle at %s", id, prev.ID)
		}
		seen[prev.ID] = true
		chain = append([]model.PartRecord{*prev}, chain...)
		cur = prev
	}

	for cur := rec; cur.Next != nil && *cur.Next != model.NextDeleted; {
		next, err := a.store.GetRecord(ctx, *cur.Next)
		if err != nil {
			return nil, err
		}
		if next == nil {
			break
		}
		if seen[next.ID] {
			return nil, fmt.Errorf("part record %s: chain has a cycle at %s", id, next.ID)
		}
		seen[next.ID] = true
		chain = append(chain, *next)
		cur = next
	}
	return chain, nil
}

// SerialHistory returns every record of a serialized unit, oldest first.
func (a *Auditor) SerialHistory(ctx context.Context, serial string) ([]model.PartRecord, error) {
	return a.store.FindRecords(ctx, model.PartFilter{Serial: serial})
}

// link is the chain view shared by part records and container versions.
type link struct {
	version model.Version
	key     string
}

// Verify checks every chain: one head per serial or container tag, links
// that point both ways, and date_replaced equal to the successor's date_created.
func (a *Auditor) Verify(ctx context.Context) (*Report, error) {
	report := &Report{Issues: []Issue{}}

	recs, err := a.store.FindRecords(ctx, model.PartFilter{})
	if err != nil {
		return nil, err
	}
	links := make([]link, len(recs))
	for i, rec := range recs {
		links[i] = link{version: rec.Version, key: rec.Serial}
	}
	report.Checked += len(links)
	report.Issues = append(report.Issues, checkLinks(entityPartRecord, links)...)

	for _, kind := range model.ContainerKinds {
		cs, err := a.store.FindContainers(ctx, model.ContainerFilter{Kind: kind})
		if err != nil {
			return nil, err
		}
		links := make([]link, len(cs))
		for i, c := range cs {
			links[i] = link{version: c.Version, key: c.Tag}
		}
		report.Checked += len(links)
		report.Issues = append(report.Issues, checkLinks(string(kind), links)...)
	}

	for _, issue := range report.Issues {
		metrics.ConsistencyRepairs.WithLabelValues(issue.Kind).Inc()
	}
	return report, nil
}

// checkLinks finds inconsistencies among the versions of one entity kind.
// Versions with an empty key are only checked for their links.
func checkLinks(entity string, links []link) []Issue {
	var issues []Issue
	byID := make(map[string]model.Version, len(links))
	successor := make(map[string]model.Version)
	heads := make(map[string][]string)

	for _, l := range links {
		byID[l.version.ID] = l.version
		if l.version.Prev != nil {
			successor[*l.version.Prev] = l.version
		}
		if l.version.IsHead() && l.key != "" {
			heads[l.key] = append(heads[l.key], l.version.ID)
		}
	}

	for _, l := range links {
		v := l.version
		succ, hasSucc := successor[v.ID]

		switch {
		case v.IsHead() && hasSucc:
			issues = append(issues, Issue{
				Kind: alert.KindDanglingHead, Entity: entity, ID: v.ID, Related: succ.ID,
				Detail: "open version has a successor",
			})
		case v.IsHead(), v.IsDeleted():
		default:
			next, ok := byID[*v.Next]
			switch {
			case !ok:
				issues = append(issues, Issue{
					Kind: alert.KindBrokenLink, Entity: entity, ID: v.ID, Related: *v.Next,
					Detail: "successor does not exist",
				})
			case next.Prev == nil || *next.Prev != v.ID:
				issues = append(issues, Issue{
					Kind: alert.KindBrokenLink, Entity: entity, ID: v.ID, Related: next.ID,
					Detail: "successor does not point back",
				})
			case v.DateReplaced == nil || !v.DateReplaced.Equal(next.DateCreated):
				issues = append(issues, Issue{
					Kind: alert.KindBrokenLink, Entity: entity, ID: v.ID, Related: next.ID,
					Detail: "date_replaced differs from successor's date_created",
				})
			}
		}
	}

	for key, ids := range heads {
		if len(ids) > 1 {
			issues = append(issues, Issue{
				Kind: alert.KindMultipleHeads, Entity: entity, ID: ids[0], Related: key,
				Detail: fmt.Sprintf("%d open versions", len(ids)),
			})
		}
	}
	return issues
}

// Repair closes every dangling head onto its successor and reports all
// issues, repaired or not, to the operator.
func (a *Auditor) Repair(ctx context.Context) (*Report, error) {
	report, err := a.Verify(ctx)
	if err != nil {
		return nil, err
	}

	for i := range report.Issues {
		issue := &report.Issues[i]
		if issue.Kind == alert.KindDanglingHead {
			if err := a.closeDangling(ctx, issue); err != nil {
				slog.Error("failed to repair dangling head", "entity", issue.Entity, "id", issue.ID, "error", err)
				a.notify(ctx, alert.KindRepairFailed, issue, err)
				continue
			}
			issue.Repaired = true
			metrics.ConsistencyRepairs.WithLabelValues("repaired").Inc()
			slog.Info("dangling head repaired", "entity", issue.Entity, "id", issue.ID, "successor", issue.Related)
		}
		a.notify(ctx, issue.Kind, issue, nil)
	}
	return report, nil
}

func (a *Auditor) closeDangling(ctx context.Context, issue *Issue) error {
	if issue.Entity == entityPartRecord {
		succ, err := a.store.GetRecord(ctx, issue.Related)
		if err != nil {
			return err
		}
		if succ == nil {
			return fmt.Errorf("successor %s: %w", issue.Related, ErrNotFound)
		}
		return a.store.CloseRecord(ctx, issue.ID, succ, succ.DateCreated)
	}

	kind, err := model.ParseContainerKind(issue.Entity)
	if err != nil {
		return err
	}
	versions, err := a.store.FindContainers(ctx, model.ContainerFilter{Kind: kind})
	if err != nil {
		return err
	}
	for i := range versions {
		if versions[i].ID == issue.Related {
			succ := &versions[i]
			return a.store.CloseContainer(ctx, kind, issue.ID, succ, succ.DateCreated)
		}
	}
	return fmt.Errorf("successor %s: %w", issue.Related, ErrNotFound)
}

func (a *Auditor) notify(ctx context.Context, kind string, issue *Issue, cause error) {
	attrs := map[string]string{
		"entity":  issue.Entity,
		"id":      issue.ID,
		"related": issue.Related,
	}
	msg := issue.Detail
	if issue.Repaired {
		msg += " (repaired)"
	}
	if cause != nil {
		attrs["error"] = cause.Error()
	}
	if err := a.notifier.Notify(ctx, alert.Alert{Kind: kind, Message: msg, Attrs: attrs, At: time.Now()}); err != nil {
		slog.Error("failed to send alert", "kind", kind, "error", err)
	}
}
