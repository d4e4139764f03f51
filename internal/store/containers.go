package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/erazemk/nxledger/internal/db"
	"github.com/erazemk/nxledger/internal/model"
)

const containerColumns = `id, prev_id, next_id, date_created, date_replaced, date_updated, by_user, tag,
	building, location, pallet_tag, prev_pallet, next_pallet, prev_location, next_location, notes, attrs`

func containerTable(kind model.ContainerKind) (string, error) {
	switch kind {
	case model.KindAsset:
		return "assets", nil
	case model.KindPallet:
		return "pallets", nil
	case model.KindBox:
		return "boxes", nil
	}
	return "", fmt.Errorf("unknown container kind %q", kind)
}

func scanContainer(row interface{ Scan(...any) error }, kind model.ContainerKind) (*model.Container, error) {
	c := model.Container{Kind: kind}
	var prev, next sql.NullString
	var created, updated int64
	var replaced sql.NullInt64
	var attrs string
	err := row.Scan(&c.ID, &prev, &next, &created, &replaced, &updated, &c.By, &c.Tag,
		&c.Building, &c.Location, &c.PalletTag, &c.PrevPallet, &c.NextPallet, &c.PrevLocation, &c.NextLocation,
		&c.Notes, &attrs)
	if err != nil {
		return nil, err
	}
	c.Prev = stringPtr(prev)
	c.Next = stringPtr(next)
	c.DateCreated = fromMillis(created)
	c.DateReplaced = timePtr(replaced)
	c.DateUpdated = fromMillis(updated)
	if attrs != "" {
		if err := json.Unmarshal([]byte(attrs), &c.Attributes); err != nil {
			return nil, fmt.Errorf("decoding attributes of %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

// GetContainer returns a container version by ID.
func GetContainer(ctx context.Context, db *db.DB, kind model.ContainerKind, id string) (*model.Container, error) {
	table, err := containerTable(kind)
	if err != nil {
		return nil, err
	}
	c, err := scanContainer(db.QueryRowContext(ctx,
		`SELECT `+containerColumns+` FROM `+table+` WHERE id = ?`, id,
	), kind)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", kind, err)
	}
	return c, nil
}

// ContainerHead returns the open version of a container, or nil.
func ContainerHead(ctx context.Context, db *db.DB, kind model.ContainerKind, tag string) (*model.Container, error) {
	cs, err := FindContainers(ctx, db, model.ContainerFilter{Kind: kind, Tag: tag, OpenOnly: true, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, nil
	}
	return &cs[0], nil
}

// FindContainers returns container versions matching the filter, oldest first.
func FindContainers(ctx context.Context, db *db.DB, f model.ContainerFilter) ([]model.Container, error) {
	table, err := containerTable(f.Kind)
	if err != nil {
		return nil, err
	}

	w := &whereBuilder{}
	if f.Tag != "" {
		w.add("tag = ?", f.Tag)
	}
	if f.PalletTag != "" {
		w.add("(pallet_tag = ? OR prev_pallet = ? OR next_pallet = ?)", f.PalletTag, f.PalletTag, f.PalletTag)
	}
	if f.Building != 0 {
		w.add("building = ?", f.Building)
	}
	if f.OpenOnly {
		w.add("next_id IS NULL")
	}

	query := `SELECT ` + containerColumns + ` FROM ` + table + w.String() + ` ORDER BY date_created, id`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("finding %s versions: %w", f.Kind, err)
	}
	defer rows.Close()

	var out []model.Container
	for rows.Next() {
		c, err := scanContainer(rows, f.Kind)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", f.Kind, err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func insertContainer(ctx context.Context, q db.Querier, table string, c *model.Container) error {
	attrs := "{}"
	if len(c.Attributes) > 0 {
		data, err := json.Marshal(c.Attributes)
		if err != nil {
			return fmt.Errorf("encoding attributes: %w", err)
		}
		attrs = string(data)
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO `+table+` (`+containerColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, nullString(c.Prev), nullString(c.Next), millis(c.DateCreated), nullMillis(c.DateReplaced),
		millis(c.DateUpdated), c.By, c.Tag, c.Building, c.Location, c.PalletTag, c.PrevPallet, c.NextPallet,
		c.PrevLocation, c.NextLocation, c.Notes, attrs,
	)
	return err
}

// CreateContainer inserts the first version of a container. It fails with
// model.ErrExists when the tag already has an open version.
func CreateContainer(ctx context.Context, db *db.DB, c *model.Container) error {
	table, err := containerTable(c.Kind)
	if err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = NewID()
	}
	if c.DateUpdated.IsZero() {
		c.DateUpdated = c.DateCreated
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var open int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE tag = ? AND next_id IS NULL`, c.Tag,
	).Scan(&open); err != nil {
		return fmt.Errorf("checking %s %s: %w", c.Kind, c.Tag, err)
	}
	if open > 0 {
		return fmt.Errorf("%s %s: %w", c.Kind, c.Tag, model.ErrExists)
	}

	if err := insertContainer(ctx, tx, table, c); err != nil {
		if db.Dialect.IsUniqueViolation(err) {
			return fmt.Errorf("%s %s: %w", c.Kind, c.Tag, model.ErrExists)
		}
		return fmt.Errorf("creating %s: %w", c.Kind, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing %s: %w", c.Kind, err)
	}
	return nil
}

func closeContainer(ctx context.Context, q db.Querier, table, id, next string, at time.Time, nextPallet, nextLocation string) error {
	result, err := q.ExecContext(ctx,
		`UPDATE `+table+` SET next_id = ?, date_replaced = ?, next_pallet = ?, next_location = ?
		 WHERE id = ? AND next_id IS NULL`,
		next, millis(at), nextPallet, nextLocation, id,
	)
	if err != nil {
		return fmt.Errorf("closing container version: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("closing container version: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("closing container version %s: %w", id, model.ErrChainConflict)
	}
	return nil
}

// SupersedeContainer closes the open version predID and inserts succ after it
// in one transaction. The caller fills succ.PrevPallet and succ.PrevLocation.
func SupersedeContainer(ctx context.Context, db *db.DB, predID string, succ *model.Container) error {
	table, err := containerTable(succ.Kind)
	if err != nil {
		return err
	}
	if succ.ID == "" {
		succ.ID = NewID()
	}
	succ.Prev = &predID
	succ.Next = nil
	succ.DateReplaced = nil
	succ.DateUpdated = succ.DateCreated

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := closeContainer(ctx, tx, table, predID, succ.ID, succ.DateCreated, succ.PalletTag, succ.Location); err != nil {
		return err
	}
	if err := insertContainer(ctx, tx, table, succ); err != nil {
		if db.Dialect.IsUniqueViolation(err) {
			return fmt.Errorf("inserting successor of %s: %w", predID, model.ErrChainConflict)
		}
		return fmt.Errorf("inserting successor of %s: %w", predID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing supersede: %w", err)
	}
	return nil
}

// CloseContainer closes an open container version. A nil next deletes the container.
func CloseContainer(ctx context.Context, db *db.DB, kind model.ContainerKind, id string, next *model.Container, at time.Time) error {
	table, err := containerTable(kind)
	if err != nil {
		return err
	}
	if next == nil {
		return closeContainer(ctx, db, table, id, model.NextDeleted, at, "", "")
	}
	return closeContainer(ctx, db, table, id, next.ID, at, next.PalletTag, next.Location)
}

// TouchContainer bumps date_updated on an open version in place.
func TouchContainer(ctx context.Context, db *db.DB, kind model.ContainerKind, id string, at time.Time) error {
	table, err := containerTable(kind)
	if err != nil {
		return err
	}
	result, err := db.ExecContext(ctx,
		`UPDATE `+table+` SET date_updated = ? WHERE id = ? AND next_id IS NULL`,
		millis(at), id,
	)
	if err != nil {
		return fmt.Errorf("touching %s: %w", kind, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("touching %s %s: %w", kind, id, model.ErrChainConflict)
	}
	return nil
}
