package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/nxledger/internal/db"
	"github.com/erazemk/nxledger/internal/model"
)

const recordColumns = `id, prev_id, next_id, date_created, date_replaced, by_user, nxid, building,
	location, asset_tag, pallet_tag, box_tag, owner, serial_no, next_owner`

func recordWhere(f model.PartFilter) *whereBuilder {
	w := &whereBuilder{}
	w.in("id", f.IDs, false)
	w.in("id", f.ExcludeIDs, true)
	if f.NXID != "" {
		w.add("nxid = ?", f.NXID)
	}
	w.in("nxid", f.NXIDs, false)
	if f.Serial != "" {
		w.add("serial_no = ?", f.Serial)
	}
	switch f.SerialMode {
	case model.SerializedOnly:
		w.add("serial_no <> ''")
	case model.UnserializedOnly:
		w.add("serial_no = ''")
	}
	if f.Building != 0 {
		w.add("building = ?", f.Building)
	}
	if f.Location != "" {
		w.add("location = ?", f.Location)
	}
	if f.AssetTag != "" {
		w.add("asset_tag = ?", f.AssetTag)
	}
	if f.PalletTag != "" {
		w.add("pallet_tag = ?", f.PalletTag)
	}
	if f.BoxTag != "" {
		w.add("box_tag = ?", f.BoxTag)
	}
	if f.Owner != "" {
		w.add("owner = ?", f.Owner)
	}
	if f.Prev != "" {
		w.add("prev_id = ?", f.Prev)
	}
	if f.OpenOnly {
		w.add("next_id IS NULL")
	}
	if f.CreatedAt != nil {
		w.add("date_created = ?", millis(*f.CreatedAt))
	}
	if f.ReplacedAt != nil {
		w.add("date_replaced = ?", millis(*f.ReplacedAt))
	}
	if f.ExistingAt != nil {
		at := millis(*f.ExistingAt)
		w.add("date_created < ? AND (date_replaced IS NULL OR date_replaced > ?)", at, at)
	}
	return w
}

func scanRecord(row interface{ Scan(...any) error }) (*model.PartRecord, error) {
	var rec model.PartRecord
	var prev, next sql.NullString
	var created int64
	var replaced sql.NullInt64
	err := row.Scan(&rec.ID, &prev, &next, &created, &replaced, &rec.By, &rec.NXID, &rec.Building,
		&rec.Location, &rec.AssetTag, &rec.PalletTag, &rec.BoxTag, &rec.Owner, &rec.Serial, &rec.NextOwner)
	if err != nil {
		return nil, err
	}
	rec.Prev = stringPtr(prev)
	rec.Next = stringPtr(next)
	rec.DateCreated = fromMillis(created)
	rec.DateReplaced = timePtr(replaced)
	return &rec, nil
}

// GetRecord returns a part record version by ID.
func GetRecord(ctx context.Context, db *db.DB, id string) (*model.PartRecord, error) {
	rec, err := scanRecord(db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM part_records WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting part record: %w", err)
	}
	return rec, nil
}

// FindRecord returns the oldest record matching the filter, or nil.
func FindRecord(ctx context.Context, db *db.DB, f model.PartFilter) (*model.PartRecord, error) {
	f.Limit = 1
	recs, err := FindRecords(ctx, db, f)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// FindRecords returns the records matching the filter, oldest first.
// Ties on date_created are broken by id so selection is deterministic.
func FindRecords(ctx context.Context, db *db.DB, f model.PartFilter) ([]model.PartRecord, error) {
	w := recordWhere(f)
	query := `SELECT ` + recordColumns + ` FROM part_records` + w.String() + ` ORDER BY date_created, id`
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("finding part records: %w", err)
	}
	defer rows.Close()

	var recs []model.PartRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning part record: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// CountRecords counts the records matching the filter.
func CountRecords(ctx context.Context, db *db.DB, f model.PartFilter) (int, error) {
	w := recordWhere(f)
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM part_records`+w.String(), w.args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting part records: %w", err)
	}
	return n, nil
}

func insertRecord(ctx context.Context, q db.Querier, rec *model.PartRecord) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO part_records (`+recordColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, nullString(rec.Prev), nullString(rec.Next), millis(rec.DateCreated), nullMillis(rec.DateReplaced),
		rec.By, rec.NXID, rec.Building, rec.Location, rec.AssetTag, rec.PalletTag, rec.BoxTag,
		rec.Owner, rec.Serial, rec.NextOwner,
	)
	return err
}

// CreateRecord inserts the root of a new chain. An open record with the same
// serial makes it fail with model.ErrExists.
func CreateRecord(ctx context.Context, db *db.DB, rec *model.PartRecord) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if err := insertRecord(ctx, db, rec); err != nil {
		if db.Dialect.IsUniqueViolation(err) {
			return fmt.Errorf("creating part record %s: %w", rec.Serial, model.ErrExists)
		}
		return fmt.Errorf("creating part record: %w", err)
	}
	return nil
}

// closeRecord sets the next pointer of an open record. It fails with
// model.ErrChainConflict when the record is no longer open.
func closeRecord(ctx context.Context, q db.Querier, id, next string, at time.Time, nextOwner string) error {
	result, err := q.ExecContext(ctx,
		`UPDATE part_records SET next_id = ?, date_replaced = ?, next_owner = ?
		 WHERE id = ? AND next_id IS NULL`,
		next, millis(at), nextOwner, id,
	)
	if err != nil {
		return fmt.Errorf("closing part record: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("closing part record: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("closing part record %s: %w", id, model.ErrChainConflict)
	}
	return nil
}

// SupersedeRecord closes the open record predID and inserts succ as its
// successor in one transaction. succ.DateCreated is the replacement instant.
func SupersedeRecord(ctx context.Context, db *db.DB, predID string, succ *model.PartRecord) error {
	if succ.ID == "" {
		succ.ID = NewID()
	}
	succ.Prev = &predID
	succ.Next = nil
	succ.DateReplaced = nil

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := closeRecord(ctx, tx, predID, succ.ID, succ.DateCreated, succ.Owner); err != nil {
		return err
	}
	if err := insertRecord(ctx, tx, succ); err != nil {
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

// CloseRecord closes an open record without inserting anything. A nil next
// terminates the chain; otherwise next must already exist.
func CloseRecord(ctx context.Context, db *db.DB, id string, next *model.PartRecord, at time.Time) error {
	if next == nil {
		return closeRecord(ctx, db, id, model.NextDeleted, at, "")
	}
	return closeRecord(ctx, db, id, next.ID, at, next.Owner)
}

// RevertRecord undoes SupersedeRecord: the successor is removed and the
// predecessor reopened. It fails with model.ErrChainConflict if the successor
// has itself been superseded.
func RevertRecord(ctx context.Context, db *db.DB, predID, succID string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM part_records WHERE id = ? AND next_id IS NULL`, succID)
	if err != nil {
		return fmt.Errorf("removing successor: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("removing successor %s: %w", succID, model.ErrChainConflict)
	}

	if predID != "" {
		result, err = tx.ExecContext(ctx,
			`UPDATE part_records SET next_id = NULL, date_replaced = NULL, next_owner = ''
			 WHERE id = ? AND next_id = ?`, predID, succID)
		if err != nil {
			return fmt.Errorf("reopening predecessor: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("reopening predecessor %s: %w", predID, model.ErrChainConflict)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing revert: %w", err)
	}
	return nil
}

// GroupRecords counts matching records per (nxid, serial), and per next
// owner too when byNextOwner is set. By holds one actor of the group.
func GroupRecords(ctx context.Context, db *db.DB, f model.PartFilter, byNextOwner bool) ([]model.PartGroup, error) {
	w := recordWhere(f)
	keys := "nxid, serial_no"
	if byNextOwner {
		keys += ", next_owner"
	}
	query := `SELECT ` + keys + `, MIN(by_user), COUNT(*) FROM part_records` + w.String() +
		` GROUP BY ` + keys + ` ORDER BY ` + keys

	rows, err := db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, fmt.Errorf("grouping part records: %w", err)
	}
	defer rows.Close()

	var groups []model.PartGroup
	for rows.Next() {
		var g model.PartGroup
		dest := []any{&g.NXID, &g.Serial}
		if byNextOwner {
			dest = append(dest, &g.NextOwner)
		}
		dest = append(dest, &g.By, &g.Quantity)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning part group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// RecordDates returns every creation and replacement instant of the matching records.
// The result is unsorted and may contain duplicates.
func RecordDates(ctx context.Context, db *db.DB, f model.PartFilter) ([]time.Time, error) {
	w := recordWhere(f)
	query := `SELECT DISTINCT date_created FROM part_records` + w.String()
	created, err := queryMillis(ctx, db, query, w.args)
	if err != nil {
		return nil, fmt.Errorf("listing creation dates: %w", err)
	}

	w.add("date_replaced IS NOT NULL")
	query = `SELECT DISTINCT date_replaced FROM part_records` + w.String()
	replaced, err := queryMillis(ctx, db, query, w.args)
	if err != nil {
		return nil, fmt.Errorf("listing replacement dates: %w", err)
	}

	return append(created, replaced...), nil
}

func queryMillis(ctx context.Context, q db.Querier, query string, args []any) ([]time.Time, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []time.Time
	for rows.Next() {
		var ms int64
		if err := rows.Scan(&ms); err != nil {
			return nil, err
		}
		out = append(out, fromMillis(ms))
	}
	return out, rows.Err()
}
