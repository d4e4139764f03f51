package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/erazemk/nxledger/internal/db"
	"github.com/erazemk/nxledger/internal/model"
)

const partTypeColumns = `nxid, manufacturer, name, type, serialized, image_key, created_at`

func scanPartType(row interface{ Scan(...any) error }) (*model.PartType, error) {
	var p model.PartType
	var created int64
	if err := row.Scan(&p.NXID, &p.Manufacturer, &p.Name, &p.Type, &p.Serialized, &p.ImageKey, &created); err != nil {
		return nil, err
	}
	p.CreatedAt = fromMillis(created)
	return &p, nil
}

// CreatePartType adds a part type to the catalog.
func CreatePartType(ctx context.Context, db *db.DB, p *model.PartType) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = Now()
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO parts (`+partTypeColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.NXID, p.Manufacturer, p.Name, p.Type, boolInt(p.Serialized), p.ImageKey, millis(p.CreatedAt),
	)
	if err != nil {
		if db.Dialect.IsUniqueViolation(err) {
			return fmt.Errorf("part %s: %w", p.NXID, model.ErrExists)
		}
		return fmt.Errorf("creating part type: %w", err)
	}
	return nil
}

// GetPartType returns a part type by NXID.
func GetPartType(ctx context.Context, db *db.DB, nxid string) (*model.PartType, error) {
	p, err := scanPartType(db.QueryRowContext(ctx,
		`SELECT `+partTypeColumns+` FROM parts WHERE nxid = ?`, nxid,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting part type: %w", err)
	}
	return p, nil
}

// ListPartTypes returns the catalog, optionally filtered by type.
func ListPartTypes(ctx context.Context, db *db.DB, partType string) ([]model.PartType, error) {
	w := &whereBuilder{}
	if partType != "" {
		w.add("type = ?", partType)
	}
	return queryPartTypes(ctx, db, `SELECT `+partTypeColumns+` FROM parts`+w.String()+` ORDER BY nxid`, w.args)
}

// GetPartTypes returns the catalog entries for the given NXIDs, keyed by NXID.
// Unknown NXIDs are absent from the map.
func GetPartTypes(ctx context.Context, db *db.DB, nxids []string) (map[string]model.PartType, error) {
	out := make(map[string]model.PartType, len(nxids))
	if len(nxids) == 0 {
		return out, nil
	}
	w := &whereBuilder{}
	w.in("nxid", nxids, false)
	parts, err := queryPartTypes(ctx, db, `SELECT `+partTypeColumns+` FROM parts`+w.String(), w.args)
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		out[p.NXID] = p
	}
	return out, nil
}

func queryPartTypes(ctx context.Context, db *db.DB, query string, args []any) ([]model.PartType, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing part types: %w", err)
	}
	defer rows.Close()

	var parts []model.PartType
	for rows.Next() {
		p, err := scanPartType(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning part type: %w", err)
		}
		parts = append(parts, *p)
	}
	return parts, rows.Err()
}

// UpdatePartType updates the descriptive fields of a part type.
// The serialized flag is fixed once records exist, so it is not updated here.
func UpdatePartType(ctx context.Context, db *db.DB, nxid, manufacturer, name, partType string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE parts SET manufacturer = ?, name = ?, type = ? WHERE nxid = ?`,
		manufacturer, name, partType, nxid,
	)
	if err != nil {
		return fmt.Errorf("updating part type: %w", err)
	}
	return nil
}

// SetPartTypeImage records the blob key of a part type's image.
func SetPartTypeImage(ctx context.Context, db *db.DB, nxid, key string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE parts SET image_key = ? WHERE nxid = ?`, key, nxid,
	)
	if err != nil {
		return fmt.Errorf("setting part image: %w", err)
	}
	return nil
}
