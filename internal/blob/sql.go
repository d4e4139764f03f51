package blob

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/erazemk/nxledger/internal/db"
)

// SQLStore keeps blobs in the blobs table of the ledger database.
type SQLStore struct {
	db *db.DB
}

// NewSQLStore returns a store over database.
func NewSQLStore(database *db.DB) *SQLStore {
	return &SQLStore{db: database}
}

func (s *SQLStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	query := `INSERT INTO blobs (blob_key, content_type, data, created_at) VALUES (?, ?, ?, ?)`
	switch s.db.Dialect {
	case db.MySQL:
		query = `INSERT IGNORE INTO blobs (blob_key, content_type, data, created_at) VALUES (?, ?, ?, ?)`
	default:
		query += ` ON CONFLICT (blob_key) DO NOTHING`
	}
	_, err := s.db.ExecContext(ctx, query, key, contentType, data, time.Now().UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("storing blob %s: %w", key, err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (*Object, error) {
	obj := Object{Key: key}
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT content_type, data, created_at FROM blobs WHERE blob_key = ?`, key,
	).Scan(&obj.ContentType, &obj.Data, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting blob %s: %w", key, err)
	}
	obj.CreatedAt = time.UnixMilli(created).UTC()
	return &obj, nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE blob_key = ?`, key); err != nil {
		return fmt.Errorf("deleting blob %s: %w", key, err)
	}
	return nil
}
