// Package blob stores part type images by key, either in the ledger
// database or in an S3-compatible bucket.
package blob

import (
	"context"
	"fmt"
	"time"

	"github.com/erazemk/nxledger/internal/db"
)

// Object is a stored blob.
type Object struct {
	Key         string
	ContentType string
	Data        []byte
	CreatedAt   time.Time
}

// Store puts, gets and deletes blobs. Get returns nil, nil for a missing key.
// Keys are content addressed, so putting an existing key is a no-op.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) (*Object, error)
	Delete(ctx context.Context, key string) error
}

// Drivers.
const (
	DriverSQL = "sql"
	DriverS3  = "s3"
)

// Config selects and configures a blob driver.
type Config struct {
	Driver string
	S3     S3Config
}

// Open returns the store named by cfg.Driver. The SQL driver keeps blobs in database.
func Open(ctx context.Context, cfg Config, database *db.DB) (Store, error) {
	switch cfg.Driver {
	case "", DriverSQL:
		return NewSQLStore(database), nil
	case DriverS3:
		return NewS3Store(ctx, cfg.S3)
	}
	return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
}
