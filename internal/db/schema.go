package db

import (
	"context"
	"fmt"
)

// SchemaVersion is bumped whenever the statements below change shape.
const SchemaVersion = 1

// ContainerTables lists the version-chained container collections. They share one layout.
var ContainerTables = []string{"assets", "pallets", "boxes"}

var baseSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
    id            VARCHAR(36) PRIMARY KEY,
    username      VARCHAR(64) NOT NULL,
    password_hash VARCHAR(100) NOT NULL,
    role          VARCHAR(16) NOT NULL DEFAULT 'tech' CHECK (role IN ('admin', 'manager', 'tech')),
    building      INTEGER NOT NULL DEFAULT 0,
    created_at    BIGINT NOT NULL,
    deleted_at    BIGINT
)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_users_username_active
    ON users(username) WHERE deleted_at IS NULL`,

	`CREATE TABLE IF NOT EXISTS settings (
    name  VARCHAR(64) PRIMARY KEY,
    value TEXT NOT NULL
)`,

	`CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        VARCHAR(64) PRIMARY KEY,
    expires_at BIGINT NOT NULL
)`,

	`CREATE TABLE IF NOT EXISTS parts (
    nxid         VARCHAR(32) PRIMARY KEY,
    manufacturer VARCHAR(128) NOT NULL DEFAULT '',
    name         VARCHAR(255) NOT NULL,
    type         VARCHAR(64) NOT NULL DEFAULT '',
    serialized   INTEGER NOT NULL DEFAULT 0,
    image_key    VARCHAR(255) NOT NULL DEFAULT '',
    created_at   BIGINT NOT NULL
)`,

	`CREATE TABLE IF NOT EXISTS part_records (
    id            VARCHAR(36) PRIMARY KEY,
    prev_id       VARCHAR(36),
    next_id       VARCHAR(36),
    date_created  BIGINT NOT NULL,
    date_replaced BIGINT,
    by_user       VARCHAR(36) NOT NULL DEFAULT '',
    nxid          VARCHAR(32) NOT NULL,
    building      INTEGER NOT NULL DEFAULT 0,
    location      VARCHAR(64) NOT NULL DEFAULT '',
    asset_tag     VARCHAR(64) NOT NULL DEFAULT '',
    pallet_tag    VARCHAR(64) NOT NULL DEFAULT '',
    box_tag       VARCHAR(64) NOT NULL DEFAULT '',
    owner         VARCHAR(36) NOT NULL DEFAULT '',
    serial_no     VARCHAR(128) NOT NULL DEFAULT '',
    next_owner    VARCHAR(36) NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS idx_part_records_nxid ON part_records(nxid, next_id)`,
	`CREATE INDEX IF NOT EXISTS idx_part_records_asset ON part_records(asset_tag, next_id)`,
	`CREATE INDEX IF NOT EXISTS idx_part_records_pallet ON part_records(pallet_tag, next_id)`,
	`CREATE INDEX IF NOT EXISTS idx_part_records_box ON part_records(box_tag, next_id)`,
	`CREATE INDEX IF NOT EXISTS idx_part_records_owner ON part_records(owner, next_id)`,
	`CREATE INDEX IF NOT EXISTS idx_part_records_location ON part_records(location, building, next_id)`,
	`CREATE INDEX IF NOT EXISTS idx_part_records_serial ON part_records(serial_no)`,
	`CREATE INDEX IF NOT EXISTS idx_part_records_prev ON part_records(prev_id)`,
	`CREATE INDEX IF NOT EXISTS idx_part_records_created ON part_records(date_created)`,
	`CREATE INDEX IF NOT EXISTS idx_part_records_replaced ON part_records(date_replaced)`,
	// A serialized unit has at most one open record.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_part_records_open_serial
    ON part_records(serial_no) WHERE next_id IS NULL AND serial_no <> ''`,
}

func containerSchema(table string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id            VARCHAR(36) PRIMARY KEY,
    prev_id       VARCHAR(36),
    next_id       VARCHAR(36),
    date_created  BIGINT NOT NULL,
    date_replaced BIGINT,
    date_updated  BIGINT NOT NULL,
    by_user       VARCHAR(36) NOT NULL DEFAULT '',
    tag           VARCHAR(64) NOT NULL,
    building      INTEGER NOT NULL DEFAULT 0,
    location      VARCHAR(64) NOT NULL DEFAULT '',
    pallet_tag    VARCHAR(64) NOT NULL DEFAULT '',
    prev_pallet   VARCHAR(64) NOT NULL DEFAULT '',
    next_pallet   VARCHAR(64) NOT NULL DEFAULT '',
    prev_location VARCHAR(64) NOT NULL DEFAULT '',
    next_location VARCHAR(64) NOT NULL DEFAULT '',
    notes         TEXT NOT NULL,
    attrs         TEXT NOT NULL
)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_tag ON %[1]s(tag, next_id)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_pallet ON %[1]s(pallet_tag)`, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_prev ON %[1]s(prev_id)`, table),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%[1]s_open_tag ON %[1]s(tag) WHERE next_id IS NULL`, table),
	}
}

// MySQL has neither partial indexes nor CREATE INDEX IF NOT EXISTS, so its
// indexes are declared inline and open-head uniqueness is left to the CAS close.
var mysqlBaseSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
    id            VARCHAR(36) PRIMARY KEY,
    username      VARCHAR(64) NOT NULL,
    password_hash VARCHAR(100) NOT NULL,
    role          VARCHAR(16) NOT NULL DEFAULT 'tech',
    building      INTEGER NOT NULL DEFAULT 0,
    created_at    BIGINT NOT NULL,
    deleted_at    BIGINT,
    UNIQUE KEY idx_users_username (username)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS settings (
    name  VARCHAR(64) PRIMARY KEY,
    value TEXT NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        VARCHAR(64) PRIMARY KEY,
    expires_at BIGINT NOT NULL
) ENGINE=InnoDB`,

	`CREATE TABLE IF NOT EXISTS parts (
    nxid         VARCHAR(32) PRIMARY KEY,
    manufacturer VARCHAR(128) NOT NULL DEFAULT '',
    name         VARCHAR(255) NOT NULL,
    type         VARCHAR(64) NOT NULL DEFAULT '',
    serialized   INTEGER NOT NULL DEFAULT 0,
    image_key    VARCHAR(255) NOT NULL DEFAULT '',
    created_at   BIGINT NOT NULL
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS part_records (
    id            VARCHAR(36) PRIMARY KEY,
    prev_id       VARCHAR(36),
    next_id       VARCHAR(36),
    date_created  BIGINT NOT NULL,
    date_replaced BIGINT,
    by_user       VARCHAR(36) NOT NULL DEFAULT '',
    nxid          VARCHAR(32) NOT NULL,
    building      INTEGER NOT NULL DEFAULT 0,
    location      VARCHAR(64) NOT NULL DEFAULT '',
    asset_tag     VARCHAR(64) NOT NULL DEFAULT '',
    pallet_tag    VARCHAR(64) NOT NULL DEFAULT '',
    box_tag       VARCHAR(64) NOT NULL DEFAULT '',
    owner         VARCHAR(36) NOT NULL DEFAULT '',
    serial_no     VARCHAR(128) NOT NULL DEFAULT '',
    next_owner    VARCHAR(36) NOT NULL DEFAULT '',
    INDEX idx_part_records_nxid (nxid, next_id),
    INDEX idx_part_records_asset (asset_tag, next_id),
    INDEX idx_part_records_pallet (pallet_tag, next_id),
    INDEX idx_part_records_box (box_tag, next_id),
    INDEX idx_part_records_owner (owner, next_id),
    INDEX idx_part_records_location (location, building, next_id),
    INDEX idx_part_records_serial (serial_no),
    INDEX idx_part_records_prev (prev_id),
    INDEX idx_part_records_created (date_created),
    INDEX idx_part_records_replaced (date_replaced)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

func mysqlContainerSchema(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
    id            VARCHAR(36) PRIMARY KEY,
    prev_id       VARCHAR(36),
    next_id       VARCHAR(36),
    date_created  BIGINT NOT NULL,
    date_replaced BIGINT,
    date_updated  BIGINT NOT NULL,
    by_user       VARCHAR(36) NOT NULL DEFAULT '',
    tag           VARCHAR(64) NOT NULL,
    building      INTEGER NOT NULL DEFAULT 0,
    location      VARCHAR(64) NOT NULL DEFAULT '',
    pallet_tag    VARCHAR(64) NOT NULL DEFAULT '',
    prev_pallet   VARCHAR(64) NOT NULL DEFAULT '',
    next_pallet   VARCHAR(64) NOT NULL DEFAULT '',
    prev_location VARCHAR(64) NOT NULL DEFAULT '',
    next_location VARCHAR(64) NOT NULL DEFAULT '',
    notes         TEXT NOT NULL,
    attrs         TEXT NOT NULL,
    INDEX idx_%[1]s_tag (tag, next_id),
    INDEX idx_%[1]s_pallet (pallet_tag),
    INDEX idx_%[1]s_prev (prev_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`, table)
}

// Statements returns the DDL for the dialect, in order.
func (d Dialect) Statements() []string {
	var stmts []string
	switch d {
	case MySQL:
		stmts = append(stmts, mysqlBaseSchema...)
		for _, table := range ContainerTables {
			stmts = append(stmts, mysqlContainerSchema(table))
		}
		stmts = append(stmts, `CREATE TABLE IF NOT EXISTS blobs (
    blob_key     VARCHAR(255) PRIMARY KEY,
    content_type VARCHAR(64) NOT NULL,
    data         LONGBLOB NOT NULL,
    created_at   BIGINT NOT NULL
) ENGINE=InnoDB`)
	default:
		stmts = append(stmts, baseSchema...)
		for _, table := range ContainerTables {
			stmts = append(stmts, containerSchema(table)...)
		}
		blobType := "BLOB"
		if d == Postgres {
			blobType = "BYTEA"
		}
		stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS blobs (
    blob_key     VARCHAR(255) PRIMARY KEY,
    content_type VARCHAR(64) NOT NULL,
    data         %s NOT NULL,
    created_at   BIGINT NOT NULL
)`, blobType))
	}
	return stmts
}

// EnsureSchema creates all tables and indexes if they don't already exist
// and records the schema version.
func EnsureSchema(ctx context.Context, d *DB) error {
	for _, stmt := range d.Dialect.Statements() {
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}

	var current int
	err := d.QueryRowContext(ctx, `SELECT COUNT(*) FROM settings WHERE name = 'schema_version'`).Scan(&current)
	if err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if current == 0 {
		_, err = d.ExecContext(ctx, `INSERT INTO settings (name, value) VALUES ('schema_version', ?)`, fmt.Sprint(SchemaVersion))
	} else {
		_, err = d.ExecContext(ctx, `UPDATE settings SET value = ? WHERE name = 'schema_version'`, fmt.Sprint(SchemaVersion))
	}
	if err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}
	return nil
}
