package db

import (
	"context"
	"testing"
)

func TestRebind(t *testing.T) {
	tests := []struct {
		dialect Dialect
		query   string
		want    string
	}{
		{SQLite, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = ? AND b = ?"},
		{MySQL, "SELECT * FROM t WHERE a = ?", "SELECT * FROM t WHERE a = ?"},
		{Postgres, "SELECT * FROM t WHERE a = ? AND b = ?", "SELECT * FROM t WHERE a = $1 AND b = $2"},
		{Postgres, "SELECT 1", "SELECT 1"},
	}

	for _, tt := range tests {
		if got := tt.dialect.Rebind(tt.query); got != tt.want {
			t.Errorf("%s.Rebind(%q) = %q, want %q", tt.dialect, tt.query, got, tt.want)
		}
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		name    string
		want    Dialect
		wantErr bool
	}{
		{"sqlite", SQLite, false},
		{"", SQLite, false},
		{"MySQL", MySQL, false},
		{"postgres", Postgres, false},
		{"pgx", Postgres, false},
		{"oracle", "", true},
	}

	for _, tt := range tests {
		got, err := ParseDialect(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDialect(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDialect(%q) = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	database := NewTestDB(t)
	ctx := context.Background()

	if err := EnsureSchema(ctx, database); err != nil {
		t.Fatalf("second EnsureSchema: %v", err)
	}

	var version string
	if err := database.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = 'schema_version'`).Scan(&version); err != nil {
		t.Fatalf("reading schema version: %v", err)
	}
	if version != "1" {
		t.Errorf("expected schema version 1, got %q", version)
	}
}

func TestOpenSerialUniqueness(t *testing.T) {
	database := NewTestDB(t)
	ctx := context.Background()

	insert := `INSERT INTO part_records (id, date_created, nxid, serial_no) VALUES (?, 1, 'PNX0001', 'SN1')`
	if _, err := database.ExecContext(ctx, insert, "a"); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	_, err := database.ExecContext(ctx, insert, "b")
	if err == nil {
		t.Fatal("expected unique violation for second open record with the same serial")
	}
	if !database.Dialect.IsUniqueViolation(err) {
		t.Errorf("expected IsUniqueViolation, got %v", err)
	}

	// Closing the first frees the serial.
	if _, err := database.ExecContext(ctx, `UPDATE part_records SET next_id = 'x' WHERE id = 'a'`); err != nil {
		t.Fatalf("closing record: %v", err)
	}
	if _, err := database.ExecContext(ctx, insert, "b"); err != nil {
		t.Errorf("insert after close: %v", err)
	}
}
