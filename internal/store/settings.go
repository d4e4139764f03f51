package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"

	"github.com/erazemk/nxledger/internal/db"
)

// GetSetting returns a stored setting and whether it exists.
func GetSetting(ctx context.Context, db *db.DB, name string) (string, bool, error) {
	var value string
	err := db.QueryRowContext(ctx, `SELECT value FROM settings WHERE name = ?`, name).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying setting %s: %w", name, err)
	}
	return value, true, nil
}

// GetJWTSecret retrieves the JWT secret from the database.
// If no secret exists, it generates one, stores it, and returns it.
// A concurrent first start may lose the insert race; the stored value wins.
func GetJWTSecret(ctx context.Context, db *db.DB) (string, error) {
	secret, ok, err := GetSetting(ctx, db, "jwt_secret")
	if err != nil {
		return "", err
	}
	if ok {
		return secret, nil
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating jwt secret: %w", err)
	}
	candidate := hex.EncodeToString(buf)

	_, err = db.ExecContext(ctx,
		`INSERT INTO settings (name, value) VALUES ('jwt_secret', ?)`, candidate,
	)
	if err != nil && !db.Dialect.IsUniqueViolation(err) {
		return "", fmt.Errorf("storing jwt_secret: %w", err)
	}

	secret, _, err = GetSetting(ctx, db, "jwt_secret")
	return secret, err
}
