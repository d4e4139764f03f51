package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/erazemk/nxledger/internal/db"
	"github.com/erazemk/nxledger/internal/model"
)

const userColumns = `id, username, password_hash, role, building, created_at, deleted_at`

func scanUser(row interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var created int64
	var deleted sql.NullInt64
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &u.Building, &created, &deleted); err != nil {
		return nil, err
	}
	u.CreatedAt = fromMillis(created)
	u.DeletedAt = timePtr(deleted)
	return &u, nil
}

// CreateUser creates a new user.
func CreateUser(ctx context.Context, db *db.DB, username, passwordHash, role string, building int) (*model.User, error) {
	id := NewID()
	_, err := db.ExecContext(ctx,
		`INSERT INTO users (id, username, password_hash, role, building, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, username, passwordHash, role, building, millis(Now()),
	)
	if err != nil {
		if db.Dialect.IsUniqueViolation(err) {
			return nil, fmt.Errorf("user %s: %w", username, model.ErrExists)
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return GetUser(ctx, db, id)
}

// GetUser returns a user by ID.
func GetUser(ctx context.Context, db *db.DB, id string) (*model.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return u, nil
}

// GetUserByUsername returns the active user with the given username.
func GetUserByUsername(ctx context.Context, db *db.DB, username string) (*model.User, error) {
	u, err := scanUser(db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ? AND deleted_at IS NULL`, username,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by username: %w", err)
	}
	return u, nil
}

// ListUsers returns all non-deleted users.
func ListUsers(ctx context.Context, db *db.DB) ([]model.User, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE deleted_at IS NULL ORDER BY username`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateUser updates a user's role and home building.
func UpdateUser(ctx context.Context, db *db.DB, id, role string, building int) error {
	_, err := db.ExecContext(ctx,
		`UPDATE users SET role = ?, building = ? WHERE id = ? AND deleted_at IS NULL`,
		role, building, id,
	)
	if err != nil {
		return fmt.Errorf("updating user: %w", err)
	}
	return nil
}

// UpdateUserPassword updates a user's password hash.
func UpdateUserPassword(ctx context.Context, db *db.DB, id, passwordHash string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE users SET password_hash = ? WHERE id = ? AND deleted_at IS NULL`,
		passwordHash, id,
	)
	if err != nil {
		return fmt.Errorf("updating user password: %w", err)
	}
	return nil
}

// ErrHoldsParts is returned when deleting a user whose inventory is not empty.
var ErrHoldsParts = errors.New("user still holds parts")

// DeleteUser soft-deletes a user. Users still holding parts cannot be deleted.
func DeleteUser(ctx context.Context, db *db.DB, id string) error {
	held, err := CountRecords(ctx, db, model.OwnedBy(id).Filter())
	if err != nil {
		return err
	}
	if held > 0 {
		return fmt.Errorf("%w: %d open records", ErrHoldsParts, held)
	}

	_, err = db.ExecContext(ctx,
		`UPDATE users SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		millis(Now()), id,
	)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}
