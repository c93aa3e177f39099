package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/erazemk/predaja/internal/model"
)

const userColumns = `id, email, name, password_hash, role, active, failsafe, created_at, updated_at, deleted_at`

// UserUpdate holds optional changes to a user. Nil fields are left as is.
type UserUpdate struct {
	Email  *string
	Name   *string
	Role   *string
	Active *bool
}

// touchesFailsafe reports whether the update changes anything the failsafe
// account is pinned on.
func (u UserUpdate) touchesFailsafe() bool {
	return u.Email != nil || u.Role != nil || u.Active != nil
}

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.Active, &u.Failsafe,
		&u.CreatedAt, &u.UpdatedAt, &u.DeletedAt)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// CreateUser creates a new user. The email is stored lower-cased.
func CreateUser(ctx context.Context, q DBTX, email, name, passwordHash, role string) (*model.User, error) {
	return createUser(ctx, q, email, name, passwordHash, role, false)
}

// CreateFailsafeUser creates the distinguished admin account. Only one can exist.
func CreateFailsafeUser(ctx context.Context, q DBTX, email, passwordHash string) (*model.User, error) {
	return createUser(ctx, q, email, "Failsafe administrator", passwordHash, model.RoleAdmin, true)
}

func createUser(ctx context.Context, q DBTX, email, name, passwordHash, role string, failsafe bool) (*model.User, error) {
	email = model.NormalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", model.ErrValidation)
	}
	if !model.ValidRole(role) {
		return nil, fmt.Errorf("%w: invalid role %q", model.ErrValidation, role)
	}

	existing, err := GetUserByEmail(ctx, q, email)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.DeletedAt == nil {
		return nil, fmt.Errorf("%w: email already in use", model.ErrConflict)
	}

	now := time.Now().UTC()
	result, err := q.ExecContext(ctx,
		`INSERT INTO users (email, name, password_hash, role, active, failsafe, created_at, updated_at)
		 VALUES (?, ?, ?, ?, 1, ?, ?, ?)`,
		email, name, passwordHash, role, failsafe, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting user id: %w", err)
	}

	return GetUser(ctx, q, id)
}

// GetUser returns a user by ID.
func GetUser(ctx context.Context, q DBTX, id int64) (*model.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx,
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

// GetUserByEmail returns the active-or-most-recent user with the email,
// matched case-insensitively (including soft-deleted for auth checks).
func GetUserByEmail(ctx context.Context, q DBTX, email string) (*model.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? COLLATE NOCASE
		 ORDER BY deleted_at IS NULL DESC, id DESC LIMIT 1`, model.NormalizeEmail(email),
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting user by email: %w", err)
	}
	return u, nil
}

// GetFailsafeUser returns the failsafe account, or nil if none exists yet.
func GetFailsafeUser(ctx context.Context, q DBTX) (*model.User, error) {
	u, err := scanUser(q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE failsafe = 1`,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting failsafe user: %w", err)
	}
	return u, nil
}

// PinFailsafeUser restores the failsafe account to active admin in case the
// row was edited outside the application.
func PinFailsafeUser(ctx context.Context, q DBTX) error {
	_, err := q.ExecContext(ctx,
		`UPDATE users SET role = ?, active = 1, deleted_at = NULL WHERE failsafe = 1`, model.RoleAdmin,
	)
	if err != nil {
		return fmt.Errorf("pinning failsafe user: %w", err)
	}
	return nil
}

// ListUsers returns all non-deleted users, optionally filtered by role.
func ListUsers(ctx context.Context, q DBTX, role string) ([]model.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE deleted_at IS NULL`
	var args []any
	if role != "" {
		query += ` AND role = ?`
		args = append(args, role)
	}
	query += ` ORDER BY id`

	rows, err := q.QueryContext(ctx, query, args...)
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

// UpdateUser applies upd to a user. The failsafe account refuses email,
// role and activation changes.
func UpdateUser(ctx context.Context, q DBTX, id int64, upd UserUpdate) (*model.User, error) {
	u, err := GetUser(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if u == nil || u.DeletedAt != nil {
		return nil, fmt.Errorf("%w: user %d", model.ErrNotFound, id)
	}
	if u.Failsafe && upd.touchesFailsafe() {
		return nil, fmt.Errorf("%w: the failsafe account cannot be changed", model.ErrForbidden)
	}

	if upd.Email != nil {
		email := model.NormalizeEmail(*upd.Email)
		if email == "" || !strings.Contains(email, "@") {
			return nil, fmt.Errorf("%w: valid email is required", model.ErrValidation)
		}
		if email != u.Email {
			other, err := GetUserByEmail(ctx, q, email)
			if err != nil {
				return nil, err
			}
			if other != nil && other.DeletedAt == nil && other.ID != id {
				return nil, fmt.Errorf("%w: email already in use", model.ErrConflict)
			}
		}
		u.Email = email
	}
	if upd.Name != nil {
		u.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Role != nil {
		if !model.ValidRole(*upd.Role) {
			return nil, fmt.Errorf("%w: invalid role %q", model.ErrValidation, *upd.Role)
		}
		u.Role = *upd.Role
	}
	if upd.Active != nil {
		u.Active = *upd.Active
	}

	_, err = q.ExecContext(ctx,
		`UPDATE users SET email = ?, name = ?, role = ?, active = ?, updated_at = ?
		 WHERE id = ? AND deleted_at IS NULL`,
		u.Email, u.Name, u.Role, u.Active, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("updating user: %w", err)
	}

	return GetUser(ctx, q, id)
}

// UpdateUserPassword updates a user's password hash. The failsafe account's
// password is fixed.
func UpdateUserPassword(ctx context.Context, q DBTX, id int64, passwordHash string) error {
	u, err := GetUser(ctx, q, id)
	if err != nil {
		return err
	}
	if u == nil || u.DeletedAt != nil {
		return fmt.Errorf("%w: user %d", model.ErrNotFound, id)
	}
	if u.Failsafe {
		return fmt.Errorf("%w: the failsafe account password cannot be changed", model.ErrForbidden)
	}

	_, err = q.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		passwordHash, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating user password: %w", err)
	}
	return nil
}

// DeleteUser soft-deletes a user. The failsafe account cannot be deleted.
func DeleteUser(ctx context.Context, q DBTX, id int64) error {
	u, err := GetUser(ctx, q, id)
	if err != nil {
		return err
	}
	if u == nil || u.DeletedAt != nil {
		return fmt.Errorf("%w: user %d", model.ErrNotFound, id)
	}
	if u.Failsafe {
		return fmt.Errorf("%w: the failsafe account cannot be deleted", model.ErrForbidden)
	}

	_, err = q.ExecContext(ctx,
		`UPDATE users SET deleted_at = ?, active = 0 WHERE id = ? AND deleted_at IS NULL AND failsafe = 0`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}
	return nil
}
