package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Abmarne/tadreeblms/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const userColumns = `id, email, first_name, last_name, active, is_admin, created_at, updated_at`

// CountActiveUsers returns the number of active user accounts. Inactive
// accounts do not count against the license seat limit.
func (db *DB) CountActiveUsers(ctx context.Context) (int, error) {
	var count int
	err := db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE active`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active users: %w", err)
	}
	return count, nil
}

// GetActiveUsers returns all active user accounts ordered by email.
func (db *DB) GetActiveUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE active
		ORDER BY email
	`)
	if err != nil {
		return nil, fmt.Errorf("get active users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// GetUserByID returns a user by ID, or nil if not found.
func (db *DB) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = $1
	`, id)

	user, err := scanUser(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

// GetUserByEmail returns a user by email (case-insensitive), or nil if not found.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE LOWER(email) = LOWER($1)
	`, email)

	user, err := scanUser(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

// CreateUser inserts a new user account.
func (db *DB) CreateUser(ctx context.Context, user *models.User) error {
	now := time.Now()
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.CreatedAt = now
	user.UpdatedAt = now

	_, err := db.Pool.Exec(ctx, `
		INSERT INTO users (id, email, first_name, last_name, active, is_admin, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, user.ID, user.Email, user.FirstName, user.LastName, user.Active, user.IsAdmin,
		user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// DeactivateUser marks a user account inactive, freeing its seat. Idempotent.
func (db *DB) DeactivateUser(ctx context.Context, id uuid.UUID) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE users SET active = FALSE, updated_at = $2 WHERE id = $1
	`, id, time.Now())
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	return nil
}

// DeleteUser removes a user account entirely.
func (db *DB) DeleteUser(ctx context.Context, id uuid.UUID) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

// GetAdminEmails returns the email addresses of active administrators, used as
// the recipient list for license notifications.
func (db *DB) GetAdminEmails(ctx context.Context) ([]string, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT email FROM users WHERE active AND is_admin ORDER BY email
	`)
	if err != nil {
		return nil, fmt.Errorf("get admin emails: %w", err)
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan admin email: %w", err)
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

func scanUser(row pgx.Row) (*models.User, error) {
	var user models.User
	err := row.Scan(
		&user.ID, &user.Email, &user.FirstName, &user.LastName,
		&user.Active, &user.IsAdmin, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}
