package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// CreateAdminUser inserts an admin account. Existing emails are left
// untouched so the seeded default cannot overwrite a changed password.
func (r *Repository) CreateAdminUser(ctx context.Context, email, passwordHash string) error {
	query := `
	INSERT INTO admin_users (email, password_hash)
	VALUES ($1, $2)
	ON CONFLICT (email) DO NOTHING
	`
	_, err := r.db.Pool.Exec(ctx, query, email, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	return nil
}

// GetAdminByEmail retrieves an admin account. Returns (nil, nil) when
// no account exists for the email.
func (r *Repository) GetAdminByEmail(ctx context.Context, email string) (*AdminUser, error) {
	query := `
	SELECT id, email, password_hash, created_at, last_login_at
	FROM admin_users
	WHERE email = $1
	`

	var user AdminUser
	err := r.db.Pool.QueryRow(ctx, query, email).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.LastLoginAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get admin user: %w", err)
	}
	return &user, nil
}

// TouchAdminLogin records a successful login
func (r *Repository) TouchAdminLogin(ctx context.Context, id string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE admin_users SET last_login_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to record admin login: %w", err)
	}
	return nil
}
