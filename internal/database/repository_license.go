package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"license-server/internal/license"
)

// CreateLicense inserts a new license
func (r *Repository) CreateLicense(ctx context.Context, lic *license.License) error {
	if lic.ID == "" {
		lic.ID = uuid.New().String()
	}
	if lic.IssuedAt.IsZero() {
		lic.IssuedAt = time.Now()
	}

	query := `
	INSERT INTO licenses (id, key, product_id, type, status, issued_at, expires_at, support_expires_at, max_domains, grace_period_days, customer_email, notes)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		lic.ID,
		lic.Key,
		lic.ProductID,
		string(lic.Type),
		string(lic.Status),
		lic.IssuedAt,
		lic.ExpiresAt,
		lic.SupportExpiresAt,
		lic.MaxDomains,
		lic.GracePeriodDays,
		lic.CustomerEmail,
		lic.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to create license: %w", err)
	}
	return nil
}

const licenseColumns = `id, key, product_id, type, status, issued_at, expires_at, support_expires_at, max_domains, grace_period_days, COALESCE(customer_email, ''), COALESCE(notes, '')`

func scanLicense(row pgx.Row) (*license.License, error) {
	var lic license.License
	var typ, status string

	err := row.Scan(
		&lic.ID,
		&lic.Key,
		&lic.ProductID,
		&typ,
		&status,
		&lic.IssuedAt,
		&lic.ExpiresAt,
		&lic.SupportExpiresAt,
		&lic.MaxDomains,
		&lic.GracePeriodDays,
		&lic.CustomerEmail,
		&lic.Notes,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to scan license: %w", err)
	}

	lic.Type = license.Type(typ)
	lic.Status = license.Status(status)
	return &lic, nil
}

// GetLicenseByKey retrieves a license by its key. Returns (nil, nil)
// when no license exists for the key.
func (r *Repository) GetLicenseByKey(ctx context.Context, key string) (*license.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE key = $1`
	return scanLicense(r.db.Pool.QueryRow(ctx, query, key))
}

// GetByKey implements the verification engine's LicenseStore
func (r *Repository) GetByKey(ctx context.Context, key string) (*license.License, error) {
	return r.GetLicenseByKey(ctx, key)
}

// GetLicenseByID retrieves a license by ID. Returns (nil, nil) when missing.
func (r *Repository) GetLicenseByID(ctx context.Context, id string) (*license.License, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE id = $1`
	return scanLicense(r.db.Pool.QueryRow(ctx, query, id))
}

// ListLicenses returns licenses ordered by issue date, newest first
func (r *Repository) ListLicenses(ctx context.Context, limit, offset int) ([]*license.License, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `SELECT ` + licenseColumns + ` FROM licenses ORDER BY issued_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.db.Pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list licenses: %w", err)
	}
	defer rows.Close()

	var licenses []*license.License
	for rows.Next() {
		lic, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		licenses = append(licenses, lic)
	}
	return licenses, rows.Err()
}

// UpdateLicenseStatus sets the license status (suspend, revoke, reactivate)
func (r *Repository) UpdateLicenseStatus(ctx context.Context, id string, status license.Status) error {
	query := `UPDATE licenses SET status = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.db.Pool.Exec(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update license status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("license %s not found", id)
	}
	return nil
}

// RenewLicense extends a license and reactivates it if it was expired
func (r *Repository) RenewLicense(ctx context.Context, id string, expiresAt, supportExpiresAt time.Time) error {
	query := `
	UPDATE licenses
	SET expires_at = $2, support_expires_at = $3, status = 'active', updated_at = NOW()
	WHERE id = $1 AND status != 'revoked'
	`
	tag, err := r.db.Pool.Exec(ctx, query, id, expiresAt, supportExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to renew license: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("license %s not found or revoked", id)
	}
	return nil
}
