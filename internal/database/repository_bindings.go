package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"license-server/internal/license"
	"license-server/internal/verification"
)

// BindingLedger is the durable record of domain bindings. The capacity
// check and insert run in one transaction holding a row lock on the
// license, so two domains racing for the last slot cannot both succeed.
type BindingLedger struct {
	db       *DB
	cooldown time.Duration
	log      zerolog.Logger
}

// NewBindingLedger creates a binding ledger with the given per-domain
// rebinding cooldown.
func NewBindingLedger(db *DB, cooldown time.Duration, logger zerolog.Logger) *BindingLedger {
	return &BindingLedger{
		db:       db,
		cooldown: cooldown,
		log:      logger.With().Str("component", "binding_ledger").Logger(),
	}
}

// GetActiveBindings returns the active bindings for a license
func (l *BindingLedger) GetActiveBindings(ctx context.Context, licenseID string) ([]verification.Binding, error) {
	query := `
	SELECT domain, bound_at, last_verified_at
	FROM domain_bindings
	WHERE license_id = $1 AND is_active
	ORDER BY bound_at
	`

	rows, err := l.db.Pool.Query(ctx, query, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bindings: %w", err)
	}
	defer rows.Close()

	var bindings []verification.Binding
	for rows.Next() {
		var b verification.Binding
		if err := rows.Scan(&b.Domain, &b.BoundAt, &b.LastVerifiedAt); err != nil {
			return nil, fmt.Errorf("failed to scan binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// Bind attempts to bind a domain to a license. The license row is locked
// for the duration of the transaction so the capacity check and insert
// are atomic under concurrent requests for the same license.
func (l *BindingLedger) Bind(ctx context.Context, licenseID, domain string, maxDomains int) (verification.BindOutcome, error) {
	tx, err := l.db.Pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin bind transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var lockedID string
	err = tx.QueryRow(ctx, `SELECT id FROM licenses WHERE id = $1 FOR UPDATE`, licenseID).Scan(&lockedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("license %s not found", licenseID)
		}
		return 0, fmt.Errorf("failed to lock license row: %w", err)
	}

	// Already actively bound: refresh the verification timestamp
	var alreadyBound bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM domain_bindings WHERE license_id = $1 AND domain = $2 AND is_active)`,
		licenseID, domain).Scan(&alreadyBound)
	if err != nil {
		return 0, fmt.Errorf("failed to check existing binding: %w", err)
	}
	if alreadyBound {
		if _, err := tx.Exec(ctx,
			`UPDATE domain_bindings SET last_verified_at = NOW() WHERE license_id = $1 AND domain = $2 AND is_active`,
			licenseID, domain); err != nil {
			return 0, fmt.Errorf("failed to touch binding: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return 0, fmt.Errorf("failed to commit bind transaction: %w", err)
		}
		return verification.BindAlreadyBound, nil
	}

	// Cooldown: the domain may not move to a different license until the
	// cooldown has elapsed since its binding last changed
	var lastChange *time.Time
	err = tx.QueryRow(ctx, `
		SELECT MAX(GREATEST(bound_at, COALESCE(deactivated_at, bound_at)))
		FROM domain_bindings
		WHERE domain = $1 AND license_id != $2
	`, domain, licenseID).Scan(&lastChange)
	if err != nil {
		return 0, fmt.Errorf("failed to check domain cooldown: %w", err)
	}
	if l.cooldown > 0 && lastChange != nil && time.Since(*lastChange) < l.cooldown {
		l.log.Warn().
			Str("domain", domain).
			Str("license_id", licenseID).
			Time("last_change", *lastChange).
			Msg("domain rebinding rejected by cooldown")
		return verification.BindCooldown, nil
	}

	// Capacity
	if maxDomains != license.UnlimitedDomains {
		var active int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM domain_bindings WHERE license_id = $1 AND is_active`,
			licenseID).Scan(&active)
		if err != nil {
			return 0, fmt.Errorf("failed to count bindings: %w", err)
		}
		if active >= maxDomains {
			return verification.BindLimitExceeded, nil
		}
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO domain_bindings (license_id, domain) VALUES ($1, $2)`,
		licenseID, domain); err != nil {
		return 0, fmt.Errorf("failed to insert binding: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit bind transaction: %w", err)
	}

	l.log.Info().
		Str("domain", domain).
		Str("license_id", licenseID).
		Msg("domain bound")
	return verification.BindBound, nil
}

// Touch updates last_verified_at for an active binding
func (l *BindingLedger) Touch(ctx context.Context, licenseID, domain string) error {
	_, err := l.db.Pool.Exec(ctx,
		`UPDATE domain_bindings SET last_verified_at = NOW() WHERE license_id = $1 AND domain = $2 AND is_active`,
		licenseID, domain)
	if err != nil {
		return fmt.Errorf("failed to touch binding: %w", err)
	}
	return nil
}

// IsInCooldown reports whether the domain's binding changed within the
// cooldown window, regardless of license.
func (l *BindingLedger) IsInCooldown(ctx context.Context, domain string) (bool, error) {
	var lastChange *time.Time
	err := l.db.Pool.QueryRow(ctx, `
		SELECT MAX(GREATEST(bound_at, COALESCE(deactivated_at, bound_at)))
		FROM domain_bindings
		WHERE domain = $1
	`, domain).Scan(&lastChange)
	if err != nil {
		return false, fmt.Errorf("failed to check cooldown: %w", err)
	}
	return l.cooldown > 0 && lastChange != nil && time.Since(*lastChange) < l.cooldown, nil
}

// Unbind deactivates an active binding (admin action). The deactivation
// timestamp starts the domain's rebinding cooldown.
func (l *BindingLedger) Unbind(ctx context.Context, licenseID, domain string) error {
	tag, err := l.db.Pool.Exec(ctx, `
		UPDATE domain_bindings
		SET is_active = false, deactivated_at = NOW()
		WHERE license_id = $1 AND domain = $2 AND is_active
	`, licenseID, domain)
	if err != nil {
		return fmt.Errorf("failed to unbind domain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("no active binding for %s on license %s", domain, licenseID)
	}

	l.log.Info().
		Str("domain", domain).
		Str("license_id", licenseID).
		Msg("domain unbound")
	return nil
}

// DeactivateAll deactivates every binding of a license (revocation)
func (l *BindingLedger) DeactivateAll(ctx context.Context, licenseID string) error {
	_, err := l.db.Pool.Exec(ctx, `
		UPDATE domain_bindings
		SET is_active = false, deactivated_at = NOW()
		WHERE license_id = $1 AND is_active
	`, licenseID)
	if err != nil {
		return fmt.Errorf("failed to deactivate bindings: %w", err)
	}
	return nil
}

// ListBindings returns all binding rows for a license, inactive included
func (l *BindingLedger) ListBindings(ctx context.Context, licenseID string) ([]DomainBinding, error) {
	query := `
	SELECT id, license_id, domain, bound_at, last_verified_at, deactivated_at, is_active
	FROM domain_bindings
	WHERE license_id = $1
	ORDER BY bound_at DESC
	`

	rows, err := l.db.Pool.Query(ctx, query, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings: %w", err)
	}
	defer rows.Close()

	var bindings []DomainBinding
	for rows.Next() {
		var b DomainBinding
		if err := rows.Scan(&b.ID, &b.LicenseID, &b.Domain, &b.BoundAt, &b.LastVerifiedAt, &b.DeactivatedAt, &b.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan binding row: %w", err)
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}
