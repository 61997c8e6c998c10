package database

import (
	"context"
	"fmt"
	"time"

	"license-server/internal/verification"
)

// AuditRepository persists verification attempts to the append-only
// verification_logs table and serves the reporting read path.
type AuditRepository struct {
	db *DB
}

// NewAuditRepository creates an audit repository
func NewAuditRepository(db *DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Record appends one verification log entry
func (r *AuditRepository) Record(ctx context.Context, entry *verification.AuditEntry) error {
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	query := `
	INSERT INTO verification_logs (license_key, domain, product_id, outcome, reason_code, ip_address, user_agent, used_authority_fallback, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.Pool.Exec(ctx, query,
		entry.LicenseKey,
		entry.Domain,
		entry.ProductID,
		string(entry.Outcome),
		string(entry.Reason),
		entry.IP,
		entry.UserAgent,
		entry.UsedAuthorityFallback,
		ts,
	)
	if err != nil {
		return fmt.Errorf("failed to append verification log: %w", err)
	}
	return nil
}

// GetLogsByKey returns recent log entries for a license key, newest first
func (r *AuditRepository) GetLogsByKey(ctx context.Context, licenseKey string, limit int) ([]VerificationLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
	SELECT id, license_key, domain, product_id, outcome, COALESCE(reason_code, ''),
	       COALESCE(ip_address, ''), COALESCE(user_agent, ''), used_authority_fallback, created_at
	FROM verification_logs
	WHERE license_key = $1
	ORDER BY created_at DESC
	LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, licenseKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query verification logs: %w", err)
	}
	defer rows.Close()

	var logs []VerificationLog
	for rows.Next() {
		var l VerificationLog
		if err := rows.Scan(&l.ID, &l.LicenseKey, &l.Domain, &l.ProductID, &l.Outcome,
			&l.ReasonCode, &l.IPAddress, &l.UserAgent, &l.UsedAuthorityFallback, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan verification log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// GetRecentLogs returns the newest log entries across all keys
func (r *AuditRepository) GetRecentLogs(ctx context.Context, limit int) ([]VerificationLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
	SELECT id, license_key, domain, product_id, outcome, COALESCE(reason_code, ''),
	       COALESCE(ip_address, ''), COALESCE(user_agent, ''), used_authority_fallback, created_at
	FROM verification_logs
	ORDER BY created_at DESC
	LIMIT $1
	`

	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query verification logs: %w", err)
	}
	defer rows.Close()

	var logs []VerificationLog
	for rows.Next() {
		var l VerificationLog
		if err := rows.Scan(&l.ID, &l.LicenseKey, &l.Domain, &l.ProductID, &l.Outcome,
			&l.ReasonCode, &l.IPAddress, &l.UserAgent, &l.UsedAuthorityFallback, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan verification log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// GetSuspiciousActivity returns keys with at least minFailures failed
// attempts within the lookback window, ordered by failure count.
func (r *AuditRepository) GetSuspiciousActivity(ctx context.Context, lookback time.Duration, minFailures int) ([]FailureSummary, error) {
	if minFailures <= 0 {
		minFailures = 10
	}

	query := `
	SELECT license_key, COUNT(*), COUNT(DISTINCT domain), MAX(created_at)
	FROM verification_logs
	WHERE outcome = 'invalid' AND created_at > $1
	GROUP BY license_key
	HAVING COUNT(*) >= $2
	ORDER BY COUNT(*) DESC
	LIMIT 100
	`

	rows, err := r.db.Pool.Query(ctx, query, time.Now().Add(-lookback), minFailures)
	if err != nil {
		return nil, fmt.Errorf("failed to query suspicious activity: %w", err)
	}
	defer rows.Close()

	var summaries []FailureSummary
	for rows.Next() {
		var s FailureSummary
		if err := rows.Scan(&s.LicenseKey, &s.FailureCount, &s.DomainCount, &s.LastFailure); err != nil {
			return nil, fmt.Errorf("failed to scan failure summary: %w", err)
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// PurgeOldLogs deletes log entries older than the retention window.
// Returns the number of rows removed.
func (r *AuditRepository) PurgeOldLogs(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM verification_logs WHERE created_at < $1`,
		time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to purge verification logs: %w", err)
	}
	return tag.RowsAffected(), nil
}
