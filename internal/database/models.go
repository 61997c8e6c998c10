package database

import (
	"time"
)

// DomainBinding represents one domain binding row. Rows are deactivated,
// never deleted, so the per-domain cooldown can look at history.
type DomainBinding struct {
	ID             string     `json:"id" db:"id"`
	LicenseID      string     `json:"license_id" db:"license_id"`
	Domain         string     `json:"domain" db:"domain"`
	BoundAt        time.Time  `json:"bound_at" db:"bound_at"`
	LastVerifiedAt time.Time  `json:"last_verified_at" db:"last_verified_at"`
	DeactivatedAt  *time.Time `json:"deactivated_at,omitempty" db:"deactivated_at"`
	IsActive       bool       `json:"is_active" db:"is_active"`
}

// VerificationLog is one append-only verification log row
type VerificationLog struct {
	ID                    string    `json:"id" db:"id"`
	LicenseKey            string    `json:"license_key" db:"license_key"`
	Domain                string    `json:"domain" db:"domain"`
	ProductID             string    `json:"product_id" db:"product_id"`
	Outcome               string    `json:"outcome" db:"outcome"`
	ReasonCode            string    `json:"reason_code" db:"reason_code"`
	IPAddress             string    `json:"ip_address" db:"ip_address"`
	UserAgent             string    `json:"user_agent" db:"user_agent"`
	UsedAuthorityFallback bool      `json:"used_authority_fallback" db:"used_authority_fallback"`
	CreatedAt             time.Time `json:"created_at" db:"created_at"`
}

// FailureSummary aggregates recent failures per license key, used by the
// suspicious-activity report
type FailureSummary struct {
	LicenseKey   string    `json:"license_key"`
	FailureCount int       `json:"failure_count"`
	DomainCount  int       `json:"domain_count"`
	LastFailure  time.Time `json:"last_failure"`
}

// AdminUser is an admin account for the management API
type AdminUser struct {
	ID           string     `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	PasswordHash string     `json:"-" db:"password_hash"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
}
