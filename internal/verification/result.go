package verification

import (
	"time"

	"license-server/internal/license"
)

// Status is the top-level outcome of a verification request
type Status string

const (
	StatusValid         Status = "valid"
	StatusGracePeriod   Status = "valid_grace_period"
	StatusInvalid       Status = "invalid"
	StatusIndeterminate Status = "indeterminate"
)

// ReasonCode explains why a request was not plainly valid
type ReasonCode string

const (
	ReasonNotFound             ReasonCode = "not_found"
	ReasonExpired              ReasonCode = "expired"
	ReasonSuspended            ReasonCode = "suspended"
	ReasonRevoked              ReasonCode = "revoked"
	ReasonDomainLimitExceeded  ReasonCode = "domain_limit_exceeded"
	ReasonDomainCooldownActive ReasonCode = "domain_cooldown_active"
	ReasonProductMismatch      ReasonCode = "product_mismatch"
	ReasonLockedOut            ReasonCode = "locked_out"
	ReasonAuthorityRejected    ReasonCode = "authority_rejected"
	ReasonAuthorityUnreachable ReasonCode = "authority_unreachable"
	ReasonStoreUnavailable     ReasonCode = "store_unavailable"
)

// Result is the typed outcome of a Verify call. Every branch of the
// engine produces one of these; errors are never used for policy flow.
type Result struct {
	Status                Status       `json:"status"`
	Reason                ReasonCode   `json:"reason,omitempty"`
	LicenseType           license.Type `json:"license_type,omitempty"`
	ExpiresAt             *time.Time   `json:"expires_at,omitempty"`
	SupportExpiresAt      *time.Time   `json:"support_expires_at,omitempty"`
	GraceDaysRemaining    int          `json:"grace_days_remaining,omitempty"`
	LockoutRemainingSecs  int          `json:"lockout_remaining_secs,omitempty"`
	UsedAuthorityFallback bool         `json:"used_authority_fallback,omitempty"`

	// FromCache marks a result served from the verification cache. It is
	// set on the way out and never persisted into the cache itself.
	FromCache bool `json:"-"`
}

// OK reports whether the result authorizes access
func (r *Result) OK() bool {
	return r.Status == StatusValid || r.Status == StatusGracePeriod
}

// Valid builds a fully-valid result from license metadata
func Valid(l *license.License) *Result {
	return &Result{
		Status:           StatusValid,
		LicenseType:      l.Type,
		ExpiresAt:        l.ExpiresAt,
		SupportExpiresAt: l.SupportExpiresAt,
	}
}

// GracePeriod builds a degraded-but-valid result for an expired license
// inside its grace window
func GracePeriod(l *license.License, daysRemaining int) *Result {
	return &Result{
		Status:             StatusGracePeriod,
		LicenseType:        l.Type,
		ExpiresAt:          l.ExpiresAt,
		SupportExpiresAt:   l.SupportExpiresAt,
		GraceDaysRemaining: daysRemaining,
	}
}

// Invalid builds a policy-rejection result
func Invalid(reason ReasonCode) *Result {
	return &Result{Status: StatusInvalid, Reason: reason}
}

// Indeterminate builds a result for infrastructure failures where
// internal state is insufficient to decide
func Indeterminate(reason ReasonCode) *Result {
	return &Result{Status: StatusIndeterminate, Reason: reason}
}

// RequestMeta carries request context recorded into the audit log
type RequestMeta struct {
	IP        string
	UserAgent string
	Timestamp time.Time // Zero value means "now"
}

// AuditEntry is one append-only row of the verification audit log
type AuditEntry struct {
	LicenseKey            string     `json:"license_key"`
	Domain                string     `json:"domain"`
	ProductID             string     `json:"product_id"`
	Outcome               Status     `json:"outcome"`
	Reason                ReasonCode `json:"reason,omitempty"`
	IP                    string     `json:"ip,omitempty"`
	UserAgent             string     `json:"user_agent,omitempty"`
	UsedAuthorityFallback bool       `json:"used_authority_fallback"`
	Timestamp             time.Time  `json:"timestamp"`
}
