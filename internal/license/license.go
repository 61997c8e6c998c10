// Package license defines the license domain model: key grammar, license
// types with their per-type limits, and key generation.
package license

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Type defines the type of license
type Type string

const (
	TypeRegular   Type = "regular"
	TypeExtended  Type = "extended"
	TypeDeveloper Type = "developer"
	TypeTrial     Type = "trial"
)

// Status defines the lifecycle state of a license. Licenses are never
// physically deleted; revocation is the terminal state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
)

// UnlimitedDomains marks a license with no domain capacity limit
const UnlimitedDomains = -1

// License is the root entity of the verification engine. Storage lives
// behind the database package; this struct carries only domain state.
type License struct {
	ID               string     `json:"id"`
	Key              string     `json:"key"`
	ProductID        string     `json:"product_id"`
	Type             Type       `json:"type"`
	Status           Status     `json:"status"`
	IssuedAt         time.Time  `json:"issued_at"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"` // nil = no expiry (developer licenses)
	SupportExpiresAt *time.Time `json:"support_expires_at,omitempty"`
	MaxDomains       int        `json:"max_domains"` // UnlimitedDomains = no cap
	GracePeriodDays  int        `json:"grace_period_days"`
	CustomerEmail    string     `json:"customer_email,omitempty"`
	Notes            string     `json:"notes,omitempty"`
}

// KeyPattern matches the PPP-XXXX-XXXX-CCCC key format
var KeyPattern = regexp.MustCompile(`^[A-Z0-9]{3}-[A-Z0-9]{4}-[A-Z0-9]{4}-[A-Z0-9]{4}$`)

const checksumSalt = "LICENSE_SERVER_2025"

// TypeDefaults holds per-type issuing defaults
type TypeDefaults struct {
	MaxDomains      int
	DurationDays    int // 0 = no expiry
	SupportDays     int
	GracePeriodDays int
}

// DefaultsFor returns the issuing defaults for a license type
func DefaultsFor(t Type) TypeDefaults {
	switch t {
	case TypeExtended:
		return TypeDefaults{MaxDomains: 5, DurationDays: 365, SupportDays: 365, GracePeriodDays: 7}
	case TypeDeveloper:
		return TypeDefaults{MaxDomains: UnlimitedDomains, DurationDays: 0, SupportDays: 365, GracePeriodDays: 7}
	case TypeTrial:
		return TypeDefaults{MaxDomains: 1, DurationDays: 14, SupportDays: 14, GracePeriodDays: 0}
	default: // regular
		return TypeDefaults{MaxDomains: 1, DurationDays: 365, SupportDays: 180, GracePeriodDays: 7}
	}
}

// prefixFor returns the key prefix encoding the license type
func prefixFor(t Type) string {
	switch t {
	case TypeExtended:
		return "EXT"
	case TypeDeveloper:
		return "DEV"
	case TypeTrial:
		return "TRL"
	default:
		return "REG"
	}
}

// TypeFromPrefix decodes a license type from a key prefix
func TypeFromPrefix(prefix string) Type {
	switch prefix {
	case "EXT":
		return TypeExtended
	case "DEV":
		return TypeDeveloper
	case "TRL":
		return TypeTrial
	default:
		return TypeRegular
	}
}

// GenerateKey generates a new license key for the given type.
// Format: PPP-XXXX-XXXX-CCCC where CCCC is a checksum over the first
// three groups.
func GenerateKey(t Type) (string, error) {
	part2, err := randomAlphanumeric(4)
	if err != nil {
		return "", err
	}
	part3, err := randomAlphanumeric(4)
	if err != nil {
		return "", err
	}

	prefix := prefixFor(t)
	checksum := Checksum(prefix + part2 + part3)

	return fmt.Sprintf("%s-%s-%s-%s", prefix, part2, part3, checksum), nil
}

// Checksum derives the 4-character checksum group from the key payload
func Checksum(payload string) string {
	hash := sha256.Sum256([]byte(payload + checksumSalt))
	return strings.ToUpper(hex.EncodeToString(hash[:])[:4])
}

// ValidateKeyFormat checks key shape and checksum without touching storage.
// Returns the type encoded in the prefix when the key is well formed.
func ValidateKeyFormat(key string) (Type, error) {
	key = strings.ToUpper(strings.TrimSpace(key))

	if !KeyPattern.MatchString(key) {
		return "", fmt.Errorf("invalid license key format, expected PPP-XXXX-XXXX-CCCC")
	}

	parts := strings.Split(key, "-")
	if Checksum(parts[0]+parts[1]+parts[2]) != parts[3] {
		return "", fmt.Errorf("license key checksum mismatch")
	}

	return TypeFromPrefix(parts[0]), nil
}

// NormalizeKey uppercases and trims a raw key for lookup
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// IsExpired reports whether the license is past its expiry at the given
// instant. Licenses without an expiry never expire.
func (l *License) IsExpired(now time.Time) bool {
	if l.ExpiresAt == nil {
		return false
	}
	return now.After(*l.ExpiresAt)
}

// InGracePeriod reports whether the license is expired but still inside
// its grace window at the given instant.
func (l *License) InGracePeriod(now time.Time) bool {
	if l.ExpiresAt == nil || !l.IsExpired(now) {
		return false
	}
	graceEnd := l.ExpiresAt.AddDate(0, 0, l.GracePeriodDays)
	return !now.After(graceEnd)
}

// GraceDaysRemaining returns the number of whole grace days left at the
// given instant, zero when outside the grace window.
func (l *License) GraceDaysRemaining(now time.Time) int {
	if l.ExpiresAt == nil || !l.IsExpired(now) {
		return 0
	}
	elapsed := int(now.Sub(*l.ExpiresAt).Hours() / 24)
	remaining := l.GracePeriodDays - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Unlimited reports whether the license has no domain capacity limit
func (l *License) Unlimited() bool {
	return l.MaxDomains == UnlimitedDomains
}

func randomAlphanumeric(length int) (string, error) {
	const chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i := range buf {
		buf[i] = chars[int(buf[i])%len(chars)]
	}
	return string(buf), nil
}
