package verification

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

// domainPattern matches a bare hostname after normalization. Wildcards
// are allowed only as a leading "*." label.
var domainPattern = regexp.MustCompile(`^(\*\.)?([a-z0-9]([a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}$`)

// DomainPolicy controls which domains a verification request may carry
type DomainPolicy struct {
	AllowLocalhost bool
	AllowWildcards bool
}

// NormalizeDomain canonicalizes a raw domain string: lowercase, scheme
// stripped, port stripped, path and query stripped, trailing dot removed.
// Returns an error when the result is not a plausible domain under the
// given policy.
func NormalizeDomain(raw string, policy DomainPolicy) (string, error) {
	d := strings.ToLower(strings.TrimSpace(raw))
	if d == "" {
		return "", fmt.Errorf("domain is required")
	}

	// Strip scheme
	if idx := strings.Index(d, "://"); idx >= 0 {
		d = d[idx+3:]
	}

	// Strip path, query, fragment
	for _, sep := range []string{"/", "?", "#"} {
		if idx := strings.Index(d, sep); idx >= 0 {
			d = d[:idx]
		}
	}

	// Strip port, but not the colons of a bare IPv6 address
	if host, _, err := net.SplitHostPort(d); err == nil {
		d = host
	}
	d = strings.TrimSuffix(d, ".")
	d = strings.Trim(d, "[]")

	if d == "" {
		return "", fmt.Errorf("domain is required")
	}

	if isLocal(d) {
		if !policy.AllowLocalhost {
			return "", fmt.Errorf("localhost domains are not allowed")
		}
		return d, nil
	}

	if strings.HasPrefix(d, "*.") {
		if !policy.AllowWildcards {
			return "", fmt.Errorf("wildcard domains are not allowed")
		}
	}

	if ip := net.ParseIP(d); ip != nil {
		return d, nil
	}

	if !domainPattern.MatchString(d) {
		return "", fmt.Errorf("invalid domain %q", d)
	}
	return d, nil
}

// isLocal reports whether the host is localhost or a loopback address
func isLocal(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// DomainMatches reports whether a requested domain is covered by a bound
// domain. A wildcard binding *.example.com covers any single extra label
// plus the apex itself.
func DomainMatches(bound, requested string) bool {
	if bound == requested {
		return true
	}
	if !strings.HasPrefix(bound, "*.") {
		return false
	}
	base := bound[2:]
	if requested == base {
		return true
	}
	return strings.HasSuffix(requested, "."+base)
}
