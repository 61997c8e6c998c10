// Package verification implements the license verification engine: the
// state machine that decides, for a license key and requesting domain,
// whether access is currently authorized.
package verification

import (
	"context"
	"time"

	"license-server/internal/license"
	"license-server/internal/logging"
)

// AuthorityOutcome is the tri-state answer of the purchase-code authority
type AuthorityOutcome string

const (
	AuthorityConfirmed   AuthorityOutcome = "confirmed"
	AuthorityRejected    AuthorityOutcome = "rejected"
	AuthorityUnreachable AuthorityOutcome = "unreachable"
)

// BindOutcome is the result of a ledger bind attempt
type BindOutcome int

const (
	BindBound BindOutcome = iota
	BindAlreadyBound
	BindLimitExceeded
	BindCooldown
)

// Binding is one active domain binding as seen by the engine
type Binding struct {
	Domain         string
	BoundAt        time.Time
	LastVerifiedAt time.Time
}

// LicenseStore loads license records by key. A missing license returns
// (nil, nil), matching the repository convention used across the codebase.
type LicenseStore interface {
	GetByKey(ctx context.Context, key string) (*license.License, error)
}

// BindingLedger is the durable record of domain bindings. Bind performs
// the capacity check and insert atomically with respect to concurrent
// requests for the same license.
type BindingLedger interface {
	GetActiveBindings(ctx context.Context, licenseID string) ([]Binding, error)
	Bind(ctx context.Context, licenseID, domain string, maxDomains int) (BindOutcome, error)
	Touch(ctx context.Context, licenseID, domain string) error
}

// AttemptTracker counts failed verifications per key and enforces lockout
type AttemptTracker interface {
	IsLockedOut(ctx context.Context, key string) (bool, time.Duration, error)
	RecordFailure(ctx context.Context, key string) error
	RecordSuccess(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

// ResultCache stores recent verification outcomes keyed by (key, domain).
// Implementations fail open: a broken cache behaves as always-miss.
type ResultCache interface {
	Get(ctx context.Context, key, domain string) (*Result, bool)
	Put(ctx context.Context, key, domain string, result *Result)
	InvalidateAll(ctx context.Context, key string) error
}

// AuthorityClient confirms purchase codes against the external authority
type AuthorityClient interface {
	Confirm(ctx context.Context, purchaseCode, productID string) (AuthorityOutcome, error)
}

// AuditLog appends verification attempts to the append-only log
type AuditLog interface {
	Record(ctx context.Context, entry *AuditEntry) error
}

// Publisher broadcasts verification events to in-process subscribers
type Publisher interface {
	Publish(eventType string, data interface{})
}

// EventVerification is the event type published after every decided
// request. The value matches events.EventVerification; the engine keeps
// its own constant so it does not import the bus package.
const EventVerification = "LICENSE_VERIFICATION"

// Options is the immutable policy configuration of the engine
type Options struct {
	UseAuthority       bool
	FallbackToInternal bool
	AllowOffline       bool
	CacheResults       bool
	AllowExpired       bool
	DomainPolicy       DomainPolicy
}

// Deps bundles the engine's collaborators. Cache, Authority and Bus may
// be nil when the corresponding feature is disabled.
type Deps struct {
	Store     LicenseStore
	Ledger    BindingLedger
	Tracker   AttemptTracker
	Cache     ResultCache
	Authority AuthorityClient
	Audit     AuditLog
	Bus       Publisher
	Logger    *logging.Logger
}

// Request is one inbound verification request
type Request struct {
	Key       string
	Domain    string
	ProductID string
	Meta      RequestMeta
}

// Engine orchestrates the verification state machine
type Engine struct {
	store     LicenseStore
	ledger    BindingLedger
	tracker   AttemptTracker
	cache     ResultCache
	authority AuthorityClient
	audit     AuditLog
	bus       Publisher
	opts      Options
	log       *logging.Logger
	now       func() time.Time
}

// New creates a verification engine
func New(deps Deps, opts Options) *Engine {
	log := deps.Logger
	if log == nil {
		log = logging.Default()
	}
	return &Engine{
		store:     deps.Store,
		ledger:    deps.Ledger,
		tracker:   deps.Tracker,
		cache:     deps.Cache,
		authority: deps.Authority,
		audit:     deps.Audit,
		bus:       deps.Bus,
		opts:      opts,
		log:       log.WithComponent("verification"),
		now:       time.Now,
	}
}

// Verify runs the verification state machine for one request. Every
// branch yields a typed Result; errors from collaborators are converted
// to Indeterminate results or degraded paths, never propagated raw.
func (e *Engine) Verify(ctx context.Context, req *Request) *Result {
	now := req.Meta.Timestamp
	if now.IsZero() {
		now = e.now()
	}

	// Malformed input is not a verification attempt: reject before any
	// tracker bookkeeping.
	key := license.NormalizeKey(req.Key)
	if key == "" {
		return e.finish(ctx, req, now, Invalid(ReasonNotFound), false)
	}
	if _, err := license.ValidateKeyFormat(key); err != nil {
		e.log.Debug("rejecting malformed key", "error", err)
		return e.finish(ctx, req, now, Invalid(ReasonNotFound), false)
	}
	domain, err := NormalizeDomain(req.Domain, e.opts.DomainPolicy)
	if err != nil {
		e.log.Debug("rejecting invalid domain", "domain", req.Domain, "error", err)
		return e.finish(ctx, req, now, Invalid(ReasonNotFound), false)
	}
	req.Key = key
	req.Domain = domain

	// Lockout precedes the cache so a locked-out key cannot be unlocked
	// by a lingering cached success.
	if locked, remaining, err := e.tracker.IsLockedOut(ctx, key); err != nil {
		e.log.Warn("attempt tracker unavailable", "error", err)
	} else if locked {
		result := Invalid(ReasonLockedOut)
		result.LockoutRemainingSecs = int(remaining.Seconds() + 0.5)
		return e.finish(ctx, req, now, result, false)
	}

	if e.opts.CacheResults && e.cache != nil {
		if cached, found := e.cache.Get(ctx, key, domain); found {
			hit := *cached
			hit.FromCache = true
			return &hit
		}
	}

	lic, err := e.store.GetByKey(ctx, key)
	if err != nil {
		e.log.Error("license store unavailable", "error", err)
		return e.finish(ctx, req, now, Indeterminate(ReasonStoreUnavailable), false)
	}
	if lic == nil {
		return e.fail(ctx, req, now, Invalid(ReasonNotFound))
	}

	if req.ProductID != lic.ProductID {
		return e.fail(ctx, req, now, Invalid(ReasonProductMismatch))
	}

	switch lic.Status {
	case license.StatusRevoked:
		return e.fail(ctx, req, now, Invalid(ReasonRevoked))
	case license.StatusSuspended:
		return e.fail(ctx, req, now, Invalid(ReasonSuspended))
	}

	inGrace := false
	if lic.IsExpired(now) {
		switch {
		case lic.InGracePeriod(now):
			inGrace = true
		case e.opts.AllowExpired:
			// Explicit override: expired licenses keep verifying,
			// marked as grace with no days remaining.
			inGrace = true
		default:
			return e.fail(ctx, req, now, Invalid(ReasonExpired))
		}
	}

	if result := e.checkBinding(ctx, req, now, lic); result != nil {
		return result
	}

	usedFallback := false
	if e.opts.UseAuthority && e.authority != nil {
		outcome, err := e.authority.Confirm(ctx, key, req.ProductID)
		if err != nil {
			outcome = AuthorityUnreachable
		}
		switch outcome {
		case AuthorityRejected:
			// The authority is authoritative when reachable, even if
			// internal state looked valid.
			return e.fail(ctx, req, now, Invalid(ReasonAuthorityRejected))
		case AuthorityUnreachable:
			if !e.opts.FallbackToInternal || !e.opts.AllowOffline {
				// Infrastructure failure is not attributable to the
				// caller: no tracker failure recorded.
				return e.finish(ctx, req, now, Indeterminate(ReasonAuthorityUnreachable), false)
			}
			usedFallback = true
		}
	}

	var result *Result
	if inGrace {
		result = GracePeriod(lic, lic.GraceDaysRemaining(now))
	} else {
		result = Valid(lic)
	}
	result.UsedAuthorityFallback = usedFallback

	if e.opts.CacheResults && e.cache != nil {
		e.cache.Put(ctx, key, domain, result)
	}
	if err := e.tracker.RecordSuccess(ctx, key); err != nil {
		e.log.Warn("failed to record success", "key", key, "error", err)
	}
	return e.finish(ctx, req, now, result, usedFallback)
}

// checkBinding runs the domain binding step. Returns nil when the
// request may proceed, or the terminal result otherwise.
func (e *Engine) checkBinding(ctx context.Context, req *Request, now time.Time, lic *license.License) *Result {
	bindings, err := e.ledger.GetActiveBindings(ctx, lic.ID)
	if err != nil {
		// The ledger guards the capacity invariant, so it fails closed.
		e.log.Error("binding ledger unavailable", "license_id", lic.ID, "error", err)
		return e.finish(ctx, req, now, Indeterminate(ReasonStoreUnavailable), false)
	}

	for _, b := range bindings {
		if DomainMatches(b.Domain, req.Domain) {
			if err := e.ledger.Touch(ctx, lic.ID, b.Domain); err != nil {
				e.log.Warn("failed to touch binding", "domain", b.Domain, "error", err)
			}
			return nil
		}
	}

	outcome, err := e.ledger.Bind(ctx, lic.ID, req.Domain, lic.MaxDomains)
	if err != nil {
		e.log.Error("binding ledger unavailable", "license_id", lic.ID, "error", err)
		return e.finish(ctx, req, now, Indeterminate(ReasonStoreUnavailable), false)
	}
	switch outcome {
	case BindLimitExceeded:
		return e.fail(ctx, req, now, Invalid(ReasonDomainLimitExceeded))
	case BindCooldown:
		return e.fail(ctx, req, now, Invalid(ReasonDomainCooldownActive))
	}
	return nil
}

// fail records a policy rejection in the attempt tracker and finishes
func (e *Engine) fail(ctx context.Context, req *Request, now time.Time, result *Result) *Result {
	if err := e.tracker.RecordFailure(ctx, req.Key); err != nil {
		e.log.Warn("failed to record failure", "key", req.Key, "error", err)
	}
	return e.finish(ctx, req, now, result, false)
}

// finish appends the audit entry, publishes the verification event and
// returns the result. Exactly one audit entry per non-cache-hit request.
func (e *Engine) finish(ctx context.Context, req *Request, now time.Time, result *Result, usedFallback bool) *Result {
	entry := &AuditEntry{
		LicenseKey:            req.Key,
		Domain:                req.Domain,
		ProductID:             req.ProductID,
		Outcome:               result.Status,
		Reason:                result.Reason,
		IP:                    req.Meta.IP,
		UserAgent:             req.Meta.UserAgent,
		UsedAuthorityFallback: usedFallback,
		Timestamp:             now,
	}
	if err := e.audit.Record(ctx, entry); err != nil {
		e.log.Error("failed to append audit entry", "key", req.Key, "error", err)
	}
	if e.bus != nil {
		e.bus.Publish(EventVerification, entry)
	}

	e.log.Info("verification decided",
		"key", req.Key,
		"domain", req.Domain,
		"status", string(result.Status),
		"reason", string(result.Reason))
	return result
}
