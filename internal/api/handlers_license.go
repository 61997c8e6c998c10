package api

import (
	"net/http"
	"strconv"
	"time"

	"license-server/internal/events"
	"license-server/internal/license"

	"github.com/gin-gonic/gin"
)

// CreateLicenseRequest is the admin payload for issuing a license
type CreateLicenseRequest struct {
	ProductID       string `json:"product_id" binding:"required"`
	Type            string `json:"type" binding:"required"`
	ExpiresDays     *int   `json:"expires_days"`      // Overrides the type default; 0 = no expiry
	MaxDomains      *int   `json:"max_domains"`       // Overrides the type default; -1 = unlimited
	GracePeriodDays *int   `json:"grace_period_days"` // Overrides the type default
	CustomerEmail   string `json:"customer_email"`
	Notes           string `json:"notes"`
}

// handleCreateLicense issues a new license key
func (s *Server) handleCreateLicense(c *gin.Context) {
	var req CreateLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	typ := license.Type(req.Type)
	switch typ {
	case license.TypeRegular, license.TypeExtended, license.TypeDeveloper, license.TypeTrial:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be regular, extended, developer or trial"})
		return
	}

	key, err := license.GenerateKey(typ)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate license key"})
		return
	}

	defaults := license.DefaultsFor(typ)
	now := time.Now()

	lic := &license.License{
		Key:             key,
		ProductID:       req.ProductID,
		Type:            typ,
		Status:          license.StatusActive,
		IssuedAt:        now,
		MaxDomains:      defaults.MaxDomains,
		GracePeriodDays: defaults.GracePeriodDays,
		CustomerEmail:   req.CustomerEmail,
		Notes:           req.Notes,
	}

	durationDays := defaults.DurationDays
	if req.ExpiresDays != nil {
		durationDays = *req.ExpiresDays
	}
	if durationDays > 0 {
		expires := now.AddDate(0, 0, durationDays)
		lic.ExpiresAt = &expires
	}
	if defaults.SupportDays > 0 {
		support := now.AddDate(0, 0, defaults.SupportDays)
		lic.SupportExpiresAt = &support
	}
	if req.MaxDomains != nil {
		lic.MaxDomains = *req.MaxDomains
	}
	if req.GracePeriodDays != nil {
		lic.GracePeriodDays = *req.GracePeriodDays
	}

	if err := s.repo.CreateLicense(c.Request.Context(), lic); err != nil {
		s.log.Error("failed to create license", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create license"})
		return
	}

	s.publish(events.EventLicenseCreated, lic)
	c.JSON(http.StatusCreated, lic)
}

// handleListLicenses returns licenses, newest first
func (s *Server) handleListLicenses(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	licenses, err := s.repo.ListLicenses(c.Request.Context(), limit, offset)
	if err != nil {
		s.log.Error("failed to list licenses", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list licenses"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"licenses": licenses, "count": len(licenses)})
}

// handleGetLicense returns one license with its bindings
func (s *Server) handleGetLicense(c *gin.Context) {
	lic, ok := s.loadLicense(c)
	if !ok {
		return
	}

	bindings, err := s.ledger.ListBindings(c.Request.Context(), lic.ID)
	if err != nil {
		s.log.Error("failed to list bindings", "license_id", lic.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load bindings"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"license": lic, "bindings": bindings})
}

// handleSuspendLicense suspends a license and invalidates its cache
func (s *Server) handleSuspendLicense(c *gin.Context) {
	s.mutateStatus(c, license.StatusSuspended, events.EventLicenseSuspended)
}

// handleReactivateLicense reactivates a suspended license
func (s *Server) handleReactivateLicense(c *gin.Context) {
	lic, ok := s.loadLicense(c)
	if !ok {
		return
	}
	if lic.Status != license.StatusSuspended {
		c.JSON(http.StatusConflict, gin.H{"error": "only suspended licenses can be reactivated"})
		return
	}
	s.mutateStatus(c, license.StatusActive, events.EventLicenseRenewed)
}

// handleRevokeLicense revokes a license, deactivates its bindings and
// invalidates its cache. Revocation is terminal.
func (s *Server) handleRevokeLicense(c *gin.Context) {
	lic, ok := s.loadLicense(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if err := s.repo.UpdateLicenseStatus(ctx, lic.ID, license.StatusRevoked); err != nil {
		s.log.Error("failed to revoke license", "license_id", lic.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to revoke license"})
		return
	}
	if err := s.ledger.DeactivateAll(ctx, lic.ID); err != nil {
		s.log.Error("failed to deactivate bindings", "license_id", lic.ID, "error", err)
	}

	invalidated := s.invalidate(c, lic.Key)
	s.publish(events.EventLicenseRevoked, lic)
	c.JSON(http.StatusOK, gin.H{"status": "revoked", "cache_invalidated": invalidated})
}

// RenewLicenseRequest extends a license
type RenewLicenseRequest struct {
	ExtendDays  int  `json:"extend_days" binding:"required,min=1"`
	SupportDays *int `json:"support_days"`
}

// handleRenewLicense extends expiry (and support) from now or from the
// current expiry, whichever is later.
func (s *Server) handleRenewLicense(c *gin.Context) {
	lic, ok := s.loadLicense(c)
	if !ok {
		return
	}
	if lic.Status == license.StatusRevoked {
		c.JSON(http.StatusConflict, gin.H{"error": "revoked licenses cannot be renewed"})
		return
	}

	var req RenewLicenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	base := time.Now()
	if lic.ExpiresAt != nil && lic.ExpiresAt.After(base) {
		base = *lic.ExpiresAt
	}
	newExpiry := base.AddDate(0, 0, req.ExtendDays)

	newSupport := newExpiry
	if req.SupportDays != nil {
		newSupport = time.Now().AddDate(0, 0, *req.SupportDays)
	}

	if err := s.repo.RenewLicense(c.Request.Context(), lic.ID, newExpiry, newSupport); err != nil {
		s.log.Error("failed to renew license", "license_id", lic.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to renew license"})
		return
	}

	invalidated := s.invalidate(c, lic.Key)
	s.publish(events.EventLicenseRenewed, gin.H{"license_id": lic.ID, "expires_at": newExpiry})
	c.JSON(http.StatusOK, gin.H{
		"status":            "renewed",
		"expires_at":        newExpiry,
		"cache_invalidated": invalidated,
	})
}

// handleListBindings returns all binding rows for a license
func (s *Server) handleListBindings(c *gin.Context) {
	lic, ok := s.loadLicense(c)
	if !ok {
		return
	}

	bindings, err := s.ledger.ListBindings(c.Request.Context(), lic.ID)
	if err != nil {
		s.log.Error("failed to list bindings", "license_id", lic.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load bindings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bindings": bindings})
}

// handleUnbindDomain deactivates one binding and invalidates the cache
func (s *Server) handleUnbindDomain(c *gin.Context) {
	lic, ok := s.loadLicense(c)
	if !ok {
		return
	}
	domain := c.Param("domain")

	if err := s.ledger.Unbind(c.Request.Context(), lic.ID, domain); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	invalidated := s.invalidate(c, lic.Key)
	s.publish(events.EventDomainUnbound, gin.H{"license_id": lic.ID, "domain": domain})
	c.JSON(http.StatusOK, gin.H{"status": "unbound", "cache_invalidated": invalidated})
}

// handleResetAttempts clears attempt tracker state for a license key
func (s *Server) handleResetAttempts(c *gin.Context) {
	lic, ok := s.loadLicense(c)
	if !ok {
		return
	}

	if err := s.tracker.Reset(c.Request.Context(), lic.Key); err != nil {
		s.log.Error("failed to reset attempts", "key", lic.Key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset attempts"})
		return
	}

	s.publish(events.EventAttemptsReset, gin.H{"license_id": lic.ID})
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// loadLicense resolves the :id path parameter. Writes the error response
// itself when the license cannot be loaded.
func (s *Server) loadLicense(c *gin.Context) (*license.License, bool) {
	lic, err := s.repo.GetLicenseByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.log.Error("failed to load license", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load license"})
		return nil, false
	}
	if lic == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "license not found"})
		return nil, false
	}
	return lic, true
}

// mutateStatus updates license status and synchronously invalidates the
// verification cache so the change takes effect before TTL expiry.
func (s *Server) mutateStatus(c *gin.Context, status license.Status, eventType events.EventType) {
	lic, ok := s.loadLicense(c)
	if !ok {
		return
	}

	if err := s.repo.UpdateLicenseStatus(c.Request.Context(), lic.ID, status); err != nil {
		s.log.Error("failed to update license status", "license_id", lic.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update license"})
		return
	}

	invalidated := s.invalidate(c, lic.Key)
	s.publish(eventType, gin.H{"license_id": lic.ID, "status": status})
	c.JSON(http.StatusOK, gin.H{"status": string(status), "cache_invalidated": invalidated})
}

// invalidate drops cached results for a key. A failure is logged and
// reported to the caller; stale entries may then survive until TTL.
func (s *Server) invalidate(c *gin.Context, key string) bool {
	if s.verifyCache == nil {
		return true
	}
	if err := s.verifyCache.InvalidateAll(c.Request.Context(), key); err != nil {
		s.log.Error("cache invalidation failed", "key", key, "error", err)
		return false
	}
	return true
}

func (s *Server) publish(eventType events.EventType, data interface{}) {
	if s.eventBus != nil {
		s.eventBus.PublishEvent(events.Event{Type: eventType, Data: data})
	}
}
