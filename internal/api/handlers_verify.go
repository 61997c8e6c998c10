package api

import (
	"net/http"
	"time"

	"license-server/internal/verification"

	"github.com/gin-gonic/gin"
)

// VerifyRequest is the inbound verification payload
type VerifyRequest struct {
	LicenseKey string `json:"license_key" binding:"required"`
	Domain     string `json:"domain" binding:"required"`
	ProductID  string `json:"product_id" binding:"required"`
	Version    string `json:"version"` // Optional, recorded for support only
}

// VerifyResponse serializes a verification result
type VerifyResponse struct {
	Success               bool       `json:"success"`
	Status                string     `json:"status"`
	Reason                string     `json:"reason,omitempty"`
	LicenseType           string     `json:"license_type,omitempty"`
	ExpiresAt             *time.Time `json:"expires_at,omitempty"`
	SupportExpiresAt      *time.Time `json:"support_expires_at,omitempty"`
	GraceDaysRemaining    int        `json:"grace_days_remaining,omitempty"`
	LockoutRemainingSecs  int        `json:"lockout_remaining_secs,omitempty"`
	UsedAuthorityFallback bool       `json:"used_authority_fallback,omitempty"`
}

// handleVerify runs the verification engine for one request
func (s *Server) handleVerify(c *gin.Context) {
	var req VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "license_key, domain and product_id are required"})
		return
	}

	result := s.engine.Verify(c.Request.Context(), &verification.Request{
		Key:       req.LicenseKey,
		Domain:    req.Domain,
		ProductID: req.ProductID,
		Meta: verification.RequestMeta{
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
		},
	})

	c.JSON(httpStatusFor(result), VerifyResponse{
		Success:               result.OK(),
		Status:                string(result.Status),
		Reason:                string(result.Reason),
		LicenseType:           string(result.LicenseType),
		ExpiresAt:             result.ExpiresAt,
		SupportExpiresAt:      result.SupportExpiresAt,
		GraceDaysRemaining:    result.GraceDaysRemaining,
		LockoutRemainingSecs:  result.LockoutRemainingSecs,
		UsedAuthorityFallback: result.UsedAuthorityFallback,
	})
}

// httpStatusFor maps a verification result to an HTTP status code
func httpStatusFor(result *verification.Result) int {
	switch result.Status {
	case verification.StatusValid, verification.StatusGracePeriod:
		return http.StatusOK
	case verification.StatusIndeterminate:
		return http.StatusServiceUnavailable
	default:
		if result.Reason == verification.ReasonLockedOut {
			return http.StatusTooManyRequests
		}
		return http.StatusForbidden
	}
}
