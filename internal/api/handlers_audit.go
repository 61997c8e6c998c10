package api

import (
	"net/http"
	"strconv"
	"time"

	"license-server/internal/license"

	"github.com/gin-gonic/gin"
)

// handleRecentLogs returns the newest verification log entries
func (s *Server) handleRecentLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	logs, err := s.audit.GetRecentLogs(c.Request.Context(), limit)
	if err != nil {
		s.log.Error("failed to load verification logs", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

// handleLogsByKey returns recent log entries for one license key
func (s *Server) handleLogsByKey(c *gin.Context) {
	key := license.NormalizeKey(c.Param("key"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	logs, err := s.audit.GetLogsByKey(c.Request.Context(), key, limit)
	if err != nil {
		s.log.Error("failed to load verification logs", "key", key, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load logs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs, "count": len(logs)})
}

// handleSuspiciousActivity reports keys with heavy recent failure volume
func (s *Server) handleSuspiciousActivity(c *gin.Context) {
	hours, _ := strconv.Atoi(c.DefaultQuery("hours", "24"))
	minFailures, _ := strconv.Atoi(c.DefaultQuery("min_failures", "10"))
	if hours <= 0 {
		hours = 24
	}

	summaries, err := s.audit.GetSuspiciousActivity(c.Request.Context(), time.Duration(hours)*time.Hour, minFailures)
	if err != nil {
		s.log.Error("failed to load suspicious activity", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load suspicious activity"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"suspicious": summaries, "count": len(summaries)})
}
