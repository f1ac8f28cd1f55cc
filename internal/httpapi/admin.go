package httpapi

import (
	"net/http"
	"sort"
	"time"

	"callscript/internal/routing"
	"callscript/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type setOverrideRequest struct {
	Number string            `json:"number"`
	Script string            `json:"script"`
	Params map[string]string `json:"params,omitempty"`
	Reject bool              `json:"reject,omitempty"`
	// TTL is a Go duration string ("30m", "2h").
	TTL string `json:"ttl"`
}

const maxOverrideTTL = 7 * 24 * time.Hour

// SetOverride routes a dialed number to a script, or rejects its calls,
// until the override expires.
// RBAC: admin.
func (h Handlers) SetOverride(c *gin.Context) {
	if h.Overrides == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "overrides not configured"})
		return
	}
	var req setOverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	ttl, err := time.ParseDuration(req.TTL)
	if err != nil || ttl <= 0 || ttl > maxOverrideTTL {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "ttl must be a duration up to 168h"})
		return
	}
	if h.Scripts != nil && !req.Reject {
		if _, err := h.Scripts.Build(req.Script, req.Params); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	a := actorOf(c)
	o := routing.Override{
		ID:        uuid.NewString(),
		Number:    req.Number,
		Script:    req.Script,
		Params:    req.Params,
		Reject:    req.Reject,
		SetBy:     a.UserID,
		ExpiresAt: h.now().Add(ttl).UTC(),
	}
	if err := h.Overrides.Put(o); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.Audit != nil {
		meta := map[string]any{"number": o.Number, "script": o.Script, "reject": o.Reject, "expires_at": o.ExpiresAt}
		if err := h.Audit.LogOverrideSet(c.Request.Context(), a, o.ID, meta); err != nil {
			logger.FromGin(c).Warn("audit append failed", "err", err)
		}
	}
	c.JSON(http.StatusCreated, o)
}

// ListOverrides returns unexpired overrides ordered by number.
func (h Handlers) ListOverrides(c *gin.Context) {
	if h.Overrides == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "overrides not configured"})
		return
	}
	out := h.Overrides.Active(h.now())
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	c.JSON(http.StatusOK, gin.H{"overrides": out})
}

// DeleteOverride removes the override for :number.
func (h Handlers) DeleteOverride(c *gin.Context) {
	if h.Overrides == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "overrides not configured"})
		return
	}
	h.Overrides.Delete(c.Param("number"))
	c.Status(http.StatusNoContent)
}

// ListAudit returns recent audit events. RBAC: admin or auditor.
func (h Handlers) ListAudit(c *gin.Context) {
	if h.Audit == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "audit not configured"})
		return
	}
	limit, ok := limitParam(c, 100)
	if !ok {
		return
	}
	events, err := h.Audit.Recent(c.Request.Context(), limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
