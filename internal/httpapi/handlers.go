package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"callscript/internal/audit"
	"callscript/internal/auth"
	"callscript/internal/callflow"
	"callscript/internal/calls"
	"callscript/internal/reporting"
	"callscript/internal/routing"
	"callscript/internal/scripts"
	"callscript/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallEngine is the part of the call engine the operator API drives.
type CallEngine interface {
	Call(ctx context.Context, to, from string, opts callflow.CallOptions) (*callflow.Session, error)
	Run(s *callflow.Session, script callflow.Script)
	Session(id string) (*callflow.Session, bool)
	Registry() *callflow.Registry
}

// RecordReader lists finished calls.
type RecordReader interface {
	Recent(ctx context.Context, limit int) ([]calls.Record, error)
	Get(ctx context.Context, callSID string) (calls.Record, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Operators *auth.Operators

	Engine    CallEngine
	Scripts   *scripts.Registry
	Records   RecordReader
	Overrides *routing.MemoryOverrideStore
	Audit     *audit.Service
	Reports   *reporting.Service

	Now func() time.Time
}

func (h Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Key    string `json:"key"`
}

// Login exchanges an operator key for a JWT token pair.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil || h.Operators == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Key == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and key required"})
		return
	}
	role, err := h.Operators.Authenticate(req.UserID, req.Key)
	if err != nil {
		logger.FromGin(c).Warn("operator login rejected", "user_id", req.UserID)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), req.UserID, role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh rotates a token pair. The role is re-read from the operator list.
func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil || h.Operators == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	claims, err := h.Auth.Verify(req.RefreshToken, auth.TokenTypeRefresh, h.now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	role, ok := h.Operators.RoleOf(claims.UserID)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "operator no longer exists"})
		return
	}
	pair, err := h.Auth.IssuePair(h.now(), claims.UserID, role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

// Me echoes the caller identity.
func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
}

// --- helpers ---

func actorOf(c *gin.Context) audit.Actor {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	return audit.Actor{UserID: uid, Role: role, IP: c.ClientIP()}
}

// limitParam reads ?limit=, bounded to [1, 500].
func limitParam(c *gin.Context, def int) (int, bool) {
	raw := c.Query("limit")
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n > 500 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 500"})
		return 0, false
	}
	return n, true
}

// writeEngineError maps call engine errors to HTTP responses.
func writeEngineError(c *gin.Context, err error) {
	var verr *callflow.ValidationError
	var ierr *callflow.InvocationError
	switch {
	case errors.As(err, &verr):
		status := http.StatusBadRequest
		if verr.Reason == callflow.ReasonAnswered || verr.Reason == callflow.ReasonEnded {
			status = http.StatusConflict
		}
		c.AbortWithStatusJSON(status, gin.H{"error": verr.Error(), "field": verr.Field, "reason": verr.Reason})
	case errors.Is(err, callflow.ErrConcurrencyLimit):
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "concurrency limit reached"})
	case errors.As(err, &ierr):
		logger.FromGin(c).Error("provider request failed", "op", ierr.Op, "err", ierr.Err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "provider request failed"})
	default:
		logger.FromGin(c).Error("call engine error", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
