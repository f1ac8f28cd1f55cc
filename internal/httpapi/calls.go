package httpapi

import (
	"errors"
	"net/http"
	"sort"

	"callscript/internal/audit"
	"callscript/internal/callflow"
	"callscript/internal/calls"
	"callscript/internal/scripts"
	"callscript/pkg/logger"

	"github.com/gin-gonic/gin"
)

type startCallRequest struct {
	To      string               `json:"to"`
	From    string               `json:"from"`
	Script  string               `json:"script"`
	Params  map[string]string    `json:"params,omitempty"`
	Options callflow.CallOptions `json:"options,omitempty"`
}

// StartCall places an outbound call and runs the named script on it.
func (h Handlers) StartCall(c *gin.Context) {
	if h.Engine == nil || h.Scripts == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call engine not configured"})
		return
	}
	var req startCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Script == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "script required"})
		return
	}

	// Build before dialing so a bad script never rings a phone.
	script, err := h.Scripts.Build(req.Script, req.Params)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, scripts.ErrUnknownScript) {
			status = http.StatusNotFound
		}
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}

	s, err := h.Engine.Call(c.Request.Context(), req.To, req.From, h.Scripts.CallOptions(req.Script, req.Options))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	h.Engine.Run(s, script)

	h.audit(c, audit.EventTypeCallStarted, s.ID(), "outbound call started", map[string]any{
		"to": req.To, "from": req.From, "script": req.Script,
	})
	c.JSON(http.StatusCreated, s.Snapshot())
}

// ListCalls returns every live session, oldest first.
func (h Handlers) ListCalls(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call engine not configured"})
		return
	}
	sessions := h.Engine.Registry().Sessions()
	out := make([]callflow.Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	c.JSON(http.StatusOK, gin.H{"calls": out})
}

// GetCall returns one live session.
func (h Handlers) GetCall(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call engine not configured"})
		return
	}
	s, ok := h.Engine.Session(c.Param("sid"))
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not live"})
		return
	}
	c.JSON(http.StatusOK, s.Snapshot())
}

// CancelCall drops a live call that has not been answered.
func (h Handlers) CancelCall(c *gin.Context) {
	if h.Engine == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call engine not configured"})
		return
	}
	sid := c.Param("sid")
	s, ok := h.Engine.Session(sid)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not live"})
		return
	}
	if err := s.Cancel(c.Request.Context()); err != nil {
		writeEngineError(c, err)
		return
	}
	h.audit(c, audit.EventTypeCallCanceled, sid, "outbound call canceled", nil)
	c.JSON(http.StatusAccepted, gin.H{"call_sid": sid, "status": "canceling"})
}

// ListRecords returns recent call detail records, newest first.
func (h Handlers) ListRecords(c *gin.Context) {
	if h.Records == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "records not configured"})
		return
	}
	limit, ok := limitParam(c, 50)
	if !ok {
		return
	}
	recs, err := h.Records.Recent(c.Request.Context(), limit)
	if err != nil {
		logger.FromGin(c).Error("record listing failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "record listing failed"})
		return
	}
	if recs == nil {
		recs = []calls.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

// GetRecord returns the record of a finished call.
func (h Handlers) GetRecord(c *gin.Context) {
	if h.Records == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "records not configured"})
		return
	}
	rec, err := h.Records.Get(c.Request.Context(), c.Param("sid"))
	if errors.Is(err, calls.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "record lookup failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ListScripts returns the names that StartCall and route tables accept.
func (h Handlers) ListScripts(c *gin.Context) {
	if h.Scripts == nil {
		c.JSON(http.StatusOK, gin.H{"scripts": []string{}})
		return
	}
	names := h.Scripts.Names()
	sort.Strings(names)
	c.JSON(http.StatusOK, gin.H{"scripts": names})
}

// audit is best-effort: failures are logged, never returned.
func (h Handlers) audit(c *gin.Context, typ audit.EventType, callID, msg string, meta map[string]any) {
	if h.Audit == nil {
		return
	}
	if err := h.Audit.LogCallAction(c.Request.Context(), typ, actorOf(c), callID, msg, meta); err != nil {
		logger.FromGin(c).Warn("audit append failed", "type", typ, "err", err)
	}
}
