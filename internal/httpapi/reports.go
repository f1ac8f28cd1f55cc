package httpapi

import (
	"errors"
	"net/http"
	"time"

	"callscript/internal/callflow"
	"callscript/internal/reporting"
	"callscript/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallsReport summarizes finished calls in [from, to). Both bounds are
// RFC 3339; omitting both reports the last 24 hours.
func (h Handlers) CallsReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}

	rawFrom, rawTo := c.Query("from"), c.Query("to")
	var tr reporting.TimeRange
	if rawFrom == "" && rawTo == "" {
		tr.To = h.now()
		tr.From = tr.To.Add(-24 * time.Hour)
	} else {
		from, err1 := time.Parse(time.RFC3339, rawFrom)
		to, err2 := time.Parse(time.RFC3339, rawTo)
		if err1 != nil || err2 != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must be RFC 3339 timestamps"})
			return
		}
		tr = reporting.TimeRange{From: from, To: to}
	}

	dir := callflow.Direction(c.Query("direction"))
	switch dir {
	case "", callflow.DirectionInbound, callflow.DirectionOutboundAPI, callflow.DirectionOutboundDial:
	default:
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown direction"})
		return
	}

	sum, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{Range: tr, Direction: dir})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid time range"})
			return
		}
		logger.FromGin(c).Error("calls report failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, sum)
}
