package main

import (
	"database/sql"
	"net/http"
	"time"

	"callscript/internal/audit"
	"callscript/internal/auth"
	"callscript/internal/callflow"
	"callscript/internal/calls"
	"callscript/internal/config"
	"callscript/internal/httpapi"
	"callscript/internal/reporting"
	"callscript/internal/routing"
	"callscript/internal/scripts"
	"callscript/internal/telephony"
	"callscript/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type routeDeps struct {
	cfg       config.Config
	db        *sql.DB
	auth      *auth.Manager
	operators *auth.Operators
	engine    *callflow.Engine
	scripts   *scripts.Registry
	records   *calls.Service
	overrides *routing.MemoryOverrideStore
	audit     *audit.Service
	reports   *reporting.Service
	metrics   *prometheus.Registry
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/readyz", func(c *gin.Context) {
		if d.db != nil {
			if err := utils.HealthCheck(c.Request.Context(), d.db, 2*time.Second); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready", "live_sessions": d.engine.Registry().Len()})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.metrics, promhttp.HandlerOpts{})))

	// Provider callbacks (public, signed by Twilio).
	var mw []gin.HandlerFunc
	if d.cfg.Twilio.ValidateSignature {
		mw = append(mw, telephony.RequireSignature(d.cfg.Twilio.AuthToken, d.cfg.App.PublicBaseURL))
	}
	telephony.RegisterCallbacks(r, telephony.CallbackHandler{Router: d.engine}, mw...)

	httpapi.Register(r.Group("/v1"), httpapi.Handlers{
		Auth:      d.auth,
		Operators: d.operators,
		Engine:    d.engine,
		Scripts:   d.scripts,
		Records:   d.records,
		Overrides: d.overrides,
		Audit:     d.audit,
		Reports:   d.reports,
	}, auth.RequireAccessToken(d.auth))
}
