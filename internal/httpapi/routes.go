package httpapi

import (
	"callscript/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the operator API under g. authMW verifies the bearer token;
// login and refresh stay public.
func Register(g *gin.RouterGroup, h Handlers, authMW gin.HandlerFunc) {
	authGroup := g.Group("/auth")
	{
		authGroup.POST("/login", h.Login)
		authGroup.POST("/refresh", h.Refresh)
	}

	protected := g.Group("")
	protected.Use(authMW)
	protected.GET("/me", h.Me)

	read := rbac.RequireAnyRole(rbac.RoleOperator, rbac.RoleViewer)
	write := rbac.RequireAnyRole(rbac.RoleOperator)

	callsGroup := protected.Group("/calls")
	{
		callsGroup.GET("", read, h.ListCalls)
		callsGroup.GET("/:sid", read, h.GetCall)
		callsGroup.POST("", write, h.StartCall)
		callsGroup.POST("/:sid/cancel", write, h.CancelCall)
	}

	records := protected.Group("/records")
	records.Use(read)
	{
		records.GET("", h.ListRecords)
		records.GET("/:sid", h.GetRecord)
	}

	protected.GET("/scripts", read, h.ListScripts)
	protected.GET("/reports/calls", read, h.CallsReport)

	// Admin only. The hidden auditor role reads the audit trail and nothing else.
	admin := protected.Group("/admin")
	{
		admin.GET("/audit", rbac.RequireAnyRole(rbac.RoleAuditor), h.ListAudit)

		overrides := admin.Group("/overrides")
		overrides.Use(rbac.RequireAnyRole())
		overrides.GET("", h.ListOverrides)
		overrides.POST("", h.SetOverride)
		overrides.DELETE("/:number", h.DeleteOverride)
	}
}
