package main

import (
	"doorgate/internal/auth"
	"doorgate/internal/httpapi"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authManager *auth.Manager) {
	// public
	r.GET("/healthz", h.Healthz)
	r.POST("/v1/auth/token", h.Token)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(authManager))
	{
		// Read endpoints: viewer and up.
		v1.GET("/status", auth.RequireRole(auth.RoleViewer), h.Status)
		v1.GET("/patterns", auth.RequireRole(auth.RoleViewer), h.Patterns)
		v1.GET("/calls", auth.RequireRole(auth.RoleViewer), h.ListCalls)
		v1.GET("/calls/summary", auth.RequireRole(auth.RoleViewer), h.CallSummary)
		v1.GET("/audit", auth.RequireRole(auth.RoleViewer), h.AuditEvents)

		// Actions: admin only. These move hardware or rewrite state.
		v1.POST("/allowlist/refresh", auth.RequireRole(auth.RoleAdmin), h.RefreshAllowlist)
		v1.POST("/calls/simulate", auth.RequireRole(auth.RoleAdmin), h.SimulateCall)
		v1.POST("/gate/pulse", auth.RequireRole(auth.RoleAdmin), h.PulseGate)
	}
}
