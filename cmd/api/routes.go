package main

import (
	"context"
	"net/http"
	"time"

	"call-router/internal/auth"
	"call-router/internal/config"
	"call-router/internal/httpapi"
	"call-router/internal/metrics"
	"call-router/internal/rbac"
	"call-router/internal/telephony"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, cfg config.Config, a *app, authManager *auth.Manager) {
	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := a.ready(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "active_legs": a.router.ActiveLegs()})
	})
	r.GET("/metrics", metrics.Handler())

	// Provider webhooks (public).
	hooks := telephony.WebhookHandler{
		Events:      a.router,
		OnRecording: a.router.AttachRecording,
	}
	r.POST("/webhooks/voice/events", hooks.HandleEvents)
	twilio := r.Group("/webhooks/twilio")
	twilio.Use(telephony.TwilioSignature(cfg.Twilio.AuthToken, cfg.Twilio.PublicBaseURL))
	{
		twilio.POST("/voice", hooks.HandleTwilioVoice)
		twilio.POST("/status", hooks.HandleTwilioStatus)
		twilio.POST("/gather", hooks.HandleTwilioGather)
		twilio.POST("/voicemail", hooks.HandleTwilioVoicemail)
	}

	h := httpapi.Handlers{
		Auth:        authManager,
		Roster:      a.roster,
		Router:      a.router,
		Rules:       a.rules,
		RuleCache:   a.cache,
		Reports:     a.reports,
		Audit:       a.audit,
		IssueTokens: cfg.App.Env == "local" || cfg.App.Env == "dev",
	}
	r.POST("/v1/auth/token", h.IssueToken)

	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(authManager), rbac.RequireCompany(), httpapi.ClientIP())
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			cid, _ := auth.CompanyID(c.Request.Context())
			aid, _ := auth.AgentID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"user_id": uid, "company_id": cid, "agent_id": aid, "role": role})
		})

		agents := v1.Group("/agents")
		{
			agents.GET("", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSupervisor, rbac.RoleAnalyst), h.ListAgents)
			agents.PUT("/:agent_id", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSupervisor), h.UpsertAgent)
			agents.PUT("/:agent_id/status", rbac.RequireSelfOrManager("agent_id"), h.SetAgentStatus)
		}

		v1.GET("/queues/:rule_id", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSupervisor, rbac.RoleAgent, rbac.RoleAnalyst), h.GetQueue)
		v1.GET("/reports/calls", rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSupervisor, rbac.RoleAnalyst), h.CallsReport)

		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleSuperAdmin))
		{
			admin.POST("/rules/invalidate", h.InvalidateRules)
		}
	}
}
