package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"call-router/internal/audit"
	"call-router/internal/auth"
	"call-router/internal/availability"
	"call-router/internal/queue"
	"call-router/internal/reporting"
	"call-router/internal/rules"
	"call-router/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Roster reads and maintains the agent roster.
type Roster interface {
	List(ctx context.Context, companyID string) ([]availability.AgentState, error)
	Snapshot(ctx context.Context, agentIDs []string) ([]availability.AgentState, error)
	Upsert(ctx context.Context, a availability.AgentState) error
}

// Router is the slice of the call router the API drives. Status changes go
// through it so that an agent coming online drains waiting queues.
type Router interface {
	SetAgentStatus(ctx context.Context, agentID string, status availability.Status) (availability.AgentState, error)
	QueueSnapshot(ruleID string) queue.Snapshot
}

type RuleSnapshots interface {
	Snapshot(ctx context.Context, companyID string) (rules.Snapshot, error)
}

type RuleCache interface {
	Invalidate(companyID string)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth      *auth.Manager
	Roster    Roster
	Router    Router
	Rules     RuleSnapshots
	RuleCache RuleCache
	Reports   *reporting.Service
	Audit     *audit.Service

	// IssueTokens enables the unauthenticated token endpoint. Local and dev
	// only; production tokens come from the identity provider.
	IssueTokens bool
}

// --- Auth ---

type tokenRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	CompanyID string `json:"company_id" binding:"required"`
	AgentID   string `json:"agent_id"`
	Role      string `json:"role" binding:"required"`
}

// IssueToken issues a JWT token pair without checking credentials.
func (h Handlers) IssueToken(c *gin.Context) {
	if h.Auth == nil || !h.IssueTokens {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, company_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), auth.Identity{
		UserID:    req.UserID,
		CompanyID: req.CompanyID,
		AgentID:   req.AgentID,
		Role:      req.Role,
	})
	if err != nil {
		logger.FromGin(c).Error("token issuance failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Agents ---

func (h Handlers) ListAgents(c *gin.Context) {
	companyID, ok := companyOf(c)
	if !ok {
		return
	}
	agents, err := h.Roster.List(c.Request.Context(), companyID)
	if err != nil {
		logger.FromGin(c).Error("agent list failed", "company_id", companyID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agent list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

type upsertAgentRequest struct {
	Number        string               `json:"number"`
	Status        availability.Status  `json:"status" binding:"required"`
	MaxConcurrent int                  `json:"max_concurrent_calls" binding:"required,gte=1"`
	DND           *availability.Window `json:"dnd,omitempty"`
	Vacation      *availability.Window `json:"vacation,omitempty"`
}

// UpsertAgent creates or updates roster fields for an agent of the caller's
// company. The live call count is kept.
func (h Handlers) UpsertAgent(c *gin.Context) {
	companyID, ok := companyOf(c)
	if !ok {
		return
	}
	agentID := c.Param("agent_id")
	var req upsertAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid agent"})
		return
	}
	if cur, found, err := h.agent(c.Request.Context(), agentID); err != nil {
		logger.FromGin(c).Error("agent lookup failed", "agent_id", agentID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agent lookup failed"})
		return
	} else if found && cur.CompanyID != companyID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}

	a := availability.AgentState{
		AgentID:       agentID,
		CompanyID:     companyID,
		Number:        req.Number,
		Status:        req.Status,
		MaxConcurrent: req.MaxConcurrent,
		DND:           req.DND,
		Vacation:      req.Vacation,
	}
	if err := h.Roster.Upsert(c.Request.Context(), a); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	// Route the status through the router so waiting callers are offered.
	out, err := h.Router.SetAgentStatus(c.Request.Context(), agentID, req.Status)
	if err != nil {
		logger.FromGin(c).Error("agent status apply failed", "agent_id", agentID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agent update failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

type statusRequest struct {
	Status availability.Status `json:"status" binding:"required"`
}

// SetAgentStatus changes an agent's availability. RBAC: the agent itself,
// or a manager of its company.
func (h Handlers) SetAgentStatus(c *gin.Context) {
	companyID, ok := companyOf(c)
	if !ok {
		return
	}
	agentID := c.Param("agent_id")
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Status.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "status must be one of online, busy, dnd, offline, vacation"})
		return
	}

	cur, found, err := h.agent(c.Request.Context(), agentID)
	if err != nil {
		logger.FromGin(c).Error("agent lookup failed", "agent_id", agentID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "agent lookup failed"})
		return
	}
	if !found || cur.CompanyID != companyID {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}

	out, err := h.Router.SetAgentStatus(c.Request.Context(), agentID, req.Status)
	if errors.Is(err, availability.ErrUnknownAgent) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("agent status change failed", "agent_id", agentID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status change failed"})
		return
	}

	if h.Audit != nil {
		if err := h.Audit.LogAgentStatus(c.Request.Context(), companyID, actorOf(c), agentID, string(cur.Status), string(req.Status)); err != nil {
			logger.FromGin(c).Warn("audit write failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, out)
}

func (h Handlers) agent(ctx context.Context, agentID string) (availability.AgentState, bool, error) {
	got, err := h.Roster.Snapshot(ctx, []string{agentID})
	if err != nil {
		return availability.AgentState{}, false, err
	}
	if len(got) == 0 {
		return availability.AgentState{}, false, nil
	}
	return got[0], true, nil
}

// --- Queues ---

func (h Handlers) GetQueue(c *gin.Context) {
	companyID, ok := companyOf(c)
	if !ok {
		return
	}
	ruleID := c.Param("rule_id")
	snap, err := h.Rules.Snapshot(c.Request.Context(), companyID)
	if err != nil {
		logger.FromGin(c).Error("rules load failed", "company_id", companyID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "rules unavailable"})
		return
	}
	if _, ok := snap.Rule(ruleID); !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "rule not found"})
		return
	}
	c.JSON(http.StatusOK, h.Router.QueueSnapshot(ruleID))
}

// --- Admin ---

// InvalidateRules drops the cached routing configuration of the caller's
// company so the next call reloads it.
func (h Handlers) InvalidateRules(c *gin.Context) {
	companyID, ok := companyOf(c)
	if !ok {
		return
	}
	if h.RuleCache != nil {
		h.RuleCache.Invalidate(companyID)
	}
	if h.Audit != nil {
		if err := h.Audit.LogRulesInvalidated(c.Request.Context(), companyID, actorOf(c)); err != nil {
			logger.FromGin(c).Warn("audit write failed", "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "invalidated"})
}

// --- Reports ---

// CallsReport aggregates call logs in [from, to), RFC 3339 query params.
func (h Handlers) CallsReport(c *gin.Context) {
	companyID, ok := companyOf(c)
	if !ok {
		return
	}
	from, err1 := time.Parse(time.RFC3339, c.Query("from"))
	to, err2 := time.Parse(time.RFC3339, c.Query("to"))
	if err1 != nil || err2 != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from and to must be RFC 3339 timestamps"})
		return
	}
	out, err := h.Reports.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		CompanyID: companyID,
		Range:     reporting.TimeRange{From: from, To: to},
		RuleID:    c.Query("rule_id"),
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid range"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("calls report failed", "company_id", companyID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func companyOf(c *gin.Context) (string, bool) {
	companyID, err := auth.CompanyID(c.Request.Context())
	if err != nil || companyID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "company_id required"})
		return "", false
	}
	return companyID, true
}

func actorOf(c *gin.Context) audit.Actor {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	return audit.Actor{UserID: uid, Role: role, IP: audit.ClientIPFromContext(c.Request.Context())}
}

// ClientIP records the caller address for audit events.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}
