package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"call-router/internal/audit"
	"call-router/internal/auth"
	"call-router/internal/availability"
	"call-router/internal/calls"
	"call-router/internal/queue"
	"call-router/internal/reporting"
	"call-router/internal/rules"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRouter struct {
	tracker *availability.MemoryTracker
	queues  *queue.Manager
	changes []availability.Status
}

func (r *stubRouter) SetAgentStatus(ctx context.Context, agentID string, status availability.Status) (availability.AgentState, error) {
	r.changes = append(r.changes, status)
	return r.tracker.SetStatus(ctx, agentID, status)
}

func (r *stubRouter) QueueSnapshot(ruleID string) queue.Snapshot { return r.queues.Snapshot(ruleID) }

type countingCache struct{ invalidated []string }

func (c *countingCache) Invalidate(companyID string) { c.invalidated = append(c.invalidated, companyID) }

type fixture struct {
	engine  *gin.Engine
	tracker *availability.MemoryTracker
	router  *stubRouter
	audits  *audit.MemoryRepo
	cache   *countingCache
	calls   *calls.MemoryRepo
	queues  *queue.Manager
}

func newFixture(t *testing.T, id auth.Identity) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tracker := availability.NewMemoryTracker(time.Now)
	for _, a := range []availability.AgentState{
		{AgentID: "a1", CompanyID: "co-1", Status: availability.StatusOffline, MaxConcurrent: 1},
		{AgentID: "b1", CompanyID: "co-2", Status: availability.StatusOnline, MaxConcurrent: 1},
	} {
		require.NoError(t, tracker.Upsert(context.Background(), a))
	}

	store := rules.NewMemoryStore()
	require.NoError(t, store.PutRule(rules.RoutingRule{
		ID:               "sales",
		CompanyID:        "co-1",
		RoutingType:      rules.RoutingRoundRobin,
		TeamMembers:      []string{"a1"},
		Timezone:         "UTC",
		AfterHoursAction: rules.AfterHoursVoicemail,
		QueueEnabled:     true,
		IsActive:         true,
	}))

	queues := queue.NewManager(queue.Config{MaxWait: time.Minute}, time.Now, nil)
	router := &stubRouter{tracker: tracker, queues: queues}
	audits := audit.NewMemoryRepo()
	cache := &countingCache{}
	callRepo := calls.NewMemoryRepo()

	h := Handlers{
		Roster:    tracker,
		Router:    router,
		Rules:     rules.NewService(store, store, nil),
		RuleCache: cache,
		Reports:   reporting.NewService(callRepo),
		Audit:     audit.NewService(audits),
	}

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		c.Next()
	})
	r.GET("/v1/agents", h.ListAgents)
	r.PUT("/v1/agents/:agent_id", h.UpsertAgent)
	r.PUT("/v1/agents/:agent_id/status", h.SetAgentStatus)
	r.GET("/v1/queues/:rule_id", h.GetQueue)
	r.POST("/v1/admin/rules/invalidate", h.InvalidateRules)
	r.GET("/v1/reports/calls", h.CallsReport)

	return &fixture{engine: r, tracker: tracker, router: router, audits: audits, cache: cache, calls: callRepo, queues: queues}
}

func (f *fixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

var supervisor = auth.Identity{UserID: "u1", CompanyID: "co-1", Role: "supervisor"}

func TestSetAgentStatusGoesThroughRouterAndAudits(t *testing.T) {
	f := newFixture(t, supervisor)

	w := f.do(http.MethodPut, "/v1/agents/a1/status", gin.H{"status": "online"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got availability.AgentState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, availability.StatusOnline, got.Status)
	assert.Equal(t, []availability.Status{availability.StatusOnline}, f.router.changes)

	events := f.audits.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeAgentStatus, events[0].Type)
	assert.Equal(t, "co-1", events[0].CompanyID)
	assert.Equal(t, "a1", events[0].AgentID)
	assert.Equal(t, "offline -> online", events[0].Message)
}

func TestSetAgentStatusRejectsOtherCompanyAgent(t *testing.T) {
	f := newFixture(t, supervisor)

	w := f.do(http.MethodPut, "/v1/agents/b1/status", gin.H{"status": "offline"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, f.router.changes)
	assert.Empty(t, f.audits.Events())
}

func TestSetAgentStatusRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t, supervisor)

	w := f.do(http.MethodPut, "/v1/agents/a1/status", gin.H{"status": "lunch"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, f.router.changes)
}

func TestListAgentsScopedToCompany(t *testing.T) {
	f := newFixture(t, supervisor)

	w := f.do(http.MethodGet, "/v1/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Agents []availability.AgentState `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Agents, 1)
	assert.Equal(t, "a1", body.Agents[0].AgentID)
}

func TestUpsertAgentKeepsCompanyFromToken(t *testing.T) {
	f := newFixture(t, supervisor)

	w := f.do(http.MethodPut, "/v1/agents/a2", gin.H{"status": "online", "max_concurrent_calls": 2, "number": "+15550001111"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got, err := f.tracker.Snapshot(context.Background(), []string{"a2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "co-1", got[0].CompanyID)
	assert.Equal(t, 2, got[0].MaxConcurrent)

	w = f.do(http.MethodPut, "/v1/agents/b1", gin.H{"status": "online", "max_concurrent_calls": 1})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetQueue(t *testing.T) {
	f := newFixture(t, supervisor)
	_, err := f.queues.Enqueue("sales", "leg-1", 0)
	require.NoError(t, err)

	w := f.do(http.MethodGet, "/v1/queues/sales", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var snap queue.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.WaitingCount)

	w = f.do(http.MethodGet, "/v1/queues/other", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInvalidateRules(t *testing.T) {
	f := newFixture(t, supervisor)

	w := f.do(http.MethodPost, "/v1/admin/rules/invalidate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"co-1"}, f.cache.invalidated)
	events := f.audits.Events()
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventTypeRulesInvalidated, events[0].Type)
}

func TestCallsReport(t *testing.T) {
	f := newFixture(t, supervisor)
	start := time.Date(2025, 3, 12, 14, 0, 0, 0, time.UTC)
	require.NoError(t, f.calls.InsertCallLog(context.Background(), calls.CallLog{
		ID: "c1", CallLegID: "leg-1", CompanyID: "co-1", RuleID: "sales",
		Outcome: calls.OutcomeConnected, AgentID: "a1", StartedAt: start, DurationSeconds: 60,
	}))
	require.NoError(t, f.calls.InsertCallLog(context.Background(), calls.CallLog{
		ID: "c2", CallLegID: "leg-2", CompanyID: "co-2", RuleID: "x",
		Outcome: calls.OutcomeVoicemail, StartedAt: start,
	}))

	w := f.do(http.MethodGet, "/v1/reports/calls?from=2025-03-12T00:00:00Z&to=2025-03-13T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var sum reporting.CallsSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.TotalCalls)
	assert.Equal(t, 1, sum.ConnectedCalls)

	w = f.do(http.MethodGet, "/v1/reports/calls?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
