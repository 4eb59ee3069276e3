package reporting

import (
	"context"
	"testing"
	"time"

	"call-router/internal/calls"
)

func seed(t *testing.T, rows ...calls.CallLog) *calls.MemoryRepo {
	t.Helper()
	repo := calls.NewMemoryRepo()
	for _, c := range rows {
		if err := repo.InsertCallLog(context.Background(), c); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return repo
}

func TestReporting_CompanyIsolation(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	repo := seed(t,
		calls.CallLog{CallLegID: "c1", CompanyID: "co1", Outcome: calls.OutcomeConnected, DurationSeconds: 30, StartedAt: now},
		calls.CallLog{CallLegID: "c2", CompanyID: "co2", Outcome: calls.OutcomeConnected, DurationSeconds: 50, StartedAt: now},
	)
	svc := NewService(repo)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{CompanyID: "co1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 || out.TotalDurationSeconds != 30 {
		t.Fatalf("expected only co1 calls, got %+v", out)
	}
}

func TestReporting_AggregatesOutcomes(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	repo := seed(t,
		calls.CallLog{CallLegID: "c1", CompanyID: "co", RuleID: "r1", Outcome: calls.OutcomeConnected, AgentID: "a", DurationSeconds: 60, QueueWaitSeconds: 10, StartedAt: now},
		calls.CallLog{CallLegID: "c2", CompanyID: "co", RuleID: "r1", Outcome: calls.OutcomeConnected, AgentID: "a", DurationSeconds: 30, StartedAt: now},
		calls.CallLog{CallLegID: "c3", CompanyID: "co", RuleID: "r1", Outcome: calls.OutcomeVoicemail, RecordingURL: "https://rec/1", QueueWaitSeconds: 120, StartedAt: now},
		calls.CallLog{CallLegID: "c4", CompanyID: "co", RuleID: "r2", Outcome: calls.OutcomeAbandoned, StartedAt: now},
	)
	svc := NewService(repo)
	rng := TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{CompanyID: "co", Range: rng})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 4 || out.ConnectedCalls != 2 || out.VoicemailCalls != 1 || out.AbandonedCalls != 1 {
		t.Fatalf("unexpected counts: %+v", out)
	}
	if out.QueuedCalls != 2 || out.AverageQueueWaitSeconds != 65 || out.MaxQueueWaitSeconds != 120 {
		t.Fatalf("unexpected queue stats: %+v", out)
	}
	if out.AnswerRate != 0.5 || out.RecordedCalls != 1 {
		t.Fatalf("unexpected rates: %+v", out)
	}
	if len(out.Agents) != 1 || out.Agents[0].ConnectedCalls != 2 || out.Agents[0].TotalDurationSeconds != 90 {
		t.Fatalf("unexpected agents: %+v", out.Agents)
	}

	byRule, _ := svc.CallsSummary(context.Background(), CallsSummaryRequest{CompanyID: "co", RuleID: "r2", Range: rng})
	if byRule.TotalCalls != 1 || byRule.AbandonedCalls != 1 {
		t.Fatalf("unexpected rule filter: %+v", byRule)
	}
}

func TestReporting_InvalidRange(t *testing.T) {
	svc := NewService(calls.NewMemoryRepo())
	now := time.Now()
	if _, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{CompanyID: "co", Range: TimeRange{From: now, To: now}}); err != ErrInvalidRequest {
		t.Fatalf("expected invalid request, got %v", err)
	}
	if _, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{Range: TimeRange{From: now, To: now.Add(time.Hour)}}); err != ErrInvalidRequest {
		t.Fatalf("expected invalid request, got %v", err)
	}
}
