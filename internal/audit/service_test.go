package audit

import (
	"context"
	"errors"
	"testing"
)

func TestService_AppendRequiresCompanyAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeAgentStatus}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{CompanyID: "co"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	actor := Actor{UserID: "u", Role: "admin", IP: "1.2.3.4"}
	if err := svc.LogAgentStatus(context.Background(), "co", actor, "a1", "online", "dnd"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].IPAddress != "1.2.3.4" || evs[0].AgentID != "a1" {
		t.Fatalf("expected actor and agent captured: %+v", evs[0])
	}
	if evs[0].Type != EventTypeAgentStatus || evs[0].ID == "" || evs[0].CreatedAt.IsZero() {
		t.Fatalf("unexpected event: %+v", evs[0])
	}
}

func TestService_IPFromContext(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	ctx := WithClientIP(context.Background(), "10.0.0.9")
	if err := svc.LogRoutingFallback(ctx, "co", "leg-1", "no active rule"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := repo.Events()[0].IPAddress; got != "10.0.0.9" {
		t.Fatalf("expected ip from context, got %q", got)
	}
}

func TestMemoryRepo_IndexesByCompanyAndCallLeg(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	ctx := context.Background()
	actor := Actor{UserID: "u", Role: "admin"}

	if err := svc.LogRoutingFallback(ctx, "co", "leg-1", "no active rule"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.LogAgentStatus(ctx, "co", actor, "a1", "offline", "online"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.LogRoutingFallback(ctx, "other", "leg-2", "ambiguous rules"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	if got := repo.ForCompany("co"); len(got) != 2 {
		t.Fatalf("expected 2 events for co, got %d", len(got))
	}
	fallbacks := repo.ForCompany("co", EventTypeRoutingFallback)
	if len(fallbacks) != 1 || fallbacks[0].CallLegID != "leg-1" {
		t.Fatalf("unexpected fallbacks: %+v", fallbacks)
	}
	if got := repo.ForCallLeg("leg-2"); len(got) != 1 || got[0].CompanyID != "other" {
		t.Fatalf("unexpected leg events: %+v", got)
	}
	if got := repo.ForCallLeg("leg-3"); len(got) != 0 {
		t.Fatalf("expected no events, got %+v", got)
	}
}

func TestMemoryRepo_RejectsDuplicateID(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)
	e := Event{ID: "ev-1", CompanyID: "co", Type: EventTypeRulesInvalidated}

	if err := svc.Append(context.Background(), e); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if err := svc.Append(context.Background(), e); !errors.Is(err, ErrDuplicateEvent) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	if got := len(repo.Events()); got != 1 {
		t.Fatalf("expected 1 event, got %d", got)
	}
}
