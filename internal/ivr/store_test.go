package ivr

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore_PutValidatesGraph(t *testing.T) {
	s := NewMemoryStore()
	bad := []Menu{{ID: "a", CompanyID: "co", Options: map[string]Option{"1": {Action: OptionSubmenu, SubmenuID: "a"}}}}
	if err := s.Put("co", bad); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected cycle rejection, got %v", err)
	}

	good := []Menu{{ID: "a", CompanyID: "co", Greeting: "hi"}}
	if err := s.Put("co", good); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	g, err := NewLoader(s).Graph(context.Background(), "co")
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if _, ok := g.Menu("a"); !ok {
		t.Fatalf("expected menu a")
	}
}
