package ivr

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store loads a company's IVR menus.
type Store interface {
	Menus(ctx context.Context, companyID string) ([]Menu, error)
}

// Loader builds validated graphs from a Store.
type Loader struct {
	store Store
}

func NewLoader(store Store) *Loader { return &Loader{store: store} }

// Graph loads and validates every menu of companyID.
func (l *Loader) Graph(ctx context.Context, companyID string) (*Graph, error) {
	if l.store == nil {
		return nil, errors.New("ivr: store not configured")
	}
	menus, err := l.store.Menus(ctx, companyID)
	if err != nil {
		return nil, err
	}
	return NewGraph(menus)
}

type MemoryStore struct {
	mu    sync.RWMutex
	menus map[string][]Menu
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{menus: map[string][]Menu{}} }

// Put replaces the company's menus after validating the whole graph.
func (s *MemoryStore) Put(companyID string, menus []Menu) error {
	if _, err := NewGraph(menus); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.menus[companyID] = append([]Menu(nil), menus...)
	return nil
}

func (s *MemoryStore) Menus(ctx context.Context, companyID string) ([]Menu, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Menu(nil), s.menus[companyID]...), nil
}

// PostgresStore reads ivr_menus (options JSONB).
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(db *pgxpool.Pool) *PostgresStore { return &PostgresStore{db: db} }

func (s *PostgresStore) Menus(ctx context.Context, companyID string) ([]Menu, error) {
	const q = `
SELECT id, company_id, COALESCE(parent_menu_id, ''), COALESCE(name, ''), COALESCE(greeting, ''),
       COALESCE(options, '{}'::jsonb), timeout_seconds, max_retries,
       COALESCE(invalid_option_message, ''), COALESCE(timeout_message, ''),
       COALESCE(timeout_action, ''), COALESCE(timeout_rule_id, '')
FROM ivr_menus
WHERE company_id = $1 AND deleted_at IS NULL
`
	rows, err := s.db.Query(ctx, q, companyID)
	if err != nil {
		return nil, fmt.Errorf("ivr: query menus: %w", err)
	}
	defer rows.Close()

	var out []Menu
	for rows.Next() {
		var (
			m      Menu
			action string
		)
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.ParentMenuID, &m.Name, &m.Greeting,
			&m.Options, &m.TimeoutSeconds, &m.MaxRetries,
			&m.InvalidOptionMessage, &m.TimeoutMessage, &action, &m.TimeoutRuleID); err != nil {
			return nil, fmt.Errorf("ivr: scan menu: %w", err)
		}
		m.TimeoutAction = TimeoutAction(action)
		out = append(out, m)
	}
	return out, rows.Err()
}
