package rules

import (
	"context"
	"errors"
	"sync"
	"time"

	"call-router/internal/keyed"

	"golang.org/x/sync/singleflight"
)

var ErrUnknownNumber = errors.New("rules: dialed number not provisioned")

// Store loads a company's routing configuration.
type Store interface {
	LoadSnapshot(ctx context.Context, companyID string) (Snapshot, error)
}

// Directory maps a dialed E.164 number to its owning company.
type Directory interface {
	LookupNumber(ctx context.Context, number string) (NumberBinding, error)
}

// Cursor advances a rule's round-robin index under a single writer per rule.
// pick receives the starting index and reports the chosen index; the cursor
// moves to chosen+1 only when pick succeeds.
type Cursor interface {
	Advance(ctx context.Context, rule RoutingRule, pick func(start int) (chosen int, ok bool, err error)) (int, bool, error)
}

// MemoryStore keeps configuration in process. It backs tests and the
// memory config backend.
type MemoryStore struct {
	mu       sync.RWMutex
	rules    map[string]RoutingRule
	holidays map[string]Holiday
	numbers  map[string]NumberBinding
	forward  map[string]string
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:    map[string]RoutingRule{},
		holidays: map[string]Holiday{},
		numbers:  map[string]NumberBinding{},
		forward:  map[string]string{},
		now:      time.Now,
	}
}

func (s *MemoryStore) PutRule(r RoutingRule) error {
	if err := ValidateRule(r); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Version++
	r.UpdatedAt = s.now().UTC()
	s.rules[r.ID] = r
	return nil
}

func (s *MemoryStore) PutHoliday(h Holiday) error {
	if err := ValidateHoliday(h); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holidays[h.ID] = h
	return nil
}

func (s *MemoryStore) BindNumber(b NumberBinding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numbers[b.Number] = b
}

func (s *MemoryStore) SetDefaultForward(companyID, number string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forward[companyID] = number
}

func (s *MemoryStore) LoadSnapshot(ctx context.Context, companyID string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs := make([]RoutingRule, 0, len(s.rules))
	for _, r := range s.rules {
		if r.CompanyID == companyID {
			rs = append(rs, r)
		}
	}
	hs := make([]Holiday, 0)
	for _, h := range s.holidays {
		if h.CompanyID == companyID {
			hs = append(hs, h)
		}
	}
	return NewSnapshot(companyID, s.forward[companyID], rs, hs, s.now()), nil
}

func (s *MemoryStore) LookupNumber(ctx context.Context, number string) (NumberBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.numbers[number]
	if !ok {
		return NumberBinding{}, ErrUnknownNumber
	}
	return b, nil
}

// MemoryCursor keeps round-robin indexes in process, seeded from the rule's
// stored CurrentIndex the first time a rule is seen.
type MemoryCursor struct {
	locks *keyed.Mutex

	mu      sync.Mutex
	indexes map[string]int
}

func NewMemoryCursor() *MemoryCursor {
	return &MemoryCursor{locks: keyed.New(), indexes: map[string]int{}}
}

func (c *MemoryCursor) Advance(ctx context.Context, rule RoutingRule, pick func(start int) (int, bool, error)) (int, bool, error) {
	n := len(rule.TeamMembers)
	if n == 0 {
		return 0, false, nil
	}
	unlock := c.locks.Lock(rule.ID)
	defer unlock()

	c.mu.Lock()
	idx, ok := c.indexes[rule.ID]
	if !ok {
		idx = rule.CurrentIndex
	}
	c.mu.Unlock()

	chosen, picked, err := pick(mod(idx, n))
	if err != nil || !picked {
		return 0, false, err
	}

	c.mu.Lock()
	c.indexes[rule.ID] = mod(chosen+1, n)
	c.mu.Unlock()
	return chosen, true, nil
}

// Index returns the current cursor for ruleID.
func (c *MemoryCursor) Index(ruleID string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.indexes[ruleID]
	return idx, ok
}

func mod(a, n int) int {
	if n <= 0 {
		return 0
	}
	r := a % n
	if r < 0 {
		r += n
	}
	return r
}

// CachedStore serves snapshots from memory, refreshing after ttl or on an
// explicit Invalidate. Concurrent refreshes of one company share a single load.
type CachedStore struct {
	next Store
	ttl  time.Duration
	now  func() time.Time

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]cacheEntry
	gen     map[string]uint64
}

type cacheEntry struct {
	snap      Snapshot
	expiresAt time.Time
}

func NewCachedStore(next Store, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedStore{next: next, ttl: ttl, now: time.Now, entries: map[string]cacheEntry{}, gen: map[string]uint64{}}
}

func (c *CachedStore) LoadSnapshot(ctx context.Context, companyID string) (Snapshot, error) {
	now := c.now()
	c.mu.RLock()
	e, ok := c.entries[companyID]
	gen := c.gen[companyID]
	c.mu.RUnlock()
	if ok && now.Before(e.expiresAt) {
		return e.snap, nil
	}

	v, err, _ := c.group.Do(companyID, func() (any, error) {
		snap, err := c.next.LoadSnapshot(ctx, companyID)
		if err != nil {
			return Snapshot{}, err
		}
		c.mu.Lock()
		// An invalidation during the load wins; the next call reloads.
		if c.gen[companyID] == gen {
			c.entries[companyID] = cacheEntry{snap: snap, expiresAt: c.now().Add(c.ttl)}
		}
		c.mu.Unlock()
		return snap, nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	return v.(Snapshot), nil
}

// Invalidate drops the cached snapshot for companyID.
func (c *CachedStore) Invalidate(companyID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, companyID)
	c.gen[companyID]++
	c.group.Forget(companyID)
}
