package queue

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrAlreadyQueued = errors.New("queue: call leg already queued")
	ErrNotAssigned   = errors.New("queue: call leg not assigned")
)

type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusConnected Status = "connected"
	StatusAbandoned Status = "abandoned"
)

const (
	ReasonCallerHangup = "caller_hangup"
	ReasonMaxWait      = "max_wait"
	ReasonNoAnswer     = "no_answer"
)

// Entry is one caller's place in a rule's queue. Position is monotonic per
// rule and never reused; it is for display only. Ordering uses priority,
// then QueuedAt.
type Entry struct {
	ID              string     `json:"id"`
	RuleID          string     `json:"rule_id"`
	CallLegID       string     `json:"call_leg_id"`
	Position        int64      `json:"queue_position"`
	Priority        int        `json:"priority"`
	QueuedAt        time.Time  `json:"queued_at"`
	Status          Status     `json:"status"`
	AssignedAgentID string     `json:"assigned_team_member_id,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	AnsweredAt      *time.Time `json:"answered_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`

	index int
}

// Config is per-rule queue behavior.
type Config struct {
	MaxWait     time.Duration
	SLThreshold time.Duration
	SLTarget    int
}

// Manager owns queue membership for every rule. All mutations go through
// one lock, so position assignment and status transitions are serialized.
type Manager struct {
	log        *slog.Logger
	now        func() time.Time
	defaultCfg Config

	// OnExpired is called, outside the lock, for each entry the sweeper
	// moved to abandoned because it waited past max wait.
	OnExpired func(Entry)

	mu    sync.Mutex
	rules map[string]*ruleQueue
	legs  map[string]*Entry
}

type ruleQueue struct {
	cfg       Config
	waiting   entryHeap
	nextPos   int64
	stale     int
	connected int
	abandoned int
	expired   int
	sl        *SLTracker
}

func NewManager(defaultCfg Config, now func() time.Time, log *slog.Logger) *Manager {
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	if defaultCfg.SLThreshold <= 0 {
		defaultCfg.SLThreshold = 20 * time.Second
	}
	if defaultCfg.SLTarget <= 0 {
		defaultCfg.SLTarget = 80
	}
	return &Manager{
		log:        log,
		now:        now,
		defaultCfg: defaultCfg,
		rules:      map[string]*ruleQueue{},
		legs:       map[string]*Entry{},
	}
}

func (m *Manager) rule(ruleID string) *ruleQueue {
	q, ok := m.rules[ruleID]
	if !ok {
		q = &ruleQueue{cfg: m.defaultCfg, sl: NewSLTracker(m.defaultCfg.SLTarget, m.defaultCfg.SLThreshold)}
		m.rules[ruleID] = q
	}
	return q
}

// Configure sets the queue behavior of a rule. A zero MaxWait keeps the default.
func (m *Manager) Configure(ruleID string, cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.rule(ruleID)
	if cfg.MaxWait > 0 {
		q.cfg.MaxWait = cfg.MaxWait
	}
	if cfg.SLThreshold > 0 {
		q.cfg.SLThreshold = cfg.SLThreshold
		q.sl.Threshold = cfg.SLThreshold
	}
	if cfg.SLTarget > 0 {
		q.cfg.SLTarget = cfg.SLTarget
		q.sl.Target = cfg.SLTarget
	}
}

// Enqueue appends callLegID to ruleID's queue and returns its position.
func (m *Manager) Enqueue(ruleID, callLegID string, priority int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.legs[callLegID]; ok && e.Status != StatusAbandoned {
		return 0, ErrAlreadyQueued
	}
	q := m.rule(ruleID)
	q.nextPos++
	e := &Entry{
		ID:        uuid.NewString(),
		RuleID:    ruleID,
		CallLegID: callLegID,
		Position:  q.nextPos,
		Priority:  priority,
		QueuedAt:  m.now(),
		Status:    StatusWaiting,
	}
	heap.Push(&q.waiting, e)
	m.legs[callLegID] = e
	return e.Position, nil
}

// Waiting lists the call legs waiting in ruleID's queue, head first.
func (m *Manager) Waiting(ruleID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.rules[ruleID]
	if !ok {
		return nil
	}
	var live []*Entry
	for _, e := range q.waiting {
		if e.Status == StatusWaiting {
			live = append(live, e)
		}
	}
	sort.Slice(live, func(i, j int) bool { return before(live[i], live[j]) })
	out := make([]string, len(live))
	for i, e := range live {
		out[i] = e.CallLegID
	}
	return out
}

// Claim takes a waiting caller out of line to be offered to an agent and
// marks it connected. It reports false when the caller is no longer waiting.
func (m *Manager) Claim(callLegID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.legs[callLegID]
	if !ok || e.Status != StatusWaiting {
		return false
	}
	q := m.rule(e.RuleID)
	heap.Remove(&q.waiting, e.index)
	e.Status = StatusConnected
	q.connected++
	return true
}

// Assign records which agent took a dequeued caller.
func (m *Manager) Assign(callLegID, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.legs[callLegID]
	if !ok || e.Status != StatusConnected {
		return ErrNotAssigned
	}
	e.AssignedAgentID = agentID
	return nil
}

// Answered marks the assigned agent as connected to the caller and feeds
// the service-level tracker.
func (m *Manager) Answered(callLegID string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.legs[callLegID]
	if !ok || e.Status != StatusConnected || e.AnsweredAt != nil {
		return Entry{}, false
	}
	now := m.now()
	e.AnsweredAt = &now
	m.rule(e.RuleID).sl.RecordAnswer(now.Sub(e.QueuedAt))
	return *e, true
}

// Requeue returns a dequeued caller whose agent did not answer. The caller
// keeps its original position and queued_at, so it goes back ahead of later arrivals.
func (m *Manager) Requeue(callLegID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.legs[callLegID]
	if !ok || e.Status != StatusConnected || e.AnsweredAt != nil {
		return ErrNotAssigned
	}
	q := m.rule(e.RuleID)
	e.Status = StatusWaiting
	e.AssignedAgentID = ""
	q.connected--
	heap.Push(&q.waiting, e)
	return nil
}

// Abandon marks a waiting or not-yet-answered caller as abandoned. It is
// idempotent; a caller already abandoned returns the existing entry.
func (m *Manager) Abandon(callLegID string) (Entry, bool) {
	return m.end(callLegID, ReasonCallerHangup)
}

// Escalate takes a caller whose ring attempts ran out off the queue.
func (m *Manager) Escalate(callLegID string) (Entry, bool) {
	return m.end(callLegID, ReasonNoAnswer)
}

func (m *Manager) end(callLegID, reason string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.legs[callLegID]
	if !ok {
		return Entry{}, false
	}
	if e.Status == StatusAbandoned || e.AnsweredAt != nil {
		return *e, false
	}
	m.abandonLocked(e, reason)
	return *e, true
}

func (m *Manager) abandonLocked(e *Entry, reason string) {
	q := m.rule(e.RuleID)
	switch e.Status {
	case StatusWaiting:
		q.stale++
	case StatusConnected:
		q.connected--
	}
	now := m.now()
	e.Status = StatusAbandoned
	e.Reason = reason
	e.EndedAt = &now
	q.abandoned++
	if reason == ReasonMaxWait {
		q.expired++
	}
}

// WaitTime is how long the caller has waited, or waited before leaving the queue.
func (m *Manager) WaitTime(callLegID string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.legs[callLegID]
	if !ok {
		return 0, false
	}
	switch {
	case e.AnsweredAt != nil:
		return e.AnsweredAt.Sub(e.QueuedAt), true
	case e.EndedAt != nil:
		return e.EndedAt.Sub(e.QueuedAt), true
	default:
		return m.now().Sub(e.QueuedAt), true
	}
}

// DisplayPosition is the caller's 1-based rank among waiting callers.
// Gaps left by abandoned callers are not counted.
func (m *Manager) DisplayPosition(callLegID string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.legs[callLegID]
	if !ok || e.Status != StatusWaiting {
		return 0, false
	}
	rank := 1
	for _, other := range m.rules[e.RuleID].waiting {
		if other != e && other.Status == StatusWaiting && before(other, e) {
			rank++
		}
	}
	return rank, true
}

// Entry returns a copy of the caller's entry.
func (m *Manager) Entry(callLegID string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.legs[callLegID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Forget drops bookkeeping for a finished call leg. Waiting callers are
// abandoned first.
func (m *Manager) Forget(callLegID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.legs[callLegID]
	if !ok {
		return
	}
	if e.Status == StatusWaiting {
		m.abandonLocked(e, ReasonCallerHangup)
	}
	delete(m.legs, callLegID)
}

// Sweep moves every caller that waited past its rule's max wait to
// abandoned. Each entry transitions exactly once.
func (m *Manager) Sweep(now time.Time) []Entry {
	m.mu.Lock()
	var expired []Entry
	for _, q := range m.rules {
		if q.cfg.MaxWait > 0 {
			for _, e := range q.waiting {
				if e.Status == StatusWaiting && now.Sub(e.QueuedAt) >= q.cfg.MaxWait {
					m.abandonLocked(e, ReasonMaxWait)
					expired = append(expired, *e)
				}
			}
		}
		if q.stale > 0 && q.stale*2 > q.waiting.Len() {
			q.compact()
		}
	}
	m.mu.Unlock()

	sort.Slice(expired, func(i, j int) bool { return expired[i].QueuedAt.Before(expired[j].QueuedAt) })
	return expired
}

func (q *ruleQueue) compact() {
	live := q.waiting[:0]
	for _, e := range q.waiting {
		if e.Status == StatusWaiting {
			live = append(live, e)
		}
	}
	for i := len(live); i < len(q.waiting); i++ {
		q.waiting[i] = nil
	}
	q.waiting = live
	for i, e := range q.waiting {
		e.index = i
	}
	heap.Init(&q.waiting)
	q.stale = 0
}

// Run sweeps on every tick until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Info("queue sweeper started", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			m.log.Info("queue sweeper stopped")
			return
		case <-ticker.C:
			for _, e := range m.Sweep(m.now()) {
				m.log.Info("queue max wait exceeded", "rule_id", e.RuleID, "call_leg_id", e.CallLegID, "position", e.Position)
				if m.OnExpired != nil {
					m.OnExpired(e)
				}
			}
		}
	}
}

// Snapshot is a point-in-time view of one rule's queue.
type Snapshot struct {
	RuleID       string       `json:"rule_id"`
	Waiting      []Entry      `json:"waiting"`
	WaitingCount int          `json:"waiting_count"`
	Connected    int          `json:"connected_count"`
	Abandoned    int          `json:"abandoned_count"`
	Expired      int          `json:"expired_count"`
	MaxWait      string       `json:"max_wait,omitempty"`
	ServiceLevel ServiceLevel `json:"service_level"`
}

func (m *Manager) Snapshot(ruleID string) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := Snapshot{RuleID: ruleID, Waiting: []Entry{}}
	q, ok := m.rules[ruleID]
	if !ok {
		out.ServiceLevel = NewSLTracker(m.defaultCfg.SLTarget, m.defaultCfg.SLThreshold).Snapshot()
		return out
	}
	for _, e := range q.waiting {
		if e.Status == StatusWaiting {
			out.Waiting = append(out.Waiting, *e)
		}
	}
	sort.Slice(out.Waiting, func(i, j int) bool { return before(&out.Waiting[i], &out.Waiting[j]) })
	out.WaitingCount = len(out.Waiting)
	out.Connected = q.connected
	out.Abandoned = q.abandoned
	out.Expired = q.expired
	if q.cfg.MaxWait > 0 {
		out.MaxWait = q.cfg.MaxWait.String()
	}
	out.ServiceLevel = q.sl.Snapshot()
	return out
}

// Depths reports waiting callers per rule.
func (m *Manager) Depths() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int, len(m.rules))
	for id, q := range m.rules {
		out[id] = q.waiting.Len() - q.stale
	}
	return out
}

func before(a, b *Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.QueuedAt.Equal(b.QueuedAt) {
		return a.QueuedAt.Before(b.QueuedAt)
	}
	return a.Position < b.Position
}

type entryHeap []*Entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return before(h[i], h[j]) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
