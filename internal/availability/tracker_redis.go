package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"call-router/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisTracker shares agent state across router instances. Each agent is a
// hash; reserve and release run as Lua scripts so the capacity check and the
// counter update are one atomic step.
type RedisTracker struct {
	rdb *redis.Client
	ks  utils.Keyspace
	now func() time.Time
}

func NewRedisTracker(rdb *redis.Client, ks utils.Keyspace, now func() time.Time) *RedisTracker {
	if now == nil {
		now = time.Now
	}
	return &RedisTracker{rdb: rdb, ks: ks, now: now}
}

func (t *RedisTracker) agentKey(id string) string { return t.ks.Key("agent", id) }

func (t *RedisTracker) companyKey(id string) string { return t.ks.Key("company", id, "agents") }

var reserveScript = redis.NewScript(`
-- KEYS[1] = agent hash
-- ARGV[1] = now (unix ms)
--
-- Returns:
--  1 if reserved
--  0 if unavailable or at capacity
-- -1 if the agent is unknown
local h = redis.call('HMGET', KEYS[1], 'status', 'current', 'max', 'dnd_start', 'dnd_end', 'vac_start', 'vac_end')
if not h[1] then
  return -1
end
if h[1] ~= 'online' then
  return 0
end
local now = tonumber(ARGV[1])
local function within(s, e)
  s = tonumber(s) or 0
  e = tonumber(e) or 0
  return s > 0 and now >= s and (e == 0 or now < e)
end
if within(h[4], h[5]) or within(h[6], h[7]) then
  return 0
end
local current = tonumber(h[2]) or 0
local limit = tonumber(h[3]) or 0
if current >= limit then
  return 0
end
redis.call('HINCRBY', KEYS[1], 'current', 1)
return 1
`)

var releaseScript = redis.NewScript(`
-- KEYS[1] = agent hash
-- Decrement clamped at zero. Returns -1 for an unknown agent.
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
local current = tonumber(redis.call('HGET', KEYS[1], 'current') or '0')
if current > 0 then
  redis.call('HINCRBY', KEYS[1], 'current', -1)
  return current - 1
end
redis.call('HSET', KEYS[1], 'current', 0)
return 0
`)

var setStatusScript = redis.NewScript(`
-- KEYS[1] = agent hash
-- ARGV[1] = status, ARGV[2] = updated_at (unix ms)
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'updated_at', ARGV[2])
return 1
`)

func (t *RedisTracker) TryReserve(ctx context.Context, agentID string) (bool, error) {
	res, err := reserveScript.Run(ctx, t.rdb, []string{t.agentKey(agentID)}, t.now().UnixMilli()).Int()
	if err != nil {
		return false, fmt.Errorf("availability: reserve: %w", err)
	}
	switch res {
	case 1:
		return true, nil
	case -1:
		return false, ErrUnknownAgent
	default:
		return false, nil
	}
}

func (t *RedisTracker) Release(ctx context.Context, agentID string) error {
	res, err := releaseScript.Run(ctx, t.rdb, []string{t.agentKey(agentID)}).Int()
	if err != nil {
		return fmt.Errorf("availability: release: %w", err)
	}
	if res == -1 {
		return ErrUnknownAgent
	}
	return nil
}

func (t *RedisTracker) Snapshot(ctx context.Context, agentIDs []string) ([]AgentState, error) {
	if len(agentIDs) == 0 {
		return nil, nil
	}
	pipe := t.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(agentIDs))
	for i, id := range agentIDs {
		cmds[i] = pipe.HGetAll(ctx, t.agentKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("availability: snapshot: %w", err)
	}
	out := make([]AgentState, 0, len(agentIDs))
	for i, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			continue
		}
		out = append(out, decodeAgent(agentIDs[i], fields))
	}
	return out, nil
}

func (t *RedisTracker) List(ctx context.Context, companyID string) ([]AgentState, error) {
	ids, err := t.rdb.SMembers(ctx, t.companyKey(companyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("availability: list: %w", err)
	}
	sort.Strings(ids)
	return t.Snapshot(ctx, ids)
}

func (t *RedisTracker) Upsert(ctx context.Context, a AgentState) error {
	if err := validate.Struct(a); err != nil {
		return err
	}
	a.UpdatedAt = t.now()
	key := t.agentKey(a.AgentID)
	_, err := t.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, encodeAgent(a))
		p.HSetNX(ctx, key, "current", 0)
		p.SAdd(ctx, t.companyKey(a.CompanyID), a.AgentID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("availability: upsert: %w", err)
	}
	return nil
}

func (t *RedisTracker) SetStatus(ctx context.Context, agentID string, status Status) (AgentState, error) {
	if !status.Valid() {
		return AgentState{}, ErrInvalidStatus
	}
	key := t.agentKey(agentID)
	ok, err := setStatusScript.Run(ctx, t.rdb, []string{key}, string(status), t.now().UnixMilli()).Int()
	if err != nil {
		return AgentState{}, fmt.Errorf("availability: set status: %w", err)
	}
	if ok == 0 {
		return AgentState{}, ErrUnknownAgent
	}
	fields, err := t.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return AgentState{}, fmt.Errorf("availability: set status: %w", err)
	}
	return decodeAgent(agentID, fields), nil
}

// encodeAgent flattens roster fields into hash values. The call counter is
// deliberately absent; only the scripts write it.
func encodeAgent(a AgentState) map[string]any {
	m := map[string]any{
		"company_id": a.CompanyID,
		"number":     a.Number,
		"status":     string(a.Status),
		"max":        a.MaxConcurrent,
		"updated_at": a.UpdatedAt.UnixMilli(),
		"dnd_start":  int64(0),
		"dnd_end":    int64(0),
		"vac_start":  int64(0),
		"vac_end":    int64(0),
	}
	if a.DND != nil {
		m["dnd_start"], m["dnd_end"] = windowMillis(a.DND)
	}
	if a.Vacation != nil {
		m["vac_start"], m["vac_end"] = windowMillis(a.Vacation)
	}
	return m
}

func windowMillis(w *Window) (int64, int64) {
	var end int64
	if w.End != nil {
		end = w.End.UnixMilli()
	}
	return w.Start.UnixMilli(), end
}

func decodeAgent(id string, f map[string]string) AgentState {
	a := AgentState{
		AgentID:       id,
		CompanyID:     f["company_id"],
		Number:        f["number"],
		Status:        Status(f["status"]),
		CurrentCalls:  atoi(f["current"]),
		MaxConcurrent: atoi(f["max"]),
		DND:           decodeWindow(f["dnd_start"], f["dnd_end"]),
		Vacation:      decodeWindow(f["vac_start"], f["vac_end"]),
	}
	if ms := atoi64(f["updated_at"]); ms > 0 {
		a.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return a
}

func decodeWindow(start, end string) *Window {
	s := atoi64(start)
	if s <= 0 {
		return nil
	}
	w := &Window{Start: time.UnixMilli(s).UTC()}
	if e := atoi64(end); e > 0 {
		et := time.UnixMilli(e).UTC()
		w.End = &et
	}
	return w
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
