package availability

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func agent(id string, max int) AgentState {
	return AgentState{AgentID: id, CompanyID: "co", Status: StatusOnline, MaxConcurrent: max}
}

func TestMemoryTracker_ReserveRespectsCapacity(t *testing.T) {
	tr := NewMemoryTracker(nil)
	ctx := context.Background()
	require.NoError(t, tr.Upsert(ctx, agent("A", 3)))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := tr.TryReserve(ctx, "A")
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(3), wins.Load())

	snap, err := tr.Snapshot(ctx, []string{"A"})
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, 3, snap[0].CurrentCalls)
}

func TestMemoryTracker_ReleaseClampsAtZero(t *testing.T) {
	tr := NewMemoryTracker(nil)
	ctx := context.Background()
	require.NoError(t, tr.Upsert(ctx, agent("A", 2)))

	ok, err := tr.TryReserve(ctx, "A")
	require.NoError(t, err)
	require.True(t, ok)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = tr.Release(ctx, "A")
		}()
	}
	wg.Wait()

	snap, _ := tr.Snapshot(ctx, []string{"A"})
	assert.Equal(t, 0, snap[0].CurrentCalls)
}

func TestMemoryTracker_StatusAndWindows(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	tr := NewMemoryTracker(func() time.Time { return now })
	ctx := context.Background()

	end := now.Add(time.Hour)
	dnd := agent("D", 1)
	dnd.DND = &Window{Start: now.Add(-time.Minute), End: &end}
	require.NoError(t, tr.Upsert(ctx, dnd))

	ok, err := tr.TryReserve(ctx, "D")
	require.NoError(t, err)
	assert.False(t, ok, "agent inside DND window")

	now = now.Add(2 * time.Hour)
	ok, _ = tr.TryReserve(ctx, "D")
	assert.True(t, ok, "DND window elapsed")

	require.NoError(t, tr.Upsert(ctx, agent("V", 1)))
	st, err := tr.SetStatus(ctx, "V", StatusVacation)
	require.NoError(t, err)
	assert.Equal(t, StatusVacation, st.Status)
	ok, _ = tr.TryReserve(ctx, "V")
	assert.False(t, ok)

	_, err = tr.SetStatus(ctx, "V", "sleeping")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = tr.TryReserve(ctx, "ghost")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestMemoryTracker_UpsertKeepsCallCount(t *testing.T) {
	tr := NewMemoryTracker(nil)
	ctx := context.Background()
	require.NoError(t, tr.Upsert(ctx, agent("A", 2)))
	_, _ = tr.TryReserve(ctx, "A")

	updated := agent("A", 4)
	updated.CurrentCalls = 0
	require.NoError(t, tr.Upsert(ctx, updated))

	list, err := tr.List(ctx, "co")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].CurrentCalls)
	assert.Equal(t, 4, list[0].MaxConcurrent)
}

func TestUpsert_Validates(t *testing.T) {
	tr := NewMemoryTracker(nil)
	bad := agent("A", 0)
	assert.Error(t, tr.Upsert(context.Background(), bad))
}

func TestRedisEncoding_RoundTripsWindows(t *testing.T) {
	start := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	a := agent("A", 2)
	a.Vacation = &Window{Start: start}

	raw := encodeAgent(a)
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		switch x := v.(type) {
		case string:
			fields[k] = x
		case int:
			fields[k] = strconv.Itoa(x)
		case int64:
			fields[k] = strconv.FormatInt(x, 10)
		}
	}
	fields["current"] = "1"

	got := decodeAgent("A", fields)
	assert.Equal(t, StatusOnline, got.Status)
	assert.Equal(t, 1, got.CurrentCalls)
	assert.Equal(t, 2, got.MaxConcurrent)
	require.NotNil(t, got.Vacation)
	assert.True(t, got.Vacation.Start.Equal(start))
	assert.Nil(t, got.Vacation.End)
	assert.Nil(t, got.DND)
}

func TestRedisScriptsInitialized(t *testing.T) {
	if reserveScript == nil || releaseScript == nil || setStatusScript == nil {
		t.Fatalf("expected scripts to be initialized")
	}
}
