package idempotency

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"call-router/internal/telephony"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(id string) telephony.Event {
	return telephony.Event{Provider: "twilio", EventID: id, Type: telephony.EventCallAnswered, CallID: "agent-1", ParentCallID: "leg-1"}
}

func TestLayer_AdmitsOnce(t *testing.T) {
	l := New(NewMemoryStore(nil), time.Hour, nil)
	ctx := context.Background()

	ok, leg, err := l.Admit(ctx, event("e1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "leg-1", leg, "agent legs map to the inbound leg")

	ok, _, err = l.Admit(ctx, event("e1"))
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, l.Check(ctx, event("e1")), ErrDuplicateEvent)
}

func TestLayer_ConcurrentDuplicates(t *testing.T) {
	l := New(NewMemoryStore(nil), time.Hour, nil)
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _, err := l.Admit(context.Background(), event("same")); err == nil && ok {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, admitted.Load())
}

func TestLayer_KeyIsProviderScoped(t *testing.T) {
	l := New(NewMemoryStore(nil), time.Hour, nil)
	a := event("e1")
	b := event("e1")
	b.Provider = "generic"

	ok, _, _ := l.Admit(context.Background(), a)
	assert.True(t, ok)
	ok, _, _ = l.Admit(context.Background(), b)
	assert.True(t, ok, "same id from another provider is a different event")
}

func TestLayer_MissingIDIsMalformed(t *testing.T) {
	l := New(NewMemoryStore(nil), time.Hour, nil)
	_, _, err := l.Admit(context.Background(), telephony.Event{CallID: "c1"})
	assert.ErrorIs(t, err, telephony.ErrMalformedEvent)
}

type failingStore struct{}

func (failingStore) Claim(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("down")
}

func TestLayer_StoreErrorIsNotDuplicate(t *testing.T) {
	l := New(failingStore{}, 0, nil)
	ok, _, err := l.Admit(context.Background(), event("e1"))
	assert.False(t, ok)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateEvent)
}

func TestMemoryStore_TTLAndSweep(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	ok, _ := s.Claim(ctx, "k", "v", time.Minute)
	require.True(t, ok)
	ok, _ = s.Claim(ctx, "k", "v", time.Minute)
	require.False(t, ok)

	now = now.Add(time.Minute)
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 0, s.Len())

	ok, _ = s.Claim(ctx, "k", "v", time.Minute)
	assert.True(t, ok, "expired keys can be claimed again")
}
