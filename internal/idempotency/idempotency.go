package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"call-router/internal/telephony"
)

var ErrDuplicateEvent = errors.New("idempotency: duplicate event")

const DefaultTTL = 24 * time.Hour

// Store claims keys for a TTL. Claim returns false when the key is already
// held; exactly one of any set of concurrent claims for a key succeeds.
type Store interface {
	Claim(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}

// Layer admits each provider event at most once. The key is claimed before
// the event is forwarded, so a crash after claiming drops later retries
// instead of replaying a routing decision.
type Layer struct {
	store Store
	ttl   time.Duration
	log   *slog.Logger
}

func New(store Store, ttl time.Duration, log *slog.Logger) *Layer {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Layer{store: store, ttl: ttl, log: log}
}

// Admit claims ev. It returns the inbound call leg the event belongs to.
// A duplicate returns admit=false and a nil error; callers that need to
// tell it apart can use Check.
func (l *Layer) Admit(ctx context.Context, ev telephony.Event) (bool, string, error) {
	if err := l.Check(ctx, ev); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			return false, ev.LegID(), nil
		}
		return false, "", err
	}
	return true, ev.LegID(), nil
}

// Check claims ev, returning ErrDuplicateEvent for a repeat delivery.
func (l *Layer) Check(ctx context.Context, ev telephony.Event) error {
	if ev.EventID == "" {
		return fmt.Errorf("%w: missing event id", telephony.ErrMalformedEvent)
	}
	key := ev.Key()
	ok, err := l.store.Claim(ctx, key, ev.LegID(), l.ttl)
	if err != nil {
		return fmt.Errorf("idempotency: claim %s: %w", key, err)
	}
	if !ok {
		l.log.Debug("duplicate event dropped", "key", key, "type", ev.Type, "call_id", ev.CallID)
		return ErrDuplicateEvent
	}
	return nil
}
