package calls

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Repository persists call records. ListCallLogs returns rows whose
// StartedAt falls in [from, to), oldest first.
type Repository interface {
	InsertCallLog(ctx context.Context, c CallLog) error
	InsertVoicemail(ctx context.Context, v Voicemail) error
	AttachRecording(ctx context.Context, callLegID, url string, duration time.Duration) error
	UpsertQueueRecord(ctx context.Context, q QueueRecord) error
	ListCallLogs(ctx context.Context, companyID string, from, to time.Time) ([]CallLog, error)
}

// MemoryRepo is an in-memory repository for tests and local runs.
type MemoryRepo struct {
	mu sync.Mutex

	logs       []CallLog
	byLeg      map[string]bool
	voicemails map[string]*Voicemail
	queue      map[string]QueueRecord
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		byLeg:      map[string]bool{},
		voicemails: map[string]*Voicemail{},
		queue:      map[string]QueueRecord{},
	}
}

func (r *MemoryRepo) InsertCallLog(ctx context.Context, c CallLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byLeg[c.CallLegID] {
		return ErrAlreadyLogged
	}
	r.byLeg[c.CallLegID] = true
	r.logs = append(r.logs, c)
	return nil
}

func (r *MemoryRepo) InsertVoicemail(ctx context.Context, v Voicemail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.voicemails[v.CallLegID]; ok {
		// A recording may have been attached first.
		if v.RecordingURL == "" {
			v.RecordingURL, v.DurationSeconds = cur.RecordingURL, cur.DurationSeconds
		}
	}
	cp := v
	r.voicemails[v.CallLegID] = &cp
	return nil
}

func (r *MemoryRepo) AttachRecording(ctx context.Context, callLegID, url string, duration time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.voicemails[callLegID]
	if !ok {
		v = &Voicemail{CallLegID: callLegID}
		r.voicemails[callLegID] = v
	}
	v.RecordingURL = url
	v.DurationSeconds = int(duration / time.Second)
	return nil
}

func (r *MemoryRepo) UpsertQueueRecord(ctx context.Context, q QueueRecord) error {
	if q.ID == "" {
		return errors.New("calls: queue record id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue[q.ID] = q
	return nil
}

func (r *MemoryRepo) ListCallLogs(ctx context.Context, companyID string, from, to time.Time) ([]CallLog, error) {
	if companyID == "" {
		return nil, errors.New("company_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallLog, 0)
	for _, c := range r.logs {
		if c.CompanyID != companyID {
			continue
		}
		if c.StartedAt.Before(from) || !c.StartedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// Voicemail returns the stored voicemail for a call leg.
func (r *MemoryRepo) Voicemail(callLegID string) (Voicemail, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.voicemails[callLegID]
	if !ok {
		return Voicemail{}, false
	}
	return *v, true
}

// QueueRecord returns the latest state of a queue entry.
func (r *MemoryRepo) QueueRecord(id string) (QueueRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queue[id]
	return q, ok
}

// CallLogs returns every stored call log.
func (r *MemoryRepo) CallLogs() []CallLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CallLog(nil), r.logs...)
}
