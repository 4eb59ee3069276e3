package calls

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultRecorderBuffer = 1024
	writeTimeout          = 5 * time.Second
)

type job struct {
	kind string
	fn   func(ctx context.Context) error
}

// Recorder writes call records in the background. Enqueueing never blocks:
// when the buffer is full the record is dropped with a warning, since a
// slow database must not hold up a live call.
type Recorder struct {
	repo Repository
	log  *slog.Logger
	jobs chan job

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
}

func NewRecorder(repo Repository, buffer int, log *slog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = DefaultRecorderBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{repo: repo, log: log, jobs: make(chan job, buffer)}
}

// Start runs workers until Close drains the buffer.
func (r *Recorder) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for j := range r.jobs {
				r.run(j)
			}
		}()
	}
}

func (r *Recorder) run(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := j.fn(ctx); err != nil {
		if errors.Is(err, ErrAlreadyLogged) {
			r.log.Debug("call record already written", "kind", j.kind)
			return
		}
		r.log.Error("call record write failed", "kind", j.kind, "err", err)
	}
}

func (r *Recorder) enqueue(j job) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.log.Warn("recorder closed, record dropped", "kind", j.kind)
		return
	}
	select {
	case r.jobs <- j:
	default:
		r.dropped.Add(1)
		r.log.Warn("recorder buffer full, record dropped", "kind", j.kind)
	}
}

func (r *Recorder) LogCall(c CallLog) {
	r.enqueue(job{kind: "call_log", fn: func(ctx context.Context) error { return r.repo.InsertCallLog(ctx, c) }})
}

func (r *Recorder) Voicemail(v Voicemail) {
	r.enqueue(job{kind: "voicemail", fn: func(ctx context.Context) error { return r.repo.InsertVoicemail(ctx, v) }})
}

func (r *Recorder) Recording(callLegID, url string, duration time.Duration) {
	r.enqueue(job{kind: "recording", fn: func(ctx context.Context) error {
		return r.repo.AttachRecording(ctx, callLegID, url, duration)
	}})
}

func (r *Recorder) Queue(q QueueRecord) {
	r.enqueue(job{kind: "queue", fn: func(ctx context.Context) error { return r.repo.UpsertQueueRecord(ctx, q) }})
}

// Dropped reports how many records were discarded because the buffer was full.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Close stops accepting records and waits for buffered ones to be written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.jobs)
	r.mu.Unlock()
	r.wg.Wait()
}
