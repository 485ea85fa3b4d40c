package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"harborvisa.org/internal/ids"
	"harborvisa.org/internal/obs"
)

const (
	defaultQueueSize    = 256
	defaultRetryTimeout = 30 * time.Second
)

var ErrRecorderClosed = errors.New("audit: recorder closed")

// Recorder appends entries asynchronously. Callers never observe storage
// failures: they are logged, counted and dropped.
type Recorder struct {
	store        Store
	now          func() time.Time
	retryTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Entry

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures Recorder.
type Option func(*Recorder)

// WithClock overrides the time source used to stamp entries.
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithQueueSize sets the number of entries buffered ahead of the store.
func WithQueueSize(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.queue = make(chan Entry, n)
		}
	}
}

// WithRetryTimeout bounds how long one entry is retried before being dropped.
func WithRetryTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.retryTimeout = d
		}
	}
}

// NewRecorder starts the background writer. Call Close to drain it.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:        store,
		now:          time.Now,
		retryTimeout: defaultRetryTimeout,
		queue:        make(chan Entry, defaultQueueSize),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.ctx, r.cancel = context.WithCancel(context.Background())
	go r.run()
	return r
}

// Append stamps e and queues it for persistence. It never blocks on the store.
func (r *Recorder) Append(ctx context.Context, e Entry) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}
	if e.ID == "" {
		e.ID = ids.NewAt(e.OccurredAt)
	}
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}
	if e.Origin == "" {
		e.Origin = OriginFromContext(ctx)
	}
	e.Detail = cloneDetail(e.Detail)
	logEntry(e)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(e, "closed", ErrRecorderClosed)
		return
	}
	select {
	case r.queue <- e:
	default:
		r.drop(e, "queue_full", errors.New("audit queue full"))
	}
}

// Close stops accepting entries and waits for queued ones to be written.
// When ctx expires first, in-flight retries are abandoned.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-r.done
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		r.write(e)
	}
}

func (r *Recorder) write(e Entry) {
	if r.store == nil {
		return
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = r.retryTimeout

	err := backoff.Retry(func() error {
		return r.store.AppendAudit(r.ctx, e)
	}, backoff.WithContext(b, r.ctx))
	if err != nil {
		r.drop(e, "store_error", err)
	}
}

func (r *Recorder) drop(e Entry, reason string, err error) {
	obs.ObserveAuditFailure(reason)
	obs.Logger().Error("audit entry dropped",
		zap.String("audit_id", e.ID),
		zap.String("event", e.Action),
		zap.String("reason", reason),
		zap.Error(err),
	)
}

func logEntry(e Entry) {
	fields := []zap.Field{
		zap.String("type", "audit"),
		zap.String("audit_id", e.ID),
		zap.String("event", e.Action),
		zap.String("resource_type", e.ResourceType),
		zap.Time("occurred_at", e.OccurredAt),
		zap.Any("fields", e.Detail),
	}
	if e.ActorID != nil {
		fields = append(fields, zap.Int64("actor_id", *e.ActorID))
	}
	if e.ResourceID != nil {
		fields = append(fields, zap.String("resource_id", *e.ResourceID))
	}
	if e.RequestID != "" {
		fields = append(fields, zap.String("request_id", e.RequestID))
	}
	if e.Origin != "" {
		fields = append(fields, zap.String("origin", e.Origin))
	}
	obs.Logger().Info("audit", fields...)
}

func cloneDetail(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
