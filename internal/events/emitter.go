package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/telecomverify/telecom/internal/verification"
)

const (
	defaultQueueSize  = 1024
	defaultMaxRetries = 3
	publishTimeout    = 5 * time.Second
)

// Emitter publishes attempts asynchronously so the request path never waits
// on the broker. Failed publishes are retried with backoff.
type Emitter struct {
	pub        Publisher
	logger     *slog.Logger
	maxRetries int
	backoff    func(attempt int) time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan verification.Attempt

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithQueueSize sets the queue capacity. Events are dropped when it is full.
func WithQueueSize(n int) EmitterOption {
	return func(e *Emitter) {
		if n > 0 {
			e.queue = make(chan verification.Attempt, n)
		}
	}
}

// WithMaxRetries sets how many times a failed publish is retried.
func WithMaxRetries(n int) EmitterOption {
	return func(e *Emitter) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithBackoff overrides the retry delay function; tests pass a zero delay.
func WithBackoff(fn func(attempt int) time.Duration) EmitterOption {
	return func(e *Emitter) {
		if fn != nil {
			e.backoff = fn
		}
	}
}

// NewEmitter creates an Emitter and starts its background worker.
func NewEmitter(pub Publisher, logger *slog.Logger, opts ...EmitterOption) *Emitter {
	ctx, cancel := context.WithCancel(context.Background())
	e := &Emitter{
		pub:        pub,
		logger:     logger,
		maxRetries: defaultMaxRetries,
		backoff:    PublishBackoff.Delay,
		queue:      make(chan verification.Attempt, defaultQueueSize),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	go e.run()
	return e
}

// Emit queues an attempt for publishing. Non-blocking: the attempt is
// dropped if the queue is full or the emitter is closed.
func (e *Emitter) Emit(a verification.Attempt) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		e.dropped.Add(1)
		return
	}
	select {
	case e.queue <- a:
	default:
		e.dropped.Add(1)
		e.logger.Warn("event queue full, dropping attempt", "carrier", a.Carrier, "id", a.ID)
	}
}

// Close stops accepting events and waits for the queue to drain. If ctx
// expires first, in-flight retries are abandoned.
func (e *Emitter) Close(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		<-e.done
		return nil
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		e.cancel()
		<-e.done
	}
	e.cancel()
	return e.pub.Close()
}

// Stats returns the published, dropped and failed counters.
func (e *Emitter) Stats() (published, dropped, failed int64) {
	return e.published.Load(), e.dropped.Load(), e.failed.Load()
}

func (e *Emitter) run() {
	defer close(e.done)
	for a := range e.queue {
		e.publish(a)
	}
}

func (e *Emitter) publish(a verification.Attempt) {
	data, err := json.Marshal(a)
	if err != nil {
		e.logger.Error("failed to marshal attempt event", "error", err)
		e.failed.Add(1)
		return
	}
	subject := Subject(a.Carrier)

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(e.backoff(attempt))
			select {
			case <-e.ctx.Done():
				t.Stop()
				e.failed.Add(1)
				return
			case <-t.C:
			}
		}

		ctx, cancel := context.WithTimeout(e.ctx, publishTimeout)
		err = e.pub.Publish(ctx, subject, data)
		cancel()
		if err == nil {
			e.published.Add(1)
			return
		}
		e.logger.Warn("attempt event publish failed",
			"subject", subject, "attempt", attempt+1, "error", err)
	}
	e.failed.Add(1)
	e.logger.Error("attempt event publish exhausted retries", "subject", subject, "id", a.ID)
}
