package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telecomverify/telecom/internal/events"
	"github.com/telecomverify/telecom/internal/testutil"
	"github.com/telecomverify/telecom/internal/verification"
)

type message struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	failures int // remaining publishes to fail
	msgs     []message
	calls    int
	closed   bool
	block    chan struct{}
}

func (f *fakePublisher) Publish(ctx context.Context, subject string, data []byte) error {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("broker unavailable")
	}
	f.msgs = append(f.msgs, message{subject: subject, data: data})
	return nil
}

func (f *fakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePublisher) snapshot() ([]message, int, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.msgs...), f.calls, f.closed
}

func noDelay(int) time.Duration { return 0 }

func TestEmitterPublishesAttempts(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{}
	e := events.NewEmitter(pub, testutil.DiscardLogger(), events.WithBackoff(noDelay))

	e.Emit(verification.Attempt{ID: "1", Carrier: "A", Outcome: verification.Success})
	e.Emit(verification.Attempt{ID: "2", Carrier: "B", Outcome: verification.Failure, Reason: verification.ReasonTimeout})
	require.NoError(t, e.Close(t.Context()))

	msgs, _, closed := pub.snapshot()
	require.Len(t, msgs, 2)
	assert.True(t, closed)
	assert.Equal(t, "verification.attempts.A", msgs[0].subject)
	assert.Equal(t, "verification.attempts.B", msgs[1].subject)

	var got verification.Attempt
	require.NoError(t, json.Unmarshal(msgs[1].data, &got))
	assert.Equal(t, "2", got.ID)
	assert.Equal(t, verification.ReasonTimeout, got.Reason)

	published, dropped, failed := e.Stats()
	assert.Equal(t, int64(2), published)
	assert.Zero(t, dropped)
	assert.Zero(t, failed)
}

func TestEmitterRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{failures: 2}
	e := events.NewEmitter(pub, testutil.DiscardLogger(), events.WithBackoff(noDelay), events.WithMaxRetries(3))

	e.Emit(verification.Attempt{ID: "1", Carrier: "A"})
	require.NoError(t, e.Close(t.Context()))

	msgs, calls, _ := pub.snapshot()
	assert.Len(t, msgs, 1)
	assert.Equal(t, 3, calls)
}

func TestEmitterGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{failures: 100}
	e := events.NewEmitter(pub, testutil.DiscardLogger(), events.WithBackoff(noDelay), events.WithMaxRetries(2))

	e.Emit(verification.Attempt{ID: "1", Carrier: "A"})
	require.NoError(t, e.Close(t.Context()))

	msgs, calls, _ := pub.snapshot()
	assert.Empty(t, msgs)
	assert.Equal(t, 3, calls)
	_, _, failed := e.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestEmitterDropsWhenQueueFull(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{block: make(chan struct{})}
	e := events.NewEmitter(pub, testutil.DiscardLogger(), events.WithQueueSize(1), events.WithBackoff(noDelay))

	for i := 0; i < 10; i++ {
		e.Emit(verification.Attempt{Carrier: "A"})
	}
	close(pub.block)
	require.NoError(t, e.Close(t.Context()))

	published, dropped, _ := e.Stats()
	assert.Equal(t, int64(10), published+dropped)
	assert.GreaterOrEqual(t, dropped, int64(8))
}

func TestEmitterDropsAfterClose(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{}
	e := events.NewEmitter(pub, testutil.DiscardLogger())
	require.NoError(t, e.Close(t.Context()))

	e.Emit(verification.Attempt{Carrier: "A"})
	_, dropped, _ := e.Stats()
	assert.Equal(t, int64(1), dropped)

	// Second close is a no-op.
	require.NoError(t, e.Close(t.Context()))
}

func TestEmitterCloseAbandonsRetriesOnDeadline(t *testing.T) {
	t.Parallel()
	pub := &fakePublisher{failures: 100}
	e := events.NewEmitter(pub, testutil.DiscardLogger(),
		events.WithBackoff(func(int) time.Duration { return time.Hour }))

	e.Emit(verification.Attempt{Carrier: "A"})

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	require.NoError(t, e.Close(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)

	_, _, failed := e.Stats()
	assert.Equal(t, int64(1), failed)
}

func TestNopPublisher(t *testing.T) {
	t.Parallel()
	var p events.Publisher = events.Nop{}
	assert.NoError(t, p.Publish(t.Context(), "x", nil))
	assert.NoError(t, p.Close())
}

func TestNATSPublisherImplementsInterface(t *testing.T) {
	var _ events.Publisher = (*events.NATSPublisher)(nil)
}
