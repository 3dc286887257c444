package events

import (
	"math/rand/v2"
	"time"
)

// Backoff spaces out publish retries. Retry n waits Base doubled n-1 times,
// never more than Max, plus up to Jitter of random spread so emitters that
// lost the broker together do not reconnect in lockstep.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter time.Duration

	draw func(n time.Duration) time.Duration // rand.N unless set by tests
}

// PublishBackoff is the schedule the Emitter uses by default: 250ms, 500ms,
// 1s, ... capped at 10s, each with up to 250ms of jitter.
var PublishBackoff = Backoff{
	Base:   250 * time.Millisecond,
	Max:    10 * time.Second,
	Jitter: 250 * time.Millisecond,
}

// maxShift keeps Base<<shift inside int64 for any sane Base.
const maxShift = 30

// Delay returns the wait before retry (1-based). Values below 1 count as 1.
func (b Backoff) Delay(retry int) time.Duration {
	shift := min(max(retry, 1)-1, maxShift)
	d := b.Base << shift
	if d <= 0 || d > b.Max {
		d = b.Max
	}
	if b.Jitter <= 0 {
		return d
	}
	draw := b.draw
	if draw == nil {
		draw = rand.N[time.Duration]
	}
	return d + draw(b.Jitter)
}
