package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/telecomverify/telecom/internal/testutil"
)

func TestPublishBackoffSchedule(t *testing.T) {
	t.Parallel()
	b := PublishBackoff
	b.Jitter = 0

	cases := []struct {
		retry int
		want  time.Duration
	}{
		{-3, 250 * time.Millisecond},
		{0, 250 * time.Millisecond},
		{1, 250 * time.Millisecond},
		{2, 500 * time.Millisecond},
		{3, time.Second},
		{6, 8 * time.Second},
		{7, 10 * time.Second},
		{50, 10 * time.Second},
		{1 << 20, 10 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, b.Delay(tc.retry), "retry %d", tc.retry)
	}
}

func TestPublishBackoffPinnedValues(t *testing.T) {
	t.Parallel()
	testutil.Equal(t, 250*time.Millisecond, PublishBackoff.Base)
	testutil.Equal(t, 10*time.Second, PublishBackoff.Max)
	testutil.Equal(t, 250*time.Millisecond, PublishBackoff.Jitter)
}

func TestBackoffJitterIsDrawnWithinBound(t *testing.T) {
	t.Parallel()
	var asked time.Duration
	b := PublishBackoff
	b.draw = func(n time.Duration) time.Duration {
		asked = n
		return n - 1
	}

	testutil.Equal(t, 250*time.Millisecond+249999999*time.Nanosecond, b.Delay(1))
	testutil.Equal(t, 250*time.Millisecond, asked)
	testutil.Equal(t, 10*time.Second+249999999*time.Nanosecond, b.Delay(12))
}

func TestBackoffRandomJitterStaysInRange(t *testing.T) {
	t.Parallel()
	for retry := 1; retry < 20; retry++ {
		d := PublishBackoff.Delay(retry)
		floor := min(PublishBackoff.Base<<(retry-1), PublishBackoff.Max)
		assert.GreaterOrEqual(t, d, floor, "retry %d", retry)
		assert.Less(t, d, floor+PublishBackoff.Jitter, "retry %d", retry)
	}
}

func TestBackoffCustomSchedule(t *testing.T) {
	t.Parallel()
	b := Backoff{Base: time.Second, Max: 3 * time.Second}
	testutil.Equal(t, time.Second, b.Delay(1))
	testutil.Equal(t, 2*time.Second, b.Delay(2))
	testutil.Equal(t, 3*time.Second, b.Delay(3))
}

func TestSubject(t *testing.T) {
	t.Parallel()
	testutil.Equal(t, "verification.attempts.twilio", Subject("twilio"))
	testutil.Equal(t, "verification.attempts.eu_west_a", Subject("eu.west*a"))
	testutil.Equal(t, "verification.attempts.x_y", Subject("x y"))
}
