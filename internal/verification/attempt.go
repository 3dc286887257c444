package verification

import (
	"maps"
	"time"

	"github.com/telecomverify/telecom/internal/provider"
)

// Outcome is the result of a single verification attempt.
type Outcome string

const (
	Success Outcome = "success"
	Failure Outcome = "failure"
)

// Reason tags why a failed attempt failed. Successful attempts carry ReasonNone.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonUndelivered Reason = "undelivered"
	ReasonTimeout     Reason = "timeout"
	ReasonCanceled    Reason = "canceled"
	ReasonError       Reason = "error"
)

// Attempt is one dispatched verification. Attempts are appended to a Repo
// and never mutated afterwards.
type Attempt struct {
	ID          string           `json:"id"`
	Carrier     string           `json:"carrier"`
	Channel     provider.Channel `json:"channel"`
	Number      string           `json:"number"`
	Timestamp   time.Time        `json:"timestamp"`
	RequestTime int64            `json:"request_time,omitempty"`
	Outcome     Outcome          `json:"outcome"`
	Reason      Reason           `json:"reason,omitempty"`
	Step        Step             `json:"step"`
	MessageID   string           `json:"message_id,omitempty"`
	Seq         uint64           `json:"seq"`
}

// Failed reports whether the attempt's outcome is Failure.
func (a Attempt) Failed() bool { return a.Outcome == Failure }

// CarrierStats aggregates all recorded attempts of one carrier.
type CarrierStats struct {
	Carrier       string       `json:"carrier"`
	TotalAttempts int          `json:"total_attempts"`
	Failures      int          `json:"failures"`
	LastFailureAt *time.Time   `json:"last_failure_at,omitempty"`
	Steps         map[Step]int `json:"steps,omitempty"`
}

func (s *CarrierStats) add(a Attempt) {
	s.TotalAttempts++
	if s.Steps == nil {
		s.Steps = make(map[Step]int, len(Ladder))
	}
	s.Steps[a.Step]++
	if !a.Failed() {
		return
	}
	s.Failures++
	if s.LastFailureAt == nil || a.Timestamp.After(*s.LastFailureAt) {
		ts := a.Timestamp
		s.LastFailureAt = &ts
	}
}

func (s CarrierStats) clone() CarrierStats {
	s.Steps = maps.Clone(s.Steps)
	if s.LastFailureAt != nil {
		ts := *s.LastFailureAt
		s.LastFailureAt = &ts
	}
	return s
}
