package verification

import (
	"fmt"
	"slices"

	"github.com/telecomverify/telecom/internal/provider"
)

// Step is how far along the delivery ladder an attempt got before the
// number was verified. Later steps are worse.
type Step string

const (
	StepFirstSMS    Step = "first_sms"
	StepSecondSMS   Step = "second_sms"
	StepFirstVoice  Step = "first_voice"
	StepSecondVoice Step = "second_voice"
	StepUnreachable Step = "unreachable"
)

// Ladder is the escalation order. Each rung except StepUnreachable names the
// channel tried at that position.
var Ladder = []Step{StepFirstSMS, StepSecondSMS, StepFirstVoice, StepSecondVoice, StepUnreachable}

// Channel returns the channel used at s. StepUnreachable has none.
func (s Step) Channel() provider.Channel {
	switch s {
	case StepFirstSMS, StepSecondSMS:
		return provider.ChannelSMS
	case StepFirstVoice, StepSecondVoice:
		return provider.ChannelVoice
	default:
		return ""
	}
}

func (s Step) index() int { return slices.Index(Ladder, s) }

// StepFor is the step of an attempt that made a single delivery: the first
// rung of its channel on success, unreachable otherwise.
func StepFor(ch provider.Channel, o Outcome) Step {
	if o != Success {
		return StepUnreachable
	}
	if ch == provider.ChannelVoice {
		return StepFirstVoice
	}
	return StepFirstSMS
}

// StepWeights assigns a score to each rung of Ladder, in ladder order.
type StepWeights [5]float64

// DefaultStepWeights scores rungs 1 through 5.
var DefaultStepWeights = StepWeights{1, 2, 3, 4, 5}

// NewStepWeights validates that exactly one weight per rung is given and
// that weights never decrease along the ladder.
func NewStepWeights(w []float64) (StepWeights, error) {
	var out StepWeights
	if len(w) != len(out) {
		return out, fmt.Errorf("step weights: expected %d values, got %d", len(out), len(w))
	}
	if !slices.IsSorted(w) {
		return out, fmt.Errorf("step weights must be ascending, got %v", w)
	}
	copy(out[:], w)
	return out, nil
}

// Of returns the weight of s. Unknown steps weigh as unreachable.
func (w StepWeights) Of(s Step) float64 {
	i := s.index()
	if i < 0 {
		i = len(w) - 1
	}
	return w[i]
}
