package provider

import (
	"context"
	"fmt"
	"math/rand/v2"
)

// MockProvider fails each attempt with a fixed per-channel probability.
// Draws are independent; the only shared state is the goroutine-safe
// top-level rand source.
type MockProvider struct {
	name         string
	smsFailPct   int
	voiceFailPct int
	draw         func(n int) int
}

// NewMockProvider creates a MockProvider. Percentages must be within [0,100].
func NewMockProvider(name string, smsFailurePct, voiceFailurePct int) (*MockProvider, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if smsFailurePct < 0 || smsFailurePct > 100 {
		return nil, fmt.Errorf("%w: sms failure percentage must be between 0 and 100, got %d", ErrInvalidConfig, smsFailurePct)
	}
	if voiceFailurePct < 0 || voiceFailurePct > 100 {
		return nil, fmt.Errorf("%w: voice failure percentage must be between 0 and 100, got %d", ErrInvalidConfig, voiceFailurePct)
	}
	return &MockProvider{
		name:         name,
		smsFailPct:   smsFailurePct,
		voiceFailPct: voiceFailurePct,
		draw:         rand.IntN,
	}, nil
}

func (p *MockProvider) Name() string { return p.name }

// FailurePct returns the configured failure percentage for ch.
func (p *MockProvider) FailurePct(ch Channel) int {
	if ch == ChannelVoice {
		return p.voiceFailPct
	}
	return p.smsFailPct
}

func (p *MockProvider) Attempt(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Channel != ChannelSMS && req.Channel != ChannelVoice {
		return nil, fmt.Errorf("mock %s: %w: %q", p.name, ErrUnsupportedChannel, req.Channel)
	}
	if p.draw(100) < p.FailurePct(req.Channel) {
		return nil, fmt.Errorf("mock %s: %w", p.name, ErrUndelivered)
	}
	return &Result{Status: "delivered"}, nil
}
