package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Channel is the delivery method of a verification attempt.
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelVoice Channel = "voice"
)

// ParseChannel accepts "sms" or "voice" in any case.
func ParseChannel(s string) (Channel, error) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelSMS:
		return ChannelSMS, nil
	case ChannelVoice:
		return ChannelVoice, nil
	default:
		return "", fmt.Errorf("unknown channel %q (supported: sms, voice)", s)
	}
}

var (
	// ErrInvalidConfig is returned when a provider is constructed with out-of-range parameters.
	ErrInvalidConfig = errors.New("invalid provider config")

	// ErrUndelivered is the failure reported when a carrier could not reach the number.
	ErrUndelivered = errors.New("verification not delivered")

	// ErrUnsupportedChannel is returned by carriers that cannot deliver on the requested channel.
	ErrUnsupportedChannel = errors.New("channel not supported by provider")
)

// Request is a single verification attempt handed to a provider.
type Request struct {
	To      string
	Channel Channel
	Code    string
}

// Body renders the human-readable message carrying the code.
func (r Request) Body() string {
	return fmt.Sprintf("Your verification code is %s", r.Code)
}

// Result holds the carrier-side metadata of a successful attempt.
type Result struct {
	MessageID string
	Status    string
}

// Provider is one telecom carrier. A nil error means the attempt succeeded;
// any non-nil error is a failed attempt. Implementations must be safe for
// concurrent use.
type Provider interface {
	Name() string
	Attempt(ctx context.Context, req Request) (*Result, error)
}
