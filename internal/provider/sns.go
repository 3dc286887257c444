package provider

import (
	"context"
	"fmt"
)

// SNSPublisher abstracts the AWS SNS Publish call for testability.
type SNSPublisher interface {
	Publish(ctx context.Context, phoneNumber, message string) (messageID string, err error)
}

// SNSProvider delivers SMS codes via AWS SNS. SNS has no voice channel.
type SNSProvider struct {
	name      string
	publisher SNSPublisher
}

// NewSNSProvider creates an SNSProvider with the given publisher.
func NewSNSProvider(name string, publisher SNSPublisher) *SNSProvider {
	return &SNSProvider{name: name, publisher: publisher}
}

func (p *SNSProvider) Name() string { return p.name }

func (p *SNSProvider) Attempt(ctx context.Context, req Request) (*Result, error) {
	if req.Channel != ChannelSMS {
		return nil, fmt.Errorf("sns: %w: %s", ErrUnsupportedChannel, req.Channel)
	}
	messageID, err := p.publisher.Publish(ctx, req.To, req.Body())
	if err != nil {
		return nil, fmt.Errorf("sns: publish: %w", err)
	}

	return &Result{
		MessageID: messageID,
		Status:    "sent",
	}, nil
}
