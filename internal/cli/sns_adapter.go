package cli

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// snsPublisherAdapter wraps the AWS SNS client to implement
// provider.SNSPublisher.
type snsPublisherAdapter struct {
	client *sns.Client
}

// newSNSPublisher loads AWS credentials from the default chain. An empty
// region falls back to AWS_REGION and the shared config.
func newSNSPublisher(ctx context.Context, region string) (*snsPublisherAdapter, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &snsPublisherAdapter{client: sns.NewFromConfig(cfg)}, nil
}

// Publish sends a transactional SMS so carriers do not apply promotional
// throttling to verification codes.
func (a *snsPublisherAdapter) Publish(ctx context.Context, phoneNumber, message string) (string, error) {
	out, err := a.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(phoneNumber),
		Message:     aws.String(message),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(out.MessageId), nil
}
