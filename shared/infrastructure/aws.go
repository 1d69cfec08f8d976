package infrastructure

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// AWSOptions locates the queue and topic of an SQS/SNS participant.
type AWSOptions struct {
	Region      string
	SNSTopicArn string
	SQSQueueURL string
}

// LoadAWSConfig loads the default credential chain. LocalStack works when
// AWS_ENDPOINT_URL is set.
func LoadAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, errors.Wrap(err, "failed to load AWS config")
	}
	return cfg, nil
}

// NewAWSTransport builds the SQS relay and SNS publisher pair.
func NewAWSTransport(ctx context.Context, opts AWSOptions, logger *zap.Logger, relayOpts ...SQSRelayOption) (*SQSMessageRelay, *SNSMessagePublisher, error) {
	if opts.SQSQueueURL == "" || opts.SNSTopicArn == "" {
		return nil, nil, errors.New("sqs queue url and sns topic arn are required")
	}

	cfg, err := LoadAWSConfig(ctx, opts.Region)
	if err != nil {
		return nil, nil, err
	}

	relay := NewSQSMessageRelay(sqs.NewFromConfig(cfg), opts.SQSQueueURL, logger, relayOpts...)
	publisher := NewSNSMessagePublisher(sns.NewFromConfig(cfg), opts.SNSTopicArn, logger)
	return relay, publisher, nil
}
