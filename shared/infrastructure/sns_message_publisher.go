package infrastructure

import (
	"context"
	"strconv"
	"strings"

	"github.com/VeryGoodTravel/vgt-saga-flight/shared/saga"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var _ saga.Publisher = (*SNSMessagePublisher)(nil)

const maxBatchSize = 10

// Message attributes set on every published reply. Subscriptions can
// filter on them without decoding the body.
const (
	AttributeTransactionID = "transaction_id"
	AttributeMessageType   = "message_type"
	AttributeState         = "state"
)

// SNSPublishAPI is the part of the SNS client the publisher needs.
type SNSPublishAPI interface {
	PublishBatch(ctx context.Context, params *sns.PublishBatchInput, optFns ...func(*sns.Options)) (*sns.PublishBatchOutput, error)
}

// SNSMessagePublisher publishes saga messages to an SNS topic. On a FIFO
// topic the transaction ID is the message group, so the replies of one
// saga keep their order.
type SNSMessagePublisher struct {
	client   SNSPublishAPI
	topicArn string
	fifo     bool
	logger   *zap.Logger
}

// NewSNSMessagePublisher creates a new SNSMessagePublisher
func NewSNSMessagePublisher(client SNSPublishAPI, topicArn string, logger *zap.Logger) *SNSMessagePublisher {
	return &SNSMessagePublisher{
		client:   client,
		topicArn: topicArn,
		fifo:     strings.HasSuffix(topicArn, ".fifo"),
		logger:   logger,
	}
}

// Publish sends msgs in batches of ten, in parallel.
func (p *SNSMessagePublisher) Publish(ctx context.Context, msgs ...saga.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	gr, ctx := errgroup.WithContext(ctx)
	for _, batch := range splitToChunks(msgs, maxBatchSize) {
		gr.Go(func() error {
			return p.batchPublish(ctx, batch)
		})
	}

	return gr.Wait()
}

func (p *SNSMessagePublisher) batchPublish(ctx context.Context, msgs []saga.Message) error {
	entries, err := buildBatchEntries(msgs, p.fifo)
	if err != nil {
		return err
	}

	res, err := p.client.PublishBatch(ctx, &sns.PublishBatchInput{
		TopicArn:                   aws.String(p.topicArn),
		PublishBatchRequestEntries: entries,
	})
	if err != nil {
		return errors.Wrap(err, "failed to publish batch to SNS")
	}

	if len(res.Failed) > 0 {
		for _, failed := range res.Failed {
			p.logger.Error("SNS rejected saga message",
				zap.String("entry", aws.ToString(failed.Id)),
				zap.String("code", aws.ToString(failed.Code)),
				zap.String("reason", aws.ToString(failed.Message)),
			)
		}
		return errors.Errorf("%d of %d messages rejected by SNS", len(res.Failed), len(msgs))
	}

	return nil
}

func buildBatchEntries(msgs []saga.Message, fifo bool) ([]types.PublishBatchRequestEntry, error) {
	entries := make([]types.PublishBatchRequestEntry, len(msgs))

	for i, msg := range msgs {
		body, err := saga.Encode(msg)
		if err != nil {
			return nil, err
		}

		entry := types.PublishBatchRequestEntry{
			Id:      aws.String("msg-" + strconv.Itoa(i)),
			Message: aws.String(string(body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				AttributeTransactionID: stringAttribute(msg.TransactionId.String()),
				AttributeMessageType:   stringAttribute(msg.MessageType.String()),
				AttributeState:         stringAttribute(msg.State.String()),
			},
		}
		if fifo {
			entry.MessageGroupId = aws.String(msg.TransactionId.String())
			entry.MessageDeduplicationId = aws.String(msg.TransactionId.String() + "-" + strconv.Itoa(msg.MessageId))
		}
		entries[i] = entry
	}

	return entries, nil
}

func stringAttribute(value string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(value),
	}
}

// splitToChunks splits slice into chunks of specified size
func splitToChunks[T any](slice []T, chunkSize int) [][]T {
	var chunks [][]T
	for i := 0; i < len(slice); i += chunkSize {
		end := i + chunkSize
		if end > len(slice) {
			end = len(slice)
		}
		chunks = append(chunks, slice[i:end])
	}
	return chunks
}
