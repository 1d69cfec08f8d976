package infrastructure

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/shared/saga"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SQSAPI is the part of the SQS client the relay needs.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSMessageRelay long-polls a queue and feeds decoded saga messages into
// the dispatcher's inbound channel. A message stays on the queue until the
// dispatcher acks it or Requeue replaces it with a delayed copy; one that
// is neither reappears after the visibility timeout.
type SQSMessageRelay struct {
	client   SQSAPI
	queueURL string
	options  *sqsRelayOptions
	logger   *zap.Logger

	mu       sync.Mutex
	inflight map[deliveryKey][]types.Message
}

// deliveryKey identifies a received saga message until it is settled.
// Redelivered copies share a key; any of their receipts settles it.
type deliveryKey struct {
	transactionID uuid.UUID
	messageID     int
	state         saga.State
}

func keyOf(msg saga.Message) deliveryKey {
	return deliveryKey{transactionID: msg.TransactionId, messageID: msg.MessageId, state: msg.State}
}

type sqsRelayOptions struct {
	readers                    int
	maxNumberOfMessages        int32
	waitTimeSeconds            int32
	visibilityTimeout          int32
	sleepTimeAfterEmptyReceive time.Duration
	sleepTimeAfterError        time.Duration
	requeueDelaySeconds        int32
}

type SQSRelayOption func(*sqsRelayOptions)

func WithReaders(readers int) SQSRelayOption {
	return func(o *sqsRelayOptions) {
		o.readers = readers
	}
}

func WithVisibilityTimeout(timeout int32) SQSRelayOption {
	return func(o *sqsRelayOptions) {
		o.visibilityTimeout = timeout
	}
}

func WithWaitTime(seconds int32) SQSRelayOption {
	return func(o *sqsRelayOptions) {
		o.waitTimeSeconds = seconds
	}
}

func WithSleepAfterEmptyReceive(d time.Duration) SQSRelayOption {
	return func(o *sqsRelayOptions) {
		o.sleepTimeAfterEmptyReceive = d
	}
}

func WithRequeueDelay(seconds int32) SQSRelayOption {
	return func(o *sqsRelayOptions) {
		o.requeueDelaySeconds = seconds
	}
}

// NewSQSMessageRelay creates a new SQS relay
func NewSQSMessageRelay(client SQSAPI, queueURL string, logger *zap.Logger, opts ...SQSRelayOption) *SQSMessageRelay {
	options := &sqsRelayOptions{
		readers:                    1,
		maxNumberOfMessages:        10,
		waitTimeSeconds:            15,
		visibilityTimeout:          30,
		sleepTimeAfterEmptyReceive: time.Second,
		sleepTimeAfterError:        20 * time.Second,
		requeueDelaySeconds:        5,
	}

	for _, opt := range opts {
		opt(options)
	}

	return &SQSMessageRelay{
		client:   client,
		queueURL: queueURL,
		options:  options,
		logger:   logger,
		inflight: map[deliveryKey][]types.Message{},
	}
}

// Run polls until ctx is cancelled.
func (r *SQSMessageRelay) Run(ctx context.Context, in chan<- saga.Message) error {
	gr, ctx := errgroup.WithContext(ctx)

	for i := 0; i < r.options.readers; i++ {
		gr.Go(func() error {
			for {
				err := r.read(ctx, in)
				if ctx.Err() != nil {
					return nil
				}
				if err != nil {
					r.logger.Error("failed to read from SQS", zap.String("queue", r.queueURL), zap.Error(err))
					sleepContext(ctx, r.options.sleepTimeAfterError)
				}
			}
		})
	}

	return gr.Wait()
}

func (r *SQSMessageRelay) read(ctx context.Context, in chan<- saga.Message) error {
	output, err := r.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(r.queueURL),
		MaxNumberOfMessages: r.options.maxNumberOfMessages,
		WaitTimeSeconds:     r.options.waitTimeSeconds,
		VisibilityTimeout:   r.options.visibilityTimeout,
		AttributeNames: []types.QueueAttributeName{
			"ApproximateReceiveCount",
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to receive message from SQS")
	}

	if len(output.Messages) == 0 {
		sleepContext(ctx, r.options.sleepTimeAfterEmptyReceive)
		return nil
	}

	for _, message := range output.Messages {
		msg, err := decodeSQSBody(aws.ToString(message.Body))
		if err != nil {
			// Redelivery would not make it decodable.
			r.logger.Warn("dropping malformed saga message",
				zap.String("sqs_message_id", aws.ToString(message.MessageId)),
				zap.Error(err),
			)
			r.delete(ctx, message)
			continue
		}

		r.track(msg, message)
		select {
		case in <- msg:
		case <-ctx.Done():
			// Left for redelivery after the visibility timeout.
			r.settle(msg)
			return ctx.Err()
		}
	}

	return nil
}

// Ack deletes a message the dispatcher is done with.
func (r *SQSMessageRelay) Ack(ctx context.Context, msg saga.Message) {
	if message, ok := r.settle(msg); ok {
		r.delete(ctx, message)
	}
}

// Pending reports how many received messages are still unsettled.
func (r *SQSMessageRelay) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, messages := range r.inflight {
		n += len(messages)
	}
	return n
}

func (r *SQSMessageRelay) track(msg saga.Message, message types.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := keyOf(msg)
	r.inflight[key] = append(r.inflight[key], message)
}

// settle forgets the oldest receipt of msg and returns it.
func (r *SQSMessageRelay) settle(msg saga.Message) (types.Message, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := keyOf(msg)
	messages := r.inflight[key]
	if len(messages) == 0 {
		return types.Message{}, false
	}
	if len(messages) == 1 {
		delete(r.inflight, key)
	} else {
		r.inflight[key] = messages[1:]
	}
	return messages[0], true
}

func (r *SQSMessageRelay) delete(ctx context.Context, message types.Message) {
	_, err := r.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(r.queueURL),
		ReceiptHandle: message.ReceiptHandle,
	})
	if err != nil {
		r.logger.Warn("failed to delete message from SQS",
			zap.String("sqs_message_id", aws.ToString(message.MessageId)),
			zap.Error(err),
		)
	}
}

// Requeue sends msg back to the queue after a delay and deletes the
// delivery it replaces. It is the dispatcher's fault hook for this
// transport.
func (r *SQSMessageRelay) Requeue(ctx context.Context, msg saga.Message, cause error) error {
	body, err := saga.Encode(msg)
	if err != nil {
		return err
	}

	_, err = r.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(r.queueURL),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: r.options.requeueDelaySeconds,
	})
	if err != nil {
		return errors.Wrap(err, "failed to requeue saga message")
	}
	r.Ack(ctx, msg)

	r.logger.Info("requeued saga message after fault",
		zap.String("transaction_id", msg.TransactionId.String()),
		zap.String("state", msg.State.String()),
		zap.NamedError("cause", cause),
	)
	return nil
}

// snsEnvelope is what SQS receives from an SNS subscription without raw
// message delivery.
type snsEnvelope struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

func decodeSQSBody(body string) (saga.Message, error) {
	var envelope snsEnvelope
	if err := json.Unmarshal([]byte(body), &envelope); err == nil && envelope.Type == "Notification" {
		body = envelope.Message
	}
	return saga.Decode([]byte(body))
}

func sleepContext(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
