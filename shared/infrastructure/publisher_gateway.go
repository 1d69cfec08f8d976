package infrastructure

import (
	"context"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/shared/saga"
	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	defaultGatewayBatch    = 10
	defaultGatewayBackoff  = time.Second
	defaultBreakerTimeout  = 30 * time.Second
	defaultBreakerRequests = 5
	defaultBreakerInterval = time.Minute
)

// BreakerOption configures the circuit breaker in front of the bus.
type BreakerOption func(*gobreaker.Settings)

// WithBreakerName sets the name reported on state changes.
func WithBreakerName(name string) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.Name = name
	}
}

// WithBreakerTimeout sets how long the breaker stays open.
func WithBreakerTimeout(timeout time.Duration) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.Timeout = timeout
	}
}

// WithBreakerReadyToTrip replaces the trip condition.
func WithBreakerReadyToTrip(readyToTrip func(gobreaker.Counts) bool) BreakerOption {
	return func(s *gobreaker.Settings) {
		s.ReadyToTrip = readyToTrip
	}
}

// NewCircuitBreaker returns a breaker that opens after a run of
// consecutive publish failures.
func NewCircuitBreaker(logger *zap.Logger, opts ...BreakerOption) *gobreaker.CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        "saga-publisher",
		Timeout:     defaultBreakerTimeout,
		MaxRequests: defaultBreakerRequests,
		Interval:    defaultBreakerInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > defaultBreakerRequests/2+1
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("publisher circuit breaker changed state",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}

	for _, opt := range opts {
		opt(&settings)
	}

	return gobreaker.NewCircuitBreaker(settings)
}

// PublisherGateway drains the outbound channel of the dispatcher into the
// real bus. Replies already reflect committed state, so a failed publish is
// retried until it succeeds or the gateway is stopped.
type PublisherGateway struct {
	publisher saga.Publisher
	breaker   *gobreaker.CircuitBreaker
	logger    *zap.Logger
	batchSize int
	backoff   time.Duration
}

// GatewayOption configures a PublisherGateway.
type GatewayOption func(*PublisherGateway)

// WithGatewayBatchSize caps how many queued replies go out in one publish.
func WithGatewayBatchSize(size int) GatewayOption {
	return func(g *PublisherGateway) {
		if size > 0 {
			g.batchSize = size
		}
	}
}

// WithGatewayBackoff sets the pause between failed publishes.
func WithGatewayBackoff(backoff time.Duration) GatewayOption {
	return func(g *PublisherGateway) {
		g.backoff = backoff
	}
}

// NewPublisherGateway creates a gateway in front of publisher.
func NewPublisherGateway(publisher saga.Publisher, breaker *gobreaker.CircuitBreaker, logger *zap.Logger, opts ...GatewayOption) *PublisherGateway {
	g := &PublisherGateway{
		publisher: publisher,
		breaker:   breaker,
		logger:    logger,
		batchSize: defaultGatewayBatch,
		backoff:   defaultGatewayBackoff,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run publishes until out is closed or ctx is cancelled. Whatever is still
// queued on cancellation is logged and dropped.
func (g *PublisherGateway) Run(ctx context.Context, out <-chan saga.Message) error {
	for {
		var first saga.Message
		select {
		case <-ctx.Done():
			g.logDropped(out)
			return ctx.Err()
		case msg, ok := <-out:
			if !ok {
				return nil
			}
			first = msg
		}

		batch := g.collect(first, out)
		if err := g.publish(ctx, batch); err != nil {
			g.logger.Warn("dropping saga replies on shutdown", zap.Int("count", len(batch)), zap.Error(err))
			g.logDropped(out)
			return err
		}
	}
}

// collect adds whatever is already queued behind first, up to the batch size.
func (g *PublisherGateway) collect(first saga.Message, out <-chan saga.Message) []saga.Message {
	batch := []saga.Message{first}
	for len(batch) < g.batchSize {
		select {
		case msg, ok := <-out:
			if !ok {
				return batch
			}
			batch = append(batch, msg)
		default:
			return batch
		}
	}
	return batch
}

func (g *PublisherGateway) publish(ctx context.Context, batch []saga.Message) error {
	for attempt := 1; ; attempt++ {
		_, err := g.breaker.Execute(func() (interface{}, error) {
			return nil, g.publisher.Publish(ctx, batch...)
		})
		if err == nil {
			return nil
		}

		g.logger.Error("failed to publish saga replies",
			zap.Int("count", len(batch)),
			zap.Int("attempt", attempt),
			zap.String("breaker_state", g.breaker.State().String()),
			zap.Error(err),
		)

		timer := time.NewTimer(g.backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Wrap(ctx.Err(), "publisher gateway stopped")
		case <-timer.C:
		}
	}
}

func (g *PublisherGateway) logDropped(out <-chan saga.Message) {
	dropped := 0
	for {
		select {
		case msg, ok := <-out:
			if !ok {
				g.logDroppedCount(dropped)
				return
			}
			dropped++
			g.logger.Debug("dropped saga reply",
				zap.String("transaction_id", msg.TransactionId.String()),
				zap.Int("message_id", msg.MessageId),
			)
		default:
			g.logDroppedCount(dropped)
			return
		}
	}
}

func (g *PublisherGateway) logDroppedCount(n int) {
	if n > 0 {
		g.logger.Warn("dropped queued saga replies", zap.Int("count", n))
	}
}
