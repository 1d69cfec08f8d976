package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/shared/saga"
	"github.com/VeryGoodTravel/vgt-saga-flight/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the number of saga messages processed at once.
const DefaultWorkers = 6

const faultCallbackTimeout = 5 * time.Second

// Results label saga_messages_total.
const (
	resultReplied       = "replied"
	resultIgnored       = "ignored"
	resultProtocolFault = "protocol_fault"
	resultInfraFault    = "infra_fault"
	resultPanic         = "panic"
	resultRequeued      = "requeued"
)

// ErrShuttingDown is the fault reported for messages the dispatcher took
// off the transport but did not finish before it stopped.
var ErrShuttingDown = errors.New("participant shutting down")

// FaultHandler receives messages whose processing failed for reasons other
// than the message itself. It is where a transport re-drives delivery.
type FaultHandler func(ctx context.Context, msg saga.Message, err error)

// AckHandler receives messages the dispatcher is done with: replied to,
// ignored or dropped as unprocessable. Transports that hold a delivery open
// until then settle it here.
type AckHandler func(ctx context.Context, msg saga.Message)

// Dispatcher consumes inbound saga messages and runs the reservation
// handler matching each State, with at most Workers running at a time.
type Dispatcher struct {
	participant saga.Participant
	handler     ReservationHandler
	workers     int
	onFault     FaultHandler
	onAck       AckHandler
	logger      *zap.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithWorkers sets how many messages may be in flight.
func WithWorkers(workers int) DispatcherOption {
	return func(d *Dispatcher) {
		if workers > 0 {
			d.workers = workers
		}
	}
}

// WithFaultHandler registers the infrastructure fault callback.
func WithFaultHandler(fn FaultHandler) DispatcherOption {
	return func(d *Dispatcher) {
		d.onFault = fn
	}
}

// WithAckHandler registers the callback for finished messages.
func WithAckHandler(fn AckHandler) DispatcherOption {
	return func(d *Dispatcher) {
		d.onAck = fn
	}
}

// NewDispatcher creates a dispatcher for participant.
func NewDispatcher(participant saga.Participant, handler ReservationHandler, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		participant: participant,
		handler:     handler,
		workers:     DefaultWorkers,
		logger:      logger.With(zap.String("participant", participant.Name)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run reads in until it is closed or ctx is cancelled and waits for the
// work it started before returning. Taking a slot blocks reading, so a
// full dispatcher pushes back on the transport. A message received but not
// started when ctx ends goes to the fault handler with ErrShuttingDown.
func (d *Dispatcher) Run(ctx context.Context, in <-chan saga.Message, out chan<- saga.Message) error {
	slots := semaphore.NewWeighted(int64(d.workers))
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		var msg saga.Message
		select {
		case <-ctx.Done():
			return ctx.Err()
		case received, ok := <-in:
			if !ok {
				return nil
			}
			msg = received
		}

		route := d.participant.Route(msg.State)
		if route == saga.RouteNone {
			d.logger.Info("ignoring saga message",
				zap.String("transaction_id", msg.TransactionId.String()),
				zap.String("state", msg.State.String()),
				zap.String("message_type", msg.MessageType.String()),
			)
			d.record(ctx, msg, resultIgnored)
			d.ack(ctx, msg)
			continue
		}

		if err := slots.Acquire(ctx, 1); err != nil {
			d.record(ctx, msg, resultRequeued)
			d.fault(ctx, msg, ErrShuttingDown)
			return err
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer slots.Release(1)
			d.process(ctx, msg, route, out)
		}()
	}
}

func (d *Dispatcher) process(ctx context.Context, msg saga.Message, route saga.Route, out chan<- saga.Message) {
	logger := d.logger.With(
		zap.String("transaction_id", msg.TransactionId.String()),
		zap.Int("message_id", msg.MessageId),
		zap.String("state", msg.State.String()),
		zap.String("route", route.String()),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("saga handler panicked", zap.Any("panic", r), zap.Stack("stack"))
			d.record(ctx, msg, resultPanic)
			d.ack(ctx, msg)
		}
	}()

	ctx, span := telemetry.StartSpan(ctx, "saga_message",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("transaction_id", msg.TransactionId.String()),
			attribute.String("state", msg.State.String()),
			attribute.String("route", route.String()),
		),
	)
	defer span.End()

	reply, err := d.handle(ctx, msg, route)
	switch {
	case err == nil:
	case errors.Is(err, saga.ErrUnexpectedMessage) || errors.Is(err, saga.ErrUnknownMessageType):
		logger.Warn("dropping unexpected saga message", zap.Error(err))
		d.record(ctx, msg, resultProtocolFault)
		d.ack(ctx, msg)
		return
	default:
		span.RecordError(err)
		logger.Error("failed to process saga message", zap.Error(err))
		d.record(ctx, msg, resultInfraFault)
		d.fault(ctx, msg, err)
		return
	}

	span.SetAttributes(attribute.String("reply_state", reply.State.String()))
	select {
	case out <- reply:
		logger.Debug("saga reply queued", zap.String("reply_state", reply.State.String()))
		d.record(ctx, msg, resultReplied)
		d.ack(ctx, msg)
	case <-ctx.Done():
		// The reservation change is committed and idempotent, so the
		// redelivered request only replays the reply.
		logger.Warn("requeueing saga request, reply not queued before shutdown", zap.String("reply_state", reply.State.String()))
		d.record(ctx, msg, resultRequeued)
		d.fault(ctx, msg, ErrShuttingDown)
	}
}

// Drain hands every message still buffered in in back through the fault
// handler and returns how many it requeued. Call it after Run returned; it
// blocks until in is closed.
func (d *Dispatcher) Drain(ctx context.Context, in <-chan saga.Message) int {
	requeued := 0
	for msg := range in {
		if d.participant.Route(msg.State) == saga.RouteNone {
			d.record(ctx, msg, resultIgnored)
			d.ack(ctx, msg)
			continue
		}
		d.record(ctx, msg, resultRequeued)
		d.fault(ctx, msg, ErrShuttingDown)
		requeued++
	}
	if requeued > 0 {
		d.logger.Info("requeued buffered saga messages on shutdown", zap.Int("count", requeued))
	}
	return requeued
}

func (d *Dispatcher) handle(ctx context.Context, msg saga.Message, route saga.Route) (saga.Message, error) {
	switch route {
	case saga.RouteTentativeHold:
		return d.handler.TentativeHold(ctx, msg)
	case saga.RouteConfirm:
		return d.handler.Confirm(ctx, msg)
	case saga.RouteCompensateTimed, saga.RouteCompensateFull:
		return d.handler.Compensate(ctx, msg, route)
	default:
		return saga.Message{}, errors.Wrap(saga.ErrUnexpectedMessage, fmt.Sprintf("no handler for %s", route))
	}
}

// fault outlives the dispatcher context so a message cancelled mid-flight
// can still be handed back to the transport.
func (d *Dispatcher) fault(ctx context.Context, msg saga.Message, err error) {
	if d.onFault == nil {
		return
	}
	faultCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), faultCallbackTimeout)
	defer cancel()
	d.onFault(faultCtx, msg, err)
}

func (d *Dispatcher) ack(ctx context.Context, msg saga.Message) {
	if d.onAck == nil {
		return
	}
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), faultCallbackTimeout)
	defer cancel()
	d.onAck(ackCtx, msg)
}

func (d *Dispatcher) record(ctx context.Context, msg saga.Message, result string) {
	telemetry.RecordCounter(ctx, "saga_messages_total", "Saga messages handled by the participant", 1,
		attribute.String("state", msg.State.String()),
		attribute.String("result", result),
	)
}
