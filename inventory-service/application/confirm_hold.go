package application

import (
	"context"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/domain"
	"github.com/VeryGoodTravel/vgt-saga-flight/shared/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ConfirmHoldCommand makes the hold of a saga transaction permanent.
type ConfirmHoldCommand struct {
	TransactionID uuid.UUID
}

// ConfirmHoldResponse reports whether a hold existed to confirm.
type ConfirmHoldResponse struct {
	Confirmed   bool
	Reservation *domain.Reservation
}

// ConfirmHold use case turns a temporary reservation into a booked one.
type ConfirmHold struct {
	store  domain.Store
	locker domain.ItemLocker
	kind   string
	logger *zap.Logger
}

// NewConfirmHold creates a new ConfirmHold use case for reservations of kind
func NewConfirmHold(store domain.Store, locker domain.ItemLocker, kind string, logger *zap.Logger) *ConfirmHold {
	return &ConfirmHold{
		store:  store,
		locker: locker,
		kind:   kind,
		logger: logger,
	}
}

// Execute confirms the hold. Confirming an already confirmed hold succeeds
// without writing. With no hold the transaction is rolled back and
// Confirmed is false.
func (uc *ConfirmHold) Execute(ctx context.Context, cmd *ConfirmHoldCommand) (*ConfirmHoldResponse, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "confirm_hold",
		trace.WithAttributes(attribute.String("transaction_id", cmd.TransactionID.String())),
	)
	defer span.End()

	outcome := outcomeError
	defer func() { recordOperation(ctx, "confirm_hold", outcome, start) }()

	uow, err := begin(ctx, uc.store, uc.logger)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer uow.end()

	found, err := uow.tx.FindReservation(ctx, uc.kind, cmd.TransactionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if found == nil {
		outcome = outcomeRejected
		return &ConfirmHoldResponse{}, nil
	}

	reservation, err := uow.lockReservation(ctx, uc.locker, found)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if reservation == nil {
		outcome = outcomeRejected
		return &ConfirmHoldResponse{}, nil
	}

	if reservation.Confirm() {
		if err := uow.tx.UpdateReservation(ctx, reservation); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}
	if err := uow.tx.Commit(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	outcome = outcomeAccepted
	span.SetAttributes(attribute.Int64("item_id", reservation.ItemID))
	return &ConfirmHoldResponse{Confirmed: true, Reservation: reservation}, nil
}
