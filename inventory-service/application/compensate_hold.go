package application

import (
	"context"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/domain"
	"github.com/VeryGoodTravel/vgt-saga-flight/shared/telemetry"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CompensateHoldCommand releases whatever a saga transaction holds.
type CompensateHoldCommand struct {
	TransactionID uuid.UUID
}

// CompensateHoldResponse reports what was given back. Released is false
// when there was nothing to release.
type CompensateHoldResponse struct {
	Released bool
	ItemID   int64
	Units    int
}

// CompensateHold use case undoes a hold, temporary or confirmed.
type CompensateHold struct {
	store  domain.Store
	locker domain.ItemLocker
	kind   string
	logger *zap.Logger
}

// NewCompensateHold creates a new CompensateHold use case for reservations
// of kind
func NewCompensateHold(store domain.Store, locker domain.ItemLocker, kind string, logger *zap.Logger) *CompensateHold {
	return &CompensateHold{
		store:  store,
		locker: locker,
		kind:   kind,
		logger: logger,
	}
}

// Execute restores the reserved units and deletes the reservation. It is
// idempotent: a second call finds nothing and changes nothing.
func (uc *CompensateHold) Execute(ctx context.Context, cmd *CompensateHoldCommand) (*CompensateHoldResponse, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "compensate_hold",
		trace.WithAttributes(attribute.String("transaction_id", cmd.TransactionID.String())),
	)
	defer span.End()

	outcome := outcomeError
	defer func() { recordOperation(ctx, "compensate_hold", outcome, start) }()

	res, err := release(ctx, uc.store, uc.locker, uc.logger, uc.kind, cmd.TransactionID, nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	outcome = outcomeNoop
	if res.Released {
		outcome = outcomeAccepted
	}
	return res, nil
}

// release gives the reservation kind holds for a transaction back to its
// item in one storage transaction. keep, when set, is consulted under the item lock and can veto
// the release.
func release(
	ctx context.Context,
	store domain.Store,
	locker domain.ItemLocker,
	logger *zap.Logger,
	kind string,
	transactionID uuid.UUID,
	keep func(*domain.Reservation) bool,
) (*CompensateHoldResponse, error) {
	uow, err := begin(ctx, store, logger)
	if err != nil {
		return nil, err
	}
	defer uow.end()

	found, err := uow.tx.FindReservation(ctx, kind, transactionID)
	if err != nil {
		return nil, err
	}
	if found == nil {
		if err := uow.tx.Commit(); err != nil {
			return nil, err
		}
		return &CompensateHoldResponse{}, nil
	}

	reservation, err := uow.lockReservation(ctx, locker, found)
	if err != nil {
		return nil, err
	}
	if reservation == nil {
		if err := uow.tx.Commit(); err != nil {
			return nil, err
		}
		return &CompensateHoldResponse{}, nil
	}

	if keep != nil && keep(reservation) {
		return &CompensateHoldResponse{}, nil
	}

	item, err := uow.tx.LockItem(ctx, reservation.ItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, errors.Errorf("item %d of reservation %d not found", reservation.ItemID, reservation.ID)
	}

	item.Release(reservation.Amount)
	if err := uow.tx.UpdateItemAmount(ctx, item); err != nil {
		return nil, err
	}
	if err := uow.tx.DeleteReservation(ctx, reservation.ID); err != nil {
		return nil, err
	}
	if err := uow.tx.Commit(); err != nil {
		return nil, err
	}

	logger.Debug("hold released",
		zap.String("transaction_id", transactionID.String()),
		zap.Int64("item_id", item.ID),
		zap.Int("units", reservation.Amount),
		zap.Bool("temporary", reservation.Temporary),
	)
	return &CompensateHoldResponse{Released: true, ItemID: item.ID, Units: reservation.Amount}, nil
}
