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

// TentativeHoldCommand asks for units of capacity matching Query to be held
// for a saga transaction.
type TentativeHoldCommand struct {
	TransactionID uuid.UUID
	Query         domain.Query
}

// TentativeHoldResponse reports whether the hold was placed.
type TentativeHoldResponse struct {
	Accepted    bool
	Replayed    bool
	Reservation *domain.Reservation
}

// TentativeHold use case places a temporary reservation on the first item
// that still fits, in the order chosen by the selection policy.
type TentativeHold struct {
	store     domain.Store
	locker    domain.ItemLocker
	evaluator domain.Evaluator
	policy    domain.SelectionPolicy
	now       Clock
	logger    *zap.Logger
}

// NewTentativeHold creates a new TentativeHold use case
func NewTentativeHold(
	store domain.Store,
	locker domain.ItemLocker,
	evaluator domain.Evaluator,
	policy domain.SelectionPolicy,
	now Clock,
	logger *zap.Logger,
) *TentativeHold {
	return &TentativeHold{
		store:     store,
		locker:    locker,
		evaluator: evaluator,
		policy:    policy,
		now:       now,
		logger:    logger,
	}
}

// Execute runs the hold in a single storage transaction. A business
// rejection is a response with Accepted false; an error means nothing was
// applied and the caller decides about retries.
func (uc *TentativeHold) Execute(ctx context.Context, cmd *TentativeHoldCommand) (*TentativeHoldResponse, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "tentative_hold",
		trace.WithAttributes(
			attribute.String("transaction_id", cmd.TransactionID.String()),
			attribute.String("kind", cmd.Query.Kind),
			attribute.String("origin", cmd.Query.Origin),
			attribute.String("destination", cmd.Query.Destination),
			attribute.Int("units", cmd.Query.Units),
		),
	)
	defer span.End()

	outcome := outcomeError
	defer func() { recordOperation(ctx, "tentative_hold", outcome, start) }()

	if cmd.Query.Units <= 0 {
		outcome = outcomeRejected
		return &TentativeHoldResponse{}, nil
	}

	decision, err := uc.evaluator.Evaluate(ctx, domain.Evaluation{TransactionID: cmd.TransactionID, Query: cmd.Query})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if decision == domain.DecisionReject {
		outcome = outcomeRejected
		return &TentativeHoldResponse{}, nil
	}

	uow, err := begin(ctx, uc.store, uc.logger)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer uow.end()

	existing, err := uow.tx.FindReservation(ctx, cmd.Query.Kind, cmd.TransactionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if existing != nil {
		// Redelivered Begin: the hold is already in place.
		if err := uow.tx.Commit(); err != nil {
			span.RecordError(err)
			return nil, err
		}
		outcome = outcomeReplayed
		return &TentativeHoldResponse{Accepted: true, Replayed: true, Reservation: existing}, nil
	}

	candidates, err := uow.tx.FindItems(ctx, cmd.Query)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("candidates", len(candidates)))

	for _, candidate := range uc.policy.Rank(candidates) {
		reservation, replayed, err := uc.holdOn(ctx, uow, candidate.ID, cmd)
		if errors.Is(err, domain.ErrDuplicateReservation) {
			// A concurrent Begin for the same transaction won on another item.
			uow.end()
			reservation, err = uc.heldElsewhere(ctx, cmd)
			replayed = true
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if reservation == nil {
			continue
		}

		span.SetAttributes(attribute.Int64("item_id", reservation.ItemID))
		if replayed {
			outcome = outcomeReplayed
			return &TentativeHoldResponse{Accepted: true, Replayed: true, Reservation: reservation}, nil
		}
		outcome = outcomeAccepted
		return &TentativeHoldResponse{Accepted: true, Reservation: reservation}, nil
	}

	outcome = outcomeRejected
	return &TentativeHoldResponse{}, nil
}

// holdOn locks one candidate, re-checks it and, if it still fits, reserves
// and commits. The lock is kept until the unit of work ends. It returns nil
// when the candidate filled up in the meantime, and replayed when a
// duplicate Begin committed the hold while this one waited for the lock.
func (uc *TentativeHold) holdOn(ctx context.Context, uow *unitOfWork, itemID int64, cmd *TentativeHoldCommand) (*domain.Reservation, bool, error) {
	if err := uow.lock(ctx, uc.locker, itemID); err != nil {
		return nil, false, err
	}

	item, err := uow.tx.LockItem(ctx, itemID)
	if err != nil {
		return nil, false, err
	}

	existing, err := uow.tx.FindReservation(ctx, cmd.Query.Kind, cmd.TransactionID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if err := uow.tx.Commit(); err != nil {
			return nil, false, err
		}
		return existing, true, nil
	}

	if item == nil || !item.Fits(cmd.Query.Units) {
		uow.unlockLast()
		return nil, false, nil
	}

	if err := item.Reserve(cmd.Query.Units); err != nil {
		return nil, false, err
	}
	if err := uow.tx.UpdateItemAmount(ctx, item); err != nil {
		return nil, false, err
	}

	reservation := domain.NewReservation(cmd.Query.Kind, cmd.TransactionID, item.ID, cmd.Query.Units, uc.now())
	if err := uow.tx.InsertReservation(ctx, reservation); err != nil {
		return nil, false, err
	}
	if err := uow.tx.Commit(); err != nil {
		return nil, false, err
	}

	uc.logger.Debug("tentative hold placed",
		zap.String("transaction_id", cmd.TransactionID.String()),
		zap.Int64("item_id", item.ID),
		zap.Int("units", cmd.Query.Units),
		zap.Int("remaining", item.Amount),
	)
	return reservation, false, nil
}

// heldElsewhere reads back the reservation that beat this hold to the
// per-transaction uniqueness check.
func (uc *TentativeHold) heldElsewhere(ctx context.Context, cmd *TentativeHoldCommand) (*domain.Reservation, error) {
	existing, err := uc.store.FindReservation(ctx, cmd.Query.Kind, cmd.TransactionID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, errors.Errorf("duplicate hold for transaction %s vanished", cmd.TransactionID)
	}
	return existing, nil
}
