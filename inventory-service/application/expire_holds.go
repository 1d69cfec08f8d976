package application

import (
	"context"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/domain"
	"github.com/VeryGoodTravel/vgt-saga-flight/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultExpiryBatch = 100

// ExpireHoldsCommand releases temporary holds older than TTL.
type ExpireHoldsCommand struct {
	TTL       time.Duration
	BatchSize int
}

// ExpireHoldsResponse counts the holds that were released.
type ExpireHoldsResponse struct {
	Expired int
}

// ExpireHolds use case gives back capacity of sagas that never came back to
// confirm or compensate.
type ExpireHolds struct {
	store  domain.Store
	locker domain.ItemLocker
	kind   string
	now    Clock
	logger *zap.Logger
}

// NewExpireHolds creates a new ExpireHolds use case for reservations of kind
func NewExpireHolds(store domain.Store, locker domain.ItemLocker, kind string, now Clock, logger *zap.Logger) *ExpireHolds {
	return &ExpireHolds{
		store:  store,
		locker: locker,
		kind:   kind,
		now:    now,
		logger: logger,
	}
}

// Execute releases one batch of expired holds, each in its own transaction.
// A hold confirmed after it was listed is left alone.
func (uc *ExpireHolds) Execute(ctx context.Context, cmd *ExpireHoldsCommand) (*ExpireHoldsResponse, error) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "expire_holds",
		trace.WithAttributes(attribute.String("ttl", cmd.TTL.String())),
	)
	defer span.End()

	outcome := outcomeError
	defer func() { recordOperation(ctx, "expire_holds", outcome, start) }()

	if cmd.TTL <= 0 {
		return nil, errors.New("hold TTL must be positive")
	}
	batch := cmd.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}

	cutoff := uc.now().Add(-cmd.TTL)
	expired, err := uc.store.FindExpiredReservations(ctx, uc.kind, cutoff, batch)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	stillValid := func(r *domain.Reservation) bool {
		return !r.Temporary || !r.TemporaryAt.Before(cutoff)
	}

	released := 0
	for _, r := range expired {
		res, err := release(ctx, uc.store, uc.locker, uc.logger, uc.kind, r.TransactionID, stillValid)
		if err != nil {
			span.RecordError(err)
			return &ExpireHoldsResponse{Expired: released}, err
		}
		if res.Released {
			released++
			uc.logger.Info("expired tentative hold",
				zap.String("transaction_id", r.TransactionID.String()),
				zap.Int64("item_id", res.ItemID),
				zap.Int("units", res.Units),
			)
		}
	}

	outcome = outcomeNoop
	if released > 0 {
		outcome = outcomeAccepted
	}
	span.SetAttributes(attribute.Int("expired", released))
	return &ExpireHoldsResponse{Expired: released}, nil
}
