package application

import (
	"context"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/domain"
	"github.com/VeryGoodTravel/vgt-saga-flight/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Clock returns the current time. Reservation timestamps and reply dates
// come from it so tests can pin them.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// Outcome labels reservation operation metrics.
const (
	outcomeAccepted = "accepted"
	outcomeRejected = "rejected"
	outcomeReplayed = "replayed"
	outcomeNoop     = "noop"
	outcomeError    = "error"
)

// recordOperation emits the counter and duration histogram shared by every
// reservation use case.
func recordOperation(ctx context.Context, operation, outcome string, start time.Time) {
	telemetry.RecordCounter(ctx, "reservation_operations_total", "Total reservation operations", 1,
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
	telemetry.RecordHistogram(ctx, "reservation_operation_duration_seconds", "Reservation operation duration", time.Since(start).Seconds(),
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)
}

// unitOfWork is one storage transaction plus the item locks taken inside it.
// end rolls back whatever was not committed and only then drops the locks.
type unitOfWork struct {
	tx      domain.Tx
	logger  *zap.Logger
	unlocks []func()
}

func begin(ctx context.Context, store domain.Store, logger *zap.Logger) (*unitOfWork, error) {
	tx, err := store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &unitOfWork{tx: tx, logger: logger}, nil
}

// lock takes the item lock and keeps it until end.
func (u *unitOfWork) lock(ctx context.Context, locker domain.ItemLocker, itemID int64) error {
	unlock, err := locker.Lock(ctx, itemID)
	if err != nil {
		return errors.Wrapf(err, "failed to lock item %d", itemID)
	}
	u.unlocks = append(u.unlocks, unlock)
	return nil
}

// unlockLast drops the most recent lock early. Only valid before anything
// was written under it.
func (u *unitOfWork) unlockLast() {
	n := len(u.unlocks)
	if n == 0 {
		return
	}
	u.unlocks[n-1]()
	u.unlocks = u.unlocks[:n-1]
}

func (u *unitOfWork) end() {
	if err := u.tx.Rollback(); err != nil {
		u.logger.Warn("failed to roll back inventory transaction", zap.Error(err))
	}
	for i := len(u.unlocks) - 1; i >= 0; i-- {
		u.unlocks[i]()
	}
	u.unlocks = nil
}

// lockReservation takes the item lock covering r and re-reads r under it.
// It returns nil when r vanished in between.
func (u *unitOfWork) lockReservation(ctx context.Context, locker domain.ItemLocker, r *domain.Reservation) (*domain.Reservation, error) {
	if err := u.lock(ctx, locker, r.ItemID); err != nil {
		return nil, err
	}
	return u.tx.FindReservation(ctx, r.Kind, r.TransactionID)
}
