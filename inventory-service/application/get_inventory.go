package application

import (
	"context"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/domain"
	"github.com/VeryGoodTravel/vgt-saga-flight/shared/telemetry"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrItemNotFound        = errors.New("item not found")
	ErrReservationNotFound = errors.New("reservation not found")
)

// GetInventory use case serves read-only lookups of items and reservations
// of one kind.
type GetInventory struct {
	store domain.Store
	kind  string
}

// NewGetInventory creates a new GetInventory use case
func NewGetInventory(store domain.Store, kind string) *GetInventory {
	return &GetInventory{store: store, kind: kind}
}

// Item returns one inventory item. Items of other kinds are not found.
func (uc *GetInventory) Item(ctx context.Context, id int64) (*domain.Item, error) {
	ctx, span := telemetry.StartSpan(ctx, "get_item",
		trace.WithAttributes(attribute.Int64("item_id", id)),
	)
	defer span.End()

	item, err := uc.store.FindItem(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if item == nil || item.Kind != uc.kind {
		return nil, ErrItemNotFound
	}
	return item, nil
}

// Reservation returns the hold of a saga transaction.
func (uc *GetInventory) Reservation(ctx context.Context, transactionID uuid.UUID) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "get_reservation",
		trace.WithAttributes(attribute.String("transaction_id", transactionID.String())),
	)
	defer span.End()

	reservation, err := uc.store.FindReservation(ctx, uc.kind, transactionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if reservation == nil {
		return nil, ErrReservationNotFound
	}
	return reservation, nil
}
