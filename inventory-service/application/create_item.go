package application

import (
	"context"
	"strings"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/domain"
	"github.com/VeryGoodTravel/vgt-saga-flight/shared/telemetry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrInvalidItem is returned for item commands that fail validation.
var ErrInvalidItem = errors.New("invalid item")

// CreateItemCommand adds capacity to the inventory.
type CreateItemCommand struct {
	Origin      string    `json:"origin"`
	Destination string    `json:"destination"`
	StartsAt    time.Time `json:"starts_at"`
	Amount      int       `json:"amount"`
}

// CreateItem use case registers a new inventory item for this participant.
type CreateItem struct {
	store  domain.Store
	kind   string
	logger *zap.Logger
}

// NewCreateItem creates a new CreateItem use case for items of kind.
func NewCreateItem(store domain.Store, kind string, logger *zap.Logger) *CreateItem {
	return &CreateItem{store: store, kind: kind, logger: logger}
}

// Execute validates and stores the item.
func (uc *CreateItem) Execute(ctx context.Context, cmd *CreateItemCommand) (*domain.Item, error) {
	ctx, span := telemetry.StartSpan(ctx, "create_item",
		trace.WithAttributes(
			attribute.String("kind", uc.kind),
			attribute.String("origin", cmd.Origin),
			attribute.Int("amount", cmd.Amount),
		),
	)
	defer span.End()

	if err := uc.validateCommand(cmd); err != nil {
		span.RecordError(err)
		return nil, err
	}

	item := &domain.Item{
		Kind:        uc.kind,
		Origin:      strings.TrimSpace(cmd.Origin),
		Destination: strings.TrimSpace(cmd.Destination),
		StartsAt:    cmd.StartsAt.UTC(),
		Amount:      cmd.Amount,
	}

	uow, err := begin(ctx, uc.store, uc.logger)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer uow.end()

	if err := uow.tx.InsertItem(ctx, item); err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := uow.tx.Commit(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Int64("item_id", item.ID))
	return item, nil
}

func (uc *CreateItem) validateCommand(cmd *CreateItemCommand) error {
	if strings.TrimSpace(cmd.Origin) == "" {
		return errors.Wrap(ErrInvalidItem, "origin is required")
	}
	if cmd.StartsAt.IsZero() {
		return errors.Wrap(ErrInvalidItem, "starts_at is required")
	}
	if cmd.Amount < 0 {
		return errors.Wrap(ErrInvalidItem, "amount must not be negative")
	}
	return nil
}
