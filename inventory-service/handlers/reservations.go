package handlers

import (
	"context"
	"strings"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/application"
	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/domain"
	"github.com/VeryGoodTravel/vgt-saga-flight/shared/saga"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ReservationHandler is the unit of work the dispatcher runs per routed
// message. Business outcomes come back as replies; an error is either a
// protocol fault wrapping a saga sentinel or an infrastructure fault.
type ReservationHandler interface {
	TentativeHold(ctx context.Context, msg saga.Message) (saga.Message, error)
	Confirm(ctx context.Context, msg saga.Message) (saga.Message, error)
	Compensate(ctx context.Context, msg saga.Message, route saga.Route) (saga.Message, error)
}

var _ ReservationHandler = (*ReservationHandlers)(nil)

// ReservationHandlers translates saga messages of one participant into
// reservation use cases and their outcomes back into replies.
type ReservationHandlers struct {
	participant saga.Participant
	hold        *application.TentativeHold
	confirm     *application.ConfirmHold
	compensate  *application.CompensateHold
	now         saga.MessageClock
	logger      *zap.Logger
}

// NewReservationHandlers creates new reservation handlers
func NewReservationHandlers(
	participant saga.Participant,
	hold *application.TentativeHold,
	confirm *application.ConfirmHold,
	compensate *application.CompensateHold,
	now saga.MessageClock,
	logger *zap.Logger,
) *ReservationHandlers {
	return &ReservationHandlers{
		participant: participant,
		hold:        hold,
		confirm:     confirm,
		compensate:  compensate,
		now:         now,
		logger:      logger,
	}
}

// TentativeHold handles Begin.
func (h *ReservationHandlers) TentativeHold(ctx context.Context, msg saga.Message) (saga.Message, error) {
	query, err := h.queryFrom(msg)
	if err != nil {
		return saga.Message{}, err
	}

	res, err := h.hold.Execute(ctx, &application.TentativeHoldCommand{
		TransactionID: msg.TransactionId,
		Query:         query,
	})
	if err != nil {
		return saga.Message{}, err
	}

	if !res.Accepted {
		return h.participant.HoldRejected(msg, h.now), nil
	}
	return h.participant.HoldAccepted(msg, h.now), nil
}

// Confirm handles PaymentAccept.
func (h *ReservationHandlers) Confirm(ctx context.Context, msg saga.Message) (saga.Message, error) {
	if err := msg.Validate(); err != nil {
		return saga.Message{}, err
	}

	res, err := h.confirm.Execute(ctx, &application.ConfirmHoldCommand{TransactionID: msg.TransactionId})
	if err != nil {
		return saga.Message{}, err
	}

	if !res.Confirmed {
		return h.participant.ConfirmFailed(msg, h.now), nil
	}
	return h.participant.Confirmed(msg, h.now), nil
}

// Compensate handles PaymentFailed and both rollback requests. It is
// acknowledged whether or not there was anything to release.
func (h *ReservationHandlers) Compensate(ctx context.Context, msg saga.Message, route saga.Route) (saga.Message, error) {
	if err := msg.Validate(); err != nil {
		return saga.Message{}, err
	}
	if route != saga.RouteCompensateTimed && route != saga.RouteCompensateFull {
		return saga.Message{}, errors.Wrapf(saga.ErrUnexpectedMessage, "%s is not a compensation", route)
	}

	if _, err := h.compensate.Execute(ctx, &application.CompensateHoldCommand{TransactionID: msg.TransactionId}); err != nil {
		return saga.Message{}, err
	}
	return h.participant.Compensated(msg, route, h.now), nil
}

// queryFrom extracts the hold query from a Begin request. Anything but a
// complete request body of this participant is a protocol fault.
//
// Items are matched on the BookFrom day only: a flight leg departs that day
// and a hotel item is a room pool for stays checking in that day. BookTo
// (return flight or check-out) and RoomType are carried for the orchestrator
// and only checked for consistency.
func (h *ReservationHandlers) queryFrom(msg saga.Message) (domain.Query, error) {
	if err := msg.Validate(); err != nil {
		return domain.Query{}, err
	}
	if msg.MessageType != h.participant.Request || msg.Body == nil {
		return domain.Query{}, errors.Wrapf(saga.ErrUnexpectedMessage, "%s cannot start a %s hold", msg.MessageType, h.participant.Name)
	}

	switch body := msg.Body.(type) {
	case *saga.FlightRequestBody:
		if strings.TrimSpace(body.CityFrom) == "" || strings.TrimSpace(body.CityTo) == "" {
			return domain.Query{}, errors.Wrap(saga.ErrUnexpectedMessage, "flight request without cities")
		}
		return h.query(msg, body.CityFrom, body.CityTo, body.BookFrom, body.BookTo, body.PassengerCount)
	case *saga.HotelRequestBody:
		if strings.TrimSpace(body.City) == "" {
			return domain.Query{}, errors.Wrap(saga.ErrUnexpectedMessage, "hotel request without city")
		}
		if body.RoomType != "" {
			h.logger.Debug("room type is not part of hotel inventory, holding any room",
				zap.String("transaction_id", msg.TransactionId.String()),
				zap.String("room_type", body.RoomType),
			)
		}
		return h.query(msg, body.City, body.HotelName, body.BookFrom, body.BookTo, body.RoomCount)
	default:
		return domain.Query{}, errors.Wrapf(saga.ErrUnexpectedMessage, "no hold query in %s body", msg.MessageType)
	}
}

func (h *ReservationHandlers) query(msg saga.Message, origin, destination string, from, to *time.Time, units *int) (domain.Query, error) {
	if from == nil {
		return domain.Query{}, errors.Wrap(saga.ErrUnexpectedMessage, "request without BookFrom")
	}
	if to != nil && to.Before(*from) {
		return domain.Query{}, errors.Wrapf(saga.ErrUnexpectedMessage, "%s request with BookTo before BookFrom", msg.MessageType)
	}
	if units == nil {
		return domain.Query{}, errors.Wrap(saga.ErrUnexpectedMessage, "request without unit count")
	}

	return domain.Query{
		Kind:        h.participant.Name,
		Origin:      strings.TrimSpace(origin),
		Destination: strings.TrimSpace(destination),
		Day:         *from,
		Units:       *units,
	}, nil
}
