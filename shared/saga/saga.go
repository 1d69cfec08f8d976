package saga

import (
	"context"
	"fmt"
	"time"
)

// Route is the unit of work a participant runs for an inbound State.
type Route int

const (
	RouteNone Route = iota
	RouteTentativeHold
	RouteConfirm
	RouteCompensateTimed
	RouteCompensateFull
)

func (r Route) String() string {
	switch r {
	case RouteTentativeHold:
		return "tentative_hold"
	case RouteConfirm:
		return "confirm"
	case RouteCompensateTimed:
		return "compensate_timed"
	case RouteCompensateFull:
		return "compensate_full"
	default:
		return "none"
	}
}

// Participant maps the generic stages of the reservation protocol onto the
// concrete states and message types of one saga participant.
type Participant struct {
	Name          string
	Request       MessageType
	Reply         MessageType
	TimedAccept   State
	TimedFail     State
	TimedRollback State
	FullAccept    State
	FullFail      State
	FullRollback  State
}

var (
	Flight = Participant{
		Name:          "flight",
		Request:       MessageTypeFlightRequest,
		Reply:         MessageTypeFlightReply,
		TimedAccept:   StateFlightTimedAccept,
		TimedFail:     StateFlightTimedFail,
		TimedRollback: StateFlightTimedRollback,
		FullAccept:    StateFlightFullAccept,
		FullFail:      StateFlightFullFail,
		FullRollback:  StateFlightFullRollback,
	}

	Hotel = Participant{
		Name:          "hotel",
		Request:       MessageTypeHotelRequest,
		Reply:         MessageTypeHotelReply,
		TimedAccept:   StateHotelTimedAccept,
		TimedFail:     StateHotelTimedFail,
		TimedRollback: StateHotelTimedRollback,
		FullAccept:    StateHotelFullAccept,
		FullFail:      StateHotelFullFail,
		FullRollback:  StateHotelFullRollback,
	}
)

// ParticipantByName looks up one of the known participants.
func ParticipantByName(name string) (Participant, error) {
	switch name {
	case Flight.Name:
		return Flight, nil
	case Hotel.Name:
		return Hotel, nil
	default:
		return Participant{}, fmt.Errorf("unknown saga participant %q", name)
	}
}

// Route classifies an inbound state. States this participant does not act on
// map to RouteNone.
func (p Participant) Route(state State) Route {
	switch state {
	case StateBegin:
		return RouteTentativeHold
	case StatePaymentAccept:
		return RouteConfirm
	case StatePaymentFailed, p.TimedRollback:
		return RouteCompensateTimed
	case p.FullRollback:
		return RouteCompensateFull
	default:
		return RouteNone
	}
}

// HoldAccepted builds the reply for a successful tentative hold. It is handed
// on to the payment stage.
func (p Participant) HoldAccepted(in Message, at MessageClock) Message {
	return in.Reply(MessageTypePaymentRequest, p.TimedAccept, &PaymentRequestBody{}, at())
}

// HoldRejected builds the reply for a failed tentative hold.
func (p Participant) HoldRejected(in Message, at MessageClock) Message {
	return in.Reply(MessageTypePaymentRequest, p.TimedFail, &PaymentRequestBody{}, at())
}

// Confirmed builds the reply for a confirmed hold.
func (p Participant) Confirmed(in Message, at MessageClock) Message {
	return in.Reply(p.Reply, p.FullAccept, p.replyBody(), at())
}

// ConfirmFailed builds the reply for a confirm that found no hold.
func (p Participant) ConfirmFailed(in Message, at MessageClock) Message {
	return in.Reply(p.Reply, p.FullFail, p.replyBody(), at())
}

// Compensated acknowledges a compensation request. The acknowledged state
// follows the route that requested it.
func (p Participant) Compensated(in Message, route Route, at MessageClock) Message {
	state := p.TimedRollback
	if route == RouteCompensateFull {
		state = p.FullRollback
	}
	return in.Reply(p.Reply, state, p.replyBody(), at())
}

func (p Participant) replyBody() Body {
	body, err := NewBody(p.Reply)
	if err != nil {
		return nil
	}
	return body
}

// MessageClock stamps CreationDate on replies.
type MessageClock func() time.Time

// Publisher sends saga messages to the bus.
type Publisher interface {
	Publish(ctx context.Context, msgs ...Message) error
}
