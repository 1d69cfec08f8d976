package saga

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Body is the payload of a Message. Each MessageType legalizes exactly one
// implementation.
type Body interface {
	MessageType() MessageType
}

// OrderRequestBody is sent by the order front end to start a saga.
type OrderRequestBody struct{}

// OrderReplyBody acknowledges an order-level step.
type OrderReplyBody struct{}

// PaymentRequestBody asks the payment participant to charge the saga.
type PaymentRequestBody struct{}

// PaymentReplyBody carries the payment participant's answer.
type PaymentReplyBody struct{}

// FlightRequestBody describes the seats a saga wants held.
type FlightRequestBody struct {
	CityFrom       string     `json:"CityFrom"`
	CityTo         string     `json:"CityTo"`
	BookFrom       *time.Time `json:"BookFrom"`
	BookTo         *time.Time `json:"BookTo"`
	PassengerCount *int       `json:"PassangerCount"`
}

// FlightReplyBody is the flight participant's reply.
type FlightReplyBody struct{}

// HotelRequestBody describes the rooms a saga wants held.
type HotelRequestBody struct {
	City      string     `json:"City"`
	HotelName string     `json:"HotelName,omitempty"`
	RoomType  string     `json:"RoomType,omitempty"`
	BookFrom  *time.Time `json:"BookFrom"`
	BookTo    *time.Time `json:"BookTo"`
	RoomCount *int       `json:"RoomCount"`
}

// HotelReplyBody is the hotel participant's reply.
type HotelReplyBody struct{}

func (*OrderRequestBody) MessageType() MessageType   { return MessageTypeOrderRequest }
func (*OrderReplyBody) MessageType() MessageType     { return MessageTypeOrderReply }
func (*PaymentRequestBody) MessageType() MessageType { return MessageTypePaymentRequest }
func (*PaymentReplyBody) MessageType() MessageType   { return MessageTypePaymentReply }
func (*FlightRequestBody) MessageType() MessageType  { return MessageTypeFlightRequest }
func (*FlightReplyBody) MessageType() MessageType    { return MessageTypeFlightReply }
func (*HotelRequestBody) MessageType() MessageType   { return MessageTypeHotelRequest }
func (*HotelReplyBody) MessageType() MessageType     { return MessageTypeHotelReply }

// NewBody returns an empty body of the variant legalized by t.
func NewBody(t MessageType) (Body, error) {
	switch t {
	case MessageTypeOrderRequest:
		return &OrderRequestBody{}, nil
	case MessageTypeOrderReply:
		return &OrderReplyBody{}, nil
	case MessageTypePaymentRequest:
		return &PaymentRequestBody{}, nil
	case MessageTypePaymentReply:
		return &PaymentReplyBody{}, nil
	case MessageTypeFlightRequest:
		return &FlightRequestBody{}, nil
	case MessageTypeFlightReply:
		return &FlightReplyBody{}, nil
	case MessageTypeHotelRequest:
		return &HotelRequestBody{}, nil
	case MessageTypeHotelReply:
		return &HotelReplyBody{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, int(t))
	}
}

func decodeBody(t MessageType, raw json.RawMessage) (Body, error) {
	body, err := NewBody(t)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	if err := json.Unmarshal(trimmed, body); err != nil {
		return nil, fmt.Errorf("%w: decode %s body: %v", ErrUnexpectedMessage, t, err)
	}
	return body, nil
}
