package saga

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownMessageType is returned when a message carries a discriminator
	// outside the closed MessageType set.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrUnexpectedMessage marks protocol faults: a message that is well formed
	// on the wire but cannot be processed in the state it arrived in.
	ErrUnexpectedMessage = errors.New("unexpected message")
)

// MessageType selects which Body variant a message carries.
type MessageType int

const (
	MessageTypeOrderRequest MessageType = iota
	MessageTypeOrderReply
	MessageTypePaymentRequest
	MessageTypePaymentReply
	MessageTypeHotelRequest
	MessageTypeHotelReply
	MessageTypeFlightRequest
	MessageTypeFlightReply
)

var messageTypeNames = map[MessageType]string{
	MessageTypeOrderRequest:   "OrderRequest",
	MessageTypeOrderReply:     "OrderReply",
	MessageTypePaymentRequest: "PaymentRequest",
	MessageTypePaymentReply:   "PaymentReply",
	MessageTypeHotelRequest:   "HotelRequest",
	MessageTypeHotelReply:     "HotelReply",
	MessageTypeFlightRequest:  "FlightRequest",
	MessageTypeFlightReply:    "FlightReply",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// Valid reports whether t is one of the known message types.
func (t MessageType) Valid() bool {
	_, ok := messageTypeNames[t]
	return ok
}

// State is the saga stage a message reports or requests.
type State int

const (
	StateBegin State = iota
	StatePaymentAccept
	StatePaymentFailed
	StateHotelTimedAccept
	StateHotelTimedFail
	StateHotelTimedRollback
	StateHotelFullAccept
	StateHotelFullFail
	StateHotelFullRollback
	StateFlightTimedAccept
	StateFlightTimedFail
	StateFlightTimedRollback
	StateFlightFullAccept
	StateFlightFullFail
	StateFlightFullRollback
)

var stateNames = map[State]string{
	StateBegin:               "Begin",
	StatePaymentAccept:       "PaymentAccept",
	StatePaymentFailed:       "PaymentFailed",
	StateHotelTimedAccept:    "HotelTimedAccept",
	StateHotelTimedFail:      "HotelTimedFail",
	StateHotelTimedRollback:  "HotelTimedRollback",
	StateHotelFullAccept:     "HotelFullAccept",
	StateHotelFullFail:       "HotelFullFail",
	StateHotelFullRollback:   "HotelFullRollback",
	StateFlightTimedAccept:   "FlightTimedAccept",
	StateFlightTimedFail:     "FlightTimedFail",
	StateFlightTimedRollback: "FlightTimedRollback",
	StateFlightFullAccept:    "FlightFullAccept",
	StateFlightFullFail:      "FlightFullFail",
	StateFlightFullRollback:  "FlightFullRollback",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Message is the saga envelope exchanged between the orchestrator and the
// participants. TransactionId identifies the saga instance for its whole
// lifetime; MessageId grows by one with every reply.
type Message struct {
	TransactionId uuid.UUID
	MessageId     int
	MessageType   MessageType
	State         State
	Body          Body
	CreationDate  time.Time
}

type wireMessage struct {
	TransactionId uuid.UUID       `json:"TransactionId"`
	MessageId     int             `json:"MessageId"`
	MessageType   MessageType     `json:"MessageType"`
	State         State           `json:"State"`
	Body          json.RawMessage `json:"Body"`
	CreationDate  time.Time       `json:"CreationDate"`
}

// MarshalJSON encodes the message with its body inline.
func (m Message) MarshalJSON() ([]byte, error) {
	body := json.RawMessage("null")
	if m.Body != nil {
		raw, err := json.Marshal(m.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal %s body: %w", m.MessageType, err)
		}
		body = raw
	}

	return json.Marshal(wireMessage{
		TransactionId: m.TransactionId,
		MessageId:     m.MessageId,
		MessageType:   m.MessageType,
		State:         m.State,
		Body:          body,
		CreationDate:  m.CreationDate,
	})
}

// UnmarshalJSON decodes the envelope and then the body variant selected by
// MessageType. A null or missing body leaves Body nil.
func (m *Message) UnmarshalJSON(data []byte) error {
	var wire wireMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	body, err := decodeBody(wire.MessageType, wire.Body)
	if err != nil {
		return err
	}

	*m = Message{
		TransactionId: wire.TransactionId,
		MessageId:     wire.MessageId,
		MessageType:   wire.MessageType,
		State:         wire.State,
		Body:          body,
		CreationDate:  wire.CreationDate,
	}
	return nil
}

// Decode parses a wire payload into a Message.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode saga message: %w", err)
	}
	return msg, nil
}

// Encode renders a Message in its wire form.
func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Validate checks that MessageType is known and that a present body is the
// variant MessageType selects.
func (m Message) Validate() error {
	if !m.MessageType.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownMessageType, int(m.MessageType))
	}
	if m.Body != nil && m.Body.MessageType() != m.MessageType {
		return fmt.Errorf("%w: %s message carries %s body", ErrUnexpectedMessage, m.MessageType, m.Body.MessageType())
	}
	return nil
}

// Reply derives the next message of the saga from m. The reply keeps the
// TransactionId, increments MessageId and replaces type, state and body.
// m itself is left untouched.
func (m Message) Reply(messageType MessageType, state State, body Body, at time.Time) Message {
	reply := m
	reply.MessageId = m.MessageId + 1
	reply.MessageType = messageType
	reply.State = state
	reply.Body = body
	reply.CreationDate = at
	return reply
}
