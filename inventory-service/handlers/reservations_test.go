package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/application"
	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/domain"
	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/infrastructure"
	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/infrastructure/storetest"
	"github.com/VeryGoodTravel/vgt-saga-flight/shared/saga"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	departure = time.Date(2024, 6, 1, 14, 30, 0, 0, time.UTC)
	repliedAt = time.Date(2024, 5, 20, 10, 0, 5, 0, time.UTC)
)

type participantFixture struct {
	store    *infrastructure.SQLInventoryStore
	handlers *ReservationHandlers
	inv      *application.GetInventory
}

func newParticipantFixture(t *testing.T, participant saga.Participant) *participantFixture {
	t.Helper()
	store, _ := storetest.Open(t)
	return participantOn(store, infrastructure.NewLocalItemLocker(8), participant)
}

// participantOn wires a participant onto an existing store, the way two
// services sharing one database are deployed.
func participantOn(store *infrastructure.SQLInventoryStore, locker domain.ItemLocker, participant saga.Participant) *participantFixture {
	logger := zap.NewNop()
	clock := func() time.Time { return repliedAt }

	return &participantFixture{
		store: store,
		handlers: NewReservationHandlers(participant,
			application.NewTentativeHold(store, locker, infrastructure.AcceptAllEvaluator{}, domain.FirstMatch{}, clock, logger),
			application.NewConfirmHold(store, locker, participant.Name, logger),
			application.NewCompensateHold(store, locker, participant.Name, logger),
			clock,
			logger,
		),
		inv: application.NewGetInventory(store, participant.Name),
	}
}

func (f *participantFixture) amount(t *testing.T, id int64) int {
	t.Helper()
	item, err := f.inv.Item(context.Background(), id)
	require.NoError(t, err)
	return item.Amount
}

func ptr[T any](v T) *T { return &v }

func flightBegin(passengers int) saga.Message {
	return saga.Message{
		TransactionId: uuid.New(),
		MessageId:     4,
		MessageType:   saga.MessageTypeFlightRequest,
		State:         saga.StateBegin,
		Body: &saga.FlightRequestBody{
			CityFrom:       "Warsaw",
			CityTo:         "Rome",
			BookFrom:       ptr(departure),
			BookTo:         ptr(departure.AddDate(0, 0, 7)),
			PassengerCount: ptr(passengers),
		},
		CreationDate: departure.AddDate(0, 0, -12),
	}
}

func next(in saga.Message, state saga.State, messageType saga.MessageType) saga.Message {
	return in.Reply(messageType, state, nil, repliedAt)
}

func TestReservationHandlers_FlightSaga(t *testing.T) {
	f := newParticipantFixture(t, saga.Flight)
	ctx := context.Background()
	item := storetest.SeedItem(t, f.store, storetest.Flight("Warsaw", "Rome", departure, 5))

	begin := flightBegin(3)
	held, err := f.handlers.TentativeHold(ctx, begin)
	require.NoError(t, err)
	assert.Equal(t, saga.StateFlightTimedAccept, held.State)
	assert.Equal(t, saga.MessageTypePaymentRequest, held.MessageType)
	assert.IsType(t, &saga.PaymentRequestBody{}, held.Body)
	assert.Equal(t, begin.MessageId+1, held.MessageId)
	assert.Equal(t, begin.TransactionId, held.TransactionId)
	assert.Equal(t, repliedAt, held.CreationDate)
	assert.Equal(t, 4, begin.MessageId, "inbound message must not change")
	assert.Equal(t, 2, f.amount(t, item.ID))

	paid := next(held, saga.StatePaymentAccept, saga.MessageTypePaymentReply)
	confirmed, err := f.handlers.Confirm(ctx, paid)
	require.NoError(t, err)
	assert.Equal(t, saga.StateFlightFullAccept, confirmed.State)
	assert.Equal(t, saga.MessageTypeFlightReply, confirmed.MessageType)
	assert.IsType(t, &saga.FlightReplyBody{}, confirmed.Body)
	assert.Equal(t, paid.MessageId+1, confirmed.MessageId)

	rollback := next(confirmed, saga.StateFlightFullRollback, saga.MessageTypeFlightRequest)
	acked, err := f.handlers.Compensate(ctx, rollback, saga.RouteCompensateFull)
	require.NoError(t, err)
	assert.Equal(t, saga.StateFlightFullRollback, acked.State)
	assert.Equal(t, saga.MessageTypeFlightReply, acked.MessageType)
	assert.Equal(t, 5, f.amount(t, item.ID))
}

func TestReservationHandlers_Rejections(t *testing.T) {
	f := newParticipantFixture(t, saga.Flight)
	ctx := context.Background()
	item := storetest.SeedItem(t, f.store, storetest.Flight("Warsaw", "Rome", departure, 2))

	rejected, err := f.handlers.TentativeHold(ctx, flightBegin(3))
	require.NoError(t, err)
	assert.Equal(t, saga.StateFlightTimedFail, rejected.State)
	assert.Equal(t, saga.MessageTypePaymentRequest, rejected.MessageType)

	orphan := next(rejected, saga.StatePaymentAccept, saga.MessageTypePaymentReply)
	failed, err := f.handlers.Confirm(ctx, orphan)
	require.NoError(t, err)
	assert.Equal(t, saga.StateFlightFullFail, failed.State)

	cancelled := next(rejected, saga.StatePaymentFailed, saga.MessageTypePaymentReply)
	acked, err := f.handlers.Compensate(ctx, cancelled, saga.RouteCompensateTimed)
	require.NoError(t, err)
	assert.Equal(t, saga.StateFlightTimedRollback, acked.State)
	assert.Equal(t, 2, f.amount(t, item.ID))
}

func TestReservationHandlers_HotelSaga(t *testing.T) {
	f := newParticipantFixture(t, saga.Hotel)
	ctx := context.Background()
	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	item := storetest.SeedItem(t, f.store, storetest.Hotel("Rome", "Hotel Artemide", day, 4))

	begin := saga.Message{
		TransactionId: uuid.New(),
		MessageId:     2,
		MessageType:   saga.MessageTypeHotelRequest,
		State:         saga.StateBegin,
		Body: &saga.HotelRequestBody{
			City:      "Rome",
			HotelName: "Hotel Artemide",
			RoomType:  "double",
			BookFrom:  ptr(day.Add(15 * time.Hour)),
			RoomCount: ptr(2),
		},
	}

	held, err := f.handlers.TentativeHold(ctx, begin)
	require.NoError(t, err)
	assert.Equal(t, saga.StateHotelTimedAccept, held.State)
	assert.Equal(t, 2, f.amount(t, item.ID))

	timedOut := next(held, saga.StateHotelTimedRollback, saga.MessageTypeHotelRequest)
	acked, err := f.handlers.Compensate(ctx, timedOut, saga.RouteCompensateTimed)
	require.NoError(t, err)
	assert.Equal(t, saga.StateHotelTimedRollback, acked.State)
	assert.IsType(t, &saga.HotelReplyBody{}, acked.Body)
	assert.Equal(t, 4, f.amount(t, item.ID))
}

func TestReservationHandlers_HotelStay(t *testing.T) {
	checkIn := time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC)

	tests := []struct {
		name          string
		bookTo        *time.Time
		expectedState saga.State
		expectedError error
	}{
		{
			name:          "three nights",
			bookTo:        ptr(checkIn.AddDate(0, 0, 3)),
			expectedState: saga.StateHotelTimedAccept,
		},
		{
			name:          "open ended",
			expectedState: saga.StateHotelTimedAccept,
		},
		{
			name:          "check-out before check-in",
			bookTo:        ptr(checkIn.AddDate(0, 0, -2)),
			expectedError: saga.ErrUnexpectedMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newParticipantFixture(t, saga.Hotel)
			day := checkIn.Truncate(24 * time.Hour)
			arriving := storetest.SeedItem(t, f.store, storetest.Hotel("Rome", "Hotel Artemide", day, 3))
			later := storetest.SeedItem(t, f.store, storetest.Hotel("Rome", "Hotel Artemide", day.AddDate(0, 0, 1), 3))

			begin := saga.Message{
				TransactionId: uuid.New(),
				MessageId:     2,
				MessageType:   saga.MessageTypeHotelRequest,
				State:         saga.StateBegin,
				Body: &saga.HotelRequestBody{
					City:      "Rome",
					HotelName: "Hotel Artemide",
					RoomType:  "suite",
					BookFrom:  ptr(checkIn),
					BookTo:    tt.bookTo,
					RoomCount: ptr(1),
				},
			}

			reply, err := f.handlers.TentativeHold(context.Background(), begin)
			if tt.expectedError != nil {
				assert.ErrorIs(t, err, tt.expectedError)
				assert.Equal(t, 3, f.amount(t, arriving.ID))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedState, reply.State)
			assert.Equal(t, 2, f.amount(t, arriving.ID), "the stay is held on its check-in day")
			assert.Equal(t, 3, f.amount(t, later.ID))
		})
	}
}

func TestReservationHandlers_ParticipantsShareDatabase(t *testing.T) {
	store, _ := storetest.Open(t)
	locker := infrastructure.NewLocalItemLocker(8)
	flights := participantOn(store, locker, saga.Flight)
	hotels := participantOn(store, locker, saga.Hotel)
	ctx := context.Background()

	day := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	seat := storetest.SeedItem(t, store, storetest.Flight("Warsaw", "Rome", departure, 5))
	room := storetest.SeedItem(t, store, storetest.Hotel("Rome", "Hotel Artemide", day, 4))

	flightReq := flightBegin(2)
	hotelReq := saga.Message{
		TransactionId: flightReq.TransactionId,
		MessageId:     2,
		MessageType:   saga.MessageTypeHotelRequest,
		State:         saga.StateBegin,
		Body: &saga.HotelRequestBody{
			City:      "Rome",
			HotelName: "Hotel Artemide",
			BookFrom:  ptr(departure),
			RoomCount: ptr(1),
		},
	}

	held, err := flights.handlers.TentativeHold(ctx, flightReq)
	require.NoError(t, err)
	assert.Equal(t, saga.StateFlightTimedAccept, held.State)

	held, err = hotels.handlers.TentativeHold(ctx, hotelReq)
	require.NoError(t, err)
	assert.Equal(t, saga.StateHotelTimedAccept, held.State)
	assert.Equal(t, 3, hotels.amount(t, room.ID), "the hotel Begin must hold a room of its own")

	rollback := next(held, saga.StateHotelTimedRollback, saga.MessageTypeHotelRequest)
	_, err = hotels.handlers.Compensate(ctx, rollback, saga.RouteCompensateTimed)
	require.NoError(t, err)
	assert.Equal(t, 4, hotels.amount(t, room.ID))
	assert.Equal(t, 3, flights.amount(t, seat.ID), "the flight hold must survive the hotel rollback")

	flightHold, err := flights.inv.Reservation(ctx, flightReq.TransactionId)
	require.NoError(t, err)
	assert.Equal(t, seat.ID, flightHold.ItemID)
	_, err = hotels.inv.Reservation(ctx, flightReq.TransactionId)
	assert.ErrorIs(t, err, application.ErrReservationNotFound)
}

func TestReservationHandlers_ProtocolFaults(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*saga.Message)
	}{
		{
			name:   "no body",
			mutate: func(m *saga.Message) { m.Body = nil },
		},
		{
			name: "hotel request sent to flights",
			mutate: func(m *saga.Message) {
				m.MessageType = saga.MessageTypeHotelRequest
				m.Body = &saga.HotelRequestBody{City: "Rome", BookFrom: ptr(departure), RoomCount: ptr(1)}
			},
		},
		{
			name:   "body does not match type",
			mutate: func(m *saga.Message) { m.Body = &saga.PaymentRequestBody{} },
		},
		{
			name:   "missing passenger count",
			mutate: func(m *saga.Message) { m.Body.(*saga.FlightRequestBody).PassengerCount = nil },
		},
		{
			name:   "missing departure day",
			mutate: func(m *saga.Message) { m.Body.(*saga.FlightRequestBody).BookFrom = nil },
		},
		{
			name:   "missing destination",
			mutate: func(m *saga.Message) { m.Body.(*saga.FlightRequestBody).CityTo = " " },
		},
		{
			name:   "return before departure",
			mutate: func(m *saga.Message) { m.Body.(*saga.FlightRequestBody).BookTo = ptr(departure.AddDate(0, 0, -1)) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newParticipantFixture(t, saga.Flight)
			storetest.SeedItem(t, f.store, storetest.Flight("Warsaw", "Rome", departure, 5))

			msg := flightBegin(1)
			tt.mutate(&msg)

			_, err := f.handlers.TentativeHold(context.Background(), msg)
			assert.ErrorIs(t, err, saga.ErrUnexpectedMessage)
		})
	}

	t.Run("unknown message type on confirm", func(t *testing.T) {
		f := newParticipantFixture(t, saga.Flight)
		msg := flightBegin(1)
		msg.MessageType = saga.MessageType(42)
		msg.Body = nil

		_, err := f.handlers.Confirm(context.Background(), msg)
		assert.ErrorIs(t, err, saga.ErrUnknownMessageType)
	})

	t.Run("compensate outside a rollback route", func(t *testing.T) {
		f := newParticipantFixture(t, saga.Flight)
		_, err := f.handlers.Compensate(context.Background(), flightBegin(1), saga.RouteConfirm)
		assert.ErrorIs(t, err, saga.ErrUnexpectedMessage)
	})
}

func TestHoldSweeper_Sweep(t *testing.T) {
	store, _ := storetest.Open(t)
	locker := infrastructure.NewLocalItemLocker(8)
	logger := zap.NewNop()
	item := storetest.SeedItem(t, store, storetest.Flight("Warsaw", "Rome", departure, 5))

	now := repliedAt
	clock := func() time.Time { return now }
	hold := application.NewTentativeHold(store, locker, infrastructure.AcceptAllEvaluator{}, domain.FirstMatch{}, clock, logger)
	for i := 0; i < 3; i++ {
		res, err := hold.Execute(context.Background(), &application.TentativeHoldCommand{
			TransactionID: uuid.New(),
			Query:         domain.Query{Kind: "flight", Origin: "Warsaw", Destination: "Rome", Day: departure, Units: 1},
		})
		require.NoError(t, err)
		require.True(t, res.Accepted)
	}

	expire := application.NewExpireHolds(store, locker, "flight", clock, logger)
	sweeper := NewHoldSweeper(expire, 15*time.Minute, time.Minute, logger)

	assert.Equal(t, 0, sweeper.Sweep(context.Background()))

	now = now.Add(time.Hour)
	assert.Equal(t, 3, sweeper.Sweep(context.Background()))

	current, err := store.FindItem(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, current.Amount)
}
