package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/application"
	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/infrastructure/storetest"
	"github.com/VeryGoodTravel/vgt-saga-flight/shared/saga"
	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestInventoryHandlers(t *testing.T) {
	f := newParticipantFixture(t, saga.Flight)
	item := storetest.SeedItem(t, f.store, storetest.Flight("Warsaw", "Rome", departure, 5))

	begin := flightBegin(2)
	_, err := f.handlers.TentativeHold(context.Background(), begin)
	require.NoError(t, err)

	router := chi.NewRouter()
	NewInventoryHandlers(f.inv, application.NewCreateItem(f.store, "flight", zap.NewNop()), zap.NewNop()).RegisterRoutes(router)

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		expectedStatus int
		check          func(t *testing.T, body map[string]any)
	}{
		{
			name:           "get item",
			method:         http.MethodGet,
			path:           "/api/v1/items/" + strconv.FormatInt(item.ID, 10),
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "Warsaw", body["origin"])
				assert.EqualValues(t, 3, body["amount"])
			},
		},
		{
			name:           "item not found",
			method:         http.MethodGet,
			path:           "/api/v1/items/999",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "item id not a number",
			method:         http.MethodGet,
			path:           "/api/v1/items/abc",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "get reservation",
			method:         http.MethodGet,
			path:           "/api/v1/reservations/" + begin.TransactionId.String(),
			expectedStatus: http.StatusOK,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, begin.TransactionId.String(), body["transaction_id"])
				assert.Equal(t, "flight", body["kind"])
				assert.EqualValues(t, 2, body["amount"])
				assert.Equal(t, true, body["temporary"])
				assert.NotEmpty(t, body["temporary_at"])
			},
		},
		{
			name:           "reservation not found",
			method:         http.MethodGet,
			path:           "/api/v1/reservations/6f1c2d3e-0000-4000-8000-000000000000",
			expectedStatus: http.StatusNotFound,
		},
		{
			name:           "transaction id not a uuid",
			method:         http.MethodGet,
			path:           "/api/v1/reservations/42",
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "create item",
			method:         http.MethodPost,
			path:           "/api/v1/items",
			body:           `{"origin":"Warsaw","destination":"Lisbon","starts_at":"2024-06-02T08:00:00Z","amount":180}`,
			expectedStatus: http.StatusCreated,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "flight", body["kind"])
				assert.Equal(t, "Lisbon", body["destination"])
				assert.NotZero(t, body["id"])
			},
		},
		{
			name:           "create item without origin",
			method:         http.MethodPost,
			path:           "/api/v1/items",
			body:           `{"destination":"Lisbon","starts_at":"2024-06-02T08:00:00Z","amount":180}`,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "create item with broken body",
			method:         http.MethodPost,
			path:           "/api/v1/items",
			body:           `{"origin":`,
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))

			assert.Equal(t, tt.expectedStatus, rec.Code, rec.Body.String())
			if tt.check != nil {
				var body map[string]any
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				tt.check(t, body)
			}
		})
	}
}

type pinger func(ctx context.Context) error

func (p pinger) PingContext(ctx context.Context) error { return p(ctx) }

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(pinger(func(context.Context) error { return nil }))(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(pinger(func(context.Context) error { return errors.New("connection refused") }))(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
