package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/application"
	"github.com/VeryGoodTravel/vgt-saga-flight/inventory-service/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// InventoryHandlers contains the admin HTTP handlers
type InventoryHandlers struct {
	getInventory *application.GetInventory
	createItem   *application.CreateItem
	logger       *zap.Logger
}

// NewInventoryHandlers creates new inventory handlers
func NewInventoryHandlers(getInventory *application.GetInventory, createItem *application.CreateItem, logger *zap.Logger) *InventoryHandlers {
	return &InventoryHandlers{
		getInventory: getInventory,
		createItem:   createItem,
		logger:       logger,
	}
}

type itemResponse struct {
	ID          int64     `json:"id"`
	Kind        string    `json:"kind"`
	Origin      string    `json:"origin"`
	Destination string    `json:"destination,omitempty"`
	StartsAt    time.Time `json:"starts_at"`
	Amount      int       `json:"amount"`
}

type reservationResponse struct {
	ID            int64      `json:"id"`
	TransactionID string     `json:"transaction_id"`
	ItemID        int64      `json:"item_id"`
	Amount        int        `json:"amount"`
	Temporary     bool       `json:"temporary"`
	TemporaryAt   *time.Time `json:"temporary_at,omitempty"`
}

func toItemResponse(item *domain.Item) itemResponse {
	return itemResponse{
		ID:          item.ID,
		Kind:        item.Kind,
		Origin:      item.Origin,
		Destination: item.Destination,
		StartsAt:    item.StartsAt,
		Amount:      item.Amount,
	}
}

func toReservationResponse(r *domain.Reservation) reservationResponse {
	res := reservationResponse{
		ID:            r.ID,
		TransactionID: r.TransactionID.String(),
		ItemID:        r.ItemID,
		Amount:        r.Amount,
		Temporary:     r.Temporary,
	}
	if r.Temporary {
		at := r.TemporaryAt
		res.TemporaryAt = &at
	}
	return res
}

// GetItem handles item retrieval requests
func (h *InventoryHandlers) GetItem(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Item ID must be a number", http.StatusBadRequest)
		return
	}

	item, err := h.getInventory.Item(r.Context(), id)
	if err != nil {
		if errors.Is(err, application.ErrItemNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.internalError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toItemResponse(item))
}

// CreateItem handles item creation requests
func (h *InventoryHandlers) CreateItem(w http.ResponseWriter, r *http.Request) {
	var cmd application.CreateItemCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	item, err := h.createItem.Execute(r.Context(), &cmd)
	if err != nil {
		if errors.Is(err, application.ErrInvalidItem) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		h.internalError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, toItemResponse(item))
}

// GetReservation handles reservation lookups by saga transaction
func (h *InventoryHandlers) GetReservation(w http.ResponseWriter, r *http.Request) {
	transactionID, err := uuid.Parse(chi.URLParam(r, "transaction_id"))
	if err != nil {
		http.Error(w, "Transaction ID must be a UUID", http.StatusBadRequest)
		return
	}

	reservation, err := h.getInventory.Reservation(r.Context(), transactionID)
	if err != nil {
		if errors.Is(err, application.ErrReservationNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.internalError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, toReservationResponse(reservation))
}

// RegisterRoutes registers inventory routes
func (h *InventoryHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/items", h.CreateItem)
		r.Get("/items/{id}", h.GetItem)
		r.Get("/reservations/{transaction_id}", h.GetReservation)
	})
}

func (h *InventoryHandlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (h *InventoryHandlers) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("admin request failed", zap.String("path", r.URL.Path), zap.Error(err))
	http.Error(w, "internal error", http.StatusInternalServerError)
}
