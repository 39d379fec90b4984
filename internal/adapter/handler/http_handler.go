package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/rl1809/seckill/internal/core/domain"
	"github.com/rl1809/seckill/internal/core/service"
)

// OrderPurchaser is the admission entry point.
type OrderPurchaser interface {
	Purchase(ctx context.Context, userID, itemID string) (int64, error)
}

// ItemCatalog serves cached item reads.
type ItemCatalog interface {
	GetItem(ctx context.Context, itemID string) (*domain.Item, error)
	GetHotItem(ctx context.Context, itemID string) (*domain.Item, error)
}

type HTTPHandler struct {
	orders OrderPurchaser
	items  ItemCatalog
	log    zerolog.Logger
}

type PurchaseHTTPRequest struct {
	UserID string `json:"user_id"`
	ItemID string `json:"item_id"`
}

type PurchaseHTTPResponse struct {
	Success bool   `json:"success"`
	OrderID int64  `json:"order_id,string,omitempty"`
	Message string `json:"message"`
}

func NewHTTPHandler(orders OrderPurchaser, items ItemCatalog, logger zerolog.Logger) *HTTPHandler {
	return &HTTPHandler{
		orders: orders,
		items:  items,
		log:    logger.With().Str("component", "http_handler").Logger(),
	}
}

// Router registers every route on a new gorilla/mux router.
func (h *HTTPHandler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/purchase", h.Purchase).Methods(http.MethodPost)
	r.HandleFunc("/api/items/{id}", h.GetItem).Methods(http.MethodGet)
	r.HandleFunc("/api/items/{id}/hot", h.GetHotItem).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	return r
}

func (h *HTTPHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseHTTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, PurchaseHTTPResponse{
			Success: false,
			Message: "invalid request body",
		})
		return
	}

	if req.UserID == "" || req.ItemID == "" {
		writeJSON(w, http.StatusBadRequest, PurchaseHTTPResponse{
			Success: false,
			Message: "missing required fields",
		})
		return
	}

	orderID, err := h.orders.Purchase(r.Context(), req.UserID, req.ItemID)
	if err != nil {
		status, message := purchaseError(err)
		if status == http.StatusInternalServerError {
			h.log.Error().Err(err).Str("user_id", req.UserID).Str("item_id", req.ItemID).Msg("purchase failed")
		}
		writeJSON(w, status, PurchaseHTTPResponse{
			Success: false,
			Message: message,
		})
		return
	}

	writeJSON(w, http.StatusOK, PurchaseHTTPResponse{
		Success: true,
		OrderID: orderID,
		Message: "order placed successfully",
	})
}

func purchaseError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrAlreadyPurchased):
		return http.StatusConflict, "already purchased"
	case errors.Is(err, service.ErrInsufficientStock):
		return http.StatusGone, "sold out"
	case errors.Is(err, service.ErrSaleNotStarted):
		return http.StatusForbidden, "sale not started"
	case errors.Is(err, service.ErrSaleEnded):
		return http.StatusForbidden, "sale ended"
	case errors.Is(err, service.ErrItemNotFound):
		return http.StatusNotFound, "item not found"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func (h *HTTPHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	h.serveItem(w, r, h.items.GetItem)
}

func (h *HTTPHandler) GetHotItem(w http.ResponseWriter, r *http.Request) {
	h.serveItem(w, r, h.items.GetHotItem)
}

func (h *HTTPHandler) serveItem(w http.ResponseWriter, r *http.Request, get func(context.Context, string) (*domain.Item, error)) {
	itemID := mux.Vars(r)["id"]

	item, err := get(r.Context(), itemID)
	if err != nil {
		h.log.Error().Err(err).Str("item_id", itemID).Msg("load item failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "internal error"})
		return
	}
	if item == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "item not found"})
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
