package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"mindcare/internal/model"
	"mindcare/internal/mw"
	"mindcare/internal/pricing"
	"mindcare/internal/service"
)

const defaultCurrency = "USD"

type registrationOrderRequest struct {
	Currency string `json:"currency"`
	Provider string `json:"provider"`
}

// CreateRegistrationOrderHandler creates the one-time registration-fee
// order for the authenticated psychologist.
func CreateRegistrationOrderHandler(authSvc *service.AuthService, orderSvc *service.OrderService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.UserID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req registrationOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Currency == "" {
			req.Currency = defaultCurrency
		}

		user, err := authSvc.UserByID(r.Context(), userID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if user.Role != model.RolePsychologist {
			http.Error(w, "registration orders are for psychologists only", http.StatusForbidden)
			return
		}

		order, err := orderSvc.CreateRegistrationOrder(r.Context(), user, req.Currency, req.Provider)
		if err != nil {
			writeOrderError(w, err, log)
			return
		}

		writeJSON(w, http.StatusCreated, order)
	}
}

type appointmentOrderRequest struct {
	PsychologistID  string `json:"psychologist_id"`
	SessionType     string `json:"session_type"`
	AppointmentDate string `json:"appointment_date"`
	Currency        string `json:"currency"`
	Provider        string `json:"provider"`
}

// CreateAppointmentOrderHandler creates a booking order for the
// authenticated user with a verified psychologist.
func CreateAppointmentOrderHandler(authSvc *service.AuthService, orderSvc *service.OrderService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.UserID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var req appointmentOrderRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Currency == "" {
			req.Currency = defaultCurrency
		}

		psychologistID, err := uuid.Parse(req.PsychologistID)
		if err != nil {
			http.Error(w, "invalid psychologist_id", http.StatusBadRequest)
			return
		}

		user, err := authSvc.UserByID(r.Context(), userID)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		psychologist, err := authSvc.UserByID(r.Context(), psychologistID)
		if err != nil {
			http.Error(w, "psychologist not found", http.StatusNotFound)
			return
		}
		if psychologist.Role != model.RolePsychologist {
			http.Error(w, "psychologist_id does not refer to a psychologist", http.StatusBadRequest)
			return
		}
		if !psychologist.Verified {
			http.Error(w, "psychologist has not completed registration", http.StatusUnprocessableEntity)
			return
		}

		order, err := orderSvc.CreateAppointmentOrder(r.Context(), user, psychologist,
			req.SessionType, req.AppointmentDate, req.Currency, req.Provider)
		if err != nil {
			writeOrderError(w, err, log)
			return
		}

		writeJSON(w, http.StatusCreated, order)
	}
}

func ListOrdersHandler(orderSvc *service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.UserID(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		orders, err := orderSvc.ListByUser(r.Context(),
			userID, r.URL.Query().Get("order_type"), r.URL.Query().Get("status"))
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		if len(orders) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		writeJSON(w, http.StatusOK, orders)
	}
}

func GetOrderHandler(orderSvc *service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, ok := ownedOrder(w, r, orderSvc)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, order)
	}
}

// orderStatusResponse carries the stored status plus the time-derived
// view. is_expired may be true while status is still "pending": the
// sweep has simply not normalized the row yet.
type orderStatusResponse struct {
	OrderID   uuid.UUID         `json:"order_id"`
	Status    model.OrderStatus `json:"status"`
	IsPending bool              `json:"is_pending"`
	IsExpired bool              `json:"is_expired"`
	CanBePaid bool              `json:"can_be_paid"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	PaidAt    *time.Time        `json:"paid_at,omitempty"`
}

func OrderStatusHandler(orderSvc *service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, ok := ownedOrder(w, r, orderSvc)
		if !ok {
			return
		}

		now := time.Now()
		writeJSON(w, http.StatusOK, orderStatusResponse{
			OrderID:   order.ID,
			Status:    order.Status,
			IsPending: order.Status == model.OrderPending,
			IsExpired: order.IsExpired(now),
			CanBePaid: order.CanBePaid(now),
			ExpiresAt: order.ExpiresAt,
			PaidAt:    order.PaidAt,
		})
	}
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type cancelOrderResponse struct {
	OrderID   uuid.UUID         `json:"order_id"`
	Status    model.OrderStatus `json:"status"`
	Cancelled bool              `json:"cancelled"`
}

// CancelOrderHandler cancels a pending order. Cancelling an order that is
// already terminal is a no-op, not an error.
func CancelOrderHandler(orderSvc *service.OrderService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, ok := ownedOrder(w, r, orderSvc)
		if !ok {
			return
		}

		var req cancelOrderRequest
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		if req.Reason == "" {
			req.Reason = "cancelled by user"
		}

		cancelled, err := orderSvc.CancelOrder(r.Context(), order.ID, req.Reason)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		status := order.Status
		if cancelled {
			status = model.OrderCancelled
		}
		writeJSON(w, http.StatusOK, cancelOrderResponse{
			OrderID:   order.ID,
			Status:    status,
			Cancelled: cancelled,
		})
	}
}

// ownedOrder loads the {id} order and enforces that it belongs to the
// authenticated user. On failure the response has already been written.
func ownedOrder(w http.ResponseWriter, r *http.Request, orderSvc *service.OrderService) (*model.Order, bool) {
	userID, ok := mw.UserID(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return nil, false
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return nil, false
	}

	order, err := orderSvc.OrderByID(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, service.ErrOrderNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
		} else {
			http.Error(w, "internal error", http.StatusInternalServerError)
		}
		return nil, false
	}

	if order.UserID != userID {
		// Hide other users' orders entirely.
		http.Error(w, "order not found", http.StatusNotFound)
		return nil, false
	}

	return order, true
}

func writeOrderError(w http.ResponseWriter, err error, log *zap.Logger) {
	switch {
	case errors.Is(err, service.ErrDuplicateActiveOrder):
		http.Error(w, "an active order of this type already exists", http.StatusConflict)
	case errors.Is(err, pricing.ErrUnknownService):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.Error("order creation failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
