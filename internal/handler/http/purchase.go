package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/flashsale/internal/service"
	"github.com/utafrali/flashsale/pkg/httputil"
	"github.com/utafrali/flashsale/pkg/validator"
)

// PurchaseHandler handles the purchase and reservation endpoints.
type PurchaseHandler struct {
	purchase *service.PurchaseService
	admin    *service.AdminService
	logger   *slog.Logger
}

// NewPurchaseHandler creates the purchase HTTP handler.
func NewPurchaseHandler(purchase *service.PurchaseService, admin *service.AdminService, logger *slog.Logger) *PurchaseHandler {
	return &PurchaseHandler{
		purchase: purchase,
		admin:    admin,
		logger:   logger,
	}
}

// --- Request DTOs ---

// PurchaseRequest is the JSON request body for a purchase attempt.
type PurchaseRequest struct {
	ResourceKey    string `json:"resource_key" validate:"required"`
	Quantity       int64  `json:"quantity" validate:"required,gt=0"`
	Amount         int64  `json:"amount" validate:"required,gt=0"`
	Currency       string `json:"currency" validate:"required,len=3"`
	PaymentMethod  string `json:"payment_method" validate:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

// ReserveRequest is the JSON request body for a reservation without payment.
type ReserveRequest struct {
	ResourceKey   string `json:"resource_key" validate:"required"`
	Quantity      int64  `json:"quantity" validate:"required,gt=0"`
	ReservationID string `json:"reservation_id"`
}

// --- Handlers ---

// CreatePurchase handles POST /api/v1/purchases. A declined purchase is a
// 200 with status DECLINED; errors mean the attempt could not be judged.
func (h *PurchaseHandler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	userID := getUserID(r)
	if userID == "" {
		writeMissingUserID(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadBody(w, err)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	result, err := h.purchase.ProcessPurchase(r.Context(), service.PurchaseInput{
		ResourceKey:    req.ResourceKey,
		UserID:         userID,
		Quantity:       req.Quantity,
		Amount:         req.Amount,
		Currency:       req.Currency,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	status := http.StatusCreated
	if !result.Completed() {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, httputil.Response{Data: result})
}

// CreateReservation handles POST /api/v1/reservations.
func (h *PurchaseHandler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	userID := getUserID(r)
	if userID == "" {
		writeMissingUserID(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadBody(w, err)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	resv, outcome, err := h.purchase.ReserveOnly(r.Context(), req.ResourceKey, userID, req.Quantity, req.ReservationID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if resv == nil {
		httputil.WriteJSON(w, http.StatusConflict, httputil.Response{
			Error: &httputil.ErrorResponse{Code: string(outcome.Code), Message: "reservation rejected"},
		})
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: resv})
}

// GetReservation handles GET /api/v1/reservations/{id}.
func (h *PurchaseHandler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "reservation id is required"},
		})
		return
	}

	resv, err := h.purchase.ReservationStatus(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: resv})
}

// CancelReservation handles POST /api/v1/reservations/{id}/cancel.
func (h *PurchaseHandler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "reservation id is required"},
		})
		return
	}

	outcome, err := h.purchase.CancelReservation(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if !outcome.CancelOK() {
		httputil.WriteJSON(w, http.StatusConflict, httputil.Response{
			Error: &httputil.ErrorResponse{Code: string(outcome.Code), Message: "cancellation rejected"},
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: outcome})
}

// GetResource handles GET /api/v1/resources/{key}.
func (h *PurchaseHandler) GetResource(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if key == "" {
		httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "resource key is required"},
		})
		return
	}

	status, err := h.admin.ResourceStatus(r.Context(), key)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: status})
}

// --- Helpers ---

func getUserID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

func writeMissingUserID(w http.ResponseWriter) {
	httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
		Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "X-User-ID header is required"},
	})
}

func writeBadBody(w http.ResponseWriter, err error) {
	httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
		Error: &httputil.ErrorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
	})
}
