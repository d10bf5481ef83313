package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/flashsale/internal/service"
	"github.com/utafrali/flashsale/pkg/httputil"
	"github.com/utafrali/flashsale/pkg/validator"
)

// SystemHandler exposes the operational endpoints under /api/v1/admin.
type SystemHandler struct {
	admin  *service.AdminService
	logger *slog.Logger
}

// NewSystemHandler creates the admin HTTP handler.
func NewSystemHandler(admin *service.AdminService, logger *slog.Logger) *SystemHandler {
	return &SystemHandler{admin: admin, logger: logger}
}

// InitResourceRequest is the JSON request body for seeding stock.
type InitResourceRequest struct {
	ResourceKey string `json:"resource_key" validate:"required"`
	Total       int64  `json:"total" validate:"gte=0"`
}

// BufferStatus handles GET /api/v1/admin/buffer.
func (h *SystemHandler) BufferStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.admin.BufferStatus()})
}

// FlushBuffer handles POST /api/v1/admin/buffer/flush.
func (h *SystemHandler) FlushBuffer(w http.ResponseWriter, r *http.Request) {
	flushed := h.admin.FlushBuffer(r.Context())
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]int{"flushed": flushed},
	})
}

// ForceUnlock handles POST /api/v1/admin/locks/{key}/release.
func (h *SystemHandler) ForceUnlock(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	if err := h.admin.ForceUnlock(r.Context(), key); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"released": key},
	})
}

// InitResource handles POST /api/v1/admin/resources.
func (h *SystemHandler) InitResource(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit

	var req InitResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadBody(w, err)
		return
	}
	if err := validator.Validate(req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	status, err := h.admin.InitializeResource(r.Context(), req.ResourceKey, req.Total)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: status})
}

// GetResource handles GET /api/v1/admin/resources/{key}.
func (h *SystemHandler) GetResource(w http.ResponseWriter, r *http.Request) {
	status, err := h.admin.ResourceStatus(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: status})
}

// PendingWAL handles GET /api/v1/admin/wal/pending?limit=N.
func (h *SystemHandler) PendingWAL(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			httputil.WriteJSON(w, http.StatusBadRequest, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "INVALID_PARAMETER", Message: "limit must be an integer"},
			})
			return
		}
		limit = parsed
	}

	entries, err := h.admin.PendingWAL(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: entries})
}

// GatewayHealth handles GET /api/v1/admin/gateways.
func (h *SystemHandler) GatewayHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: h.admin.GatewayHealth(r.Context())})
}

// ExpireReservations handles POST /api/v1/admin/reservations/expire.
func (h *SystemHandler) ExpireReservations(w http.ResponseWriter, r *http.Request) {
	released, err := h.admin.ExpireReservations(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]int{"released": released},
	})
}
