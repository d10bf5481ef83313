package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/flashsale/internal/service"
	"github.com/utafrali/flashsale/pkg/health"
	"github.com/utafrali/flashsale/pkg/middleware"
)

// NewRouter creates a chi router with all flash-sale routes registered.
func NewRouter(
	purchaseService *service.PurchaseService,
	adminService *service.AdminService,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics("flashsale"))

	// Health and metrics endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	purchaseHandler := NewPurchaseHandler(purchaseService, adminService, logger)
	systemHandler := NewSystemHandler(adminService, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/purchases", purchaseHandler.CreatePurchase)

		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", purchaseHandler.CreateReservation)
			r.Get("/{id}", purchaseHandler.GetReservation)
			r.Post("/{id}/cancel", purchaseHandler.CancelReservation)
		})

		r.Get("/resources/{key}", purchaseHandler.GetResource)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/buffer", systemHandler.BufferStatus)
			r.Post("/buffer/flush", systemHandler.FlushBuffer)
			r.Post("/locks/{key}/release", systemHandler.ForceUnlock)
			r.Post("/resources", systemHandler.InitResource)
			r.Get("/resources/{key}", systemHandler.GetResource)
			r.Get("/wal/pending", systemHandler.PendingWAL)
			r.Get("/gateways", systemHandler.GatewayHealth)
			r.Post("/reservations/expire", systemHandler.ExpireReservations)
		})
	})

	return r
}

// ContentTypeJSON sets the response content type for API routes.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
