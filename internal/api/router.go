/**
 * @description
 * HTTP router for the entitlement service using the go-chi/chi router.
 * Defines routes, applies logging, CORS and authentication middleware, and
 * maps routes to handler functions.
 */
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new Chi router and registers the service routes.
func NewRouter(h *Handler, jwksURL, internalAPIKey string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Entitlement service is healthy"))
	})

	// User-facing routes require a valid JWT.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(jwksURL))

		r.Get("/subscriptions/{kind}", h.handleGetSubscription)
		r.Post("/subscriptions", h.handleStartSubscription)
		r.Post("/subscriptions/{kind}/cancel", h.handleCancelSubscription)
		r.Get("/subscriptions/{kind}/attempts", h.handleListBillingHistory)
		r.Get("/access/{kind}/{itemID}", h.handleCheckAccess)
		r.Post("/purchases", h.handlePurchaseItem)
		r.Get("/commissions", h.handleListCommissions)
	})

	// Internal routes authenticate with the shared secret.
	r.Group(func(r chi.Router) {
		r.Use(InternalAuthMiddleware(internalAPIKey))

		r.Post("/internal/billing/run", h.handleRunBilling)
		r.Post("/internal/billing/expire-lapsed", h.handleExpireLapsed)
		r.Post("/internal/commissions/account-openings", h.handleRecordAccountOpening)
		r.Post("/internal/commissions/{id}/approve", h.handleApproveCommission)
		r.Post("/internal/commissions/{id}/pay", h.handlePayCommission)
	})

	return r
}
