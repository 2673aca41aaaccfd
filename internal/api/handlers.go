/**
 * @description
 * HTTP handlers for the user-facing routes: subscription status and purchase,
 * cancellation, billing history, access checks, one-off purchases and the
 * affiliate's commission view. Handlers parse requests, call the application
 * layer and map typed errors to status codes; they never render content.
 */
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tradelab/entitlement-service/internal/app"
	"github.com/tradelab/entitlement-service/internal/domain"
	"github.com/tradelab/entitlement-service/internal/store"
)

// Handler holds the application services the handlers interact with.
type Handler struct {
	lifecycle   *app.LifecycleManager
	billing     app.BillingRunner
	access      *app.AccessEvaluator
	purchases   *app.PurchaseService
	commissions *app.CommissionService
}

// NewHandler creates a new Handler with the given services.
func NewHandler(
	lifecycle *app.LifecycleManager,
	billing app.BillingRunner,
	access *app.AccessEvaluator,
	purchases *app.PurchaseService,
	commissions *app.CommissionService,
) *Handler {
	return &Handler{
		lifecycle:   lifecycle,
		billing:     billing,
		access:      access,
		purchases:   purchases,
		commissions: commissions,
	}
}

// handleGetSubscription returns the entitlement status for one product kind.
func (h *Handler) handleGetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	kind := domain.ProductKind(chi.URLParam(r, "kind"))
	if !domain.ValidProductKind(kind) {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown product kind"})
		return
	}

	status, err := h.lifecycle.GetStatus(r.Context(), userID, kind)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, status)
}

// handleStartSubscription creates a subscription and attempts the initial charge.
func (h *Handler) handleStartSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		ProductKind domain.ProductKind `json:"product_kind"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	sub, err := h.purchases.StartSubscription(r.Context(), userID, req.ProductKind)
	if err != nil {
		if errors.Is(err, app.ErrPaymentFailed) && sub != nil {
			// The subscription exists but the first charge was declined.
			respondWithJSON(w, http.StatusPaymentRequired, map[string]interface{}{
				"error":        err.Error(),
				"subscription": sub,
			})
			return
		}
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, sub)
}

// handleCancelSubscription soft-cancels the user's subscription for a kind.
func (h *Handler) handleCancelSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	kind := domain.ProductKind(chi.URLParam(r, "kind"))
	if !domain.ValidProductKind(kind) {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown product kind"})
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	// Body is optional; ignore decode errors on empty bodies.
	_ = json.NewDecoder(r.Body).Decode(&req)

	status, err := h.lifecycle.GetStatus(r.Context(), userID, kind)
	if err != nil {
		respondWithError(w, err)
		return
	}
	if status.Subscription == nil {
		respondWithJSON(w, http.StatusNotFound, map[string]string{"error": "no subscription to cancel"})
		return
	}

	sub, err := h.lifecycle.Cancel(r.Context(), status.Subscription.ID, req.Reason)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, sub)
}

// handleListBillingHistory returns recent charge attempts for a subscription.
func (h *Handler) handleListBillingHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	kind := domain.ProductKind(chi.URLParam(r, "kind"))
	if !domain.ValidProductKind(kind) {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown product kind"})
		return
	}

	attempts, err := h.lifecycle.ListBillingHistory(r.Context(), userID, kind)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, attempts)
}

// handleCheckAccess answers whether the user may access an item right now.
func (h *Handler) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	kind := domain.ItemKind(chi.URLParam(r, "kind"))
	switch kind {
	case domain.ItemSignals, domain.ItemCopyTrading, domain.ItemCourse, domain.ItemResource:
	default:
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown item kind"})
		return
	}

	decision, err := h.access.CheckAccess(r.Context(), userID, kind, chi.URLParam(r, "itemID"))
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, decision)
}

// handlePurchaseItem buys a one-off priced item.
func (h *Handler) handlePurchaseItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req struct {
		ItemID string `json:"item_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ItemID == "" {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "item_id is required"})
		return
	}

	purchase, err := h.purchases.PurchaseItem(r.Context(), userID, req.ItemID)
	if err != nil {
		if errors.Is(err, app.ErrPaymentFailed) && purchase != nil {
			respondWithJSON(w, http.StatusPaymentRequired, map[string]interface{}{
				"error":    err.Error(),
				"purchase": purchase,
			})
			return
		}
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, purchase)
}

// handleListCommissions returns the affiliate's own commission records.
func (h *Handler) handleListCommissions(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	commissions, err := h.commissions.ListForAffiliate(r.Context(), userID)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, commissions)
}

// respondWithError maps typed application errors to HTTP status codes.
func respondWithError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondWithJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, app.ErrInvalidState),
		errors.Is(err, store.ErrInvalidTransition),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrLedgerConflict):
		respondWithJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, app.ErrPaymentFailed):
		respondWithJSON(w, http.StatusPaymentRequired, map[string]string{"error": err.Error()})
	case errors.Is(err, app.ErrRateLimited):
		respondWithJSON(w, http.StatusTooManyRequests, map[string]string{"error": err.Error()})
	default:
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
