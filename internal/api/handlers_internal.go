/**
 * @description
 * Handlers for the internal server-to-server routes: the scheduler trigger
 * for billing runs and expiry sweeps, and admin commission verification.
 */
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleRunBilling triggers one billing cycle and returns its summary.
func (h *Handler) handleRunBilling(w http.ResponseWriter, r *http.Request) {
	summary, err := h.billing.ProcessDueSubscriptions(r.Context())
	if err != nil {
		if summary == nil {
			respondWithError(w, err)
			return
		}
		// The batch completed but some rows hit unexpected errors. The caller
		// is an operator or scheduler; give them the summary and the errors,
		// with a status that marks the run as needing attention.
		respondWithJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"summary": summary,
			"errors":  err.Error(),
		})
		return
	}
	// Declined charges are already reflected in the summary; the run itself
	// completed cleanly.
	respondWithJSON(w, http.StatusOK, summary)
}

// handleExpireLapsed sweeps soft-canceled subscriptions past their period end.
func (h *Handler) handleExpireLapsed(w http.ResponseWriter, r *http.Request) {
	swept, err := h.lifecycle.ExpireLapsed(r.Context())
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int64{"swept": swept})
}

// handleRecordAccountOpening records a broker-referral commission after an
// admin verified the referred user's deposit.
func (h *Handler) handleRecordAccountOpening(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ReferredUserID string `json:"referred_user_id"`
		DepositAmount  int64  `json:"deposit_amount"`
		Currency       string `json:"currency"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ReferredUserID == "" || req.Currency == "" {
		respondWithJSON(w, http.StatusBadRequest, map[string]string{"error": "referred_user_id, deposit_amount and currency are required"})
		return
	}

	commission, err := h.commissions.RecordVerifiedAccountOpening(r.Context(), req.ReferredUserID, req.DepositAmount, req.Currency)
	if err != nil {
		respondWithError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, commission)
}

// handleApproveCommission moves a pending commission to approved.
func (h *Handler) handleApproveCommission(w http.ResponseWriter, r *http.Request) {
	commission, err := h.commissions.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, commission)
}

// handlePayCommission moves an approved commission to paid.
func (h *Handler) handlePayCommission(w http.ResponseWriter, r *http.Request) {
	commission, err := h.commissions.MarkPaid(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, commission)
}
