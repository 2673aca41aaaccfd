package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tradelab/entitlement-service/internal/app"
	"github.com/tradelab/entitlement-service/internal/domain"
	"github.com/tradelab/entitlement-service/internal/store"
)

type billingRunnerStub struct {
	summary *app.BillingSummary
	err     error
}

func (s *billingRunnerStub) ProcessDueSubscriptions(ctx context.Context) (*app.BillingSummary, error) {
	return s.summary, s.err
}

type sweepRepoStub struct {
	swept int64
}

func (s *sweepRepoStub) GetSubscriptionByID(ctx context.Context, id string) (*domain.Subscription, error) {
	return nil, store.ErrNotFound
}

func (s *sweepRepoStub) GetSubscriptionByUserAndKind(ctx context.Context, userID string, kind domain.ProductKind) (*domain.Subscription, error) {
	return nil, store.ErrNotFound
}

func (s *sweepRepoStub) UpdateSubscriptionWithAttempt(ctx context.Context, sub *domain.Subscription, attempt *domain.BillingAttempt) error {
	return nil
}

func (s *sweepRepoStub) UpdateSubscription(ctx context.Context, sub *domain.Subscription) error {
	return nil
}

func (s *sweepRepoStub) ExpireLapsedCanceled(ctx context.Context, now time.Time) (int64, error) {
	return s.swept, nil
}

func (s *sweepRepoStub) ListBillingAttempts(ctx context.Context, subscriptionID string, limit int) ([]domain.BillingAttempt, error) {
	return nil, nil
}

const testInternalKey = "internal-secret"

func newTestRouter(billing app.BillingRunner, swept int64) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lifecycle := app.NewLifecycleManager(&sweepRepoStub{swept: swept}, nil, logger)
	h := NewHandler(lifecycle, billing, nil, nil, nil)
	return NewRouter(h, "http://127.0.0.1:1/jwks", testInternalKey)
}

func TestHealthEndpointIsPublic(t *testing.T) {
	router := newTestRouter(&billingRunnerStub{}, 0)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestUserRoutesRequireBearerToken(t *testing.T) {
	router := newTestRouter(&billingRunnerStub{}, 0)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/subscriptions/signals", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}
}

func TestInternalRoutesRequireAPIKey(t *testing.T) {
	router := newTestRouter(&billingRunnerStub{summary: &app.BillingSummary{}}, 0)

	// Missing key.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/internal/billing/run", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rec.Code)
	}

	// Wrong key.
	req := httptest.NewRequest(http.MethodPost, "/internal/billing/run", nil)
	req.Header.Set("X-Internal-API-Key", "guess")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong key, got %d", rec.Code)
	}
}

func TestRunBillingReturnsSummary(t *testing.T) {
	summary := &app.BillingSummary{Processed: 3, Succeeded: 2, Failed: 1}
	router := newTestRouter(&billingRunnerStub{summary: summary}, 0)

	req := httptest.NewRequest(http.MethodPost, "/internal/billing/run", nil)
	req.Header.Set("X-Internal-API-Key", testInternalKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got app.BillingSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode summary: %v", err)
	}
	if got != *summary {
		t.Fatalf("expected summary %+v, got %+v", *summary, got)
	}
}

func TestRunBillingSurfacesUnexpectedErrorsWithSummary(t *testing.T) {
	summary := &app.BillingSummary{Processed: 2, Succeeded: 1, Failed: 1}
	runErr := errors.New("failed to claim subscription sub-9: connection reset")
	router := newTestRouter(&billingRunnerStub{summary: summary, err: runErr}, 0)

	req := httptest.NewRequest(http.MethodPost, "/internal/billing/run", nil)
	req.Header.Set("X-Internal-API-Key", testInternalKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for a run with unexpected errors, got %d", rec.Code)
	}
	var got struct {
		Summary app.BillingSummary `json:"summary"`
		Errors  string             `json:"errors"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got.Summary != *summary {
		t.Fatalf("expected the summary alongside the errors, got %+v", got.Summary)
	}
	if !strings.Contains(got.Errors, "sub-9") {
		t.Fatalf("expected the error detail in the body, got %q", got.Errors)
	}
}

func TestExpireLapsedReturnsSweptCount(t *testing.T) {
	router := newTestRouter(&billingRunnerStub{}, 7)

	req := httptest.NewRequest(http.MethodPost, "/internal/billing/expire-lapsed", nil)
	req.Header.Set("X-Internal-API-Key", testInternalKey)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if got["swept"] != 7 {
		t.Fatalf("expected 7 swept rows, got %d", got["swept"])
	}
}

func TestInternalAuthMiddleware_EmptyConfiguredKeyRejectsEverything(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a configured key")
	})
	handler := InternalAuthMiddleware("")(next)

	req := httptest.NewRequest(http.MethodPost, "/internal/billing/run", nil)
	req.Header.Set("X-Internal-API-Key", "")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
