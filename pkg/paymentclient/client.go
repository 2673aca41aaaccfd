/**
 * @description
 * Client for the external payment provider. The provider is an opaque remote
 * collaborator: one charge endpoint, a timeout, and a structured error body.
 * A timeout surfaces as an ordinary error so the caller records a failed
 * attempt and retries on its own schedule.
 */
package paymentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a client for the payment provider API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new payment provider client. timeout bounds every
// charge call end to end.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chargeRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type chargeResponse struct {
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// ErrorResponse represents an error from the payment provider API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("payment provider error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown payment provider error"
}

// Charge requests a charge for the given amount and returns the provider's
// reference for it.
func (c *Client) Charge(ctx context.Context, amount int64, currency string, metadata map[string]string) (string, error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("payment provider base URL is not configured")
	}

	body, err := json.Marshal(chargeRequest{Amount: amount, Currency: currency, Metadata: metadata})
	if err != nil {
		return "", fmt.Errorf("failed to marshal charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/charges", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute charge request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read charge response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil || len(errResp.Errors) == 0 {
			return "", fmt.Errorf("payment provider returned status %d", resp.StatusCode)
		}
		return "", &errResp
	}

	var success chargeResponse
	if err := json.Unmarshal(bodyBytes, &success); err != nil {
		return "", fmt.Errorf("failed to decode charge response: %w", err)
	}
	if success.Data.ID == "" {
		return "", fmt.Errorf("payment provider returned no charge reference")
	}

	return success.Data.ID, nil
}
