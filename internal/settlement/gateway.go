// Package settlement collects payment for won auctions: it creates the
// settlement record when the closer picks a winner, drives the payment
// gateway, and retries stuck settlements in the background.
package settlement

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Gateway creates and confirms payment intents with an external payment
// provider.
type Gateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	ConfirmIntent(ctx context.Context, intentID string) (Intent, error)
}

// IntentRequest describes the charge to create.
type IntentRequest struct {
	SettlementID string          `json:"settlement_id"`
	AuctionID    string          `json:"auction_id"`
	BuyerID      string          `json:"buyer_id"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
}

// Intent is the gateway's view of a charge.
type Intent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Intent statuses reported by the gateway.
const (
	IntentStatusRequiresConfirmation = "requires_confirmation"
	IntentStatusSucceeded            = "succeeded"
	IntentStatusFailed               = "failed"
)

// HTTPGateway implements Gateway against a REST payment provider.
type HTTPGateway struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPGateway creates an HTTPGateway for the given base URL and API key.
// It uses a default HTTP client with a 15-second timeout.
func NewHTTPGateway(baseURL, apiKey string) *HTTPGateway {
	return &HTTPGateway{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// CreateIntent asks the provider to create a payment intent for the charge.
func (g *HTTPGateway) CreateIntent(ctx context.Context, req IntentRequest) (Intent, error) {
	return g.post(ctx, "/v1/payment_intents", req)
}

// ConfirmIntent captures a previously created intent.
func (g *HTTPGateway) ConfirmIntent(ctx context.Context, intentID string) (Intent, error) {
	return g.post(ctx, "/v1/payment_intents/"+intentID+"/confirm", nil)
}

func (g *HTTPGateway) post(ctx context.Context, path string, payload any) (Intent, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Intent{}, fmt.Errorf("gateway: marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, body)
	if err != nil {
		return Intent{}, fmt.Errorf("gateway: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return Intent{}, fmt.Errorf("gateway: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Intent{}, fmt.Errorf("gateway: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	var intent Intent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return Intent{}, fmt.Errorf("gateway: decode response: %w", err)
	}
	return intent, nil
}

// Compile-time interface check.
var _ Gateway = (*HTTPGateway)(nil)
