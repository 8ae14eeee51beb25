// Package payment is the boundary to the external payment processor. Holds
// are placed in manual-capture mode: authorize reserves funds, capture
// transfers them, cancel releases them.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SICKMADE/hobbydork-site-sub001/internal/domain"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

type authorizeRequest struct {
	Amount        string            `json:"amount"`
	Currency      string            `json:"currency"`
	CaptureMethod string            `json:"capture_method"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type authorizeResponse struct {
	AuthorizationID string `json:"authorization_id"`
	ClientSecret    string `json:"client_secret"`
}

func (c *Client) Authorize(ctx context.Context, amount decimal.Decimal, metadata map[string]string) (*domain.Authorization, error) {
	body, err := json.Marshal(authorizeRequest{
		Amount:        amount.StringFixed(2),
		Currency:      "USD",
		CaptureMethod: "manual",
		Metadata:      metadata,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/authorizations", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.setHeaders(req)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, domain.Wrap(domain.KindPaymentGateway, "authorize call failed", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return nil, domain.Errorf(domain.KindPaymentGateway, "authorize returned http %d", res.StatusCode)
	}

	var out authorizeResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, domain.Wrap(domain.KindPaymentGateway, "authorize response malformed", err)
	}
	return &domain.Authorization{ID: out.AuthorizationID, ClientSecret: out.ClientSecret}, nil
}

func (c *Client) Capture(ctx context.Context, authorizationID string) error {
	return c.post(ctx, fmt.Sprintf("/v1/authorizations/%s/capture", authorizationID), false)
}

// Cancel releases a hold. The gateway answers 404 for unknown ids and 409 for
// already-finalized holds; both are success here because cleanup paths race
// with async gateway confirmations.
func (c *Client) Cancel(ctx context.Context, authorizationID string) error {
	return c.post(ctx, fmt.Sprintf("/v1/authorizations/%s/cancel", authorizationID), true)
}

func (c *Client) post(ctx context.Context, path string, tolerateFinalized bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.setHeaders(req)

	res, err := c.http.Do(req)
	if err != nil {
		return domain.Wrap(domain.KindPaymentGateway, "gateway call failed", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 300 {
		return nil
	}
	if tolerateFinalized && (res.StatusCode == http.StatusNotFound || res.StatusCode == http.StatusConflict) {
		return nil
	}
	return domain.Errorf(domain.KindPaymentGateway, "gateway returned http %d for %s", res.StatusCode, path)
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}
