// Package httpgw talks to a payment gateway over JSON/HTTP.
package httpgw

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client maps HTTP results onto the gateway error taxonomy: 2xx is a
// receipt, 4xx a definitive rejection, and 5xx, 429 or a network failure
// is transient.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type apiError struct {
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

func (c *Client) Submit(ctx context.Context, req models.SubmitRequest) (models.Receipt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return models.Receipt{}, fmt.Errorf("encode submit request: %w", err)
	}
	var receipt models.Receipt
	op := string(req.Operation)
	if err := c.do(ctx, op, http.MethodPost, "/v1/operations", body, req.IdempotencyKey, &receipt); err != nil {
		return models.Receipt{}, err
	}
	if receipt.RemoteRef == "" {
		return models.Receipt{}, &models.TransientGatewayError{Op: op, Err: errors.New("receipt without remote reference")}
	}
	return receipt, nil
}

func (c *Client) FetchRate(ctx context.Context, pair models.CurrencyPair) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("base", string(pair.Base))
	q.Set("quote", string(pair.Quote))
	var out struct {
		Rate decimal.Decimal `json:"rate"`
	}
	if err := c.do(ctx, "rate", http.MethodGet, "/v1/rates?"+q.Encode(), nil, "", &out); err != nil {
		return decimal.Zero, err
	}
	if !out.Rate.IsPositive() {
		return decimal.Zero, &models.DefinitiveGatewayError{Reason: "non-positive rate for " + pair.String(), Code: "invalid_rate"}
	}
	return out.Rate, nil
}

func (c *Client) GenerateAddress(ctx context.Context, cur models.Currency) (string, error) {
	body, err := json.Marshal(map[string]models.Currency{"currency": cur})
	if err != nil {
		return "", err
	}
	var out struct {
		Address string `json:"address"`
	}
	if err := c.do(ctx, "address", http.MethodPost, "/v1/addresses", body, "", &out); err != nil {
		return "", err
	}
	if out.Address == "" {
		return "", &models.DefinitiveGatewayError{Reason: "empty address", Code: "invalid_address"}
	}
	return out.Address, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body []byte, idempotencyKey string, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &models.TransientGatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &models.TransientGatewayError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if err := json.Unmarshal(data, out); err != nil {
			// the call may have been applied; only a retry with the same key can tell
			return &models.TransientGatewayError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode >= 500:
		return &models.TransientGatewayError{Op: op, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	default:
		var apiErr apiError
		_ = json.Unmarshal(data, &apiErr)
		if apiErr.Reason == "" {
			apiErr.Reason = strings.TrimSpace(string(data))
		}
		if apiErr.Reason == "" {
			apiErr.Reason = http.StatusText(resp.StatusCode)
		}
		if apiErr.Code == "" {
			apiErr.Code = fmt.Sprintf("http_%d", resp.StatusCode)
		}
		return &models.DefinitiveGatewayError{Reason: apiErr.Reason, Code: apiErr.Code}
	}
}
