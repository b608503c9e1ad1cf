package httpgw

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/ajo-savings-ledger/internal/models"
)

func submitReq() models.SubmitRequest {
	return models.SubmitRequest{
		Operation: models.OpDisburse, Amount: 49_500, Currency: models.UGX,
		Destination: "256772000111", IdempotencyKey: "key-1",
	}
}

func TestSubmit_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/operations", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var got models.SubmitRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, submitReq(), got)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"remote_ref":"MM-42","confirmed_at":"2026-03-14T10:00:00Z"}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/", APIKey: "secret"})
	receipt, err := c.Submit(context.Background(), submitReq())
	require.NoError(t, err)
	assert.Equal(t, "MM-42", receipt.RemoteRef)
	assert.Equal(t, time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC), receipt.ConfirmedAt)
}

func TestSubmit_ErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		definitive bool
		code       string
	}{
		{"rejected with body", http.StatusUnprocessableEntity, `{"code":"invalid_account","reason":"account closed"}`, true, "invalid_account"},
		{"bad request without body", http.StatusBadRequest, ``, true, "http_400"},
		{"server error", http.StatusBadGateway, `upstream down`, false, ""},
		{"throttled", http.StatusTooManyRequests, ``, false, ""},
		{"malformed success", http.StatusOK, `not json`, false, ""},
		{"success without reference", http.StatusOK, `{}`, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(Config{BaseURL: srv.URL}).Submit(context.Background(), submitReq())
			require.Error(t, err)
			if tt.definitive {
				var d *models.DefinitiveGatewayError
				require.ErrorAs(t, err, &d)
				assert.Equal(t, tt.code, d.Code)
				return
			}
			assert.True(t, models.IsTransient(err), "got %v", err)
		})
	}
}

func TestSubmit_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(Config{BaseURL: url, Timeout: time.Second}).Submit(context.Background(), submitReq())
	assert.True(t, models.IsTransient(err))
}

func TestFetchRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTC", r.URL.Query().Get("base"))
		assert.Equal(t, "UGX", r.URL.Query().Get("quote"))
		_, _ = w.Write([]byte(`{"rate":"250000000"}`))
	}))
	defer srv.Close()

	rate, err := New(Config{BaseURL: srv.URL}).FetchRate(context.Background(), models.CurrencyPair{Base: models.BTC, Quote: models.UGX})
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.NewFromInt(250_000_000)))
}

func TestGenerateAddress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "USDT", body["currency"])
		_, _ = w.Write([]byte(`{"address":"TX9aQ"}`))
	}))
	defer srv.Close()

	addr, err := New(Config{BaseURL: srv.URL}).GenerateAddress(context.Background(), models.USDT)
	require.NoError(t, err)
	assert.Equal(t, "TX9aQ", addr)
}
