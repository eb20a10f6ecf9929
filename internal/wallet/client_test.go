// ABOUTME: Tests for the wallet HTTP client against an httptest backend
// ABOUTME: Covers request shapes, status mapping, retries, and idempotency keys

package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		BaseURL:    srv.URL + "/",
		APIKey:     "secret",
		RetryDelay: time.Millisecond,
		MaxRetries: 3,
	})
}

func TestClient_SendOTP(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/send-otp", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("Idempotency-Key"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "+254712345678", body["phone_number"])
		assert.Equal(t, "sms", body["channel"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"request_id":"r-1","expires_in":300}`))
	})

	res, err := c.SendOTP(context.Background(), "+254712345678")
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, "r-1", res.RequestID)
	assert.Equal(t, 5*time.Minute, res.ExpiresIn)
}

func TestClient_VerifyOTP(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["otp_code"] == "123456" {
			_, _ = w.Write([]byte(`{"valid":true,"user_id":"acct-1"}`))
			return
		}
		_, _ = w.Write([]byte(`{"valid":false,"message":"Invalid OTP"}`))
	})

	v, err := c.VerifyOTP(context.Background(), "+254712345678", "123456")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, "acct-1", v.AccountID)

	v, err = c.VerifyOTP(context.Background(), "+254712345678", "000000")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Empty(t, v.AccountID)
	assert.Equal(t, "Invalid OTP", v.Message)
}

func TestClient_GetBalance(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/acct-1/balance", r.URL.Path)
		_, _ = w.Write([]byte(`{"kes_balance":1500.5,"btc_balance":0.0012}`))
	})

	b, err := c.GetBalance(context.Background(), "acct-1")
	require.NoError(t, err)
	assert.Equal(t, 1500.5, b.Amount)
	assert.Equal(t, "KES", b.Currency)
	require.NotNil(t, b.BTC)
	assert.Equal(t, 0.0012, *b.BTC)
}

func TestClient_GetHistory(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/acct-1/transactions", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "desc", r.URL.Query().Get("order"))
		_, _ = w.Write([]byte(`{"transactions":[{"id":"t1","type":"deposit","amount":500,"currency":"KES","date":"2026-01-02T10:00:00Z","status":"completed"}]}`))
	})

	txs, err := c.GetHistory(context.Background(), "acct-1", 5)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "deposit", txs[0].Type)
	assert.Equal(t, 2026, txs[0].Date.Year())
}

func TestClient_LoadMoney(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/deposits", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "acct-1", body["user_id"])
		assert.Equal(t, 500.0, body["amount"])
		assert.Equal(t, "mpesa", body["payment_method"])
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"transaction_id":"tx-9","status":"pending","payment_instructions":"Check your phone for the M-Pesa prompt"}`))
	})

	res, err := c.LoadMoney(context.Background(), "acct-1", 500, "mpesa")
	require.NoError(t, err)
	assert.Equal(t, "tx-9", res.TransactionID)
	assert.Equal(t, "Check your phone for the M-Pesa prompt", res.Instructions)
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, ErrNotFound},
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := c.LookupUser(context.Background(), "+254712345678")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"insufficient funds"}`))
	})

	_, err := c.Withdraw(context.Background(), "acct-1", 100)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnprocessableEntity, se.Code)
	assert.Equal(t, "insufficient funds", se.Message)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_RetriesServerErrorsWithSameIdempotencyKey(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		n := len(keys)
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"transaction_id":"tx-1","status":"pending"}`))
	})

	res, err := c.Withdraw(context.Background(), "acct-1", 100)
	require.NoError(t, err)
	assert.Equal(t, "tx-1", res.TransactionID)

	require.Len(t, keys, 3)
	assert.Equal(t, keys[0], keys[1])
	assert.Equal(t, keys[0], keys[2])
}

func TestClient_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.GetBalance(context.Background(), "acct-1")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(4), calls.Load())
}

func TestClient_RetriesNetworkErrors(t *testing.T) {
	c := NewClient(Config{
		BaseURL:    "http://127.0.0.1:1",
		RetryDelay: time.Millisecond,
		MaxRetries: 2,
	})
	err := c.Health(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClient_ContextCancelStopsRetries(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c.retryDelay = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.Health(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
