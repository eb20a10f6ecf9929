// ABOUTME: HTTP client for the SACCO wallet backend with retry and backoff
// ABOUTME: Retries 5xx, timeouts and network errors; money-moving calls carry an idempotency key

package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
	otpAction         = "chat_login"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	Currency   string
}

// Client talks JSON over HTTP to the wallet backend.
type Client struct {
	baseURL    string
	apiKey     string
	currency   string
	maxRetries int
	retryDelay time.Duration
	client     *http.Client
	logger     *slog.Logger
}

// NewClient creates a wallet client. Zero values use the defaults; a negative
// MaxRetries disables retries.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	switch {
	case cfg.MaxRetries == 0:
		cfg.MaxRetries = defaultMaxRetries
	case cfg.MaxRetries < 0:
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.Currency == "" {
		cfg.Currency = "KES"
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		currency:   cfg.Currency,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     slog.Default().With("component", "wallet"),
	}
}

// Health checks the backend is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil, nil)
}

// LookupUser finds a member by phone. It returns ErrNotFound for unknown numbers.
func (c *Client) LookupUser(ctx context.Context, phone string) (*User, error) {
	var u User
	if err := c.do(ctx, http.MethodGet, "/users/phone/"+url.PathEscape(phone), nil, nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

type sendOTPRequest struct {
	Phone   string `json:"phone_number"`
	Action  string `json:"action"`
	Channel string `json:"channel"`
}

type sendOTPResponse struct {
	RequestID string `json:"request_id"`
	ExpiresIn int    `json:"expires_in"`
}

// SendOTP asks the backend to text a one-time code to phone.
func (c *Client) SendOTP(ctx context.Context, phone string) (*OTPResult, error) {
	var resp sendOTPResponse
	req := sendOTPRequest{Phone: phone, Action: otpAction, Channel: "sms"}
	if err := c.do(ctx, http.MethodPost, "/auth/send-otp", nil, req, &resp); err != nil {
		return nil, err
	}
	return &OTPResult{
		Sent:      true,
		RequestID: resp.RequestID,
		ExpiresIn: time.Duration(resp.ExpiresIn) * time.Second,
	}, nil
}

type verifyOTPRequest struct {
	Phone  string `json:"phone_number"`
	Code   string `json:"otp_code"`
	Action string `json:"action"`
}

type verifyOTPResponse struct {
	Valid   bool   `json:"valid"`
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// VerifyOTP checks code for phone. An invalid code is not an error.
func (c *Client) VerifyOTP(ctx context.Context, phone, code string) (*Verification, error) {
	var resp verifyOTPResponse
	req := verifyOTPRequest{Phone: phone, Code: code, Action: otpAction}
	if err := c.do(ctx, http.MethodPost, "/auth/verify-otp", nil, req, &resp); err != nil {
		return nil, err
	}
	v := &Verification{Valid: resp.Valid && resp.UserID != "", Message: resp.Message}
	if v.Valid {
		v.AccountID = resp.UserID
	}
	return v, nil
}

type balanceResponse struct {
	KESBalance *float64 `json:"kes_balance"`
	BTCBalance *float64 `json:"btc_balance"`
}

// GetBalance returns the account's savings.
func (c *Client) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	var resp balanceResponse
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(accountID)+"/balance", nil, nil, &resp); err != nil {
		return nil, err
	}
	b := &Balance{Currency: c.currency, BTC: resp.BTCBalance}
	if resp.KESBalance != nil {
		b.Amount = *resp.KESBalance
	}
	return b, nil
}

type loadRequest struct {
	AccountID string  `json:"user_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
	Method    string  `json:"payment_method"`
}

type transactionResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Instructions  string `json:"payment_instructions"`
	Message       string `json:"message"`
}

// LoadMoney starts a deposit into the account.
func (c *Client) LoadMoney(ctx context.Context, accountID string, amount float64, method string) (*LoadResult, error) {
	var resp transactionResponse
	req := loadRequest{AccountID: accountID, Amount: amount, Currency: c.currency, Method: method}
	if err := c.do(ctx, http.MethodPost, "/transactions/deposits", nil, req, &resp); err != nil {
		return nil, err
	}
	return &LoadResult{
		TransactionID: resp.TransactionID,
		Status:        resp.Status,
		Instructions:  resp.Instructions,
		Message:       resp.Message,
	}, nil
}

type withdrawRequest struct {
	AccountID string  `json:"user_id"`
	Amount    float64 `json:"amount"`
	Currency  string  `json:"currency"`
}

// Withdraw starts a withdrawal from the account.
func (c *Client) Withdraw(ctx context.Context, accountID string, amount float64) (*WithdrawResult, error) {
	var resp transactionResponse
	req := withdrawRequest{AccountID: accountID, Amount: amount, Currency: c.currency}
	if err := c.do(ctx, http.MethodPost, "/transactions/withdrawals", nil, req, &resp); err != nil {
		return nil, err
	}
	return &WithdrawResult{
		TransactionID: resp.TransactionID,
		Status:        resp.Status,
		Message:       resp.Message,
	}, nil
}

type historyResponse struct {
	Transactions []Transaction `json:"transactions"`
}

// GetHistory returns the most recent transactions, newest first.
func (c *Client) GetHistory(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", "0")
	q.Set("order", "desc")

	var resp historyResponse
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(accountID)+"/transactions", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Transactions, nil
}

// do sends one logical request, retrying transient failures with exponential
// backoff. POST bodies keep the same Idempotency-Key across attempts.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var idempotencyKey string
	if method == http.MethodPost {
		idempotencyKey = uuid.NewString()
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.retryDelay * time.Duration(1<<(attempt-1))
			c.logger.Warn("retrying wallet request",
				"method", method,
				"path", path,
				"attempt", attempt+1,
				"wait", wait,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		retry, err := c.attempt(ctx, method, u, payload, idempotencyKey, out)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// attempt performs a single HTTP exchange and reports whether a failure is transient.
func (c *Client) attempt(ctx context.Context, method, u string, payload []byte, idempotencyKey string, out any) (bool, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			return false, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
			return false, fmt.Errorf("decoding response: %w", err)
		}
		return false, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return false, ErrUnauthorized
	case resp.StatusCode >= 500:
		return true, handleErrorResponse(resp)
	default:
		return false, handleErrorResponse(resp)
	}
}

// handleErrorResponse extracts the backend's message from an error response.
func handleErrorResponse(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &errResp) == nil {
		if errResp.Message != "" {
			return &StatusError{Code: resp.StatusCode, Message: errResp.Message}
		}
		if errResp.Error != "" {
			return &StatusError{Code: resp.StatusCode, Message: errResp.Error}
		}
	}
	return &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}
