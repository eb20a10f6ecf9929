// ABOUTME: Wallet backend domain types and sentinel errors.
// ABOUTME: Shared by the HTTP client and the in-memory sandbox.

package wallet

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when the backend has no such user or account.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is returned when the backend rejects our API key.
	ErrUnauthorized = errors.New("wallet backend rejected credentials")
	// ErrUnavailable is returned when retries are exhausted.
	ErrUnavailable = errors.New("wallet backend unavailable")
)

// StatusError is a non-retryable error response from the backend.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("wallet backend returned status %d: %s", e.Code, e.Message)
}

// User is a registered member.
type User struct {
	ID     string `json:"id"`
	Phone  string `json:"phone_number"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// Balance is an account's savings.
type Balance struct {
	Amount   float64
	Currency string
	// BTC is nil when the backend reports no Bitcoin holdings.
	BTC *float64
}

// OTPResult confirms a code was dispatched.
type OTPResult struct {
	Sent      bool
	RequestID string
	ExpiresIn time.Duration
}

// Verification is the outcome of checking a code.
type Verification struct {
	Valid     bool
	AccountID string
	Message   string
}

// LoadResult describes a started deposit.
type LoadResult struct {
	TransactionID string
	Status        string
	// Instructions tell the user how to complete payment, e.g. an M-Pesa prompt.
	Instructions string
	Message      string
}

// WithdrawResult describes a started withdrawal.
type WithdrawResult struct {
	TransactionID string
	Status        string
	Message       string
}

// Transaction is one history entry.
type Transaction struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Amount   float64   `json:"amount"`
	Currency string    `json:"currency"`
	Date     time.Time `json:"date"`
	Status   string    `json:"status"`
}
