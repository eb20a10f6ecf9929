// ABOUTME: In-memory wallet backend for local development and demos.
// ABOUTME: Accepts a fixed OTP and records deposits and withdrawals per account.

package wallet

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSandboxOTP is the code every sandbox phone accepts.
const DefaultSandboxOTP = "123456"

// SandboxBTCPrice is the fixed Bitcoin price the sandbox quotes in KES.
const SandboxBTCPrice = 8_500_000.0

type sandboxAccount struct {
	user    User
	balance float64
	history []Transaction
}

// Sandbox implements the wallet operations without a backend. Deposits
// complete immediately; withdrawals fail when funds are insufficient.
type Sandbox struct {
	mu           sync.Mutex
	otp          string
	autoRegister bool
	currency     string
	byPhone      map[string]*sandboxAccount
	byID         map[string]*sandboxAccount
	now          func() time.Time
}

// NewSandbox creates a sandbox. With autoRegister, any phone number is
// treated as a registered member on first lookup.
func NewSandbox(otp string, autoRegister bool) *Sandbox {
	if otp == "" {
		otp = DefaultSandboxOTP
	}
	return &Sandbox{
		otp:          otp,
		autoRegister: autoRegister,
		currency:     "KES",
		byPhone:      make(map[string]*sandboxAccount),
		byID:         make(map[string]*sandboxAccount),
		now:          time.Now,
	}
}

// Register adds a member and returns their account ID.
func (s *Sandbox) Register(phone, name string, balance float64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registerLocked(phone, name, balance).user.ID
}

func (s *Sandbox) registerLocked(phone, name string, balance float64) *sandboxAccount {
	if a, ok := s.byPhone[phone]; ok {
		return a
	}
	a := &sandboxAccount{
		user:    User{ID: uuid.NewString(), Phone: phone, Name: name, Status: "active"},
		balance: balance,
	}
	s.byPhone[phone] = a
	s.byID[a.user.ID] = a
	return a
}

func (s *Sandbox) Health(ctx context.Context) error { return nil }

func (s *Sandbox) LookupUser(ctx context.Context, phone string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byPhone[phone]
	if !ok {
		if !s.autoRegister {
			return nil, ErrNotFound
		}
		a = s.registerLocked(phone, "", 0)
	}
	u := a.user
	return &u, nil
}

func (s *Sandbox) SendOTP(ctx context.Context, phone string) (*OTPResult, error) {
	if _, err := s.LookupUser(ctx, phone); err != nil {
		return nil, err
	}
	return &OTPResult{Sent: true, RequestID: uuid.NewString(), ExpiresIn: 5 * time.Minute}, nil
}

func (s *Sandbox) VerifyOTP(ctx context.Context, phone, code string) (*Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byPhone[phone]
	if !ok || code != s.otp {
		return &Verification{Valid: false, Message: "Invalid OTP"}, nil
	}
	return &Verification{Valid: true, AccountID: a.user.ID}, nil
}

func (s *Sandbox) account(accountID string) (*sandboxAccount, error) {
	a, ok := s.byID[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}

func (s *Sandbox) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.account(accountID)
	if err != nil {
		return nil, err
	}
	return &Balance{Amount: a.balance, Currency: s.currency}, nil
}

func (s *Sandbox) LoadMoney(ctx context.Context, accountID string, amount float64, method string) (*LoadResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.account(accountID)
	if err != nil {
		return nil, err
	}
	tx := s.recordLocked(a, "deposit", amount)
	a.balance += amount
	return &LoadResult{
		TransactionID: tx.ID,
		Status:        tx.Status,
		Instructions:  fmt.Sprintf("Sandbox %s payment of %s %.2f completed.", method, s.currency, amount),
	}, nil
}

func (s *Sandbox) Withdraw(ctx context.Context, accountID string, amount float64) (*WithdrawResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.account(accountID)
	if err != nil {
		return nil, err
	}
	if amount > a.balance {
		return nil, &StatusError{Code: 422, Message: "insufficient funds"}
	}
	tx := s.recordLocked(a, "withdrawal", amount)
	a.balance -= amount
	return &WithdrawResult{TransactionID: tx.ID, Status: tx.Status}, nil
}

func (s *Sandbox) recordLocked(a *sandboxAccount, kind string, amount float64) Transaction {
	tx := Transaction{
		ID:       uuid.NewString(),
		Type:     kind,
		Amount:   amount,
		Currency: s.currency,
		Date:     s.now().UTC(),
		Status:   "completed",
	}
	a.history = append(a.history, tx)
	return tx
}

func (s *Sandbox) GetHistory(ctx context.Context, accountID string, limit int) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, err := s.account(accountID)
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, limit)
	for i := len(a.history) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, a.history[i])
	}
	return out, nil
}

// CurrentPrice quotes a fixed Bitcoin price. Only the sandbox currency is known.
func (s *Sandbox) CurrentPrice(ctx context.Context, currency string) (float64, error) {
	if !strings.EqualFold(currency, s.currency) {
		return 0, ErrNotFound
	}
	return SandboxBTCPrice, nil
}
