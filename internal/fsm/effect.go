// ABOUTME: Effects and decisions produced by the conversation state machine.
// ABOUTME: Effects are data only; the engine performs the side effects they describe.

package fsm

import (
	"errors"

	"github.com/bitsacco/sacco-gateway/internal/session"
)

// Decision classifications. A nil Err means the input was accepted.
var (
	ErrValidation     = errors.New("invalid input")
	ErrUnknownCommand = errors.New("unknown command")
	ErrSessionCorrupt = errors.New("session corrupt")
)

// WalletOp names a wallet backend operation.
type WalletOp string

const (
	OpBalance  WalletOp = "balance"
	OpLoad     WalletOp = "load"
	OpWithdraw WalletOp = "withdraw"
	OpHistory  WalletOp = "history"
)

// Effect is the single side effect a decision asks the engine to perform.
type Effect interface {
	effect()
}

// SendText replies with a fixed message.
type SendText struct{ Text string }

// CallWallet invokes a wallet operation for the session's account.
type CallWallet struct {
	Op     WalletOp
	Amount float64
	Method string
}

// CallAI forwards the text to the AI layer.
type CallAI struct{ Text string }

// RequestOTP asks the wallet backend to send a one-time code.
type RequestOTP struct{ Phone string }

// VerifyOTP checks a one-time code with the wallet backend.
type VerifyOTP struct {
	Phone string
	Code  string
}

// FetchPrice looks up the current Bitcoin price.
type FetchPrice struct{}

// Logout destroys the session.
type Logout struct{}

// Reset reports an inconsistent session; the engine logs it and starts over.
type Reset struct{ Reason string }

// NoOp does nothing.
type NoOp struct{}

func (SendText) effect()   {}
func (CallWallet) effect() {}
func (CallAI) effect()     {}
func (RequestOTP) effect() {}
func (VerifyOTP) effect()  {}
func (FetchPrice) effect() {}
func (Logout) effect()     {}
func (Reset) effect()      {}
func (NoOp) effect()       {}

// Decision is the outcome of Decide: the state to enter once Effect succeeds.
// If the effect fails the session keeps its previous state.
type Decision struct {
	Next    session.State
	Pending session.Pending
	// Phone is recorded when entering the OTP prompt.
	Phone string
	// AccountID is filled in by the engine after a successful OTP check.
	AccountID string
	Effect    Effect
	Err       error
}

// Apply moves s to the decided state. Scratch values and the account ID are
// only kept when the next state may hold them.
func Apply(s *session.Session, d Decision) {
	s.Transition(d.Next)
	if d.Next == session.StateAwaitingLoadMethod {
		s.Pending = d.Pending
	}
	if d.Phone != "" {
		s.Phone = d.Phone
	}
	if d.AccountID != "" && d.Next.Authenticated() {
		s.AccountID = d.AccountID
	}
}
