// ABOUTME: Per-user conversation session: state, identity, scratch values, history.
// ABOUTME: Transition enforces the invariants tying account and pending data to state.

package session

import (
	"time"

	"github.com/bitsacco/sacco-gateway/internal/history"
)

// State is the conversation state of a session.
type State string

const (
	StateInit                   State = "init"
	StateAwaitingPhone          State = "awaiting_phone"
	StateAwaitingOTP            State = "awaiting_otp"
	StateAuthenticated          State = "authenticated"
	StateAwaitingLoadAmount     State = "awaiting_load_amount"
	StateAwaitingLoadMethod     State = "awaiting_load_method"
	StateAwaitingWithdrawAmount State = "awaiting_withdraw_amount"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StateInit, StateAwaitingPhone, StateAwaitingOTP, StateAuthenticated,
		StateAwaitingLoadAmount, StateAwaitingLoadMethod, StateAwaitingWithdrawAmount:
		return true
	}
	return false
}

// Authenticated reports whether s belongs to the signed-in family of states,
// the only states in which a session may carry an account ID.
func (s State) Authenticated() bool {
	switch s {
	case StateAuthenticated, StateAwaitingLoadAmount, StateAwaitingLoadMethod, StateAwaitingWithdrawAmount:
		return true
	}
	return false
}

// holdsPending reports whether scratch values survive entering s.
func (s State) holdsPending() bool {
	return s == StateAwaitingLoadMethod
}

// Pending carries values collected across prompts of a multi-step flow.
type Pending struct {
	Amount float64
}

// Session is the conversation state for one channel-scoped user.
type Session struct {
	UserID       string
	Channel      string
	State        State
	Phone        string
	AccountID    string
	Pending      Pending
	History      *history.Buffer
	CreatedAt    time.Time
	LastActivity time.Time

	// Version is bumped by every save. The reaper deletes a session only if
	// the version it scanned is still current.
	Version uint64
}

// New creates a session in StateInit.
func New(userID, channel string, historyLimit int, now time.Time) *Session {
	return &Session{
		UserID:       userID,
		Channel:      channel,
		State:        StateInit,
		History:      history.New(historyLimit),
		CreatedAt:    now,
		LastActivity: now,
	}
}

// Transition moves the session to next, dropping data the next state may not hold.
func (s *Session) Transition(next State) {
	s.State = next
	if !next.holdsPending() {
		s.Pending = Pending{}
	}
	if !next.Authenticated() {
		s.AccountID = ""
	}
	if next == StateInit || next == StateAwaitingPhone {
		s.Phone = ""
	}
}

// Reset returns the session to StateInit, keeping identity and history.
func (s *Session) Reset() {
	s.Transition(StateInit)
}

// Touch records activity at t.
func (s *Session) Touch(t time.Time) {
	if t.After(s.LastActivity) {
		s.LastActivity = t
	}
}

// Consistent reports whether the session satisfies the state invariants.
func (s *Session) Consistent() bool {
	if !s.State.Valid() {
		return false
	}
	if s.State.Authenticated() != (s.AccountID != "") {
		return false
	}
	if s.State == StateAwaitingOTP && s.Phone == "" {
		return false
	}
	if s.State == StateAwaitingLoadMethod && s.Pending.Amount <= 0 {
		return false
	}
	return true
}

// Clone returns a copy whose history can be mutated independently.
func (s *Session) Clone() *Session {
	c := *s
	c.History = s.History.Clone()
	return &c
}
