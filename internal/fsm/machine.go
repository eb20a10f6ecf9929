// ABOUTME: Pure transition function from (session, parsed input) to a Decision.
// ABOUTME: Performs no I/O; the engine executes the returned effect.

package fsm

import (
	"strings"

	"github.com/bitsacco/sacco-gateway/internal/command"
	"github.com/bitsacco/sacco-gateway/internal/session"
)

// Load methods accepted at the method prompt.
const (
	MethodMpesa = "mpesa"
	MethodBank  = "bank"
	MethodCard  = "card"
)

// Options tune decisions without changing the transition table.
type Options struct {
	// AIEnabled routes unrecognized text from signed-in users to the AI layer.
	AIEnabled bool
	// MinAmount and MaxAmount bound load and withdraw amounts; zero disables a bound.
	MinAmount float64
	MaxAmount float64
	Currency  string
}

func (o Options) currency() string {
	if o.Currency == "" {
		return "KES"
	}
	return o.Currency
}

// Decide returns the next state and effect for input in the session's
// current state. It never mutates s.
func Decide(s *session.Session, in command.Input, opts Options) Decision {
	if !s.Consistent() {
		return corrupt(string(s.State))
	}

	if in.Command == command.Logout {
		return Decision{Next: session.StateInit, Effect: Logout{}}
	}

	switch s.State {
	case session.StateInit:
		return decideInit(in)
	case session.StateAwaitingPhone:
		return decideAwaitingPhone(s, in)
	case session.StateAwaitingOTP:
		return decideAwaitingOTP(s, in)
	case session.StateAuthenticated:
		return decideAuthenticated(s, in, opts)
	case session.StateAwaitingLoadAmount:
		return decideLoadAmount(s, in, opts)
	case session.StateAwaitingLoadMethod:
		return decideLoadMethod(s, in, opts)
	case session.StateAwaitingWithdrawAmount:
		return decideWithdrawAmount(s, in, opts)
	}
	return corrupt(string(s.State))
}

func corrupt(reason string) Decision {
	return Decision{
		Next:   session.StateInit,
		Effect: Reset{Reason: reason},
		Err:    ErrSessionCorrupt,
	}
}

// stay keeps the current state and its scratch values.
func stay(s *session.Session, e Effect, err error) Decision {
	return Decision{Next: s.State, Pending: s.Pending, Effect: e, Err: err}
}

func reply(s *session.Session, text string, err error) Decision {
	return stay(s, SendText{Text: text}, err)
}

func decideInit(in command.Input) Decision {
	text := MsgWelcome
	if in.Command.RequiresAuth() {
		text = MsgSignInFirst + "\n\n" + MsgWelcome
	}
	return Decision{Next: session.StateAwaitingPhone, Effect: SendText{Text: text}}
}

// guestCommand answers commands that need no account. It reports false
// when the input is not one of them.
func guestCommand(s *session.Session, in command.Input, prompt string) (Decision, bool) {
	switch in.Command {
	case command.Start:
		return Decision{Next: session.StateAwaitingPhone, Effect: SendText{Text: MsgWelcome}}, true
	case command.Help:
		return reply(s, MsgGuestHelp+"\n\n"+prompt, nil), true
	case command.Price:
		return stay(s, FetchPrice{}, nil), true
	case command.Education:
		return reply(s, MsgEducation, nil), true
	case command.Language:
		return reply(s, MsgLanguage, nil), true
	}
	if in.Command.RequiresAuth() {
		return reply(s, MsgSignInFirst+"\n\n"+prompt, ErrValidation), true
	}
	return Decision{}, false
}

func decideAwaitingPhone(s *session.Session, in command.Input) Decision {
	if d, ok := guestCommand(s, in, MsgPhonePrompt); ok {
		return d
	}
	if in.Command == command.Cancel {
		return reply(s, MsgPhonePrompt, nil)
	}

	phone := NormalizePhone(in.Text)
	if !ValidPhone(phone) {
		return reply(s, MsgInvalidPhone, ErrValidation)
	}
	return Decision{
		Next:   session.StateAwaitingOTP,
		Phone:  phone,
		Effect: RequestOTP{Phone: phone},
	}
}

func decideAwaitingOTP(s *session.Session, in command.Input) Decision {
	if d, ok := guestCommand(s, in, MsgOTPPrompt); ok {
		return d
	}
	if in.Command == command.Cancel {
		return Decision{Next: session.StateAwaitingPhone, Effect: SendText{Text: MsgPhonePrompt}}
	}

	// Anything but a six digit code, including a different phone number,
	// is rejected in place.
	code, ok := ParseOTP(in.Text)
	if !ok {
		return reply(s, MsgInvalidOTP, ErrValidation)
	}
	return Decision{
		Next:   session.StateAuthenticated,
		Effect: VerifyOTP{Phone: s.Phone, Code: code},
	}
}

func decideAuthenticated(s *session.Session, in command.Input, opts Options) Decision {
	switch in.Command {
	case command.Balance:
		return Decision{Next: session.StateAuthenticated, Effect: CallWallet{Op: OpBalance}}
	case command.History:
		return Decision{Next: session.StateAuthenticated, Effect: CallWallet{Op: OpHistory}}
	case command.Load:
		if in.Amount > 0 {
			return acceptLoadAmount(s, in.Amount, opts)
		}
		return Decision{Next: session.StateAwaitingLoadAmount, Effect: SendText{Text: MsgLoadAmountPrompt}}
	case command.Withdraw:
		if in.Amount > 0 {
			return acceptWithdrawAmount(s, in.Amount, opts)
		}
		return Decision{Next: session.StateAwaitingWithdrawAmount, Effect: SendText{Text: MsgWithdrawAmountPrompt}}
	case command.Price:
		return Decision{Next: session.StateAuthenticated, Effect: FetchPrice{}}
	case command.Help:
		return Decision{Next: session.StateAuthenticated, Effect: SendText{Text: MsgHelp}}
	case command.Education:
		return Decision{Next: session.StateAuthenticated, Effect: SendText{Text: MsgEducation}}
	case command.Language:
		return Decision{Next: session.StateAuthenticated, Effect: SendText{Text: MsgLanguage}}
	case command.Start:
		return Decision{Next: session.StateAuthenticated, Effect: SendText{Text: MsgWelcomeBack}}
	case command.Cancel:
		if s.State != session.StateAuthenticated {
			return Decision{Next: session.StateAuthenticated, Effect: SendText{Text: MsgCancelled}}
		}
		return Decision{Next: session.StateAuthenticated, Effect: SendText{Text: MsgNothingToCancel}}
	}

	// A repeated sign-in code changes nothing and never reaches the AI layer.
	if s.State == session.StateAuthenticated && bareOTP(in.Text) {
		return Decision{Next: session.StateAuthenticated, Effect: SendText{Text: MsgAlreadySignedIn}}
	}

	if opts.AIEnabled && !in.Empty() {
		return Decision{Next: session.StateAuthenticated, Effect: CallAI{Text: in.Text}}
	}
	return Decision{Next: session.StateAuthenticated, Effect: SendText{Text: MsgHelp}, Err: ErrUnknownCommand}
}

func checkAmount(amount float64, opts Options) (string, bool) {
	switch {
	case amount <= 0:
		return MsgInvalidAmount, false
	case opts.MinAmount > 0 && amount < opts.MinAmount:
		return AmountBelowMin(opts.MinAmount, opts.currency()), false
	case opts.MaxAmount > 0 && amount > opts.MaxAmount:
		return AmountAboveMax(opts.MaxAmount, opts.currency()), false
	}
	return "", true
}

func acceptLoadAmount(s *session.Session, amount float64, opts Options) Decision {
	if msg, ok := checkAmount(amount, opts); !ok {
		return reply(s, msg, ErrValidation)
	}
	return Decision{
		Next:    session.StateAwaitingLoadMethod,
		Pending: session.Pending{Amount: amount},
		Effect:  SendText{Text: MethodPrompt(amount, opts.currency())},
	}
}

func acceptWithdrawAmount(s *session.Session, amount float64, opts Options) Decision {
	if msg, ok := checkAmount(amount, opts); !ok {
		return reply(s, msg, ErrValidation)
	}
	return Decision{
		Next:   session.StateAuthenticated,
		Effect: CallWallet{Op: OpWithdraw, Amount: amount},
	}
}

// In the amount and method prompts, a recognized command leaves the flow and
// is handled as if the user were at the main menu.

func decideLoadAmount(s *session.Session, in command.Input, opts Options) Decision {
	if !in.Freeform() {
		return decideAuthenticated(s, in, opts)
	}
	amount, ok := command.ExtractAmount(in.Text)
	if !ok {
		return reply(s, MsgInvalidAmount, ErrValidation)
	}
	return acceptLoadAmount(s, amount, opts)
}

func decideLoadMethod(s *session.Session, in command.Input, opts Options) Decision {
	if !in.Freeform() {
		return decideAuthenticated(s, in, opts)
	}
	method, ok := ParseMethod(in.Text)
	if !ok {
		return reply(s, MsgInvalidMethod, ErrValidation)
	}
	return Decision{
		Next:   session.StateAuthenticated,
		Effect: CallWallet{Op: OpLoad, Amount: s.Pending.Amount, Method: method},
	}
}

func decideWithdrawAmount(s *session.Session, in command.Input, opts Options) Decision {
	if !in.Freeform() {
		return decideAuthenticated(s, in, opts)
	}
	amount, ok := command.ExtractAmount(in.Text)
	if !ok {
		return reply(s, MsgInvalidAmount, ErrValidation)
	}
	return acceptWithdrawAmount(s, amount, opts)
}

// ParseMethod accepts mpesa, bank, or card in any case, with common
// spellings like "M-Pesa" and the menu numbers 1 to 3.
func ParseMethod(text string) (string, bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	t = strings.NewReplacer("-", "", " ", "", "_", "").Replace(t)
	switch t {
	case "mpesa", "1":
		return MethodMpesa, true
	case "bank", "banktransfer", "2":
		return MethodBank, true
	case "card", "visa", "mastercard", "3":
		return MethodCard, true
	}
	return "", false
}
