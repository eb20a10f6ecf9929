// ABOUTME: Conversation engine: one serialized turn per inbound message per user.
// ABOUTME: Drives the state machine, performs its effects, and replies via the origin adapter.

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/bitsacco/sacco-gateway/internal/ai"
	"github.com/bitsacco/sacco-gateway/internal/command"
	"github.com/bitsacco/sacco-gateway/internal/dedupe"
	"github.com/bitsacco/sacco-gateway/internal/fsm"
	"github.com/bitsacco/sacco-gateway/internal/session"
	"github.com/bitsacco/sacco-gateway/internal/store"
	"github.com/bitsacco/sacco-gateway/internal/wallet"
)

const (
	DefaultCallTimeout = 10 * time.Second

	// historyEntries is how many transactions the history reply shows.
	historyEntries = 5
	// maxAssistantActions caps the actions run for one assistant reply.
	maxAssistantActions = 3

	limiterMessages  = "messages"
	limiterOTPSend   = "otp_request"
	limiterOTPVerify = "otp_verify"
)

// Inbound is a normalized chat message from any channel adapter.
type Inbound struct {
	Channel   string
	UserID    string
	Text      string
	Timestamp time.Time
	// MessageID is the platform's ID, used to drop redeliveries. May be empty.
	MessageID string
}

// Attachment is a file sent along with a reply. Either Data or URL is set.
type Attachment struct {
	Filename string
	MIMEType string
	Data     []byte
	URL      string
}

// Adapter delivers replies to one chat channel.
type Adapter interface {
	Name() string
	SendMessage(ctx context.Context, userID, text string, attachments ...Attachment) error
}

// Wallet defines what the engine needs from the wallet backend.
type Wallet interface {
	LookupUser(ctx context.Context, phone string) (*wallet.User, error)
	SendOTP(ctx context.Context, phone string) (*wallet.OTPResult, error)
	VerifyOTP(ctx context.Context, phone, code string) (*wallet.Verification, error)
	GetBalance(ctx context.Context, accountID string) (*wallet.Balance, error)
	LoadMoney(ctx context.Context, accountID string, amount float64, method string) (*wallet.LoadResult, error)
	Withdraw(ctx context.Context, accountID string, amount float64) (*wallet.WithdrawResult, error)
	GetHistory(ctx context.Context, accountID string, limit int) ([]wallet.Transaction, error)
}

// Assistant answers free text from signed-in users.
type Assistant interface {
	ProcessMessage(ctx context.Context, req ai.Request) (*ai.Reply, error)
}

// PriceFeed quotes the Bitcoin price in a currency.
type PriceFeed interface {
	CurrentPrice(ctx context.Context, currency string) (float64, error)
}

// AuditLog records security and money-moving events.
type AuditLog interface {
	AppendAuditLog(ctx context.Context, e *store.AuditEntry) error
}

// Config tunes the engine.
type Config struct {
	AIEnabled   bool
	CallTimeout time.Duration
	MinAmount   float64
	MaxAmount   float64
	Currency    string
	// CheckRegistration looks the phone number up before requesting an OTP.
	CheckRegistration bool

	MessageLimit    RateLimit
	OTPRequestLimit RateLimit
	OTPVerifyLimit  RateLimit
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		AIEnabled:         true,
		CallTimeout:       DefaultCallTimeout,
		MinAmount:         100,
		MaxAmount:         50000,
		Currency:          "KES",
		CheckRegistration: true,
		MessageLimit:      RateLimit{Count: 60, Window: time.Minute, Burst: 10},
		OTPRequestLimit:   RateLimit{Count: 3, Window: 10 * time.Minute},
		OTPVerifyLimit:    RateLimit{Count: 5, Window: 5 * time.Minute},
	}
}

// Deps are the engine's collaborators. Sessions and Wallet are required.
type Deps struct {
	Sessions  *session.Store
	Wallet    Wallet
	Assistant Assistant
	Prices    PriceFeed
	Audit     AuditLog
	Dedupe    *dedupe.Cache
	Logger    *slog.Logger
	Now       func() time.Time
}

// Engine handles inbound messages for every channel.
type Engine struct {
	sessions  *session.Store
	wallet    Wallet
	assistant Assistant
	prices    PriceFeed
	audit     AuditLog
	dedupe    *dedupe.Cache
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	// Limits are keyed by user ID for messages and by phone number for
	// OTPs, so signing out or idling does not reset them.
	messageLimits   *keyedLimiter
	otpSendLimits   *keyedLimiter
	otpVerifyLimits *keyedLimiter

	mu       sync.RWMutex
	adapters map[string]Adapter
}

// New creates an engine.
func New(deps Deps, cfg Config) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.Currency == "" {
		cfg.Currency = "KES"
	}
	return &Engine{
		sessions:  deps.Sessions,
		wallet:    deps.Wallet,
		assistant: deps.Assistant,
		prices:    deps.Prices,
		audit:     deps.Audit,
		dedupe:    deps.Dedupe,
		cfg:       cfg,
		logger:    deps.Logger.With("component", "engine"),
		now:       deps.Now,

		messageLimits:   newKeyedLimiter(cfg.MessageLimit),
		otpSendLimits:   newKeyedLimiter(cfg.OTPRequestLimit),
		otpVerifyLimits: newKeyedLimiter(cfg.OTPVerifyLimit),

		adapters: make(map[string]Adapter),
	}
}

// RegisterAdapter routes replies for a.Name() to a.
func (e *Engine) RegisterAdapter(a Adapter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.adapters[a.Name()] = a
}

func (e *Engine) adapter(channel string) Adapter {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.adapters[channel]
}

// Adapters lists the registered channel names.
func (e *Engine) Adapters() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.adapters))
	for name := range e.adapters {
		names = append(names, name)
	}
	return names
}

func (e *Engine) fsmOptions() fsm.Options {
	return fsm.Options{
		AIEnabled: e.cfg.AIEnabled && e.assistant != nil,
		MinAmount: e.cfg.MinAmount,
		MaxAmount: e.cfg.MaxAmount,
		Currency:  e.cfg.Currency,
	}
}

// turn carries the state of one HandleInbound call.
type turn struct {
	ctx     context.Context
	lease   *session.Lease
	s       *session.Session
	in      Inbound
	logger  *slog.Logger
	deleted bool
}

// outcome is a turn's reply and its classification.
type outcome struct {
	text        string
	attachments []Attachment
	err         error
}

// HandleInbound runs one turn for in and replies through the adapter
// registered for in.Channel. Turns for the same user run one at a time and
// each reply is sent before the next turn starts. It never returns an error;
// failures are logged and answered.
func (e *Engine) HandleInbound(ctx context.Context, in Inbound) {
	logger := e.logger.With("channel", in.Channel, "user_id", in.UserID)

	if e.dedupe != nil && e.dedupe.Seen(in.Channel, in.MessageID) {
		logger.Debug("dropping duplicate message", "message_id", in.MessageID)
		return
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = e.now()
	}

	lease := e.sessions.Acquire(in.UserID, in.Channel)
	defer lease.Release()

	t := &turn{ctx: ctx, lease: lease, s: lease.Session(), in: in, logger: logger}
	out := e.run(t)

	if out.text == "" && len(out.attachments) == 0 {
		return
	}
	e.deliver(t, out)
}

func (e *Engine) run(t *turn) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic during turn", "panic", r, "stack", string(debug.Stack()))
			out = outcome{text: fsm.MsgTryAgain, err: fmt.Errorf("panic: %v", r)}
		}
	}()

	t.s.Touch(e.now())
	t.s.History.AppendUser(t.in.Text, t.in.Timestamp)

	if !e.messageLimits.Allow(t.in.UserID, e.now()) {
		e.record(t, store.AuditRateLimited, map[string]any{"limit": limiterMessages})
		out = outcome{text: fsm.MsgSlowDown, err: ErrRateLimited}
	} else {
		out = e.dispatch(t, command.Parse(t.in.Text), e.fsmOptions(), 0)
	}

	if !t.deleted {
		if out.text != "" {
			t.s.History.AppendAssistant(out.text, e.now())
		}
		t.lease.Save()
	}

	t.logger.Debug("turn complete", "state", t.s.State, "outcome", classify(out.err))
	return out
}

func (e *Engine) dispatch(t *turn, in command.Input, opts fsm.Options, depth int) outcome {
	d := fsm.Decide(t.s, in, opts)
	return e.execute(t, in, d, opts, depth)
}

// execute performs d's effect and applies d only if the effect succeeded.
func (e *Engine) execute(t *turn, in command.Input, d fsm.Decision, opts fsm.Options, depth int) outcome {
	switch eff := d.Effect.(type) {
	case fsm.SendText:
		fsm.Apply(t.s, d)
		return outcome{text: eff.Text, err: d.Err}
	case fsm.NoOp:
		fsm.Apply(t.s, d)
		return outcome{err: d.Err}
	case fsm.Reset:
		t.logger.Error("session inconsistent, starting over", "state", t.s.State, "reason", eff.Reason)
		t.s.Reset()
		e.record(t, store.AuditSessionReset, map[string]any{"reason": eff.Reason})
		return outcome{text: fsm.MsgSessionReset, err: d.Err}
	case fsm.Logout:
		wasSignedIn := t.s.State.Authenticated()
		t.lease.Delete()
		t.deleted = true
		if wasSignedIn {
			e.record(t, store.AuditSessionLogout, nil)
		}
		return outcome{text: fsm.MsgLoggedOut}
	case fsm.RequestOTP:
		return e.requestOTP(t, d, eff)
	case fsm.VerifyOTP:
		return e.verifyOTP(t, d, eff)
	case fsm.CallWallet:
		return e.callWallet(t, d, eff)
	case fsm.FetchPrice:
		return e.fetchPrice(t, d)
	case fsm.CallAI:
		return e.callAssistant(t, in, d, eff, opts, depth)
	}
	t.logger.Error("unhandled effect", "effect", fmt.Sprintf("%T", d.Effect))
	return outcome{text: fsm.MsgTryAgain, err: fmt.Errorf("unhandled effect %T", d.Effect)}
}

func (e *Engine) callContext(t *turn) (context.Context, context.CancelFunc) {
	return context.WithTimeout(t.ctx, e.cfg.CallTimeout)
}

func (e *Engine) backendFailure(t *turn, op string, err error) outcome {
	t.logger.Warn("backend call failed", "op", op, "state", t.s.State, "error", err)
	return outcome{text: fsm.MsgTryAgain, err: unavailable(op, err)}
}

func (e *Engine) requestOTP(t *turn, d fsm.Decision, eff fsm.RequestOTP) outcome {
	masked := fsm.MaskPhone(eff.Phone)
	if !e.otpSendLimits.Allow(eff.Phone, e.now()) {
		e.record(t, store.AuditRateLimited, map[string]any{"limit": limiterOTPSend, "phone": masked})
		return outcome{text: fsm.MsgOTPLimited, err: ErrRateLimited}
	}

	ctx, cancel := e.callContext(t)
	defer cancel()

	if e.cfg.CheckRegistration {
		if _, err := e.wallet.LookupUser(ctx, eff.Phone); err != nil {
			if errors.Is(err, wallet.ErrNotFound) {
				t.logger.Info("otp requested for unregistered phone", "phone", masked)
				return outcome{text: fsm.MsgNotRegistered, err: fmt.Errorf("%w: phone not registered", ErrValidation)}
			}
			return e.backendFailure(t, "lookup user", err)
		}
	}

	res, err := e.wallet.SendOTP(ctx, eff.Phone)
	if err != nil {
		return e.backendFailure(t, "send otp", err)
	}
	if !res.Sent {
		return e.backendFailure(t, "send otp", errors.New("code not sent"))
	}

	fsm.Apply(t.s, d)
	e.record(t, store.AuditOTPRequested, map[string]any{"phone": masked})
	return outcome{text: fsm.OTPSent(masked)}
}

func (e *Engine) verifyOTP(t *turn, d fsm.Decision, eff fsm.VerifyOTP) outcome {
	masked := fsm.MaskPhone(eff.Phone)
	if !e.otpVerifyLimits.Allow(eff.Phone, e.now()) {
		e.record(t, store.AuditRateLimited, map[string]any{"limit": limiterOTPVerify, "phone": masked})
		return outcome{text: fsm.MsgOTPLimited, err: ErrRateLimited}
	}

	ctx, cancel := e.callContext(t)
	defer cancel()

	v, err := e.wallet.VerifyOTP(ctx, eff.Phone, eff.Code)
	if err != nil {
		return e.backendFailure(t, "verify otp", err)
	}
	if !v.Valid || v.AccountID == "" {
		e.record(t, store.AuditOTPRejected, map[string]any{"phone": masked})
		return outcome{text: fsm.MsgWrongOTP, err: fmt.Errorf("%w: wrong code", ErrValidation)}
	}

	d.AccountID = v.AccountID
	fsm.Apply(t.s, d)
	e.record(t, store.AuditOTPVerified, map[string]any{"phone": masked, "account_id": v.AccountID})
	t.logger.Info("user signed in", "phone", masked)
	return outcome{text: fsm.MsgSignedIn}
}

func (e *Engine) callWallet(t *turn, d fsm.Decision, eff fsm.CallWallet) outcome {
	ctx, cancel := e.callContext(t)
	defer cancel()

	acct := t.s.AccountID
	detail := map[string]any{}
	var (
		text   string
		action store.AuditAction
		err    error
	)
	switch eff.Op {
	case fsm.OpBalance:
		action = store.AuditWalletBalance
		var b *wallet.Balance
		if b, err = e.wallet.GetBalance(ctx, acct); err == nil {
			text = formatBalance(b, e.cfg.Currency)
		}
	case fsm.OpHistory:
		action = store.AuditWalletHistory
		var txs []wallet.Transaction
		if txs, err = e.wallet.GetHistory(ctx, acct, historyEntries); err == nil {
			text = formatHistory(txs, e.cfg.Currency)
		}
	case fsm.OpLoad:
		action = store.AuditWalletLoad
		detail["amount"] = eff.Amount
		detail["method"] = eff.Method
		var r *wallet.LoadResult
		if r, err = e.wallet.LoadMoney(ctx, acct, eff.Amount, eff.Method); err == nil {
			detail["transaction_id"] = r.TransactionID
			text = formatLoad(r, eff.Amount, eff.Method, e.cfg.Currency)
		}
	case fsm.OpWithdraw:
		action = store.AuditWalletWithdraw
		detail["amount"] = eff.Amount
		var r *wallet.WithdrawResult
		if r, err = e.wallet.Withdraw(ctx, acct, eff.Amount); err == nil {
			detail["transaction_id"] = r.TransactionID
			text = formatWithdraw(r, eff.Amount, e.cfg.Currency)
		}
	default:
		err = fmt.Errorf("unknown wallet op %q", eff.Op)
	}

	if err != nil {
		detail["op"] = string(eff.Op)
		detail["error"] = err.Error()
		e.record(t, store.AuditWalletFailed, detail)

		// Neither a rejection nor a transport failure changes state, so a
		// declined amount can be corrected at the same prompt.
		var se *wallet.StatusError
		if errors.As(err, &se) && se.Code < 500 {
			t.logger.Info("wallet declined request", "op", eff.Op, "status", se.Code)
			text := joinReplies(formatDeclined(eff.Op, se.Message), declinedHint(t.s.State))
			return outcome{text: text, err: fmt.Errorf("%s: %w: %w", eff.Op, ErrDeclined, err)}
		}
		return e.backendFailure(t, string(eff.Op), err)
	}

	fsm.Apply(t.s, d)
	e.record(t, action, detail)
	return outcome{text: text}
}

func (e *Engine) fetchPrice(t *turn, d fsm.Decision) outcome {
	if e.prices == nil {
		fsm.Apply(t.s, d)
		return outcome{text: fsm.MsgPriceUnavailable}
	}

	ctx, cancel := e.callContext(t)
	defer cancel()

	price, err := e.prices.CurrentPrice(ctx, e.cfg.Currency)
	if err != nil {
		t.logger.Warn("price lookup failed", "error", err)
		return outcome{text: fsm.MsgPriceUnavailable, err: unavailable("price", err)}
	}
	fsm.Apply(t.s, d)
	return outcome{text: formatPrice(price, e.cfg.Currency)}
}

// callAssistant asks the assistant first and falls back to the state machine
// with the assistant disabled when it fails or declines.
func (e *Engine) callAssistant(t *turn, in command.Input, d fsm.Decision, eff fsm.CallAI, opts fsm.Options, depth int) outcome {
	fallback := func() outcome {
		opts.AIEnabled = false
		return e.dispatch(t, in, opts, depth)
	}
	if e.assistant == nil {
		return fallback()
	}

	ctx, cancel := e.callContext(t)
	defer cancel()

	// The current message is already in history; send only what came before.
	lines := t.s.History.Lines()
	if n := len(lines); n > 0 {
		lines = lines[:n-1]
	}
	reply, err := e.assistant.ProcessMessage(ctx, ai.Request{
		UserID:  t.s.UserID,
		Phone:   t.s.Phone,
		Text:    eff.Text,
		History: lines,
	})
	if err != nil {
		t.logger.Warn("assistant unavailable, using command menu", "error", err)
		return fallback()
	}
	if !reply.Success || (strings.TrimSpace(reply.Text) == "" && len(reply.Actions) == 0) {
		t.logger.Debug("assistant declined message")
		return fallback()
	}

	fsm.Apply(t.s, d)
	out := outcome{text: reply.Text}
	if a, ok := audioAttachment(reply); ok {
		out.attachments = append(out.attachments, a)
	}

	if depth > 0 {
		return out
	}
	opts.AIEnabled = false
	for i, action := range reply.Actions {
		if i == maxAssistantActions {
			t.logger.Debug("dropping extra assistant actions", "count", len(reply.Actions))
			break
		}
		next, ok := actionInput(action)
		if !ok {
			t.logger.Debug("ignoring assistant action", "type", action.Type)
			continue
		}
		sub := e.dispatch(t, next, opts, depth+1)
		out.text = joinReplies(out.text, sub.text)
		out.attachments = append(out.attachments, sub.attachments...)
		if out.err == nil {
			out.err = sub.err
		}
	}
	return out
}

// actionInput maps an assistant action to the command a user would type.
// Withdrawals never carry an amount so the user must confirm it.
func actionInput(a ai.Action) (command.Input, bool) {
	switch strings.ToLower(a.Type) {
	case "balance", "check_balance":
		return command.Input{Command: command.Balance, Text: "balance"}, true
	case "history", "transactions":
		return command.Input{Command: command.History, Text: "history"}, true
	case "price", "btc_price":
		return command.Input{Command: command.Price, Text: "price"}, true
	case "load", "deposit", "save":
		return command.Input{Command: command.Load, Amount: a.Amount, Text: "load"}, true
	case "withdraw":
		return command.Input{Command: command.Withdraw, Text: "withdraw"}, true
	case "help":
		return command.Input{Command: command.Help, Text: "help"}, true
	}
	return command.Input{}, false
}

// record appends to the audit log. Failures are logged and otherwise ignored.
func (e *Engine) record(t *turn, action store.AuditAction, detail map[string]any) {
	if e.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), e.cfg.CallTimeout)
	defer cancel()

	entry := &store.AuditEntry{
		UserID:    t.s.UserID,
		Channel:   t.in.Channel,
		Action:    action,
		Timestamp: e.now(),
		Detail:    detail,
	}
	if err := e.audit.AppendAuditLog(ctx, entry); err != nil {
		t.logger.Warn("failed to record audit event", "action", action, "error", err)
	}
}

func (e *Engine) deliver(t *turn, out outcome) {
	a := e.adapter(t.in.Channel)
	if a == nil {
		t.logger.Error("no adapter registered for channel")
		return
	}
	ctx, cancel := e.callContext(t)
	defer cancel()

	if err := a.SendMessage(ctx, t.in.UserID, out.text, out.attachments...); err != nil {
		t.logger.Warn("failed to send reply", "error", err)
	}
}
