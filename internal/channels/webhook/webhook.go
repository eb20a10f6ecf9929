// ABOUTME: Signed HTTP webhook frontend for external bridge processes
// ABOUTME: Verifies HMAC-SHA256 signed inbound posts and signs reply callbacks the same way

package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bitsacco/sacco-gateway/internal/channels"
	"github.com/bitsacco/sacco-gateway/internal/engine"
)

// Signature headers. The signature is "sha256=" followed by the hex HMAC of
// "<timestamp>.<body>" keyed with the channel secret.
const (
	HeaderSignature = "X-Sacco-Signature"
	HeaderTimestamp = "X-Sacco-Timestamp"
)

// MaxSkew is how far a request timestamp may drift from the gateway clock.
const MaxSkew = 5 * time.Minute

// maxBodyBytes caps an inbound request body.
const maxBodyBytes = 64 << 10

// DefaultTimeout bounds a reply callback.
const DefaultTimeout = 15 * time.Second

// Errors returned by Verify.
var (
	ErrMissingSignature = errors.New("missing signature")
	ErrBadSignature     = errors.New("signature mismatch")
	ErrStaleTimestamp   = errors.New("timestamp outside allowed window")
)

// Config describes one bridged platform.
type Config struct {
	Name        string
	Secret      string
	CallbackURL string
	HTTPClient  *http.Client
	Now         func() time.Time
}

// InboundMessage is the body a bridge posts for each user message.
type InboundMessage struct {
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	MessageID string    `json:"message_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// OutboundMessage is the body the gateway posts to the callback URL.
type OutboundMessage struct {
	Channel     string       `json:"channel"`
	UserID      string       `json:"user_id"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Attachment is a file in an OutboundMessage. Data is base64 in JSON.
type Attachment struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// Adapter receives one channel's inbound posts and delivers its replies.
type Adapter struct {
	name     string
	secret   []byte
	callback string
	client   *http.Client
	handler  channels.Handler
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a webhook adapter for cfg.Name.
func New(cfg Config, handler channels.Handler, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Adapter{
		name:     cfg.Name,
		secret:   []byte(cfg.Secret),
		callback: cfg.CallbackURL,
		client:   client,
		handler:  handler,
		now:      now,
		logger:   logger.With("component", "webhook", "channel", cfg.Name),
	}
}

// Name implements engine.Adapter.
func (a *Adapter) Name() string { return a.name }

// Sign returns the signature header value for body sent at ts.
func Sign(secret []byte, ts time.Time, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	fmt.Fprintf(mac, "%d.", ts.Unix())
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature and timestamp headers against body.
func Verify(secret []byte, header http.Header, body []byte, now time.Time) error {
	sig := header.Get(HeaderSignature)
	rawTS := header.Get(HeaderTimestamp)
	if sig == "" || rawTS == "" {
		return ErrMissingSignature
	}
	unix, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	ts := time.Unix(unix, 0)
	if d := now.Sub(ts); d > MaxSkew || d < -MaxSkew {
		return ErrStaleTimestamp
	}
	if !hmac.Equal([]byte(sig), []byte(Sign(secret, ts, body))) {
		return ErrBadSignature
	}
	return nil
}

// ServeHTTP accepts a signed InboundMessage and runs the turn before
// answering, so a bridge that posts sequentially keeps its users' order.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	if err := Verify(a.secret, r.Header, body, a.now()); err != nil {
		a.logger.Warn("rejected webhook", "error", err, "remote", r.RemoteAddr)
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var msg InboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	msg.UserID = strings.TrimSpace(msg.UserID)
	if msg.UserID == "" || strings.TrimSpace(msg.Text) == "" {
		writeError(w, http.StatusBadRequest, "user_id and text are required")
		return
	}

	// A bridge that gives up waiting must not abort a money-moving turn.
	ctx := context.WithoutCancel(r.Context())
	a.handler.HandleInbound(ctx, engine.Inbound{
		Channel:   a.name,
		UserID:    msg.UserID,
		Text:      msg.Text,
		Timestamp: msg.Timestamp,
		MessageID: msg.MessageID,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_, _ = w.Write([]byte(`{"status":"accepted"}`))
}

// SendMessage implements engine.Adapter by posting a signed OutboundMessage
// to the callback URL.
func (a *Adapter) SendMessage(ctx context.Context, userID, text string, attachments ...engine.Attachment) error {
	out := OutboundMessage{Channel: a.name, UserID: userID, Text: text}
	for _, att := range attachments {
		out.Attachments = append(out.Attachments, Attachment{
			Filename: att.Filename,
			MIMEType: att.MIMEType,
			URL:      att.URL,
			Data:     att.Data,
		})
	}
	body, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("encoding reply: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.callback, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating callback request: %w", err)
	}
	now := a.now()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))
	req.Header.Set(HeaderSignature, Sign(a.secret, now, body))

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting reply to %s: %w", a.name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("posting reply to %s: status %d", a.name, resp.StatusCode)
	}
	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
