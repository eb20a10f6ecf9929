// ABOUTME: Browser chat frontend over WebSocket using coder/websocket
// ABOUTME: Each connection is one chat user; replies are pushed as JSON frames

package webchat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/bitsacco/sacco-gateway/internal/channels"
	"github.com/bitsacco/sacco-gateway/internal/engine"
)

// readLimit caps a single inbound frame.
const readLimit = 16 << 10

// writeTimeout bounds a frame write when the caller's context has no deadline.
const writeTimeout = 10 * time.Second

// userPrefix namespaces web chat user IDs in the session store.
const userPrefix = "webchat:"

// ErrNotConnected is returned by SendMessage when the user has no open socket.
var ErrNotConnected = errors.New("webchat: user not connected")

// Frame types.
const (
	frameSession = "session"
	frameMessage = "message"
	frameReply   = "reply"
	frameError   = "error"
)

// inFrame is a message from the browser.
type inFrame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Text string `json:"text"`
}

// outFrame is pushed to the browser.
type outFrame struct {
	Type        string       `json:"type"`
	UserID      string       `json:"user_id,omitempty"`
	Text        string       `json:"text,omitempty"`
	Attachments []attachment `json:"attachments,omitempty"`
	Error       string       `json:"error,omitempty"`
}

type attachment struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	URL      string `json:"url,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// Config holds the accepted browser origins. Empty means same origin only.
type Config struct {
	AllowedOrigins []string
}

// Adapter serves the chat socket and implements engine.Adapter.
type Adapter struct {
	handler channels.Handler
	origins []string
	logger  *slog.Logger

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// New creates a web chat adapter.
func New(cfg Config, handler channels.Handler, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		handler: handler,
		origins: cfg.AllowedOrigins,
		logger:  logger.With("component", "webchat"),
		conns:   make(map[string]*websocket.Conn),
	}
}

// Name implements engine.Adapter.
func (a *Adapter) Name() string { return channels.WebChat }

// Connected returns the number of open sockets.
func (a *Adapter) Connected() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.conns)
}

// userIDFor resumes the conversation named by the "session" query parameter
// when it is a valid ID, otherwise starts a new one.
func userIDFor(r *http.Request) string {
	if s := r.URL.Query().Get("session"); s != "" {
		if u, err := uuid.Parse(s); err == nil {
			return userPrefix + u.String()
		}
	}
	return userPrefix + uuid.NewString()
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: a.origins,
	})
	if err != nil {
		a.logger.Warn("failed to accept websocket", "error", err, "origin", r.Header.Get("Origin"))
		return
	}
	ws.SetReadLimit(readLimit)

	userID := userIDFor(r)
	logger := a.logger.With("user_id", userID)

	a.register(userID, ws)
	defer a.unregister(userID, ws)

	ctx := r.Context()
	if err := wsjson.Write(ctx, ws, outFrame{Type: frameSession, UserID: strings.TrimPrefix(userID, userPrefix)}); err != nil {
		logger.Debug("failed to send session frame", "error", err)
		return
	}
	logger.Info("web chat connected")

	for {
		var msg inFrame
		if err := wsjson.Read(ctx, ws, &msg); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				logger.Info("web chat closed")
			} else {
				logger.Debug("web chat read error", "error", err)
			}
			return
		}

		if msg.Type != frameMessage || strings.TrimSpace(msg.Text) == "" {
			_ = wsjson.Write(ctx, ws, outFrame{Type: frameError, Error: "expected a message frame with text"})
			continue
		}

		// Turns run in the read loop so one browser's messages stay in order.
		a.handler.HandleInbound(ctx, engine.Inbound{
			Channel:   channels.WebChat,
			UserID:    userID,
			Text:      msg.Text,
			Timestamp: time.Now(),
			MessageID: msg.ID,
		})
	}
}

// register records ws for userID, closing any socket it replaces.
func (a *Adapter) register(userID string, ws *websocket.Conn) {
	a.mu.Lock()
	old := a.conns[userID]
	a.conns[userID] = ws
	a.mu.Unlock()

	if old != nil {
		_ = old.Close(websocket.StatusPolicyViolation, "session opened elsewhere")
	}
}

func (a *Adapter) unregister(userID string, ws *websocket.Conn) {
	a.mu.Lock()
	if a.conns[userID] == ws {
		delete(a.conns, userID)
	}
	a.mu.Unlock()
	_ = ws.Close(websocket.StatusNormalClosure, "")
}

// SendMessage implements engine.Adapter.
func (a *Adapter) SendMessage(ctx context.Context, userID, text string, attachments ...engine.Attachment) error {
	a.mu.Lock()
	ws, ok := a.conns[userID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, userID)
	}

	frame := outFrame{Type: frameReply, Text: text}
	for _, att := range attachments {
		frame.Attachments = append(frame.Attachments, attachment{
			Filename: att.Filename,
			MIMEType: att.MIMEType,
			URL:      att.URL,
			Data:     att.Data,
		})
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, writeTimeout)
		defer cancel()
	}
	if err := wsjson.Write(ctx, ws, frame); err != nil {
		return fmt.Errorf("writing reply: %w", err)
	}
	return nil
}
