// ABOUTME: gRPC client for the NLP assistant service.
// ABOUTME: Exchanges google.protobuf.Struct payloads so no generated stubs are needed.

package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultMethod is the full gRPC method name of the assistant's unary call.
const DefaultMethod = "/bitsacco.assistant.v1.Assistant/ProcessMessage"

var errConnectionShutdown = errors.New("connection shutdown")

// Request is one user message with its recent context.
type Request struct {
	UserID  string
	Phone   string
	Text    string
	History []string
}

// Action is a side effect the assistant suggests, e.g. {type: "balance"}.
type Action struct {
	Type   string
	Amount float64
	Params map[string]string
}

// Reply is the assistant's answer. Success false means it declined.
type Reply struct {
	Success   bool
	Text      string
	Actions   []Action
	AudioURL  string
	Audio     []byte
	AudioMIME string
}

// Config configures a Client.
type Config struct {
	Address          string
	Method           string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
	// WaitForReady makes Dial fail fast when the service is unreachable.
	WaitForReady bool
}

// Client calls the assistant over gRPC.
type Client struct {
	conn   *grpc.ClientConn
	method string
	logger *slog.Logger
}

// Dial connects to the assistant service.
func Dial(ctx context.Context, cfg Config, opts ...grpc.DialOption) (*Client, error) {
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = 2 * time.Minute
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = 10 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	}, opts...)

	conn, err := grpc.NewClient(cfg.Address, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating assistant client for %s: %w", cfg.Address, err)
	}

	c := NewClientFromConn(conn, cfg.Method)
	if cfg.WaitForReady {
		readyCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		if err := waitForReady(readyCtx, conn); err != nil {
			if closeErr := conn.Close(); closeErr != nil {
				c.logger.Warn("failed to close assistant connection", "error", closeErr)
			}
			return nil, fmt.Errorf("assistant at %s not ready: %w", cfg.Address, err)
		}
	}

	c.logger.Info("assistant client configured", "address", cfg.Address, "method", c.method)
	return c, nil
}

// NewClientFromConn wraps an existing connection. An empty method uses DefaultMethod.
func NewClientFromConn(conn *grpc.ClientConn, method string) *Client {
	if method == "" {
		method = DefaultMethod
	}
	return &Client{
		conn:   conn,
		method: method,
		logger: slog.Default().With("component", "ai"),
	}
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}
		if !conn.WaitForStateChange(ctx, state) {
			return ctx.Err()
		}
	}
}

// ProcessMessage sends one message to the assistant.
func (c *Client) ProcessMessage(ctx context.Context, req Request) (*Reply, error) {
	in, err := EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, c.method, in, out); err != nil {
		return nil, fmt.Errorf("calling assistant: %w", err)
	}
	return DecodeReply(out)
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// EncodeRequest converts a Request to its wire form.
func EncodeRequest(req Request) (*structpb.Struct, error) {
	history := make([]any, len(req.History))
	for i, h := range req.History {
		history[i] = h
	}
	s, err := structpb.NewStruct(map[string]any{
		"user_id":      req.UserID,
		"phone_number": req.Phone,
		"text":         req.Text,
		"history":      history,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding assistant request: %w", err)
	}
	return s, nil
}

// DecodeReply converts the wire form to a Reply. Unknown fields are ignored.
func DecodeReply(s *structpb.Struct) (*Reply, error) {
	f := s.GetFields()
	r := &Reply{
		Success:   f["success"].GetBoolValue(),
		Text:      f["text"].GetStringValue(),
		AudioURL:  f["audio_url"].GetStringValue(),
		AudioMIME: f["audio_mime"].GetStringValue(),
	}
	if r.Text == "" {
		r.Text = f["response"].GetStringValue()
	}

	if enc := f["audio_base64"].GetStringValue(); enc != "" {
		data, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return nil, fmt.Errorf("decoding assistant audio: %w", err)
		}
		r.Audio = data
		if r.AudioMIME == "" {
			r.AudioMIME = "audio/mpeg"
		}
	}

	for _, v := range f["actions"].GetListValue().GetValues() {
		af := v.GetStructValue().GetFields()
		a := Action{
			Type:   af["type"].GetStringValue(),
			Amount: af["amount"].GetNumberValue(),
		}
		if a.Type == "" {
			continue
		}
		if params := af["params"].GetStructValue(); params != nil {
			a.Params = make(map[string]string, len(params.GetFields()))
			for k, pv := range params.GetFields() {
				a.Params[k] = pv.GetStringValue()
			}
		}
		r.Actions = append(r.Actions, a)
	}
	return r, nil
}
