// ABOUTME: Tests for the webhook frontend: signature checks and signed callbacks
// ABOUTME: Uses httptest for both the inbound endpoint and the bridge callback

package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsacco/sacco-gateway/internal/engine"
)

var (
	secret = []byte("whatsapp-bridge-secret")
	now    = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type recordingHandler struct {
	got []engine.Inbound
}

func (h *recordingHandler) HandleInbound(_ context.Context, in engine.Inbound) {
	h.got = append(h.got, in)
}

func newAdapter(callback string) (*Adapter, *recordingHandler) {
	h := &recordingHandler{}
	a := New(Config{
		Name:        "whatsapp",
		Secret:      string(secret),
		CallbackURL: callback,
		Now:         func() time.Time { return now },
	}, h, nil)
	return a, h
}

func signedRequest(t *testing.T, body []byte, ts time.Time, key []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/channels/whatsapp/inbound", bytes.NewReader(body))
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts.Unix(), 10))
	req.Header.Set(HeaderSignature, Sign(key, ts, body))
	return req
}

func TestServeHTTP_Accepted(t *testing.T) {
	a, h := newAdapter("")
	body := []byte(`{"user_id":"254712345678","text":"balance","message_id":"wamid.1"}`)

	rec := httptest.NewRecorder()
	a.ServeHTTP(rec, signedRequest(t, body, now, secret))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, h.got, 1)
	assert.Equal(t, engine.Inbound{
		Channel:   "whatsapp",
		UserID:    "254712345678",
		Text:      "balance",
		MessageID: "wamid.1",
	}, h.got[0])
}

func TestServeHTTP_Rejected(t *testing.T) {
	valid := []byte(`{"user_id":"u1","text":"hi"}`)

	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{
			name: "unsigned",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(valid))
			},
			status: http.StatusUnauthorized,
		},
		{
			name:   "wrong secret",
			req:    func() *http.Request { return signedRequest(t, valid, now, []byte("nope")) },
			status: http.StatusUnauthorized,
		},
		{
			name:   "stale timestamp",
			req:    func() *http.Request { return signedRequest(t, valid, now.Add(-10*time.Minute), secret) },
			status: http.StatusUnauthorized,
		},
		{
			name: "tampered body",
			req: func() *http.Request {
				req := signedRequest(t, valid, now, secret)
				req.Body = io.NopCloser(bytes.NewReader([]byte(`{"user_id":"u2","text":"hi"}`)))
				return req
			},
			status: http.StatusUnauthorized,
		},
		{
			name:   "invalid json",
			req:    func() *http.Request { return signedRequest(t, []byte(`{`), now, secret) },
			status: http.StatusBadRequest,
		},
		{
			name:   "missing text",
			req:    func() *http.Request { return signedRequest(t, []byte(`{"user_id":"u1"}`), now, secret) },
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, h := newAdapter("")
			rec := httptest.NewRecorder()
			a.ServeHTTP(rec, tt.req())
			assert.Equal(t, tt.status, rec.Code)
			assert.Empty(t, h.got)
		})
	}
}

func TestSendMessage_SignedCallback(t *testing.T) {
	var got OutboundMessage
	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if err := Verify(secret, r.Header, body, now); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusOK)
	}))
	defer bridge.Close()

	a, _ := newAdapter(bridge.URL)
	err := a.SendMessage(context.Background(), "254712345678", "💰 KES 1,000",
		engine.Attachment{Filename: "reply.mp3", MIMEType: "audio/mpeg", Data: []byte("ID3")})
	require.NoError(t, err)

	assert.Equal(t, "whatsapp", got.Channel)
	assert.Equal(t, "254712345678", got.UserID)
	assert.Equal(t, "💰 KES 1,000", got.Text)
	require.Len(t, got.Attachments, 1)
	assert.Equal(t, []byte("ID3"), got.Attachments[0].Data)
}

func TestSendMessage_CallbackFailure(t *testing.T) {
	bridge := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bridge.Close()

	a, _ := newAdapter(bridge.URL)
	err := a.SendMessage(context.Background(), "u1", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestVerify(t *testing.T) {
	body := []byte("payload")
	h := http.Header{}
	h.Set(HeaderTimestamp, strconv.FormatInt(now.Unix(), 10))
	h.Set(HeaderSignature, Sign(secret, now, body))

	assert.NoError(t, Verify(secret, h, body, now.Add(time.Minute)))
	assert.ErrorIs(t, Verify(secret, h, body, now.Add(time.Hour)), ErrStaleTimestamp)
	assert.ErrorIs(t, Verify(secret, http.Header{}, body, now), ErrMissingSignature)
	assert.ErrorIs(t, Verify([]byte("other"), h, body, now), ErrBadSignature)
}
