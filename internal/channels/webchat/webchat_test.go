// ABOUTME: Tests for the web chat frontend against a real WebSocket server
// ABOUTME: Covers session frames, reply delivery, resume and bad frames

package webchat

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsacco/sacco-gateway/internal/engine"
)

// echoHandler answers each turn through the adapter, like the engine does.
type echoHandler struct {
	adapter *Adapter
	got     chan engine.Inbound
}

func (h *echoHandler) HandleInbound(ctx context.Context, in engine.Inbound) {
	h.got <- in
	_ = h.adapter.SendMessage(ctx, in.UserID, "echo: "+in.Text,
		engine.Attachment{Filename: "reply.mp3", MIMEType: "audio/mpeg", URL: "https://cdn.example.org/a.mp3"})
}

func setup(t *testing.T) (*Adapter, *echoHandler, string) {
	t.Helper()
	h := &echoHandler{got: make(chan engine.Inbound, 4)}
	a := New(Config{}, h, nil)
	h.adapter = a

	srv := httptest.NewServer(a)
	t.Cleanup(srv.Close)
	return a, h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) (*websocket.Conn, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })

	var hello outFrame
	require.NoError(t, wsjson.Read(ctx, ws, &hello))
	require.Equal(t, frameSession, hello.Type)
	require.NotEmpty(t, hello.UserID)
	return ws, hello.UserID
}

func TestWebChat_MessageAndReply(t *testing.T) {
	_, h, url := setup(t)
	ws, sessionID := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, ws, inFrame{Type: frameMessage, ID: "m1", Text: "balance"}))

	in := <-h.got
	assert.Equal(t, "webchat", in.Channel)
	assert.Equal(t, "webchat:"+sessionID, in.UserID)
	assert.Equal(t, "balance", in.Text)
	assert.Equal(t, "m1", in.MessageID)

	var reply outFrame
	require.NoError(t, wsjson.Read(ctx, ws, &reply))
	assert.Equal(t, frameReply, reply.Type)
	assert.Equal(t, "echo: balance", reply.Text)
	require.Len(t, reply.Attachments, 1)
	assert.Equal(t, "https://cdn.example.org/a.mp3", reply.Attachments[0].URL)
}

func TestWebChat_ResumeSession(t *testing.T) {
	a, _, url := setup(t)
	_, first := dial(t, url)

	_, resumed := dial(t, url+"?session="+first)
	assert.Equal(t, first, resumed)

	// The replaced socket is closed and unregistered.
	assert.Eventually(t, func() bool { return a.Connected() == 1 }, time.Second, 10*time.Millisecond)
}

func TestWebChat_InvalidSessionStartsNew(t *testing.T) {
	_, _, url := setup(t)
	_, id := dial(t, url+"?session=not-a-uuid")
	assert.NotEqual(t, "not-a-uuid", id)
}

func TestWebChat_RejectsBadFrames(t *testing.T) {
	_, h, url := setup(t)
	ws, _ := dial(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, ws, inFrame{Type: "typing"}))

	var resp outFrame
	require.NoError(t, wsjson.Read(ctx, ws, &resp))
	assert.Equal(t, frameError, resp.Type)
	assert.Empty(t, h.got)
}

func TestSendMessage_NotConnected(t *testing.T) {
	a := New(Config{}, &echoHandler{}, nil)
	err := a.SendMessage(context.Background(), "webchat:gone", "hello")
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestWebChat_Disconnect(t *testing.T) {
	a, _, url := setup(t)
	ws, _ := dial(t, url)
	require.Equal(t, 1, a.Connected())

	require.NoError(t, ws.Close(websocket.StatusNormalClosure, "bye"))
	assert.Eventually(t, func() bool { return a.Connected() == 0 }, time.Second, 10*time.Millisecond)
}
