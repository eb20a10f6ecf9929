// ABOUTME: Tests for the Matrix frontend using a fake mautrix client
// ABOUTME: Covers event filtering, per-user ordering, shutdown, reply routing and uploads

package matrix

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bitsacco/sacco-gateway/internal/engine"
)

const (
	botID  = "@sacco:example.org"
	userID = "@alice:example.org"
	roomID = "!room:example.org"
)

type sentEvent struct {
	room    id.RoomID
	content *event.MessageEventContent
}

type fakeClient struct {
	mu      sync.Mutex
	sent    []sentEvent
	uploads [][]byte
	typing  int
}

func (f *fakeClient) SendMessageEvent(_ context.Context, room id.RoomID, _ event.Type, content interface{}, _ ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentEvent{room: room, content: content.(*event.MessageEventContent)})
	return &mautrix.RespSendEvent{EventID: id.EventID("$reply")}, nil
}

func (f *fakeClient) UploadBytes(_ context.Context, data []byte, _ string) (*mautrix.RespMediaUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, data)
	return &mautrix.RespMediaUpload{ContentURI: id.ContentURI{Homeserver: "example.org", FileID: "abc"}}, nil
}

func (f *fakeClient) UserTyping(context.Context, id.RoomID, bool, time.Duration) (*mautrix.RespTyping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return &mautrix.RespTyping{}, nil
}

type fakeHandler struct {
	got chan engine.Inbound
}

func (h *fakeHandler) HandleInbound(_ context.Context, in engine.Inbound) {
	h.got <- in
}

func newTestAdapter(t *testing.T, cfg Config) (*Adapter, *fakeClient, *fakeHandler) {
	t.Helper()
	cfg.UserID = botID
	client := &fakeClient{}
	handler := &fakeHandler{got: make(chan engine.Inbound, 4)}
	a := newAdapter(cfg, client, handler, nil)
	a.startedAt = time.UnixMilli(1_000)
	t.Cleanup(a.stop)
	return a, client, handler
}

// recordingHandler notes every turn it runs, optionally waiting on release
// before returning.
type recordingHandler struct {
	mu      sync.Mutex
	texts   []string
	ctxErrs []error
	started chan string
	release chan struct{}
	delay   time.Duration
}

func (h *recordingHandler) HandleInbound(ctx context.Context, in engine.Inbound) {
	if h.started != nil {
		h.started <- in.Text
	}
	if h.release != nil {
		<-h.release
	}
	time.Sleep(h.delay)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.texts = append(h.texts, in.Text)
	h.ctxErrs = append(h.ctxErrs, ctx.Err())
}

func (h *recordingHandler) handled() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.texts...)
}

func textEvent(sender, room, body string, ts int64) *event.Event {
	return &event.Event{
		ID:        id.EventID("$evt" + body),
		Sender:    id.UserID(sender),
		RoomID:    id.RoomID(room),
		Type:      event.EventMessage,
		Timestamp: ts,
		Content: event.Content{Parsed: &event.MessageEventContent{
			MsgType: event.MsgText,
			Body:    body,
		}},
	}
}

func TestInbound_Filters(t *testing.T) {
	a, _, _ := newTestAdapter(t, Config{
		AllowedRooms: []string{roomID},
		AllowedUsers: []string{userID},
	})

	tests := []struct {
		name string
		evt  *event.Event
		ok   bool
	}{
		{name: "allowed text", evt: textEvent(userID, roomID, "balance", 2_000), ok: true},
		{name: "own message", evt: textEvent(botID, roomID, "balance", 2_000)},
		{name: "backlog", evt: textEvent(userID, roomID, "balance", 500)},
		{name: "other room", evt: textEvent(userID, "!other:example.org", "balance", 2_000)},
		{name: "other user", evt: textEvent("@mallory:example.org", roomID, "balance", 2_000)},
		{name: "blank body", evt: textEvent(userID, roomID, "   ", 2_000)},
		{
			name: "image",
			evt: func() *event.Event {
				e := textEvent(userID, roomID, "photo.jpg", 2_000)
				e.Content.Parsed.(*event.MessageEventContent).MsgType = event.MsgImage
				return e
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, ok := a.inbound(tt.evt)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, "matrix", in.Channel)
				assert.Equal(t, userID, in.UserID)
				assert.Equal(t, "balance", in.Text)
				assert.Equal(t, "$evtbalance", in.MessageID)
				assert.Equal(t, time.UnixMilli(2_000), in.Timestamp)
			}
		})
	}
}

func TestHandleMessageEvent_RoutesReplyToRoom(t *testing.T) {
	a, client, handler := newTestAdapter(t, Config{})

	a.handleMessageEvent(context.Background(), textEvent(userID, roomID, "hi", 2_000))

	select {
	case in := <-handler.got:
		assert.Equal(t, "hi", in.Text)
	case <-time.After(time.Second):
		t.Fatal("handler was not called")
	}

	require.NoError(t, a.SendMessage(context.Background(), userID, "Welcome"))
	client.mu.Lock()
	defer client.mu.Unlock()
	require.Len(t, client.sent, 1)
	assert.Equal(t, id.RoomID(roomID), client.sent[0].room)
	assert.Equal(t, "Welcome", client.sent[0].content.Body)
	assert.Empty(t, client.sent[0].content.FormattedBody, "plain text needs no HTML body")
}

func TestSendMessage_UnknownUser(t *testing.T) {
	a, _, _ := newTestAdapter(t, Config{})
	err := a.SendMessage(context.Background(), "@nobody:example.org", "hello")
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestSendMessage_RendersMarkdown(t *testing.T) {
	a, client, _ := newTestAdapter(t, Config{})
	a.rooms[userID] = roomID

	require.NoError(t, a.SendMessage(context.Background(), userID, "💰 *Your Balance*\n\nKES 1,000"))

	require.Len(t, client.sent, 1)
	content := client.sent[0].content
	assert.Equal(t, event.FormatHTML, content.Format)
	assert.Contains(t, content.FormattedBody, "<em>Your Balance</em>")
}

func TestSendMessage_Attachments(t *testing.T) {
	a, client, _ := newTestAdapter(t, Config{})
	a.rooms[userID] = roomID

	err := a.SendMessage(context.Background(), userID, "Here you go",
		engine.Attachment{Filename: "reply.mp3", MIMEType: "audio/mpeg", Data: []byte("ID3")},
		engine.Attachment{Filename: "reply.ogg", MIMEType: "audio/ogg", URL: "https://cdn.example.org/reply.ogg"},
	)
	require.NoError(t, err)

	require.Len(t, client.uploads, 1)
	require.Len(t, client.sent, 2)

	audio := client.sent[0].content
	assert.Equal(t, event.MsgAudio, audio.MsgType)
	assert.Equal(t, id.ContentURIString("mxc://example.org/abc"), audio.URL)
	assert.Equal(t, 3, audio.Info.Size)

	text := client.sent[1].content
	assert.Equal(t, "Here you go\n\nhttps://cdn.example.org/reply.ogg", text.Body)
}

func TestHandleMessageEvent_KeepsUserOrder(t *testing.T) {
	handler := &recordingHandler{delay: time.Millisecond}
	a := newAdapter(Config{UserID: botID}, &fakeClient{}, handler, nil)
	a.startedAt = time.UnixMilli(1_000)
	t.Cleanup(a.stop)

	want := []string{"m0", "m1", "m2", "m3", "m4"}
	for i, body := range want {
		a.handleMessageEvent(context.Background(), textEvent(userID, roomID, body, int64(2_000+i)))
	}

	require.Eventually(t, func() bool { return len(handler.handled()) == len(want) }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, handler.handled())

	a.qmu.Lock()
	defer a.qmu.Unlock()
	assert.Empty(t, a.queues, "drain goroutine exits once the queue is empty")
}

func TestHandleMessageEvent_UsersRunIndependently(t *testing.T) {
	handler := &recordingHandler{started: make(chan string, 2), release: make(chan struct{})}
	a := newAdapter(Config{UserID: botID}, &fakeClient{}, handler, nil)
	a.startedAt = time.UnixMilli(1_000)
	t.Cleanup(a.stop)

	a.handleMessageEvent(context.Background(), textEvent(userID, roomID, "alice", 2_000))
	a.handleMessageEvent(context.Background(), textEvent("@bob:example.org", "!bob:example.org", "bob", 2_000))

	// Both turns start even though neither has finished.
	got := map[string]bool{}
	for range 2 {
		select {
		case text := <-handler.started:
			got[text] = true
		case <-time.After(time.Second):
			t.Fatal("a user's turn waited on another user")
		}
	}
	assert.Equal(t, map[string]bool{"alice": true, "bob": true}, got)
	close(handler.release)
}

func TestStop_FinishesRunningTurnUncancelled(t *testing.T) {
	handler := &recordingHandler{started: make(chan string, 2), release: make(chan struct{})}
	a := newAdapter(Config{UserID: botID}, &fakeClient{}, handler, nil)
	a.startedAt = time.UnixMilli(1_000)

	a.handleMessageEvent(context.Background(), textEvent(userID, roomID, "withdraw 500", 2_000))
	a.handleMessageEvent(context.Background(), textEvent(userID, roomID, "balance", 2_001))

	select {
	case text := <-handler.started:
		require.Equal(t, "withdraw 500", text)
	case <-time.After(time.Second):
		t.Fatal("turn did not start")
	}

	stopped := make(chan struct{})
	go func() {
		a.stop()
		close(stopped)
	}()
	require.Eventually(t, func() bool { return a.ctx.Err() != nil }, time.Second, time.Millisecond)

	select {
	case <-stopped:
		t.Fatal("stop returned while a turn was running")
	case <-time.After(20 * time.Millisecond):
	}

	close(handler.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("stop did not return after the turn finished")
	}

	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, []string{"withdraw 500"}, handler.texts, "queued message is dropped on shutdown")
	assert.Equal(t, []error{nil}, handler.ctxErrs, "running turn keeps an uncancelled context")

	// Messages after shutdown are ignored.
	a.handleMessageEvent(context.Background(), textEvent(userID, roomID, "late", 2_002))
	a.qmu.Lock()
	defer a.qmu.Unlock()
	assert.Empty(t, a.queues)
}

func TestEnqueue_CapsQueue(t *testing.T) {
	handler := &recordingHandler{started: make(chan string, 1), release: make(chan struct{})}
	a := newAdapter(Config{UserID: botID}, &fakeClient{}, handler, nil)
	t.Cleanup(a.stop)

	a.enqueue(queued{room: roomID, in: engine.Inbound{UserID: userID, Text: "first"}})
	<-handler.started
	for range maxQueued + 5 {
		a.enqueue(queued{room: roomID, in: engine.Inbound{UserID: userID, Text: "more"}})
	}

	a.qmu.Lock()
	assert.Len(t, a.queues[userID], maxQueued)
	a.queues[userID] = nil
	a.qmu.Unlock()
	close(handler.release)
}
