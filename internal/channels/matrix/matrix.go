// ABOUTME: Matrix frontend: syncs rooms with mautrix and feeds text messages to the engine
// ABOUTME: Replies go back to the sender's last room, rendered from markdown with goldmark

package matrix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bitsacco/sacco-gateway/internal/channels"
	"github.com/bitsacco/sacco-gateway/internal/engine"
)

// typingTimeout is how long the typing indicator shows while a turn runs.
const typingTimeout = 30 * time.Second

// networkTimeout bounds Matrix API calls made outside a turn.
const networkTimeout = 10 * time.Second

// maxQueued caps the messages waiting behind a user's running turn.
const maxQueued = 32

// ErrUnknownUser is returned by SendMessage for a user who never wrote to us.
var ErrUnknownUser = errors.New("matrix: no room known for user")

// Config holds the bot account and the optional allow lists.
type Config struct {
	Homeserver   string
	UserID       string
	AccessToken  string
	AllowedUsers []string
	AllowedRooms []string
}

// Client is the part of *mautrix.Client the adapter uses.
type Client interface {
	SendMessageEvent(ctx context.Context, roomID id.RoomID, eventType event.Type, contentJSON interface{}, extra ...mautrix.ReqSendEvent) (*mautrix.RespSendEvent, error)
	UploadBytes(ctx context.Context, data []byte, contentType string) (*mautrix.RespMediaUpload, error)
	UserTyping(ctx context.Context, roomID id.RoomID, typing bool, timeout time.Duration) (*mautrix.RespTyping, error)
}

// Adapter connects Matrix rooms to the conversation engine. Each Matrix user
// is one chat user; their replies go to the room they last wrote from.
type Adapter struct {
	cfg     Config
	self    id.UserID
	sync    *mautrix.Client
	api     Client
	handler channels.Handler
	logger  *slog.Logger

	allowedUsers map[string]bool
	allowedRooms map[string]bool

	mu    sync.RWMutex
	rooms map[string]id.RoomID

	// startedAt filters the backlog the homeserver replays on first sync.
	startedAt time.Time

	// queues holds each user's messages in arrival order. A user has a
	// queue only while their drain goroutine runs.
	qmu    sync.Mutex
	queues map[string][]queued

	// ctx is cancelled when Run stops; draining stops taking new turns.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type queued struct {
	room id.RoomID
	in   engine.Inbound
}

// New creates a Matrix adapter logged in with cfg's access token.
func New(cfg Config, handler channels.Handler, logger *slog.Logger) (*Adapter, error) {
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("creating matrix client: %w", err)
	}
	a := newAdapter(cfg, client, handler, logger)
	a.sync = client
	return a, nil
}

func newAdapter(cfg Config, api Client, handler channels.Handler, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Adapter{
		cfg:          cfg,
		self:         id.UserID(cfg.UserID),
		api:          api,
		handler:      handler,
		logger:       logger.With("component", "matrix"),
		allowedUsers: toSet(cfg.AllowedUsers),
		allowedRooms: toSet(cfg.AllowedRooms),
		rooms:        make(map[string]id.RoomID),
		queues:       make(map[string][]queued),
		startedAt:    time.Now(),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}

// Name implements engine.Adapter.
func (a *Adapter) Name() string { return channels.Matrix }

// Run syncs with the homeserver until ctx is cancelled, then waits for
// in-flight turns to finish. Messages still queued behind them are dropped.
func (a *Adapter) Run(ctx context.Context) error {
	if a.sync == nil {
		return errors.New("matrix: adapter has no sync client")
	}
	a.logger.Info("starting matrix sync", "homeserver", a.cfg.Homeserver, "user_id", a.cfg.UserID)

	syncer, ok := a.sync.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return fmt.Errorf("unexpected syncer type: %T", a.sync.Syncer)
	}
	syncer.OnSync(a.sync.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, a.handleMessageEvent)

	syncErr := make(chan error, 1)
	go func() {
		syncErr <- a.sync.SyncWithContext(ctx)
	}()

	var err error
	select {
	case <-ctx.Done():
		a.logger.Info("stopping matrix sync")
		<-syncErr
	case err = <-syncErr:
		if ctx.Err() == nil {
			err = fmt.Errorf("matrix sync failed: %w", err)
		} else {
			err = nil
		}
	}
	a.stop()
	return err
}

// stop refuses new messages and waits for running turns. Cancelling under
// qmu keeps wg.Add in enqueue from racing wg.Wait.
func (a *Adapter) stop() {
	a.qmu.Lock()
	a.cancel()
	a.qmu.Unlock()
	a.wg.Wait()
}

// handleMessageEvent turns a room message into an engine turn.
func (a *Adapter) handleMessageEvent(_ context.Context, evt *event.Event) {
	in, ok := a.inbound(evt)
	if !ok {
		return
	}

	a.mu.Lock()
	a.rooms[in.UserID] = evt.RoomID
	a.mu.Unlock()

	a.logger.Debug("received message", "room", evt.RoomID.String(), "sender", in.UserID, "event_id", in.MessageID)

	a.enqueue(queued{room: evt.RoomID, in: in})
}

// enqueue appends q to its user's queue, starting a drain goroutine when the
// user has none. The sync loop never blocks on a turn.
func (a *Adapter) enqueue(q queued) {
	userID := q.in.UserID

	a.qmu.Lock()
	defer a.qmu.Unlock()
	if a.ctx.Err() != nil {
		return
	}
	pending, running := a.queues[userID]
	if len(pending) >= maxQueued {
		a.logger.Warn("dropping message, too many queued", "sender", userID, "event_id", q.in.MessageID)
		return
	}
	a.queues[userID] = append(pending, q)
	if !running {
		a.wg.Add(1)
		go a.drain(userID)
	}
}

// drain runs one user's turns one at a time in arrival order. Turns run
// without cancellation so shutdown never interrupts a money move halfway.
func (a *Adapter) drain(userID string) {
	defer a.wg.Done()
	turnCtx := context.WithoutCancel(a.ctx)
	for {
		a.qmu.Lock()
		pending := a.queues[userID]
		if len(pending) == 0 || a.ctx.Err() != nil {
			if len(pending) > 0 {
				a.logger.Info("dropping queued messages on shutdown", "sender", userID, "count", len(pending))
			}
			delete(a.queues, userID)
			a.qmu.Unlock()
			return
		}
		next := pending[0]
		a.queues[userID] = pending[1:]
		a.qmu.Unlock()

		a.turn(turnCtx, next)
	}
}

func (a *Adapter) turn(ctx context.Context, q queued) {
	a.setTyping(q.room, true)
	defer a.setTyping(q.room, false)
	a.handler.HandleInbound(ctx, q.in)
}

// inbound filters evt and converts it. Only text messages from other users
// in allowed rooms pass.
func (a *Adapter) inbound(evt *event.Event) (engine.Inbound, bool) {
	if evt.Sender == a.self {
		return engine.Inbound{}, false
	}
	content, ok := evt.Content.Parsed.(*event.MessageEventContent)
	if !ok || content.MsgType != event.MsgText {
		return engine.Inbound{}, false
	}

	sent := time.UnixMilli(evt.Timestamp)
	if evt.Timestamp > 0 && sent.Before(a.startedAt) {
		return engine.Inbound{}, false
	}

	roomID := evt.RoomID.String()
	if a.allowedRooms != nil && !a.allowedRooms[roomID] {
		a.logger.Debug("ignoring message from non-allowed room", "room", roomID)
		return engine.Inbound{}, false
	}
	sender := evt.Sender.String()
	if a.allowedUsers != nil && !a.allowedUsers[sender] {
		a.logger.Debug("ignoring message from non-allowed user", "sender", sender)
		return engine.Inbound{}, false
	}

	body := strings.TrimSpace(content.Body)
	if body == "" {
		return engine.Inbound{}, false
	}

	return engine.Inbound{
		Channel:   channels.Matrix,
		UserID:    sender,
		Text:      body,
		Timestamp: sent,
		MessageID: evt.ID.String(),
	}, true
}

func (a *Adapter) setTyping(roomID id.RoomID, typing bool) {
	var timeout time.Duration
	if typing {
		timeout = typingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), networkTimeout)
	defer cancel()
	if _, err := a.api.UserTyping(ctx, roomID, typing, timeout); err != nil {
		a.logger.Debug("failed to set typing indicator", "room", roomID.String(), "error", err)
	}
}

// SendMessage implements engine.Adapter. Text is sent as markdown rendered
// to HTML; attachments with data are uploaded to the homeserver first.
func (a *Adapter) SendMessage(ctx context.Context, userID, text string, attachments ...engine.Attachment) error {
	a.mu.RLock()
	roomID, ok := a.rooms[userID]
	a.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUser, userID)
	}

	var links []string
	for _, att := range attachments {
		if len(att.Data) == 0 {
			if att.URL != "" {
				links = append(links, att.URL)
			}
			continue
		}
		if err := a.sendFile(ctx, roomID, att); err != nil {
			return err
		}
	}
	if len(links) > 0 {
		text = strings.TrimSpace(text + "\n\n" + strings.Join(links, "\n"))
	}
	if text == "" {
		return nil
	}

	if _, err := a.api.SendMessageEvent(ctx, roomID, event.EventMessage, renderText(text)); err != nil {
		return fmt.Errorf("sending matrix message: %w", err)
	}
	return nil
}

func (a *Adapter) sendFile(ctx context.Context, roomID id.RoomID, att engine.Attachment) error {
	upload, err := a.api.UploadBytes(ctx, att.Data, att.MIMEType)
	if err != nil {
		return fmt.Errorf("uploading %s: %w", att.Filename, err)
	}

	msgType := event.MsgFile
	if strings.HasPrefix(att.MIMEType, "audio/") {
		msgType = event.MsgAudio
	}
	content := &event.MessageEventContent{
		MsgType:  msgType,
		Body:     att.Filename,
		FileName: att.Filename,
		URL:      upload.ContentURI.CUString(),
		Info: &event.FileInfo{
			MimeType: att.MIMEType,
			Size:     len(att.Data),
		},
	}
	if _, err := a.api.SendMessageEvent(ctx, roomID, event.EventMessage, content); err != nil {
		return fmt.Errorf("sending %s: %w", att.Filename, err)
	}
	return nil
}

// renderText builds a text message with an HTML body when the markdown
// renders to something richer than a plain paragraph.
func renderText(text string) *event.MessageEventContent {
	content := &event.MessageEventContent{MsgType: event.MsgText, Body: text}

	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		return content
	}
	html := strings.TrimSpace(buf.String())
	plain := "<p>" + text + "</p>"
	if html != "" && html != plain {
		content.Format = event.FormatHTML
		content.FormattedBody = html
	}
	return content
}
