// Package slack implements messenger.Port for Slack using Socket Mode.
package slack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/cooldog631-ai/aim-bot/internal/logger"
	"github.com/cooldog631-ai/aim-bot/internal/messenger"
)

// Platform is the tag Slack identities carry.
const Platform = "slack"

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
	// maxSectionLen is the text limit of a section block.
	maxSectionLen = 3000
	// userLookupTimeout bounds a users.info call for an uncached name.
	userLookupTimeout = 5 * time.Second
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTestContext(ctx context.Context) (*slackapi.AuthTestResponse, error)
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
	GetUserInfoContext(ctx context.Context, userID string) (*slackapi.User, error)
	GetFileContext(ctx context.Context, downloadURL string, writer io.Writer) error
	GetUploadURLExternalContext(ctx context.Context, params slackapi.GetUploadURLExternalParameters) (*slackapi.GetUploadURLExternalResponse, error)
	CompleteUploadExternalContext(ctx context.Context, params slackapi.CompleteUploadExternalParameters) (*slackapi.CompleteUploadExternalResponse, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	RunContext(ctx context.Context) error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) RunContext(ctx context.Context) error { return r.client.RunContext(ctx) }
func (r *realSocketClient) EventsChan() chan socketmode.Event    { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements messenger.Port for Slack Socket Mode.
type Adapter struct {
	*messenger.Dispatcher

	client       slackClient
	socket       socketClient
	httpClient   *http.Client
	log          *logger.Logger
	botUserID    string
	appToken     string
	botToken     string
	mu           sync.Mutex
	connected    bool
	closed       bool
	names        map[string]string
	queue        *messenger.Sequencer
	baseBackoff  time.Duration // reconnection base backoff (default: baseBackoff const)
	maxBackoff   time.Duration // reconnection max backoff (default: maxBackoff const)
	maxReconnect int           // max reconnection attempts (default: maxReconnectAttempts)
	nameTimeout  time.Duration
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken   string // xapp-... Slack app-level token for Socket Mode
	BotToken   string // xoxb-... Slack bot token
	HTTPClient *http.Client
	Log        *logger.Logger
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	log := opts.Log.With("platform", Platform)

	a := &Adapter{
		Dispatcher:   messenger.NewDispatcher(log),
		client:       opts.Client,
		socket:       opts.Socket,
		httpClient:   opts.HTTPClient,
		log:          log,
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		names:        make(map[string]string),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
		nameTimeout:  userLookupTimeout,
	}
	a.queue = messenger.NewSequencer(a.deliver)
	return a, nil
}

// Platform returns "slack".
func (a *Adapter) Platform() string { return Platform }

// Connect verifies the bot token and prepares the Socket Mode client.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real clients if not injected (production path).
	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	// Get bot user ID for self-message filtering.
	auth, err := a.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID

	a.connected = true
	return nil
}

// Run connects and dispatches events until ctx is cancelled. Events for one
// identity are handled in arrival order, one at a time; Run waits for
// queued events before returning.
func (a *Adapter) Run(ctx context.Context) error {
	if err := a.Connect(ctx); err != nil {
		return err
	}
	go a.runWithReconnect(ctx)
	a.pumpEvents(ctx)
	a.queue.Wait()
	return a.Close()
}

// Send posts text as section blocks, split to the block length limit. The
// keyboard, if any, becomes an actions block on the last message.
func (a *Adapter) Send(ctx context.Context, chatID, text string, kb *messenger.Keyboard) (messenger.MessageHandle, error) {
	a.mu.Lock()
	connected := a.connected
	a.mu.Unlock()
	if !connected {
		return messenger.MessageHandle{}, a.deliveryErr(chatID, errors.New("not connected"))
	}
	if chatID == "" {
		return messenger.MessageHandle{}, a.deliveryErr(chatID, errors.New("no channel specified"))
	}

	parts := messenger.ChunkText(text, maxSectionLen)
	var ts string
	for i, part := range parts {
		var extra *messenger.Keyboard
		if i == len(parts)-1 {
			extra = kb
		}
		options := buildMessageOptions(part, extra)
		err := retryOnRateLimit(ctx, func() error {
			var postErr error
			_, ts, postErr = a.client.PostMessageContext(ctx, chatID, options...)
			return postErr
		})
		if err != nil {
			return messenger.MessageHandle{}, a.deliveryErr(chatID, err)
		}
	}
	return messenger.MessageHandle{ChatID: chatID, MessageID: ts}, nil
}

func (a *Adapter) deliveryErr(chatID string, err error) error {
	return &messenger.DeliveryError{Platform: Platform, ChatID: chatID, Err: err}
}

// DownloadMedia fetches a private file by its download URL using the bot
// token.
func (a *Adapter) DownloadMedia(ctx context.Context, ref messenger.MediaRef) ([]byte, error) {
	if a.client == nil {
		return nil, &messenger.MediaUnavailableError{Platform: Platform, Ref: ref, Err: errors.New("not connected")}
	}
	var buf bytes.Buffer
	if err := a.client.GetFileContext(ctx, string(ref), &buf); err != nil {
		return nil, &messenger.MediaUnavailableError{Platform: Platform, Ref: ref, Err: err}
	}
	return buf.Bytes(), nil
}

// UploadMedia stores a file through Slack's external upload flow and
// returns the file ID.
func (a *Adapter) UploadMedia(ctx context.Context, data []byte, kind messenger.MediaKind) (messenger.MediaRef, error) {
	if a.client == nil {
		return "", fmt.Errorf("slack: not connected")
	}
	name := uploadName(kind)
	up, err := a.client.GetUploadURLExternalContext(ctx, slackapi.GetUploadURLExternalParameters{
		FileName: name,
		FileSize: len(data),
	})
	if err != nil {
		return "", fmt.Errorf("slack: upload url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, up.UploadURL, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("slack: upload: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack: upload: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("slack: upload: status %d", resp.StatusCode)
	}

	if _, err := a.client.CompleteUploadExternalContext(ctx, slackapi.CompleteUploadExternalParameters{
		Files: []slackapi.FileSummary{{ID: up.FileID, Title: name}},
	}); err != nil {
		return "", fmt.Errorf("slack: complete upload: %w", err)
	}
	return messenger.MediaRef(up.FileID), nil
}

func uploadName(kind messenger.MediaKind) string {
	switch kind {
	case messenger.MediaAudio:
		return "audio.ogg"
	case messenger.MediaImage:
		return "image.png"
	default:
		return "document.txt"
	}
}

// Close marks the adapter closed. The socket stops with the Run context.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	a.connected = false
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when it returns an error.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.socket.RunContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		a.log.Warn("slack: socket mode disconnected",
			"attempt", attempt+1,
			"max", a.maxReconnect,
			"wait", wait,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	a.log.Error("slack: socket mode exhausted reconnection attempts", "attempts", a.maxReconnect)
}

// pumpEvents reads Socket Mode events until ctx is done or the channel closes.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(ctx, evt)
		}
	}
}

// handleSocketEvent acknowledges a Socket Mode envelope and dispatches the
// canonical event it carries, if any.
func (a *Adapter) handleSocketEvent(ctx context.Context, evt socketmode.Event) {
	var ev messenger.Event
	var ok bool

	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		apiEvent, isAPI := evt.Data.(slackevents.EventsAPIEvent)
		if !isAPI {
			return
		}
		a.ack(evt)
		ev, ok = a.fromEventsAPI(apiEvent)

	case socketmode.EventTypeInteractive:
		cb, isCB := evt.Data.(slackapi.InteractionCallback)
		if !isCB {
			return
		}
		a.ack(evt)
		ev, ok = a.fromInteraction(cb)

	case socketmode.EventTypeConnected:
		a.log.Info("slack: connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		a.log.Warn("slack: connection error", "error", evt.Data)

	case socketmode.EventTypeDisconnect:
		a.log.Info("slack: server requested disconnect, will reconnect")
	}
	if !ok {
		return
	}

	a.queue.Submit(ctx, ev)
}

// deliver fills in the sender's name and dispatches ev. It runs off the
// event pump, so a slow users.info call only delays this identity.
func (a *Adapter) deliver(ctx context.Context, ev messenger.Event) {
	if ev.UserName == "" {
		ev.UserName = a.resolveUserName(ctx, ev.Identity.UserID)
	}
	a.Dispatch(ctx, a, ev)
}

func (a *Adapter) ack(evt socketmode.Event) {
	if evt.Request != nil {
		a.socket.Ack(*evt.Request)
	}
}

// fromEventsAPI converts a message callback into a canonical event.
func (a *Adapter) fromEventsAPI(event slackevents.EventsAPIEvent) (messenger.Event, bool) {
	if event.Type != slackevents.CallbackEvent {
		return messenger.Event{}, false
	}
	m, isMsg := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !isMsg {
		return messenger.Event{}, false
	}
	// Filter self, bots, and edits/deletes; keep plain messages and uploads.
	if m.User == "" || m.User == a.BotUserID() || m.BotID != "" {
		return messenger.Event{}, false
	}
	if m.SubType != "" && m.SubType != "file_share" {
		return messenger.Event{}, false
	}

	ev := messenger.Event{
		ID:          m.TimeStamp,
		Identity:    messenger.Identity{Platform: Platform, UserID: m.User, ChatID: m.Channel},
		ContentType: messenger.ContentText,
		Text:        m.Text,
		Timestamp:   parseSlackTimestamp(m.TimeStamp),
		Raw:         m,
	}
	for _, f := range m.Files {
		if ct := fileType(f.Mimetype, f.Filetype); ct != "" {
			ev.ContentType = ct
			ev.MediaRef = messenger.MediaRef(f.URLPrivateDownload)
			ev.MimeType = f.Mimetype
			break
		}
	}
	if ev.ContentType == messenger.ContentText {
		if strings.TrimSpace(ev.Text) == "" {
			return messenger.Event{}, false
		}
		ev.Command, ev.Args = messenger.ParseCommand(ev.Text)
	}
	return ev, true
}

// fromInteraction turns a block button press into a text event carrying the
// button's value.
func (a *Adapter) fromInteraction(cb slackapi.InteractionCallback) (messenger.Event, bool) {
	if cb.Type != slackapi.InteractionTypeBlockActions || len(cb.ActionCallback.BlockActions) == 0 {
		return messenger.Event{}, false
	}
	action := cb.ActionCallback.BlockActions[0]
	text := action.Value
	if text == "" {
		text = action.ActionID
	}
	return messenger.Event{
		ID:          cb.TriggerID,
		Identity:    messenger.Identity{Platform: Platform, UserID: cb.User.ID, ChatID: cb.Channel.ID},
		ContentType: messenger.ContentText,
		Text:        text,
		Timestamp:   time.Now(),
		Raw:         cb,
	}, true
}

// fileType classifies an uploaded file; empty means not usable.
func fileType(mime, filetype string) messenger.ContentType {
	mime = strings.ToLower(mime)
	switch {
	case strings.HasPrefix(mime, "audio/"), strings.HasPrefix(mime, "video/webm"),
		filetype == "m4a", filetype == "mp3", filetype == "ogg", filetype == "webm":
		return messenger.ContentVoice
	case strings.HasPrefix(mime, "image/"):
		return messenger.ContentPhoto
	}
	return ""
}

// resolveUserName looks up a user's display name, caching hits. Falls back
// to the user ID.
func (a *Adapter) resolveUserName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	a.mu.Lock()
	name, ok := a.names[userID]
	a.mu.Unlock()
	if ok {
		return name
	}

	lookupCtx, cancel := context.WithTimeout(ctx, a.nameTimeout)
	defer cancel()
	user, err := a.client.GetUserInfoContext(lookupCtx, userID)
	if err != nil {
		return userID
	}
	name = user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	if name == "" {
		name = userID
	}
	a.mu.Lock()
	a.names[userID] = name
	a.mu.Unlock()
	return name
}

// buildMessageOptions renders text and an optional keyboard as Block Kit.
func buildMessageOptions(text string, kb *messenger.Keyboard) []slackapi.MsgOption {
	blocks := []slackapi.Block{
		slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, text, false, false), nil, nil),
	}
	if kb != nil {
		for i, row := range kb.Rows {
			var elems []slackapi.BlockElement
			for _, b := range row {
				btn := slackapi.NewButtonBlockElement(b.Data, b.Data,
					slackapi.NewTextBlockObject(slackapi.PlainTextType, b.Label, true, false))
				switch {
				case strings.HasPrefix(b.Data, "confirm"):
					btn = btn.WithStyle(slackapi.StylePrimary)
				case strings.HasPrefix(b.Data, "cancel"):
					btn = btn.WithStyle(slackapi.StyleDanger)
				}
				elems = append(elems, btn)
			}
			if len(elems) > 0 {
				blocks = append(blocks, slackapi.NewActionBlock("kb-"+strconv.Itoa(i), elems...))
			}
		}
	}
	return []slackapi.MsgOption{
		// Text is the notification fallback for block messages.
		slackapi.MsgOptionText(text, false),
		slackapi.MsgOptionBlocks(blocks...),
	}
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err // not a rate limit error, don't retry
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var us int64
	if frac != "" {
		us, _ = strconv.ParseInt((frac + "000000")[:6], 10, 64)
	}
	return time.Unix(s, us*int64(time.Microsecond))
}
