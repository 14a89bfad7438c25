// Package discord implements messenger.Port for Discord using the Gateway
// WebSocket.
package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/cooldog631-ai/aim-bot/internal/logger"
	"github.com/cooldog631-ai/aim-bot/internal/messenger"
)

// Platform is the tag Discord identities carry.
const Platform = "discord"

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial wait after a rate limit.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
	// maxMessageLen is Discord's per-message content limit.
	maxMessageLen = 2000
	// maxMediaBytes bounds attachment downloads.
	maxMediaBytes = 25 << 20
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	return r.s.InteractionRespond(interaction, resp, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// Adapter implements messenger.Port for Discord.
type Adapter struct {
	*messenger.Dispatcher

	sess        session
	botToken    string
	httpClient  *http.Client
	log         *logger.Logger
	mu          sync.Mutex
	botUserID   string
	connected   bool
	closed      bool
	runCtx      context.Context
	removers    []func()
	queue       *messenger.Sequencer
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken   string // Discord bot token
	HTTPClient *http.Client
	Log        *logger.Logger
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	log := opts.Log.With("platform", Platform)
	a := &Adapter{
		Dispatcher:  messenger.NewDispatcher(log),
		sess:        opts.Session,
		botToken:    opts.BotToken,
		httpClient:  opts.HTTPClient,
		log:         log,
		runCtx:      context.Background(),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
	a.queue = messenger.NewSequencer(func(ctx context.Context, ev messenger.Event) {
		a.Dispatch(ctx, a, ev)
	})
	return a, nil
}

// Platform returns "discord".
func (a *Adapter) Platform() string { return Platform }

// Connect opens the Gateway connection and registers the event handlers.
// Events are dispatched with ctx.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages |
			discordgo.IntentsDirectMessages |
			discordgo.IntentsMessageContent
		// Handlers run in gateway order and only enqueue.
		dg.SyncEvents = true
		a.sess = &realSession{s: dg}
	}
	a.runCtx = ctx

	a.removers = append(a.removers,
		a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			a.mu.Lock()
			a.botUserID = r.User.ID
			a.mu.Unlock()
			a.log.Info("discord: connected", "bot", r.User.Username, "bot_id", r.User.ID)
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
			a.log.Warn("discord: gateway disconnected, discordgo will auto-reconnect")
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			a.handleMessage(m)
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			a.handleInteraction(i)
		}),
	)

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.connected = true
	return nil
}

// Run connects and serves events until ctx is cancelled. Events for one
// identity are handled in arrival order, one at a time; Run waits for
// queued events before returning.
func (a *Adapter) Run(ctx context.Context) error {
	if err := a.Connect(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	a.queue.Wait()
	return a.Close()
}

// Send delivers text to a channel, split to Discord's length limit. The
// keyboard, if any, is attached to the last part as button components.
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

	parts := messenger.ChunkText(text, maxMessageLen)
	var last *discordgo.Message
	for i, part := range parts {
		data := &discordgo.MessageSend{Content: part}
		if i == len(parts)-1 {
			data.Components = buildComponents(kb)
		}
		err := a.retryOnRateLimit(ctx, func() error {
			var sendErr error
			last, sendErr = a.sess.ChannelMessageSendComplex(chatID, data)
			return sendErr
		})
		if err != nil {
			return messenger.MessageHandle{}, a.deliveryErr(chatID, err)
		}
	}
	h := messenger.MessageHandle{ChatID: chatID}
	if last != nil {
		h.MessageID = last.ID
	}
	return h, nil
}

func (a *Adapter) deliveryErr(chatID string, err error) error {
	return &messenger.DeliveryError{Platform: Platform, ChatID: chatID, Err: err}
}

// DownloadMedia fetches an attachment by its CDN URL.
func (a *Adapter) DownloadMedia(ctx context.Context, ref messenger.MediaRef) ([]byte, error) {
	fail := func(err error) ([]byte, error) {
		return nil, &messenger.MediaUnavailableError{Platform: Platform, Ref: ref, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, string(ref), nil)
	if err != nil {
		return fail(err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fail(fmt.Errorf("status %d", resp.StatusCode))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return fail(err)
	}
	if len(data) > maxMediaBytes {
		return fail(fmt.Errorf("attachment larger than %d bytes", maxMediaBytes))
	}
	return data, nil
}

// UploadMedia is a no-op: Discord takes files inline with the message.
func (a *Adapter) UploadMedia(ctx context.Context, data []byte, kind messenger.MediaKind) (messenger.MediaRef, error) {
	return messenger.UploadNotRequired, nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	for _, remove := range a.removers {
		remove()
	}
	a.removers = nil
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Ready).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

// handleMessage converts a Discord message to a canonical event and
// dispatches it.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	ev, ok := a.toEvent(m)
	if !ok {
		return
	}
	a.mu.Lock()
	ctx := a.runCtx
	a.mu.Unlock()
	a.queue.Submit(ctx, ev)
}

func (a *Adapter) toEvent(m *discordgo.MessageCreate) (messenger.Event, bool) {
	if m.Author == nil {
		return messenger.Event{}, false
	}
	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()
	if m.Author.ID == botID || m.Author.Bot {
		return messenger.Event{}, false
	}

	ts, _ := discordgo.SnowflakeTimestamp(m.ID)
	ev := messenger.Event{
		ID:          m.ID,
		Identity:    messenger.Identity{Platform: Platform, UserID: m.Author.ID, ChatID: m.ChannelID},
		UserName:    displayName(m.Author, m.Member),
		ContentType: messenger.ContentText,
		Text:        m.Content,
		Timestamp:   ts,
		Raw:         m,
	}
	for _, att := range m.Attachments {
		if ct := attachmentType(att); ct != "" {
			ev.ContentType = ct
			ev.MediaRef = messenger.MediaRef(att.URL)
			ev.MimeType = att.ContentType
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

// attachmentType classifies an attachment; empty means not usable.
func attachmentType(att *discordgo.MessageAttachment) messenger.ContentType {
	ct := strings.ToLower(att.ContentType)
	name := strings.ToLower(att.Filename)
	switch {
	case strings.HasPrefix(ct, "audio/"), strings.HasSuffix(name, ".ogg"), strings.HasSuffix(name, ".m4a"), strings.HasSuffix(name, ".mp3"):
		return messenger.ContentVoice
	case strings.HasPrefix(ct, "image/"):
		return messenger.ContentPhoto
	}
	return ""
}

func displayName(u *discordgo.User, m *discordgo.Member) string {
	if m != nil && m.Nick != "" {
		return m.Nick
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// handleInteraction turns a button press into a text event carrying the
// button's custom ID, after acknowledging it so Discord does not show an
// error to the user.
func (a *Adapter) handleInteraction(i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	user := i.User
	var member *discordgo.Member
	if i.Member != nil {
		member = i.Member
		user = i.Member.User
	}
	if user == nil {
		return
	}
	if err := a.sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		a.log.Warn("discord: interaction ack failed", "error", err)
	}

	a.mu.Lock()
	ctx := a.runCtx
	a.mu.Unlock()
	a.queue.Submit(ctx, messenger.Event{
		ID:          i.ID,
		Identity:    messenger.Identity{Platform: Platform, UserID: user.ID, ChatID: i.ChannelID},
		UserName:    displayName(user, member),
		ContentType: messenger.ContentText,
		Text:        i.MessageComponentData().CustomID,
		Timestamp:   time.Now(),
		Raw:         i,
	})
}

// buildComponents renders a keyboard as action rows of buttons.
func buildComponents(kb *messenger.Keyboard) []discordgo.MessageComponent {
	if kb == nil {
		return nil
	}
	var rows []discordgo.MessageComponent
	for _, row := range kb.Rows {
		var buttons []discordgo.MessageComponent
		for _, b := range row {
			buttons = append(buttons, discordgo.Button{
				Label:    b.Label,
				Style:    buttonStyle(b.Data),
				CustomID: b.Data,
			})
		}
		if len(buttons) > 0 {
			rows = append(rows, discordgo.ActionsRow{Components: buttons})
		}
	}
	return rows
}

func buttonStyle(data string) discordgo.ButtonStyle {
	switch {
	case strings.HasPrefix(data, "confirm"):
		return discordgo.SuccessButton
	case strings.HasPrefix(data, "cancel"):
		return discordgo.DangerButton
	default:
		return discordgo.SecondaryButton
	}
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		a.log.Warn("discord: rate limited", "attempt", attempt+1, "max", maxRetries, "wait", wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
