// Package discord implements the gateway Adapter for Discord using the
// Gateway WebSocket.
package discord

import (
	"context"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/corbin-hayes/coderelay/internal/gateway"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute

	// nominalActivity is the presence line shown while the error log is empty.
	nominalActivity = "you code | /help"
	// degradedActivity is shown while stored errors are pending review.
	degradedActivity = "errors logged | /error"
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	UpdateGameStatus(idle int, name string) error
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}
func (r *realSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSend(channelID, content, options...)
}
func (r *realSession) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageEdit(channelID, messageID, content, options...)
}
func (r *realSession) ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelMessageDelete(channelID, messageID, options...)
}
func (r *realSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelTyping(channelID, options...)
}
func (r *realSession) UpdateGameStatus(idle int, name string) error {
	return r.s.UpdateGameStatus(idle, name)
}

// Adapter implements gateway.Adapter for Discord via the Gateway WebSocket.
type Adapter struct {
	sess     session
	botToken string
	httpc    *http.Client

	mu             sync.Mutex
	connected      bool
	closed         bool
	botUserID      string
	events         chan gateway.Event
	removeHandlers []func()
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
	// For testing: inject an http.Client for attachment downloads.
	HTTPClient *http.Client
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}

	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}

	return &Adapter{
		sess:     opts.Session,
		botToken: opts.BotToken,
		httpc:    httpc,
		events:   make(chan gateway.Event, 100),
	}, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
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
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	// Capture the bot user ID on connect/reconnect.
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
	})
	a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Printf("discord: gateway disconnected, discordgo will auto-reconnect")
	})
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Resumed) {
		log.Printf("discord: gateway session resumed")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// Listen returns a channel of inbound events. Registers create/update/delete
// message handlers on the Gateway session. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan gateway.Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil, fmt.Errorf("discord: not connected")
	}

	a.removeHandlers = append(a.removeHandlers,
		a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			a.handleCreate(m)
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageUpdate) {
			a.handleUpdate(m)
		}),
		a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageDelete) {
			a.handleDelete(m)
		}),
	)

	return a.events, nil
}

// Send posts a message and returns its ref.
func (a *Adapter) Send(ctx context.Context, channelID, text string) (gateway.MessageRef, error) {
	if err := a.requireConnected(); err != nil {
		return gateway.MessageRef{}, err
	}

	var sent *discordgo.Message
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		sent, apiErr = a.sess.ChannelMessageSend(channelID, text)
		return apiErr
	})
	if err != nil {
		return gateway.MessageRef{}, fmt.Errorf("discord: send message: %w", err)
	}
	return gateway.MessageRef{ChannelID: channelID, MessageID: sent.ID}, nil
}

// Edit replaces the content of an existing message in place.
func (a *Adapter) Edit(ctx context.Context, ref gateway.MessageRef, text string) error {
	if err := a.requireConnected(); err != nil {
		return err
	}

	err := a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.ChannelMessageEdit(ref.ChannelID, ref.MessageID, text)
		return apiErr
	})
	if err != nil {
		if isUnknownMessage(err) {
			return gateway.ErrMessageNotFound
		}
		return fmt.Errorf("discord: edit message: %w", err)
	}
	return nil
}

// Delete removes a message.
func (a *Adapter) Delete(ctx context.Context, ref gateway.MessageRef) error {
	if err := a.requireConnected(); err != nil {
		return err
	}

	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.ChannelMessageDelete(ref.ChannelID, ref.MessageID)
	})
	if err != nil {
		if isUnknownMessage(err) {
			return gateway.ErrMessageNotFound
		}
		return fmt.Errorf("discord: delete message: %w", err)
	}
	return nil
}

// Typing signals the typing indicator in a channel.
func (a *Adapter) Typing(ctx context.Context, channelID string) error {
	if err := a.requireConnected(); err != nil {
		return err
	}
	if err := a.sess.ChannelTyping(channelID); err != nil {
		return fmt.Errorf("discord: typing: %w", err)
	}
	return nil
}

// Download fetches attachment content from Discord's CDN.
func (a *Adapter) Download(ctx context.Context, att gateway.Attachment) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("discord: build download request: %w", err)
	}
	resp, err := a.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discord: download %s: %w", att.Filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discord: download %s: status %d", att.Filename, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("discord: read attachment %s: %w", att.Filename, err)
	}
	return data, nil
}

// SetPresence switches the displayed activity between nominal and degraded.
func (a *Adapter) SetPresence(ctx context.Context, degraded bool) error {
	if err := a.requireConnected(); err != nil {
		return err
	}
	activity := nominalActivity
	if degraded {
		activity = degradedActivity
	}
	if err := a.sess.UpdateGameStatus(0, activity); err != nil {
		return fmt.Errorf("discord: set presence: %w", err)
	}
	return nil
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
	for _, remove := range a.removeHandlers {
		remove()
	}
	close(a.events)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) requireConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("discord: not connected")
	}
	return nil
}

func (a *Adapter) handleCreate(m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	a.deliver(gateway.Event{
		Type:    gateway.EventMessageCreated,
		Message: toMessage(m.Message),
	})
}

func (a *Adapter) handleUpdate(m *discordgo.MessageUpdate) {
	// Embed unfurls and other partial updates arrive without an author;
	// those carry no content change we can act on.
	if m.Author == nil {
		return
	}
	a.deliver(gateway.Event{
		Type:    gateway.EventMessageEdited,
		Message: toMessage(m.Message),
	})
}

func (a *Adapter) handleDelete(m *discordgo.MessageDelete) {
	// Delete events carry only the ref.
	a.deliver(gateway.Event{
		Type: gateway.EventMessageDeleted,
		Message: gateway.Message{
			Ref: gateway.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID},
		},
	})
}

// deliver pushes an event without blocking the discordgo callback goroutine.
func (a *Adapter) deliver(evt gateway.Event) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return
	}
	select {
	case a.events <- evt:
	default:
		log.Printf("discord: event buffer full, dropping %s", evt.Type)
	}
}

// toMessage converts a Discord message to the platform-neutral form.
func toMessage(m *discordgo.Message) gateway.Message {
	msg := gateway.Message{
		Ref:      gateway.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID},
		ServerID: m.GuildID,
		UserID:   m.Author.ID,
		UserName: m.Author.Username,
		Bot:      m.Author.Bot,
		Text:     m.Content,
	}
	if m.GuildID != "" {
		msg.JumpLink = fmt.Sprintf("https://discord.com/channels/%s/%s/%s", m.GuildID, m.ChannelID, m.ID)
	}
	for _, att := range m.Attachments {
		msg.Attachments = append(msg.Attachments, gateway.Attachment{
			Filename: att.Filename,
			Size:     att.Size,
			URL:      att.URL,
		})
	}
	if ts, err := discordgo.SnowflakeTimestamp(m.ID); err == nil {
		msg.Timestamp = ts
	}
	return msg
}

// isUnknownMessage reports whether err means the target message is gone.
func isUnknownMessage(err error) bool {
	restErr, ok := err.(*discordgo.RESTError)
	if !ok {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMessage {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err // not a rate limit error
		}

		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * baseBackoff
		if wait > maxBackoff {
			wait = maxBackoff
		}

		log.Printf("discord: rate limited (attempt %d/%d) — retrying in %v",
			attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
