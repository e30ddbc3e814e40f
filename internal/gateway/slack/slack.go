// Package slack implements the gateway Adapter for Slack using Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/corbin-hayes/coderelay/internal/gateway"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10

	// nominalStatus is the custom status shown while the error log is empty.
	nominalStatus = "running code"
	// degradedStatus is shown while stored errors are pending review.
	degradedStatus = "errors logged"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	UpdateMessage(channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error)
	DeleteMessage(channelID, timestamp string) (string, string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
	SetUserCustomStatus(status, emoji string, expiration int64) error
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements gateway.Adapter for Slack Socket Mode.
type Adapter struct {
	client   slackClient
	socket   socketClient
	appToken string
	botToken string
	httpc    *http.Client

	mu        sync.Mutex
	connected bool
	closed    bool
	botUserID string
	teamID    string
	events    chan gateway.Event
	cancel    context.CancelFunc
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	// For testing: inject mock clients instead of the real Slack API.
	Client slackClient
	Socket socketClient
	// For testing: inject an http.Client for attachment downloads.
	HTTPClient *http.Client
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}

	httpc := opts.HTTPClient
	if httpc == nil {
		httpc = &http.Client{Timeout: 30 * time.Second}
	}

	return &Adapter{
		client:   opts.Client,
		socket:   opts.Socket,
		appToken: opts.AppToken,
		botToken: opts.BotToken,
		httpc:    httpc,
		events:   make(chan gateway.Event, 100),
	}, nil
}

// Connect establishes the Socket Mode WebSocket connection.
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

	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	a.teamID = auth.TeamID
	log.Printf("slack: connected as %s (ID: %s)", auth.User, auth.UserID)

	a.connected = true
	return nil
}

// Listen returns a channel of inbound events. Starts the Socket Mode event
// pump in a background goroutine. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan gateway.Event, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("slack: not connected")
	}
	a.mu.Unlock()

	listenCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	go a.runWithReconnect(listenCtx)
	go a.pumpEvents(listenCtx)

	return a.events, nil
}

// Send posts a message and returns its ref. Slack message IDs are the
// message timestamp.
func (a *Adapter) Send(ctx context.Context, channelID, text string) (gateway.MessageRef, error) {
	if err := a.requireConnected(); err != nil {
		return gateway.MessageRef{}, err
	}

	var ts string
	err := retryOnRateLimit(ctx, func() error {
		var postErr error
		_, ts, postErr = a.client.PostMessage(channelID, slackapi.MsgOptionText(text, false))
		return postErr
	})
	if err != nil {
		return gateway.MessageRef{}, fmt.Errorf("slack: post message: %w", err)
	}
	return gateway.MessageRef{ChannelID: channelID, MessageID: ts}, nil
}

// Edit replaces the content of an existing message in place.
func (a *Adapter) Edit(ctx context.Context, ref gateway.MessageRef, text string) error {
	if err := a.requireConnected(); err != nil {
		return err
	}

	err := retryOnRateLimit(ctx, func() error {
		_, _, _, updateErr := a.client.UpdateMessage(ref.ChannelID, ref.MessageID, slackapi.MsgOptionText(text, false))
		return updateErr
	})
	if err != nil {
		if isMessageNotFound(err) {
			return gateway.ErrMessageNotFound
		}
		return fmt.Errorf("slack: update message: %w", err)
	}
	return nil
}

// Delete removes a message.
func (a *Adapter) Delete(ctx context.Context, ref gateway.MessageRef) error {
	if err := a.requireConnected(); err != nil {
		return err
	}

	err := retryOnRateLimit(ctx, func() error {
		_, _, deleteErr := a.client.DeleteMessage(ref.ChannelID, ref.MessageID)
		return deleteErr
	})
	if err != nil {
		if isMessageNotFound(err) {
			return gateway.ErrMessageNotFound
		}
		return fmt.Errorf("slack: delete message: %w", err)
	}
	return nil
}

// Typing is a no-op: the Slack Web API has no typing indicator for bots
// outside the legacy RTM API.
func (a *Adapter) Typing(ctx context.Context, channelID string) error {
	return nil
}

// Download fetches attachment content. Slack file URLs require the bot
// token as a bearer credential.
func (a *Adapter) Download(ctx context.Context, att gateway.Attachment) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, att.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("slack: build download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.botToken)

	resp, err := a.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack: download %s: %w", att.Filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("slack: download %s: status %d", att.Filename, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("slack: read attachment %s: %w", att.Filename, err)
	}
	return data, nil
}

// SetPresence switches the bot's custom status between nominal and degraded.
func (a *Adapter) SetPresence(ctx context.Context, degraded bool) error {
	if err := a.requireConnected(); err != nil {
		return err
	}
	status, emoji := nominalStatus, ":robot_face:"
	if degraded {
		status, emoji = degradedStatus, ":warning:"
	}
	if err := a.client.SetUserCustomStatus(status, emoji, 0); err != nil {
		return fmt.Errorf("slack: set status: %w", err)
	}
	return nil
}

// Close shuts down the adapter and closes the event channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancel != nil {
		a.cancel()
	}
	close(a.events)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) requireConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("slack: not connected")
	}
	return nil
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when Run() returns an error.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < maxReconnectAttempts; attempt++ {
		err := a.socket.Run()
		if err == nil {
			return // clean shutdown
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * baseBackoff
		if wait > maxBackoff {
			wait = maxBackoff
		}

		log.Printf("slack: socket mode disconnected (attempt %d/%d): %v, reconnecting in %v",
			attempt+1, maxReconnectAttempts, err, wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	log.Printf("slack: socket mode exhausted %d reconnection attempts, giving up", maxReconnectAttempts)
}

// pumpEvents reads Socket Mode events and converts them to gateway events.
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
			a.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleEventsAPI(eventsAPIEvent)

	case socketmode.EventTypeConnecting:
		log.Printf("slack: connecting to Socket Mode...")

	case socketmode.EventTypeConnected:
		log.Printf("slack: connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		log.Printf("slack: connection error: %v", evt.Data)

	case socketmode.EventTypeDisconnect:
		log.Printf("slack: server requested disconnect, will reconnect")
	}
}

// handleEventsAPI processes Events API callbacks.
func (a *Adapter) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent)
	if !ok {
		return
	}
	a.handleMessage(ev)
}

// handleMessage converts a Slack message event. The create, edit, and
// delete notifications all arrive as "message" events distinguished by
// subtype.
func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	switch ev.SubType {
	case "":
		if ev.User == a.BotUserID() || ev.BotID != "" {
			return
		}
		a.deliver(gateway.Event{
			Type:    gateway.EventMessageCreated,
			Message: a.toMessage(ev.Channel, ev),
		})

	case "message_changed":
		if ev.Message == nil || ev.Message.User == a.BotUserID() || ev.Message.BotID != "" {
			return
		}
		a.deliver(gateway.Event{
			Type:    gateway.EventMessageEdited,
			Message: a.toMessage(ev.Channel, ev.Message),
		})

	case "message_deleted":
		a.deliver(gateway.Event{
			Type: gateway.EventMessageDeleted,
			Message: gateway.Message{
				Ref: gateway.MessageRef{ChannelID: ev.Channel, MessageID: ev.DeletedTimeStamp},
			},
		})
	}
}

// deliver pushes an event without blocking the socket mode pump.
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
		log.Printf("slack: event buffer full, dropping %s", evt.Type)
	}
}

// toMessage converts a Slack message event to the platform-neutral form.
// channel comes from the enclosing event: edited messages carry no channel
// of their own.
func (a *Adapter) toMessage(channel string, ev *slackevents.MessageEvent) gateway.Message {
	a.mu.Lock()
	teamID := a.teamID
	a.mu.Unlock()

	msg := gateway.Message{
		Ref:       gateway.MessageRef{ChannelID: channel, MessageID: ev.TimeStamp},
		ServerID:  teamID,
		UserID:    ev.User,
		UserName:  a.resolveUserName(ev.User),
		Bot:       ev.BotID != "",
		Text:      ev.Text,
		Timestamp: parseSlackTimestamp(ev.TimeStamp),
	}
	for _, f := range ev.Files {
		msg.Attachments = append(msg.Attachments, gateway.Attachment{
			Filename: f.Name,
			Size:     f.Size,
			URL:      f.URLPrivateDownload,
		})
	}
	return msg
}

// resolveUserName looks up a user's display name. Falls back to user ID.
func (a *Adapter) resolveUserName(userID string) string {
	if userID == "" {
		return ""
	}
	user, err := a.client.GetUserInfo(userID)
	if err != nil {
		return userID
	}
	if user.Profile.DisplayName != "" {
		return user.Profile.DisplayName
	}
	return user.RealName
}

// isMessageNotFound reports whether err means the target message is gone.
func isMessageNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message_not_found")
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit
// errors. It respects context cancellation and the RetryAfter duration from
// Slack.
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
	parts := strings.SplitN(ts, ".", 2)
	if len(parts) == 0 {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
