// Package gateway defines the platform-neutral chat event and message types
// and the Adapter interface that platform implementations (Discord, Slack)
// must satisfy. The relay core consumes only these types; all platform SDK
// specifics stay inside the adapter packages.
package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrMessageNotFound is returned by Edit and Delete when the target message
// no longer exists on the platform (deleted by a moderator, expired, etc.).
// Adapters map their SDK's unknown-message errors to this sentinel so the
// relay core can drop stale sessions without platform knowledge.
var ErrMessageNotFound = errors.New("gateway: message not found")

// EventType classifies an inbound chat notification.
type EventType string

const (
	EventMessageCreated EventType = "message_created"
	EventMessageEdited  EventType = "message_edited"
	EventMessageDeleted EventType = "message_deleted"
)

// MessageRef identifies a single message on the platform. It is a non-owning
// reference; the referenced message is owned by the chat platform.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// IsZero reports whether the ref identifies no message.
func (r MessageRef) IsZero() bool {
	return r.ChannelID == "" && r.MessageID == ""
}

// Attachment describes a file attached to a message. Content is fetched
// lazily via Adapter.Download.
type Attachment struct {
	Filename string
	Size     int
	URL      string
}

// Message is a platform-neutral view of a chat message.
type Message struct {
	Ref         MessageRef
	ServerID    string // guild (Discord) or team (Slack) identifier
	UserID      string
	UserName    string
	Bot         bool // author is a bot account
	Text        string
	JumpLink    string // permalink to the message, empty if unavailable
	Attachments []Attachment
	Timestamp   time.Time
}

// Event is one inbound chat notification. For EventMessageDeleted only
// Message.Ref is guaranteed to be populated.
type Event struct {
	Type    EventType
	Message Message
}

// Adapter is the interface that platform-specific implementations must
// satisfy. Each adapter handles connection management, event delivery, and
// message operations for a single chat platform.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events from the platform.
	// The channel is closed when the adapter is closed. Listen must only
	// be called after Connect.
	Listen(ctx context.Context) (<-chan Event, error)

	// Send posts a new message to a channel and returns its ref.
	Send(ctx context.Context, channelID, text string) (MessageRef, error)

	// Edit replaces the content of an existing message in place.
	// Returns ErrMessageNotFound if the message is gone upstream.
	Edit(ctx context.Context, ref MessageRef, text string) error

	// Delete removes a message. Returns ErrMessageNotFound if it is
	// already gone.
	Delete(ctx context.Context, ref MessageRef) error

	// Typing signals a transient typing indicator in a channel. Failures
	// are cosmetic and safe to ignore.
	Typing(ctx context.Context, channelID string) error

	// Download fetches the content of an attachment.
	Download(ctx context.Context, att Attachment) ([]byte, error)

	// SetPresence switches the bot's displayed activity between the
	// nominal and degraded (stored errors pending) indicators.
	SetPresence(ctx context.Context, degraded bool) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}
