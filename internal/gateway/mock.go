package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockAdapter implements Adapter for testing. It records sent, edited, and
// deleted messages and allows simulating inbound events via SimulateEvent.
type MockAdapter struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	events    chan Event
	nextID    int

	sent     []SentMessage
	edits    map[MessageRef][]string // edit history per message
	deleted  []MessageRef
	missing  map[MessageRef]bool // refs that report ErrMessageNotFound
	files    map[string][]byte   // attachment URL -> content
	typing   int
	degraded bool
	botID    string
}

// SentMessage records one Send call.
type SentMessage struct {
	Ref  MessageRef
	Text string
}

// NewMockAdapter creates a MockAdapter with a buffered event channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		events:  make(chan Event, 100),
		edits:   make(map[MessageRef][]string),
		missing: make(map[MessageRef]bool),
		files:   make(map[string][]byte),
	}
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the event channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.events, nil
}

// Send records the outbound message and returns a synthetic ref.
func (m *MockAdapter) Send(ctx context.Context, channelID, text string) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return MessageRef{}, fmt.Errorf("mock adapter: not connected")
	}
	m.nextID++
	ref := MessageRef{ChannelID: channelID, MessageID: fmt.Sprintf("out-%d", m.nextID)}
	m.sent = append(m.sent, SentMessage{Ref: ref, Text: text})
	return ref, nil
}

// Edit records the edit, or returns ErrMessageNotFound for refs marked missing.
func (m *MockAdapter) Edit(ctx context.Context, ref MessageRef, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missing[ref] {
		return ErrMessageNotFound
	}
	m.edits[ref] = append(m.edits[ref], text)
	return nil
}

// Delete records the deletion, or returns ErrMessageNotFound for refs marked missing.
func (m *MockAdapter) Delete(ctx context.Context, ref MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.missing[ref] {
		return ErrMessageNotFound
	}
	m.deleted = append(m.deleted, ref)
	return nil
}

// Typing counts typing signals.
func (m *MockAdapter) Typing(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing++
	return nil
}

// Download returns pre-registered attachment content.
func (m *MockAdapter) Download(ctx context.Context, att Attachment) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[att.URL]
	if !ok {
		return nil, fmt.Errorf("mock adapter: no content for %s", att.URL)
	}
	return data, nil
}

// SetPresence records the current presence indicator.
func (m *MockAdapter) SetPresence(ctx context.Context, degraded bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.degraded = degraded
	return nil
}

// Close shuts down the mock adapter and closes the event channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.events)
	return nil
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botID
}

// --- Test helpers ---

// SetBotUserID sets the bot user ID for testing.
func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botID = id
}

// SimulateEvent delivers an event as if it came from the chat platform.
// Safe to call from any goroutine.
func (m *MockAdapter) SimulateEvent(evt Event) {
	if evt.Message.Timestamp.IsZero() {
		evt.Message.Timestamp = time.Now()
	}
	m.events <- evt
}

// MarkMissing makes future Edit/Delete calls for ref fail with
// ErrMessageNotFound.
func (m *MockAdapter) MarkMissing(ref MessageRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missing[ref] = true
}

// RegisterFile registers attachment content served by Download.
func (m *MockAdapter) RegisterFile(url string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[url] = data
}

// LastSent returns the most recently sent message.
// Returns zero value and false if nothing has been sent.
func (m *MockAdapter) LastSent() (SentMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// AllSent returns a copy of all sent messages.
func (m *MockAdapter) AllSent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentCount returns the number of messages sent.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// Edits returns the edit history for a message ref.
func (m *MockAdapter) Edits(ref MessageRef) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.edits[ref]))
	copy(out, m.edits[ref])
	return out
}

// Deleted returns all refs deleted through the adapter.
func (m *MockAdapter) Deleted() []MessageRef {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MessageRef, len(m.deleted))
	copy(out, m.deleted)
	return out
}

// TypingCount returns the number of typing signals sent.
func (m *MockAdapter) TypingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typing
}

// Degraded returns the last presence indicator set.
func (m *MockAdapter) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded
}
