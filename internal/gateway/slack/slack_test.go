package slack

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/corbin-hayes/coderelay/internal/gateway"
)

// --- Mock Slack clients ---

type mockClient struct {
	mu        sync.Mutex
	posted    []postedMessage
	postErr   error
	updates   []updatedMessage
	updateErr error
	deleted   []string
	deleteErr error
	statuses  []string
	users     map[string]*slackapi.User
}

type postedMessage struct {
	channelID string
}

type updatedMessage struct {
	channelID string
	timestamp string
}

func newMockClient() *mockClient {
	return &mockClient{users: make(map[string]*slackapi.User)}
}

func (m *mockClient) AuthTest() (*slackapi.AuthTestResponse, error) {
	return &slackapi.AuthTestResponse{User: "coderelay", UserID: "B123", TeamID: "T1"}, nil
}

func (m *mockClient) PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.postErr != nil {
		return "", "", m.postErr
	}
	m.posted = append(m.posted, postedMessage{channelID: channelID})
	return channelID, fmt.Sprintf("167000000%d.000100", len(m.posted)), nil
}

func (m *mockClient) UpdateMessage(channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return "", "", "", m.updateErr
	}
	m.updates = append(m.updates, updatedMessage{channelID: channelID, timestamp: timestamp})
	return channelID, timestamp, "", nil
}

func (m *mockClient) DeleteMessage(channelID, timestamp string) (string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return "", "", m.deleteErr
	}
	m.deleted = append(m.deleted, timestamp)
	return channelID, timestamp, nil
}

func (m *mockClient) GetUserInfo(userID string) (*slackapi.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return u, nil
	}
	return nil, fmt.Errorf("user_not_found")
}

func (m *mockClient) SetUserCustomStatus(status, emoji string, expiration int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
	return nil
}

type mockSocket struct {
	events chan socketmode.Event
}

func newMockSocket() *mockSocket {
	return &mockSocket{events: make(chan socketmode.Event, 10)}
}

func (m *mockSocket) Run() error                                         { return nil }
func (m *mockSocket) EventsChan() chan socketmode.Event                  { return m.events }
func (m *mockSocket) Ack(req socketmode.Request, payload ...interface{}) {}

func connectedAdapter(t *testing.T, client *mockClient) *Adapter {
	t.Helper()
	a, err := New(AdapterOpts{Client: client, Socket: newMockSocket()})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return a
}

func TestNew_RequiresTokens(t *testing.T) {
	if _, err := New(AdapterOpts{}); err == nil {
		t.Fatal("expected error for missing tokens")
	}
	if _, err := New(AdapterOpts{BotToken: "xoxb-1"}); err == nil {
		t.Fatal("expected error for missing app token")
	}
}

func TestConnectCapturesBotIdentity(t *testing.T) {
	a := connectedAdapter(t, newMockClient())
	if a.BotUserID() != "B123" {
		t.Errorf("bot user ID = %q", a.BotUserID())
	}
}

func TestSendReturnsTimestampRef(t *testing.T) {
	client := newMockClient()
	a := connectedAdapter(t, client)

	ref, err := a.Send(context.Background(), "C1", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if ref.ChannelID != "C1" || ref.MessageID == "" {
		t.Errorf("ref = %+v", ref)
	}
	if len(client.posted) != 1 {
		t.Errorf("posted = %d", len(client.posted))
	}
}

func TestEditMapsMessageNotFound(t *testing.T) {
	client := newMockClient()
	client.updateErr = errors.New("message_not_found")
	a := connectedAdapter(t, client)

	err := a.Edit(context.Background(), gateway.MessageRef{ChannelID: "C1", MessageID: "1.2"}, "x")
	if !errors.Is(err, gateway.ErrMessageNotFound) {
		t.Errorf("err = %v, want ErrMessageNotFound", err)
	}
}

func TestDeleteMapsMessageNotFound(t *testing.T) {
	client := newMockClient()
	client.deleteErr = errors.New("message_not_found")
	a := connectedAdapter(t, client)

	err := a.Delete(context.Background(), gateway.MessageRef{ChannelID: "C1", MessageID: "1.2"})
	if !errors.Is(err, gateway.ErrMessageNotFound) {
		t.Errorf("err = %v, want ErrMessageNotFound", err)
	}
}

func TestEditAndDeleteRecord(t *testing.T) {
	client := newMockClient()
	a := connectedAdapter(t, client)
	ref := gateway.MessageRef{ChannelID: "C1", MessageID: "1.200"}

	if err := a.Edit(context.Background(), ref, "new"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := a.Delete(context.Background(), ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(client.updates) != 1 || client.updates[0].timestamp != "1.200" {
		t.Errorf("updates = %+v", client.updates)
	}
	if len(client.deleted) != 1 || client.deleted[0] != "1.200" {
		t.Errorf("deleted = %v", client.deleted)
	}
}

func TestSetPresence(t *testing.T) {
	client := newMockClient()
	a := connectedAdapter(t, client)

	a.SetPresence(context.Background(), true)
	a.SetPresence(context.Background(), false)

	if len(client.statuses) != 2 {
		t.Fatalf("statuses = %v", client.statuses)
	}
	if client.statuses[0] != degradedStatus || client.statuses[1] != nominalStatus {
		t.Errorf("statuses = %v", client.statuses)
	}
}

func TestRateLimitRespectsContext(t *testing.T) {
	client := newMockClient()
	client.postErr = &slackapi.RateLimitedError{RetryAfter: time.Minute}
	a := connectedAdapter(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Send(ctx, "C1", "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestHandleMessageSubtypes(t *testing.T) {
	client := newMockClient()
	a := connectedAdapter(t, client)

	a.handleMessage(&slackevents.MessageEvent{
		Channel:   "C1",
		User:      "U1",
		Text:      "/run go",
		TimeStamp: "1670000000.000100",
	})
	evt := <-a.events
	if evt.Type != gateway.EventMessageCreated || evt.Message.Ref.MessageID != "1670000000.000100" {
		t.Errorf("event = %+v", evt)
	}
	if evt.Message.ServerID != "T1" {
		t.Errorf("server = %q", evt.Message.ServerID)
	}

	a.handleMessage(&slackevents.MessageEvent{
		Channel: "C1",
		SubType: "message_changed",
		Message: &slackevents.MessageEvent{
			User:      "U1",
			Text:      "/run go edited",
			TimeStamp: "1670000000.000100",
		},
	})
	evt = <-a.events
	if evt.Type != gateway.EventMessageEdited || evt.Message.Text != "/run go edited" {
		t.Errorf("event = %+v", evt)
	}
	if evt.Message.Ref.ChannelID != "C1" {
		t.Errorf("edited event channel = %q", evt.Message.Ref.ChannelID)
	}

	a.handleMessage(&slackevents.MessageEvent{
		Channel:          "C1",
		SubType:          "message_deleted",
		DeletedTimeStamp: "1670000000.000100",
	})
	evt = <-a.events
	if evt.Type != gateway.EventMessageDeleted || evt.Message.Ref.MessageID != "1670000000.000100" {
		t.Errorf("event = %+v", evt)
	}
}

func TestHandleMessageFiltersOwnAndBots(t *testing.T) {
	client := newMockClient()
	a := connectedAdapter(t, client)

	a.handleMessage(&slackevents.MessageEvent{Channel: "C1", User: "B123", Text: "self"})
	a.handleMessage(&slackevents.MessageEvent{Channel: "C1", User: "U9", BotID: "B999", Text: "bot"})

	select {
	case evt := <-a.events:
		t.Errorf("unexpected event %+v", evt)
	default:
	}
}

func TestParseSlackTimestamp(t *testing.T) {
	ts := parseSlackTimestamp("1670000000.000100")
	if ts.Unix() != 1670000000 {
		t.Errorf("unix = %d", ts.Unix())
	}
	if !parseSlackTimestamp("garbage").IsZero() {
		t.Error("garbage timestamp should map to zero time")
	}
}

func TestIsMessageNotFound(t *testing.T) {
	if !isMessageNotFound(errors.New("message_not_found")) {
		t.Error("plain message_not_found not detected")
	}
	if isMessageNotFound(errors.New("channel_not_found")) {
		t.Error("false positive")
	}
	if isMessageNotFound(nil) {
		t.Error("nil error")
	}
}
