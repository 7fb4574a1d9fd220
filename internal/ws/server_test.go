package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haven-chat/haven/internal/chat"
	"github.com/haven-chat/haven/internal/registry"
	"github.com/haven-chat/haven/internal/store"
	"github.com/haven-chat/haven/internal/testutil"
)

type wsFixture struct {
	store *store.Store
	chat  *chat.Service
	gen   *testutil.ScriptedGenerator
	url   string
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()

	st := store.New(testutil.OpenTestDB(t), nil)
	reg := registry.New(nil)
	gen := testutil.NewScriptedGenerator("Thank you ", "for sharing.")

	svc, err := chat.New(chat.Config{Store: st, Registry: reg, Generator: gen})
	if err != nil {
		t.Fatalf("chat.New() error: %v", err)
	}
	t.Cleanup(svc.Wait)

	mux := http.NewServeMux()
	NewServer(reg, svc, nil).RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return &wsFixture{
		store: st,
		chat:  svc,
		gen:   gen,
		url:   "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws",
	}
}

func (f *wsFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()

	url := f.url
	if userID != "" {
		url += "?userId=" + userID
	}
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial(%s) error: %v", url, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func (f *wsFixture) seedSession(t *testing.T, userID string) *store.Session {
	t.Helper()
	ctx := context.Background()
	if _, err := f.store.UpsertUser(ctx, store.User{ID: userID}); err != nil {
		t.Fatalf("UpsertUser() error: %v", err)
	}
	sess, err := f.store.CreateSession(ctx, userID, nil, "Check In", store.TypePrivate)
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	return sess
}

func readEvent(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error: %v", err)
	}
	var ev map[string]any
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("unmarshal event %q: %v", data, err)
	}
	return ev
}

func writeFrame(t *testing.T, c *websocket.Conn, v any) {
	t.Helper()
	if err := c.WriteJSON(v); err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}
}

func TestConnect_MissingUserID_ClosesPolicyViolation(t *testing.T) {
	f := newWSFixture(t)
	c := f.dial(t, "")

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := c.ReadMessage()

	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		t.Fatalf("ReadMessage() error = %v, want a close error", err)
	}
	if closeErr.Code != websocket.ClosePolicyViolation {
		t.Errorf("close code = %d, want %d", closeErr.Code, websocket.ClosePolicyViolation)
	}
}

func TestMessageFlow(t *testing.T) {
	f := newWSFixture(t)
	sess := f.seedSession(t, "alice")
	c := f.dial(t, "alice")

	writeFrame(t, c, chat.Inbound{
		Type:      chat.EventMessage,
		SessionID: sess.ID,
		Content:   "I had a hard week.",
		Sender:    chat.Sender{ID: "alice", Name: "Alice"},
	})

	// First the echoed user message.
	ev := readEvent(t, c)
	if ev["type"] != chat.EventMessage {
		t.Fatalf("first event type = %v, want %s", ev["type"], chat.EventMessage)
	}
	msg, ok := ev["message"].(map[string]any)
	if !ok || msg["content"] != "I had a hard week." {
		t.Errorf("message event = %v, want the inbound content", ev)
	}

	// Then stream fragments until the completion event.
	var sawStream bool
	var full string
	for {
		ev := readEvent(t, c)
		switch ev["type"] {
		case chat.EventStream:
			sawStream = true
		case chat.EventStreamComplete:
			full, _ = ev["fullContent"].(string)
		default:
			t.Fatalf("unexpected event type %v", ev["type"])
		}
		if ev["type"] == chat.EventStreamComplete {
			break
		}
	}
	if !sawStream {
		t.Error("no stream events before completion")
	}
	if full != "Thank you for sharing." {
		t.Errorf("fullContent = %q, want the scripted reply", full)
	}
}

func TestDispatch_EmptyContent(t *testing.T) {
	f := newWSFixture(t)
	sess := f.seedSession(t, "alice")
	c := f.dial(t, "alice")

	writeFrame(t, c, chat.Inbound{Type: chat.EventMessage, SessionID: sess.ID, Content: "   "})

	ev := readEvent(t, c)
	if ev["type"] != chat.EventError {
		t.Fatalf("event type = %v, want error", ev["type"])
	}
	if f.gen.ReplyCalls() != 0 {
		t.Errorf("ReplyCalls() = %d, want 0 for rejected frame", f.gen.ReplyCalls())
	}
}

func TestDispatch_SessionNotFound(t *testing.T) {
	f := newWSFixture(t)
	f.seedSession(t, "alice")
	c := f.dial(t, "alice")

	writeFrame(t, c, chat.Inbound{Type: chat.EventMessage, SessionID: 9999, Content: "hello"})

	ev := readEvent(t, c)
	if ev["type"] != chat.EventError || ev["message"] != "Session not found" {
		t.Errorf("event = %v, want session-not-found error", ev)
	}
}

func TestDispatch_UnknownType(t *testing.T) {
	f := newWSFixture(t)
	f.seedSession(t, "alice")
	c := f.dial(t, "alice")

	writeFrame(t, c, map[string]any{"type": "typing"})

	ev := readEvent(t, c)
	if ev["type"] != chat.EventError {
		t.Errorf("event type = %v, want error", ev["type"])
	}
}

func TestDispatch_InvalidJSON(t *testing.T) {
	f := newWSFixture(t)
	f.seedSession(t, "alice")
	c := f.dial(t, "alice")

	if err := c.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("WriteMessage() error: %v", err)
	}

	ev := readEvent(t, c)
	if ev["type"] != chat.EventError {
		t.Errorf("event type = %v, want error", ev["type"])
	}
}

func TestReconnect_ReplacesOlderConnection(t *testing.T) {
	f := newWSFixture(t)
	sess := f.seedSession(t, "alice")

	first := f.dial(t, "alice")
	second := f.dial(t, "alice")

	// The replaced connection is closed by the server.
	_ = first.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := first.ReadMessage(); err == nil {
		t.Error("first connection should be closed after reconnect")
	}

	// Events flow to the new connection only.
	writeFrame(t, second, chat.Inbound{
		Type:      chat.EventMessage,
		SessionID: sess.ID,
		Content:   "hello again",
		Sender:    chat.Sender{ID: "alice", Name: "Alice"},
	})
	ev := readEvent(t, second)
	if ev["type"] != chat.EventMessage {
		t.Errorf("event type = %v, want message on the new connection", ev["type"])
	}
}

func TestDispatch_SenderIdentityComesFromConnection(t *testing.T) {
	f := newWSFixture(t)
	sess := f.seedSession(t, "alice")
	c := f.dial(t, "alice")

	// A frame claiming someone else's id is attributed to the connection.
	writeFrame(t, c, chat.Inbound{
		Type:      chat.EventMessage,
		SessionID: sess.ID,
		Content:   "spoof attempt",
		Sender:    chat.Sender{ID: "mallory", Name: "Alice"},
	})

	ev := readEvent(t, c)
	msg, ok := ev["message"].(map[string]any)
	if !ok {
		t.Fatalf("event = %v, want a message event", ev)
	}
	if msg["senderId"] != "alice" {
		t.Errorf("senderId = %v, want alice", msg["senderId"])
	}
}
