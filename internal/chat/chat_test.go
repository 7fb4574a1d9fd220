package chat

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"github.com/haven-chat/haven/internal/registry"
	"github.com/haven-chat/haven/internal/store"
	"github.com/haven-chat/haven/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fixture struct {
	store    *store.Store
	registry *registry.Registry
	gen      *testutil.ScriptedGenerator
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	st := store.New(testutil.OpenTestDB(t), nil)
	reg := registry.New(nil)
	gen := testutil.NewScriptedGenerator("I hear you. ", "Tell me more.")

	svc, err := New(Config{Store: st, Registry: reg, Generator: gen})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return &fixture{store: st, registry: reg, gen: gen, svc: svc}
}

func (f *fixture) seedUser(t *testing.T, id string) {
	t.Helper()
	if _, err := f.store.UpsertUser(context.Background(), store.User{ID: id}); err != nil {
		t.Fatalf("UpsertUser(%s) error: %v", id, err)
	}
}

func (f *fixture) privateSession(t *testing.T, creator, title string) *store.Session {
	t.Helper()
	sess, err := f.store.CreateSession(context.Background(), creator, nil, title, store.TypePrivate)
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	return sess
}

func (f *fixture) couplesSession(t *testing.T, creator, partner, title string) *store.Session {
	t.Helper()
	sess, err := f.store.CreateSession(context.Background(), creator, &partner, title, store.TypeCouples)
	if err != nil {
		t.Fatalf("CreateSession() error: %v", err)
	}
	return sess
}

func eventsOfType[T any](payloads []any) []T {
	var out []T
	for _, p := range payloads {
		if ev, ok := p.(T); ok {
			out = append(out, ev)
		}
	}
	return out
}

func TestRoute_SessionNotFound_PersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice")

	_, err := f.svc.Route(context.Background(), 4242, Sender{ID: "alice", Name: "Alice"}, "hello")
	if !errors.Is(err, store.ErrSessionNotFound) {
		t.Fatalf("Route() error = %v, want ErrSessionNotFound", err)
	}

	// Nothing was persisted and no generation started.
	if calls := f.gen.ReplyCalls(); calls != 0 {
		t.Errorf("ReplyCalls() = %d, want 0", calls)
	}
}

func TestRoute_PrivateSession_FullFlow(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice")
	sess := f.privateSession(t, "alice", "Weekly Check In")

	ch := testutil.NewChannelRecorder()
	f.registry.Register("alice", ch)

	f.gen.AddReply("anxious", "It makes sense ", "to feel anxious. ", "Let's unpack that.")

	res, err := f.svc.Route(context.Background(), sess.ID, Sender{ID: "alice", Name: "Alice"}, "I feel anxious lately.")
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	f.svc.Wait()

	payloads := ch.Payloads()

	msgs := eventsOfType[MessageEvent](payloads)
	if len(msgs) != 1 {
		t.Fatalf("message events = %d, want 1", len(msgs))
	}
	if msgs[0].Message.ID != res.UserMessageID || msgs[0].Message.Content != "I feel anxious lately." {
		t.Errorf("message event = %+v, want the routed user message", msgs[0].Message)
	}

	want := "It makes sense to feel anxious. Let's unpack that."
	streams := eventsOfType[StreamEvent](payloads)
	if len(streams) != 3 {
		t.Fatalf("stream events = %d, want 3", len(streams))
	}
	// Each fullContent is a prefix of the next: the stream only grows.
	for i := 1; i < len(streams); i++ {
		if !strings.HasPrefix(streams[i].FullContent, streams[i-1].FullContent) {
			t.Errorf("stream %d fullContent %q is not an extension of %q",
				i, streams[i].FullContent, streams[i-1].FullContent)
		}
	}
	if last := streams[len(streams)-1].FullContent; last != want {
		t.Errorf("last fullContent = %q, want %q", last, want)
	}

	completes := eventsOfType[StreamCompleteEvent](payloads)
	if len(completes) != 1 || completes[0].FullContent != want {
		t.Fatalf("complete events = %+v, want one with the full reply", completes)
	}
	if completes[0].MessageID != res.AIMessageID {
		t.Errorf("complete MessageID = %d, want %d", completes[0].MessageID, res.AIMessageID)
	}

	// Persisted content matches the concatenated fragments.
	aiMsg, err := f.store.Message(context.Background(), res.AIMessageID)
	if err != nil {
		t.Fatalf("Message() error: %v", err)
	}
	if aiMsg.Content != want {
		t.Errorf("persisted reply = %q, want %q", aiMsg.Content, want)
	}

	if state, ok := f.svc.Status(res.AIMessageID); !ok || state != StateComplete {
		t.Errorf("Status() = (%v, %v), want (complete, true)", state, ok)
	}
}

func TestRoute_CouplesSession_FanOutToBoth(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice")
	f.seedUser(t, "bob")
	sess := f.couplesSession(t, "alice", "bob", "Our Space")

	aliceCh := testutil.NewChannelRecorder()
	bobCh := testutil.NewChannelRecorder()
	f.registry.Register("alice", aliceCh)
	f.registry.Register("bob", bobCh)

	_, err := f.svc.Route(context.Background(), sess.ID, Sender{ID: "alice", Name: "Alice"}, "We keep arguing.")
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	f.svc.Wait()

	for name, ch := range map[string]*testutil.ChannelRecorder{"alice": aliceCh, "bob": bobCh} {
		payloads := ch.Payloads()
		if n := len(eventsOfType[MessageEvent](payloads)); n != 1 {
			t.Errorf("%s message events = %d, want 1", name, n)
		}
		if n := len(eventsOfType[StreamEvent](payloads)); n == 0 {
			t.Errorf("%s received no stream events", name)
		}
		if n := len(eventsOfType[StreamCompleteEvent](payloads)); n != 1 {
			t.Errorf("%s complete events = %d, want 1", name, n)
		}
	}

	// One inbound message produces exactly one generation, regardless of
	// how many participants receive the fan-out.
	if calls := f.gen.ReplyCalls(); calls != 1 {
		t.Errorf("ReplyCalls() = %d, want 1", calls)
	}
}

func TestRoute_PrivateSession_IsolatedFromOthers(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice")
	f.seedUser(t, "bob")
	sess := f.privateSession(t, "alice", "Just Mine")

	aliceCh := testutil.NewChannelRecorder()
	bobCh := testutil.NewChannelRecorder()
	f.registry.Register("alice", aliceCh)
	f.registry.Register("bob", bobCh)

	_, err := f.svc.Route(context.Background(), sess.ID, Sender{ID: "alice", Name: "Alice"}, "something private")
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	f.svc.Wait()

	if n := len(bobCh.Payloads()); n != 0 {
		t.Errorf("bob received %d events from alice's private session, want 0", n)
	}
	if n := len(aliceCh.Payloads()); n == 0 {
		t.Error("alice received no events from her own session")
	}
}

func TestRoute_DisconnectedRecipient_GenerationStillCompletes(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice")
	sess := f.privateSession(t, "alice", "Solo Work")

	// No channel registered at all: fragments have nowhere to go but the
	// reply still persists.
	res, err := f.svc.Route(context.Background(), sess.ID, Sender{ID: "alice", Name: "Alice"}, "hello")
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	f.svc.Wait()

	aiMsg, err := f.store.Message(context.Background(), res.AIMessageID)
	if err != nil {
		t.Fatalf("Message() error: %v", err)
	}
	if aiMsg.Content == "" {
		t.Error("reply was not persisted for a disconnected user")
	}
	if state, ok := f.svc.Status(res.AIMessageID); !ok || state != StateComplete {
		t.Errorf("Status() = (%v, %v), want (complete, true)", state, ok)
	}
}

func TestRoute_MidStreamDisconnect_SendFailuresAreDropped(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice")
	sess := f.privateSession(t, "alice", "Solo Work")

	ch := testutil.NewChannelRecorder()
	f.registry.Register("alice", ch)
	// The channel dies before the stream starts; sends fail but the
	// generation must still run to completion.
	_ = ch.Close()

	res, err := f.svc.Route(context.Background(), sess.ID, Sender{ID: "alice", Name: "Alice"}, "hello")
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	f.svc.Wait()

	if state, ok := f.svc.Status(res.AIMessageID); !ok || state != StateComplete {
		t.Errorf("Status() = (%v, %v), want (complete, true)", state, ok)
	}
}

func TestRoute_GenerationFailure_PersistsFallback(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice")
	sess := f.privateSession(t, "alice", "Rough Day")

	ch := testutil.NewChannelRecorder()
	f.registry.Register("alice", ch)
	f.gen.FailWith(errors.New("model unavailable"))

	res, err := f.svc.Route(context.Background(), sess.ID, Sender{ID: "alice", Name: "Alice"}, "hello")
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	f.svc.Wait()

	aiMsg, err := f.store.Message(context.Background(), res.AIMessageID)
	if err != nil {
		t.Fatalf("Message() error: %v", err)
	}
	if aiMsg.Content != FallbackReply {
		t.Errorf("persisted content = %q, want the fallback reply", aiMsg.Content)
	}

	state, ok := f.svc.Status(res.AIMessageID)
	if !ok || state != StateFailed {
		t.Fatalf("Status() = (%v, %v), want (failed, true)", state, ok)
	}

	// Clients still see the stream end.
	completes := eventsOfType[StreamCompleteEvent](ch.Payloads())
	if len(completes) != 1 || completes[0].FullContent != FallbackReply {
		t.Errorf("complete events = %+v, want one carrying the fallback", completes)
	}

	// Failed is terminal: no later transition revives the reply.
	f.svc.setState(res.AIMessageID, StateStreaming)
	if state, _ := f.svc.Status(res.AIMessageID); state != StateFailed {
		t.Errorf("state after re-set = %v, want failed to stick", state)
	}
}

func TestRoute_HistoryWindow(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice")
	sess := f.privateSession(t, "alice", "Long Running")

	ctx := context.Background()
	sender := Sender{ID: "alice", Name: "Alice"}

	// Fill the session well past the window.
	for i := 0; i < 15; i++ {
		if _, err := f.svc.Route(ctx, sess.ID, sender, "message"); err != nil {
			t.Fatalf("Route() error: %v", err)
		}
		f.svc.Wait()
	}

	history := f.gen.LastHistory()
	if len(history) > DefaultHistoryWindow {
		t.Errorf("history length = %d, want at most %d", len(history), DefaultHistoryWindow)
	}
	if len(history) == 0 {
		t.Fatal("history is empty")
	}
	// The newest user message is the last turn handed to the generator.
	if last := history[len(history)-1]; last.Content != "message" {
		t.Errorf("last turn = %+v, want the inbound message", last)
	}
}

func TestTitle_GeneratedAfterFirstReply(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice")
	sess := f.privateSession(t, "alice", "New Session")

	ch := testutil.NewChannelRecorder()
	f.registry.Register("alice", ch)
	f.gen.SetTitle("Managing Daily ", "Anxiety")

	_, err := f.svc.Route(context.Background(), sess.ID, Sender{ID: "alice", Name: "Alice"}, "I feel anxious.")
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	f.svc.Wait()

	got, err := f.store.Session(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("Session() error: %v", err)
	}
	if got.Title != "Managing Daily Anxiety" {
		t.Errorf("Title = %q, want the generated title", got.Title)
	}

	// Partial updates streamed, final title last.
	titles := eventsOfType[TitleUpdateEvent](ch.Payloads())
	if len(titles) < 2 {
		t.Fatalf("title events = %d, want streamed partials plus the final", len(titles))
	}
	if last := titles[len(titles)-1].Title; last != "Managing Daily Anxiety" {
		t.Errorf("last title event = %q, want the final title", last)
	}

	// A second exchange must not retitle: the session no longer carries a
	// default title.
	_, err = f.svc.Route(context.Background(), sess.ID, Sender{ID: "alice", Name: "Alice"}, "Still anxious.")
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	f.svc.Wait()
	if calls := f.gen.TitleCalls(); calls != 1 {
		t.Errorf("TitleCalls() after second exchange = %d, want 1", calls)
	}
}

func TestTitle_NumberedDefaultStillEligible(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice")
	sess := f.privateSession(t, "alice", "Private Session 3")

	f.gen.SetTitle("Processing A Setback")

	_, err := f.svc.Route(context.Background(), sess.ID, Sender{ID: "alice", Name: "Alice"}, "hello")
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	f.svc.Wait()

	got, _ := f.store.Session(context.Background(), sess.ID)
	if got.Title != "Processing A Setback" {
		t.Errorf("Title = %q, numbered default should be replaced", got.Title)
	}
}

func TestTitle_CustomTitleNeverOverwritten(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice")
	sess := f.privateSession(t, "alice", "My Own Title")

	_, err := f.svc.Route(context.Background(), sess.ID, Sender{ID: "alice", Name: "Alice"}, "hello")
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	f.svc.Wait()

	got, _ := f.store.Session(context.Background(), sess.ID)
	if got.Title != "My Own Title" {
		t.Errorf("Title = %q, custom title must survive", got.Title)
	}
	if f.gen.TitleCalls() != 0 {
		t.Errorf("TitleCalls() = %d, want 0 for a custom title", f.gen.TitleCalls())
	}
}

func TestTitle_WindowClosesAfterLimit(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice")
	sess := f.privateSession(t, "alice", "New Session")

	// Title generation keeps failing, so the default title survives while
	// replies accumulate.
	f.gen.FailTitleWith(errors.New("title model down"))

	ctx := context.Background()
	sender := Sender{ID: "alice", Name: "Alice"}
	for i := 0; i < 4; i++ {
		if _, err := f.svc.Route(ctx, sess.ID, sender, "hello"); err != nil {
			t.Fatalf("Route() error: %v", err)
		}
		f.svc.Wait()
	}

	// Four completed replies exceed the window, so the fourth completion
	// no longer attempts a title.
	if calls := f.gen.TitleCalls(); calls != 2 {
		t.Errorf("TitleCalls() = %d, want 2 attempts inside the window", calls)
	}
	got, _ := f.store.Session(ctx, sess.ID)
	if got.Title != "New Session" {
		t.Errorf("Title = %q, want the default after failed generations", got.Title)
	}
}

func TestTitle_InvalidOutputKeepsDefault(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice")
	sess := f.privateSession(t, "alice", "New Session")

	f.gen.SetTitle("This Generated Title Has Many More Words Than Allowed")

	_, err := f.svc.Route(context.Background(), sess.ID, Sender{ID: "alice", Name: "Alice"}, "hello")
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	f.svc.Wait()

	got, _ := f.store.Session(context.Background(), sess.ID)
	if got.Title != "New Session" {
		t.Errorf("Title = %q, want the default after invalid output", got.Title)
	}
}

func TestTitle_NotGeneratedOnFailure(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice")
	sess := f.privateSession(t, "alice", "New Session")

	f.gen.FailWith(errors.New("model unavailable"))

	_, err := f.svc.Route(context.Background(), sess.ID, Sender{ID: "alice", Name: "Alice"}, "hello")
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	f.svc.Wait()

	if f.gen.TitleCalls() != 0 {
		t.Errorf("TitleCalls() = %d, want 0 after a failed reply", f.gen.TitleCalls())
	}
}

func TestReplyStatus(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice")
	sess := f.privateSession(t, "alice", "Polling")

	ctx := context.Background()

	res, err := f.svc.Route(ctx, sess.ID, Sender{ID: "alice", Name: "Alice"}, "hello")
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	f.svc.Wait()

	status, err := f.svc.ReplyStatus(ctx, res.AIMessageID)
	if err != nil {
		t.Fatalf("ReplyStatus() error: %v", err)
	}
	if !status.IsComplete || status.Content == "" {
		t.Errorf("ReplyStatus() = %+v, want complete with content", status)
	}

	// Messages with no in-process state report complete: they are
	// finalized history, for example after a restart.
	userStatus, err := f.svc.ReplyStatus(ctx, res.UserMessageID)
	if err != nil {
		t.Fatalf("ReplyStatus() error: %v", err)
	}
	if !userStatus.IsComplete {
		t.Error("finalized message should report complete")
	}

	if _, err := f.svc.ReplyStatus(ctx, 9999); !errors.Is(err, store.ErrMessageNotFound) {
		t.Errorf("ReplyStatus(9999) error = %v, want ErrMessageNotFound", err)
	}
}

func TestReplyStatus_WhileStreaming(t *testing.T) {
	f := newFixture(t)
	f.seedUser(t, "alice")
	sess := f.privateSession(t, "alice", "Polling")

	f.gen.Gate()

	ctx := context.Background()
	res, err := f.svc.Route(ctx, sess.ID, Sender{ID: "alice", Name: "Alice"}, "hello")
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	<-f.gen.Started()

	status, err := f.svc.ReplyStatus(ctx, res.AIMessageID)
	if err != nil {
		t.Fatalf("ReplyStatus() error: %v", err)
	}
	if status.IsComplete {
		t.Error("in-flight reply should not report complete")
	}

	f.gen.Release()
	f.svc.Wait()

	status, err = f.svc.ReplyStatus(ctx, res.AIMessageID)
	if err != nil {
		t.Fatalf("ReplyStatus() error: %v", err)
	}
	if !status.IsComplete {
		t.Error("finished reply should report complete")
	}
}

func TestIsDefaultTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		title string
		want  bool
	}{
		{"New Session", true},
		{"Private Session", true},
		{"Couples Session 12", true},
		{"Private Session 1", true},
		{"  New Session  ", true},
		{"Private Session one", false},
		{"Navigating Conflict", false},
		{"New Sessions", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isDefaultTitle(tt.title); got != tt.want {
			t.Errorf("isDefaultTitle(%q) = %v, want %v", tt.title, got, tt.want)
		}
	}
}
