package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/haven-chat/haven/internal/store"
	"github.com/haven-chat/haven/internal/therapist"
)

// FallbackReply is persisted in place of an assistant reply whose
// generation failed.
const FallbackReply = "I apologize, but I'm experiencing a temporary technical issue. Please try again in a moment."

// StreamStatus is the polling view of an assistant reply: the content
// visible so far and whether the reply has reached a terminal state.
type StreamStatus struct {
	Content    string `json:"content"`
	IsComplete bool   `json:"isComplete"`
}

// generateReply runs one reply generation to a terminal state. Each
// fragment is accumulated, persisted as the full content so far, and
// broadcast to every participant. Failures persist the fallback text and
// still emit a completion event, so clients always see the stream end.
func (s *Service) generateReply(ctx context.Context, sess *store.Session, to []string, turns []therapist.Turn, messageID int64) {
	s.setState(messageID, StateStreaming)

	var full strings.Builder
	onFragment := func(fragment string) error {
		full.WriteString(fragment)
		if err := s.store.UpdateMessageContent(ctx, messageID, full.String()); err != nil {
			return fmt.Errorf("persisting fragment: %w", err)
		}
		s.broadcast(to, StreamEvent{
			Type:        EventStream,
			MessageID:   messageID,
			SessionID:   sess.ID,
			Content:     fragment,
			FullContent: full.String(),
		})
		return nil
	}

	finalText, err := s.gen.Reply(ctx, turns, sess.Type, onFragment)
	if err != nil {
		s.logger.Error("reply generation failed",
			"session_id", sess.ID,
			"ai_message_id", messageID,
			"error", err)
		s.failReply(ctx, sess, to, messageID)
		return
	}

	if err := s.store.UpdateMessageContent(ctx, messageID, finalText); err != nil {
		s.logger.Error("persisting final reply failed", "ai_message_id", messageID, "error", err)
	}
	s.setState(messageID, StateComplete)
	s.broadcast(to, StreamCompleteEvent{
		Type:        EventStreamComplete,
		MessageID:   messageID,
		SessionID:   sess.ID,
		FullContent: finalText,
	})

	s.maybeGenerateTitle(ctx, sess.ID, to)
}

// failReply finalizes a reply as Failed: the fallback text is persisted
// and the stream is closed out for every participant.
func (s *Service) failReply(ctx context.Context, sess *store.Session, to []string, messageID int64) {
	if err := s.store.UpdateMessageContent(ctx, messageID, FallbackReply); err != nil {
		s.logger.Error("persisting fallback reply failed", "ai_message_id", messageID, "error", err)
	}
	s.setState(messageID, StateFailed)
	s.broadcast(to, StreamCompleteEvent{
		Type:        EventStreamComplete,
		MessageID:   messageID,
		SessionID:   sess.ID,
		FullContent: FallbackReply,
	})
}

// ReplyStatus reports the polling view of a message. Messages without
// in-process lifecycle state are finalized history and report complete.
func (s *Service) ReplyStatus(ctx context.Context, messageID int64) (*StreamStatus, error) {
	msg, err := s.store.Message(ctx, messageID)
	if err != nil {
		return nil, err
	}

	complete := true
	if state, ok := s.Status(messageID); ok {
		complete = state.Terminal()
	}
	return &StreamStatus{Content: msg.Content, IsComplete: complete}, nil
}
