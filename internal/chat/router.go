package chat

import (
	"context"
	"fmt"

	"github.com/haven-chat/haven/internal/therapist"
)

// RouteResult identifies the two messages created for one inbound user
// message: the persisted user message and the assistant placeholder.
type RouteResult struct {
	UserMessageID int64 `json:"userMessageId"`
	AIMessageID   int64 `json:"aiMessageId"`
}

// Route processes one inbound user message. It persists the message,
// fans it out to the session's participants, creates an empty assistant
// placeholder, and starts exactly one reply generation on a detached
// goroutine. The returned ids are available immediately; the reply
// streams in afterwards.
//
// Content arrives verbatim; the transport edge has already rejected
// empty frames. A message for a nonexistent session persists nothing.
func (s *Service) Route(ctx context.Context, sessionID int64, sender Sender, content string) (*RouteResult, error) {
	sess, err := s.store.Session(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("routing message: %w", err)
	}
	to := recipients(sess)

	userMsg, err := s.store.CreateMessage(ctx, sessionID, &sender.ID, false, content)
	if err != nil {
		return nil, fmt.Errorf("persisting user message: %w", err)
	}
	s.broadcast(to, newMessageEvent(userMsg, &sender))

	if err := s.store.TouchSession(ctx, sessionID); err != nil {
		s.logger.Warn("updating session activity failed", "session_id", sessionID, "error", err)
	}

	history, err := s.store.RecentMessages(ctx, sessionID, s.historyWindow)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	turns := make([]therapist.Turn, 0, len(history))
	for _, m := range history {
		if m.Content == "" {
			continue
		}
		role := therapist.RoleUser
		if m.IsAI {
			role = therapist.RoleAssistant
		}
		turns = append(turns, therapist.Turn{Role: role, Content: m.Content})
	}

	aiMsg, err := s.store.CreateMessage(ctx, sessionID, nil, true, "")
	if err != nil {
		return nil, fmt.Errorf("creating reply placeholder: %w", err)
	}
	s.setState(aiMsg.ID, StatePending)

	s.logger.Info("routed message",
		"session_id", sessionID,
		"sender_id", sender.ID,
		"user_message_id", userMsg.ID,
		"ai_message_id", aiMsg.ID)

	// The generation outlives the inbound request: a client disconnect
	// must not cancel it, so detach from the caller's cancellation.
	s.replies.Add(1)
	go func() {
		defer s.replies.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("reply generation panicked", "ai_message_id", aiMsg.ID, "panic", r)
				s.failReply(context.WithoutCancel(ctx), sess, to, aiMsg.ID)
			}
		}()
		s.generateReply(context.WithoutCancel(ctx), sess, to, turns, aiMsg.ID)
	}()

	return &RouteResult{UserMessageID: userMsg.ID, AIMessageID: aiMsg.ID}, nil
}
