package chat

import (
	"context"
	"strings"
	"unicode"

	"github.com/haven-chat/haven/internal/therapist"
)

// titleReplyLimit caps how late in a session a title may still be
// generated: once more than this many assistant replies have completed,
// the window has passed.
const titleReplyLimit = 2

// defaultTitlePrefixes are the title patterns sessions are born with.
// A bare prefix or a prefix followed by a number counts as default.
var defaultTitlePrefixes = []string{"New Session", "Private Session", "Couples Session"}

// isDefaultTitle reports whether a title still carries its creation-time
// default, meaning no custom rename and no earlier generated title.
func isDefaultTitle(title string) bool {
	title = strings.TrimSpace(title)
	for _, prefix := range defaultTitlePrefixes {
		if title == prefix {
			return true
		}
		rest, ok := strings.CutPrefix(title, prefix+" ")
		if !ok || rest == "" {
			continue
		}
		numeric := true
		for _, r := range rest {
			if !unicode.IsDigit(r) {
				numeric = false
				break
			}
		}
		if numeric {
			return true
		}
	}
	return false
}

// maybeGenerateTitle runs the title flow after a completed reply. Both
// guards must pass: the session still carries a default title, and no
// more than titleReplyLimit assistant replies have completed. Title
// generation is best-effort; any failure keeps the existing title.
func (s *Service) maybeGenerateTitle(ctx context.Context, sessionID int64, to []string) {
	sess, err := s.store.Session(ctx, sessionID)
	if err != nil {
		s.logger.Debug("title generation skipped", "session_id", sessionID, "error", err)
		return
	}
	if !isDefaultTitle(sess.Title) {
		return
	}

	replies, err := s.store.AssistantReplyCount(ctx, sessionID)
	if err != nil {
		s.logger.Debug("title generation skipped", "session_id", sessionID, "error", err)
		return
	}
	if replies > titleReplyLimit {
		return
	}

	userMsg, aiReply, ok := s.firstExchange(ctx, sessionID)
	if !ok {
		return
	}

	var partial strings.Builder
	title, err := s.gen.Title(ctx, userMsg, aiReply, func(fragment string) error {
		partial.WriteString(fragment)
		s.broadcast(to, TitleUpdateEvent{
			Type:      EventTitleUpdate,
			SessionID: sessionID,
			Title:     strings.TrimSpace(partial.String()),
		})
		return nil
	})
	if err != nil {
		s.logger.Debug("title generation failed", "session_id", sessionID, "error", err)
		return
	}
	title = strings.TrimSpace(title)
	if !therapist.ValidTitle(title) {
		s.logger.Debug("generated title rejected", "session_id", sessionID, "title", title)
		return
	}

	if err := s.store.RenameSession(ctx, sessionID, title); err != nil {
		s.logger.Error("persisting generated title failed", "session_id", sessionID, "error", err)
		return
	}
	s.logger.Info("session titled", "session_id", sessionID, "title", title)
	s.broadcast(to, TitleUpdateEvent{Type: EventTitleUpdate, SessionID: sessionID, Title: title})
}

// firstExchange returns the first non-empty user message and the first
// non-empty assistant reply of a session.
func (s *Service) firstExchange(ctx context.Context, sessionID int64) (userMsg, aiReply string, ok bool) {
	msgs, err := s.store.SessionMessages(ctx, sessionID, 0)
	if err != nil {
		s.logger.Debug("loading first exchange failed", "session_id", sessionID, "error", err)
		return "", "", false
	}
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		if !m.IsAI && userMsg == "" {
			userMsg = m.Content
		}
		if m.IsAI && aiReply == "" {
			aiReply = m.Content
		}
		if userMsg != "" && aiReply != "" {
			return userMsg, aiReply, true
		}
	}
	return "", "", false
}
