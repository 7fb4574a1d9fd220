// Package chat orchestrates the message flow of a therapy session:
// routing inbound user messages, fanning events out to participants,
// streaming assistant replies, and generating session titles.
//
// One assistant reply is generated per inbound user message, on a
// detached goroutine so a dropped client connection never cancels an
// in-flight generation. Reply lifecycle is tracked per assistant message:
// Pending until the first fragment, Streaming while fragments arrive,
// then Complete or Failed. Both final states are terminal.
package chat

import (
	"errors"
	"sync"

	"github.com/haven-chat/haven/internal/log"
	"github.com/haven-chat/haven/internal/registry"
	"github.com/haven-chat/haven/internal/store"
	"github.com/haven-chat/haven/internal/therapist"
)

// DefaultHistoryWindow is the number of recent messages handed to the
// generator as conversational context.
const DefaultHistoryWindow = 10

// ErrEmptyMessage indicates an inbound frame with no content. Enforced at
// the transport edge before routing.
var ErrEmptyMessage = errors.New("message content is empty")

// ReplyState is the lifecycle state of one assistant reply.
type ReplyState int

const (
	StatePending ReplyState = iota
	StateStreaming
	StateComplete
	StateFailed
)

func (s ReplyState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStreaming:
		return "streaming"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further transitions.
func (s ReplyState) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// Config holds the dependencies for the chat service.
type Config struct {
	Store     *store.Store
	Registry  *registry.Registry
	Generator therapist.Generator
	Logger    log.Logger

	// HistoryWindow overrides DefaultHistoryWindow when positive.
	HistoryWindow int
}

// Service coordinates message routing and reply generation.
type Service struct {
	store         *store.Store
	registry      *registry.Registry
	gen           therapist.Generator
	logger        log.Logger
	historyWindow int

	mu     sync.Mutex
	states map[int64]ReplyState

	replies sync.WaitGroup
}

// New creates a chat service.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("chat: store is required")
	}
	if cfg.Registry == nil {
		return nil, errors.New("chat: registry is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("chat: generator is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	return &Service{
		store:         cfg.Store,
		registry:      cfg.Registry,
		gen:           cfg.Generator,
		logger:        cfg.Logger,
		historyWindow: cfg.HistoryWindow,
		states:        make(map[int64]ReplyState),
	}, nil
}

// Status returns the reply lifecycle state of an assistant message. ok is
// false for messages this process never generated, which includes
// finalized replies from before a restart.
func (s *Service) Status(messageID int64) (state ReplyState, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok = s.states[messageID]
	return state, ok
}

// Wait blocks until every in-flight reply generation has finished.
// Used during shutdown and by tests.
func (s *Service) Wait() {
	s.replies.Wait()
}

func (s *Service) setState(messageID int64, state ReplyState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.states[messageID]; ok && cur.Terminal() {
		return
	}
	s.states[messageID] = state
}

// broadcast sends a payload to every recipient that has a live channel.
func (s *Service) broadcast(recipients []string, payload any) {
	for _, userID := range recipients {
		s.registry.Send(userID, payload)
	}
}

// recipients returns the participant set of a session: the creator, plus
// the partner for couples sessions.
func recipients(sess *store.Session) []string {
	ids := []string{sess.CreatorID}
	if sess.Type == store.TypeCouples && sess.PartnerID != nil && *sess.PartnerID != sess.CreatorID {
		ids = append(ids, *sess.PartnerID)
	}
	return ids
}
