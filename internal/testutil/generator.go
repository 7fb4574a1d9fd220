package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/haven-chat/haven/internal/therapist"
)

// ScriptedGenerator is a deterministic therapist.Generator for tests.
// It matches the last user turn against registered patterns and streams
// the corresponding fragments through onFragment, one at a time.
//
// Thread-safe for concurrent use.
type ScriptedGenerator struct {
	mu             sync.Mutex
	rules          []scriptRule
	fallback       []string
	replyErr       error
	titleFragments []string
	titleErr       error

	replyCalls  int
	titleCalls  int
	lastHistory []therapist.Turn
	lastType    string

	// replyStarted, when non-nil, receives one signal per Reply call
	// before any fragment is streamed. Lets tests observe in-flight
	// generations.
	replyStarted chan struct{}
	// replyGate, when non-nil, blocks Reply until the test releases it.
	replyGate chan struct{}
}

type scriptRule struct {
	pattern   string
	fragments []string
}

// NewScriptedGenerator creates a generator whose unmatched replies stream
// the given fallback fragments.
func NewScriptedGenerator(fallbackFragments ...string) *ScriptedGenerator {
	if len(fallbackFragments) == 0 {
		fallbackFragments = []string{"I hear you. ", "Tell me more."}
	}
	return &ScriptedGenerator{
		fallback:       fallbackFragments,
		titleFragments: []string{"Working Through ", "Things"},
	}
}

// AddReply registers a pattern. When the last user turn contains the
// pattern (case-insensitive), the fragments are streamed in order.
// First match wins.
func (s *ScriptedGenerator) AddReply(pattern string, fragments ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, scriptRule{pattern: strings.ToLower(pattern), fragments: fragments})
}

// FailWith makes every subsequent Reply return err without streaming.
func (s *ScriptedGenerator) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyErr = err
}

// SetTitle sets the fragments streamed by Title.
func (s *ScriptedGenerator) SetTitle(fragments ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titleFragments = fragments
	s.titleErr = nil
}

// FailTitleWith makes every subsequent Title return err.
func (s *ScriptedGenerator) FailTitleWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.titleErr = err
}

// Gate makes Reply block after signalling start until Release is called.
func (s *ScriptedGenerator) Gate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyStarted = make(chan struct{}, 16)
	s.replyGate = make(chan struct{})
}

// Started returns the channel signalled at the start of each Reply.
// Valid only after Gate.
func (s *ScriptedGenerator) Started() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replyStarted
}

// Release unblocks all gated Reply calls.
func (s *ScriptedGenerator) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replyGate != nil {
		close(s.replyGate)
		s.replyGate = nil
	}
}

// ReplyCalls returns how many times Reply has been invoked.
func (s *ScriptedGenerator) ReplyCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replyCalls
}

// TitleCalls returns how many times Title has been invoked.
func (s *ScriptedGenerator) TitleCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.titleCalls
}

// LastHistory returns the history passed to the most recent Reply call.
func (s *ScriptedGenerator) LastHistory() []therapist.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]therapist.Turn, len(s.lastHistory))
	copy(cp, s.lastHistory)
	return cp
}

// LastSessionType returns the session type of the most recent Reply call.
func (s *ScriptedGenerator) LastSessionType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastType
}

// Reply implements therapist.Generator.
func (s *ScriptedGenerator) Reply(ctx context.Context, history []therapist.Turn, sessionType string, onFragment func(string) error) (string, error) {
	s.mu.Lock()
	s.replyCalls++
	s.lastHistory = append([]therapist.Turn(nil), history...)
	s.lastType = sessionType
	started := s.replyStarted
	gate := s.replyGate
	err := s.replyErr
	fragments := s.fallback
	var userText string
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == therapist.RoleUser {
			userText = strings.ToLower(history[i].Content)
			break
		}
	}
	for _, rule := range s.rules {
		if strings.Contains(userText, rule.pattern) {
			fragments = rule.fragments
			break
		}
	}
	s.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}

	var full strings.Builder
	for _, frag := range fragments {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		full.WriteString(frag)
		if onFragment != nil {
			if err := onFragment(frag); err != nil {
				return "", err
			}
		}
	}
	return full.String(), nil
}

// Title implements therapist.Generator.
func (s *ScriptedGenerator) Title(ctx context.Context, userMessage, assistantReply string, onFragment func(string) error) (string, error) {
	s.mu.Lock()
	s.titleCalls++
	err := s.titleErr
	fragments := s.titleFragments
	s.mu.Unlock()

	if err != nil {
		return "", err
	}

	var full strings.Builder
	for _, frag := range fragments {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		full.WriteString(frag)
		if onFragment != nil {
			if err := onFragment(frag); err != nil {
				return "", err
			}
		}
	}
	return strings.TrimSpace(full.String()), nil
}
