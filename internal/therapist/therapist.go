// Package therapist provides the completion service for therapy replies
// and session titles.
//
// The Generator interface is the seam the orchestration core depends on;
// the Genkit-backed implementation lives in genkit.go. Fragments are
// delivered in order through the onFragment callback; the final return
// value is the full concatenated text.
package therapist

import (
	"context"
	"errors"
	"strings"
)

// Message roles used in conversational context.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Title constraints. Output violating them is treated as a generation
// failure and the caller keeps the previous title.
const (
	MaxTitleWords  = 6
	MaxTitleLength = 50
)

// Sentinel errors.
var (
	// ErrEmptyResponse indicates the model produced no usable text.
	ErrEmptyResponse = errors.New("empty model response")

	// ErrInvalidTitle indicates the generated title violates the
	// word-count or length constraint.
	ErrInvalidTitle = errors.New("invalid generated title")
)

// Turn is one message of conversational context.
type Turn struct {
	Role    string
	Content string
}

// Generator produces assistant replies and session titles.
//
// Reply is invoked exactly once per inbound user message regardless of how
// many recipients the reply fans out to. onFragment may be nil to disable
// streaming; returning an error from it aborts the stream.
type Generator interface {
	Reply(ctx context.Context, history []Turn, sessionType string, onFragment func(string) error) (string, error)
	Title(ctx context.Context, userMessage, assistantReply string, onFragment func(string) error) (string, error)
}

// ValidTitle reports whether a generated title satisfies the constraints:
// non-empty, at most MaxTitleWords words, at most MaxTitleLength runes.
func ValidTitle(title string) bool {
	title = strings.TrimSpace(title)
	if title == "" {
		return false
	}
	if len([]rune(title)) > MaxTitleLength {
		return false
	}
	return len(strings.Fields(title)) <= MaxTitleWords
}
