package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// MockModel provides deterministic completions for testing the
// Genkit-backed therapist. It matches the last user message against
// registered patterns and streams the configured fragments as separate
// chunks.
//
// Thread-safe for concurrent use.
type MockModel struct {
	mu       sync.Mutex
	rules    []modelRule
	fallback []string
	err      error
	calls    []ModelCall
}

type modelRule struct {
	pattern   string
	fragments []string
}

// ModelCall records a single request to the mock model.
type ModelCall struct {
	UserMessage string
	System      string
	Response    string
}

// NewMockModel creates a mock model with the given fallback fragments.
func NewMockModel(fallbackFragments ...string) *MockModel {
	return &MockModel{fallback: fallbackFragments}
}

// AddResponse registers a pattern whose match streams the fragments.
// Patterns are checked in registration order; first match wins.
func (m *MockModel) AddResponse(pattern string, fragments ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, modelRule{pattern: strings.ToLower(pattern), fragments: fragments})
}

// FailWith makes the model return err for every request.
func (m *MockModel) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns a copy of all recorded calls.
func (m *MockModel) Calls() []ModelCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]ModelCall, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Register registers the mock as a Genkit model named "mock/test-model".
func (m *MockModel) Register(g *genkit.Genkit) ai.Model {
	return genkit.DefineModel(g, "mock/test-model", &ai.ModelOptions{
		Label: "Mock Test Model",
		Supports: &ai.ModelSupports{
			Multiturn:  true,
			SystemRole: true,
		},
	}, m.generate)
}

func (m *MockModel) generate(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
	var userText, systemText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == ai.RoleUser {
			userText = req.Messages[i].Text()
			break
		}
	}
	for _, msg := range req.Messages {
		if msg.Role == ai.RoleSystem {
			systemText = msg.Text()
			break
		}
	}

	m.mu.Lock()
	err := m.err
	fragments := m.fallback
	lower := strings.ToLower(userText)
	for _, rule := range m.rules {
		if strings.Contains(lower, rule.pattern) {
			fragments = rule.fragments
			break
		}
	}
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}

	var full strings.Builder
	for _, frag := range fragments {
		full.WriteString(frag)
		if cb != nil {
			if err := cb(ctx, &ai.ModelResponseChunk{
				Content: []*ai.Part{ai.NewTextPart(frag)},
			}); err != nil {
				return nil, err
			}
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, ModelCall{UserMessage: userText, System: systemText, Response: full.String()})
	m.mu.Unlock()

	return &ai.ModelResponse{
		Request: req,
		Message: &ai.Message{
			Role:    ai.RoleModel,
			Content: []*ai.Part{ai.NewTextPart(full.String())},
		},
	}, nil
}
