package therapist

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/compat_oai/openai"
	"golang.org/x/time/rate"

	"github.com/haven-chat/haven/internal/log"
)

// titleTimeout bounds a title request independently of the reply timeout.
// Titles are best-effort; a slow title must not hold a session hostage.
const titleTimeout = 15 * time.Second

// Config holds the dependencies for the Genkit-backed therapist.
type Config struct {
	Genkit    *genkit.Genkit
	ModelName string
	Logger    log.Logger

	// Limiter throttles outbound completion requests. Optional.
	Limiter *rate.Limiter

	// Timeout is the hard bound on a single reply generation. A
	// generation that exceeds it fails and the caller persists the
	// fallback reply.
	Timeout time.Duration
}

// Therapist is the Genkit-backed Generator. It talks to an
// OpenAI-compatible model and streams fragments as they arrive.
type Therapist struct {
	g       *genkit.Genkit
	model   string
	logger  log.Logger
	limiter *rate.Limiter
	timeout time.Duration
}

// InitGenkit initializes Genkit with the OpenAI plugin. The plugin reads
// OPENAI_API_KEY from the environment.
func InitGenkit(ctx context.Context) (*genkit.Genkit, error) {
	g := genkit.Init(ctx, genkit.WithPlugins(&openai.OpenAI{}))
	if g == nil {
		return nil, errors.New("initializing genkit with openai plugin")
	}
	return g, nil
}

// New creates a Therapist. Genkit instance, model name, and logger are
// required.
func New(cfg Config) (*Therapist, error) {
	if cfg.Genkit == nil {
		return nil, errors.New("therapist: genkit instance is required")
	}
	if cfg.ModelName == "" {
		return nil, errors.New("therapist: model name is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("therapist: logger is required")
	}
	return &Therapist{
		g:       cfg.Genkit,
		model:   cfg.ModelName,
		logger:  cfg.Logger,
		limiter: cfg.Limiter,
		timeout: cfg.Timeout,
	}, nil
}

// Reply generates a therapy reply for the given conversational context.
// Fragments stream through onFragment in arrival order; the returned
// string is the full reply text.
func (t *Therapist) Reply(ctx context.Context, history []Turn, sessionType string, onFragment func(string) error) (string, error) {
	if err := t.wait(ctx); err != nil {
		return "", err
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	messages := make([]*ai.Message, 0, len(history))
	for _, turn := range history {
		if turn.Role == RoleAssistant {
			messages = append(messages, ai.NewModelMessage(ai.NewTextPart(turn.Content)))
		} else {
			messages = append(messages, ai.NewUserMessage(ai.NewTextPart(turn.Content)))
		}
	}

	opts := []ai.GenerateOption{
		ai.WithModelName(t.model),
		ai.WithSystem(systemPrompt(sessionType)),
		ai.WithMessages(messages...),
	}
	if onFragment != nil {
		opts = append(opts, ai.WithStreaming(func(_ context.Context, chunk *ai.ModelResponseChunk) error {
			if text := chunk.Text(); text != "" {
				return onFragment(text)
			}
			return nil
		}))
	}

	start := time.Now()
	resp, err := genkit.Generate(ctx, t.g, opts...)
	if err != nil {
		return "", fmt.Errorf("generating reply: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	t.logger.Debug("reply generated",
		"model", t.model,
		"session_type", sessionType,
		"duration", time.Since(start),
		"length", len(text))
	return text, nil
}

// Title generates a short session title from the first user message and
// the first assistant reply. The returned title is validated against the
// word and length constraints.
func (t *Therapist) Title(ctx context.Context, userMessage, assistantReply string, onFragment func(string) error) (string, error) {
	if err := t.wait(ctx); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, titleTimeout)
	defer cancel()

	opts := []ai.GenerateOption{
		ai.WithModelName(t.model),
		ai.WithPrompt(titlePrompt, truncate(userMessage, 500), truncate(assistantReply, 500)),
	}
	if onFragment != nil {
		opts = append(opts, ai.WithStreaming(func(_ context.Context, chunk *ai.ModelResponseChunk) error {
			if text := chunk.Text(); text != "" {
				return onFragment(text)
			}
			return nil
		}))
	}

	resp, err := genkit.Generate(ctx, t.g, opts...)
	if err != nil {
		return "", fmt.Errorf("generating title: %w", err)
	}

	title := strings.TrimSpace(strings.Trim(strings.TrimSpace(resp.Text()), `"'`))
	if title == "" {
		return "", ErrEmptyResponse
	}
	if !ValidTitle(title) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTitle, title)
	}
	return title, nil
}

func (t *Therapist) wait(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return nil
}
