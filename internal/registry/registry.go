// Package registry tracks the live delivery channel of each connected
// user. At most one channel per user: registering a new channel for a
// user closes the one it replaces.
package registry

import (
	"sync"

	"github.com/haven-chat/haven/internal/log"
)

// Channel is a live outbound delivery channel, typically one websocket
// connection. Send must not block indefinitely; a send that cannot be
// delivered returns an error and the payload is dropped.
type Channel interface {
	Send(v any) error
	Close() error
}

// Registry maps user ids to their single live channel.
// Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]Channel
	logger   log.Logger
}

// New creates an empty registry. logger may be nil for a no-op logger.
func New(logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{
		channels: make(map[string]Channel),
		logger:   logger,
	}
}

// Register binds a channel to a user. A previously registered channel for
// the same user is closed and replaced.
func (r *Registry) Register(userID string, ch Channel) {
	r.mu.Lock()
	prev := r.channels[userID]
	r.channels[userID] = ch
	r.mu.Unlock()

	if prev != nil && prev != ch {
		_ = prev.Close()
		r.logger.Debug("replaced live connection", "user_id", userID)
	}
	r.logger.Debug("registered connection", "user_id", userID)
}

// Unregister removes the user's binding, but only if ch is still the
// registered channel. A stale connection that was already replaced must
// not evict its successor. Idempotent.
func (r *Registry) Unregister(userID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.channels[userID]
	if !ok {
		return
	}
	if ch != nil && cur != ch {
		return
	}
	delete(r.channels, userID)
	r.logger.Debug("unregistered connection", "user_id", userID)
}

// Send delivers a payload to the user's live channel. Disconnected users
// are skipped silently; delivery failures are logged and dropped.
func (r *Registry) Send(userID string, payload any) {
	r.mu.RLock()
	ch, ok := r.channels[userID]
	r.mu.RUnlock()

	if !ok {
		return
	}
	if err := ch.Send(payload); err != nil {
		r.logger.Debug("dropping payload", "user_id", userID, "error", err)
	}
}

// Connected reports whether the user has a live channel.
func (r *Registry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[userID]
	return ok
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
