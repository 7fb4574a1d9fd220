package testutil

import "sync"

// ChannelRecorder is a registry channel that records every payload sent to
// it. Thread-safe for concurrent use.
type ChannelRecorder struct {
	mu       sync.Mutex
	payloads []any
	closed   bool
}

// NewChannelRecorder creates an empty recorder.
func NewChannelRecorder() *ChannelRecorder {
	return &ChannelRecorder{}
}

// Send records the payload. Closed recorders reject sends like a real
// closed socket would.
func (c *ChannelRecorder) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	c.payloads = append(c.payloads, v)
	return nil
}

// Close marks the channel closed. Idempotent.
func (c *ChannelRecorder) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (c *ChannelRecorder) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Payloads returns a copy of everything sent so far.
func (c *ChannelRecorder) Payloads() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := make([]any, len(c.payloads))
	copy(cp, c.payloads)
	return cp
}

// ErrChannelClosed is returned by Send after Close.
var ErrChannelClosed = errChannelClosed{}

type errChannelClosed struct{}

func (errChannelClosed) Error() string { return "channel closed" }
