package chat

import (
	"time"

	"github.com/haven-chat/haven/internal/store"
)

// Wire event types. These form the closed set of payloads a client can
// receive; inbound frames carry EventMessage only.
const (
	EventMessage        = "message"
	EventStream         = "stream"
	EventStreamComplete = "stream_complete"
	EventTitleUpdate    = "title_update"
	EventError          = "error"
)

// Sender identifies the author of a message for display purposes.
type Sender struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// AssistantSender is the display identity attached to assistant replies.
var AssistantSender = Sender{ID: "ai", Name: "Dr. AI Therapist"}

// Inbound is a frame received from a client.
type Inbound struct {
	Type      string `json:"type"`
	SessionID int64  `json:"sessionId"`
	Content   string `json:"content"`
	Sender    Sender `json:"sender"`
}

// MessagePayload is the wire shape of a persisted message.
type MessagePayload struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"sessionId"`
	SenderID  *string   `json:"senderId,omitempty"`
	IsAI      bool      `json:"isAi"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	Sender    *Sender   `json:"sender,omitempty"`
}

// MessageEvent announces a newly persisted message.
type MessageEvent struct {
	Type    string         `json:"type"`
	Message MessagePayload `json:"message"`
}

// StreamEvent carries one reply fragment. FullContent is the accumulated
// text so far, so a client that missed earlier fragments still renders a
// consistent prefix.
type StreamEvent struct {
	Type        string `json:"type"`
	MessageID   int64  `json:"messageId"`
	SessionID   int64  `json:"sessionId"`
	Content     string `json:"content"`
	FullContent string `json:"fullContent"`
}

// StreamCompleteEvent finalizes a streamed reply.
type StreamCompleteEvent struct {
	Type        string `json:"type"`
	MessageID   int64  `json:"messageId"`
	SessionID   int64  `json:"sessionId"`
	FullContent string `json:"fullContent"`
}

// TitleUpdateEvent carries a session title, partial while the title
// streams and final once persisted.
type TitleUpdateEvent struct {
	Type      string `json:"type"`
	SessionID int64  `json:"sessionId"`
	Title     string `json:"title"`
}

// ErrorEvent reports a processing failure back to one client.
type ErrorEvent struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func newMessageEvent(m *store.Message, sender *Sender) MessageEvent {
	return MessageEvent{
		Type: EventMessage,
		Message: MessagePayload{
			ID:        m.ID,
			SessionID: m.SessionID,
			SenderID:  m.SenderID,
			IsAI:      m.IsAI,
			Content:   m.Content,
			CreatedAt: m.CreatedAt,
			Sender:    sender,
		},
	}
}
