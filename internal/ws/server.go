package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haven-chat/haven/internal/chat"
	"github.com/haven-chat/haven/internal/log"
	"github.com/haven-chat/haven/internal/registry"
	"github.com/haven-chat/haven/internal/store"
)

// Server upgrades websocket connections and dispatches inbound frames to
// the chat service.
type Server struct {
	registry *registry.Registry
	chat     *chat.Service
	logger   log.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a websocket server. logger may be nil for a no-op
// logger.
func NewServer(reg *registry.Registry, svc *chat.Service, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Server{
		registry: reg,
		chat:     svc,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Identity comes from the session layer in front of this
			// service, not from the Origin header.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes registers the websocket endpoint on the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleConnection)
}

func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	sock, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	userID := r.URL.Query().Get("userId")
	if userID == "" {
		_ = sock.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "User ID required"),
			time.Now().Add(writeWait))
		_ = sock.Close()
		return
	}

	conn := newConn(userID, sock)
	s.registry.Register(userID, conn)
	s.logger.Info("client connected", "user_id", userID)

	go conn.writePump()
	s.readLoop(r.Context(), conn)
}

// readLoop consumes inbound frames until the connection dies, then
// unregisters it. A connection already replaced by a newer one for the
// same user does not evict its successor.
func (s *Server) readLoop(ctx context.Context, conn *Conn) {
	defer func() {
		s.registry.Unregister(conn.userID, conn)
		_ = conn.Close()
		s.logger.Info("client disconnected", "user_id", conn.userID)
	}()

	conn.sock.SetReadLimit(maxMessageSize)
	_ = conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	conn.sock.SetPongHandler(func(string) error {
		return conn.sock.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", "user_id", conn.userID, "error", err)
			}
			return
		}
		s.dispatch(ctx, conn, data)
	}
}

func (s *Server) dispatch(ctx context.Context, conn *Conn, data []byte) {
	var in chat.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		s.sendError(conn, "Invalid message format")
		return
	}

	switch in.Type {
	case chat.EventMessage:
		if strings.TrimSpace(in.Content) == "" {
			s.sendError(conn, "Message content is required")
			return
		}
		// The connection's identity wins over whatever id the frame
		// claims; only the display name is taken from the client.
		sender := chat.Sender{ID: conn.userID, Name: in.Sender.Name}
		if _, err := s.chat.Route(ctx, in.SessionID, sender, in.Content); err != nil {
			switch {
			case errors.Is(err, store.ErrSessionNotFound):
				s.sendError(conn, "Session not found")
			default:
				s.logger.Error("routing inbound message failed",
					"user_id", conn.userID,
					"session_id", in.SessionID,
					"error", err)
				s.sendError(conn, "Failed to process message")
			}
		}
	default:
		s.sendError(conn, "Unknown message type")
	}
}

func (s *Server) sendError(conn *Conn, msg string) {
	if err := conn.Send(chat.ErrorEvent{Type: chat.EventError, Message: msg}); err != nil {
		s.logger.Debug("sending error event failed", "user_id", conn.userID, "error", err)
	}
}
