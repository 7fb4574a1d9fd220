// Package store provides durable persistence for users, therapy sessions,
// messages, and partnerships.
//
// Responsibilities: CRUD plus ordered retrieval on SQLite. Message content
// supports in-place updates so an assistant reply can be persisted
// incrementally while it streams.
//
// Store is safe for concurrent use by multiple goroutines.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/haven-chat/haven/internal/log"
)

// Session type identifiers.
const (
	TypeCouples = "couples"
	TypePrivate = "private"
)

// Sentinel errors, checked by callers with errors.Is().
var (
	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrMessageNotFound indicates the requested message does not exist.
	ErrMessageNotFound = errors.New("message not found")

	// ErrUserNotFound indicates the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrInvalidSessionType indicates the session type is neither couples nor private.
	ErrInvalidSessionType = errors.New("invalid session type")
)

// User is a profile owned by the external identity provider and mirrored here.
type User struct {
	ID              string    `json:"id"`
	Email           string    `json:"email,omitempty"`
	FirstName       string    `json:"firstName,omitempty"`
	LastName        string    `json:"lastName,omitempty"`
	ProfileImageURL string    `json:"profileImageUrl,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Session is a single ongoing chat thread, private or couples.
type Session struct {
	ID            int64     `json:"id"`
	CreatorID     string    `json:"creatorId"`
	PartnerID     *string   `json:"partnerId,omitempty"`
	Title         string    `json:"title"`
	Type          string    `json:"type"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	IsActive      bool      `json:"isActive"`
}

// Message is one chat turn. SenderID is nil for assistant messages.
// Content may be empty while an assistant reply is still streaming.
type Message struct {
	ID        int64     `json:"id"`
	SessionID int64     `json:"sessionId"`
	SenderID  *string   `json:"senderId,omitempty"`
	IsAI      bool      `json:"isAi"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Partnership links two users for couples sessions.
type Partnership struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"userId"`
	PartnerID string    `json:"partnerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	IsActive  bool      `json:"isActive"`
}

// Store manages persistence with a SQLite backend.
type Store struct {
	db     *sql.DB
	logger log.Logger
}

// New creates a new Store. logger may be nil for a no-op logger.
func New(db *sql.DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{db: db, logger: logger}
}

// UpsertUser inserts or updates a user profile, keyed by id.
func (s *Store) UpsertUser(ctx context.Context, u User) (*User, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, first_name, last_name, profile_image_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			profile_image_url = excluded.profile_image_url,
			updated_at = excluded.updated_at`,
		u.ID, u.Email, u.FirstName, u.LastName, u.ProfileImageURL, now, now)
	if err != nil {
		return nil, fmt.Errorf("upserting user %s: %w", u.ID, err)
	}
	return s.User(ctx, u.ID)
}

// User retrieves a user by id.
func (s *Store) User(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, first_name, last_name, profile_image_url, created_at, updated_at
		FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.ProfileImageURL, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", id, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting user %s: %w", id, err)
	}
	return &u, nil
}

// CreateSession creates a new therapy session. partnerID may be nil;
// it is only meaningful for couples sessions.
func (s *Store) CreateSession(ctx context.Context, creatorID string, partnerID *string, title, sessionType string) (*Session, error) {
	if sessionType != TypeCouples && sessionType != TypePrivate {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSessionType, sessionType)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO therapy_sessions (creator_id, partner_id, title, type, created_at, updated_at, last_message_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		creatorID, partnerID, title, sessionType, now, now, now)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading session id: %w", err)
	}

	s.logger.Debug("created session", "id", id, "type", sessionType, "creator", creatorID)
	return s.Session(ctx, id)
}

// Session retrieves a session by id.
func (s *Store) Session(ctx context.Context, id int64) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx, `
		SELECT id, creator_id, partner_id, title, type, created_at, updated_at, last_message_at, is_active
		FROM therapy_sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.CreatorID, &sess.PartnerID, &sess.Title, &sess.Type,
			&sess.CreatedAt, &sess.UpdatedAt, &sess.LastMessageAt, &sess.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session %d: %w", id, err)
	}
	return &sess, nil
}

// SessionsForUser lists active sessions where the user is creator or partner,
// most recently active first.
func (s *Store) SessionsForUser(ctx context.Context, userID string) ([]*Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, creator_id, partner_id, title, type, created_at, updated_at, last_message_at, is_active
		FROM therapy_sessions
		WHERE is_active = 1 AND (creator_id = ? OR partner_id = ?)
		ORDER BY last_message_at DESC`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions for %s: %w", userID, err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.CreatorID, &sess.PartnerID, &sess.Title, &sess.Type,
			&sess.CreatedAt, &sess.UpdatedAt, &sess.LastMessageAt, &sess.IsActive); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// RenameSession updates the session title.
func (s *Store) RenameSession(ctx context.Context, id int64, title string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE therapy_sessions SET title = ?, updated_at = ? WHERE id = ?`,
		title, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("renaming session %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
	}
	return nil
}

// TouchSession updates the session's last activity time.
func (s *Store) TouchSession(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE therapy_sessions SET last_message_at = ? WHERE id = ?`,
		time.Now().UTC(), id); err != nil {
		return fmt.Errorf("touching session %d: %w", id, err)
	}
	return nil
}

// DeleteSession hard-deletes a session: its messages first, then the
// session row, in one transaction.
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete of session %d: %w", id, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("deleting messages of session %d: %w", id, err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM therapy_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %d: %w", id, ErrSessionNotFound)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete of session %d: %w", id, err)
	}

	s.logger.Debug("deleted session", "id", id)
	return nil
}

// CreateMessage persists one chat turn. senderID must be nil for assistant
// messages. Empty content is allowed: placeholder assistant messages are
// created empty to reserve a stable id before generation starts.
func (s *Store) CreateMessage(ctx context.Context, sessionID int64, senderID *string, isAI bool, content string) (*Message, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (session_id, sender_id, is_ai, content, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		sessionID, senderID, isAI, content, now)
	if err != nil {
		return nil, fmt.Errorf("creating message in session %d: %w", sessionID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading message id: %w", err)
	}

	return s.Message(ctx, id)
}

// Message retrieves a message by id.
func (s *Store) Message(ctx context.Context, id int64) (*Message, error) {
	var m Message
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, sender_id, is_ai, content, created_at
		FROM messages WHERE id = ?`, id).
		Scan(&m.ID, &m.SessionID, &m.SenderID, &m.IsAI, &m.Content, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %d: %w", id, ErrMessageNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting message %d: %w", id, err)
	}
	return &m, nil
}

// SessionMessages returns up to limit messages of a session, oldest first.
// limit <= 0 means no limit.
func (s *Store) SessionMessages(ctx context.Context, sessionID int64, limit int) ([]*Message, error) {
	query := `
		SELECT id, session_id, sender_id, is_ai, content, created_at
		FROM messages WHERE session_id = ? ORDER BY id ASC`
	args := []any{sessionID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing messages of session %d: %w", sessionID, err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.IsAI, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// RecentMessages returns the most recent n messages of a session in
// ascending creation order, ready to serve as completion context.
func (s *Store) RecentMessages(ctx context.Context, sessionID int64, n int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, sender_id, is_ai, content, created_at
		FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("listing recent messages of session %d: %w", sessionID, err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.SenderID, &m.IsAI, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; flip to chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpdateMessageContent replaces a message's content with the full content
// so far. During streaming this is called once per fragment with the
// accumulated text, so a concurrent reader always sees a self-consistent
// prefix of the final reply.
func (s *Store) UpdateMessageContent(ctx context.Context, id int64, content string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return fmt.Errorf("updating message %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %d: %w", id, ErrMessageNotFound)
	}
	return nil
}

// AssistantReplyCount counts completed (non-empty) assistant messages in a
// session. Used by the title generator's exchange-count guard.
func (s *Store) AssistantReplyCount(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE session_id = ? AND is_ai = 1 AND content != ''`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting assistant replies in session %d: %w", sessionID, err)
	}
	return n, nil
}

// CreatePartnership links two users. The pair is unique per direction.
func (s *Store) CreatePartnership(ctx context.Context, userID, partnerID string) (*Partnership, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO partners (user_id, partner_id, created_at, updated_at, is_active)
		VALUES (?, ?, ?, ?, 1)`,
		userID, partnerID, now, now)
	if err != nil {
		return nil, fmt.Errorf("creating partnership %s->%s: %w", userID, partnerID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading partnership id: %w", err)
	}

	p := &Partnership{ID: id, UserID: userID, PartnerID: partnerID, CreatedAt: now, UpdatedAt: now, IsActive: true}
	return p, nil
}

// Partnership returns the active partnership between two users, or nil if none.
func (s *Store) Partnership(ctx context.Context, userID, partnerID string) (*Partnership, error) {
	var p Partnership
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, partner_id, created_at, updated_at, is_active
		FROM partners WHERE user_id = ? AND partner_id = ? AND is_active = 1`,
		userID, partnerID).
		Scan(&p.ID, &p.UserID, &p.PartnerID, &p.CreatedAt, &p.UpdatedAt, &p.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting partnership %s->%s: %w", userID, partnerID, err)
	}
	return &p, nil
}

// PartnersOf lists a user's active partnerships.
func (s *Store) PartnersOf(ctx context.Context, userID string) ([]*Partnership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, partner_id, created_at, updated_at, is_active
		FROM partners WHERE user_id = ? AND is_active = 1`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing partners of %s: %w", userID, err)
	}
	defer rows.Close()

	var ps []*Partnership
	for rows.Next() {
		var p Partnership
		if err := rows.Scan(&p.ID, &p.UserID, &p.PartnerID, &p.CreatedAt, &p.UpdatedAt, &p.IsActive); err != nil {
			return nil, fmt.Errorf("scanning partnership: %w", err)
		}
		ps = append(ps, &p)
	}
	return ps, rows.Err()
}
