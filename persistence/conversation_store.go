package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lexcodex/parley/engine"
)

// SQLiteConversationStore persists sessions and messages in sqlite.
// Message ordering is by timestamp with the rowid as tiebreaker, so
// histories read back in insertion order.
type SQLiteConversationStore struct {
	db *sql.DB
}

// NewSQLiteConversationStore wraps an opened database.
func NewSQLiteConversationStore(db *sql.DB) (*SQLiteConversationStore, error) {
	if db == nil {
		return nil, errors.New("database handle required")
	}
	return &SQLiteConversationStore{db: db}, nil
}

// CreateSession inserts a new session row.
func (s *SQLiteConversationStore) CreateSession(ctx context.Context, session engine.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, topic, status, mode, started_at) VALUES (?, ?, ?, ?, ?)`,
		session.ID, session.Topic, string(session.Status), string(session.Mode),
		session.StartedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// Session loads one session by id; the bool reports whether it exists.
func (s *SQLiteConversationStore) Session(ctx context.Context, id string) (engine.Session, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, topic, status, mode, started_at, ended_at FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Session{}, false, nil
	}
	if err != nil {
		return engine.Session{}, false, fmt.Errorf("load session: %w", err)
	}
	return session, true, nil
}

// ListSessions returns all sessions newest-first with their message counts.
func (s *SQLiteConversationStore) ListSessions(ctx context.Context) ([]engine.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.topic, s.status, s.mode, s.started_at, s.ended_at,
		       (SELECT COUNT(*) FROM messages m WHERE m.session_id = s.id)
		FROM sessions s
		ORDER BY s.started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var summaries []engine.SessionSummary
	for rows.Next() {
		var (
			sess         engine.Session
			status, mode string
			startedAt    string
			endedAt      sql.NullString
			count        int
		)
		if err := rows.Scan(&sess.ID, &sess.Topic, &status, &mode, &startedAt, &endedAt, &count); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Status = engine.SessionStatus(status)
		sess.Mode = engine.Mode(mode)
		if sess.StartedAt, err = parseTimestamp(startedAt); err != nil {
			return nil, err
		}
		if endedAt.Valid {
			t, err := parseTimestamp(endedAt.String)
			if err != nil {
				return nil, err
			}
			sess.EndedAt = &t
		}
		summaries = append(summaries, engine.SessionSummary{Session: sess, MessageCount: count})
	}
	return summaries, rows.Err()
}

// UpdateSessionStatus marks a session and records its end time when completed.
func (s *SQLiteConversationStore) UpdateSessionStatus(ctx context.Context, id string, status engine.SessionStatus, endedAt time.Time) error {
	if !status.Valid() {
		return &engine.ValidationError{Reason: fmt.Sprintf("invalid status %q", status)}
	}
	var ended interface{}
	if status == engine.StatusCompleted {
		ended = endedAt.UTC().Format(time.RFC3339Nano)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET status = ?, ended_at = ? WHERE id = ?`, string(status), ended, id)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &engine.ValidationError{Reason: fmt.Sprintf("unknown session %s", id)}
	}
	return nil
}

// AppendMessage validates and inserts a message, returning it with the
// assigned id.
func (s *SQLiteConversationStore) AppendMessage(ctx context.Context, msg engine.Message) (engine.Message, error) {
	if err := msg.Validate(); err != nil {
		return engine.Message{}, err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, signal, timestamp) VALUES (?, ?, ?, ?, ?)`,
		msg.SessionID, string(msg.Role), msg.Content, string(msg.Signal),
		msg.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return engine.Message{}, fmt.Errorf("insert message: %w", err)
	}
	msg.ID, err = res.LastInsertId()
	if err != nil {
		return engine.Message{}, err
	}
	return msg, nil
}

// Messages returns the full history of a session in insertion order.
func (s *SQLiteConversationStore) Messages(ctx context.Context, sessionID string) ([]engine.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, signal, timestamp
		FROM messages WHERE session_id = ?
		ORDER BY timestamp ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var history []engine.Message
	for rows.Next() {
		var (
			msg          engine.Message
			role, signal string
			ts           string
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &signal, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = engine.Role(role)
		msg.Signal = engine.Signal(signal)
		if msg.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, err
		}
		history = append(history, msg)
	}
	return history, rows.Err()
}

// MessageCount returns the number of messages in a session.
func (s *SQLiteConversationStore) MessageCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

func scanSession(row *sql.Row) (engine.Session, error) {
	var (
		sess         engine.Session
		status, mode string
		startedAt    string
		endedAt      sql.NullString
	)
	if err := row.Scan(&sess.ID, &sess.Topic, &status, &mode, &startedAt, &endedAt); err != nil {
		return engine.Session{}, err
	}
	sess.Status = engine.SessionStatus(status)
	sess.Mode = engine.Mode(mode)
	var err error
	if sess.StartedAt, err = parseTimestamp(startedAt); err != nil {
		return engine.Session{}, err
	}
	if endedAt.Valid {
		t, err := parseTimestamp(endedAt.String)
		if err != nil {
			return engine.Session{}, err
		}
		sess.EndedAt = &t
	}
	return sess, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t, nil
}
