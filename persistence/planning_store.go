package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lexcodex/parley/engine"
)

// SQLitePlanningStore persists per-session planning state as a JSON blob
// keyed by session id, one row per session.
type SQLitePlanningStore struct {
	db *sql.DB
}

// NewSQLitePlanningStore wraps an opened database.
func NewSQLitePlanningStore(db *sql.DB) (*SQLitePlanningStore, error) {
	if db == nil {
		return nil, errors.New("database handle required")
	}
	return &SQLitePlanningStore{db: db}, nil
}

// Save upserts the planning state for its session.
func (s *SQLitePlanningStore) Save(ctx context.Context, state engine.PlanningState) error {
	if state.SessionID == "" {
		return &engine.ValidationError{Reason: "planning state requires a session id"}
	}
	if !state.Step.Valid() {
		return &engine.ValidationError{Reason: fmt.Sprintf("invalid step %q", state.Step)}
	}
	state.UpdatedAt = time.Now().UTC()
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode planning state: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO planning_state (session_id, state, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		state.SessionID, string(blob), state.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save planning state: %w", err)
	}
	return nil
}

// Load returns the planning state for a session; the bool reports whether
// one exists.
func (s *SQLitePlanningStore) Load(ctx context.Context, sessionID string) (engine.PlanningState, bool, error) {
	var blob string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM planning_state WHERE session_id = ?`, sessionID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.PlanningState{}, false, nil
	}
	if err != nil {
		return engine.PlanningState{}, false, fmt.Errorf("load planning state: %w", err)
	}
	var state engine.PlanningState
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		return engine.PlanningState{}, false, fmt.Errorf("decode planning state: %w", err)
	}
	return state, true, nil
}

// Delete removes the planning state for a session. Missing rows are not an
// error.
func (s *SQLitePlanningStore) Delete(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM planning_state WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete planning state: %w", err)
	}
	return nil
}
