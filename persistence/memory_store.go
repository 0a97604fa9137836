package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lexcodex/parley/engine"
)

// MemoryConversationStore is an in-process ConversationStore with the same
// semantics as the sqlite one. It backs tests and ephemeral sessions.
type MemoryConversationStore struct {
	mu       sync.RWMutex
	sessions map[string]engine.Session
	messages map[string][]engine.Message
	nextID   int64
}

// NewMemoryConversationStore returns an empty store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		sessions: make(map[string]engine.Session),
		messages: make(map[string][]engine.Message),
	}
}

func (s *MemoryConversationStore) CreateSession(ctx context.Context, session engine.Session) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if err := session.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("session %s already exists", session.ID)
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *MemoryConversationStore) Session(ctx context.Context, id string) (engine.Session, bool, error) {
	select {
	case <-ctx.Done():
		return engine.Session{}, false, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	return session, ok, nil
}

func (s *MemoryConversationStore) ListSessions(ctx context.Context) ([]engine.SessionSummary, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	summaries := make([]engine.SessionSummary, 0, len(s.sessions))
	for id, session := range s.sessions {
		summaries = append(summaries, engine.SessionSummary{
			Session:      session,
			MessageCount: len(s.messages[id]),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})
	return summaries, nil
}

func (s *MemoryConversationStore) UpdateSessionStatus(ctx context.Context, id string, status engine.SessionStatus, endedAt time.Time) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if !status.Valid() {
		return &engine.ValidationError{Reason: fmt.Sprintf("invalid status %q", status)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok {
		return &engine.ValidationError{Reason: fmt.Sprintf("unknown session %s", id)}
	}
	session.Status = status
	if status == engine.StatusCompleted {
		ended := endedAt.UTC()
		session.EndedAt = &ended
	}
	s.sessions[id] = session
	return nil
}

func (s *MemoryConversationStore) AppendMessage(ctx context.Context, msg engine.Message) (engine.Message, error) {
	select {
	case <-ctx.Done():
		return engine.Message{}, ctx.Err()
	default:
	}
	if err := msg.Validate(); err != nil {
		return engine.Message{}, err
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	return msg, nil
}

func (s *MemoryConversationStore) Messages(ctx context.Context, sessionID string) ([]engine.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]engine.Message(nil), s.messages[sessionID]...), nil
}

func (s *MemoryConversationStore) MessageCount(ctx context.Context, sessionID string) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages[sessionID]), nil
}

// MemoryPlanningStore is the in-process PlanningStore counterpart.
type MemoryPlanningStore struct {
	mu     sync.RWMutex
	states map[string]engine.PlanningState
}

// NewMemoryPlanningStore returns an empty store.
func NewMemoryPlanningStore() *MemoryPlanningStore {
	return &MemoryPlanningStore{states: make(map[string]engine.PlanningState)}
}

func (s *MemoryPlanningStore) Save(ctx context.Context, state engine.PlanningState) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if state.SessionID == "" {
		return &engine.ValidationError{Reason: "planning state requires a session id"}
	}
	state.UpdatedAt = time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.SessionID] = state
	return nil
}

func (s *MemoryPlanningStore) Load(ctx context.Context, sessionID string) (engine.PlanningState, bool, error) {
	select {
	case <-ctx.Done():
		return engine.PlanningState{}, false, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[sessionID]
	return state, ok, nil
}

func (s *MemoryPlanningStore) Delete(ctx context.Context, sessionID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, sessionID)
	return nil
}
