package engine

import (
	"context"
	"time"
)

// ConversationStore is the durable read/write contract for sessions and
// messages. Implementations append; they never edit or delete past messages.
type ConversationStore interface {
	CreateSession(ctx context.Context, session Session) error
	Session(ctx context.Context, id string) (Session, bool, error)
	ListSessions(ctx context.Context) ([]SessionSummary, error)
	UpdateSessionStatus(ctx context.Context, id string, status SessionStatus, endedAt time.Time) error

	// AppendMessage persists the message and returns it with the assigned ID.
	AppendMessage(ctx context.Context, msg Message) (Message, error)
	// Messages returns the full ordered history (timestamp, then ID).
	Messages(ctx context.Context, sessionID string) ([]Message, error)
	MessageCount(ctx context.Context, sessionID string) (int, error)
}

// PlanningStore persists the single PlanningState row per planning session,
// overwritten in place as steps progress.
type PlanningStore interface {
	Save(ctx context.Context, state PlanningState) error
	Load(ctx context.Context, sessionID string) (PlanningState, bool, error)
	Delete(ctx context.Context, sessionID string) error
}

// ContextProvider is the black-box retrieval capability: given a query,
// return relevant context snippets.
type ContextProvider interface {
	Snippets(ctx context.Context, query string, limit int) ([]string, error)
}
