package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexcodex/parley/engine"
	"github.com/lexcodex/parley/persistence"
)

// responderFunc adapts a function to the Responder interface.
type responderFunc func(ctx context.Context, req engine.Request) (engine.Reply, error)

func (f responderFunc) Respond(ctx context.Context, req engine.Request) (engine.Reply, error) {
	return f(ctx, req)
}

// scriptedResponder replays canned replies and records every request.
type scriptedResponder struct {
	mu      sync.Mutex
	reply   engine.Reply
	err     error
	calls   []engine.Request
	entered chan struct{}
	release chan struct{}
}

func (s *scriptedResponder) Respond(ctx context.Context, req engine.Request) (engine.Reply, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return engine.Reply{}, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.err != nil {
		return engine.Reply{}, s.err
	}
	return s.reply, nil
}

func (s *scriptedResponder) lastCall(t *testing.T) engine.Request {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.calls)
	return s.calls[len(s.calls)-1]
}

// recorder collects telemetry events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []engine.Event
}

func (r *recorder) Emit(event engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) has(kind engine.EventType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Type == kind {
			return true
		}
	}
	return false
}

func newSession(t *testing.T, store engine.ConversationStore, mode engine.Mode, topic string) string {
	t.Helper()
	id := engine.NewSessionID()
	err := store.CreateSession(context.Background(), engine.Session{
		ID:        id,
		Topic:     topic,
		Status:    engine.StatusActive,
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return id
}

func appendMsg(t *testing.T, store engine.ConversationStore, sessionID string, role engine.Role, content string) engine.Message {
	t.Helper()
	msg, err := store.AppendMessage(context.Background(), engine.Message{
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Signal:    engine.SignalContinue,
		Timestamp: time.Now().UTC(),
	})
	require.NoError(t, err)
	return msg
}

func newStores() (*persistence.MemoryConversationStore, *persistence.MemoryPlanningStore) {
	return persistence.NewMemoryConversationStore(), persistence.NewMemoryPlanningStore()
}
