package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexcodex/parley/engine"
	"github.com/lexcodex/parley/persistence"
	"github.com/lexcodex/parley/trigger"
)

type replyFunc func(req engine.Request) (engine.Reply, error)

type fakeResponder struct {
	mu    sync.Mutex
	calls []engine.Request
	fn    replyFunc
}

func (f *fakeResponder) Respond(ctx context.Context, req engine.Request) (engine.Reply, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(req)
}

func (f *fakeResponder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type harness struct {
	store     *persistence.MemoryConversationStore
	queue     *trigger.MemoryQueue
	responder *fakeResponder
	d         *Dispatcher
}

func newHarness(t *testing.T, fn replyFunc) *harness {
	t.Helper()
	store := persistence.NewMemoryConversationStore()
	planning := persistence.NewMemoryPlanningStore()
	queue := trigger.NewMemoryQueue()
	responder := &fakeResponder{fn: fn}

	coord := engine.NewCoordinator(store, nil, nil, nil, engine.CoordinatorConfig{WindowSize: 10})
	coord.RegisterResponder(engine.RoleAgentA, responder)
	coord.RegisterResponder(engine.RoleAgentB, responder)

	wf := engine.NewWorkflow(store, planning, nil, nil, nil, engine.WorkflowConfig{})
	wf.RegisterResponder(engine.RoleAgentA, responder)
	wf.RegisterResponder(engine.RoleAgentB, responder)

	d := New(store, coord, wf, queue, nil, nil, nil, Config{
		PollInterval: 20 * time.Millisecond,
		Debounce:     10 * time.Millisecond,
	})
	return &harness{store: store, queue: queue, responder: responder, d: d}
}

// run starts the dispatcher loop and stops it on test cleanup.
func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("dispatcher did not stop")
		}
	})
}

func (h *harness) waitForMessages(t *testing.T, sessionID string, want int) []engine.Message {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		history, err := h.store.Messages(context.Background(), sessionID)
		require.NoError(t, err)
		if len(history) >= want {
			return history
		}
		time.Sleep(5 * time.Millisecond)
	}
	history, err := h.store.Messages(context.Background(), sessionID)
	require.NoError(t, err)
	t.Fatalf("timed out waiting for %d messages, have %d", want, len(history))
	return history
}

func TestStartTriggerCreatesSessionAndRunsFirstTurn(t *testing.T) {
	h := newHarness(t, func(req engine.Request) (engine.Reply, error) {
		return engine.Reply{Text: "opening argument", Signal: engine.SignalHandover}, nil
	})
	h.run(t)

	id := engine.NewSessionID()
	require.NoError(t, h.queue.Enqueue(context.Background(), trigger.Trigger{
		SessionID: id,
		Kind:      trigger.KindStart,
		Payload:   "debate caching strategies",
	}))

	history := h.waitForMessages(t, id, 2)
	require.Equal(t, engine.RoleHuman, history[0].Role)
	require.Equal(t, "debate caching strategies", history[0].Content)
	require.Equal(t, engine.RoleAgentA, history[1].Role)
	require.Equal(t, "opening argument", history[1].Content)

	session, ok, err := h.store.Session(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, engine.ModeDebate, session.Mode)
	require.Equal(t, engine.StatusActive, session.Status)
}

func TestContinueSignalSchedulesAutoAdvance(t *testing.T) {
	h := newHarness(t, func(req engine.Request) (engine.Reply, error) {
		return engine.Reply{Text: "point raised", Signal: engine.SignalContinue}, nil
	})
	h.run(t)

	id := engine.NewSessionID()
	require.NoError(t, h.queue.Enqueue(context.Background(), trigger.Trigger{
		SessionID: id,
		Kind:      trigger.KindStart,
		Payload:   "debate retries",
	}))

	// Each continue-signalled turn debounces into an auto trigger, so the
	// agents keep alternating without further input.
	history := h.waitForMessages(t, id, 4)
	require.Equal(t, engine.RoleAgentA, history[1].Role)
	require.Equal(t, engine.RoleAgentB, history[2].Role)
	require.Equal(t, engine.RoleAgentA, history[3].Role)
}

func TestHandoverSignalStopsAutoAdvance(t *testing.T) {
	h := newHarness(t, func(req engine.Request) (engine.Reply, error) {
		return engine.Reply{Text: "your call", Signal: engine.SignalHandover}, nil
	})
	h.run(t)

	id := engine.NewSessionID()
	require.NoError(t, h.queue.Enqueue(context.Background(), trigger.Trigger{
		SessionID: id,
		Kind:      trigger.KindStart,
		Payload:   "debate backpressure",
	}))

	h.waitForMessages(t, id, 2)
	// Leave room for a stray auto advance to fire if one was scheduled.
	time.Sleep(100 * time.Millisecond)
	history, err := h.store.Messages(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, history, 2, "handover must not schedule another turn")
}

func TestInterjectDropsPendingAutoAdvance(t *testing.T) {
	h := newHarness(t, func(req engine.Request) (engine.Reply, error) {
		return engine.Reply{Text: "point raised", Signal: engine.SignalContinue}, nil
	})

	id := engine.NewSessionID()
	ctx := context.Background()
	require.NoError(t, h.store.CreateSession(ctx, engine.Session{
		ID: id, Topic: "debate locks", Status: engine.StatusActive,
		Mode: engine.ModeDebate, StartedAt: time.Now().UTC(),
	}))
	_, err := h.store.AppendMessage(ctx, engine.Message{
		SessionID: id, Role: engine.RoleHuman, Content: "debate locks", Signal: engine.SignalContinue,
	})
	require.NoError(t, err)

	// Flag the interjection before the dispatcher sees the pending auto
	// trigger; it must drop it instead of advancing.
	h.d.Interject(id)
	require.NoError(t, h.queue.Enqueue(ctx, trigger.Trigger{SessionID: id, Kind: trigger.KindAuto}))
	h.run(t)

	time.Sleep(100 * time.Millisecond)
	history, err := h.store.Messages(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1, "interjected auto trigger must be dropped")
	require.Equal(t, 0, h.responder.callCount())

	// The human's continue trigger clears the flag and resumes the session.
	require.NoError(t, h.queue.Enqueue(ctx, trigger.Trigger{
		SessionID: id, Kind: trigger.KindContinue, Payload: "consider spinlocks too",
	}))
	history = h.waitForMessages(t, id, 3)
	require.Equal(t, "consider spinlocks too", history[1].Content)
	require.Equal(t, engine.RoleAgentA, history[2].Role)
}

func TestAutoTriggerOnCompletedSessionIsDropped(t *testing.T) {
	h := newHarness(t, func(req engine.Request) (engine.Reply, error) {
		return engine.Reply{Text: "summary", Signal: engine.SignalContinue}, nil
	})

	id := engine.NewSessionID()
	ctx := context.Background()
	require.NoError(t, h.store.CreateSession(ctx, engine.Session{
		ID: id, Topic: "done", Status: engine.StatusActive,
		Mode: engine.ModeDebate, StartedAt: time.Now().UTC(),
	}))
	_, err := h.store.AppendMessage(ctx, engine.Message{
		SessionID: id, Role: engine.RoleHuman, Content: "done", Signal: engine.SignalContinue,
	})
	require.NoError(t, err)
	require.NoError(t, h.store.UpdateSessionStatus(ctx, id, engine.StatusCompleted, time.Now().UTC()))

	require.NoError(t, h.queue.Enqueue(ctx, trigger.Trigger{SessionID: id, Kind: trigger.KindAuto}))
	h.run(t)

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, 0, h.responder.callCount())
}

func TestContinueTriggerOnCompletedSessionIsDropped(t *testing.T) {
	h := newHarness(t, func(req engine.Request) (engine.Reply, error) {
		return engine.Reply{Text: "summary", Signal: engine.SignalHandover}, nil
	})

	id := engine.NewSessionID()
	ctx := context.Background()
	require.NoError(t, h.store.CreateSession(ctx, engine.Session{
		ID: id, Topic: "done", Status: engine.StatusActive,
		Mode: engine.ModeDebate, StartedAt: time.Now().UTC(),
	}))
	_, err := h.store.AppendMessage(ctx, engine.Message{
		SessionID: id, Role: engine.RoleHuman, Content: "done", Signal: engine.SignalContinue,
	})
	require.NoError(t, err)
	require.NoError(t, h.store.UpdateSessionStatus(ctx, id, engine.StatusCompleted, time.Now().UTC()))

	// A stop submitted just as the session completes races the dispatcher;
	// the late continue trigger must not grow the transcript.
	require.NoError(t, h.queue.Enqueue(ctx, trigger.Trigger{
		SessionID: id, Kind: trigger.KindContinue, Payload: engine.StopMarker,
	}))
	h.run(t)

	time.Sleep(100 * time.Millisecond)
	history, err := h.store.Messages(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1, "completed session must not accept new messages")
	require.Equal(t, 0, h.responder.callCount())
}

func TestStartTriggerWithPlanningMode(t *testing.T) {
	h := newHarness(t, func(req engine.Request) (engine.Reply, error) {
		return engine.Reply{
			Text:   "The request touches engine/cache.go and needs a bounded LRU.",
			Signal: engine.SignalContinue,
		}, nil
	})
	h.run(t)

	id := engine.NewSessionID()
	require.NoError(t, h.queue.Enqueue(context.Background(), trigger.Trigger{
		SessionID: id,
		Kind:      trigger.KindStart,
		Payload:   "add caching to the request path",
		Mode:      string(engine.ModePlanning),
	}))

	history := h.waitForMessages(t, id, 2)
	require.Equal(t, engine.RoleAgentA, history[1].Role)

	session, ok, err := h.store.Session(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, engine.ModePlanning, session.Mode)
}
