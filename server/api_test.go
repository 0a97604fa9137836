package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lexcodex/parley/engine"
	"github.com/lexcodex/parley/persistence"
	"github.com/lexcodex/parley/trigger"
)

type stubInterjector struct {
	sessions []string
}

func (s *stubInterjector) Interject(sessionID string) {
	s.sessions = append(s.sessions, sessionID)
}

type apiFixture struct {
	store     *persistence.MemoryConversationStore
	queue     *trigger.MemoryQueue
	interject *stubInterjector
	server    *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		store:     persistence.NewMemoryConversationStore(),
		queue:     trigger.NewMemoryQueue(),
		interject: &stubInterjector{},
	}
	api := &API{
		Store:       f.store,
		Planning:    persistence.NewMemoryPlanningStore(),
		Queue:       f.queue,
		Interjector: f.interject,
	}
	f.server = httptest.NewServer(api.Router())
	t.Cleanup(f.server.Close)
	return f
}

func (f *apiFixture) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(f.server.URL+path, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *apiFixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *apiFixture) claim(t *testing.T) trigger.Trigger {
	t.Helper()
	claimed, ok, err := f.queue.Claim(context.Background())
	require.NoError(t, err)
	require.True(t, ok, "expected a pending trigger")
	return claimed
}

func (f *apiFixture) seedSession(t *testing.T, status engine.SessionStatus) string {
	t.Helper()
	id := engine.NewSessionID()
	require.NoError(t, f.store.CreateSession(context.Background(), engine.Session{
		ID: id, Topic: "seeded", Status: engine.StatusActive,
		Mode: engine.ModeDebate, StartedAt: time.Now().UTC(),
	}))
	if status == engine.StatusCompleted {
		require.NoError(t, f.store.UpdateSessionStatus(context.Background(), id, status, time.Now().UTC()))
	}
	return id
}

func TestCreateSessionEnqueuesStartTrigger(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.post(t, "/api/sessions", map[string]string{"topic": "debate caching", "mode": "planning"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var body struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.SessionID)

	claimed := f.claim(t)
	require.Equal(t, trigger.KindStart, claimed.Kind)
	require.Equal(t, body.SessionID, claimed.SessionID)
	require.Equal(t, "debate caching", claimed.Payload)
	require.Equal(t, string(engine.ModePlanning), claimed.Mode)
}

func TestCreateSessionRejectsBadInput(t *testing.T) {
	f := newAPIFixture(t)

	resp := f.post(t, "/api/sessions", map[string]string{"mode": "debate"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.post(t, "/api/sessions", map[string]string{"topic": "x", "mode": "tribunal"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// A topic of nothing but whitespace would enqueue a start trigger the
	// dispatcher can never turn into a valid session.
	resp = f.post(t, "/api/sessions", map[string]string{"topic": "   ", "mode": "debate"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_, ok, err := f.queue.Claim(context.Background())
	require.NoError(t, err)
	require.False(t, ok, "rejected topic must not enqueue a trigger")
}

func TestGetSessionNotFound(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.get(t, "/api/sessions/missing")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListSessionsEmptyIsArray(t *testing.T) {
	f := newAPIFixture(t)
	resp := f.get(t, "/api/sessions")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summaries []engine.SessionSummary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summaries))
	require.Empty(t, summaries)
}

func TestPostMessageInterjectsThenEnqueues(t *testing.T) {
	f := newAPIFixture(t)
	id := f.seedSession(t, engine.StatusActive)

	resp := f.post(t, "/api/sessions/"+id+"/messages", map[string]string{"content": "what about TTLs?"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Equal(t, []string{id}, f.interject.sessions)

	claimed := f.claim(t)
	require.Equal(t, trigger.KindContinue, claimed.Kind)
	require.Equal(t, "what about TTLs?", claimed.Payload)
}

func TestPostMessageToCompletedSessionConflicts(t *testing.T) {
	f := newAPIFixture(t)
	id := f.seedSession(t, engine.StatusCompleted)

	resp := f.post(t, "/api/sessions/"+id+"/messages", map[string]string{"content": "hello?"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	_, ok, err := f.queue.Claim(context.Background())
	require.NoError(t, err)
	require.False(t, ok, "nothing may be enqueued for a completed session")
}

func TestStopEnqueuesStopMarker(t *testing.T) {
	f := newAPIFixture(t)
	id := f.seedSession(t, engine.StatusActive)

	resp := f.post(t, "/api/sessions/"+id+"/stop", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	claimed := f.claim(t)
	require.Equal(t, trigger.KindContinue, claimed.Kind)
	require.Equal(t, engine.StopMarker, claimed.Payload)
}

func TestAdvanceEnqueuesAutoTrigger(t *testing.T) {
	f := newAPIFixture(t)
	id := f.seedSession(t, engine.StatusActive)

	resp := f.post(t, "/api/sessions/"+id+"/advance", nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	claimed := f.claim(t)
	require.Equal(t, trigger.KindAuto, claimed.Kind)
	require.Empty(t, claimed.Payload)
}

func TestListMessagesReturnsTranscript(t *testing.T) {
	f := newAPIFixture(t)
	id := f.seedSession(t, engine.StatusActive)
	_, err := f.store.AppendMessage(context.Background(), engine.Message{
		SessionID: id, Role: engine.RoleHuman, Content: "opening", Signal: engine.SignalContinue,
	})
	require.NoError(t, err)

	resp := f.get(t, "/api/sessions/"+id+"/messages")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var history []engine.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&history))
	require.Len(t, history, 1)
	require.Equal(t, "opening", history[0].Content)
}

func TestInterjectEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	id := f.seedSession(t, engine.StatusActive)

	resp := f.post(t, "/api/sessions/"+id+"/interject", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, []string{id}, f.interject.sessions)
}
