// Package server exposes the HTTP control surface: session CRUD, message
// submission, stop/advance/interject controls, and Prometheus metrics.
package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lexcodex/parley/engine"
	"github.com/lexcodex/parley/trigger"
)

// Interjector flags a session so pending auto-advances yield to the human.
// The dispatcher satisfies it.
type Interjector interface {
	Interject(sessionID string)
}

// API serves the HTTP endpoints over the conversation store and trigger
// queue. Turns themselves are produced by the dispatcher; the API only
// persists inputs and enqueues work.
type API struct {
	Store       engine.ConversationStore
	Planning    engine.PlanningStore
	Queue       trigger.Queue
	Interjector Interjector
	Metrics     http.Handler
	Logger      *log.Logger
}

// Router builds the chi route table.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/api/sessions", a.handleListSessions)
	r.Post("/api/sessions", a.handleCreateSession)
	r.Get("/api/sessions/{id}", a.handleGetSession)
	r.Get("/api/sessions/{id}/messages", a.handleListMessages)
	r.Post("/api/sessions/{id}/messages", a.handlePostMessage)
	r.Post("/api/sessions/{id}/stop", a.handleStop)
	r.Post("/api/sessions/{id}/advance", a.handleAdvance)
	r.Post("/api/sessions/{id}/interject", a.handleInterject)
	if a.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.Metrics)
	}
	return r
}

type createSessionRequest struct {
	Topic string `json:"topic"`
	Mode  string `json:"mode,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type postMessageRequest struct {
	Content string `json:"content"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) handleListSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := a.Store.ListSessions(r.Context())
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if summaries == nil {
		summaries = []engine.SessionSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

// handleCreateSession allocates an id and enqueues a start trigger; the
// dispatcher creates the session row and runs the first turn.
func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("topic required"))
		return
	}
	mode := engine.Mode(req.Mode)
	if req.Mode == "" {
		mode = engine.ModeDebate
	}
	if !mode.Valid() {
		a.writeError(w, http.StatusBadRequest, errors.New("mode must be debate or planning"))
		return
	}
	id := engine.NewSessionID()
	t := trigger.Trigger{
		SessionID:  id,
		Kind:       trigger.KindStart,
		Payload:    topic,
		Mode:       string(mode),
		EnqueuedAt: time.Now().UTC(),
	}
	if err := a.Queue.Enqueue(r.Context(), t); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, createSessionResponse{SessionID: id})
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, ok, err := a.Store.Session(r.Context(), id)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		a.writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok, err := a.Store.Session(r.Context(), id); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	} else if !ok {
		a.writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	history, err := a.Store.Messages(r.Context(), id)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if history == nil {
		history = []engine.Message{}
	}
	writeJSON(w, http.StatusOK, history)
}

// handlePostMessage flags the interjection first so an in-flight debounce
// cannot race the human's message, then enqueues the continue trigger.
func (a *API) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		a.writeError(w, http.StatusBadRequest, errors.New("content required"))
		return
	}
	session, ok, err := a.Store.Session(r.Context(), id)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		a.writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	if session.Status != engine.StatusActive {
		a.writeError(w, http.StatusConflict, errors.New("session is completed"))
		return
	}
	if a.Interjector != nil {
		a.Interjector.Interject(id)
	}
	t := trigger.Trigger{SessionID: id, Kind: trigger.KindContinue, Payload: content}
	if err := a.Queue.Enqueue(r.Context(), t); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleStop submits the stop marker as a human message; the engine handles
// it like any other stop request.
func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, ok, err := a.Store.Session(r.Context(), id)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		a.writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	if session.Status != engine.StatusActive {
		a.writeError(w, http.StatusConflict, errors.New("session is completed"))
		return
	}
	if a.Interjector != nil {
		a.Interjector.Interject(id)
	}
	t := trigger.Trigger{SessionID: id, Kind: trigger.KindContinue, Payload: engine.StopMarker}
	if err := a.Queue.Enqueue(r.Context(), t); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleAdvance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, ok, err := a.Store.Session(r.Context(), id)
	if err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		a.writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	if session.Status != engine.StatusActive {
		a.writeError(w, http.StatusConflict, errors.New("session is completed"))
		return
	}
	t := trigger.Trigger{SessionID: id, Kind: trigger.KindAuto}
	if err := a.Queue.Enqueue(r.Context(), t); err != nil {
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) handleInterject(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if a.Interjector == nil {
		a.writeError(w, http.StatusServiceUnavailable, errors.New("dispatcher not attached"))
		return
	}
	a.Interjector.Interject(id)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	if a.Logger != nil && status >= 500 {
		a.Logger.Printf("api error: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
