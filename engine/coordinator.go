package engine

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// addresseeTokens are the short tokens that count as an explicit mention of
// an agent inside a human message, in the two supported languages.
var (
	agentATokens = []string{"agent a", "agenta", "@a", "a,", "a:", "bạn a", "a ơi", "theo a"}
	agentBTokens = []string{"agent b", "agentb", "@b", "b,", "b:", "bạn b", "b ơi", "theo b"}
)

// NextRole decides who speaks next from persisted history alone. It is pure:
// same history in, same role out, so restarts can never drift.
//
// Routing rules:
//   - last message from a human: route to the explicitly addressed agent;
//     when both agents are mentioned Agent A wins; with no mention Agent A
//     is the default.
//   - last message from an agent: strict two-agent alternation.
func NextRole(history []Message) (Role, error) {
	if len(history) == 0 {
		return "", ErrEmptyHistory
	}
	last := history[len(history)-1]
	switch last.Role {
	case RoleHuman:
		return routeAddressee(last.Content), nil
	case RoleAgentA:
		return RoleAgentB, nil
	case RoleAgentB:
		return RoleAgentA, nil
	}
	return "", fmt.Errorf("cannot route after role %q", last.Role)
}

// routeAddressee scans a human message for agent mentions. Agent A takes
// precedence when both match.
func routeAddressee(content string) Role {
	lower := strings.ToLower(content)
	mentionsA := containsAny(lower, agentATokens)
	mentionsB := containsAny(lower, agentBTokens)
	if mentionsB && !mentionsA {
		return RoleAgentB
	}
	return RoleAgentA
}

func containsAny(s string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(s, token) {
			return true
		}
	}
	return false
}

// CoordinatorConfig holds tuning parameters for the coordinator.
type CoordinatorConfig struct {
	// WindowSize bounds how many recent messages a responder sees on a
	// normal turn. The stop summary always gets the full history.
	WindowSize int
	// ResponderTimeout bounds each responder invocation.
	ResponderTimeout time.Duration
	// RetrievalLimit caps context snippets fetched per turn.
	RetrievalLimit int
}

func (c CoordinatorConfig) withDefaults() CoordinatorConfig {
	if c.WindowSize <= 0 {
		c.WindowSize = 10
	}
	if c.ResponderTimeout <= 0 {
		c.ResponderTimeout = 2 * time.Minute
	}
	if c.RetrievalLimit <= 0 {
		c.RetrievalLimit = 4
	}
	return c
}

// Coordinator produces debate-mode turns: given a session it decides the
// next actor, invokes it, and persists exactly one new message.
type Coordinator struct {
	store      ConversationStore
	retriever  ContextProvider
	responders map[Role]Responder
	telemetry  Telemetry
	logger     *log.Logger
	cfg        CoordinatorConfig

	mu     sync.Mutex
	leases map[string]struct{}
}

// NewCoordinator builds a coordinator over the given store. The retriever,
// telemetry, and logger may be nil.
func NewCoordinator(store ConversationStore, retriever ContextProvider, telemetry Telemetry, logger *log.Logger, cfg CoordinatorConfig) *Coordinator {
	return &Coordinator{
		store:      store,
		retriever:  retriever,
		responders: make(map[Role]Responder),
		telemetry:  telemetry,
		logger:     logger,
		cfg:        cfg.withDefaults(),
		leases:     make(map[string]struct{}),
	}
}

// RegisterResponder binds an agent role to its backing responder.
func (c *Coordinator) RegisterResponder(role Role, r Responder) {
	c.responders[role] = r
}

func (c *Coordinator) acquire(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.leases[sessionID]; held {
		return false
	}
	c.leases[sessionID] = struct{}{}
	return true
}

func (c *Coordinator) release(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.leases, sessionID)
}

// Advance performs one debate turn for the session and returns the appended
// message. At most one Advance runs per session at a time; a concurrent
// caller gets a ConcurrencyConflict and must back off.
//
// Responder failures advance nothing: the history is untouched, so re-arming
// a continue trigger retries the identical turn.
func (c *Coordinator) Advance(ctx context.Context, sessionID string) (Message, error) {
	if sessionID == "" {
		return Message{}, &ValidationError{Reason: "session id required"}
	}
	if !c.acquire(sessionID) {
		c.emit(Event{Type: EventAdvanceConflict, SessionID: sessionID, Timestamp: time.Now().UTC()})
		return Message{}, &ConcurrencyConflict{SessionID: sessionID}
	}
	defer c.release(sessionID)

	session, ok, err := c.store.Session(ctx, sessionID)
	if err != nil {
		return Message{}, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return Message{}, &ValidationError{Reason: fmt.Sprintf("unknown session %s", sessionID)}
	}
	if session.Status != StatusActive {
		return Message{}, &ValidationError{Reason: fmt.Sprintf("session %s is %s", sessionID, session.Status)}
	}

	// Latest state is re-read inside the lease so the routing decision can
	// never race a concurrent append.
	history, err := c.store.Messages(ctx, sessionID)
	if err != nil {
		return Message{}, fmt.Errorf("load history: %w", err)
	}
	if len(history) == 0 {
		return Message{}, ErrEmptyHistory
	}

	next, err := NextRole(history)
	if err != nil {
		return Message{}, err
	}
	responder, ok := c.responders[next]
	if !ok {
		return Message{}, &WorkflowIntegrityError{SessionID: sessionID, Reason: fmt.Sprintf("no responder bound for %s", next)}
	}

	last := history[len(history)-1]
	summaryTurn := last.Role == RoleHuman && StopRequested(last.Content)

	req := Request{
		SessionID: sessionID,
		Role:      next,
		Topic:     session.Topic,
		Language:  DetectLanguage(lastHumanText(history, session.Topic)),
	}
	if summaryTurn {
		req.Directive = DirectiveSummarize
		req.History = history
	} else {
		req.Directive = DirectiveRespond
		req.History = Window(history, c.cfg.WindowSize)
		req.Snippets = c.lookupSnippets(ctx, lastHumanText(history, session.Topic))
	}

	c.emit(Event{Type: EventTurnStart, SessionID: sessionID, Role: next, Timestamp: time.Now().UTC()})
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.ResponderTimeout)
	reply, err := responder.Respond(callCtx, req)
	cancel()
	if err != nil {
		fail := &ResponderFailure{Role: next, Err: err}
		c.emit(Event{Type: EventTurnError, SessionID: sessionID, Role: next, Message: err.Error(), Timestamp: time.Now().UTC()})
		return Message{}, fail
	}

	signal := reply.Signal
	if signal == "" {
		signal = SignalContinue
	}
	if signal == SignalStop {
		// Only a human may stop a session; a stray agent stop becomes a handover.
		c.emit(Event{Type: EventSignalCoerced, SessionID: sessionID, Role: next, Timestamp: time.Now().UTC()})
		signal = SignalHandover
	}
	if summaryTurn {
		// The summary is a closing statement; control goes back to the human.
		signal = SignalHandover
	}

	msg := Message{
		SessionID: sessionID,
		Role:      next,
		Content:   reply.Text,
		Signal:    signal,
		Timestamp: time.Now().UTC(),
	}
	if err := msg.Validate(); err != nil {
		return Message{}, &ResponderFailure{Role: next, Err: err}
	}
	appended, err := c.store.AppendMessage(ctx, msg)
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	c.emit(Event{Type: EventTurnFinish, SessionID: sessionID, Role: next, Timestamp: time.Now().UTC(),
		Metadata: map[string]interface{}{"signal": string(signal)}})

	if summaryTurn {
		if err := c.store.UpdateSessionStatus(ctx, sessionID, StatusCompleted, time.Now().UTC()); err != nil {
			return appended, fmt.Errorf("complete session: %w", err)
		}
		c.emit(Event{Type: EventSessionCompleted, SessionID: sessionID, Timestamp: time.Now().UTC()})
	}
	return appended, nil
}

// lookupSnippets tolerates a missing or failing retriever; retrieval is an
// enrichment, never a turn blocker.
func (c *Coordinator) lookupSnippets(ctx context.Context, query string) []string {
	if c.retriever == nil || strings.TrimSpace(query) == "" {
		return nil
	}
	snippets, err := c.retriever.Snippets(ctx, query, c.cfg.RetrievalLimit)
	if err != nil {
		if c.logger != nil {
			c.logger.Printf("retrieval failed: %v", err)
		}
		return nil
	}
	return snippets
}

// lastHumanText finds the most recent human contribution, falling back to
// the session topic for agent-only windows.
func lastHumanText(history []Message, topic string) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleHuman {
			return history[i].Content
		}
	}
	return topic
}

func (c *Coordinator) emit(event Event) {
	if c.telemetry != nil {
		c.telemetry.Emit(event)
	}
}
