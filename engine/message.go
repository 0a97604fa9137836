package engine

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Role identifies the author of a message.
type Role string

const (
	RoleHuman  Role = "Human"
	RoleAgentA Role = "AgentA"
	RoleAgentB Role = "AgentB"
)

// Valid reports whether the role is one of the known authors.
func (r Role) Valid() bool {
	switch r {
	case RoleHuman, RoleAgentA, RoleAgentB:
		return true
	}
	return false
}

// Signal is the intent an author declares when finishing a message.
type Signal string

const (
	// SignalContinue means the other agent should take the next turn automatically.
	SignalContinue Signal = "continue"
	// SignalHandover means the author is pausing and a human should respond next.
	SignalHandover Signal = "handover"
	// SignalStop ends the session; only a human may declare it.
	SignalStop Signal = "stop"
)

// Valid reports whether the signal is a known value.
func (s Signal) Valid() bool {
	switch s {
	case SignalContinue, SignalHandover, SignalStop:
		return true
	}
	return false
}

// Mode selects which orchestration engine drives a session.
type Mode string

const (
	ModeDebate   Mode = "debate"
	ModePlanning Mode = "planning"
)

// Valid reports whether the mode is known.
func (m Mode) Valid() bool {
	return m == ModeDebate || m == ModePlanning
}

// SessionStatus tracks the lifecycle of a session.
type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
)

// Valid reports whether the status is a known lifecycle state.
func (s SessionStatus) Valid() bool {
	return s == StatusActive || s == StatusCompleted
}

// Message is one entry in a session transcript. Messages are append-only;
// ordering is by timestamp with the store-assigned ID as tie-break.
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Signal    Signal    `json:"signal"`
	Timestamp time.Time `json:"timestamp"`
}

// Validate rejects messages that must never reach the store.
func (m Message) Validate() error {
	if m.SessionID == "" {
		return &ValidationError{Reason: "message session id required"}
	}
	if !m.Role.Valid() {
		return &ValidationError{Reason: fmt.Sprintf("unknown role %q", m.Role)}
	}
	if !m.Signal.Valid() {
		return &ValidationError{Reason: fmt.Sprintf("unknown signal %q", m.Signal)}
	}
	if strings.TrimSpace(m.Content) == "" {
		return &ValidationError{Reason: "message content required"}
	}
	return nil
}

// Session is one conversation. Immutable after creation except for status.
type Session struct {
	ID        string        `json:"id"`
	Topic     string        `json:"topic"`
	Status    SessionStatus `json:"status"`
	Mode      Mode          `json:"mode"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   *time.Time    `json:"ended_at,omitempty"`
}

// Validate rejects malformed sessions before creation.
func (s Session) Validate() error {
	if s.ID == "" {
		return &ValidationError{Reason: "session id required"}
	}
	if strings.TrimSpace(s.Topic) == "" {
		return &ValidationError{Reason: "session topic required"}
	}
	if !s.Mode.Valid() {
		return &ValidationError{Reason: fmt.Sprintf("unknown mode %q", s.Mode)}
	}
	return nil
}

// SessionSummary is the listing shape consumed by UIs.
type SessionSummary struct {
	Session
	MessageCount int `json:"message_count"`
}

// NewSessionID returns an opaque unique session token.
func NewSessionID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("sess-%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("sess-%d-%s", time.Now().Unix(), hex.EncodeToString(buf))
}

// StopMarker is the canonical content prefix a human stop request carries.
const StopMarker = "🛑 STOP"

// stopWords are standalone tokens that also count as a stop request.
var stopWords = []string{"stop", "dừng"}

// StopRequested reports whether a human message content asks to end the
// session. The marker always wins; otherwise only a standalone stop word
// counts, so "let's stop procrastinating and stop." matches while
// "bus stops here" does not.
func StopRequested(content string) bool {
	if strings.Contains(content, StopMarker) {
		return true
	}
	for _, field := range strings.Fields(strings.ToLower(content)) {
		token := strings.TrimFunc(field, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		for _, w := range stopWords {
			if token == w {
				return true
			}
		}
	}
	return false
}

// Window returns the most recent n messages. The stop-triggered summary path
// is the sole caller allowed to bypass this and send the full history.
func Window(history []Message, n int) []Message {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
