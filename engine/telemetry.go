package engine

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

// EventType categorizes telemetry events.
type EventType string

const (
	EventTurnStart        EventType = "turn_start"
	EventTurnFinish       EventType = "turn_finish"
	EventTurnError        EventType = "turn_error"
	EventStepStart        EventType = "step_start"
	EventStepFinish       EventType = "step_finish"
	EventStepError        EventType = "step_error"
	EventSignalCoerced    EventType = "signal_coerced"
	EventSessionStarted   EventType = "session_started"
	EventSessionCompleted EventType = "session_completed"
	EventTriggerClaimed   EventType = "trigger_claimed"
	EventAdvanceConflict  EventType = "advance_conflict"
)

// Event captures structured telemetry data.
type Event struct {
	Type      EventType              `json:"type"`
	SessionID string                 `json:"session_id,omitempty"`
	Role      Role                   `json:"role,omitempty"`
	Step      Step                   `json:"step,omitempty"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Telemetry captures execution traces emitted by the engine. Tests typically
// swap in lightweight recorders.
type Telemetry interface {
	Emit(event Event)
}

// MultiplexTelemetry broadcasts events to multiple sinks.
type MultiplexTelemetry struct {
	Sinks []Telemetry
}

// Emit forwards the event to all registered sinks.
func (m MultiplexTelemetry) Emit(event Event) {
	for _, s := range m.Sinks {
		s.Emit(event)
	}
}

// JSONFileTelemetry writes events as newline-delimited JSON to a file so
// external tools can tail the stream.
type JSONFileTelemetry struct {
	file *os.File
	enc  *json.Encoder
	mu   sync.Mutex
}

// NewJSONFileTelemetry opens (or creates) the trace file.
func NewJSONFileTelemetry(path string) (*JSONFileTelemetry, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONFileTelemetry{file: f, enc: json.NewEncoder(f)}, nil
}

// Emit writes the JSON record.
func (j *JSONFileTelemetry) Emit(event Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.enc != nil {
		_ = j.enc.Encode(event)
	}
}

// Close releases the file handle.
func (j *JSONFileTelemetry) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

// LoggerTelemetry emits events via the standard logger.
type LoggerTelemetry struct {
	Logger *log.Logger
}

// Emit logs the event.
func (l LoggerTelemetry) Emit(event Event) {
	if l.Logger == nil {
		return
	}
	l.Logger.Printf("event=%s session=%s role=%s step=%s %s",
		event.Type, event.SessionID, event.Role, event.Step, event.Message)
}
