package engine

import "context"

// Directive tells a Responder what kind of turn it is producing.
type Directive string

const (
	// DirectiveRespond is a normal debate turn over the recent window.
	DirectiveRespond Directive = "respond"
	// DirectiveSummarize asks for a comprehensive summary of the full history.
	DirectiveSummarize Directive = "summarize"
	// DirectivePlanStep executes one planning workflow step.
	DirectivePlanStep Directive = "plan_step"
)

// Request carries everything a Responder needs for one turn.
type Request struct {
	SessionID string
	Role      Role
	Directive Directive
	Topic     string
	Language  Language

	// History is the bounded recent window, except for DirectiveSummarize
	// which always receives the complete transcript.
	History []Message

	// Snippets are retrieved context passages for the latest human text.
	Snippets []string

	// Step and Instruction are set for DirectivePlanStep turns.
	Step        Step
	Instruction string
}

// Reply is the responder's output: text plus the signal it declares.
// Responders never declare stop; a stray stop is coerced to handover by the
// engine before persisting.
type Reply struct {
	Text   string
	Signal Signal
}

// Responder is the abstracted capability of generating a response and a
// signal from conversation history. One implementation per backing model.
type Responder interface {
	Respond(ctx context.Context, req Request) (Reply, error)
}
