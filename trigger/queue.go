// Package trigger provides the claimable signal channel that feeds the
// dispatcher: producers drop a trigger per session, consumers claim each
// trigger exactly once.
package trigger

import (
	"context"
	"time"
)

// Kind classifies what a trigger asks the dispatcher to do.
type Kind string

const (
	// KindStart creates a session and runs its first turn.
	KindStart Kind = "start"
	// KindContinue appends a human message and advances the session.
	KindContinue Kind = "continue"
	// KindAuto advances a session without new human input.
	KindAuto Kind = "auto"
)

// Valid reports whether the kind is one the dispatcher understands.
func (k Kind) Valid() bool {
	switch k {
	case KindStart, KindContinue, KindAuto:
		return true
	}
	return false
}

// Trigger is one unit of dispatcher work. Payload carries the session topic
// for start triggers and the human message text for continue triggers; auto
// triggers carry none. Mode is only meaningful on start triggers.
type Trigger struct {
	SessionID  string    `json:"session_id"`
	Kind       Kind      `json:"kind"`
	Payload    string    `json:"payload,omitempty"`
	Mode       string    `json:"mode,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue is the claimable trigger channel. Enqueueing the same
// (session, kind) pair twice before a claim coalesces into one trigger.
// Claim hands each trigger to exactly one caller.
type Queue interface {
	Enqueue(ctx context.Context, t Trigger) error
	// Claim removes and returns one pending trigger; the bool is false when
	// the queue is empty.
	Claim(ctx context.Context) (Trigger, bool, error)
	// Wake signals that a trigger may have arrived. Receivers must still
	// call Claim; wakes are advisory and may be spurious.
	Wake() <-chan struct{}
	Close() error
}
