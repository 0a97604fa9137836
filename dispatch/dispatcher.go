// Package dispatch runs the trigger-consuming loop that turns queued
// signals into conversation turns.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lexcodex/parley/engine"
	"github.com/lexcodex/parley/metrics"
	"github.com/lexcodex/parley/trigger"
)

// Config holds dispatcher timing knobs.
type Config struct {
	// PollInterval bounds how long a trigger can sit unnoticed if a wake
	// event is missed.
	PollInterval time.Duration
	// Debounce is the pause before a continue-signalled turn schedules the
	// next automatic one, leaving the human a window to interject.
	Debounce time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.Debounce <= 0 {
		c.Debounce = time.Second
	}
	return c
}

// Dispatcher claims triggers and routes each to the session's mode engine:
// the debate coordinator or the planning workflow. One turn per session runs
// at a time; triggers that lose the session lock are re-enqueued.
type Dispatcher struct {
	store     engine.ConversationStore
	coord     *engine.Coordinator
	workflow  *engine.Workflow
	queue     trigger.Queue
	metrics   *metrics.Set
	telemetry engine.Telemetry
	logger    *log.Logger
	cfg       Config

	locks *sessionLocks

	mu        sync.Mutex
	interject map[string]struct{}

	wg sync.WaitGroup
}

// New wires a dispatcher. metrics and telemetry may be nil.
func New(store engine.ConversationStore, coord *engine.Coordinator, workflow *engine.Workflow, queue trigger.Queue, m *metrics.Set, telemetry engine.Telemetry, logger *log.Logger, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:     store,
		coord:     coord,
		workflow:  workflow,
		queue:     queue,
		metrics:   m,
		telemetry: telemetry,
		logger:    logger,
		cfg:       cfg.withDefaults(),
		locks:     newSessionLocks(),
		interject: make(map[string]struct{}),
	}
}

// Run consumes triggers until the context is cancelled. It drains the queue
// on every wake event and on a poll tick, so a missed wake only delays a
// trigger by one poll interval.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()
	for {
		d.drain(ctx)
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return ctx.Err()
		case <-d.queue.Wake():
		case <-ticker.C:
		}
	}
}

// Interject flags a session so pending auto-advances are dropped until the
// human's message arrives.
func (d *Dispatcher) Interject(sessionID string) {
	d.mu.Lock()
	d.interject[sessionID] = struct{}{}
	d.mu.Unlock()
}

func (d *Dispatcher) clearInterject(sessionID string) {
	d.mu.Lock()
	delete(d.interject, sessionID)
	d.mu.Unlock()
}

func (d *Dispatcher) interjected(sessionID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.interject[sessionID]
	return ok
}

func (d *Dispatcher) drain(ctx context.Context) {
	for {
		t, ok, err := d.queue.Claim(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && d.logger != nil {
				d.logger.Printf("claim trigger: %v", err)
			}
			return
		}
		if !ok {
			return
		}
		d.wg.Add(1)
		go func(t trigger.Trigger) {
			defer d.wg.Done()
			d.process(ctx, t)
		}(t)
	}
}

func (d *Dispatcher) process(ctx context.Context, t trigger.Trigger) {
	if d.metrics != nil {
		d.metrics.TriggersClaimed.WithLabelValues(string(t.Kind)).Inc()
	}
	d.emit(engine.Event{Type: engine.EventTriggerClaimed, SessionID: t.SessionID,
		Message: string(t.Kind), Timestamp: time.Now().UTC()})

	if !d.locks.TryLock(t.SessionID) {
		// Another turn for this session is in flight; put the trigger back
		// after a beat rather than spinning on it.
		time.Sleep(d.cfg.Debounce)
		if err := d.queue.Enqueue(ctx, t); err != nil && d.logger != nil {
			d.logger.Printf("re-enqueue %s/%s: %v", t.Kind, t.SessionID, err)
		}
		return
	}
	defer d.locks.Unlock(t.SessionID)

	var err error
	switch t.Kind {
	case trigger.KindStart:
		err = d.processStart(ctx, t)
	case trigger.KindContinue:
		err = d.processContinue(ctx, t)
	case trigger.KindAuto:
		err = d.processAuto(ctx, t)
	default:
		err = fmt.Errorf("unknown trigger kind %q", t.Kind)
	}
	if err != nil && d.logger != nil {
		d.logger.Printf("process %s/%s: %v", t.Kind, t.SessionID, err)
	}
}

// processStart creates the session, records the topic as the opening human
// message, and runs the first turn.
func (d *Dispatcher) processStart(ctx context.Context, t trigger.Trigger) error {
	mode := engine.Mode(t.Mode)
	if t.Mode == "" {
		mode = engine.ModeDebate
	}
	session := engine.Session{
		ID:        t.SessionID,
		Topic:     t.Payload,
		Status:    engine.StatusActive,
		Mode:      mode,
		StartedAt: time.Now().UTC(),
	}
	if err := d.store.CreateSession(ctx, session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	d.emit(engine.Event{Type: engine.EventSessionStarted, SessionID: session.ID, Timestamp: session.StartedAt})
	if _, err := d.store.AppendMessage(ctx, engine.Message{
		SessionID: session.ID,
		Role:      engine.RoleHuman,
		Content:   t.Payload,
		Signal:    engine.SignalContinue,
		Timestamp: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("append opening message: %w", err)
	}
	return d.advance(ctx, session, nil)
}

// processContinue persists the human message, clears any pending
// interjection, and advances.
func (d *Dispatcher) processContinue(ctx context.Context, t trigger.Trigger) error {
	d.clearInterject(t.SessionID)
	session, ok, err := d.store.Session(ctx, t.SessionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("unknown session %s", t.SessionID)
	}
	if session.Status != engine.StatusActive {
		// A trigger claimed after completion must not grow the transcript.
		return nil
	}
	var human *engine.Message
	if t.Payload != "" {
		appended, err := d.store.AppendMessage(ctx, engine.Message{
			SessionID: t.SessionID,
			Role:      engine.RoleHuman,
			Content:   t.Payload,
			Signal:    engine.SignalContinue,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("append human message: %w", err)
		}
		human = &appended
	}
	return d.advance(ctx, session, human)
}

// processAuto advances without human input unless an interjection is
// pending, in which case the trigger is dropped and the human's continue
// trigger will resume the session.
func (d *Dispatcher) processAuto(ctx context.Context, t trigger.Trigger) error {
	if d.interjected(t.SessionID) {
		return nil
	}
	session, ok, err := d.store.Session(ctx, t.SessionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("unknown session %s", t.SessionID)
	}
	if session.Status != engine.StatusActive {
		return nil
	}
	return d.advance(ctx, session, nil)
}

// advance runs one turn via the session's mode engine and schedules the
// next automatic turn when the produced message carries a continue signal.
func (d *Dispatcher) advance(ctx context.Context, session engine.Session, human *engine.Message) error {
	start := time.Now()
	var (
		produced *engine.Message
		err      error
	)
	switch session.Mode {
	case engine.ModePlanning:
		produced, err = d.workflow.ExecuteTurn(ctx, session.ID, human)
	default:
		var msg engine.Message
		msg, err = d.coord.Advance(ctx, session.ID)
		if err == nil {
			produced = &msg
		}
	}
	if d.metrics != nil {
		d.metrics.TurnDuration.WithLabelValues(string(session.Mode)).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		var conflict *engine.ConcurrencyConflict
		var failure *engine.ResponderFailure
		switch {
		case errors.As(err, &conflict):
			if d.metrics != nil {
				d.metrics.ConcurrencyConflicts.Inc()
			}
		case errors.As(err, &failure):
			if d.metrics != nil {
				d.metrics.ResponderFailures.Inc()
			}
		}
		return err
	}
	if produced == nil {
		return nil
	}
	if d.metrics != nil {
		d.metrics.TurnsTotal.WithLabelValues(string(produced.Role)).Inc()
		if produced.Signal == engine.SignalHandover {
			if sess, ok, err := d.store.Session(ctx, session.ID); err == nil && ok && sess.Status == engine.StatusCompleted {
				d.metrics.SessionsCompleted.Inc()
			}
		}
	}
	if produced.Signal == engine.SignalContinue {
		d.scheduleAuto(ctx, session.ID)
	}
	return nil
}

// scheduleAuto enqueues the next auto trigger after the debounce window.
func (d *Dispatcher) scheduleAuto(ctx context.Context, sessionID string) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.Debounce):
		}
		if d.interjected(sessionID) {
			return
		}
		t := trigger.Trigger{SessionID: sessionID, Kind: trigger.KindAuto}
		if err := d.queue.Enqueue(ctx, t); err != nil && d.logger != nil {
			d.logger.Printf("schedule auto advance for %s: %v", sessionID, err)
		}
	}()
}

func (d *Dispatcher) emit(event engine.Event) {
	if d.telemetry != nil {
		d.telemetry.Emit(event)
	}
}
