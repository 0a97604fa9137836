package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// stepEvent drives the planning transition table.
type stepEvent string

const (
	eventAdvance        stepEvent = "advance"
	eventRetry          stepEvent = "retry"
	eventApprove        stepEvent = "approve"
	eventModifyProposal stepEvent = "modify_proposal"
	eventModifyScope    stepEvent = "modify_scope"
	eventModifyReview   stepEvent = "modify_review"
	eventStop           stepEvent = "stop"
	eventRestart        stepEvent = "restart"
)

// transitions is the explicit state × event table. Any pair absent here is
// an illegal transition; in particular there is no edge from
// validate_proposal to finalize_plan: finalization is only reachable
// through an approval recorded at the checkpoint.
var transitions = map[Step]map[stepEvent]Step{
	StepAnalyze: {
		eventAdvance:        StepPropose,
		eventModifyProposal: StepPropose,
		eventModifyScope:    StepAnalyze,
		eventModifyReview:   StepReview,
		eventStop:           StepCompleted,
	},
	StepPropose: {
		eventAdvance:        StepReview,
		eventModifyProposal: StepPropose,
		eventModifyScope:    StepAnalyze,
		eventModifyReview:   StepReview,
		eventStop:           StepCompleted,
	},
	StepReview: {
		eventAdvance:        StepValidate,
		eventModifyProposal: StepPropose,
		eventModifyScope:    StepAnalyze,
		eventModifyReview:   StepReview,
		eventStop:           StepCompleted,
	},
	StepValidate: {
		eventAdvance:        StepAwaitApproval,
		eventRetry:          StepPropose,
		eventModifyProposal: StepPropose,
		eventModifyScope:    StepAnalyze,
		eventModifyReview:   StepReview,
		eventStop:           StepCompleted,
	},
	StepAwaitApproval: {
		eventApprove:        StepFinalize,
		eventModifyProposal: StepPropose,
		eventModifyScope:    StepAnalyze,
		eventModifyReview:   StepReview,
		eventStop:           StepCompleted,
	},
	StepFinalize: {
		eventAdvance: StepCompleted,
		eventRestart: StepAnalyze,
		eventStop:    StepCompleted,
	},
	StepCompleted: {
		eventRestart: StepAnalyze,
	},
}

// nextStep consults the transition table; illegal moves are integrity errors.
func nextStep(current Step, ev stepEvent) (Step, error) {
	if edges, ok := transitions[current]; ok {
		if next, ok := edges[ev]; ok {
			return next, nil
		}
	}
	return "", &WorkflowIntegrityError{Step: current, Reason: fmt.Sprintf("illegal transition %q", ev)}
}

// stepRole maps each responder-bound step to the agent that executes it.
// Validation is a system rule; its message is authored by Agent A like the
// rest of the analysis track.
func stepRole(step Step) Role {
	if step == StepReview {
		return RoleAgentB
	}
	return RoleAgentA
}

// WorkflowConfig holds tuning parameters for the planning workflow.
type WorkflowConfig struct {
	// MaxValidationRetries caps automatic validate→propose loops before the
	// workflow parks and hands control to the human.
	MaxValidationRetries int
	ResponderTimeout     time.Duration
	RetrievalLimit       int
}

func (c WorkflowConfig) withDefaults() WorkflowConfig {
	if c.MaxValidationRetries <= 0 {
		c.MaxValidationRetries = 2
	}
	if c.ResponderTimeout <= 0 {
		c.ResponderTimeout = 3 * time.Minute
	}
	if c.RetrievalLimit <= 0 {
		c.RetrievalLimit = 6
	}
	return c
}

// Workflow drives planning-mode sessions: a fixed checkpointed step sequence
// persisted after every node, with human interrupts folded in mid-sequence.
type Workflow struct {
	store      ConversationStore
	planning   PlanningStore
	retriever  ContextProvider
	responders map[Role]Responder
	telemetry  Telemetry
	logger     *log.Logger
	cfg        WorkflowConfig

	mu     sync.Mutex
	leases map[string]struct{}
}

// NewWorkflow builds a planning workflow over the given stores.
func NewWorkflow(store ConversationStore, planning PlanningStore, retriever ContextProvider, telemetry Telemetry, logger *log.Logger, cfg WorkflowConfig) *Workflow {
	return &Workflow{
		store:      store,
		planning:   planning,
		retriever:  retriever,
		responders: make(map[Role]Responder),
		telemetry:  telemetry,
		logger:     logger,
		cfg:        cfg.withDefaults(),
		leases:     make(map[string]struct{}),
	}
}

// RegisterResponder binds an agent role to its backing responder.
func (w *Workflow) RegisterResponder(role Role, r Responder) {
	w.responders[role] = r
}

func (w *Workflow) acquire(sessionID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, held := w.leases[sessionID]; held {
		return false
	}
	w.leases[sessionID] = struct{}{}
	return true
}

func (w *Workflow) release(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.leases, sessionID)
}

// State returns the current planning state for a session.
func (w *Workflow) State(ctx context.Context, sessionID string) (PlanningState, bool, error) {
	return w.planning.Load(ctx, sessionID)
}

// ExecuteTurn runs exactly one planning turn. When human is non-nil it is
// treated as a mid-sequence interrupt (stop, approval, modification request,
// or input folded into the current step); otherwise the current step
// auto-executes. The produced message, if any, is appended to the
// conversation and returned so the caller can interpret its signal.
func (w *Workflow) ExecuteTurn(ctx context.Context, sessionID string, human *Message) (*Message, error) {
	if !w.acquire(sessionID) {
		w.emit(Event{Type: EventAdvanceConflict, SessionID: sessionID, Timestamp: time.Now().UTC()})
		return nil, &ConcurrencyConflict{SessionID: sessionID}
	}
	defer w.release(sessionID)

	session, ok, err := w.store.Session(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown session %s", sessionID)}
	}
	if session.Status != StatusActive {
		return nil, &ValidationError{Reason: fmt.Sprintf("session %s is %s", sessionID, session.Status)}
	}

	state, ok, err := w.planning.Load(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load planning state: %w", err)
	}
	if !ok {
		state = NewPlanningState(sessionID, session.Topic)
		if err := w.planning.Save(ctx, state); err != nil {
			return nil, fmt.Errorf("init planning state: %w", err)
		}
	}
	if !state.Step.Valid() {
		return nil, &WorkflowIntegrityError{SessionID: sessionID, Step: state.Step, Reason: "unknown step"}
	}

	var msg *Message
	if human != nil && human.Role == RoleHuman {
		msg, err = w.handleInterrupt(ctx, state, *human)
	} else {
		msg, err = w.executeStep(ctx, state)
	}

	// An integrity failure parks the workflow. The human has to see that
	// in the conversation, not in a server log.
	var integrity *WorkflowIntegrityError
	if errors.As(err, &integrity) {
		w.emit(Event{Type: EventStepError, SessionID: sessionID, Step: state.Step, Message: integrity.Error(), Timestamp: time.Now().UTC()})
		return w.appendMessage(ctx, state, RoleAgentA, integrityNote(state.Language, integrity), SignalHandover)
	}
	return msg, err
}

// executeStep auto-executes the current step. Checkpoints never
// auto-execute: a trigger landing while the workflow awaits approval is a
// no-op.
func (w *Workflow) executeStep(ctx context.Context, state PlanningState) (*Message, error) {
	switch state.Step {
	case StepAwaitApproval:
		return nil, nil
	case StepCompleted:
		return w.appendMessage(ctx, state, RoleAgentA, completionNotice(state.Language), SignalHandover)
	}

	w.emit(Event{Type: EventStepStart, SessionID: state.SessionID, Step: state.Step, Timestamp: time.Now().UTC()})

	if state.Step == StepValidate {
		return w.runValidation(ctx, state)
	}

	role := stepRole(state.Step)
	responder, ok := w.responders[role]
	if !ok {
		return nil, &WorkflowIntegrityError{SessionID: state.SessionID, Step: state.Step, Reason: fmt.Sprintf("no responder bound for %s", role)}
	}

	if state.Step == StepAnalyze && w.retriever != nil {
		snippets, err := w.retriever.Snippets(ctx, state.Request, w.cfg.RetrievalLimit)
		if err != nil {
			if w.logger != nil {
				w.logger.Printf("retrieval failed for %s: %v", state.SessionID, err)
			}
		} else {
			state.Snippets = snippets
			state.IdentifiedFiles = ExtractFileRefs(strings.Join(snippets, "\n"))
		}
	}

	req := Request{
		SessionID:   state.SessionID,
		Role:        role,
		Directive:   DirectivePlanStep,
		Topic:       state.Request,
		Language:    state.Language,
		Snippets:    state.Snippets,
		Step:        state.Step,
		Instruction: stepInstruction(state),
	}
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.ResponderTimeout)
	reply, err := responder.Respond(callCtx, req)
	cancel()
	if err != nil {
		// The step is not advanced; the failure is surfaced in-conversation
		// and the workflow stays parked here for a manual retry.
		w.emit(Event{Type: EventStepError, SessionID: state.SessionID, Step: state.Step, Message: err.Error(), Timestamp: time.Now().UTC()})
		return w.appendMessage(ctx, state, role, stepFailureNote(state.Language, state.Step, err), SignalHandover)
	}

	executed := state.Step
	switch executed {
	case StepAnalyze:
		state.Analysis = reply.Text
	case StepPropose:
		state.Proposal = reply.Text
	case StepReview:
		state.Review = reply.Text
	case StepFinalize:
		state.FinalPlan = reply.Text
	}

	next, err := nextStep(executed, eventAdvance)
	if err != nil {
		return nil, err
	}
	state.Step = next
	if err := w.planning.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save planning state: %w", err)
	}

	signal := SignalContinue
	if next == StepCompleted {
		signal = SignalHandover
	}
	content := stepMessagePrefix(executed, state.Language) + "\n\n" + reply.Text
	msg, err := w.appendMessage(ctx, state, role, content, signal)
	if err != nil {
		return nil, err
	}
	w.emit(Event{Type: EventStepFinish, SessionID: state.SessionID, Step: executed, Timestamp: time.Now().UTC(),
		Metadata: map[string]interface{}{"next": string(next)}})

	// A finalized plan leaves the session open: new human input restarts
	// the workflow for another round. Only an explicit stop closes it.
	return msg, nil
}

// runValidation applies the deterministic proposal check. Failures route
// back to propose_changes for a bounded number of automatic retries; at the
// cap the workflow parks there with a handover instead of looping.
func (w *Workflow) runValidation(ctx context.Context, state PlanningState) (*Message, error) {
	passed, issues := ValidateProposal(state)
	state.ValidationPassed = passed
	state.ValidationIssues = issues

	var (
		next    Step
		signal  Signal
		content string
		err     error
	)
	switch {
	case passed:
		next, err = nextStep(StepValidate, eventAdvance)
		signal = SignalHandover
		content = validationPassedNotice(state.Language)
	case state.Revision < w.cfg.MaxValidationRetries:
		state.Revision++
		next, err = nextStep(StepValidate, eventRetry)
		signal = SignalContinue
		content = validationRetryNotice(state.Language, issues)
	default:
		// Retry cap reached: park at propose_changes and hand over.
		next, err = nextStep(StepValidate, eventRetry)
		signal = SignalHandover
		content = validationParkedNotice(state.Language, issues)
		w.emit(Event{Type: EventStepError, SessionID: state.SessionID, Step: StepValidate,
			Message: "validation retry cap reached", Timestamp: time.Now().UTC()})
	}
	if err != nil {
		return nil, err
	}
	state.Step = next
	if err := w.planning.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save planning state: %w", err)
	}
	w.emit(Event{Type: EventStepFinish, SessionID: state.SessionID, Step: StepValidate, Timestamp: time.Now().UTC(),
		Metadata: map[string]interface{}{"passed": passed, "next": string(next)}})
	return w.appendMessage(ctx, state, RoleAgentA, content, signal)
}

// interrupt keyword sets, English and Vietnamese.
var (
	approveWords  = []string{"approve", "approved", "lgtm", "đồng ý", "duyệt"}
	modifyWords   = []string{"modify", "change", "update", "revise", "sửa", "thay đổi", "chỉnh"}
	scopeWords    = []string{"analysis", "analyze", "scope", "phân tích"}
	proposalWords = []string{"proposal", "propose", "đề xuất"}
	reviewWords   = []string{"review", "xem xét"}
	summaryWords  = []string{"summarize", "tóm tắt"}
)

// handleInterrupt reacts to a human message arriving mid-sequence.
func (w *Workflow) handleInterrupt(ctx context.Context, state PlanningState, human Message) (*Message, error) {
	lower := strings.ToLower(human.Content)

	if StopRequested(human.Content) || containsAny(lower, summaryWords) {
		return w.stopWithSummary(ctx, state)
	}

	if state.Step == StepAwaitApproval && containsAny(lower, approveWords) && !containsAny(lower, modifyWords) {
		next, err := nextStep(state.Step, eventApprove)
		if err != nil {
			return nil, err
		}
		state.Step = next
		if err := w.planning.Save(ctx, state); err != nil {
			return nil, fmt.Errorf("save planning state: %w", err)
		}
		return w.appendMessage(ctx, state, RoleAgentA, approvalAck(state.Language), SignalContinue)
	}

	if containsAny(lower, modifyWords) {
		// Once finalization started the artifacts are already synthesized;
		// a modification request starts another round from analysis.
		if state.Step == StepFinalize || state.Step == StepCompleted {
			next, err := nextStep(state.Step, eventRestart)
			if err != nil {
				return nil, err
			}
			state.Step = next
			state.Revision++
			state.Request = state.Request + "\n\n[Human modification]: " + human.Content
			if err := w.planning.Save(ctx, state); err != nil {
				return nil, fmt.Errorf("save planning state: %w", err)
			}
			return w.appendMessage(ctx, state, RoleAgentA, restartAck(state.Language), SignalContinue)
		}
		ev := eventModifyProposal
		switch {
		case containsAny(lower, scopeWords):
			ev = eventModifyScope
		case containsAny(lower, reviewWords) && !containsAny(lower, proposalWords):
			ev = eventModifyReview
		}
		next, err := nextStep(state.Step, ev)
		if err != nil {
			return nil, err
		}
		switch next {
		case StepAnalyze:
			state.Analysis = ""
		case StepPropose:
			state.Proposal = ""
		case StepReview:
			state.Review = ""
		}
		state.Step = next
		state.Revision++
		state.Request = state.Request + "\n\n[Human modification]: " + human.Content
		if err := w.planning.Save(ctx, state); err != nil {
			return nil, fmt.Errorf("save planning state: %w", err)
		}
		return w.appendMessage(ctx, state, RoleAgentA, modificationAck(state.Language, next), SignalContinue)
	}

	// Default: fold the input into the current step. A completed workflow
	// restarts from the top with the accumulated context retained.
	state.Request = state.Request + "\n\n[Human input]: " + human.Content
	ack := foldAck(state.Language)
	if state.Step == StepCompleted {
		next, err := nextStep(StepCompleted, eventRestart)
		if err != nil {
			return nil, err
		}
		state.Step = next
		ack = restartAck(state.Language)
	}
	if err := w.planning.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save planning state: %w", err)
	}
	return w.appendMessage(ctx, state, RoleAgentA, ack, SignalContinue)
}

// stopWithSummary builds the terminal summary from accumulated artifacts
// and completes the session.
func (w *Workflow) stopWithSummary(ctx context.Context, state PlanningState) (*Message, error) {
	summary := planSummary(state)
	state.Step = StepCompleted
	state.FinalPlan = summary
	if err := w.planning.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save planning state: %w", err)
	}
	msg, err := w.appendMessage(ctx, state, RoleAgentA, summary, SignalHandover)
	if err != nil {
		return nil, err
	}
	if err := w.completeSession(ctx, state.SessionID); err != nil {
		return msg, err
	}
	return msg, nil
}

func (w *Workflow) completeSession(ctx context.Context, sessionID string) error {
	if err := w.store.UpdateSessionStatus(ctx, sessionID, StatusCompleted, time.Now().UTC()); err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	w.emit(Event{Type: EventSessionCompleted, SessionID: sessionID, Timestamp: time.Now().UTC()})
	return nil
}

func (w *Workflow) appendMessage(ctx context.Context, state PlanningState, role Role, content string, signal Signal) (*Message, error) {
	msg := Message{
		SessionID: state.SessionID,
		Role:      role,
		Content:   content,
		Signal:    signal,
		Timestamp: time.Now().UTC(),
	}
	appended, err := w.store.AppendMessage(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &appended, nil
}

func (w *Workflow) emit(event Event) {
	if w.telemetry != nil {
		w.telemetry.Emit(event)
	}
}

// stepInstruction renders the prompt for a responder-bound step from the
// accumulated artifacts.
func stepInstruction(state PlanningState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request:\n%s\n", state.Request)
	switch state.Step {
	case StepAnalyze:
		b.WriteString("\nAnalyze the codebase context above. Identify the files and functions ")
		b.WriteString("relevant to the request, the current structure, and what needs to change. ")
		b.WriteString("Only discuss what the provided context actually shows.")
	case StepPropose:
		fmt.Fprintf(&b, "\nAnalysis:\n%s\n", state.Analysis)
		if len(state.ValidationIssues) > 0 {
			fmt.Fprintf(&b, "\nThe previous proposal was rejected:\n- %s\n", strings.Join(state.ValidationIssues, "\n- "))
		}
		b.WriteString("\nPropose the concrete changes to make. Every step must name a specific file or function.")
	case StepReview:
		fmt.Fprintf(&b, "\nAnalysis:\n%s\n\nProposal:\n%s\n", state.Analysis, state.Proposal)
		b.WriteString("\nReview the proposal. Point out risks, gaps, and refinements, anchored to the referenced files.")
	case StepFinalize:
		fmt.Fprintf(&b, "\nAnalysis:\n%s\n\nProposal:\n%s\n\nReview:\n%s\n", state.Analysis, state.Proposal, state.Review)
		b.WriteString("\nSynthesize the final plan document from the material above: ordered steps, affected files, and open risks.")
	}
	return b.String()
}

func stepMessagePrefix(step Step, lang Language) string {
	if lang == LanguageVietnamese {
		switch step {
		case StepAnalyze:
			return "[Agent A - Phân tích]"
		case StepPropose:
			return "[Agent A - Đề xuất]"
		case StepReview:
			return "[Agent B - Xem xét]"
		case StepFinalize:
			return "[Kế hoạch cuối cùng]"
		}
	}
	switch step {
	case StepAnalyze:
		return "[Agent A - Analysis]"
	case StepPropose:
		return "[Agent A - Proposal]"
	case StepReview:
		return "[Agent B - Review]"
	case StepFinalize:
		return "[Final Plan]"
	}
	return "[" + string(step) + "]"
}

func validationPassedNotice(lang Language) string {
	if lang == LanguageVietnamese {
		return "[Kiểm tra]\n\n✅ Đề xuất đã qua kiểm tra. Chờ bạn phê duyệt để lập kế hoạch cuối cùng."
	}
	return "[Validation]\n\n✅ Proposal validated. Awaiting your approval to finalize the plan."
}

func validationRetryNotice(lang Language, issues []string) string {
	list := "- " + strings.Join(issues, "\n- ")
	if lang == LanguageVietnamese {
		return "[Kiểm tra]\n\n⚠️ Cần điều chỉnh:\n" + list
	}
	return "[Validation]\n\n⚠️ Needs adjustment:\n" + list
}

func validationParkedNotice(lang Language, issues []string) string {
	list := "- " + strings.Join(issues, "\n- ")
	if lang == LanguageVietnamese {
		return "[Kiểm tra]\n\n⛔ Đã hết số lần thử lại tự động. Cần hướng dẫn của bạn:\n" + list
	}
	return "[Validation]\n\n⛔ Automatic retries exhausted. Manual guidance required:\n" + list
}

func approvalAck(lang Language) string {
	if lang == LanguageVietnamese {
		return "✅ Đã phê duyệt. Đang chuẩn bị kế hoạch cuối cùng."
	}
	return "✅ Approved. Preparing the final plan."
}

func modificationAck(lang Language, step Step) string {
	if lang == LanguageVietnamese {
		return fmt.Sprintf("✅ Đã nhận phản hồi. Sẽ quay lại bước '%s' với thông tin mới.", step)
	}
	return fmt.Sprintf("✅ Feedback received. Going back to the '%s' step with the new information.", step)
}

func foldAck(lang Language) string {
	if lang == LanguageVietnamese {
		return "✅ Đã nhận góp ý. Tiếp tục với bước hiện tại."
	}
	return "✅ Input received. Continuing with the current step."
}

func restartAck(lang Language) string {
	if lang == LanguageVietnamese {
		return "✅ Đã nhận góp ý. Bắt đầu vòng thảo luận mới với context đầy đủ."
	}
	return "✅ Input received. Starting a new discussion round with the full context."
}

func completionNotice(lang Language) string {
	if lang == LanguageVietnamese {
		return "✅ Kế hoạch đã hoàn thành. Bạn có thể bắt đầu thực hiện hoặc yêu cầu điều chỉnh."
	}
	return "✅ Planning completed. You can start implementation or request modifications."
}

func stepFailureNote(lang Language, step Step, err error) string {
	if lang == LanguageVietnamese {
		return fmt.Sprintf("❌ Lỗi khi thực hiện bước '%s': %v. Bước này chưa được tiến hành; gửi tin nhắn để thử lại.", step, err)
	}
	return fmt.Sprintf("❌ Planning step '%s' failed: %v. The step was not advanced; send a message to retry.", step, err)
}

func integrityNote(lang Language, err error) string {
	if lang == LanguageVietnamese {
		return fmt.Sprintf("⛔ Quy trình gặp trạng thái không hợp lệ: %v. Quy trình đã tạm dừng; gửi 'stop' để kết thúc hoặc gửi góp ý để tiếp tục.", err)
	}
	return fmt.Sprintf("⛔ The workflow hit an inconsistent state: %v. It is parked; send 'stop' to end the session or new input to continue.", err)
}

// planSummary renders the stop-requested terminal summary from whatever
// artifacts exist so far.
func planSummary(state PlanningState) string {
	files := "- (none identified)"
	if len(state.IdentifiedFiles) > 0 {
		files = "- " + strings.Join(state.IdentifiedFiles, "\n- ")
	}
	if state.Language == LanguageVietnamese {
		return fmt.Sprintf(`## 📋 Tóm tắt kế hoạch

### Yêu cầu ban đầu:
%s

### Phân tích (Agent A):
%s

### Đề xuất (Agent A):
%s

### Xem xét (Agent B):
%s

### File liên quan:
%s

---
⛔ Kế hoạch đã dừng theo yêu cầu.`,
			state.Request,
			artifactOr(state.Analysis, "Chưa hoàn thành"),
			artifactOr(state.Proposal, "Chưa hoàn thành"),
			artifactOr(state.Review, "Chưa hoàn thành"),
			files)
	}
	return fmt.Sprintf(`## 📋 Plan Summary

### Original Request:
%s

### Analysis (Agent A):
%s

### Proposal (Agent A):
%s

### Review (Agent B):
%s

### Related Files:
%s

---
⛔ Planning stopped as requested.`,
		state.Request,
		artifactOr(state.Analysis, "Not completed"),
		artifactOr(state.Proposal, "Not completed"),
		artifactOr(state.Review, "Not completed"),
		files)
}

// artifactOr truncates long artifacts for the summary and substitutes a
// placeholder for steps that never ran.
func artifactOr(text, placeholder string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return placeholder
	}
	runes := []rune(trimmed)
	if len(runes) > 500 {
		return string(runes[:500]) + "…"
	}
	return trimmed
}
