package engine

import "time"

// Step names one node of the planning workflow.
type Step string

const (
	StepAnalyze       Step = "analyze_codebase"
	StepPropose       Step = "propose_changes"
	StepReview        Step = "review_and_refine"
	StepValidate      Step = "validate_proposal"
	StepAwaitApproval Step = "awaiting_approval"
	StepFinalize      Step = "finalize_plan"
	StepCompleted     Step = "completed"
)

// Valid reports whether the step is part of the workflow.
func (s Step) Valid() bool {
	switch s {
	case StepAnalyze, StepPropose, StepReview, StepValidate, StepAwaitApproval, StepFinalize, StepCompleted:
		return true
	}
	return false
}

// PlanningState is the single mutable row a planning session owns. It is
// overwritten in place as steps progress; only the latest attempt per step
// is retained.
type PlanningState struct {
	SessionID string   `json:"session_id"`
	Step      Step     `json:"step"`
	Request   string   `json:"request"`
	Language  Language `json:"language"`

	Snippets        []string `json:"snippets,omitempty"`
	IdentifiedFiles []string `json:"identified_files,omitempty"`

	Analysis string `json:"analysis,omitempty"`
	Proposal string `json:"proposal,omitempty"`
	Review   string `json:"review,omitempty"`

	ValidationPassed bool     `json:"validation_passed"`
	ValidationIssues []string `json:"validation_issues,omitempty"`

	FinalPlan string `json:"final_plan,omitempty"`

	// Revision counts reworks: automatic validate→propose retries and
	// human modification requests. It bounds pathological loops.
	Revision int `json:"revision"`

	UpdatedAt time.Time `json:"updated_at"`
}

// NewPlanningState initializes state for a fresh planning session.
func NewPlanningState(sessionID, request string) PlanningState {
	return PlanningState{
		SessionID: sessionID,
		Step:      StepAnalyze,
		Request:   request,
		Language:  DetectLanguage(request),
		UpdatedAt: time.Now().UTC(),
	}
}
