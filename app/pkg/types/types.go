package types

import (
	"context"
	"encoding/json"
	"time"
)

// AgentRole identifies one of the two dialog participants.
type AgentRole string

const (
	RoleApplicant     AgentRole = "applicant"
	RoleAdministrator AgentRole = "administrator"
)

// Other returns the opposite role. Dialog turns strictly alternate.
func (r AgentRole) Other() AgentRole {
	if r == RoleApplicant {
		return RoleAdministrator
	}
	return RoleApplicant
}

func (r AgentRole) Valid() bool {
	return r == RoleApplicant || r == RoleAdministrator
}

// Decision is the closed set of eligibility outcomes.
type Decision string

const (
	DecisionEligible      Decision = "eligible"
	DecisionNeedsMoreInfo Decision = "needs-more-info"
	DecisionIneligible    Decision = "ineligible"
)

func (d Decision) Valid() bool {
	switch d {
	case DecisionEligible, DecisionNeedsMoreInfo, DecisionIneligible:
		return true
	}
	return false
}

// Decisions lists every Decision variant, for exhaustive validation.
func Decisions() []Decision {
	return []Decision{DecisionEligible, DecisionNeedsMoreInfo, DecisionIneligible}
}

// ConservatismRank orders decisions most conservative first:
// needs-more-info > ineligible > eligible.
func ConservatismRank(d Decision) int {
	switch d {
	case DecisionNeedsMoreInfo:
		return 3
	case DecisionIneligible:
		return 2
	case DecisionEligible:
		return 1
	}
	return 0
}

// PriorityRank orders decisions by action priority:
// eligible > needs-more-info > ineligible.
func PriorityRank(d Decision) int {
	switch d {
	case DecisionEligible:
		return 3
	case DecisionNeedsMoreInfo:
		return 2
	case DecisionIneligible:
		return 1
	}
	return 0
}

// MoreConservative returns the safer of two decisions.
func MoreConservative(a, b Decision) Decision {
	if ConservatismRank(a) >= ConservatismRank(b) {
		return a
	}
	return b
}

// Sex is the demographic field the guideline sex check matches against.
type Sex string

const (
	SexMale    Sex = "male"
	SexFemale  Sex = "female"
	SexUnknown Sex = "unknown"
)

// Facts is the structured input describing the subject under evaluation.
// Dates are kept as strings so that malformed upstream values surface as
// an explicit "invalid" check status instead of failing at decode time.
// Immutable once attached to a run.
type Facts struct {
	Sex           Sex                    `json:"sex,omitempty"`
	BirthDate     string                 `json:"birth_date,omitempty"`
	LastEventDate string                 `json:"last_event_date,omitempty"`
	Extra         map[string]interface{} `json:"extra,omitempty"`
}

// AgeRange is an inclusive whole-year age window.
type AgeRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Guidelines is the versioned configuration driving the rule engine.
// Replaced atomically via the store's validating put, never patched.
type Guidelines struct {
	Version         string              `json:"version"`
	AgeRange        AgeRange            `json:"age_range"`
	IntervalMonths  int                 `json:"interval_months"`
	SexRequired     Sex                 `json:"sex_required"`
	NoHistoryPolicy Decision            `json:"no_history_policy"`
	Rationales      map[Decision]string `json:"rationales"`
}

// DefaultGuidelines returns the built-in screening configuration seeded
// into a fresh store under the "default" version key.
func DefaultGuidelines() Guidelines {
	return Guidelines{
		Version:         "default",
		AgeRange:        AgeRange{Min: 50, Max: 74},
		IntervalMonths:  24,
		SexRequired:     SexFemale,
		NoHistoryPolicy: DecisionNeedsMoreInfo,
		Rationales: map[Decision]string{
			DecisionEligible:      "All screening guideline checks passed.",
			DecisionNeedsMoreInfo: "Screening history is incomplete; more information is required.",
			DecisionIneligible:    "Subject does not meet the screening guideline criteria.",
		},
	}
}

// ActionKind tags the closed set of dialog actions.
type ActionKind string

const (
	ActionRequestInfo          ActionKind = "request_info"
	ActionRequestDocs          ActionKind = "request_docs"
	ActionProvideInfo          ActionKind = "provide_info"
	ActionRequestClarification ActionKind = "request_clarification"
	ActionProposeDecision      ActionKind = "propose_decision"
	ActionAcceptDecision       ActionKind = "accept_decision"

	// ActionUnknown preserves an unrecognized kind with its raw payload.
	// Unknown actions are carried through untouched and ignored by
	// proposal extraction.
	ActionUnknown ActionKind = "unknown"
)

// Action is one tagged variant in a structured response. Only the fields
// matching the kind are populated.
type Action struct {
	Kind      ActionKind             `json:"kind"`
	Fields    []string               `json:"fields,omitempty"`    // request_info
	Items     []string               `json:"items,omitempty"`     // request_docs
	Data      map[string]interface{} `json:"data,omitempty"`      // provide_info
	Question  string                 `json:"question,omitempty"`  // request_clarification
	Decision  Decision               `json:"decision,omitempty"`  // propose_decision, accept_decision
	Rationale string                 `json:"rationale,omitempty"` // propose_decision
	Name      string                 `json:"name,omitempty"`      // original kind for unknown actions
	Raw       json.RawMessage        `json:"raw,omitempty"`       // original payload for unknown actions
}

// IsProposal reports whether the action carries a decision proposal.
func (a Action) IsProposal() bool {
	return a.Kind == ActionProposeDecision || a.Kind == ActionAcceptDecision
}

// TurnPhase is the responder-reported state of a single turn.
type TurnPhase string

const (
	PhaseWorking       TurnPhase = "working"
	PhaseInputRequired TurnPhase = "input-required"
	PhaseCompleted     TurnPhase = "completed"
	PhaseError         TurnPhase = "error"
)

// StructuredResponse is one role's turn content as returned by a Responder.
type StructuredResponse struct {
	Role       AgentRole `json:"role"`
	State      TurnPhase `json:"state"`
	Message    string    `json:"message"`
	Actions    []Action  `json:"actions,omitempty"`
	Confidence float64   `json:"confidence"`
}

// HasProposal reports whether any action proposes or accepts a decision.
func (r StructuredResponse) HasProposal() bool {
	for _, a := range r.Actions {
		if a.IsProposal() {
			return true
		}
	}
	return false
}

// TurnSource records how a turn's content was produced.
type TurnSource string

const (
	SourceGenerated TurnSource = "generated"
	SourceExternal  TurnSource = "external"
	SourceSystem    TurnSource = "system"
)

// DialogTurn is one completed (or failed) exchange in a run. Created by
// the orchestrator before dispatch, written once with the responder's
// result, never deleted. Owned exclusively by its run.
type DialogTurn struct {
	Index     int                 `json:"index"`
	Role      AgentRole           `json:"role"`
	Timestamp time.Time           `json:"timestamp"`
	Source    TurnSource          `json:"source"`
	Request   string              `json:"request,omitempty"`
	Facts     *Facts              `json:"facts,omitempty"`
	Response  *StructuredResponse `json:"response,omitempty"`
	State     TurnPhase           `json:"state"`
	Error     string              `json:"error,omitempty"`
}

// Proposal is a role's suggested final decision extracted from one turn.
type Proposal struct {
	TurnIndex  int        `json:"turn_index"`
	Role       AgentRole  `json:"role"`
	Decision   Decision   `json:"decision"`
	Rationale  string     `json:"rationale,omitempty"`
	Confidence float64    `json:"confidence"`
	Timestamp  time.Time  `json:"timestamp"`
	Source     TurnSource `json:"source"`
}

// ResponderRequest is the shared context handed to a role's responder for
// one turn. Context is the orchestrator-rendered turn briefing; responders
// that talk to a language model use it as the user message.
type ResponderRequest struct {
	Role        AgentRole
	Persona     string
	Context     string
	Facts       Facts
	Guidelines  Guidelines
	RecentTurns []DialogTurn
}

// Responder produces one role's turn content. Implementations own their
// retry policy; the orchestrator never retries a failed call.
type Responder interface {
	Respond(ctx context.Context, req ResponderRequest) (StructuredResponse, error)
}

// FactsProvider resolves an external subject identifier to Facts.
type FactsProvider interface {
	Fetch(ctx context.Context, subjectID string) (Facts, error)
}
