package dialog

import (
	"time"

	"eligo/app/core/arbiter"
	"eligo/app/pkg/types"
)

// State is the run lifecycle state machine:
// starting -> applicant_turn <-> administrator_turn -> completed | cancelled | error.
type State string

const (
	StateStarting          State = "starting"
	StateApplicantTurn     State = "applicant_turn"
	StateAdministratorTurn State = "administrator_turn"
	StateCompleted         State = "completed"
	StateCancelled         State = "cancelled"
	StateError             State = "error"
)

// Terminal reports whether the run has finished.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateError:
		return true
	}
	return false
}

func turnState(role types.AgentRole) State {
	if role == types.RoleAdministrator {
		return StateAdministratorTurn
	}
	return StateApplicantTurn
}

// Run is one complete execution of the turn-based dialog. Snapshots
// handed out by the registry are deep copies; the orchestrator goroutine
// is the sole writer while the run is live.
type Run struct {
	ID         string             `json:"id"`
	Scenario   string             `json:"scenario"`
	Guidelines types.Guidelines   `json:"guidelines"`
	Facts      types.Facts        `json:"facts"`
	Turns      []types.DialogTurn `json:"turns"`
	State      State              `json:"state"`
	StartedAt  time.Time          `json:"started_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
	Outcome    *arbiter.Outcome   `json:"outcome,omitempty"`
	Error      string             `json:"error,omitempty"`
	DryRun     bool               `json:"dry_run,omitempty"`
}

// FrameType tags one progress frame in a run's stream.
type FrameType string

const (
	FrameStart        FrameType = "start"
	FrameTurnStart    FrameType = "turn_start"
	FrameTurnComplete FrameType = "turn_complete"
	FrameTurnError    FrameType = "turn_error"
	FrameCompletion   FrameType = "completion"
	FrameError        FrameType = "error"
)

// Frame is one element of the finite, strictly ordered progress sequence.
// Exactly one terminal frame (completion or error) ends the sequence.
type Frame struct {
	Type       FrameType                 `json:"type"`
	RunID      string                    `json:"run_id"`
	State      State                     `json:"state,omitempty"`
	Turn       int                       `json:"turn"`
	Role       types.AgentRole           `json:"role,omitempty"`
	Source     types.TurnSource          `json:"source,omitempty"`
	Response   *types.StructuredResponse `json:"response,omitempty"`
	Outcome    *arbiter.Outcome          `json:"outcome,omitempty"`
	TotalTurns int                       `json:"total_turns,omitempty"`
	Error      string                    `json:"error,omitempty"`
	Timestamp  time.Time                 `json:"timestamp"`
}

// Terminal reports whether this frame ends the stream.
func (f Frame) Terminal() bool {
	return f.Type == FrameCompletion || f.Type == FrameError
}
