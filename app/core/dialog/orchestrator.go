package dialog

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"eligo/app/core/arbiter"
	"eligo/app/pkg/types"
)

const (
	DefaultMaxTurns       = 8
	DefaultPerTurnTimeout = 8 * time.Second
	DefaultHistoryWindow  = 3
)

// Options bounds one run. Zero values fall back to the defaults above.
type Options struct {
	MaxTurns       int
	PerTurnTimeout time.Duration
	HistoryWindow  int
	DryRun         bool
}

func (o Options) withDefaults() Options {
	if o.MaxTurns <= 0 {
		o.MaxTurns = DefaultMaxTurns
	}
	if o.PerTurnTimeout <= 0 {
		o.PerTurnTimeout = DefaultPerTurnTimeout
	}
	if o.HistoryWindow <= 0 {
		o.HistoryWindow = DefaultHistoryWindow
	}
	return o
}

// ResponderSet binds one responder per dialog role.
type ResponderSet map[types.AgentRole]types.Responder

// StartRequest carries everything needed to launch a run. Guidelines are
// snapshotted into the run; later store updates never affect a live run.
type StartRequest struct {
	Scenario   string
	Facts      types.Facts
	Guidelines types.Guidelines
	Options    Options
}

// Orchestrator drives the turn-taking state machine: applicant and
// administrator strictly alternate, each turn dispatched to the bound
// responder under a per-call timeout, until a turn proposes a decision or
// the turn cap forces completion. Terminal runs (except errors and
// cancellations) are handed to the arbiter for the final outcome.
type Orchestrator struct {
	registry      *Registry
	newResponders func(dryRun bool) ResponderSet
	personas      map[types.AgentRole]string
	onFinish      func(Run)
}

func NewOrchestrator(registry *Registry, newResponders func(dryRun bool) ResponderSet) *Orchestrator {
	return &Orchestrator{
		registry:      registry,
		newResponders: newResponders,
		personas: map[types.AgentRole]string{
			types.RoleApplicant:     "an applicant seeking a screening eligibility decision",
			types.RoleAdministrator: "an administrator applying the screening guidelines",
		},
	}
}

// SetPersona overrides the briefing persona for one role.
func (o *Orchestrator) SetPersona(role types.AgentRole, persona string) {
	if strings.TrimSpace(persona) != "" {
		o.personas[role] = persona
	}
}

// SetFinishHook registers a callback invoked with the final run snapshot
// after every terminal transition (used for audit recording).
func (o *Orchestrator) SetFinishHook(fn func(Run)) {
	o.onFinish = fn
}

// Start registers the run and launches its dialog goroutine, returning
// the initial snapshot. Each run is one sequential unit of work; runs
// execute concurrently and independently.
func (o *Orchestrator) Start(req StartRequest) (Run, error) {
	opts := req.Options.withDefaults()
	responders := o.newResponders(opts.DryRun)
	for _, role := range []types.AgentRole{types.RoleApplicant, types.RoleAdministrator} {
		if responders[role] == nil {
			return Run{}, fmt.Errorf("no responder bound for role %q", role)
		}
	}

	now := time.Now().UTC()
	run := Run{
		ID:         uuid.NewString(),
		Scenario:   strings.TrimSpace(req.Scenario),
		Guidelines: req.Guidelines,
		Facts:      req.Facts,
		State:      StateStarting,
		StartedAt:  now,
		UpdatedAt:  now,
		DryRun:     opts.DryRun,
	}
	// start + (turn_start, turn_complete) per turn + one terminal frame.
	o.registry.Register(run, 2*opts.MaxTurns+2)

	go o.execute(run, opts, responders)
	return o.registry.Get(run.ID)
}

func (o *Orchestrator) execute(run Run, opts Options, responders ResponderSet) {
	id := run.ID
	o.registry.emit(id, Frame{
		Type:      FrameStart,
		RunID:     id,
		State:     StateStarting,
		Timestamp: time.Now().UTC(),
	})

	var turns []types.DialogTurn
	role := types.RoleApplicant

	for i := 0; i < opts.MaxTurns; i++ {
		// Cancellation is cooperative: checked only at turn boundaries.
		if o.registry.cancelPending(id) {
			log.Printf("[Dialog] Run %s cancelled after %d turns", id, len(turns))
			o.registry.finish(id, StateCancelled, nil, "cancelled by request")
			o.registry.emit(id, Frame{
				Type:      FrameError,
				RunID:     id,
				State:     StateCancelled,
				Turn:      len(turns),
				Error:     "run cancelled by request",
				Timestamp: time.Now().UTC(),
			})
			o.finished(id)
			return
		}

		o.registry.setState(id, turnState(role))
		factsCopy := run.Facts
		turn := types.DialogTurn{
			Index:     i,
			Role:      role,
			Timestamp: time.Now().UTC(),
			Source:    types.SourceGenerated,
			Facts:     &factsCopy,
			State:     types.PhaseWorking,
		}
		req := types.ResponderRequest{
			Role:        role,
			Persona:     o.personas[role],
			Facts:       run.Facts,
			Guidelines:  run.Guidelines,
			RecentTurns: recentTurns(turns, opts.HistoryWindow),
		}
		req.Context = contextMessage(run, req)
		turn.Request = req.Context

		o.registry.emit(id, Frame{
			Type:      FrameTurnStart,
			RunID:     id,
			State:     turnState(role),
			Turn:      i,
			Role:      role,
			Source:    turn.Source,
			Timestamp: time.Now().UTC(),
		})

		ctx, cancel := context.WithTimeout(context.Background(), opts.PerTurnTimeout)
		resp, err := responders[role].Respond(ctx, req)
		cancel()
		if err != nil {
			// No retry at this layer; retries belong to the responder.
			turn.State = types.PhaseError
			turn.Error = err.Error()
			o.registry.appendTurn(id, turn)
			log.Printf("[Dialog] Run %s turn %d (%s) failed: %v", id, i, role, err)
			o.registry.finish(id, StateError, nil, err.Error())
			o.registry.emit(id, Frame{
				Type:      FrameTurnError,
				RunID:     id,
				Turn:      i,
				Role:      role,
				Error:     err.Error(),
				Timestamp: time.Now().UTC(),
			})
			o.registry.emit(id, Frame{
				Type:      FrameError,
				RunID:     id,
				State:     StateError,
				Turn:      i,
				Error:     err.Error(),
				Timestamp: time.Now().UTC(),
			})
			o.finished(id)
			return
		}

		turn.Response = &resp
		turn.State = resp.State
		if turn.State == "" {
			turn.State = types.PhaseCompleted
		}
		turns = append(turns, turn)
		o.registry.appendTurn(id, turn)

		o.registry.emit(id, Frame{
			Type:      FrameTurnComplete,
			RunID:     id,
			Turn:      i,
			Role:      role,
			Response:  &resp,
			Timestamp: time.Now().UTC(),
		})

		if resp.HasProposal() {
			break
		}
		role = role.Other()
	}

	// Completed, either by a proposal-bearing turn or by the turn cap.
	// The arbiter handles the no-proposal case itself.
	outcome := arbiter.DetermineOutcome(turns, run.Guidelines)
	o.registry.finish(id, StateCompleted, &outcome, "")
	log.Printf("[Dialog] Run %s completed: decision=%s method=%s turns=%d",
		id, outcome.Decision, outcome.Method, len(turns))
	o.registry.emit(id, Frame{
		Type:       FrameCompletion,
		RunID:      id,
		State:      StateCompleted,
		Turn:       len(turns) - 1,
		Outcome:    &outcome,
		TotalTurns: len(turns),
		Timestamp:  time.Now().UTC(),
	})
	o.finished(id)
}

func (o *Orchestrator) finished(id string) {
	if o.onFinish == nil {
		return
	}
	if run, err := o.registry.Get(id); err == nil {
		o.onFinish(run)
	}
}

func recentTurns(turns []types.DialogTurn, window int) []types.DialogTurn {
	if window <= 0 || len(turns) <= window {
		return append([]types.DialogTurn(nil), turns...)
	}
	return append([]types.DialogTurn(nil), turns[len(turns)-window:]...)
}

// contextMessage renders the per-turn briefing: the shared facts, the
// guideline thresholds, and the tail of the dialog so far.
func contextMessage(run Run, req types.ResponderRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the %s in a screening eligibility dialog", req.Role)
	if run.Scenario != "" {
		fmt.Fprintf(&b, " (scenario: %s)", run.Scenario)
	}
	b.WriteString(".\n\nSubject facts:\n")
	fmt.Fprintf(&b, "- sex: %s\n", orUnset(string(req.Facts.Sex)))
	fmt.Fprintf(&b, "- birth date: %s\n", orUnset(req.Facts.BirthDate))
	fmt.Fprintf(&b, "- last screening: %s\n", orUnset(req.Facts.LastEventDate))

	g := req.Guidelines
	b.WriteString("\nGuidelines:\n")
	fmt.Fprintf(&b, "- version: %s\n", g.Version)
	fmt.Fprintf(&b, "- age range: %d-%d\n", g.AgeRange.Min, g.AgeRange.Max)
	fmt.Fprintf(&b, "- screening interval: %d months\n", g.IntervalMonths)
	fmt.Fprintf(&b, "- applies to: %s\n", g.SexRequired)
	fmt.Fprintf(&b, "- no-history policy: %s\n", g.NoHistoryPolicy)

	if len(req.RecentTurns) > 0 {
		b.WriteString("\nRecent turns:\n")
		for _, turn := range req.RecentTurns {
			if turn.Response == nil {
				continue
			}
			fmt.Fprintf(&b, "%d %s: %s\n", turn.Index, turn.Role, turn.Response.Message)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func orUnset(v string) string {
	if strings.TrimSpace(v) == "" {
		return "(not recorded)"
	}
	return v
}
