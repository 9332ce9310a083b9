package responder

import (
	"context"
	"fmt"
	"sync"

	"eligo/app/core/guideline"
	"eligo/app/pkg/types"
)

// Scripted replays a fixed sequence of responses, one per call. Used for
// dry runs and tests; it never touches the network.
type Scripted struct {
	role  types.AgentRole
	steps []types.StructuredResponse

	mu   sync.Mutex
	next int
}

func NewScripted(role types.AgentRole, steps ...types.StructuredResponse) *Scripted {
	return &Scripted{role: role, steps: steps}
}

func (s *Scripted) Respond(ctx context.Context, req types.ResponderRequest) (types.StructuredResponse, error) {
	if err := ctx.Err(); err != nil {
		return types.StructuredResponse{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.steps) {
		return types.StructuredResponse{}, fmt.Errorf("scripted responder for %s exhausted after %d steps", s.role, len(s.steps))
	}
	resp := s.steps[s.next]
	s.next++
	if resp.Role == "" {
		resp.Role = s.role
	}
	if resp.State == "" {
		resp.State = types.PhaseWorking
	}
	return resp, nil
}

// Repeating wraps a single canned response that can be returned forever.
type Repeating struct {
	role types.AgentRole
	resp types.StructuredResponse
}

func NewRepeating(role types.AgentRole, resp types.StructuredResponse) *Repeating {
	resp.Role = role
	if resp.State == "" {
		resp.State = types.PhaseWorking
	}
	return &Repeating{role: role, resp: resp}
}

func (r *Repeating) Respond(ctx context.Context, req types.ResponderRequest) (types.StructuredResponse, error) {
	if err := ctx.Err(); err != nil {
		return types.StructuredResponse{}, err
	}
	return r.resp, nil
}

// Rule answers by running the guideline engine directly and proposing its
// decision. Bound to the administrator role for dry runs, it gives the
// dialog a deterministic counterpart without a language model.
type Rule struct {
	role types.AgentRole
}

func NewRule(role types.AgentRole) *Rule {
	return &Rule{role: role}
}

func (r *Rule) Respond(ctx context.Context, req types.ResponderRequest) (types.StructuredResponse, error) {
	if err := ctx.Err(); err != nil {
		return types.StructuredResponse{}, err
	}
	eval := guideline.EvaluateNow(req.Facts, req.Guidelines)
	return types.StructuredResponse{
		Role:       r.role,
		State:      types.PhaseCompleted,
		Message:    eval.Rationale,
		Confidence: eval.Confidence,
		Actions: []types.Action{{
			Kind:      types.ActionProposeDecision,
			Decision:  eval.Decision,
			Rationale: eval.Rationale,
		}},
	}, nil
}

// DryRunSet builds the deterministic responder pair used when a run is
// started with the dryRun option: the applicant presents the recorded
// facts, the administrator proposes the guideline engine's verdict.
func DryRunSet() map[types.AgentRole]types.Responder {
	applicant := NewRepeating(types.RoleApplicant, types.StructuredResponse{
		State:      types.PhaseWorking,
		Message:    "Presenting the recorded facts for evaluation.",
		Confidence: 0.6,
		Actions:    []types.Action{{Kind: types.ActionProvideInfo}},
	})
	return map[types.AgentRole]types.Responder{
		types.RoleApplicant:     applicant,
		types.RoleAdministrator: NewRule(types.RoleAdministrator),
	}
}
