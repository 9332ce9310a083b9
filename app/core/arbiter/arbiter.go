package arbiter

import (
	"sort"
	"time"

	"eligo/app/core/guideline"
	"eligo/app/pkg/types"
)

// Method records which tie-break layer produced the final outcome.
type Method string

const (
	MethodDefault              Method = "default"
	MethodGuidelinesAligned    Method = "guidelines-aligned"
	MethodGuidelinesOverride   Method = "guidelines-override"
	MethodConservative         Method = "conservative"
	MethodBestAligned          Method = "best-aligned"
	MethodHighConfidence       Method = "high-confidence"
	MethodPriorityRule         Method = "priority-rule"
	MethodConservativeFallback Method = "conservative-fallback"
)

// Details is the audit bundle attached to every outcome.
type Details struct {
	Guidelines *guideline.EvaluationResult `json:"guidelines,omitempty"`
	Proposals  []types.Proposal            `json:"proposals,omitempty"`
}

// Outcome is the arbiter's final reconciled decision.
type Outcome struct {
	Decision            types.Decision `json:"decision"`
	Rationale           string         `json:"rationale"`
	Confidence          float64        `json:"confidence"`
	Method              Method         `json:"method"`
	GuidelinesDecision  types.Decision `json:"guidelines_decision,omitempty"`
	ProposalsConsidered int            `json:"proposals_considered"`
	Details             *Details       `json:"details,omitempty"`
}

// Extract pulls decision proposals out of completed turns, one per turn
// whose response carries a propose_decision or accept_decision action, in
// turn order. Turns without a response or without such an action are
// skipped, as are proposals naming a decision outside the closed set.
func Extract(turns []types.DialogTurn) []types.Proposal {
	var proposals []types.Proposal
	for _, turn := range turns {
		if turn.Response == nil {
			continue
		}
		for _, action := range turn.Response.Actions {
			if !action.IsProposal() || !action.Decision.Valid() {
				continue
			}
			proposals = append(proposals, types.Proposal{
				TurnIndex:  turn.Index,
				Role:       turn.Role,
				Decision:   action.Decision,
				Rationale:  action.Rationale,
				Confidence: turn.Response.Confidence,
				Timestamp:  turn.Timestamp,
				Source:     turn.Source,
			})
			break
		}
	}
	return proposals
}

// DetermineOutcome reconciles the dialog's proposals against the guideline
// engine using today's date. See DetermineOutcomeAt.
func DetermineOutcome(turns []types.DialogTurn, g types.Guidelines) Outcome {
	return DetermineOutcomeAt(turns, g, time.Now().UTC())
}

// DetermineOutcomeAt never fails: whatever the dialog produced, it returns
// a well-formed outcome, defaulting to needs-more-info at low confidence
// when evidence is insufficient. Safety invariant: the result is never
// eligible while a confident guideline evaluation says ineligible.
func DetermineOutcomeAt(turns []types.DialogTurn, g types.Guidelines, evaluationDate time.Time) Outcome {
	if len(turns) == 0 {
		return Outcome{
			Decision:   types.DecisionNeedsMoreInfo,
			Rationale:  "No dialog turns were recorded.",
			Confidence: 0.1,
			Method:     MethodDefault,
		}
	}

	proposals := Extract(turns)
	if len(proposals) == 0 {
		return Outcome{
			Decision:   types.DecisionNeedsMoreInfo,
			Rationale:  "The dialog produced no decision proposals.",
			Confidence: 0.2,
			Method:     MethodDefault,
		}
	}

	facts := latestFacts(turns)
	gr := guideline.Evaluate(facts, g, evaluationDate)
	details := &Details{Guidelines: &gr, Proposals: proposals}

	var out Outcome
	if len(proposals) == 1 {
		out = reconcileSingle(proposals[0], gr)
	} else {
		out = reconcileMultiple(proposals, gr)
	}
	out.GuidelinesDecision = gr.Decision
	out.ProposalsConsidered = len(proposals)
	out.Details = details
	return out
}

// latestFacts returns the most recent facts snapshot referenced by any
// turn, scanning newest-first. Missing facts degrade to an empty record,
// which the guideline engine reports as incomplete.
func latestFacts(turns []types.DialogTurn) types.Facts {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Facts != nil {
			return *turns[i].Facts
		}
	}
	return types.Facts{}
}

func reconcileSingle(p types.Proposal, gr guideline.EvaluationResult) Outcome {
	if p.Decision == gr.Decision {
		return Outcome{
			Decision:   p.Decision,
			Rationale:  rationaleOf(p, gr),
			Confidence: minFloat(p.Confidence, gr.Confidence),
			Method:     MethodGuidelinesAligned,
		}
	}
	// Conflict: a confident guideline evaluation wins outright.
	if gr.Confidence > 0.7 {
		return Outcome{
			Decision:   gr.Decision,
			Rationale:  gr.Rationale,
			Confidence: gr.Confidence,
			Method:     MethodGuidelinesOverride,
		}
	}
	return Outcome{
		Decision:   types.MoreConservative(p.Decision, gr.Decision),
		Rationale:  "Proposal and guideline evaluation disagree at low confidence; taking the more conservative decision.",
		Confidence: 0.6,
		Method:     MethodConservative,
	}
}

func reconcileMultiple(proposals []types.Proposal, gr guideline.EvaluationResult) Outcome {
	// Layer 1: best aligned proposal.
	var aligned []types.Proposal
	for _, p := range proposals {
		if p.Decision == gr.Decision {
			aligned = append(aligned, p)
		}
	}
	if len(aligned) > 0 {
		best := mostConfident(aligned)
		return Outcome{
			Decision:   best.Decision,
			Rationale:  rationaleOf(best, gr),
			Confidence: minFloat(best.Confidence, gr.Confidence),
			Method:     MethodBestAligned,
		}
	}

	// Layer 2: strongest high-confidence proposal, if safe.
	var strong []types.Proposal
	for _, p := range proposals {
		if p.Confidence > 0.7 {
			strong = append(strong, p)
		}
	}
	if len(strong) > 0 {
		best := mostConfident(strong)
		if isSafe(best.Decision, gr) {
			return Outcome{
				Decision:   best.Decision,
				Rationale:  rationaleOf(best, gr),
				Confidence: best.Confidence,
				Method:     MethodHighConfidence,
			}
		}
	}

	// Layer 3: decision priority order, if safe, with scaled confidence.
	ordered := make([]types.Proposal, len(proposals))
	copy(ordered, proposals)
	sort.SliceStable(ordered, func(i, j int) bool {
		return types.PriorityRank(ordered[i].Decision) > types.PriorityRank(ordered[j].Decision)
	})
	top := ordered[0]
	if isSafe(top.Decision, gr) {
		return Outcome{
			Decision:   top.Decision,
			Rationale:  rationaleOf(top, gr),
			Confidence: top.Confidence * 0.8,
			Method:     MethodPriorityRule,
		}
	}

	return Outcome{
		Decision:   types.DecisionNeedsMoreInfo,
		Rationale:  "Conflicting proposals could not be safely reconciled.",
		Confidence: 0.5,
		Method:     MethodConservativeFallback,
	}
}

// isSafe gates a proposal against the guideline evaluation.
// needs-more-info is always safe to return. A decision that disagrees
// with a guideline evaluation above 0.8 confidence is unsafe, and
// eligible against an ineligible guideline verdict is unsafe at any
// confidence.
func isSafe(d types.Decision, gr guideline.EvaluationResult) bool {
	if d == types.DecisionNeedsMoreInfo {
		return true
	}
	if d == types.DecisionEligible && gr.Decision == types.DecisionIneligible {
		return false
	}
	if gr.Confidence > 0.8 && d != gr.Decision {
		return false
	}
	return true
}

func mostConfident(proposals []types.Proposal) types.Proposal {
	best := proposals[0]
	for _, p := range proposals[1:] {
		if p.Confidence > best.Confidence {
			best = p
		}
	}
	return best
}

func rationaleOf(p types.Proposal, gr guideline.EvaluationResult) string {
	if p.Rationale != "" {
		return p.Rationale
	}
	return gr.Rationale
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
