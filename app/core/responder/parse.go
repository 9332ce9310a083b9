package responder

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"eligo/app/pkg/types"
)

// ParseStructuredResponse decodes a model's raw output into a structured
// response. Markdown fences are stripped, a missing role or state is
// repaired with the expected values, and unrecognized action kinds are
// preserved as raw variants rather than dropped. Output that is not a
// JSON object at all is a responder error.
func ParseStructuredResponse(role types.AgentRole, raw string) (types.StructuredResponse, error) {
	doc := extractJSON(raw)
	if doc == "" {
		return types.StructuredResponse{}, fmt.Errorf("responder output for %s is not a JSON object", role)
	}

	if !gjson.Get(doc, "role").Exists() {
		doc, _ = sjson.Set(doc, "role", string(role))
	}
	if !gjson.Get(doc, "state").Exists() {
		doc, _ = sjson.Set(doc, "state", string(types.PhaseWorking))
	}

	parsed := gjson.Parse(doc)
	resp := types.StructuredResponse{
		Role:       types.AgentRole(parsed.Get("role").String()),
		State:      types.TurnPhase(parsed.Get("state").String()),
		Message:    parsed.Get("message").String(),
		Confidence: 0.5,
	}
	if !resp.Role.Valid() {
		return types.StructuredResponse{}, fmt.Errorf("responder output names unknown role %q", resp.Role)
	}
	if resp.Role != role {
		return types.StructuredResponse{}, fmt.Errorf("responder for %s answered as %s", role, resp.Role)
	}
	switch resp.State {
	case types.PhaseWorking, types.PhaseInputRequired, types.PhaseCompleted:
	default:
		resp.State = types.PhaseWorking
	}
	if c := parsed.Get("confidence"); c.Exists() {
		resp.Confidence = clamp01(c.Float())
	}

	for _, a := range parsed.Get("actions").Array() {
		resp.Actions = append(resp.Actions, parseAction(a))
	}
	return resp, nil
}

func parseAction(a gjson.Result) types.Action {
	kind := types.ActionKind(a.Get("kind").String())
	switch kind {
	case types.ActionRequestInfo:
		return types.Action{Kind: kind, Fields: stringList(a.Get("fields"))}
	case types.ActionRequestDocs:
		return types.Action{Kind: kind, Items: stringList(a.Get("items"))}
	case types.ActionProvideInfo:
		action := types.Action{Kind: kind}
		if data, ok := a.Get("data").Value().(map[string]interface{}); ok {
			action.Data = data
		}
		return action
	case types.ActionRequestClarification:
		return types.Action{Kind: kind, Question: a.Get("question").String()}
	case types.ActionProposeDecision, types.ActionAcceptDecision:
		decision := types.Decision(a.Get("decision").String())
		if !decision.Valid() {
			// A proposal naming an unknown decision is unusable; keep it
			// as an unrecognized variant for the audit trail.
			return unknownAction(a)
		}
		return types.Action{Kind: kind, Decision: decision, Rationale: a.Get("rationale").String()}
	default:
		return unknownAction(a)
	}
}

func unknownAction(a gjson.Result) types.Action {
	return types.Action{
		Kind: types.ActionUnknown,
		Name: a.Get("kind").String(),
		Raw:  json.RawMessage(a.Raw),
	}
}

func stringList(r gjson.Result) []string {
	var out []string
	for _, item := range r.Array() {
		if s := strings.TrimSpace(item.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// extractJSON locates the outermost JSON object in raw model output,
// tolerating ```json fences and surrounding prose.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	s = s[start : end+1]
	if !gjson.Valid(s) {
		return ""
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
