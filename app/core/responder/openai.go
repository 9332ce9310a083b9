package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"eligo/app/pkg/types"
)

// LLMSettings configures the chat-completion client backing a role.
type LLMSettings struct {
	Model   string
	BaseURL string
	APIKey  string
}

// OpenAIResponder produces a role's turn by asking a chat model for a
// single JSON object and parsing it tolerantly. One instance serves one
// role; the per-call deadline arrives via the context.
type OpenAIResponder struct {
	role   types.AgentRole
	model  string
	client openai.Client
}

func NewOpenAIResponder(role types.AgentRole, settings LLMSettings) *OpenAIResponder {
	opts := []option.RequestOption{}
	if settings.APIKey != "" {
		opts = append(opts, option.WithAPIKey(settings.APIKey))
	}
	if settings.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(settings.BaseURL))
	}
	return &OpenAIResponder{
		role:   role,
		model:  settings.Model,
		client: openai.NewClient(opts...),
	}
}

func (r *OpenAIResponder) Respond(ctx context.Context, req types.ResponderRequest) (types.StructuredResponse, error) {
	completion, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(r.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(req)),
			openai.UserMessage(req.Context),
		},
		Temperature: openai.Float(0.2),
	})
	if err != nil {
		return types.StructuredResponse{}, fmt.Errorf("chat completion for %s: %w", r.role, err)
	}
	if len(completion.Choices) == 0 {
		return types.StructuredResponse{}, fmt.Errorf("chat completion for %s returned no choices", r.role)
	}
	return ParseStructuredResponse(r.role, completion.Choices[0].Message.Content)
}

func systemPrompt(req types.ResponderRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s.\n", req.Persona)
	b.WriteString("Reply with exactly one JSON object, no prose around it, shaped as:\n")
	b.WriteString(`{"role":"` + string(req.Role) + `","state":"working|input-required|completed",` +
		`"message":"...","confidence":0.0,"actions":[{"kind":"..."}]}` + "\n")
	b.WriteString("Action kinds: request_info{fields}, request_docs{items}, provide_info{data}, " +
		"request_clarification{question}, propose_decision{decision,rationale}, accept_decision{decision}.\n")
	b.WriteString("Decisions: eligible, needs-more-info, ineligible.\n")
	switch req.Role {
	case types.RoleApplicant:
		b.WriteString("Present the subject's case and answer requests for information. " +
			"Propose a decision only when the facts clearly support one.")
	case types.RoleAdministrator:
		b.WriteString("Check the facts against every guideline threshold. " +
			"Request missing information; propose a decision once the checks resolve.")
	}
	return b.String()
}
