package agents

import (
	"context"
	"fmt"

	"magentic/pkg/llm"
	"magentic/pkg/logx"
)

// FoundryAgent is an LLM agent primed with a per-agent instruction preamble
// from the team configuration. Unlike ReasoningAgent it is stateless across
// invocations; each step is answered against the instructions alone.
type FoundryAgent struct {
	name         string
	instructions string
	client       llm.Client
	logger       *logx.Logger
}

// NewFoundryAgent creates a foundry agent with the given instruction
// preamble.
func NewFoundryAgent(name, instructions string, client llm.Client) *FoundryAgent {
	return &FoundryAgent{
		name:         name,
		instructions: instructions,
		client:       client,
		logger:       logx.NewLogger("agent:" + name),
	}
}

// Name returns the agent's roster name.
func (a *FoundryAgent) Name() string { return a.name }

// Invoke answers one step against the agent's instruction preamble.
func (a *FoundryAgent) Invoke(ctx context.Context, input string) (string, error) {
	system := fmt.Sprintf("You are %s, one agent on a multi-agent team.", a.name)
	if a.instructions != "" {
		system += "\n\n" + a.instructions
	}

	a.logger.Debug("invoking model %s", a.client.ModelName())
	resp, err := a.client.Complete(ctx, llm.NewRequest([]llm.Message{
		llm.SystemMessage(system),
		llm.UserMessage(input),
	}))
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", a.name, err)
	}
	return resp.Content, nil
}

// Close is a no-op; foundry agents hold no per-session state.
func (a *FoundryAgent) Close(_ context.Context) error { return nil }
