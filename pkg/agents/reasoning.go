package agents

import (
	"context"
	"fmt"
	"strings"

	"magentic/pkg/contextmgr"
	"magentic/pkg/llm"
	"magentic/pkg/logx"
)

// ReasoningAgent is a plain LLM chat agent. Each invocation appends to the
// agent's conversation context and sends the accumulated exchange to the
// model.
type ReasoningAgent struct {
	name        string
	description string
	client      llm.Client
	history     *contextmgr.Manager
	logger      *logx.Logger
}

// NewReasoningAgent creates a reasoning agent backed by client. promptBudget
// bounds the conversation context in tokens; 0 disables compaction.
func NewReasoningAgent(name, description string, client llm.Client, promptBudget int) *ReasoningAgent {
	return &ReasoningAgent{
		name:        name,
		description: description,
		client:      client,
		history:     contextmgr.NewManager(promptBudget),
		logger:      logx.NewLogger("agent:" + name),
	}
}

// Name returns the agent's roster name.
func (a *ReasoningAgent) Name() string { return a.name }

// Invoke sends the input plus accumulated history to the model and records
// the exchange.
func (a *ReasoningAgent) Invoke(ctx context.Context, input string) (string, error) {
	a.history.Compact()

	messages := []llm.Message{llm.SystemMessage(a.systemPrompt())}
	for _, m := range a.history.Messages() {
		messages = append(messages, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	messages = append(messages, llm.UserMessage(input))

	a.logger.Debug("invoking model %s (%d context messages)", a.client.ModelName(), len(messages))
	resp, err := a.client.Complete(ctx, llm.NewRequest(messages))
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", a.name, err)
	}

	a.history.Add(string(llm.RoleUser), input)
	a.history.Add(string(llm.RoleAssistant), resp.Content)
	return resp.Content, nil
}

// Close drops the conversation context.
func (a *ReasoningAgent) Close(_ context.Context) error {
	a.history.Clear()
	return nil
}

func (a *ReasoningAgent) systemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, one agent on a multi-agent team.", a.name)
	if a.description != "" {
		fmt.Fprintf(&b, " Your role: %s.", a.description)
	}
	b.WriteString(" Complete the step you are given and reply with the result only.")
	return b.String()
}
