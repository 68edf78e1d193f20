package agents

import (
	"fmt"

	"magentic/pkg/llm"
	"magentic/pkg/team"
)

// BindingFunc resolves the provider binding (credentials, host) for a
// validated model. Supplied by cmd wiring so this package stays free of
// secret handling.
type BindingFunc func(model string) (llm.ProviderBinding, error)

// Builder constructs agents from team specs. One builder serves all
// sessions; per-session state lives in the agents it returns.
type Builder struct {
	llmFactory   *llm.Factory
	bindFor      BindingFunc
	promptBudget int
}

// NewBuilder creates a builder. promptBudget bounds reasoning-agent context
// in tokens.
func NewBuilder(factory *llm.Factory, bindFor BindingFunc, promptBudget int) *Builder {
	return &Builder{
		llmFactory:   factory,
		bindFor:      bindFor,
		promptBudget: promptBudget,
	}
}

// Build constructs the agent implementation the spec's kind selects. asker
// is used only by proxy agents and may be nil for teams without one.
func (b *Builder) Build(spec *team.AgentSpec, asker Asker) (Agent, error) {
	switch spec.Kind {
	case team.KindProxy:
		if asker == nil {
			return nil, fmt.Errorf("agent %s: proxy agent requires a clarification asker", spec.Name)
		}
		return NewProxyAgent(spec.Name, asker), nil
	case team.KindReasoning:
		client, err := b.newClient(spec)
		if err != nil {
			return nil, err
		}
		return NewReasoningAgent(spec.Name, spec.Description, client, b.promptBudget), nil
	case team.KindFoundry:
		client, err := b.newClient(spec)
		if err != nil {
			return nil, err
		}
		return NewFoundryAgent(spec.Name, spec.Instructions, client), nil
	default:
		return nil, fmt.Errorf("agent %s: unknown kind %q", spec.Name, spec.Kind)
	}
}

func (b *Builder) newClient(spec *team.AgentSpec) (llm.Client, error) {
	binding, err := b.bindFor(spec.Model)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", spec.Name, err)
	}
	client, err := b.llmFactory.NewClient(binding, spec.Model)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", spec.Name, err)
	}
	return client, nil
}
