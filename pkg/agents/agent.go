// Package agents defines the agent capability surface and its concrete
// implementations: LLM-backed reasoning and foundry agents, and the proxy
// agent that relays clarification questions to the human user. It also holds
// the process-wide registry used for best-effort shutdown cleanup.
package agents

import "context"

// Agent is one member of a team. Invoke produces exactly one output message
// for one input message; Close releases whatever the agent holds. Both honor
// context cancellation.
type Agent interface {
	Name() string
	Invoke(ctx context.Context, input string) (string, error)
	Close(ctx context.Context) error
}
