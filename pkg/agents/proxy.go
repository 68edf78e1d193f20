package agents

import (
	"context"
	"fmt"
	"strings"

	"magentic/pkg/logx"
)

// EmptyAnswerPlaceholder is surfaced when the human submitted an empty
// clarification answer.
const EmptyAnswerPlaceholder = "No answer provided."

// Asker relays a clarification question to the human user and blocks until
// the answer arrives or ctx is done. Implemented by the session layer's
// clarification rendezvous.
type Asker interface {
	Ask(ctx context.Context, question string) (string, error)
}

// ProxyAgent stands in for the human user on a team. Invoking it suspends
// the calling step until the user answers the clarification question.
type ProxyAgent struct {
	name   string
	asker  Asker
	logger *logx.Logger
}

// NewProxyAgent creates a proxy agent that relays questions through asker.
func NewProxyAgent(name string, asker Asker) *ProxyAgent {
	return &ProxyAgent{
		name:   name,
		asker:  asker,
		logger: logx.NewLogger("agent:" + name),
	}
}

// Name returns the agent's roster name.
func (a *ProxyAgent) Name() string { return a.name }

// Invoke asks the human the clarification question composed from input and
// produces exactly one output message carrying the answer.
func (a *ProxyAgent) Invoke(ctx context.Context, input string) (string, error) {
	question := strings.TrimSpace(input)
	if question == "" {
		question = "The team needs your input to continue."
	}

	a.logger.Info("awaiting human clarification")
	answer, err := a.asker.Ask(ctx, question)
	if err != nil {
		return "", fmt.Errorf("agent %s: clarification failed: %w", a.name, err)
	}
	if strings.TrimSpace(answer) == "" {
		answer = EmptyAnswerPlaceholder
	}
	return "Human clarification: " + answer, nil
}

// Close is a no-op. The proxy survives team switches; it holds no model
// resources and its rendezvous entries are owned by the session layer.
func (a *ProxyAgent) Close(_ context.Context) error { return nil }
