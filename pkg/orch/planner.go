// Package orch drives one user task from planning through approval to step
// execution, publishing progress on the user's channel. The approval gate is
// the package's center: execution never starts before a human approves the
// plan, and a rejection cancels the task without executing anything.
package orch

import (
	"context"
	"fmt"
	"strings"

	"magentic/pkg/llm"
	"magentic/pkg/logx"
)

// Planner produces the raw bullet-list plan text and supporting facts for a
// task. Implemented by LLMPlanner in production and by fakes in tests.
type Planner interface {
	GeneratePlan(ctx context.Context, task string, roster []string) (planText, facts string, err error)
}

// LLMPlanner asks a model to survey the task and then to lay out a
// bullet-list plan that assigns each step to a team member.
type LLMPlanner struct {
	client llm.Client
	logger *logx.Logger
}

// NewLLMPlanner creates a planner backed by client.
func NewLLMPlanner(client llm.Client) *LLMPlanner {
	return &LLMPlanner{
		client: client,
		logger: logx.NewLogger("planner"),
	}
}

// GeneratePlan runs two completions: one gathering facts about the task,
// one composing the plan from those facts.
func (p *LLMPlanner) GeneratePlan(ctx context.Context, task string, roster []string) (string, string, error) {
	facts, err := p.collectFacts(ctx, task)
	if err != nil {
		return "", "", fmt.Errorf("fact collection failed: %w", err)
	}

	planText, err := p.composePlan(ctx, task, facts, roster)
	if err != nil {
		return "", "", fmt.Errorf("plan composition failed: %w", err)
	}
	return planText, facts, nil
}

func (p *LLMPlanner) collectFacts(ctx context.Context, task string) (string, error) {
	resp, err := p.client.Complete(ctx, llm.NewRequest([]llm.Message{
		llm.SystemMessage("List the given facts, facts to look up, and facts to derive for the task. Be brief."),
		llm.UserMessage(task),
	}))
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (p *LLMPlanner) composePlan(ctx context.Context, task, facts string, roster []string) (string, error) {
	var b strings.Builder
	b.WriteString("Devise a short step-by-step plan for the task below.\n")
	b.WriteString("Write one bullet per step, starting each bullet with the name of the team member who performs it in bold, e.g. \"- **")
	if len(roster) > 0 {
		b.WriteString(roster[0])
	} else {
		b.WriteString("Agent")
	}
	b.WriteString("** does the thing\".\n\nTeam members:\n")
	for _, name := range roster {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	fmt.Fprintf(&b, "\nKnown facts:\n%s\n\nTask: %s\n", facts, task)

	resp, err := p.client.Complete(ctx, llm.NewRequest([]llm.Message{
		llm.SystemMessage("You are the orchestrator of a multi-agent team. Output only the bullet-list plan."),
		llm.UserMessage(b.String()),
	}))
	if err != nil {
		return "", err
	}
	p.logger.Debug("plan text: %d bytes", len(resp.Content))
	return resp.Content, nil
}
