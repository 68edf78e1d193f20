package orch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"magentic/pkg/agents"
	"magentic/pkg/plan"
	"magentic/pkg/proto"
	"magentic/pkg/session"
)

// execute runs the approved plan's steps strictly in order, routing each to
// its resolved agent. A step failure fails the task; remaining steps are
// not attempted.
func (m *Manager) execute(ctx context.Context, sess *session.Session, mplan *plan.MPlan) (string, error) {
	var lastResult string
	for i := range mplan.Steps {
		step := &mplan.Steps[i]
		agent := m.agentForStep(sess, step.Agent)
		if agent == nil {
			step.Status = plan.StepStatusFailed
			m.recordStep(mplan, i, step)
			return "", fmt.Errorf("step %d: no agent available for %q", i+1, step.Agent)
		}

		step.Status = plan.StepStatusRunning
		m.publishStepUpdate(mplan, i, step)

		started := time.Now()
		input := m.stepInput(mplan, i, lastResult)
		result, err := agent.Invoke(ctx, input)
		if m.recorder != nil {
			status := string(plan.StepStatusCompleted)
			if err != nil {
				status = string(plan.StepStatusFailed)
			}
			m.recorder.ObserveStep(agent.Name(), status, time.Since(started))
			m.recorder.ObserveTokens(agent.Name(), m.tokens.Count(input), m.tokens.Count(result))
		}
		if err != nil {
			step.Status = plan.StepStatusFailed
			step.Result = err.Error()
			m.recordStep(mplan, i, step)
			m.publishStepUpdate(mplan, i, step)
			return "", fmt.Errorf("step %d (%s) failed: %w", i+1, agent.Name(), err)
		}

		step.Status = plan.StepStatusCompleted
		step.Result = result
		lastResult = result
		m.recordStep(mplan, i, step)
		m.publishStepUpdate(mplan, i, step)

		message := proto.NewEvent(proto.EventTypeAgentMessage, mplan.UserID)
		message.SetPayload("agent", agent.Name())
		message.SetPayload("text", result)
		m.publisher.Publish(message)
	}
	return lastResult, nil
}

// agentForStep resolves a step's agent. Steps the parser could not attribute
// carry the fallback identifier; those are routed to the first non-proxy
// team member so an unattributed step still executes.
func (m *Manager) agentForStep(sess *session.Session, name string) agents.Agent {
	if agent, ok := sess.Agent(name); ok {
		return agent
	}
	for _, candidate := range sess.Roster() {
		if strings.EqualFold(candidate, sess.Team.ProxyName()) {
			continue
		}
		if agent, ok := sess.Agent(candidate); ok {
			return agent
		}
	}
	return nil
}

// stepInput composes the prompt for one step: the original task, the
// previous step's result, and the action itself.
func (m *Manager) stepInput(mplan *plan.MPlan, i int, lastResult string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall task: %s\n", mplan.UserRequest)
	if mplan.Facts != "" {
		fmt.Fprintf(&b, "\nKnown facts:\n%s\n", mplan.Facts)
	}
	if lastResult != "" {
		fmt.Fprintf(&b, "\nResult of the previous step:\n%s\n", lastResult)
	}
	fmt.Fprintf(&b, "\nYour step (%d of %d): %s", i+1, len(mplan.Steps), mplan.Steps[i].Action)
	return b.String()
}

func (m *Manager) recordStep(mplan *plan.MPlan, i int, step *plan.MStep) {
	if m.store == nil {
		return
	}
	if err := m.store.UpdateStep(mplan.ID, i, step.Status, step.Result); err != nil {
		m.logger.Error("failed to record step %d of plan %s: %v", i, mplan.ID, err)
	}
}

func (m *Manager) publishStepUpdate(mplan *plan.MPlan, i int, step *plan.MStep) {
	event := proto.NewEvent(proto.EventTypeStepUpdate, mplan.UserID)
	event.SetPayload("plan_id", mplan.ID)
	event.SetPayload("position", i)
	event.SetPayload("agent", step.Agent)
	event.SetPayload("action", step.Action)
	event.SetPayload("status", string(step.Status))
	if step.Result != "" {
		event.SetPayload("result", step.Result)
	}
	m.publisher.Publish(event)
}
