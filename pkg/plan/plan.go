// Package plan defines the structured plan model and the parser that turns
// bullet-formatted planner output into ordered agent/action steps.
package plan

import (
	"time"

	"github.com/google/uuid"

	"magentic/pkg/proto"
)

// FallbackAgent is the reserved agent name used when a bullet resolves to no
// roster member. Downstream execution must treat it as schedulable.
const FallbackAgent = "MagenticAgent"

// StepStatus tracks per-step execution progress.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// MStep is one agent/action pair in a plan. Action is never blank; bullets
// that reduce to an empty action are dropped during parsing.
type MStep struct {
	Agent  string     `json:"agent"`
	Action string     `json:"action"`
	Status StepStatus `json:"status"`
	Result string     `json:"result,omitempty"`
}

// MPlan identifies one orchestration run. Steps are immutable once execution
// begins except for in-place Status/Result mutation.
type MPlan struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	TeamID        string           `json:"team_id"`
	OverallStatus proto.PlanStatus `json:"overall_status"`
	UserRequest   string           `json:"user_request"`
	Team          []string         `json:"team"`
	Facts         string           `json:"facts"`
	Steps         []MStep          `json:"steps"`
	CreatedAt     time.Time        `json:"created_at"`
}

// NewMPlan creates an empty plan in the created state.
func NewMPlan(userID, teamID, userRequest, facts string, team []string) *MPlan {
	roster := make([]string, len(team))
	copy(roster, team)
	return &MPlan{
		ID:            uuid.New().String(),
		UserID:        userID,
		TeamID:        teamID,
		OverallStatus: proto.PlanStatusCreated,
		UserRequest:   userRequest,
		Team:          roster,
		Facts:         facts,
		CreatedAt:     time.Now().UTC(),
	}
}

// AgentNames returns the distinct agent names referenced by the plan's steps,
// in first-appearance order.
func (p *MPlan) AgentNames() []string {
	seen := make(map[string]bool, len(p.Steps))
	var names []string
	for i := range p.Steps {
		if !seen[p.Steps[i].Agent] {
			seen[p.Steps[i].Agent] = true
			names = append(names, p.Steps[i].Agent)
		}
	}
	return names
}
