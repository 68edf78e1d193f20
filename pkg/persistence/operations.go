package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"magentic/pkg/plan"
	"magentic/pkg/proto"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store executes all plan/step/team queries against one database handle.
type Store struct {
	db *sql.DB
}

// NewStore wraps an opened database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// SavePlan persists a plan and its steps in one transaction, replacing any
// previous rows for the same plan id. Plans are saved once approved.
func (s *Store) SavePlan(p *plan.MPlan) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO plans (id, user_id, team_id, status, user_request, facts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			facts = excluded.facts
	`, p.ID, p.UserID, p.TeamID, p.OverallStatus.String(), p.UserRequest, p.Facts, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert plan %s: %w", p.ID, err)
	}

	if _, err := tx.Exec(`DELETE FROM plan_steps WHERE plan_id = ?`, p.ID); err != nil {
		return fmt.Errorf("failed to clear steps for plan %s: %w", p.ID, err)
	}
	for i := range p.Steps {
		step := &p.Steps[i]
		_, err := tx.Exec(`
			INSERT INTO plan_steps (plan_id, position, agent, action, status, result)
			VALUES (?, ?, ?, ?, ?, ?)
		`, p.ID, i, step.Agent, step.Action, string(step.Status), step.Result)
		if err != nil {
			return fmt.Errorf("failed to insert step %d of plan %s: %w", i, p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit plan %s: %w", p.ID, err)
	}
	return nil
}

// UpdatePlanStatus moves a plan to status, stamping completed_at when the
// status is terminal.
func (s *Store) UpdatePlanStatus(planID string, status proto.PlanStatus) error {
	var completedAt any
	if status.IsTerminal() {
		completedAt = time.Now().UTC()
	}
	res, err := s.db.Exec(`
		UPDATE plans SET status = ?, completed_at = COALESCE(?, completed_at)
		WHERE id = ?
	`, status.String(), completedAt, planID)
	if err != nil {
		return fmt.Errorf("failed to update plan %s status: %w", planID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	return nil
}

// UpdateStep mutates one step's status and result in place.
func (s *Store) UpdateStep(planID string, position int, status plan.StepStatus, result string) error {
	res, err := s.db.Exec(`
		UPDATE plan_steps SET status = ?, result = ?
		WHERE plan_id = ? AND position = ?
	`, string(status), result, planID, position)
	if err != nil {
		return fmt.Errorf("failed to update step %d of plan %s: %w", position, planID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("step %d of plan %s: %w", position, planID, ErrNotFound)
	}
	return nil
}

// GetPlan loads a plan with its steps in position order.
func (s *Store) GetPlan(planID string) (*plan.MPlan, error) {
	p := &plan.MPlan{ID: planID}
	var status string
	err := s.db.QueryRow(`
		SELECT user_id, team_id, status, user_request, facts, created_at
		FROM plans WHERE id = ?
	`, planID).Scan(&p.UserID, &p.TeamID, &status, &p.UserRequest, &p.Facts, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plan %s: %w", planID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load plan %s: %w", planID, err)
	}
	parsed, err := proto.ParsePlanStatus(status)
	if err != nil {
		return nil, fmt.Errorf("plan %s has invalid status: %w", planID, err)
	}
	p.OverallStatus = parsed

	rows, err := s.db.Query(`
		SELECT agent, action, status, result
		FROM plan_steps WHERE plan_id = ? ORDER BY position
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("failed to load steps of plan %s: %w", planID, err)
	}
	defer rows.Close()
	for rows.Next() {
		var step plan.MStep
		var stepStatus string
		if err := rows.Scan(&step.Agent, &step.Action, &stepStatus, &step.Result); err != nil {
			return nil, fmt.Errorf("failed to scan step of plan %s: %w", planID, err)
		}
		step.Status = plan.StepStatus(stepStatus)
		p.Steps = append(p.Steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate steps of plan %s: %w", planID, err)
	}
	return p, nil
}

// PlanSummary is one row of a user's plan history.
type PlanSummary struct {
	ID          string
	Status      proto.PlanStatus
	UserRequest string
	CreatedAt   time.Time
	StepCount   int
}

// ListPlansByUser returns the user's plans, most recent first, up to limit.
func (s *Store) ListPlansByUser(userID string, limit int) ([]PlanSummary, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT p.id, p.status, p.user_request, p.created_at,
			(SELECT COUNT(*) FROM plan_steps ps WHERE ps.plan_id = p.id)
		FROM plans p WHERE p.user_id = ?
		ORDER BY p.created_at DESC LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans for user %s: %w", userID, err)
	}
	defer rows.Close()

	var out []PlanSummary
	for rows.Next() {
		var row PlanSummary
		var status string
		if err := rows.Scan(&row.ID, &status, &row.UserRequest, &row.CreatedAt, &row.StepCount); err != nil {
			return nil, fmt.Errorf("failed to scan plan row: %w", err)
		}
		parsed, err := proto.ParsePlanStatus(status)
		if err != nil {
			return nil, fmt.Errorf("plan %s has invalid status: %w", row.ID, err)
		}
		row.Status = parsed
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate plans for user %s: %w", userID, err)
	}
	return out, nil
}

// SaveTeam stores a team configuration's raw YAML keyed by team id.
func (s *Store) SaveTeam(id, name, configYAML string) error {
	_, err := s.db.Exec(`
		INSERT INTO teams (id, name, config_yaml, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			config_yaml = excluded.config_yaml
	`, id, name, configYAML, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save team %s: %w", id, err)
	}
	return nil
}

// GetTeam returns the stored YAML for a team id.
func (s *Store) GetTeam(id string) (name, configYAML string, err error) {
	err = s.db.QueryRow(`SELECT name, config_yaml FROM teams WHERE id = ?`, id).
		Scan(&name, &configYAML)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", fmt.Errorf("team %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to load team %s: %w", id, err)
	}
	return name, configYAML, nil
}
