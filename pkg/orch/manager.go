package orch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"magentic/pkg/channel"
	"magentic/pkg/contextmgr"
	"magentic/pkg/logx"
	"magentic/pkg/metrics"
	"magentic/pkg/persistence"
	"magentic/pkg/plan"
	"magentic/pkg/proto"
	"magentic/pkg/session"
	"magentic/pkg/team"
)

// ErrTaskInFlight is returned when a user submits a task while a previous
// one is still running. One orchestration per user at a time.
var ErrTaskInFlight = errors.New("a task is already running for this user")

// Options configures a Manager.
type Options struct {
	// ApprovalTimeout bounds the approval wait; expiry cancels the task.
	// 0 waits until the submission context is cancelled.
	ApprovalTimeout time.Duration
}

// Manager multiplexes per-user orchestrations: it resolves the user's
// session, plans, gates on human approval, executes the approved steps
// through the team's agents, and publishes exactly one terminal event per
// task.
type Manager struct {
	planner   Planner
	parser    *plan.Parser
	sessions  *session.Store
	publisher channel.Publisher
	store     *persistence.Store // nil disables durability
	recorder  *metrics.Recorder
	tokens    *contextmgr.TokenCounter
	opts      Options
	logger    *logx.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewManager wires a manager. store may be nil to run without durability;
// recorder may be nil to run unmetered.
func NewManager(planner Planner, sessions *session.Store, publisher channel.Publisher,
	store *persistence.Store, recorder *metrics.Recorder, opts Options) *Manager {
	return &Manager{
		planner:   planner,
		parser:    plan.NewParser(),
		sessions:  sessions,
		publisher: publisher,
		store:     store,
		recorder:  recorder,
		tokens:    contextmgr.NewTokenCounter(),
		opts:      opts,
		logger:    logx.NewLogger("orch"),
		inflight:  make(map[string]struct{}),
	}
}

// SubmitTask runs one task end to end: plan, approval gate, execution. It
// blocks until the task reaches a terminal state and returns that state.
// Exactly one terminal event (completed, failed or cancelled) is published
// on the user's channel per call. Concurrent submissions by the same user
// are rejected with ErrTaskInFlight.
func (m *Manager) SubmitTask(ctx context.Context, userID string, cfg *team.Config, taskText string) (proto.PlanStatus, error) {
	if err := m.acquire(userID); err != nil {
		return "", err
	}
	defer m.release(userID)
	return m.runTask(ctx, userID, cfg, taskText)
}

// StartTask reserves the user's single-flight slot synchronously, so a busy
// user is rejected with ErrTaskInFlight before any work begins, then runs
// the task in the background. The terminal outcome arrives on the user's
// channel exactly as with SubmitTask.
func (m *Manager) StartTask(ctx context.Context, userID string, cfg *team.Config, taskText string) error {
	if err := m.acquire(userID); err != nil {
		return err
	}
	go func() {
		defer m.release(userID)
		if _, err := m.runTask(ctx, userID, cfg, taskText); err != nil {
			m.logger.Error("task for user %s failed: %v", userID, err)
		}
	}()
	return nil
}

// runTask executes one task with the single-flight slot already held. Every
// failure path, session construction included, publishes the terminal event.
func (m *Manager) runTask(ctx context.Context, userID string, cfg *team.Config, taskText string) (proto.PlanStatus, error) {
	sess, err := m.sessions.GetOrCreate(ctx, userID, cfg, false)
	if err != nil {
		err = fmt.Errorf("failed to resolve session for user %s: %w", userID, err)
		m.finish(userID, nil, proto.PlanStatusFailed, err.Error())
		return proto.PlanStatusFailed, err
	}
	if m.recorder != nil {
		m.recorder.SetLiveSessions(m.sessions.Len())
	}

	mplan, decision, err := m.planWithApproval(ctx, sess, taskText)
	if err != nil {
		m.finish(userID, mplan, proto.PlanStatusFailed, err.Error())
		return proto.PlanStatusFailed, err
	}

	if decision.Status != proto.ApprovalStatusApproved {
		reason := "plan execution was cancelled"
		if decision.Status == proto.ApprovalStatusExpired {
			reason = "plan approval timed out"
		} else if decision.Feedback != "" {
			reason = fmt.Sprintf("plan execution was cancelled: %s", decision.Feedback)
		}
		m.finish(userID, nil, proto.PlanStatusCancelled, reason)
		return proto.PlanStatusCancelled, nil
	}

	// Plans become durable once approved.
	mplan.OverallStatus = proto.PlanStatusRunning
	if m.store != nil {
		if err := m.store.SavePlan(mplan); err != nil {
			m.logger.Error("failed to persist plan %s: %v", mplan.ID, err)
		}
	}

	result, err := m.execute(ctx, sess, mplan)
	if err != nil {
		m.finish(userID, mplan, proto.PlanStatusFailed, err.Error())
		return proto.PlanStatusFailed, nil
	}
	m.finish(userID, mplan, proto.PlanStatusCompleted, result)
	return proto.PlanStatusCompleted, nil
}

// ApprovePlan delivers an approval decision. Stale or unknown request ids
// are ignored; the return reports whether a pending record was resolved.
func (m *Manager) ApprovePlan(userID, requestID string, approved bool, feedback string) bool {
	return m.sessions.RecordApproval(userID, requestID, approved, feedback)
}

// AnswerClarification delivers a clarification answer. Stale or unknown
// request ids are ignored.
func (m *Manager) AnswerClarification(userID, requestID, answer string) bool {
	delivered := m.sessions.RecordClarificationAnswer(userID, requestID, answer)
	if m.recorder != nil && delivered {
		m.recorder.ObserveClarification("answered")
	}
	return delivered
}

// SwitchTeam replaces the user's session with one built from cfg, closing
// the outgoing team's non-proxy agents first. Rejected while a task is
// running for the user.
func (m *Manager) SwitchTeam(ctx context.Context, userID string, cfg *team.Config) error {
	if err := m.acquire(userID); err != nil {
		return err
	}
	defer m.release(userID)

	if _, err := m.sessions.GetOrCreate(ctx, userID, cfg, true); err != nil {
		return fmt.Errorf("failed to switch team for user %s: %w", userID, err)
	}
	if m.recorder != nil {
		m.recorder.SetLiveSessions(m.sessions.Len())
	}
	return nil
}

// planWithApproval generates and parses the plan, registers an approval
// record, publishes exactly one approval-request event, and suspends until
// the record resolves.
func (m *Manager) planWithApproval(ctx context.Context, sess *session.Session, taskText string) (*plan.MPlan, session.Decision, error) {
	roster := sess.Roster()
	planText, facts, err := m.planner.GeneratePlan(ctx, taskText, roster)
	if err != nil {
		return nil, session.Decision{}, fmt.Errorf("planning failed: %w", err)
	}

	mplan := m.parser.Parse(planText, sess.UserID, sess.Team.ID, taskText, facts, roster)
	record := session.NewApprovalRecord(mplan)
	sess.RegisterApproval(record)
	defer sess.DropApproval(record.ID)

	event := proto.NewEvent(proto.EventTypePlanApprovalRequest, sess.UserID)
	event.SetPayload("request_id", record.ID)
	event.SetPayload("plan", mplan)
	event.SetPayload("task", taskText)
	m.publisher.Publish(event)
	m.logger.Info("plan %s pending approval for user %s (%d steps)", mplan.ID, sess.UserID, len(mplan.Steps))

	decision, err := record.Wait(ctx, m.opts.ApprovalTimeout)
	if err != nil {
		return mplan, session.Decision{}, fmt.Errorf("approval wait aborted: %w", err)
	}
	if m.recorder != nil {
		m.recorder.ObserveApproval(decision.Status.String(), time.Since(record.CreatedAt))
	}
	return mplan, decision, nil
}

// finish publishes the single terminal event for a task and records its
// outcome.
func (m *Manager) finish(userID string, mplan *plan.MPlan, status proto.PlanStatus, detail string) {
	if mplan != nil {
		mplan.OverallStatus = status
		if m.store != nil {
			if err := m.store.UpdatePlanStatus(mplan.ID, status); err != nil && !errors.Is(err, persistence.ErrNotFound) {
				m.logger.Error("failed to record plan %s outcome: %v", mplan.ID, err)
			}
		}
	}
	if m.recorder != nil {
		m.recorder.ObservePlan(status.String())
	}

	event := proto.NewEvent(proto.EventTypeFinalResult, userID)
	event.SetPayload("status", status.String())
	event.SetPayload("result", detail)
	if mplan != nil {
		event.SetPayload("plan_id", mplan.ID)
	}
	m.publisher.Publish(event)
	m.logger.Info("task for user %s finished: %s", userID, status)
}

func (m *Manager) acquire(userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.inflight[userID]; busy {
		return ErrTaskInFlight
	}
	m.inflight[userID] = struct{}{}
	return nil
}

func (m *Manager) release(userID string) {
	m.mu.Lock()
	delete(m.inflight, userID)
	m.mu.Unlock()
}
