package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"magentic/pkg/agents"
	"magentic/pkg/channel"
	"magentic/pkg/logx"
	"magentic/pkg/proto"
	"magentic/pkg/team"
)

// Session is one user's live orchestration: the instantiated agent team,
// the approval records in flight, and the clarification rendezvous. At most
// one session is active per user at any instant.
type Session struct {
	UserID    string
	Team      *team.Config
	CreatedAt time.Time

	agents     map[string]agents.Agent // keyed by lower-cased roster name
	order      []string
	proxyName  string
	rendezvous *Rendezvous

	mu        sync.Mutex
	approvals map[string]*ApprovalRecord

	registry *agents.Registry
	logger   *logx.Logger
}

// clarifyAsker is the proxy agent's bridge to the human: it publishes a
// clarification request on the user's channel and suspends on the
// rendezvous until the answer event arrives.
type clarifyAsker struct {
	userID     string
	rendezvous *Rendezvous
	publisher  channel.Publisher
	timeout    time.Duration
}

func (a *clarifyAsker) Ask(ctx context.Context, question string) (string, error) {
	requestID := proto.GenerateClarificationID()
	ch := a.rendezvous.Expect(requestID)

	event := proto.NewEvent(proto.EventTypeClarificationReq, a.userID)
	event.SetPayload("request_id", requestID)
	event.SetPayload("question", question)
	a.publisher.Publish(event)

	waitCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	return a.rendezvous.Await(waitCtx, requestID, ch)
}

// newSession instantiates every agent in cfg's roster. On any construction
// failure the already-built agents are closed and an error is returned; a
// session is never left half-initialized.
func newSession(ctx context.Context, userID string, cfg *team.Config, builder AgentBuilder,
	registry *agents.Registry, publisher channel.Publisher, clarifyTimeout time.Duration) (*Session, error) {
	s := &Session{
		UserID:     userID,
		Team:       cfg,
		CreatedAt:  time.Now().UTC(),
		agents:     make(map[string]agents.Agent, len(cfg.Agents)),
		proxyName:  cfg.ProxyName(),
		rendezvous: NewRendezvous(),
		approvals:  make(map[string]*ApprovalRecord),
		registry:   registry,
		logger:     logx.NewLogger("session:" + userID),
	}

	asker := &clarifyAsker{
		userID:     userID,
		rendezvous: s.rendezvous,
		publisher:  publisher,
		timeout:    clarifyTimeout,
	}

	for i := range cfg.Agents {
		spec := &cfg.Agents[i]
		agent, err := builder.Build(spec, asker)
		if err != nil {
			s.closeAgents(ctx, true)
			return nil, fmt.Errorf("failed to build agent %s for user %s: %w", spec.Name, userID, err)
		}
		s.agents[lowerName(spec.Name)] = agent
		s.order = append(s.order, spec.Name)
		registry.Register(agent)
	}
	return s, nil
}

// Agent returns the live agent matching name, case-insensitively.
func (s *Session) Agent(name string) (agents.Agent, bool) {
	a, ok := s.agents[lowerName(name)]
	return a, ok
}

// Roster returns the agent names in team order.
func (s *Session) Roster() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Rendezvous returns the session's clarification rendezvous.
func (s *Session) Rendezvous() *Rendezvous { return s.rendezvous }

// RegisterApproval creates and tracks a pending approval record for p.
func (s *Session) RegisterApproval(record *ApprovalRecord) {
	s.mu.Lock()
	s.approvals[record.ID] = record
	s.mu.Unlock()
}

// ResolveApproval delivers an approval decision into the matching record.
// Unknown or already-resolved request ids are a no-op returning false.
func (s *Session) ResolveApproval(requestID string, status proto.ApprovalStatus, feedback string) bool {
	s.mu.Lock()
	record, ok := s.approvals[requestID]
	s.mu.Unlock()
	if !ok {
		s.logger.Debug("approval for unknown request %s ignored", requestID)
		return false
	}
	if !record.Resolve(status, feedback) {
		s.logger.Debug("approval for resolved request %s ignored", requestID)
		return false
	}
	return true
}

// DropApproval removes a record once the planner has consumed its decision,
// so late duplicates hit the unknown-id path.
func (s *Session) DropApproval(requestID string) {
	s.mu.Lock()
	delete(s.approvals, requestID)
	s.mu.Unlock()
}

// Teardown closes the session's non-proxy agents, best-effort. Individual
// close failures are logged and do not block teardown of the rest. The
// proxy agent is excluded: it holds no model resources and its pending
// rendezvous entries are cancelled separately.
func (s *Session) Teardown(ctx context.Context) {
	s.closeAgents(ctx, false)
}

func (s *Session) closeAgents(ctx context.Context, includeProxy bool) {
	for name, agent := range s.agents {
		if !includeProxy && name == lowerName(s.proxyName) && s.proxyName != "" {
			s.registry.Unregister(agent)
			continue
		}
		if err := agent.Close(ctx); err != nil {
			s.logger.Warn("close of agent %s failed: %v", agent.Name(), err)
		}
		s.registry.Unregister(agent)
	}
}

func lowerName(name string) string { return strings.ToLower(name) }
