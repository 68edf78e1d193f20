package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"magentic/pkg/agents"
	"magentic/pkg/channel"
	"magentic/pkg/logx"
	"magentic/pkg/proto"
	"magentic/pkg/team"
)

// AgentBuilder constructs one agent from its team spec. Satisfied by
// agents.Builder.
type AgentBuilder interface {
	Build(spec *team.AgentSpec, asker agents.Asker) (agents.Agent, error)
}

// StoreOptions configures session construction.
type StoreOptions struct {
	// ClarifyTimeout bounds how long a proxy agent waits for a human
	// answer. 0 waits until the orchestration's context is cancelled.
	ClarifyTimeout time.Duration
}

// Store maps user ids to their live orchestration session. It is the single
// piece of mutable shared state crossed by concurrent users; installs and
// replacements are atomic per user.
type Store struct {
	mu       sync.Mutex
	sessions map[string]*Session

	builder   AgentBuilder
	registry  *agents.Registry
	publisher channel.Publisher
	opts      StoreOptions
	logger    *logx.Logger
}

// NewStore creates an empty store. builder constructs agents from team
// specs; registry observes their lifetimes; publisher carries clarification
// requests to users.
func NewStore(builder AgentBuilder, registry *agents.Registry, publisher channel.Publisher, opts StoreOptions) *Store {
	return &Store{
		sessions:  make(map[string]*Session),
		builder:   builder,
		registry:  registry,
		publisher: publisher,
		opts:      opts,
		logger:    logx.NewLogger("session-store"),
	}
}

// GetOrCreate returns userID's live session, building one if none exists or
// teamSwitched forces a replacement. On replacement the outgoing session's
// non-proxy agents are closed before the new session is installed. If
// construction fails nothing is installed and any prior session for the
// user is gone.
func (s *Store) GetOrCreate(ctx context.Context, userID string, cfg *team.Config, teamSwitched bool) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[userID]; ok && !teamSwitched {
		return existing, nil
	}

	if outgoing, ok := s.sessions[userID]; ok {
		s.logger.Info("user %s switching team %s -> %s", userID, outgoing.Team.Name, cfg.Name)
		delete(s.sessions, userID)
		outgoing.Teardown(ctx)
	}

	fresh, err := newSession(ctx, userID, cfg, s.builder, s.registry, s.publisher, s.opts.ClarifyTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create session for user %s: %w", userID, err)
	}
	s.sessions[userID] = fresh
	s.logger.Info("installed session for user %s (team %s, %d agents)", userID, cfg.Name, len(cfg.Agents))
	return fresh, nil
}

// Get returns userID's session without creating one.
func (s *Store) Get(userID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// RecordApproval delivers an approval decision into userID's session. Safe
// to call for unknown users, stale ids, or already-resolved records; all are
// no-ops returning false.
func (s *Store) RecordApproval(userID, requestID string, approved bool, feedback string) bool {
	sess, ok := s.Get(userID)
	if !ok {
		s.logger.Debug("approval from user %s with no session ignored", userID)
		return false
	}
	status := proto.ApprovalStatusRejected
	if approved {
		status = proto.ApprovalStatusApproved
	}
	return sess.ResolveApproval(requestID, status, feedback)
}

// RecordClarificationAnswer delivers a clarification answer into userID's
// session. Unknown users and stale ids are no-ops returning false.
func (s *Store) RecordClarificationAnswer(userID, requestID, answer string) bool {
	sess, ok := s.Get(userID)
	if !ok {
		s.logger.Debug("clarification from user %s with no session ignored", userID)
		return false
	}
	return sess.Rendezvous().PostAnswer(requestID, answer)
}

// Remove tears down and removes userID's session if present.
func (s *Store) Remove(ctx context.Context, userID string) {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	delete(s.sessions, userID)
	s.mu.Unlock()
	if ok {
		sess.Teardown(ctx)
	}
}

// TeardownAll closes every session. Used at process shutdown, after which
// the agent registry sweeps anything still registered.
func (s *Store) TeardownAll(ctx context.Context) {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range all {
		sess.Teardown(ctx)
	}
}
