package orch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magentic/pkg/agents"
	"magentic/pkg/proto"
	"magentic/pkg/session"
	"magentic/pkg/team"
)

// scriptedPlanner returns fixed plan text.
type scriptedPlanner struct {
	planText string
	facts    string
	err      error
}

func (p *scriptedPlanner) GeneratePlan(context.Context, string, []string) (string, string, error) {
	return p.planText, p.facts, p.err
}

// recordingAgent logs invocations and echoes a canned reply.
type recordingAgent struct {
	name string
	mu   sync.Mutex
	log  []string
}

func (a *recordingAgent) Name() string { return a.name }
func (a *recordingAgent) Invoke(_ context.Context, input string) (string, error) {
	a.mu.Lock()
	a.log = append(a.log, input)
	a.mu.Unlock()
	return "done by " + a.name, nil
}
func (a *recordingAgent) Close(context.Context) error { return nil }

func (a *recordingAgent) invocations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.log)
}

// testBuilder hands out recordingAgents, or a real ProxyAgent for proxies so
// the clarification path is exercised end to end.
type testBuilder struct {
	mu    sync.Mutex
	built map[string]*recordingAgent
}

func (b *testBuilder) Build(spec *team.AgentSpec, asker agents.Asker) (agents.Agent, error) {
	if spec.Kind == team.KindProxy {
		return agents.NewProxyAgent(spec.Name, asker), nil
	}
	a := &recordingAgent{name: spec.Name}
	b.mu.Lock()
	if b.built == nil {
		b.built = make(map[string]*recordingAgent)
	}
	b.built[spec.Name] = a
	b.mu.Unlock()
	return a, nil
}

func (b *testBuilder) agent(name string) *recordingAgent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.built[name]
}

// eventSink captures published events for inspection.
type eventSink struct {
	mu     sync.Mutex
	events []*proto.Event
}

func (s *eventSink) Publish(ev *proto.Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *eventSink) ofType(eventType proto.EventType) []*proto.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*proto.Event
	for _, ev := range s.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (s *eventSink) waitFor(t *testing.T, eventType proto.EventType) *proto.Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if evs := s.ofType(eventType); len(evs) > 0 {
			return evs[len(evs)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no %s event published", eventType)
	return nil
}

func makeTeam() *team.Config {
	return &team.Config{
		ID:   "team-1",
		Name: "builders",
		Agents: []team.AgentSpec{
			{Name: "Coder", Kind: team.KindReasoning, Model: "claude-sonnet-4-5"},
			{Name: "Researcher", Kind: team.KindFoundry, Model: "claude-sonnet-4-5"},
			{Name: "UserProxy", Kind: team.KindProxy},
		},
	}
}

type fixture struct {
	mgr     *Manager
	builder *testBuilder
	sink    *eventSink
}

func makeManager(planText string, opts Options) *fixture {
	builder := &testBuilder{}
	sink := &eventSink{}
	sessions := session.NewStore(builder, agents.NewRegistry(), sink, session.StoreOptions{})
	planner := &scriptedPlanner{planText: planText, facts: "some facts"}
	mgr := NewManager(planner, sessions, sink, nil, nil, opts)
	return &fixture{mgr: mgr, builder: builder, sink: sink}
}

type submitResult struct {
	status proto.PlanStatus
	err    error
}

func submitAsync(f *fixture, userID, task string) <-chan submitResult {
	done := make(chan submitResult, 1)
	go func() {
		status, err := f.mgr.SubmitTask(context.Background(), userID, makeTeam(), task)
		done <- submitResult{status, err}
	}()
	return done
}

const twoStepPlan = "- **Coder** write the widget\n- **Researcher** verify the widget\n"

func TestRejectedPlanExecutesNothing(t *testing.T) {
	f := makeManager(twoStepPlan, Options{})
	done := submitAsync(f, "alice", "build a widget")

	req := f.sink.waitFor(t, proto.EventTypePlanApprovalRequest)
	require.True(t, f.mgr.ApprovePlan("alice", req.PayloadString("request_id"), false, "not now"))

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, proto.PlanStatusCancelled, res.status)

	assert.Equal(t, 0, f.builder.agent("Coder").invocations(), "no step may run after rejection")
	assert.Equal(t, 0, f.builder.agent("Researcher").invocations())

	finals := f.sink.ofType(proto.EventTypeFinalResult)
	require.Len(t, finals, 1, "exactly one terminal event")
	assert.Equal(t, proto.PlanStatusCancelled.String(), finals[0].PayloadString("status"))
	assert.Contains(t, finals[0].PayloadString("result"), "cancelled")
}

func TestApprovedPlanExecutesStepsInOrder(t *testing.T) {
	f := makeManager(twoStepPlan, Options{})
	done := submitAsync(f, "alice", "build a widget")

	req := f.sink.waitFor(t, proto.EventTypePlanApprovalRequest)
	require.True(t, f.mgr.ApprovePlan("alice", req.PayloadString("request_id"), true, ""))

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, proto.PlanStatusCompleted, res.status)

	assert.Equal(t, 1, f.builder.agent("Coder").invocations())
	assert.Equal(t, 1, f.builder.agent("Researcher").invocations())
	// The second step sees the first step's result.
	assert.Contains(t, f.builder.agent("Researcher").log[0], "done by Coder")

	finals := f.sink.ofType(proto.EventTypeFinalResult)
	require.Len(t, finals, 1, "exactly one terminal event")
	assert.Equal(t, proto.PlanStatusCompleted.String(), finals[0].PayloadString("status"))
	assert.Equal(t, "done by Researcher", finals[0].PayloadString("result"))
}

func TestDuplicateApprovalIsNoop(t *testing.T) {
	f := makeManager(twoStepPlan, Options{})
	done := submitAsync(f, "alice", "build a widget")

	req := f.sink.waitFor(t, proto.EventTypePlanApprovalRequest)
	id := req.PayloadString("request_id")
	require.True(t, f.mgr.ApprovePlan("alice", id, true, ""))
	assert.False(t, f.mgr.ApprovePlan("alice", id, false, "changed my mind"),
		"duplicate delivery must not resolve the record again")

	res := <-done
	assert.Equal(t, proto.PlanStatusCompleted, res.status, "first decision wins")
}

func TestUnknownApprovalIDIsNoop(t *testing.T) {
	f := makeManager(twoStepPlan, Options{})
	done := submitAsync(f, "alice", "build a widget")

	req := f.sink.waitFor(t, proto.EventTypePlanApprovalRequest)
	assert.False(t, f.mgr.ApprovePlan("alice", "a_bogus", true, ""))
	require.True(t, f.mgr.ApprovePlan("alice", req.PayloadString("request_id"), true, ""))
	<-done
}

func TestApprovalTimeoutCancelsTask(t *testing.T) {
	f := makeManager(twoStepPlan, Options{ApprovalTimeout: 30 * time.Millisecond})
	done := submitAsync(f, "alice", "build a widget")

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, proto.PlanStatusCancelled, res.status)
	assert.Equal(t, 0, f.builder.agent("Coder").invocations())

	finals := f.sink.ofType(proto.EventTypeFinalResult)
	require.Len(t, finals, 1)
	assert.Contains(t, finals[0].PayloadString("result"), "timed out")
}

func TestSecondSubmissionRejectedWhileInFlight(t *testing.T) {
	f := makeManager(twoStepPlan, Options{})
	done := submitAsync(f, "alice", "first task")
	req := f.sink.waitFor(t, proto.EventTypePlanApprovalRequest)

	_, err := f.mgr.SubmitTask(context.Background(), "alice", makeTeam(), "second task")
	assert.ErrorIs(t, err, ErrTaskInFlight)

	require.True(t, f.mgr.ApprovePlan("alice", req.PayloadString("request_id"), true, ""))
	<-done
}

func TestSwitchTeamRejectedWhileInFlight(t *testing.T) {
	f := makeManager(twoStepPlan, Options{})
	done := submitAsync(f, "alice", "task")
	req := f.sink.waitFor(t, proto.EventTypePlanApprovalRequest)

	err := f.mgr.SwitchTeam(context.Background(), "alice", makeTeam())
	assert.ErrorIs(t, err, ErrTaskInFlight)

	require.True(t, f.mgr.ApprovePlan("alice", req.PayloadString("request_id"), true, ""))
	<-done
}

func TestUnattributedStepRoutedToFirstAgent(t *testing.T) {
	// No roster name in the bullet: the parser falls back, and execution
	// routes the step to the first non-proxy team member.
	f := makeManager("- just do the thing\n", Options{})
	done := submitAsync(f, "alice", "task")

	req := f.sink.waitFor(t, proto.EventTypePlanApprovalRequest)
	require.True(t, f.mgr.ApprovePlan("alice", req.PayloadString("request_id"), true, ""))

	res := <-done
	assert.Equal(t, proto.PlanStatusCompleted, res.status)
	assert.Equal(t, 1, f.builder.agent("Coder").invocations())
	assert.Equal(t, 0, f.builder.agent("Researcher").invocations())
}

func TestClarificationLoopEndToEnd(t *testing.T) {
	f := makeManager("- **UserProxy** which color should the widget be?\n- **Coder** build it\n", Options{})
	done := submitAsync(f, "alice", "build a widget")

	approval := f.sink.waitFor(t, proto.EventTypePlanApprovalRequest)
	require.True(t, f.mgr.ApprovePlan("alice", approval.PayloadString("request_id"), true, ""))

	clarification := f.sink.waitFor(t, proto.EventTypeClarificationReq)
	assert.Contains(t, clarification.PayloadString("question"), "which color")

	require.True(t, f.mgr.AnswerClarification("alice", clarification.PayloadString("request_id"), "blue"))
	assert.False(t, f.mgr.AnswerClarification("alice", clarification.PayloadString("request_id"), "red"),
		"duplicate answer must be a no-op")

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, proto.PlanStatusCompleted, res.status)
	// The step after the proxy sees the formatted clarification.
	assert.Contains(t, f.builder.agent("Coder").log[0], "Human clarification: blue")
}

func TestPlanningFailureIsTerminalFailure(t *testing.T) {
	builder := &testBuilder{}
	sink := &eventSink{}
	sessions := session.NewStore(builder, agents.NewRegistry(), sink, session.StoreOptions{})
	planner := &scriptedPlanner{err: errors.New("model unavailable")}
	mgr := NewManager(planner, sessions, sink, nil, nil, Options{})

	status, err := mgr.SubmitTask(context.Background(), "alice", makeTeam(), "task")
	require.Error(t, err)
	assert.Equal(t, proto.PlanStatusFailed, status)

	finals := sink.ofType(proto.EventTypeFinalResult)
	require.Len(t, finals, 1)
	assert.Equal(t, proto.PlanStatusFailed.String(), finals[0].PayloadString("status"))
}

// failingBuilder rejects every agent construction.
type failingBuilder struct{}

func (failingBuilder) Build(*team.AgentSpec, agents.Asker) (agents.Agent, error) {
	return nil, errors.New("credentials unavailable")
}

func TestSessionBuildFailurePublishesFailureEvent(t *testing.T) {
	sink := &eventSink{}
	sessions := session.NewStore(failingBuilder{}, agents.NewRegistry(), sink, session.StoreOptions{})
	mgr := NewManager(&scriptedPlanner{planText: "- **Coder** write the code"}, sessions, sink, nil, nil, Options{})

	status, err := mgr.SubmitTask(context.Background(), "alice", makeTeam(), "build the thing")
	require.Error(t, err)
	assert.Equal(t, proto.PlanStatusFailed, status)

	finals := sink.ofType(proto.EventTypeFinalResult)
	require.Len(t, finals, 1, "a session build failure must still produce the terminal event")
	assert.Equal(t, proto.PlanStatusFailed.String(), finals[0].PayloadString("status"))
	assert.Contains(t, finals[0].PayloadString("result"), "credentials unavailable")
}

func TestStartTaskRejectsBusyUserSynchronously(t *testing.T) {
	f := makeManager("- **Coder** write the code", Options{})
	require.NoError(t, f.mgr.StartTask(context.Background(), "alice", makeTeam(), "build"))

	req := f.sink.waitFor(t, proto.EventTypePlanApprovalRequest)

	err := f.mgr.StartTask(context.Background(), "alice", makeTeam(), "another task")
	require.ErrorIs(t, err, ErrTaskInFlight)

	require.True(t, f.mgr.ApprovePlan("alice", req.PayloadString("request_id"), false, ""))
	final := f.sink.waitFor(t, proto.EventTypeFinalResult)
	assert.Equal(t, proto.PlanStatusCancelled.String(), final.PayloadString("status"))
}
