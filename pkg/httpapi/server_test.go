package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"magentic/pkg/agents"
	"magentic/pkg/channel"
	"magentic/pkg/llm"
	"magentic/pkg/metrics"
	"magentic/pkg/orch"
	"magentic/pkg/session"
	"magentic/pkg/team"
)

type stubPlanner struct{}

func (stubPlanner) GeneratePlan(context.Context, string, []string) (string, string, error) {
	return "- **Coder** do it\n", "", nil
}

type stubClient struct{}

func (stubClient) Complete(context.Context, llm.Request) (llm.Response, error) {
	return llm.Response{Content: "ok"}, nil
}
func (stubClient) ModelName() string { return "stub" }

func newTestServer(t *testing.T) (*httptest.Server, *orch.Manager) {
	t.Helper()
	factory := llm.NewFactory()
	factory.Register("anthropic", func(llm.ProviderBinding, string) (llm.Client, error) {
		return stubClient{}, nil
	})
	builder := agents.NewBuilder(factory, func(string) (llm.ProviderBinding, error) {
		return llm.ProviderBinding{Provider: "anthropic"}, nil
	}, 0)
	sessions := session.NewStore(builder, agents.NewRegistry(), channel.Discard, session.StoreOptions{})
	mgr := orch.NewManager(stubPlanner{}, sessions, channel.Discard, nil, nil,
		orch.Options{ApprovalTimeout: 500 * time.Millisecond})

	server := NewServer(mgr, channel.NewHub(), nil, metrics.NewRecorder(), Auth{
		User:     "magentic",
		Password: func() string { return "sesame" },
	})
	mux := http.NewServeMux()
	server.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, mgr
}

func doPost(t *testing.T, ts *httptest.Server, path, body string, authed bool) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if authed {
		req.SetBasicAuth("magentic", "sesame")
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestRoutesRequireAuth(t *testing.T) {
	ts, _ := newTestServer(t)
	for _, path := range []string{"/api/tasks", "/api/approvals", "/api/clarifications", "/api/team"} {
		resp := doPost(t, ts, path, "{}", false)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s without auth: got %d, want 401", path, resp.StatusCode)
		}
	}
}

func TestHealthzIsPublic(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := ts.Client().Get(ts.URL + "/api/healthz")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: got %d, want 200", resp.StatusCode)
	}
}

func TestSubmitTaskValidation(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doPost(t, ts, "/api/tasks", `{"user_id":""}`, true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing fields: got %d, want 400", resp.StatusCode)
	}

	resp = doPost(t, ts, "/api/tasks", `not json`, true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad body: got %d, want 400", resp.StatusCode)
	}

	resp = doPost(t, ts, "/api/tasks", `{"user_id":"alice","task":"build it"}`, true)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("valid task: got %d, want 202", resp.StatusCode)
	}
}

func TestApprovalDeliveryReported(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := doPost(t, ts, "/api/approvals",
		`{"user_id":"nobody","request_id":"a_1","approved":true}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d, want 200", resp.StatusCode)
	}
	var body map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["delivered"] {
		t.Error("stale approval must report delivered=false")
	}
}

func TestSwitchTeamRejectsInvalidYAML(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := doPost(t, ts, "/api/team",
		`{"user_id":"alice","team_yaml":"agents: [{name: X, kind: nonsense}]"}`, true)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("got %d, want 400", resp.StatusCode)
	}
}

func TestSwitchTeamDefaultTeam(t *testing.T) {
	ts, _ := newTestServer(t)
	resp := doPost(t, ts, "/api/team", `{"user_id":"alice"}`, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("got %d, want 200", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["team"] != team.Default().Name {
		t.Errorf("unexpected team %q", body["team"])
	}
}

func TestMetricsEndpointExposed(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: got %d, want 200", resp.StatusCode)
	}
}

func TestSubmitTaskConflictWhileInFlight(t *testing.T) {
	ts, _ := newTestServer(t)

	// The first task parks on the approval gate, holding bob's slot.
	resp := doPost(t, ts, "/api/tasks", `{"user_id":"bob","task":"first"}`, true)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("first task: got %d, want 202", resp.StatusCode)
	}

	resp = doPost(t, ts, "/api/tasks", `{"user_id":"bob","task":"second"}`, true)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("task while in flight: got %d, want 409", resp.StatusCode)
	}
}
