package team

import (
	"strings"
	"testing"

	"magentic/pkg/config"
)

const validTeamYAML = `
name: builders
agents:
  - name: Coder
    kind: reasoning
    model: claude-sonnet-4-5
  - name: Researcher
    kind: foundry
    model: claude-sonnet-4-5
    instructions: Research the topic.
  - name: UserProxy
    kind: proxy
`

func TestParseValidTeam(t *testing.T) {
	cfg, err := Parse([]byte(validTeamYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if cfg.Name != "builders" {
		t.Errorf("expected team name builders, got %q", cfg.Name)
	}
	if cfg.ID == "" {
		t.Error("expected a generated team id")
	}
	roster := cfg.Roster()
	if len(roster) != 3 || roster[0] != "Coder" || roster[2] != "UserProxy" {
		t.Errorf("unexpected roster: %v", roster)
	}
	if cfg.ProxyName() != "UserProxy" {
		t.Errorf("expected proxy UserProxy, got %q", cfg.ProxyName())
	}
}

func TestParseAgentKind(t *testing.T) {
	tests := []struct {
		input   string
		want    AgentKind
		wantErr bool
	}{
		{"foundry", KindFoundry, false},
		{"Reasoning", KindReasoning, false},
		{" proxy ", KindProxy, false},
		{"assistant", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAgentKind(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseAgentKind(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAgentKind(%q): %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseAgentKind(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestValidateRejectsUnknownKind(t *testing.T) {
	doc := `
name: broken
agents:
  - name: Mystery
    kind: assistant
    model: claude-sonnet-4-5
`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("expected unknown kind to be rejected")
	}
}

func TestValidateRejectsUnsupportedModel(t *testing.T) {
	doc := `
name: broken
agents:
  - name: Coder
    kind: reasoning
    model: made-up-model-9000
`
	_, err := Parse([]byte(doc))
	if err == nil {
		t.Fatal("expected unsupported model to be rejected")
	}
	if !strings.Contains(err.Error(), "unsupported model") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateRejectsProxyWithModel(t *testing.T) {
	doc := `
name: broken
agents:
  - name: UserProxy
    kind: proxy
    model: claude-sonnet-4-5
`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("expected proxy with model to be rejected")
	}
}

func TestValidateRejectsDuplicateNames(t *testing.T) {
	doc := `
name: broken
agents:
  - name: Coder
    kind: reasoning
    model: claude-sonnet-4-5
  - name: coder
    kind: reasoning
    model: claude-sonnet-4-5
`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("expected duplicate agent names to be rejected")
	}
}

func TestValidateRejectsSecondProxy(t *testing.T) {
	doc := `
name: broken
agents:
  - name: ProxyA
    kind: proxy
  - name: ProxyB
    kind: proxy
`
	if _, err := Parse([]byte(doc)); err == nil {
		t.Fatal("expected second proxy to be rejected")
	}
}

func TestValidateRejectsEmptyTeam(t *testing.T) {
	if _, err := Parse([]byte("name: empty\nagents: []\n")); err == nil {
		t.Fatal("expected empty team to be rejected")
	}
}

func TestSpecLookupCaseInsensitive(t *testing.T) {
	cfg, err := Parse([]byte(validTeamYAML))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	spec, ok := cfg.Spec("coder")
	if !ok {
		t.Fatal("expected lookup of coder to succeed")
	}
	if spec.Name != "Coder" {
		t.Errorf("expected Coder, got %q", spec.Name)
	}
	if _, ok := cfg.Spec("Nobody"); ok {
		t.Error("expected lookup of unknown agent to fail")
	}
}

func TestDefaultTeamIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default team must validate: %v", err)
	}
	if cfg.ProxyName() == "" {
		t.Error("default team should include a proxy agent")
	}
	for _, spec := range cfg.Agents {
		if spec.Kind != KindProxy && !config.IsSupportedModel(spec.Model) {
			t.Errorf("agent %s uses unsupported model %q", spec.Name, spec.Model)
		}
	}
}
