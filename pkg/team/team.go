// Package team loads and validates team configuration files. A team is a
// named roster of agent specifications; each spec carries an explicit kind
// tag that selects exactly one agent implementation.
package team

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"magentic/pkg/config"
)

// AgentKind tags an AgentSpec with the implementation that backs it. The set
// is closed: configuration files naming any other kind are rejected at load
// time.
type AgentKind string

const (
	// KindFoundry is an LLM agent primed with a per-agent instruction
	// preamble.
	KindFoundry AgentKind = "foundry"
	// KindReasoning is a plain LLM chat agent.
	KindReasoning AgentKind = "reasoning"
	// KindProxy relays clarification questions to the human user.
	KindProxy AgentKind = "proxy"
)

// ParseAgentKind validates and normalizes an agent kind string.
func ParseAgentKind(s string) (AgentKind, error) {
	switch AgentKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindFoundry:
		return KindFoundry, nil
	case KindReasoning:
		return KindReasoning, nil
	case KindProxy:
		return KindProxy, nil
	default:
		return "", fmt.Errorf("unknown agent kind %q (want foundry, reasoning, or proxy)", s)
	}
}

// AgentSpec describes one agent in a team file.
type AgentSpec struct {
	Name         string    `yaml:"name"`
	Kind         AgentKind `yaml:"kind"`
	Model        string    `yaml:"model,omitempty"`
	Description  string    `yaml:"description,omitempty"`
	Instructions string    `yaml:"instructions,omitempty"`
}

// Validate checks a single spec. LLM-backed kinds require a supported model;
// proxy agents must not name one.
func (s *AgentSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("agent name must not be empty")
	}
	kind, err := ParseAgentKind(string(s.Kind))
	if err != nil {
		return fmt.Errorf("agent %q: %w", s.Name, err)
	}
	switch kind {
	case KindFoundry, KindReasoning:
		if s.Model == "" {
			return fmt.Errorf("agent %q: kind %s requires a model", s.Name, kind)
		}
		if !config.IsSupportedModel(s.Model) {
			return fmt.Errorf("agent %q: unsupported model %q", s.Name, s.Model)
		}
	case KindProxy:
		if s.Model != "" {
			return fmt.Errorf("agent %q: proxy agents do not take a model", s.Name)
		}
	}
	return nil
}

// Config is a validated team definition.
type Config struct {
	ID     string      `yaml:"id,omitempty"`
	Name   string      `yaml:"name"`
	Agents []AgentSpec `yaml:"agents"`
}

// Parse unmarshals and validates a team configuration document. A missing
// team id is filled in so callers can key stores by it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse team config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}
	return &cfg, nil
}

// Load reads and parses a team configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read team config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid team config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the whole team: a non-empty name, at least one agent,
// unique agent names, at most one proxy, and a valid spec for each agent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("team name must not be empty")
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("team %q has no agents", c.Name)
	}
	seen := make(map[string]bool, len(c.Agents))
	proxies := 0
	for i := range c.Agents {
		spec := &c.Agents[i]
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("team %q: %w", c.Name, err)
		}
		lower := strings.ToLower(spec.Name)
		if seen[lower] {
			return fmt.Errorf("team %q: duplicate agent name %q", c.Name, spec.Name)
		}
		seen[lower] = true
		if spec.Kind == KindProxy {
			proxies++
		}
	}
	if proxies > 1 {
		return fmt.Errorf("team %q: at most one proxy agent is allowed", c.Name)
	}
	return nil
}

// Roster returns the agent names in declaration order.
func (c *Config) Roster() []string {
	names := make([]string, 0, len(c.Agents))
	for i := range c.Agents {
		names = append(names, c.Agents[i].Name)
	}
	return names
}

// ProxyName returns the name of the team's proxy agent, or "" if none.
func (c *Config) ProxyName() string {
	for i := range c.Agents {
		if c.Agents[i].Kind == KindProxy {
			return c.Agents[i].Name
		}
	}
	return ""
}

// Spec returns the spec for the named agent, matched case-insensitively.
func (c *Config) Spec(name string) (*AgentSpec, bool) {
	for i := range c.Agents {
		if strings.EqualFold(c.Agents[i].Name, name) {
			return &c.Agents[i], true
		}
	}
	return nil, false
}

// Default returns a built-in team used when no configuration is supplied:
// a reasoning coder, a foundry researcher, and a human proxy.
func Default() *Config {
	return &Config{
		ID:   uuid.New().String(),
		Name: "default",
		Agents: []AgentSpec{
			{
				Name:        "Coder",
				Kind:        KindReasoning,
				Model:       config.ModelClaudeSonnet,
				Description: "writes and reviews code",
			},
			{
				Name:         "Researcher",
				Kind:         KindFoundry,
				Model:        config.ModelClaudeSonnet,
				Description:  "gathers background information",
				Instructions: "Research the topic and report findings concisely.",
			},
			{
				Name:        "UserProxy",
				Kind:        KindProxy,
				Description: "relays clarification questions to the human user",
			},
		},
	}
}
