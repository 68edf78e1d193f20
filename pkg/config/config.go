// Package config provides configuration loading, validation, and the known
// LLM model registry for the orchestration backend.
//
// A single Config instance is kept in memory, protected by a mutex, and read
// via GetConfig() which returns a copy so callers cannot mutate shared state.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"magentic/pkg/logx"
)

//nolint:gochecknoglobals // Intentional singleton for config management
var (
	config     *Config
	projectDir string // Immutable after LoadConfig
	logger     *logx.Logger
	mu         sync.RWMutex
)

func getLogger() *logx.Logger {
	if logger == nil {
		logger = logx.NewLogger("config")
	}
	return logger
}

// LogInfo logs through the config logger; exposed so cmd/ packages log
// consistently during bootstrap.
func LogInfo(format string, args ...any) {
	getLogger().Info(format, args...)
}

// Provider identifiers for LLM backends.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
)

// Well-known model names.
const (
	ModelClaudeSonnet       = "claude-sonnet-4-5"
	ModelClaudeOpus         = "claude-opus-4-1"
	ModelGPT5               = "gpt-5"
	ModelOpenAIO3           = "o3"
	ModelOpenAIO3Mini       = "o3-mini"
	ModelDefaultPlanner     = ModelClaudeSonnet
	ModelDefaultReasoning   = ModelClaudeSonnet
	defaultOllamaHost       = "http://localhost:11434"
	defaultApprovalTimeout  = 15 * time.Minute
	defaultClarifyTimeout   = 10 * time.Minute
	defaultPlannerMaxTokens = 8192
)

// ModelInfo holds static information about a known model. Hardcoded, not
// user-configurable.
type ModelInfo struct {
	Provider         string
	MaxContextTokens int
	MaxOutputTokens  int
}

// KnownModels maps model names to provider and limits. Unknown models fall
// back to pattern inference via ProviderForModel.
//
//nolint:gochecknoglobals // static model registry
var KnownModels = map[string]ModelInfo{
	ModelClaudeSonnet: {Provider: ProviderAnthropic, MaxContextTokens: 200000, MaxOutputTokens: 8192},
	ModelClaudeOpus:   {Provider: ProviderAnthropic, MaxContextTokens: 200000, MaxOutputTokens: 16384},
	"claude-sonnet-4-20250514": {Provider: ProviderAnthropic, MaxContextTokens: 200000, MaxOutputTokens: 8192},
	ModelGPT5:         {Provider: ProviderOpenAI, MaxContextTokens: 272000, MaxOutputTokens: 128000},
	ModelOpenAIO3:     {Provider: ProviderOpenAI, MaxContextTokens: 200000, MaxOutputTokens: 100000},
	ModelOpenAIO3Mini: {Provider: ProviderOpenAI, MaxContextTokens: 200000, MaxOutputTokens: 65536},
	"llama3.1":        {Provider: ProviderOllama, MaxContextTokens: 128000, MaxOutputTokens: 8192},
	"qwen2.5-coder":   {Provider: ProviderOllama, MaxContextTokens: 128000, MaxOutputTokens: 8192},
}

// providerPatterns infers the provider for models missing from KnownModels.
var providerPatterns = []struct {
	prefix   string
	provider string
}{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
}

// ProviderForModel resolves the provider for a model name, first via
// KnownModels, then via prefix patterns. Returns an error for models no
// pattern covers rather than guessing.
func ProviderForModel(model string) (string, error) {
	if info, ok := KnownModels[model]; ok {
		return info.Provider, nil
	}
	lowered := strings.ToLower(model)
	for _, p := range providerPatterns {
		if strings.HasPrefix(lowered, p.prefix) {
			return p.provider, nil
		}
	}
	return "", fmt.Errorf("unknown model %q: no provider mapping", model)
}

// IsSupportedModel reports whether a model can be bound to a provider.
func IsSupportedModel(model string) bool {
	_, err := ProviderForModel(model)
	return err == nil
}

// Orchestrator holds the settings the planner/approval machinery reads.
type Orchestrator struct {
	PlannerModel     string        `json:"planner_model"`
	ApprovalTimeout  time.Duration `json:"approval_timeout"`
	ClarifyTimeout   time.Duration `json:"clarify_timeout"`
	PlannerMaxTokens int           `json:"planner_max_tokens"`
}

// Server holds HTTP transport settings.
type Server struct {
	ListenAddr string `json:"listen_addr"`
	AuthUser   string `json:"auth_user"`
}

// Config is the root configuration document, stored as JSON under
// <projectDir>/.magentic/config.json.
type Config struct {
	SchemaVersion int          `json:"schema_version"`
	Orchestrator  Orchestrator `json:"orchestrator"`
	Server        Server       `json:"server"`
	OllamaHost    string       `json:"ollama_host,omitempty"`
	DBPath        string       `json:"db_path,omitempty"`
	EventLogDir   string       `json:"event_log_dir,omitempty"`
}

const currentSchemaVersion = 1

// DefaultConfig returns a config populated with working defaults.
func DefaultConfig() Config {
	return Config{
		SchemaVersion: currentSchemaVersion,
		Orchestrator: Orchestrator{
			PlannerModel:     ModelDefaultPlanner,
			ApprovalTimeout:  defaultApprovalTimeout,
			ClarifyTimeout:   defaultClarifyTimeout,
			PlannerMaxTokens: defaultPlannerMaxTokens,
		},
		Server: Server{
			ListenAddr: ":8080",
			AuthUser:   "magentic",
		},
		OllamaHost: defaultOllamaHost,
	}
}

func configPath(dir string) string {
	return filepath.Join(dir, ".magentic", "config.json")
}

// LoadConfig reads the config file under dir, falling back to defaults when
// the file does not exist. Call once at startup.
func LoadConfig(dir string) error {
	mu.Lock()
	defer mu.Unlock()

	projectDir = dir
	cfg := DefaultConfig()

	data, err := os.ReadFile(configPath(dir))
	switch {
	case os.IsNotExist(err):
		getLogger().Info("No config file found, using defaults")
	case err != nil:
		return fmt.Errorf("failed to read config: %w", err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := validate(&cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	config = &cfg
	return nil
}

// GetConfig returns the loaded config by value.
func GetConfig() (Config, error) {
	mu.RLock()
	defer mu.RUnlock()
	if config == nil {
		return Config{}, fmt.Errorf("config not loaded; call LoadConfig first")
	}
	return *config, nil
}

// ProjectDir returns the directory LoadConfig was called with.
func ProjectDir() string {
	mu.RLock()
	defer mu.RUnlock()
	return projectDir
}

// SaveConfig validates and persists cfg, replacing the in-memory instance.
func SaveConfig(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if err := validate(&cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	path := configPath(projectDir)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	config = &cfg
	return nil
}

func validate(cfg *Config) error {
	if cfg.SchemaVersion != currentSchemaVersion {
		return fmt.Errorf("unsupported schema version %d (want %d)", cfg.SchemaVersion, currentSchemaVersion)
	}
	if cfg.Orchestrator.PlannerModel == "" {
		return fmt.Errorf("orchestrator.planner_model is required")
	}
	if !IsSupportedModel(cfg.Orchestrator.PlannerModel) {
		return fmt.Errorf("orchestrator.planner_model %q is not a supported model", cfg.Orchestrator.PlannerModel)
	}
	if cfg.Orchestrator.ApprovalTimeout <= 0 {
		return fmt.Errorf("orchestrator.approval_timeout must be positive")
	}
	if cfg.Orchestrator.ClarifyTimeout <= 0 {
		return fmt.Errorf("orchestrator.clarify_timeout must be positive")
	}
	if cfg.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	return nil
}
