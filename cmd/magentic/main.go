// Command magentic runs the orchestration backend: it loads configuration
// and secrets, opens the plan store, wires the agent stack, and serves the
// HTTP API until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/term"

	"magentic/pkg/agents"
	"magentic/pkg/channel"
	"magentic/pkg/config"
	"magentic/pkg/eventlog"
	"magentic/pkg/httpapi"
	"magentic/pkg/llm"
	"magentic/pkg/llm/anthropic"
	"magentic/pkg/llm/ollama"
	"magentic/pkg/llm/openai"
	"magentic/pkg/logx"
	"magentic/pkg/metrics"
	"magentic/pkg/orch"
	"magentic/pkg/persistence"
	"magentic/pkg/proto"
	"magentic/pkg/session"
)

const shutdownGrace = 10 * time.Second

// Secret names looked up in the encrypted secrets file or the environment.
const (
	secretAnthropicKey = "ANTHROPIC_API_KEY"
	secretOpenAIKey    = "OPENAI_API_KEY"
	secretAPIPassword  = "MAGENTIC_PASSWORD"
)

func main() {
	var projectDir string
	var listenAddr string
	var initSecrets bool
	flag.StringVar(&projectDir, "project", ".", "project directory holding .magentic/")
	flag.StringVar(&listenAddr, "listen", "", "listen address override")
	flag.BoolVar(&initSecrets, "init-secrets", false, "encrypt current credential env vars into the secrets file and exit")
	flag.Parse()

	if err := run(projectDir, listenAddr, initSecrets); err != nil {
		fmt.Fprintf(os.Stderr, "magentic: %v\n", err)
		os.Exit(1)
	}
}

func run(projectDir, listenAddr string, initSecrets bool) error {
	logger := logx.NewLogger("main")

	if err := config.LoadConfig(projectDir); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.ListenAddr = listenAddr
	}

	if initSecrets {
		return writeSecretsFile(projectDir)
	}
	if err := unlockSecrets(projectDir); err != nil {
		return err
	}

	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = filepath.Join(projectDir, ".magentic", "magentic.db")
	}
	db, err := persistence.Open(dbPath)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	store := persistence.NewStore(db)

	logDir := cfg.EventLogDir
	if logDir == "" {
		logDir = filepath.Join(projectDir, ".magentic", "events")
	}
	events, err := eventlog.NewWriter(logDir)
	if err != nil {
		return err
	}
	defer func() { _ = events.Close() }()

	recorder := metrics.NewRecorder()
	hub := channel.NewHub()
	publisher := channel.Tee(hub, channel.PublisherFunc(func(ev *proto.Event) {
		if err := events.Write(ev); err != nil {
			logger.Warn("event log write failed: %v", err)
		}
	}))

	factory := newLLMFactory()
	builder := agents.NewBuilder(factory, bindingFor(cfg), cfg.Orchestrator.PlannerMaxTokens)
	registry := agents.NewRegistry()
	sessions := session.NewStore(builder, registry, publisher, session.StoreOptions{
		ClarifyTimeout: cfg.Orchestrator.ClarifyTimeout,
	})

	plannerClient, err := factory.NewClient(mustBinding(cfg, cfg.Orchestrator.PlannerModel), cfg.Orchestrator.PlannerModel)
	if err != nil {
		return fmt.Errorf("failed to build planner client: %w", err)
	}
	manager := orch.NewManager(orch.NewLLMPlanner(plannerClient), sessions, publisher, store, recorder, orch.Options{
		ApprovalTimeout: cfg.Orchestrator.ApprovalTimeout,
	})

	api := httpapi.NewServer(manager, hub, store, recorder, httpapi.Auth{
		User: cfg.Server.AuthUser,
		Password: func() string {
			password, err := config.GetSecret(secretAPIPassword)
			if err != nil {
				return ""
			}
			return password
		},
	})
	mux := http.NewServeMux()
	api.RegisterRoutes(mux)

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", cfg.Server.ListenAddr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown: %v", err)
	}
	sessions.TeardownAll(shutdownCtx)
	registry.CleanupAll(shutdownCtx)
	hub.Close()
	logger.Info("shutdown complete")
	return nil
}

// newLLMFactory registers one client constructor per provider.
func newLLMFactory() *llm.Factory {
	factory := llm.NewFactory()
	factory.Register(config.ProviderAnthropic, func(b llm.ProviderBinding, model string) (llm.Client, error) {
		if b.APIKey == "" {
			return nil, fmt.Errorf("missing %s", secretAnthropicKey)
		}
		return anthropic.NewClient(b.APIKey, model), nil
	})
	factory.Register(config.ProviderOpenAI, func(b llm.ProviderBinding, model string) (llm.Client, error) {
		if b.APIKey == "" {
			return nil, fmt.Errorf("missing %s", secretOpenAIKey)
		}
		return openai.NewClient(b.APIKey, model), nil
	})
	factory.Register(config.ProviderOllama, func(b llm.ProviderBinding, model string) (llm.Client, error) {
		return ollama.NewClient(b.Host, model), nil
	})
	return factory
}

// bindingFor resolves provider credentials for a model at build time.
func bindingFor(cfg config.Config) agents.BindingFunc {
	return func(model string) (llm.ProviderBinding, error) {
		provider, err := config.ProviderForModel(model)
		if err != nil {
			return llm.ProviderBinding{}, err
		}
		binding := llm.ProviderBinding{Provider: provider, Host: cfg.OllamaHost}
		switch provider {
		case config.ProviderAnthropic:
			binding.APIKey, _ = config.GetSecret(secretAnthropicKey)
		case config.ProviderOpenAI:
			binding.APIKey, _ = config.GetSecret(secretOpenAIKey)
		}
		return binding, nil
	}
}

func mustBinding(cfg config.Config, model string) llm.ProviderBinding {
	binding, err := bindingFor(cfg)(model)
	if err != nil {
		// The planner model was validated at config load.
		panic(err)
	}
	return binding
}

// unlockSecrets decrypts the secrets file if one exists, prompting for the
// project password. Without a file, credentials come from the environment.
func unlockSecrets(projectDir string) error {
	if !config.SecretsFileExists(projectDir) {
		config.LogInfo("no secrets file, using environment credentials")
		return nil
	}
	password, err := promptPassword("Project password: ")
	if err != nil {
		return err
	}
	secrets, err := config.DecryptSecretsFile(projectDir, password)
	if err != nil {
		return fmt.Errorf("failed to decrypt secrets: %w", err)
	}
	config.SetDecryptedSecrets(secrets)
	return nil
}

// writeSecretsFile encrypts the credential env vars into the project's
// secrets file.
func writeSecretsFile(projectDir string) error {
	secrets := make(map[string]string)
	for _, name := range []string{secretAnthropicKey, secretOpenAIKey, secretAPIPassword} {
		if v := os.Getenv(name); v != "" {
			secrets[name] = v
		}
	}
	if len(secrets) == 0 {
		return fmt.Errorf("no credential env vars set, nothing to encrypt")
	}

	password, err := promptPassword("Choose a project password: ")
	if err != nil {
		return err
	}
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		return err
	}
	if password != confirm {
		return fmt.Errorf("passwords do not match")
	}

	if err := config.EncryptSecretsFile(projectDir, password, secrets); err != nil {
		return fmt.Errorf("failed to encrypt secrets: %w", err)
	}
	fmt.Printf("encrypted %d secrets into %s/.magentic/secrets.json.enc\n", len(secrets), projectDir)
	return nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	raw, err := term.ReadPassword(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(raw), nil
}
