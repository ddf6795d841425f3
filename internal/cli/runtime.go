package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/selcan/mira/internal/config"
	"github.com/selcan/mira/internal/logger"
	"github.com/selcan/mira/internal/observability"
	"github.com/selcan/mira/internal/tracing"
	"github.com/selcan/mira/pkg/agent"
	"github.com/selcan/mira/pkg/browser"
	"github.com/selcan/mira/pkg/commandqueue"
	"github.com/selcan/mira/pkg/coretools"
	"github.com/selcan/mira/pkg/memory"
	"github.com/selcan/mira/pkg/session"
	"github.com/selcan/mira/pkg/tasks"
	"github.com/selcan/mira/pkg/toolexec"
)

// runtime bundles everything a command needs to run the assistant:
// session store, tool executor with its guards, memory, tasks, and the
// agent runner on top.
type runtime struct {
	cfg      *config.Config
	log      *logger.Logger
	sessions *session.Manager
	executor *toolexec.Executor
	queue    *commandqueue.CommandQueue
	memory   *memory.Manager
	tasks    *tasks.Manager
	runner   *agent.Runner
	exec     toolexec.ExecContext
}

// runtimeOptions tweaks assembly per command.
type runtimeOptions struct {
	// console mirrors logs to stderr; off for ask/chat so replies
	// stay readable
	console bool
}

// buildRuntime loads config and assembles the assistant. Close releases
// everything in reverse order.
func buildRuntime(opts runtimeOptions) (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	lg, err := logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Console:   opts.console,
		Pretty:    opts.console,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, err
	}
	zl := lg.GetZerolog()

	if err := tracing.InitOpenTelemetry("mira"); err != nil {
		zl.Warn().Err(err).Msg("Tracing disabled")
	}
	if err := observability.OpenAuditLog(filepath.Join(cfg.DataDir, "audit.log")); err != nil {
		zl.Warn().Err(err).Msg("Audit trail disabled")
	}

	rt := &runtime{cfg: cfg, log: lg}

	sessions, err := session.New(filepath.Join(cfg.DataDir, "sessions"))
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	rt.sessions = sessions

	perms, err := toolexec.LoadPermissions(cfg.Tools.PermissionsFile)
	if err != nil {
		rt.Close()
		return nil, err
	}

	root := cfg.WorkspaceRoot
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			rt.Close()
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
	}
	paths, err := toolexec.NewPathGuard(root, perms)
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.exec = toolexec.ExecContext{
		SandboxRoot: root,
		Paths:       paths,
		Commands:    toolexec.NewCommandGuard(perms),
		Confirm:     toolexec.NewConfirmationGate(perms),
		Permissions: perms,
		Stats:       toolexec.NewStatCache(),
		DataDir:     cfg.DataDir,
		MaxOutput:   cfg.Tools.MaxOutput,
		Timeout:     time.Duration(cfg.Tools.TimeoutSeconds) * time.Second,
	}

	executor := toolexec.New()
	if err := coretools.RegisterTools(executor); err != nil {
		rt.Close()
		return nil, err
	}
	rt.executor = executor

	mem, err := memory.NewManager(memory.Config{
		Dir:      cfg.Memory.Dir,
		Logger:   zl,
		Embedder: buildEmbedder(cfg),
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open memory: %w", err)
	}
	rt.memory = mem
	if err := mem.RegisterTools(executor); err != nil {
		rt.Close()
		return nil, err
	}

	tm, err := tasks.NewManager(tasks.Config{
		Dir:    cfg.Tasks.Dir,
		Logger: zl,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to open task list: %w", err)
	}
	rt.tasks = tm
	if err := tm.RegisterTools(executor); err != nil {
		rt.Close()
		return nil, err
	}

	fetcher := browser.NewFetcher(browser.Config{
		Logger:     zl,
		AllowLocal: cfg.Browser.AllowLocal,
		BrowserBin: cfg.Browser.BrowserBin,
		NoSandbox:  cfg.Browser.NoSandbox,
		WeatherURL: cfg.Browser.WeatherURL,
	})
	if err := fetcher.RegisterTools(executor); err != nil {
		rt.Close()
		return nil, err
	}

	rt.queue = commandqueue.New()

	runner, err := agent.NewRunner(agent.Config{
		Sessions: sessions,
		Executor: executor,
		Queue:    rt.queue,
		Memory:   mem,
		Logger:   zl,
		Profiles: agentProfiles(cfg),
		Exec:     rt.exec,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.runner = runner

	return rt, nil
}

// Close releases runtime resources. Safe on a partially built runtime.
func (rt *runtime) Close() {
	if rt.queue != nil {
		rt.queue.Close()
	}
	if rt.memory != nil {
		if err := rt.memory.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close memory")
		}
	}
	if rt.sessions != nil {
		rt.sessions.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := tracing.ShutdownOpenTelemetry(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush traces")
	}
	if err := observability.CloseAuditLog(); err != nil {
		log.Warn().Err(err).Msg("Failed to close audit trail")
	}

	if rt.log != nil {
		_ = rt.log.Close()
	}
}

// runConfig builds a per-run config from the loaded settings. An empty
// model picks the configured default; aliases expand.
func (rt *runtime) runConfig(model string) agent.RunConfig {
	rc := agent.DefaultRunConfig()
	rc.Model = rt.cfg.Models.Resolve(model)
	if rt.cfg.Agent.Temperature > 0 {
		rc.Temperature = rt.cfg.Agent.Temperature
	}
	if rt.cfg.Agent.MaxTokens > 0 {
		rc.MaxTokens = rt.cfg.Agent.MaxTokens
	}
	if rt.cfg.Agent.MaxTurns > 0 {
		rc.MaxTurns = rt.cfg.Agent.MaxTurns
	}
	rc.SystemPrompt = rt.cfg.Agent.SystemPrompt
	rc.UseMemory = rt.cfg.Agent.UseMemory
	return rc
}

// agentProfiles maps configured credential profiles to the runner's
// form, highest priority first.
func agentProfiles(cfg *config.Config) []agent.Profile {
	profiles := make([]agent.Profile, 0, len(cfg.AI.Profiles))
	for _, p := range cfg.AI.Profiles {
		profiles = append(profiles, agent.Profile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Priority: p.Priority,
		})
	}
	sort.SliceStable(profiles, func(i, j int) bool { return profiles[i].Priority < profiles[j].Priority })
	return profiles
}

// buildEmbedder returns an embedder when embeddings are enabled and an
// OpenAI key is configured; memory falls back to keyword search without
// one.
func buildEmbedder(cfg *config.Config) memory.Embedder {
	if !cfg.Memory.Embeddings {
		return nil
	}
	for _, p := range cfg.AI.Profiles {
		if p.Provider == "openai" && p.APIKey != "" {
			return memory.NewOpenAIEmbedder(p.APIKey, cfg.Memory.EmbeddingModel)
		}
	}
	return nil
}
