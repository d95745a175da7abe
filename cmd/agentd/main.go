// Command agentd is the per-participant coding assistant backend (spec.md
// §1): one process drives one LLM through a streaming tool-use loop to edit
// files in a sandboxed project directory, while a browser client watches
// the session over a duplex WebSocket.
//
// Environment variables:
//
//	AGENTD_CONFIG      - path to the config file (default: ./agentd.yaml)
//	AGENTD_HOST        - overrides server.host
//	AGENTD_PORT        - overrides server.port
//	AGENTD_WORKSPACE   - overrides workspace.root
//	ANTHROPIC_API_KEY  - overrides provider.anthropic.api_key
//	AWS_REGION         - overrides provider.bedrock.region
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus/internal/agent"
	"github.com/haasonsaas/nexus/internal/agent/providers"
	"github.com/haasonsaas/nexus/internal/changedetector"
	"github.com/haasonsaas/nexus/internal/config"
	"github.com/haasonsaas/nexus/internal/gateway"
	"github.com/haasonsaas/nexus/internal/infra"
	"github.com/haasonsaas/nexus/internal/observability"
	"github.com/haasonsaas/nexus/internal/preview"
	"github.com/haasonsaas/nexus/internal/repomap"
	exectools "github.com/haasonsaas/nexus/internal/tools/exec"
	"github.com/haasonsaas/nexus/internal/tools/files"
	previewtool "github.com/haasonsaas/nexus/internal/tools/preview"
	"github.com/haasonsaas/nexus/internal/tools/task"
)

// version/commit/date are populated at build time:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// sessionIdleThreshold is how long a session can go without inbound or
// outbound traffic before /healthz flags it idle. A participant reading a
// long diff easily outlasts this; it exists to catch a connection stuck
// mid-turn, not to police think time.
const sessionIdleThreshold = 30 * time.Minute

var configPath string

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agentd",
		Short: "agentd - per-participant coding assistant backend",
		Long: `agentd drives an LLM through a streaming tool-use loop that edits files in
a sandboxed project directory, and exposes the session to a browser client
over a duplex WebSocket.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "agentd.yaml", "path to the config file (or set AGENTD_CONFIG)")

	rootCmd.AddCommand(buildServeCmd(), buildVersionCmd())
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("agentd %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}

func resolveConfigPath() string {
	if path := os.Getenv("AGENTD_CONFIG"); path != "" {
		return path
	}
	return configPath
}

func buildServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the session gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "override server.host")
	cmd.Flags().IntVar(&port, "port", 0, "override server.port")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger := newLogger(cfg.Logging)

	machine := infra.GetMachineDisplayName()
	osSummary := infra.ResolveOSSummary()
	logger.Info("starting agentd",
		"version", version,
		"commit", commit,
		"provider", cfg.Provider.Name,
		"machine", machine,
		"os", osSummary.Label,
	)

	workspaceRoot, err := cfg.ResolveWorkspaceRoot()
	if err != nil {
		return fmt.Errorf("resolving workspace root: %w", err)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("building provider: %w", err)
	}

	registry, fileReader, previewMgr := buildToolRegistry(cfg, workspaceRoot, logger)

	loop := agent.NewLoop(provider, registry, fileReader, agent.LoopConfig{
		Model:                 cfg.Provider.Model,
		IterationLimit:        cfg.Loop.IterationLimit,
		ReasoningBudgetTokens: cfg.Loop.ReasoningBudgetTokens,
		MaxOutputTokens:       cfg.Loop.MaxOutputTokens,
		MaxSubagentDepth:      cfg.Loop.MaxSubagentDepth,
	})

	watcher, err := changedetector.NewWatcher(workspaceRoot, logger)
	if err != nil {
		return fmt.Errorf("starting change detector: %w", err)
	}
	loop.SetSnapshotWatcher(watcher)

	metrics := observability.NewMetrics()
	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "agentd",
		ServiceVersion: version,
	})

	mapBuilder := repomap.NewBuilder(tracer, metrics)
	if summary, err := mapBuilder.Build(ctx, workspaceRoot); err != nil {
		logger.Warn("initial repo-map build failed", "error", err)
	} else {
		loop.SetRepoMap(summary)
	}

	health := infra.NewHealthCheckRegistry()
	health.RegisterSimple("workspace", func(context.Context) error {
		if info, err := os.Stat(workspaceRoot); err != nil || !info.IsDir() {
			return fmt.Errorf("workspace root unavailable: %s", workspaceRoot)
		}
		return nil
	})

	gatewayServer := gateway.NewServer(loop, logger)
	health.RegisterSimple("activity", func(context.Context) error {
		status := gatewayServer.ActivityHealth(sessionIdleThreshold)
		if status.TotalChannels > 0 && status.IdleChannels == status.TotalChannels {
			return fmt.Errorf("session idle for %s", status.IdleDuration)
		}
		return nil
	})

	mux := http.NewServeMux()
	mux.Handle("/", gatewayServer)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/usage", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(loop.UsageSummary())
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		report := health.CheckAll(r.Context())
		status := http.StatusOK
		if !report.IsHealthy() {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(report)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	shutdown := infra.NewShutdownCoordinator(15*time.Second, logger)
	shutdown.RegisterService("http-server", func(ctx context.Context) error {
		return httpServer.Shutdown(ctx)
	})
	shutdown.RegisterService("change-detector", func(context.Context) error {
		return watcher.Close()
	})
	if previewMgr != nil {
		shutdown.RegisterConnection("preview", func(ctx context.Context) error {
			return previewMgr.Stop(ctx)
		})
	}
	shutdown.RegisterConnection("tracer", func(ctx context.Context) error {
		return shutdownTracer(ctx)
	})

	done := shutdown.OnSignal()

	logger.Info("listening", "addr", addr)
	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
			return
		}
		serveErrCh <- nil
	}()

	select {
	case <-done:
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
		}
		shutdown.Shutdown(context.Background())
	}
	return nil
}

// newLogger builds the slog logger every ambient component (gateway,
// preview, changedetector) expects, configured from cfg.Logging.
func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// buildProvider selects the Anthropic or Bedrock provider per spec.md §9: a
// model ID carrying a region prefix (e.g. "us.anthropic.claude-...") always
// means Bedrock's cross-region inference profile, regardless of
// provider.name, since such an ID is meaningless to the direct Anthropic API.
func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	name := cfg.Provider.Name
	if looksLikeBedrockModelID(cfg.Provider.Model) {
		name = "bedrock"
	}

	switch name {
	case "bedrock":
		return providers.NewBedrockProvider(providers.BedrockConfig{
			Region:          cfg.Provider.Bedrock.Region,
			AccessKeyID:     cfg.Provider.Bedrock.AccessKeyID,
			SecretAccessKey: cfg.Provider.Bedrock.SecretAccessKey,
			DefaultModel:    cfg.Provider.Model,
		})
	default:
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       cfg.Provider.Anthropic.APIKey,
			BaseURL:      cfg.Provider.Anthropic.BaseURL,
			DefaultModel: cfg.Provider.Model,
		})
	}
}

func looksLikeBedrockModelID(model string) bool {
	for _, prefix := range []string{"us.", "eu.", "apac.", "au."} {
		if len(model) > len(prefix) && model[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// buildToolRegistry wires every C3 tool (spec.md §4.3) into a fresh
// registry, gating Bash's command execution with a CommandGuard built from
// cfg.Exec.
func buildToolRegistry(cfg *config.Config, workspaceRoot string, logger *slog.Logger) (*agent.ToolRegistry, agent.FileReader, *preview.Manager) {
	registry := agent.NewToolRegistry()

	filesCfg := files.Config{Workspace: workspaceRoot}
	registry.Register(files.NewReadTool(filesCfg))
	registry.Register(files.NewWriteTool(filesCfg))
	registry.Register(files.NewEditTool(filesCfg))
	registry.Register(files.NewListTool(filesCfg))
	registry.Register(files.NewSearchTool(filesCfg))
	registry.Register(files.NewGlobTool(filesCfg))
	registry.Register(files.NewApplyPatchTool(filesCfg))

	allowlist := make([]infra.AllowlistEntry, 0, len(cfg.Exec.Allowlist))
	for _, entry := range cfg.Exec.Allowlist {
		allowlist = append(allowlist, infra.AllowlistEntry{Pattern: entry.Pattern})
	}
	manager := exectools.NewManager(workspaceRoot).WithGuard(exectools.NewCommandGuard(exectools.GuardConfig{
		Security:  infra.ExecSecurity(cfg.Exec.Security),
		Allowlist: allowlist,
	}))
	registry.Register(exectools.NewExecTool("Bash", manager))
	registry.Register(exectools.NewProcessTool(manager))

	registry.Register(task.NewTool())

	var previewMgr *preview.Manager
	if cfg.Preview.Command != "" {
		previewMgr = preview.NewManager(preview.Config{
			Command: cfg.Preview.Command,
			Dir:     workspaceRoot,
			Port:    cfg.Preview.Port,
		}, logger)
		registry.Register(previewtool.NewTool(previewMgr))
	}

	resolver := files.Resolver{Root: workspaceRoot}
	fileReader := func(path string) (string, bool) {
		full, err := resolver.Resolve(path)
		if err != nil {
			return "", false
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return "", false
		}
		return string(data), true
	}

	return registry, fileReader, previewMgr
}
