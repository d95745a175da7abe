// Package config loads agentd's configuration: provider selection, the
// agent loop's safety limits, the sandboxed project root, and the preview
// child's command/port. The on-disk format and $include/json5/env-expand
// loading pipeline (loader.go) are carried over from the teacher's config
// package; the Config struct itself is new, scoped to a single-participant
// coding assistant rather than a multi-channel chat gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is agentd's full configuration.
type Config struct {
	// Version is the config file format version, checked against
	// CurrentVersion (version.go) before anything else is decoded.
	Version int `yaml:"version"`

	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Provider  ProviderConfig  `yaml:"provider"`
	Loop      LoopConfig      `yaml:"loop"`
	Preview   PreviewConfig   `yaml:"preview"`
	RepoMap   RepoMapConfig   `yaml:"repo_map"`
	Exec      ExecConfig      `yaml:"exec"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the C1 Session Gateway's HTTP/WS listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// MetricsPort serves Prometheus metrics (internal/observability). Zero
	// disables the metrics listener.
	MetricsPort int `yaml:"metrics_port"`
}

// WorkspaceConfig identifies the sandboxed project directory every file
// tool, the Change Detector, and the Repo-Map builder operate under.
type WorkspaceConfig struct {
	// Root is the project directory; all tool paths are resolved and
	// contained relative to it (spec.md §4.3 "Path traversal blocked").
	Root string `yaml:"root"`
}

// ProviderConfig selects and configures the LLM backend (spec.md §6).
type ProviderConfig struct {
	// Name selects the provider: "anthropic" or "bedrock".
	Name string `yaml:"name"`

	// Model is the default model ID. For bedrock, an ID carrying a
	// region prefix (e.g. "us.anthropic.claude-...") selects the Bedrock
	// cross-region inference profile; see the bedrock provider's model
	// catalog.
	Model string `yaml:"model"`

	Anthropic AnthropicConfig `yaml:"anthropic"`
	Bedrock   BedrockConfig   `yaml:"bedrock"`
}

// AnthropicConfig configures the anthropic-sdk-go-backed provider.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// BedrockConfig configures the aws-sdk-go-v2 bedrockruntime-backed provider.
type BedrockConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// LoopConfig exposes the agent loop's process-wide safety limits (spec.md
// §9) for operator tuning; zero values fall back to internal/agent's
// defaults in LoopConfig.withDefaults.
type LoopConfig struct {
	IterationLimit        int `yaml:"iteration_limit"`
	ReasoningBudgetTokens int `yaml:"reasoning_budget_tokens"`
	MaxOutputTokens       int `yaml:"max_output_tokens"`
	MaxSubagentDepth      int `yaml:"max_subagent_depth"`
}

// PreviewConfig configures the dev-server preview child (spec.md §4.3
// restart_preview, §9 previewPort).
type PreviewConfig struct {
	Command string `yaml:"command"`
	Port    int    `yaml:"port"`
}

// RepoMapConfig configures the C4 Repo-Map builder.
type RepoMapConfig struct {
	CharBudget int `yaml:"char_budget"`
}

// ExecConfig gates what the Bash tool is allowed to run (spec.md §4.3),
// grounded on the teacher's internal/infra exec-approvals shape but resolved
// once from config rather than a per-agent JSON file on disk: "deny" blocks
// everything, "allowlist" requires each resolved executable to match an
// AllowlistPattern (or be a stdin-only safe binary), "full" (the default)
// runs anything, matching the teacher's own default posture.
type ExecConfig struct {
	Security  string             `yaml:"security"`
	Allowlist []AllowlistPattern `yaml:"allowlist"`
}

// AllowlistPattern permits one glob-matched resolved executable path.
type AllowlistPattern struct {
	Pattern string `yaml:"pattern"`
}

// LoggingConfig configures the slog handler (internal/observability).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path (and any $include fragments it references), applies
// environment-variable overrides, fills in defaults, and validates the
// result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}

	if cfg.Workspace.Root == "" {
		cfg.Workspace.Root = "."
	}

	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "anthropic"
	}

	if cfg.Loop.IterationLimit == 0 {
		cfg.Loop.IterationLimit = 30
	}
	if cfg.Loop.ReasoningBudgetTokens == 0 {
		cfg.Loop.ReasoningBudgetTokens = 8192
	}
	if cfg.Loop.MaxOutputTokens == 0 {
		cfg.Loop.MaxOutputTokens = 16384
	}
	if cfg.Loop.MaxSubagentDepth == 0 {
		cfg.Loop.MaxSubagentDepth = 3
	}

	if cfg.Preview.Port == 0 {
		cfg.Preview.Port = 3000
	}

	if cfg.RepoMap.CharBudget == 0 {
		cfg.RepoMap.CharBudget = 16000
	}

	if cfg.Exec.Security == "" {
		cfg.Exec.Security = "full"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if value := strings.TrimSpace(os.Getenv("AGENTD_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENTD_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGENTD_WORKSPACE")); value != "" {
		cfg.Workspace.Root = value
	}
	if value := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); value != "" {
		cfg.Provider.Anthropic.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv("AWS_REGION")); value != "" {
		cfg.Provider.Bedrock.Region = value
	}
}

// ConfigValidationError aggregates every config problem found, grounded on
// the teacher's own config.go pattern of collecting issues rather than
// failing on the first one.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}
	var issues []string

	switch strings.ToLower(strings.TrimSpace(cfg.Provider.Name)) {
	case "anthropic", "bedrock":
	default:
		issues = append(issues, `provider.name must be "anthropic" or "bedrock"`)
	}

	if cfg.Provider.Name == "anthropic" && strings.TrimSpace(cfg.Provider.Anthropic.APIKey) == "" {
		issues = append(issues, "provider.anthropic.api_key is required when provider.name is \"anthropic\"")
	}
	if cfg.Provider.Name == "bedrock" && strings.TrimSpace(cfg.Provider.Bedrock.Region) == "" {
		issues = append(issues, "provider.bedrock.region is required when provider.name is \"bedrock\"")
	}

	if info, err := os.Stat(cfg.Workspace.Root); err != nil || !info.IsDir() {
		issues = append(issues, fmt.Sprintf("workspace.root %q must be an existing directory", cfg.Workspace.Root))
	}

	if cfg.Loop.IterationLimit <= 0 {
		issues = append(issues, "loop.iteration_limit must be > 0")
	}
	if cfg.Loop.MaxOutputTokens <= cfg.Loop.ReasoningBudgetTokens {
		issues = append(issues, "loop.max_output_tokens must be greater than loop.reasoning_budget_tokens")
	}
	if cfg.Loop.MaxSubagentDepth <= 0 {
		issues = append(issues, "loop.max_subagent_depth must be > 0")
	}

	if cfg.RepoMap.CharBudget <= 0 {
		issues = append(issues, "repo_map.char_budget must be > 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Exec.Security)) {
	case "full", "allowlist", "deny":
	default:
		issues = append(issues, `exec.security must be "full", "allowlist", or "deny"`)
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

// ResolveWorkspaceRoot returns the workspace root as an absolute path.
func (c *Config) ResolveWorkspaceRoot() (string, error) {
	return filepath.Abs(c.Workspace.Root)
}
