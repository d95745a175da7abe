package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "agentd.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	workspace := t.TempDir()
	path := writeConfig(t, `
version: 1
workspace:
  root: `+workspace+`
provider:
  name: anthropic
  anthropic:
    api_key: sk-test
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8090 {
		t.Fatalf("expected default server port 8090, got %d", cfg.Server.Port)
	}
	if cfg.Loop.IterationLimit != 30 {
		t.Fatalf("expected default iteration limit 30, got %d", cfg.Loop.IterationLimit)
	}
	if cfg.Loop.MaxOutputTokens != 16384 || cfg.Loop.ReasoningBudgetTokens != 8192 {
		t.Fatalf("unexpected loop token defaults: %+v", cfg.Loop)
	}
	if cfg.Preview.Port != 3000 {
		t.Fatalf("expected default preview port 3000, got %d", cfg.Preview.Port)
	}
	if cfg.RepoMap.CharBudget != 16000 {
		t.Fatalf("expected default repo-map char budget 16000, got %d", cfg.RepoMap.CharBudget)
	}
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	workspace := t.TempDir()
	path := writeConfig(t, `
version: 1
workspace:
  root: `+workspace+`
provider:
  name: openai
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "provider.name") {
		t.Fatalf("expected provider.name error, got %v", err)
	}
}

func TestLoadRequiresAnthropicAPIKey(t *testing.T) {
	workspace := t.TempDir()
	path := writeConfig(t, `
version: 1
workspace:
  root: `+workspace+`
provider:
  name: anthropic
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "anthropic.api_key") {
		t.Fatalf("expected anthropic.api_key error, got %v", err)
	}
}

func TestLoadRejectsMissingWorkspace(t *testing.T) {
	path := writeConfig(t, `
version: 1
workspace:
  root: /nonexistent/path/for/agentd/tests
provider:
  name: anthropic
  anthropic:
    api_key: sk-test
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "workspace.root") {
		t.Fatalf("expected workspace.root error, got %v", err)
	}
}

func TestLoadRejectsMissingVersion(t *testing.T) {
	workspace := t.TempDir()
	path := writeConfig(t, `
workspace:
  root: `+workspace+`
provider:
  name: anthropic
  anthropic:
    api_key: sk-test
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected version validation error")
	}
	if !strings.Contains(err.Error(), "config version") {
		t.Fatalf("expected config version error, got %v", err)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	workspace := t.TempDir()
	dir := t.TempDir()

	providerFragment := filepath.Join(dir, "provider.yaml")
	if err := os.WriteFile(providerFragment, []byte(`
provider:
  name: anthropic
  anthropic:
    api_key: sk-test
`), 0o644); err != nil {
		t.Fatalf("write fragment: %v", err)
	}

	main := filepath.Join(dir, "agentd.yaml")
	if err := os.WriteFile(main, []byte(`
version: 1
$include: provider.yaml
workspace:
  root: `+workspace+`
`), 0o644); err != nil {
		t.Fatalf("write main config: %v", err)
	}

	cfg, err := Load(main)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Provider.Anthropic.APIKey != "sk-test" {
		t.Fatalf("expected included api_key to merge, got %+v", cfg.Provider)
	}
}
