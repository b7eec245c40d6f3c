package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"agent": {"profile": "researcher"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected server address: %s", cfg.Server.Address)
	}
	if cfg.Agent.Profile != "researcher" {
		t.Fatalf("profile not preserved: %s", cfg.Agent.Profile)
	}
	if cfg.Agent.MaxCycles != 25 || cfg.Agent.MaxParseAttempts != 3 {
		t.Fatalf("agent defaults missing: %+v", cfg.Agent)
	}
	if cfg.Storage.TaskStore.Driver != "memory" || cfg.TaskQueue.Driver != "memory" {
		t.Fatalf("storage defaults missing: %+v %+v", cfg.Storage, cfg.TaskQueue)
	}
	if cfg.Auth.Mode != "disabled" || cfg.Auth.Store.Driver != "memory" {
		t.Fatalf("auth defaults missing: %+v", cfg.Auth)
	}
	if cfg.Agent.Knowledge.MaxResults != 3 {
		t.Fatalf("knowledge default missing: %+v", cfg.Agent.Knowledge)
	}
	if !filepath.IsAbs(cfg.Runtime.DataDir) {
		t.Fatalf("data dir must be absolute: %s", cfg.Runtime.DataDir)
	}
}

func TestLoadResolvesRelativePaths(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{"runtime": {"data_dir": "state"}, "llm": {"command_bridge": {"working_dir": "scripts"}}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	base := filepath.Dir(path)
	if cfg.Runtime.DataDir != filepath.Join(base, "state") {
		t.Fatalf("data dir not resolved: %s", cfg.Runtime.DataDir)
	}
	if cfg.LLM.Command.WorkingDir != filepath.Join(base, "scripts") {
		t.Fatalf("working dir not resolved: %s", cfg.LLM.Command.WorkingDir)
	}
}

func TestLoadFullSections(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `{
        "task_queue": {"driver": "redis", "redis": {"address": "127.0.0.1:6379", "queue": "runs"}},
        "storage": {"task_store": {"driver": "mysql", "dsn": "user:pass@tcp(db:3306)/agent"}},
        "blocks": {"weather_api_key": "wk", "cache": {"enabled": true, "address": "127.0.0.1:6379"}},
        "integrations": [{"name": "github", "client_id": "id", "auth_url": "https://x/auth", "token_url": "https://x/token"}]
    }`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.TaskQueue.Driver != "redis" || cfg.TaskQueue.Redis.Queue != "runs" {
		t.Fatalf("queue section: %+v", cfg.TaskQueue)
	}
	if cfg.Storage.TaskStore.Driver != "mysql" {
		t.Fatalf("storage section: %+v", cfg.Storage)
	}
	if !cfg.Blocks.Cache.Enabled || cfg.Blocks.WeatherAPIKey != "wk" {
		t.Fatalf("blocks section: %+v", cfg.Blocks)
	}
	if len(cfg.Integrations) != 1 || cfg.Integrations[0].Name != "github" {
		t.Fatalf("integrations section: %+v", cfg.Integrations)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Load(writeConfig(t, `{invalid`)); err == nil {
		t.Fatalf("expected error for invalid json")
	}
}
