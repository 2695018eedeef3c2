package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var configEnvKeys = []string{
	"LLM_PROVIDER", "LLM_MODEL", "LLM_BASE_URL", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY",
	"HTTP_ADDR", "DB_PATH", "REPORT_OUTPUT_DIR", "REPORT_CHANNEL_ID", "SLACK_BOT_TOKEN",
	"RETENTION_SCHEDULE", "TEAM_NAME", "TIMEZONE", "LOG_LEVEL", "LOG_FORMAT", "FOLLOWUP_ALWAYS_GENERATE",
	"LLM_MAX_TOKENS", "TURN_TIMEOUT_SECONDS", "EXTERNAL_HTTP_TIMEOUT_SECONDS", "DEDUPE_WINDOW_SECONDS",
	"RETENTION_DAYS", "LLM_REQUESTS_PER_SECOND", "LLM_TEMPERATURE",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnvKeys {
		t.Setenv(k, "")
	}
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-config.yaml"))
}

func TestLoadFromEnvWithDefaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-test")
	t.Setenv("TIMEZONE", "UTC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLMProvider != "anthropic" {
		t.Fatalf("unexpected provider default: %q", cfg.LLMProvider)
	}
	if cfg.APIKey() != "sk-ant-test" {
		t.Fatalf("unexpected api key: %q", cfg.APIKey())
	}
	if cfg.HTTPAddr != ":8080" || cfg.DBPath != "./pulsecheck.db" {
		t.Fatalf("unexpected defaults: addr=%q db=%q", cfg.HTTPAddr, cfg.DBPath)
	}
	if cfg.ExternalHTTPTimeoutSeconds != int(defaultExternalHTTPTimeout/time.Second) {
		t.Fatalf("unexpected external HTTP timeout default: %d", cfg.ExternalHTTPTimeoutSeconds)
	}
	if cfg.TurnTimeout() != 2*time.Minute || cfg.DedupeWindow() != 30*time.Second {
		t.Fatalf("unexpected durations: turn=%s dedupe=%s", cfg.TurnTimeout(), cfg.DedupeWindow())
	}
	if cfg.LLMRequestsPerSecond != 2 || cfg.LLMMaxTokens != 4096 {
		t.Fatalf("unexpected llm defaults: rps=%f max=%d", cfg.LLMRequestsPerSecond, cfg.LLMMaxTokens)
	}
	if cfg.RetentionEnabled() || cfg.RetentionSchedule != "0 3 * * *" {
		t.Fatalf("unexpected retention defaults: days=%d schedule=%q", cfg.RetentionDays, cfg.RetentionSchedule)
	}
	if cfg.SlackConfigured() {
		t.Fatal("slack should not be configured by default")
	}
	if cfg.LLMTemperature != nil {
		t.Fatalf("expected no temperature override by default, got %v", *cfg.LLMTemperature)
	}
	if cfg.Location == nil || cfg.Location.String() != "UTC" {
		t.Fatalf("unexpected location: %v", cfg.Location)
	}
}

func TestLoadYAMLAndEnvOverride(t *testing.T) {
	clearConfigEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm_provider: "anthropic"
anthropic_api_key: "yaml-anthropic"
team_name: "YAML Team"
timezone: "America/Los_Angeles"
db_path: "/tmp/yaml.db"
report_output_dir: "/tmp/yaml-reports"
report_channel_id: "C123"
slack_bot_token: "xoxb-yaml"
retention_days: 30
followup_always_generate: true
external_http_timeout_seconds: 75
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("LLM_PROVIDER", "Gemini")
	t.Setenv("GEMINI_API_KEY", "g-env")
	t.Setenv("TEAM_NAME", "Env Team")
	t.Setenv("EXTERNAL_HTTP_TIMEOUT_SECONDS", "120")
	t.Setenv("LLM_REQUESTS_PER_SECOND", "-1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLMProvider != "gemini" || cfg.APIKey() != "g-env" {
		t.Fatalf("expected gemini from env override, got %q key=%q", cfg.LLMProvider, cfg.APIKey())
	}
	if cfg.TeamName != "Env Team" {
		t.Fatalf("expected team name from env override, got %q", cfg.TeamName)
	}
	if cfg.DBPath != "/tmp/yaml.db" || cfg.ReportOutputDir != "/tmp/yaml-reports" {
		t.Fatalf("expected paths from yaml, got db=%q reports=%q", cfg.DBPath, cfg.ReportOutputDir)
	}
	if cfg.ExternalHTTPTimeoutSeconds != 120 {
		t.Fatalf("expected external HTTP timeout from env override, got %d", cfg.ExternalHTTPTimeoutSeconds)
	}
	if !cfg.FollowupAlwaysGenerate || !cfg.SlackConfigured() || !cfg.RetentionEnabled() {
		t.Fatalf("expected yaml flags to load: %+v", cfg)
	}
	if cfg.LLMRequestsPerSecond != -1 {
		t.Fatalf("expected negative rate to disable limiting, got %f", cfg.LLMRequestsPerSecond)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "unknown provider", env: map[string]string{"LLM_PROVIDER": "cohere"}, want: "llm_provider must be"},
		{name: "missing key", env: map[string]string{"LLM_PROVIDER": "openai", "ANTHROPIC_API_KEY": "x"}, want: "openai_api_key is required"},
		{name: "short timeout", env: map[string]string{"ANTHROPIC_API_KEY": "x", "EXTERNAL_HTTP_TIMEOUT_SECONDS": "2"}, want: "external_http_timeout_seconds"},
		{name: "bad int", env: map[string]string{"ANTHROPIC_API_KEY": "x", "RETENTION_DAYS": "soon"}, want: "invalid RETENTION_DAYS"},
		{name: "bad timezone", env: map[string]string{"ANTHROPIC_API_KEY": "x", "TIMEZONE": "Mars/Olympus"}, want: "invalid timezone"},
		{name: "bad log format", env: map[string]string{"ANTHROPIC_API_KEY": "x", "LOG_FORMAT": "xml"}, want: "log_format"},
		{name: "bad temperature", env: map[string]string{"ANTHROPIC_API_KEY": "x", "LLM_TEMPERATURE": "warm"}, want: "invalid LLM_TEMPERATURE"},
		{name: "temperature out of range", env: map[string]string{"ANTHROPIC_API_KEY": "x", "LLM_TEMPERATURE": "2.5"}, want: "llm_temperature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadKeepsZeroTemperature(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "x")
	t.Setenv("LLM_TEMPERATURE", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLMTemperature == nil || *cfg.LLMTemperature != 0 {
		t.Fatalf("expected explicit zero temperature, got %v", cfg.LLMTemperature)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	clearConfigEnv(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("llm_provider: [unterminated"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", cfgPath)
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parsing") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestEnvOverrideHelpers(t *testing.T) {
	s := "initial"
	t.Setenv("PC_TEST_STR", "value")
	envOverride(&s, "PC_TEST_STR")
	if s != "value" {
		t.Fatalf("envOverride failed, got %q", s)
	}

	i := 1
	t.Setenv("PC_TEST_INT", "42")
	if err := envOverrideInt(&i, "PC_TEST_INT"); err != nil || i != 42 {
		t.Fatalf("envOverrideInt failed, got %d err=%v", i, err)
	}

	f := 0.1
	t.Setenv("PC_TEST_FLOAT", "0.75")
	if err := envOverrideFloat(&f, "PC_TEST_FLOAT"); err != nil || f != 0.75 {
		t.Fatalf("envOverrideFloat failed, got %f err=%v", f, err)
	}

	b := false
	t.Setenv("PC_TEST_BOOL", "TRUE")
	envOverrideBool(&b, "PC_TEST_BOOL")
	if !b {
		t.Fatal("envOverrideBool failed")
	}
}
