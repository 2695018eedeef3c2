package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultExternalHTTPTimeout = 90 * time.Second
const defaultExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)

type Config struct {
	LLMProvider            string   `yaml:"llm_provider"`
	LLMModel               string   `yaml:"llm_model"`
	LLMBaseURL             string   `yaml:"llm_base_url"`
	LLMRequestsPerSecond   float64  `yaml:"llm_requests_per_second"` // negative disables limiting
	LLMMaxTokens           int      `yaml:"llm_max_tokens"`
	LLMTemperature         *float64 `yaml:"llm_temperature"` // nil keeps the generator default
	FollowupAlwaysGenerate bool     `yaml:"followup_always_generate"`
	AnthropicAPIKey        string   `yaml:"anthropic_api_key"`
	OpenAIAPIKey           string   `yaml:"openai_api_key"`
	GeminiAPIKey           string   `yaml:"gemini_api_key"`

	HTTPAddr                   string `yaml:"http_addr"`
	DBPath                     string `yaml:"db_path"`
	TurnTimeoutSeconds         int    `yaml:"turn_timeout_seconds"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`
	DedupeWindowSeconds        int    `yaml:"dedupe_window_seconds"`

	ReportOutputDir string `yaml:"report_output_dir"`
	ReportChannelID string `yaml:"report_channel_id"`
	SlackBotToken   string `yaml:"slack_bot_token"`

	RetentionDays     int    `yaml:"retention_days"`
	RetentionSchedule string `yaml:"retention_schedule"`

	TeamName  string `yaml:"team_name"`
	Timezone  string `yaml:"timezone"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// Load reads .env, then the YAML file at CONFIG_PATH (default config.yaml),
// then environment overrides, and fills defaults before validating.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}

	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMBaseURL, "LLM_BASE_URL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	envOverride(&cfg.HTTPAddr, "HTTP_ADDR")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.ReportOutputDir, "REPORT_OUTPUT_DIR")
	envOverride(&cfg.ReportChannelID, "REPORT_CHANNEL_ID")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.RetentionSchedule, "RETENTION_SCHEDULE")
	envOverride(&cfg.TeamName, "TEAM_NAME")
	envOverride(&cfg.Timezone, "TIMEZONE")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.LogFormat, "LOG_FORMAT")
	envOverrideBool(&cfg.FollowupAlwaysGenerate, "FOLLOWUP_ALWAYS_GENERATE")

	ints := []struct {
		field *int
		key   string
	}{
		{&cfg.LLMMaxTokens, "LLM_MAX_TOKENS"},
		{&cfg.TurnTimeoutSeconds, "TURN_TIMEOUT_SECONDS"},
		{&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"},
		{&cfg.DedupeWindowSeconds, "DEDUPE_WINDOW_SECONDS"},
		{&cfg.RetentionDays, "RETENTION_DAYS"},
	}
	for _, o := range ints {
		if err := envOverrideInt(o.field, o.key); err != nil {
			return Config{}, err
		}
	}
	if err := envOverrideFloat(&cfg.LLMRequestsPerSecond, "LLM_REQUESTS_PER_SECOND"); err != nil {
		return Config{}, err
	}
	if val := os.Getenv("LLM_TEMPERATURE"); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LLM_TEMPERATURE '%s': %w", val, err)
		}
		cfg.LLMTemperature = &parsed
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.LLMProvider = strings.ToLower(strings.TrimSpace(c.LLMProvider))
	if c.LLMProvider == "" {
		c.LLMProvider = "anthropic"
	}
	if c.LLMRequestsPerSecond == 0 {
		c.LLMRequestsPerSecond = 2
	}
	if c.LLMMaxTokens == 0 {
		c.LLMMaxTokens = 4096
	}
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.DBPath == "" {
		c.DBPath = "./pulsecheck.db"
	}
	if c.TurnTimeoutSeconds == 0 {
		c.TurnTimeoutSeconds = 120
	}
	if c.ExternalHTTPTimeoutSeconds == 0 {
		c.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if c.DedupeWindowSeconds == 0 {
		c.DedupeWindowSeconds = 30
	}
	if c.RetentionSchedule == "" {
		c.RetentionSchedule = "0 3 * * *"
	}
	if c.TeamName == "" {
		c.TeamName = "My Team"
	}
	if c.Timezone == "" {
		c.Timezone = "Local"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "json"
	}
}

func (c *Config) validate() error {
	switch c.LLMProvider {
	case "anthropic", "openai", "gemini":
	default:
		return fmt.Errorf("llm_provider must be 'anthropic', 'openai' or 'gemini', got '%s'", c.LLMProvider)
	}
	if c.APIKey() == "" {
		return fmt.Errorf("%s_api_key is required when llm_provider=%s", c.LLMProvider, c.LLMProvider)
	}

	if strings.EqualFold(c.Timezone, "Local") {
		c.Location = time.Local
	} else {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
		}
		c.Location = loc
	}

	if t := c.LLMTemperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("invalid llm_temperature '%g': must be between 0 and 2", *t)
	}
	if c.LLMMaxTokens < 256 {
		return fmt.Errorf("invalid llm_max_tokens '%d': must be >= 256", c.LLMMaxTokens)
	}
	if c.TurnTimeoutSeconds < 1 {
		return fmt.Errorf("invalid turn_timeout_seconds '%d': must be >= 1", c.TurnTimeoutSeconds)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	if c.DedupeWindowSeconds < 0 {
		return fmt.Errorf("invalid dedupe_window_seconds '%d': must be >= 0", c.DedupeWindowSeconds)
	}
	if c.RetentionDays < 0 {
		return fmt.Errorf("invalid retention_days '%d': must be >= 0", c.RetentionDays)
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("log_format must be 'json' or 'console', got '%s'", c.LogFormat)
	}
	return nil
}

// APIKey returns the key for the selected provider.
func (c Config) APIKey() string {
	switch c.LLMProvider {
	case "openai":
		return c.OpenAIAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return c.AnthropicAPIKey
	}
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.ReportChannelID != ""
}

func (c Config) RetentionEnabled() bool {
	return c.RetentionDays > 0
}

func (c Config) TurnTimeout() time.Duration {
	return time.Duration(c.TurnTimeoutSeconds) * time.Second
}

func (c Config) ExternalHTTPTimeout() time.Duration {
	return time.Duration(c.ExternalHTTPTimeoutSeconds) * time.Second
}

func (c Config) DedupeWindow() time.Duration {
	return time.Duration(c.DedupeWindowSeconds) * time.Second
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
}

func envOverrideFloat(field *float64, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}
