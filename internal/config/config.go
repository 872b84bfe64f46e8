package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/MEKXH/opsdesk/internal/policy"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config root configuration
type Config struct {
	Agent      AgentConfig      `mapstructure:"agent" json:"agent"`
	Providers  ProvidersConfig  `mapstructure:"providers" json:"providers"`
	Compaction CompactionConfig `mapstructure:"compaction" json:"compaction"`
	Store      StoreConfig      `mapstructure:"store" json:"store"`
	Approval   ApprovalConfig   `mapstructure:"approval" json:"approval"`
	Policy     PolicyConfig     `mapstructure:"policy" json:"policy"`
	Tools      ToolsConfig      `mapstructure:"tools" json:"tools"`
	Gateway    GatewayConfig    `mapstructure:"gateway" json:"gateway"`
	Log        LogConfig        `mapstructure:"log" json:"log"`
	Schedules  []ScheduleConfig `mapstructure:"schedules" json:"schedules"`
}

// AgentConfig agent parameters
type AgentConfig struct {
	Name              string  `mapstructure:"name" json:"name"`
	Workspace         string  `mapstructure:"workspace" json:"workspace"`
	WorkspaceMode     string  `mapstructure:"workspace_mode" json:"workspace_mode"`
	Model             string  `mapstructure:"model" json:"model"`
	MaxTokens         int     `mapstructure:"max_tokens" json:"max_tokens"`
	Temperature       float64 `mapstructure:"temperature" json:"temperature"`
	MaxToolIterations int     `mapstructure:"max_tool_iterations" json:"max_tool_iterations"`
	SystemPrompt      string  `mapstructure:"system_prompt" json:"system_prompt,omitempty"`
}

// ProvidersConfig LLM provider settings
type ProvidersConfig struct {
	OpenRouter ProviderConfig `mapstructure:"openrouter" json:"openrouter"`
	Claude     ProviderConfig `mapstructure:"claude" json:"claude"`
	OpenAI     ProviderConfig `mapstructure:"openai" json:"openai"`
	DeepSeek   ProviderConfig `mapstructure:"deepseek" json:"deepseek"`
	Ollama     ProviderConfig `mapstructure:"ollama" json:"ollama"`
}

// ProviderConfig single provider settings
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key" json:"api_key"`
	BaseURL string `mapstructure:"base_url" json:"base_url"`
}

// CompactionConfig history compaction settings. Model falls back to the
// agent model.
type CompactionConfig struct {
	Enabled                   bool   `mapstructure:"enabled" json:"enabled"`
	Model                     string `mapstructure:"model" json:"model,omitempty"`
	ToolResultCharThreshold   int    `mapstructure:"tool_result_char_threshold" json:"tool_result_char_threshold"`
	SummarizerInputCharLimit  int    `mapstructure:"summarizer_input_char_limit" json:"summarizer_input_char_limit"`
	TokenThreshold            int    `mapstructure:"token_threshold" json:"token_threshold"`
	MinMessages               int    `mapstructure:"min_messages" json:"min_messages"`
	MinKeepMessages           int    `mapstructure:"min_keep_messages" json:"min_keep_messages"`
	TranscriptToolResultChars int    `mapstructure:"transcript_tool_result_chars" json:"transcript_tool_result_chars"`
	TimeoutSeconds            int    `mapstructure:"timeout_seconds" json:"timeout_seconds"`
}

// StoreConfig conversation store settings. Empty paths resolve under the
// workspace state directory.
type StoreConfig struct {
	Driver          string      `mapstructure:"driver" json:"driver"`
	SQLitePath      string      `mapstructure:"sqlite_path" json:"sqlite_path,omitempty"`
	FileDir         string      `mapstructure:"file_dir" json:"file_dir,omitempty"`
	Redis           RedisConfig `mapstructure:"redis" json:"redis"`
	GetAttempts     int         `mapstructure:"get_attempts" json:"get_attempts"`
	GetRetryDelayMs int         `mapstructure:"get_retry_delay_ms" json:"get_retry_delay_ms"`
}

// RedisConfig redis backend settings
type RedisConfig struct {
	URL       string `mapstructure:"url" json:"url"`
	KeyPrefix string `mapstructure:"key_prefix" json:"key_prefix"`
	TTLHours  int    `mapstructure:"ttl_hours" json:"ttl_hours"`
}

// ApprovalConfig approval gate settings
type ApprovalConfig struct {
	PersistTimeoutSeconds int `mapstructure:"persist_timeout_seconds" json:"persist_timeout_seconds"`
}

// PolicyConfig tool policy settings
type PolicyConfig struct {
	Mode            string   `mapstructure:"mode" json:"mode"`
	RequireApproval []string `mapstructure:"require_approval" json:"require_approval"`
	Deny            []string `mapstructure:"deny" json:"deny"`
}

// ToolsConfig tool settings
type ToolsConfig struct {
	TimeoutSeconds int             `mapstructure:"timeout_seconds" json:"timeout_seconds"`
	Contacts       []ContactConfig `mapstructure:"contacts" json:"contacts"`
}

// ContactConfig seeds the contact directory of the bundled outbox.
type ContactConfig struct {
	Name    string `mapstructure:"name" json:"name"`
	Phone   string `mapstructure:"phone" json:"phone,omitempty"`
	Email   string `mapstructure:"email" json:"email,omitempty"`
	Company string `mapstructure:"company" json:"company,omitempty"`
}

// GatewayConfig server settings
type GatewayConfig struct {
	Host  string `mapstructure:"host" json:"host"`
	Port  int    `mapstructure:"port" json:"port"`
	Token string `mapstructure:"token" json:"token"`
}

// LogConfig application logging settings
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"`
	File  string `mapstructure:"file" json:"file"`
}

// ScheduleConfig one cron-triggered prompt
type ScheduleConfig struct {
	Name    string `mapstructure:"name" json:"name"`
	Cron    string `mapstructure:"cron" json:"cron"`
	Prompt  string `mapstructure:"prompt" json:"prompt"`
	Enabled bool   `mapstructure:"enabled" json:"enabled"`
}

// DefaultConfig returns config with sensible defaults
func DefaultConfig() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("failed to resolve home directory, using current directory as fallback", "error", err)
		homeDir = "."
	}
	return &Config{
		Agent: AgentConfig{
			Name:              "ops",
			Workspace:         filepath.Join(homeDir, ".opsdesk", "workspace"),
			WorkspaceMode:     "default",
			Model:             "anthropic/claude-sonnet-4-5",
			MaxTokens:         8192,
			Temperature:       0.3,
			MaxToolIterations: 20,
		},
		Providers: ProvidersConfig{},
		Compaction: CompactionConfig{
			Enabled:                   true,
			ToolResultCharThreshold:   2000,
			SummarizerInputCharLimit:  20000,
			TokenThreshold:            100000,
			MinMessages:               8,
			MinKeepMessages:           4,
			TranscriptToolResultChars: 500,
			TimeoutSeconds:            60,
		},
		Store: StoreConfig{
			Driver:          "sqlite",
			Redis:           RedisConfig{KeyPrefix: "opsdesk"},
			GetAttempts:     3,
			GetRetryDelayMs: 100,
		},
		Approval: ApprovalConfig{
			PersistTimeoutSeconds: 30,
		},
		Policy: PolicyConfig{
			Mode:            "strict",
			RequireApproval: slices.Clone(policy.DefaultRequireApproval),
			Deny:            []string{},
		},
		Tools: ToolsConfig{
			TimeoutSeconds: 30,
			Contacts:       []ContactConfig{},
		},
		Gateway: GatewayConfig{
			Host:  "127.0.0.1",
			Port:  18790,
			Token: "",
		},
		Log: LogConfig{
			Level: "info",
			File:  "",
		},
		Schedules: []ScheduleConfig{},
	}
}

// ConfigDir returns the opsdesk config directory
func ConfigDir() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".opsdesk")
}

// ConfigPath returns the config file path
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// Load loads config from file or returns defaults. A .env file in the
// working directory is applied to the environment first, and OPSDESK_*
// variables override file values.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "error", err)
	}

	cfg := DefaultConfig()

	configPath := ConfigPath()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := Save(cfg); err != nil {
			return cfg, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	v.SetEnvPrefix("OPSDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return cfg, err
	}

	if err := v.Unmarshal(cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.MatchName = func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		}
	}); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func normalizeKey(input string) string {
	input = strings.ReplaceAll(input, "_", "")
	input = strings.ReplaceAll(input, "-", "")
	return strings.ToLower(input)
}

// Save saves config to file
func Save(cfg *Config) error {
	configPath := ConfigPath()

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(configPath, data, 0600)
}

// Validate checks that the configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	a := &c.Agent

	if strings.TrimSpace(a.Name) == "" {
		a.Name = "ops"
	}
	if a.MaxToolIterations < 0 {
		return fmt.Errorf("agent.max_tool_iterations must not be negative, got %d", a.MaxToolIterations)
	}
	if a.MaxToolIterations == 0 {
		a.MaxToolIterations = 20
	}
	if a.Temperature < 0 || a.Temperature > 2.0 {
		return fmt.Errorf("agent.temperature must be between 0 and 2.0, got %f", a.Temperature)
	}
	if a.MaxTokens <= 0 {
		return fmt.Errorf("agent.max_tokens must be > 0, got %d", a.MaxTokens)
	}

	mode := strings.TrimSpace(a.WorkspaceMode)
	if mode != "" {
		validModes := map[string]bool{"default": true, "cwd": true, "path": true}
		if !validModes[strings.ToLower(mode)] {
			return fmt.Errorf("agent.workspace_mode must be one of: default, cwd, path; got %q", mode)
		}
		if strings.EqualFold(mode, "path") && strings.TrimSpace(a.Workspace) == "" {
			return fmt.Errorf("agent.workspace must be non-empty when workspace_mode is \"path\"")
		}
	}

	if err := c.Compaction.validate(); err != nil {
		return err
	}

	driver := strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch driver {
	case "":
		driver = "sqlite"
	case "sqlite", "file":
	case "redis":
		if strings.TrimSpace(c.Store.Redis.URL) == "" {
			return fmt.Errorf("store.redis.url is required when store.driver is \"redis\"")
		}
	default:
		return fmt.Errorf("store.driver must be one of sqlite, redis, file; got %q", c.Store.Driver)
	}
	c.Store.Driver = driver
	if c.Store.GetAttempts < 0 || c.Store.GetRetryDelayMs < 0 {
		return fmt.Errorf("store retry settings must not be negative")
	}
	if c.Store.Redis.TTLHours < 0 {
		return fmt.Errorf("store.redis.ttl_hours must not be negative, got %d", c.Store.Redis.TTLHours)
	}

	if c.Approval.PersistTimeoutSeconds < 0 {
		return fmt.Errorf("approval.persist_timeout_seconds must not be negative, got %d", c.Approval.PersistTimeoutSeconds)
	}
	if c.Approval.PersistTimeoutSeconds == 0 {
		c.Approval.PersistTimeoutSeconds = 30
	}

	policyMode, err := policy.ParseMode(c.Policy.Mode)
	if err != nil {
		return fmt.Errorf("policy.mode: %w", err)
	}
	c.Policy.Mode = string(policyMode)

	if c.Tools.TimeoutSeconds < 0 {
		return fmt.Errorf("tools.timeout_seconds must not be negative, got %d", c.Tools.TimeoutSeconds)
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535, got %d", c.Gateway.Port)
	}

	level := strings.ToLower(strings.TrimSpace(c.Log.Level))
	if level == "" {
		c.Log.Level = "info"
	} else {
		validLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}
		if !validLevels[level] {
			return fmt.Errorf("log.level must be one of debug, info, warn, error; got %q", c.Log.Level)
		}
		c.Log.Level = level
	}

	seen := make(map[string]bool, len(c.Schedules))
	for i, s := range c.Schedules {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return fmt.Errorf("schedules[%d].name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("schedules[%d]: duplicate name %q", i, name)
		}
		seen[name] = true
	}

	return nil
}

func (c *CompactionConfig) validate() error {
	fields := []struct {
		name  string
		value *int
		def   int
	}{
		{"tool_result_char_threshold", &c.ToolResultCharThreshold, 2000},
		{"summarizer_input_char_limit", &c.SummarizerInputCharLimit, 20000},
		{"token_threshold", &c.TokenThreshold, 100000},
		{"min_messages", &c.MinMessages, 8},
		{"min_keep_messages", &c.MinKeepMessages, 4},
		{"transcript_tool_result_chars", &c.TranscriptToolResultChars, 500},
		{"timeout_seconds", &c.TimeoutSeconds, 60},
	}
	for _, f := range fields {
		if *f.value < 0 {
			return fmt.Errorf("compaction.%s must not be negative, got %d", f.name, *f.value)
		}
		if *f.value == 0 {
			*f.value = f.def
		}
	}
	return nil
}

// WorkspacePath returns the expanded workspace path
func (c *Config) WorkspacePath() string {
	path, err := c.WorkspacePathChecked()
	if err != nil {
		return filepath.Join(ConfigDir(), "workspace")
	}
	return path
}

// WorkspacePathChecked returns the expanded workspace path or an error if invalid.
func (c *Config) WorkspacePathChecked() (string, error) {
	mode := strings.TrimSpace(c.Agent.WorkspaceMode)
	if mode == "" || strings.EqualFold(mode, "default") {
		return filepath.Join(ConfigDir(), "workspace"), nil
	}
	if strings.EqualFold(mode, "cwd") {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to resolve cwd: %w", err)
		}
		return wd, nil
	}
	if !strings.EqualFold(mode, "path") {
		return "", fmt.Errorf("unknown workspace_mode: %s", mode)
	}
	if c.Agent.Workspace == "" {
		return "", fmt.Errorf("workspace is required when workspace_mode=path")
	}
	return expandHome(c.Agent.Workspace)
}

// SQLitePath returns the sqlite database file, defaulting under the
// workspace state directory.
func (c *Config) SQLitePath() string {
	if p := strings.TrimSpace(c.Store.SQLitePath); p != "" {
		if expanded, err := expandHome(p); err == nil {
			return expanded
		}
		return p
	}
	return filepath.Join(c.WorkspacePath(), "state", "conversations.db")
}

// FileStoreDir returns the directory of the file store backend.
func (c *Config) FileStoreDir() string {
	if p := strings.TrimSpace(c.Store.FileDir); p != "" {
		if expanded, err := expandHome(p); err == nil {
			return expanded
		}
		return p
	}
	return filepath.Join(c.WorkspacePath(), "state", "conversations")
}

func expandHome(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory for workspace path: %w", err)
	}
	rest := path[1:]
	rest = strings.TrimPrefix(rest, string(filepath.Separator))
	rest = strings.TrimPrefix(rest, "/")
	return filepath.Join(homeDir, rest), nil
}
