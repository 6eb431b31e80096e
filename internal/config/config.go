package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for Hyfa.
type Config struct {
	General GeneralConfig `json:"general" yaml:"general"`
	Slack   SlackConfig   `json:"slack" yaml:"slack"`
	LLM     LLMConfig     `json:"llm" yaml:"llm"`
	History HistoryConfig `json:"history" yaml:"history"`
	Chat    ChatConfig    `json:"chat" yaml:"chat"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel" yaml:"logLevel"`
	LogFormat string `json:"logFormat" yaml:"logFormat"`                 // "text" | "json"
	LogFile   string `json:"logFile,omitempty" yaml:"logFile,omitempty"` // optional log file path
}

type SlackConfig struct {
	BotToken      string `json:"botToken" yaml:"botToken"`
	AppToken      string `json:"appToken" yaml:"appToken"` // required for Socket Mode
	SigningSecret string `json:"signingSecret,omitempty" yaml:"signingSecret,omitempty"`
	Debug         bool   `json:"debug" yaml:"debug"`
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	Endpoint              string `json:"endpoint" yaml:"endpoint"` // full chat/completions URL
	AuthToken             string `json:"authToken,omitempty" yaml:"authToken,omitempty"`
	Model                 string `json:"model,omitempty" yaml:"model,omitempty"`
	TimeoutSeconds        int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	MaxRetries            int    `json:"maxRetries" yaml:"maxRetries"` // negative disables retries
	IncludeFunctionsInfo  bool   `json:"includeFunctionsInfo" yaml:"includeFunctionsInfo"`
	IncludeRetrievalInfo  bool   `json:"includeRetrievalInfo" yaml:"includeRetrievalInfo"`
	IncludeGuardrailsInfo bool   `json:"includeGuardrailsInfo" yaml:"includeGuardrailsInfo"`
}

type HistoryConfig struct {
	Size    int    `json:"size" yaml:"size"`       // messages kept per user
	Backend string `json:"backend" yaml:"backend"` // "memory" | "sqlite"
}

type ChatConfig struct {
	TranscriptLimit      int    `json:"transcriptLimit" yaml:"transcriptLimit"`
	TypingTimeoutSeconds int    `json:"typingTimeoutSeconds" yaml:"typingTimeoutSeconds"`
	TypingText           string `json:"typingText" yaml:"typingText"`
	ThreadApology        string `json:"threadApology" yaml:"threadApology"`
	SerializePerUser     bool   `json:"serializePerUser" yaml:"serializePerUser"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// envOverrides maps environment variables onto config fields. They win over the file.
var envOverrides = []struct {
	name  string
	apply func(*Config, string)
}{
	{"SLACK_BOT_TOKEN", func(c *Config, v string) { c.Slack.BotToken = v }},
	{"SLACK_APP_TOKEN", func(c *Config, v string) { c.Slack.AppToken = v }},
	{"SLACK_SIGNING_SECRET", func(c *Config, v string) { c.Slack.SigningSecret = v }},
	{"LLM_API_ENDPOINT", func(c *Config, v string) { c.LLM.Endpoint = v }},
	{"LLM_API_TOKEN", func(c *Config, v string) { c.LLM.AuthToken = v }},
}

// DefaultConfigDir returns the default config directory (~/.hyfa).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".hyfa"
	}
	return filepath.Join(home, ".hyfa")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config file at path, applies env overrides and validates it.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	ApplyEnv(cfg)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// LoadOrDefaults behaves like Load but falls back to defaults plus env
// overrides when the file does not exist.
func LoadOrDefaults(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		cfg := Defaults()
		ApplyEnv(cfg)
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("config validation: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

// ApplyEnv overwrites secrets and endpoints with non-empty environment variables.
func ApplyEnv(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(cfg, v)
		}
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as YAML or indented JSON depending on the file extension.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// Tokens live in this file.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if cfg.LLM.TimeoutSeconds < 1 {
		errs = append(errs, "llm.timeoutSeconds must be >= 1")
	}

	if cfg.History.Size < 1 {
		errs = append(errs, "history.size must be >= 1")
	}
	switch cfg.History.Backend {
	case "memory", "sqlite":
	default:
		errs = append(errs, "history.backend must be one of: memory, sqlite")
	}

	if cfg.Chat.TranscriptLimit < 1 || cfg.Chat.TranscriptLimit > 1000 {
		errs = append(errs, "chat.transcriptLimit must be between 1 and 1000")
	}
	if cfg.Chat.TypingTimeoutSeconds < 1 {
		errs = append(errs, "chat.typingTimeoutSeconds must be >= 1")
	}

	if cfg.Metrics.Port < 0 || cfg.Metrics.Port > 65535 {
		errs = append(errs, "metrics.port must be between 0 and 65535")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
