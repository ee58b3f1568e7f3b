package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the root configuration for MailPilot.
type Config struct {
	General    GeneralConfig             `json:"general"`
	Mailbox    MailboxConfig             `json:"mailbox"`
	Providers  map[string]ProviderConfig `json:"providers"`
	Classifier ClassifierConfig          `json:"classifier"`
	Draft      DraftConfig               `json:"draft"`
	Calendar   CalendarConfig            `json:"calendar"`
	Notify     NotifyConfig              `json:"notify"`
	Search     SearchConfig              `json:"search"`
	Ledger     LedgerConfig              `json:"ledger"`
	Retry      RetryConfig               `json:"retry"`
	Metrics    MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	Workspace       string `json:"workspace"`
	LogLevel        string `json:"logLevel"`
	LogFile         string `json:"logFile,omitempty"`
	Timezone        string `json:"timezone"`
	DefaultProvider string `json:"defaultProvider"`
	// Workers bounds how many emails a batch processes in parallel.
	Workers          int    `json:"workers"`
	MaxEmailsPerRun  int    `json:"maxEmailsPerRun"`
	StageTimeoutSecs int    `json:"stageTimeoutSeconds"`
	PollSchedule     string `json:"pollSchedule"` // cron spec for daemon mode
}

type MailboxConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Folder   string `json:"folder"`
}

type ProviderConfig struct {
	Enabled           bool    `json:"enabled"`
	APIBase           string  `json:"apiBase,omitempty"`
	APIKey            string  `json:"apiKey,omitempty"`
	Model             string  `json:"model,omitempty"`
	MaxTokens         int     `json:"maxTokens,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	RateLimitPerMin   float64 `json:"rateLimitPerMinute,omitempty"`
	RateBurst         int     `json:"rateBurst,omitempty"`
	HTTPTimeoutSecs   int     `json:"httpTimeoutSeconds,omitempty"`
}

type ClassifierConfig struct {
	// ConfidenceThreshold routes low-confidence intents to ignorable
	// instead of risking spurious drafts or events.
	ConfidenceThreshold float64 `json:"confidenceThreshold"`
}

type DraftConfig struct {
	// MaxBodyRunes truncates the email body in prompts.
	MaxBodyRunes  int    `json:"maxBodyRunes"`
	MaxSnippets   int    `json:"maxSnippets"`
	TemplatesPath string `json:"templatesPath,omitempty"` // optional YAML overrides
}

type CalendarConfig struct {
	Enabled      bool   `json:"enabled"`
	APIBase      string `json:"apiBase,omitempty"`
	CalendarID   string `json:"calendarId"`
	ClientID     string `json:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenURL     string `json:"tokenUrl,omitempty"`
	// AccessToken bypasses the OAuth refresh flow (tests, short-lived
	// setups).
	AccessToken string `json:"accessToken,omitempty"`
}

type NotifyConfig struct {
	Channel  string               `json:"channel"` // "slack" | "telegram"
	Slack    SlackNotifyConfig    `json:"slack,omitempty"`
	Telegram TelegramNotifyConfig `json:"telegram,omitempty"`
}

type SlackNotifyConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"`
	Channel  string `json:"channel"`
}

type TelegramNotifyConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chatId"`
}

type SearchConfig struct {
	Enabled    bool   `json:"enabled"`
	APIBase    string `json:"apiBase,omitempty"`
	MaxResults int    `json:"maxResults"`
}

type LedgerConfig struct {
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
}

type RetryConfig struct {
	MaxAttempts   int     `json:"maxAttempts"`
	BaseDelaySecs float64 `json:"baseDelaySeconds"`
	Multiplier    float64 `json:"multiplier"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailpilot"
	}
	return filepath.Join(home, ".mailpilot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads, expands, and validates the config file. A .env file in
// the working directory is loaded first so ${VAR} references resolve
// against it.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	// Best effort: secrets commonly live in .env during development.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Ledger.DBPath = ExpandPath(cfg.Ledger.DBPath)
	cfg.Draft.TemplatesPath = ExpandPath(cfg.Draft.TemplatesPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has usable values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.General.Workers < 1 || cfg.General.Workers > 64 {
		errs = append(errs, "general.workers must be between 1 and 64")
	}
	if cfg.General.MaxEmailsPerRun < 1 {
		errs = append(errs, "general.maxEmailsPerRun must be >= 1")
	}
	if cfg.General.StageTimeoutSecs < 1 {
		errs = append(errs, "general.stageTimeoutSeconds must be >= 1")
	}
	if _, err := timezoneValid(cfg.General.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("general.timezone: %v", err))
	}

	if cfg.Classifier.ConfidenceThreshold < 0 || cfg.Classifier.ConfidenceThreshold > 1 {
		errs = append(errs, "classifier.confidenceThreshold must be in [0,1]")
	}
	if cfg.Draft.MaxBodyRunes < 100 {
		errs = append(errs, "draft.maxBodyRunes must be >= 100")
	}

	if cfg.Retry.MaxAttempts < 1 || cfg.Retry.MaxAttempts > 10 {
		errs = append(errs, "retry.maxAttempts must be between 1 and 10")
	}
	if cfg.Retry.BaseDelaySecs <= 0 {
		errs = append(errs, "retry.baseDelaySeconds must be > 0")
	}
	if cfg.Retry.Multiplier < 1 {
		errs = append(errs, "retry.multiplier must be >= 1")
	}

	if cfg.Ledger.RetentionDays < 1 {
		errs = append(errs, "ledger.retentionDays must be >= 1")
	}
	if cfg.Metrics.Port < 0 || cfg.Metrics.Port > 65535 {
		errs = append(errs, "metrics.port must be between 0 and 65535")
	}

	if p, ok := cfg.Providers[cfg.General.DefaultProvider]; !ok {
		errs = append(errs, fmt.Sprintf("general.defaultProvider references unknown provider: %s", cfg.General.DefaultProvider))
	} else if !p.Enabled {
		errs = append(errs, fmt.Sprintf("general.defaultProvider %s is disabled", cfg.General.DefaultProvider))
	}

	switch cfg.Notify.Channel {
	case "slack", "telegram":
	default:
		errs = append(errs, "notify.channel must be one of: slack, telegram")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves a leading ~/ to the user's home directory.
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
