package config

import "time"

// Defaults returns the configuration used when a field is absent from
// the config file.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace:        "~/.mailpilot/workspace",
			LogLevel:         "info",
			Timezone:         "UTC",
			DefaultProvider:  "openai",
			Workers:          4,
			MaxEmailsPerRun:  20,
			StageTimeoutSecs: 30,
			PollSchedule:     "@every 5m",
		},
		Mailbox: MailboxConfig{
			Port:   993,
			Folder: "INBOX",
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:         true,
				APIBase:         "https://api.openai.com/v1",
				Model:           "gpt-4o-mini",
				MaxTokens:       512,
				Temperature:     0.7,
				RateLimitPerMin: 30,
				RateBurst:       5,
			},
			"anthropic": {
				Enabled:     false,
				Model:       "claude-3-5-haiku-20241022",
				MaxTokens:   512,
				Temperature: 0.7,
			},
		},
		Classifier: ClassifierConfig{
			ConfidenceThreshold: 0.4,
		},
		Draft: DraftConfig{
			MaxBodyRunes: 4000,
			MaxSnippets:  3,
		},
		Calendar: CalendarConfig{
			Enabled:    true,
			APIBase:    "https://www.googleapis.com/calendar/v3",
			CalendarID: "primary",
			TokenURL:   "https://oauth2.googleapis.com/token",
		},
		Notify: NotifyConfig{
			Channel: "slack",
		},
		Search: SearchConfig{
			Enabled:    true,
			MaxResults: 3,
		},
		Ledger: LedgerConfig{
			DBPath:        "~/.mailpilot/mailpilot.db",
			RetentionDays: 365,
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			BaseDelaySecs: 2,
			Multiplier:    2,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    9090,
		},
	}
}

func timezoneValid(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}
