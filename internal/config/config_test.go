package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `{"mailbox": {"host": "imap.example.com", "username": "me", "password": "pw"}}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.Workers != 4 {
		t.Errorf("workers default: %d", cfg.General.Workers)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.BaseDelaySecs != 2 || cfg.Retry.Multiplier != 2 {
		t.Errorf("retry defaults: %+v", cfg.Retry)
	}
	if cfg.Mailbox.Folder != "INBOX" || cfg.Mailbox.Port != 993 {
		t.Errorf("mailbox defaults: %+v", cfg.Mailbox)
	}
	if cfg.Mailbox.Host != "imap.example.com" {
		t.Errorf("explicit value lost: %+v", cfg.Mailbox)
	}
}

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("MAILPILOT_TEST_TOKEN", "sekrit")
	defer os.Unsetenv("MAILPILOT_TEST_TOKEN")

	got := ExpandEnvVars(`{"a": "${MAILPILOT_TEST_TOKEN}", "b": "${MAILPILOT_TEST_UNSET:-fallback}", "c": "${MAILPILOT_TEST_UNSET}"}`)
	if !strings.Contains(got, `"a": "sekrit"`) {
		t.Errorf("set variable not expanded: %s", got)
	}
	if !strings.Contains(got, `"b": "fallback"`) {
		t.Errorf("default not applied: %s", got)
	}
	if !strings.Contains(got, `"c": "${MAILPILOT_TEST_UNSET}"`) {
		t.Errorf("unset variable without default must stay literal: %s", got)
	}
}

func TestLoad_EnvSubstitution(t *testing.T) {
	os.Setenv("MAILPILOT_TEST_PW", "hunter2")
	defer os.Unsetenv("MAILPILOT_TEST_PW")

	path := writeConfig(t, `{"mailbox": {"host": "h", "password": "${MAILPILOT_TEST_PW}"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mailbox.Password != "hunter2" {
		t.Errorf("password: %q", cfg.Mailbox.Password)
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"workers too high", func(c *Config) { c.General.Workers = 100 }, "general.workers"},
		{"bad threshold", func(c *Config) { c.Classifier.ConfidenceThreshold = 1.5 }, "confidenceThreshold"},
		{"bad retry attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.maxAttempts"},
		{"bad multiplier", func(c *Config) { c.Retry.Multiplier = 0.5 }, "retry.multiplier"},
		{"bad channel", func(c *Config) { c.Notify.Channel = "carrier-pigeon" }, "notify.channel"},
		{"unknown provider", func(c *Config) { c.General.DefaultProvider = "nope" }, "defaultProvider"},
		{"disabled provider", func(c *Config) { c.General.DefaultProvider = "anthropic" }, "disabled"},
		{"bad timezone", func(c *Config) { c.General.Timezone = "Mars/Olympus" }, "timezone"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.wantMsg) {
				t.Errorf("error %q does not mention %q", err, tc.wantMsg)
			}
		})
	}
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	cfg := Defaults()
	cfg.Mailbox.Host = "imap.example.com"

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("config holds secrets, expected 0600, got %v", info.Mode().Perm())
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if loaded.Mailbox.Host != "imap.example.com" {
		t.Errorf("round trip lost data: %+v", loaded.Mailbox)
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := ExpandPath("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Errorf("got %q", got)
	}
	if got := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("absolute path must pass through, got %q", got)
	}
}
