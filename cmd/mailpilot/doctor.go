package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"mailpilot/internal/config"
	"mailpilot/internal/provider"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your MailPilot installation",
		Long: `Verifies that MailPilot's configuration, mailbox, ledger database,
inference provider, and notify channel are correctly set up. Reports
pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("MailPilot Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'mailpilot init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\nResults: %d passed, %d failed\n", passed, 1)
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			// 3. Ledger database writable
			if err := checkDatabase(cfg.Ledger.DBPath); err != nil {
				printFail("Ledger database", err.Error())
				failed++
			} else {
				printPass("Ledger database", cfg.Ledger.DBPath)
				passed++
			}

			// 4. IMAP reachable
			if cfg.Mailbox.Host == "" {
				printFail("Mailbox", "mailbox.host not configured")
				failed++
			} else if err := checkIMAP(cfg.Mailbox); err != nil {
				printFail("Mailbox", err.Error())
				failed++
			} else {
				printPass("Mailbox", fmt.Sprintf("%s:%d reachable", cfg.Mailbox.Host, imapPort(cfg.Mailbox)))
				passed++
			}

			// 5. Inference provider
			inf, err := provider.FromConfig(cfg, logger)
			if err != nil {
				printFail("Provider", err.Error())
				failed++
			} else if err := inf.Healthy(ctx); err != nil {
				printWarn("Provider: "+inf.Name(), err.Error())
				warned++
			} else {
				printPass("Provider: "+inf.Name(), "healthy")
				passed++
			}

			// 6. Notify channel
			switch cfg.Notify.Channel {
			case "slack":
				if cfg.Notify.Slack.BotToken == "" || cfg.Notify.Slack.Channel == "" {
					printFail("Notify: slack", "botToken and channel required")
					failed++
				} else {
					printPass("Notify: slack", "configured, channel "+cfg.Notify.Slack.Channel)
					passed++
				}
			case "telegram":
				if cfg.Notify.Telegram.Token == "" || cfg.Notify.Telegram.ChatID == 0 {
					printFail("Notify: telegram", "token and chatId required")
					failed++
				} else {
					printPass("Notify: telegram", "configured")
					passed++
				}
			}

			// 7. Calendar credentials
			if cfg.Calendar.Enabled {
				if cfg.Calendar.AccessToken == "" && (cfg.Calendar.ClientID == "" || cfg.Calendar.RefreshToken == "") {
					printFail("Calendar", "enabled but no usable credential (accessToken or clientId+refreshToken)")
					failed++
				} else {
					printPass("Calendar", cfg.Calendar.CalendarID)
					passed++
				}
			} else {
				printWarn("Calendar", "disabled: meeting requests will not be scheduled")
				warned++
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running MailPilot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nMailPilot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! MailPilot is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func imapPort(mc config.MailboxConfig) int {
	if mc.Port != 0 {
		return mc.Port
	}
	return 993
}

func checkIMAP(mc config.MailboxConfig) error {
	addr := fmt.Sprintf("%s:%d", mc.Host, imapPort(mc))
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := tls.DialWithDialer(dialer, "tcp", addr, nil)
	if err != nil {
		return fmt.Errorf("cannot reach %s: %w", addr, err)
	}
	conn.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
