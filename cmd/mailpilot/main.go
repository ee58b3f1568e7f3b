package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailpilot/internal/bus"
	"mailpilot/internal/calendar"
	"mailpilot/internal/classify"
	"mailpilot/internal/config"
	"mailpilot/internal/domain"
	"mailpilot/internal/draft"
	"mailpilot/internal/ledger"
	"mailpilot/internal/mailbox"
	"mailpilot/internal/meeting"
	"mailpilot/internal/notify"
	"mailpilot/internal/pipeline"
	"mailpilot/internal/provider"
	"mailpilot/internal/search"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:   "mailpilot",
		Short: "MailPilot: inbox assistant pipeline",
		Long:  "MailPilot fetches unseen email, classifies intent, drafts replies, schedules meetings, and notifies you on chat.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.mailpilot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			fmt.Printf("Wrote %s\nFill in mailbox, provider, and notify credentials, then run 'mailpilot doctor'.\n", cfgPath)
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process unseen emails once and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			setupLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			coord, store, err := buildComponents(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer store.Close()

			started := time.Now()
			outcomes, err := coord.RunBatch(ctx)
			if err != nil {
				return err
			}
			for _, out := range outcomes {
				status := "ok"
				if fail := out.FirstFailure(); fail != nil {
					status = fmt.Sprintf("failed at %s", fail.Stage)
				}
				fmt.Printf("%-40s %-16s %s\n", out.EmailID, out.Intent.Kind, status)
			}
			if digest := notify.Digest(outcomes, time.Since(started)); digest != "" {
				fmt.Println(digest)
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return err
			}
			redacted := *cfg
			redacted.Mailbox.Password = redact(cfg.Mailbox.Password)
			redacted.Calendar.ClientSecret = redact(cfg.Calendar.ClientSecret)
			redacted.Calendar.RefreshToken = redact(cfg.Calendar.RefreshToken)
			redacted.Calendar.AccessToken = redact(cfg.Calendar.AccessToken)
			redacted.Notify.Slack.BotToken = redact(cfg.Notify.Slack.BotToken)
			redacted.Notify.Telegram.Token = redact(cfg.Notify.Telegram.Token)
			redacted.Providers = make(map[string]config.ProviderConfig, len(cfg.Providers))
			for name, p := range cfg.Providers {
				p.APIKey = redact(p.APIKey)
				redacted.Providers[name] = p
			}
			data, err := json.MarshalIndent(redacted, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func setupLogger(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.General.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	out := os.Stderr
	if cfg.General.LogFile != "" {
		if f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
			out = f
		} else {
			logger.Warn("cannot open log file, logging to stderr", "path", cfg.General.LogFile, "err", err)
		}
	}
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// buildComponents wires the full pipeline from config. The returned
// store must be closed by the caller.
func buildComponents(ctx context.Context, cfg *config.Config, eventBus *bus.EventBus) (*pipeline.Coordinator, *ledger.Store, error) {
	store, err := ledger.Open(cfg.Ledger.DBPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}

	inference, err := provider.FromConfig(cfg, logger)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	var searcher domain.Search
	if cfg.Search.Enabled {
		searcher = search.New(cfg.Search.APIBase, logger)
	}

	templates, err := draft.LoadTemplates(cfg.Draft.TemplatesPath)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("load draft templates: %w", err)
	}
	drafter := draft.New(inference, searcher, templates, draft.Config{
		MaxBodyRunes: cfg.Draft.MaxBodyRunes,
		MaxSnippets:  cfg.Draft.MaxSnippets,
		Params:       provider.GenerateParams(cfg.Providers[cfg.General.DefaultProvider]),
	}, logger)

	extractor, err := meeting.New(cfg.General.Timezone)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("meeting extractor: %w", err)
	}

	var cal domain.Calendar
	var slots domain.SlotSuggester
	if cfg.Calendar.Enabled {
		client := calendar.New(ctx, calendar.Config{
			APIBase:      cfg.Calendar.APIBase,
			TokenURL:     cfg.Calendar.TokenURL,
			CalendarID:   cfg.Calendar.CalendarID,
			ClientID:     cfg.Calendar.ClientID,
			ClientSecret: cfg.Calendar.ClientSecret,
			RefreshToken: cfg.Calendar.RefreshToken,
			AccessToken:  cfg.Calendar.AccessToken,
			Timezone:     cfg.General.Timezone,
			Logger:       logger,
		})
		cal = client
		slots = client
	}

	chat, err := buildChat(cfg)
	if err != nil {
		store.Close()
		return nil, nil, err
	}

	inbox := mailbox.New(mailbox.Config{
		Host:     cfg.Mailbox.Host,
		Port:     cfg.Mailbox.Port,
		Username: cfg.Mailbox.Username,
		Password: cfg.Mailbox.Password,
		Folder:   cfg.Mailbox.Folder,
		Logger:   logger,
	})

	coord := pipeline.New(pipeline.Config{
		Mailbox:         inbox,
		Ledger:          store,
		Archive:         store,
		Classifier:      classify.New(cfg.Classifier.ConfidenceThreshold),
		Drafter:         drafter,
		Extractor:       extractor,
		Calendar:        cal,
		Slots:           slots,
		Chat:            chat,
		Format:          notify.Summary,
		Bus:             eventBus,
		Logger:          logger,
		Workers:         cfg.General.Workers,
		MaxEmailsPerRun: cfg.General.MaxEmailsPerRun,
		StageTimeout:    time.Duration(cfg.General.StageTimeoutSecs) * time.Second,
		Retry:           pipeline.PolicyFromConfig(cfg.Retry),
	})
	return coord, store, nil
}

func buildChat(cfg *config.Config) (domain.Chat, error) {
	switch cfg.Notify.Channel {
	case "slack":
		return notify.NewSlack(notify.SlackConfig{
			BotToken: cfg.Notify.Slack.BotToken,
			Channel:  cfg.Notify.Slack.Channel,
			Logger:   logger,
		}), nil
	case "telegram":
		return notify.NewTelegram(notify.TelegramConfig{
			BotToken: cfg.Notify.Telegram.Token,
			ChatID:   cfg.Notify.Telegram.ChatID,
			Logger:   logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown notify channel: %s", cfg.Notify.Channel)
	}
}
