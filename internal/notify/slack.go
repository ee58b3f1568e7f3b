// Package notify delivers end-of-pipeline summaries to a chat channel.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"mailpilot/internal/domain"

	"github.com/slack-go/slack"
)

// Slack implements domain.Chat via the Slack Web API.
type Slack struct {
	client  *slack.Client
	channel string
	logger  *slog.Logger
}

type SlackConfig struct {
	BotToken string
	Channel  string
	Logger   *slog.Logger
}

func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{
		client:  slack.New(cfg.BotToken),
		channel: cfg.Channel,
		logger:  cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// PostMessage sends text to the configured channel. Delivery faults
// are transient: the message can safely be retried because the ledger
// guards the notify stage.
func (s *Slack) PostMessage(ctx context.Context, text string) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false))
	if err != nil {
		return domain.Transient(fmt.Errorf("%w: slack post: %v", domain.ErrChatTransient, err))
	}
	return nil
}

// AuthCheck verifies the bot token. Used by the doctor command.
func (s *Slack) AuthCheck(ctx context.Context) error {
	_, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	return nil
}
