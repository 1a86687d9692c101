// Package telegram posts a Telegram message whenever the broker's status
// changes.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"meetbot/pkg/bus"
	"meetbot/pkg/channel"
	"meetbot/pkg/config"
	"meetbot/pkg/logger"
	"meetbot/pkg/panel"
)

const messagePreviewLimit = 240

// Sender is the part of the Telegram bot API the notifier uses.
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Notifier follows the broker over one channel link and reports transitions
// to a single chat.
type Notifier struct {
	cfg    config.TelegramConfig
	sender Sender
	log    *slog.Logger
}

// New validates the configuration and connects the Telegram bot.
func New(cfg config.TelegramConfig, log *slog.Logger) (*Notifier, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("notify.telegram.token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("notify.telegram.chat_id is required")
	}

	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("initialize telegram bot: %w", err)
	}
	return NewWithSender(cfg, bot, log), nil
}

func NewWithSender(cfg config.TelegramConfig, sender Sender, log *slog.Logger) *Notifier {
	return &Notifier{
		cfg:    cfg,
		sender: sender,
		log:    logger.Component(log, "notify.telegram"),
	}
}

func (n *Notifier) Name() string {
	return "telegram"
}

// Run dials the broker channel and posts one message per status change. The
// status current at connect time is recorded, not reported.
func (n *Notifier) Run(ctx context.Context, dialer channel.Dialer, name string) error {
	link, err := dialer.Dial(ctx, name)
	if err != nil {
		return fmt.Errorf("connect notifier to broker: %w", err)
	}
	defer link.Close()

	if err := link.Send(ctx, bus.Message{Type: bus.TypeGetStatus}); err != nil {
		return fmt.Errorf("request broker status: %w", err)
	}

	n.log.Info("Telegram notifier started", "chat_id", n.cfg.ChatID)

	var last bus.Status
	for {
		msg, err := link.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("notifier link: %w", err)
		}
		if msg.Type != bus.TypeStatusUpdate || !msg.Status.Valid() {
			continue
		}

		if last == "" || msg.Status == last {
			last = msg.Status
			continue
		}
		last = msg.Status

		text := statusText(msg.Status)
		n.log.Info("Sending status notification", "chat_id", n.cfg.ChatID, "content", previewText(text))
		if _, err := n.sender.SendMessage(ctx, tu.Message(tu.ID(n.cfg.ChatID), text)); err != nil {
			n.log.Error("Failed to send telegram message", "error", err)
		}
	}
}

// statusText renders a status the way the panel describes it.
func statusText(status bus.Status) string {
	if status == bus.StatusError {
		return "Notes bot error: the status broker lost its connection."
	}
	title, description := panel.Describe(status)
	return title + "\n" + description
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) <= messagePreviewLimit {
		return trimmed
	}

	return trimmed[:messagePreviewLimit] + "..."
}
