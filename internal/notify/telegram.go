package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bigredeye/checkgate/internal/config"
	"github.com/bigredeye/checkgate/internal/models"
	"github.com/bigredeye/checkgate/internal/report"
)

// Telegram posts a per-run message to the configured chat. Successful
// runs are announced only when Notify.Telegram.OnSuccess is set.
type Telegram struct {
	bot  *tgbotapi.BotAPI
	conf *config.Config
	log  *zap.Logger
}

func NewTelegram(conf *config.Config, log *zap.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(conf.Notify.Telegram.BotToken)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create telegram bot")
	}
	log.Info("Authorized telegram bot", zap.String("username", bot.Self.UserName))
	return &Telegram{bot, conf, log.Named("telegram")}, nil
}

func (t *Telegram) NotifyRunFinished(ctx context.Context, run *models.PipelineRun, results []models.GateResult) error {
	if run.Status == models.RunStatusSucceeded && !t.conf.Notify.Telegram.OnSuccess {
		return nil
	}

	text := fmt.Sprintf("Pipeline %s on %s@%s\n%s",
		run.Status, run.Branch, shortCommit(run.Commit), report.Summarize(results).Render())

	msg := tgbotapi.NewMessage(t.conf.Notify.Telegram.ChatID, text)
	_, err := t.bot.Send(msg)
	return errors.Wrap(err, "Failed to send telegram message")
}

func shortCommit(sha string) string {
	if len(sha) > 8 {
		return sha[:8]
	}
	return sha
}
