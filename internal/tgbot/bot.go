package tgbot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/bigredeye/checkgate/internal/config"
	"github.com/bigredeye/checkgate/internal/database"
	lf "github.com/bigredeye/checkgate/internal/logfield"
	"github.com/bigredeye/checkgate/internal/report"
)

// Bot answers pipeline status queries in chat. It is read-only: runs
// are triggered over the HTTP API, never from here.
type Bot struct {
	bot *tgbotapi.BotAPI
	log *zap.Logger
	db  *database.DataBase
}

func NewBot(conf *config.Config, log *zap.Logger, db *database.DataBase) (*Bot, error) {
	bot, err := tgbotapi.NewBotAPI(conf.Notify.Telegram.BotToken)
	if err != nil {
		return nil, err
	}
	return &Bot{bot, log.Named("tgbot"), db}, nil
}

func (b *Bot) Run(ctx context.Context) {
	b.log.Info("Authorized telegram status bot", zap.String("username", b.bot.Self.UserName))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.bot.GetUpdatesChan(u)

	for {
		select {
		case update := <-updates:
			if err := b.handleUpdate(update); err != nil {
				b.log.Error("Failed to handle update", zap.Error(err), zap.Int("update_id", update.UpdateID))
			}
		case <-ctx.Done():
			b.bot.StopReceivingUpdates()
			return
		}
	}
}

func (b *Bot) handleUpdate(update tgbotapi.Update) error {
	if update.Message == nil {
		return nil
	}
	b.log.Info("Got message",
		zap.String("user", update.Message.From.UserName),
		zap.String("text", update.Message.Text),
	)

	text := b.answer(update.Message.Text)
	if text == "" {
		return nil
	}

	msg := tgbotapi.NewMessage(update.Message.Chat.ID, text)
	msg.ReplyToMessageID = update.Message.MessageID

	_, err := b.bot.Send(msg)
	return err
}

func (b *Bot) answer(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}

	// Group chats address commands as /latest@botname.
	switch strings.SplitN(fields[0], "@", 2)[0] {
	case "/latest":
		if len(fields) < 2 {
			return "Usage: /latest <branch>"
		}
		return b.latestRun(fields[1])
	case "/start", "/help":
		return "Commands:\n/latest <branch> - newest pipeline run of the branch"
	default:
		return ""
	}
}

func (b *Bot) latestRun(branch string) string {
	run, err := b.db.LatestRunForBranch(branch)
	if err != nil {
		b.log.Error("Failed to find latest run", zap.Error(err), lf.Branch(branch))
		return "Failed to find the latest run, try again later"
	}
	if run == nil {
		return fmt.Sprintf("No runs for branch %s", branch)
	}

	results, err := b.db.ListRunResults(run.ID)
	if err != nil {
		b.log.Error("Failed to load run results", zap.Error(err), lf.RunID(run.ID))
		return "Failed to load the run report, try again later"
	}

	commit := run.Commit
	if len(commit) > 8 {
		commit = commit[:8]
	}
	return fmt.Sprintf("Run %s\n%s %s@%s\n%s",
		run.ID, run.Status, run.Branch, commit,
		report.Summarize(results).Render(),
	)
}
