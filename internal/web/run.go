package web

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bigredeye/checkgate/internal/config"
	"github.com/bigredeye/checkgate/internal/database"
	"github.com/bigredeye/checkgate/internal/dispatch"
	"github.com/bigredeye/checkgate/internal/executor"
	"github.com/bigredeye/checkgate/internal/notify"
	"github.com/bigredeye/checkgate/internal/pipeline"
	"github.com/bigredeye/checkgate/internal/runner"
	"github.com/bigredeye/checkgate/internal/tgbot"
)

func buildNotifier(conf *config.Config, logger *zap.Logger) (notify.Notifier, error) {
	var multi notify.Multi

	if conf.Notify.Telegram.BotToken != "" {
		telegram, err := notify.NewTelegram(conf, logger)
		if err != nil {
			return nil, err
		}
		multi = append(multi, telegram)
	}
	if conf.Notify.GitLab.Token != "" {
		commitStatus, err := notify.NewCommitStatus(conf, logger)
		if err != nil {
			return nil, err
		}
		multi = append(multi, commitStatus)
	}
	if conf.Notify.Webhook.URL != "" {
		multi = append(multi, notify.NewWebhook(conf, logger))
	}

	if len(multi) == 0 {
		return nil, nil
	}
	return multi, nil
}

// Run wires the service together and blocks until a signal arrives or
// a component fails.
func Run(logger *zap.Logger) error {
	conf, err := config.ParseConfig()
	if err != nil {
		return err
	}

	logger.Info("Parsed config",
		zap.String("bind_address", conf.Server.ListenAddress),
		zap.String("pipeline_path", conf.Pipeline.Path),
		zap.String("pipeline_url", conf.Pipeline.URL),
		zap.String("database_host", conf.DataBase.Host),
	)

	db, err := database.OpenDataBase(logger, database.MakeDSN(conf))
	if err != nil {
		return err
	}

	fetcher, err := pipeline.NewFetcher(conf, logger)
	if err != nil {
		return err
	}

	runner, err := runner.New(conf, executor.NewLocalExecutor(conf.Runner.Shell, logger), logger)
	if err != nil {
		return err
	}

	notifier, err := buildNotifier(conf, logger)
	if err != nil {
		return err
	}

	dispatcher := dispatch.NewDispatcher(logger, fetcher, runner, db, notifier)

	s, err := newServer(conf, logger, db, dispatcher)
	if err != nil {
		return errors.Wrap(err, "Failed to start server")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fetcher.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return s.serve(ctx)
	})
	if conf.DataBase.KeepRunsFor > 0 {
		g.Go(func() error {
			s.pruneRuns(ctx)
			return nil
		})
	}
	if conf.Notify.Telegram.StatusBot && conf.Notify.Telegram.BotToken != "" {
		bot, err := tgbot.NewBot(conf, logger, db)
		if err != nil {
			return err
		}
		g.Go(func() error {
			bot.Run(ctx)
			return nil
		})
	}

	err = g.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second*30)
	defer shutdownCancel()
	if shutdownErr := dispatcher.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Error("Failed to shut down dispatcher", zap.Error(shutdownErr))
	}

	return errors.Wrap(err, "Server failed")
}
