package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/karlseguin/ccache/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bigredeye/checkgate/internal/config"
	"github.com/bigredeye/checkgate/internal/database"
	"github.com/bigredeye/checkgate/internal/dispatch"
)

// finishedRunCacheTTL bounds staleness for the superseded_by column of
// already finalized runs; everything else about them is immutable.
const finishedRunCacheTTL = time.Minute * 5

type server struct {
	config *config.Config
	logger *zap.Logger

	db         *database.DataBase
	dispatcher *dispatch.Dispatcher

	// runs caches finalized runs with their gate results keyed by run id.
	runs *ccache.Cache
}

func newServer(
	config *config.Config,
	logger *zap.Logger,
	db *database.DataBase,
	dispatcher *dispatch.Dispatcher,
) (*server, error) {
	return &server{
		config:     config,
		logger:     logger,
		db:         db,
		dispatcher: dispatcher,
		runs:       ccache.New(ccache.Configure().MaxSize(1024)),
	}, nil
}

func (s *server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(ginzap.Ginzap(s.logger, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(s.logger, true))

	setupApiService(s, r)
	setupGitlabHooksService(s, r)

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong "+fmt.Sprint(time.Now().Unix()))
	})

	return r
}

func (s *server) serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.Server.ListenAddress,
		Handler: s.router(),
	}

	failed := make(chan error, 1)
	go func() {
		failed <- srv.ListenAndServe()
	}()

	s.logger.Info("Starting server", zap.String("bind_address", s.config.Server.ListenAddress))

	select {
	case err := <-failed:
		return errors.Wrap(err, "Server failed")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	return errors.Wrap(srv.Shutdown(shutdownCtx), "Failed to shut down server")
}

// pruneRuns periodically drops finalized runs older than the retention
// window. It only runs when DataBase.KeepRunsFor is positive.
func (s *server) pruneRuns(ctx context.Context) {
	tick := time.Tick(time.Hour)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			pruned, err := s.db.PruneRuns(time.Now().Add(-s.config.DataBase.KeepRunsFor))
			if err != nil {
				s.logger.Error("Failed to prune old runs", zap.Error(err))
			} else if pruned > 0 {
				s.logger.Info("Pruned old runs", zap.Int64("num_runs", pruned))
			}
		}
	}
}
