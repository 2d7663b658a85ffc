package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/bigredeye/checkgate/api"
	"github.com/bigredeye/checkgate/internal/dispatch"
	lf "github.com/bigredeye/checkgate/internal/logfield"
	"github.com/bigredeye/checkgate/internal/pipeline"
)

const (
	defaultRunsLimit = 50
	maxRunsLimit     = 500
)

type apiService struct {
	webService
}

func setupApiService(server *server, r *gin.Engine) {
	s := apiService{webService{server, server.config, server.logger}}

	r.POST("/api/events", s.handleEvent)
	r.GET("/api/runs", s.listRuns)
	r.GET("/api/runs/:id", s.getRun)
	r.GET("/api/latest", s.latestRun)
	r.GET("/api/stats", s.stats)
}

// checkToken accepts any configured token. An empty token list turns
// authentication off, which is only sane for local setups.
func (s *server) checkToken(token string) bool {
	if len(s.config.Server.Tokens) == 0 {
		return true
	}
	if token == "" {
		return false
	}
	for _, t := range s.config.Server.Tokens {
		if t == token {
			return true
		}
	}
	return false
}

func (s apiService) handleEvent(c *gin.Context) {
	onError := func(code int, err error) {
		s.log.Warn("Failed to process pipeline event", zap.Error(err))
		c.JSON(code, &api.EventResponse{Status: api.StatusError(err)})
	}

	req := api.EventRequest{}
	if err := c.BindJSON(&req); err != nil {
		onError(http.StatusBadRequest, err)
		return
	}

	token := c.GetHeader("Token")
	if token == "" {
		token = req.Token
	}
	if !s.server.checkToken(token) {
		onError(http.StatusUnauthorized, errors.New("Invalid or expired token"))
		return
	}

	if req.Event == "" {
		req.Event = pipeline.EventPush
	}
	if !pipeline.KnownEvent(req.Event) {
		onError(http.StatusBadRequest, errors.Errorf("Unknown event %q", req.Event))
		return
	}
	if req.Branch == "" {
		onError(http.StatusBadRequest, errors.New("Branch is required"))
		return
	}

	s.log.Info("Handling pipeline event",
		lf.Event(req.Event),
		lf.Branch(req.Branch),
		lf.Commit(req.Commit),
	)

	s.dispatchTrigger(c, pipeline.Trigger{
		Event:      req.Event,
		Branch:     req.Branch,
		Commit:     req.Commit,
		Source:     "api",
		ReceivedAt: time.Now(),
	}, onError)
}

// dispatchTrigger is the common tail of every trigger source: runs
// without matching gates are acknowledged with an empty run id, a
// missing spec reads as the service being unavailable.
func (s webService) dispatchTrigger(c *gin.Context, trigger pipeline.Trigger, onError func(int, error)) {
	run, gates, err := s.server.dispatcher.Dispatch(trigger)
	switch {
	case errors.Is(err, dispatch.ErrNoMatchingGates):
		c.JSON(http.StatusOK, &api.EventResponse{Status: api.StatusOk()})
		return
	case errors.Is(err, dispatch.ErrNoSpec):
		onError(http.StatusServiceUnavailable, err)
		return
	case err != nil:
		onError(http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, &api.EventResponse{
		Status: api.StatusOk(),
		RunID:  run.ID,
		Gates:  gates,
	})
}

func (s apiService) getRun(c *gin.Context) {
	onError := func(code int, err error) {
		s.log.Warn("Failed to fetch run", zap.Error(err))
		c.JSON(code, &api.RunResponse{Status: api.StatusError(err)})
	}

	id := c.Param("id")
	if item := s.server.runs.Get(id); item != nil && !item.Expired() {
		c.JSON(http.StatusOK, item.Value().(*api.RunResponse))
		return
	}

	run, err := s.server.db.FindRun(id)
	if err != nil {
		onError(http.StatusInternalServerError, err)
		return
	}
	if run == nil {
		onError(http.StatusNotFound, errors.Errorf("Unknown run %q", id))
		return
	}

	results, err := s.server.db.ListRunResults(id)
	if err != nil {
		onError(http.StatusInternalServerError, err)
		return
	}

	resp := &api.RunResponse{Status: api.StatusOk(), Run: api.RunFromModel(run, results)}
	if run.Finalized() {
		s.server.runs.Set(id, resp, finishedRunCacheTTL)
	}
	c.JSON(http.StatusOK, resp)
}

func (s apiService) listRuns(c *gin.Context) {
	onError := func(code int, err error) {
		s.log.Warn("Failed to list runs", zap.Error(err))
		c.JSON(code, &api.RunsResponse{Status: api.StatusError(err)})
	}

	limit := defaultRunsLimit
	if v := c.Query("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			onError(http.StatusBadRequest, errors.Errorf("Invalid limit %q", v))
			return
		}
		limit = parsed
	}
	if limit > maxRunsLimit {
		limit = maxRunsLimit
	}

	runs, err := s.server.db.ListRuns(c.Query("branch"), limit)
	if err != nil {
		onError(http.StatusInternalServerError, err)
		return
	}

	resp := &api.RunsResponse{Status: api.StatusOk()}
	for i := range runs {
		resp.Runs = append(resp.Runs, *api.RunFromModel(&runs[i], nil))
	}
	c.JSON(http.StatusOK, resp)
}

func (s apiService) latestRun(c *gin.Context) {
	onError := func(code int, err error) {
		s.log.Warn("Failed to fetch latest run", zap.Error(err))
		c.JSON(code, &api.RunResponse{Status: api.StatusError(err)})
	}

	branch := c.Query("branch")
	if branch == "" {
		onError(http.StatusBadRequest, errors.New("Branch is required"))
		return
	}

	run, err := s.server.db.LatestRunForBranch(branch)
	if err != nil {
		onError(http.StatusInternalServerError, err)
		return
	}
	if run == nil {
		onError(http.StatusNotFound, errors.Errorf("No runs for branch %q", branch))
		return
	}

	results, err := s.server.db.ListRunResults(run.ID)
	if err != nil {
		onError(http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, &api.RunResponse{
		Status: api.StatusOk(),
		Run:    api.RunFromModel(run, results),
	})
}

func (s apiService) stats(c *gin.Context) {
	stats := s.server.dispatcher.Stats()
	c.JSON(http.StatusOK, &api.StatsResponse{
		Status: api.StatusOk(),
		Stats:  &stats,
	})
}
