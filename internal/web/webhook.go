package web

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/xanzy/go-gitlab"
	"go.uber.org/zap"

	"github.com/bigredeye/checkgate/api"
	lf "github.com/bigredeye/checkgate/internal/logfield"
	"github.com/bigredeye/checkgate/internal/pipeline"
)

// deletedBranchSHA is what push hooks carry in After when the branch
// itself was removed.
const deletedBranchSHA = "0000000000000000000000000000000000000000"

type hooksService struct {
	webService
}

func setupGitlabHooksService(server *server, r *gin.Engine) {
	s := hooksService{webService{server, server.config, server.logger}}

	r.POST("/api/hooks/gitlab", s.handleGitlabHook)
}

func (s hooksService) handleGitlabHook(c *gin.Context) {
	onError := func(code int, err error) {
		s.log.Warn("Failed to process gitlab hook", zap.Error(err))
		c.JSON(code, &api.EventResponse{Status: api.StatusError(err)})
	}

	if !s.server.checkToken(c.GetHeader("X-Gitlab-Token")) {
		onError(http.StatusUnauthorized, errors.New("Invalid or expired token"))
		return
	}

	payload, err := c.GetRawData()
	if err != nil {
		onError(http.StatusBadRequest, err)
		return
	}

	event, err := gitlab.ParseWebhook(gitlab.HookEventType(c.Request), payload)
	if err != nil {
		onError(http.StatusBadRequest, errors.Wrap(err, "Failed to parse gitlab hook"))
		return
	}

	var trigger pipeline.Trigger
	switch event := event.(type) {
	case *gitlab.PushEvent:
		if event.After == deletedBranchSHA {
			c.JSON(http.StatusOK, &api.EventResponse{Status: api.StatusOk()})
			return
		}
		trigger = pipeline.Trigger{
			Event:  pipeline.EventPush,
			Branch: strings.TrimPrefix(event.Ref, "refs/heads/"),
			Commit: event.After,
		}

	case *gitlab.MergeEvent:
		attrs := event.ObjectAttributes
		switch attrs.Action {
		case "open", "reopen", "update":
		default:
			c.JSON(http.StatusOK, &api.EventResponse{Status: api.StatusOk()})
			return
		}
		trigger = pipeline.Trigger{
			Event:  pipeline.EventMergeRequest,
			Branch: attrs.SourceBranch,
			Commit: attrs.LastCommit.ID,
		}

	default:
		// Unhandled hook kinds are acknowledged, not rejected, so the
		// hook can stay subscribed to everything.
		c.JSON(http.StatusOK, &api.EventResponse{Status: api.StatusOk()})
		return
	}

	trigger.Source = "webhook"
	trigger.ReceivedAt = time.Now()

	s.log.Info("Handling gitlab hook",
		lf.Event(trigger.Event),
		lf.Branch(trigger.Branch),
		lf.Commit(trigger.Commit),
	)

	s.dispatchTrigger(c, trigger, onError)
}
