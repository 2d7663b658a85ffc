package notify

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/xanzy/go-gitlab"
	"go.uber.org/zap"

	"github.com/bigredeye/checkgate/internal/config"
	lf "github.com/bigredeye/checkgate/internal/logfield"
	"github.com/bigredeye/checkgate/internal/models"
	"github.com/bigredeye/checkgate/internal/report"
)

// CommitStatus mirrors the run verdict onto the commit in GitLab, so
// the forge shows pass/fail next to the change.
type CommitStatus struct {
	gitlab *gitlab.Client
	conf   *config.Config
	logger *zap.Logger
}

func NewCommitStatus(conf *config.Config, logger *zap.Logger) (*CommitStatus, error) {
	client, err := gitlab.NewClient(conf.Notify.GitLab.Token, gitlab.WithBaseURL(conf.Notify.GitLab.BaseURL))
	if err != nil {
		return nil, errors.Wrap(err, "Failed to create gitlab client")
	}
	return &CommitStatus{
		gitlab: client,
		conf:   conf,
		logger: logger.Named("commitstatus"),
	}, nil
}

func (c *CommitStatus) NotifyRunFinished(ctx context.Context, run *models.PipelineRun, results []models.GateResult) error {
	if run.Commit == "" {
		return nil
	}

	summary := report.Summarize(results)
	description := fmt.Sprintf("%d/%d gates passed", summary.Passed, len(summary.Results))

	_, _, err := c.gitlab.Commits.SetCommitStatus(c.conf.Notify.GitLab.Project, run.Commit, &gitlab.SetCommitStatusOptions{
		State:       buildState(run.Status),
		Name:        gitlab.String("checkgate"),
		Ref:         gitlab.String(run.Branch),
		Description: gitlab.String(description),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return errors.Wrap(err, "Failed to set commit status")
	}

	c.logger.Info("Updated commit status", lf.Commit(run.Commit), lf.Status(run.Status))
	return nil
}

func buildState(status models.RunStatus) gitlab.BuildStateValue {
	switch status {
	case models.RunStatusSucceeded:
		return gitlab.Success
	case models.RunStatusCanceled:
		return gitlab.Canceled
	case models.RunStatusRunning:
		return gitlab.Running
	case models.RunStatusPending:
		return gitlab.Pending
	default:
		return gitlab.Failed
	}
}
