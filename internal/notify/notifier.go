package notify

import (
	"context"

	"go.uber.org/multierr"

	"github.com/bigredeye/checkgate/internal/models"
)

// Notifier announces a finalized run. Implementations must never alter
// the run outcome; a delivery failure is the caller's to log.
type Notifier interface {
	NotifyRunFinished(ctx context.Context, run *models.PipelineRun, results []models.GateResult) error
}

// Multi fans out to every notifier and keeps going past failures.
type Multi []Notifier

func (m Multi) NotifyRunFinished(ctx context.Context, run *models.PipelineRun, results []models.GateResult) error {
	var err error
	for _, notifier := range m {
		err = multierr.Append(err, notifier.NotifyRunFinished(ctx, run, results))
	}
	return err
}
