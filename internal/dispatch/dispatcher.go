package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/bigredeye/checkgate/api"
	"github.com/bigredeye/checkgate/internal/database"
	lf "github.com/bigredeye/checkgate/internal/logfield"
	"github.com/bigredeye/checkgate/internal/models"
	"github.com/bigredeye/checkgate/internal/notify"
	"github.com/bigredeye/checkgate/internal/pipeline"
	"github.com/bigredeye/checkgate/internal/report"
	"github.com/bigredeye/checkgate/internal/runner"
)

var (
	ErrNoSpec          = errors.New("no pipeline spec available")
	ErrNoMatchingGates = errors.New("no gates match the trigger")
)

// SpecSource yields the pipeline spec a new run binds to.
type SpecSource interface {
	Current() *pipeline.Spec
}

type slot struct {
	runID  string
	cancel context.CancelFunc
}

// Dispatcher owns the per-branch run slots. A branch holds at most one
// active run: dispatching a newer trigger swaps the slot and cancels
// the predecessor, whose results are then discarded. Both the swap and
// the release go through one mutex, so supersede is race-free.
type Dispatcher struct {
	logger   *zap.Logger
	specs    SpecSource
	runner   *runner.Runner
	db       *database.DataBase
	notifier notify.Notifier

	baseCtx   context.Context
	cancelAll context.CancelFunc

	mu    sync.Mutex
	slots map[string]*slot

	wg sync.WaitGroup

	dispatched atomic.Int64
	superseded atomic.Int64
	finished   atomic.Int64
}

// NewDispatcher wires the dispatcher. db and notifier may be nil: runs
// then execute without history or announcements.
func NewDispatcher(logger *zap.Logger, specs SpecSource, runner *runner.Runner, db *database.DataBase, notifier notify.Notifier) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		logger:    logger.Named("dispatch"),
		specs:     specs,
		runner:    runner,
		db:        db,
		notifier:  notifier,
		baseCtx:   ctx,
		cancelAll: cancel,
		slots:     make(map[string]*slot),
	}
}

// Dispatch creates a run for the trigger and starts it in the
// background, returning the run and the gate names bound to it. The
// returned run is still pending; progress lands in the store and the
// notifiers.
func (d *Dispatcher) Dispatch(trigger pipeline.Trigger) (*models.PipelineRun, []string, error) {
	spec := d.specs.Current()
	if spec == nil {
		return nil, nil, ErrNoSpec
	}
	matching := spec.MatchingGates(trigger)
	if len(matching) == 0 {
		return nil, nil, ErrNoMatchingGates
	}
	gates := make([]string, len(matching))
	for i := range matching {
		gates[i] = matching[i].Name
	}

	now := trigger.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}
	run := &models.PipelineRun{
		ID:        uuid.New().String(),
		Branch:    trigger.Branch,
		Event:     trigger.Event,
		Commit:    trigger.Commit,
		SpecName:  spec.Name,
		Status:    models.RunStatusPending,
		CreatedAt: now,
		StartedAt: time.Now(),
	}

	if d.db != nil {
		if err := d.db.CreateRun(run); err != nil {
			return nil, nil, errors.Wrap(err, "Failed to persist run")
		}
	}

	runCtx, cancel := context.WithCancel(d.baseCtx)

	d.mu.Lock()
	prev := d.slots[trigger.Branch]
	d.slots[trigger.Branch] = &slot{runID: run.ID, cancel: cancel}
	d.mu.Unlock()

	if prev != nil {
		prev.cancel()
		d.superseded.Inc()
		d.logger.Info("Superseding in-flight run",
			lf.Branch(trigger.Branch),
			lf.RunID(prev.runID),
			zap.String("superseded_by", run.ID),
		)
		if d.db != nil {
			if err := d.db.MarkSuperseded(prev.runID, run.ID); err != nil {
				d.logger.Error("Failed to mark run superseded", zap.Error(err), lf.RunID(prev.runID))
			}
		}
	}

	d.dispatched.Inc()
	d.logger.Info("Dispatched run",
		lf.RunID(run.ID),
		lf.Branch(run.Branch),
		lf.Event(run.Event),
		lf.Commit(run.Commit),
	)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer cancel()
		d.execute(runCtx, run, spec, trigger)
	}()

	return run, gates, nil
}

func (d *Dispatcher) execute(ctx context.Context, run *models.PipelineRun, spec *pipeline.Spec, trigger pipeline.Trigger) {
	run.Status = models.RunStatusRunning
	if d.db != nil {
		if err := d.db.UpdateRunStatus(run.ID, models.RunStatusRunning, nil); err != nil {
			d.logger.Error("Failed to update run status", zap.Error(err), lf.RunID(run.ID))
		}
	}

	results := d.runner.Execute(ctx, run, spec, trigger)

	if !d.release(run.Branch, run.ID) {
		// A newer run took the branch while we were executing.
		d.logger.Info("Discarding results of superseded run", lf.RunID(run.ID), lf.Branch(run.Branch))
		return
	}

	finishedAt := time.Now()
	run.Status = report.Aggregate(results)
	run.FinishedAt = &finishedAt

	if d.db != nil {
		if err := d.db.SaveGateResults(results); err != nil {
			d.logger.Error("Failed to save gate results", zap.Error(err), lf.RunID(run.ID))
		}
		if err := d.db.UpdateRunStatus(run.ID, run.Status, &finishedAt); err != nil {
			d.logger.Error("Failed to finalize run", zap.Error(err), lf.RunID(run.ID))
		}
	}

	d.finished.Inc()
	d.logger.Info("Run finalized", lf.RunID(run.ID), lf.Branch(run.Branch), lf.Status(run.Status))

	if d.notifier != nil {
		notifyCtx, cancel := context.WithTimeout(context.Background(), time.Second*30)
		defer cancel()
		if err := d.notifier.NotifyRunFinished(notifyCtx, run, results); err != nil {
			d.logger.Warn("Failed to announce finished run", zap.Error(err), lf.RunID(run.ID))
		}
	}
}

// release gives up this run's claim on the branch slot. It reports
// false when a newer run already took the branch.
func (d *Dispatcher) release(branch, runID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	current := d.slots[branch]
	if current == nil || current.runID != runID {
		return false
	}
	delete(d.slots, branch)
	return true
}

func (d *Dispatcher) Stats() api.Stats {
	d.mu.Lock()
	active := len(d.slots)
	d.mu.Unlock()

	return api.Stats{
		Dispatched: d.dispatched.Load(),
		Superseded: d.superseded.Load(),
		Finished:   d.finished.Load(),
		Active:     active,
	}
}

// Shutdown cancels every in-flight run and waits for them to settle.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.cancelAll()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
