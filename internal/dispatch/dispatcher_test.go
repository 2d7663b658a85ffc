package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/bigredeye/checkgate/internal/config"
	"github.com/bigredeye/checkgate/internal/executor"
	"github.com/bigredeye/checkgate/internal/executor/executortest"
	"github.com/bigredeye/checkgate/internal/models"
	"github.com/bigredeye/checkgate/internal/notify"
	"github.com/bigredeye/checkgate/internal/pipeline"
	"github.com/bigredeye/checkgate/internal/runner"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const ciSpec = `
name: checkgate-ci
gates:
  - name: test
    run: cargo test --workspace
  - name: fmt
    run: cargo fmt --check
  - name: clippy
    run: cargo clippy
    when:
      events: [merge_request]
`

type staticSpecs struct {
	spec *pipeline.Spec
}

func (s staticSpecs) Current() *pipeline.Spec {
	return s.spec
}

type finishedRun struct {
	run     *models.PipelineRun
	results []models.GateResult
}

// captureNotifier records finalized runs and signals each delivery.
type captureNotifier struct {
	mu   sync.Mutex
	runs []finishedRun
	done chan struct{}
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{done: make(chan struct{}, 16)}
}

func (c *captureNotifier) NotifyRunFinished(ctx context.Context, run *models.PipelineRun, results []models.GateResult) error {
	c.mu.Lock()
	c.runs = append(c.runs, finishedRun{run: run, results: results})
	c.mu.Unlock()
	c.done <- struct{}{}
	return nil
}

func (c *captureNotifier) finished() []finishedRun {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]finishedRun(nil), c.runs...)
}

func newTestDispatcher(t *testing.T, body string, fake executor.Executor, notifier *captureNotifier) *Dispatcher {
	t.Helper()

	spec, err := pipeline.Parse([]byte(body))
	if err != nil {
		t.Fatal("Failed to parse spec:", err)
	}

	conf := &config.Config{}
	conf.Runner.Shell = "sh"
	conf.Runner.MaxParallelGates = 4
	conf.Runner.GateTimeout = time.Hour

	runner, err := runner.New(conf, fake, zap.NewNop())
	if err != nil {
		t.Fatal("Failed to build runner:", err)
	}

	var n notify.Notifier
	if notifier != nil {
		n = notifier
	}
	d := NewDispatcher(zap.NewNop(), staticSpecs{spec: spec}, runner, nil, n)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		if err := d.Shutdown(ctx); err != nil {
			t.Error("Failed to shut down dispatcher:", err)
		}
	})
	return d
}

func pushTrigger(branch string) pipeline.Trigger {
	return pipeline.Trigger{Event: pipeline.EventPush, Branch: branch, Commit: "deadbeef"}
}

func waitNotify(t *testing.T, notifier *captureNotifier) {
	t.Helper()
	select {
	case <-notifier.done:
	case <-time.After(time.Second * 5):
		t.Fatal("Timed out waiting for a finished run")
	}
}

func TestDispatchRunsPipeline(t *testing.T) {
	fake := executortest.NewFake()
	notifier := newCaptureNotifier()
	d := newTestDispatcher(t, ciSpec, fake, notifier)

	run, gates, err := d.Dispatch(pushTrigger("main"))
	if err != nil {
		t.Fatal("Failed to dispatch run:", err)
	}
	if run.ID == "" {
		t.Fatal("Dispatched run has no id")
	}
	if run.Branch != "main" {
		t.Errorf("Run branch: got %q, want %q", run.Branch, "main")
	}
	if diff := cmp.Diff([]string{"test", "fmt"}, gates); diff != "" {
		t.Errorf("Bound gates mismatch (-want +got):\n%s", diff)
	}

	waitNotify(t, notifier)

	finished := notifier.finished()
	if len(finished) != 1 {
		t.Fatalf("Finished runs: got %d, want 1", len(finished))
	}
	if finished[0].run.ID != run.ID {
		t.Errorf("Finished run id: got %q, want %q", finished[0].run.ID, run.ID)
	}
	if finished[0].run.Status != models.RunStatusSucceeded {
		t.Errorf("Run status: got %q, want %q", finished[0].run.Status, models.RunStatusSucceeded)
	}
	if finished[0].run.FinishedAt == nil {
		t.Error("Finished run has no finish time")
	}
	if len(finished[0].results) != 3 {
		t.Errorf("Gate results: got %d, want 3", len(finished[0].results))
	}
}

func TestSupersede(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 4)

	fake := executortest.NewFake()
	fake.Set("test", executortest.Outcome{Block: block, Started: started})

	notifier := newCaptureNotifier()
	d := newTestDispatcher(t, ciSpec, fake, notifier)

	first, _, err := d.Dispatch(pushTrigger("main"))
	if err != nil {
		t.Fatal("Failed to dispatch first run:", err)
	}
	select {
	case <-started:
	case <-time.After(time.Second * 5):
		t.Fatal("Timed out waiting for the first run to start")
	}

	second, _, err := d.Dispatch(pushTrigger("main"))
	if err != nil {
		t.Fatal("Failed to dispatch second run:", err)
	}
	close(block)

	waitNotify(t, notifier)

	// The superseded run must not report, no matter how far it got.
	finished := notifier.finished()
	if len(finished) != 1 {
		t.Fatalf("Finished runs: got %d, want 1", len(finished))
	}
	if finished[0].run.ID != second.ID {
		t.Errorf("Reported run: got %q, want %q (superseded %q)", finished[0].run.ID, second.ID, first.ID)
	}
	if finished[0].run.Status != models.RunStatusSucceeded {
		t.Errorf("Run status: got %q, want %q", finished[0].run.Status, models.RunStatusSucceeded)
	}

	stats := d.Stats()
	if stats.Dispatched != 2 {
		t.Errorf("Dispatched: got %d, want 2", stats.Dispatched)
	}
	if stats.Superseded != 1 {
		t.Errorf("Superseded: got %d, want 1", stats.Superseded)
	}
	if stats.Finished != 1 {
		t.Errorf("Finished: got %d, want 1", stats.Finished)
	}
}

func TestBranchesDoNotSupersedeEachOther(t *testing.T) {
	fake := executortest.NewFake()
	notifier := newCaptureNotifier()
	d := newTestDispatcher(t, ciSpec, fake, notifier)

	if _, _, err := d.Dispatch(pushTrigger("main")); err != nil {
		t.Fatal("Failed to dispatch run:", err)
	}
	if _, _, err := d.Dispatch(pushTrigger("release/1.0")); err != nil {
		t.Fatal("Failed to dispatch run:", err)
	}

	waitNotify(t, notifier)
	waitNotify(t, notifier)

	if stats := d.Stats(); stats.Superseded != 0 {
		t.Errorf("Superseded: got %d, want 0", stats.Superseded)
	}
	if got := len(notifier.finished()); got != 2 {
		t.Errorf("Finished runs: got %d, want 2", got)
	}
}

func TestDispatchWithoutMatchingGates(t *testing.T) {
	const spec = `
gates:
  - name: clippy
    run: cargo clippy
    when:
      events: [merge_request]
`
	fake := executortest.NewFake()
	d := newTestDispatcher(t, spec, fake, nil)

	run, _, err := d.Dispatch(pushTrigger("main"))
	if err != ErrNoMatchingGates {
		t.Fatalf("Dispatch error: got %v, want %v", err, ErrNoMatchingGates)
	}
	if run != nil {
		t.Errorf("Dispatch returned a run: %+v", run)
	}
	if stats := d.Stats(); stats.Dispatched != 0 {
		t.Errorf("Dispatched: got %d, want 0", stats.Dispatched)
	}
}

func TestDispatchWithoutSpec(t *testing.T) {
	conf := &config.Config{}
	conf.Runner.Shell = "sh"
	conf.Runner.MaxParallelGates = 1
	conf.Runner.GateTimeout = time.Hour

	runner, err := runner.New(conf, executortest.NewFake(), zap.NewNop())
	if err != nil {
		t.Fatal("Failed to build runner:", err)
	}
	d := NewDispatcher(zap.NewNop(), staticSpecs{}, runner, nil, nil)

	if _, _, err := d.Dispatch(pushTrigger("main")); err != ErrNoSpec {
		t.Fatalf("Dispatch error: got %v, want %v", err, ErrNoSpec)
	}
}

func TestShutdownCancelsInFlightRuns(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	started := make(chan struct{}, 4)

	fake := executortest.NewFake()
	fake.Set("test", executortest.Outcome{Block: block, Started: started})

	notifier := newCaptureNotifier()

	spec, err := pipeline.Parse([]byte(ciSpec))
	if err != nil {
		t.Fatal("Failed to parse spec:", err)
	}
	conf := &config.Config{}
	conf.Runner.Shell = "sh"
	conf.Runner.MaxParallelGates = 4
	conf.Runner.GateTimeout = time.Hour
	runner, err := runner.New(conf, fake, zap.NewNop())
	if err != nil {
		t.Fatal("Failed to build runner:", err)
	}
	d := NewDispatcher(zap.NewNop(), staticSpecs{spec: spec}, runner, nil, notifier)

	if _, _, err := d.Dispatch(pushTrigger("main")); err != nil {
		t.Fatal("Failed to dispatch run:", err)
	}
	select {
	case <-started:
	case <-time.After(time.Second * 5):
		t.Fatal("Timed out waiting for the run to start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatal("Failed to shut down dispatcher:", err)
	}

	finished := notifier.finished()
	if len(finished) != 1 {
		t.Fatalf("Finished runs: got %d, want 1", len(finished))
	}
	if finished[0].run.Status != models.RunStatusCanceled {
		t.Errorf("Run status: got %q, want %q", finished[0].run.Status, models.RunStatusCanceled)
	}
}
