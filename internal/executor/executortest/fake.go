// Package executortest provides a scripted Executor for tests.
package executortest

import (
	"context"
	"sync"
	"time"

	"github.com/bigredeye/checkgate/internal/executor"
)

// Outcome scripts what the fake returns for one gate.
type Outcome struct {
	ExitCode int
	Output   string
	Err      error

	// Block delays completion until the channel closes or the context
	// is canceled, for supersede/cancellation tests.
	Block <-chan struct{}

	// Started, when non-nil, receives one value as the job begins.
	Started chan<- struct{}
}

type Fake struct {
	mu       sync.Mutex
	outcomes map[string]Outcome
	calls    []executor.Job
}

func NewFake() *Fake {
	return &Fake{outcomes: make(map[string]Outcome)}
}

// Set scripts the outcome for a gate. Unscripted gates pass with empty
// output.
func (f *Fake) Set(gate string, outcome Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[gate] = outcome
}

func (f *Fake) Execute(ctx context.Context, job executor.Job) (*executor.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, job)
	outcome := f.outcomes[job.Gate]
	f.mu.Unlock()

	if outcome.Started != nil {
		outcome.Started <- struct{}{}
	}

	startedAt := time.Now()
	if outcome.Block != nil {
		select {
		case <-outcome.Block:
		case <-ctx.Done():
			return nil, &executor.InfraError{Gate: job.Gate, Canceled: true, Err: ctx.Err()}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, &executor.InfraError{Gate: job.Gate, Canceled: true, Err: err}
	}

	if outcome.Err != nil {
		return nil, outcome.Err
	}

	return &executor.Result{
		ExitCode:  outcome.ExitCode,
		Output:    outcome.Output,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
	}, nil
}

// Calls returns a copy of every job executed so far.
func (f *Fake) Calls() []executor.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]executor.Job(nil), f.calls...)
}

// Executed reports how many times a gate's command was run.
func (f *Fake) Executed(gate string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0
	for i := range f.calls {
		if f.calls[i].Gate == gate {
			count++
		}
	}
	return count
}
