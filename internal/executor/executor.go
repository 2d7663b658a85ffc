package executor

import (
	"context"
	"fmt"
	"time"
)

// Job is one gate command resolved against its run: the final script,
// the fully merged environment and the limits to enforce.
type Job struct {
	Gate   string
	Script string

	// Env is the complete environment ("KEY=VALUE"), already merged
	// from the host, the spec and the gate. Nil inherits the host.
	Env []string

	Dir     string
	Timeout time.Duration

	// OutputLimit caps captured output in bytes. Zero means no cap.
	OutputLimit int64
}

// Result describes a command the infrastructure ran to completion.
// A non-zero exit code lives here, not in an error.
type Result struct {
	ExitCode  int
	Output    string
	Truncated bool

	StartedAt time.Time
	Duration  time.Duration
}

func (r *Result) Passed() bool {
	return r.ExitCode == 0
}

// InfraError means the infrastructure failed before or while running
// the command. The exit code is unknown: the outcome must be reported
// as an infrastructure failure, never as a command failure.
type InfraError struct {
	Gate     string
	Canceled bool
	Err      error

	// Output holds whatever the command printed before it died.
	Output    string
	Truncated bool
}

func (e *InfraError) Error() string {
	if e.Canceled {
		return fmt.Sprintf("gate %s canceled: %v", e.Gate, e.Err)
	}
	return fmt.Sprintf("gate %s infrastructure failure: %v", e.Gate, e.Err)
}

func (e *InfraError) Unwrap() error {
	return e.Err
}

// Executor runs a single job. err != nil is reserved for *InfraError:
// a command that ran and exited non-zero is a successful execution.
type Executor interface {
	Execute(ctx context.Context, job Job) (*Result, error)
}
