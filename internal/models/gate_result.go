package models

import (
	"time"
)

const (
	GateStatusPassed   = "passed"
	GateStatusFailed   = "failed"
	GateStatusErrored  = "errored"
	GateStatusCanceled = "canceled"
	GateStatusSkipped  = "skipped"
)

type GateStatus = string

// GateResult is the recorded outcome of one gate within a run.
//
// Errored means the gate's command never produced a verdict: the
// environment could not be provisioned or the process could not be
// started. It is reported separately from Failed so that authors do
// not mistake infrastructure trouble for a defect in their change.
type GateResult struct {
	ID    uint   `gorm:"primaryKey"`
	RunID string `gorm:"index;uniqueIndex:idx_gate_results_run_gate"`
	Gate  string `gorm:"uniqueIndex:idx_gate_results_run_gate"`

	Status   GateStatus
	ExitCode int
	Output   string
	// Infra is set when Status is errored; Error holds the cause.
	Infra bool
	Error string

	// AllowedFailure records the gate's policy at execution time, so
	// the aggregate can be recomputed from results alone.
	AllowedFailure bool

	LogPath   string
	StartedAt time.Time
	Duration  time.Duration
}

// Passing reports whether this result does not count against the run:
// a passed gate, a skipped gate, or a tolerated failure.
func (g *GateResult) Passing() bool {
	switch g.Status {
	case GateStatusPassed, GateStatusSkipped:
		return true
	case GateStatusFailed, GateStatusErrored:
		return g.AllowedFailure
	default:
		return false
	}
}
