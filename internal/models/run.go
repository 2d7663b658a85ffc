package models

import (
	"time"
)

const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusSucceeded = "succeeded"
	RunStatusFailed    = "failed"
	RunStatusCanceled  = "canceled"
)

type RunStatus = string

// PipelineRun is one execution of every gate matching a single trigger
// event. Once FinishedAt is set the run is immutable.
type PipelineRun struct {
	ID     string `gorm:"primaryKey"`
	Branch string `gorm:"index"`
	Event  string
	Commit string

	SpecName string
	Status   RunStatus `gorm:"index"`

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt *time.Time

	// A run is superseded when a newer trigger for the same branch
	// cancels it before it reports.
	Superseded   bool
	SupersededBy *string
}

func (r *PipelineRun) Finalized() bool {
	switch r.Status {
	case RunStatusSucceeded, RunStatusFailed, RunStatusCanceled:
		return true
	default:
		return false
	}
}
