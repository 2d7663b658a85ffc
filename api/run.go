package api

import (
	"time"

	"github.com/bigredeye/checkgate/internal/models"
)

type GateResult struct {
	Gate           string        `json:"gate"`
	Status         string        `json:"status"`
	ExitCode       int           `json:"exit_code,omitempty"`
	Output         string        `json:"output,omitempty"`
	Infra          bool          `json:"infra,omitempty"`
	Error          string        `json:"error,omitempty"`
	AllowedFailure bool          `json:"allowed_failure,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}

type Run struct {
	ID           string     `json:"id"`
	Branch       string     `json:"branch"`
	Event        string     `json:"event"`
	Commit       string     `json:"commit,omitempty"`
	SpecName     string     `json:"spec_name"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Superseded   bool       `json:"superseded,omitempty"`
	SupersededBy string     `json:"superseded_by,omitempty"`

	Gates []GateResult `json:"gates,omitempty"`
}

func RunFromModel(run *models.PipelineRun, results []models.GateResult) *Run {
	out := &Run{
		ID:         run.ID,
		Branch:     run.Branch,
		Event:      run.Event,
		Commit:     run.Commit,
		SpecName:   run.SpecName,
		Status:     run.Status,
		CreatedAt:  run.CreatedAt,
		FinishedAt: run.FinishedAt,
		Superseded: run.Superseded,
	}
	if run.SupersededBy != nil {
		out.SupersededBy = *run.SupersededBy
	}

	for i := range results {
		result := &results[i]
		out.Gates = append(out.Gates, GateResult{
			Gate:           result.Gate,
			Status:         result.Status,
			ExitCode:       result.ExitCode,
			Output:         result.Output,
			Infra:          result.Infra,
			Error:          result.Error,
			AllowedFailure: result.AllowedFailure,
			StartedAt:      result.StartedAt,
			Duration:       result.Duration,
		})
	}
	return out
}

type RunResponse struct {
	Status

	Run *Run `json:"run,omitempty"`
}

type RunsResponse struct {
	Status

	Runs []Run `json:"runs,omitempty"`
}
