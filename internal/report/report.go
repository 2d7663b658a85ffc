package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"golang.org/x/exp/slices"

	"github.com/bigredeye/checkgate/internal/models"
)

// Aggregate derives the run verdict from its gate results: succeeded
// iff every result is passing. A canceled gate means the run itself
// was interrupted, which outranks failure.
func Aggregate(results []models.GateResult) models.RunStatus {
	canceled := false
	failed := false
	for i := range results {
		switch {
		case results[i].Status == models.GateStatusCanceled:
			canceled = true
		case !results[i].Passing():
			failed = true
		}
	}

	switch {
	case canceled:
		return models.RunStatusCanceled
	case failed:
		return models.RunStatusFailed
	default:
		return models.RunStatusSucceeded
	}
}

// Summary is the final report for one run.
type Summary struct {
	Status  models.RunStatus
	Results []models.GateResult

	// Failed and Errored list the gate names that count against the
	// run, sorted; tolerated failures appear in neither.
	Failed  []string
	Errored []string

	Passed   int
	Duration time.Duration
}

func Summarize(results []models.GateResult) *Summary {
	summary := &Summary{
		Status:   Aggregate(results),
		Results:  results,
		Duration: wallDuration(results),
	}

	for i := range results {
		result := &results[i]
		switch result.Status {
		case models.GateStatusPassed:
			summary.Passed++
		case models.GateStatusFailed:
			if !result.AllowedFailure {
				summary.Failed = append(summary.Failed, result.Gate)
			}
		case models.GateStatusErrored:
			if !result.AllowedFailure {
				summary.Errored = append(summary.Errored, result.Gate)
			}
		}
	}
	slices.Sort(summary.Failed)
	slices.Sort(summary.Errored)

	return summary
}

// ExitCode is the process exit contract: zero only when every gate
// passed, the logical OR of gate failures otherwise.
func (s *Summary) ExitCode() int {
	if s.Status == models.RunStatusSucceeded {
		return 0
	}
	return 1
}

// Render produces the human report: one line per gate plus a verdict.
func (s *Summary) Render() string {
	var b strings.Builder
	for i := range s.Results {
		renderResult(&b, &s.Results[i])
	}

	fmt.Fprintf(&b, "%s: %d/%d gates passed in %s\n",
		s.Status, s.Passed, len(s.Results), strings.ToLower(units.HumanDuration(s.Duration)))
	return b.String()
}

func renderResult(b *strings.Builder, g *models.GateResult) {
	switch g.Status {
	case models.GateStatusPassed:
		fmt.Fprintf(b, "  pass      %-24s %s\n", g.Gate, g.Duration.Round(time.Millisecond))
	case models.GateStatusFailed:
		if g.AllowedFailure {
			fmt.Fprintf(b, "  fail      %-24s exit %d (allowed), %s\n", g.Gate, g.ExitCode, g.Duration.Round(time.Millisecond))
		} else {
			fmt.Fprintf(b, "  FAIL      %-24s exit %d, %s\n", g.Gate, g.ExitCode, g.Duration.Round(time.Millisecond))
		}
	case models.GateStatusErrored:
		fmt.Fprintf(b, "  ERROR     %-24s %s\n", g.Gate, g.Error)
	case models.GateStatusCanceled:
		fmt.Fprintf(b, "  canceled  %s\n", g.Gate)
	case models.GateStatusSkipped:
		fmt.Fprintf(b, "  skipped   %s\n", g.Gate)
	}
}

func wallDuration(results []models.GateResult) time.Duration {
	var start, end time.Time
	for i := range results {
		result := &results[i]
		if result.StartedAt.IsZero() {
			continue
		}
		if start.IsZero() || result.StartedAt.Before(start) {
			start = result.StartedAt
		}
		finished := result.StartedAt.Add(result.Duration)
		if finished.After(end) {
			end = finished
		}
	}
	if start.IsZero() {
		return 0
	}
	return end.Sub(start)
}
