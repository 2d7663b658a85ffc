package executor

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	goerrors "errors"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	lf "github.com/bigredeye/checkgate/internal/logfield"
)

// LocalExecutor runs gate commands on the host through a shell.
type LocalExecutor struct {
	shell  string
	logger *zap.Logger
}

func NewLocalExecutor(shell string, logger *zap.Logger) *LocalExecutor {
	return &LocalExecutor{
		shell:  shell,
		logger: logger.Named("executor"),
	}
}

func (e *LocalExecutor) Execute(ctx context.Context, job Job) (*Result, error) {
	execCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, e.shell, "-c", job.Script)
	cmd.Dir = job.Dir
	cmd.Env = job.Env

	// One interleaved stream: gate logs read like a terminal session.
	output := &limitedWriter{max: job.OutputLimit}
	cmd.Stdout = output
	cmd.Stderr = output

	e.logger.Debug("Running gate command", lf.Gate(job.Gate), zap.String("script", job.Script))

	startedAt := time.Now()
	err := cmd.Run()
	duration := time.Since(startedAt)

	result := &Result{
		Output:    output.String(),
		Truncated: output.truncated,
		StartedAt: startedAt,
		Duration:  duration,
	}

	if err != nil {
		// The process is killed on context expiry, so cmd.Run reports
		// a signal death. Check the context before the exit code.
		switch execCtx.Err() {
		case context.DeadlineExceeded:
			e.logger.Warn("Gate command timed out", lf.Gate(job.Gate), lf.Duration(duration))
			return nil, &InfraError{
				Gate:      job.Gate,
				Err:       errors.Wrapf(execCtx.Err(), "timed out after %s", job.Timeout),
				Output:    result.Output,
				Truncated: result.Truncated,
			}
		case context.Canceled:
			e.logger.Info("Gate command canceled", lf.Gate(job.Gate), lf.Duration(duration))
			return nil, &InfraError{
				Gate:      job.Gate,
				Canceled:  true,
				Err:       execCtx.Err(),
				Output:    result.Output,
				Truncated: result.Truncated,
			}
		}

		var exitErr *exec.ExitError
		if goerrors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			e.logger.Debug("Gate command finished",
				lf.Gate(job.Gate),
				lf.ExitCode(result.ExitCode),
				lf.Duration(duration),
			)
			return result, nil
		}

		e.logger.Error("Failed to run gate command", lf.Gate(job.Gate), zap.Error(err))
		return nil, &InfraError{
			Gate:      job.Gate,
			Err:       err,
			Output:    result.Output,
			Truncated: result.Truncated,
		}
	}

	e.logger.Debug("Gate command finished",
		lf.Gate(job.Gate),
		lf.ExitCode(0),
		lf.Duration(duration),
	)
	return result, nil
}

// limitedWriter keeps the first max bytes and drops the rest, so a
// noisy gate cannot exhaust memory. It never fails the write.
type limitedWriter struct {
	buf       bytes.Buffer
	max       int64
	truncated bool
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if w.max <= 0 {
		w.buf.Write(p)
		return n, nil
	}

	remaining := w.max - int64(w.buf.Len())
	if remaining <= 0 {
		w.truncated = true
		return n, nil
	}
	if int64(n) > remaining {
		w.truncated = true
		w.buf.Write(p[:remaining])
		return n, nil
	}

	w.buf.Write(p)
	return n, nil
}

func (w *limitedWriter) String() string {
	return w.buf.String()
}
