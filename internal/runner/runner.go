package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	goerrors "errors"

	"github.com/alexsergivan/transliterator"
	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/semaphore"

	"github.com/bigredeye/checkgate/internal/config"
	"github.com/bigredeye/checkgate/internal/executor"
	lf "github.com/bigredeye/checkgate/internal/logfield"
	"github.com/bigredeye/checkgate/internal/models"
	"github.com/bigredeye/checkgate/internal/pipeline"
	"github.com/bigredeye/checkgate/pkg/targz"
)

// Runner executes every gate of a run concurrently and independently:
// one gate's failure never stops its siblings, and no ordering is
// derived from the declaration order.
type Runner struct {
	config   *config.Config
	executor executor.Executor
	logger   *zap.Logger
	translit *transliterator.Transliterator

	sema        *semaphore.Weighted
	outputLimit int64
}

func New(conf *config.Config, exec executor.Executor, logger *zap.Logger) (*Runner, error) {
	if conf.Runner.MaxParallelGates <= 0 {
		return nil, errors.Errorf("Invalid max parallel gates: %d", conf.Runner.MaxParallelGates)
	}

	var outputLimit int64
	if conf.Runner.MaxGateOutput != "" {
		limit, err := units.RAMInBytes(conf.Runner.MaxGateOutput)
		if err != nil {
			return nil, errors.Wrapf(err, "Failed to parse max gate output %q", conf.Runner.MaxGateOutput)
		}
		outputLimit = limit
	}

	return &Runner{
		config:      conf,
		executor:    exec,
		logger:      logger.Named("runner"),
		translit:    transliterator.NewTransliterator(nil),
		sema:        semaphore.NewWeighted(conf.Runner.MaxParallelGates),
		outputLimit: outputLimit,
	}, nil
}

// Execute runs the gates of spec that match the trigger and returns one
// result per declared gate, in declaration order. Non-matching gates
// are recorded as skipped. The error taxonomy is preserved per gate:
// non-zero exit is a gate failure, an executor error an infrastructure
// failure, context cancellation a canceled gate.
func (r *Runner) Execute(ctx context.Context, run *models.PipelineRun, spec *pipeline.Spec, trigger pipeline.Trigger) []models.GateResult {
	r.logger.Info("Starting pipeline run",
		lf.RunID(run.ID),
		lf.SpecName(spec.Name),
		lf.Branch(run.Branch),
		lf.Event(run.Event),
		lf.Commit(run.Commit),
		zap.Int("num_gates", len(spec.Gates)),
	)

	results := make([]models.GateResult, len(spec.Gates))

	var wg sync.WaitGroup
	for i := range spec.Gates {
		gate := &spec.Gates[i]
		results[i] = models.GateResult{
			RunID:          run.ID,
			Gate:           gate.Name,
			AllowedFailure: gate.AllowFailure,
		}

		if !spec.Matches(gate, trigger) {
			results[i].Status = models.GateStatusSkipped
			continue
		}

		wg.Add(1)
		go func(gate *pipeline.Gate, result *models.GateResult) {
			defer wg.Done()
			r.runGate(ctx, run, spec, gate, result)
		}(gate, &results[i])
	}
	wg.Wait()

	r.packArtifacts(run)

	r.logger.Info("Finished pipeline run",
		lf.RunID(run.ID),
		lf.Branch(run.Branch),
		zap.Int("num_gates", len(spec.Gates)),
	)
	return results
}

func (r *Runner) runGate(ctx context.Context, run *models.PipelineRun, spec *pipeline.Spec, gate *pipeline.Gate, result *models.GateResult) {
	if err := r.sema.Acquire(ctx, 1); err != nil {
		result.Status = models.GateStatusCanceled
		return
	}
	defer r.sema.Release(1)

	startedAt := time.Now()
	result.StartedAt = startedAt

	res, err := r.executor.Execute(ctx, r.buildJob(run, spec, gate))
	result.Duration = time.Since(startedAt)

	switch {
	case err != nil:
		var infra *executor.InfraError
		if goerrors.As(err, &infra) {
			result.Output = infra.Output
			if infra.Canceled {
				result.Status = models.GateStatusCanceled
				break
			}
			result.Status = models.GateStatusErrored
			result.Infra = true
			result.Error = infra.Err.Error()
		} else {
			result.Status = models.GateStatusErrored
			result.Infra = true
			result.Error = err.Error()
		}
	case res.Passed():
		result.Status = models.GateStatusPassed
		result.Output = res.Output
	default:
		result.Status = models.GateStatusFailed
		result.ExitCode = res.ExitCode
		result.Output = res.Output
	}

	r.writeGateLog(run, result)

	r.logger.Info("Gate finished",
		lf.RunID(run.ID),
		lf.Gate(gate.Name),
		lf.Status(result.Status),
		lf.ExitCode(result.ExitCode),
		lf.Duration(result.Duration),
	)
}

func (r *Runner) buildJob(run *models.PipelineRun, spec *pipeline.Spec, gate *pipeline.Gate) executor.Job {
	timeout := r.config.Runner.GateTimeout
	if gate.Timeout.Duration > 0 {
		timeout = gate.Timeout.Duration
	}

	return executor.Job{
		Gate:        gate.Name,
		Script:      gate.Run,
		Env:         r.buildEnv(run, spec, gate),
		Dir:         r.config.Runner.Workdir,
		Timeout:     timeout,
		OutputLimit: r.outputLimit,
	}
}

// buildEnv provisions the declared environment on top of the host's:
// spec globals, then gate variables, then the toolchain declaration and
// the run identity. Later entries win.
func (r *Runner) buildEnv(run *models.PipelineRun, spec *pipeline.Spec, gate *pipeline.Gate) []string {
	env := os.Environ()
	env = appendSorted(env, spec.Env)
	env = appendSorted(env, gate.Env)

	if gate.Toolchain != "" {
		env = append(env, "CHECKGATE_TOOLCHAIN="+gate.Toolchain)
	}
	if len(gate.Components) > 0 {
		env = append(env, "CHECKGATE_COMPONENTS="+strings.Join(gate.Components, ","))
	}

	return append(env,
		"CHECKGATE_RUN_ID="+run.ID,
		"CHECKGATE_GATE="+gate.Name,
		"CHECKGATE_BRANCH="+run.Branch,
		"CHECKGATE_EVENT="+run.Event,
		"CHECKGATE_COMMIT="+run.Commit,
	)
}

// appendSorted keeps the environment deterministic across runs.
func appendSorted(env []string, vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for key := range vars {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		env = append(env, key+"="+vars[key])
	}
	return env
}

func (r *Runner) runDir(run *models.PipelineRun) string {
	return filepath.Join(r.config.Runner.ArtifactsDir, r.slug(run.Branch), run.ID)
}

// writeGateLog saves the captured output next to the run's other
// artifacts. Reporting trouble is logged, never failing the gate.
func (r *Runner) writeGateLog(run *models.PipelineRun, result *models.GateResult) {
	if r.config.Runner.ArtifactsDir == "" {
		return
	}

	dir := r.runDir(run)
	if err := os.MkdirAll(dir, 0755); err != nil {
		r.logger.Warn("Failed to create run artifacts directory", zap.Error(err), zap.String("dir", dir))
		return
	}

	path := filepath.Join(dir, r.slug(result.Gate)+".log")
	if err := os.WriteFile(path, []byte(result.Output), 0644); err != nil {
		r.logger.Warn("Failed to write gate log", zap.Error(err), lf.Gate(result.Gate))
		return
	}
	result.LogPath = path
}

func (r *Runner) packArtifacts(run *models.PipelineRun) {
	if r.config.Runner.ArtifactsDir == "" {
		return
	}

	dir := r.runDir(run)
	if _, err := os.Stat(dir); err != nil {
		return
	}

	file, err := os.Create(dir + ".tar.gz")
	if err != nil {
		r.logger.Warn("Failed to create run archive", zap.Error(err), lf.RunID(run.ID))
		return
	}
	defer file.Close()

	if err := targz.Pack(dir, file); err != nil {
		r.logger.Warn("Failed to pack run artifacts", zap.Error(err), lf.RunID(run.ID))
	}
}

func (r *Runner) slug(name string) string {
	name = r.translit.Transliterate(name, "en")
	return strings.Map(func(ch rune) rune {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
			return ch
		case ch == '-' || ch == '_' || ch == '.':
			return ch
		default:
			return '-'
		}
	}, name)
}
