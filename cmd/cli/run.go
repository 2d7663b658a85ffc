package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bigredeye/checkgate/internal/config"
	"github.com/bigredeye/checkgate/internal/executor"
	"github.com/bigredeye/checkgate/internal/models"
	"github.com/bigredeye/checkgate/internal/pipeline"
	"github.com/bigredeye/checkgate/internal/report"
	"github.com/bigredeye/checkgate/internal/runner"
)

type runOptions struct {
	spec        string
	event       string
	branch      string
	commit      string
	workdir     string
	artifacts   string
	shell       string
	parallel    int64
	timeout     time.Duration
	outputLimit string
}

func makeRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once on this machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&opts.spec, "spec", "s", "checkgate.yaml", "Pipeline spec path")
	cmd.Flags().StringVar(&opts.event, "event", pipeline.EventPush, "Trigger event")
	cmd.Flags().StringVar(&opts.branch, "branch", "main", "Trigger branch")
	cmd.Flags().StringVar(&opts.commit, "commit", "", "Trigger commit sha")
	cmd.Flags().StringVar(&opts.workdir, "workdir", "", "Working directory for gate commands")
	cmd.Flags().StringVar(&opts.artifacts, "artifacts", "", "Directory for gate logs, disabled when empty")
	cmd.Flags().StringVar(&opts.shell, "shell", "sh", "Shell used to run gate commands")
	cmd.Flags().Int64Var(&opts.parallel, "parallel", 4, "Max gates running at once")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", time.Hour, "Default per-gate timeout")
	cmd.Flags().StringVar(&opts.outputLimit, "output-limit", "4MiB", "Captured output cap per gate")

	return cmd
}

func runPipeline(opts *runOptions) error {
	if !pipeline.KnownEvent(opts.event) {
		return fmt.Errorf("unknown event %q", opts.event)
	}

	spec, err := pipeline.Load(opts.spec)
	if err != nil {
		return err
	}

	conf := &config.Config{}
	conf.Runner.Shell = opts.shell
	conf.Runner.Workdir = opts.workdir
	conf.Runner.ArtifactsDir = opts.artifacts
	conf.Runner.MaxParallelGates = opts.parallel
	conf.Runner.GateTimeout = opts.timeout
	conf.Runner.MaxGateOutput = opts.outputLimit

	r, err := runner.New(conf, executor.NewLocalExecutor(opts.shell, log), log)
	if err != nil {
		return err
	}

	trigger := pipeline.Trigger{
		Event:      opts.event,
		Branch:     opts.branch,
		Commit:     opts.commit,
		Source:     "cli",
		ReceivedAt: time.Now(),
	}
	if len(spec.MatchingGates(trigger)) == 0 {
		fmt.Printf("No gates match %s on %s\n", trigger.Event, trigger.Branch)
		return nil
	}

	now := time.Now()
	run := &models.PipelineRun{
		ID:        uuid.New().String(),
		Branch:    opts.branch,
		Event:     opts.event,
		Commit:    opts.commit,
		SpecName:  spec.Name,
		Status:    models.RunStatusRunning,
		CreatedAt: now,
		StartedAt: now,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	summary := report.Summarize(r.Execute(ctx, run, spec, trigger))

	fmt.Printf("%s on %s\n", spec.Name, run.Branch)
	fmt.Print(summary.Render())

	if code := summary.ExitCode(); code != 0 {
		log.Sync()
		os.Exit(code)
	}
	return nil
}
