package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bigredeye/checkgate/api"
	"github.com/bigredeye/checkgate/pkg/client/checkgate"
)

const defaultEndpoint = "http://localhost:18080"

func newClient(endpoint string) (*checkgate.Client, error) {
	if endpoint == "" {
		endpoint = os.Getenv("CHECKGATE_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return checkgate.NewClient(endpoint, os.Getenv("CHECKGATE_TOKEN"))
}

func makeTriggerCommand() *cobra.Command {
	var endpoint string
	var event string
	var branch string
	var commit string

	cmd := &cobra.Command{
		Use:          "trigger",
		Short:        "Trigger a pipeline run on the server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return triggerRun(endpoint, event, branch, commit)
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Server endpoint")
	cmd.Flags().StringVar(&event, "event", "push", "Trigger event")
	cmd.Flags().StringVar(&branch, "branch", "", "Trigger branch")
	cmd.Flags().StringVar(&commit, "commit", "", "Trigger commit sha")
	cobra.CheckErr(cmd.MarkFlagRequired("branch"))

	return cmd
}

func triggerRun(endpoint, event, branch, commit string) error {
	gate, err := newClient(endpoint)
	if err != nil {
		return err
	}

	res, err := gate.TriggerEvent(event, branch, commit)
	if err != nil {
		return err
	}

	if res.RunID == "" {
		fmt.Printf("No gates match %s on %s\n", event, branch)
		return nil
	}

	log.Info("Dispatched run",
		zap.String("run_id", res.RunID),
		zap.Strings("gates", res.Gates),
	)
	fmt.Println(res.RunID)
	return nil
}

func makeListRunsCommand() *cobra.Command {
	var endpoint string
	var branch string
	var limit int

	cmd := &cobra.Command{
		Use:          "list",
		Short:        "List recent runs",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listRuns(endpoint, branch, limit)
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Server endpoint")
	cmd.Flags().StringVar(&branch, "branch", "", "Only runs of this branch")
	cmd.Flags().IntVar(&limit, "limit", 20, "Max runs to list")

	return cmd
}

func listRuns(endpoint, branch string, limit int) error {
	gate, err := newClient(endpoint)
	if err != nil {
		return err
	}

	runs, err := gate.ListRuns(branch, limit)
	if err != nil {
		return err
	}

	for i := range runs {
		run := &runs[i]
		status := run.Status
		if run.Superseded {
			status += " (superseded)"
		}
		fmt.Printf("%-36s  %-24s  %-13s  %-20s  %s\n",
			run.ID,
			run.Branch,
			run.Event,
			run.CreatedAt.Format(time.RFC3339),
			status,
		)
	}
	return nil
}

func makeGetRunCommand() *cobra.Command {
	var endpoint string
	var verbose bool

	cmd := &cobra.Command{
		Use:          "get <run-id>",
		Short:        "Show one run with its gates",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			gate, err := newClient(endpoint)
			if err != nil {
				return err
			}
			run, err := gate.GetRun(args[0])
			if err != nil {
				return err
			}
			printRun(run, verbose)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Server endpoint")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Dump captured gate output")

	return cmd
}

func makeLatestRunCommand() *cobra.Command {
	var endpoint string
	var branch string
	var verbose bool

	cmd := &cobra.Command{
		Use:          "latest",
		Short:        "Show the latest run of a branch",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			gate, err := newClient(endpoint)
			if err != nil {
				return err
			}
			run, err := gate.LatestRun(branch)
			if err != nil {
				return err
			}
			printRun(run, verbose)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Server endpoint")
	cmd.Flags().StringVar(&branch, "branch", "", "Branch name")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Dump captured gate output")
	cobra.CheckErr(cmd.MarkFlagRequired("branch"))

	return cmd
}

func printRun(run *api.Run, verbose bool) {
	fmt.Printf("%s  %s@%s  %s  %s\n", run.ID, run.Branch, run.Commit, run.Event, run.Status)
	if run.Superseded && run.SupersededBy != "" {
		fmt.Printf("superseded by %s\n", run.SupersededBy)
	}

	for i := range run.Gates {
		gate := &run.Gates[i]
		switch gate.Status {
		case "failed":
			fmt.Printf("  %-24s %-9s exit %d in %s\n", gate.Gate, gate.Status, gate.ExitCode, gate.Duration.Round(time.Millisecond))
		case "errored":
			fmt.Printf("  %-24s %-9s %s\n", gate.Gate, gate.Status, gate.Error)
		default:
			fmt.Printf("  %-24s %-9s in %s\n", gate.Gate, gate.Status, gate.Duration.Round(time.Millisecond))
		}
		if verbose && gate.Output != "" {
			fmt.Println(gate.Output)
		}
	}
}

func makeStatsCommand() *cobra.Command {
	var endpoint string

	cmd := &cobra.Command{
		Use:          "stats",
		Short:        "Show dispatcher counters",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			gate, err := newClient(endpoint)
			if err != nil {
				return err
			}
			stats, err := gate.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("dispatched %d\nsuperseded %d\nfinished   %d\nactive     %d\n",
				stats.Dispatched, stats.Superseded, stats.Finished, stats.Active)
			return nil
		},
	}

	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Server endpoint")

	return cmd
}
