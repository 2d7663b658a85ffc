package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigredeye/checkgate/internal/pipeline"
)

func makeValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:          "validate [spec]",
		Short:        "Validate a pipeline spec",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "checkgate.yaml"
			if len(args) > 0 {
				path = args[0]
			}
			return validateSpec(path)
		},
	}
}

func validateSpec(path string) error {
	spec, err := pipeline.Load(path)
	if err != nil {
		var specErr *pipeline.SpecError
		if errors.As(err, &specErr) {
			fmt.Printf("%s is invalid:\n", path)
			for _, problem := range specErr.Problems {
				fmt.Printf("  - %s\n", problem)
			}
			os.Exit(1)
		}
		return err
	}

	fmt.Printf("%s is valid: pipeline %q with %d gates\n", path, spec.Name, len(spec.Gates))
	for _, name := range spec.GateNames() {
		fmt.Printf("  - %s\n", name)
	}
	return nil
}
