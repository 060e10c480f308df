package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan [paths...]",
	Short: "Check image references in manifest files",
	Long: `Check every image reference in the given manifest files.

With no paths, files are discovered under the working directory using the
configured glob patterns (default **/*.yaml and **/*.yml). Every reference on
every line is checked.`,
	Example: `  # Check all YAML files under the current directory
  tagcheck scan

  # Check specific files
  tagcheck scan deploy/app.yaml deploy/worker.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := requireConfig(ctx)
		if err != nil {
			return err
		}

		scanner := newScanner(ctx, cfg, cfg.WorkingDirectory)

		paths := args
		if len(paths) == 0 {
			paths, err = scanner.FindFiles(ctx)
			if err != nil {
				return fmt.Errorf("find files: %w", err)
			}
		}

		findings, err := scanner.ScanFiles(ctx, paths)
		if err != nil {
			return err
		}

		return finish(cmd, cfg, findings)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)
}
