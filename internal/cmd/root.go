// Package cmd implements the tagcheck CLI commands using Cobra.
// It provides commands for checking that the image tags referenced by
// manifests, or by the lines a diff adds to them, exist in their registries.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmgilman/tagcheck/internal/config"
	"github.com/jmgilman/tagcheck/internal/slogger"
)

// ErrCheckFailed is returned when the run found missing tags, or failed
// checks while --fail-on-error is set.
var ErrCheckFailed = errors.New("image check failed")

// Persistent flag values.
var (
	configPath  string
	verbosity   int
	logFormat   string
	failOnError bool
)

// flagKeys maps persistent flags to the configuration keys they override.
var flagKeys = map[string]string{
	"format":            "report.format",
	"working-directory": "working_directory",
	"max-checks":        "scan.max_checks",
	"concurrency":       "scan.concurrency",
	"insecure":          "registry.insecure",
}

var rootCmd = &cobra.Command{
	Use:   "tagcheck",
	Short: "Verify that image tags referenced in manifests exist",
	Long: `tagcheck scans YAML manifests, or the lines a diff adds to them, for
container image references and checks that every referenced tag exists in
its registry.

Registries and their credentials are configured through TAGCHECK_REGISTRIES,
a JSON or YAML map from endpoint to {username, password}, or through the
"registries" key of .tagcheck.yaml.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger := slogger.New(slogger.Config{
			Verbosity: verbosity,
			Format:    slogger.Format(logFormat),
			Output:    cmd.ErrOrStderr(),
		})

		loader := config.NewLoader(configPath)
		for name, key := range flagKeys {
			if err := loader.BindFlag(key, cmd.Flags().Lookup(name)); err != nil {
				return err
			}
		}

		cfg, err := loader.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// Store dependencies in context for subcommands
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx = slogger.WithLogger(ctx, logger)
		ctx = WithConfig(ctx, cfg)
		ctx = WithLoader(ctx, loader)
		cmd.SetContext(ctx)

		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext is Execute with a caller-supplied context.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file (default .tagcheck.yaml if present)")
	flags.CountVarP(&verbosity, "verbose", "v", "increase log verbosity (-v info, -vv debug)")
	flags.StringVar(&logFormat, "log-format", string(slogger.FormatText), "log format: text or json")
	flags.BoolVar(&failOnError, "fail-on-error", false, "fail the run when a check errors, not only when a tag is missing")

	flags.String("format", "", "report format: github, text or json (default github on GitHub Actions, else text)")
	flags.StringP("working-directory", "C", ".", "directory to search for manifests")
	flags.Int("max-checks", 0, "maximum number of checks per run")
	flags.Int("concurrency", 0, "number of checks in flight at once")
	flags.Bool("insecure", false, "talk to registries over plain HTTP")
}
