package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/jmgilman/tagcheck/internal/config"
	"github.com/jmgilman/tagcheck/internal/finder"
	"github.com/jmgilman/tagcheck/internal/registry"
	"github.com/jmgilman/tagcheck/internal/report"
	"github.com/jmgilman/tagcheck/internal/scan"
	"github.com/jmgilman/tagcheck/internal/slogger"
	"github.com/jmgilman/tagcheck/internal/version"
)

// requireConfig returns the loaded configuration after validating it.
func requireConfig(ctx context.Context) (*config.Config, error) {
	cfg := ConfigFromContext(ctx)
	if cfg == nil {
		return nil, errors.New("config not loaded")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newScanner wires a Scanner from configuration. baseDir is where diff paths
// are resolved when a finder needs to read a target file.
func newScanner(ctx context.Context, cfg *config.Config, baseDir string) *scan.Scanner {
	logger := slogger.L(ctx)
	fs := afero.NewOsFs()

	f := finder.New(cfg.Endpoints(),
		finder.WithFs(fs),
		finder.WithMaxFileSize(cfg.Scan.MaxFileSize),
		finder.WithBaseDir(baseDir),
		finder.WithLogger(logger),
	)

	opts := []registry.CheckerOption{
		registry.WithClientCache(registry.NewClientCache(registry.ClientConfig{
			Insecure:  cfg.Registry.Insecure,
			Retries:   cfg.Registry.Retries,
			RateLimit: cfg.Registry.RateLimit,
			UserAgent: "tagcheck/" + version.Version,
			Logger:    logger,
		})),
	}
	if cfg.Scan.CacheResults {
		opts = append(opts, registry.WithResultCache())
	}
	checker := registry.NewChecker(cfg.RegistryList(), opts...)

	return scan.NewScanner(f, checker, fs, scan.Config{
		WorkingDirectory: cfg.WorkingDirectory,
		Patterns:         cfg.Patterns,
		MaxChecks:        cfg.Scan.MaxChecks,
		Concurrency:      cfg.Scan.Concurrency,
	})
}

// resolveFormat picks the report format: configured, else GitHub annotations
// when running under GitHub Actions, else text.
func resolveFormat(cfg *config.Config) (report.Format, error) {
	if cfg.Report.Format != "" {
		return report.ParseFormat(cfg.Report.Format)
	}
	if os.Getenv("GITHUB_ACTIONS") == "true" {
		return report.FormatGitHub, nil
	}
	return report.FormatText, nil
}

// finish reports findings and turns the outcome into the command's error.
func finish(cmd *cobra.Command, cfg *config.Config, findings []scan.Finding) error {
	format, err := resolveFormat(cfg)
	if err != nil {
		return err
	}

	if err := report.Write(cmd.OutOrStdout(), format, findings); err != nil {
		return err
	}

	summary := scan.Summarize(findings)
	slogger.L(cmd.Context()).Info("Check complete",
		"ok", summary.OK,
		"not_found", summary.NotFound,
		"check_failed", summary.CheckFailed,
	)

	if summary.Failed(failOnError) {
		return fmt.Errorf("%w: %d not found, %d failed", ErrCheckFailed, summary.NotFound, summary.CheckFailed)
	}
	return nil
}
