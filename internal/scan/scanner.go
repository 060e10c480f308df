package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/jmgilman/tagcheck/internal/finder"
	"github.com/jmgilman/tagcheck/internal/registry"
	"github.com/jmgilman/tagcheck/internal/slogger"
)

// Scanner runs extraction and checking for one invocation.
type Scanner struct {
	finder  *finder.Finder
	checker Checker
	fs      afero.Fs
	cfg     Config
}

// NewScanner creates a Scanner. Zero Config fields take their defaults.
func NewScanner(f *finder.Finder, checker Checker, fsys afero.Fs, cfg Config) *Scanner {
	if cfg.WorkingDirectory == "" {
		cfg.WorkingDirectory = "."
	}
	if len(cfg.Patterns) == 0 {
		cfg.Patterns = DefaultPatterns
	}
	if cfg.MaxChecks <= 0 {
		cfg.MaxChecks = DefaultMaxChecks
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	return &Scanner{
		finder:  f,
		checker: checker,
		fs:      fsys,
		cfg:     cfg,
	}
}

// FindFiles expands the configured patterns under the working directory.
// Only regular files are returned, sorted and without duplicates. Returned
// paths are the working directory as configured joined with the match.
func (s *Scanner) FindFiles(ctx context.Context) ([]string, error) {
	base, err := filepath.Abs(s.cfg.WorkingDirectory)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	root := afero.NewIOFS(afero.NewBasePathFs(s.fs, base))

	var paths []string
	for _, pattern := range s.cfg.Patterns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		matches, err := doublestar.Glob(root, filepath.ToSlash(pattern), doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("expand pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			paths = append(paths, filepath.Join(s.cfg.WorkingDirectory, filepath.FromSlash(m)))
		}
	}

	slices.Sort(paths)
	paths = slices.Compact(paths)

	slogger.L(ctx).Debug("Discovered files",
		slog.String("dir", s.cfg.WorkingDirectory),
		slog.Int("count", len(paths)),
	)

	return paths, nil
}

// ScanFiles extracts matches from every file in paths and checks them.
// Files that cannot be read are logged and skipped.
func (s *Scanner) ScanFiles(ctx context.Context, paths []string) ([]Finding, error) {
	var matches []finder.Match
	for _, path := range paths {
		found, err := s.finder.FindInFile(path)
		if err != nil {
			msg := "Skipping unreadable file"
			if isNotExist(err) {
				msg = "Skipping missing file"
			}
			slogger.L(ctx).Warn(msg, slog.String("file", path), slog.String("error", err.Error()))
			continue
		}
		matches = append(matches, found...)
	}

	return s.Check(ctx, matches)
}

// ScanDiff extracts matches from the lines a unified diff adds and checks them.
func (s *Scanner) ScanDiff(ctx context.Context, diff []byte) ([]Finding, error) {
	matches, err := s.finder.FindInDiff(diff)
	if err != nil {
		return nil, err
	}

	return s.Check(ctx, matches)
}

// Check verifies every match and returns one finding per match, in order.
// Per-match errors become StatusCheckFailed findings. Exceeding the check cap
// fails the whole run before anything is checked.
func (s *Scanner) Check(ctx context.Context, matches []finder.Match) ([]Finding, error) {
	if len(matches) > s.cfg.MaxChecks {
		return nil, fmt.Errorf("%w: %d matches exceed the limit of %d", ErrTooManyChecks, len(matches), s.cfg.MaxChecks)
	}

	logger := slogger.L(ctx)
	logger.Info("Checking image references", slog.Int("count", len(matches)))

	findings := make([]Finding, len(matches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i, m := range matches {
		g.Go(func() error {
			status, err := s.checker.Check(gctx, m.URI)

			finding := Finding{URI: m.URI, File: m.File, Line: m.Line}
			switch {
			case err != nil:
				finding.Status = StatusCheckFailed
				finding.Err = err
				logger.Debug("Check failed",
					slog.String("uri", m.URI),
					slog.String("error", err.Error()),
				)
			case status == registry.StatusOK:
				finding.Status = StatusOK
			default:
				finding.Status = StatusNotFound
			}

			findings[i] = finding
			return nil
		})
	}

	// Check errors are recorded on findings, so Wait never fails.
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return findings, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
