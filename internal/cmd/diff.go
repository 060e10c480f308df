package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	tcexec "github.com/jmgilman/tagcheck/internal/exec"
	"github.com/jmgilman/tagcheck/internal/git"
	"github.com/jmgilman/tagcheck/internal/slogger"
)

// errNoDiffInput is returned when --diff-file - is used on an interactive terminal.
var errNoDiffInput = errors.New("no diff on stdin: pipe a diff or use --base")

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Check image references added by a diff",
	Long: `Check the image references on the lines a unified diff adds.

By default the diff is produced with git between --base and HEAD, using the
merge base so only the branch's own changes are considered. Alternatively a
diff can be read from a file, or from stdin with --diff-file -.

Added Kustomize "newTag:" lines are resolved against the image name in the
same images entry of the changed file.`,
	Example: `  # Check what a pull request adds
  tagcheck diff --base origin/main

  # Check a saved patch
  git diff HEAD~3 | tagcheck diff --diff-file -`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := requireConfig(ctx)
		if err != nil {
			return err
		}

		base, _ := cmd.Flags().GetString("base")
		mergeBase, _ := cmd.Flags().GetBool("merge-base")
		diffFile, _ := cmd.Flags().GetString("diff-file")

		var (
			data    []byte
			baseDir string
		)
		switch {
		case diffFile != "":
			data, err = readDiff(cmd, diffFile, cfg.Diff.MaxBytes)
			if err != nil {
				return err
			}
			baseDir = cfg.WorkingDirectory
		case base != "":
			repo, err := git.NewOpener(tcexec.New()).Open(ctx, cfg.WorkingDirectory)
			if err != nil {
				return fmt.Errorf("open repository: %w", err)
			}

			data, err = repo.Diff(ctx, git.DiffOptions{
				Base:      base,
				MergeBase: mergeBase,
				Timeout:   cfg.Diff.Timeout,
				MaxBytes:  cfg.Diff.MaxBytes,
			})
			if err != nil {
				return fmt.Errorf("diff against %s: %w", base, err)
			}
			baseDir = repo.Root()
		default:
			return errors.New("either --base or --diff-file is required")
		}

		slogger.L(ctx).Debug("Read diff", "bytes", len(data))

		findings, err := newScanner(ctx, cfg, baseDir).ScanDiff(ctx, data)
		if err != nil {
			return err
		}

		return finish(cmd, cfg, findings)
	},
}

// readDiff reads a diff from path, or from stdin when path is "-".
// Input larger than maxBytes is rejected.
func readDiff(cmd *cobra.Command, path string, maxBytes int64) ([]byte, error) {
	var r io.Reader
	if path == "-" {
		if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return nil, errNoDiffInput
		}
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open diff: %w", err)
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read diff: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: diff is larger than %d bytes", tcexec.ErrOutputTooLarge, maxBytes)
	}
	return data, nil
}

func init() {
	rootCmd.AddCommand(diffCmd)

	diffCmd.Flags().String("base", "", "git ref to diff against")
	diffCmd.Flags().Bool("merge-base", true, "diff from the merge base of --base and HEAD")
	diffCmd.Flags().String("diff-file", "", "read the diff from a file, or - for stdin")
	diffCmd.MarkFlagsMutuallyExclusive("base", "diff-file")
}
