package git

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmgilman/tagcheck/internal/exec"
)

type repository struct {
	root string
	exec exec.Executor
}

func (r *repository) Root() string {
	return r.root
}

func (r *repository) RefExists(ctx context.Context, ref string) (bool, error) {
	result, err := r.exec.Run(ctx, &exec.RunOptions{
		Name: "git",
		Args: []string{"rev-parse", "--verify", "--quiet", ref + "^{commit}"},
		Dir:  r.root,
	})
	if err != nil {
		// Exit code 1 means the ref doesn't resolve, which is not an error
		if result != nil && result.ExitCode == 1 {
			return false, nil
		}
		return false, gitError("verify ref", result, err)
	}
	return true, nil
}

func (r *repository) Diff(ctx context.Context, opts DiffOptions) ([]byte, error) {
	exists, err := r.RefExists(ctx, opts.Base)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRefNotFound, opts.Base)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultDiffTimeout
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultDiffMaxBytes
	}

	result, err := r.exec.Run(ctx, &exec.RunOptions{
		Name:      "git",
		Args:      diffArgs(opts),
		Dir:       r.root,
		Timeout:   timeout,
		MaxOutput: maxBytes,
	})
	if err != nil {
		if errors.Is(err, exec.ErrOutputTooLarge) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("git diff: %w", err)
		}
		return nil, gitError("git diff", result, err)
	}

	return result.Stdout, nil
}

// diffArgs builds the argument list for git diff.
// External diff drivers and color are disabled so the output is always a plain unified diff.
func diffArgs(opts DiffOptions) []string {
	rng := opts.Base
	if opts.MergeBase {
		rng = opts.Base + "...HEAD"
	}

	args := []string{"diff", "--no-color", "--no-ext-diff", "--no-renames", rng}
	if len(opts.Paths) > 0 {
		args = append(args, "--")
		args = append(args, opts.Paths...)
	}
	return args
}
