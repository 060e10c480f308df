// Package git provides an abstraction over the git operations tagcheck needs.
package git

import (
	"context"
	"errors"
	"time"
)

// Default limits for Diff.
const (
	DefaultDiffTimeout  = 5 * time.Second
	DefaultDiffMaxBytes = 10 << 20
)

// Sentinel errors for git operations.
var (
	ErrNotRepository = errors.New("not a git repository")
	ErrRefNotFound   = errors.New("ref not found")
)

// DiffOptions configures Repository.Diff.
type DiffOptions struct {
	// Base is the ref to diff against (e.g. "origin/main").
	Base string

	// MergeBase diffs from the merge base of Base and HEAD ("<base>...HEAD")
	// instead of Base itself.
	MergeBase bool

	// Paths limits the diff to the given pathspecs.
	Paths []string

	// Timeout bounds the git invocation. Zero uses DefaultDiffTimeout.
	Timeout time.Duration

	// MaxBytes bounds the diff size. Zero uses DefaultDiffMaxBytes.
	MaxBytes int64
}

// Repository provides git operations for a repository.
//
//go:generate go run github.com/matryer/moq@latest -pkg mocks -out mocks/repository.go . Repository
type Repository interface {
	// Root returns the absolute path to the repository root.
	Root() string

	// RefExists reports whether ref resolves to a commit.
	RefExists(ctx context.Context, ref string) (bool, error)

	// Diff returns the unified diff between opts.Base and HEAD.
	// Exceeding the timeout or size ceiling is an error.
	Diff(ctx context.Context, opts DiffOptions) ([]byte, error)
}

// Opener opens git repositories.
//
//go:generate go run github.com/matryer/moq@latest -pkg mocks -out mocks/opener.go . Opener
type Opener interface {
	// Open opens the git repository containing the given path.
	// Returns ErrNotRepository if the path is not inside a git repository.
	Open(ctx context.Context, path string) (Repository, error)
}
