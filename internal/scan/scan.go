// Package scan ties extraction and checking together. A Scanner turns a set of
// files or a unified diff into matches, enforces the per-run check cap, checks
// every match against its registry and returns findings in match order.
package scan

import (
	"context"
	"errors"

	"github.com/jmgilman/tagcheck/internal/registry"
)

// Defaults for Config fields left zero.
const (
	DefaultMaxChecks   = 1000
	DefaultConcurrency = 4
)

// DefaultPatterns are the globs FindFiles expands when none are configured.
var DefaultPatterns = []string{"**/*.yaml", "**/*.yml"}

// ErrTooManyChecks is returned when a run would issue more checks than allowed.
// It is returned before any check is issued.
var ErrTooManyChecks = errors.New("too many checks")

// Status is the outcome reported for one match.
type Status string

const (
	StatusOK          Status = "ok"
	StatusNotFound    Status = "not_found"
	StatusCheckFailed Status = "check_failed"
)

// Finding is one match together with its check outcome.
type Finding struct {
	URI    string `json:"uri"`
	File   string `json:"file"`
	Line   int    `json:"line"`
	Status Status `json:"status"`

	// Err is set when Status is StatusCheckFailed.
	Err error `json:"-"`
}

// Summary counts findings per status.
type Summary struct {
	OK          int `json:"ok"`
	NotFound    int `json:"not_found"`
	CheckFailed int `json:"check_failed"`
}

// Summarize counts findings per status.
func Summarize(findings []Finding) Summary {
	var s Summary
	for _, f := range findings {
		switch f.Status {
		case StatusOK:
			s.OK++
		case StatusNotFound:
			s.NotFound++
		case StatusCheckFailed:
			s.CheckFailed++
		}
	}
	return s
}

// Failed reports whether the run should fail. Missing tags always fail the run;
// failed checks only do when failOnError is set.
func (s Summary) Failed(failOnError bool) bool {
	return s.NotFound > 0 || (failOnError && s.CheckFailed > 0)
}

// Checker verifies a single image URI.
//
//go:generate go run github.com/matryer/moq@latest -pkg mocks -out mocks/checker.go . Checker
type Checker interface {
	Check(ctx context.Context, uri string) (registry.Status, error)
}

// Config configures a Scanner.
type Config struct {
	WorkingDirectory string   // Root for file discovery
	Patterns         []string // Globs relative to WorkingDirectory
	MaxChecks        int      // Upper bound on checks per run
	Concurrency      int      // Checks in flight at once
}
