// Package finder locates container image references in manifests and diffs.
//
// Two entry points share one matching core. FindInFile scans a whole file and
// reports every reference on every line. FindInDiff scans only the lines a
// unified diff adds and attributes each reference to the target file and its
// line number there. Added lines go through a chain of LineFinders, so
// references that are split across YAML fields (the Kustomize "newTag" idiom)
// can be reconstructed from the target file.
package finder

import (
	"errors"
	"log/slog"
	"regexp"

	"github.com/spf13/afero"
)

// DefaultMaxFileSize is the largest file FindInFile will scan or a finder will read.
const DefaultMaxFileSize = 10 << 10

// Sentinel errors for extraction.
var (
	// ErrExtraction wraps failures inside a LineFinder. It never escapes FindInDiff.
	ErrExtraction = errors.New("extraction failed")

	// ErrInvalidDiff is returned when the diff cannot be parsed.
	ErrInvalidDiff = errors.New("invalid diff")
)

// commentRegex matches whole-line YAML comments only.
var commentRegex = regexp.MustCompile(`^\s*#`)

// Match is one occurrence of an image reference.
type Match struct {
	// URI is the reference as <endpoint>/<namespace>/<repository>:<tag>.
	URI string `json:"uri"`

	// File is the scanned file, or the diff's target path.
	File string `json:"file"`

	// Line is 1-based.
	Line int `json:"line"`
}

// Option configures a Finder.
type Option func(*Finder)

// WithFs sets the filesystem files are read from. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(f *Finder) {
		f.fs = fs
	}
}

// WithMaxFileSize overrides DefaultMaxFileSize.
func WithMaxFileSize(n int64) Option {
	return func(f *Finder) {
		f.maxFileSize = n
	}
}

// WithBaseDir sets the directory diff target paths are resolved against
// when a LineFinder needs to read the target file.
func WithBaseDir(dir string) Option {
	return func(f *Finder) {
		f.baseDir = dir
	}
}

// WithLogger sets the logger used for skipped files and finder errors.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Finder) {
		f.logger = logger
	}
}

// Finder extracts image references for a fixed set of registry endpoints.
type Finder struct {
	endpoints   []string
	patterns    []*regexp.Regexp
	fs          afero.Fs
	maxFileSize int64
	baseDir     string
	logger      *slog.Logger
	chain       []LineFinder
}

// New creates a Finder for the given registry endpoints.
func New(endpoints []string, opts ...Option) *Finder {
	f := &Finder{
		endpoints:   endpoints,
		patterns:    compilePatterns(endpoints),
		fs:          afero.NewOsFs(),
		maxFileSize: DefaultMaxFileSize,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(f)
	}

	f.chain = []LineFinder{
		&KustomizeFinder{Endpoints: f.endpoints, Fs: f.fs, BaseDir: f.baseDir, MaxFileSize: f.maxFileSize},
		&RegexFinder{Patterns: f.patterns},
	}

	return f
}

// compilePatterns builds one case-insensitive pattern per endpoint.
// The endpoint is quoted so a "." in a hostname only matches itself.
func compilePatterns(endpoints []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(endpoints))
	for _, endpoint := range endpoints {
		patterns = append(patterns, regexp.MustCompile(
			`(?i)\b`+regexp.QuoteMeta(endpoint)+`/[\w_-]+/[\w_-]+:(\w+)\b`,
		))
	}
	return patterns
}

// isComment reports whether line is a whole-line YAML comment.
func isComment(line string) bool {
	return commentRegex.MatchString(line)
}
