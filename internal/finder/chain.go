package finder

import (
	"log/slog"
	"regexp"
)

// Change is one line added by a diff.
type Change struct {
	// File is the diff's target path.
	File string

	// Line is the 1-based line number in the target file.
	Line int

	// Content is the line without the leading "+".
	Content string
}

// LineFinder extracts at most one image reference from an added line.
// A LineFinder that cannot decide returns ok=false; an error means the
// finder itself failed and the next finder should be tried.
type LineFinder interface {
	Name() string
	FindLine(change Change) (match Match, ok bool, err error)
}

// RegexFinder matches references written out in full on the line.
type RegexFinder struct {
	Patterns []*regexp.Regexp
}

// Name implements LineFinder.
func (r *RegexFinder) Name() string {
	return "regex"
}

// FindLine returns the first reference on the line.
func (r *RegexFinder) FindLine(change Change) (Match, bool, error) {
	for _, pattern := range r.Patterns {
		if m := pattern.FindString(change.Content); m != "" {
			return Match{URI: m, File: change.File, Line: change.Line}, true, nil
		}
	}
	return Match{}, false, nil
}

// findLine runs the chain in order and returns the first match.
// Finder errors are logged and treated as no match.
func (f *Finder) findLine(change Change) (Match, bool) {
	for _, lf := range f.chain {
		m, ok, err := lf.FindLine(change)
		if err != nil {
			f.logger.Warn("Finder failed",
				slog.String("finder", lf.Name()),
				slog.String("file", change.File),
				slog.Int("line", change.Line),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			return m, true
		}
	}
	return Match{}, false
}
