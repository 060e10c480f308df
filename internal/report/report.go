// Package report renders scan findings for humans and for CI.
package report

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jmgilman/tagcheck/internal/scan"
)

// Format selects how findings are rendered.
type Format string

const (
	// FormatGitHub emits GitHub Actions workflow commands that annotate the change.
	FormatGitHub Format = "github"
	// FormatText emits a styled, human-readable listing.
	FormatText Format = "text"
	// FormatJSON emits findings and a summary as one JSON document.
	FormatJSON Format = "json"
)

// Annotation titles.
const (
	titleNotFound    = "Non-existent Docker image"
	titleCheckFailed = "Docker image check failed"
)

// ErrUnknownFormat is returned for a format name that is not supported.
var ErrUnknownFormat = errors.New("unknown report format")

// Formats lists every supported format.
var Formats = []Format{FormatGitHub, FormatText, FormatJSON}

// ParseFormat converts a format name into a Format.
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// Write renders findings to w in the given format.
func Write(w io.Writer, format Format, findings []scan.Finding) error {
	switch format {
	case FormatGitHub:
		return writeGitHub(w, findings)
	case FormatText:
		return writeText(w, findings)
	case FormatJSON:
		return writeJSON(w, findings)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// Message returns the human-readable message for a finding, or "" for ok findings.
func Message(f scan.Finding) string {
	switch f.Status {
	case scan.StatusNotFound:
		return fmt.Sprintf("The image %q does not exist. Is the tag correct?", f.URI)
	case scan.StatusCheckFailed:
		return fmt.Sprintf("Check for %q failed due to: %v", f.URI, f.Err)
	default:
		return ""
	}
}

func title(f scan.Finding) string {
	if f.Status == scan.StatusCheckFailed {
		return titleCheckFailed
	}
	return titleNotFound
}
