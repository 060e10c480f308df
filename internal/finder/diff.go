package finder

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

const devNull = "/dev/null"

// FindInDiff returns the image references introduced by a unified diff.
// Only added lines are scanned, and each added line yields at most one match.
// Matches carry the target path and the line number in the target file.
func (f *Finder) FindInDiff(data []byte) ([]Match, error) {
	fileDiffs, err := diff.ParseMultiFileDiff(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDiff, err)
	}

	var matches []Match
	for _, fd := range fileDiffs {
		target := targetPath(fd)
		if target == "" {
			continue
		}

		for _, hunk := range fd.Hunks {
			for _, change := range addedLines(target, hunk) {
				if isComment(change.Content) {
					continue
				}
				if m, ok := f.findLine(change); ok {
					matches = append(matches, m)
				}
			}
		}
	}

	return matches, nil
}

// targetPath returns the post-change path of fd, or "" when the file is deleted.
// The "b/" prefix is removed only when the diff carries git's a/ b/ prefixes,
// so a --no-prefix diff keeps a real top-level "b" directory.
func targetPath(fd *diff.FileDiff) string {
	name := fd.NewName
	if name == "" || name == devNull {
		return ""
	}
	if hasGitPrefixes(fd) {
		return strings.TrimPrefix(name, "b/")
	}
	return name
}

// hasGitPrefixes reports whether fd's paths use the a/ and b/ prefixes.
// Added files have no original name, so the "diff --git" header decides.
func hasGitPrefixes(fd *diff.FileDiff) bool {
	if fd.OrigName != devNull {
		return strings.HasPrefix(fd.OrigName, "a/")
	}
	for _, line := range fd.Extended {
		if header, ok := strings.CutPrefix(line, "diff --git "); ok {
			return strings.HasPrefix(header, "a/") && strings.Contains(header, " b/")
		}
	}
	return false
}

// addedLines walks a hunk body and returns its added lines with target line numbers.
// Context lines advance the target line counter, removed lines do not.
func addedLines(file string, hunk *diff.Hunk) []Change {
	var changes []Change

	line := int(hunk.NewStartLine)
	body := bytes.TrimSuffix(hunk.Body, []byte("\n"))
	if len(body) == 0 {
		return nil
	}

	for _, raw := range bytes.Split(body, []byte("\n")) {
		if len(raw) == 0 {
			// Some tools strip the space from empty context lines.
			line++
			continue
		}

		switch raw[0] {
		case '+':
			changes = append(changes, Change{
				File:    file,
				Line:    line,
				Content: strings.TrimSuffix(string(raw[1:]), "\r"),
			})
			line++
		case '-':
		case '\\':
			// "\ No newline at end of file"
		default:
			line++
		}
	}

	return changes
}
