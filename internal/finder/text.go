package finder

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/afero"
)

// FindInFile returns every image reference in the file at path.
// Non-regular files and files larger than the size ceiling are skipped with
// a warning and yield no matches.
func (f *Finder) FindInFile(path string) ([]Match, error) {
	info, err := f.fs.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	if !info.Mode().IsRegular() {
		f.logger.Warn("Skipping non-regular file", slog.String("file", path))
		return nil, nil
	}
	if info.Size() > f.maxFileSize {
		f.logger.Warn("Skipping file larger than size limit",
			slog.String("file", path),
			slog.Int64("size", info.Size()),
			slog.Int64("limit", f.maxFileSize),
		)
		return nil, nil
	}

	content, err := afero.ReadFile(f.fs, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return f.FindInContent(path, content), nil
}

// FindInContent returns every image reference in content, attributed to file.
// A line may hold several references; all of them are reported.
func (f *Finder) FindInContent(file string, content []byte) []Match {
	var matches []Match

	for i, line := range splitLines(string(content)) {
		if isComment(line) {
			continue
		}
		for _, pattern := range f.patterns {
			for _, m := range pattern.FindAllString(line, -1) {
				matches = append(matches, Match{URI: m, File: file, Line: i + 1})
			}
		}
	}

	return matches
}

// splitLines splits s on "\n" and drops a trailing "\r" from each line.
func splitLines(s string) []string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
