package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/jmgilman/tagcheck/internal/scan"
)

type jsonFinding struct {
	scan.Finding
	Error string `json:"error,omitempty"`
}

type jsonReport struct {
	Findings []jsonFinding `json:"findings"`
	Summary  scan.Summary  `json:"summary"`
}

func writeJSON(w io.Writer, findings []scan.Finding) error {
	out := jsonReport{
		Findings: make([]jsonFinding, 0, len(findings)),
		Summary:  scan.Summarize(findings),
	}
	for _, f := range findings {
		jf := jsonFinding{Finding: f}
		if f.Err != nil {
			jf.Error = f.Err.Error()
		}
		out.Findings = append(out.Findings, jf)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
