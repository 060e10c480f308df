package report

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/jmgilman/tagcheck/internal/scan"
)

var (
	dataEscaper     = strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A")
	propertyEscaper = strings.NewReplacer("%", "%25", "\r", "%0D", "\n", "%0A", ":", "%3A", ",", "%2C")
)

// writeGitHub emits one ::error workflow command per failed finding.
// Successful findings produce no output.
func writeGitHub(w io.Writer, findings []scan.Finding) error {
	for _, f := range findings {
		msg := Message(f)
		if msg == "" {
			continue
		}

		props := strings.Join([]string{
			"file=" + propertyEscaper.Replace(f.File),
			"line=" + strconv.Itoa(f.Line),
			"title=" + propertyEscaper.Replace(title(f)),
		}, ",")

		if _, err := fmt.Fprintf(w, "::error %s::%s\n", props, dataEscaper.Replace(msg)); err != nil {
			return fmt.Errorf("write annotation: %w", err)
		}
	}
	return nil
}
