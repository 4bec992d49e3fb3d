package results

import (
	"fmt"
	"io"
	"strings"

	json "github.com/json-iterator/go"
)

// WriteSummary prints a short human readable summary of the run.
func WriteSummary(w io.Writer, rec RunRecord) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s: %d items processed. Success: %d, Failed: %d.\n",
		rec.ID, len(rec.Results), len(rec.Successes), len(rec.Failures))
	if len(rec.Failures) > 0 {
		fmt.Fprintf(&b, "Failed items: %s\n", strings.Join(rec.Failures, ", "))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteJSON writes rec as indented JSON.
func WriteJSON(w io.Writer, rec RunRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run record: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write run record: %w", err)
	}
	return nil
}
