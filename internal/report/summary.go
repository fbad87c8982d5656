package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"invoicing/internal/reconciliation"
)

// Summary is the machine-readable account of one batch.
type Summary struct {
	RunID       string    `json:"run_id"`
	Batch       string    `json:"batch"`
	GeneratedAt time.Time `json:"generated_at"`

	InputRows   int            `json:"input_rows"`
	Normalized  int            `json:"normalized"`
	Skipped     map[string]int `json:"skipped"`
	SkippedRows []string       `json:"skipped_rows,omitempty"`
	Warnings    []string       `json:"warnings,omitempty"`

	Candidates int                         `json:"candidates"`
	Validation map[string]int              `json:"validation"`
	Stats      reconciliation.Stats        `json:"stats"`
	Audit      *reconciliation.AuditReport `json:"audit,omitempty"`
}

// NewSummary summarizes a batch result.
func NewSummary(result *reconciliation.BatchResult, now time.Time) Summary {
	s := Summary{
		RunID:       result.RunID,
		Batch:       result.Batch,
		GeneratedAt: now.UTC(),
		Skipped:     map[string]int{},
		Candidates:  len(result.Candidates),
		Validation:  map[string]int{},
		Stats:       result.Stats,
		Audit:       result.Audit,
	}
	if result.Report != nil {
		s.InputRows = result.Report.InputRows
		s.Normalized = result.Report.Normalized
		s.Skipped = result.Report.SkippedByReason()
		for _, rowErr := range result.Report.Skipped {
			s.SkippedRows = append(s.SkippedRows, rowErr.Error())
		}
		s.Warnings = result.Report.Warnings
	}
	for _, vm := range result.Matches {
		s.Validation[string(vm.Status)]++
	}
	return s
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// AINativeMatches renders every validated match, rejected ones included.
func AINativeMatches(matches []reconciliation.ValidatedMatch) []reconciliation.AINativeMatch {
	out := make([]reconciliation.AINativeMatch, 0, len(matches))
	for _, vm := range matches {
		out = append(out, reconciliation.ToAINative(vm))
	}
	return out
}
