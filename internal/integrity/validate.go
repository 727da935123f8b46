package integrity

import (
	"fmt"
	"strings"

	"github.com/Seiaaxn/kanaver3/internal/domain"
)

// ValidateOptions selects which integrity checks run.
type ValidateOptions struct {
	RequiredFields []string
	MinTitleLength int
	ValidateURLs   bool
}

// ValidationStats counts the outcome of a validation pass.
type ValidationStats struct {
	Items    int `json:"items"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

// ValidationReport is advisory: errors and warnings never abort the
// workflow that requested them.
type ValidationReport struct {
	Valid    bool            `json:"valid"`
	Errors   []string        `json:"errors,omitempty"`
	Warnings []string        `json:"warnings,omitempty"`
	Stats    ValidationStats `json:"stats"`
}

// Validate reports one error per missing required field and warnings
// for short titles and suspicious URL fields. It never fails the call.
func (e *Engine) Validate(items []domain.Comic, opts ValidateOptions) ValidationReport {
	report := ValidationReport{Valid: true}
	report.Stats.Items = len(items)

	for i, item := range items {
		for _, field := range opts.RequiredFields {
			if strings.TrimSpace(item.Field(field)) == "" {
				report.Errors = append(report.Errors,
					fmt.Sprintf("item %d: missing required field %q", i, field))
			}
		}

		if opts.MinTitleLength > 0 && len(strings.TrimSpace(item.Title)) < opts.MinTitleLength {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("item %d: title shorter than %d characters", i, opts.MinTitleLength))
		}

		if opts.ValidateURLs {
			if item.Href != "" && !validURLPrefix(item.Href) {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("item %d: href %q has unexpected prefix", i, item.Href))
			}
			if item.Thumbnail != "" && !validURLPrefix(item.Thumbnail) {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("item %d: thumbnail %q has unexpected prefix", i, item.Thumbnail))
			}
		}
	}

	report.Stats.Errors = len(report.Errors)
	report.Stats.Warnings = len(report.Warnings)
	report.Valid = len(report.Errors) == 0
	return report
}

func validURLPrefix(value string) bool {
	return strings.HasPrefix(value, "/") || strings.HasPrefix(value, "http")
}
