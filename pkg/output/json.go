package output

import (
	"encoding/json"

	"github.com/Charca/pkgshield/pkg/audit"
)

// JSONReport is the machine-readable form of an audit.
type JSONReport struct {
	Thresholds audit.Thresholds      `json:"thresholds"`
	Packages   []audit.PackageReport `json:"packages"`
	Failures   []JSONFailure         `json:"failures"`
	Summary    JSONSummary           `json:"summary"`
}

// JSONFailure names a dependency that could not be checked.
type JSONFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

// JSONSummary holds the partition counts.
type JSONSummary struct {
	Checked      int `json:"checked"`
	WithWarnings int `json:"with_warnings"`
	Clean        int `json:"clean"`
	Failed       int `json:"failed"`
}

// GenerateJSONReport converts an audit result to indented JSON
func GenerateJSONReport(result *audit.Result, thresholds audit.Thresholds) ([]byte, error) {
	summary := Aggregate(result.Reports)

	failures := make([]JSONFailure, 0, len(result.Failures))
	for _, f := range result.Failures {
		failures = append(failures, JSONFailure{Name: f.Name, Error: f.Err.Error()})
	}

	return json.MarshalIndent(JSONReport{
		Thresholds: thresholds,
		Packages:   result.Reports,
		Failures:   failures,
		Summary: JSONSummary{
			Checked:      len(result.Reports),
			WithWarnings: len(summary.WithWarnings),
			Clean:        len(summary.Clean),
			Failed:       len(result.Failures),
		},
	}, "", "  ")
}
