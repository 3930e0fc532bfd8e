package output

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Charca/pkgshield/pkg/audit"
)

// SARIF format specification: https://docs.oasis-open.org/sarif/sarif/v2.1.0/sarif-v2.1.0.html

// SarifReport represents the top-level SARIF report structure
type SarifReport struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []SarifRun `json:"runs"`
}

// SarifRun represents a single run of the analysis tool
type SarifRun struct {
	Tool        SarifTool         `json:"tool"`
	Results     []SarifResult     `json:"results"`
	Invocations []SarifInvocation `json:"invocations"`
}

// SarifTool represents the tool that performed the analysis
type SarifTool struct {
	Driver SarifDriver `json:"driver"`
}

// SarifDriver represents the driver of the tool
type SarifDriver struct {
	Name           string      `json:"name"`
	Version        string      `json:"version"`
	InformationURI string      `json:"informationUri"`
	Rules          []SarifRule `json:"rules"`
}

// SarifRule represents a rule that was evaluated during the analysis
type SarifRule struct {
	ID               string            `json:"id"`
	ShortDescription SarifMessage      `json:"shortDescription"`
	FullDescription  SarifMessage      `json:"fullDescription"`
	Help             SarifMessage      `json:"help"`
	Properties       map[string]string `json:"properties,omitempty"`
}

// SarifResult represents a result of the analysis
type SarifResult struct {
	RuleID     string            `json:"ruleId"`
	Level      string            `json:"level"`
	Message    SarifMessage      `json:"message"`
	Locations  []SarifLocation   `json:"locations"`
	Properties map[string]string `json:"properties,omitempty"`
}

// SarifMessage represents a message in the SARIF report
type SarifMessage struct {
	Text string `json:"text"`
}

// SarifLocation represents a location in the code
type SarifLocation struct {
	PhysicalLocation SarifPhysicalLocation `json:"physicalLocation"`
}

// SarifPhysicalLocation represents a physical location in the code
type SarifPhysicalLocation struct {
	ArtifactLocation SarifArtifactLocation `json:"artifactLocation"`
}

// SarifArtifactLocation represents the location of an artifact
type SarifArtifactLocation struct {
	URI string `json:"uri"`
}

// SarifInvocation represents an invocation of the tool
type SarifInvocation struct {
	ExecutionSuccessful bool                     `json:"executionSuccessful"`
	StartTimeUtc        string                   `json:"startTimeUtc"`
	EndTimeUtc          string                   `json:"endTimeUtc"`
	Notifications       []SarifNotificationEntry `json:"toolExecutionNotifications,omitempty"`
}

// SarifNotificationEntry reports a dependency that could not be checked.
type SarifNotificationEntry struct {
	Level   string       `json:"level"`
	Message SarifMessage `json:"message"`
}

// SarifOptions carries run metadata for the SARIF document.
type SarifOptions struct {
	ManifestPath string
	ToolVersion  string
	StartedAt    time.Time
	FinishedAt   time.Time
}

var sarifRules = []SarifRule{
	{
		ID:               string(audit.RulePackageTooNew),
		ShortDescription: SarifMessage{Text: "Package is too new"},
		FullDescription:  SarifMessage{Text: "The package's first release is more recent than the package age threshold. Newly created packages are a common vehicle for typosquatting and malicious uploads."},
		Help:             SarifMessage{Text: "Confirm the package is the one you intended to install and review its source before trusting it."},
	},
	{
		ID:               string(audit.RuleVersionTooNew),
		ShortDescription: SarifMessage{Text: "Installed version is too new"},
		FullDescription:  SarifMessage{Text: "The installed version was published more recently than the version age threshold. Compromised releases are usually caught within days of publication."},
		Help:             SarifMessage{Text: "Consider pinning the previous version until the release has been public for longer."},
	},
	{
		ID:               string(audit.RuleUnmaintained),
		ShortDescription: SarifMessage{Text: "Package may be unmaintained"},
		FullDescription:  SarifMessage{Text: "The latest release is older than the unmaintained threshold."},
		Help:             SarifMessage{Text: "Check whether the project is still maintained or has a maintained replacement."},
	},
	{
		ID:               string(audit.RuleVersionNotFound),
		ShortDescription: SarifMessage{Text: "Installed version not found in registry"},
		FullDescription:  SarifMessage{Text: "The installed version has no publish time in the registry, so its age could not be checked."},
		Help:             SarifMessage{Text: "Make sure package-lock.json is committed and in sync with package.json."},
	},
}

func sarifLevel(rule audit.Rule) string {
	switch rule {
	case audit.RulePackageTooNew, audit.RuleVersionTooNew:
		return "warning"
	default:
		return "note"
	}
}

// GenerateSarifReport converts an audit result to SARIF, one result per warning.
func GenerateSarifReport(result *audit.Result, opts SarifOptions) ([]byte, error) {
	results := make([]SarifResult, 0)
	for _, report := range result.Reports {
		for _, warning := range report.Warnings {
			results = append(results, SarifResult{
				RuleID: string(warning.Rule),
				Level:  sarifLevel(warning.Rule),
				Message: SarifMessage{
					Text: fmt.Sprintf("%s@%s: %s", report.Name, report.InstalledVersion, warning.Message),
				},
				Locations: []SarifLocation{
					{
						PhysicalLocation: SarifPhysicalLocation{
							ArtifactLocation: SarifArtifactLocation{URI: opts.ManifestPath},
						},
					},
				},
				Properties: map[string]string{
					"package": report.Name,
					"version": report.InstalledVersion,
				},
			})
		}
	}

	var notifications []SarifNotificationEntry
	for _, f := range result.Failures {
		notifications = append(notifications, SarifNotificationEntry{
			Level:   "warning",
			Message: SarifMessage{Text: f.Error()},
		})
	}

	finished := opts.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	started := opts.StartedAt
	if started.IsZero() {
		started = finished
	}
	version := opts.ToolVersion
	if version == "" {
		version = "dev"
	}

	sarifReport := SarifReport{
		Schema:  "https://schemastore.azurewebsites.net/schemas/json/sarif-2.1.0-rtm.5.json",
		Version: "2.1.0",
		Runs: []SarifRun{
			{
				Tool: SarifTool{
					Driver: SarifDriver{
						Name:           "pkgshield",
						Version:        version,
						InformationURI: "https://github.com/Charca/pkgshield",
						Rules:          sarifRules,
					},
				},
				Results: results,
				Invocations: []SarifInvocation{
					{
						ExecutionSuccessful: true,
						StartTimeUtc:        started.UTC().Format(time.RFC3339),
						EndTimeUtc:          finished.UTC().Format(time.RFC3339),
						Notifications:       notifications,
					},
				},
			},
		},
	}

	return json.MarshalIndent(sarifReport, "", "  ")
}
