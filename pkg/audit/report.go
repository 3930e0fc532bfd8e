// Package audit evaluates installed npm dependencies against their registry
// publish history and flags packages that are too new, versions installed
// too soon after release, and packages that look abandoned.
package audit

import (
	"fmt"
	"time"
)

// Rule identifies which heuristic produced a warning.
type Rule string

const (
	RuleVersionNotFound Rule = "version-not-found"
	RulePackageTooNew   Rule = "package-too-new"
	RuleVersionTooNew   Rule = "version-too-new"
	RuleUnmaintained    Rule = "unmaintained"
)

// Warning is a single finding for a package.
type Warning struct {
	Rule    Rule   `json:"rule"`
	Message string `json:"message"`
}

func (w Warning) String() string {
	return w.Message
}

// PackageReport represents the audit result of a single dependency
type PackageReport struct {
	Name                  string    `json:"name"`                   // package name
	InstalledVersion      string    `json:"installed_version"`      // lockfile version, or the range with operators stripped
	InstalledVersionDate  time.Time `json:"installed_version_date"` // audit time when the version is unknown to the registry
	InstalledVersionKnown bool      `json:"installed_version_known"`
	FirstReleaseDate      time.Time `json:"first_release_date"`
	LatestVersion         string    `json:"latest_version"`
	LatestVersionDate     time.Time `json:"latest_version_date"`
	Warnings              []Warning `json:"warnings"`
}

// HasWarnings reports whether any heuristic flagged the package.
func (r PackageReport) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// WarningMessages returns the warning texts in the order they were produced.
func (r PackageReport) WarningMessages() []string {
	messages := make([]string, len(r.Warnings))
	for i, w := range r.Warnings {
		messages[i] = w.Message
	}
	return messages
}

// Failure records a dependency that could not be checked.
type Failure struct {
	Name string
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("Failed to check package %s: %v", f.Name, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// Result is the outcome of an audit: one report per checked dependency and
// one failure per dependency that was skipped, both in input order.
type Result struct {
	Reports  []PackageReport
	Failures []Failure
}
