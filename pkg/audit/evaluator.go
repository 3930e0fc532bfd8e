package audit

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Charca/pkgshield/pkg/registry"
)

const msPerDay = 24 * 60 * 60 * 1000

var (
	// ErrNoPublishHistory is returned when a package has no published versions.
	ErrNoPublishHistory = errors.New("no published versions")
	// ErrNoLatestVersion is returned when the latest tag is missing or has no publish time.
	ErrNoLatestVersion = errors.New("latest version has no publish time")
)

// Thresholds holds the day counts that control each heuristic.
type Thresholds struct {
	PackageAge   int `json:"package_age" yaml:"packageAge"`    // minimum days since first release
	VersionAge   int `json:"version_age" yaml:"versionAge"`    // minimum days since the installed version was published
	Unmaintained int `json:"unmaintained" yaml:"unmaintained"` // maximum days since the latest release
}

// DefaultThresholds returns the thresholds used when none are configured.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PackageAge:   30,
		VersionAge:   2,
		Unmaintained: 365,
	}
}

// Validate rejects negative thresholds.
func (t Thresholds) Validate() error {
	switch {
	case t.PackageAge < 0:
		return fmt.Errorf("package age threshold must not be negative, got %d", t.PackageAge)
	case t.VersionAge < 0:
		return fmt.Errorf("version age threshold must not be negative, got %d", t.VersionAge)
	case t.Unmaintained < 0:
		return fmt.Errorf("unmaintained threshold must not be negative, got %d", t.Unmaintained)
	}
	return nil
}

// Assessment is the outcome of evaluating one installed version.
type Assessment struct {
	InstalledVersionDate  time.Time
	InstalledVersionKnown bool
	FirstReleaseDate      time.Time
	LatestVersionDate     time.Time
	Warnings              []Warning
}

// AgeDays returns the number of whole days between a and b, in either order.
// It truncates the absolute millisecond difference rather than counting
// calendar days.
func AgeDays(a, b time.Time) int {
	diff := a.Sub(b).Milliseconds()
	if diff < 0 {
		diff = -diff
	}
	return int(diff / msPerDay)
}

// Evaluate runs the three heuristics for installed against meta at now.
// The heuristics do not short-circuit each other; the version age check is
// skipped only when installed has no publish time.
func Evaluate(meta *registry.Metadata, installed string, t Thresholds, now time.Time) (*Assessment, error) {
	history := make([]time.Time, 0, len(meta.Times))
	published := make(map[string]time.Time, len(meta.Times))
	for _, pt := range meta.Times {
		ts, err := parseTimestamp(pt.Published)
		if err != nil {
			return nil, fmt.Errorf("invalid publish time for version %s: %w", pt.Version, err)
		}
		history = append(history, ts)
		published[pt.Version] = ts
	}
	if len(history) == 0 {
		return nil, ErrNoPublishHistory
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Before(history[j])
	})

	latestDate, ok := published[meta.Latest]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoLatestVersion, meta.Latest)
	}

	a := &Assessment{
		FirstReleaseDate:  history[0],
		LatestVersionDate: latestDate,
		Warnings:          []Warning{},
	}

	if date, ok := published[installed]; ok {
		a.InstalledVersionDate = date
		a.InstalledVersionKnown = true
	} else {
		a.warn(RuleVersionNotFound, "Version %s not found in npm registry", installed)
		// display only; never used for an age
		a.InstalledVersionDate = now
	}

	if age := AgeDays(a.FirstReleaseDate, now); age < t.PackageAge {
		a.warn(RulePackageTooNew, "Package is too new (%d days old, threshold: %d days)", age, t.PackageAge)
	}

	if a.InstalledVersionKnown {
		if age := AgeDays(a.InstalledVersionDate, now); age < t.VersionAge {
			a.warn(RuleVersionTooNew, "Installed version is too new (%d days old, threshold: %d days)", age, t.VersionAge)
		}
	}

	if age := AgeDays(a.LatestVersionDate, now); age > t.Unmaintained {
		a.warn(RuleUnmaintained, "Package may be unmaintained (%d days since last release, threshold: %d days)", age, t.Unmaintained)
	}

	return a, nil
}

func (a *Assessment) warn(rule Rule, format string, args ...interface{}) {
	a.Warnings = append(a.Warnings, Warning{Rule: rule, Message: fmt.Sprintf(format, args...)})
}

// parseTimestamp accepts the ISO-8601 forms the registry emits, with or
// without fractional seconds.
func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}
