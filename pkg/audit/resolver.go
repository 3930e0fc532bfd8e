package audit

import (
	"strings"

	"github.com/Charca/pkgshield/pkg/logger"
	"github.com/Masterminds/semver/v3"
)

// ResolveVersion returns the version considered installed for a dependency.
// A locked version is used as is. Otherwise the declared range is reduced to
// a best-effort version by stripping leading range operators; the result may
// be empty or not exist in the registry, which Evaluate reports.
func ResolveVersion(name, versionRange, locked string, hasLocked bool) string {
	if hasLocked && locked != "" {
		checkLockedAgainstRange(name, versionRange, locked)
		return locked
	}

	version := StripRangeOperators(versionRange)
	if _, err := semver.StrictNewVersion(version); err != nil {
		logger.Debugf("Resolve: %s range %q does not pin an exact version, using %q", name, versionRange, version)
	}
	return version
}

// StripRangeOperators drops every character before the first ASCII digit,
// e.g. "^1.2.3" -> "1.2.3" and ">=2.0.0" -> "2.0.0". Input without digits
// yields an empty string.
func StripRangeOperators(versionRange string) string {
	i := strings.IndexAny(versionRange, "0123456789")
	if i < 0 {
		return ""
	}
	return versionRange[i:]
}

// checkLockedAgainstRange logs when the lockfile no longer satisfies the
// declared range. The locked version still wins.
func checkLockedAgainstRange(name, versionRange, locked string) {
	constraint, err := semver.NewConstraint(versionRange)
	if err != nil {
		return
	}
	v, err := semver.NewVersion(locked)
	if err != nil {
		logger.Debugf("Resolve: %s locked version %q is not semver", name, locked)
		return
	}
	if !constraint.Check(v) {
		logger.Debugf("Resolve: %s locked at %s, outside declared range %q", name, locked, versionRange)
	}
}
