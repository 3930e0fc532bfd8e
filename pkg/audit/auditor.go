package audit

import (
	"context"
	"time"

	"github.com/Charca/pkgshield/pkg/logger"
	"github.com/Charca/pkgshield/pkg/manifest"
	"github.com/Charca/pkgshield/pkg/registry"
	"golang.org/x/sync/errgroup"
)

// LockedVersions looks up the exact installed version of a dependency.
// *manifest.Lockfile satisfies it.
type LockedVersions interface {
	LockedVersion(name string) (string, bool)
}

// Auditor checks declared dependencies against registry publish history.
type Auditor struct {
	Registry   registry.Client
	Thresholds Thresholds
	// Concurrency bounds in-flight registry requests. Values below 2 check
	// dependencies strictly one after another.
	Concurrency int
	// Now returns the audit time; defaults to time.Now.
	Now func() time.Time
}

// NewAuditor creates a sequential Auditor with the given thresholds.
func NewAuditor(client registry.Client, thresholds Thresholds) *Auditor {
	return &Auditor{
		Registry:    client,
		Thresholds:  thresholds,
		Concurrency: 1,
	}
}

// Audit checks every dependency. A dependency whose metadata cannot be
// fetched or evaluated is recorded as a Failure and skipped; it never stops
// the remaining checks. Reports and failures keep the order of deps. With no
// dependencies the registry is not contacted.
func (a *Auditor) Audit(ctx context.Context, deps []manifest.DependencySpec, lock LockedVersions) *Result {
	result := &Result{
		Reports:  []PackageReport{},
		Failures: []Failure{},
	}
	if len(deps) == 0 {
		return result
	}

	now := time.Now
	if a.Now != nil {
		now = a.Now
	}

	reports := make([]*PackageReport, len(deps))
	errs := make([]error, len(deps))

	check := func(i int) {
		reports[i], errs[i] = a.checkPackage(ctx, deps[i], lock, now)
	}

	if a.Concurrency < 2 {
		for i := range deps {
			check(i)
		}
	} else {
		// Per-package errors live in errs, so the group itself never fails.
		var g errgroup.Group
		g.SetLimit(a.Concurrency)
		for i := range deps {
			g.Go(func() error {
				check(i)
				return nil
			})
		}
		_ = g.Wait()
	}

	for i, dep := range deps {
		if errs[i] != nil {
			result.Failures = append(result.Failures, Failure{Name: dep.Name, Err: errs[i]})
			continue
		}
		result.Reports = append(result.Reports, *reports[i])
	}
	return result
}

func (a *Auditor) checkPackage(ctx context.Context, dep manifest.DependencySpec, lock LockedVersions, now func() time.Time) (*PackageReport, error) {
	logger.Debugf("Audit: checking %s (range %q)", dep.Name, dep.VersionRange)

	meta, err := a.Registry.FetchMetadata(ctx, dep.Name)
	if err != nil {
		return nil, err
	}

	var locked string
	var hasLocked bool
	if lock != nil {
		locked, hasLocked = lock.LockedVersion(dep.Name)
	}
	installed := ResolveVersion(dep.Name, dep.VersionRange, locked, hasLocked)

	assessment, err := Evaluate(meta, installed, a.Thresholds, now())
	if err != nil {
		return nil, err
	}

	logger.Debugf("Audit: %s@%s produced %d warning(s)", dep.Name, installed, len(assessment.Warnings))
	return &PackageReport{
		Name:                  dep.Name,
		InstalledVersion:      installed,
		InstalledVersionDate:  assessment.InstalledVersionDate,
		InstalledVersionKnown: assessment.InstalledVersionKnown,
		FirstReleaseDate:      assessment.FirstReleaseDate,
		LatestVersion:         meta.Latest,
		LatestVersionDate:     assessment.LatestVersionDate,
		Warnings:              assessment.Warnings,
	}, nil
}
