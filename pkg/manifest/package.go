// Package manifest reads the npm project files an audit starts from:
// package.json for declared dependencies and package-lock.json for the
// versions actually installed.
package manifest

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
)

// DependencySpec is a declared dependency and its semver range.
type DependencySpec struct {
	Name         string `json:"name"`
	VersionRange string `json:"versionRange"`
}

// PackageJSON holds the dependency groups of a package.json in file order.
type PackageJSON struct {
	Name            string
	Version         string
	Dependencies    []DependencySpec
	DevDependencies []DependencySpec
}

// ParsePackageJSON reads and parses a package.json file
func ParsePackageJSON(path string) (*PackageJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read package.json: %w", err)
	}
	return parsePackageJSON(data)
}

func parsePackageJSON(data []byte) (*PackageJSON, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("failed to read package.json: invalid JSON")
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return nil, fmt.Errorf("failed to read package.json: top-level value is not an object")
	}

	return &PackageJSON{
		Name:            doc.Get("name").String(),
		Version:         doc.Get("version").String(),
		Dependencies:    dependencyGroup(doc.Get("dependencies")),
		DevDependencies: dependencyGroup(doc.Get("devDependencies")),
	}, nil
}

// dependencyGroup walks an object of name -> range pairs. gjson iterates in
// document order, which keeps the audit order stable across runs.
func dependencyGroup(group gjson.Result) []DependencySpec {
	if !group.IsObject() {
		return nil
	}
	var specs []DependencySpec
	group.ForEach(func(key, value gjson.Result) bool {
		specs = append(specs, DependencySpec{Name: key.String(), VersionRange: value.String()})
		return true
	})
	return specs
}

// AllDependencies returns production + dev dependencies merged by MergeDependencies.
func (p *PackageJSON) AllDependencies() []DependencySpec {
	return MergeDependencies(p.Dependencies, p.DevDependencies)
}

// MergeDependencies combines runtime and dev groups. A dev entry replaces the
// range of a runtime entry with the same name but keeps that entry's
// position; dev-only names are appended in order.
func MergeDependencies(runtime, dev []DependencySpec) []DependencySpec {
	merged := make([]DependencySpec, 0, len(runtime)+len(dev))
	index := make(map[string]int, len(runtime)+len(dev))

	add := func(spec DependencySpec) {
		if i, ok := index[spec.Name]; ok {
			merged[i].VersionRange = spec.VersionRange
			return
		}
		index[spec.Name] = len(merged)
		merged = append(merged, spec)
	}

	for _, spec := range runtime {
		add(spec)
	}
	for _, spec := range dev {
		add(spec)
	}
	return merged
}
