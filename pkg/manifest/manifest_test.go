package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParsePackageJSON_KeepsFileOrder(t *testing.T) {
	path := writeFile(t, t.TempDir(), "package.json", `{
		"name": "demo",
		"version": "1.0.0",
		"dependencies": {
			"zod": "^3.22.0",
			"axios": "~1.6.0",
			"left-pad": "1.3.0"
		},
		"devDependencies": {
			"vitest": "^1.0.0"
		}
	}`)

	pkg, err := ParsePackageJSON(path)
	require.NoError(t, err)

	assert.Equal(t, "demo", pkg.Name)
	assert.Equal(t, []DependencySpec{
		{Name: "zod", VersionRange: "^3.22.0"},
		{Name: "axios", VersionRange: "~1.6.0"},
		{Name: "left-pad", VersionRange: "1.3.0"},
	}, pkg.Dependencies)
	assert.Equal(t, []DependencySpec{{Name: "vitest", VersionRange: "^1.0.0"}}, pkg.DevDependencies)
}

func TestParsePackageJSON_NoDependencies(t *testing.T) {
	path := writeFile(t, t.TempDir(), "package.json", `{"name": "empty"}`)

	pkg, err := ParsePackageJSON(path)
	require.NoError(t, err)
	assert.Empty(t, pkg.AllDependencies())
}

func TestParsePackageJSON_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ParsePackageJSON(filepath.Join(dir, "package.json"))
	assert.ErrorContains(t, err, "failed to read package.json")

	path := writeFile(t, dir, "package.json", "invalid json content")
	_, err = ParsePackageJSON(path)
	assert.ErrorContains(t, err, "invalid JSON")

	path = writeFile(t, dir, "package.json", `["not", "an", "object"]`)
	_, err = ParsePackageJSON(path)
	assert.Error(t, err)
}

func TestMergeDependencies(t *testing.T) {
	tests := []struct {
		name     string
		runtime  []DependencySpec
		dev      []DependencySpec
		expected []DependencySpec
	}{
		{
			name:     "empty",
			expected: []DependencySpec{},
		},
		{
			name:    "dev overrides runtime in place",
			runtime: []DependencySpec{{"a", "^1.0.0"}, {"b", "^2.0.0"}},
			dev:     []DependencySpec{{"c", "^3.0.0"}, {"a", "~1.5.0"}},
			expected: []DependencySpec{
				{"a", "~1.5.0"},
				{"b", "^2.0.0"},
				{"c", "^3.0.0"},
			},
		},
		{
			name:     "dev only",
			dev:      []DependencySpec{{"jest", "29.0.0"}},
			expected: []DependencySpec{{"jest", "29.0.0"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MergeDependencies(tt.runtime, tt.dev))
		})
	}
}

func TestLockfile_LockedVersion(t *testing.T) {
	path := writeFile(t, t.TempDir(), "package-lock.json", `{
		"lockfileVersion": 3,
		"packages": {
			"": {"name": "demo", "version": "1.0.0"},
			"node_modules/leftpad": {"version": "1.3.0"},
			"node_modules/@types/node": {"version": "20.11.5", "dev": true},
			"node_modules/foo/node_modules/bar": {"version": "9.9.9"},
			"node_modules/linked": {"resolved": "../linked"}
		}
	}`)

	lock, err := ParseLockfile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, lock.LockfileVersion)

	v, ok := lock.LockedVersion("leftpad")
	assert.True(t, ok)
	assert.Equal(t, "1.3.0", v)

	v, ok = lock.LockedVersion("@types/node")
	assert.True(t, ok)
	assert.Equal(t, "20.11.5", v)

	_, ok = lock.LockedVersion("bar")
	assert.False(t, ok, "nested installs are not top-level")

	_, ok = lock.LockedVersion("linked")
	assert.False(t, ok, "entry without a version is treated as absent")

	var nilLock *Lockfile
	_, ok = nilLock.LockedVersion("leftpad")
	assert.False(t, ok)
}

func TestParseLockfile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := ParseLockfile(filepath.Join(dir, "package-lock.json"))
	assert.ErrorContains(t, err, "failed to read package-lock.json")

	path := writeFile(t, dir, "package-lock.json", "{")
	_, err = ParseLockfile(path)
	assert.ErrorContains(t, err, "failed to read package-lock.json")
}
