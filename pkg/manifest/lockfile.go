package manifest

import (
	"encoding/json"
	"fmt"
	"os"
)

// Lockfile represents the parts of package-lock.json the audit reads.
type Lockfile struct {
	LockfileVersion int                    `json:"lockfileVersion"`
	Packages        map[string]LockPackage `json:"packages"`
}

// LockPackage represents a single package entry in lockfile
type LockPackage struct {
	Version   string `json:"version"`
	Resolved  string `json:"resolved"`
	Integrity string `json:"integrity"`
	Dev       bool   `json:"dev"`
}

// ParseLockfile reads and parses a package-lock.json file
func ParseLockfile(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read package-lock.json: %w", err)
	}

	var lock Lockfile
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to read package-lock.json: %w", err)
	}
	return &lock, nil
}

// LockedVersion returns the exact version installed at the top level of
// node_modules for name. Entries without a version count as absent.
func (l *Lockfile) LockedVersion(name string) (string, bool) {
	if l == nil {
		return "", false
	}
	pkg, ok := l.Packages[lockKey(name)]
	if !ok || pkg.Version == "" {
		return "", false
	}
	return pkg.Version, true
}

func lockKey(name string) string {
	return "node_modules/" + name
}
