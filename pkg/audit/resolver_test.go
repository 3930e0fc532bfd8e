package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripRangeOperators(t *testing.T) {
	tests := []struct {
		versionRange string
		expected     string
	}{
		{"^1.2.3", "1.2.3"},
		{"~0.4.0", "0.4.0"},
		{">=2.0.0", "2.0.0"},
		{"1.0.0", "1.0.0"},
		{"v3.1.0", "3.1.0"},
		{"1.x", "1.x"},
		{">=1.2.0 <2.0.0", "1.2.0 <2.0.0"},
		{"*", ""},
		{"latest", ""},
		{"", ""},
		{"git+https://github.com/user/repo.git#v1.0.0", "1.0.0"},
	}

	for _, tt := range tests {
		t.Run(tt.versionRange, func(t *testing.T) {
			assert.Equal(t, tt.expected, StripRangeOperators(tt.versionRange))
		})
	}
}

func TestResolveVersion(t *testing.T) {
	// locked version wins irrespective of the declared range
	assert.Equal(t, "1.3.0", ResolveVersion("leftpad", "^1.0.0", "1.3.0", true))
	assert.Equal(t, "2.5.0", ResolveVersion("leftpad", "^1.0.0", "2.5.0", true))
	assert.Equal(t, "1.0.0-beta.1", ResolveVersion("leftpad", "*", "1.0.0-beta.1", true))

	// fall back to the range
	assert.Equal(t, "1.0.0", ResolveVersion("leftpad", "^1.0.0", "", false))
	assert.Equal(t, "1.0.0", ResolveVersion("leftpad", "^1.0.0", "", true))
	assert.Equal(t, "", ResolveVersion("leftpad", "latest", "", false))
}
