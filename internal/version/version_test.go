package version

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsVersionGreaterOrEqualThan(t *testing.T) {
	tests := []struct {
		version string
		target  string
		want    bool
	}{
		{"0.3.0", "0.3.0", true},
		{"0.3.1", "0.3.0", true},
		{"0.2.9", "0.3.0", false},
		{"1.0.0", "0.9.9", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsVersionGreaterOrEqualThan(tt.version, tt.target), "%s >= %s", tt.version, tt.target)
	}
}

func TestIsVersionGreaterThan(t *testing.T) {
	assert.True(t, IsVersionGreaterThan("0.3.1", "0.3.0"))
	assert.False(t, IsVersionGreaterThan("0.3.0", "0.3.0"))
}

func TestSortVersion(t *testing.T) {
	versions := SortVersion{"0.10.0", "0.2.0", "0.9.1"}
	sort.Sort(versions)
	assert.Equal(t, SortVersion{"0.2.0", "0.9.1", "0.10.0"}, versions)
}

func TestLatest(t *testing.T) {
	assert.Equal(t, "0.10.0", Latest([]string{"0.2.0", "garbage", "0.10.0"}))
	assert.Equal(t, "", Latest(nil))
}

func TestGetCurrentVersion(t *testing.T) {
	assert.Equal(t, DevVersion, GetCurrentVersion("dev"))
	assert.Equal(t, Version, GetCurrentVersion("prod"))
}
