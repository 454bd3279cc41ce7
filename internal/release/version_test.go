package release

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestParseVersion covers strict parsing used for the configured build version.
func TestParseVersion(t *testing.T) {
	t.Parallel()

	v, err := ParseVersion("1.2.3")
	require.NoError(t, err)
	require.Equal(t, Version{Major: 1, Minor: 2, Patch: 3}, v)
	require.Equal(t, "1.2.3", v.String())

	for _, bad := range []string{"", "latest", "1.2", "1.2.3.4", "1.2.3-rc1", "v1.2.3", "1.a.3"} {
		_, err := ParseVersion(bad)
		require.Error(t, err, "input %q", bad)
	}
}

// TestVersionFromDirName covers the lenient directory-name form: trailing
// labels after a separator claim the leading tuple.
func TestVersionFromDirName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"1.0.0", "1.0.0-copy", "1.0.0_backup", "1.0.0.old"} {
		v, err := VersionFromDirName(name)
		require.NoError(t, err, "input %q", name)
		require.Equal(t, Version{Major: 1, Minor: 0, Patch: 0}, v)
	}

	for _, bad := range []string{"latest", "1.0.0rc1", "10", "1.0", ""} {
		_, err := VersionFromDirName(bad)
		require.Error(t, err, "input %q", bad)
	}
}

// TestVersionOrdering checks total ordering across the tuple components.
func TestVersionOrdering(t *testing.T) {
	t.Parallel()

	ordered := []string{"0.9.9", "1.0.0", "1.0.1", "1.1.0", "1.10.0", "2.0.0", "10.0.0"}

	for i := 0; i < len(ordered)-1; i++ {
		lower, err := ParseVersion(ordered[i])
		require.NoError(t, err)

		higher, err := ParseVersion(ordered[i+1])
		require.NoError(t, err)

		require.True(t, lower.Less(higher), "%s < %s", lower, higher)
		require.False(t, higher.Less(lower))
		require.Equal(t, -1, lower.Compare(higher))
		require.Equal(t, 1, higher.Compare(lower))
		require.Equal(t, 0, lower.Compare(lower))
	}
}
