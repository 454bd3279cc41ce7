package digest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBytesDeterministic verifies that hashing is a pure function and that
// distinct inputs produce distinct digests across a small corpus.
func TestBytesDeterministic(t *testing.T) {
	t.Parallel()

	corpus := [][]byte{
		nil,
		{},
		[]byte("a"),
		[]byte("b"),
		[]byte("release-packager"),
		make([]byte, 1<<16),
	}

	seen := make(map[Digest]int, len(corpus))

	for i, input := range corpus {
		first := Bytes(input)
		second := Bytes(input)
		require.Equal(t, first, second)

		if prev, ok := seen[first]; ok {
			// nil and an empty slice are the same input.
			require.Equal(t, string(corpus[prev]), string(input))
			continue
		}

		seen[first] = i
	}
}

// TestFileMatchesBytes ensures streaming file digests agree with in-memory digests.
func TestFileMatchesBytes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	contents := []byte("some versioned binary contents")

	require.NoError(t, os.WriteFile(path, contents, 0o600))

	fromFile, size, err := File(path)
	require.NoError(t, err)
	require.Equal(t, int64(len(contents)), size)
	require.Equal(t, Bytes(contents), fromFile)

	_, _, err = File(filepath.Join(dir, "missing.bin"))
	require.Error(t, err)
}

// TestParseRoundtrip checks hex formatting and parsing, including malformed input.
func TestParseRoundtrip(t *testing.T) {
	t.Parallel()

	d := Bytes([]byte("round trip"))

	parsed, err := Parse(d.String())
	require.NoError(t, err)
	require.Equal(t, d, parsed)

	_, err = Parse("not-hex")
	require.Error(t, err)

	_, err = Parse("abcd")
	require.Error(t, err)

	require.True(t, Digest{}.IsZero())
	require.False(t, d.IsZero())
}
