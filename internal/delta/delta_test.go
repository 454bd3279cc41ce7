package delta

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/release-packager/internal/digest"
)

// randomBytes returns deterministic pseudo-random content for tests.
func randomBytes(t *testing.T, seed int64, size int) []byte {
	t.Helper()

	out := make([]byte, size)
	//nolint:gosec // Deterministic content for tests, not cryptography.
	rng := rand.New(rand.NewSource(seed))
	_, err := rng.Read(out)
	require.NoError(t, err)

	return out
}

// TestRoundTrip verifies Apply(old, Diff(old, new)) == new across edge cases:
// empty inputs, identical inputs, sub-block files, and large localized edits.
func TestRoundTrip(t *testing.T) {
	t.Parallel()

	large := randomBytes(t, 1, 10*BlockSize+123)

	edited := append([]byte(nil), large...)
	copy(edited[3*BlockSize+17:], []byte("a small localized change"))

	grown := append(append([]byte(nil), large[:5*BlockSize]...), randomBytes(t, 2, 2*BlockSize)...)
	grown = append(grown, large[5*BlockSize:]...)

	cases := map[string]struct {
		old []byte
		new []byte
	}{
		"both empty":        {old: nil, new: nil},
		"empty old":         {old: nil, new: []byte("fresh content")},
		"empty new":         {old: []byte("dropped content"), new: nil},
		"identical":         {old: large, new: large},
		"sub-block files":   {old: []byte("aaa"), new: []byte("aab")},
		"localized edit":    {old: large, new: edited},
		"inserted region":   {old: large, new: grown},
		"unrelated content": {old: randomBytes(t, 3, 4*BlockSize), new: randomBytes(t, 4, 3*BlockSize)},
	}

	for name, tc := range cases {
		tc := tc

		t.Run(name, func(t *testing.T) {
			t.Parallel()

			patch, err := Diff(tc.old, tc.new, CompressionZstd)
			require.NoError(t, err)

			restored, err := Apply(tc.old, patch)
			require.NoError(t, err)
			require.Equal(t, tc.new, restored)
		})
	}
}

// TestDiffDeterministic ensures a fixed input pair always yields identical patch bytes.
func TestDiffDeterministic(t *testing.T) {
	t.Parallel()

	old := randomBytes(t, 5, 6*BlockSize)
	new := append(append([]byte(nil), old[:2*BlockSize]...), randomBytes(t, 6, BlockSize)...)
	new = append(new, old[2*BlockSize:]...)

	first, err := Diff(old, new, CompressionZstd)
	require.NoError(t, err)

	second, err := Diff(old, new, CompressionZstd)
	require.NoError(t, err)

	require.Equal(t, first, second)
}

// TestLocalizedEditPatchIsSmall checks that reusing unchanged blocks keeps
// the patch far below the size of the new file.
func TestLocalizedEditPatchIsSmall(t *testing.T) {
	t.Parallel()

	old := randomBytes(t, 7, 256*BlockSize)
	new := append([]byte(nil), old...)
	copy(new[100*BlockSize:], []byte("tiny code change"))

	patch, err := Diff(old, new, CompressionZstd)
	require.NoError(t, err)
	require.Less(t, len(patch), len(new)/10)

	restored, err := Apply(old, patch)
	require.NoError(t, err)
	require.Equal(t, new, restored)
}

// TestApplyRejectsCorruption exercises the ErrCorruptPatch paths: wrong
// source file, damaged patch bytes, and truncation.
func TestApplyRejectsCorruption(t *testing.T) {
	t.Parallel()

	old := randomBytes(t, 8, 3*BlockSize)
	new := randomBytes(t, 9, 3*BlockSize)

	patch, err := Diff(old, new, CompressionZstd)
	require.NoError(t, err)

	// Wrong source content of the right length.
	wrongOld := append([]byte(nil), old...)
	wrongOld[0] ^= 0xff

	_, err = Apply(wrongOld, patch)
	require.ErrorIs(t, err, ErrCorruptPatch)

	// Wrong source length.
	_, err = Apply(old[:len(old)-1], patch)
	require.ErrorIs(t, err, ErrCorruptPatch)

	// Damaged body.
	damaged := append([]byte(nil), patch...)
	damaged[len(damaged)-1] ^= 0xff

	_, err = Apply(old, damaged)
	require.ErrorIs(t, err, ErrCorruptPatch)

	// Truncated header.
	_, err = Apply(old, patch[:16])
	require.ErrorIs(t, err, ErrCorruptPatch)

	// Foreign bytes.
	_, err = Apply(old, randomBytes(t, 10, 200))
	require.ErrorIs(t, err, ErrCorruptPatch)
}

// TestApplyRejectsRewrittenSizeFields checks that header size fields rewritten
// to absurd values fail as corruption instead of driving the output
// allocation.
func TestApplyRejectsRewrittenSizeFields(t *testing.T) {
	t.Parallel()

	old := randomBytes(t, 20, 2*BlockSize)
	new := randomBytes(t, 21, 2*BlockSize)

	patch, err := Diff(old, new, CompressionNone)
	require.NoError(t, err)

	// NewSize rewritten far beyond any allocatable length.
	huge := append([]byte(nil), patch...)
	binary.LittleEndian.PutUint64(huge[17:25], 1<<62)

	_, err = Apply(old, huge)
	require.ErrorIs(t, err, ErrCorruptPatch)

	// NewSize rewritten to a small plausible value.
	small := append([]byte(nil), patch...)
	binary.LittleEndian.PutUint64(small[17:25], 1)

	_, err = Apply(old, small)
	require.ErrorIs(t, err, ErrCorruptPatch)

	// Declared op stream beyond the format ceiling.
	bloated := append([]byte(nil), patch...)
	binary.LittleEndian.PutUint64(bloated[25:33], 1<<62)

	_, err = Apply(old, bloated)
	require.ErrorIs(t, err, ErrCorruptPatch)
}

// TestReadInfo checks that the patch header records sizes, digests and the
// compression actually used.
func TestReadInfo(t *testing.T) {
	t.Parallel()

	old := randomBytes(t, 11, 2*BlockSize)
	new := randomBytes(t, 12, BlockSize+10)

	for _, comp := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		patch, err := Diff(old, new, comp)
		require.NoError(t, err)

		info, err := ReadInfo(patch)
		require.NoError(t, err)
		require.Equal(t, uint64(len(old)), info.OldSize)
		require.Equal(t, uint64(len(new)), info.NewSize)
		require.Equal(t, digest.Bytes(old), info.OldDigest)
		require.Equal(t, digest.Bytes(new), info.NewDigest)

		restored, err := Apply(old, patch)
		require.NoError(t, err)
		require.Equal(t, new, restored)
	}
}

// TestParseCompression covers the config-facing name mapping.
func TestParseCompression(t *testing.T) {
	t.Parallel()

	for name, want := range map[string]Compression{
		"none": CompressionNone,
		"lz4":  CompressionLZ4,
		"zstd": CompressionZstd,
	} {
		got, err := ParseCompression(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
		require.Equal(t, name, got.String())
	}

	_, err := ParseCompression("brotli")
	require.Error(t, err)
}

// TestContainerRoundTrip verifies encode/decode of the combined per-version
// artifact, its path ordering, and the reported body locations.
func TestContainerRoundTrip(t *testing.T) {
	t.Parallel()

	entries := []ContainerEntry{
		{Path: "bin/z.dll", Patch: []byte("zzzz")},
		{Path: "bin/a.exe", Patch: []byte("aa")},
		{Path: "data/res.pak", Patch: randomBytes(t, 13, 5000)},
	}

	encoded, locations := EncodeContainer(entries)

	require.Len(t, locations, len(entries))
	require.Equal(t, "bin/a.exe", locations[0].Path)
	require.Equal(t, "bin/z.dll", locations[1].Path)
	require.Equal(t, "data/res.pak", locations[2].Path)

	// Locations point at the exact body bytes.
	for i, entry := range []string{"aa", "zzzz"} {
		loc := locations[i]
		require.Equal(t, entry, string(encoded[loc.Offset:loc.Offset+loc.Size]))
	}

	decoded, err := DecodeContainer(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, len(entries))
	require.Equal(t, "bin/a.exe", decoded[0].Path)
	require.Equal(t, []byte("aa"), decoded[0].Patch)
	require.Equal(t, "data/res.pak", decoded[2].Path)

	// Same input always encodes to the same bytes.
	again, _ := EncodeContainer(entries)
	require.Equal(t, encoded, again)

	// Truncated container is rejected.
	_, err = DecodeContainer(encoded[:len(encoded)-3])
	require.ErrorIs(t, err, ErrCorruptPatch)

	_, err = DecodeContainer([]byte("garbage"))
	require.ErrorIs(t, err, ErrCorruptPatch)

	// A declared entry count beyond the remaining bytes is rejected before
	// the entry table is allocated.
	bloated := append([]byte(nil), containerMagic[:]...)
	bloated = binary.AppendUvarint(bloated, 1<<62)

	_, err = DecodeContainer(bloated)
	require.ErrorIs(t, err, ErrCorruptPatch)
}
