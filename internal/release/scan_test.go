package release

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/release-packager/internal/digest"
)

// writeTree creates files (relative path -> contents) under dir.
func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()

	for rel, contents := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	}
}

// TestSnapshot verifies path-sorted file listings with digests and lookups.
func TestSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"bin/z.dll":    "zz",
		"bin/a.exe":    "aaaa",
		"data/res.pak": "resources",
	})

	tree, err := Snapshot(dir)
	require.NoError(t, err)
	require.Len(t, tree.Files, 3)
	require.Equal(t, "bin/a.exe", tree.Files[0].RelPath)
	require.Equal(t, "bin/z.dll", tree.Files[1].RelPath)
	require.Equal(t, "data/res.pak", tree.Files[2].RelPath)
	require.Equal(t, int64(4), tree.Files[0].Size)
	require.Equal(t, digest.Bytes([]byte("aaaa")), tree.Files[0].Digest)

	info, ok := tree.Lookup("bin/z.dll")
	require.True(t, ok)
	require.Equal(t, int64(2), info.Size)

	_, ok = tree.Lookup("missing")
	require.False(t, ok)

	contents, err := tree.ReadFile("data/res.pak")
	require.NoError(t, err)
	require.Equal(t, "resources", string(contents))

	_, err = Snapshot(filepath.Join(dir, "nope"))
	require.Error(t, err)
}

// TestScanPrevious verifies ascending order, warning-skip of unparseable
// names, duplicate detection, and the empty/missing root contract.
func TestScanPrevious(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	root := t.TempDir()

	for _, name := range []string{"1.1.0", "1.0.0", "2.0.0", "latest"} {
		require.NoError(t, os.Mkdir(filepath.Join(root, name), 0o755))
	}

	// A stray file does not enter the catalog.
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("x"), 0o600))

	releases, err := ScanPrevious(ctx, root)
	require.NoError(t, err)
	require.Len(t, releases, 3)
	require.Equal(t, "1.0.0", releases[0].Version.String())
	require.Equal(t, "1.1.0", releases[1].Version.String())
	require.Equal(t, "2.0.0", releases[2].Version.String())
	require.Equal(t, filepath.Join(root, "1.0.0"), releases[0].Root)

	// Duplicate claim: "1.0.0-copy" also resolves to 1.0.0.
	require.NoError(t, os.Mkdir(filepath.Join(root, "1.0.0-copy"), 0o755))

	_, err = ScanPrevious(ctx, root)
	require.ErrorIs(t, err, ErrDuplicateVersion)

	// Missing root is an error, an empty root is not.
	_, err = ScanPrevious(ctx, filepath.Join(root, "missing"))
	require.Error(t, err)

	empty := t.TempDir()

	releases, err = ScanPrevious(ctx, empty)
	require.NoError(t, err)
	require.Empty(t, releases)
}
