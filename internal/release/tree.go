package release

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/oshokin/release-packager/internal/digest"
)

// FileInfo describes one regular file in a release tree.
type FileInfo struct {
	// RelPath is the slash-separated path relative to the tree root.
	RelPath string
	// Size is the file size in bytes.
	Size int64
	// Digest is the file's content digest.
	Digest digest.Digest
}

// Tree is an immutable snapshot of one built release: the root directory and
// every regular file beneath it with relative path, size and digest.
type Tree struct {
	// Root is the absolute or configured root directory of the release.
	Root string
	// Files is sorted ascending by RelPath.
	Files []FileInfo

	byPath map[string]FileInfo
}

// Snapshot walks root and digests every regular file beneath it. Symlinks
// and other non-regular entries are skipped. The result is sorted by
// relative path and never mutated afterwards.
func Snapshot(root string) (*Tree, error) {
	tree := &Tree{
		Root:   root,
		byPath: make(map[string]FileInfo),
	}

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !entry.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", path, err)
		}

		d, size, err := digest.File(path)
		if err != nil {
			return err
		}

		info := FileInfo{
			RelPath: filepath.ToSlash(rel),
			Size:    size,
			Digest:  d,
		}

		tree.Files = append(tree.Files, info)
		tree.byPath[info.RelPath] = info

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", root, err)
	}

	sort.Slice(tree.Files, func(i, j int) bool {
		return tree.Files[i].RelPath < tree.Files[j].RelPath
	})

	return tree, nil
}

// Lookup returns the file info for a relative path, if present.
func (t *Tree) Lookup(rel string) (FileInfo, bool) {
	info, ok := t.byPath[rel]
	return info, ok
}

// ReadFile reads the full contents of a file in the tree by relative path.
func (t *Tree) ReadFile(rel string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(t.Root, filepath.FromSlash(rel)))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rel, err)
	}

	return data, nil
}
