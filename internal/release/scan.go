package release

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/oshokin/release-packager/internal/logger"
)

// ErrDuplicateVersion is returned when two previous-release directories
// claim the same version. The catalog is ambiguous at that point and the
// run must stop instead of guessing which tree is authoritative.
var ErrDuplicateVersion = errors.New("duplicate previous version")

// PreviousRelease is one catalog entry: a parsed version and the directory
// holding that release's tree.
type PreviousRelease struct {
	Version Version
	Root    string
}

// ScanPrevious enumerates the previous-release directories under root and
// returns them sorted ascending by version. A subdirectory whose name does
// not parse as a version is skipped with a warning; two directories claiming
// the same version are an ErrDuplicateVersion. A missing or unreadable root
// is an error, but an empty root is a valid catalog with no entries.
func ScanPrevious(ctx context.Context, root string) ([]PreviousRelease, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read previous versions root: %w", err)
	}

	var (
		releases []PreviousRelease
		claimed  = make(map[Version]string, len(entries))
	)

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		name := entry.Name()

		v, err := VersionFromDirName(name)
		if err != nil {
			logger.WarnKV(ctx, "Skipping previous-version directory with unparseable name",
				"directory", name)
			continue
		}

		if other, ok := claimed[v]; ok {
			return nil, fmt.Errorf("%w: directories %q and %q both claim version %s",
				ErrDuplicateVersion, other, name, v)
		}

		claimed[v] = name

		releases = append(releases, PreviousRelease{
			Version: v,
			Root:    filepath.Join(root, name),
		})
	}

	sort.Slice(releases, func(i, j int) bool {
		return releases[i].Version.Less(releases[j].Version)
	})

	return releases, nil
}
