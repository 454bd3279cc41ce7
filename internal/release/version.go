package release

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Version is the numeric release identifier: a totally ordered
// major.minor.patch tuple.
type Version struct {
	Major int
	Minor int
	Patch int
}

// errBadVersion is returned for input that is not a major.minor.patch tuple.
var errBadVersion = errors.New("not a major.minor.patch version")

// ParseVersion parses a strict "major.minor.patch" string.
func ParseVersion(s string) (Version, error) {
	v, rest, err := extractVersion(s)
	if err != nil {
		return Version{}, err
	}

	if rest != "" {
		return Version{}, fmt.Errorf("%w: %q", errBadVersion, s)
	}

	return v, nil
}

// VersionFromDirName parses a previous-release directory name. The name must
// begin with a major.minor.patch tuple; anything after it is tolerated when
// set off by a separator ("1.2.3-rc2" and "1.2.3_backup" both claim version
// 1.2.3), so two such directories are reported as duplicates rather than
// silently treated as distinct releases.
func VersionFromDirName(name string) (Version, error) {
	v, rest, err := extractVersion(name)
	if err != nil {
		return Version{}, err
	}

	if rest != "" && !strings.ContainsRune("-_.", rune(rest[0])) {
		return Version{}, fmt.Errorf("%w: %q", errBadVersion, name)
	}

	return v, nil
}

// String returns the canonical "major.minor.patch" form.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1 ordering v against other.
func (v Version) Compare(other Version) int {
	if c := compareInt(v.Major, other.Major); c != 0 {
		return c
	}

	if c := compareInt(v.Minor, other.Minor); c != 0 {
		return c
	}

	return compareInt(v.Patch, other.Patch)
}

// Less reports whether v orders strictly before other.
func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// extractVersion consumes a leading major.minor.patch tuple and returns the
// unconsumed remainder of the input.
func extractVersion(s string) (Version, string, error) {
	var (
		parts [3]int
		rest  = s
	)

	for i := range parts {
		if i > 0 {
			var ok bool

			rest, ok = strings.CutPrefix(rest, ".")
			if !ok {
				return Version{}, "", fmt.Errorf("%w: %q", errBadVersion, s)
			}
		}

		end := 0
		for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
			end++
		}

		if end == 0 {
			return Version{}, "", fmt.Errorf("%w: %q", errBadVersion, s)
		}

		value, err := strconv.Atoi(rest[:end])
		if err != nil {
			return Version{}, "", fmt.Errorf("%w: %q", errBadVersion, s)
		}

		parts[i] = value
		rest = rest[end:]
	}

	return Version{Major: parts[0], Minor: parts[1], Patch: parts[2]}, rest, nil
}
