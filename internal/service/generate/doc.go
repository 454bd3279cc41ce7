// Package generate builds the delta side of the manifest: it scans the
// previous-release catalog, diffs every previous version against the
// current build on a bounded worker pool, self-verifies each patch, and
// writes one combined patch artifact per upgrade path.
package generate
