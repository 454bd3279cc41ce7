// Package release models built release trees: immutable snapshots of the
// files in one version (with sizes and digests), the numeric version
// identifier, and the catalog scan that discovers previously published
// releases to diff against.
package release
