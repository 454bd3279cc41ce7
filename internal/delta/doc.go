// Package delta implements the binary diff engine: block-matching patches
// between two versions of a file, compressed op streams, digest-verified
// application, and the per-version container that bundles many file patches
// into one downloadable artifact.
//
// The core contract is the round trip: Apply(old, Diff(old, new)) == new
// for every pair of byte sequences, including empty and identical inputs.
package delta
