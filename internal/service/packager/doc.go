// Package packager produces the full-install artifacts of a run: the
// installer built by an external compiler and the deterministic zip
// archives of the staged install and pdbs trees.
package packager
