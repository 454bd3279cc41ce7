// Package manifest builds the signed update manifest: per-previous-version
// delta entries, full-install artifact records, and the canonical JSON byte
// form over which the signature is computed. The manifest is grown
// additively during a run, frozen by Finalize, and written exactly once.
package manifest
