// Package digest computes BLAKE3 content digests for release files.
// Digests drive change detection between release trees and serve as the
// integrity fields recorded in the update manifest.
package digest
