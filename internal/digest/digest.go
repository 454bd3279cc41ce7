package digest

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// Size is the byte length of a Digest.
const Size = 32

// Digest is a 32-byte BLAKE3 content hash. It is the only hash used for
// change detection and integrity fields throughout the pipeline.
type Digest [Size]byte

// fileDomainKey is the BLAKE3 key for file content digests. Keyed hashing
// separates these digests from the block hashes used inside patches, so the
// same bytes never produce the same hash in both contexts. The value is a
// fixed protocol constant: the ASCII domain name, zero-padded to 32 bytes.
var fileDomainKey = [32]byte{
	'r', 'e', 'l', 'e', 'a', 's', 'e', '-', 'p', 'a', 'c', 'k', 'a', 'g', 'e', 'r',
	'.', 'f', 'i', 'l', 'e', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// Bytes computes the file-domain digest of the given data.
func Bytes(data []byte) Digest {
	hasher := newFileHasher()
	_, _ = hasher.Write(data)

	var d Digest

	copy(d[:], hasher.Sum(nil))

	return d
}

// File computes the digest and size of the file at path by streaming its
// contents. The file handle is released before returning.
func File(path string) (Digest, int64, error) {
	var d Digest

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return d, 0, fmt.Errorf("open %s: %w", path, err)
	}

	// Best-effort close, the hash already covers every byte read.
	defer func() {
		_ = f.Close()
	}()

	hasher := newFileHasher()

	size, err := io.Copy(hasher, f)
	if err != nil {
		return d, 0, fmt.Errorf("hash %s: %w", path, err)
	}

	copy(d[:], hasher.Sum(nil))

	return d, size, nil
}

// String returns the canonical lowercase hex form of the digest.
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// IsZero reports whether the digest is the all-zero value,
// used for optional digest fields.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Parse decodes a 64-character hex string into a Digest.
func Parse(s string) (Digest, error) {
	var d Digest

	decoded, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("parse digest: %w", err)
	}

	if len(decoded) != Size {
		return d, fmt.Errorf("parse digest: got %d bytes, want %d", len(decoded), Size)
	}

	copy(d[:], decoded)

	return d, nil
}

// newFileHasher returns a keyed BLAKE3 hasher for the file domain.
func newFileHasher() *blake3.Hasher {
	hasher, err := blake3.NewKeyed(fileDomainKey[:])
	if err != nil {
		// NewKeyed only fails on a wrong key length, which the
		// fixed-size array rules out.
		panic("digest: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	return hasher
}
