package delta

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// A container bundles every per-file patch for one upgrade path into a
// single artifact, so a client downloads one file per previous version
// instead of many small ones. Layout: magic, uvarint entry count, then for
// each entry a uvarint-prefixed relative path and a uvarint body size, then
// the patch bodies concatenated in table order. Entries are sorted by path,
// which both fixes the byte stream for reproducible builds and lets the
// manifest reference bodies by offset.

// containerMagic identifies the container format and its version.
var containerMagic = [8]byte{'R', 'P', 'P', 'A', 'C', 'K', '1', 0}

// ContainerEntry is one per-file patch inside a container.
type ContainerEntry struct {
	// Path is the slash-separated relative path of the patched file.
	Path string
	// Patch is the full patch produced by Diff for that file.
	Patch []byte
}

// PatchLocation records where one entry's patch body landed inside the
// encoded container. The manifest stores these so a client can seek
// straight to a single file's patch.
type PatchLocation struct {
	// Path is the entry's relative path.
	Path string
	// Offset is the byte offset of the patch body within the container.
	Offset int64
	// Size is the byte length of the patch body.
	Size int64
}

// EncodeContainer serializes entries into container bytes and reports each
// patch body's location. Entries are encoded in path order regardless of
// input order.
func EncodeContainer(entries []ContainerEntry) ([]byte, []PatchLocation) {
	sorted := make([]ContainerEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	header := make([]byte, 0, 64)
	header = append(header, containerMagic[:]...)
	header = binary.AppendUvarint(header, uint64(len(sorted)))

	for _, entry := range sorted {
		header = binary.AppendUvarint(header, uint64(len(entry.Path)))
		header = append(header, entry.Path...)
		header = binary.AppendUvarint(header, uint64(len(entry.Patch)))
	}

	locations := make([]PatchLocation, 0, len(sorted))
	out := header
	offset := int64(len(header))

	for _, entry := range sorted {
		locations = append(locations, PatchLocation{
			Path:   entry.Path,
			Offset: offset,
			Size:   int64(len(entry.Patch)),
		})

		out = append(out, entry.Patch...)
		offset += int64(len(entry.Patch))
	}

	return out, locations
}

// DecodeContainer parses container bytes back into its entries, in the
// path order they were encoded.
func DecodeContainer(data []byte) ([]ContainerEntry, error) {
	if len(data) < len(containerMagic) || !bytes.Equal(data[:8], containerMagic[:]) {
		return nil, fmt.Errorf("%w: bad container magic", ErrCorruptPatch)
	}

	rest := data[8:]

	count, n := binary.Uvarint(rest)
	if n <= 0 {
		return nil, fmt.Errorf("%w: bad container entry count", ErrCorruptPatch)
	}

	rest = rest[n:]

	// Each table entry occupies at least two bytes (a zero-length path is
	// one uvarint byte, its body size another), so a declared count beyond
	// the remaining length is corrupt and must not drive the allocation.
	if count > uint64(len(rest)) {
		return nil, fmt.Errorf("%w: container declares %d entries in %d bytes",
			ErrCorruptPatch, count, len(rest))
	}

	type tableRow struct {
		path string
		size uint64
	}

	table := make([]tableRow, 0, count)

	for i := uint64(0); i < count; i++ {
		pathLen, n := binary.Uvarint(rest)
		if n <= 0 || pathLen > uint64(len(rest[n:])) {
			return nil, fmt.Errorf("%w: bad container path", ErrCorruptPatch)
		}

		rest = rest[n:]
		path := string(rest[:pathLen])
		rest = rest[pathLen:]

		size, n := binary.Uvarint(rest)
		if n <= 0 {
			return nil, fmt.Errorf("%w: bad container body size", ErrCorruptPatch)
		}

		rest = rest[n:]
		table = append(table, tableRow{path: path, size: size})
	}

	entries := make([]ContainerEntry, 0, count)

	for _, row := range table {
		if row.size > uint64(len(rest)) {
			return nil, fmt.Errorf("%w: container body for %s truncated", ErrCorruptPatch, row.path)
		}

		entries = append(entries, ContainerEntry{Path: row.path, Patch: rest[:row.size]})
		rest = rest[row.size:]
	}

	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes after container bodies", ErrCorruptPatch, len(rest))
	}

	return entries, nil
}
