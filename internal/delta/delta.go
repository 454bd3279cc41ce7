package delta

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/oshokin/release-packager/internal/digest"
)

// Patch format constants. The header is stored uncompressed so a patch is
// self-describing; only the op stream after it is compressed.
const (
	// BlockSize is the granularity at which unchanged regions of the old
	// file are detected and reused. A format constant: patches produced
	// with a different block size still apply (the op stream carries
	// explicit offsets), but diff output would no longer be reproducible
	// across builds.
	BlockSize = 4096

	// headerSize is magic (8) + compression (1) + old size (8) +
	// new size (8) + ops length (8) + old digest (32) + new digest (32).
	headerSize = 8 + 1 + 8 + 8 + 8 + digest.Size + digest.Size

	// maxOpsSize caps the decompressed op stream a patch may declare,
	// bounding allocation when applying untrusted input.
	maxOpsSize = 1 << 32

	// initialResultCap bounds the up-front output allocation in applyOps.
	// The declared new size is untrusted until reconstruction finishes, so
	// a rewritten size field must surface as a size mismatch, not an
	// out-of-range allocation. Larger outputs grow through append.
	initialResultCap = 1 << 26
)

// patchMagic identifies the patch format and its version.
var patchMagic = [8]byte{'R', 'P', 'P', 'A', 'T', 'C', 'H', '1'}

// Op stream entry kinds.
const (
	opCopy   byte = 0x01 // uvarint old offset, uvarint length
	opInsert byte = 0x02 // uvarint length, literal bytes
)

// ErrCorruptPatch is returned by Apply when the patch is malformed, does not
// match the old file's recorded digest, or fails to reconstruct the new
// file's recorded digest.
var ErrCorruptPatch = errors.New("corrupt patch")

// Info describes a patch without applying it.
type Info struct {
	// Compression is the algorithm used for the op stream.
	Compression Compression
	// OldSize and NewSize are the exact byte lengths of the source and
	// target files.
	OldSize uint64
	NewSize uint64
	// OldDigest and NewDigest are the content digests recorded at
	// patch-creation time.
	OldDigest digest.Digest
	NewDigest digest.Digest
}

// blockDomainKey separates patch-internal block hashes from file content
// digests. ASCII domain name, zero-padded to 32 bytes.
var blockDomainKey = [32]byte{
	'r', 'e', 'l', 'e', 'a', 's', 'e', '-', 'p', 'a', 'c', 'k', 'a', 'g', 'e', 'r',
	'.', 'b', 'l', 'o', 'c', 'k', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// blockHash is a truncated keyed BLAKE3 hash of one old-file block, used to
// confirm candidate matches found via the weak rolling hash.
type blockHash [16]byte

// Diff produces a patch from which new can be reconstructed given old.
// Output is deterministic for a fixed input pair. Unchanged regions are
// encoded as copies at BlockSize granularity; everything else is inserted
// literally and the whole op stream is compressed with the requested
// algorithm (falling back to none when that does not help).
func Diff(old, new []byte, comp Compression) ([]byte, error) {
	ops := buildOps(old, new)

	body, actual, err := compress(ops, comp)
	if err != nil {
		return nil, fmt.Errorf("compress patch body: %w", err)
	}

	patch := make([]byte, 0, headerSize+len(body))
	patch = append(patch, patchMagic[:]...)
	patch = append(patch, byte(actual))
	patch = binary.LittleEndian.AppendUint64(patch, uint64(len(old)))
	patch = binary.LittleEndian.AppendUint64(patch, uint64(len(new)))
	patch = binary.LittleEndian.AppendUint64(patch, uint64(len(ops)))

	oldDigest := digest.Bytes(old)
	newDigest := digest.Bytes(new)
	patch = append(patch, oldDigest[:]...)
	patch = append(patch, newDigest[:]...)
	patch = append(patch, body...)

	return patch, nil
}

// Apply reconstructs the new file from old and a patch produced by Diff.
// Any mismatch with the digests recorded in the patch header, and any
// structural damage to the patch itself, yields ErrCorruptPatch.
func Apply(old, patch []byte) ([]byte, error) {
	info, body, err := parsePatch(patch)
	if err != nil {
		return nil, err
	}

	if uint64(len(old)) != info.OldSize {
		return nil, fmt.Errorf("%w: source is %d bytes, patch expects %d",
			ErrCorruptPatch, len(old), info.OldSize)
	}

	if digest.Bytes(old) != info.OldDigest {
		return nil, fmt.Errorf("%w: source digest mismatch", ErrCorruptPatch)
	}

	opsLen := int(info.opsLen)

	ops, err := decompress(body, info.Compression, opsLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrCorruptPatch, err)
	}

	result, err := applyOps(old, ops, info.NewSize)
	if err != nil {
		return nil, err
	}

	if digest.Bytes(result) != info.NewDigest {
		return nil, fmt.Errorf("%w: reconstructed digest mismatch", ErrCorruptPatch)
	}

	return result, nil
}

// ReadInfo parses a patch header without applying the patch.
func ReadInfo(patch []byte) (Info, error) {
	info, _, err := parsePatch(patch)
	return info.Info, err
}

// opsLen rides along in Info internally but is not part of the public
// surface; embed it via a shadow field.
type infoInternal struct {
	Info
	opsLen uint64
}

func parsePatch(patch []byte) (infoInternal, []byte, error) {
	var info infoInternal

	if len(patch) < headerSize {
		return info, nil, fmt.Errorf("%w: truncated header (%d bytes)", ErrCorruptPatch, len(patch))
	}

	if !bytes.Equal(patch[:8], patchMagic[:]) {
		return info, nil, fmt.Errorf("%w: bad magic", ErrCorruptPatch)
	}

	info.Compression = Compression(patch[8])
	info.OldSize = binary.LittleEndian.Uint64(patch[9:17])
	info.NewSize = binary.LittleEndian.Uint64(patch[17:25])
	info.opsLen = binary.LittleEndian.Uint64(patch[25:33])
	copy(info.OldDigest[:], patch[33:33+digest.Size])
	copy(info.NewDigest[:], patch[33+digest.Size:headerSize])

	if info.opsLen > maxOpsSize {
		return info, nil, fmt.Errorf("%w: declared op stream of %d bytes", ErrCorruptPatch, info.opsLen)
	}

	return info, patch[headerSize:], nil
}

// buildOps emits the COPY/INSERT op stream transforming old into new.
// Old is indexed by full BlockSize blocks keyed on a weak rolling hash;
// candidate matches are confirmed with a keyed BLAKE3 block hash. Matching
// always takes the lowest old-file block among candidates, keeping the
// output independent of map iteration order.
func buildOps(old, new []byte) []byte {
	var out []byte

	if len(new) == 0 {
		return out
	}

	blockCount := len(old) / BlockSize
	if blockCount == 0 || len(new) < BlockSize {
		return appendInsert(out, new)
	}

	// Index of the old file: weak hash -> ascending block indexes.
	strongs := make([]blockHash, blockCount)
	index := make(map[uint32][]int, blockCount)

	hasher := newBlockHasher()

	for i := 0; i < blockCount; i++ {
		block := old[i*BlockSize : (i+1)*BlockSize]
		weak := weakHash(block)
		strongs[i] = strongHashWith(hasher, block)
		index[weak] = append(index[weak], i)
	}

	var (
		pendingOff   int
		pendingLen   int
		haveCopy     bool
		literalStart int
		position     int
		weak         = weakHash(new[:BlockSize])
	)

	emitPending := func() {
		if haveCopy {
			out = appendCopy(out, pendingOff, pendingLen)
			haveCopy = false
		}
	}

	for position+BlockSize <= len(new) {
		match := -1

		if candidates, ok := index[weak]; ok {
			window := new[position : position+BlockSize]
			strong := strongHashWith(hasher, window)

			for _, candidate := range candidates {
				if strongs[candidate] == strong {
					match = candidate
					break
				}
			}
		}

		if match >= 0 {
			if literalStart < position {
				emitPending()
				out = appendInsert(out, new[literalStart:position])
			}

			sourceOff := match * BlockSize
			if haveCopy && pendingOff+pendingLen == sourceOff {
				pendingLen += BlockSize
			} else {
				emitPending()
				pendingOff, pendingLen, haveCopy = sourceOff, BlockSize, true
			}

			position += BlockSize
			literalStart = position

			if position+BlockSize <= len(new) {
				weak = weakHash(new[position : position+BlockSize])
			}

			continue
		}

		if position+BlockSize < len(new) {
			weak = weakHashRoll(weak, new[position], new[position+BlockSize])
		}

		position++
	}

	emitPending()

	if literalStart < len(new) {
		out = appendInsert(out, new[literalStart:])
	}

	return out
}

// applyOps replays an op stream against old, producing exactly newSize bytes.
func applyOps(old, ops []byte, newSize uint64) ([]byte, error) {
	capHint := newSize
	if capHint > initialResultCap {
		capHint = initialResultCap
	}

	result := make([]byte, 0, capHint)

	for len(ops) > 0 {
		kind := ops[0]
		ops = ops[1:]

		switch kind {
		case opCopy:
			offset, n := binary.Uvarint(ops)
			if n <= 0 {
				return nil, fmt.Errorf("%w: bad copy offset", ErrCorruptPatch)
			}

			ops = ops[n:]

			length, n := binary.Uvarint(ops)
			if n <= 0 {
				return nil, fmt.Errorf("%w: bad copy length", ErrCorruptPatch)
			}

			ops = ops[n:]

			end := offset + length
			if end < offset || end > uint64(len(old)) {
				return nil, fmt.Errorf("%w: copy [%d, %d) outside source of %d bytes",
					ErrCorruptPatch, offset, end, len(old))
			}

			result = append(result, old[offset:end]...)

		case opInsert:
			length, n := binary.Uvarint(ops)
			if n <= 0 {
				return nil, fmt.Errorf("%w: bad insert length", ErrCorruptPatch)
			}

			ops = ops[n:]

			if length > uint64(len(ops)) {
				return nil, fmt.Errorf("%w: insert of %d bytes exceeds op stream", ErrCorruptPatch, length)
			}

			result = append(result, ops[:length]...)
			ops = ops[length:]

		default:
			return nil, fmt.Errorf("%w: unknown op 0x%02x", ErrCorruptPatch, kind)
		}

		if uint64(len(result)) > newSize {
			return nil, fmt.Errorf("%w: output exceeds declared size %d", ErrCorruptPatch, newSize)
		}
	}

	if uint64(len(result)) != newSize {
		return nil, fmt.Errorf("%w: output is %d bytes, declared %d", ErrCorruptPatch, len(result), newSize)
	}

	return result, nil
}

func appendCopy(out []byte, offset, length int) []byte {
	out = append(out, opCopy)
	out = binary.AppendUvarint(out, uint64(offset))
	out = binary.AppendUvarint(out, uint64(length))

	return out
}

func appendInsert(out, literal []byte) []byte {
	if len(literal) == 0 {
		return out
	}

	out = append(out, opInsert)
	out = binary.AppendUvarint(out, uint64(len(literal)))
	out = append(out, literal...)

	return out
}

// weakHash computes the rolling checksum of one full window. Two 16-bit
// sums in the rsync style: roll-able in O(1) per byte.
func weakHash(window []byte) uint32 {
	var a, b uint32

	for i, x := range window {
		a += uint32(x)
		b += uint32(len(window)-i) * uint32(x)
	}

	return (a & 0xffff) | (b&0xffff)<<16
}

// weakHashRoll advances the checksum one byte: drop leaving, admit entering.
func weakHashRoll(h uint32, leaving, entering byte) uint32 {
	a := h & 0xffff
	b := (h >> 16) & 0xffff

	a = (a - uint32(leaving) + uint32(entering)) & 0xffff
	b = (b - uint32(BlockSize)*uint32(leaving) + a) & 0xffff

	return a | b<<16
}

func newBlockHasher() *blake3.Hasher {
	hasher, err := blake3.NewKeyed(blockDomainKey[:])
	if err != nil {
		panic("delta: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	return hasher
}

// strongHashWith hashes one window, reusing the hasher across calls.
func strongHashWith(hasher *blake3.Hasher, window []byte) blockHash {
	hasher.Reset()
	_, _ = hasher.Write(window)

	var h blockHash

	copy(h[:], hasher.Sum(nil))

	return h
}
