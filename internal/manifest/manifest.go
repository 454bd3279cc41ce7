package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/oshokin/release-packager/internal/release"
)

// Op classifies one file's transition between a previous release and the
// current build.
type Op string

const (
	// OpAdded marks a file present only in the current build.
	OpAdded Op = "added"
	// OpRemoved marks a file present only in the previous release.
	OpRemoved Op = "removed"
	// OpUnchanged marks a file with an identical digest in both trees.
	OpUnchanged Op = "unchanged"
	// OpPatched marks a changed file with a binary patch in the
	// version's combined patch artifact.
	OpPatched Op = "patched"
)

// Full-artifact kinds attached by the packaging stage.
const (
	ArtifactInstaller = "installer"
	ArtifactZip       = "zip"
	ArtifactPDBs      = "pdbs"
)

var (
	// ErrFrozen is returned when a mutating operation is attempted on a
	// finalized manifest. This is a programming error, not a runtime
	// condition.
	ErrFrozen = errors.New("manifest is finalized")

	// ErrDuplicateEntry is returned when two entries claim the same
	// previous version.
	ErrDuplicateEntry = errors.New("duplicate manifest entry")

	errNotFinalized   = errors.New("manifest is not finalized")
	errAlreadySigned  = errors.New("manifest is already signed")
	errNotPrevious    = errors.New("entry version is not older than the build version")
	errUnsortedDeltas = errors.New("file deltas are not sorted by path")
)

// FileDelta is one path-level record inside a manifest entry.
type FileDelta struct {
	// Path is the slash-separated relative path within the release tree.
	Path string `json:"path"`
	// Op is the transition classification.
	Op Op `json:"op"`
	// OldDigest is the previous release's content digest (hex), empty
	// for added files.
	OldDigest string `json:"old_digest,omitempty"`
	// NewDigest is the current build's content digest (hex), empty for
	// removed files.
	NewDigest string `json:"new_digest,omitempty"`
	// PatchOffset and PatchSize locate this file's patch body inside
	// the entry's combined patch artifact. Set only for OpPatched.
	PatchOffset int64 `json:"patch_offset,omitempty"`
	PatchSize   int64 `json:"patch_size,omitempty"`
}

// Entry describes the upgrade path from one previous version to the
// current build.
type Entry struct {
	// Version is the previous release's version.
	Version string `json:"version"`
	// PatchName is the combined patch artifact's file name under the
	// output directory's patches folder.
	PatchName string `json:"patch_name,omitempty"`
	// PatchSize and PatchDigest describe the combined artifact.
	PatchSize   int64  `json:"patch_size,omitempty"`
	PatchDigest string `json:"patch_digest,omitempty"`
	// Files is the path-ascending sequence of per-file transitions.
	Files []FileDelta `json:"files"`
}

// FullArtifact references a whole-package artifact: installer, zip or the
// PDB archive.
type FullArtifact struct {
	// Kind is one of the Artifact* constants.
	Kind string `json:"kind"`
	// Name is the artifact file name under the output directory.
	Name string `json:"name"`
	// Size and Digest describe the artifact contents.
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
}

// Signature is the detached signature embedded into the persisted manifest.
type Signature struct {
	// KeyID identifies the signing key (leading hex of the public key).
	KeyID string `json:"key_id"`
	// Value is the base64-encoded signature over the canonical manifest
	// bytes with this field absent.
	Value string `json:"value"`
}

// Manifest is the signed document describing every available upgrade path
// and full-install artifact for the current build. It is created empty,
// grown additively during the run, finalized exactly once, and serialized
// exactly once.
type Manifest struct {
	// Version is the current build's version.
	Version string `json:"version"`
	// Entries is sorted ascending by version, one per previous release.
	Entries []Entry `json:"entries"`
	// Artifacts lists the full-install artifacts.
	Artifacts []FullArtifact `json:"artifacts"`
	// Signature is present only in the persisted, signed form.
	Signature *Signature `json:"signature,omitempty"`

	current release.Version
	frozen  bool
}

// New creates an empty manifest for the current build version.
func New(current release.Version) *Manifest {
	return &Manifest{
		Version:   current.String(),
		Entries:   []Entry{},
		Artifacts: []FullArtifact{},
		current:   current,
	}
}

// AddEntry inserts one previous-version entry, keeping the sequence sorted
// ascending by version. The entry's version must be strictly older than the
// build version, its file deltas must already be in path order, and each
// previous version may appear only once.
func (m *Manifest) AddEntry(entry Entry) error {
	if m.frozen {
		return ErrFrozen
	}

	v, err := release.ParseVersion(entry.Version)
	if err != nil {
		return fmt.Errorf("entry version: %w", err)
	}

	if !v.Less(m.current) {
		return fmt.Errorf("%w: %s >= %s", errNotPrevious, entry.Version, m.Version)
	}

	for i := 1; i < len(entry.Files); i++ {
		if entry.Files[i-1].Path >= entry.Files[i].Path {
			return fmt.Errorf("%w: %q then %q", errUnsortedDeltas,
				entry.Files[i-1].Path, entry.Files[i].Path)
		}
	}

	position := sort.Search(len(m.Entries), func(i int) bool {
		existing, parseErr := release.ParseVersion(m.Entries[i].Version)
		if parseErr != nil {
			return false
		}

		return !existing.Less(v)
	})

	if position < len(m.Entries) && m.Entries[position].Version == entry.Version {
		return fmt.Errorf("%w: version %s", ErrDuplicateEntry, entry.Version)
	}

	m.Entries = append(m.Entries, Entry{})
	copy(m.Entries[position+1:], m.Entries[position:])
	m.Entries[position] = entry

	return nil
}

// AttachFullArtifacts appends whole-package artifact records. Purely
// additive; delta entries are never touched. Artifacts are kept sorted by
// kind then name for reproducible output.
func (m *Manifest) AttachFullArtifacts(artifacts ...FullArtifact) error {
	if m.frozen {
		return ErrFrozen
	}

	m.Artifacts = append(m.Artifacts, artifacts...)

	sort.Slice(m.Artifacts, func(i, j int) bool {
		if m.Artifacts[i].Kind != m.Artifacts[j].Kind {
			return m.Artifacts[i].Kind < m.Artifacts[j].Kind
		}

		return m.Artifacts[i].Name < m.Artifacts[j].Name
	})

	return nil
}

// Finalize locks the manifest against structural change and returns its
// canonical byte form: field-ordered JSON with the signature absent and a
// trailing newline. These are the exact bytes the signer signs.
func (m *Manifest) Finalize() ([]byte, error) {
	if m.frozen {
		return nil, ErrFrozen
	}

	m.frozen = true

	return m.canonicalBytes()
}

// SetSignature attaches the signature produced over the finalized bytes.
// Allowed exactly once, and only after Finalize.
func (m *Manifest) SetSignature(sig Signature) error {
	if !m.frozen {
		return errNotFinalized
	}

	if m.Signature != nil {
		return errAlreadySigned
	}

	m.Signature = &sig

	return nil
}

// Encode serializes the manifest in its persisted form, including the
// signature when present.
func (m *Manifest) Encode() ([]byte, error) {
	if !m.frozen {
		return nil, errNotFinalized
	}

	return marshal(m)
}

// Decode parses a persisted manifest. The result is frozen: it exists for
// inspection and verification, not further building.
func Decode(data []byte) (*Manifest, error) {
	var m Manifest

	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	current, err := release.ParseVersion(m.Version)
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}

	m.current = current
	m.frozen = true

	return &m, nil
}

// SplitSignature separates a persisted manifest document into the canonical
// bytes that were signed and the embedded signature. Used by verifiers.
func SplitSignature(data []byte) ([]byte, *Signature, error) {
	m, err := Decode(data)
	if err != nil {
		return nil, nil, err
	}

	sig := m.Signature
	m.Signature = nil

	canonical, err := m.canonicalBytes()
	if err != nil {
		return nil, nil, err
	}

	return canonical, sig, nil
}

// canonicalBytes marshals the manifest with the signature field cleared.
func (m *Manifest) canonicalBytes() ([]byte, error) {
	shadow := *m
	shadow.Signature = nil

	return marshal(&shadow)
}

func marshal(m *Manifest) ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	return append(data, '\n'), nil
}
