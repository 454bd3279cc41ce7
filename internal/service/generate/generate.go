package generate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/oshokin/release-packager/internal/config"
	"github.com/oshokin/release-packager/internal/delta"
	"github.com/oshokin/release-packager/internal/digest"
	"github.com/oshokin/release-packager/internal/logger"
	"github.com/oshokin/release-packager/internal/manifest"
	"github.com/oshokin/release-packager/internal/release"
)

const (
	// PatchesDirName is the output subdirectory receiving one combined
	// patch artifact per previous version.
	PatchesDirName = "patches"

	// patchFileMode is applied to written patch artifacts.
	patchFileMode os.FileMode = 0o644
)

// Run scans the previous-release catalog and produces the manifest's delta
// entries: for every previous version, the per-file classification, the
// binary patches for changed files, and one combined patch artifact.
// Versions are diffed concurrently on a bounded pool; each worker owns its
// result slot, and entries enter the manifest in version order regardless
// of completion order.
func Run(ctx context.Context, cfg *config.Config, current *release.Tree) (*manifest.Manifest, error) {
	ctx = logger.WithName(ctx, "generate")

	m := manifest.New(cfg.Version())

	if cfg.Generate.SkipPatches {
		logger.Info(ctx, "Patch generation is skipped, manifest will carry only full artifacts")
		return m, nil
	}

	previous, err := release.ScanPrevious(ctx, cfg.Env.PreviousDir)
	if err != nil {
		return nil, err
	}

	previous = dropNotOlder(ctx, previous, cfg.Version())

	if len(previous) == 0 {
		logger.Info(ctx, "No previous versions found, manifest will carry only full artifacts")
		return m, nil
	}

	patchesDir := filepath.Join(cfg.Env.OutputDir, PatchesDirName)
	if err := os.MkdirAll(patchesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", patchesDir, err)
	}

	workers := cfg.Generate.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	logger.InfoKV(ctx, "Diffing previous versions",
		"count", len(previous),
		"workers", workers,
		"compression", cfg.Generate.Compression)

	type slot struct {
		entry manifest.Entry
		err   error
	}

	var (
		slots     = make([]slot, len(previous))
		semaphore = make(chan struct{}, workers)
		wg        sync.WaitGroup
	)

	for i, prev := range previous {
		i, prev := i, prev

		if ctx.Err() != nil {
			break
		}

		wg.Add(1)

		go func() {
			defer wg.Done()

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			slots[i].entry, slots[i].err = buildEntry(ctx, cfg, current, prev, patchesDir)
		}()
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Results fold into the manifest in ascending version order.
	for i, prev := range previous {
		if slots[i].err != nil {
			return nil, fmt.Errorf("previous version %s: %w", prev.Version, slots[i].err)
		}

		if err := m.AddEntry(slots[i].entry); err != nil {
			return nil, fmt.Errorf("previous version %s: %w", prev.Version, err)
		}
	}

	return m, nil
}

// dropNotOlder removes catalog entries that are not strictly older than the
// current build. Such directories are operator mistakes worth a warning but
// never an upgrade path.
func dropNotOlder(ctx context.Context, previous []release.PreviousRelease, current release.Version) []release.PreviousRelease {
	kept := previous[:0]

	for _, prev := range previous {
		if !prev.Version.Less(current) {
			logger.WarnKV(ctx, "Skipping previous-version directory not older than the build",
				"version", prev.Version.String(),
				"build", current.String())
			continue
		}

		kept = append(kept, prev)
	}

	return kept
}

// buildEntry produces one previous version's manifest entry and writes its
// combined patch artifact.
func buildEntry(
	ctx context.Context,
	cfg *config.Config,
	current *release.Tree,
	prev release.PreviousRelease,
	patchesDir string,
) (manifest.Entry, error) {
	ctx = logger.WithKV(ctx, "previous_version", prev.Version.String())

	oldTree, err := release.Snapshot(prev.Root)
	if err != nil {
		return manifest.Entry{}, err
	}

	deltas, containerEntries, err := classifyFiles(ctx, cfg, oldTree, current)
	if err != nil {
		return manifest.Entry{}, err
	}

	containerBytes, locations := delta.EncodeContainer(containerEntries)
	patchName := fmt.Sprintf("%s_to_%s.patch", prev.Version, cfg.Version())
	patchPath := filepath.Join(patchesDir, patchName)

	if err := os.WriteFile(patchPath, containerBytes, patchFileMode); err != nil {
		return manifest.Entry{}, fmt.Errorf("write patch artifact: %w", err)
	}

	located := make(map[string]delta.PatchLocation, len(locations))
	for _, loc := range locations {
		located[loc.Path] = loc
	}

	for i := range deltas {
		if loc, ok := located[deltas[i].Path]; ok {
			deltas[i].PatchOffset = loc.Offset
			deltas[i].PatchSize = loc.Size
		}
	}

	logger.InfoKV(ctx, "Wrote combined patch artifact",
		"patch", patchName,
		"size", len(containerBytes),
		"patched_files", len(containerEntries))

	return manifest.Entry{
		Version:     prev.Version.String(),
		PatchName:   patchName,
		PatchSize:   int64(len(containerBytes)),
		PatchDigest: digest.Bytes(containerBytes).String(),
		Files:       deltas,
	}, nil
}

// classifyFiles walks the union of both trees' paths in ascending order and
// classifies every file, diffing only where digests differ. Old-side files
// that cannot be read or exceed the size ceiling degrade to full-copy
// (added) classification instead of failing the run.
func classifyFiles(
	ctx context.Context,
	cfg *config.Config,
	oldTree, current *release.Tree,
) ([]manifest.FileDelta, []delta.ContainerEntry, error) {
	var (
		deltas           []manifest.FileDelta
		containerEntries []delta.ContainerEntry
		oldFiles         = oldTree.Files
		newFiles         = current.Files
	)

	for len(oldFiles) > 0 || len(newFiles) > 0 {
		switch {
		case len(newFiles) == 0 || (len(oldFiles) > 0 && oldFiles[0].RelPath < newFiles[0].RelPath):
			deltas = append(deltas, manifest.FileDelta{
				Path:      oldFiles[0].RelPath,
				Op:        manifest.OpRemoved,
				OldDigest: oldFiles[0].Digest.String(),
			})
			oldFiles = oldFiles[1:]

		case len(oldFiles) == 0 || newFiles[0].RelPath < oldFiles[0].RelPath:
			deltas = append(deltas, manifest.FileDelta{
				Path:      newFiles[0].RelPath,
				Op:        manifest.OpAdded,
				NewDigest: newFiles[0].Digest.String(),
			})
			newFiles = newFiles[1:]

		default:
			oldFile, newFile := oldFiles[0], newFiles[0]
			oldFiles, newFiles = oldFiles[1:], newFiles[1:]

			fileDelta, containerEntry, err := classifyPair(ctx, cfg, oldTree, current, oldFile, newFile)
			if err != nil {
				return nil, nil, err
			}

			deltas = append(deltas, fileDelta)

			if containerEntry != nil {
				containerEntries = append(containerEntries, *containerEntry)
			}
		}
	}

	return deltas, containerEntries, nil
}

// classifyPair handles one path present in both trees.
func classifyPair(
	ctx context.Context,
	cfg *config.Config,
	oldTree, current *release.Tree,
	oldFile, newFile release.FileInfo,
) (manifest.FileDelta, *delta.ContainerEntry, error) {
	if oldFile.Digest == newFile.Digest {
		return manifest.FileDelta{
			Path:      oldFile.RelPath,
			Op:        manifest.OpUnchanged,
			OldDigest: oldFile.Digest.String(),
			NewDigest: newFile.Digest.String(),
		}, nil, nil
	}

	// Full-copy fallback: classified as added so the client fetches the
	// whole file instead of a patch.
	added := manifest.FileDelta{
		Path:      newFile.RelPath,
		Op:        manifest.OpAdded,
		NewDigest: newFile.Digest.String(),
	}

	if oldFile.Size > cfg.Generate.MaxFileSize || newFile.Size > cfg.Generate.MaxFileSize {
		logger.WarnKV(ctx, "File exceeds diff size ceiling, falling back to full copy",
			"path", newFile.RelPath,
			"old_size", oldFile.Size,
			"new_size", newFile.Size)

		return added, nil, nil
	}

	oldBytes, err := oldTree.ReadFile(oldFile.RelPath)
	if err != nil {
		logger.WarnKV(ctx, "Previous file is unreadable, falling back to full copy",
			"path", oldFile.RelPath,
			"error", err)

		return added, nil, nil
	}

	// The current build must be readable; it was snapshotted moments ago.
	newBytes, err := current.ReadFile(newFile.RelPath)
	if err != nil {
		return manifest.FileDelta{}, nil, err
	}

	patch, err := delta.Diff(oldBytes, newBytes, cfg.Compression())
	if err != nil {
		return manifest.FileDelta{}, nil, fmt.Errorf("diff %s: %w", newFile.RelPath, err)
	}

	// Self-verification: a patch enters the manifest only after it has
	// reproduced the new file from the old one.
	restored, err := delta.Apply(oldBytes, patch)
	if err != nil {
		return manifest.FileDelta{}, nil, fmt.Errorf("verify patch for %s: %w", newFile.RelPath, err)
	}

	if !bytes.Equal(restored, newBytes) {
		return manifest.FileDelta{}, nil, fmt.Errorf("verify patch for %s: %w", newFile.RelPath, delta.ErrCorruptPatch)
	}

	return manifest.FileDelta{
			Path:      newFile.RelPath,
			Op:        manifest.OpPatched,
			OldDigest: oldFile.Digest.String(),
			NewDigest: newFile.Digest.String(),
		}, &delta.ContainerEntry{
			Path:  newFile.RelPath,
			Patch: patch,
		}, nil
}
