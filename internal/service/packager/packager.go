package packager

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/flate"

	"github.com/oshokin/release-packager/internal/config"
	"github.com/oshokin/release-packager/internal/digest"
	"github.com/oshokin/release-packager/internal/logger"
	"github.com/oshokin/release-packager/internal/manifest"
)

// archiveFileMode is applied to created archives and installers' parents.
const archiveFileMode os.FileMode = 0o644

// Run produces the full-install artifacts for the current build: the
// installer (via the configured external compiler) and the install/pdbs
// zip archives. Skipped artifacts are simply absent from the result.
func Run(ctx context.Context, cfg *config.Config, installDir, pdbDir string) ([]manifest.FullArtifact, error) {
	ctx = logger.WithName(ctx, "package")

	var artifacts []manifest.FullArtifact

	if installer, err := buildInstaller(ctx, cfg); err != nil {
		return nil, err
	} else if installer != nil {
		artifacts = append(artifacts, *installer)
	}

	zips, err := createZips(ctx, cfg, installDir, pdbDir)
	if err != nil {
		return nil, err
	}

	return append(artifacts, zips...), nil
}

// buildInstaller runs the configured installer compiler and describes the
// artifact it produced. Returns nil without error when skipped.
func buildInstaller(ctx context.Context, cfg *config.Config) (*manifest.FullArtifact, error) {
	if cfg.Package.Installer.Skip {
		logger.Debug(ctx, "Installer creation is skipped")

		return nil, nil
	}

	command := cfg.Package.Installer.Command

	logger.InfoKV(ctx, "Building installer",
		"command", command,
		"args", cfg.Package.Installer.Args)

	cmd := exec.CommandContext(ctx, command, cfg.Package.Installer.Args...)
	cmd.Dir = cfg.Env.OutputDir

	if output, err := cmd.CombinedOutput(); err != nil {
		logger.ErrorKV(ctx, "Installer compiler failed", "output", string(output))

		return nil, fmt.Errorf("run %s: %w", command, err)
	}

	artifactPath := filepath.Join(cfg.Env.OutputDir, cfg.Package.Installer.Artifact)

	return describeArtifact(manifest.ArtifactInstaller, artifactPath, cfg.Package.Installer.Artifact)
}

// createZips archives the staged trees into <version>-install.zip and
// <version>-pdbs.zip under the output directory. The pdbs archive is only
// created when the tree contains files.
func createZips(ctx context.Context, cfg *config.Config, installDir, pdbDir string) ([]manifest.FullArtifact, error) {
	if cfg.Package.Zip.Skip {
		logger.Debug(ctx, "Zip creation is skipped")

		return nil, nil
	}

	var artifacts []manifest.FullArtifact

	installName := cfg.Release.Version + "-install.zip"

	installArtifact, err := createZip(ctx, cfg, manifest.ArtifactZip, installDir, installName)
	if err != nil {
		return nil, err
	}

	if installArtifact != nil {
		artifacts = append(artifacts, *installArtifact)
	}

	if pdbDir != "" {
		pdbsName := cfg.Release.Version + "-pdbs.zip"

		pdbsArtifact, err := createZip(ctx, cfg, manifest.ArtifactPDBs, pdbDir, pdbsName)
		if err != nil {
			return nil, err
		}

		if pdbsArtifact != nil {
			artifacts = append(artifacts, *pdbsArtifact)
		}
	}

	return artifacts, nil
}

// createZip archives one tree into the output directory and describes the
// result. Returns nil without error when the tree is empty or missing.
func createZip(ctx context.Context, cfg *config.Config, kind, root, name string) (*manifest.FullArtifact, error) {
	paths, err := collectFiles(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	if len(paths) == 0 {
		logger.DebugKV(ctx, "Skipping empty archive", "root", root, "name", name)

		return nil, nil
	}

	target := filepath.Join(cfg.Env.OutputDir, name)

	if err := writeZip(target, root, paths); err != nil {
		return nil, err
	}

	logger.InfoKV(ctx, "Created archive", "name", name, "files", len(paths))

	return describeArtifact(kind, target, name)
}

// collectFiles lists a tree's regular files as sorted slash-relative paths.
// A missing root yields an empty list.
func collectFiles(root string) ([]string, error) {
	var paths []string

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !entry.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", path, err)
		}

		paths = append(paths, filepath.ToSlash(rel))

		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, err
	}

	sort.Strings(paths)

	return paths, nil
}

// writeZip archives the listed files. Entries are added in sorted order
// with zeroed timestamps so identical trees produce identical archives.
func writeZip(target, root string, paths []string) (err error) {
	out, err := os.OpenFile(filepath.Clean(target), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, archiveFileMode)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}

	defer func() {
		if closeErr := out.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", target, closeErr)
		}
	}()

	writer := zip.NewWriter(out)
	writer.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.BestCompression)
	})

	for _, rel := range paths {
		entry, err := writer.CreateHeader(&zip.FileHeader{
			Name:   rel,
			Method: zip.Deflate,
		})
		if err != nil {
			return fmt.Errorf("create entry %s: %w", rel, err)
		}

		source, err := os.Open(filepath.Clean(filepath.Join(root, filepath.FromSlash(rel))))
		if err != nil {
			return fmt.Errorf("open %s: %w", rel, err)
		}

		_, err = io.Copy(entry, source)
		_ = source.Close()

		if err != nil {
			return fmt.Errorf("archive %s: %w", rel, err)
		}
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("finish %s: %w", target, err)
	}

	return nil
}

// describeArtifact stats and digests a produced artifact.
func describeArtifact(kind, path, name string) (*manifest.FullArtifact, error) {
	d, size, err := digest.File(path)
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", name, err)
	}

	return &manifest.FullArtifact{
		Kind:   kind,
		Name:   name,
		Size:   size,
		Digest: d.String(),
	}, nil
}
