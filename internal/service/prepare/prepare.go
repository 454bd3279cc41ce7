package prepare

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/oshokin/release-packager/internal/config"
	"github.com/oshokin/release-packager/internal/logger"
)

// Subdirectories of the output directory produced by staging.
const (
	// InstallDirName holds the staged release tree that is diffed,
	// zipped and fed to the installer compiler.
	InstallDirName = "install"

	// PDBDirName holds debug symbol files split out of the input tree.
	PDBDirName = "pdbs"

	// stagedFileMode is applied to staged copies.
	stagedFileMode os.FileMode = 0o755
)

// Result reports where staging placed the trees.
type Result struct {
	// InstallDir is the staged release tree.
	InstallDir string
	// PDBDir is the staged debug-symbol tree.
	PDBDir string
}

// Run stages the freshly built input tree into the output directory:
// regular files are copied under install/, debug symbols under pdbs/, and
// excluded patterns are dropped. The staged install tree is what every
// later stage works from.
func Run(ctx context.Context, cfg *config.Config) (*Result, error) {
	ctx = logger.WithName(ctx, "prepare")

	result := &Result{
		InstallDir: filepath.Join(cfg.Env.OutputDir, InstallDirName),
		PDBDir:     filepath.Join(cfg.Env.OutputDir, PDBDirName),
	}

	if cfg.Prepare.Clean {
		logger.Info(ctx, "Removing staged outputs from a previous run")

		for _, dir := range []string{result.InstallDir, result.PDBDir} {
			if err := os.RemoveAll(dir); err != nil {
				return nil, fmt.Errorf("clean %s: %w", dir, err)
			}
		}
	}

	for _, dir := range []string{result.InstallDir, result.PDBDir} {
		if err := os.MkdirAll(dir, stagedFileMode); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	var copied, excluded int

	err := filepath.WalkDir(cfg.Env.InputDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !entry.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(cfg.Env.InputDir, path)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", path, err)
		}

		relSlash := filepath.ToSlash(rel)

		if isExcluded(cfg.Prepare.Excludes, relSlash) {
			excluded++

			logger.DebugKV(ctx, "Excluding file from staging", "path", relSlash)

			return nil
		}

		target := filepath.Join(result.InstallDir, rel)
		if strings.EqualFold(filepath.Ext(rel), ".pdb") {
			target = filepath.Join(result.PDBDir, rel)
		}

		if err := copyFile(path, target); err != nil {
			return err
		}

		copied++

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("stage %s: %w", cfg.Env.InputDir, err)
	}

	logger.InfoKV(ctx, "Staged input tree",
		"install_dir", result.InstallDir,
		"files", copied,
		"excluded", excluded)

	return result, nil
}

// isExcluded matches a slash-relative path against the configured patterns.
// Patterns apply to both the base name and the full relative path.
func isExcluded(patterns []string, relSlash string) bool {
	base := relSlash
	if i := strings.LastIndexByte(relSlash, '/'); i >= 0 {
		base = relSlash[i+1:]
	}

	for _, pattern := range patterns {
		if matched, err := filepath.Match(pattern, base); err == nil && matched {
			return true
		}

		if matched, err := filepath.Match(pattern, relSlash); err == nil && matched {
			return true
		}
	}

	return false
}

// copyFile copies src to dst, creating parent directories as needed.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), stagedFileMode); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}

	source, err := os.Open(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}

	// Best-effort close on the read side.
	defer func() {
		_ = source.Close()
	}()

	target, err := os.OpenFile(filepath.Clean(dst), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, stagedFileMode)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}

	if _, err := io.Copy(target, source); err != nil {
		_ = target.Close()
		return fmt.Errorf("copy %s: %w", dst, err)
	}

	if err := target.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}

	return nil
}
