package post

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/oshokin/release-packager/internal/config"
	"github.com/oshokin/release-packager/internal/logger"
)

// copiedFileMode is applied to files copied into the previous-releases root.
const copiedFileMode os.FileMode = 0o755

// Run performs the after-success steps of a run. Currently that is
// copy_to_old: archiving the staged install tree under the previous
// releases root as <previous_dir>/<version>, so the next run can diff
// against this release.
func Run(ctx context.Context, cfg *config.Config, installDir string) error {
	ctx = logger.WithName(ctx, "post")

	if !cfg.Post.CopyToOld {
		return nil
	}

	if cfg.Env.PreviousDir == "" {
		logger.Warn(ctx, "copy_to_old is enabled but env.previous_dir is not set, skipping")

		return nil
	}

	target := filepath.Join(cfg.Env.PreviousDir, cfg.Release.Version)

	logger.InfoKV(ctx, "Copying release into the previous versions root", "target", target)

	// A half-copied tree from an interrupted run must not survive: it
	// would be diffed against as if it were the complete release.
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("remove stale %s: %w", target, err)
	}

	if err := copyTree(installDir, target); err != nil {
		return fmt.Errorf("copy to %s: %w", target, err)
	}

	return nil
}

// copyTree copies every regular file under src into dst, preserving
// relative paths.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !entry.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", path, err)
		}

		return copyFile(path, filepath.Join(dst, rel))
	})
}

// copyFile copies src to dst, creating parent directories as needed.
func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), copiedFileMode); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}

	source, err := os.Open(filepath.Clean(src))
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}

	defer func() {
		_ = source.Close()
	}()

	target, err := os.OpenFile(filepath.Clean(dst), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, copiedFileMode)
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
