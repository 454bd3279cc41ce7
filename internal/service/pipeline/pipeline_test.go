package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/release-packager/internal/config"
)

func writeConfig(t *testing.T, cfg *config.Config) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), config.DefaultConfigFilename)
	require.NoError(t, config.Save(path, cfg))

	return path
}

func baseConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		Release: config.ReleaseConfig{Version: "1.0.0"},
		Env: config.EnvConfig{
			InputDir:  t.TempDir(),
			OutputDir: t.TempDir(),
		},
		Generate: config.GenerateConfig{SkipPatches: true},
		Package: config.PackageConfig{
			Installer: config.InstallerConfig{Skip: true},
			Zip:       config.ZipConfig{Skip: true},
			Updater:   config.UpdaterConfig{SkipSign: true},
		},
	}
}

func TestRunTestConfigProducesNothing(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	path := writeConfig(t, cfg)

	require.NoError(t, Run(context.Background(), Options{ConfigPath: path, TestConfig: true}))

	entries, err := os.ReadDir(cfg.Env.OutputDir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestRunRejectsBadConfig(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), config.DefaultConfigFilename)
	require.NoError(t, os.WriteFile(path, []byte("release:\n  version: not-a-version\n"), 0o600))

	require.Error(t, Run(context.Background(), Options{ConfigPath: path, TestConfig: true}))
}

func TestRunProducesManifest(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Env.InputDir, "app.bin"), []byte("application"), 0o600))

	path := writeConfig(t, cfg)

	require.NoError(t, Run(context.Background(), Options{ConfigPath: path}))

	_, err := os.Stat(filepath.Join(cfg.Env.OutputDir, ManifestFilename))
	require.NoError(t, err)

	// Marker is released after a successful run.
	_, err = os.Stat(filepath.Join(cfg.Env.OutputDir, MarkerFilename))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunPackagingOnly(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	cfg.Package.Zip.Skip = false
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Env.InputDir, "app.bin"), []byte("application"), 0o600))

	path := writeConfig(t, cfg)

	require.NoError(t, Run(context.Background(), Options{ConfigPath: path, PackagingOnly: true}))

	// Archives are rebuilt from the staged tree.
	_, err := os.Stat(filepath.Join(cfg.Env.OutputDir, "1.0.0-install.zip"))
	require.NoError(t, err)

	// No manifest and no patches are produced.
	_, err = os.Stat(filepath.Join(cfg.Env.OutputDir, ManifestFilename))
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestRunPackagingOnlyPreservesManifest checks a packaging-only rerun leaves
// a previously written manifest untouched.
func TestRunPackagingOnlyPreservesManifest(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Env.InputDir, "app.bin"), []byte("application"), 0o600))

	path := writeConfig(t, cfg)

	require.NoError(t, Run(context.Background(), Options{ConfigPath: path}))

	before, err := os.ReadFile(filepath.Join(cfg.Env.OutputDir, ManifestFilename))
	require.NoError(t, err)

	require.NoError(t, Run(context.Background(), Options{ConfigPath: path, PackagingOnly: true}))

	after, err := os.ReadFile(filepath.Join(cfg.Env.OutputDir, ManifestFilename))
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestRunRefusesParallelRun(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	path := writeConfig(t, cfg)

	marker := filepath.Join(cfg.Env.OutputDir, MarkerFilename)
	require.NoError(t, os.WriteFile(marker, []byte(strconv.Itoa(os.Getppid())+"\n"), 0o600))

	err := Run(context.Background(), Options{ConfigPath: path})
	require.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestRunRecoversStaleMarker(t *testing.T) {
	t.Parallel()

	cfg := baseConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Env.InputDir, "app.bin"), []byte("application"), 0o600))

	path := writeConfig(t, cfg)

	marker := filepath.Join(cfg.Env.OutputDir, MarkerFilename)
	require.NoError(t, os.WriteFile(marker, []byte("not-a-pid\n"), 0o600))

	require.NoError(t, Run(context.Background(), Options{ConfigPath: path}))
}
