package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mitchellh/go-ps"
	"go.uber.org/zap/zapcore"

	"github.com/oshokin/release-packager/internal/config"
	"github.com/oshokin/release-packager/internal/logger"
	"github.com/oshokin/release-packager/internal/manifest"
	"github.com/oshokin/release-packager/internal/release"
	"github.com/oshokin/release-packager/internal/service/generate"
	"github.com/oshokin/release-packager/internal/service/packager"
	"github.com/oshokin/release-packager/internal/service/post"
	"github.com/oshokin/release-packager/internal/service/prepare"
	"github.com/oshokin/release-packager/internal/signer"
)

const (
	// ManifestFilename is the signed manifest's name under the output
	// directory.
	ManifestFilename = "manifest.json"

	// MarkerFilename marks that a packaging run is in progress to avoid
	// parallel runs over the same output directory.
	MarkerFilename = "release-packager.lock"

	// markerFileMode restricts the run marker to the invoking user.
	markerFileMode os.FileMode = 0o600

	manifestFileMode os.FileMode = 0o644
)

// ErrAlreadyRunning is returned when another packaging run holds the
// output directory's run marker.
var ErrAlreadyRunning = errors.New("another packaging run is in progress")

// Options are the CLI adjustments to one run.
type Options struct {
	// ConfigPath locates the YAML configuration. Empty means the default
	// filename in the working directory.
	ConfigPath string
	// Verbose forces debug logging regardless of the configured level.
	Verbose bool
	// TestConfig loads and validates the configuration, then exits
	// without producing anything.
	TestConfig bool
	// SkipPatches, SkipSign, UpdaterDataOnly and PackagingOnly mirror
	// the config overrides of the same names.
	SkipPatches     bool
	SkipSign        bool
	UpdaterDataOnly bool
	PackagingOnly   bool
}

// Run executes the packaging pipeline end to end: stage the input tree,
// generate patches against previous releases, build the full-install
// artifacts, sign and persist the manifest, then run the post steps.
func Run(ctx context.Context, opts Options) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	cfg.ApplyOverrides(&config.Overrides{
		SkipPatches:     opts.SkipPatches,
		SkipSign:        opts.SkipSign,
		UpdaterDataOnly: opts.UpdaterDataOnly,
		PackagingOnly:   opts.PackagingOnly,
	})

	applyLogLevel(cfg, opts.Verbose)

	if opts.TestConfig {
		logger.InfoKV(ctx, "Configuration is valid",
			"version", cfg.Release.Version,
			"output_dir", cfg.Env.OutputDir)

		return nil
	}

	if err := os.MkdirAll(cfg.Env.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	unlock, err := acquireRunMarker(ctx, cfg.Env.OutputDir)
	if err != nil {
		return err
	}
	defer unlock()

	return run(ctx, cfg)
}

// run is the pipeline body, executed under the run marker.
func run(ctx context.Context, cfg *config.Config) error {
	logger.InfoKV(ctx, "Packaging release", "version", cfg.Release.Version)

	currentRoot := cfg.Env.InputDir
	installDir := filepath.Join(cfg.Env.OutputDir, prepare.InstallDirName)
	pdbDir := filepath.Join(cfg.Env.OutputDir, prepare.PDBDirName)

	if cfg.UpdaterDataOnly {
		// Without staging there is no split install tree to work from,
		// so patches are diffed straight against the input.
		logger.Info(ctx, "Staging is skipped, using the input tree directly")

		installDir = cfg.Env.InputDir
		pdbDir = ""
	} else {
		staged, err := prepare.Run(ctx, cfg)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}

		currentRoot = staged.InstallDir
		installDir = staged.InstallDir
		pdbDir = staged.PDBDir
	}

	// Packaging-only runs rebuild the installer and archives without
	// producing patches or a manifest; the previously published manifest
	// stays untouched.
	var m *manifest.Manifest

	if cfg.PackagingOnly {
		logger.Info(ctx, "Packaging only, patches and manifest will not be produced")
	} else {
		current, err := release.Snapshot(currentRoot)
		if err != nil {
			return fmt.Errorf("current tree: %w", err)
		}

		m, err = generate.Run(ctx, cfg, current)
		if err != nil {
			return fmt.Errorf("generate: %w", err)
		}
	}

	artifacts, err := packager.Run(ctx, cfg, installDir, pdbDir)
	if err != nil {
		return fmt.Errorf("package: %w", err)
	}

	if m != nil {
		if err := m.AttachFullArtifacts(artifacts...); err != nil {
			return fmt.Errorf("attach artifacts: %w", err)
		}

		canonical, err := m.Finalize()
		if err != nil {
			return fmt.Errorf("finalize manifest: %w", err)
		}

		if err := signManifest(ctx, cfg, m, canonical); err != nil {
			return err
		}

		if err := writeManifest(cfg.Env.OutputDir, m); err != nil {
			return err
		}
	}

	if err := post.Run(ctx, cfg, installDir); err != nil {
		return fmt.Errorf("post: %w", err)
	}

	logger.InfoKV(ctx, "Release packaged", "output_dir", cfg.Env.OutputDir)

	return nil
}

// signManifest signs the canonical manifest bytes with the configured key.
func signManifest(ctx context.Context, cfg *config.Config, m *manifest.Manifest, canonical []byte) error {
	if cfg.Package.Updater.SkipSign {
		logger.Warn(ctx, "Manifest signing is skipped, clients will reject this manifest")

		return nil
	}

	private, err := signer.LoadPrivateKey(cfg.Package.Updater.PrivateKey)
	if err != nil {
		return fmt.Errorf("load signing key: %w", err)
	}
	defer signer.Wipe(private)

	sig, err := signer.Sign(canonical, private)
	if err != nil {
		return fmt.Errorf("sign manifest: %w", err)
	}

	if err := m.SetSignature(sig); err != nil {
		return fmt.Errorf("embed signature: %w", err)
	}

	logger.InfoKV(ctx, "Signed manifest", "key_id", sig.KeyID)

	return nil
}

// writeManifest persists the manifest atomically: a half-written manifest
// must never be visible under its final name.
func writeManifest(outputDir string, m *manifest.Manifest) error {
	data, err := m.Encode()
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	target := filepath.Join(outputDir, ManifestFilename)
	temp := target + ".tmp"

	if err := os.WriteFile(temp, data, manifestFileMode); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	if err := os.Rename(temp, target); err != nil {
		_ = os.Remove(temp)
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}

// applyLogLevel sets the global log level from the config, or debug when
// verbose is requested.
func applyLogLevel(cfg *config.Config, verbose bool) {
	if verbose {
		logger.SetLevel(zapcore.DebugLevel)

		return
	}

	if level, ok := logger.ParseLogLevel(cfg.General.LogLevel); ok {
		logger.SetLevel(level)
	}
}

// acquireRunMarker claims the output directory for this run. A marker
// whose recorded process is still alive means a parallel run; a marker
// left by a dead process is removed.
func acquireRunMarker(ctx context.Context, outputDir string) (func(), error) {
	path := filepath.Join(outputDir, MarkerFilename)

	contents, err := os.ReadFile(filepath.Clean(path))

	switch {
	case err == nil:
		if markerProcessAlive(contents) {
			return nil, fmt.Errorf("%w: marker %s", ErrAlreadyRunning, path)
		}

		logger.WarnKV(ctx, "Removing run marker left by a dead process", "path", path)

		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale run marker: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// Nothing to recover.
	default:
		return nil, fmt.Errorf("read run marker: %w", err)
	}

	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid+"\n"), markerFileMode); err != nil {
		return nil, fmt.Errorf("write run marker: %w", err)
	}

	return func() {
		if err := os.Remove(path); err != nil {
			logger.WarnKV(ctx, "Unable to remove run marker", "path", path, "error", err)
		}
	}, nil
}

// markerProcessAlive reports whether the marker's recorded PID belongs to a
// live process other than this one. Unparseable markers are treated as
// stale.
func markerProcessAlive(contents []byte) bool {
	pid, err := strconv.Atoi(strings.TrimSpace(string(contents)))
	if err != nil || pid <= 0 || pid == os.Getpid() {
		return false
	}

	process, err := ps.FindProcess(pid)
	if err != nil {
		// Can't tell; assume alive rather than corrupt a live run.
		return true
	}

	return process != nil
}
