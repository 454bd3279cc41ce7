package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/release-packager/internal/delta"
	"github.com/oshokin/release-packager/internal/release"
)

// Config holds every setting for one packaging run. It is loaded once,
// validated, adjusted by CLI overrides, and passed read-only through the
// pipeline.
type Config struct {
	General  GeneralConfig  `yaml:"general"`
	Release  ReleaseConfig  `yaml:"release"`
	Env      EnvConfig      `yaml:"env"`
	Prepare  PrepareConfig  `yaml:"prepare"`
	Generate GenerateConfig `yaml:"generate"`
	Package  PackageConfig  `yaml:"package"`
	Post     PostConfig     `yaml:"post"`

	// UpdaterDataOnly is set at runtime by the CLI: the run skips
	// staging, installer and zip creation and produces only patches and
	// the signed manifest. It is not persisted to YAML.
	UpdaterDataOnly bool `yaml:"-"`

	// PackagingOnly is set at runtime by the CLI: the run rebuilds only
	// the installer and archives, producing no patches and no manifest.
	// It is not persisted to YAML.
	PackagingOnly bool `yaml:"-"`
}

// GeneralConfig holds run-wide settings.
type GeneralConfig struct {
	// LogLevel is the minimum level for console logging.
	LogLevel string `yaml:"log_level"`
}

// ReleaseConfig identifies the build being packaged.
type ReleaseConfig struct {
	// Version is the current build's "major.minor.patch" version.
	Version string `yaml:"version"`
}

// EnvConfig holds the directory layout of one run.
type EnvConfig struct {
	// InputDir is the freshly built tree supplied by the build system.
	InputDir string `yaml:"input_dir"`
	// PreviousDir is the root under which previous releases live, one
	// subdirectory per version.
	PreviousDir string `yaml:"previous_dir"`
	// OutputDir receives the staged install tree, patches, archives and
	// the manifest.
	OutputDir string `yaml:"output_dir"`
}

// PrepareConfig controls staging of the input tree.
type PrepareConfig struct {
	// Clean removes a prior run's staged outputs before copying.
	Clean bool `yaml:"clean"`
	// Excludes are glob patterns (matched against base names and
	// slash-relative paths) omitted from the staged tree.
	Excludes []string `yaml:"excludes"`
}

// GenerateConfig controls delta generation.
type GenerateConfig struct {
	// SkipPatches disables delta generation; the manifest then carries
	// only full-install artifacts.
	SkipPatches bool `yaml:"skip_patches"`
	// Compression selects the patch body algorithm: zstd, lz4 or none.
	Compression string `yaml:"compression"`
	// MaxFileSize is the per-file diff ceiling in bytes; larger files
	// fall back to full-copy classification.
	MaxFileSize int64 `yaml:"max_file_size"`
	// Workers bounds the per-version diff pool. Zero means NumCPU.
	Workers int `yaml:"workers"`
}

// InstallerConfig controls invocation of the external installer compiler.
type InstallerConfig struct {
	// Skip disables installer creation.
	Skip bool `yaml:"skip"`
	// Command is the installer compiler executable.
	Command string `yaml:"command"`
	// Args are passed verbatim to the command.
	Args []string `yaml:"args"`
	// Artifact is the path, relative to the output directory, of the
	// installer the command produces.
	Artifact string `yaml:"artifact"`
}

// ZipConfig controls archive creation.
type ZipConfig struct {
	// Skip disables zip creation.
	Skip bool `yaml:"skip"`
}

// UpdaterConfig controls manifest signing.
type UpdaterConfig struct {
	// SkipSign disables manifest signing.
	SkipSign bool `yaml:"skip_sign"`
	// PrivateKey is the path to the raw Ed25519 signing key.
	PrivateKey string `yaml:"private_key"`
}

// PackageConfig groups the packaging collaborators' settings.
type PackageConfig struct {
	Installer InstallerConfig `yaml:"installer"`
	Zip       ZipConfig       `yaml:"zip"`
	Updater   UpdaterConfig   `yaml:"updater"`
}

// PostConfig controls steps after a successful run.
type PostConfig struct {
	// CopyToOld copies the staged install tree into the previous
	// versions root so the next run can diff against this release.
	CopyToOld bool `yaml:"copy_to_old"`
}

const (
	// DefaultConfigFilename is used when no config path is given.
	DefaultConfigFilename = "release-packager.yaml"

	// DefaultLogLevel is used when general.log_level is empty.
	DefaultLogLevel = "info"

	// DefaultCompression is used when generate.compression is empty.
	DefaultCompression = "zstd"

	// DefaultMaxFileSize is the per-file diff ceiling when unset (1 GiB).
	DefaultMaxFileSize int64 = 1 << 30

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInputDirRequired is returned when env.input_dir is missing.
	errInputDirRequired = errors.New("env.input_dir must be provided")
	// errPreviousDirRequired is returned when patches are enabled without a scan root.
	errPreviousDirRequired = errors.New("env.previous_dir must be provided unless patches are skipped")
	// errOutputDirRequired is returned when env.output_dir is missing.
	errOutputDirRequired = errors.New("env.output_dir must be provided")
	// errPrivateKeyRequired is returned when signing is enabled without a key path.
	errPrivateKeyRequired = errors.New("package.updater.private_key must be provided unless signing is skipped")
	// errInstallerCommandRequired is returned when installer creation is enabled without a command.
	errInstallerCommandRequired = errors.New("package.installer.command must be provided unless the installer is skipped")
)

// Load reads configuration from the provided path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	// Restrict permissions: the file may name a signing key path.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// Validate checks required fields and fills defaults in place.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = DefaultLogLevel
	}

	if _, err := release.ParseVersion(cfg.Release.Version); err != nil {
		return fmt.Errorf("release.version: %w", err)
	}

	if cfg.Env.InputDir == "" {
		return errInputDirRequired
	}

	if cfg.Env.OutputDir == "" {
		return errOutputDirRequired
	}

	if !cfg.Generate.SkipPatches && cfg.Env.PreviousDir == "" {
		return errPreviousDirRequired
	}

	if cfg.Generate.Compression == "" {
		cfg.Generate.Compression = DefaultCompression
	}

	if _, err := delta.ParseCompression(cfg.Generate.Compression); err != nil {
		return fmt.Errorf("generate.compression: %w", err)
	}

	if cfg.Generate.MaxFileSize <= 0 {
		cfg.Generate.MaxFileSize = DefaultMaxFileSize
	}

	if cfg.Generate.Workers < 0 {
		cfg.Generate.Workers = 0
	}

	if !cfg.Package.Updater.SkipSign && cfg.Package.Updater.PrivateKey == "" {
		return errPrivateKeyRequired
	}

	if !cfg.Package.Installer.Skip && cfg.Package.Installer.Command == "" {
		return errInstallerCommandRequired
	}

	return nil
}

// Compression returns the parsed patch compression. Valid only after Validate.
func (c *Config) Compression() delta.Compression {
	compression, err := delta.ParseCompression(c.Generate.Compression)
	if err != nil {
		return delta.CompressionZstd
	}

	return compression
}

// Version returns the parsed build version. Valid only after Validate.
func (c *Config) Version() release.Version {
	v, err := release.ParseVersion(c.Release.Version)
	if err != nil {
		return release.Version{}
	}

	return v
}

// Overrides are CLI flags that adjust a loaded configuration for one run.
type Overrides struct {
	// SkipPatches disables delta generation.
	SkipPatches bool
	// SkipSign disables manifest signing.
	SkipSign bool
	// UpdaterDataOnly disables staging, installer and zip creation, so
	// the run produces only patches and the signed manifest.
	UpdaterDataOnly bool
	// PackagingOnly disables patch generation and the manifest entirely,
	// so the run rebuilds only the installer and archives.
	PackagingOnly bool
}

// ApplyOverrides folds CLI flags into the configuration.
func (c *Config) ApplyOverrides(o *Overrides) {
	if o == nil {
		return
	}

	if o.SkipPatches {
		c.Generate.SkipPatches = true
	}

	if o.SkipSign {
		c.Package.Updater.SkipSign = true
	}

	if o.UpdaterDataOnly {
		c.UpdaterDataOnly = true
		c.Package.Installer.Skip = true
		c.Package.Zip.Skip = true
	}

	if o.PackagingOnly {
		c.PackagingOnly = true
	}
}
